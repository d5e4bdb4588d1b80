package sandbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/zeebo/assert"

	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
	"github.com/Cogwheel-Validator/comet-router/comet/sandbox"
)

type relayArgs struct {
	Target runtime.AccountID `json:"target"`
	Method string            `json:"method"`
	Gas    runtime.Gas       `json:"gas"`
	Return bool              `json:"return"`
}

// probe is a contract with one method per executor behaviour under test.
type probe struct {
	mu    sync.Mutex
	count int
	seen  []runtime.PromiseResult
}

func (p *probe) Call(env runtime.Env, method string, args []byte) error {
	switch method {
	case "ping":
		env.Log("pong")
		env.ValueReturn([]byte(`"pong"`))
		return nil
	case "fail":
		return runtime.NewAbort("boom")
	case "increment":
		p.mu.Lock()
		p.count++
		p.mu.Unlock()
		return nil
	case "relay":
		var in relayArgs
		if err := runtime.DecodeArgs(args, &in); err != nil {
			return err
		}
		call, err := runtime.NewFunctionCall(in.Target, in.Method, nil, runtime.ZeroU128, in.Gas)
		if err != nil {
			return err
		}
		first, err := env.PromiseCreate(call)
		if err != nil {
			return err
		}
		cb, err := runtime.NewFunctionCall(env.CurrentAccountID(), "observe", nil, runtime.ZeroU128, 10*runtime.TGas)
		if err != nil {
			return err
		}
		next, err := env.PromiseThen(first, cb)
		if err != nil {
			return err
		}
		if in.Return {
			return env.PromiseReturn(next)
		}
		return nil
	case "relay_then_fail":
		call, err := runtime.NewFunctionCall("other.near", "increment", nil, runtime.ZeroU128, 10*runtime.TGas)
		if err != nil {
			return err
		}
		if _, err := env.PromiseCreate(call); err != nil {
			return err
		}
		return runtime.NewAbort("changed my mind")
	case "observe":
		p.mu.Lock()
		defer p.mu.Unlock()
		for i := 0; i < env.PromiseResultsCount(); i++ {
			res, err := env.PromiseResult(i)
			if err != nil {
				return err
			}
			p.seen = append(p.seen, res)
		}
		return runtime.ReturnJSON(env, env.PromiseResultsCount())
	case "count":
		p.mu.Lock()
		defer p.mu.Unlock()
		return runtime.ReturnJSON(env, p.count)
	default:
		return runtime.NewAbort(runtime.CodeMethodNotFound)
	}
}

func newVM(t *testing.T) (*sandbox.VM, *probe, *probe) {
	t.Helper()
	vm, err := sandbox.New(sandbox.DefaultConfig())
	assert.NoError(t, err)
	self, other := &probe{}, &probe{}
	assert.NoError(t, vm.Deploy("self.near", self))
	assert.NoError(t, vm.Deploy("other.near", other))
	return vm, self, other
}

func transact(t *testing.T, vm *sandbox.VM, method string, args any) *sandbox.TxOutcome {
	t.Helper()
	raw, err := json.Marshal(args)
	assert.NoError(t, err)
	out, err := vm.Transact(context.Background(), sandbox.Transaction{
		Signer:   "alice.near",
		Receiver: "self.near",
		Method:   method,
		Args:     raw,
		Gas:      100 * runtime.TGas,
	})
	assert.NoError(t, err)
	return out
}

func TestTransact_Value(t *testing.T) {
	vm, _, _ := newVM(t)
	out := transact(t, vm, "ping", nil)

	assert.Equal(t, out.Status, sandbox.StatusSuccess)
	assert.Equal(t, out.Value, `"pong"`)
	assert.DeepEqual(t, out.Logs(), []string{"pong"})
	assert.Equal(t, len(out.Receipts), 1)

	stored, err := vm.Outcome(out.Hash)
	assert.NoError(t, err)
	assert.Equal(t, stored.Hash, out.Hash)
}

func TestTransact_FailureDiscardsPromises(t *testing.T) {
	vm, _, other := newVM(t)
	out := transact(t, vm, "relay_then_fail", nil)

	assert.Equal(t, out.Status, sandbox.StatusFailure)
	assert.Equal(t, out.Failure, "changed my mind")
	assert.Equal(t, len(out.Receipts), 1)
	assert.Equal(t, out.Receipts[0].AbortCode, "changed my mind")
	assert.Equal(t, other.count, 0)
}

func TestTransact_CallbackSeesOutcome(t *testing.T) {
	vm, self, _ := newVM(t)

	out := transact(t, vm, "relay", relayArgs{Target: "other.near", Method: "ping", Gas: 10 * runtime.TGas, Return: true})
	assert.Equal(t, out.Status, sandbox.StatusSuccess)
	assert.Equal(t, out.Value, `1`)

	out = transact(t, vm, "relay", relayArgs{Target: "other.near", Method: "fail", Gas: 10 * runtime.TGas})
	assert.Equal(t, out.Status, sandbox.StatusSuccess)
	assert.Equal(t, len(out.Failures()), 1)
	assert.Equal(t, len(out.Find("self.near", "observe")), 1)

	assert.Equal(t, len(self.seen), 2)
	assert.Equal(t, self.seen[0].Status, runtime.PromiseSuccessful)
	assert.Equal(t, string(self.seen[0].Payload), `"pong"`)
	assert.Equal(t, self.seen[1].Status, runtime.PromiseFailed)
}

func TestTransact_ExceededPrepaidGas(t *testing.T) {
	vm, _, other := newVM(t)
	out := transact(t, vm, "relay", relayArgs{Target: "other.near", Method: "increment", Gas: 95 * runtime.TGas})

	assert.Equal(t, out.Status, sandbox.StatusFailure)
	assert.Equal(t, len(out.Receipts), 1)
	assert.Equal(t, other.count, 0)
}

func TestTransact_Rejects(t *testing.T) {
	vm, _, _ := newVM(t)
	ctx := context.Background()

	_, err := vm.Transact(ctx, sandbox.Transaction{Signer: "alice.near", Receiver: "self.near", Method: "ping", Gas: 301 * runtime.TGas})
	assert.Error(t, err)

	_, err = vm.Transact(ctx, sandbox.Transaction{Signer: "Alice", Receiver: "self.near", Method: "ping", Gas: runtime.TGas * 10})
	assert.Error(t, err)

	out, err := vm.Transact(ctx, sandbox.Transaction{Signer: "alice.near", Receiver: "ghost.near", Method: "ping", Gas: runtime.TGas * 10})
	assert.NoError(t, err)
	assert.Equal(t, out.Status, sandbox.StatusFailure)

	_, err = vm.Outcome("nope")
	assert.True(t, errors.Is(err, sandbox.ErrUnknownTx))
}

func TestView(t *testing.T) {
	vm, _, _ := newVM(t)
	ctx := context.Background()

	raw, err := vm.View(ctx, "self.near", "ping", nil)
	assert.NoError(t, err)
	assert.Equal(t, string(raw), `"pong"`)

	args, _ := json.Marshal(relayArgs{Target: "other.near", Method: "ping", Gas: runtime.TGas * 10})
	_, err = vm.View(ctx, "self.near", "relay", args)
	assert.True(t, errors.Is(err, runtime.ErrProhibitedInView))

	_, err = vm.View(ctx, "ghost.near", "ping", nil)
	assert.True(t, errors.Is(err, sandbox.ErrAccountNotFound))
}

func TestObserver(t *testing.T) {
	vm, _, _ := newVM(t)
	var seen []string
	vm.AddObserver(sandbox.ObserverFunc(func(_ context.Context, _ string, o *sandbox.ReceiptOutcome) {
		seen = append(seen, fmt.Sprintf("%s.%s:%s", o.Receiver, o.Method, o.Status))
	}))

	transact(t, vm, "relay", relayArgs{Target: "other.near", Method: "fail", Gas: 10 * runtime.TGas})
	assert.DeepEqual(t, seen, []string{
		"self.near.relay:success",
		"other.near.fail:failure",
		"self.near.observe:success",
	})
}

func TestTransact_Concurrent(t *testing.T) {
	vm, self, _ := newVM(t)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := vm.Transact(context.Background(), sandbox.Transaction{
				Signer:   "alice.near",
				Receiver: "self.near",
				Method:   "increment",
				Gas:      10 * runtime.TGas,
			})
			if err != nil {
				t.Errorf("transact: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, self.count, 32)

	raw, err := vm.View(context.Background(), "self.near", "count", nil)
	assert.NoError(t, err)
	assert.Equal(t, string(raw), "32")
}

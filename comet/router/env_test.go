package router_test

import (
	"encoding/json"
	"testing"

	"github.com/Cogwheel-Validator/comet-router/comet/router"
	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

type promise struct {
	after *runtime.PromiseIndex
	call  runtime.FunctionCall
}

// recordingEnv captures what a single call schedules without executing it.
type recordingEnv struct {
	current     runtime.AccountID
	predecessor runtime.AccountID
	prepaid     runtime.Gas
	attached    runtime.Gas
	results     []runtime.PromiseResult

	promises []promise
	returned *runtime.PromiseIndex
	value    []byte
	logs     []string
}

func newEnv(predecessor runtime.AccountID) *recordingEnv {
	return &recordingEnv{
		current:     "router.near",
		predecessor: predecessor,
		prepaid:     runtime.MaxPrepaidGas,
	}
}

func (e *recordingEnv) CurrentAccountID() runtime.AccountID     { return e.current }
func (e *recordingEnv) PredecessorAccountID() runtime.AccountID { return e.predecessor }
func (e *recordingEnv) SignerAccountID() runtime.AccountID      { return "alice.near" }
func (e *recordingEnv) AttachedDeposit() runtime.U128           { return runtime.ZeroU128 }
func (e *recordingEnv) PrepaidGas() runtime.Gas                 { return e.prepaid }
func (e *recordingEnv) UsedGas() runtime.Gas                    { return runtime.ExecutionBaseGas + e.attached }

func (e *recordingEnv) schedule(after *runtime.PromiseIndex, call runtime.FunctionCall) (runtime.PromiseIndex, error) {
	if e.UsedGas()+call.Gas > e.prepaid {
		return 0, runtime.ErrExceededPrepaidGas
	}
	e.attached += call.Gas
	e.promises = append(e.promises, promise{after: after, call: call})
	return runtime.PromiseIndex(len(e.promises) - 1), nil
}

func (e *recordingEnv) PromiseCreate(call runtime.FunctionCall) (runtime.PromiseIndex, error) {
	return e.schedule(nil, call)
}

func (e *recordingEnv) PromiseThen(after runtime.PromiseIndex, call runtime.FunctionCall) (runtime.PromiseIndex, error) {
	if int(after) >= len(e.promises) {
		return 0, runtime.ErrInvalidPromiseIndex
	}
	return e.schedule(&after, call)
}

func (e *recordingEnv) PromiseReturn(p runtime.PromiseIndex) error {
	e.returned = &p
	return nil
}

func (e *recordingEnv) ValueReturn(value []byte) { e.value = value }
func (e *recordingEnv) PromiseResultsCount() int { return len(e.results) }

func (e *recordingEnv) PromiseResult(i int) (runtime.PromiseResult, error) {
	if i < 0 || i >= len(e.results) {
		return runtime.PromiseResult{}, runtime.ErrInvalidResultIndex
	}
	return e.results[i], nil
}

func (e *recordingEnv) Log(msg string) { e.logs = append(e.logs, msg) }

func (e *recordingEnv) methods() []string {
	out := make([]string, 0, len(e.promises))
	for _, p := range e.promises {
		out = append(out, string(p.call.Receiver)+"."+p.call.Method)
	}
	return out
}

func (e *recordingEnv) events() []*router.Event {
	var out []*router.Event
	for _, line := range e.logs {
		if ev, ok := router.ParseEvent(line); ok {
			out = append(out, ev)
		}
	}
	return out
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	return raw
}

func newRouter(t *testing.T, mode router.SettlementMode) *router.Router {
	t.Helper()
	wl, err := router.NewWhitelist(router.DefaultWhitelist()...)
	if err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	r, err := router.New(wl, router.MustBudgetTable(mode, nil))
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	return r
}

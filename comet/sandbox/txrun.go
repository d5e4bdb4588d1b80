package sandbox

import (
	"sync/atomic"

	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

type resolution struct {
	result  runtime.PromiseResult
	failure string
}

type waiting struct {
	receipt   *receipt
	remaining int
}

// txRun is the dependency graph of one transaction. It is only touched by
// the goroutine driving Transact.
type txRun struct {
	root     uint64
	outcome  *TxOutcome
	resolved map[uint64]resolution
	// forwards maps a receipt to the receipts that returned it as their
	// own result.
	forwards   map[uint64][]uint64
	dependents map[uint64][]uint64
	waiting    map[uint64]*waiting
	// created counts the root and every committed promise.
	created int
}

func newTxRun(hash string, root uint64) *txRun {
	return &txRun{
		root:       root,
		outcome:    &TxOutcome{Hash: hash},
		resolved:   make(map[uint64]resolution),
		forwards:   make(map[uint64][]uint64),
		dependents: make(map[uint64][]uint64),
		waiting:    make(map[uint64]*waiting),
		created:    1,
	}
}

func (t *txRun) resultsFor(r *receipt) []runtime.PromiseResult {
	if len(r.deps) == 0 {
		return nil
	}
	out := make([]runtime.PromiseResult, 0, len(r.deps))
	for _, dep := range r.deps {
		res, ok := t.resolved[dep]
		if !ok {
			out = append(out, runtime.NotReady())
			continue
		}
		out = append(out, res.result)
	}
	return out
}

// complete records an executed receipt, commits its promises if it
// succeeded, and returns the receipts that became ready.
func (t *txRun) complete(ex executed, ids *atomic.Uint64) []*receipt {
	t.outcome.Receipts = append(t.outcome.Receipts, ex.outcome)

	if ex.err != nil {
		return t.resolve(ex.receipt.id, resolution{result: runtime.Failed(), failure: ex.outcome.Failure})
	}

	var ready []*receipt
	r := ex.receipt
	spawned := make([]uint64, len(ex.env.promises))
	for i := range ex.env.promises {
		spawned[i] = ids.Add(1)
	}
	for i, p := range ex.env.promises {
		child := &receipt{
			id:          spawned[i],
			predecessor: r.receiver,
			receiver:    p.call.Receiver,
			signer:      r.signer,
			method:      p.call.Method,
			args:        p.call.Args,
			deposit:     p.call.Deposit,
			gas:         p.call.Gas,
		}
		if p.after == nil {
			ready = append(ready, child)
			continue
		}
		dep := spawned[*p.after]
		child.deps = []uint64{dep}
		t.waiting[child.id] = &waiting{receipt: child, remaining: 1}
		t.dependents[dep] = append(t.dependents[dep], child.id)
	}
	ex.outcome.Spawned = spawned
	t.created += len(spawned)

	switch ex.env.ret {
	case returnPromise:
		target := spawned[ex.env.returned]
		t.forwards[target] = append(t.forwards[target], r.id)
	case returnValue:
		ready = append(ready, t.resolve(r.id, resolution{result: runtime.Successful(ex.env.value)})...)
	default:
		ready = append(ready, t.resolve(r.id, resolution{result: runtime.Successful(nil)})...)
	}
	return ready
}

func (t *txRun) resolve(id uint64, res resolution) []*receipt {
	t.resolved[id] = res

	var ready []*receipt
	for _, dependent := range t.dependents[id] {
		w, ok := t.waiting[dependent]
		if !ok {
			continue
		}
		w.remaining--
		if w.remaining == 0 {
			delete(t.waiting, dependent)
			ready = append(ready, w.receipt)
		}
	}
	delete(t.dependents, id)

	for _, forwarded := range t.forwards[id] {
		ready = append(ready, t.resolve(forwarded, res)...)
	}
	delete(t.forwards, id)
	return ready
}

func (t *txRun) finish() *TxOutcome {
	out := t.outcome
	out.sortReceipts()

	res, ok := t.resolved[t.root]
	switch {
	case !ok, len(out.Receipts) < t.created:
		out.Status = StatusIncomplete
	case res.result.Status == runtime.PromiseSuccessful:
		out.Status = StatusSuccess
		out.Value = string(res.result.Payload)
	default:
		out.Status = StatusFailure
		out.Failure = res.failure
	}
	return out
}

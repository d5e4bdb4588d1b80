package sandbox

import (
	"fmt"

	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

type createdPromise struct {
	after *runtime.PromiseIndex
	call  runtime.FunctionCall
}

type returnKind int

const (
	returnNone returnKind = iota
	returnValue
	returnPromise
)

// callEnv is the runtime.Env of a single receipt. Everything it records is
// only acted on if the call succeeds.
type callEnv struct {
	receipt *receipt
	results []runtime.PromiseResult
	view    bool

	attached runtime.Gas
	promises []createdPromise
	logs     []string

	ret      returnKind
	value    []byte
	returned runtime.PromiseIndex
}

func newCallEnv(r *receipt, results []runtime.PromiseResult, view bool) *callEnv {
	return &callEnv{receipt: r, results: results, view: view}
}

func (e *callEnv) CurrentAccountID() runtime.AccountID     { return e.receipt.receiver }
func (e *callEnv) PredecessorAccountID() runtime.AccountID { return e.receipt.predecessor }
func (e *callEnv) SignerAccountID() runtime.AccountID      { return e.receipt.signer }
func (e *callEnv) AttachedDeposit() runtime.U128           { return e.receipt.deposit }
func (e *callEnv) PrepaidGas() runtime.Gas                 { return e.receipt.gas }

func (e *callEnv) UsedGas() runtime.Gas {
	return runtime.ExecutionBaseGas + e.attached
}

func (e *callEnv) schedule(after *runtime.PromiseIndex, call runtime.FunctionCall) (runtime.PromiseIndex, error) {
	if e.view {
		return 0, runtime.ErrProhibitedInView
	}
	if err := call.Receiver.Validate(); err != nil {
		return 0, fmt.Errorf("invalid promise receiver: %w", err)
	}
	used, ok := runtime.AddGas(e.UsedGas(), call.Gas)
	if !ok || used > e.receipt.gas {
		return 0, fmt.Errorf("%s.%s needs %s with %s left: %w",
			call.Receiver, call.Method, call.Gas, e.receipt.gas-min(e.UsedGas(), e.receipt.gas), runtime.ErrExceededPrepaidGas)
	}
	e.attached += call.Gas
	e.promises = append(e.promises, createdPromise{after: after, call: call})
	return runtime.PromiseIndex(len(e.promises) - 1), nil
}

func (e *callEnv) PromiseCreate(call runtime.FunctionCall) (runtime.PromiseIndex, error) {
	return e.schedule(nil, call)
}

func (e *callEnv) PromiseThen(after runtime.PromiseIndex, call runtime.FunctionCall) (runtime.PromiseIndex, error) {
	if int(after) >= len(e.promises) {
		return 0, runtime.ErrInvalidPromiseIndex
	}
	return e.schedule(&after, call)
}

func (e *callEnv) PromiseReturn(p runtime.PromiseIndex) error {
	if e.view {
		return runtime.ErrProhibitedInView
	}
	if int(p) >= len(e.promises) {
		return runtime.ErrInvalidPromiseIndex
	}
	e.ret = returnPromise
	e.returned = p
	return nil
}

func (e *callEnv) ValueReturn(value []byte) {
	e.ret = returnValue
	e.value = append([]byte(nil), value...)
}

func (e *callEnv) PromiseResultsCount() int {
	return len(e.results)
}

func (e *callEnv) PromiseResult(i int) (runtime.PromiseResult, error) {
	if i < 0 || i >= len(e.results) {
		return runtime.PromiseResult{}, runtime.ErrInvalidResultIndex
	}
	return e.results[i], nil
}

func (e *callEnv) Log(msg string) {
	e.logs = append(e.logs, msg)
}

package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrExceededPrepaidGas is returned when attaching gas to a promise would
	// spend more than the current call was given.
	ErrExceededPrepaidGas = errors.New("exceeded the prepaid gas")
	// ErrProhibitedInView is returned by promise operations during a view call.
	ErrProhibitedInView = errors.New("promise operations are prohibited in view calls")
	// ErrInvalidPromiseIndex is returned for an index the call did not create.
	ErrInvalidPromiseIndex = errors.New("invalid promise index")
	// ErrInvalidResultIndex is returned for an out of range promise result.
	ErrInvalidResultIndex = errors.New("invalid promise result index")
)

// PromiseIndex refers to a promise created during the current call.
type PromiseIndex uint64

// FunctionCall is an outgoing cross-contract call.
type FunctionCall struct {
	Receiver AccountID
	Method   string
	Args     []byte
	Deposit  U128
	Gas      Gas
}

// NewFunctionCall JSON-encodes args into a FunctionCall.
func NewFunctionCall(receiver AccountID, method string, args any, deposit U128, gas Gas) (FunctionCall, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return FunctionCall{}, fmt.Errorf("failed to encode %s args: %w", method, err)
	}
	return FunctionCall{
		Receiver: receiver,
		Method:   method,
		Args:     raw,
		Deposit:  deposit,
		Gas:      gas,
	}, nil
}

// Env is the execution environment a contract sees for the duration of one
// receipt. Promises created through it are only dispatched if the call
// returns nil.
type Env interface {
	CurrentAccountID() AccountID
	PredecessorAccountID() AccountID
	SignerAccountID() AccountID
	AttachedDeposit() U128
	PrepaidGas() Gas
	UsedGas() Gas

	PromiseCreate(call FunctionCall) (PromiseIndex, error)
	PromiseThen(after PromiseIndex, call FunctionCall) (PromiseIndex, error)
	PromiseReturn(p PromiseIndex) error
	ValueReturn(value []byte)

	PromiseResultsCount() int
	PromiseResult(i int) (PromiseResult, error)

	Log(msg string)
}

// Contract is code deployed on an account. Call runs one method to
// completion; a non-nil error fails the receipt.
type Contract interface {
	Call(env Env, method string, args []byte) error
}

// DecodeArgs decodes JSON call arguments, failing with an "invalid arguments"
// abort.
func DecodeArgs(args []byte, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return Abortf(CodeInvalidArguments, err)
	}
	return nil
}

// ReturnJSON sets v as the JSON return value of the call.
func ReturnJSON(env Env, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode return value: %w", err)
	}
	env.ValueReturn(raw)
	return nil
}

// RequireOneYocto enforces the exactly-one-yocto deposit convention used by
// token transfers.
func RequireOneYocto(env Env) error {
	if !env.AttachedDeposit().Equal(OneYocto) {
		return NewAbort(CodeRequiresOneYocto)
	}
	return nil
}

// RequirePrivate only lets the contract call itself.
func RequirePrivate(env Env) error {
	if env.PredecessorAccountID() != env.CurrentAccountID() {
		return NewAbort(CodePrivateMethod)
	}
	return nil
}

package router

import (
	"fmt"

	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

// Methods the router calls on its collaborators and on itself.
const (
	MethodFtTransfer     = "ft_transfer"
	MethodFtTransferCall = "ft_transfer_call"
	MethodSwap           = "swap"
	MethodWithdraw       = "withdraw"

	MethodCallbackSwapResult     = "callback_swap_result"
	MethodCallbackWithdrawResult = "callback_withdraw_result"
)

// ChainContext travels with one route's chain into callback_swap_result.
// The input token and amount are copied at dispatch and never recomputed.
type ChainContext struct {
	Destination runtime.AccountID `json:"destination"`
	DexID       runtime.AccountID `json:"dex_id"`
	Route       int               `json:"route"`
	OutputToken runtime.AccountID `json:"output_token"`
	InputToken  runtime.AccountID `json:"input_token"`
	InputAmount runtime.U128      `json:"input_amount"`
}

type ftTransferCallArgs struct {
	ReceiverID runtime.AccountID `json:"receiver_id"`
	Amount     runtime.U128      `json:"amount"`
	Memo       *string           `json:"memo,omitempty"`
	Msg        string            `json:"msg"`
}

type ftTransferArgs struct {
	ReceiverID runtime.AccountID `json:"receiver_id"`
	Amount     runtime.U128      `json:"amount"`
	Memo       *string           `json:"memo,omitempty"`
}

type swapArgs struct {
	Actions    []SwapAction       `json:"actions"`
	ReferralID *runtime.AccountID `json:"referral_id,omitempty"`
}

type withdrawArgs struct {
	TokenID    runtime.AccountID `json:"token_id"`
	Amount     runtime.U128      `json:"amount"`
	Unregister bool              `json:"unregister"`
}

// dispatchChain schedules ft_transfer_call -> swap -> callback_swap_result
// and returns the callback's promise.
func (r *Router) dispatchChain(env runtime.Env, cc ChainContext, route DexRoute, referral *runtime.AccountID) (runtime.PromiseIndex, error) {
	deposit, err := runtime.NewFunctionCall(
		route.TokenIn,
		MethodFtTransferCall,
		ftTransferCallArgs{ReceiverID: route.Dex, Amount: cc.InputAmount, Msg: ""},
		runtime.OneYocto,
		r.budget.Step(StepTransferCall),
	)
	if err != nil {
		return 0, err
	}
	swap, err := runtime.NewFunctionCall(
		route.Dex,
		MethodSwap,
		swapArgs{Actions: route.Actions, ReferralID: referral},
		runtime.ZeroU128,
		r.budget.Step(StepSwap),
	)
	if err != nil {
		return 0, err
	}
	callback, err := runtime.NewFunctionCall(
		env.CurrentAccountID(),
		MethodCallbackSwapResult,
		cc,
		runtime.ZeroU128,
		r.budget.SwapCallback(),
	)
	if err != nil {
		return 0, err
	}

	p, err := env.PromiseCreate(deposit)
	if err != nil {
		return 0, fmt.Errorf("route %d: failed to schedule deposit: %w", cc.Route, err)
	}
	if p, err = env.PromiseThen(p, swap); err != nil {
		return 0, fmt.Errorf("route %d: failed to schedule swap: %w", cc.Route, err)
	}
	if p, err = env.PromiseThen(p, callback); err != nil {
		return 0, fmt.Errorf("route %d: failed to schedule callback: %w", cc.Route, err)
	}
	return p, nil
}

// dispatchSettlement schedules withdraw followed by either the transfer to
// the sender or the withdraw gate, depending on the settlement mode.
func (r *Router) dispatchSettlement(env runtime.Env, s Settlement) (runtime.PromiseIndex, error) {
	withdraw, err := runtime.NewFunctionCall(
		s.Dex,
		MethodWithdraw,
		withdrawArgs{TokenID: s.Token, Amount: s.Amount, Unregister: false},
		runtime.OneYocto,
		r.budget.Step(StepWithdraw),
	)
	if err != nil {
		return 0, err
	}

	var next runtime.FunctionCall
	switch r.budget.Mode() {
	case SettlementUnconditional:
		next, err = transferCall(s, r.budget.Step(StepTransfer))
	default:
		next, err = runtime.NewFunctionCall(
			env.CurrentAccountID(),
			MethodCallbackWithdrawResult,
			s,
			runtime.ZeroU128,
			r.budget.WithdrawCallback(),
		)
	}
	if err != nil {
		return 0, err
	}

	p, err := env.PromiseCreate(withdraw)
	if err != nil {
		return 0, fmt.Errorf("failed to schedule withdraw: %w", err)
	}
	if p, err = env.PromiseThen(p, next); err != nil {
		return 0, fmt.Errorf("failed to schedule %s: %w", next.Method, err)
	}
	return p, nil
}

func transferCall(s Settlement, gas runtime.Gas) (runtime.FunctionCall, error) {
	return runtime.NewFunctionCall(
		s.Token,
		MethodFtTransfer,
		ftTransferArgs{ReceiverID: s.Destination, Amount: s.Amount},
		runtime.OneYocto,
		gas,
	)
}

package exchange

import (
	"fmt"

	"github.com/Cogwheel-Validator/comet-router/comet/quote"
	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

// SwapAction is one pool swap requested by a caller.
type SwapAction struct {
	PoolID       uint64            `json:"pool_id"`
	TokenIn      runtime.AccountID `json:"token_in"`
	AmountIn     *runtime.U128     `json:"amount_in,omitempty"`
	TokenOut     runtime.AccountID `json:"token_out"`
	MinAmountOut runtime.U128      `json:"min_amount_out"`
}

type onTransferArgs struct {
	SenderID runtime.AccountID `json:"sender_id"`
	Amount   runtime.U128      `json:"amount"`
	Msg      string            `json:"msg"`
}

type swapArgs struct {
	Actions    []SwapAction       `json:"actions"`
	ReferralID *runtime.AccountID `json:"referral_id,omitempty"`
}

type withdrawArgs struct {
	TokenID    runtime.AccountID `json:"token_id"`
	Amount     runtime.U128      `json:"amount"`
	Unregister *bool             `json:"unregister,omitempty"`
}

type postWithdrawArgs struct {
	TokenID  runtime.AccountID `json:"token_id"`
	SenderID runtime.AccountID `json:"sender_id"`
	Amount   runtime.U128      `json:"amount"`
}

type ftTransferArgs struct {
	ReceiverID runtime.AccountID `json:"receiver_id"`
	Amount     runtime.U128      `json:"amount"`
}

type getReturnArgs struct {
	PoolID   uint64            `json:"pool_id"`
	TokenIn  runtime.AccountID `json:"token_in"`
	AmountIn runtime.U128      `json:"amount_in"`
	TokenOut runtime.AccountID `json:"token_out"`
}

type poolArgs struct {
	PoolID uint64 `json:"pool_id"`
}

type accountArgs struct {
	AccountID runtime.AccountID  `json:"account_id"`
	TokenID   *runtime.AccountID `json:"token_id,omitempty"`
}

type pageArgs struct {
	FromIndex uint64  `json:"from_index"`
	Limit     *uint64 `json:"limit,omitempty"`
}

func (x *Exchange) Call(env runtime.Env, method string, args []byte) error {
	switch method {
	case MethodOnTransfer:
		return x.ftOnTransfer(env, args)
	case MethodSwap:
		return x.swap(env, args)
	case MethodWithdraw:
		return x.withdraw(env, args)
	case MethodPostWithdraw:
		return x.postWithdraw(env, args)
	case MethodGetPools:
		var in pageArgs
		if len(args) > 0 {
			if err := runtime.DecodeArgs(args, &in); err != nil {
				return err
			}
		}
		pools := x.Pools()
		from := min(in.FromIndex, uint64(len(pools)))
		to := uint64(len(pools))
		if in.Limit != nil {
			to = min(to, from+*in.Limit)
		}
		return runtime.ReturnJSON(env, pools[from:to])
	case MethodGetPool:
		var in poolArgs
		if err := runtime.DecodeArgs(args, &in); err != nil {
			return err
		}
		pools := x.Pools()
		if in.PoolID >= uint64(len(pools)) {
			return runtime.Abortf(CodeUnknownPool, fmt.Errorf("%d", in.PoolID))
		}
		return runtime.ReturnJSON(env, pools[in.PoolID])
	case MethodGetDeposits:
		var in accountArgs
		if err := runtime.DecodeArgs(args, &in); err != nil {
			return err
		}
		return runtime.ReturnJSON(env, x.Deposits(in.AccountID))
	case MethodGetDeposit:
		var in accountArgs
		if err := runtime.DecodeArgs(args, &in); err != nil {
			return err
		}
		if in.TokenID == nil {
			return runtime.Abortf(runtime.CodeInvalidArguments, fmt.Errorf("missing token_id"))
		}
		return runtime.ReturnJSON(env, x.Deposit(in.AccountID, *in.TokenID))
	case MethodGetReturn:
		var in getReturnArgs
		if err := runtime.DecodeArgs(args, &in); err != nil {
			return err
		}
		pools := x.Pools()
		if in.PoolID >= uint64(len(pools)) {
			return runtime.Abortf(CodeUnknownPool, fmt.Errorf("%d", in.PoolID))
		}
		out, err := pools[in.PoolID].AmountOut(in.TokenIn, in.TokenOut, in.AmountIn)
		if err != nil {
			return runtime.Abortf(runtime.CodeInvalidArguments, err)
		}
		return runtime.ReturnJSON(env, out)
	default:
		return runtime.Abortf(runtime.CodeMethodNotFound, fmt.Errorf("%q", method))
	}
}

// ftOnTransfer credits a plain deposit to the sender. Nothing is returned
// unused.
func (x *Exchange) ftOnTransfer(env runtime.Env, args []byte) error {
	var in onTransferArgs
	if err := runtime.DecodeArgs(args, &in); err != nil {
		return err
	}
	if in.Msg != "" {
		return runtime.NewAbort(CodeUnsupportedMsg)
	}
	token := env.PredecessorAccountID()

	x.mu.Lock()
	err := x.credit(in.SenderID, token, in.Amount)
	x.mu.Unlock()
	if err != nil {
		return runtime.Abortf(runtime.CodeInvalidArguments, err)
	}
	env.ValueReturn([]byte(`"0"`))
	return nil
}

type plannedSwap struct {
	pool      *pool
	in, out   int
	amountIn  runtime.U128
	amountOut runtime.U128
}

// swap prices every action first and only then touches reserves and
// deposits, so a failing action leaves the exchange unchanged.
func (x *Exchange) swap(env runtime.Env, args []byte) error {
	var in swapArgs
	if err := runtime.DecodeArgs(args, &in); err != nil {
		return err
	}
	if len(in.Actions) == 0 {
		return runtime.Abortf(runtime.CodeInvalidArguments, fmt.Errorf("no actions"))
	}
	account := env.PredecessorAccountID()

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.mode.FailSwaps {
		return runtime.NewAbort(CodeSwapsDisabled)
	}

	plan, err := x.plan(account, in.Actions)
	if err != nil {
		return err
	}

	for _, step := range plan {
		if err := x.debit(account, step.pool.tokens[step.in], step.amountIn); err != nil {
			return err
		}
		if err := x.credit(account, step.pool.tokens[step.out], step.amountOut); err != nil {
			return err
		}
		step.pool.reserves[step.in], _ = step.pool.reserves[step.in].Add(step.amountIn)
		step.pool.reserves[step.out], _ = step.pool.reserves[step.out].Sub(step.amountOut)
	}

	if x.mode.MalformedSwapResult {
		env.ValueReturn([]byte(`{"amount_out":"unknown"}`))
		return nil
	}
	return runtime.ReturnJSON(env, plan[len(plan)-1].amountOut)
}

func (x *Exchange) plan(account runtime.AccountID, actions []SwapAction) ([]plannedSwap, error) {
	// simulated balances and reserves so chained actions see earlier steps
	balances := make(map[runtime.AccountID]runtime.U128)
	for token, amount := range x.deposits[account] {
		balances[token] = amount
	}
	reserves := make(map[*pool][2]runtime.U128)

	plan := make([]plannedSwap, 0, len(actions))
	var previous *runtime.U128
	for i, action := range actions {
		amountIn := action.AmountIn
		if amountIn == nil {
			if previous == nil {
				return nil, runtime.NewAbort(CodeNoAmountIn)
			}
			amountIn = previous
		}
		if action.PoolID >= uint64(len(x.pools)) {
			return nil, runtime.Abortf(CodeUnknownPool, fmt.Errorf("%d", action.PoolID))
		}
		p := x.pools[action.PoolID]
		r, ok := reserves[p]
		if !ok {
			r = p.reserves
		}

		idxIn, idxOut := -1, -1
		for j, token := range p.tokens {
			if token == action.TokenIn {
				idxIn = j
			}
			if token == action.TokenOut {
				idxOut = j
			}
		}
		if idxIn < 0 || idxOut < 0 || idxIn == idxOut {
			return nil, runtime.Abortf(runtime.CodeInvalidArguments, fmt.Errorf("action %d: pool %d does not trade %s for %s", i, action.PoolID, action.TokenIn, action.TokenOut))
		}

		remaining, err := balances[action.TokenIn].Sub(*amountIn)
		if err != nil {
			return nil, runtime.Abortf(CodeNotEnoughDeposit, fmt.Errorf("action %d needs %s of %s", i, amountIn, action.TokenIn))
		}
		out, err := quote.GetAmountOut(*amountIn, r[idxIn], r[idxOut], p.feeBps)
		if err != nil {
			return nil, runtime.Abortf(runtime.CodeInvalidArguments, err)
		}
		if out.Cmp(action.MinAmountOut) < 0 {
			return nil, runtime.Abortf(CodeSlippage, fmt.Errorf("action %d: %s below minimum %s", i, out, action.MinAmountOut))
		}

		credited, err := balances[action.TokenOut].Add(out)
		if err != nil {
			return nil, runtime.Abortf(runtime.CodeInvalidArguments, err)
		}
		balances[action.TokenIn] = remaining
		balances[action.TokenOut] = credited
		r[idxIn], _ = r[idxIn].Add(*amountIn)
		r[idxOut], _ = r[idxOut].Sub(out)
		reserves[p] = r

		plan = append(plan, plannedSwap{pool: p, in: idxIn, out: idxOut, amountIn: *amountIn, amountOut: out})
		previous = &plan[len(plan)-1].amountOut
	}
	return plan, nil
}

// withdraw debits the caller's deposit and sends the tokens back, crediting
// them again if the transfer fails.
func (x *Exchange) withdraw(env runtime.Env, args []byte) error {
	if err := runtime.RequireOneYocto(env); err != nil {
		return err
	}
	var in withdrawArgs
	if err := runtime.DecodeArgs(args, &in); err != nil {
		return err
	}
	if in.Unregister != nil && *in.Unregister {
		return runtime.NewAbort(CodeUnregisterForbidden)
	}
	if in.Amount.IsZero() {
		return runtime.NewAbort(CodeZeroAmount)
	}
	account := env.PredecessorAccountID()

	transfer, err := runtime.NewFunctionCall(in.TokenID, "ft_transfer", ftTransferArgs{
		ReceiverID: account,
		Amount:     in.Amount,
	}, runtime.OneYocto, TransferGas)
	if err != nil {
		return err
	}
	callback, err := runtime.NewFunctionCall(env.CurrentAccountID(), MethodPostWithdraw, postWithdrawArgs{
		TokenID:  in.TokenID,
		SenderID: account,
		Amount:   in.Amount,
	}, runtime.ZeroU128, PostWithdrawGas)
	if err != nil {
		return err
	}
	if used, ok := runtime.AddGas(env.UsedGas(), TransferGas+PostWithdrawGas); !ok || used > env.PrepaidGas() {
		return runtime.ErrExceededPrepaidGas
	}

	x.mu.Lock()
	if x.mode.FailWithdrawals {
		x.mu.Unlock()
		return runtime.NewAbort("withdrawals are disabled")
	}
	err = x.debit(account, in.TokenID, in.Amount)
	x.mu.Unlock()
	if err != nil {
		return err
	}

	p, err := env.PromiseCreate(transfer)
	if err != nil {
		return err
	}
	if p, err = env.PromiseThen(p, callback); err != nil {
		return err
	}
	return env.PromiseReturn(p)
}

func (x *Exchange) postWithdraw(env runtime.Env, args []byte) error {
	if err := runtime.RequirePrivate(env); err != nil {
		return err
	}
	var in postWithdrawArgs
	if err := runtime.DecodeArgs(args, &in); err != nil {
		return err
	}
	if env.PromiseResultsCount() != 1 {
		return runtime.NewAbort(runtime.CodeUnreachable)
	}
	res, err := env.PromiseResult(0)
	if err != nil {
		return err
	}
	if res.Status == runtime.PromiseSuccessful {
		return runtime.ReturnJSON(env, in.Amount)
	}

	x.mu.Lock()
	err = x.credit(in.SenderID, in.TokenID, in.Amount)
	x.mu.Unlock()
	if err != nil {
		return err
	}
	env.Log(fmt.Sprintf("withdraw of %s %s to %s failed, deposit restored", in.Amount, in.TokenID, in.SenderID))
	return runtime.ReturnJSON(env, runtime.ZeroU128)
}

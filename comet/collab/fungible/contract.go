package fungible

import (
	"fmt"

	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

type transferArgs struct {
	ReceiverID runtime.AccountID `json:"receiver_id"`
	Amount     runtime.U128      `json:"amount"`
	Memo       *string           `json:"memo,omitempty"`
}

type transferCallArgs struct {
	ReceiverID runtime.AccountID `json:"receiver_id"`
	Amount     runtime.U128      `json:"amount"`
	Memo       *string           `json:"memo,omitempty"`
	Msg        string            `json:"msg"`
}

// OnTransferArgs is what the receiver of ft_transfer_call is notified with.
type OnTransferArgs struct {
	SenderID runtime.AccountID `json:"sender_id"`
	Amount   runtime.U128      `json:"amount"`
	Msg      string            `json:"msg"`
}

type resolveArgs struct {
	SenderID   runtime.AccountID `json:"sender_id"`
	ReceiverID runtime.AccountID `json:"receiver_id"`
	Amount     runtime.U128      `json:"amount"`
}

type accountArgs struct {
	AccountID *runtime.AccountID `json:"account_id"`
}

type mintArgs struct {
	AccountID runtime.AccountID `json:"account_id"`
	Amount    runtime.U128      `json:"amount"`
}

func (t *Token) Call(env runtime.Env, method string, args []byte) error {
	switch method {
	case MethodTransfer:
		return t.ftTransfer(env, args)
	case MethodTransferCall:
		return t.ftTransferCall(env, args)
	case MethodResolveTransfer:
		return t.ftResolveTransfer(env, args)
	case MethodBalanceOf:
		var in accountArgs
		if err := runtime.DecodeArgs(args, &in); err != nil {
			return err
		}
		if in.AccountID == nil {
			return runtime.Abortf(runtime.CodeInvalidArguments, fmt.Errorf("missing account_id"))
		}
		return runtime.ReturnJSON(env, t.BalanceOf(*in.AccountID))
	case MethodTotalSupply:
		return runtime.ReturnJSON(env, t.TotalSupply())
	case MethodMetadata:
		return runtime.ReturnJSON(env, t.metadata)
	case MethodStorageDeposit:
		var in accountArgs
		if len(args) > 0 {
			if err := runtime.DecodeArgs(args, &in); err != nil {
				return err
			}
		}
		account := env.PredecessorAccountID()
		if in.AccountID != nil {
			account = *in.AccountID
		}
		t.Register(account)
		return nil
	case MethodMint:
		var in mintArgs
		if err := runtime.DecodeArgs(args, &in); err != nil {
			return err
		}
		if env.PredecessorAccountID() != t.owner {
			return runtime.NewAbort(CodeOwnerOnly)
		}
		if in.Amount.IsZero() {
			return runtime.NewAbort(CodeZeroAmount)
		}
		if err := t.Mint(in.AccountID, in.Amount); err != nil {
			return runtime.Abortf(runtime.CodeInvalidArguments, err)
		}
		return nil
	default:
		return runtime.Abortf(runtime.CodeMethodNotFound, fmt.Errorf("%q", method))
	}
}

func (t *Token) ftTransfer(env runtime.Env, args []byte) error {
	if err := runtime.RequireOneYocto(env); err != nil {
		return err
	}
	var in transferArgs
	if err := runtime.DecodeArgs(args, &in); err != nil {
		return err
	}
	sender := env.PredecessorAccountID()

	t.mu.Lock()
	err := t.transfer(sender, in.ReceiverID, in.Amount)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	logTransfer(env, transferLog{OldOwnerID: sender, NewOwnerID: in.ReceiverID, Amount: in.Amount, Memo: in.Memo})
	return nil
}

// ftTransferCall moves the tokens, notifies the receiver and then resolves
// how much the receiver actually kept.
func (t *Token) ftTransferCall(env runtime.Env, args []byte) error {
	if err := runtime.RequireOneYocto(env); err != nil {
		return err
	}
	var in transferCallArgs
	if err := runtime.DecodeArgs(args, &in); err != nil {
		return err
	}
	sender := env.PredecessorAccountID()

	reserved, ok := runtime.AddGas(env.UsedGas(), ResolveGas)
	if !ok || env.PrepaidGas() <= reserved+runtime.ExecutionBaseGas {
		return runtime.Abortf(CodeMoreGasRequired, fmt.Errorf("prepaid %s", env.PrepaidGas()))
	}
	notifyGas := env.PrepaidGas() - reserved

	notify, err := runtime.NewFunctionCall(in.ReceiverID, MethodOnTransfer, OnTransferArgs{
		SenderID: sender,
		Amount:   in.Amount,
		Msg:      in.Msg,
	}, runtime.ZeroU128, notifyGas)
	if err != nil {
		return err
	}
	resolve, err := runtime.NewFunctionCall(env.CurrentAccountID(), MethodResolveTransfer, resolveArgs{
		SenderID:   sender,
		ReceiverID: in.ReceiverID,
		Amount:     in.Amount,
	}, runtime.ZeroU128, ResolveGas)
	if err != nil {
		return err
	}

	t.mu.Lock()
	err = t.transfer(sender, in.ReceiverID, in.Amount)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	logTransfer(env, transferLog{OldOwnerID: sender, NewOwnerID: in.ReceiverID, Amount: in.Amount, Memo: in.Memo})

	p, err := env.PromiseCreate(notify)
	if err != nil {
		return err
	}
	if p, err = env.PromiseThen(p, resolve); err != nil {
		return err
	}
	return env.PromiseReturn(p)
}

// ftResolveTransfer refunds whatever the receiver reported unused, or the
// whole amount when the notification failed, and returns the amount used.
func (t *Token) ftResolveTransfer(env runtime.Env, args []byte) error {
	if err := runtime.RequirePrivate(env); err != nil {
		return err
	}
	var in resolveArgs
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

	unused := in.Amount
	if res.Status == runtime.PromiseSuccessful {
		var reported runtime.U128
		if err := runtime.DecodeArgs(res.Payload, &reported); err == nil {
			unused = reported.Min(in.Amount)
		}
	}

	refund := runtime.ZeroU128
	if !unused.IsZero() {
		t.mu.Lock()
		refund = unused.Min(t.balances[in.ReceiverID])
		if !refund.IsZero() {
			if _, registered := t.balances[in.SenderID]; !registered {
				// the sender closed its account meanwhile; the tokens are burnt
				t.balances[in.ReceiverID], _ = t.balances[in.ReceiverID].Sub(refund)
				t.totalSupply, _ = t.totalSupply.Sub(refund)
			} else if err := t.transfer(in.ReceiverID, in.SenderID, refund); err != nil {
				t.mu.Unlock()
				return err
			}
		}
		t.mu.Unlock()
		if !refund.IsZero() {
			logTransfer(env, transferLog{OldOwnerID: in.ReceiverID, NewOwnerID: in.SenderID, Amount: refund})
		}
	}

	used, err := in.Amount.Sub(refund)
	if err != nil {
		return err
	}
	return runtime.ReturnJSON(env, used)
}

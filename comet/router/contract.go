// Package router is the swap router contract: it turns a token deposit
// carrying a routing instruction into one swap chain per route and settles
// each chain back to the depositor.
package router

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "router").Logger()
}

const (
	MethodFtOnTransfer      = "ft_on_transfer"
	MethodGetWhitelist      = "get_whitelist"
	MethodGetBudget         = "get_budget"
	MethodGetSettlementMode = "get_settlement_mode"

	// CodeWrongInputToken is the abort code for a route whose input token is
	// not the token that was deposited.
	CodeWrongInputToken = "wrong input token"
)

// Router holds only immutable policy, so concurrent chains share nothing.
type Router struct {
	whitelist *Whitelist
	budget    *BudgetTable
}

func New(whitelist *Whitelist, budget *BudgetTable) (*Router, error) {
	if whitelist == nil {
		return nil, fmt.Errorf("router needs a whitelist")
	}
	if budget == nil {
		return nil, fmt.Errorf("router needs a budget table")
	}
	log.Debug().
		Int("whitelist", len(whitelist.members)).
		Str("mode", string(budget.Mode())).
		Str("per_route", budget.PerRoute().String()).
		Msg("Router configured")
	return &Router{whitelist: whitelist, budget: budget}, nil
}

func (r *Router) Whitelist() *Whitelist {
	return r.whitelist
}

func (r *Router) Budget() *BudgetTable {
	return r.budget
}

func (r *Router) Call(env runtime.Env, method string, args []byte) error {
	switch method {
	case MethodFtOnTransfer:
		return r.ftOnTransfer(env, args)
	case MethodCallbackSwapResult:
		return r.callbackSwapResult(env, args)
	case MethodCallbackWithdrawResult:
		return r.callbackWithdrawResult(env, args)
	case MethodGetWhitelist:
		return runtime.ReturnJSON(env, r.whitelist.Members())
	case MethodGetBudget:
		return runtime.ReturnJSON(env, r.budget.View())
	case MethodGetSettlementMode:
		return runtime.ReturnJSON(env, r.budget.Mode())
	default:
		return runtime.Abortf(runtime.CodeMethodNotFound, fmt.Errorf("%q", method))
	}
}

// FtOnTransferArgs is the deposit notification sent by a token contract.
type FtOnTransferArgs struct {
	SenderID runtime.AccountID `json:"sender_id"`
	Amount   runtime.U128      `json:"amount"`
	Msg      string            `json:"msg"`
}

// ftOnTransfer validates the whole instruction before dispatching any route,
// then claims the full deposit. Refunds happen per chain in
// callback_swap_result, never through the token's unused-amount return.
func (r *Router) ftOnTransfer(env runtime.Env, args []byte) error {
	var in FtOnTransferArgs
	if err := runtime.DecodeArgs(args, &in); err != nil {
		return err
	}

	ri, err := ParseInstruction(in.Msg)
	if err != nil {
		return err
	}
	if err := r.whitelist.Check(ri.Routes); err != nil {
		return err
	}
	token := env.PredecessorAccountID()
	for i, route := range ri.Routes {
		if route.TokenIn != token {
			return runtime.Abortf(CodeWrongInputToken, fmt.Errorf("route %d spends %s but %s was deposited", i, route.TokenIn, token))
		}
	}

	for i, route := range ri.Routes {
		cc := ChainContext{
			Destination: in.SenderID,
			DexID:       route.Dex,
			Route:       i,
			OutputToken: route.OutputToken(),
			InputToken:  route.InputToken(),
			InputAmount: in.Amount,
		}
		if _, err := r.dispatchChain(env, cc, route, ri.ReferralID); err != nil {
			return err
		}
		if err := emit(env, EventSwapDispatched, SwapDispatchedData{
			Sender:      in.SenderID,
			Dex:         route.Dex,
			Route:       i,
			InputToken:  cc.InputToken,
			OutputToken: cc.OutputToken,
			Amount:      in.Amount,
		}); err != nil {
			return err
		}
	}

	env.ValueReturn([]byte(`"0"`))
	return nil
}

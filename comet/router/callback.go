package router

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

const (
	CodeTooManyResults     = "too many results"
	CodeWrongValueReceived = "wrong value received"
)

// Outcome tells what a settlement returns to the sender.
type Outcome string

const (
	OutcomeSwapped  Outcome = "swapped"
	OutcomeRefunded Outcome = "refunded"
	OutcomeStranded Outcome = "stranded"
)

// Settlement is what a chain owes its sender once the swap step resolved.
type Settlement struct {
	Destination runtime.AccountID `json:"destination"`
	Dex         runtime.AccountID `json:"dex"`
	Route       int               `json:"route"`
	Token       runtime.AccountID `json:"token"`
	Amount      runtime.U128      `json:"amount"`
	Outcome     Outcome           `json:"outcome"`
}

// ClassifyOutcome turns the swap step's result into a settlement: the
// output token at the decoded amount when the swap succeeded, the input
// token at the input amount when it failed.
func ClassifyOutcome(cc ChainContext, results []runtime.PromiseResult) (Settlement, error) {
	result, err := singleResult(results)
	if err != nil {
		return Settlement{}, err
	}

	s := Settlement{
		Destination: cc.Destination,
		Dex:         cc.DexID,
		Route:       cc.Route,
	}
	switch result.Status {
	case runtime.PromiseSuccessful:
		var amount runtime.U128
		if err := json.Unmarshal(result.Payload, &amount); err != nil {
			return Settlement{}, runtime.Abortf(CodeWrongValueReceived, err)
		}
		s.Token = cc.OutputToken
		s.Amount = amount
		s.Outcome = OutcomeSwapped
	case runtime.PromiseFailed:
		s.Token = cc.InputToken
		s.Amount = cc.InputAmount
		s.Outcome = OutcomeRefunded
	default:
		return Settlement{}, runtime.Abortf(runtime.CodeUnreachable, fmt.Errorf("swap result is %s", result.Status))
	}
	return s, nil
}

func singleResult(results []runtime.PromiseResult) (runtime.PromiseResult, error) {
	if len(results) != 1 {
		return runtime.PromiseResult{}, runtime.Abortf(CodeTooManyResults, fmt.Errorf("expected 1 result, got %d", len(results)))
	}
	if results[0].Status == runtime.PromiseNotReady {
		return runtime.PromiseResult{}, runtime.Abortf(runtime.CodeUnreachable, errors.New("result is not ready"))
	}
	return results[0], nil
}

func promiseResults(env runtime.Env) ([]runtime.PromiseResult, error) {
	n := env.PromiseResultsCount()
	results := make([]runtime.PromiseResult, 0, n)
	for i := 0; i < n; i++ {
		res, err := env.PromiseResult(i)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// callbackSwapResult reconciles one chain and dispatches its settlement.
func (r *Router) callbackSwapResult(env runtime.Env, args []byte) error {
	if err := runtime.RequirePrivate(env); err != nil {
		return err
	}
	var cc ChainContext
	if err := runtime.DecodeArgs(args, &cc); err != nil {
		return err
	}
	results, err := promiseResults(env)
	if err != nil {
		return err
	}

	s, err := ClassifyOutcome(cc, results)
	if err != nil {
		return err
	}

	if s.Amount.IsZero() {
		// nothing to withdraw; the exchange rejects zero amounts
		if err := emit(env, EventSettlementSkipped, SettlementData{Settlement: s, Reason: "zero amount"}); err != nil {
			return err
		}
		env.ValueReturn([]byte(`"0"`))
		return nil
	}

	p, err := r.dispatchSettlement(env, s)
	if err != nil {
		return err
	}
	if err := emit(env, EventSettlementDispatched, SettlementData{Settlement: s}); err != nil {
		return err
	}
	return env.PromiseReturn(p)
}

// callbackWithdrawResult transfers to the sender only when the withdraw
// released exactly the settlement amount.
func (r *Router) callbackWithdrawResult(env runtime.Env, args []byte) error {
	if err := runtime.RequirePrivate(env); err != nil {
		return err
	}
	var s Settlement
	if err := runtime.DecodeArgs(args, &s); err != nil {
		return err
	}
	results, err := promiseResults(env)
	if err != nil {
		return err
	}
	result, err := singleResult(results)
	if err != nil {
		return err
	}

	reason := ""
	switch result.Status {
	case runtime.PromiseFailed:
		reason = "withdraw failed"
	case runtime.PromiseSuccessful:
		var withdrawn runtime.U128
		if err := json.Unmarshal(result.Payload, &withdrawn); err != nil {
			reason = "withdraw returned an undecodable amount"
		} else if !withdrawn.Equal(s.Amount) {
			reason = fmt.Sprintf("withdraw released %s of %s", withdrawn, s.Amount)
		}
	}

	if reason != "" {
		log.Warn().
			Str("destination", s.Destination.String()).
			Str("dex", s.Dex.String()).
			Str("token", s.Token.String()).
			Str("amount", s.Amount.String()).
			Str("reason", reason).
			Msg("Settlement stranded")
		if err := emit(env, EventSettlementStranded, SettlementData{Settlement: withOutcome(s, OutcomeStranded), Reason: reason}); err != nil {
			return err
		}
		env.ValueReturn([]byte(`"0"`))
		return nil
	}

	transfer, err := transferCall(s, r.budget.Step(StepTransfer))
	if err != nil {
		return err
	}
	p, err := env.PromiseCreate(transfer)
	if err != nil {
		return fmt.Errorf("failed to schedule transfer: %w", err)
	}
	return env.PromiseReturn(p)
}

func withOutcome(s Settlement, o Outcome) Settlement {
	s.Outcome = o
	return s
}

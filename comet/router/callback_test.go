package router_test

import (
	"encoding/json"
	"testing"

	"github.com/zeebo/assert"

	"github.com/Cogwheel-Validator/comet-router/comet/router"
	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

func chainContext() router.ChainContext {
	return router.ChainContext{
		Destination: "alice.near",
		DexID:       "ref",
		OutputToken: "y.near",
		InputToken:  "x.near",
		InputAmount: runtime.NewU128(100),
	}
}

func assertAbort(t *testing.T, err error, code string) {
	t.Helper()
	got, ok := runtime.AbortCode(err)
	if !ok {
		t.Fatalf("expected abort %q, got %v", code, err)
	}
	assert.Equal(t, got, code)
}

func TestClassifyOutcome_Swapped(t *testing.T) {
	s, err := router.ClassifyOutcome(chainContext(), []runtime.PromiseResult{runtime.Successful([]byte(`"95"`))})
	assert.NoError(t, err)
	assert.Equal(t, s.Outcome, router.OutcomeSwapped)
	assert.Equal(t, s.Token, runtime.AccountID("y.near"))
	assert.Equal(t, s.Amount.String(), "95")
	assert.Equal(t, s.Destination, runtime.AccountID("alice.near"))
	assert.Equal(t, s.Dex, runtime.AccountID("ref"))
}

func TestClassifyOutcome_Refunded(t *testing.T) {
	s, err := router.ClassifyOutcome(chainContext(), []runtime.PromiseResult{runtime.Failed()})
	assert.NoError(t, err)
	assert.Equal(t, s.Outcome, router.OutcomeRefunded)
	assert.Equal(t, s.Token, runtime.AccountID("x.near"))
	assert.Equal(t, s.Amount.String(), "100")
}

func TestClassifyOutcome_Aborts(t *testing.T) {
	cc := chainContext()

	_, err := router.ClassifyOutcome(cc, nil)
	assertAbort(t, err, router.CodeTooManyResults)

	_, err = router.ClassifyOutcome(cc, []runtime.PromiseResult{runtime.Failed(), runtime.Successful([]byte(`"1"`))})
	assertAbort(t, err, router.CodeTooManyResults)

	_, err = router.ClassifyOutcome(cc, []runtime.PromiseResult{runtime.NotReady()})
	assertAbort(t, err, runtime.CodeUnreachable)

	for _, payload := range []string{``, `95`, `"ninety"`, `{"amount":"95"}`, `"-5"`} {
		_, err = router.ClassifyOutcome(cc, []runtime.PromiseResult{runtime.Successful([]byte(payload))})
		assertAbort(t, err, router.CodeWrongValueReceived)
	}
}

// The settlement token and amount are always one of the two pairs fixed at
// dispatch, whatever the swap step reported.
func TestClassifyOutcome_OnlyTwoSettlements(t *testing.T) {
	cc := chainContext()
	results := []runtime.PromiseResult{
		runtime.Failed(),
		runtime.Successful([]byte(`"0"`)),
		runtime.Successful([]byte(`"95"`)),
		runtime.Successful([]byte(`"340282366920938463463374607431768211455"`)),
	}
	for _, res := range results {
		s, err := router.ClassifyOutcome(cc, []runtime.PromiseResult{res})
		assert.NoError(t, err)
		switch s.Outcome {
		case router.OutcomeSwapped:
			assert.Equal(t, s.Token, cc.OutputToken)
			assert.Equal(t, string(res.Payload), `"`+s.Amount.String()+`"`)
		case router.OutcomeRefunded:
			assert.Equal(t, s.Token, cc.InputToken)
			assert.True(t, s.Amount.Equal(cc.InputAmount))
		default:
			t.Fatalf("unexpected outcome %s", s.Outcome)
		}
	}
}

func TestCallbackSwapResult_Private(t *testing.T) {
	r := newRouter(t, router.SettlementGated)
	env := newEnv("mallory.near")
	env.results = []runtime.PromiseResult{runtime.Successful([]byte(`"95"`))}

	err := r.Call(env, router.MethodCallbackSwapResult, mustJSON(t, chainContext()))
	assertAbort(t, err, runtime.CodePrivateMethod)
	assert.Equal(t, len(env.promises), 0)
}

func TestCallbackSwapResult_Unconditional(t *testing.T) {
	r := newRouter(t, router.SettlementUnconditional)
	env := newEnv("router.near")
	env.prepaid = r.Budget().SwapCallback()
	env.results = []runtime.PromiseResult{runtime.Successful([]byte(`"95"`))}

	assert.NoError(t, r.Call(env, router.MethodCallbackSwapResult, mustJSON(t, chainContext())))
	assert.DeepEqual(t, env.methods(), []string{"ref.withdraw", "y.near.ft_transfer"})
	assert.NotNil(t, env.returned)
	assert.Equal(t, *env.returned, runtime.PromiseIndex(1))

	withdraw := env.promises[0].call
	assert.Equal(t, withdraw.Gas, 80*runtime.TGas)
	assert.True(t, withdraw.Deposit.Equal(runtime.OneYocto))
	var args map[string]any
	assert.NoError(t, json.Unmarshal(withdraw.Args, &args))
	assert.Equal(t, args["token_id"], "y.near")
	assert.Equal(t, args["amount"], "95")
	assert.Equal(t, args["unregister"], false)

	transfer := env.promises[1].call
	assert.Equal(t, transfer.Gas, 30*runtime.TGas)
	assert.NoError(t, json.Unmarshal(transfer.Args, &args))
	assert.Equal(t, args["receiver_id"], "alice.near")
	assert.Equal(t, args["amount"], "95")
}

func TestCallbackSwapResult_GatedRefund(t *testing.T) {
	r := newRouter(t, router.SettlementGated)
	env := newEnv("router.near")
	env.prepaid = r.Budget().SwapCallback()
	env.results = []runtime.PromiseResult{runtime.Failed()}

	assert.NoError(t, r.Call(env, router.MethodCallbackSwapResult, mustJSON(t, chainContext())))
	assert.DeepEqual(t, env.methods(), []string{"ref.withdraw", "router.near.callback_withdraw_result"})
	assert.Equal(t, env.promises[1].call.Gas, r.Budget().WithdrawCallback())

	var s router.Settlement
	assert.NoError(t, json.Unmarshal(env.promises[1].call.Args, &s))
	assert.Equal(t, s.Outcome, router.OutcomeRefunded)
	assert.Equal(t, s.Token, runtime.AccountID("x.near"))
	assert.Equal(t, s.Amount.String(), "100")

	events := env.events()
	assert.Equal(t, len(events), 1)
	assert.Equal(t, events[0].Event, router.EventSettlementDispatched)
}

func TestCallbackSwapResult_MalformedDispatchesNothing(t *testing.T) {
	r := newRouter(t, router.SettlementGated)
	env := newEnv("router.near")
	env.results = []runtime.PromiseResult{runtime.Successful([]byte(`"lots"`))}

	err := r.Call(env, router.MethodCallbackSwapResult, mustJSON(t, chainContext()))
	assertAbort(t, err, router.CodeWrongValueReceived)
	assert.Equal(t, len(env.promises), 0)
}

func TestCallbackSwapResult_ZeroOutput(t *testing.T) {
	r := newRouter(t, router.SettlementGated)
	env := newEnv("router.near")
	env.results = []runtime.PromiseResult{runtime.Successful([]byte(`"0"`))}

	assert.NoError(t, r.Call(env, router.MethodCallbackSwapResult, mustJSON(t, chainContext())))
	assert.Equal(t, len(env.promises), 0)
	assert.Equal(t, string(env.value), `"0"`)
	assert.Equal(t, env.events()[0].Event, router.EventSettlementSkipped)
}

func settlement() router.Settlement {
	return router.Settlement{
		Destination: "alice.near",
		Dex:         "ref",
		Token:       "y.near",
		Amount:      runtime.NewU128(95),
		Outcome:     router.OutcomeSwapped,
	}
}

func TestCallbackWithdrawResult(t *testing.T) {
	r := newRouter(t, router.SettlementGated)

	t.Run("released", func(t *testing.T) {
		env := newEnv("router.near")
		env.prepaid = r.Budget().WithdrawCallback()
		env.results = []runtime.PromiseResult{runtime.Successful([]byte(`"95"`))}

		assert.NoError(t, r.Call(env, router.MethodCallbackWithdrawResult, mustJSON(t, settlement())))
		assert.DeepEqual(t, env.methods(), []string{"y.near.ft_transfer"})
		assert.NotNil(t, env.returned)
	})

	stranded := map[string]runtime.PromiseResult{
		"failed":  runtime.Failed(),
		"refused": runtime.Successful([]byte(`"0"`)),
		"partial": runtime.Successful([]byte(`"40"`)),
		"garbled": runtime.Successful([]byte(`true`)),
	}
	for name, res := range stranded {
		t.Run(name, func(t *testing.T) {
			env := newEnv("router.near")
			env.results = []runtime.PromiseResult{res}

			assert.NoError(t, r.Call(env, router.MethodCallbackWithdrawResult, mustJSON(t, settlement())))
			assert.Equal(t, len(env.promises), 0)

			events := env.events()
			assert.Equal(t, len(events), 1)
			assert.Equal(t, events[0].Event, router.EventSettlementStranded)
			var data router.SettlementData
			assert.NoError(t, events[0].DecodeData(&data))
			assert.Equal(t, data.Outcome, router.OutcomeStranded)
			assert.True(t, data.Reason != "")
		})
	}

	t.Run("protocol violations", func(t *testing.T) {
		env := newEnv("router.near")
		env.results = []runtime.PromiseResult{runtime.Failed(), runtime.Failed()}
		err := r.Call(env, router.MethodCallbackWithdrawResult, mustJSON(t, settlement()))
		assertAbort(t, err, router.CodeTooManyResults)

		env = newEnv("router.near")
		env.results = []runtime.PromiseResult{runtime.NotReady()}
		err = r.Call(env, router.MethodCallbackWithdrawResult, mustJSON(t, settlement()))
		assertAbort(t, err, runtime.CodeUnreachable)
	})
}

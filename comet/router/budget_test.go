package router_test

import (
	"testing"

	"github.com/zeebo/assert"

	"github.com/Cogwheel-Validator/comet-router/comet/router"
	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

func TestBudgetTable_Defaults(t *testing.T) {
	unconditional := router.MustBudgetTable(router.SettlementUnconditional, nil)
	assert.Equal(t, unconditional.SwapCallback(), 135*runtime.TGas)
	assert.Equal(t, unconditional.PerRoute(), 215*runtime.TGas)

	gated := router.MustBudgetTable(router.SettlementGated, nil)
	assert.Equal(t, gated.WithdrawCallback(), 45*runtime.TGas)
	assert.Equal(t, gated.SwapCallback(), 150*runtime.TGas)
	assert.Equal(t, gated.PerRoute(), 230*runtime.TGas)
}

func TestBudgetTable_CallbackCoversTail(t *testing.T) {
	for _, mode := range []router.SettlementMode{router.SettlementGated, router.SettlementUnconditional} {
		b := router.MustBudgetTable(mode, nil)
		tail := b.Step(router.StepWithdraw) + b.Step(router.StepTransfer)
		if mode == router.SettlementGated {
			tail = b.Step(router.StepWithdraw) + b.WithdrawCallback()
			assert.True(t, b.WithdrawCallback() >= b.Step(router.StepTransfer)+runtime.ExecutionBaseGas)
		}
		assert.True(t, b.SwapCallback() >= tail+runtime.ExecutionBaseGas)
		assert.True(t, b.PerRoute()+runtime.ExecutionBaseGas <= runtime.MaxPrepaidGas)
	}
}

func TestBudgetTable_ForRoutes(t *testing.T) {
	b := router.MustBudgetTable(router.SettlementGated, nil)

	gas, err := b.ForRoutes(3)
	assert.NoError(t, err)
	assert.Equal(t, gas, 690*runtime.TGas)

	_, err = b.ForRoutes(-1)
	assert.Error(t, err)

	assert.Equal(t, b.MaxRoutes(288*runtime.TGas), 1)
	assert.Equal(t, b.MaxRoutes(462*runtime.TGas), 2)
	assert.Equal(t, b.MaxRoutes(runtime.ExecutionBaseGas), 0)
}

func TestBudgetTable_Overrides(t *testing.T) {
	b, err := router.NewBudgetTable(router.SettlementUnconditional, map[router.Step]runtime.Gas{
		router.StepSwap: 30 * runtime.TGas,
	})
	assert.NoError(t, err)
	assert.Equal(t, b.PerRoute(), 225*runtime.TGas)

	cases := []map[router.Step]runtime.Gas{
		{router.StepSwap: 0},
		{router.StepCallbackOverhead: runtime.TGas},
		{router.StepWithdraw: 20 * runtime.TGas},
		{router.StepTransferCall: 10 * runtime.TGas},
		{router.StepTransferCall: 200 * runtime.TGas},
		{router.Step("bridge"): runtime.TGas},
	}
	for _, overrides := range cases {
		_, err := router.NewBudgetTable(router.SettlementGated, overrides)
		if err == nil {
			t.Errorf("expected overrides %v to be rejected", overrides)
		}
	}
}

func TestParseSettlementMode(t *testing.T) {
	mode, err := router.ParseSettlementMode("")
	assert.NoError(t, err)
	assert.Equal(t, mode, router.SettlementGated)

	mode, err = router.ParseSettlementMode("unconditional")
	assert.NoError(t, err)
	assert.Equal(t, mode, router.SettlementUnconditional)

	_, err = router.ParseSettlementMode("optimistic")
	assert.Error(t, err)
}

func TestWhitelist(t *testing.T) {
	wl, err := router.NewWhitelist("ref", "jumbo")
	assert.NoError(t, err)
	assert.True(t, wl.Contains("ref"))
	assert.False(t, wl.Contains("unknown-dex"))
	assert.DeepEqual(t, wl.Members(), []runtime.AccountID{"jumbo", "ref"})

	_, err = router.NewWhitelist()
	assert.Error(t, err)
	_, err = router.NewWhitelist("ref", "ref")
	assert.Error(t, err)
	_, err = router.NewWhitelist("Ref")
	assert.Error(t, err)
}

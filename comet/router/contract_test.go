package router_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/zeebo/assert"

	"github.com/Cogwheel-Validator/comet-router/comet/router"
	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

func routeMsg(dex string) string {
	return fmt.Sprintf(`{"routes": [{"dex": %q, "token_in": "x.near", "actions": [
		{"pool_id": 0, "token_in": "x.near", "amount_in": "100", "token_out": "y.near", "min_amount_out": "90"}
	]}]}`, dex)
}

func depositArgs(t *testing.T, msg string) []byte {
	return mustJSON(t, router.FtOnTransferArgs{
		SenderID: "alice.near",
		Amount:   runtime.NewU128(100),
		Msg:      msg,
	})
}

func TestFtOnTransfer_DispatchesChain(t *testing.T) {
	r := newRouter(t, router.SettlementGated)
	env := newEnv("x.near")

	assert.NoError(t, r.Call(env, router.MethodFtOnTransfer, depositArgs(t, routeMsg("ref"))))
	assert.Equal(t, string(env.value), `"0"`)
	assert.DeepEqual(t, env.methods(), []string{
		"x.near.ft_transfer_call",
		"ref.swap",
		"router.near.callback_swap_result",
	})

	transfer := env.promises[0]
	assert.Nil(t, transfer.after)
	assert.Equal(t, transfer.call.Gas, 60*runtime.TGas)
	assert.True(t, transfer.call.Deposit.Equal(runtime.OneYocto))

	swap := env.promises[1]
	assert.Equal(t, *swap.after, runtime.PromiseIndex(0))
	assert.Equal(t, swap.call.Gas, 20*runtime.TGas)

	callback := env.promises[2]
	assert.Equal(t, *callback.after, runtime.PromiseIndex(1))
	assert.Equal(t, callback.call.Gas, 150*runtime.TGas)

	var cc router.ChainContext
	assert.NoError(t, json.Unmarshal(callback.call.Args, &cc))
	assert.Equal(t, cc.Destination, runtime.AccountID("alice.near"))
	assert.Equal(t, cc.DexID, runtime.AccountID("ref"))
	assert.Equal(t, cc.InputToken, runtime.AccountID("x.near"))
	assert.Equal(t, cc.OutputToken, runtime.AccountID("y.near"))
	assert.Equal(t, cc.InputAmount.String(), "100")

	events := env.events()
	assert.Equal(t, len(events), 1)
	assert.Equal(t, events[0].Event, router.EventSwapDispatched)
}

func TestFtOnTransfer_OneCallbackPerRoute(t *testing.T) {
	r := newRouter(t, router.SettlementUnconditional)
	env := newEnv("x.near")
	env.prepaid = 1000 * runtime.TGas

	msg := `{"routes": [
		{"dex": "ref", "token_in": "x.near", "actions": [{"pool_id": 0, "token_in": "x.near", "token_out": "y.near", "min_amount_out": "1"}]},
		{"dex": "jumbo", "token_in": "x.near", "actions": [{"pool_id": 4, "token_in": "x.near", "token_out": "z.near", "min_amount_out": "1"}]}
	]}`
	assert.NoError(t, r.Call(env, router.MethodFtOnTransfer, depositArgs(t, msg)))

	callbacks := 0
	for _, p := range env.promises {
		if p.call.Method == router.MethodCallbackSwapResult {
			callbacks++
		}
	}
	assert.Equal(t, callbacks, 2)
	assert.Equal(t, env.attached, 2*r.Budget().PerRoute())
}

func TestFtOnTransfer_RejectsBeforeDispatch(t *testing.T) {
	r := newRouter(t, router.SettlementGated)

	mixed := `{"routes": [
		{"dex": "ref", "token_in": "x.near", "actions": [{"pool_id": 0, "token_in": "x.near", "token_out": "y.near", "min_amount_out": "1"}]},
		{"dex": "unknown-dex", "token_in": "x.near", "actions": [{"pool_id": 0, "token_in": "x.near", "token_out": "y.near", "min_amount_out": "1"}]}
	]}`

	cases := []struct {
		name        string
		predecessor runtime.AccountID
		msg         string
		code        string
	}{
		{"unknown dex", "x.near", routeMsg("unknown-dex"), router.CodeNotWhitelisted},
		{"one bad route of two", "x.near", mixed, router.CodeNotWhitelisted},
		{"malformed payload", "x.near", "{routes:", router.CodeIncorrectFormat},
		{"deposited other token", "w.near", routeMsg("ref"), router.CodeWrongInputToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newEnv(tc.predecessor)
			env.prepaid = 1000 * runtime.TGas
			err := r.Call(env, router.MethodFtOnTransfer, depositArgs(t, tc.msg))
			assertAbort(t, err, tc.code)
			assert.Equal(t, len(env.promises), 0)
			assert.Equal(t, len(env.logs), 0)
		})
	}
}

func TestFtOnTransfer_InsufficientGas(t *testing.T) {
	r := newRouter(t, router.SettlementGated)
	env := newEnv("x.near")
	env.prepaid = 100 * runtime.TGas

	err := r.Call(env, router.MethodFtOnTransfer, depositArgs(t, routeMsg("ref")))
	assert.Error(t, err)
}

func TestViews(t *testing.T) {
	r := newRouter(t, router.SettlementGated)

	env := newEnv("anyone.near")
	assert.NoError(t, r.Call(env, router.MethodGetWhitelist, nil))
	assert.Equal(t, string(env.value), `["jumbo","ref"]`)

	env = newEnv("anyone.near")
	assert.NoError(t, r.Call(env, router.MethodGetSettlementMode, nil))
	assert.Equal(t, string(env.value), `"gated"`)

	env = newEnv("anyone.near")
	assert.NoError(t, r.Call(env, router.MethodGetBudget, nil))
	var view router.BudgetView
	assert.NoError(t, json.Unmarshal(env.value, &view))
	assert.Equal(t, view.PerRoute, 230*runtime.TGas)

	err := r.Call(newEnv("anyone.near"), "steal", nil)
	assertAbort(t, err, runtime.CodeMethodNotFound)
}

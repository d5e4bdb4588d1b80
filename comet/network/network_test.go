package network_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/zeebo/assert"

	"github.com/Cogwheel-Validator/comet-router/comet/config"
	"github.com/Cogwheel-Validator/comet-router/comet/network"
	"github.com/Cogwheel-Validator/comet-router/comet/router"
	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
	"github.com/Cogwheel-Validator/comet-router/comet/sandbox"
)

const genesisTOML = `
router_account = "router.near"
users = ["alice.near", "bob.near"]

[[tokens]]
account = "x.near"
[tokens.balances]
"alice.near" = "1000"

[[tokens]]
account = "y.near"

[[exchanges]]
account = "ref"
[[exchanges.pools]]
tokens = ["x.near", "y.near"]
reserves = ["1900", "1900"]

[[exchanges]]
account = "spare"
[[exchanges.pools]]
tokens = ["x.near", "y.near"]
reserves = ["10", "10"]
`

func bootFile(t *testing.T) *network.Network {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genesis.toml")
	assert.NoError(t, os.WriteFile(path, []byte(genesisTOML), 0o600))
	g, err := config.LoadGenesis(path)
	assert.NoError(t, err)
	n, err := network.Boot(g)
	assert.NoError(t, err)
	return n
}

func TestBoot(t *testing.T) {
	n := bootFile(t)

	assert.DeepEqual(t, n.VM.Accounts(), []runtime.AccountID{"ref", "router.near", "spare", "x.near", "y.near"})
	for _, token := range n.Tokens {
		for _, holder := range []runtime.AccountID{"router.near", "alice.near", "bob.near", "ref", "spare"} {
			assert.True(t, token.IsRegistered(holder))
		}
	}
	assert.Equal(t, n.Tokens["x.near"].BalanceOf("ref").String(), "1900")
	assert.Equal(t, n.Tokens["y.near"].BalanceOf("spare").String(), "10")
	assert.Equal(t, n.Router.Budget().Mode(), router.SettlementGated)

	// spare is deployed but not trusted; jumbo is trusted but not deployed
	assert.DeepEqual(t, n.Dexes(), []runtime.AccountID{"ref"})
}

func TestBalance(t *testing.T) {
	n := bootFile(t)
	ctx := context.Background()

	b, err := n.Balance(ctx, "x.near", "alice.near")
	assert.NoError(t, err)
	assert.Equal(t, b.String(), "1000")

	_, err = n.Balance(ctx, "nope.near", "alice.near")
	assert.True(t, err != nil)
}

func TestDeposit_DefaultGas(t *testing.T) {
	n := bootFile(t)
	out, err := n.Deposit(context.Background(), network.DepositRequest{
		Sender: "alice.near",
		Token:  "x.near",
		Amount: runtime.NewU128(100),
		Msg:    `{"routes":[{"dex":"ref","token_in":"x.near","actions":[{"pool_id":0,"token_in":"x.near","amount_in":"100","token_out":"y.near","min_amount_out":"95"}]}]}`,
	})
	assert.NoError(t, err)
	assert.Equal(t, out.Status, sandbox.StatusSuccess)
	assert.Equal(t, out.Receipts[0].Gas, runtime.MaxPrepaidGas)

	b, err := n.Balance(context.Background(), "y.near", "alice.near")
	assert.NoError(t, err)
	assert.Equal(t, b.String(), "95")
}

func TestBoot_UnknownPoolToken(t *testing.T) {
	cfg := config.GenesisConfig{
		RouterAccount: "router.near",
		Tokens:        []config.TokenGenesis{{Account: "x.near"}},
		Exchanges: []config.ExchangeGenesis{{
			Account: "ref",
			Pools:   []config.PoolGenesis{{Tokens: []string{"x.near", "w.near"}, Reserves: []string{"1", "1"}}},
		}},
	}
	_, err := cfg.Convert()
	assert.Error(t, err)
}

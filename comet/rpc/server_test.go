package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zeebo/assert"

	"github.com/Cogwheel-Validator/comet-router/comet/config"
	"github.com/Cogwheel-Validator/comet-router/comet/journal"
	"github.com/Cogwheel-Validator/comet-router/comet/models"
	"github.com/Cogwheel-Validator/comet-router/comet/network"
	"github.com/Cogwheel-Validator/comet-router/comet/quote"
	"github.com/Cogwheel-Validator/comet-router/comet/router"
)

const testGenesis = `
router_account = "router.near"
users = ["alice.near"]

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
`

func testServer(t *testing.T) (*httptest.Server, *Service) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genesis.toml")
	assert.NoError(t, os.WriteFile(path, []byte(testGenesis), 0o600))
	g, err := config.LoadGenesis(path)
	assert.NoError(t, err)
	n, err := network.Boot(g)
	assert.NoError(t, err)

	est, err := quote.NewEstimator(quote.ViewPoolSource{Viewer: n.VM}, n.Dexes())
	assert.NoError(t, err)
	store := journal.NewMemoryStore()
	metrics := NewMetrics(n.RouterAccount)
	n.VM.AddObserver(metrics)
	n.VM.AddObserver(journal.NewRecorder(store, n.RouterAccount))

	svc := &Service{
		Network:            n,
		Estimator:          est,
		Journal:            store,
		Metrics:            metrics,
		DefaultSlippageBps: 50,
	}
	cfg := &ServerConfig{
		Address:        "127.0.0.1:0",
		AllowedOrigins: []string{"*"},
		EnableMetrics:  true,
		OTelConfig:     &OTelConfig{},
	}
	srv, err := NewServer(context.Background(), cfg, svc)
	assert.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, svc
}

func post(t *testing.T, url string, body any, out any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	assert.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	assert.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		assert.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func get(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	assert.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		assert.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts, _ := testServer(t)

	var body map[string]string
	assert.Equal(t, get(t, ts.URL+"/health", &body), http.StatusOK)
	assert.Equal(t, body["status"], "healthy")
	assert.Equal(t, get(t, ts.URL+"/ready", &body), http.StatusOK)
	assert.Equal(t, body["status"], "ready")
}

func TestQuoteThenDeposit(t *testing.T) {
	ts, _ := testServer(t)

	var q models.QuoteResponse
	status := post(t, ts.URL+"/v1/quote", map[string]any{
		"token_in":  "x.near",
		"token_out": "y.near",
		"amount_in": "100",
	}, &q)
	assert.Equal(t, status, http.StatusOK)
	assert.Equal(t, string(q.Dex), "ref")
	assert.Equal(t, q.AmountOut.String(), "95")
	assert.Equal(t, q.MinAmountOut.String(), "94")
	assert.Equal(t, q.SlippageBps, uint32(50))
	assert.True(t, q.GasTGas > 0 && q.GasTGas <= 300)

	var dep models.DepositResponse
	status = post(t, ts.URL+"/v1/deposit", map[string]any{
		"sender":   "alice.near",
		"token":    "x.near",
		"amount":   "100",
		"msg":      q.Msg,
		"gas_tgas": q.GasTGas,
	}, &dep)
	assert.Equal(t, status, http.StatusOK)
	assert.Equal(t, string(dep.Outcome.Status), "success")
	assert.Equal(t, len(dep.Settlements), 1)
	assert.Equal(t, dep.Settlements[0].Outcome, router.OutcomeSwapped)
	assert.Equal(t, dep.Settlements[0].Amount.String(), "95")
	assert.Equal(t, len(dep.Stranded), 0)

	var bal models.BalanceResponse
	assert.Equal(t, get(t, ts.URL+"/v1/balances/y.near/alice.near", &bal), http.StatusOK)
	assert.Equal(t, bal.Balance.String(), "95")

	var tx map[string]any
	assert.Equal(t, get(t, ts.URL+"/v1/tx/"+dep.Outcome.Hash, &tx), http.StatusOK)
	assert.Equal(t, tx["hash"], dep.Outcome.Hash)

	var settled models.SettlementsResponse
	assert.Equal(t, get(t, ts.URL+"/v1/settlements?destination=alice.near", &settled), http.StatusOK)
	assert.Equal(t, len(settled.Settlements), 1)
	assert.Equal(t, settled.Settlements[0].TxHash, dep.Outcome.Hash)
}

func TestQuote_Slippage(t *testing.T) {
	ts, _ := testServer(t)

	var q models.QuoteResponse
	status := post(t, ts.URL+"/v1/quote", map[string]any{
		"token_in":  "x.near",
		"token_out": "y.near",
		"amount_in": "100",
		"slippage":  "5",
	}, &q)
	assert.Equal(t, status, http.StatusOK)
	assert.Equal(t, q.SlippageBps, uint32(500))
	assert.Equal(t, q.MinAmountOut.String(), "90")
}

func TestQuote_NoRoute(t *testing.T) {
	ts, _ := testServer(t)

	var e models.ErrorResponse
	status := post(t, ts.URL+"/v1/quote", map[string]any{
		"token_in":  "x.near",
		"token_out": "z.near",
		"amount_in": "100",
	}, &e)
	assert.Equal(t, status, http.StatusNotFound)
}

func TestDeposit_Rejected(t *testing.T) {
	ts, _ := testServer(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"unknown field", `{"sender":"alice.near","token":"x.near","amount":"1","msg":"","extra":1}`, http.StatusBadRequest},
		{"negative amount", `{"sender":"alice.near","token":"x.near","amount":"-1","msg":""}`, http.StatusBadRequest},
		{"zero amount", `{"sender":"alice.near","token":"x.near","amount":"0","msg":""}`, http.StatusBadRequest},
		{"missing sender", `{"token":"x.near","amount":"1","msg":""}`, http.StatusBadRequest},
		{"unknown token", `{"sender":"alice.near","token":"q.near","amount":"1","msg":""}`, http.StatusNotFound},
		{"gas above limit", `{"sender":"alice.near","token":"x.near","amount":"1","msg":"","gas_tgas":301}`, http.StatusBadRequest},
		// 18446745 * 10^12 wraps to under one TGas
		{"gas wraps", `{"sender":"alice.near","token":"x.near","amount":"1","msg":"","gas_tgas":18446745}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/v1/deposit", "application/json", strings.NewReader(tt.body))
			assert.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, resp.StatusCode, tt.status)
		})
	}
}

func TestDeposit_BadInstructionRefunds(t *testing.T) {
	ts, _ := testServer(t)

	var dep models.DepositResponse
	status := post(t, ts.URL+"/v1/deposit", map[string]any{
		"sender": "alice.near",
		"token":  "x.near",
		"amount": "100",
		"msg":    `{"routes":[]}`,
	}, &dep)
	assert.Equal(t, status, http.StatusOK)
	assert.Equal(t, len(dep.Settlements), 0)
	failures := dep.Outcome.Failures()
	assert.Equal(t, len(failures), 1)
	assert.Equal(t, failures[0].AbortCode, router.CodeIncorrectFormat)

	var bal models.BalanceResponse
	assert.Equal(t, get(t, ts.URL+"/v1/balances/x.near/alice.near", &bal), http.StatusOK)
	assert.Equal(t, bal.Balance.String(), "1000")
}

func TestBalance_Errors(t *testing.T) {
	ts, _ := testServer(t)

	assert.Equal(t, get(t, ts.URL+"/v1/balances/X!/alice.near", nil), http.StatusBadRequest)
	assert.Equal(t, get(t, ts.URL+"/v1/balances/q.near/alice.near", nil), http.StatusNotFound)
	assert.Equal(t, get(t, ts.URL+"/v1/tx/nope", nil), http.StatusNotFound)
}

func TestViews(t *testing.T) {
	ts, svc := testServer(t)

	var wl models.WhitelistResponse
	assert.Equal(t, get(t, ts.URL+"/v1/whitelist", &wl), http.StatusOK)
	assert.DeepEqual(t, wl.Dexes, svc.Network.Router.Whitelist().Members())

	var budget map[string]any
	assert.Equal(t, get(t, ts.URL+"/v1/budget", &budget), http.StatusOK)
	assert.True(t, len(budget) > 0)

	assert.Equal(t, get(t, ts.URL+"/v1/settlements?limit=0", nil), http.StatusBadRequest)
}

func TestMetrics(t *testing.T) {
	ts, _ := testServer(t)

	post(t, ts.URL+"/v1/deposit", map[string]any{
		"sender": "alice.near",
		"token":  "x.near",
		"amount": "1",
		"msg":    "not json",
	}, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	assert.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	assert.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "comet_receipts_total"))
	assert.True(t, strings.Contains(string(raw), `comet_deposits_total{status="success",token="x.near"}`))
	assert.True(t, strings.Contains(string(raw), `comet_aborts_total{code="incorrect format",receiver="router.near"}`))
}

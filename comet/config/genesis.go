package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/Cogwheel-Validator/comet-router/comet/router"
	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

// GenesisConfig describes the accounts, tokens and exchanges a local
// network starts with. Amounts are decimal strings; budget entries are TGas.
type GenesisConfig struct {
	RouterAccount  string            `toml:"router_account" json:"router_account"`
	SettlementMode string            `toml:"settlement_mode" json:"settlement_mode"`
	Whitelist      []string          `toml:"whitelist" json:"whitelist"`
	Budget         map[string]uint64 `toml:"budget" json:"budget"`
	MaxGasTGas     uint64            `toml:"max_gas_tgas" json:"max_gas_tgas"`
	DefaultGasTGas uint64            `toml:"default_gas_tgas" json:"default_gas_tgas"`
	Workers        int               `toml:"workers" json:"workers"`
	Users          []string          `toml:"users" json:"users"`
	Tokens         []TokenGenesis    `toml:"tokens" json:"tokens"`
	Exchanges      []ExchangeGenesis `toml:"exchanges" json:"exchanges"`
}

type TokenGenesis struct {
	Account  string            `toml:"account" json:"account"`
	Name     string            `toml:"name" json:"name"`
	Symbol   string            `toml:"symbol" json:"symbol"`
	Decimals uint8             `toml:"decimals" json:"decimals"`
	Balances map[string]string `toml:"balances" json:"balances"`
}

type ExchangeGenesis struct {
	Account             string        `toml:"account" json:"account"`
	FailSwaps           bool          `toml:"fail_swaps" json:"fail_swaps"`
	MalformedSwapResult bool          `toml:"malformed_swap_result" json:"malformed_swap_result"`
	FailWithdrawals     bool          `toml:"fail_withdrawals" json:"fail_withdrawals"`
	Pools               []PoolGenesis `toml:"pools" json:"pools"`
}

type PoolGenesis struct {
	Tokens   []string `toml:"tokens" json:"tokens"`
	Reserves []string `toml:"reserves" json:"reserves"`
	FeeBps   uint32   `toml:"fee_bps" json:"fee_bps"`
}

// ValidationError points at the offending genesis field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// LoadGenesis reads a genesis file, TOML unless it ends in .json.
func LoadGenesis(filePath string) (*Genesis, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read genesis file: %w", err)
	}

	var cfg GenesisConfig
	if strings.HasSuffix(filePath, ".json") {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON genesis: %w", err)
		}
	} else {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML genesis: %w", err)
		}
	}
	return cfg.Convert()
}

// Genesis is a validated GenesisConfig.
type Genesis struct {
	RouterAccount runtime.AccountID
	Whitelist     *router.Whitelist
	Budget        *router.BudgetTable
	MaxGas        runtime.Gas
	DefaultGas    runtime.Gas
	Workers       int
	Users         []runtime.AccountID
	Tokens        []Token
	Exchanges     []Exchange
}

type Token struct {
	Account  runtime.AccountID
	Name     string
	Symbol   string
	Decimals uint8
	Balances map[runtime.AccountID]runtime.U128
}

type Exchange struct {
	Account             runtime.AccountID
	FailSwaps           bool
	MalformedSwapResult bool
	FailWithdrawals     bool
	Pools               []Pool
}

type Pool struct {
	Tokens   [2]runtime.AccountID
	Reserves [2]runtime.U128
	FeeBps   uint32
}

// Convert validates every field and returns the typed genesis. All
// problems are reported together.
func (c *GenesisConfig) Convert() (*Genesis, error) {
	var errs []error
	account := func(field, raw string) runtime.AccountID {
		id, err := runtime.ParseAccountID(raw)
		if err != nil {
			errs = append(errs, invalid(field, "%v", err))
		}
		return id
	}
	amount := func(field, raw string) runtime.U128 {
		u, err := runtime.ParseU128(raw)
		if err != nil {
			errs = append(errs, invalid(field, "%v", err))
		}
		return u
	}

	g := &Genesis{
		RouterAccount: account("router_account", c.RouterAccount),
		MaxGas:        runtime.Gas(c.MaxGasTGas) * runtime.TGas,
		DefaultGas:    runtime.Gas(c.DefaultGasTGas) * runtime.TGas,
		Workers:       c.Workers,
	}
	if g.MaxGas == 0 {
		g.MaxGas = runtime.MaxPrepaidGas
	}
	if g.DefaultGas == 0 {
		g.DefaultGas = g.MaxGas
	}
	if g.DefaultGas > g.MaxGas {
		errs = append(errs, invalid("default_gas_tgas", "must not exceed max_gas_tgas"))
	}
	if g.Workers == 0 {
		g.Workers = 4
	}
	if g.Workers < 0 {
		errs = append(errs, invalid("workers", "must not be negative"))
	}

	mode, modeErr := router.ParseSettlementMode(c.SettlementMode)
	if modeErr != nil {
		errs = append(errs, invalid("settlement_mode", "%v", modeErr))
	}
	overrides := make(map[router.Step]runtime.Gas, len(c.Budget))
	for key, tgas := range c.Budget {
		step, err := router.ParseStep(key)
		if err != nil {
			errs = append(errs, invalid("budget."+key, "%v", err))
			continue
		}
		overrides[step] = runtime.Gas(tgas) * runtime.TGas
	}
	var err error
	if modeErr == nil {
		if g.Budget, err = router.NewBudgetTable(mode, overrides); err != nil {
			errs = append(errs, invalid("budget", "%v", err))
		}
	}

	whitelist := c.Whitelist
	var members []runtime.AccountID
	if len(whitelist) == 0 {
		members = router.DefaultWhitelist()
	}
	for i, raw := range whitelist {
		members = append(members, account(fmt.Sprintf("whitelist[%d]", i), raw))
	}
	if g.Whitelist, err = router.NewWhitelist(members...); err != nil {
		errs = append(errs, invalid("whitelist", "%v", err))
	}

	for i, raw := range c.Users {
		g.Users = append(g.Users, account(fmt.Sprintf("users[%d]", i), raw))
	}

	tokens := make(map[runtime.AccountID]bool)
	for i, tc := range c.Tokens {
		field := fmt.Sprintf("tokens[%d]", i)
		t := Token{
			Account:  account(field+".account", tc.Account),
			Name:     tc.Name,
			Symbol:   tc.Symbol,
			Decimals: tc.Decimals,
			Balances: make(map[runtime.AccountID]runtime.U128, len(tc.Balances)),
		}
		if tokens[t.Account] {
			errs = append(errs, invalid(field+".account", "duplicate token %s", t.Account))
		}
		tokens[t.Account] = true
		for holder, raw := range tc.Balances {
			t.Balances[account(field+".balances", holder)] = amount(field+".balances."+holder, raw)
		}
		g.Tokens = append(g.Tokens, t)
	}

	for i, ec := range c.Exchanges {
		field := fmt.Sprintf("exchanges[%d]", i)
		x := Exchange{
			Account:             account(field+".account", ec.Account),
			FailSwaps:           ec.FailSwaps,
			MalformedSwapResult: ec.MalformedSwapResult,
			FailWithdrawals:     ec.FailWithdrawals,
		}
		for j, pc := range ec.Pools {
			pfield := fmt.Sprintf("%s.pools[%d]", field, j)
			if len(pc.Tokens) != 2 || len(pc.Reserves) != 2 {
				errs = append(errs, invalid(pfield, "a pool needs exactly two tokens and two reserves"))
				continue
			}
			p := Pool{FeeBps: pc.FeeBps}
			for k := 0; k < 2; k++ {
				p.Tokens[k] = account(pfield+".tokens", pc.Tokens[k])
				p.Reserves[k] = amount(pfield+".reserves", pc.Reserves[k])
				if !tokens[p.Tokens[k]] {
					errs = append(errs, invalid(pfield+".tokens", "unknown token %s", p.Tokens[k]))
				}
			}
			x.Pools = append(x.Pools, p)
		}
		g.Exchanges = append(g.Exchanges, x)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid genesis: %w", errors.Join(errs...))
	}
	return g, nil
}

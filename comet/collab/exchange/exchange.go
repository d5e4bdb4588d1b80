// Package exchange is a constant-product exchange contract with per-account
// internal deposits: tokens arrive through ft_on_transfer, swaps move
// deposits between tokens, and withdraw sends them back out.
package exchange

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Cogwheel-Validator/comet-router/comet/quote"
	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

const (
	MethodOnTransfer   = "ft_on_transfer"
	MethodSwap         = "swap"
	MethodWithdraw     = "withdraw"
	MethodPostWithdraw = "exchange_callback_post_withdraw"
	MethodGetPools     = "get_pools"
	MethodGetPool      = "get_pool"
	MethodGetDeposits  = "get_deposits"
	MethodGetDeposit   = "get_deposit"
	MethodGetReturn    = "get_return"

	CodeUnsupportedMsg      = "instant swaps are not supported"
	CodeSwapsDisabled       = "swaps are disabled"
	CodeSlippage            = "slippage error"
	CodeNoAmountIn          = "first action needs amount_in"
	CodeUnknownPool         = "pool not found"
	CodeNotEnoughDeposit    = "not enough tokens in deposit"
	CodeZeroAmount          = "illegal withdraw amount"
	CodeUnregisterForbidden = "cannot unregister"
)

const (
	// TransferGas is attached to the ft_transfer issued by withdraw.
	TransferGas = 20 * runtime.TGas
	// PostWithdrawGas is attached to exchange_callback_post_withdraw.
	PostWithdrawGas = 20 * runtime.TGas
)

// Mode switches on faulty behaviour for exercising callers.
type Mode struct {
	// FailSwaps makes every swap abort.
	FailSwaps bool `json:"fail_swaps" toml:"fail_swaps"`
	// MalformedSwapResult makes successful swaps return an undecodable value.
	MalformedSwapResult bool `json:"malformed_swap_result" toml:"malformed_swap_result"`
	// FailWithdrawals makes every withdraw abort.
	FailWithdrawals bool `json:"fail_withdrawals" toml:"fail_withdrawals"`
}

type pool struct {
	tokens   [2]runtime.AccountID
	reserves [2]runtime.U128
	feeBps   uint32
}

func (p *pool) info(id uint64) quote.PoolInfo {
	return quote.PoolInfo{
		ID:              id,
		PoolKind:        quote.SimplePool,
		TokenAccountIDs: []runtime.AccountID{p.tokens[0], p.tokens[1]},
		Amounts:         []runtime.U128{p.reserves[0], p.reserves[1]},
		TotalFee:        p.feeBps,
	}
}

// Exchange holds pools and the deposits of every account that traded.
type Exchange struct {
	mu       sync.RWMutex
	pools    []*pool
	deposits map[runtime.AccountID]map[runtime.AccountID]runtime.U128
	mode     Mode
}

func New() *Exchange {
	return &Exchange{
		deposits: make(map[runtime.AccountID]map[runtime.AccountID]runtime.U128),
	}
}

// AddPool creates a two-token pool and returns its id.
func (x *Exchange) AddPool(tokenA, tokenB runtime.AccountID, reserveA, reserveB runtime.U128, feeBps uint32) (uint64, error) {
	if tokenA == tokenB {
		return 0, fmt.Errorf("pool tokens must differ")
	}
	if feeBps >= quote.FeeDivisor {
		return 0, fmt.Errorf("fee %d bps must be below %d", feeBps, quote.FeeDivisor)
	}
	if reserveA.IsZero() || reserveB.IsZero() {
		return 0, quote.ErrEmptyReserves
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.pools = append(x.pools, &pool{
		tokens:   [2]runtime.AccountID{tokenA, tokenB},
		reserves: [2]runtime.U128{reserveA, reserveB},
		feeBps:   feeBps,
	})
	return uint64(len(x.pools) - 1), nil
}

func (x *Exchange) SetMode(m Mode) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.mode = m
}

func (x *Exchange) Mode() Mode {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.mode
}

// Pools returns a snapshot of every pool.
func (x *Exchange) Pools() []quote.PoolInfo {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]quote.PoolInfo, 0, len(x.pools))
	for i, p := range x.pools {
		out = append(out, p.info(uint64(i)))
	}
	return out
}

// Deposit returns account's internal balance of token.
func (x *Exchange) Deposit(account, token runtime.AccountID) runtime.U128 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.deposits[account][token]
}

// Deposits returns a copy of account's internal balances.
func (x *Exchange) Deposits(account runtime.AccountID) map[runtime.AccountID]runtime.U128 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[runtime.AccountID]runtime.U128, len(x.deposits[account]))
	for token, amount := range x.deposits[account] {
		out[token] = amount
	}
	return out
}

// Tokens lists every token traded by some pool.
func (x *Exchange) Tokens() []runtime.AccountID {
	x.mu.RLock()
	defer x.mu.RUnlock()
	seen := make(map[runtime.AccountID]struct{})
	for _, p := range x.pools {
		seen[p.tokens[0]] = struct{}{}
		seen[p.tokens[1]] = struct{}{}
	}
	out := make([]runtime.AccountID, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (x *Exchange) credit(account, token runtime.AccountID, amount runtime.U128) error {
	balances, ok := x.deposits[account]
	if !ok {
		balances = make(map[runtime.AccountID]runtime.U128)
		x.deposits[account] = balances
	}
	next, err := balances[token].Add(amount)
	if err != nil {
		return err
	}
	balances[token] = next
	return nil
}

func (x *Exchange) debit(account, token runtime.AccountID, amount runtime.U128) error {
	if _, ok := x.deposits[account]; !ok {
		return runtime.Abortf(CodeNotEnoughDeposit, fmt.Errorf("%s has no deposits", account))
	}
	next, err := x.deposits[account][token].Sub(amount)
	if err != nil {
		return runtime.Abortf(CodeNotEnoughDeposit, fmt.Errorf("%s has %s of %s", account, x.deposits[account][token], token))
	}
	x.deposits[account][token] = next
	return nil
}

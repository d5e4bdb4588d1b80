// Package fungible is a fungible token ledger contract exposing the transfer,
// transfer-and-notify and balance methods the router and exchanges rely on.
package fungible

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

const (
	MethodTransfer        = "ft_transfer"
	MethodTransferCall    = "ft_transfer_call"
	MethodResolveTransfer = "ft_resolve_transfer"
	MethodOnTransfer      = "ft_on_transfer"
	MethodBalanceOf       = "ft_balance_of"
	MethodTotalSupply     = "ft_total_supply"
	MethodMetadata        = "ft_metadata"
	MethodStorageDeposit  = "storage_deposit"
	MethodMint            = "mint"

	CodeNotRegistered       = "account is not registered"
	CodeInsufficientBalance = "the account doesn't have enough balance"
	CodeZeroAmount          = "the amount should be a positive number"
	CodeSelfTransfer        = "sender and receiver should be different"
	CodeMoreGasRequired     = "more gas is required"
	CodeOwnerOnly           = "only the owner may mint"
)

// ResolveGas is reserved by ft_transfer_call for its own ft_resolve_transfer.
const ResolveGas = 10 * runtime.TGas

var ErrNotRegistered = errors.New(CodeNotRegistered)

// Metadata describes the token.
type Metadata struct {
	Name     string `json:"name" toml:"name"`
	Symbol   string `json:"symbol" toml:"symbol"`
	Decimals uint8  `json:"decimals" toml:"decimals"`
}

// Token is a ledger of balances for one fungible token.
type Token struct {
	owner    runtime.AccountID
	metadata Metadata

	mu          sync.RWMutex
	balances    map[runtime.AccountID]runtime.U128
	totalSupply runtime.U128
}

func New(owner runtime.AccountID, metadata Metadata) *Token {
	return &Token{
		owner:    owner,
		metadata: metadata,
		balances: make(map[runtime.AccountID]runtime.U128),
	}
}

// Register opens a zero balance for account.
func (t *Token) Register(account runtime.AccountID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.balances[account]; !ok {
		t.balances[account] = runtime.ZeroU128
	}
}

// Mint credits amount to account, registering it if needed.
func (t *Token) Mint(account runtime.AccountID, amount runtime.U128) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mint(account, amount)
}

func (t *Token) mint(account runtime.AccountID, amount runtime.U128) error {
	supply, err := t.totalSupply.Add(amount)
	if err != nil {
		return fmt.Errorf("total supply: %w", err)
	}
	balance, err := t.balances[account].Add(amount)
	if err != nil {
		return fmt.Errorf("balance of %s: %w", account, err)
	}
	t.totalSupply = supply
	t.balances[account] = balance
	return nil
}

// BalanceOf returns the balance of account, zero when unregistered.
func (t *Token) BalanceOf(account runtime.AccountID) runtime.U128 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balances[account]
}

func (t *Token) IsRegistered(account runtime.AccountID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.balances[account]
	return ok
}

func (t *Token) TotalSupply() runtime.U128 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalSupply
}

func (t *Token) Metadata() Metadata {
	return t.metadata
}

// Holders lists registered accounts in lexical order.
func (t *Token) Holders() []runtime.AccountID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]runtime.AccountID, 0, len(t.balances))
	for id := range t.balances {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// transfer moves amount after checking every precondition, so a failed
// transfer leaves balances untouched.
func (t *Token) transfer(sender, receiver runtime.AccountID, amount runtime.U128) error {
	if sender == receiver {
		return runtime.NewAbort(CodeSelfTransfer)
	}
	if amount.IsZero() {
		return runtime.NewAbort(CodeZeroAmount)
	}
	from, ok := t.balances[sender]
	if !ok {
		return runtime.Abortf(CodeNotRegistered, fmt.Errorf("%s", sender))
	}
	to, ok := t.balances[receiver]
	if !ok {
		return runtime.Abortf(CodeNotRegistered, fmt.Errorf("%s", receiver))
	}
	newFrom, err := from.Sub(amount)
	if err != nil {
		return runtime.NewAbort(CodeInsufficientBalance)
	}
	newTo, err := to.Add(amount)
	if err != nil {
		return runtime.Abortf(CodeInsufficientBalance, err)
	}
	t.balances[sender] = newFrom
	t.balances[receiver] = newTo
	return nil
}

type transferLog struct {
	OldOwnerID runtime.AccountID `json:"old_owner_id"`
	NewOwnerID runtime.AccountID `json:"new_owner_id"`
	Amount     runtime.U128      `json:"amount"`
	Memo       *string           `json:"memo,omitempty"`
}

func logTransfer(env runtime.Env, entry transferLog) {
	raw, err := json.Marshal(map[string]any{
		"standard": "nep141",
		"version":  "1.0.0",
		"event":    "ft_transfer",
		"data":     []transferLog{entry},
	})
	if err != nil {
		return
	}
	env.Log("EVENT_JSON:" + string(raw))
}

package quote

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

// SimplePool is the only pool kind the estimator prices.
const SimplePool = "SIMPLE_POOL"

// PoolInfo is the get_pools view of an exchange pool.
type PoolInfo struct {
	ID              uint64              `json:"id"`
	PoolKind        string              `json:"pool_kind"`
	TokenAccountIDs []runtime.AccountID `json:"token_account_ids"`
	Amounts         []runtime.U128      `json:"amounts"`
	TotalFee        uint32              `json:"total_fee"`
}

// indexOf returns the position of token in the pool, or -1.
func (p PoolInfo) indexOf(token runtime.AccountID) int {
	for i, t := range p.TokenAccountIDs {
		if t == token {
			return i
		}
	}
	return -1
}

// AmountOut prices a swap of amountIn through the pool.
func (p PoolInfo) AmountOut(tokenIn, tokenOut runtime.AccountID, amountIn runtime.U128) (runtime.U128, error) {
	in, out := p.indexOf(tokenIn), p.indexOf(tokenOut)
	if in < 0 || out < 0 || in == out {
		return runtime.U128{}, fmt.Errorf("pool %d does not trade %s for %s", p.ID, tokenIn, tokenOut)
	}
	if len(p.Amounts) != len(p.TokenAccountIDs) {
		return runtime.U128{}, fmt.Errorf("pool %d has %d amounts for %d tokens", p.ID, len(p.Amounts), len(p.TokenAccountIDs))
	}
	return GetAmountOut(amountIn, p.Amounts[in], p.Amounts[out], p.TotalFee)
}

// Viewer runs read-only contract calls. Both the sandbox and the node
// client implement it.
type Viewer interface {
	View(ctx context.Context, account runtime.AccountID, method string, args []byte) ([]byte, error)
}

// PoolSource lists the pools of an exchange.
type PoolSource interface {
	Pools(ctx context.Context, dex runtime.AccountID) ([]PoolInfo, error)
}

// ViewPoolSource reads pools through an exchange's get_pools view.
type ViewPoolSource struct {
	Viewer Viewer
}

func (s ViewPoolSource) Pools(ctx context.Context, dex runtime.AccountID) ([]PoolInfo, error) {
	raw, err := s.Viewer.View(ctx, dex, "get_pools", []byte(`{}`))
	if err != nil {
		return nil, fmt.Errorf("failed to list pools of %s: %w", dex, err)
	}
	var pools []PoolInfo
	if err := json.Unmarshal(raw, &pools); err != nil {
		return nil, fmt.Errorf("failed to decode pools of %s: %w", dex, err)
	}
	return pools, nil
}

// Package quote prices routes over exchange pools and turns the best one
// into a deposit message for the router.
package quote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "quote").Logger()
}

var ErrNoRoute = errors.New("no route between tokens")

// Hop is one pool swap within a quote.
type Hop struct {
	PoolID    uint64            `json:"pool_id"`
	TokenIn   runtime.AccountID `json:"token_in"`
	TokenOut  runtime.AccountID `json:"token_out"`
	AmountIn  runtime.U128      `json:"amount_in"`
	AmountOut runtime.U128      `json:"amount_out"`
}

// Quote is the best path found on one exchange.
type Quote struct {
	Dex       runtime.AccountID `json:"dex"`
	TokenIn   runtime.AccountID `json:"token_in"`
	TokenOut  runtime.AccountID `json:"token_out"`
	AmountIn  runtime.U128      `json:"amount_in"`
	AmountOut runtime.U128      `json:"amount_out"`
	Hops      []Hop             `json:"hops"`
}

// Estimator searches direct and two-hop paths on each exchange it knows.
type Estimator struct {
	source PoolSource
	dexes  []runtime.AccountID
}

func NewEstimator(source PoolSource, dexes []runtime.AccountID) (*Estimator, error) {
	if source == nil {
		return nil, fmt.Errorf("estimator needs a pool source")
	}
	if len(dexes) == 0 {
		return nil, fmt.Errorf("estimator needs at least one exchange")
	}
	return &Estimator{source: source, dexes: dexes}, nil
}

// Best returns the highest-output quote across all exchanges.
func (e *Estimator) Best(ctx context.Context, tokenIn, tokenOut runtime.AccountID, amountIn runtime.U128) (*Quote, error) {
	if tokenIn == tokenOut {
		return nil, fmt.Errorf("token_in and token_out are both %s", tokenIn)
	}
	if amountIn.IsZero() {
		return nil, fmt.Errorf("amount_in must be greater than zero")
	}

	quotes := make([]*Quote, len(e.dexes))
	g, gctx := errgroup.WithContext(ctx)
	for i, dex := range e.dexes {
		g.Go(func() error {
			pools, err := e.source.Pools(gctx, dex)
			if err != nil {
				return err
			}
			quotes[i] = bestOnDex(dex, pools, tokenIn, tokenOut, amountIn)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var best *Quote
	for _, q := range quotes {
		if q == nil {
			continue
		}
		if best == nil || q.AmountOut.Cmp(best.AmountOut) > 0 {
			best = q
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%s -> %s: %w", tokenIn, tokenOut, ErrNoRoute)
	}
	log.Debug().
		Str("dex", best.Dex.String()).
		Int("hops", len(best.Hops)).
		Str("amount_out", best.AmountOut.String()).
		Msg("Best quote selected")
	return best, nil
}

func bestOnDex(dex runtime.AccountID, pools []PoolInfo, tokenIn, tokenOut runtime.AccountID, amountIn runtime.U128) *Quote {
	var best *Quote
	consider := func(hops []Hop) {
		out := hops[len(hops)-1].AmountOut
		if out.IsZero() {
			return
		}
		if best == nil || out.Cmp(best.AmountOut) > 0 {
			best = &Quote{
				Dex:       dex,
				TokenIn:   tokenIn,
				TokenOut:  tokenOut,
				AmountIn:  amountIn,
				AmountOut: out,
				Hops:      hops,
			}
		}
	}

	for _, first := range pools {
		if first.PoolKind != SimplePool || first.indexOf(tokenIn) < 0 {
			continue
		}
		if first.indexOf(tokenOut) >= 0 {
			if hop, ok := price(first, tokenIn, tokenOut, amountIn); ok {
				consider([]Hop{hop})
			}
		}
		for _, mid := range first.TokenAccountIDs {
			if mid == tokenIn || mid == tokenOut {
				continue
			}
			hop1, ok := price(first, tokenIn, mid, amountIn)
			if !ok {
				continue
			}
			for _, second := range pools {
				if second.ID == first.ID || second.PoolKind != SimplePool {
					continue
				}
				if second.indexOf(mid) < 0 || second.indexOf(tokenOut) < 0 {
					continue
				}
				if hop2, ok := price(second, mid, tokenOut, hop1.AmountOut); ok {
					consider([]Hop{hop1, hop2})
				}
			}
		}
	}
	return best
}

func price(pool PoolInfo, tokenIn, tokenOut runtime.AccountID, amountIn runtime.U128) (Hop, bool) {
	out, err := pool.AmountOut(tokenIn, tokenOut, amountIn)
	if err != nil {
		return Hop{}, false
	}
	return Hop{
		PoolID:    pool.ID,
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  amountIn,
		AmountOut: out,
	}, true
}

package quote

import (
	"fmt"

	"github.com/Cogwheel-Validator/comet-router/comet/router"
	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

// Instruction is a quote turned into a ready deposit message.
type Instruction struct {
	Quote        *Quote                     `json:"quote"`
	MinAmountOut runtime.U128               `json:"min_amount_out"`
	Instruction  *router.RoutingInstruction `json:"instruction"`
	Msg          string                     `json:"msg"`
}

// BuildInstruction routes a single deposit along q. Only the last action
// carries the slippage floor; intermediate hops accept any amount since the
// floor on the final output already bounds them.
func BuildInstruction(q *Quote, slippageBps uint32, referral *runtime.AccountID) (*Instruction, error) {
	if q == nil || len(q.Hops) == 0 {
		return nil, fmt.Errorf("quote has no hops")
	}
	minOut, err := CalculateMinOutput(q.AmountOut, slippageBps)
	if err != nil {
		return nil, err
	}

	actions := make([]router.SwapAction, 0, len(q.Hops))
	for i, hop := range q.Hops {
		action := router.SwapAction{
			PoolID:       hop.PoolID,
			TokenIn:      hop.TokenIn,
			TokenOut:     hop.TokenOut,
			MinAmountOut: runtime.ZeroU128,
		}
		if i == 0 {
			amount := q.AmountIn
			action.AmountIn = &amount
		}
		if i == len(q.Hops)-1 {
			action.MinAmountOut = minOut
		}
		actions = append(actions, action)
	}

	ri := &router.RoutingInstruction{
		ReferralID: referral,
		Routes: []router.DexRoute{{
			Dex:     q.Dex,
			TokenIn: q.TokenIn,
			Actions: actions,
		}},
	}
	msg, err := ri.Encode()
	if err != nil {
		return nil, err
	}
	return &Instruction{
		Quote:        q,
		MinAmountOut: minOut,
		Instruction:  ri,
		Msg:          msg,
	}, nil
}

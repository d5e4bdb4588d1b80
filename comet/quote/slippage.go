package quote

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

var hundred = decimal.NewFromInt(100)

// CalculateMinOutput applies a slippage tolerance in basis points, rounding
// down: minOutput = expected * (10000 - slippageBps) / 10000.
func CalculateMinOutput(expected runtime.U128, slippageBps uint32) (runtime.U128, error) {
	if slippageBps > FeeDivisor {
		return runtime.U128{}, fmt.Errorf("slippage %d bps is above 100%%", slippageBps)
	}
	exp, err := decimal.NewFromString(expected.String())
	if err != nil {
		return runtime.U128{}, fmt.Errorf("failed to parse expected output: %w", err)
	}
	minOut := exp.Mul(decimal.NewFromInt(int64(FeeDivisor - slippageBps))).Div(decimal.NewFromInt(FeeDivisor))
	return fromDecimal(minOut)
}

// PercentLess takes percent (e.g. "0.5" for half a percent) off amount,
// rounding down.
func PercentLess(percent string, amount runtime.U128) (runtime.U128, error) {
	p, err := decimal.NewFromString(percent)
	if err != nil {
		return runtime.U128{}, fmt.Errorf("invalid percentage %q: %w", percent, err)
	}
	if p.IsNegative() || p.GreaterThan(hundred) {
		return runtime.U128{}, fmt.Errorf("percentage %s must be between 0 and 100", p)
	}
	amt, err := decimal.NewFromString(amount.String())
	if err != nil {
		return runtime.U128{}, fmt.Errorf("failed to parse amount: %w", err)
	}
	less := amt.Mul(hundred.Sub(p)).Div(hundred)
	return fromDecimal(less)
}

// PercentToBps converts a percentage string into basis points.
func PercentToBps(percent string) (uint32, error) {
	p, err := decimal.NewFromString(percent)
	if err != nil {
		return 0, fmt.Errorf("invalid percentage %q: %w", percent, err)
	}
	if p.IsNegative() || p.GreaterThan(hundred) {
		return 0, fmt.Errorf("percentage %s must be between 0 and 100", p)
	}
	return uint32(p.Mul(hundred).Floor().IntPart()), nil
}

func fromDecimal(d decimal.Decimal) (runtime.U128, error) {
	return runtime.ParseU128(d.Floor().StringFixed(0))
}

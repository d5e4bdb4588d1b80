package quote

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

// FeeDivisor is the basis point denominator for pool fees.
const FeeDivisor = 10_000

var ErrEmptyReserves = errors.New("pool has no liquidity")

// GetAmountOut is the constant-product output for amountIn after the pool
// fee: out = in*(D-fee)*rOut / (rIn*D + in*(D-fee)).
func GetAmountOut(amountIn, reserveIn, reserveOut runtime.U128, feeBps uint32) (runtime.U128, error) {
	if feeBps >= FeeDivisor {
		return runtime.U128{}, fmt.Errorf("fee %d bps must be below %d", feeBps, FeeDivisor)
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return runtime.U128{}, ErrEmptyReserves
	}
	if amountIn.IsZero() {
		return runtime.ZeroU128, nil
	}

	inWithFee := new(uint256.Int).Mul(amountIn.Uint256(), uint256.NewInt(uint64(FeeDivisor-feeBps)))
	denominator := new(uint256.Int).Mul(reserveIn.Uint256(), uint256.NewInt(FeeDivisor))
	denominator.Add(denominator, inWithFee)

	out, overflow := new(uint256.Int).MulDivOverflow(inWithFee, reserveOut.Uint256(), denominator)
	if overflow {
		return runtime.U128{}, runtime.ErrAmountOverflow
	}
	return runtime.U128FromUint256(out)
}

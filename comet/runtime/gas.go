package runtime

import (
	"fmt"
	"math"
)

// Gas is a compute allowance in gas units.
type Gas uint64

const (
	// TGas is 10^12 gas units.
	TGas Gas = 1_000_000_000_000

	// MaxPrepaidGas is the most gas a single function call may carry.
	MaxPrepaidGas = 300 * TGas

	// ExecutionBaseGas is burnt by every receipt before the contract runs.
	ExecutionBaseGas = 2 * TGas
)

// TeraGas returns g in TGas units.
func (g Gas) TeraGas() float64 {
	return float64(g) / float64(TGas)
}

func (g Gas) String() string {
	if g%TGas == 0 {
		return fmt.Sprintf("%d TGas", uint64(g/TGas))
	}
	return fmt.Sprintf("%.3f TGas", g.TeraGas())
}

// AddGas returns a+b and false on overflow.
func AddGas(a, b Gas) (Gas, bool) {
	if a > math.MaxUint64-b {
		return 0, false
	}
	return a + b, true
}

package router

import (
	"fmt"

	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

// Step names one call of a swap chain that needs its own gas allowance.
type Step string

const (
	StepTransferCall     Step = "ft_transfer_call"
	StepSwap             Step = "swap"
	StepWithdraw         Step = "withdraw"
	StepTransfer         Step = "ft_transfer"
	StepCallbackOverhead Step = "callback_overhead"
	StepWithdrawGate     Step = "withdraw_gate"
)

var allSteps = []Step{
	StepTransferCall,
	StepSwap,
	StepWithdraw,
	StepTransfer,
	StepCallbackOverhead,
	StepWithdrawGate,
}

// minCallbackOverhead covers the base cost of a callback plus decoding and
// promise creation.
const minCallbackOverhead = 5 * runtime.TGas

// DefaultSteps returns the stock allowances.
func DefaultSteps() map[Step]runtime.Gas {
	return map[Step]runtime.Gas{
		StepTransferCall:     60 * runtime.TGas,
		StepSwap:             20 * runtime.TGas,
		StepWithdraw:         80 * runtime.TGas,
		StepTransfer:         30 * runtime.TGas,
		StepCallbackOverhead: 25 * runtime.TGas,
		StepWithdrawGate:     15 * runtime.TGas,
	}
}

// ParseStep maps a config key to a Step.
func ParseStep(s string) (Step, error) {
	for _, step := range allSteps {
		if string(step) == s {
			return step, nil
		}
	}
	return "", fmt.Errorf("unknown budget step %q", s)
}

// BudgetTable is the immutable gas policy for one settlement mode. Callback
// allowances are derived from the steps they schedule, so a table that
// constructs successfully always leaves every downstream call its share.
type BudgetTable struct {
	mode  SettlementMode
	steps map[Step]runtime.Gas

	swapCallback     runtime.Gas
	withdrawCallback runtime.Gas
	perRoute         runtime.Gas
}

// NewBudgetTable applies overrides on top of DefaultSteps and validates the
// result against runtime.MaxPrepaidGas.
func NewBudgetTable(mode SettlementMode, overrides map[Step]runtime.Gas) (*BudgetTable, error) {
	if err := mode.Validate(); err != nil {
		return nil, err
	}

	steps := DefaultSteps()
	for step, gas := range overrides {
		if _, ok := steps[step]; !ok {
			return nil, fmt.Errorf("unknown budget step %q", step)
		}
		steps[step] = gas
	}

	for _, step := range allSteps {
		if steps[step] == 0 {
			return nil, fmt.Errorf("budget step %s must be greater than zero", step)
		}
	}
	if steps[StepCallbackOverhead] < minCallbackOverhead {
		return nil, fmt.Errorf("callback overhead %s is below the minimum %s", steps[StepCallbackOverhead], minCallbackOverhead)
	}
	if steps[StepWithdrawGate] < runtime.ExecutionBaseGas {
		return nil, fmt.Errorf("withdraw gate %s is below the execution base cost %s", steps[StepWithdrawGate], runtime.ExecutionBaseGas)
	}
	// the exchange forwards its own ft_transfer out of the withdraw allowance
	if steps[StepWithdraw] <= steps[StepTransfer] {
		return nil, fmt.Errorf("withdraw %s must exceed ft_transfer %s", steps[StepWithdraw], steps[StepTransfer])
	}
	// the token forwards a notification out of the ft_transfer_call allowance
	if steps[StepTransferCall] <= steps[StepTransfer] {
		return nil, fmt.Errorf("ft_transfer_call %s must exceed ft_transfer %s", steps[StepTransferCall], steps[StepTransfer])
	}

	b := &BudgetTable{mode: mode, steps: steps}
	var err error
	if b.withdrawCallback, err = sumGas(steps[StepTransfer], steps[StepWithdrawGate]); err != nil {
		return nil, err
	}

	tail := steps[StepTransfer]
	if mode == SettlementGated {
		tail = b.withdrawCallback
	}
	if b.swapCallback, err = sumGas(steps[StepWithdraw], tail, steps[StepCallbackOverhead]); err != nil {
		return nil, err
	}
	if b.perRoute, err = sumGas(steps[StepTransferCall], steps[StepSwap], b.swapCallback); err != nil {
		return nil, err
	}

	if b.swapCallback > runtime.MaxPrepaidGas {
		return nil, fmt.Errorf("swap callback allowance %s exceeds the per call maximum %s", b.swapCallback, runtime.MaxPrepaidGas)
	}
	if b.perRoute > runtime.MaxPrepaidGas {
		return nil, fmt.Errorf("a single route needs %s which exceeds the per call maximum %s", b.perRoute, runtime.MaxPrepaidGas)
	}
	return b, nil
}

// MustBudgetTable panics on an invalid table.
func MustBudgetTable(mode SettlementMode, overrides map[Step]runtime.Gas) *BudgetTable {
	b, err := NewBudgetTable(mode, overrides)
	if err != nil {
		panic(err)
	}
	return b
}

func sumGas(parts ...runtime.Gas) (runtime.Gas, error) {
	var total runtime.Gas
	for _, p := range parts {
		var ok bool
		if total, ok = runtime.AddGas(total, p); !ok {
			return 0, fmt.Errorf("gas allowance overflows")
		}
	}
	return total, nil
}

func (b *BudgetTable) Mode() SettlementMode {
	return b.mode
}

// Step returns the allowance attached to a single call.
func (b *BudgetTable) Step(s Step) runtime.Gas {
	return b.steps[s]
}

// SwapCallback is the gas attached to callback_swap_result: the withdraw,
// the settlement transfer (or the gate that issues it) and the callback's
// own execution.
func (b *BudgetTable) SwapCallback() runtime.Gas {
	return b.swapCallback
}

// WithdrawCallback is the gas attached to callback_withdraw_result.
func (b *BudgetTable) WithdrawCallback() runtime.Gas {
	return b.withdrawCallback
}

// PerRoute is what ft_on_transfer attaches for one route.
func (b *BudgetTable) PerRoute() runtime.Gas {
	return b.perRoute
}

// ForRoutes is what ft_on_transfer attaches for n routes.
func (b *BudgetTable) ForRoutes(n int) (runtime.Gas, error) {
	if n < 0 {
		return 0, fmt.Errorf("route count must not be negative")
	}
	var total runtime.Gas
	for i := 0; i < n; i++ {
		var ok bool
		if total, ok = runtime.AddGas(total, b.perRoute); !ok {
			return 0, fmt.Errorf("gas for %d routes overflows", n)
		}
	}
	return total, nil
}

// MaxRoutes is how many routes fit in available gas once the entry point's
// own execution is paid for.
func (b *BudgetTable) MaxRoutes(available runtime.Gas) int {
	if available <= runtime.ExecutionBaseGas {
		return 0
	}
	return int((available - runtime.ExecutionBaseGas) / b.perRoute)
}

// BudgetView is the JSON shape returned by get_budget.
type BudgetView struct {
	Mode             SettlementMode         `json:"mode"`
	Steps            map[string]runtime.Gas `json:"steps"`
	SwapCallback     runtime.Gas            `json:"swap_callback"`
	WithdrawCallback runtime.Gas            `json:"withdraw_callback,omitempty"`
	PerRoute         runtime.Gas            `json:"per_route"`
}

func (b *BudgetTable) View() BudgetView {
	steps := make(map[string]runtime.Gas, len(b.steps))
	for step, gas := range b.steps {
		steps[string(step)] = gas
	}

	view := BudgetView{
		Mode:         b.mode,
		Steps:        steps,
		SwapCallback: b.swapCallback,
		PerRoute:     b.perRoute,
	}
	if b.mode == SettlementGated {
		view.WithdrawCallback = b.withdrawCallback
	}
	return view
}

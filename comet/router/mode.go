package router

import "fmt"

// SettlementMode selects how the withdraw-then-transfer tail is chained.
type SettlementMode string

const (
	// SettlementGated only transfers to the sender after the withdraw
	// reported the full settlement amount.
	SettlementGated SettlementMode = "gated"
	// SettlementUnconditional chains the transfer directly after the
	// withdraw whatever its outcome.
	SettlementUnconditional SettlementMode = "unconditional"
)

func ParseSettlementMode(s string) (SettlementMode, error) {
	if s == "" {
		return SettlementGated, nil
	}
	mode := SettlementMode(s)
	if err := mode.Validate(); err != nil {
		return "", err
	}
	return mode, nil
}

func (m SettlementMode) Validate() error {
	switch m {
	case SettlementGated, SettlementUnconditional:
		return nil
	default:
		return fmt.Errorf("unknown settlement mode %q", string(m))
	}
}

// Package runtime defines the execution-environment boundary shared by the
// router contract, its collaborators and the sandbox that hosts them.
package runtime

import (
	"encoding/json"
	"fmt"
)

const (
	minAccountIDLen = 2
	maxAccountIDLen = 64
)

// AccountID identifies an account (user, token contract, exchange, or router).
type AccountID string

// ParseAccountID validates s and returns it as an AccountID.
func ParseAccountID(s string) (AccountID, error) {
	id := AccountID(s)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// MustAccountID is ParseAccountID for constants and tests.
func MustAccountID(s string) AccountID {
	id, err := ParseAccountID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (a AccountID) String() string {
	return string(a)
}

// Validate checks the account id grammar: 2 to 64 characters of [a-z0-9]
// separated by single '-', '_' or '.' characters.
func (a AccountID) Validate() error {
	if len(a) < minAccountIDLen || len(a) > maxAccountIDLen {
		return fmt.Errorf("account id %q must be between %d and %d characters", string(a), minAccountIDLen, maxAccountIDLen)
	}

	lastWasSeparator := true
	for i := 0; i < len(a); i++ {
		c := a[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			lastWasSeparator = false
		case c == '-' || c == '_' || c == '.':
			if lastWasSeparator {
				return fmt.Errorf("account id %q has a misplaced separator at %d", string(a), i)
			}
			lastWasSeparator = true
		default:
			return fmt.Errorf("account id %q contains invalid character %q", string(a), c)
		}
	}
	if lastWasSeparator {
		return fmt.Errorf("account id %q ends with a separator", string(a))
	}
	return nil
}

// UnmarshalJSON rejects malformed account ids at decode time.
func (a *AccountID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("account id must be a string: %w", err)
	}
	id, err := ParseAccountID(s)
	if err != nil {
		return err
	}
	*a = id
	return nil
}

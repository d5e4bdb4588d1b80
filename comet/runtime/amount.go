package runtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// maxU128Digits is len("340282366920938463463374607431768211455").
const maxU128Digits = 39

var (
	maxU128 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))

	// ErrAmountOverflow is returned when arithmetic leaves the 128-bit range.
	ErrAmountOverflow = errors.New("amount overflows 128 bits")
	// ErrAmountUnderflow is returned when a subtraction would go negative.
	ErrAmountUnderflow = errors.New("amount underflows zero")
)

// U128 is an unsigned 128-bit token quantity. It is encoded in JSON as a
// decimal string, the same way token ledgers expose balances.
type U128 struct {
	v uint256.Int
}

// ZeroU128 is the zero amount.
var ZeroU128 = U128{}

// OneYocto is the smallest attachable deposit, required by transfer methods.
var OneYocto = NewU128(1)

// NewU128 builds an amount from a uint64.
func NewU128(v uint64) U128 {
	var u U128
	u.v.SetUint64(v)
	return u
}

// ParseU128 parses a base-10 string of digits.
func ParseU128(s string) (U128, error) {
	if s == "" {
		return U128{}, errors.New("amount is empty")
	}
	if len(s) > maxU128Digits {
		return U128{}, fmt.Errorf("amount %q: %w", s, ErrAmountOverflow)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return U128{}, fmt.Errorf("amount %q must contain only decimal digits", s)
		}
	}

	var u U128
	if err := u.v.SetFromDecimal(s); err != nil {
		return U128{}, fmt.Errorf("amount %q: %w", s, err)
	}
	if u.v.Gt(maxU128) {
		return U128{}, fmt.Errorf("amount %q: %w", s, ErrAmountOverflow)
	}
	return u, nil
}

// MustU128 is ParseU128 for constants and tests.
func MustU128(s string) U128 {
	u, err := ParseU128(s)
	if err != nil {
		panic(err)
	}
	return u
}

// U128FromUint256 narrows v into the 128-bit range.
func U128FromUint256(v *uint256.Int) (U128, error) {
	if v.Gt(maxU128) {
		return U128{}, ErrAmountOverflow
	}
	var u U128
	u.v.Set(v)
	return u, nil
}

// Uint256 returns a copy of the amount for wide intermediate arithmetic.
func (u U128) Uint256() *uint256.Int {
	return new(uint256.Int).Set(&u.v)
}

func (u U128) String() string {
	return u.v.Dec()
}

func (u U128) IsZero() bool {
	return u.v.IsZero()
}

// Cmp returns -1, 0 or +1.
func (u U128) Cmp(other U128) int {
	return u.v.Cmp(&other.v)
}

func (u U128) Equal(other U128) bool {
	return u.v.Eq(&other.v)
}

// Add returns u+other or ErrAmountOverflow.
func (u U128) Add(other U128) (U128, error) {
	var out U128
	out.v.Add(&u.v, &other.v)
	if out.v.Gt(maxU128) {
		return U128{}, ErrAmountOverflow
	}
	return out, nil
}

// Sub returns u-other or ErrAmountUnderflow.
func (u U128) Sub(other U128) (U128, error) {
	if u.v.Lt(&other.v) {
		return U128{}, ErrAmountUnderflow
	}
	var out U128
	out.v.Sub(&u.v, &other.v)
	return out, nil
}

// Min returns the smaller of u and other.
func (u U128) Min(other U128) U128 {
	if u.v.Lt(&other.v) {
		return u
	}
	return other
}

func (u U128) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON only accepts the string form; bare JSON numbers lose
// precision in most clients and are refused.
func (u *U128) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("amount must be a decimal string: %w", err)
	}
	parsed, err := ParseU128(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// MarshalText lets amounts be used in TOML configs and map keys.
func (u U128) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *U128) UnmarshalText(text []byte) error {
	parsed, err := ParseU128(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

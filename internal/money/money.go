// Package money holds the fixed-point currency type used across the domain.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is an amount in minor currency units. JSON renders it in major units
// with two fraction digits, e.g. 3509 <-> 35.09.
type Cents int64

var hundred = decimal.NewFromInt(100)

func FromDecimal(d decimal.Decimal) (Cents, error) {
	shifted := d.Shift(2)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than two decimal places", d.String())
	}
	return Cents(shifted.IntPart()), nil
}

func Parse(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return FromDecimal(d)
}

func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

// WholeUnits truncates toward zero, so 35.09 yields 35.
func (c Cents) WholeUnits() int64 {
	return int64(c) / 100
}

func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Cents) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	parsed, err := FromDecimal(d)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// PercentOf returns base * ratePercent / 100 rounded half away from zero to
// the nearest cent.
func PercentOf(base Cents, ratePercent float64) Cents {
	amount := decimal.NewFromInt(int64(base)).
		Mul(decimal.NewFromFloat(ratePercent)).
		Div(hundred).
		Round(0)
	return Cents(amount.IntPart())
}

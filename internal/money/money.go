package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const defaultPlaces int32 = 2

var hundred = decimal.NewFromInt(100)

// places lists the canonical minor-unit decimal places per ISO 4217 code.
var places = map[string]int32{
	"XAF": 0,
	"XOF": 0,
	"RWF": 0,
	"UGX": 0,
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"NGN": 2,
	"KES": 2,
	"GHS": 2,
	"ZAR": 2,
}

// Places returns the number of decimal places used when a currency amount
// leaves the engine (display, persisted balance, rail payload).
func Places(currency string) int32 {
	if p, ok := places[strings.ToUpper(currency)]; ok {
		return p
	}
	return defaultPlaces
}

// Round rounds an amount half away from zero to the currency's canonical places.
func Round(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(Places(currency))
}

// CheckPlaces rejects amounts with more decimal places than the currency's
// minor unit, which no rail can settle exactly.
func CheckPlaces(amount decimal.Decimal, currency string) error {
	p := Places(currency)
	if !amount.Equal(amount.Truncate(p)) {
		return fmt.Errorf("amount %s has more than %d decimal places for %s", amount.String(), p, strings.ToUpper(currency))
	}
	return nil
}

// Percent returns pct percent of amount without intermediate rounding.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}

// Parse reads a decimal amount from its string form.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}

// MinorUnits converts an amount into integer minor units of the currency,
// rounding to the canonical places first.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	p := Places(currency)
	return amount.Round(p).Shift(p).IntPart()
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(units int64, currency string) decimal.Decimal {
	return decimal.New(units, -Places(currency))
}

// Format renders an amount with its currency code, e.g. "20.00 USD".
func Format(amount decimal.Decimal, currency string) string {
	return fmt.Sprintf("%s %s", amount.StringFixed(Places(currency)), strings.ToUpper(currency))
}

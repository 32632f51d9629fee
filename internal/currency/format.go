// Package currency converts base-currency amounts for display and keeps the
// user's chosen display currency up to date with a rate provider.
package currency

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Base is the currency every amount is stored in.
const Base = "KES"

var symbols = map[string]string{
	"KES": "KSh",
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"UGX": "USh",
	"TZS": "TSh",
	"RWF": "FRw",
	"ZAR": "R",
	"NGN": "₦",
	"INR": "₹",
	"JPY": "¥",
	"CNY": "¥",
	"AED": "د.إ",
	"CHF": "CHF",
	"CAD": "CA$",
	"AUD": "A$",
}

// Symbol returns the display symbol of code; unknown codes display as
// the code itself.
func Symbol(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if s, ok := symbols[code]; ok {
		return s
	}
	return code
}

// Display renders a base amount in the display currency.
func Display(amount, rate decimal.Decimal, symbol string) string {
	return symbol + amount.Mul(rate).StringFixed(2)
}

// ToBase converts a display-currency amount back to the base currency. A
// non-positive rate leaves the amount unchanged.
func ToBase(amount, rate decimal.Decimal) decimal.Decimal {
	if !rate.IsPositive() {
		return amount
	}
	return amount.Div(rate)
}

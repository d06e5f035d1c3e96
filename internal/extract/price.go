package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var priceRe = regexp.MustCompile(`\d+\.\d+|\d+`)

// ParsePrice strips currency glyphs and whitespace from a raw price string
// ("$10.99", "10,99 €") and returns the first number found.
func ParsePrice(raw string) (decimal.Decimal, bool) {
	cleaned := strings.NewReplacer("$", "", "€", "", "£", "", "¥", "", "₹", "", " ", " ").Replace(raw)
	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.ReplaceAll(cleaned, ",", ".")

	m := priceRe.FindString(cleaned)
	if m == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(m)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// CurrencyOf guesses the currency code from the glyph in a raw price string.
// Defaults to USD, matching the upstream sites we target.
func CurrencyOf(raw string) string {
	switch {
	case strings.Contains(raw, "€"):
		return "EUR"
	case strings.Contains(raw, "£"):
		return "GBP"
	case strings.Contains(raw, "¥"):
		return "JPY"
	case strings.Contains(raw, "₹"):
		return "INR"
	default:
		return "USD"
	}
}

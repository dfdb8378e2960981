package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SplitTolerance is the largest difference allowed between a split set and its parent amount
var SplitTolerance = decimal.NewFromFloat(0.01)

// Direction is the money flow of a mirrored record relative to its owning account
type Direction string

const (
	DirectionExpense  Direction = "expense"
	DirectionIncome   Direction = "income"
	DirectionTransfer Direction = "transfer"
)

// Parse converts a human-readable amount ("1,234.50", "-12") to a decimal.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// Sum adds all amounts
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// WithinTolerance reports whether a and b differ by at most SplitTolerance
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(SplitTolerance)
}

// DirectionOf derives the flow direction from the signed amount and the remote subtype.
// Transfers are always transfers regardless of sign.
func DirectionOf(amount decimal.Decimal, transfer bool) Direction {
	switch {
	case transfer:
		return DirectionTransfer
	case amount.IsNegative():
		return DirectionExpense
	default:
		return DirectionIncome
	}
}

// Format renders an amount with two decimal places and its currency code
func Format(amount decimal.Decimal, currency string) string {
	if currency == "" {
		return amount.StringFixed(2)
	}
	return amount.StringFixed(2) + " " + currency
}

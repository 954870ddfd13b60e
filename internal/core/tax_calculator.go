package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TaxPolicy is the single-rate tax rule applied to every document.
// Places is the currency's minor unit (2 for INR).
type TaxPolicy struct {
	Rate   decimal.Decimal
	Places int32
}

var defaultTaxRate = decimal.RequireFromString("0.18")

// DefaultTaxPolicy is 18% rounded to two decimal places.
func DefaultTaxPolicy() TaxPolicy {
	return TaxPolicy{Rate: defaultTaxRate, Places: 2}
}

// NewTaxPolicy parses a rate expressed as a fraction ("0.18").
func NewTaxPolicy(rate string) (TaxPolicy, error) {
	r, err := decimal.NewFromString(rate)
	if err != nil {
		return TaxPolicy{}, fmt.Errorf("invalid tax rate %q: %w", rate, err)
	}
	if r.IsNegative() || r.GreaterThan(decimal.NewFromInt(1)) {
		return TaxPolicy{}, fmt.Errorf("tax rate %s out of range (must be between 0 and 1)", r)
	}
	return TaxPolicy{Rate: r, Places: 2}, nil
}

func (p TaxPolicy) isZero() bool {
	return p.Places == 0 && p.Rate.IsZero()
}

// Compute derives subtotal, discount, tax and total from the lines:
//
//	subtotal = Σ quantity × unitPrice
//	discount = Σ lineDiscount
//	tax      = round((subtotal − discount) × rate)
//	total    = subtotal − discount + tax
//
// Unit prices and discounts may not be finer than Places. Tax rounding is
// half-up at Places. Compute is pure.
func (p TaxPolicy) Compute(lines []LineItem) (Amounts, error) {
	if len(lines) == 0 {
		return Amounts{}, &ConversionError{Err: ErrInvalidLineItem, Details: "at least one line is required"}
	}

	subtotal := decimal.Zero
	discount := decimal.Zero
	for i, l := range lines {
		n := l.LineNumber
		if n == 0 {
			n = i + 1
		}
		if l.Quantity <= 0 {
			return Amounts{}, invalidLine(n, "quantity must be positive, got %d", l.Quantity)
		}
		if l.UnitPrice.IsNegative() {
			return Amounts{}, invalidLine(n, "unit price cannot be negative, got %s", l.UnitPrice)
		}
		if l.LineDiscount.IsNegative() {
			return Amounts{}, invalidLine(n, "discount cannot be negative, got %s", l.LineDiscount)
		}
		// Prices and discounts are stored at Places; finer input would be
		// rounded by storage and no longer match the computed totals.
		if !l.UnitPrice.Equal(l.UnitPrice.Round(p.Places)) {
			return Amounts{}, invalidLine(n, "unit price %s has more than %d decimal places", l.UnitPrice, p.Places)
		}
		if !l.LineDiscount.Equal(l.LineDiscount.Round(p.Places)) {
			return Amounts{}, invalidLine(n, "discount %s has more than %d decimal places", l.LineDiscount, p.Places)
		}
		lineSubtotal := decimal.NewFromInt(l.Quantity).Mul(l.UnitPrice)
		if l.LineDiscount.GreaterThan(lineSubtotal) {
			return Amounts{}, invalidLine(n, "discount %s exceeds line subtotal %s", l.LineDiscount, lineSubtotal)
		}
		subtotal = subtotal.Add(lineSubtotal)
		discount = discount.Add(l.LineDiscount)
	}

	// Amounts are non-negative here, so Round (half away from zero) is half-up.
	tax := subtotal.Sub(discount).Mul(p.Rate).Round(p.Places)

	return Amounts{
		Subtotal: subtotal,
		Discount: discount,
		Tax:      tax,
		Total:    subtotal.Sub(discount).Add(tax),
	}, nil
}

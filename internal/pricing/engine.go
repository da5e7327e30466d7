package pricing

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput is returned when a line cannot be priced.
var ErrInvalidInput = errors.New("pricing: invalid input")

// TaxRate is the VAT percentage already contained in shelf prices.
type TaxRate struct {
	Percent float64
}

// PPN11 is the standard Indonesian VAT rate baked into catalog prices.
var PPN11 = TaxRate{Percent: 11}

// BaseFactor returns the multiplier that backs a tax-inclusive price out to
// its pre-tax base, e.g. 100/111 for 11%.
func (r TaxRate) BaseFactor() float64 {
	return 100 / (100 + r.Percent)
}

// Fraction returns the rate as a fraction of the taxable base, e.g. 0.11.
func (r TaxRate) Fraction() float64 {
	return r.Percent / 100
}

func (r TaxRate) valid() bool {
	return !math.IsNaN(r.Percent) && !math.IsInf(r.Percent, 0) && r.Percent > 0
}

// LineInput describes one cart or invoice line before pricing.
type LineInput struct {
	UnitPrice       float64 `json:"unitPrice"`
	Quantity        int     `json:"quantity"`
	DiscountPercent float64 `json:"discountPercent"`
}

// LineResult holds every monetary component of a line, already multiplied
// by quantity. Amount is the gross tax-inclusive price times quantity.
type LineResult struct {
	Amount         float64 `json:"amount"`
	TaxBase        float64 `json:"taxBase"`
	DiscountAmount float64 `json:"discountAmount"`
	TaxableBase    float64 `json:"taxableBase"`
	TaxAmount      float64 `json:"taxAmount"`
	LineTotal      float64 `json:"lineTotal"`
}

// InvoiceTotals is the field-wise sum of line results.
type InvoiceTotals struct {
	GrossAmount      float64 `json:"grossAmount"`
	TotalDiscount    float64 `json:"totalDiscount"`
	TotalTaxableBase float64 `json:"totalTaxableBase"`
	TotalTax         float64 `json:"totalTax"`
	GrandTotal       float64 `json:"grandTotal"`
}

// Engine prices lines against a configured tax rate. The zero value uses PPN11.
type Engine struct {
	Rate TaxRate
}

// Default is the engine every consumer shares unless configured otherwise.
var Default = Engine{Rate: PPN11}

// NewEngine returns an engine for the given rate.
func NewEngine(rate TaxRate) (Engine, error) {
	if !rate.valid() {
		return Engine{}, fmt.Errorf("%w: tax rate %v", ErrInvalidInput, rate.Percent)
	}
	return Engine{Rate: rate}, nil
}

// EffectiveRate is the rate Compute charges, PPN11 for the zero Engine.
func (e Engine) EffectiveRate() TaxRate {
	if e.Rate == (TaxRate{}) {
		return PPN11
	}
	return e.Rate
}

// Validate reports whether the line satisfies the pricing preconditions.
func Validate(in LineInput) error {
	switch {
	case math.IsNaN(in.UnitPrice) || math.IsInf(in.UnitPrice, 0):
		return fmt.Errorf("%w: unit price is not a number", ErrInvalidInput)
	case in.UnitPrice < 0:
		return fmt.Errorf("%w: unit price %v is negative", ErrInvalidInput, in.UnitPrice)
	case in.Quantity < 1:
		return fmt.Errorf("%w: quantity %d must be at least 1", ErrInvalidInput, in.Quantity)
	case math.IsNaN(in.DiscountPercent) || math.IsInf(in.DiscountPercent, 0):
		return fmt.Errorf("%w: discount is not a number", ErrInvalidInput)
	case in.DiscountPercent < 0 || in.DiscountPercent > 100:
		return fmt.Errorf("%w: discount %v outside [0,100]", ErrInvalidInput, in.DiscountPercent)
	}
	return nil
}

// Compute derives the line components from a tax-inclusive unit price.
// Values are computed per unit and scaled by quantity last; nothing is rounded.
func (e Engine) Compute(in LineInput) (LineResult, error) {
	if err := Validate(in); err != nil {
		return LineResult{}, err
	}
	rate := e.EffectiveRate()
	taxBase := in.UnitPrice * rate.BaseFactor()
	discount := taxBase * (in.DiscountPercent / 100)
	taxable := taxBase - discount
	tax := taxable * rate.Fraction()
	total := taxable + tax

	qty := float64(in.Quantity)
	return LineResult{
		Amount:         in.UnitPrice * qty,
		TaxBase:        taxBase * qty,
		DiscountAmount: discount * qty,
		TaxableBase:    taxable * qty,
		TaxAmount:      tax * qty,
		LineTotal:      total * qty,
	}, nil
}

// Compute prices a single line with the default engine.
func Compute(unitPrice float64, quantity int, discountPercent float64) (LineResult, error) {
	return Default.Compute(LineInput{UnitPrice: unitPrice, Quantity: quantity, DiscountPercent: discountPercent})
}

// Aggregate prices every line and sums each component independently.
// All lines are validated before any is computed; an empty slice yields zero totals.
func (e Engine) Aggregate(lines []LineInput) ([]LineResult, InvoiceTotals, error) {
	for i, in := range lines {
		if err := Validate(in); err != nil {
			return nil, InvoiceTotals{}, fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	results := make([]LineResult, 0, len(lines))
	var totals InvoiceTotals
	for _, in := range lines {
		r, err := e.Compute(in)
		if err != nil {
			return nil, InvoiceTotals{}, err
		}
		results = append(results, r)
		totals.GrossAmount += r.Amount
		totals.TotalDiscount += r.DiscountAmount
		totals.TotalTaxableBase += r.TaxableBase
		totals.TotalTax += r.TaxAmount
		totals.GrandTotal += r.LineTotal
	}
	return results, totals, nil
}

// Aggregate runs the default engine over lines.
func Aggregate(lines []LineInput) ([]LineResult, InvoiceTotals, error) {
	return Default.Aggregate(lines)
}

// Quote applies the discount policy to lines and aggregates the result.
func (e Engine) Quote(lines []LineInput, policy *DiscountPolicy) ([]LineResult, InvoiceTotals, error) {
	return e.Aggregate(ApplyPolicy(lines, policy))
}

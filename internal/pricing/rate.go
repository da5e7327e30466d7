package pricing

import (
	"errors"
	"fmt"
	"math"
)

// ErrRateMismatch is returned when an alternate tax label does not reduce to the engine rate.
var ErrRateMismatch = errors.New("pricing: alternate rate is not equivalent")

// NominalRate expresses a tax as a nominal percent charged on a scaled base
// (DPP Nilai Lain). PPN 12% on 11/12 of DPP Faktur is the same effective 11%.
type NominalRate struct {
	Label      string
	Percent    float64
	BaseFactor float64
}

// PPN12NilaiLain is the 12% label applied to DPP Nilai Lain (11/12 of DPP Faktur).
var PPN12NilaiLain = NominalRate{Label: "PPN 12%", Percent: 12, BaseFactor: 11.0 / 12}

// Effective returns the rate charged on the undisturbed taxable base.
func (n NominalRate) Effective() TaxRate {
	return TaxRate{Percent: n.Percent * n.BaseFactor}
}

// Base returns DPP Nilai Lain for the given taxable base.
func (n NominalRate) Base(taxableBase float64) float64 {
	return taxableBase * n.BaseFactor
}

// Tax returns the tax computed through the nominal label.
func (n NominalRate) Tax(taxableBase float64) float64 {
	return n.Base(taxableBase) * (n.Percent / 100)
}

// rateTolerance absorbs the ulp differences between the two multiplication orders.
const rateTolerance = 1e-9

// EquivalentTo reports whether the nominal label reduces to rate.
func (n NominalRate) EquivalentTo(rate TaxRate) bool {
	return closeEnough(n.Effective().Percent, rate.Percent)
}

// AlternateTax recomputes a line's tax through the nominal label and checks it
// against the engine's TaxAmount.
func (e Engine) AlternateTax(r LineResult, n NominalRate) (base, tax float64, err error) {
	if !n.EquivalentTo(e.EffectiveRate()) {
		return 0, 0, fmt.Errorf("%w: %s is %v%%, engine is %v%%", ErrRateMismatch, n.Label, n.Effective().Percent, e.EffectiveRate().Percent)
	}
	base = n.Base(r.TaxableBase)
	tax = n.Tax(r.TaxableBase)
	if !closeEnough(tax, r.TaxAmount) {
		return base, tax, fmt.Errorf("%w: %s tax %v differs from %v", ErrRateMismatch, n.Label, tax, r.TaxAmount)
	}
	return base, tax, nil
}

func closeEnough(a, b float64) bool {
	diff := math.Abs(a - b)
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return diff <= rateTolerance*scale
}

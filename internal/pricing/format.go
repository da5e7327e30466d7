package pricing

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// nbsp separates the currency symbol from the digits, as id-ID formatting does.
const nbsp = "\u00a0"

// Formatter renders amounts as whole-unit currency strings.
type Formatter struct {
	Symbol string
	Locale language.Tag
}

// Rupiah formats amounts as "Rp 1.234.567".
var Rupiah = Formatter{Symbol: "Rp", Locale: language.Indonesian}

// Round rounds half away from zero to a whole currency unit.
// This is the only rounding step applied to engine output.
func Round(amount float64) float64 {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0
	}
	return decimal.NewFromFloat(amount).Round(0).InexactFloat64()
}

// Format renders amount with zero decimals and locale grouping.
// NaN and infinities render as zero.
func (f Formatter) Format(amount float64) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		amount = 0
	}
	rounded := decimal.NewFromFloat(amount).Round(0)
	negative := rounded.IsNegative()
	units := rounded.Abs().IntPart()

	var b strings.Builder
	if negative {
		b.WriteByte('-')
	}
	if f.Symbol != "" {
		b.WriteString(f.Symbol)
		b.WriteString(nbsp)
	}
	b.WriteString(message.NewPrinter(f.Locale).Sprintf("%d", units))
	return b.String()
}

// FormatRupiah formats amount with the Rupiah formatter.
func FormatRupiah(amount float64) string {
	return Rupiah.Format(amount)
}

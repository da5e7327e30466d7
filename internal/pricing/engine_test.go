package pricing

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

const tol = 1e-6

func TestComputeSpecialScenario(t *testing.T) {
	r, err := Compute(111_000, 2, 10)
	require.NoError(t, err)
	require.InDelta(t, 222_000, r.Amount, tol)
	require.InDelta(t, 200_000, r.TaxBase, tol)
	require.InDelta(t, 20_000, r.DiscountAmount, tol)
	require.InDelta(t, 180_000, r.TaxableBase, tol)
	require.InDelta(t, 19_800, r.TaxAmount, tol)
	require.InDelta(t, 199_800, r.LineTotal, tol)
	require.Equal(t, "Rp\u00a0199.800", FormatRupiah(r.LineTotal))
}

func TestComputeInvariants(t *testing.T) {
	cases := []LineInput{
		{UnitPrice: 111_000, Quantity: 1, DiscountPercent: 0},
		{UnitPrice: 45_500, Quantity: 3, DiscountPercent: 12.5},
		{UnitPrice: 9_999, Quantity: 7, DiscountPercent: 33},
		{UnitPrice: 0, Quantity: 4, DiscountPercent: 50},
		{UnitPrice: 1_250_000, Quantity: 12, DiscountPercent: 100},
	}
	for _, in := range cases {
		r, err := Default.Compute(in)
		require.NoError(t, err)
		require.InDelta(t, r.LineTotal, r.TaxableBase+r.TaxAmount, tol)
		q := float64(in.Quantity)
		require.InDelta(t, r.TaxableBase/q, r.TaxBase/q-r.DiscountAmount/q, tol)
		for _, v := range []float64{r.Amount, r.TaxBase, r.DiscountAmount, r.TaxableBase, r.TaxAmount, r.LineTotal} {
			require.False(t, math.IsNaN(v))
			require.GreaterOrEqual(t, v, 0.0)
		}
	}
}

func TestComputeDeterministic(t *testing.T) {
	in := LineInput{UnitPrice: 87_654.32, Quantity: 9, DiscountPercent: 17.3}
	first, err := Default.Compute(in)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		again, err := Default.Compute(in)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestComputeZeroDiscountIdentity(t *testing.T) {
	for _, p := range []float64{1, 999, 111_000, 2_345_678} {
		for _, q := range []int{1, 2, 15} {
			r, err := Compute(p, q, 0)
			require.NoError(t, err)
			require.Zero(t, r.DiscountAmount)
			require.InDelta(t, r.Amount*(100.0/111.0), r.TaxableBase, tol)
			require.InDelta(t, r.Amount, r.LineTotal, tol)
		}
	}
}

func TestComputeDiscountIsMonotonic(t *testing.T) {
	prev := math.Inf(1)
	for d := 0.0; d <= 100; d += 2.5 {
		r, err := Compute(55_500, 3, d)
		require.NoError(t, err)
		require.Less(t, r.LineTotal, prev, "discount %v", d)
		prev = r.LineTotal
	}
}

func TestComputeScalesWithQuantity(t *testing.T) {
	for _, d := range []float64{0, 5, 10, 37.5} {
		unit, err := Compute(123_456, 1, d)
		require.NoError(t, err)
		for q := 1; q <= 25; q++ {
			r, err := Compute(123_456, q, d)
			require.NoError(t, err)
			require.InDelta(t, float64(q)*unit.LineTotal, r.LineTotal, tol)
		}
	}
}

func TestComputeRejectsInvalidInput(t *testing.T) {
	cases := map[string]LineInput{
		"negative price":    {UnitPrice: -1, Quantity: 1},
		"nan price":         {UnitPrice: math.NaN(), Quantity: 1},
		"infinite price":    {UnitPrice: math.Inf(1), Quantity: 1},
		"zero quantity":     {UnitPrice: 10, Quantity: 0},
		"negative quantity": {UnitPrice: 10, Quantity: -3},
		"nan discount":      {UnitPrice: 10, Quantity: 1, DiscountPercent: math.NaN()},
		"discount above":    {UnitPrice: 10, Quantity: 1, DiscountPercent: 100.01},
		"discount below":    {UnitPrice: 10, Quantity: 1, DiscountPercent: -0.5},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			r, err := Default.Compute(in)
			require.ErrorIs(t, err, ErrInvalidInput)
			require.Equal(t, LineResult{}, r)
		})
	}
}

func TestAggregateEmptyCart(t *testing.T) {
	results, totals, err := Aggregate(nil)
	require.NoError(t, err)
	require.Empty(t, results)
	require.Equal(t, InvoiceTotals{}, totals)
}

func TestAggregateSumsLineResults(t *testing.T) {
	lines := []LineInput{
		{UnitPrice: 111_000, Quantity: 2, DiscountPercent: 10},
		{UnitPrice: 33_300, Quantity: 5, DiscountPercent: 0},
		{UnitPrice: 7_777, Quantity: 13, DiscountPercent: 45},
	}
	results, totals, err := Aggregate(lines)
	require.NoError(t, err)
	require.Len(t, results, len(lines))

	var sum, gross float64
	for _, r := range results {
		sum += r.LineTotal
		gross += r.Amount
	}
	require.Equal(t, sum, totals.GrandTotal)
	require.Equal(t, gross, totals.GrossAmount)
	require.InDelta(t, totals.GrandTotal, totals.TotalTaxableBase+totals.TotalTax, tol)
}

func TestAggregateFailsBeforeComputing(t *testing.T) {
	lines := []LineInput{
		{UnitPrice: 10_000, Quantity: 1},
		{UnitPrice: 10_000, Quantity: 0},
	}
	results, totals, err := Aggregate(lines)
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Contains(t, err.Error(), "line 2")
	require.Nil(t, results)
	require.Equal(t, InvoiceTotals{}, totals)
}

func TestQuoteAppliesGlobalPolicy(t *testing.T) {
	lines := []LineInput{
		{UnitPrice: 111_000, Quantity: 1, DiscountPercent: 0},
		{UnitPrice: 111_000, Quantity: 1, DiscountPercent: 50},
	}
	policy := &DiscountPolicy{GlobalPercent: 20, AppliesToAllLines: true}
	results, totals, err := Default.Quote(lines, policy)
	require.NoError(t, err)
	for _, r := range results {
		require.InDelta(t, 20_000, r.DiscountAmount, tol)
		require.InDelta(t, 88_800, r.LineTotal, tol)
	}
	require.InDelta(t, 177_600, totals.GrandTotal, tol)
	require.Equal(t, float64(0), lines[0].DiscountPercent, "inputs must not be mutated")
}

func TestNewEngineUsesConfiguredRate(t *testing.T) {
	eng, err := NewEngine(TaxRate{Percent: 12})
	require.NoError(t, err)
	r, err := eng.Compute(LineInput{UnitPrice: 112_000, Quantity: 1})
	require.NoError(t, err)
	require.InDelta(t, 100_000, r.TaxBase, tol)
	require.InDelta(t, 12_000, r.TaxAmount, tol)

	for _, bad := range []float64{0, -11, math.NaN(), math.Inf(1)} {
		_, err := NewEngine(TaxRate{Percent: bad})
		require.True(t, errors.Is(err, ErrInvalidInput))
	}
}

func TestZeroEngineDefaultsToPPN11(t *testing.T) {
	var eng Engine
	a, err := eng.Compute(LineInput{UnitPrice: 55_500, Quantity: 2, DiscountPercent: 5})
	require.NoError(t, err)
	b, err := Default.Compute(LineInput{UnitPrice: 55_500, Quantity: 2, DiscountPercent: 5})
	require.NoError(t, err)
	require.Equal(t, b, a)
}

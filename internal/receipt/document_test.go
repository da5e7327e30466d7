package receipt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/pricing"
)

func sampleInput() Input {
	return Input{
		Engine: pricing.Default,
		Store:  StoreSettings{Name: "Toko Maju", PaymentNoteLine2: "No. Rekening: 0000000000"},
		Sale: SaleInfo{
			SaleNumber:    "INV-20261016-0001",
			CreatedAt:     time.Date(2026, 10, 6, 9, 30, 0, 0, time.UTC),
			PaymentMethod: "cash",
		},
		Lines: []Line{
			{Name: "Semen 50kg", Input: pricing.LineInput{UnitPrice: 111_000, Quantity: 2, DiscountPercent: 10}},
			{Name: "Paku 1kg", Input: pricing.LineInput{UnitPrice: 22_200, Quantity: 1}},
		},
		Visibility: DefaultVisibility,
	}
}

func TestBuildFreshSale(t *testing.T) {
	doc, err := Build(sampleInput())
	require.NoError(t, err)

	require.Equal(t, "6/10/2026", doc.Date)
	require.Len(t, doc.Items, 2)
	require.Equal(t, "10%", doc.Items[0].DiscountText)
	require.Equal(t, "-Rp\u00a020.000", doc.Items[0].DiscountAmtText)
	require.Equal(t, "Rp\u00a0199.800", doc.Items[0].TotalText)
	require.Empty(t, doc.Items[1].DiscountText)

	require.InDelta(t, 199_800+22_200, doc.Total, 1e-6)
	require.Equal(t, "Rp\u00a0222.000", doc.TotalText)
	require.Equal(t, pricing.Equal, doc.Reconciliation.Status)
	require.InDelta(t, doc.Totals.TotalTax, doc.PPN12, 1e-6)
	require.InDelta(t, doc.Totals.TotalTaxableBase*11/12, doc.DPPNilaiLain, 1e-6)

	// (180000 + 20000) / 2 lines
	require.Equal(t, []string{"Harga BCA : Rp\u00a0100.000", "No. Rekening: 0000000000"}, doc.PaymentNotes)
}

func TestBuildPrintsStoredTotalWhenEqual(t *testing.T) {
	in := sampleInput()
	stored := 222_000.2
	in.StoredTotal = &stored
	doc, err := Build(in)
	require.NoError(t, err)
	require.Equal(t, pricing.Equal, doc.Reconciliation.Status)
	require.Equal(t, stored, doc.Total)
}

func TestBuildPrintsRecomputedTotalOnDrift(t *testing.T) {
	in := sampleInput()
	stored := 250_000.0
	in.StoredTotal = &stored
	doc, err := Build(in)
	require.NoError(t, err)
	require.True(t, doc.Reconciliation.Drifted())
	require.InDelta(t, -28_000, doc.Reconciliation.Delta, 1e-6)
	require.InDelta(t, 222_000, doc.Total, 1e-6)
}

func TestVisibleRows(t *testing.T) {
	doc, err := Build(sampleInput())
	require.NoError(t, err)
	keys := func(rows []TotalsRow) []string {
		out := make([]string, 0, len(rows))
		for _, r := range rows {
			out = append(out, r.Key)
		}
		return out
	}
	require.Equal(t, []string{"amount", "discount", "total"}, keys(doc.VisibleRows()))

	doc.Visibility = Visibility{ShowDPPFaktur: true, ShowPPN: true}
	require.Equal(t, []string{"discount", "dpp", "ppn", "total"}, keys(doc.VisibleRows()))
	require.Equal(t, "PPN 11%", doc.Rows[3].Label)
}

func TestBuildRejectsEmptyAndInvalid(t *testing.T) {
	_, err := Build(Input{})
	require.Error(t, err)

	in := sampleInput()
	in.Lines[1].Input.Quantity = 0
	_, err = Build(in)
	require.ErrorIs(t, err, pricing.ErrInvalidInput)
}

func TestBuildSkipsNilaiLainForOtherRates(t *testing.T) {
	in := sampleInput()
	eng, err := pricing.NewEngine(pricing.TaxRate{Percent: 12})
	require.NoError(t, err)
	in.Engine = eng

	doc, err := Build(in)
	require.NoError(t, err)
	require.Zero(t, doc.DPPNilaiLain)
	require.Zero(t, doc.PPN12)
	for _, item := range doc.Items {
		require.Zero(t, item.DPPNilaiLain)
		require.Zero(t, item.PPN12)
	}
	require.InDelta(t, 222_000, doc.Total, 1e-6)
	require.Equal(t, "PPN 12%", doc.Rows[3].Label)
	require.InDelta(t, doc.Totals.TotalTaxableBase*0.12, doc.Rows[3].Amount, 1e-6)
}

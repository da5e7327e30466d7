// Package receipt assembles the data a printer or PDF renderer needs for a
// sale invoice. It owns no layout; every figure comes from the pricing engine.
package receipt

import (
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/backend-kasir/internal/pricing"
)

// StoreSettings is the shop identity printed on the invoice header and footer.
type StoreSettings struct {
	Name             string `json:"name,omitempty"`
	Address          string `json:"address,omitempty"`
	Phone            string `json:"phone,omitempty"`
	Email            string `json:"email,omitempty"`
	Website          string `json:"website,omitempty"`
	Header           string `json:"header,omitempty"`
	Footer           string `json:"footer,omitempty"`
	PaymentNoteLine1 string `json:"paymentNoteLine1,omitempty"`
	PaymentNoteLine2 string `json:"paymentNoteLine2,omitempty"`
}

// Visibility selects which totals rows the renderer prints.
type Visibility struct {
	ShowAmount    bool `json:"showAmount"`
	ShowDPPFaktur bool `json:"showDppFaktur"`
	ShowDiscount  bool `json:"showDiscount"`
	ShowPPN       bool `json:"showPpn"`
}

// DefaultVisibility matches the reprint defaults: only the gross amount row.
var DefaultVisibility = Visibility{ShowAmount: true}

// SaleInfo is the header metadata of the sale being printed.
type SaleInfo struct {
	SaleNumber      string    `json:"saleNumber"`
	CreatedAt       time.Time `json:"createdAt"`
	CustomerName    string    `json:"customerName,omitempty"`
	CashierName     string    `json:"cashierName,omitempty"`
	PaymentMethod   string    `json:"paymentMethod"`
	PaymentReceived float64   `json:"paymentReceived"`
	ChangeAmount    float64   `json:"changeAmount"`
	Notes           string    `json:"notes,omitempty"`
}

// Line is one persisted sale line to print.
type Line struct {
	Name  string
	Input pricing.LineInput
}

// Item is a priced invoice row with display strings.
type Item struct {
	No              int                `json:"no"`
	Name            string             `json:"name"`
	Quantity        int                `json:"quantity"`
	UnitPrice       float64            `json:"unitPrice"`
	DiscountPercent float64            `json:"discountPercent"`
	Result          pricing.LineResult `json:"result"`
	DPPNilaiLain    float64            `json:"dppNilaiLain"`
	PPN12           float64            `json:"ppn12"`
	UnitPriceText   string             `json:"unitPriceText"`
	DiscountText    string             `json:"discountText,omitempty"`
	DiscountAmtText string             `json:"discountAmountText,omitempty"`
	TotalText       string             `json:"totalText"`
}

// TotalsRow is one labelled figure in the totals block.
type TotalsRow struct {
	Key    string  `json:"key"`
	Label  string  `json:"label"`
	Amount float64 `json:"amount"`
	Text   string  `json:"text"`
}

// Document is everything the renderer needs for one invoice.
type Document struct {
	Store          StoreSettings          `json:"store"`
	Sale           SaleInfo               `json:"sale"`
	Date           string                 `json:"date"`
	Items          []Item                 `json:"items"`
	Totals         pricing.InvoiceTotals  `json:"totals"`
	DPPNilaiLain   float64                `json:"dppNilaiLain"`
	PPN12          float64                `json:"ppn12"`
	Total          float64                `json:"total"`
	TotalText      string                 `json:"totalText"`
	Rows           []TotalsRow            `json:"rows"`
	Visibility     Visibility             `json:"visibility"`
	PaymentNotes   []string               `json:"paymentNotes"`
	Reconciliation pricing.Reconciliation `json:"reconciliation"`
}

// Input collects what Build needs. StoredTotal is nil for a sale that has not
// been persisted yet; the recomputed grand total is then printed as is.
type Input struct {
	Engine      pricing.Engine
	Formatter   pricing.Formatter
	Epsilon     float64
	Store       StoreSettings
	Sale        SaleInfo
	Lines       []Line
	Visibility  Visibility
	StoredTotal *float64
}

// Build prices the lines and lays out every figure the invoice can show.
func Build(in Input) (Document, error) {
	if len(in.Lines) == 0 {
		return Document{}, errors.New("receipt: no lines to print")
	}
	f := in.Formatter
	if f.Symbol == "" {
		f = pricing.Rupiah
	}
	inputs := make([]pricing.LineInput, len(in.Lines))
	for i, l := range in.Lines {
		inputs[i] = l.Input
	}
	results, totals, err := in.Engine.Aggregate(inputs)
	if err != nil {
		return Document{}, err
	}

	doc := Document{
		Store:      in.Store,
		Sale:       in.Sale,
		Date:       in.Sale.CreatedAt.Format("2/1/2006"),
		Items:      make([]Item, 0, len(results)),
		Totals:     totals,
		Visibility: in.Visibility,
	}
	// DPP Nilai Lain rows only exist while the 12% label reduces to the engine rate.
	nilaiLain := pricing.PPN12NilaiLain.EquivalentTo(in.Engine.EffectiveRate())
	for i, r := range results {
		var base, tax float64
		if nilaiLain {
			base, tax, err = in.Engine.AlternateTax(r, pricing.PPN12NilaiLain)
			if err != nil {
				return Document{}, fmt.Errorf("line %d: %w", i+1, err)
			}
		}
		doc.DPPNilaiLain += base
		doc.PPN12 += tax
		item := Item{
			No:              i + 1,
			Name:            in.Lines[i].Name,
			Quantity:        inputs[i].Quantity,
			UnitPrice:       inputs[i].UnitPrice,
			DiscountPercent: inputs[i].DiscountPercent,
			Result:          r,
			DPPNilaiLain:    base,
			PPN12:           tax,
			UnitPriceText:   f.Format(inputs[i].UnitPrice),
			TotalText:       f.Format(r.LineTotal),
		}
		if inputs[i].DiscountPercent > 0 {
			item.DiscountText = fmt.Sprintf("%g%%", inputs[i].DiscountPercent)
			item.DiscountAmtText = "-" + f.Format(r.DiscountAmount)
		}
		doc.Items = append(doc.Items, item)
	}

	stored := totals.GrandTotal
	if in.StoredTotal != nil {
		stored = *in.StoredTotal
	}
	doc.Reconciliation = pricing.ReconcileWithin(stored, totals.GrandTotal, in.Epsilon)
	doc.Total = doc.Reconciliation.Authoritative()
	doc.TotalText = f.Format(doc.Total)
	doc.Rows = totalsRows(in.Engine, f, totals, doc.Total)
	doc.PaymentNotes = paymentNotes(in.Store, f, totals, len(results))
	return doc, nil
}

func totalsRows(eng pricing.Engine, f pricing.Formatter, t pricing.InvoiceTotals, total float64) []TotalsRow {
	rate := eng.EffectiveRate()
	return []TotalsRow{
		{Key: "amount", Label: "SUB TOTAL", Amount: t.GrossAmount, Text: f.Format(t.GrossAmount)},
		{Key: "discount", Label: "Total Discount", Amount: t.TotalDiscount, Text: "-" + f.Format(t.TotalDiscount)},
		{Key: "dpp", Label: "DPP Faktur", Amount: t.TotalTaxableBase, Text: f.Format(t.TotalTaxableBase)},
		{Key: "ppn", Label: fmt.Sprintf("PPN %g%%", rate.Percent), Amount: t.TotalTax, Text: f.Format(t.TotalTax)},
		{Key: "total", Label: "TOTAL", Amount: total, Text: f.Format(total)},
	}
}

func paymentNotes(s StoreSettings, f pricing.Formatter, t pricing.InvoiceTotals, lines int) []string {
	line1 := s.PaymentNoteLine1
	if line1 == "" && lines > 0 {
		line1 = "Harga BCA : " + f.Format(pricing.Round(t.TotalTaxableBase/float64(lines)))
	}
	notes := []string{line1}
	if s.PaymentNoteLine2 != "" {
		notes = append(notes, s.PaymentNoteLine2)
	}
	return notes
}

// VisibleRows returns the totals rows the renderer should print. The total
// row is always present; discount appears whenever any discount was given.
func (d Document) VisibleRows() []TotalsRow {
	out := make([]TotalsRow, 0, len(d.Rows))
	for _, row := range d.Rows {
		switch row.Key {
		case "amount":
			if !d.Visibility.ShowAmount {
				continue
			}
		case "discount":
			if row.Amount <= 0 && !d.Visibility.ShowDiscount {
				continue
			}
		case "dpp":
			if !d.Visibility.ShowDPPFaktur {
				continue
			}
		case "ppn":
			if !d.Visibility.ShowPPN {
				continue
			}
		}
		out = append(out, row)
	}
	return out
}

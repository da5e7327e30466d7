package sale

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-kasir/internal/catalog"
	"github.com/noah-isme/backend-kasir/internal/events"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/pricing"
	"github.com/noah-isme/backend-kasir/internal/receipt"
)

// ErrPaymentInsufficient is returned when cash received does not cover the total.
var ErrPaymentInsufficient = errors.New("payment received is less than total")

var tracer = otel.Tracer("kasir/sale")

// ProductLookup resolves cart product ids to current catalog entries.
type ProductLookup interface {
	Lookup(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error)
}

// Service runs the checkout, edit and reprint workflows. Every figure it
// persists or prints comes from Engine.
type Service struct {
	Store     Store
	Catalog   ProductLookup
	Engine    pricing.Engine
	Formatter pricing.Formatter
	Epsilon   float64
	Settings  receipt.StoreSettings
	Events    *events.Bus
	Locks     Locker
	Logger    zerolog.Logger
}

// Locker serializes edits of one sale across replicas.
type Locker interface {
	Do(ctx context.Context, key string, fn func(context.Context) error) error
}

// CartLine is one product on the cashier's cart.
type CartLine struct {
	ProductID       uuid.UUID `json:"productId" validate:"required"`
	Quantity        int       `json:"quantity" validate:"gt=0"`
	DiscountPercent float64   `json:"discountPercent"`
}

// CheckoutInput is a cart ready to be finalized.
type CheckoutInput struct {
	CustomerName    string                  `json:"customerName"`
	CashierName     string                  `json:"cashierName"`
	BankDetails     string                  `json:"bankDetails"`
	PaymentMethod   string                  `json:"paymentMethod"`
	PaymentReceived float64                 `json:"paymentReceived" validate:"gte=0"`
	Policy          *pricing.DiscountPolicy `json:"discountPolicy"`
	Lines           []CartLine              `json:"lines" validate:"required,min=1,dive"`
}

// CheckoutResult is the finalized sale with its totals and printable receipt.
type CheckoutResult struct {
	Sale    Sale                  `json:"sale"`
	Totals  pricing.InvoiceTotals `json:"totals"`
	Receipt receipt.Document      `json:"receipt"`
}

// Checkout prices the cart, settles payment and persists the sale with its
// stock decrements.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) (out CheckoutResult, err error) {
	ctx, span := tracer.Start(ctx, "sale.Checkout")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("sale.number", out.Sale.SaleNumber))
		}
		span.End()
	}()
	span.SetAttributes(attribute.Int("sale.lines", len(in.Lines)), attribute.String("sale.payment_method", in.PaymentMethod))
	if s == nil || s.Store == nil || s.Catalog == nil {
		return CheckoutResult{}, errors.New("sale service not configured")
	}
	method, ok := ParsePaymentMethod(in.PaymentMethod)
	if !ok {
		return CheckoutResult{}, fmt.Errorf("%w: unknown payment method %q", pricing.ErrInvalidInput, in.PaymentMethod)
	}
	if len(in.Lines) == 0 {
		s.recordCheckout(method, "rejected", 0)
		return CheckoutResult{}, ErrEmptyCart
	}

	ids := make([]uuid.UUID, 0, len(in.Lines))
	wanted := make(map[uuid.UUID]int, len(in.Lines))
	for _, l := range in.Lines {
		if _, seen := wanted[l.ProductID]; !seen {
			ids = append(ids, l.ProductID)
		}
		wanted[l.ProductID] += l.Quantity
	}
	products, err := s.Catalog.Lookup(ctx, ids)
	if err != nil {
		s.recordCheckout(method, "rejected", 0)
		return CheckoutResult{}, err
	}
	movements := make([]StockMovement, 0, len(ids))
	for _, id := range ids {
		p := products[id]
		if wanted[id] > p.StockQuantity {
			s.recordCheckout(method, "out_of_stock", 0)
			return CheckoutResult{}, fmt.Errorf("%w: %s has %d left", ErrOutOfStock, p.Name, p.StockQuantity)
		}
		movements = append(movements, StockMovement{ProductID: id, Quantity: wanted[id]})
	}

	inputs := make([]pricing.LineInput, len(in.Lines))
	for i, l := range in.Lines {
		inputs[i] = pricing.LineInput{
			UnitPrice:       products[l.ProductID].Price,
			Quantity:        l.Quantity,
			DiscountPercent: l.DiscountPercent,
		}
	}
	inputs = pricing.ApplyPolicy(inputs, in.Policy)
	results, totals, err := s.Engine.Aggregate(inputs)
	if err != nil {
		s.recordCheckout(method, "rejected", 0)
		return CheckoutResult{}, err
	}

	received, change, err := s.settle(method, in.PaymentReceived, totals.GrandTotal)
	if err != nil {
		s.recordCheckout(method, "payment_insufficient", 0)
		return CheckoutResult{}, err
	}

	draft := Sale{
		CustomerName:    strings.TrimSpace(in.CustomerName),
		CashierName:     strings.TrimSpace(in.CashierName),
		PaymentMethod:   method,
		PaymentReceived: received,
		ChangeAmount:    change,
		Subtotal:        totals.GrossAmount,
		TotalAmount:     totals.GrandTotal,
		InvoiceStatus:   statusFor(method),
		Notes:           buildNotes(in.CashierName, in.BankDetails),
		Lines:           make([]Line, len(inputs)),
	}
	for i, l := range in.Lines {
		pid := l.ProductID
		draft.Lines[i] = Line{
			ProductID:       &pid,
			ProductName:     products[pid].Name,
			UnitPrice:       inputs[i].UnitPrice,
			Quantity:        inputs[i].Quantity,
			DiscountPercent: inputs[i].DiscountPercent,
			Subtotal:        results[i].LineTotal,
		}
	}

	// The receipt must build before the sale commits; nothing after Create may fail.
	if _, err := s.document(draft, receipt.DefaultVisibility); err != nil {
		s.recordCheckout(method, "rejected", 0)
		return CheckoutResult{}, err
	}

	saved, err := s.Store.Create(ctx, draft, movements)
	if err != nil {
		result := "error"
		if errors.Is(err, ErrOutOfStock) {
			result = "out_of_stock"
		}
		s.recordCheckout(method, result, 0)
		return CheckoutResult{}, err
	}
	s.recordCheckout(method, "ok", saved.TotalAmount)
	s.Logger.Info().
		Str("sale_id", saved.ID.String()).
		Str("sale_number", saved.SaleNumber).
		Str("payment_method", string(method)).
		Int("lines", len(saved.Lines)).
		Float64("total", saved.TotalAmount).
		Msg("sale_completed")
	s.emit(ctx, events.TopicSaleCompleted, saved.ID, map[string]any{
		"saleNumber":  saved.SaleNumber,
		"totalAmount": saved.TotalAmount,
	})

	doc, err := s.document(saved, receipt.DefaultVisibility)
	if err != nil {
		s.Logger.Error().Err(err).Str("sale_id", saved.ID.String()).Msg("build receipt failed")
	}
	return CheckoutResult{Sale: saved, Totals: totals, Receipt: doc}, nil
}

// settle applies the payment rules: non-cash is always paid in full, cash
// must cover the rounded total.
func (s *Service) settle(method PaymentMethod, received, total float64) (float64, float64, error) {
	if method != PaymentCash {
		return total, 0, nil
	}
	if math.IsNaN(received) || received < pricing.Round(total) {
		return 0, 0, fmt.Errorf("%w: received %s, total %s", ErrPaymentInsufficient,
			s.formatter().Format(received), s.formatter().Format(total))
	}
	return received, math.Max(0, received-total), nil
}

// Get loads a sale by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Sale, error) {
	if s == nil || s.Store == nil {
		return Sale{}, errors.New("sale service not configured")
	}
	return s.Store.Get(ctx, id)
}

// EditLine is a sale line as corrected by the cashier. ProductID is nil for
// lines whose product has since been removed from the catalog.
type EditLine struct {
	ProductID       *uuid.UUID `json:"productId"`
	ProductName     string     `json:"productName" validate:"required"`
	UnitPrice       float64    `json:"unitPrice" validate:"gte=0"`
	Quantity        int        `json:"quantity" validate:"gt=0"`
	DiscountPercent float64    `json:"discountPercent"`
}

// EditResult reports the rewritten sale and how far the previous total was
// from the new one.
type EditResult struct {
	Sale           Sale                   `json:"sale"`
	Totals         pricing.InvoiceTotals  `json:"totals"`
	Reconciliation pricing.Reconciliation `json:"reconciliation"`
}

// EditItems replaces every line of a sale, recomputes it with the engine and
// overwrites the stored totals. Stock is not adjusted.
func (s *Service) EditItems(ctx context.Context, id uuid.UUID, lines []EditLine) (EditResult, error) {
	ctx, span := tracer.Start(ctx, "sale.EditItems")
	defer span.End()
	span.SetAttributes(attribute.String("sale.id", id.String()), attribute.Int("sale.lines", len(lines)))
	if s == nil || s.Store == nil {
		return EditResult{}, errors.New("sale service not configured")
	}
	if len(lines) == 0 {
		obs.RecordEdit("rejected")
		return EditResult{}, ErrEmptyCart
	}
	if s.Locks == nil {
		return s.editItems(ctx, id, lines)
	}
	var out EditResult
	err := s.Locks.Do(ctx, id.String(), func(ctx context.Context) error {
		var err error
		out, err = s.editItems(ctx, id, lines)
		return err
	})
	return out, err
}

func (s *Service) editItems(ctx context.Context, id uuid.UUID, lines []EditLine) (EditResult, error) {
	current, err := s.Store.Get(ctx, id)
	if err != nil {
		return EditResult{}, err
	}

	inputs := make([]pricing.LineInput, len(lines))
	for i, l := range lines {
		inputs[i] = pricing.LineInput{
			UnitPrice:       l.UnitPrice,
			Quantity:        l.Quantity,
			DiscountPercent: pricing.ResolveDiscount(l.DiscountPercent, nil),
		}
	}
	results, totals, err := s.Engine.Aggregate(inputs)
	if err != nil {
		obs.RecordEdit("rejected")
		return EditResult{}, err
	}

	updated := current
	updated.Lines = make([]Line, len(lines))
	for i, l := range lines {
		updated.Lines[i] = Line{
			ProductID:       l.ProductID,
			ProductName:     strings.TrimSpace(l.ProductName),
			UnitPrice:       inputs[i].UnitPrice,
			Quantity:        inputs[i].Quantity,
			DiscountPercent: inputs[i].DiscountPercent,
			Subtotal:        results[i].LineTotal,
		}
	}
	updated.Subtotal = totals.GrossAmount
	updated.TotalAmount = totals.GrandTotal
	if updated.PaymentMethod == PaymentCash {
		updated.ChangeAmount = math.Max(0, updated.PaymentReceived-totals.GrandTotal)
	} else {
		updated.PaymentReceived = totals.GrandTotal
		updated.ChangeAmount = 0
	}

	rec := pricing.ReconcileWithin(current.TotalAmount, totals.GrandTotal, s.Epsilon)
	saved, err := s.Store.ReplaceLines(ctx, updated)
	if err != nil {
		obs.RecordEdit("error")
		return EditResult{}, err
	}
	obs.RecordEdit("ok")
	evt := s.Logger.Info()
	if rec.Drifted() {
		evt = s.Logger.Warn()
	}
	evt.Str("sale_id", saved.ID.String()).
		Float64("previous_total", rec.Stored).
		Float64("total", rec.Recomputed).
		Float64("delta", rec.Delta).
		Msg("sale_items_edited")
	s.emit(ctx, events.TopicSaleItemsEdited, saved.ID, map[string]any{
		"previousTotal": rec.Stored,
		"totalAmount":   saved.TotalAmount,
	})
	return EditResult{Sale: saved, Totals: totals, Reconciliation: rec}, nil
}

// Invoice rebuilds the printable document of a persisted sale. The stored
// total is printed unless it drifted from the recomputation.
func (s *Service) Invoice(ctx context.Context, id uuid.UUID, vis receipt.Visibility) (receipt.Document, error) {
	if s == nil || s.Store == nil {
		return receipt.Document{}, errors.New("sale service not configured")
	}
	sl, err := s.Store.Get(ctx, id)
	if err != nil {
		return receipt.Document{}, err
	}
	doc, err := s.document(sl, vis)
	if err != nil {
		return receipt.Document{}, err
	}
	if rec := doc.Reconciliation; rec.Drifted() {
		s.reportDrift(ctx, sl, rec)
	}
	return doc, nil
}

// reportDrift records a drifted sale once per stored/recomputed pair, so
// repeated reprints do not pile up events or flush report caches.
func (s *Service) reportDrift(ctx context.Context, sl Sale, rec pricing.Reconciliation) {
	first := true
	if s.Events != nil {
		emitted, err := s.Events.EmitOnce(ctx, events.TopicSaleDrifted, sl.ID, rec)
		if err != nil {
			s.Logger.Error().Err(err).Str("topic", events.TopicSaleDrifted).Str("sale_id", sl.ID.String()).Msg("emit event failed")
		} else {
			first = emitted
		}
	}
	if !first {
		return
	}
	obs.RecordDrift("invoice")
	s.Logger.Warn().
		Str("sale_id", sl.ID.String()).
		Str("sale_number", sl.SaleNumber).
		Float64("stored", rec.Stored).
		Float64("recomputed", rec.Recomputed).
		Float64("delta", rec.Delta).
		Msg("sale_total_drift")
}

func (s *Service) document(sl Sale, vis receipt.Visibility) (receipt.Document, error) {
	lines := make([]receipt.Line, len(sl.Lines))
	for i, l := range sl.Lines {
		name := l.ProductName
		if name == "" {
			name = "Unknown Product"
		}
		lines[i] = receipt.Line{Name: name, Input: l.Input()}
	}
	cashier := sl.CashierName
	if cashier == "" {
		cashier = CashierFromNotes(sl.Notes)
	}
	stored := sl.TotalAmount
	return receipt.Build(receipt.Input{
		Engine:    s.Engine,
		Formatter: s.formatter(),
		Epsilon:   s.Epsilon,
		Store:     s.Settings,
		Sale: receipt.SaleInfo{
			SaleNumber:      sl.SaleNumber,
			CreatedAt:       sl.CreatedAt,
			CustomerName:    sl.CustomerName,
			CashierName:     cashier,
			PaymentMethod:   string(sl.PaymentMethod),
			PaymentReceived: sl.PaymentReceived,
			ChangeAmount:    sl.ChangeAmount,
			Notes:           sl.Notes,
		},
		Lines:       lines,
		Visibility:  vis,
		StoredTotal: &stored,
	})
}

// QuoteLine is a priced preview row.
type QuoteLine struct {
	Input     pricing.LineInput  `json:"input"`
	Result    pricing.LineResult `json:"result"`
	TotalText string             `json:"totalText"`
}

// Quote is a cart preview that is never persisted.
type Quote struct {
	Lines          []QuoteLine           `json:"lines"`
	Totals         pricing.InvoiceTotals `json:"totals"`
	GrandTotalText string                `json:"grandTotalText"`
}

// Quote prices lines under policy without touching stock or storage.
func (s *Service) Quote(lines []pricing.LineInput, policy *pricing.DiscountPolicy) (Quote, error) {
	resolved := pricing.ApplyPolicy(lines, policy)
	results, totals, err := s.Engine.Aggregate(resolved)
	if err != nil {
		return Quote{}, err
	}
	f := s.formatter()
	out := Quote{Lines: make([]QuoteLine, len(results)), Totals: totals, GrandTotalText: f.Format(totals.GrandTotal)}
	for i, r := range results {
		out.Lines[i] = QuoteLine{Input: resolved[i], Result: r, TotalText: f.Format(r.LineTotal)}
	}
	return out, nil
}

func (s *Service) formatter() pricing.Formatter {
	if s.Formatter.Symbol == "" {
		return pricing.Rupiah
	}
	return s.Formatter
}

func (s *Service) recordCheckout(method PaymentMethod, result string, total float64) {
	obs.RecordCheckout(string(method), result, total)
}

func (s *Service) emit(ctx context.Context, topic string, id uuid.UUID, payload any) {
	if _, err := s.Events.Emit(ctx, topic, id, payload); err != nil {
		s.Logger.Error().Err(err).Str("topic", topic).Str("sale_id", id.String()).Msg("emit event failed")
	}
}

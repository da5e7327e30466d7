package sale_test

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/catalog"
	"github.com/noah-isme/backend-kasir/internal/events"
	"github.com/noah-isme/backend-kasir/internal/pricing"
	"github.com/noah-isme/backend-kasir/internal/receipt"
	"github.com/noah-isme/backend-kasir/internal/sale"
)

const tol = 1e-6

type memStore struct {
	sales     map[uuid.UUID]sale.Sale
	movements []sale.StockMovement
	seq       int
	now       time.Time
}

func newMemStore() *memStore {
	return &memStore{sales: map[uuid.UUID]sale.Sale{}, now: time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)}
}

func (m *memStore) Create(_ context.Context, s sale.Sale, movements []sale.StockMovement) (sale.Sale, error) {
	m.seq++
	s.ID = uuid.New()
	s.SaleNumber = sale.SaleNumber("INV", m.now, int64(m.seq))
	s.CreatedAt = m.now
	s.UpdatedAt = m.now
	for i := range s.Lines {
		s.Lines[i].ID = uuid.New()
	}
	m.sales[s.ID] = s
	m.movements = append(m.movements, movements...)
	return s, nil
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (sale.Sale, error) {
	s, ok := m.sales[id]
	if !ok {
		return sale.Sale{}, sale.ErrSaleNotFound
	}
	return s, nil
}

func (m *memStore) ReplaceLines(_ context.Context, s sale.Sale) (sale.Sale, error) {
	if _, ok := m.sales[s.ID]; !ok {
		return sale.Sale{}, sale.ErrSaleNotFound
	}
	m.sales[s.ID] = s
	return s, nil
}

func (m *memStore) ListBetween(_ context.Context, from, to time.Time) ([]sale.Sale, error) {
	var out []sale.Sale
	for _, s := range m.sales {
		if !s.CreatedAt.Before(from) && !s.CreatedAt.After(to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SaleNumber > out[j].SaleNumber })
	return out, nil
}

type stubCatalog struct {
	products map[uuid.UUID]catalog.Product
}

func (c stubCatalog) Lookup(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error) {
	out := map[uuid.UUID]catalog.Product{}
	for _, id := range ids {
		p, ok := c.products[id]
		if !ok {
			return nil, catalog.ErrProductNotFound
		}
		out[id] = p
	}
	return out, nil
}

type fixture struct {
	svc    *sale.Service
	store  *memStore
	semen  catalog.Product
	paku   catalog.Product
	events []events.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: newMemStore(),
		semen: catalog.Product{ID: uuid.New(), SKU: "SMN-50", Name: "Semen 50kg", Price: 111_000, StockQuantity: 5},
		paku:  catalog.Product{ID: uuid.New(), SKU: "PKU-1", Name: "Paku 1kg", Price: 22_200, StockQuantity: 1},
	}
	bus := &events.Bus{}
	for _, topic := range events.TotalsTopics() {
		bus.Subscribe(topic, events.HandlerFunc(func(_ context.Context, ev events.Event) error {
			f.events = append(f.events, ev)
			return nil
		}))
	}
	f.svc = &sale.Service{
		Store:   f.store,
		Catalog: stubCatalog{products: map[uuid.UUID]catalog.Product{f.semen.ID: f.semen, f.paku.ID: f.paku}},
		Engine:  pricing.Default,
		Epsilon: pricing.Epsilon,
		Events:  bus,
		Logger:  zerolog.Nop(),
	}
	return f
}

func (f *fixture) cart() []sale.CartLine {
	return []sale.CartLine{
		{ProductID: f.semen.ID, Quantity: 2, DiscountPercent: 10},
		{ProductID: f.paku.ID, Quantity: 1},
	}
}

func TestCheckoutCash(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.Checkout(context.Background(), sale.CheckoutInput{
		CashierName:     "Sari",
		BankDetails:     "BCA 0000000000",
		PaymentMethod:   "cash",
		PaymentReceived: 250_000,
		Lines:           f.cart(),
	})
	require.NoError(t, err)

	s := out.Sale
	require.Equal(t, "INV-20261016-0001", s.SaleNumber)
	require.Equal(t, sale.PaymentCash, s.PaymentMethod)
	require.Equal(t, sale.InvoicePaid, s.InvoiceStatus)
	require.InDelta(t, 222_000, s.TotalAmount, tol)
	require.InDelta(t, 244_200, s.Subtotal, tol)
	require.InDelta(t, 28_000, s.ChangeAmount, tol)
	require.Equal(t, "Sales: Sari | Bank Details: BCA 0000000000", s.Notes)
	require.Len(t, s.Lines, 2)
	require.InDelta(t, 199_800, s.Lines[0].Subtotal, tol)
	require.Equal(t, "Semen 50kg", s.Lines[0].ProductName)

	require.Equal(t, "Rp\u00a0222.000", out.Receipt.TotalText)
	require.Equal(t, "Sari", out.Receipt.Sale.CashierName)
	require.Equal(t, pricing.Equal, out.Receipt.Reconciliation.Status)

	require.ElementsMatch(t, []sale.StockMovement{
		{ProductID: f.semen.ID, Quantity: 2},
		{ProductID: f.paku.ID, Quantity: 1},
	}, f.store.movements)
	require.Len(t, f.events, 1)
	require.Equal(t, events.TopicSaleCompleted, f.events[0].Topic)
}

func TestCheckoutCashMustCoverTotal(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Checkout(context.Background(), sale.CheckoutInput{
		PaymentMethod:   "cash",
		PaymentReceived: 200_000,
		Lines:           f.cart(),
	})
	require.ErrorIs(t, err, sale.ErrPaymentInsufficient)
	require.ErrorContains(t, err, "Rp\u00a0222.000")
	require.Empty(t, f.store.sales)

	out, err := f.svc.Checkout(context.Background(), sale.CheckoutInput{
		PaymentMethod:   "cash",
		PaymentReceived: 222_000,
		Lines:           f.cart(),
	})
	require.NoError(t, err)
	require.InDelta(t, 0, out.Sale.ChangeAmount, tol)
}

func TestCheckoutNonCashIsPaidInFull(t *testing.T) {
	for _, tc := range []struct {
		method string
		status sale.InvoiceStatus
	}{
		{"transfer", sale.InvoicePaid},
		{"qris", sale.InvoicePaid},
		{"debit", sale.InvoicePaid},
		{"credit", sale.InvoiceUnpaid},
	} {
		t.Run(tc.method, func(t *testing.T) {
			f := newFixture(t)
			out, err := f.svc.Checkout(context.Background(), sale.CheckoutInput{
				PaymentMethod: tc.method,
				Lines:         f.cart(),
			})
			require.NoError(t, err)
			require.Equal(t, tc.status, out.Sale.InvoiceStatus)
			require.Equal(t, out.Sale.TotalAmount, out.Sale.PaymentReceived)
			require.Zero(t, out.Sale.ChangeAmount)
		})
	}
}

func TestCheckoutGlobalPolicyOverridesLineDiscounts(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.Checkout(context.Background(), sale.CheckoutInput{
		PaymentMethod: "transfer",
		Policy:        &pricing.DiscountPolicy{GlobalPercent: 20, AppliesToAllLines: true},
		Lines:         []sale.CartLine{{ProductID: f.semen.ID, Quantity: 2, DiscountPercent: 5}},
	})
	require.NoError(t, err)
	require.Equal(t, 20.0, out.Sale.Lines[0].DiscountPercent)
	require.InDelta(t, 177_600, out.Sale.TotalAmount, tol)
}

func TestCheckoutRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Checkout(ctx, sale.CheckoutInput{})
	require.ErrorIs(t, err, sale.ErrEmptyCart)

	_, err = f.svc.Checkout(ctx, sale.CheckoutInput{
		PaymentMethod: "barter",
		Lines:         f.cart(),
	})
	require.ErrorIs(t, err, pricing.ErrInvalidInput)

	_, err = f.svc.Checkout(ctx, sale.CheckoutInput{
		PaymentMethod: "transfer",
		Lines:         []sale.CartLine{{ProductID: uuid.New(), Quantity: 1}},
	})
	require.ErrorIs(t, err, catalog.ErrProductNotFound)

	_, err = f.svc.Checkout(ctx, sale.CheckoutInput{
		PaymentMethod: "transfer",
		Lines:         []sale.CartLine{{ProductID: f.paku.ID, Quantity: 2}},
	})
	require.ErrorIs(t, err, sale.ErrOutOfStock)

	// quantities of repeated products are summed before the stock check
	_, err = f.svc.Checkout(ctx, sale.CheckoutInput{
		PaymentMethod: "transfer",
		Lines: []sale.CartLine{
			{ProductID: f.semen.ID, Quantity: 3},
			{ProductID: f.semen.ID, Quantity: 3},
		},
	})
	require.ErrorIs(t, err, sale.ErrOutOfStock)

	_, err = f.svc.Checkout(ctx, sale.CheckoutInput{
		PaymentMethod: "transfer",
		Lines:         []sale.CartLine{{ProductID: f.semen.ID, Quantity: 0}},
	})
	require.ErrorIs(t, err, pricing.ErrInvalidInput)
	require.Empty(t, f.store.sales)
}

func TestEditItemsOverwritesTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out, err := f.svc.Checkout(ctx, sale.CheckoutInput{
		PaymentMethod:   "cash",
		PaymentReceived: 250_000,
		Lines:           f.cart(),
	})
	require.NoError(t, err)

	res, err := f.svc.EditItems(ctx, out.Sale.ID, []sale.EditLine{
		{ProductID: &f.semen.ID, ProductName: "Semen 50kg", UnitPrice: 111_000, Quantity: 1, DiscountPercent: 150},
	})
	require.NoError(t, err)
	require.Equal(t, 100.0, res.Sale.Lines[0].DiscountPercent)
	require.InDelta(t, 0, res.Sale.TotalAmount, tol)
	require.InDelta(t, 250_000, res.Sale.ChangeAmount, tol)
	require.True(t, res.Reconciliation.Drifted())
	require.InDelta(t, -222_000, res.Reconciliation.Delta, tol)

	stored, err := f.svc.Get(ctx, out.Sale.ID)
	require.NoError(t, err)
	require.Equal(t, res.Sale.TotalAmount, stored.TotalAmount)
	require.Equal(t, events.TopicSaleItemsEdited, f.events[len(f.events)-1].Topic)

	_, err = f.svc.EditItems(ctx, uuid.New(), []sale.EditLine{{ProductName: "x", UnitPrice: 1, Quantity: 1}})
	require.ErrorIs(t, err, sale.ErrSaleNotFound)
	_, err = f.svc.EditItems(ctx, out.Sale.ID, nil)
	require.ErrorIs(t, err, sale.ErrEmptyCart)
}

func TestEditItemsNonCashFollowsTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out, err := f.svc.Checkout(ctx, sale.CheckoutInput{PaymentMethod: "qris", Lines: f.cart()})
	require.NoError(t, err)

	res, err := f.svc.EditItems(ctx, out.Sale.ID, []sale.EditLine{
		{ProductName: "Paku 1kg", UnitPrice: 22_200, Quantity: 3},
	})
	require.NoError(t, err)
	require.InDelta(t, 66_600, res.Sale.TotalAmount, tol)
	require.Equal(t, res.Sale.TotalAmount, res.Sale.PaymentReceived)
	require.Nil(t, res.Sale.Lines[0].ProductID)
}

type recordingLocker struct {
	keys []string
	err  error
}

func (l *recordingLocker) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return l.err
	}
	return fn(ctx)
}

func TestEditItemsHoldsSaleLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out, err := f.svc.Checkout(ctx, sale.CheckoutInput{PaymentMethod: "debit", Lines: f.cart()})
	require.NoError(t, err)

	locks := &recordingLocker{}
	f.svc.Locks = locks
	_, err = f.svc.EditItems(ctx, out.Sale.ID, []sale.EditLine{{ProductName: "Paku 1kg", UnitPrice: 22_200, Quantity: 1}})
	require.NoError(t, err)
	require.Equal(t, []string{out.Sale.ID.String()}, locks.keys)

	locks.err = context.DeadlineExceeded
	_, err = f.svc.EditItems(ctx, out.Sale.ID, []sale.EditLine{{ProductName: "Paku 1kg", UnitPrice: 22_200, Quantity: 2}})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	stored, err := f.svc.Get(ctx, out.Sale.ID)
	require.NoError(t, err)
	require.InDelta(t, 22_200, stored.TotalAmount, tol)
}

func TestInvoiceReprintsAndDetectsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out, err := f.svc.Checkout(ctx, sale.CheckoutInput{PaymentMethod: "transfer", CashierName: "Budi", Lines: f.cart()})
	require.NoError(t, err)

	doc, err := f.svc.Invoice(ctx, out.Sale.ID, receipt.DefaultVisibility)
	require.NoError(t, err)
	require.Equal(t, pricing.Equal, doc.Reconciliation.Status)
	require.Equal(t, out.Sale.TotalAmount, doc.Total)
	require.Equal(t, "16/10/2026", doc.Date)

	// a stored total written by an older client
	tampered := f.store.sales[out.Sale.ID]
	tampered.TotalAmount = 230_000
	tampered.CashierName = ""
	f.store.sales[out.Sale.ID] = tampered

	doc, err = f.svc.Invoice(ctx, out.Sale.ID, receipt.Visibility{ShowPPN: true})
	require.NoError(t, err)
	require.True(t, doc.Reconciliation.Drifted())
	require.InDelta(t, 222_000, doc.Total, tol)
	require.Equal(t, "Budi", doc.Sale.CashierName)
	require.Equal(t, events.TopicSaleDrifted, f.events[len(f.events)-1].Topic)

	_, err = f.svc.Invoice(ctx, uuid.New(), receipt.DefaultVisibility)
	require.ErrorIs(t, err, sale.ErrSaleNotFound)
}

func TestQuote(t *testing.T) {
	f := newFixture(t)
	q, err := f.svc.Quote([]pricing.LineInput{
		{UnitPrice: 111_000, Quantity: 2, DiscountPercent: 10},
		{UnitPrice: 111_000, Quantity: 1, DiscountPercent: -5},
	}, nil)
	require.NoError(t, err)
	require.Len(t, q.Lines, 2)
	require.Equal(t, "Rp\u00a0199.800", q.Lines[0].TotalText)
	require.Zero(t, q.Lines[1].Input.DiscountPercent)
	require.Equal(t, "Rp\u00a0310.800", q.GrandTotalText)

	_, err = f.svc.Quote(nil, nil)
	require.NoError(t, err)
}

func TestCheckoutAndInvoiceWithNonDefaultRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eng, err := pricing.NewEngine(pricing.TaxRate{Percent: 12})
	require.NoError(t, err)
	f.svc.Engine = eng

	out, err := f.svc.Checkout(ctx, sale.CheckoutInput{
		PaymentMethod: "transfer",
		Lines:         []sale.CartLine{{ProductID: f.semen.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	require.InDelta(t, 111_000, out.Sale.TotalAmount, tol)
	require.InDelta(t, 111_000*12.0/112, out.Receipt.Totals.TotalTax, tol)
	require.Zero(t, out.Receipt.DPPNilaiLain)
	require.Zero(t, out.Receipt.PPN12)
	require.Len(t, f.store.sales, 1)

	doc, err := f.svc.Invoice(ctx, out.Sale.ID, receipt.Visibility{ShowPPN: true})
	require.NoError(t, err)
	require.Equal(t, pricing.Equal, doc.Reconciliation.Status)
	rows := doc.VisibleRows()
	require.Len(t, rows, 2)
	require.Equal(t, "PPN 12%", rows[0].Label)
	require.Zero(t, doc.Items[0].PPN12)
}

func TestCheckoutCashAtRoundedBoundary(t *testing.T) {
	f := newFixture(t)
	odd := catalog.Product{ID: uuid.New(), SKU: "CAT-5", Name: "Cat Tembok 5kg", Price: 199_800.4, StockQuantity: 3}
	f.svc.Catalog = stubCatalog{products: map[uuid.UUID]catalog.Product{odd.ID: odd}}

	out, err := f.svc.Checkout(context.Background(), sale.CheckoutInput{
		PaymentMethod:   "cash",
		PaymentReceived: 199_800,
		Lines:           []sale.CartLine{{ProductID: odd.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	require.InDelta(t, 199_800.4, out.Sale.TotalAmount, tol)
	require.Equal(t, 199_800.0, out.Sale.PaymentReceived)
	require.Zero(t, out.Sale.ChangeAmount)
	require.Equal(t, "Rp\u00a0199.800", out.Receipt.TotalText)

	_, err = f.svc.Checkout(context.Background(), sale.CheckoutInput{
		PaymentMethod:   "cash",
		PaymentReceived: 199_799,
		Lines:           []sale.CartLine{{ProductID: odd.ID, Quantity: 1}},
	})
	require.ErrorIs(t, err, sale.ErrPaymentInsufficient)
}

type eventLog struct {
	events []events.Event
}

func (l *eventLog) InsertEvent(_ context.Context, ev events.Event) error {
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) HasEvent(_ context.Context, topic string, id uuid.UUID, payload json.RawMessage) (bool, error) {
	for _, ev := range l.events {
		if ev.Topic == topic && ev.AggregateID == id && string(ev.Payload) == string(payload) {
			return true, nil
		}
	}
	return false, nil
}

func TestInvoiceReportsDriftOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	log := &eventLog{}
	f.svc.Events.Store = log
	out, err := f.svc.Checkout(ctx, sale.CheckoutInput{PaymentMethod: "transfer", Lines: f.cart()})
	require.NoError(t, err)

	tampered := f.store.sales[out.Sale.ID]
	tampered.TotalAmount = 230_000
	f.store.sales[out.Sale.ID] = tampered

	drifted := func() int {
		n := 0
		for _, ev := range log.events {
			if ev.Topic == events.TopicSaleDrifted {
				n++
			}
		}
		return n
	}
	for i := 0; i < 3; i++ {
		doc, err := f.svc.Invoice(ctx, out.Sale.ID, receipt.DefaultVisibility)
		require.NoError(t, err)
		require.True(t, doc.Reconciliation.Drifted())
	}
	require.Equal(t, 1, drifted())

	tampered.TotalAmount = 240_000
	f.store.sales[out.Sale.ID] = tampered
	_, err = f.svc.Invoice(ctx, out.Sale.ID, receipt.DefaultVisibility)
	require.NoError(t, err)
	require.Equal(t, 2, drifted())
}

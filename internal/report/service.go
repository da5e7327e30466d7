package report

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/noah-isme/backend-kasir/internal/cache"
	"github.com/noah-isme/backend-kasir/internal/catalog"
	"github.com/noah-isme/backend-kasir/internal/pricing"
	"github.com/noah-isme/backend-kasir/internal/sale"
)

// SaleLister returns the persisted sales created in an inclusive range.
type SaleLister interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]sale.Sale, error)
}

// ProductLister returns every product ordered by ascending stock.
type ProductLister interface {
	ListByStock(ctx context.Context) ([]catalog.Product, error)
}

// Service builds cached sales and stock reports.
type Service struct {
	Store     SaleLister
	Products  ProductLister
	Cache     *cache.JSON
	Engine    pricing.Engine
	Formatter pricing.Formatter
	Epsilon   float64
	Location  *time.Location
	Now       func() time.Time
}

// MethodTotals aggregates sales paid with one method.
type MethodTotals struct {
	Method  sale.PaymentMethod `json:"method"`
	Count   int                `json:"count"`
	Revenue float64            `json:"revenue"`
}

// Summary is the headline figures of a date range. Revenue sums stored
// totals as recorded at checkout or last edit.
type Summary struct {
	From              string         `json:"from"`
	To                string         `json:"to"`
	TotalSales        int            `json:"totalSales"`
	TotalRevenue      float64        `json:"totalRevenue"`
	AvgOrderValue     float64        `json:"avgOrderValue"`
	TotalRevenueText  string         `json:"totalRevenueText"`
	AvgOrderValueText string         `json:"avgOrderValueText"`
	ByPaymentMethod   []MethodTotals `json:"byPaymentMethod"`
	DriftedSales      []string       `json:"driftedSales"`
}

// ProductRow is one line of the stock report.
type ProductRow struct {
	catalog.Product
	PriceText string `json:"priceText"`
	LowStock  bool   `json:"lowStock"`
	Status    string `json:"status"`
}

// ProductsReport lists every product, inactive and out-of-stock included,
// lowest stock first.
type ProductsReport struct {
	Date          string       `json:"date"`
	TotalProducts int          `json:"totalProducts"`
	LowStock      int          `json:"lowStock"`
	OutOfStock    int          `json:"outOfStock"`
	Products      []ProductRow `json:"products"`
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) location() *time.Location {
	if s != nil && s.Location != nil {
		return s.Location
	}
	return time.UTC
}

func (s *Service) formatter() pricing.Formatter {
	if s.Formatter.Symbol == "" {
		return pricing.Rupiah
	}
	return s.Formatter
}

// Range resolves YYYY-MM-DD bounds to an inclusive time range covering
// whole days. Empty bounds default to today.
func (s *Service) Range(fromStr, toStr string) (time.Time, time.Time, error) {
	loc := s.location()
	today := s.Today()
	if fromStr == "" {
		fromStr = today
	}
	if toStr == "" {
		toStr = today
	}
	from, err := time.ParseInLocation(time.DateOnly, fromStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid from date")
	}
	to, err := time.ParseInLocation(time.DateOnly, toStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid to date")
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("from must not be after to")
	}
	return from, to.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
}

// Summary returns the sales figures between from and to inclusive.
func (s *Service) Summary(ctx context.Context, from, to time.Time) (Summary, error) {
	if s == nil || s.Store == nil {
		return Summary{}, errors.New("report service not configured")
	}
	key := s.Cache.Key("summary", from.Format(time.DateOnly), to.Format(time.DateOnly))
	var cached Summary
	if ok, _ := s.Cache.Get(ctx, key, &cached); ok {
		return cached, nil
	}
	sales, err := s.Store.ListBetween(ctx, from, to)
	if err != nil {
		return Summary{}, err
	}
	out := s.summarize(sales)
	out.From = from.Format(time.DateOnly)
	out.To = to.Format(time.DateOnly)
	_ = s.Cache.Set(ctx, key, out)
	return out, nil
}

func (s *Service) summarize(sales []sale.Sale) Summary {
	out := Summary{TotalSales: len(sales), ByPaymentMethod: []MethodTotals{}, DriftedSales: []string{}}
	methods := map[sale.PaymentMethod]*MethodTotals{}
	for _, sl := range sales {
		out.TotalRevenue += sl.TotalAmount
		m, ok := methods[sl.PaymentMethod]
		if !ok {
			m = &MethodTotals{Method: sl.PaymentMethod}
			methods[sl.PaymentMethod] = m
		}
		m.Count++
		m.Revenue += sl.TotalAmount
		if len(sl.Lines) == 0 {
			continue
		}
		_, totals, err := s.Engine.Aggregate(sl.Inputs())
		if err != nil || pricing.ReconcileWithin(sl.TotalAmount, totals.GrandTotal, s.Epsilon).Drifted() {
			out.DriftedSales = append(out.DriftedSales, sl.SaleNumber)
		}
	}
	if out.TotalSales > 0 {
		out.AvgOrderValue = out.TotalRevenue / float64(out.TotalSales)
	}
	for _, m := range methods {
		out.ByPaymentMethod = append(out.ByPaymentMethod, *m)
	}
	sort.Slice(out.ByPaymentMethod, func(i, j int) bool {
		return out.ByPaymentMethod[i].Method < out.ByPaymentMethod[j].Method
	})
	f := s.formatter()
	out.TotalRevenueText = f.Format(out.TotalRevenue)
	out.AvgOrderValueText = f.Format(out.AvgOrderValue)
	return out
}

// ProductsReport returns the stock report as of now. It is cached until the
// next sale moves stock.
func (s *Service) ProductsReport(ctx context.Context) (ProductsReport, error) {
	if s == nil || s.Products == nil {
		return ProductsReport{}, errors.New("report service not configured")
	}
	today := s.Today()
	key := s.Cache.Key("products", today)
	var cached ProductsReport
	if ok, _ := s.Cache.Get(ctx, key, &cached); ok {
		return cached, nil
	}
	products, err := s.Products.ListByStock(ctx)
	if err != nil {
		return ProductsReport{}, err
	}
	f := s.formatter()
	out := ProductsReport{Date: today, TotalProducts: len(products), Products: make([]ProductRow, 0, len(products))}
	for _, p := range products {
		row := ProductRow{Product: p, PriceText: f.Format(p.Price), LowStock: p.LowStock(), Status: p.Status()}
		if row.LowStock {
			out.LowStock++
		}
		if p.StockQuantity <= 0 {
			out.OutOfStock++
		}
		out.Products = append(out.Products, row)
	}
	_ = s.Cache.Set(ctx, key, out)
	return out, nil
}

// Today is the current date in the report location.
func (s *Service) Today() string {
	return s.now().In(s.location()).Format(time.DateOnly)
}

// Sales returns the raw sales of a range for export.
func (s *Service) Sales(ctx context.Context, from, to time.Time) ([]sale.Sale, error) {
	if s == nil || s.Store == nil {
		return nil, errors.New("report service not configured")
	}
	return s.Store.ListBetween(ctx, from, to)
}

// Invalidate drops every cached report.
func (s *Service) Invalidate(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.Cache.Invalidate(ctx)
}

package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/noah-isme/backend-kasir/internal/app"
	"github.com/noah-isme/backend-kasir/internal/config"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/pricing"
	"github.com/noah-isme/backend-kasir/internal/sale"
)

// recompute_totals recalculates stored sale totals from their lines and
// reports every sale whose total drifted. With -apply the recomputed totals
// are written back.
func main() {
	var (
		fromStr = flag.String("from", "", "first day to scan, YYYY-MM-DD (default today)")
		toStr   = flag.String("to", "", "last day to scan, YYYY-MM-DD (default from)")
		idsList = flag.String("ids", "", "comma separated sale ids; overrides the date range")
		apply   = flag.Bool("apply", false, "overwrite drifted totals instead of only reporting them")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := obs.NewLogger("console", "info")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	deps, closeDeps, err := app.Connect(ctx, cfg, logger, app.Options{ApplicationName: "kasir-recompute"})
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer closeDeps()

	svcs, err := app.NewServices(deps)
	if err != nil {
		log.Fatalf("initialise services: %v", err)
	}

	baseCtx := context.Background()
	sales, err := loadSales(baseCtx, svcs, *idsList, *fromStr, *toStr)
	if err != nil {
		log.Fatalf("load sales: %v", err)
	}

	drifted := 0
	for _, sl := range sales {
		rec, err := recompute(svcs.Sale.Engine, sl, cfg.ReconcileEpsilon)
		if err != nil {
			logger.Error().Err(err).Str("sale_number", sl.SaleNumber).Msg("recompute sale")
			continue
		}
		if !rec.Drifted() {
			continue
		}
		drifted++
		logger.Warn().
			Str("sale_number", sl.SaleNumber).
			Float64("stored", rec.Stored).
			Float64("recomputed", rec.Recomputed).
			Float64("delta", rec.Delta).
			Msg("total drift")
		if !*apply {
			continue
		}
		if _, err := svcs.Sale.EditItems(baseCtx, sl.ID, editLines(sl.Lines)); err != nil {
			logger.Error().Err(err).Str("sale_number", sl.SaleNumber).Msg("overwrite totals")
		}
	}

	event := logger.Info().Int("scanned", len(sales)).Int("drifted", drifted)
	if !*apply && drifted > 0 {
		event.Msg("dry run; rerun with -apply to overwrite")
		return
	}
	event.Msg("recompute finished")
}

func loadSales(ctx context.Context, svcs *app.Services, ids, fromStr, toStr string) ([]sale.Sale, error) {
	if strings.TrimSpace(ids) != "" {
		parsed, err := app.SaleIDs(strings.Split(ids, ","))
		if err != nil {
			return nil, err
		}
		out := make([]sale.Sale, 0, len(parsed))
		for _, id := range parsed {
			sl, err := svcs.Sale.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			out = append(out, sl)
		}
		return out, nil
	}
	if toStr == "" {
		toStr = fromStr
	}
	from, to, err := svcs.Report.Range(fromStr, toStr)
	if err != nil {
		return nil, err
	}
	return svcs.Report.Sales(ctx, from, to)
}

func recompute(eng pricing.Engine, sl sale.Sale, epsilon float64) (pricing.Reconciliation, error) {
	_, totals, err := eng.Aggregate(sl.Inputs())
	if err != nil {
		return pricing.Reconciliation{}, err
	}
	return pricing.ReconcileWithin(sl.TotalAmount, totals.GrandTotal, epsilon), nil
}

func editLines(lines []sale.Line) []sale.EditLine {
	out := make([]sale.EditLine, len(lines))
	for i, l := range lines {
		out[i] = sale.EditLine{
			ProductID:       l.ProductID,
			ProductName:     l.ProductName,
			UnitPrice:       l.UnitPrice,
			Quantity:        l.Quantity,
			DiscountPercent: l.DiscountPercent,
		}
	}
	return out
}

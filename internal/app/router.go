package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/noah-isme/backend-kasir/internal/cache"
	"github.com/noah-isme/backend-kasir/internal/catalog"
	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/config"
	"github.com/noah-isme/backend-kasir/internal/events"
	"github.com/noah-isme/backend-kasir/internal/health"
	"github.com/noah-isme/backend-kasir/internal/lock"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/pricing"
	"github.com/noah-isme/backend-kasir/internal/ratelimit"
	"github.com/noah-isme/backend-kasir/internal/receipt"
	"github.com/noah-isme/backend-kasir/internal/report"
	"github.com/noah-isme/backend-kasir/internal/sale"
	"github.com/noah-isme/backend-kasir/internal/security"
)

// RouterOptions carries the observability toggles resolved by the caller.
type RouterOptions struct {
	Tracing      bool
	MaxBodyBytes int64
	HSTSMaxAge   int
	HTTPMetrics  *obs.HTTPMetrics
	Metrics      http.Handler
	Pprof        http.Handler
	DBTimeout    time.Duration
	RedisTimeout time.Duration
}

// Services groups the domain services built from Dependencies.
type Services struct {
	Catalog *catalog.Service
	Sale    *sale.Service
	Report  *report.Service
	Events  *events.Bus
}

// Formatter picks the currency formatter for a configured currency code.
func Formatter(code string) pricing.Formatter {
	if code == "" || code == "IDR" {
		return pricing.Rupiah
	}
	return pricing.Formatter{Symbol: code, Locale: language.Indonesian}
}

// ReceiptSettings maps the configured shop identity onto the receipt header.
func ReceiptSettings(s config.StoreSettings) receipt.StoreSettings {
	return receipt.StoreSettings{
		Name:             s.Name,
		Address:          s.Address,
		Phone:            s.Phone,
		Email:            s.Email,
		Website:          s.Website,
		Header:           s.ReceiptHeader,
		Footer:           s.ReceiptFooter,
		PaymentNoteLine1: s.PaymentNoteLine1,
		PaymentNoteLine2: s.PaymentNoteLine2,
	}
}

// NewServices builds the catalog, sale and report services and subscribes the
// cache invalidators to the event bus.
func NewServices(d *Dependencies) (*Services, error) {
	cfg := d.Config
	engine, err := pricing.NewEngine(pricing.TaxRate{Percent: cfg.TaxRatePercent})
	if err != nil {
		return nil, err
	}
	formatter := Formatter(cfg.CurrencyCode)

	bus := &events.Bus{}
	if d.DB != nil {
		bus.Store = &events.PGStore{Pool: d.DB}
	}

	catalogSvc := &catalog.Service{
		Store:        catalog.PGStore{Pool: d.DB},
		Cache:        cache.NewJSON(d.Redis, "catalog", cfg.CatalogCacheTTL),
		DefaultLimit: 20,
		MaxLimit:     100,
	}
	saleStore := &sale.PGStore{Pool: d.DB, Prefix: cfg.SaleNumberPrefix}
	saleSvc := &sale.Service{
		Store:     saleStore,
		Catalog:   catalogSvc,
		Engine:    engine,
		Formatter: formatter,
		Epsilon:   cfg.ReconcileEpsilon,
		Settings:  ReceiptSettings(cfg.Store),
		Events:    bus,
		Locks:     lock.Redis{Client: d.Redis, Prefix: "lock:sale", TTL: 15 * time.Second},
		Logger:    d.Logger.With().Str("module", "sale").Logger(),
	}
	reportSvc := &report.Service{
		Store:     saleStore,
		Products:  catalog.PGStore{Pool: d.DB},
		Cache:     cache.NewJSON(d.Redis, "report", cfg.ReportCacheTTL),
		Engine:    engine,
		Formatter: formatter,
		Epsilon:   cfg.ReconcileEpsilon,
		Location:  time.UTC,
	}

	invalidate := func(name string, fn func(context.Context) error) events.Handler {
		return events.HandlerFunc(func(ctx context.Context, ev events.Event) error {
			if err := fn(ctx); err != nil {
				d.Logger.Warn().Err(err).Str("cache", name).Str("topic", ev.Topic).Msg("invalidate cache")
			}
			return nil
		})
	}
	for _, topic := range events.StockTopics() {
		bus.Subscribe(topic, invalidate("catalog", catalogSvc.Invalidate))
	}
	for _, topic := range events.TotalsTopics() {
		bus.Subscribe(topic, invalidate("report", reportSvc.Invalidate))
	}

	return &Services{Catalog: catalogSvc, Sale: saleSvc, Report: reportSvc, Events: bus}, nil
}

// NewRouter assembles the HTTP surface of the cashier backend.
func NewRouter(d *Dependencies, svcs *Services, opts RouterOptions) http.Handler {
	cfg := d.Config

	catalogHandler := &catalog.Handler{Svc: svcs.Catalog}
	saleHandler := &sale.Handler{Svc: svcs.Sale, Validate: d.Validator}
	reportHandler := &report.Handler{Svc: svcs.Report, Logger: d.Logger.With().Str("module", "report").Logger()}
	idem := common.Idem{R: d.Redis, TTL: cfg.IdempotencyTTL}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if opts.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if opts.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: opts.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: d.Logger}.Middleware)
	r.Use(security.Headers{HSTSMaxAge: opts.HSTSMaxAge}.Middleware)
	r.Use(security.BodyLimit{Max: maxBody(opts.MaxBodyBytes)}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Content-Disposition", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}
	if opts.Pprof != nil {
		r.Mount("/debug/pprof", opts.Pprof)
	}

	healthHandler := health.Handler{Probes: []health.Probe{
		{Name: "db", Timeout: orDefault(opts.DBTimeout, 500*time.Millisecond), Check: func(ctx context.Context) error {
			if d.DB == nil {
				return errors.New("db not configured")
			}
			return d.DB.Ping(ctx)
		}},
		{Name: "redis", Timeout: orDefault(opts.RedisTimeout, 300*time.Millisecond), Check: func(ctx context.Context) error {
			if d.Redis == nil {
				return errors.New("redis not configured")
			}
			return d.Redis.Ping(ctx).Err()
		}},
		health.PricingProbe(svcs.Sale.Engine),
	}}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	checkoutChain := []func(http.Handler) http.Handler{idem.Middleware}
	if d.Limiter != nil {
		limit := ratelimit.Handler{
			Limiter: d.Limiter,
			OnError: func(err error) { d.Logger.Warn().Err(err).Msg("checkout rate limiter unavailable") },
		}
		checkoutChain = append([]func(http.Handler) http.Handler{limit.Middleware}, checkoutChain...)
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.Get("/products", catalogHandler.Products)
		v.Post("/pricing/quote", saleHandler.Quote)

		v.Route("/sales", func(s chi.Router) {
			s.With(checkoutChain...).Post("/", saleHandler.Checkout)
			s.Get("/{id}", saleHandler.Get)
			s.With(idem.Middleware).Put("/{id}/items", saleHandler.EditItems)
			s.Get("/{id}/invoice", saleHandler.Invoice)
		})

		v.Route("/reports", func(rp chi.Router) {
			rp.Get("/sales", reportHandler.Sales)
			rp.Get("/sales/export", reportHandler.Export)
			rp.Get("/products", reportHandler.Products)
			rp.Get("/products/export", reportHandler.ProductsExport)
		})
	})

	return r
}

// SaleIDs parses the ids accepted by the maintenance tools.
func SaleIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func maxBody(n int64) int64 {
	if n <= 0 {
		return 1 << 20
	}
	return n
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

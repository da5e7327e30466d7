package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	validator "github.com/go-playground/validator/v10"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/noah-isme/backend-kasir/internal/config"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/ratelimit"
	"github.com/noah-isme/backend-kasir/migrations"
)

// Dependencies enumerates the shared clients every module is wired from.
type Dependencies struct {
	Config        *config.Config
	Logger        zerolog.Logger
	DB            *pgxpool.Pool
	Redis         *redis.Client
	Validator     *validator.Validate
	Limiter       *limiter.Limiter
	MeterProvider metric.MeterProvider
}

// Options toggles optional instrumentation while connecting.
type Options struct {
	ApplicationName string
	Tracing         bool
	Metrics         bool
}

// Connect opens the database pool and Redis client and builds the shared
// helpers. The returned func releases every connection.
func Connect(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, func(), error) {
	if cfg == nil {
		return nil, nil, errors.New("app: config is required")
	}
	d := &Dependencies{
		Config:        cfg,
		Logger:        logger,
		Validator:     validator.New(validator.WithRequiredStructEnabled()),
		MeterProvider: otel.GetMeterProvider(),
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database config: %w", err)
	}
	if opts.Tracing {
		poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	if opts.ApplicationName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = opts.ApplicationName
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	d.DB = pool

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if opts.Tracing {
		if err := redisotel.InstrumentTracing(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis tracing")
		}
	}
	if opts.Metrics {
		if err := redisotel.InstrumentMetrics(client, redisotel.WithMeterProvider(d.MeterProvider)); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		pool.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	d.Redis = client

	if d.Limiter, err = NewCheckoutLimiter(client, cfg.CheckoutRateSpec); err != nil {
		_ = client.Close()
		pool.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
		pool.Close()
	}
	return d, cleanup, nil
}

// NewCheckoutLimiter wires the checkout rate limiter backed by Redis.
func NewCheckoutLimiter(rdb *redis.Client, rate string) (*limiter.Limiter, error) {
	if strings.TrimSpace(rate) == "" {
		return nil, nil
	}
	lim, err := ratelimit.New(rdb, "ratelimit:checkout", rate)
	if err != nil {
		return nil, fmt.Errorf("checkout rate limit %q: %w", rate, err)
	}
	return lim, nil
}

// NewMigrator returns a migrate instance reading the embedded schema.
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	return migrate.NewWithSourceInstance("iofs", src, MigrateURL(databaseURL))
}

// MigrateURL rewrites a postgres URL to the scheme of the pgx/v5 migrate driver.
func MigrateURL(databaseURL string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}

// RunMigrations applies every pending up migration.
func RunMigrations(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	TaxRatePercent   float64
	CurrencyCode     string
	ReconcileEpsilon float64
	SaleNumberPrefix string

	IdempotencyTTL   time.Duration
	ReportCacheTTL   time.Duration
	CatalogCacheTTL  time.Duration
	CheckoutRateSpec string

	Store StoreSettings
}

// StoreSettings is the printed identity of the shop. It is handed to the
// receipt builder explicitly rather than read from global state.
type StoreSettings struct {
	Name             string
	Address          string
	Phone            string
	Email            string
	Website          string
	ReceiptHeader    string
	ReceiptFooter    string
	PaymentNoteLine1 string
	PaymentNoteLine2 string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		TaxRatePercent:     parseFloat(k.String("PRICING_TAX_RATE_PERCENT"), 11),
		CurrencyCode:       strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "IDR")),
		ReconcileEpsilon:   parseFloat(k.String("RECONCILE_EPSILON"), 0.5),
		SaleNumberPrefix:   valueOrDefault(k.String("SALE_NUMBER_PREFIX"), "INV"),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		ReportCacheTTL:     parseDuration(k.String("REPORT_CACHE_TTL"), "5m"),
		CatalogCacheTTL:    parseDuration(k.String("CATALOG_CACHE_TTL"), "1m"),
		CheckoutRateSpec:   valueOrDefault(k.String("CHECKOUT_RATE_LIMIT"), "120-M"),
		Store: StoreSettings{
			Name:             strings.TrimSpace(k.String("STORE_NAME")),
			Address:          strings.TrimSpace(k.String("STORE_ADDRESS")),
			Phone:            strings.TrimSpace(k.String("STORE_PHONE")),
			Email:            strings.TrimSpace(k.String("STORE_EMAIL")),
			Website:          strings.TrimSpace(k.String("STORE_WEBSITE")),
			ReceiptHeader:    strings.TrimSpace(k.String("RECEIPT_HEADER")),
			ReceiptFooter:    strings.TrimSpace(k.String("RECEIPT_FOOTER")),
			PaymentNoteLine1: strings.TrimSpace(k.String("PAYMENT_NOTE_LINE1")),
			PaymentNoteLine2: strings.TrimSpace(k.String("PAYMENT_NOTE_LINE2")),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.TaxRatePercent <= 0 {
		return nil, fmt.Errorf("PRICING_TAX_RATE_PERCENT must be positive, got %v", cfg.TaxRatePercent)
	}
	if cfg.ReconcileEpsilon <= 0 || cfg.ReconcileEpsilon > 0.5 {
		return nil, fmt.Errorf("RECONCILE_EPSILON must be in (0, 0.5], got %v", cfg.ReconcileEpsilon)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}
	return f
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"DATABASE_URL":             "postgres://localhost/kasir",
		"REDIS_URL":                "redis://localhost:6379/0",
		"PRICING_TAX_RATE_PERCENT": "",
		"RECONCILE_EPSILON":        "",
		"STORE_NAME":               "Toko Maju",
	})
	require.NoError(t, err)
	require.Equal(t, 11.0, cfg.TaxRatePercent)
	require.Equal(t, 0.5, cfg.ReconcileEpsilon)
	require.Equal(t, "IDR", cfg.CurrencyCode)
	require.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	require.Equal(t, "Toko Maju", cfg.Store.Name)
	require.Equal(t, ":8080", (&Config{}).HTTPAddr())
}

func TestLoadRejectsBadPricingConfig(t *testing.T) {
	base := map[string]string{
		"DATABASE_URL": "postgres://localhost/kasir",
		"REDIS_URL":    "redis://localhost:6379/0",
	}
	withEnv := func(k, v string) map[string]string {
		m := map[string]string{k: v}
		for key, val := range base {
			m[key] = val
		}
		return m
	}
	_, err := LoadForTests(withEnv("PRICING_TAX_RATE_PERCENT", "-1"))
	require.Error(t, err)
	_, err = LoadForTests(withEnv("RECONCILE_EPSILON", "2"))
	require.Error(t, err)
	_, err = LoadForTests(map[string]string{"DATABASE_URL": "", "REDIS_URL": "redis://x"})
	require.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, 2*time.Minute, cfg.HoldTTL)
	assert.Equal(t, 3*time.Second, cfg.LockTimeout)
	assert.Equal(t, 30*time.Minute, cfg.PaymentTimeout)
	assert.Equal(t, 3, cfg.MaxPaymentRetries)
	assert.Equal(t, "memory", cfg.LockBackend)
	assert.Equal(t, 10*time.Minute, cfg.PaymentEventGrace)
	assert.False(t, cfg.TrustProxy)
	assert.False(t, cfg.IsProduction())
}

func TestLoadKeepsZeroPaymentRetries(t *testing.T) {
	t.Setenv("MAX_PAYMENT_RETRIES", "0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.MaxPaymentRetries)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HOLD_TTL", "45s")
	t.Setenv("MAX_PAYMENT_RETRIES", "5")
	t.Setenv("LOCK_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.HoldTTL)
	assert.Equal(t, 5, cfg.MaxPaymentRetries)
	assert.Equal(t, "redis", cfg.LockBackend)
	assert.True(t, cfg.IsProduction())
}

func TestLoadRequiresRedisAddrForRedisLocks(t *testing.T) {
	t.Setenv("LOCK_BACKEND", "redis")
	_, err := Load()
	assert.ErrorContains(t, err, "REDIS_ADDR")
}

func TestLoadRequiresJWTSecretInProduction(t *testing.T) {
	t.Setenv("ENV", "production")
	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestLoadRejectsUnknownLockBackend(t *testing.T) {
	t.Setenv("LOCK_BACKEND", "etcd")
	_, err := Load()
	assert.ErrorContains(t, err, "LOCK_BACKEND")
}

func TestLoadPricingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
currency = "XAF"
service_fee_bps = 1000
insurance_fee_bps = 500

[options.child_seat]
label = "Child seat"
per_day = 5000

[options.roof_box]
label = "Roof box"
per_day = 2500
`), 0o600))

	p, err := LoadPricing(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), p.ServiceFeeBps)
	assert.Equal(t, map[string]int64{"child_seat": 5000, "roof_box": 2500}, p.Catalog())
}

func TestLoadPricingValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing currency", `service_fee_bps = 1000`},
		{"fee out of range", "currency = \"XAF\"\nservice_fee_bps = 20000"},
		{"bad option code", "currency = \"XAF\"\n[options.\"Child Seat\"]\nper_day = 10"},
		{"negative option", "currency = \"XAF\"\n[options.gps]\nper_day = -1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "pricing.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))
			_, err := LoadPricing(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadPricingDefaultsWhenUnset(t *testing.T) {
	p, err := LoadPricing("")
	require.NoError(t, err)
	assert.NoError(t, p.Validate())
	assert.Equal(t, int64(5000), p.Catalog()["child_seat"])
}

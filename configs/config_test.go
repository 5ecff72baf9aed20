package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBase(t *testing.T) {
	cfg, err := Load(".", "test")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.App.HTTPAddr)
	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "sandbox", cfg.Gateway.Driver)
	assert.Equal(t, 20*time.Second, cfg.Idempotency.LockWait)
	assert.Equal(t, "garden-staff", cfg.Security.Audience)
	assert.Len(t, cfg.Security.Clients, 2)
	assert.NotEmpty(t, cfg.Catalog.Products)

	p, err := cfg.PricingPolicy()
	require.NoError(t, err)
	assert.True(t, p.TaxRate.Equal(decimal.RequireFromString("0.0825")))
	require.Len(t, p.Tiers, 2)
	assert.True(t, p.Tiers[1].Fee.Equal(decimal.NewFromInt(10)))
	assert.True(t, p.MaxGrandTotal.Equal(decimal.NewFromInt(50000)))
	assert.Equal(t, 999, cfg.Pricing.MaxQuantity)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CHECKOUT_APP__HTTP_ADDR", ":9999")
	t.Setenv("CHECKOUT_GATEWAY__CLOVER__MERCHANT_ID", "M123")

	cfg, err := Load(".", "test")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.App.HTTPAddr)
	assert.Equal(t, "M123", cfg.Gateway.Clover.MerchantID)
}

func TestLoadOverlayFile(t *testing.T) {
	dir := t.TempDir()
	base, err := os.ReadFile("base.yaml")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), base, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "staging.yaml"), []byte("store:\n  driver: mysql\n"), 0o600))

	_, err = Load(dir, "staging")
	assert.ErrorContains(t, err, "mysql.dsn required")
}

func TestValidateRejects(t *testing.T) {
	good, err := Load(".", "test")
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"no addr":        func(c *Config) { c.App.HTTPAddr = "" },
		"bad driver":     func(c *Config) { c.Store.Driver = "mongo" },
		"bad gateway":    func(c *Config) { c.Gateway.Driver = "stripe" },
		"clover no keys": func(c *Config) { c.Gateway.Driver = "clover"; c.Gateway.Clover.AccessToken = "" },
		"tax rate":       func(c *Config) { c.Pricing.TaxRate = "1.5" },
		"tiers unsorted": func(c *Config) {
			c.Pricing.ShippingTiers = []ShippingTier{{Below: "100", Fee: "10"}, {Below: "50", Fee: "15"}}
		},
		"total ceiling": func(c *Config) { c.Pricing.MaxOrderTotal = "99999999999" },
		"quantity cap":  func(c *Config) { c.Pricing.MaxQuantity = -1 },
		"no products":   func(c *Config) { c.Catalog.Products = nil },
		"kafka topic":   func(c *Config) { c.Kafka.Enabled = true; c.Kafka.PaymentTopic = "" },
		"no secret":     func(c *Config) { c.Security.Secret = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := good
			c.Pricing.ShippingTiers = append([]ShippingTier(nil), good.Pricing.ShippingTiers...)
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShippingRates(t *testing.T) {
	rates := ParseShippingRates("Srinagar:0, Shopian:50,broken,Anantnag:-5,:10,Baramulla:75.50")

	require.Len(t, rates, 3)
	assert.True(t, rates["Srinagar"].IsZero())
	assert.True(t, rates["Shopian"].Equal(decimal.NewFromInt(50)))
	assert.True(t, rates["Baramulla"].Equal(decimal.RequireFromString("75.5")))
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ADMIN_EMAILS", "owner@soilify.in, ops@soilify.in")
	t.Setenv("COD_LIMIT", "not-a-number")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, []string{"owner@soilify.in", "ops@soilify.in"}, cfg.Auth.AdminEmails)
	assert.True(t, cfg.Business.CODLimit.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, 10, cfg.Business.LowStockThreshold)
	assert.Contains(t, cfg.Business.ShippingRates, "Srinagar")
}

func TestValidate(t *testing.T) {
	secure := func() *Config {
		return &Config{
			Server:  ServerConfig{Env: "production"},
			Auth:    AuthConfig{JWTSecret: "a-long-random-secret"},
			Payment: PaymentConfig{CallbackSecret: "whsec"},
		}
	}
	require.NoError(t, secure().Validate())

	dev := &Config{Server: ServerConfig{Env: "development"}, Auth: AuthConfig{JWTSecret: DefaultJWTSecret}}
	assert.NoError(t, dev.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"default jwt secret", func(c *Config) { c.Auth.JWTSecret = DefaultJWTSecret }, "JWT_SECRET"},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, "JWT_SECRET"},
		{"empty callback secret", func(c *Config) { c.Payment.CallbackSecret = "" }, "PAYMENT_CALLBACK_SECRET"},
		{"short env name", func(c *Config) { c.Server.Env = "PROD"; c.Payment.CallbackSecret = "" }, "PAYMENT_CALLBACK_SECRET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := secure()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

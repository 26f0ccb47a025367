package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Feature.LookbackDays)
	assert.Equal(t, "max", cfg.Fraud.AggregationStrategy)
	assert.Equal(t, "v2.0", cfg.Ensemble.Version)
	assert.InDelta(t, 0.5, cfg.Ensemble.Weights["credit"], 1e-9)
	assert.InDelta(t, 0.3, cfg.Ensemble.Weights["trust"], 1e-9)
	assert.InDelta(t, 0.2, cfg.Ensemble.Weights["fraud"], 1e-9)
	assert.Equal(t, 20, cfg.Policy.FairnessSampleSize)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Port, cfg.Server.Port)
	assert.Equal(t, DefaultConfig().RateLimit.MaxRequests, cfg.RateLimit.MaxRequests)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
rate_limit:
  max_requests: 5
  window_seconds: 30
policy:
  max_loan_amount: "750000"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 30, cfg.RateLimit.WindowSeconds)
	assert.True(t, cfg.Policy.GetMaxLoanAmount().Equal(decimal.NewFromInt(750000)))

	// Options not in the file keep their defaults
	assert.Equal(t, 30, cfg.Feature.LookbackDays)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CREDIT_RATE_LIMIT_MAX_REQUESTS", "3")
	t.Setenv("CREDIT_FRAUD_AGGREGATION_STRATEGY", "avg")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.RateLimit.MaxRequests)
	assert.Equal(t, "avg", cfg.Fraud.AggregationStrategy)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"zero rate limit", func(c *Config) { c.RateLimit.MaxRequests = 0 }},
		{"zero window", func(c *Config) { c.RateLimit.WindowSeconds = 0 }},
		{"zero idempotency entries", func(c *Config) { c.Idempotency.MaxEntries = 0 }},
		{"zero lookback", func(c *Config) { c.Feature.LookbackDays = 0 }},
		{"unknown strategy", func(c *Config) { c.Fraud.AggregationStrategy = "median" }},
		{"approval score out of range", func(c *Config) { c.Policy.MinApprovalScore = 120 }},
		{"review above approval", func(c *Config) { c.Policy.MinReviewScore = 80 }},
		{"fraud score out of range", func(c *Config) { c.Policy.MaxFraudScore = 1.5 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestPolicyDecimalFallbacks(t *testing.T) {
	p := PolicyConfig{MaxLoanAmount: "not-a-number", RequireManualReviewAbove: ""}
	assert.True(t, p.GetMaxLoanAmount().Equal(decimal.NewFromInt(500000)))
	assert.True(t, p.GetRequireManualReviewAbove().Equal(decimal.NewFromInt(200000)))
}

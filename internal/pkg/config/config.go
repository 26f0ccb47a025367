package config

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Feature     FeatureConfig     `mapstructure:"feature"`
	Ensemble    EnsembleConfig    `mapstructure:"ensemble"`
	Fraud       FraudConfig       `mapstructure:"fraud"`
	Policy      PolicyConfig      `mapstructure:"policy"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Log         LogConfig         `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RateLimitConfig holds per-user token bucket configuration
type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

// IdempotencyConfig holds idempotency cache configuration
type IdempotencyConfig struct {
	MaxEntries int `mapstructure:"max_entries"`
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// FeatureConfig holds feature engine configuration
type FeatureConfig struct {
	LookbackDays int `mapstructure:"lookback_days"`
}

// EnsembleConfig holds ensemble configuration
type EnsembleConfig struct {
	Version string             `mapstructure:"version"`
	Weights map[string]float64 `mapstructure:"weights"`
}

// FraudConfig holds fraud engine configuration
type FraudConfig struct {
	// Aggregation strategy: max, avg or weighted
	AggregationStrategy string `mapstructure:"aggregation_strategy"`

	// Rule-based detector thresholds
	VeryLowVolumeThreshold      float64 `mapstructure:"very_low_volume_threshold"`
	LowVolumeThreshold          float64 `mapstructure:"low_volume_threshold"`
	VeryLowConsistencyThreshold float64 `mapstructure:"very_low_consistency_threshold"`
	LowConsistencyThreshold     float64 `mapstructure:"low_consistency_threshold"`
}

// PolicyConfig holds decision policy configuration
type PolicyConfig struct {
	Version                  string  `mapstructure:"version"`
	MinApprovalScore         float64 `mapstructure:"min_approval_score"`
	MinReviewScore           float64 `mapstructure:"min_review_score"`
	MaxLoanAmount            string  `mapstructure:"max_loan_amount"` // String for YAML compatibility
	RequireManualReviewAbove string  `mapstructure:"require_manual_review_above"`
	MaxFraudScore            float64 `mapstructure:"max_fraud_score"`
	CriticalRiskThreshold    float64 `mapstructure:"critical_risk_threshold"`
	HighRiskThreshold        float64 `mapstructure:"high_risk_threshold"`
	MediumRiskThreshold      float64 `mapstructure:"medium_risk_threshold"`
	FairnessSampleSize       int     `mapstructure:"fairness_sample_size"`
}

// GetMaxLoanAmount returns the maximum loan amount as decimal
func (c *PolicyConfig) GetMaxLoanAmount() decimal.Decimal {
	d, err := decimal.NewFromString(c.MaxLoanAmount)
	if err != nil {
		return decimal.NewFromInt(500000)
	}
	return d
}

// GetRequireManualReviewAbove returns the manual review threshold as decimal
func (c *PolicyConfig) GetRequireManualReviewAbove() decimal.Decimal {
	d, err := decimal.NewFromString(c.RequireManualReviewAbove)
	if err != nil {
		return decimal.NewFromInt(200000)
	}
	return d
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "credit_user",
			Password:        "",
			Name:            "credit_decision",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Host:         "localhost",
			Port:         6379,
			Password:     "",
			DB:           0,
			PoolSize:     10,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		RateLimit: RateLimitConfig{
			MaxRequests:   10,
			WindowSeconds: 60,
		},
		Idempotency: IdempotencyConfig{
			MaxEntries: 100000,
			TTLSeconds: 86400,
		},
		Feature: FeatureConfig{
			LookbackDays: 30,
		},
		Ensemble: EnsembleConfig{
			Version: "v2.0",
			Weights: map[string]float64{
				"credit": 0.5,
				"trust":  0.3,
				"fraud":  0.2,
			},
		},
		Fraud: FraudConfig{
			AggregationStrategy:         "max",
			VeryLowVolumeThreshold:      500,
			LowVolumeThreshold:          1000,
			VeryLowConsistencyThreshold: 15,
			LowConsistencyThreshold:     30,
		},
		Policy: PolicyConfig{
			Version:                  "policy-v1.0",
			MinApprovalScore:         70,
			MinReviewScore:           50,
			MaxLoanAmount:            "500000",
			RequireManualReviewAbove: "200000",
			MaxFraudScore:            0.6,
			CriticalRiskThreshold:    0.8,
			HighRiskThreshold:        0.6,
			MediumRiskThreshold:      0.3,
			FairnessSampleSize:       20,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()

	setDefaults(v, cfg)

	// Read from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Config file not found is ok - we use defaults and env vars
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Read from environment variables
	v.SetEnvPrefix("CREDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	// Server defaults
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)

	// Database defaults
	v.SetDefault("database.url", cfg.Database.URL)
	v.SetDefault("database.host", cfg.Database.Host)
	v.SetDefault("database.port", cfg.Database.Port)
	v.SetDefault("database.user", cfg.Database.User)
	v.SetDefault("database.name", cfg.Database.Name)
	v.SetDefault("database.ssl_mode", cfg.Database.SSLMode)

	// Redis defaults
	v.SetDefault("redis.host", cfg.Redis.Host)
	v.SetDefault("redis.port", cfg.Redis.Port)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("redis.pool_size", cfg.Redis.PoolSize)

	// Guard defaults
	v.SetDefault("rate_limit.max_requests", cfg.RateLimit.MaxRequests)
	v.SetDefault("rate_limit.window_seconds", cfg.RateLimit.WindowSeconds)
	v.SetDefault("idempotency.max_entries", cfg.Idempotency.MaxEntries)
	v.SetDefault("idempotency.ttl_seconds", cfg.Idempotency.TTLSeconds)

	// Pipeline defaults
	v.SetDefault("feature.lookback_days", cfg.Feature.LookbackDays)
	v.SetDefault("ensemble.version", cfg.Ensemble.Version)
	v.SetDefault("fraud.aggregation_strategy", cfg.Fraud.AggregationStrategy)
	v.SetDefault("policy.version", cfg.Policy.Version)
	v.SetDefault("policy.min_approval_score", cfg.Policy.MinApprovalScore)
	v.SetDefault("policy.min_review_score", cfg.Policy.MinReviewScore)
	v.SetDefault("policy.max_loan_amount", cfg.Policy.MaxLoanAmount)
	v.SetDefault("policy.require_manual_review_above", cfg.Policy.RequireManualReviewAbove)
}

package config

import (
	"errors"
)

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}

	if c.RateLimit.MaxRequests <= 0 {
		return errors.New("rate_limit.max_requests must be positive")
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return errors.New("rate_limit.window_seconds must be positive")
	}

	if c.Idempotency.MaxEntries <= 0 {
		return errors.New("idempotency.max_entries must be positive")
	}
	if c.Idempotency.TTLSeconds <= 0 {
		return errors.New("idempotency.ttl_seconds must be positive")
	}

	if c.Feature.LookbackDays <= 0 {
		return errors.New("feature.lookback_days must be positive")
	}

	switch c.Fraud.AggregationStrategy {
	case "max", "avg", "weighted":
	default:
		return errors.New("fraud.aggregation_strategy must be one of max, avg, weighted")
	}

	if c.Policy.MinApprovalScore < 0 || c.Policy.MinApprovalScore > 100 {
		return errors.New("policy.min_approval_score must be between 0 and 100")
	}
	if c.Policy.MinReviewScore < 0 || c.Policy.MinReviewScore > 100 {
		return errors.New("policy.min_review_score must be between 0 and 100")
	}

	// Thresholds should be in order: review < approval
	if c.Policy.MinReviewScore >= c.Policy.MinApprovalScore {
		return errors.New("policy.min_review_score should be less than min_approval_score")
	}

	if c.Policy.MaxFraudScore < 0 || c.Policy.MaxFraudScore > 1 {
		return errors.New("policy.max_fraud_score must be between 0 and 1")
	}
	if c.Policy.CriticalRiskThreshold < 0 || c.Policy.CriticalRiskThreshold > 1 {
		return errors.New("policy.critical_risk_threshold must be between 0 and 1")
	}

	return nil
}

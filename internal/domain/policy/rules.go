package policy

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CreditSignals is the credit slice of the AI output the policy engine
// consumes
type CreditSignals struct {
	Score     float64
	RiskLevel string
}

// FraudSignals is the fraud slice. A nil Score means fraud detection
// was unavailable for this request.
type FraudSignals struct {
	Score               *float64
	Flags               []string
	Explanations        []string
	AggregationStrategy string
	DetectorCount       int
}

// Input carries everything a policy rule may inspect
type Input struct {
	Credit        *CreditSignals
	Fraud         *FraudSignals
	FairnessFlags []string
	LoanAmount    decimal.Decimal
}

// Config holds the policy thresholds
type Config struct {
	Version                  string
	MinApprovalScore         float64
	MinReviewScore           float64
	MaxLoanAmount            decimal.Decimal
	RequireManualReviewAbove decimal.Decimal
	MaxFraudScore            float64
	CriticalRiskThreshold    float64
	HighRiskThreshold        float64
	MediumRiskThreshold      float64
}

// DefaultConfig returns the production policy thresholds
func DefaultConfig() Config {
	return Config{
		Version:                  "policy-v1.0",
		MinApprovalScore:         70,
		MinReviewScore:           50,
		MaxLoanAmount:            decimal.NewFromInt(500000),
		RequireManualReviewAbove: decimal.NewFromInt(200000),
		MaxFraudScore:            0.6,
		CriticalRiskThreshold:    0.8,
		HighRiskThreshold:        0.6,
		MediumRiskThreshold:      0.3,
	}
}

// Rule is a pure predicate over AI signals. It reports whether it
// fired and the human-readable reason.
type Rule func(cfg Config, in *Input) (bool, string)

// RejectRules returns the ordered rejection rules. Any firing rule
// rejects the request; all triggered reasons are accumulated.
func RejectRules() []Rule {
	return []Rule{
		func(cfg Config, in *Input) (bool, string) {
			if in.Fraud.Score != nil && *in.Fraud.Score >= cfg.CriticalRiskThreshold {
				return true, fmt.Sprintf("Critical fraud risk detected (score: %.2f)", *in.Fraud.Score)
			}
			return false, ""
		},
		func(cfg Config, in *Input) (bool, string) {
			for _, flag := range in.Fraud.Flags {
				if strings.Contains(flag, "fraud_ring") {
					return true, "Fraud ring pattern detected"
				}
			}
			return false, ""
		},
		func(cfg Config, in *Input) (bool, string) {
			if in.Credit.Score < cfg.MinReviewScore {
				return true, fmt.Sprintf("Credit score (%.1f) below minimum threshold (%.0f)", in.Credit.Score, cfg.MinReviewScore)
			}
			return false, ""
		},
		func(cfg Config, in *Input) (bool, string) {
			if in.LoanAmount.GreaterThan(cfg.MaxLoanAmount) {
				return true, fmt.Sprintf("Requested amount %s exceeds maximum loan amount %s", in.LoanAmount.String(), cfg.MaxLoanAmount.String())
			}
			return false, ""
		},
	}
}

// ReviewRules returns the ordered manual-review rules
func ReviewRules() []Rule {
	return []Rule{
		func(cfg Config, in *Input) (bool, string) {
			if in.Fraud.Score != nil && *in.Fraud.Score >= 0.5 && *in.Fraud.Score < cfg.CriticalRiskThreshold {
				return true, fmt.Sprintf("Elevated fraud risk (score: %.2f) requires manual review", *in.Fraud.Score)
			}
			return false, ""
		},
		func(cfg Config, in *Input) (bool, string) {
			if len(in.FairnessFlags) > 0 {
				return true, "Fairness bias detected: " + strings.Join(in.FairnessFlags, ", ")
			}
			return false, ""
		},
		func(cfg Config, in *Input) (bool, string) {
			if in.Credit.Score >= cfg.MinReviewScore && in.Credit.Score < cfg.MinApprovalScore {
				return true, fmt.Sprintf("Borderline credit score (%.1f) requires manual review", in.Credit.Score)
			}
			return false, ""
		},
		func(cfg Config, in *Input) (bool, string) {
			if in.LoanAmount.GreaterThanOrEqual(cfg.RequireManualReviewAbove) {
				return true, fmt.Sprintf("High-value loan (%s) requires manual review", in.LoanAmount.String())
			}
			return false, ""
		},
	}
}

// ApproveRules returns the ordered approval rules
func ApproveRules() []Rule {
	return []Rule{
		func(cfg Config, in *Input) (bool, string) {
			if in.Credit.Score >= cfg.MinApprovalScore &&
				in.Fraud.Score != nil && *in.Fraud.Score < cfg.CriticalRiskThreshold {
				return true, fmt.Sprintf("Credit score (%.1f) meets approval threshold with acceptable fraud risk", in.Credit.Score)
			}
			return false, ""
		},
	}
}

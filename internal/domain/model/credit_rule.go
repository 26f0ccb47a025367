package model

import (
	"fmt"

	"github.com/shopspring/decimal"

	"credit-decision-service/internal/domain/borrower"
	"credit-decision-service/internal/domain/feature"
)

// RuleBasedCreditModel scores creditworthiness from the behavioral
// feature vector with additive bracket rules over a baseline of 50
type RuleBasedCreditModel struct {
	Contract
}

func NewRuleBasedCreditModel() *RuleBasedCreditModel {
	return &RuleBasedCreditModel{
		Contract: Contract{
			ModelName:      "rule_based_credit",
			ModelVersion:   "1.0",
			FeatureSet:     feature.SetCoreBehavioral,
			FeatureVersion: feature.VersionV1,
			RequiredKeys: []string{
				feature.KeyMobileActivityScore,
				feature.KeyTransactionVolume30d,
				feature.KeyActivityConsistency,
			},
		},
	}
}

const creditBaseline = 50.0

func (m *RuleBasedCreditModel) Predict(in *Input) (*Output, error) {
	if err := m.ValidateFeatures(in.Features, in.FeatureSet, in.FeatureVersion); err != nil {
		return nil, err
	}

	score := creditBaseline
	score += mobileFactor(in.Features[feature.KeyMobileActivityScore])
	score += volumeFactor(in.Features[feature.KeyTransactionVolume30d])
	score += consistencyFactor(in.Features[feature.KeyActivityConsistency])
	score += loanAmountFactor(in.LoanRequest)

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return &Output{
		ModelName:    m.ModelName,
		ModelVersion: m.ModelVersion,
		Score:        &score,
		RiskLevel:    riskFromScore(score),
	}, nil
}

func (m *RuleBasedCreditModel) Explain(in *Input, out *Output) (*Explanation, error) {
	factors := []Factor{
		{
			Factor:      "baseline",
			Impact:      creditBaseline,
			Explanation: "All applicants start from a neutral baseline score of 50",
		},
		{
			Factor:      feature.KeyMobileActivityScore,
			Impact:      mobileFactor(in.Features[feature.KeyMobileActivityScore]),
			Explanation: fmt.Sprintf("Mobile activity score of %.1f", in.Features[feature.KeyMobileActivityScore]),
		},
		{
			Factor:      feature.KeyTransactionVolume30d,
			Impact:      volumeFactor(in.Features[feature.KeyTransactionVolume30d]),
			Explanation: fmt.Sprintf("Transaction volume of %.2f over the lookback window", in.Features[feature.KeyTransactionVolume30d]),
		},
		{
			Factor:      feature.KeyActivityConsistency,
			Impact:      consistencyFactor(in.Features[feature.KeyActivityConsistency]),
			Explanation: fmt.Sprintf("Activity consistency of %.1f", in.Features[feature.KeyActivityConsistency]),
		},
	}
	if in.LoanRequest != nil {
		factors = append(factors, Factor{
			Factor:      "requested_amount",
			Impact:      loanAmountFactor(in.LoanRequest),
			Explanation: fmt.Sprintf("Requested loan amount of %s", in.LoanRequest.RequestedAmount.String()),
		})
	}

	summary := "Insufficient creditworthiness signals"
	if out != nil && out.Score != nil {
		summary = fmt.Sprintf("Credit score %.1f (%s risk) from behavioral features", *out.Score, out.RiskLevel)
	}

	return &Explanation{
		Summary:      summary,
		Factors:      factors,
		FeaturesUsed: m.RequiredKeys,
	}, nil
}

func mobileFactor(v float64) float64 {
	switch {
	case v >= 75:
		return 15
	case v >= 50:
		return 10
	case v >= 25:
		return 5
	default:
		return 0
	}
}

func volumeFactor(v float64) float64 {
	switch {
	case v >= 10000:
		return 15
	case v >= 5000:
		return 10
	case v >= 1000:
		return 5
	default:
		return 0
	}
}

func consistencyFactor(v float64) float64 {
	switch {
	case v >= 75:
		return 10
	case v >= 50:
		return 5
	case v >= 25:
		return 0
	default:
		return -5
	}
}

// loanAmountFactor is the optional adjustment applied when the request
// carries an amount
func loanAmountFactor(req *borrower.LoanRequest) float64 {
	if req == nil {
		return 0
	}
	amount := req.RequestedAmount
	switch {
	case amount.LessThan(decimal.NewFromInt(10000)):
		return 5
	case amount.LessThan(decimal.NewFromInt(25000)):
		return 0
	case amount.LessThan(decimal.NewFromInt(50000)):
		return -5
	default:
		return -10
	}
}

func riskFromScore(score float64) string {
	switch {
	case score >= 70:
		return "low"
	case score >= 50:
		return "medium"
	default:
		return "high"
	}
}

package fraud

import (
	"fmt"

	"credit-decision-service/internal/domain/feature"
	"credit-decision-service/internal/domain/model"
)

// RuleThresholds are the tunable cut-offs of the rule-based detector
type RuleThresholds struct {
	VeryLowVolume      float64
	LowVolume          float64
	VeryLowConsistency float64
	LowConsistency     float64
}

// DefaultRuleThresholds returns the production defaults
func DefaultRuleThresholds() RuleThresholds {
	return RuleThresholds{
		VeryLowVolume:      500,
		LowVolume:          1000,
		VeryLowConsistency: 15,
		LowConsistency:     30,
	}
}

// RuleBasedDetector flags thin or erratic behavioral profiles as fraud
// risk using thresholded rules over the behavioral feature vector
type RuleBasedDetector struct {
	model.Contract
	thresholds RuleThresholds
}

func NewRuleBasedDetector(thresholds RuleThresholds) *RuleBasedDetector {
	return &RuleBasedDetector{
		Contract: model.Contract{
			ModelName:      "rule_based_fraud",
			ModelVersion:   "2.0",
			FeatureSet:     feature.SetCoreBehavioral,
			FeatureVersion: feature.VersionV1,
			RequiredKeys: []string{
				feature.KeyTransactionVolume30d,
				feature.KeyActivityConsistency,
			},
		},
		thresholds: thresholds,
	}
}

func (d *RuleBasedDetector) Evaluate(in *model.Input) (*Result, error) {
	if err := d.ValidateFeatures(in.Features, in.FeatureSet, in.FeatureVersion); err != nil {
		return nil, err
	}

	volume := in.Features[feature.KeyTransactionVolume30d]
	consistency := in.Features[feature.KeyActivityConsistency]

	res := &Result{DetectorName: d.Name()}

	switch {
	case volume < d.thresholds.VeryLowVolume:
		res.FraudScore += 0.4
		res.Flags = append(res.Flags, "very_low_transaction_volume")
		res.Explanation = append(res.Explanation,
			fmt.Sprintf("Transaction volume %.2f is below %.0f, profile too thin to trust", volume, d.thresholds.VeryLowVolume))
	case volume < d.thresholds.LowVolume:
		res.FraudScore += 0.2
		res.Flags = append(res.Flags, "low_transaction_volume")
		res.Explanation = append(res.Explanation,
			fmt.Sprintf("Transaction volume %.2f is below %.0f", volume, d.thresholds.LowVolume))
	}

	switch {
	case consistency < d.thresholds.VeryLowConsistency:
		res.FraudScore += 0.4
		res.Flags = append(res.Flags, "very_low_activity_consistency")
		res.Explanation = append(res.Explanation,
			fmt.Sprintf("Activity consistency %.1f is below %.0f, usage pattern highly erratic", consistency, d.thresholds.VeryLowConsistency))
	case consistency < d.thresholds.LowConsistency:
		res.FraudScore += 0.2
		res.Flags = append(res.Flags, "low_activity_consistency")
		res.Explanation = append(res.Explanation,
			fmt.Sprintf("Activity consistency %.1f is below %.0f", consistency, d.thresholds.LowConsistency))
	}

	res.FraudScore = clampScore(res.FraudScore)
	return res, nil
}

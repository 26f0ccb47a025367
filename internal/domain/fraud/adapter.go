package fraud

import (
	"fmt"
	"strings"

	"credit-decision-service/internal/domain/feature"
	"credit-decision-service/internal/domain/model"
)

// DetectionModel exposes the fraud engine as an ensemble model so its
// inverse score participates in the weighted aggregate
type DetectionModel struct {
	model.Contract
	engine *Engine
}

func NewDetectionModel(engine *Engine) *DetectionModel {
	return &DetectionModel{
		Contract: model.Contract{
			ModelName:      "fraud_detection",
			ModelVersion:   "2.0",
			FeatureSet:     feature.SetCoreBehavioral,
			FeatureVersion: feature.VersionV1,
			RequiredKeys: []string{
				feature.KeyTransactionVolume30d,
				feature.KeyActivityConsistency,
			},
		},
		engine: engine,
	}
}

func (m *DetectionModel) Predict(in *model.Input) (*model.Output, error) {
	res, err := m.engine.Evaluate(in)
	if err != nil {
		return nil, err
	}

	score := res.Score(0)
	return &model.Output{
		ModelName:    m.Name(),
		ModelVersion: m.Version(),
		FraudScore:   &score,
		FraudFlags:   res.Flags,
		RiskLevel:    res.RiskLevel,
		IsFraud:      res.IsFraud,
	}, nil
}

func (m *DetectionModel) Explain(in *model.Input, out *model.Output) (*model.Explanation, error) {
	if out == nil || out.FraudScore == nil {
		return &model.Explanation{
			Summary: "Fraud detection produced no score",
		}, nil
	}

	factors := make([]model.Factor, 0, len(out.FraudFlags))
	for _, flag := range out.FraudFlags {
		factors = append(factors, model.Factor{
			Factor:      flag,
			Impact:      -*out.FraudScore,
			Explanation: "Fraud indicator " + flag,
		})
	}

	summary := fmt.Sprintf("Fraud score %.2f (%s risk)", *out.FraudScore, out.RiskLevel)
	if len(out.FraudFlags) > 0 {
		summary += ": " + strings.Join(out.FraudFlags, ", ")
	}

	return &model.Explanation{
		Summary:      summary,
		Factors:      factors,
		FeaturesUsed: m.RequiredFeatureKeys(),
	}, nil
}

package fraud

import (
	"credit-decision-service/internal/domain/model"
)

// Result is the signal one detector emits for one evaluation
type Result struct {
	DetectorName string   `json:"detector_name"`
	FraudScore   float64  `json:"fraud_score"`
	Flags        []string `json:"flags"`
	Explanation  []string `json:"explanation"`
}

// Detector is a named, versioned fraud scorer with the same feature
// contract discipline as a model. Implementations are stateless.
type Detector interface {
	Name() string
	Version() string
	RequiredFeatureSet() string
	RequiredFeatureVersion() string
	RequiredFeatureKeys() []string
	ValidateFeatures(features map[string]float64, featureSet, featureVersion string) error

	Evaluate(in *model.Input) (*Result, error)
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

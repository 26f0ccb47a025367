package model

import (
	"credit-decision-service/internal/domain/borrower"
)

// Input is the single immutable payload every model receives. The
// ensemble builds it once per prediction; models must not mutate it.
type Input struct {
	Borrower       *borrower.Borrower
	LoanRequest    *borrower.LoanRequest
	Features       map[string]float64
	FeatureSet     string
	FeatureVersion string
	Peers          []borrower.TrustPeer
	TrustGraph     *TrustGraphInfo
	Context        map[string]interface{}
}

// TrustGraphInfo is the trust-network summary a trust model produces
// and the fraud engine consumes as context
type TrustGraphInfo struct {
	TrustScore     float64 `json:"trust_score"`
	FlagRisk       bool    `json:"flag_risk"`
	DefaultRate    float64 `json:"default_rate"`
	NetworkSize    int     `json:"network_size"`
	DefaultedCount int     `json:"defaulted_count"`
}

// Output is the union of signals a model can emit. Exactly one of the
// score pointers is set per model family; consumers check for nil.
type Output struct {
	ModelName    string   `json:"model_name"`
	ModelVersion string   `json:"model_version"`
	Score        *float64 `json:"score,omitempty"`
	RiskLevel    string   `json:"risk_level,omitempty"`
	TrustScore   *float64 `json:"trust_score,omitempty"`
	FraudScore   *float64 `json:"fraud_score,omitempty"`
	FraudFlags   []string `json:"fraud_flags,omitempty"`
	FlagRisk     bool     `json:"flag_risk"`
	IsFraud      bool     `json:"is_fraud"`
}

// Factor is one weighted contribution inside an explanation
type Factor struct {
	Factor      string  `json:"factor"`
	Impact      float64 `json:"impact"`
	Explanation string  `json:"explanation"`
}

// Explanation is the structured output of Model.Explain
type Explanation struct {
	Summary      string   `json:"summary"`
	Factors      []Factor `json:"factors"`
	FeaturesUsed []string `json:"features_used"`
}

// Model is a named, versioned scorer with a declared feature contract.
// Implementations are stateless and safe for concurrent use.
type Model interface {
	Name() string
	Version() string
	RequiredFeatureSet() string
	RequiredFeatureVersion() string
	RequiredFeatureKeys() []string

	// ValidateFeatures checks the payload against the declared contract
	// and returns a *FeatureCompatError on any mismatch
	ValidateFeatures(features map[string]float64, featureSet, featureVersion string) error

	Predict(in *Input) (*Output, error)
	Explain(in *Input, out *Output) (*Explanation, error)
}

// Contract carries the feature requirements shared by every model and
// detector. Embed it to get the descriptor accessors and validation.
type Contract struct {
	ModelName      string
	ModelVersion   string
	FeatureSet     string
	FeatureVersion string
	RequiredKeys   []string
}

func (c Contract) Name() string                   { return c.ModelName }
func (c Contract) Version() string                { return c.ModelVersion }
func (c Contract) RequiredFeatureSet() string     { return c.FeatureSet }
func (c Contract) RequiredFeatureVersion() string { return c.FeatureVersion }
func (c Contract) RequiredFeatureKeys() []string  { return c.RequiredKeys }

// ValidateFeatures enforces set, version and required-key presence
func (c Contract) ValidateFeatures(features map[string]float64, featureSet, featureVersion string) error {
	if len(features) == 0 {
		return &FeatureCompatError{
			ModelName: c.ModelName,
			Detail:    "features must be a non-empty map of engineered features",
		}
	}
	if c.FeatureSet != "" && featureSet != c.FeatureSet {
		return &FeatureCompatError{
			ModelName: c.ModelName,
			Detail:    "feature set " + featureSet + " does not match required set " + c.FeatureSet,
		}
	}
	if c.FeatureVersion != "" && featureVersion != c.FeatureVersion {
		return &FeatureCompatError{
			ModelName: c.ModelName,
			Detail:    "feature version " + featureVersion + " does not match required version " + c.FeatureVersion,
		}
	}

	var missing []string
	for _, key := range c.RequiredKeys {
		if _, ok := features[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &FeatureCompatError{
			ModelName:   c.ModelName,
			Detail:      "missing required feature keys",
			MissingKeys: missing,
		}
	}
	return nil
}

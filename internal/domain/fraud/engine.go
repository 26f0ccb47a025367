package fraud

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"credit-decision-service/internal/domain/model"
)

// Aggregation strategies
const (
	StrategyMax      = "max"
	StrategyAvg      = "avg"
	StrategyWeighted = "weighted"
)

// Risk level cut-offs over the combined fraud score
const (
	fraudThreshold        = 0.6
	criticalRiskThreshold = 0.8
	highRiskThreshold     = 0.6
	mediumRiskThreshold   = 0.3
)

// EngineResult is the aggregated output of all registered detectors.
// CombinedScore is nil only on the unavailable-engine path built by
// the caller, never from a successful Evaluate.
type EngineResult struct {
	CombinedScore   *float64               `json:"combined_fraud_score"`
	Flags           []string               `json:"consolidated_flags"`
	Explanations    []string               `json:"merged_explanation"`
	IsFraud         bool                   `json:"is_fraud"`
	RiskLevel       string                 `json:"risk_level"`
	Confidence      float64                `json:"confidence"`
	DetectorOutputs []*Result              `json:"detector_outputs"`
	Aggregation     map[string]interface{} `json:"aggregation_details"`
}

// Score returns the combined score, or the given fallback when the
// engine was unavailable
func (r *EngineResult) Score(fallback float64) float64 {
	if r == nil || r.CombinedScore == nil {
		return fallback
	}
	return *r.CombinedScore
}

// Engine runs every registered detector over one immutable feature
// payload and aggregates their signals by a configured strategy.
// Detectors run in registration order; output is deterministic
// including flag order.
type Engine struct {
	strategy  string
	detectors []Detector
	logger    *zap.Logger
}

func NewEngine(strategy string, detectors []Detector, logger *zap.Logger) *Engine {
	if strategy == "" {
		strategy = StrategyMax
	}
	return &Engine{
		strategy:  strategy,
		detectors: detectors,
		logger:    logger,
	}
}

// Evaluate validates the payload against every detector contract, runs
// the detectors and aggregates. Any contract mismatch fails the whole
// evaluation before the first detector runs.
func (e *Engine) Evaluate(in *model.Input) (*EngineResult, error) {
	if len(in.Features) == 0 || in.FeatureSet == "" || in.FeatureVersion == "" {
		return nil, &model.FeatureCompatError{
			ModelName: "fraud_engine",
			Detail:    "engineered feature vectors required, not raw data",
		}
	}

	for _, d := range e.detectors {
		if err := d.ValidateFeatures(in.Features, in.FeatureSet, in.FeatureVersion); err != nil {
			return nil, fmt.Errorf("detector %s rejected feature payload: %w", d.Name(), err)
		}
	}

	outputs := make([]*Result, 0, len(e.detectors))
	for _, d := range e.detectors {
		res, err := d.Evaluate(in)
		if err != nil {
			return nil, fmt.Errorf("detector %s failed: %w", d.Name(), err)
		}
		e.logger.Debug("detector evaluated",
			zap.String("detector", d.Name()),
			zap.Float64("fraud_score", res.FraudScore),
			zap.Strings("flags", res.Flags))
		outputs = append(outputs, res)
	}

	combined := e.aggregate(outputs)
	flags := consolidateFlags(outputs)
	explanations := mergeExplanations(outputs)

	scores := make(map[string]float64, len(outputs))
	for _, out := range outputs {
		scores[out.DetectorName] = out.FraudScore
	}

	return &EngineResult{
		CombinedScore:   &combined,
		Flags:           flags,
		Explanations:    explanations,
		IsFraud:         combined >= fraudThreshold,
		RiskLevel:       RiskLevel(combined),
		Confidence:      confidenceOf(outputs),
		DetectorOutputs: outputs,
		Aggregation: map[string]interface{}{
			"strategy":        e.strategy,
			"detector_count":  len(outputs),
			"detector_scores": scores,
		},
	}, nil
}

func (e *Engine) aggregate(outputs []*Result) float64 {
	if len(outputs) == 0 {
		return 0
	}
	switch e.strategy {
	case StrategyAvg, StrategyWeighted:
		// weighted collapses to the mean while detectors carry equal
		// confidence
		sum := 0.0
		for _, out := range outputs {
			sum += out.FraudScore
		}
		return clampScore(sum / float64(len(outputs)))
	default:
		max := outputs[0].FraudScore
		for _, out := range outputs[1:] {
			if out.FraudScore > max {
				max = out.FraudScore
			}
		}
		return clampScore(max)
	}
}

// consolidateFlags prefixes each flag with its detector name and
// deduplicates preserving first-seen order
func consolidateFlags(outputs []*Result) []string {
	seen := make(map[string]bool)
	var flags []string
	for _, out := range outputs {
		for _, flag := range out.Flags {
			prefixed := out.DetectorName + ":" + flag
			if seen[prefixed] {
				continue
			}
			seen[prefixed] = true
			flags = append(flags, prefixed)
		}
	}
	return flags
}

func mergeExplanations(outputs []*Result) []string {
	var merged []string
	for _, out := range outputs {
		for _, line := range out.Explanation {
			merged = append(merged, "["+out.DetectorName+"] "+line)
		}
	}
	return merged
}

// confidenceOf measures detector agreement: 1 when all detectors score
// identically, shrinking with the score spread
func confidenceOf(outputs []*Result) float64 {
	if len(outputs) <= 1 {
		return 1
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, out := range outputs {
		lo = math.Min(lo, out.FraudScore)
		hi = math.Max(hi, out.FraudScore)
	}
	return clampScore(1 - (hi - lo))
}

// RiskLevel maps a fraud score to its band
func RiskLevel(score float64) string {
	switch {
	case score >= criticalRiskThreshold:
		return "critical"
	case score >= highRiskThreshold:
		return "high"
	case score >= mediumRiskThreshold:
		return "medium"
	default:
		return "low"
	}
}

// UnavailableResult is the safe default attached when the engine
// itself fails. The nil combined score is what forces a manual review
// downstream.
func UnavailableResult() *EngineResult {
	return &EngineResult{
		CombinedScore: nil,
		Flags:         []string{"fraud_engine_unavailable"},
		Explanations:  []string{"Fraud detection engine unavailable - defaulting to REVIEW"},
		IsFraud:       false,
		RiskLevel:     "unknown",
		Confidence:    0,
	}
}

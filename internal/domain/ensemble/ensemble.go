package ensemble

import (
	"math"
	"strings"

	"go.uber.org/zap"

	"credit-decision-service/internal/domain/borrower"
	"credit-decision-service/internal/domain/feature"
	"credit-decision-service/internal/domain/fraud"
	"credit-decision-service/internal/domain/model"
)

// Weight keys resolved against model names by substring
const (
	WeightCredit = "credit"
	WeightTrust  = "trust"
	WeightFraud  = "fraud"
)

// DefaultWeights returns the production model weights
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		WeightCredit: 0.5,
		WeightTrust:  0.3,
		WeightFraud:  0.2,
	}
}

// ModelRun records one model invocation, succeeded or failed
type ModelRun struct {
	Output *model.Output `json:"output,omitempty"`
	Error  string        `json:"error,omitempty"`
	Status string        `json:"status"`
}

// Metadata identifies the ensemble configuration that produced an
// output
type Metadata struct {
	Version    string             `json:"version"`
	ModelsUsed []string           `json:"models_used"`
	Weights    map[string]float64 `json:"weights"`
}

// Output is the unified prediction for one loan request
type Output struct {
	FinalCreditScore      float64                       `json:"final_credit_score"`
	FraudFlag             bool                          `json:"fraud_flag"`
	Decision              string                        `json:"decision"`
	RiskLevel             string                        `json:"risk_level"`
	ModelOutputs          map[string]*ModelRun          `json:"model_outputs"`
	Explanation           map[string]*model.Explanation `json:"explanation,omitempty"`
	StructuredExplanation *StructuredExplanation        `json:"structured_explanation,omitempty"`
	FraudResult           *fraud.EngineResult           `json:"fraud_result,omitempty"`
	OverrideReason        string                        `json:"override_reason,omitempty"`
	OverrideSource        string                        `json:"override_source,omitempty"`
	OverrideExplanation   string                        `json:"override_explanation,omitempty"`
	Metadata              Metadata                      `json:"ensemble_metadata"`
}

// Ensemble runs the registered models in order over one immutable
// feature payload, aggregates their scores and invokes the fraud
// engine over the same payload. Stateless after construction, safe for
// concurrent use.
type Ensemble struct {
	version     string
	weights     map[string]float64
	models      []model.Model
	fraudEngine *fraud.Engine
	explainer   *ExplainabilityEngine
	logger      *zap.Logger
}

func New(
	version string,
	weights map[string]float64,
	models []model.Model,
	fraudEngine *fraud.Engine,
	explainer *ExplainabilityEngine,
	logger *zap.Logger,
) *Ensemble {
	if len(weights) == 0 {
		weights = DefaultWeights()
	}
	return &Ensemble{
		version:     version,
		weights:     weights,
		models:      models,
		fraudEngine: fraudEngine,
		explainer:   explainer,
		logger:      logger,
	}
}

// Predict produces the unified output for one borrower and loan
// request. The borrower must already carry engineered features; raw
// profiles are rejected so callers go through the feature engine
// first.
func (e *Ensemble) Predict(b *borrower.Borrower, req *borrower.LoanRequest) (*Output, error) {
	if err := validateEngineeredFeatures(b); err != nil {
		return nil, err
	}

	in := &model.Input{
		Borrower:       b,
		LoanRequest:    req,
		Features:       b.EngineeredFeatures,
		FeatureSet:     feature.SetCoreBehavioral,
		FeatureVersion: feature.VersionV1,
		Peers:          b.Peers,
	}

	for _, m := range e.models {
		if err := m.ValidateFeatures(in.Features, in.FeatureSet, in.FeatureVersion); err != nil {
			return nil, err
		}
	}

	runs := make(map[string]*ModelRun, len(e.models))
	var failed []string
	creditSucceeded := false
	for _, m := range e.models {
		out, err := m.Predict(in)
		if err != nil {
			e.logger.Warn("model prediction failed",
				zap.String("model", m.Name()),
				zap.Error(err))
			runs[m.Name()] = &ModelRun{Error: err.Error(), Status: "failed"}
			failed = append(failed, m.Name())
			continue
		}
		runs[m.Name()] = &ModelRun{Output: out, Status: "succeeded"}
		if strings.Contains(strings.ToLower(m.Name()), WeightCredit) {
			creditSucceeded = true
		}
	}
	if !creditSucceeded {
		return nil, &CriticalModelFailureError{FailedModels: failed}
	}

	meta := Metadata{
		Version:    e.version,
		ModelsUsed: e.modelNames(),
		Weights:    e.weights,
	}

	// Highest priority: any model reporting fraud or a risky network
	// short-circuits the whole prediction
	if out := e.criticalOverride(runs, meta); out != nil {
		return out, nil
	}

	final := e.aggregateScore(runs)
	fraudFlag := anyFraudSignal(runs)

	fraudResult := e.runFraudEngine(in, runs)
	if fraudResult.CombinedScore != nil && fraudResult.IsFraud {
		fraudFlag = true
	}

	out := &Output{
		FinalCreditScore: final,
		FraudFlag:        fraudFlag,
		ModelOutputs:     runs,
		FraudResult:      fraudResult,
		Metadata:         meta,
	}
	e.attachExplanations(in, runs, out)
	shapeDecision(out)
	return out, nil
}

func validateEngineeredFeatures(b *borrower.Borrower) error {
	if len(b.EngineeredFeatures) == 0 {
		return &model.FeatureCompatError{
			ModelName: "ensemble",
			Detail:    "borrower has no engineered features, compute the feature vector before predicting",
		}
	}
	var missing []string
	for _, key := range feature.RequiredKeys() {
		if _, ok := b.EngineeredFeatures[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &model.FeatureCompatError{
			ModelName:   "ensemble",
			Detail:      "engineered features missing required keys, compute the feature vector before predicting",
			MissingKeys: missing,
		}
	}
	return nil
}

func (e *Ensemble) modelNames() []string {
	names := make([]string, 0, len(e.models))
	for _, m := range e.models {
		names = append(names, m.Name())
	}
	return names
}

// criticalOverride returns the short-circuit output when any model
// flagged fraud, nil otherwise. Models are checked in registration
// order so the reported source is deterministic.
func (e *Ensemble) criticalOverride(runs map[string]*ModelRun, meta Metadata) *Output {
	for _, m := range e.models {
		run := runs[m.Name()]
		if run == nil || run.Output == nil {
			continue
		}
		var reason string
		switch {
		case run.Output.FlagRisk:
			reason = "fraud_ring"
		case run.Output.IsFraud:
			reason = "fraud_detected"
		default:
			continue
		}

		e.logger.Warn("critical fraud override",
			zap.String("model", m.Name()),
			zap.String("reason", reason))
		return &Output{
			FinalCreditScore:    0,
			FraudFlag:           true,
			Decision:            "rejected",
			RiskLevel:           "critical",
			ModelOutputs:        runs,
			OverrideReason:      reason,
			OverrideSource:      m.Name(),
			OverrideExplanation: "CRITICAL: " + reason + " by " + m.Name(),
			Metadata:            meta,
		}
	}
	return nil
}

// aggregateScore is the weighted average over succeeded models, each
// normalized to 0..100. The surviving total weight renormalizes the
// sum when some models failed.
func (e *Ensemble) aggregateScore(runs map[string]*ModelRun) float64 {
	sum, totalWeight := 0.0, 0.0
	for _, m := range e.models {
		run := runs[m.Name()]
		if run == nil || run.Output == nil {
			continue
		}
		w := e.weightFor(m.Name())
		sum += w * normalizeScore(run.Output)
		totalWeight += w
	}
	if totalWeight == 0 {
		return 50
	}
	final := math.Round(sum/totalWeight*100) / 100
	if final < 0 {
		return 0
	}
	if final > 100 {
		return 100
	}
	return final
}

func (e *Ensemble) weightFor(name string) float64 {
	lower := strings.ToLower(name)
	for key, w := range e.weights {
		if strings.Contains(lower, key) {
			return w
		}
	}
	return 0
}

// normalizeScore maps any model family output onto the 0..100 credit
// scale
func normalizeScore(out *model.Output) float64 {
	switch {
	case out.Score != nil && *out.Score <= 100:
		return *out.Score
	case out.TrustScore != nil:
		return *out.TrustScore * 100
	case out.FraudScore != nil:
		return (1 - *out.FraudScore) * 100
	default:
		return 50
	}
}

func anyFraudSignal(runs map[string]*ModelRun) bool {
	for _, run := range runs {
		if run.Output != nil && (run.Output.IsFraud || run.Output.FlagRisk) {
			return true
		}
	}
	return false
}

// runFraudEngine re-evaluates the same payload with trust-graph
// context assembled from the model outputs. An engine failure degrades
// to the safe default whose nil score forces a manual review
// downstream.
func (e *Ensemble) runFraudEngine(in *model.Input, runs map[string]*ModelRun) *fraud.EngineResult {
	engineIn := *in
	engineIn.TrustGraph = trustGraphFromRuns(in, runs)

	res, err := e.fraudEngine.Evaluate(&engineIn)
	if err != nil {
		e.logger.Error("fraud engine unavailable", zap.Error(err))
		return fraud.UnavailableResult()
	}
	return res
}

// trustGraphFromRuns summarizes the trust model output for the fraud
// detectors, nil when no trust model succeeded
func trustGraphFromRuns(in *model.Input, runs map[string]*ModelRun) *model.TrustGraphInfo {
	for name, run := range runs {
		if run.Output == nil || run.Output.TrustScore == nil {
			continue
		}
		if !strings.Contains(strings.ToLower(name), WeightTrust) {
			continue
		}
		defaulted := 0
		for _, peer := range in.Peers {
			if peer.Defaulted() {
				defaulted++
			}
		}
		rate := 0.0
		if len(in.Peers) > 0 {
			rate = float64(defaulted) / float64(len(in.Peers))
		}
		return &model.TrustGraphInfo{
			TrustScore:     *run.Output.TrustScore,
			FlagRisk:       run.Output.FlagRisk,
			DefaultRate:    rate,
			NetworkSize:    len(in.Peers),
			DefaultedCount: defaulted,
		}
	}
	return nil
}

// attachExplanations asks every succeeded model to explain itself and
// builds the structured explanation. Explanation failures never fail
// the prediction.
func (e *Ensemble) attachExplanations(in *model.Input, runs map[string]*ModelRun, out *Output) {
	perModel := make(map[string]*model.Explanation, len(e.models))
	for _, m := range e.models {
		run := runs[m.Name()]
		if run == nil || run.Output == nil {
			continue
		}
		exp, err := m.Explain(in, run.Output)
		if err != nil {
			e.logger.Warn("explanation generation failed",
				zap.String("model", m.Name()),
				zap.Error(err))
			continue
		}
		perModel[m.Name()] = exp
	}
	out.Explanation = perModel

	if e.explainer != nil {
		out.StructuredExplanation = e.explainer.Explain(e.modelNames(), runs, perModel)
	}
}

// shapeDecision maps the final score to a decision and risk level,
// with a fraud flag overriding to rejection
func shapeDecision(out *Output) {
	switch {
	case out.FinalCreditScore >= 70:
		out.Decision = "approved"
		out.RiskLevel = "low"
	case out.FinalCreditScore >= 50:
		out.Decision = "review"
		out.RiskLevel = "medium"
	default:
		out.Decision = "rejected"
		out.RiskLevel = "high"
	}
	if out.FraudFlag {
		out.Decision = "rejected"
		out.RiskLevel = "critical"
	}
}

package ensemble

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"credit-decision-service/internal/domain/borrower"
	"credit-decision-service/internal/domain/feature"
	"credit-decision-service/internal/domain/fraud"
	"credit-decision-service/internal/domain/model"
)

func testBorrower(mobile, volume, consistency float64, peers []borrower.TrustPeer) *borrower.Borrower {
	return &borrower.Borrower{
		ID:     uuid.New(),
		UserID: "user-1",
		EngineeredFeatures: map[string]float64{
			feature.KeyMobileActivityScore:  mobile,
			feature.KeyTransactionVolume30d: volume,
			feature.KeyActivityConsistency:  consistency,
		},
		Peers: peers,
	}
}

func testLoanRequest(amount int64) *borrower.LoanRequest {
	return &borrower.LoanRequest{
		ID:              uuid.New(),
		RequestedAmount: decimal.NewFromInt(amount),
		Purpose:         "working capital",
	}
}

func newTestEnsemble() *Ensemble {
	engine := fraud.NewEngine(fraud.StrategyMax, []fraud.Detector{
		fraud.NewRuleBasedDetector(fraud.DefaultRuleThresholds()),
		fraud.NewTrustGraphDetector(),
	}, zap.NewNop())

	return New("v2.0", DefaultWeights(), []model.Model{
		model.NewRuleBasedCreditModel(),
		model.NewTrustGraphModel(),
		fraud.NewDetectionModel(engine),
	}, engine, NewExplainabilityEngine(), zap.NewNop())
}

// failingModel passes validation but errors on prediction
type failingModel struct {
	model.Contract
}

func (f *failingModel) Predict(in *model.Input) (*model.Output, error) {
	return nil, errors.New("model backend offline")
}

func (f *failingModel) Explain(in *model.Input, out *model.Output) (*model.Explanation, error) {
	return nil, errors.New("model backend offline")
}

// failingDetector passes validation but errors on evaluation
type failingDetector struct {
	model.Contract
}

func (f *failingDetector) Evaluate(in *model.Input) (*fraud.Result, error) {
	return nil, errors.New("detector backend offline")
}

func TestPredictCleanApproval(t *testing.T) {
	e := newTestEnsemble()
	b := testBorrower(85, 12000, 80, nil)

	out, err := e.Predict(b, testLoanRequest(15000))
	require.NoError(t, err)

	assert.Equal(t, 74.0, out.FinalCreditScore)
	assert.Equal(t, "approved", out.Decision)
	assert.Equal(t, "low", out.RiskLevel)
	assert.False(t, out.FraudFlag)

	credit := out.ModelOutputs["rule_based_credit"]
	require.NotNil(t, credit.Output)
	assert.Equal(t, 90.0, *credit.Output.Score)

	trust := out.ModelOutputs["trust_graph"]
	require.NotNil(t, trust.Output)
	assert.Equal(t, 0.5, *trust.Output.TrustScore)

	require.NotNil(t, out.FraudResult)
	require.NotNil(t, out.FraudResult.CombinedScore)
	assert.InDelta(t, 0.3, *out.FraudResult.CombinedScore, 1e-9)
	assert.Contains(t, out.FraudResult.Flags, "trust_graph_fraud:network_isolation")

	assert.Equal(t, "v2.0", out.Metadata.Version)
	assert.Equal(t, []string{"rule_based_credit", "trust_graph", "fraud_detection"}, out.Metadata.ModelsUsed)
}

func TestPredictFraudRingOverride(t *testing.T) {
	e := newTestEnsemble()
	peers := []borrower.TrustPeer{
		{PeerID: "p1", InteractionCount: 40, Repaid: false},
		{PeerID: "p2", InteractionCount: 35, Repaid: false},
		{PeerID: "p3", InteractionCount: 50, Repaid: false},
		{PeerID: "p4", InteractionCount: 45, Repaid: false},
		{PeerID: "p5", InteractionCount: 30, Repaid: true},
	}
	b := testBorrower(85, 12000, 80, peers)

	out, err := e.Predict(b, testLoanRequest(15000))
	require.NoError(t, err)

	assert.Equal(t, 0.0, out.FinalCreditScore)
	assert.Equal(t, "rejected", out.Decision)
	assert.Equal(t, "critical", out.RiskLevel)
	assert.True(t, out.FraudFlag)
	assert.Equal(t, "fraud_ring", out.OverrideReason)
	assert.Equal(t, "trust_graph", out.OverrideSource)
	assert.Contains(t, out.OverrideExplanation, "CRITICAL: fraud_ring by trust_graph")
	assert.Nil(t, out.FraudResult)
}

func TestPredictMissingFeatures(t *testing.T) {
	e := newTestEnsemble()

	t.Run("no features at all", func(t *testing.T) {
		b := &borrower.Borrower{ID: uuid.New(), UserID: "user-1"}
		_, err := e.Predict(b, testLoanRequest(1000))
		require.Error(t, err)
		var compat *model.FeatureCompatError
		require.ErrorAs(t, err, &compat)
	})

	t.Run("missing required keys are named", func(t *testing.T) {
		b := &borrower.Borrower{
			ID:                 uuid.New(),
			UserID:             "user-1",
			EngineeredFeatures: map[string]float64{feature.KeyMobileActivityScore: 85},
		}
		_, err := e.Predict(b, testLoanRequest(1000))
		require.Error(t, err)
		assert.Contains(t, err.Error(), feature.KeyTransactionVolume30d)
		assert.Contains(t, err.Error(), feature.KeyActivityConsistency)
	})
}

func TestPredictFraudEngineDown(t *testing.T) {
	broken := fraud.NewEngine(fraud.StrategyMax, []fraud.Detector{
		&failingDetector{Contract: model.Contract{
			ModelName:      "broken_detector",
			FeatureSet:     feature.SetCoreBehavioral,
			FeatureVersion: feature.VersionV1,
		}},
	}, zap.NewNop())

	e := New("v2.0", DefaultWeights(), []model.Model{
		model.NewRuleBasedCreditModel(),
		model.NewTrustGraphModel(),
	}, broken, NewExplainabilityEngine(), zap.NewNop())

	b := testBorrower(85, 12000, 80, nil)
	out, err := e.Predict(b, testLoanRequest(15000))
	require.NoError(t, err)

	require.NotNil(t, out.FraudResult)
	assert.Nil(t, out.FraudResult.CombinedScore)
	assert.Equal(t, []string{"fraud_engine_unavailable"}, out.FraudResult.Flags)
	assert.Equal(t, []string{"Fraud detection engine unavailable - defaulting to REVIEW"}, out.FraudResult.Explanations)
	assert.False(t, out.FraudFlag)
}

func TestPredictCriticalModelFailure(t *testing.T) {
	engine := fraud.NewEngine(fraud.StrategyMax, []fraud.Detector{
		fraud.NewTrustGraphDetector(),
	}, zap.NewNop())

	e := New("v2.0", DefaultWeights(), []model.Model{
		&failingModel{Contract: model.Contract{
			ModelName:      "rule_based_credit",
			FeatureSet:     feature.SetCoreBehavioral,
			FeatureVersion: feature.VersionV1,
		}},
		model.NewTrustGraphModel(),
	}, engine, NewExplainabilityEngine(), zap.NewNop())

	b := testBorrower(85, 12000, 80, nil)
	_, err := e.Predict(b, testLoanRequest(15000))
	require.Error(t, err)

	var critical *CriticalModelFailureError
	require.ErrorAs(t, err, &critical)
	assert.Equal(t, []string{"rule_based_credit"}, critical.FailedModels)
}

func TestPredictSurvivorRenormalization(t *testing.T) {
	engine := fraud.NewEngine(fraud.StrategyMax, []fraud.Detector{
		fraud.NewRuleBasedDetector(fraud.DefaultRuleThresholds()),
		fraud.NewTrustGraphDetector(),
	}, zap.NewNop())

	// trust model fails, credit and fraud survive with weights 0.5 and 0.2
	e := New("v2.0", DefaultWeights(), []model.Model{
		model.NewRuleBasedCreditModel(),
		&failingModel{Contract: model.Contract{
			ModelName:      "trust_graph",
			FeatureSet:     feature.SetCoreBehavioral,
			FeatureVersion: feature.VersionV1,
		}},
		fraud.NewDetectionModel(engine),
	}, engine, NewExplainabilityEngine(), zap.NewNop())

	b := testBorrower(85, 12000, 80, nil)
	out, err := e.Predict(b, testLoanRequest(15000))
	require.NoError(t, err)

	// (0.5*90 + 0.2*70) / 0.7
	assert.Equal(t, 84.29, out.FinalCreditScore)
	assert.Equal(t, "failed", out.ModelOutputs["trust_graph"].Status)
}

func TestPredictDeterminismAndBounds(t *testing.T) {
	e := newTestEnsemble()

	grid := []float64{0, 10, 50, 85, 100, 12000}
	for _, mobile := range grid[:5] {
		for _, volume := range grid {
			for _, consistency := range grid[:5] {
				b := testBorrower(mobile, volume, consistency, nil)
				first, err := e.Predict(b, testLoanRequest(15000))
				require.NoError(t, err)
				second, err := e.Predict(b, testLoanRequest(15000))
				require.NoError(t, err)

				assert.GreaterOrEqual(t, first.FinalCreditScore, 0.0)
				assert.LessOrEqual(t, first.FinalCreditScore, 100.0)
				assert.Equal(t, first.FinalCreditScore, second.FinalCreditScore)
				assert.Equal(t, first.Decision, second.Decision)
				assert.Equal(t, first.RiskLevel, second.RiskLevel)
				assert.Equal(t, first.OverrideReason, second.OverrideReason)
				if first.FraudResult != nil {
					require.NotNil(t, second.FraudResult)
					require.NotNil(t, first.FraudResult.CombinedScore)
					assert.Equal(t, *first.FraudResult.CombinedScore, *second.FraudResult.CombinedScore)
					assert.Equal(t, first.FraudResult.Flags, second.FraudResult.Flags)
				}
			}
		}
	}
}

func TestPredictLeavesFeaturesUntouched(t *testing.T) {
	e := newTestEnsemble()
	b := testBorrower(85, 12000, 80, nil)

	snapshot := make(map[string]float64, len(b.EngineeredFeatures))
	for k, v := range b.EngineeredFeatures {
		snapshot[k] = v
	}

	_, err := e.Predict(b, testLoanRequest(15000))
	require.NoError(t, err)
	assert.Equal(t, snapshot, b.EngineeredFeatures)
}

func TestExplainabilityEngine(t *testing.T) {
	e := newTestEnsemble()
	b := testBorrower(85, 12000, 80, []borrower.TrustPeer{
		{PeerID: "p1", InteractionCount: 10, Repaid: true},
	})

	out, err := e.Predict(b, testLoanRequest(15000))
	require.NoError(t, err)

	require.NotNil(t, out.StructuredExplanation)
	require.NotEmpty(t, out.StructuredExplanation.TopFactors)

	factors := out.StructuredExplanation.TopFactors
	seen := make(map[string]bool)
	for i, f := range factors {
		assert.False(t, seen[f.Factor], "factor %s duplicated", f.Factor)
		seen[f.Factor] = true
		if i > 0 {
			prev := factors[i-1].Impact
			if prev < 0 {
				prev = -prev
			}
			cur := f.Impact
			if cur < 0 {
				cur = -cur
			}
			assert.GreaterOrEqual(t, prev, cur)
		}
	}

	require.Contains(t, out.Explanation, "rule_based_credit")
	assert.Contains(t, out.Explanation["rule_based_credit"].Summary, "Credit score")
}

func TestShapeDecisionBoundaries(t *testing.T) {
	tests := []struct {
		score        float64
		fraudFlag    bool
		wantDecision string
		wantRisk     string
	}{
		{70, false, "approved", "low"},
		{69.99, false, "review", "medium"},
		{50, false, "review", "medium"},
		{49.99, false, "rejected", "high"},
		{90, true, "rejected", "critical"},
	}
	for _, tc := range tests {
		out := &Output{FinalCreditScore: tc.score, FraudFlag: tc.fraudFlag}
		shapeDecision(out)
		assert.Equal(t, tc.wantDecision, out.Decision)
		assert.Equal(t, tc.wantRisk, out.RiskLevel)
	}
}

package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"credit-decision-service/internal/domain/decision"
	"credit-decision-service/internal/domain/ensemble"
	"credit-decision-service/internal/domain/fraud"
	"credit-decision-service/internal/domain/model"
)

func fraudResultStub(s float64) *fraud.EngineResult {
	return &fraud.EngineResult{
		CombinedScore: &s,
		Aggregation:   map[string]interface{}{"strategy": "max"},
	}
}

type stubDecisionRepo struct {
	lineageErr   error
	lineageCalls int
	lastLineage  *decision.Lineage
}

func (s *stubDecisionRepo) SaveCreditDecision(ctx context.Context, loanRequestID uuid.UUID, score float64, decisionValue, explanation, modelVersion string) (*decision.CreditDecision, error) {
	return &decision.CreditDecision{ID: uuid.New(), LoanRequestID: loanRequestID}, nil
}

func (s *stubDecisionRepo) GetByID(ctx context.Context, id uuid.UUID) (*decision.CreditDecision, error) {
	return nil, decision.ErrDecisionNotFound
}

func (s *stubDecisionRepo) GetByLoanRequestID(ctx context.Context, loanRequestID uuid.UUID) (*decision.CreditDecision, error) {
	return nil, decision.ErrDecisionNotFound
}

func (s *stubDecisionRepo) SaveLineage(ctx context.Context, decisionID, borrowerID uuid.UUID, dataSources, modelsUsed map[string]interface{}, policyVersion string, fraudChecks map[string]interface{}) (*decision.Lineage, error) {
	s.lineageCalls++
	if s.lineageErr != nil {
		return nil, s.lineageErr
	}
	s.lastLineage = &decision.Lineage{
		ID:            uuid.New(),
		DecisionID:    decisionID,
		BorrowerID:    borrowerID,
		DataSources:   dataSources,
		ModelsUsed:    modelsUsed,
		PolicyVersion: policyVersion,
		FraudChecks:   fraudChecks,
	}
	return s.lastLineage, nil
}

func (s *stubDecisionRepo) ListRecentWithDemographics(ctx context.Context, limit int) ([]*decision.DemographicDecision, error) {
	return nil, nil
}

type stubAuditRepo struct {
	actions []string
}

func (s *stubAuditRepo) LogEvent(ctx context.Context, action, entityType string, entityID *uuid.UUID, metadata map[string]interface{}) *decision.AuditResult {
	s.actions = append(s.actions, action)
	id := uuid.New()
	return &decision.AuditResult{ID: &id}
}

func newTestEngine() (*Engine, *stubDecisionRepo, *stubAuditRepo) {
	repo := &stubDecisionRepo{}
	audit := &stubAuditRepo{}
	return NewEngine(DefaultConfig(), repo, audit, zap.NewNop()), repo, audit
}

func score(v float64) *float64 { return &v }

func cleanSignals(creditScore, fraudScore float64) (*CreditSignals, *FraudSignals) {
	return &CreditSignals{Score: creditScore, RiskLevel: "low"},
		&FraudSignals{Score: score(fraudScore)}
}

func TestMakeDecisionSafetyOverrides(t *testing.T) {
	e, _, _ := newTestEngine()
	amount := decimal.NewFromInt(10000)

	t.Run("missing credit signals", func(t *testing.T) {
		_, fraudSignals := cleanSignals(80, 0.1)
		res := e.MakeDecision(nil, fraudSignals, nil, amount)
		assert.Equal(t, decision.OutcomeReview, res.Decision)
		assert.Equal(t, []string{ReasonMissingCredit}, res.Reasons)
	})

	t.Run("missing fraud signals", func(t *testing.T) {
		credit, _ := cleanSignals(80, 0.1)
		res := e.MakeDecision(credit, nil, nil, amount)
		assert.Equal(t, decision.OutcomeReview, res.Decision)
		assert.Equal(t, []string{ReasonMissingFraud}, res.Reasons)
	})

	t.Run("fraud score unavailable", func(t *testing.T) {
		credit, _ := cleanSignals(80, 0.1)
		res := e.MakeDecision(credit, &FraudSignals{Score: nil}, nil, amount)
		assert.Equal(t, decision.OutcomeReview, res.Decision)
		assert.Equal(t, []string{ReasonFraudUnavailable}, res.Reasons)
	})
}

func TestMakeDecisionRejectRules(t *testing.T) {
	e, _, _ := newTestEngine()
	amount := decimal.NewFromInt(10000)

	t.Run("critical fraud at the exact threshold", func(t *testing.T) {
		credit, fraudSignals := cleanSignals(90, 0.8)
		res := e.MakeDecision(credit, fraudSignals, nil, amount)
		assert.Equal(t, decision.OutcomeReject, res.Decision)
		assert.Contains(t, res.Reasons[0], "Critical fraud risk detected (score: 0.80)")
	})

	t.Run("fraud ring flag", func(t *testing.T) {
		credit, fraudSignals := cleanSignals(90, 0.2)
		fraudSignals.Flags = []string{"trust_graph_fraud:fraud_ring_detected"}
		res := e.MakeDecision(credit, fraudSignals, nil, amount)
		assert.Equal(t, decision.OutcomeReject, res.Decision)
		assert.Contains(t, res.Reasons, "Fraud ring pattern detected")
	})

	t.Run("credit score below minimum", func(t *testing.T) {
		credit, fraudSignals := cleanSignals(49.9, 0.1)
		res := e.MakeDecision(credit, fraudSignals, nil, amount)
		assert.Equal(t, decision.OutcomeReject, res.Decision)
		assert.Contains(t, res.Reasons[0], "Credit score (49.9) below minimum threshold (50)")
	})

	t.Run("amount over maximum", func(t *testing.T) {
		credit, fraudSignals := cleanSignals(90, 0.1)
		res := e.MakeDecision(credit, fraudSignals, nil, decimal.NewFromInt(500001))
		assert.Equal(t, decision.OutcomeReject, res.Decision)
		assert.Contains(t, res.Reasons[0], "exceeds maximum loan amount")
	})

	t.Run("amount exactly at maximum is not rejected", func(t *testing.T) {
		credit, fraudSignals := cleanSignals(90, 0.1)
		res := e.MakeDecision(credit, fraudSignals, nil, decimal.NewFromInt(500000))
		assert.NotEqual(t, decision.OutcomeReject, res.Decision)
	})

	t.Run("multiple reject reasons accumulate", func(t *testing.T) {
		credit, fraudSignals := cleanSignals(30, 0.9)
		fraudSignals.Flags = []string{"d:fraud_ring_detected"}
		res := e.MakeDecision(credit, fraudSignals, nil, decimal.NewFromInt(600000))
		assert.Equal(t, decision.OutcomeReject, res.Decision)
		assert.Len(t, res.Reasons, 4)
	})
}

func TestMakeDecisionReviewRules(t *testing.T) {
	e, _, _ := newTestEngine()
	amount := decimal.NewFromInt(10000)

	t.Run("elevated fraud risk", func(t *testing.T) {
		credit, fraudSignals := cleanSignals(90, 0.5)
		res := e.MakeDecision(credit, fraudSignals, nil, amount)
		assert.Equal(t, decision.OutcomeReview, res.Decision)
		assert.Contains(t, res.Reasons[0], "Elevated fraud risk")
	})

	t.Run("fairness flags force review", func(t *testing.T) {
		credit, fraudSignals := cleanSignals(90, 0.1)
		res := e.MakeDecision(credit, fraudSignals, []string{"disparate_impact_gender_0.60"}, amount)
		assert.Equal(t, decision.OutcomeReview, res.Decision)
		assert.Contains(t, res.Reasons[0], "Fairness bias detected")
	})

	t.Run("borderline credit score at the exact threshold", func(t *testing.T) {
		credit, fraudSignals := cleanSignals(50, 0.1)
		res := e.MakeDecision(credit, fraudSignals, nil, amount)
		assert.Equal(t, decision.OutcomeReview, res.Decision)
		assert.Contains(t, res.Reasons[0], "Borderline credit score (50.0)")
	})

	t.Run("high-value loan", func(t *testing.T) {
		credit, fraudSignals := cleanSignals(90, 0.1)
		res := e.MakeDecision(credit, fraudSignals, nil, decimal.NewFromInt(200000))
		assert.Equal(t, decision.OutcomeReview, res.Decision)
		assert.Contains(t, res.Reasons[0], "High-value loan")
	})
}

func TestMakeDecisionApprove(t *testing.T) {
	e, _, _ := newTestEngine()
	amount := decimal.NewFromInt(15000)

	t.Run("approval at the exact threshold", func(t *testing.T) {
		credit, fraudSignals := cleanSignals(70, 0.1)
		res := e.MakeDecision(credit, fraudSignals, nil, amount)
		assert.Equal(t, decision.OutcomeApprove, res.Decision)
		assert.Equal(t, []string{"Credit score (70.0) meets approval threshold with acceptable fraud risk"}, res.Reasons)
		assert.Equal(t, "policy-v1.0", res.PolicyVersion)
	})

	t.Run("clean approval scenario", func(t *testing.T) {
		credit, fraudSignals := cleanSignals(74, 0.3)
		res := e.MakeDecision(credit, fraudSignals, nil, amount)
		assert.Equal(t, decision.OutcomeApprove, res.Decision)
		assert.Equal(t, "Credit score (74.0) meets approval threshold with acceptable fraud risk", res.Reasons[0])
	})
}

func TestMakeDecisionReasonsNeverEmpty(t *testing.T) {
	e, _, _ := newTestEngine()
	creditScores := []float64{0, 49.9, 50, 69.9, 70, 100}
	fraudScores := []*float64{nil, score(0), score(0.3), score(0.5), score(0.8), score(1)}
	amounts := []int64{1, 15000, 200000, 500000, 500001}

	for _, cs := range creditScores {
		for _, fs := range fraudScores {
			for _, amt := range amounts {
				res := e.MakeDecision(
					&CreditSignals{Score: cs},
					&FraudSignals{Score: fs},
					nil,
					decimal.NewFromInt(amt),
				)
				require.NotEmpty(t, res.Reasons)
				require.NotEmpty(t, res.PolicyVersion)
			}
		}
	}
}

func TestSignalsFrom(t *testing.T) {
	out := &ensemble.Output{
		FinalCreditScore: 74,
		RiskLevel:        "low",
		FraudResult:      fraudResultStub(0.3),
	}
	credit, fraudSignals := SignalsFrom(out)
	require.NotNil(t, credit)
	assert.Equal(t, 74.0, credit.Score)
	require.NotNil(t, fraudSignals.Score)
	assert.Equal(t, 0.3, *fraudSignals.Score)
	assert.Equal(t, "max", fraudSignals.AggregationStrategy)

	credit, fraudSignals = SignalsFrom(nil)
	assert.Nil(t, credit)
	assert.Nil(t, fraudSignals)
}

func TestSaveLineage(t *testing.T) {
	score90 := 90.0
	out := &ensemble.Output{
		FinalCreditScore: 74,
		ModelOutputs: map[string]*ensemble.ModelRun{
			"rule_based_credit": {
				Status: "succeeded",
				Output: &model.Output{ModelVersion: "1.0", Score: &score90},
			},
		},
		FraudResult: fraudResultStub(0.3),
	}
	result := &decision.Result{
		Decision:      decision.OutcomeApprove,
		Reasons:       []string{"ok"},
		PolicyVersion: "policy-v1.0",
	}

	t.Run("writes the full lineage row", func(t *testing.T) {
		e, repo, _ := newTestEngine()
		e.SaveLineage(context.Background(), uuid.New(), uuid.New(), out, result)

		require.NotNil(t, repo.lastLineage)
		assert.Equal(t, "policy-v1.0", repo.lastLineage.PolicyVersion)
		assert.Equal(t, true, repo.lastLineage.DataSources["borrower_profile"])
		assert.Equal(t, false, repo.lastLineage.DataSources["credit_bureau"])
		assert.Contains(t, repo.lastLineage.ModelsUsed, "rule_based_credit")
		assert.Equal(t, 0.3, repo.lastLineage.FraudChecks["fraud_score"])
	})

	t.Run("failure degrades to an audit marker", func(t *testing.T) {
		e, repo, audit := newTestEngine()
		repo.lineageErr = errors.New("connection reset")

		e.SaveLineage(context.Background(), uuid.New(), uuid.New(), out, result)
		assert.Equal(t, 1, repo.lineageCalls)
		assert.Contains(t, audit.actions, "lineage_write_failed")
	})
}

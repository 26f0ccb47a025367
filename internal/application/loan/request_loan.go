package loan

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"credit-decision-service/internal/domain/borrower"
	"credit-decision-service/internal/domain/decision"
	"credit-decision-service/internal/domain/ensemble"
	"credit-decision-service/internal/domain/feature"
	"credit-decision-service/internal/domain/model"
	"credit-decision-service/internal/domain/policy"
	"credit-decision-service/internal/infrastructure/background"
	"credit-decision-service/internal/pkg/metrics"
)

// TransientError marks a dependency failure the client may retry
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient dependency failure: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// RequestInput is the validated loan application
type RequestInput struct {
	UserID          string
	RequestedAmount decimal.Decimal
	Purpose         string
}

// AISignals is the model slice of the response payload
type AISignals struct {
	BaseCreditScore  *float64 `json:"base_credit_score"`
	TrustScore       *float64 `json:"trust_score"`
	TrustBoost       *float64 `json:"trust_boost"`
	FinalCreditScore float64  `json:"final_credit_score"`
	FraudScore       *float64 `json:"fraud_score"`
	FraudFlags       []string `json:"fraud_flags"`
	RiskLevel        string   `json:"risk_level"`
	FlagRisk         bool     `json:"flag_risk"`
}

// PolicyDecision is the policy slice of the response payload
type PolicyDecision struct {
	Decision      string   `json:"decision"`
	Reasons       []string `json:"reasons"`
	PolicyVersion string   `json:"policy_version"`
}

// Explanation is the human-facing slice of the response payload
type Explanation struct {
	Combined      string                 `json:"combined"`
	CreditFactors []model.Factor         `json:"credit_factors,omitempty"`
	TrustAnalysis string                 `json:"trust_analysis,omitempty"`
	FraudAnalysis []string               `json:"fraud_analysis,omitempty"`
	PolicyReasons []string               `json:"policy_reasons"`
	PeerNetwork   map[string]interface{} `json:"peer_network,omitempty"`
}

// DecisionPayload is the credit_decision object returned to the client
type DecisionPayload struct {
	ID             uuid.UUID      `json:"id"`
	AISignals      AISignals      `json:"ai_signals"`
	PolicyDecision PolicyDecision `json:"policy_decision"`
	Explanation    Explanation    `json:"explanation"`
	ModelVersion   string         `json:"model_version"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Response is the full loan-request response body
type Response struct {
	LoanRequest          *borrower.LoanRequest `json:"loan_request"`
	CreditDecision       *DecisionPayload      `json:"credit_decision"`
	BackgroundTaskQueued bool                  `json:"background_task_queued"`
}

// UseCase composes the decision pipeline for one loan request:
// validate, resolve the borrower, compute features, run the ensemble,
// apply policy, persist, and queue recomputation. Request guards run
// in the HTTP layer in front of this.
type UseCase struct {
	borrowers      borrower.Repository
	loans          borrower.LoanRequestRepository
	decisions      decision.Repository
	audit          decision.AuditRepository
	features       *feature.Engine
	ensemble       *ensemble.Ensemble
	policy         *policy.Engine
	fairness       *policy.FairnessEvaluator
	fairnessWindow int
	runner         *background.Runner
	metrics        *metrics.Metrics
	modelVersion   string
	logger         *zap.Logger
}

func NewUseCase(
	borrowers borrower.Repository,
	loans borrower.LoanRequestRepository,
	decisions decision.Repository,
	audit decision.AuditRepository,
	features *feature.Engine,
	ens *ensemble.Ensemble,
	policyEngine *policy.Engine,
	fairness *policy.FairnessEvaluator,
	fairnessWindow int,
	runner *background.Runner,
	m *metrics.Metrics,
	modelVersion string,
	logger *zap.Logger,
) *UseCase {
	if fairnessWindow <= 0 {
		fairnessWindow = 20
	}
	return &UseCase{
		borrowers:      borrowers,
		loans:          loans,
		decisions:      decisions,
		audit:          audit,
		features:       features,
		ensemble:       ens,
		policy:         policyEngine,
		fairness:       fairness,
		fairnessWindow: fairnessWindow,
		runner:         runner,
		metrics:        m,
		modelVersion:   modelVersion,
		logger:         logger,
	}
}

// Execute runs the pipeline end to end for one request
func (u *UseCase) Execute(ctx context.Context, in *RequestInput) (*Response, error) {
	if err := u.validate(ctx, in); err != nil {
		return nil, err
	}

	b, err := u.borrowers.GetByUserID(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, borrower.ErrBorrowerNotFound) {
			return nil, err
		}
		return nil, &TransientError{Err: err}
	}

	loanReq, err := u.loans.Create(ctx, b.ID, in.RequestedAmount, in.Purpose)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	u.audit.LogEvent(ctx, "loan_requested", "loan_request", &loanReq.ID, map[string]interface{}{
		"borrower_id":      b.ID.String(),
		"requested_amount": in.RequestedAmount.String(),
		"purpose":          in.Purpose,
	})

	vector := u.features.ComputeForBorrower(ctx, b)
	b.EngineeredFeatures = vector.Features

	out, err := u.ensemble.Predict(b, loanReq)
	if err != nil {
		u.auditFailure(ctx, loanReq.ID, err)
		return nil, err
	}

	result := u.decide(out, in.RequestedAmount)

	explanation := buildExplanation(b, out, result)
	stored, err := u.decisions.SaveCreditDecision(
		ctx, loanReq.ID, out.FinalCreditScore, result.Decision.Stored(), explanation.Combined, u.modelVersion)
	if err != nil {
		u.auditFailure(ctx, loanReq.ID, err)
		return nil, &TransientError{Err: err}
	}

	u.policy.SaveLineage(ctx, stored.ID, b.ID, out, result)

	signals := buildAISignals(out)
	u.audit.LogEvent(ctx, "credit_decision_with_policy_engine", "credit_decision", &stored.ID, map[string]interface{}{
		"loan_request_id": loanReq.ID.String(),
		"ai_signals":      signals,
		"policy_decision": PolicyDecision{
			Decision:      string(result.Decision),
			Reasons:       result.Reasons,
			PolicyVersion: result.PolicyVersion,
		},
	})

	u.metrics.DecisionsTotal.WithLabelValues(result.Decision.Stored()).Inc()
	if out.OverrideReason != "" {
		u.metrics.FraudOverrides.Inc()
	}

	u.monitorFairness(ctx, stored.ID)
	u.runner.TriggerFeatureComputation(b.ID)

	return &Response{
		LoanRequest: loanReq,
		CreditDecision: &DecisionPayload{
			ID:        stored.ID,
			AISignals: signals,
			PolicyDecision: PolicyDecision{
				Decision:      string(result.Decision),
				Reasons:       result.Reasons,
				PolicyVersion: result.PolicyVersion,
			},
			Explanation:  explanation,
			ModelVersion: stored.ModelVersion,
			CreatedAt:    stored.CreatedAt,
		},
		BackgroundTaskQueued: true,
	}, nil
}

func (u *UseCase) validate(ctx context.Context, in *RequestInput) error {
	var err error
	switch {
	case in.RequestedAmount.LessThanOrEqual(decimal.Zero):
		err = borrower.ErrInvalidLoanAmount
	case strings.TrimSpace(in.Purpose) == "":
		err = borrower.ErrEmptyLoanPurpose
	default:
		return nil
	}
	u.audit.LogEvent(ctx, "invalid_loan_request", "loan_request", nil, map[string]interface{}{
		"user_id": in.UserID,
		"error":   err.Error(),
	})
	return err
}

// decide applies the policy engine, except when the ensemble already
// short-circuited on a critical fraud flag; that verdict stands as-is
func (u *UseCase) decide(out *ensemble.Output, amount decimal.Decimal) *decision.Result {
	if out.OverrideReason != "" {
		return &decision.Result{
			Decision:      decision.OutcomeReject,
			Reasons:       []string{out.OverrideExplanation},
			PolicyVersion: u.policy.Version(),
		}
	}
	credit, fraudSignals := policy.SignalsFrom(out)
	return u.policy.MakeDecision(credit, fraudSignals, nil, amount)
}

// monitorFairness samples recent decisions and audits the parity
// report. Strictly non-blocking: any failure is swallowed.
func (u *UseCase) monitorFairness(ctx context.Context, decisionID uuid.UUID) {
	rows, err := u.decisions.ListRecentWithDemographics(ctx, u.fairnessWindow)
	if err != nil {
		u.logger.Warn("fairness sampling failed", zap.Error(err))
		return
	}
	report := u.fairness.Evaluate(rows)
	u.audit.LogEvent(ctx, "fairness_monitoring", "credit_decision", &decisionID, map[string]interface{}{
		"sample_size":      report.SampleSize,
		"disparate_impact": report.DisparateImpact,
		"bias_detected":    report.BiasDetected,
		"flags":            report.Flags,
	})
}

func (u *UseCase) auditFailure(ctx context.Context, loanRequestID uuid.UUID, err error) {
	errorType := "internal_error"
	var compat *model.FeatureCompatError
	var critical *ensemble.CriticalModelFailureError
	switch {
	case errors.As(err, &compat):
		errorType = "validation_error"
	case errors.As(err, &critical):
		errorType = "critical_model_failure"
	}
	u.audit.LogEvent(ctx, "loan_request_failed", "loan_request", &loanRequestID, map[string]interface{}{
		"error":      err.Error(),
		"error_type": errorType,
	})
}

func buildAISignals(out *ensemble.Output) AISignals {
	signals := AISignals{
		FinalCreditScore: out.FinalCreditScore,
		RiskLevel:        out.RiskLevel,
	}
	for name, run := range out.ModelOutputs {
		if run.Output == nil {
			continue
		}
		switch {
		case run.Output.Score != nil && strings.Contains(name, "credit"):
			signals.BaseCreditScore = run.Output.Score
		case run.Output.TrustScore != nil:
			signals.TrustScore = run.Output.TrustScore
			boost := (*run.Output.TrustScore - 0.5) * 100
			signals.TrustBoost = &boost
			signals.FlagRisk = signals.FlagRisk || run.Output.FlagRisk
		}
	}
	if res := out.FraudResult; res != nil {
		signals.FraudScore = res.CombinedScore
		signals.FraudFlags = res.Flags
	}
	return signals
}

func buildExplanation(b *borrower.Borrower, out *ensemble.Output, result *decision.Result) Explanation {
	exp := Explanation{
		Combined:      strings.Join(result.Reasons, "; "),
		PolicyReasons: result.Reasons,
	}

	if creditExp, ok := out.Explanation["rule_based_credit"]; ok {
		exp.CreditFactors = creditExp.Factors
	}
	if trustExp, ok := out.Explanation["trust_graph"]; ok {
		exp.TrustAnalysis = trustExp.Summary
	}
	if out.FraudResult != nil {
		exp.FraudAnalysis = out.FraudResult.Explanations
	}

	defaulted := 0
	for _, peer := range b.Peers {
		if peer.Defaulted() {
			defaulted++
		}
	}
	exp.PeerNetwork = map[string]interface{}{
		"network_size":    len(b.Peers),
		"defaulted_count": defaulted,
	}
	return exp
}

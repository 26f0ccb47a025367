package policy

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"credit-decision-service/internal/domain/decision"
	"credit-decision-service/internal/domain/ensemble"
)

// Safety override reasons. Each forces a manual review when an AI
// signal is missing or malformed.
const (
	ReasonMissingCredit    = "Missing credit scoring result - requires manual review"
	ReasonMissingFraud     = "Missing fraud detection result - requires manual review"
	ReasonFraudUnavailable = "Fraud detection unavailable - requires manual review"
	ReasonApprovalError    = "Approval logic error - requires manual review"
	ReasonNoRuleTriggered  = "No definitive policy rule triggered - requires manual review"
)

// Engine applies the policy rule buckets in priority order and records
// decision lineage. The emitted result always carries at least one
// reason.
type Engine struct {
	cfg       Config
	rejects   []Rule
	reviews   []Rule
	approvals []Rule
	decisions decision.Repository
	audit     decision.AuditRepository
	logger    *zap.Logger
}

func NewEngine(cfg Config, decisions decision.Repository, audit decision.AuditRepository, logger *zap.Logger) *Engine {
	if cfg.Version == "" {
		cfg = DefaultConfig()
	}
	return &Engine{
		cfg:       cfg,
		rejects:   RejectRules(),
		reviews:   ReviewRules(),
		approvals: ApproveRules(),
		decisions: decisions,
		audit:     audit,
		logger:    logger,
	}
}

func (e *Engine) Version() string { return e.cfg.Version }

// MakeDecision converts AI signals into an APPROVE, REJECT or REVIEW
// verdict with explicit reasons
func (e *Engine) MakeDecision(credit *CreditSignals, fraudSignals *FraudSignals, fairnessFlags []string, loanAmount decimal.Decimal) *decision.Result {
	if credit == nil {
		return e.review(ReasonMissingCredit)
	}
	if fraudSignals == nil {
		return e.review(ReasonMissingFraud)
	}
	if fraudSignals.Score == nil {
		return e.review(ReasonFraudUnavailable)
	}

	in := &Input{
		Credit:        credit,
		Fraud:         fraudSignals,
		FairnessFlags: fairnessFlags,
		LoanAmount:    loanAmount,
	}

	if reasons := fire(e.rejects, e.cfg, in); len(reasons) > 0 {
		return e.result(decision.OutcomeReject, reasons)
	}
	if reasons := fire(e.reviews, e.cfg, in); len(reasons) > 0 {
		return e.result(decision.OutcomeReview, reasons)
	}
	if reasons := fire(e.approvals, e.cfg, in); len(reasons) > 0 {
		return e.result(decision.OutcomeApprove, reasons)
	}

	return e.review(ReasonNoRuleTriggered)
}

func fire(rules []Rule, cfg Config, in *Input) []string {
	var reasons []string
	for _, rule := range rules {
		if triggered, reason := rule(cfg, in); triggered {
			reasons = append(reasons, reason)
		}
	}
	return reasons
}

func (e *Engine) result(outcome decision.Outcome, reasons []string) *decision.Result {
	if outcome == decision.OutcomeApprove && len(reasons) == 0 {
		return e.review(ReasonApprovalError)
	}
	return &decision.Result{
		Decision:      outcome,
		Reasons:       reasons,
		PolicyVersion: e.cfg.Version,
	}
}

func (e *Engine) review(reason string) *decision.Result {
	return &decision.Result{
		Decision:      decision.OutcomeReview,
		Reasons:       []string{reason},
		PolicyVersion: e.cfg.Version,
	}
}

// SignalsFrom extracts the policy-facing signal slices from an
// ensemble output
func SignalsFrom(out *ensemble.Output) (*CreditSignals, *FraudSignals) {
	if out == nil {
		return nil, nil
	}

	credit := &CreditSignals{
		Score:     out.FinalCreditScore,
		RiskLevel: out.RiskLevel,
	}

	fraudSignals := &FraudSignals{}
	if res := out.FraudResult; res != nil {
		fraudSignals.Score = res.CombinedScore
		fraudSignals.Flags = res.Flags
		fraudSignals.Explanations = res.Explanations
		fraudSignals.DetectorCount = len(res.DetectorOutputs)
		if strategy, ok := res.Aggregation["strategy"].(string); ok {
			fraudSignals.AggregationStrategy = strategy
		}
	}
	return credit, fraudSignals
}

// SaveLineage records which data, models and policy produced a
// decision. A lineage failure never changes the decision; it degrades
// to a log line and an audit marker.
func (e *Engine) SaveLineage(ctx context.Context, decisionID, borrowerID uuid.UUID, out *ensemble.Output, result *decision.Result) {
	dataSources := map[string]interface{}{
		"borrower_profile": true,
		"loan_request":     true,
		"trust_graph":      trustGraphUsed(out),
		"credit_bureau":    false,
		"alternative_data": true,
	}

	modelsUsed := make(map[string]interface{}, len(out.ModelOutputs))
	for name, run := range out.ModelOutputs {
		entry := map[string]interface{}{
			"model":  name,
			"status": run.Status,
		}
		if run.Output != nil {
			entry["version"] = run.Output.ModelVersion
			switch {
			case run.Output.Score != nil:
				entry["score"] = *run.Output.Score
			case run.Output.TrustScore != nil:
				entry["score"] = *run.Output.TrustScore
			case run.Output.FraudScore != nil:
				entry["score"] = *run.Output.FraudScore
			}
		}
		if run.Error != "" {
			entry["error"] = run.Error
		}
		modelsUsed[name] = entry
	}

	fraudChecks := map[string]interface{}{}
	if res := out.FraudResult; res != nil {
		if res.CombinedScore != nil {
			fraudChecks["fraud_score"] = *res.CombinedScore
		}
		fraudChecks["fraud_flags"] = res.Flags
		fraudChecks["fraud_explanation"] = res.Explanations
		fraudChecks["aggregation_strategy"] = res.Aggregation["strategy"]
		fraudChecks["detector_count"] = len(res.DetectorOutputs)
	}

	if _, err := e.decisions.SaveLineage(ctx, decisionID, borrowerID, dataSources, modelsUsed, result.PolicyVersion, fraudChecks); err != nil {
		e.logger.Error("lineage write failed",
			zap.String("decision_id", decisionID.String()),
			zap.Error(err))
		e.audit.LogEvent(ctx, "lineage_write_failed", "decision_lineage", &decisionID, map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func trustGraphUsed(out *ensemble.Output) bool {
	for name, run := range out.ModelOutputs {
		if run.Output != nil && run.Output.TrustScore != nil && name != "" {
			return true
		}
	}
	return false
}

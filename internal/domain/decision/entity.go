package decision

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the policy engine verdict for a loan request
type Outcome string

const (
	OutcomeApprove Outcome = "APPROVE"
	OutcomeReject  Outcome = "REJECT"
	OutcomeReview  Outcome = "REVIEW"
)

// Stored decision values. "review" is persisted natively as a
// first-class decision, not folded into "rejected".
const (
	StoredApproved = "approved"
	StoredRejected = "rejected"
	StoredReview   = "review"
)

// Stored returns the lowercase persisted form of the outcome
func (o Outcome) Stored() string {
	switch o {
	case OutcomeApprove:
		return StoredApproved
	case OutcomeReject:
		return StoredRejected
	default:
		return StoredReview
	}
}

// Result is the value object produced by the decision engine.
// Reasons is never empty.
type Result struct {
	Decision      Outcome  `json:"decision"`
	Reasons       []string `json:"reasons"`
	PolicyVersion string   `json:"policy_version"`
}

// CreditDecision is the persisted outcome of the decision pipeline.
// Written exactly once per loan request on the happy path; a manual
// override replaces Decision and prepends override metadata to
// Explanation, nothing else is ever rewritten.
type CreditDecision struct {
	ID            uuid.UUID `json:"id"`
	LoanRequestID uuid.UUID `json:"loan_request_id"`
	CreditScore   float64   `json:"credit_score"`
	Decision      string    `json:"decision"`
	Explanation   string    `json:"explanation"`
	ModelVersion  string    `json:"model_version"`
	CreatedAt     time.Time `json:"created_at"`
}

// Lineage is the append-only audit record of which data, models and
// policy produced a decision
type Lineage struct {
	ID            uuid.UUID              `json:"id"`
	DecisionID    uuid.UUID              `json:"decision_id"`
	BorrowerID    uuid.UUID              `json:"borrower_id"`
	DataSources   map[string]interface{} `json:"data_sources"`
	ModelsUsed    map[string]interface{} `json:"models_used"`
	PolicyVersion string                 `json:"policy_version"`
	FraudChecks   map[string]interface{} `json:"fraud_checks"`
	CreatedAt     time.Time              `json:"created_at"`
}

// AuditLog is an append-only operational event record
type AuditLog struct {
	ID         uuid.UUID              `json:"id"`
	Action     string                 `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   *uuid.UUID             `json:"entity_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// AuditResult is what an audit write returns. Audit writes never fail
// the caller: on error ID is nil and Err carries the message.
type AuditResult struct {
	ID  *uuid.UUID `json:"id"`
	Err string     `json:"error,omitempty"`
}

// Failed reports whether the audit write degraded to a local log
func (r *AuditResult) Failed() bool {
	return r != nil && r.Err != ""
}

// DemographicDecision is a decision joined with borrower demographics,
// used only by the fairness evaluator
type DemographicDecision struct {
	DecisionID uuid.UUID `json:"decision_id"`
	Decision   string    `json:"decision"`
	Gender     string    `json:"gender"`
	Region     string    `json:"region"`
	CreatedAt  time.Time `json:"created_at"`
}

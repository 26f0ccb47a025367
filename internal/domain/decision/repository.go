package decision

import (
	"context"

	"github.com/google/uuid"
)

// Repository manages credit decisions and their lineage
type Repository interface {
	// SaveCreditDecision validates and persists a decision. The decision
	// value is accepted case-insensitively and normalized to lowercase.
	// Persistence failures for decisions are hard failures.
	SaveCreditDecision(ctx context.Context, loanRequestID uuid.UUID, score float64, decisionValue, explanation, modelVersion string) (*CreditDecision, error)

	// GetByID retrieves a decision by ID
	GetByID(ctx context.Context, id uuid.UUID) (*CreditDecision, error)

	// GetByLoanRequestID retrieves the decision for a loan request
	GetByLoanRequestID(ctx context.Context, loanRequestID uuid.UUID) (*CreditDecision, error)

	// SaveLineage persists the decision lineage. All map arguments must
	// be non-nil, empty maps are fine.
	SaveLineage(ctx context.Context, decisionID, borrowerID uuid.UUID, dataSources, modelsUsed map[string]interface{}, policyVersion string, fraudChecks map[string]interface{}) (*Lineage, error)

	// ListRecentWithDemographics returns the most recent decisions joined
	// with borrower demographics for fairness monitoring
	ListRecentWithDemographics(ctx context.Context, limit int) ([]*DemographicDecision, error)
}

// AuditRepository records operational events. LogEvent never returns an
// error: a failed write degrades to a local log and an in-band marker.
type AuditRepository interface {
	LogEvent(ctx context.Context, action, entityType string, entityID *uuid.UUID, metadata map[string]interface{}) *AuditResult
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"credit-decision-service/internal/domain/decision"
)

// CreditDecisionModel is the credit_decisions table row
type CreditDecisionModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	LoanRequestID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	CreditScore   float64   `gorm:"not null"`
	Decision      string    `gorm:"not null"`
	Explanation   string
	ModelVersion  string `gorm:"not null"`
	CreatedAt     time.Time
}

func (CreditDecisionModel) TableName() string { return "credit_decisions" }

// DecisionLineageModel is the decision_lineage table row, append-only
type DecisionLineageModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	DecisionID    uuid.UUID `gorm:"type:uuid;index;not null"`
	BorrowerID    uuid.UUID `gorm:"type:uuid;index;not null"`
	DataSources   string    `gorm:"type:jsonb"`
	ModelsUsed    string    `gorm:"type:jsonb"`
	PolicyVersion string    `gorm:"not null"`
	FraudChecks   string    `gorm:"type:jsonb"`
	CreatedAt     time.Time
}

func (DecisionLineageModel) TableName() string { return "decision_lineage" }

// AuditLogModel is the audit_logs table row, append-only
type AuditLogModel struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Action     string     `gorm:"index;not null"`
	EntityType string     `gorm:"index"`
	EntityID   *uuid.UUID `gorm:"type:uuid"`
	Metadata   string     `gorm:"type:jsonb"`
	CreatedAt  time.Time  `gorm:"index"`
}

func (AuditLogModel) TableName() string { return "audit_logs" }

// DecisionRepository implements decision.Repository on postgres
type DecisionRepository struct {
	db *gorm.DB
}

func NewDecisionRepository(db *gorm.DB) *DecisionRepository {
	return &DecisionRepository{db: db}
}

func (r *DecisionRepository) SaveCreditDecision(ctx context.Context, loanRequestID uuid.UUID, score float64, decisionValue, explanation, modelVersion string) (*decision.CreditDecision, error) {
	if score < 0 || score > 1000 {
		return nil, decision.ErrInvalidScore
	}
	normalized := strings.ToLower(decisionValue)
	switch normalized {
	case decision.StoredApproved, decision.StoredRejected, decision.StoredReview:
	default:
		return nil, decision.ErrInvalidDecision
	}
	if modelVersion == "" {
		return nil, decision.ErrEmptyModelVersion
	}

	m := &CreditDecisionModel{
		ID:            uuid.New(),
		LoanRequestID: loanRequestID,
		CreditScore:   score,
		Decision:      normalized,
		Explanation:   explanation,
		ModelVersion:  modelVersion,
		CreatedAt:     time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, &CriticalWriteError{
			Entity: "credit_decision",
			Key:    "loan_request=" + loanRequestID.String(),
			Err:    err,
		}
	}
	return modelToDecision(m), nil
}

func (r *DecisionRepository) GetByID(ctx context.Context, id uuid.UUID) (*decision.CreditDecision, error) {
	var m CreditDecisionModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, decision.ErrDecisionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get decision %s: %w", id, err)
	}
	return modelToDecision(&m), nil
}

func (r *DecisionRepository) GetByLoanRequestID(ctx context.Context, loanRequestID uuid.UUID) (*decision.CreditDecision, error) {
	var m CreditDecisionModel
	err := r.db.WithContext(ctx).Where("loan_request_id = ?", loanRequestID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, decision.ErrDecisionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get decision for loan request %s: %w", loanRequestID, err)
	}
	return modelToDecision(&m), nil
}

func (r *DecisionRepository) SaveLineage(ctx context.Context, decisionID, borrowerID uuid.UUID, dataSources, modelsUsed map[string]interface{}, policyVersion string, fraudChecks map[string]interface{}) (*decision.Lineage, error) {
	if dataSources == nil || modelsUsed == nil || fraudChecks == nil {
		return nil, decision.ErrNilLineageArgument
	}

	sources, err := json.Marshal(dataSources)
	if err != nil {
		return nil, fmt.Errorf("marshal data sources: %w", err)
	}
	models, err := json.Marshal(modelsUsed)
	if err != nil {
		return nil, fmt.Errorf("marshal models used: %w", err)
	}
	checks, err := json.Marshal(fraudChecks)
	if err != nil {
		return nil, fmt.Errorf("marshal fraud checks: %w", err)
	}

	m := &DecisionLineageModel{
		ID:            uuid.New(),
		DecisionID:    decisionID,
		BorrowerID:    borrowerID,
		DataSources:   string(sources),
		ModelsUsed:    string(models),
		PolicyVersion: policyVersion,
		FraudChecks:   string(checks),
		CreatedAt:     time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, fmt.Errorf("save lineage for decision %s: %w", decisionID, err)
	}

	return &decision.Lineage{
		ID:            m.ID,
		DecisionID:    decisionID,
		BorrowerID:    borrowerID,
		DataSources:   dataSources,
		ModelsUsed:    modelsUsed,
		PolicyVersion: policyVersion,
		FraudChecks:   fraudChecks,
		CreatedAt:     m.CreatedAt,
	}, nil
}

func (r *DecisionRepository) ListRecentWithDemographics(ctx context.Context, limit int) ([]*decision.DemographicDecision, error) {
	var rows []*decision.DemographicDecision
	err := r.db.WithContext(ctx).
		Table("credit_decisions").
		Select("credit_decisions.id AS decision_id, credit_decisions.decision, borrowers.gender, borrowers.region, credit_decisions.created_at").
		Joins("JOIN loan_requests ON loan_requests.id = credit_decisions.loan_request_id").
		Joins("JOIN borrowers ON borrowers.id = loan_requests.borrower_id").
		Order("credit_decisions.created_at DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list recent decisions with demographics: %w", err)
	}
	return rows, nil
}

func modelToDecision(m *CreditDecisionModel) *decision.CreditDecision {
	return &decision.CreditDecision{
		ID:            m.ID,
		LoanRequestID: m.LoanRequestID,
		CreditScore:   m.CreditScore,
		Decision:      m.Decision,
		Explanation:   m.Explanation,
		ModelVersion:  m.ModelVersion,
		CreatedAt:     m.CreatedAt,
	}
}

// AuditRepository implements decision.AuditRepository on postgres.
// Writes never fail the caller; a failed insert degrades to a log
// line and an in-band error marker.
type AuditRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewAuditRepository(db *gorm.DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{db: db, logger: logger}
}

func (r *AuditRepository) LogEvent(ctx context.Context, action, entityType string, entityID *uuid.UUID, metadata map[string]interface{}) *decision.AuditResult {
	if action == "" {
		return &decision.AuditResult{Err: "audit action must not be empty"}
	}

	meta := "{}"
	if metadata != nil {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			r.logger.Warn("audit metadata not serializable", zap.String("action", action), zap.Error(err))
			return &decision.AuditResult{Err: "metadata not serializable: " + err.Error()}
		}
		meta = string(encoded)
	}

	m := &AuditLogModel{
		ID:         uuid.New(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   meta,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		r.logger.Error("audit write failed",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.Error(err))
		return &decision.AuditResult{Err: err.Error()}
	}
	return &decision.AuditResult{ID: &m.ID}
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"credit-decision-service/internal/domain/borrower"
)

// BorrowerModel is the borrowers table row
type BorrowerModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    string    `gorm:"uniqueIndex;not null"`
	FullName  string    `gorm:"not null"`
	Gender    string
	Region    string
	Phone     string
	CreatedAt time.Time
}

func (BorrowerModel) TableName() string { return "borrowers" }

// RawEventModel is the raw_events table row. EventData is stored as a
// jsonb document.
type RawEventModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	BorrowerID      uuid.UUID `gorm:"type:uuid;index;not null"`
	EventType       string    `gorm:"index;not null"`
	EventData       string    `gorm:"type:jsonb"`
	SchemaVersion   string    `gorm:"default:v1"`
	Processed       bool      `gorm:"index;default:false"`
	ProcessedAt     *time.Time
	ProcessingNotes string
	CreatedAt       time.Time `gorm:"index"`
}

func (RawEventModel) TableName() string { return "raw_events" }

// LoanRequestModel is the loan_requests table row
type LoanRequestModel struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey"`
	BorrowerID      uuid.UUID       `gorm:"type:uuid;index;not null"`
	RequestedAmount decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	Purpose         string          `gorm:"not null"`
	Status          string          `gorm:"default:pending"`
	CreatedAt       time.Time
}

func (LoanRequestModel) TableName() string { return "loan_requests" }

// BorrowerRepository implements borrower.Repository on postgres
type BorrowerRepository struct {
	db *gorm.DB
}

func NewBorrowerRepository(db *gorm.DB) *BorrowerRepository {
	return &BorrowerRepository{db: db}
}

func (r *BorrowerRepository) CreateBorrower(ctx context.Context, userID, fullName, gender, region string) (*borrower.Borrower, error) {
	if userID == "" {
		return nil, borrower.ErrEmptyUserID
	}
	if fullName == "" {
		return nil, borrower.ErrEmptyFullName
	}

	m := &BorrowerModel{
		ID:        uuid.New(),
		UserID:    userID,
		FullName:  fullName,
		Gender:    gender,
		Region:    region,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, fmt.Errorf("create borrower for user %s: transaction returned no row: %w", userID, err)
	}
	return modelToBorrower(m), nil
}

func (r *BorrowerRepository) GetByUserID(ctx context.Context, userID string) (*borrower.Borrower, error) {
	var m BorrowerModel
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, borrower.ErrBorrowerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get borrower by user %s: %w", userID, err)
	}
	return modelToBorrower(&m), nil
}

func (r *BorrowerRepository) GetByID(ctx context.Context, id uuid.UUID) (*borrower.Borrower, error) {
	var m BorrowerModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, borrower.ErrBorrowerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get borrower %s: %w", id, err)
	}
	return modelToBorrower(&m), nil
}

func modelToBorrower(m *BorrowerModel) *borrower.Borrower {
	return &borrower.Borrower{
		ID:        m.ID,
		UserID:    m.UserID,
		FullName:  m.FullName,
		Gender:    m.Gender,
		Region:    m.Region,
		Phone:     m.Phone,
		CreatedAt: m.CreatedAt,
	}
}

// EventRepository implements borrower.EventRepository on postgres
type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Create(ctx context.Context, event *borrower.RawEvent) error {
	data, err := json.Marshal(event.EventData)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	m := &RawEventModel{
		ID:            event.ID,
		BorrowerID:    event.BorrowerID,
		EventType:     event.EventType,
		EventData:     string(data),
		SchemaVersion: event.SchemaVersion,
		CreatedAt:     event.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("create raw event for borrower %s: %w", event.BorrowerID, err)
	}
	return nil
}

func (r *EventRepository) ListRecent(ctx context.Context, borrowerID uuid.UUID, since time.Time, limit int) ([]*borrower.RawEvent, error) {
	var models []RawEventModel
	err := r.db.WithContext(ctx).
		Where("borrower_id = ? AND created_at >= ?", borrowerID, since).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list recent events for borrower %s: %w", borrowerID, err)
	}
	return modelsToEvents(models), nil
}

func (r *EventRepository) ListUnprocessed(ctx context.Context, borrowerID uuid.UUID) ([]*borrower.RawEvent, error) {
	var models []RawEventModel
	err := r.db.WithContext(ctx).
		Where("borrower_id = ? AND processed = false", borrowerID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list unprocessed events for borrower %s: %w", borrowerID, err)
	}
	return modelsToEvents(models), nil
}

func (r *EventRepository) MarkProcessed(ctx context.Context, eventID uuid.UUID, notes string) error {
	return r.markEvent(ctx, eventID, true, notes)
}

func (r *EventRepository) MarkFailed(ctx context.Context, eventID uuid.UUID, reason string) error {
	return r.markEvent(ctx, eventID, false, "FAILED: "+reason)
}

func (r *EventRepository) markEvent(ctx context.Context, eventID uuid.UUID, processed bool, notes string) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&RawEventModel{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{
			"processed":        processed,
			"processed_at":     now,
			"processing_notes": notes,
		})
	if result.Error != nil {
		return fmt.Errorf("mark event %s: %w", eventID, result.Error)
	}
	if result.RowsAffected == 0 {
		return borrower.ErrEventNotFound
	}
	return nil
}

func modelsToEvents(models []RawEventModel) []*borrower.RawEvent {
	events := make([]*borrower.RawEvent, 0, len(models))
	for i := range models {
		events = append(events, modelToEvent(&models[i]))
	}
	return events
}

func modelToEvent(m *RawEventModel) *borrower.RawEvent {
	var data map[string]interface{}
	if m.EventData != "" {
		// Undecodable payloads degrade to an empty map, the feature
		// engine treats them as warnings, not failures
		_ = json.Unmarshal([]byte(m.EventData), &data)
	}
	return &borrower.RawEvent{
		ID:              m.ID,
		BorrowerID:      m.BorrowerID,
		EventType:       m.EventType,
		EventData:       data,
		SchemaVersion:   m.SchemaVersion,
		Processed:       m.Processed,
		ProcessedAt:     m.ProcessedAt,
		ProcessingNotes: m.ProcessingNotes,
		CreatedAt:       m.CreatedAt,
	}
}

// LoanRequestRepository implements borrower.LoanRequestRepository on
// postgres
type LoanRequestRepository struct {
	db *gorm.DB
}

func NewLoanRequestRepository(db *gorm.DB) *LoanRequestRepository {
	return &LoanRequestRepository{db: db}
}

func (r *LoanRequestRepository) Create(ctx context.Context, borrowerID uuid.UUID, amount decimal.Decimal, purpose string) (*borrower.LoanRequest, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, borrower.ErrInvalidLoanAmount
	}
	if purpose == "" {
		return nil, borrower.ErrEmptyLoanPurpose
	}

	m := &LoanRequestModel{
		ID:              uuid.New(),
		BorrowerID:      borrowerID,
		RequestedAmount: amount,
		Purpose:         purpose,
		Status:          string(borrower.LoanStatusPending),
		CreatedAt:       time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, fmt.Errorf("create loan request for borrower %s: %w", borrowerID, err)
	}
	return modelToLoanRequest(m), nil
}

func (r *LoanRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*borrower.LoanRequest, error) {
	var m LoanRequestModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, borrower.ErrLoanRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get loan request %s: %w", id, err)
	}
	return modelToLoanRequest(&m), nil
}

func modelToLoanRequest(m *LoanRequestModel) *borrower.LoanRequest {
	return &borrower.LoanRequest{
		ID:              m.ID,
		BorrowerID:      m.BorrowerID,
		RequestedAmount: m.RequestedAmount,
		Purpose:         m.Purpose,
		Status:          borrower.LoanStatus(m.Status),
		CreatedAt:       m.CreatedAt,
	}
}

package borrower

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoanStatus represents the lifecycle state of a loan request
type LoanStatus string

const (
	LoanStatusPending  LoanStatus = "pending"
	LoanStatusDecided  LoanStatus = "decided"
	LoanStatusCanceled LoanStatus = "canceled"
)

// Borrower is the profile a credit decision is made about.
// Gender is recorded for fairness monitoring only and must never
// influence model output.
type Borrower struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	FullName  string    `json:"full_name"`
	Gender    string    `json:"gender"`
	Region    string    `json:"region"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// Request-scoped state, never persisted. EngineeredFeatures is
	// attached by the orchestrator after the feature engine runs and
	// is treated as immutable by everything downstream.
	EngineeredFeatures map[string]float64 `json:"engineered_features,omitempty" gorm:"-"`
	Peers              []TrustPeer        `json:"peers,omitempty" gorm:"-"`
}

// HasPhone reports whether the borrower registered a phone number
func (b *Borrower) HasPhone() bool {
	return b.Phone != ""
}

// TrustPeer is one edge in the borrower's peer lending network
type TrustPeer struct {
	PeerID           string `json:"peer_id"`
	InteractionCount int    `json:"interaction_count"`
	Repaid           bool   `json:"repaid"`
}

// Defaulted reports whether the peer defaulted on a prior obligation
func (p TrustPeer) Defaulted() bool {
	return !p.Repaid
}

// RawEvent is one ingested borrower activity event. It is mutated at
// most twice after insert: once to mark it processed, or once to mark
// it failed with a FAILED: note.
type RawEvent struct {
	ID              uuid.UUID              `json:"id"`
	BorrowerID      uuid.UUID              `json:"borrower_id"`
	EventType       string                 `json:"event_type"`
	EventData       map[string]interface{} `json:"event_data"`
	SchemaVersion   string                 `json:"schema_version"`
	Processed       bool                   `json:"processed"`
	ProcessedAt     *time.Time             `json:"processed_at,omitempty"`
	ProcessingNotes string                 `json:"processing_notes,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// NewRawEvent creates a raw event with schema defaults applied
func NewRawEvent(borrowerID uuid.UUID, eventType string, eventData map[string]interface{}) *RawEvent {
	return &RawEvent{
		ID:            uuid.New(),
		BorrowerID:    borrowerID,
		EventType:     eventType,
		EventData:     eventData,
		SchemaVersion: "v1",
		CreatedAt:     time.Now(),
	}
}

// Amount extracts a numeric amount from the event payload.
// Non-numeric payload values are reported as not ok, never as zero.
func (e *RawEvent) Amount() (decimal.Decimal, bool) {
	raw, ok := e.EventData["amount"]
	if !ok {
		return decimal.Zero, false
	}
	switch v := raw.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

// LoanRequest is a borrower's application for credit
type LoanRequest struct {
	ID              uuid.UUID       `json:"id"`
	BorrowerID      uuid.UUID       `json:"borrower_id"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	Purpose         string          `json:"purpose"`
	Status          LoanStatus      `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

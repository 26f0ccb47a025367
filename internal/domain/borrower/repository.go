package borrower

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository manages borrower profiles
type Repository interface {
	// CreateBorrower validates and inserts a profile, returning the stored row
	CreateBorrower(ctx context.Context, userID, fullName, gender, region string) (*Borrower, error)

	// GetByUserID resolves the borrower owned by an authenticated user
	GetByUserID(ctx context.Context, userID string) (*Borrower, error)

	// GetByID retrieves a borrower by primary key
	GetByID(ctx context.Context, id uuid.UUID) (*Borrower, error)
}

// EventRepository manages raw borrower events
type EventRepository interface {
	// Create inserts a raw event
	Create(ctx context.Context, event *RawEvent) error

	// ListRecent returns events created at or after since, newest last, capped at limit
	ListRecent(ctx context.Context, borrowerID uuid.UUID, since time.Time, limit int) ([]*RawEvent, error)

	// ListUnprocessed returns events not yet folded into features
	ListUnprocessed(ctx context.Context, borrowerID uuid.UUID) ([]*RawEvent, error)

	// MarkProcessed sets processed=true with the given notes
	MarkProcessed(ctx context.Context, eventID uuid.UUID, notes string) error

	// MarkFailed sets processed=false with a FAILED: prefixed note
	MarkFailed(ctx context.Context, eventID uuid.UUID, reason string) error
}

// LoanRequestRepository manages loan requests
type LoanRequestRepository interface {
	// Create validates and inserts a loan request
	Create(ctx context.Context, borrowerID uuid.UUID, amount decimal.Decimal, purpose string) (*LoanRequest, error)

	// GetByID retrieves a loan request by ID
	GetByID(ctx context.Context, id uuid.UUID) (*LoanRequest, error)
}

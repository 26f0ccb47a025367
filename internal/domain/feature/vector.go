package feature

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Schema identity for the v1 behavioral feature set
const (
	SetCoreBehavioral = "core_behavioral"
	VersionV1         = "v1"
)

// Feature keys produced under core_behavioral/v1
const (
	KeyMobileActivityScore  = "mobile_activity_score"
	KeyTransactionVolume30d = "transaction_volume_30d"
	KeyActivityConsistency  = "activity_consistency"
	KeyEventCount           = "event_count"
	KeyLookbackDays         = "lookback_days"
	KeyHasPhone             = "has_phone"
	KeyDataQualityScore     = "data_quality_score"
)

// RequiredKeys lists the keys every persisted core_behavioral/v1 vector
// must contain
func RequiredKeys() []string {
	return []string{
		KeyMobileActivityScore,
		KeyTransactionVolume30d,
		KeyActivityConsistency,
	}
}

// Data quality warning identifiers
const (
	WarnFetchFailed    = "raw_events_fetch_failed"
	WarnNoRawEvents    = "no_raw_events"
	WarnNegativeVolume = "negative_transaction_volume"
)

// Vector is one computed, versioned feature bundle. Immutable after
// persist; latest-wins by ComputedAt.
type Vector struct {
	BorrowerID          uuid.UUID          `json:"borrower_id"`
	FeatureSet          string             `json:"feature_set"`
	FeatureVersion      string             `json:"feature_version"`
	Features            map[string]float64 `json:"features"`
	DataQualityWarnings []string           `json:"data_quality_warnings"`
	DataQualityScore    float64            `json:"data_quality_score"`
	ComputedAt          time.Time          `json:"computed_at"`
	SourceEventCount    int                `json:"source_event_count"`
}

// Get returns a feature value and whether it is present
func (v *Vector) Get(key string) (float64, bool) {
	val, ok := v.Features[key]
	return val, ok
}

// Store persists feature vectors
type Store interface {
	// Save inserts one immutable feature row
	Save(ctx context.Context, v *Vector) error

	// GetLatest returns the newest vector for a borrower and feature set,
	// ordered by computed_at descending
	GetLatest(ctx context.Context, borrowerID uuid.UUID, featureSet string) (*Vector, error)
}

// Cache is an optional read-through cache in front of Store
type Cache interface {
	SetLatest(ctx context.Context, v *Vector) error
	GetLatest(ctx context.Context, borrowerID uuid.UUID, featureSet string) (*Vector, error)
}

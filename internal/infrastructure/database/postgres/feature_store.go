package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"credit-decision-service/internal/domain/feature"
)

// FeatureVectorModel is the model_features table row. Rows are
// immutable after insert; the latest wins by computed_at.
type FeatureVectorModel struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey"`
	BorrowerID          uuid.UUID `gorm:"type:uuid;index;not null"`
	FeatureSet          string    `gorm:"index;not null"`
	FeatureVersion      string    `gorm:"not null"`
	Features            string    `gorm:"type:jsonb"`
	DataQualityWarnings string    `gorm:"type:jsonb"`
	DataQualityScore    float64
	ComputedAt          time.Time `gorm:"index"`
	SourceEventCount    int
}

func (FeatureVectorModel) TableName() string { return "model_features" }

// FeatureStore implements feature.Store on postgres
type FeatureStore struct {
	db *gorm.DB
}

func NewFeatureStore(db *gorm.DB) *FeatureStore {
	return &FeatureStore{db: db}
}

func (s *FeatureStore) Save(ctx context.Context, v *feature.Vector) error {
	features, err := json.Marshal(v.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	warnings, err := json.Marshal(v.DataQualityWarnings)
	if err != nil {
		return fmt.Errorf("marshal data quality warnings: %w", err)
	}

	m := &FeatureVectorModel{
		ID:                  uuid.New(),
		BorrowerID:          v.BorrowerID,
		FeatureSet:          v.FeatureSet,
		FeatureVersion:      v.FeatureVersion,
		Features:            string(features),
		DataQualityWarnings: string(warnings),
		DataQualityScore:    v.DataQualityScore,
		ComputedAt:          v.ComputedAt,
		SourceEventCount:    v.SourceEventCount,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("save features for borrower %s: %w", v.BorrowerID, err)
	}
	return nil
}

func (s *FeatureStore) GetLatest(ctx context.Context, borrowerID uuid.UUID, featureSet string) (*feature.Vector, error) {
	var m FeatureVectorModel
	err := s.db.WithContext(ctx).
		Where("borrower_id = ? AND feature_set = ?", borrowerID, featureSet).
		Order("computed_at DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, feature.ErrNoFeatures
	}
	if err != nil {
		return nil, fmt.Errorf("get latest features for borrower %s: %w", borrowerID, err)
	}
	return modelToVector(&m)
}

func modelToVector(m *FeatureVectorModel) (*feature.Vector, error) {
	v := &feature.Vector{
		BorrowerID:       m.BorrowerID,
		FeatureSet:       m.FeatureSet,
		FeatureVersion:   m.FeatureVersion,
		DataQualityScore: m.DataQualityScore,
		ComputedAt:       m.ComputedAt,
		SourceEventCount: m.SourceEventCount,
	}
	if err := json.Unmarshal([]byte(m.Features), &v.Features); err != nil {
		return nil, fmt.Errorf("decode features for borrower %s: %w", m.BorrowerID, err)
	}
	if m.DataQualityWarnings != "" {
		if err := json.Unmarshal([]byte(m.DataQualityWarnings), &v.DataQualityWarnings); err != nil {
			return nil, fmt.Errorf("decode data quality warnings for borrower %s: %w", m.BorrowerID, err)
		}
	}
	return v, nil
}

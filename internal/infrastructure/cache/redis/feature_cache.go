package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"credit-decision-service/internal/domain/feature"
)

const featureTTL = 24 * time.Hour

// FeatureCache keeps the latest computed feature vector per borrower
// and set in redis. It implements feature.Cache and tolerates a nil
// client so the service runs without redis.
type FeatureCache struct {
	client *redis.Client
}

func NewFeatureCache(client *redis.Client) *FeatureCache {
	return &FeatureCache{client: client}
}

func featureKey(borrowerID uuid.UUID, featureSet string) string {
	return fmt.Sprintf("features:borrower:%s:%s", borrowerID, featureSet)
}

func (c *FeatureCache) SetLatest(ctx context.Context, v *feature.Vector) error {
	if c == nil || c.client == nil {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode feature vector: %w", err)
	}
	return c.client.Set(ctx, featureKey(v.BorrowerID, v.FeatureSet), payload, featureTTL).Err()
}

func (c *FeatureCache) GetLatest(ctx context.Context, borrowerID uuid.UUID, featureSet string) (*feature.Vector, error) {
	if c == nil || c.client == nil {
		return nil, feature.ErrNoFeatures
	}
	payload, err := c.client.Get(ctx, featureKey(borrowerID, featureSet)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, feature.ErrNoFeatures
	}
	if err != nil {
		return nil, fmt.Errorf("read cached features for borrower %s: %w", borrowerID, err)
	}

	var v feature.Vector
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("decode cached features for borrower %s: %w", borrowerID, err)
	}
	return &v, nil
}

package feature

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"credit-decision-service/internal/domain/borrower"
	"credit-decision-service/internal/domain/decision"
)

// Event types that count toward mobile activity
var mobileEventTypes = map[string]bool{
	"app_open":         true,
	"location_update":  true,
	"mobile_payment":   true,
	"sms_verification": true,
}

const maxEventsPerComputation = 1000

// Warning severity deductions. data_quality_score starts at 1.0 and is
// decremented per warning, clamped to [0,1].
const (
	deductCritical = 0.3
	deductMajor    = 0.2
	deductMinor    = 0.1
)

// Engine aggregates a borrower's raw events into one versioned feature
// vector. Computation is fully deterministic for a given event list and
// reference time, and never fails: every degraded input turns into a
// safe default plus a data quality warning.
type Engine struct {
	lookbackDays int
	events       borrower.EventRepository
	store        Store
	cache        Cache
	audit        decision.AuditRepository
	logger       *zap.Logger
}

// NewEngine creates a feature engine. cache may be nil.
func NewEngine(
	lookbackDays int,
	events borrower.EventRepository,
	store Store,
	cache Cache,
	audit decision.AuditRepository,
	logger *zap.Logger,
) *Engine {
	if lookbackDays <= 0 {
		lookbackDays = 30
	}
	return &Engine{
		lookbackDays: lookbackDays,
		events:       events,
		store:        store,
		cache:        cache,
		audit:        audit,
		logger:       logger,
	}
}

// builder accumulates warnings while features are computed
type builder struct {
	warnings []string
	score    float64
}

func newBuilder() *builder {
	return &builder{score: 1.0}
}

func (b *builder) warn(warning string, deduction float64) {
	b.warnings = append(b.warnings, warning)
	b.score -= deduction
	if b.score < 0 {
		b.score = 0
	}
}

// ComputeForBorrower fetches recent events and computes the vector with
// the current wall clock as the lookback reference. A failed fetch
// degrades to an empty event list with a raw_events_fetch_failed warning.
func (e *Engine) ComputeForBorrower(ctx context.Context, b *borrower.Borrower) *Vector {
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -e.lookbackDays)

	var fetchFailed bool
	events, err := e.events.ListRecent(ctx, b.ID, since, maxEventsPerComputation)
	if err != nil {
		e.logger.Warn("raw event fetch failed, computing from empty event list",
			zap.String("borrower_id", b.ID.String()),
			zap.Error(err))
		events = nil
		fetchFailed = true
	}

	v := e.Compute(b, events, now)
	if fetchFailed {
		bld := newBuilder()
		bld.score = v.DataQualityScore
		bld.warnings = v.DataQualityWarnings
		bld.warn(WarnFetchFailed, deductCritical)
		v.DataQualityWarnings = bld.warnings
		v.DataQualityScore = bld.score
		v.Features[KeyDataQualityScore] = bld.score
	}
	return v
}

// Compute builds the core_behavioral/v1 vector from a profile and a
// finite event list. now is the upper bound of the lookback window;
// tests inject it for determinism.
func (e *Engine) Compute(b *borrower.Borrower, events []*borrower.RawEvent, now time.Time) *Vector {
	bld := newBuilder()
	windowed := eventsInWindow(events, now.AddDate(0, 0, -e.lookbackDays), now)

	if len(windowed) == 0 {
		bld.warn(WarnNoRawEvents, deductMajor)
	} else if len(windowed) < 5 {
		bld.warn(fmt.Sprintf("low_event_count_%d", len(windowed)), deductMinor)
	}

	mobile := e.computeMobileActivity(b, windowed, bld)
	volume := e.computeTransactionVolume(windowed, bld)
	consistency := e.computeActivityConsistency(windowed, bld)

	features := map[string]float64{
		KeyMobileActivityScore:  mobile,
		KeyTransactionVolume30d: volume,
		KeyActivityConsistency:  consistency,
		KeyEventCount:           float64(len(windowed)),
		KeyLookbackDays:         float64(e.lookbackDays),
		KeyHasPhone:             boolToFloat(b.HasPhone()),
		KeyDataQualityScore:     bld.score,
	}

	return &Vector{
		BorrowerID:          b.ID,
		FeatureSet:          SetCoreBehavioral,
		FeatureVersion:      VersionV1,
		Features:            features,
		DataQualityWarnings: bld.warnings,
		DataQualityScore:    bld.score,
		ComputedAt:          now,
		SourceEventCount:    len(windowed),
	}
}

// SaveFeatures persists the vector and audits the computation. The
// optional cache is refreshed best effort.
func (e *Engine) SaveFeatures(ctx context.Context, v *Vector) error {
	if err := e.store.Save(ctx, v); err != nil {
		return fmt.Errorf("save features for borrower %s: %w", v.BorrowerID, err)
	}

	if e.cache != nil {
		if err := e.cache.SetLatest(ctx, v); err != nil {
			e.logger.Warn("feature cache refresh failed",
				zap.String("borrower_id", v.BorrowerID.String()),
				zap.Error(err))
		}
	}

	names := make([]string, 0, len(v.Features))
	for k := range v.Features {
		names = append(names, k)
	}
	e.audit.LogEvent(ctx, "features_computed", "feature_vector", &v.BorrowerID, map[string]interface{}{
		"feature_set":     v.FeatureSet,
		"feature_version": v.FeatureVersion,
		"feature_names":   names,
		"event_count":     v.SourceEventCount,
	})
	return nil
}

// ComputeAndSave combines computation and persistence
func (e *Engine) ComputeAndSave(ctx context.Context, b *borrower.Borrower) (*Vector, error) {
	v := e.ComputeForBorrower(ctx, b)
	if err := e.SaveFeatures(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (e *Engine) computeMobileActivity(b *borrower.Borrower, events []*borrower.RawEvent, bld *builder) float64 {
	score := 0.0
	if b.HasPhone() {
		score += 20
	}

	score += math.Min(float64(len(events)), 50)

	mobileCount := 0
	for _, ev := range events {
		if mobileEventTypes[ev.EventType] {
			mobileCount++
		}
	}
	score += math.Min(float64(3*mobileCount), 30)

	if score < 0 || score > 100 {
		bld.warn(KeyMobileActivityScore+"_out_of_range", deductMinor)
	}
	return clamp(score, 0, 100)
}

func (e *Engine) computeTransactionVolume(events []*borrower.RawEvent, bld *builder) float64 {
	total := decimal.Zero
	for _, ev := range events {
		if ev.EventType != "transaction" {
			continue
		}
		amount, ok := ev.Amount()
		if !ok {
			// Non-numeric amounts are skipped, not zeroed
			continue
		}
		total = total.Add(amount)
	}

	volume := total.InexactFloat64()
	if volume < 0 {
		bld.warn(WarnNegativeVolume, deductMinor)
		return 0
	}
	return volume
}

func (e *Engine) computeActivityConsistency(events []*borrower.RawEvent, bld *builder) float64 {
	if len(events) == 0 {
		return 0
	}

	daily := make(map[string]int)
	for _, ev := range events {
		day := ev.CreatedAt.UTC().Format("2006-01-02")
		daily[day]++
	}

	if len(events) == 1 || len(daily) == 1 {
		return 50
	}

	counts := make([]float64, 0, len(daily))
	for _, c := range daily {
		counts = append(counts, float64(c))
	}

	mean := meanOf(counts)
	if mean == 0 {
		bld.warn(KeyActivityConsistency+"_computation_failed", deductMajor)
		return 0
	}

	cv := stddevOf(counts, mean) / mean
	return clamp(100-50*cv, 0, 100)
}

// eventsInWindow keeps events inside [since, now]. Events with a zero
// created_at are unparseable and skipped.
func eventsInWindow(events []*borrower.RawEvent, since, now time.Time) []*borrower.RawEvent {
	kept := make([]*borrower.RawEvent, 0, len(events))
	for _, ev := range events {
		if ev == nil || ev.CreatedAt.IsZero() {
			continue
		}
		if ev.CreatedAt.Before(since) || ev.CreatedAt.After(now) {
			continue
		}
		kept = append(kept, ev)
	}
	return kept
}

func meanOf(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddevOf is the population standard deviation
func stddevOf(values []float64, mean float64) float64 {
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

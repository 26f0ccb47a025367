package background

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"credit-decision-service/internal/domain/borrower"
	"credit-decision-service/internal/domain/feature"
)

// Task states recorded by the monitor
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// TaskRecord is the per-task observability entry
type TaskRecord struct {
	BorrowerID      uuid.UUID  `json:"borrower_id"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ExecutionTimeMs int64      `json:"execution_time_ms"`
	Status          string     `json:"status"`
	Error           string     `json:"error,omitempty"`
}

// Monitor tracks background task execution. Read by the health
// surface, written by the runner.
type Monitor struct {
	mu    sync.Mutex
	tasks map[string]*TaskRecord
}

func NewMonitor() *Monitor {
	return &Monitor{tasks: make(map[string]*TaskRecord)}
}

func (m *Monitor) start(taskID string, borrowerID uuid.UUID, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[taskID] = &TaskRecord{
		BorrowerID: borrowerID,
		StartedAt:  now,
		Status:     StatusRunning,
	}
}

func (m *Monitor) finish(taskID string, now time.Time, taskErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tasks[taskID]
	if !ok {
		return
	}
	rec.CompletedAt = &now
	rec.ExecutionTimeMs = now.Sub(rec.StartedAt).Milliseconds()
	if taskErr != nil {
		rec.Status = StatusError
		rec.Error = taskErr.Error()
	} else {
		rec.Status = StatusCompleted
	}
}

// Snapshot copies the current task records
func (m *Monitor) Snapshot() map[string]TaskRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]TaskRecord, len(m.tasks))
	for id, rec := range m.tasks {
		out[id] = *rec
	}
	return out
}

// Runner executes one-shot feature recomputation tasks off the
// request path. Tasks run to completion or to a caught error; nothing
// propagates to the caller. No cross-process queue, no retries.
type Runner struct {
	borrowers borrower.Repository
	events    borrower.EventRepository
	features  *feature.Engine
	monitor   *Monitor
	group     *errgroup.Group
	logger    *zap.Logger
	now       func() time.Time
}

func NewRunner(
	borrowers borrower.Repository,
	events borrower.EventRepository,
	features *feature.Engine,
	monitor *Monitor,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		borrowers: borrowers,
		events:    events,
		features:  features,
		monitor:   monitor,
		group:     &errgroup.Group{},
		logger:    logger,
		now:       time.Now,
	}
}

// TriggerFeatureComputation enqueues one recomputation unit for the
// borrower and returns its task id immediately
func (r *Runner) TriggerFeatureComputation(borrowerID uuid.UUID) string {
	taskID := uuid.New().String()
	r.monitor.start(taskID, borrowerID, r.now())

	r.group.Go(func() error {
		err := r.recompute(context.Background(), borrowerID)
		r.monitor.finish(taskID, r.now(), err)
		if err != nil {
			r.logger.Error("background feature recomputation failed",
				zap.String("task_id", taskID),
				zap.String("borrower_id", borrowerID.String()),
				zap.Error(err))
		}
		// errors stay in the monitor, never cancel sibling tasks
		return nil
	})
	return taskID
}

// Wait blocks until all in-flight tasks drain, used on shutdown
func (r *Runner) Wait() error {
	return r.group.Wait()
}

func (r *Runner) recompute(ctx context.Context, borrowerID uuid.UUID) error {
	b, err := r.borrowers.GetByID(ctx, borrowerID)
	if err != nil {
		return err
	}

	unprocessed, err := r.events.ListUnprocessed(ctx, borrowerID)
	if err != nil {
		return err
	}

	vector, err := r.features.ComputeAndSave(ctx, b)
	if err != nil {
		r.markAllFailed(ctx, unprocessed, err.Error())
		return err
	}

	notes := "folded into " + vector.FeatureSet + "/" + vector.FeatureVersion
	for _, event := range unprocessed {
		if markErr := r.events.MarkProcessed(ctx, event.ID, notes); markErr != nil {
			r.logger.Warn("failed to mark event processed",
				zap.String("event_id", event.ID.String()),
				zap.Error(markErr))
		}
	}
	return nil
}

func (r *Runner) markAllFailed(ctx context.Context, events []*borrower.RawEvent, reason string) {
	for _, event := range events {
		if err := r.events.MarkFailed(ctx, event.ID, reason); err != nil {
			r.logger.Warn("failed to mark event failed",
				zap.String("event_id", event.ID.String()),
				zap.Error(err))
		}
	}
}

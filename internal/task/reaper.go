package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/zcanic/zcanic-server/internal/domain"
	"github.com/zcanic/zcanic-server/internal/store"
)

// Reaper fails tasks whose lease expired after the last allowed attempt, so
// a task abandoned by crashing executors still reaches a terminal state.
// Tasks with attempts left are not touched; the next claim takes them over.
type Reaper struct {
	tx          store.Transactor
	registry    *Registry
	interval    time.Duration
	maxAttempts int
	metrics     *Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewReaper creates a reaper running every interval.
func NewReaper(
	tx store.Transactor,
	registry *Registry,
	interval time.Duration,
	maxAttempts int,
	metrics *Metrics,
	log *slog.Logger,
) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Reaper{
		tx:          tx,
		registry:    registry,
		interval:    interval,
		maxAttempts: maxAttempts,
		metrics:     metrics,
		logger:      log.With(slog.String("component", "task_reaper")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run reaps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	return runEvery(ctx, r.interval, func(ctx context.Context) {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("failed to reap exhausted tasks", slog.String("error", err.Error()))
		}
	})
}

// RunOnce fails exhausted tasks together with their related entities and
// returns how many were failed.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	var reaped []*domain.Task
	err := r.tx.RunInTx(ctx, func(ctx context.Context, s store.Stores) error {
		tasks, err := s.Tasks.FailExhausted(ctx, r.maxAttempts, r.now())
		if err != nil {
			return err
		}
		for _, t := range tasks {
			mirror, ok := r.registry.Mirror(s, t.Type)
			if !ok {
				continue
			}
			err := mirror.UpdateMirror(ctx, t.RelatedID, t.ID, domain.TaskStatusFailed, nil)
			if err != nil && !store.IsNotFoundError(err) {
				return err
			}
		}
		reaped = tasks
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, t := range reaped {
		r.logger.Warn("failed task after exhausting lease attempts",
			slog.String("task_id", t.ID.String()),
			slog.String("task_type", string(t.Type)),
			slog.Int("attempts", t.Attempts))
	}
	r.metrics.reap(len(reaped))
	return len(reaped), nil
}

// runEvery calls fn every interval until ctx is done.
func runEvery(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

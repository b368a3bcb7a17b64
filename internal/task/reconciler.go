package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/zcanic/zcanic-server/internal/domain"
	"github.com/zcanic/zcanic-server/internal/store"
)

// Reconciler repairs related entities whose mirrored status disagrees with
// their finalized task. Finalize writes both in one transaction, so drift
// only comes from writes made outside it, such as a manual repair or an
// entity update that raced a reaper.
type Reconciler struct {
	tx       store.Transactor
	registry *Registry
	interval time.Duration
	batch    int
	metrics  *Metrics
	logger   *slog.Logger
}

// NewReconciler creates a reconciler repairing up to batch entities every interval.
func NewReconciler(
	tx store.Transactor,
	registry *Registry,
	interval time.Duration,
	batch int,
	metrics *Metrics,
	log *slog.Logger,
) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	if batch < 1 {
		batch = 50
	}
	return &Reconciler{
		tx:       tx,
		registry: registry,
		interval: interval,
		batch:    batch,
		metrics:  metrics,
		logger:   log.With(slog.String("component", "task_reconciler")),
	}
}

// Run reconciles every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	return runEvery(ctx, r.interval, func(ctx context.Context) {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("failed to reconcile task mirrors", slog.String("error", err.Error()))
		}
	})
}

// RunOnce repairs one batch of mismatched entities and returns how many
// were updated. Each repair commits on its own so one bad row does not block
// the rest.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	tasks, err := r.tx.Stores().Tasks.ListMirrorMismatches(ctx, r.batch)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, t := range tasks {
		err := r.tx.RunInTx(ctx, func(ctx context.Context, s store.Stores) error {
			mirror, ok := r.registry.Mirror(s, t.Type)
			if !ok {
				return nil
			}
			var content *string
			if t.Status == domain.TaskStatusCompleted {
				content = t.Result
			}
			return mirror.UpdateMirror(ctx, t.RelatedID, t.ID, t.Status, content)
		})
		if err != nil {
			if store.IsNotFoundError(err) {
				continue
			}
			r.logger.Error("failed to repair related entity",
				slog.String("task_id", t.ID.String()),
				slog.String("related_id", t.RelatedID.String()),
				slog.String("error", err.Error()))
			continue
		}
		repaired++
		r.logger.Warn("repaired related entity status",
			slog.String("task_id", t.ID.String()),
			slog.String("task_type", string(t.Type)),
			slog.String("status", string(t.Status)))
	}

	r.metrics.reconcile(repaired)
	return repaired, nil
}

package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/zcanic/zcanic-server/internal/config"
	"github.com/zcanic/zcanic-server/internal/domain"
	"github.com/zcanic/zcanic-server/internal/events"
	"github.com/zcanic/zcanic-server/internal/generation"
	"github.com/zcanic/zcanic-server/internal/platform/logger"
	"github.com/zcanic/zcanic-server/internal/redact"
	"github.com/zcanic/zcanic-server/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/zcanic/zcanic-server/internal/task"

// FinalizeBudget bounds the time spent storing a task's outcome, retries
// included. The lease must outlive the generation timeout plus this budget.
const FinalizeBudget = 5 * time.Second

// errRelatedEntityMissing is recorded on tasks whose related entity was
// deleted before they could be claimed.
var errRelatedEntityMissing = errors.New("related entity no longer exists")

// Executor claims and runs tasks with a fixed pool of workers.
type Executor struct {
	tx        store.Transactor
	generator generation.Generator
	registry  *Registry
	cfg       config.ExecutorConfig
	types     []domain.TaskType
	name      string
	metrics   *Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	// finalizeBackoff paces retries of the finalize transaction.
	finalizeBackoff func() retry.Backoff

	wake chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Ensure Executor can be registered with an events emitter
var _ events.EventHandler = (*Executor)(nil)

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithMetrics records executor metrics.
func WithMetrics(m *Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithName sets the prefix of worker identities stamped on claims.
func WithName(name string) ExecutorOption {
	return func(e *Executor) { e.name = name }
}

// WithClock replaces the clock used for claim times.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an executor for the task types in cfg.Types, or every
// registered type when cfg.Types is empty.
func NewExecutor(
	tx store.Transactor,
	generator generation.Generator,
	registry *Registry,
	cfg config.ExecutorConfig,
	log *slog.Logger,
	opts ...ExecutorOption,
) (*Executor, error) {
	if tx == nil || generator == nil || registry == nil {
		return nil, errors.New("executor requires a transactor, a generator and a registry")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.WorkerCount <= 0 {
		log.Warn("invalid worker count specified, using default",
			"specified_count", cfg.WorkerCount,
			"default_count", 1)
		cfg.WorkerCount = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaxPollInterval < cfg.PollInterval {
		cfg.MaxPollInterval = cfg.PollInterval
	}
	if cfg.GenerationTimeout <= 0 || cfg.LeaseDuration <= cfg.GenerationTimeout+FinalizeBudget {
		return nil, fmt.Errorf("lease duration %s must exceed generation timeout %s plus finalize budget %s",
			cfg.LeaseDuration, cfg.GenerationTimeout, FinalizeBudget)
	}

	types, err := claimTypes(registry, cfg.Types)
	if err != nil {
		return nil, err
	}

	e := &Executor{
		tx:        tx,
		generator: generator,
		registry:  registry,
		cfg:       cfg,
		types:     types,
		name:      "executor",
		logger:    log.With(slog.String("component", "task_executor")),
		tracer:    otel.Tracer(tracerName),
		now:       func() time.Time { return time.Now().UTC() },
		finalizeBackoff: func() retry.Backoff {
			return retry.WithMaxDuration(FinalizeBudget,
				retry.WithMaxRetries(5, retry.NewExponential(100*time.Millisecond)))
		},
		wake: make(chan struct{}, cfg.WorkerCount),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func claimTypes(registry *Registry, names []string) ([]domain.TaskType, error) {
	if len(names) == 0 {
		return registry.Types(), nil
	}
	types := make([]domain.TaskType, 0, len(names))
	for _, name := range names {
		t := domain.TaskType(name)
		if _, ok := registry.mirrors[t]; !ok {
			return nil, fmt.Errorf("task type %q is not registered", name)
		}
		types = append(types, t)
	}
	return types, nil
}

// Start launches the workers. It returns immediately.
func (e *Executor) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}

	ctx, e.cancel = context.WithCancel(ctx)
	for i := 0; i < e.cfg.WorkerCount; i++ {
		e.wg.Add(1)
		go e.worker(ctx, fmt.Sprintf("%s-%d", e.name, i))
	}
	e.logger.Info("task executor started",
		slog.Int("workers", e.cfg.WorkerCount),
		slog.Any("types", e.types))
}

// Stop signals the workers and waits for them. A task already claimed is
// still finalized before its worker exits. A stopped executor may be
// started again.
func (e *Executor) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.wg.Wait()
	e.cancel = nil
	e.logger.Info("task executor stopped")
}

// Run starts the workers and blocks until ctx is done.
func (e *Executor) Run(ctx context.Context) error {
	e.Start(ctx)
	<-ctx.Done()
	e.Stop()
	return nil
}

// Wake cuts short the poll wait of idle workers.
func (e *Executor) Wake() {
	for i := 0; i < cap(e.wake); i++ {
		select {
		case e.wake <- struct{}{}:
		default:
			return
		}
	}
}

// HandleEvent implements events.EventHandler by waking idle workers when a
// task of a type this executor claims is submitted.
func (e *Executor) HandleEvent(_ context.Context, event *events.TaskSubmittedEvent) error {
	for _, t := range e.types {
		if t == event.TaskType {
			e.Wake()
			break
		}
	}
	return nil
}

// worker claims tasks until ctx is done. When nothing is claimable it waits,
// doubling the wait up to MaxPollInterval, and starts over on a wake-up.
func (e *Executor) worker(ctx context.Context, workerID string) {
	defer e.wg.Done()

	log := e.logger.With(slog.String("worker_id", workerID))
	log.Debug("starting worker")

	delay := e.cfg.PollInterval
	for {
		if ctx.Err() != nil {
			log.Debug("stopping worker")
			return
		}

		processed, err := e.RunOnce(ctx, workerID)
		if err != nil {
			log.Error("failed to claim task", slog.String("error", redact.Error(err)))
		}
		if processed {
			delay = e.cfg.PollInterval
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Debug("stopping worker")
			return
		case <-e.wake:
			timer.Stop()
			delay = e.cfg.PollInterval
		case <-timer.C:
			delay = min(delay*2, e.cfg.MaxPollInterval)
		}
	}
}

// RunOnce claims at most one task and runs it to a terminal state. It
// reports whether a task was claimed.
func (e *Executor) RunOnce(ctx context.Context, workerID string) (bool, error) {
	token := uuid.New()
	spec := store.ClaimSpec{
		Token:         token,
		WorkerID:      workerID,
		Types:         e.types,
		LeaseDuration: e.cfg.LeaseDuration,
		MaxAttempts:   e.cfg.MaxAttempts,
		Now:           e.now(),
	}

	claimed, entityMissing, err := e.claim(ctx, spec)
	switch {
	case errors.Is(err, store.ErrNoTaskAvailable):
		e.metrics.claim(claimEmpty)
		return false, nil
	case err != nil:
		e.metrics.claim(claimError)
		return false, err
	}
	e.metrics.claim(claimClaimed)

	// A claimed task always runs to a terminal state, even during shutdown.
	e.execute(context.WithoutCancel(ctx), claimed, token, workerID, entityMissing)
	return true, nil
}

// claim moves the oldest claimable task and its related entity to
// processing in one transaction. A missing related entity does not undo the
// claim; the task is failed instead.
func (e *Executor) claim(ctx context.Context, spec store.ClaimSpec) (*domain.Task, bool, error) {
	var (
		claimed       *domain.Task
		entityMissing bool
	)
	err := e.tx.RunInTx(ctx, func(ctx context.Context, s store.Stores) error {
		entityMissing = false
		t, err := s.Tasks.ClaimNextPending(ctx, spec)
		if err != nil {
			return err
		}
		claimed = t

		mirror, ok := e.registry.Mirror(s, t.Type)
		if !ok {
			return fmt.Errorf("no related entity store for task type %q", t.Type)
		}
		err = mirror.UpdateMirror(ctx, t.RelatedID, t.ID, domain.TaskStatusProcessing, nil)
		if store.IsNotFoundError(err) {
			entityMissing = true
			return nil
		}
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return claimed, entityMissing, nil
}

// execute calls the generator for a claimed task and finalizes it.
func (e *Executor) execute(
	ctx context.Context,
	t *domain.Task,
	token uuid.UUID,
	workerID string,
	entityMissing bool,
) {
	log := logger.FromContextOrDefault(ctx, e.logger).With(
		slog.String("task_id", t.ID.String()),
		slog.String("task_type", string(t.Type)),
		slog.String("worker_id", workerID),
		slog.Int("attempt", t.Attempts),
	)
	ctx = logger.WithLogger(ctx, log)

	ctx, span := e.tracer.Start(ctx, "task.execute", trace.WithAttributes(
		attribute.String("task.id", t.ID.String()),
		attribute.String("task.type", string(t.Type)),
		attribute.Int("task.attempt", t.Attempts),
	))
	defer span.End()

	log.Info("processing task")

	var genErr error
	var text string
	if entityMissing {
		genErr = errRelatedEntityMissing
	} else {
		text, genErr = e.generate(ctx, t)
	}

	params := store.FinalizeParams{TaskID: t.ID, Token: token}
	if genErr != nil {
		msg := redact.TaskError(genErr)
		params.Status = domain.TaskStatusFailed
		params.Error = &msg
		span.RecordError(genErr)
		span.SetStatus(codes.Error, msg)
		log.Warn("task generation failed", slog.String("error", msg))
	} else {
		params.Status = domain.TaskStatusCompleted
		params.Result = &text
	}

	e.finalize(ctx, t, params, !entityMissing)
}

func (e *Executor) generate(ctx context.Context, t *domain.Task) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.GenerationTimeout)
	defer cancel()

	start := time.Now()
	text, err := e.generator.Generate(ctx, generation.Request{
		Type:      t.Type,
		Payload:   t.Payload,
		ExtraData: t.ExtraData,
	})
	e.metrics.generation(t.Type, time.Since(start))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", generation.ErrEmptyResponse
	}
	return text, nil
}

// finalize writes the outcome to the task and, when mirror is set, to its
// related entity in one transaction, retrying transient store failures.
func (e *Executor) finalize(ctx context.Context, t *domain.Task, params store.FinalizeParams, mirror bool) {
	log := logger.FromContextOrDefault(ctx, e.logger)

	finalizeCtx, cancel := context.WithTimeout(ctx, FinalizeBudget)
	defer cancel()

	err := retry.Do(finalizeCtx, e.finalizeBackoff(), func(ctx context.Context) error {
		err := e.tx.RunInTx(ctx, func(ctx context.Context, s store.Stores) error {
			final, err := s.Tasks.Finalize(ctx, params)
			if err != nil {
				return err
			}
			if !mirror {
				return nil
			}
			entities, ok := e.registry.Mirror(s, t.Type)
			if !ok {
				return fmt.Errorf("no related entity store for task type %q", t.Type)
			}
			err = entities.UpdateMirror(ctx, t.RelatedID, t.ID, final.Status, final.Result)
			if store.IsNotFoundError(err) {
				log.Warn("related entity disappeared before finalize",
					slog.String("related_id", t.RelatedID.String()))
				return nil
			}
			return err
		})
		if err == nil || errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrInvalidEntity) {
			return err
		}
		log.Warn("retrying task finalize", slog.String("error", redact.Error(err)))
		return retry.RetryableError(err)
	})

	switch {
	case errors.Is(err, store.ErrInvalidTransition) && e.leaseLost(ctx, t, params.Token):
		e.metrics.leaseLost()
		log.Warn("lease lapsed before finalize, outcome discarded",
			slog.String("status", string(params.Status)))
	case errors.Is(err, store.ErrInvalidTransition):
		e.metrics.invariantViolation()
		log.Error("invariant violation: finalize rejected for claimed task",
			slog.String("status", string(params.Status)),
			slog.String("error", err.Error()))
	case err != nil:
		log.Error("failed to finalize task, lease expiry will release it",
			slog.String("status", string(params.Status)),
			slog.String("error", redact.Error(err)))
	default:
		e.metrics.finalize(t.Type, params.Status)
		log.Info("task finalized", slog.String("status", string(params.Status)))
	}
}

// leaseLost reports whether a rejected finalize is explained by the claim
// lapsing: the lease ran out or another worker holds the task now.
func (e *Executor) leaseLost(ctx context.Context, t *domain.Task, token uuid.UUID) bool {
	if t.LeaseExpiresAt != nil && !e.now().Before(*t.LeaseExpiresAt) {
		return true
	}
	current, err := e.tx.Stores().Tasks.GetByID(ctx, t.ID)
	if err != nil {
		return false
	}
	return current.ClaimToken == nil || *current.ClaimToken != token
}

package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/zcanic/zcanic-server/internal/domain"
	"github.com/zcanic/zcanic-server/internal/platform/logger"
	"github.com/zcanic/zcanic-server/internal/store"
)

// DefaultMaxBatchSize bounds BatchGetStatus when no limit is configured.
const DefaultMaxBatchSize = 100

// StatusCache holds terminal tasks, which never change once written.
// *cache.StatusCache satisfies it.
type StatusCache interface {
	Get(id uuid.UUID) (*domain.Task, bool)
	Put(task *domain.Task) bool
}

// BatchStatus is one entry of a batch status query: either the task, or
// ErrTaskNotFound when the id is unknown, malformed or owned by someone else.
type BatchStatus struct {
	Task *domain.Task
	Err  error
}

// StatusService answers task status queries for the owning user.
type StatusService struct {
	tasks        store.TaskStore
	cache        StatusCache
	maxBatchSize int
	logger       *slog.Logger
}

// NewStatusService creates a StatusService. cache may be nil to disable
// caching; maxBatchSize <= 0 means DefaultMaxBatchSize.
func NewStatusService(
	tasks store.TaskStore,
	cache StatusCache,
	maxBatchSize int,
	logger *slog.Logger,
) (*StatusService, error) {
	if tasks == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "task store cannot be nil"}
	}
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusService{
		tasks:        tasks,
		cache:        cache,
		maxBatchSize: maxBatchSize,
		logger:       logger.With(slog.String("component", "status_service")),
	}, nil
}

// GetStatus returns the task identified by taskID if userID owns it.
// Missing, foreign and malformed ids all yield ErrTaskNotFound.
func (s *StatusService) GetStatus(ctx context.Context, taskID string, userID uuid.UUID) (*domain.Task, error) {
	id, err := uuid.Parse(taskID)
	if err != nil {
		return nil, ErrTaskNotFound
	}

	if task, ok := s.cached(id, userID); ok {
		return task, nil
	}

	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		if !store.IsNotFoundError(err) {
			logger.FromContextOrDefault(ctx, s.logger).Error("failed to get task status",
				slog.String("error", err.Error()),
				slog.String("task_id", taskID))
		}
		return nil, NewServiceError("get_status", "failed to load task", err)
	}
	if task.UserID != userID {
		return nil, ErrTaskNotFound
	}

	s.remember(task)
	return task, nil
}

// BatchGetStatus returns one entry per distinct requested id. Only a request
// larger than the configured batch size fails as a whole.
func (s *StatusService) BatchGetStatus(
	ctx context.Context,
	taskIDs []string,
	userID uuid.UUID,
) (map[string]BatchStatus, error) {
	out := make(map[string]BatchStatus, len(taskIDs))
	for _, raw := range taskIDs {
		out[raw] = BatchStatus{Err: ErrTaskNotFound}
	}
	if len(out) > s.maxBatchSize {
		return nil, ErrBatchTooLarge
	}

	// Several spellings of an id (case) may map to one UUID.
	lookup := make(map[uuid.UUID][]string, len(out))
	for raw := range out {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		if task, ok := s.cached(id, userID); ok {
			out[raw] = BatchStatus{Task: task}
			continue
		}
		lookup[id] = append(lookup[id], raw)
	}
	if len(lookup) == 0 {
		return out, nil
	}

	ids := make([]uuid.UUID, 0, len(lookup))
	for id := range lookup {
		ids = append(ids, id)
	}
	found, err := s.tasks.ListByIDs(ctx, ids, userID)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to list task statuses",
			slog.String("error", err.Error()),
			slog.Int("count", len(ids)))
		return nil, NewServiceError("batch_get_status", "failed to load tasks", err)
	}

	for id, task := range found {
		s.remember(task)
		for _, raw := range lookup[id] {
			out[raw] = BatchStatus{Task: task}
		}
	}
	return out, nil
}

func (s *StatusService) cached(id, userID uuid.UUID) (*domain.Task, bool) {
	if s.cache == nil {
		return nil, false
	}
	task, ok := s.cache.Get(id)
	if !ok || task.UserID != userID {
		return nil, false
	}
	return task, true
}

func (s *StatusService) remember(task *domain.Task) {
	if s.cache != nil && task.Status.IsTerminal() {
		s.cache.Put(task)
	}
}

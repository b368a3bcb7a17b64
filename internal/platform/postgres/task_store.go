package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zcanic/zcanic-server/internal/domain"
	"github.com/zcanic/zcanic-server/internal/platform/logger"
	"github.com/zcanic/zcanic-server/internal/store"
)

const taskColumns = `id, user_id, type, related_id, status, result, error, payload, extra_data,
	claim_token, claimed_by, lease_expires_at, attempts, created_at, updated_at`

// claimableCondition selects rows a claim may take: pending rows, and
// processing rows whose lease expired while takeovers remain. $3 is the claim
// time, $5 the attempt bound (<= 0 for none) and $6 the allowed types.
const claimableCondition = `
	(status = 'pending'
		OR (status = 'processing' AND lease_expires_at < $3 AND ($5 <= 0 OR attempts < $5)))
	AND (cardinality($6::text[]) = 0 OR type = ANY($6::text[]))`

const claimSet = `
	SET status = 'processing',
		claim_token = $1,
		claimed_by = $2,
		lease_expires_at = $4,
		attempts = attempts + 1,
		updated_at = $3`

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// WithTx implements store.TaskStore.WithTx
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{db: tx, logger: s.logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*domain.Task, error) {
	var (
		t       domain.Task
		typ     string
		status  string
		payload []byte
		extra   []byte
	)
	err := r.Scan(
		&t.ID,
		&t.UserID,
		&typ,
		&t.RelatedID,
		&status,
		&t.Result,
		&t.Error,
		&payload,
		&extra,
		&t.ClaimToken,
		&t.ClaimedBy,
		&t.LeaseExpiresAt,
		&t.Attempts,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Type = domain.TaskType(typ)
	t.Status = domain.TaskStatus(status)
	if len(payload) > 0 {
		t.Payload = payload
	}
	if len(extra) > 0 {
		t.ExtraData = extra
	}
	return &t, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// Create implements store.TaskStore.Create
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO tasks (id, user_id, type, related_id, status, payload, extra_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.UserID,
		string(task.Type),
		task.RelatedID,
		string(task.Status),
		nullableJSON(task.Payload),
		nullableJSON(task.ExtraData),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()),
			slog.String("task_type", string(task.Type)))
		return MapUniqueViolation(err, store.ErrTaskExists)
	}

	log.Debug("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("task_type", string(task.Type)),
		slog.String("related_id", task.RelatedID.String()))
	return nil
}

// GetByID implements store.TaskStore.GetByID
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		log.Error("failed to get task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, MapError(err)
	}
	return task, nil
}

func claimArgs(spec store.ClaimSpec) []any {
	now := spec.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	types := make([]string, 0, len(spec.Types))
	for _, t := range spec.Types {
		types = append(types, string(t))
	}

	return []any{
		spec.Token,
		spec.WorkerID,
		now,
		now.Add(spec.LeaseDuration),
		spec.MaxAttempts,
		types,
	}
}

// ClaimNextPending implements store.TaskStore.ClaimNextPending
func (s *PostgresTaskStore) ClaimNextPending(ctx context.Context, spec store.ClaimSpec) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE tasks` + claimSet + `
		WHERE id = (
			SELECT id FROM tasks
			WHERE ` + claimableCondition + `
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns

	task, err := scanTask(s.db.QueryRowContext(ctx, query, claimArgs(spec)...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoTaskAvailable
		}
		log.Error("failed to claim task",
			slog.String("error", err.Error()),
			slog.String("worker_id", spec.WorkerID))
		return nil, MapError(err)
	}

	log.Debug("task claimed",
		slog.String("task_id", task.ID.String()),
		slog.String("worker_id", spec.WorkerID),
		slog.Int("attempts", task.Attempts))
	return task, nil
}

// ClaimByID implements store.TaskStore.ClaimByID
func (s *PostgresTaskStore) ClaimByID(
	ctx context.Context,
	id uuid.UUID,
	spec store.ClaimSpec,
) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE tasks` + claimSet + `
		WHERE id = $7 AND ` + claimableCondition + `
		RETURNING ` + taskColumns

	args := append(claimArgs(spec), id)
	task, err := scanTask(s.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		log.Error("failed to claim task by id",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, MapError(err)
	}

	if _, getErr := s.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	log.Debug("task not claimable",
		slog.String("task_id", id.String()),
		slog.String("worker_id", spec.WorkerID))
	return nil, store.ErrInvalidTransition
}

// Finalize implements store.TaskStore.Finalize
func (s *PostgresTaskStore) Finalize(ctx context.Context, p store.FinalizeParams) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("task_id", p.TaskID.String()),
		slog.String("target_status", string(p.Status)))

	if !p.Status.IsTerminal() {
		log.Error("finalize called with non-terminal status")
		return nil, store.ErrInvalidTransition
	}

	query := `
		UPDATE tasks
		SET status = $1,
			result = $2,
			error = $3,
			lease_expires_at = NULL,
			updated_at = $4
		WHERE id = $5 AND status = 'processing' AND claim_token = $6
		RETURNING ` + taskColumns

	task, err := scanTask(s.db.QueryRowContext(ctx, query,
		string(p.Status),
		p.Result,
		p.Error,
		time.Now().UTC(),
		p.TaskID,
		p.Token,
	))
	if err == nil {
		log.Debug("task finalized")
		return task, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		log.Error("failed to finalize task", slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	// Zero rows: either a repeat of the same outcome, or a real violation.
	current, getErr := s.GetByID(ctx, p.TaskID)
	if getErr != nil {
		return nil, getErr
	}
	if current.Status == p.Status {
		log.Debug("task already finalized with the same status")
		return current, nil
	}
	log.Warn("finalize rejected",
		slog.String("current_status", string(current.Status)))
	return nil, store.ErrInvalidTransition
}

// ListByIDs implements store.TaskStore.ListByIDs
func (s *PostgresTaskStore) ListByIDs(
	ctx context.Context,
	ids []uuid.UUID,
	userID uuid.UUID,
) (map[uuid.UUID]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	out := make(map[uuid.UUID]*domain.Task, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ANY($1) AND user_id = $2`
	rows, err := s.db.QueryContext(ctx, query, ids, userID)
	if err != nil {
		log.Error("failed to list tasks",
			slog.String("error", err.Error()),
			slog.Int("requested", len(ids)))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, MapError(err)
		}
		out[task.ID] = task
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

// FailExhausted implements store.TaskStore.FailExhausted
func (s *PostgresTaskStore) FailExhausted(
	ctx context.Context,
	maxAttempts int,
	now time.Time,
) ([]*domain.Task, error) {
	query := `
		UPDATE tasks
		SET status = 'failed',
			error = 'lease expired after ' || attempts::text || ' attempts',
			lease_expires_at = NULL,
			updated_at = $1
		WHERE status = 'processing' AND lease_expires_at < $1 AND attempts >= $2
		RETURNING ` + taskColumns

	return s.queryTasks(ctx, "fail exhausted tasks", query, now.UTC(), maxAttempts)
}

// ListMirrorMismatches implements store.TaskStore.ListMirrorMismatches
func (s *PostgresTaskStore) ListMirrorMismatches(ctx context.Context, limit int) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks t
		WHERE t.status IN ('completed', 'failed')
		AND (
			EXISTS (
				SELECT 1 FROM chat_messages m
				WHERE t.type = 'chat_completion'
				AND m.id = t.related_id AND m.task_id = t.id AND m.status <> t.status
			)
			OR EXISTS (
				SELECT 1 FROM daily_fortunes f
				WHERE t.type = 'daily_fortune'
				AND f.id = t.related_id AND f.task_id = t.id AND f.status <> t.status
			)
		)
		ORDER BY t.updated_at
		LIMIT $1
	`
	return s.queryTasks(ctx, "list mirror mismatches", query, limit)
}

func (s *PostgresTaskStore) queryTasks(
	ctx context.Context,
	op string,
	query string,
	args ...any,
) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to "+op, slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, MapError(err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return tasks, nil
}

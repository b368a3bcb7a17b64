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

// PostgresFortuneStore implements the store.FortuneStore interface
// using a PostgreSQL database as the storage backend.
type PostgresFortuneStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresFortuneStore creates a new PostgreSQL implementation of the FortuneStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresFortuneStore(db store.DBTX, logger *slog.Logger) *PostgresFortuneStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresFortuneStore{
		db:     db,
		logger: logger.With(slog.String("component", "fortune_store")),
	}
}

// Ensure PostgresFortuneStore implements store.FortuneStore interface
var _ store.FortuneStore = (*PostgresFortuneStore)(nil)

// WithTx implements store.FortuneStore.WithTx
func (s *PostgresFortuneStore) WithTx(tx *sql.Tx) store.FortuneStore {
	return &PostgresFortuneStore{db: tx, logger: s.logger}
}

// GetForDay implements store.FortuneStore.GetForDay
func (s *PostgresFortuneStore) GetForDay(
	ctx context.Context,
	userID uuid.UUID,
	day time.Time,
) (*domain.DailyFortune, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, user_id, content, generated_at, status, task_id, created_at, updated_at
		FROM daily_fortunes
		WHERE user_id = $1 AND generated_at = $2
	`
	var (
		f      domain.DailyFortune
		status string
	)
	err := s.db.QueryRowContext(ctx, query, userID, day.Format(domain.FortuneDayLayout)).Scan(
		&f.ID,
		&f.UserID,
		&f.Content,
		&f.Day,
		&status,
		&f.TaskID,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrFortuneNotFound
		}
		log.Error("failed to get daily fortune",
			slog.String("error", err.Error()),
			slog.String("user_id", userID.String()))
		return nil, MapError(err)
	}
	f.Status = domain.TaskStatus(status)
	f.Day = f.Day.UTC()
	return &f, nil
}

// CreatePending implements store.FortuneStore.CreatePending
// Returns store.ErrFortuneExists when (user_id, generated_at) is already taken.
func (s *PostgresFortuneStore) CreatePending(ctx context.Context, fortune *domain.DailyFortune) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := fortune.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO daily_fortunes (id, user_id, content, generated_at, status, task_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		fortune.ID,
		fortune.UserID,
		fortune.Content,
		fortune.Day.Format(domain.FortuneDayLayout),
		string(fortune.Status),
		fortune.TaskID,
		fortune.CreatedAt,
		fortune.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			log.Info("daily fortune already exists",
				slog.String("user_id", fortune.UserID.String()),
				slog.String("day", fortune.Day.Format(domain.FortuneDayLayout)))
		} else {
			log.Error("failed to create daily fortune",
				slog.String("error", err.Error()),
				slog.String("fortune_id", fortune.ID.String()))
		}
		return MapUniqueViolation(err, store.ErrFortuneExists)
	}
	return nil
}

// ResetPending implements store.FortuneStore.ResetPending
func (s *PostgresFortuneStore) ResetPending(ctx context.Context, id uuid.UUID, taskID uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE daily_fortunes
		SET status = 'pending', task_id = $1, content = NULL, updated_at = $2
		WHERE id = $3 AND status = 'failed'
	`
	result, err := s.db.ExecContext(ctx, query, taskID, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to reset daily fortune",
			slog.String("error", err.Error()),
			slog.String("fortune_id", id.String()))
		return MapError(err)
	}

	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		// Someone else already resubmitted, or the fortune is not failed.
		return store.ErrFortuneExists
	}
	return nil
}

// UpdateMirror implements store.EntityMirror.UpdateMirror
func (s *PostgresFortuneStore) UpdateMirror(
	ctx context.Context,
	entityID uuid.UUID,
	taskID uuid.UUID,
	status domain.TaskStatus,
	content *string,
) error {
	return updateMirror(ctx, s.db, logger.FromContextOrDefault(ctx, s.logger),
		"daily_fortunes", store.ErrFortuneNotFound, entityID, taskID, status, content)
}

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

// PostgresChatStore implements the store.ChatStore interface
// using a PostgreSQL database as the storage backend.
type PostgresChatStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresChatStore creates a new PostgreSQL implementation of the ChatStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresChatStore(db store.DBTX, logger *slog.Logger) *PostgresChatStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresChatStore{
		db:     db,
		logger: logger.With(slog.String("component", "chat_store")),
	}
}

// Ensure PostgresChatStore implements store.ChatStore interface
var _ store.ChatStore = (*PostgresChatStore)(nil)

// WithTx implements store.ChatStore.WithTx
func (s *PostgresChatStore) WithTx(tx *sql.Tx) store.ChatStore {
	return &PostgresChatStore{db: tx, logger: s.logger}
}

// CreateSession implements store.ChatStore.CreateSession
func (s *PostgresChatStore) CreateSession(ctx context.Context, session *domain.ChatSession) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := session.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO chat_sessions (id, user_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.Title,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create chat session",
			slog.String("error", err.Error()),
			slog.String("session_id", session.ID.String()))
		return MapError(err)
	}
	return nil
}

// GetSession implements store.ChatStore.GetSession
func (s *PostgresChatStore) GetSession(
	ctx context.Context,
	id uuid.UUID,
	userID uuid.UUID,
) (*domain.ChatSession, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, user_id, title, created_at, updated_at
		FROM chat_sessions
		WHERE id = $1 AND user_id = $2
	`
	var session domain.ChatSession
	err := s.db.QueryRowContext(ctx, query, id, userID).Scan(
		&session.ID,
		&session.UserID,
		&session.Title,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrChatSessionNotFound
		}
		log.Error("failed to get chat session",
			slog.String("error", err.Error()),
			slog.String("session_id", id.String()))
		return nil, MapError(err)
	}
	return &session, nil
}

// CreateMessage implements store.ChatStore.CreateMessage
func (s *PostgresChatStore) CreateMessage(ctx context.Context, msg *domain.ChatMessage) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO chat_messages (id, session_id, role, content, status, task_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.SessionID,
		string(msg.Role),
		msg.Content,
		string(msg.Status),
		msg.TaskID,
		msg.CreatedAt,
		msg.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create chat message",
			slog.String("error", err.Error()),
			slog.String("message_id", msg.ID.String()),
			slog.String("session_id", msg.SessionID.String()))
		return MapError(err)
	}
	return nil
}

// ListMessages implements store.ChatStore.ListMessages
func (s *PostgresChatStore) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]*domain.ChatMessage, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, session_id, role, content, status, task_id, created_at, updated_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		log.Error("failed to list chat messages",
			slog.String("error", err.Error()),
			slog.String("session_id", sessionID.String()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*domain.ChatMessage
	for rows.Next() {
		var (
			m      domain.ChatMessage
			role   string
			status string
		)
		if err := rows.Scan(
			&m.ID,
			&m.SessionID,
			&role,
			&m.Content,
			&status,
			&m.TaskID,
			&m.CreatedAt,
			&m.UpdatedAt,
		); err != nil {
			return nil, MapError(err)
		}
		m.Role = domain.ChatRole(role)
		m.Status = domain.TaskStatus(status)
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return messages, nil
}

// UpdateMirror implements store.EntityMirror.UpdateMirror
func (s *PostgresChatStore) UpdateMirror(
	ctx context.Context,
	entityID uuid.UUID,
	taskID uuid.UUID,
	status domain.TaskStatus,
	content *string,
) error {
	return updateMirror(ctx, s.db, logger.FromContextOrDefault(ctx, s.logger),
		"chat_messages", store.ErrChatMessageNotFound, entityID, taskID, status, content)
}

// updateMirror writes a task status, and content when given, onto the row
// of table identified by entityID that still references taskID.
func updateMirror(
	ctx context.Context,
	db store.DBTX,
	log *slog.Logger,
	table string,
	notFound error,
	entityID uuid.UUID,
	taskID uuid.UUID,
	status domain.TaskStatus,
	content *string,
) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrInvalidMirrorStatus)
	}

	query := `
		UPDATE ` + table + `
		SET status = $1, content = COALESCE($2, content), updated_at = $3
		WHERE id = $4 AND task_id = $5
	`
	result, err := db.ExecContext(ctx, query,
		string(status),
		content,
		time.Now().UTC(),
		entityID,
		taskID,
	)
	if err != nil {
		log.Error("failed to update mirrored status",
			slog.String("error", err.Error()),
			slog.String("table", table),
			slog.String("entity_id", entityID.String()),
			slog.String("task_id", taskID.String()))
		return MapError(err)
	}

	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

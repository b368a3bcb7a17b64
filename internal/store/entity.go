package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/zcanic/zcanic-server/internal/domain"
)

// EntityMirror is implemented by every store holding rows a task populates.
type EntityMirror interface {
	// UpdateMirror writes status, and content when non-nil, to the entity
	// identified by entityID, provided the row still references taskID.
	// Returns an entity-specific not-found error if no such row exists.
	UpdateMirror(
		ctx context.Context,
		entityID uuid.UUID,
		taskID uuid.UUID,
		status domain.TaskStatus,
		content *string,
	) error
}

// ChatStore defines the interface for chat session and message persistence.
// Version: 1.0
type ChatStore interface {
	EntityMirror

	// CreateSession saves a new chat session.
	CreateSession(ctx context.Context, session *domain.ChatSession) error

	// GetSession retrieves a session owned by userID.
	// Returns ErrChatSessionNotFound if it does not exist or belongs to someone else.
	GetSession(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*domain.ChatSession, error)

	// CreateMessage saves a new chat message.
	// Returns ErrInvalidEntity if the session does not exist.
	CreateMessage(ctx context.Context, msg *domain.ChatMessage) error

	// ListMessages returns the session's messages oldest first.
	ListMessages(ctx context.Context, sessionID uuid.UUID) ([]*domain.ChatMessage, error)

	// WithTx returns a new ChatStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) ChatStore
}

// FortuneStore defines the interface for daily fortune persistence.
// Version: 1.0
type FortuneStore interface {
	EntityMirror

	// GetForDay retrieves the user's fortune for a calendar day.
	// Returns ErrFortuneNotFound if none exists.
	GetForDay(ctx context.Context, userID uuid.UUID, day time.Time) (*domain.DailyFortune, error)

	// CreatePending saves a new pending fortune.
	// Returns ErrFortuneExists if the user already has one for that day.
	CreatePending(ctx context.Context, fortune *domain.DailyFortune) error

	// ResetPending points a failed fortune at a new task and marks it pending.
	// Returns ErrFortuneExists if the fortune is no longer in the failed state.
	ResetPending(ctx context.Context, id uuid.UUID, taskID uuid.UUID) error

	// WithTx returns a new FortuneStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) FortuneStore
}

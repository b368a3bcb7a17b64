package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zcanic/zcanic-server/internal/domain"
)

// ClaimSpec describes what a worker is able to take and how long it may hold it.
type ClaimSpec struct {
	// Token is the lease token stamped on the claimed row. Only the holder of
	// this token may finalize the task.
	Token uuid.UUID

	// WorkerID names the claiming worker for diagnostics.
	WorkerID string

	// Types restricts the claim to the given task types. Empty means any type.
	Types []domain.TaskType

	// LeaseDuration is how long the claim is exclusive. A processing task whose
	// lease has expired may be taken over by another claim.
	LeaseDuration time.Duration

	// MaxAttempts bounds takeovers: a task claimed this many times is left to
	// the reaper instead of being claimed again. Zero means unbounded.
	MaxAttempts int

	// Now is the claim time; zero means the store's clock.
	Now time.Time
}

// FinalizeParams carries the terminal outcome of a claimed task.
type FinalizeParams struct {
	TaskID uuid.UUID
	Token  uuid.UUID
	Status domain.TaskStatus
	Result *string
	Error  *string
}

// LeaseExhaustedMessage is the error recorded on a task failed by FailExhausted.
func LeaseExhaustedMessage(attempts int) string {
	return fmt.Sprintf("lease expired after %d attempts", attempts)
}

// TaskStore defines the interface for task record persistence.
// Version: 1.0
type TaskStore interface {
	// Create inserts a new pending task.
	// Returns ErrTaskExists if a task with the same ID already exists.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// ClaimNextPending atomically moves the oldest claimable task to processing
	// and stamps it with spec.Token. A task is claimable when it is pending, or
	// when it is processing with an expired lease and fewer than MaxAttempts claims.
	// Returns ErrNoTaskAvailable when nothing was claimed.
	ClaimNextPending(ctx context.Context, spec ClaimSpec) (*domain.Task, error)

	// ClaimByID is ClaimNextPending restricted to one task. Of several
	// concurrent callers at most one succeeds; the others affect zero rows and
	// receive ErrInvalidTransition (or ErrTaskNotFound if the task is missing).
	ClaimByID(ctx context.Context, id uuid.UUID, spec ClaimSpec) (*domain.Task, error)

	// Finalize moves a processing task held under params.Token to a terminal
	// status with its result or error, in a single write. Repeating the same
	// terminal status is a no-op that returns the stored task. Any other
	// source state, target or token yields ErrInvalidTransition.
	Finalize(ctx context.Context, params FinalizeParams) (*domain.Task, error)

	// ListByIDs returns the tasks among ids owned by userID, keyed by ID.
	// Missing and foreign IDs are simply absent from the map.
	ListByIDs(ctx context.Context, ids []uuid.UUID, userID uuid.UUID) (map[uuid.UUID]*domain.Task, error)

	// FailExhausted finalizes as failed every processing task whose lease
	// expired before now after maxAttempts claims, returning the updated tasks.
	FailExhausted(ctx context.Context, maxAttempts int, now time.Time) ([]*domain.Task, error)

	// ListMirrorMismatches returns up to limit terminal tasks whose related
	// entity row does not mirror the task status.
	ListMirrorMismatches(ctx context.Context, limit int) ([]*domain.Task, error)

	// WithTx returns a new TaskStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) TaskStore
}

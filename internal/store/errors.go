package store

import (
	"errors"
	"fmt"

	"github.com/zcanic/zcanic-server/internal/domain"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity (e.g., a task with an existing ID).
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrTransactionFailed is returned when a database transaction fails
	// to commit or when an operation within a transaction fails.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrInvalidTransition is returned when a conditional status write does
	// not apply because the row is not in the expected state: finalizing a
	// task that is not processing under the caller's claim token, finalizing
	// into a different terminal state, or claiming a task that is not pending.
	// It signals a claim-protocol bug or a lost race, never a user error.
	ErrInvalidTransition = fmt.Errorf("%w: task", domain.ErrInvalidTransition)

	// ErrNoTaskAvailable is returned by ClaimNextPending when no claimable
	// task exists. It is the normal empty-queue outcome.
	ErrNoTaskAvailable = errors.New("no task available to claim")

	// Entity-specific "not found" errors

	// ErrTaskNotFound indicates that the requested task does not exist in the store.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrChatSessionNotFound indicates that the requested chat session does not exist.
	ErrChatSessionNotFound = fmt.Errorf("%w: chat session", ErrNotFound)

	// ErrChatMessageNotFound indicates that the requested chat message does not exist.
	ErrChatMessageNotFound = fmt.Errorf("%w: chat message", ErrNotFound)

	// ErrFortuneNotFound indicates that no fortune exists for the requested user and day.
	ErrFortuneNotFound = fmt.Errorf("%w: daily fortune", ErrNotFound)

	// Entity-specific "duplicate" errors

	// ErrTaskExists indicates that a task with the given ID already exists.
	ErrTaskExists = fmt.Errorf("%w: task", ErrDuplicate)

	// ErrFortuneExists indicates that the user already has a fortune for the day.
	ErrFortuneExists = fmt.Errorf("%w: daily fortune", ErrDuplicate)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if the error is any kind of "duplicate" error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// StoreError is a custom error type for store-specific errors with additional context.
type StoreError struct {
	Entity    string // The entity type (e.g., "task", "chat_message")
	Operation string // The operation that failed (e.g., "claim", "finalize")
	Message   string // Error message
	Err       error  // Original error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf(
			"%s operation on %s failed: %s: %v",
			e.Operation,
			e.Entity,
			e.Message,
			e.Err,
		)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError with the given entity, operation, message, and wrapped error.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

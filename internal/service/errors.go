package service

import (
	"errors"
	"fmt"

	"github.com/zcanic/zcanic-server/internal/store"
)

// Common service errors - sentinel errors used across service implementations.
// These errors represent common conditions that callers may want to check for with errors.Is().
//
// Error handling principles:
// 1. Service methods return sentinel errors for expected error conditions
// 2. Unexpected errors are wrapped in *ServiceError
// 3. Callers use errors.Is/errors.As to check for specific error conditions
// 4. The API layer maps service errors to appropriate HTTP status codes
var (
	// ErrTaskNotFound indicates the task does not exist or belongs to another user.
	// The two cases are deliberately indistinguishable to callers.
	// API layer should map this to HTTP 404 Not Found.
	ErrTaskNotFound = errors.New("task not found")

	// ErrChatSessionNotFound indicates the chat session does not exist or belongs
	// to another user.
	// API layer should map this to HTTP 404 Not Found.
	ErrChatSessionNotFound = errors.New("chat session not found")

	// ErrConflictAlreadyExists indicates the submission would duplicate work
	// that already exists, such as a second fortune for the same day.
	// API layer should map this to HTTP 409 Conflict.
	ErrConflictAlreadyExists = errors.New("resource already exists")

	// ErrBatchTooLarge indicates a batch status query named more ids than allowed.
	// API layer should map this to HTTP 400 Bad Request.
	ErrBatchTooLarge = errors.New("too many task ids in batch")

	// ErrUnsupportedTaskType indicates a submission for a task type the
	// service does not know how to prepare.
	// API layer should map this to HTTP 400 Bad Request.
	ErrUnsupportedTaskType = errors.New("unsupported task type")
)

// ServiceError wraps errors from the task services with context.
type ServiceError struct {
	// Operation is the operation that failed (e.g., "submit_chat_message", "get_status")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
// Known sentinel errors, and store errors with a service-level equivalent,
// are returned directly without wrapping.
func NewServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	for _, sentinel := range []error{
		ErrTaskNotFound,
		ErrChatSessionNotFound,
		ErrConflictAlreadyExists,
		ErrBatchTooLarge,
		ErrUnsupportedTaskType,
	} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}

	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		return ErrTaskNotFound
	case errors.Is(err, store.ErrChatSessionNotFound):
		return ErrChatSessionNotFound
	case errors.Is(err, store.ErrFortuneExists):
		return ErrConflictAlreadyExists
	}

	return &ServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

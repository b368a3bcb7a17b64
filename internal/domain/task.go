package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task. The same value is
// mirrored onto the related entity row the task populates.
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Valid reports whether s is one of the four known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// TaskType identifies what a task generates and which related entity it fills.
type TaskType string

// Task type constants
const (
	// TaskTypeChatCompletion generates the assistant reply for a chat message.
	TaskTypeChatCompletion TaskType = "chat_completion"

	// TaskTypeDailyFortune generates a user's fortune text for one calendar day.
	TaskTypeDailyFortune TaskType = "daily_fortune"
)

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeChatCompletion, TaskTypeDailyFortune:
		return true
	default:
		return false
	}
}

// Validation errors for Task
var (
	ErrEmptyTaskID        = fmt.Errorf("%w: task ID cannot be empty", ErrValidation)
	ErrEmptyTaskUserID    = fmt.Errorf("%w: task user ID cannot be empty", ErrValidation)
	ErrEmptyTaskRelatedID = fmt.Errorf("%w: task related ID cannot be empty", ErrValidation)
	ErrInvalidTaskType    = fmt.Errorf("%w: invalid task type", ErrValidation)
	ErrInvalidTaskStatus  = fmt.Errorf("%w: invalid task status", ErrValidation)
	ErrInvalidTaskOutcome = fmt.Errorf("%w: result and error do not match task status", ErrValidation)
	ErrInvalidTaskPayload = fmt.Errorf("%w: task payload must be valid JSON", ErrValidation)
)

// Task is a unit of deferred generation work. It is created pending by the
// submission service, claimed by exactly one executor and finalized once.
type Task struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Type      TaskType        `json:"type"`
	RelatedID uuid.UUID       `json:"related_id"`
	Status    TaskStatus      `json:"status"`
	Result    *string         `json:"result"`
	Error     *string         `json:"error"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ExtraData json.RawMessage `json:"extra_data,omitempty"`

	// Claim bookkeeping. ClaimToken identifies the current owner while
	// processing; a lease past LeaseExpiresAt may be taken over.
	ClaimToken     *uuid.UUID `json:"-"`
	ClaimedBy      string     `json:"-"`
	LeaseExpiresAt *time.Time `json:"-"`
	Attempts       int        `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTask creates a pending task for userID that will populate the entity
// identified by relatedID. payload and extraData are stored verbatim.
func NewTask(
	userID uuid.UUID,
	taskType TaskType,
	relatedID uuid.UUID,
	payload json.RawMessage,
	extraData json.RawMessage,
) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      taskType,
		RelatedID: relatedID,
		Status:    TaskStatusPending,
		Payload:   payload,
		ExtraData: extraData,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data, including the outcome
// invariant: both result and error are nil until the task is terminal, and
// exactly the one matching the terminal status is set afterwards.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if t.UserID == uuid.Nil {
		return ErrEmptyTaskUserID
	}
	if t.RelatedID == uuid.Nil {
		return ErrEmptyTaskRelatedID
	}
	if !t.Type.Valid() {
		return ErrInvalidTaskType
	}
	if !t.Status.Valid() {
		return ErrInvalidTaskStatus
	}
	if len(t.Payload) > 0 && !json.Valid(t.Payload) {
		return ErrInvalidTaskPayload
	}
	if len(t.ExtraData) > 0 && !json.Valid(t.ExtraData) {
		return ErrInvalidTaskPayload
	}

	switch t.Status {
	case TaskStatusPending, TaskStatusProcessing:
		if t.Result != nil || t.Error != nil {
			return ErrInvalidTaskOutcome
		}
	case TaskStatusCompleted:
		if t.Result == nil || t.Error != nil {
			return ErrInvalidTaskOutcome
		}
	case TaskStatusFailed:
		if t.Error == nil || t.Result != nil {
			return ErrInvalidTaskOutcome
		}
	}

	return nil
}

// CanTransition reports whether the lifecycle permits moving from one status
// to another. Terminal states have no outgoing edges.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskStatusPending:
		return to == TaskStatusProcessing
	case TaskStatusProcessing:
		return to == TaskStatusCompleted || to == TaskStatusFailed
	default:
		return false
	}
}

// LeaseExpired reports whether a processing task's lease ended before now.
func (t *Task) LeaseExpired(now time.Time) bool {
	return t.Status == TaskStatusProcessing &&
		t.LeaseExpiresAt != nil &&
		t.LeaseExpiresAt.Before(now)
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	if t.Result != nil {
		v := *t.Result
		c.Result = &v
	}
	if t.Error != nil {
		v := *t.Error
		c.Error = &v
	}
	if t.ClaimToken != nil {
		v := *t.ClaimToken
		c.ClaimToken = &v
	}
	if t.LeaseExpiresAt != nil {
		v := *t.LeaseExpiresAt
		c.LeaseExpiresAt = &v
	}
	c.Payload = append(json.RawMessage(nil), t.Payload...)
	c.ExtraData = append(json.RawMessage(nil), t.ExtraData...)
	return &c
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zcanic/zcanic-server/internal/domain"
)

// TaskSubmittedEvent announces that a pending task has been committed and
// can be claimed. It is a hint only: executors that miss it still find the
// task by polling.
type TaskSubmittedEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	TaskID    uuid.UUID       `json:"task_id"`
	UserID    uuid.UUID       `json:"user_id"`
	TaskType  domain.TaskType `json:"task_type"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewTaskSubmittedEvent creates the event for a freshly persisted task.
func NewTaskSubmittedEvent(task *domain.Task) *TaskSubmittedEvent {
	return &TaskSubmittedEvent{
		ID:        uuid.New(),
		TaskID:    task.ID,
		UserID:    task.UserID,
		TaskType:  task.Type,
		CreatedAt: time.Now().UTC(),
	}
}

// Marshal encodes the event for a message bus.
func (e *TaskSubmittedEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalTaskSubmittedEvent decodes an event received from a message bus.
func UnmarshalTaskSubmittedEvent(data []byte) (*TaskSubmittedEvent, error) {
	var e TaskSubmittedEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("invalid task submitted event: %w", err)
	}
	if e.TaskID == uuid.Nil {
		return nil, fmt.Errorf("invalid task submitted event: missing task_id")
	}
	return &e, nil
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *TaskSubmittedEvent) error
}

// EventHandlerFunc adapts a function to the EventHandler interface.
type EventHandlerFunc func(ctx context.Context, event *TaskSubmittedEvent) error

// HandleEvent calls f(ctx, event).
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *TaskSubmittedEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *TaskSubmittedEvent) error
}

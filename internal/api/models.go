package api

import (
	"time"

	"github.com/zcanic/zcanic-server/internal/domain"
)

// TaskStatusResponse is the client view of a task.
type TaskStatusResponse struct {
	TaskID    string            `json:"task_id"`
	Type      domain.TaskType   `json:"type"`
	Status    domain.TaskStatus `json:"status"`
	Result    *string           `json:"result"`
	Error     *string           `json:"error"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// BatchStatusRequest is the body of POST /api/tasks/batch.
type BatchStatusRequest struct {
	TaskIDs []string `json:"task_ids" validate:"required"`
}

// BatchStatusResponse maps every requested id to a TaskStatusResponse or a
// notFoundEntry.
type BatchStatusResponse struct {
	Tasks map[string]any `json:"tasks"`
}

// notFoundEntry marks a batch id that is unknown or not owned by the caller.
type notFoundEntry struct {
	Error string `json:"error"`
}

// CreateSessionRequest is the body of POST /api/chat/sessions.
type CreateSessionRequest struct {
	Title string `json:"title" validate:"max=200"`
}

// SessionResponse is the client view of a chat session.
type SessionResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatMessageRequest is the body of POST /api/chat/sessions/{id}/messages.
type ChatMessageRequest struct {
	Content     string   `json:"content"     validate:"required"`
	Model       string   `json:"model"       validate:"max=100"`
	Temperature *float64 `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   *int     `json:"max_tokens"  validate:"omitempty,gte=1,lte=8192"`
}

// Params returns the generation parameters named in the request.
func (r ChatMessageRequest) Params() domain.GenerationParams {
	return domain.GenerationParams{
		Model:       r.Model,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	}
}

// ChatSubmissionResponse acknowledges an accepted chat message.
type ChatSubmissionResponse struct {
	TaskID        string            `json:"task_id"`
	MessageID     string            `json:"message_id"`
	UserMessageID string            `json:"user_message_id"`
	Status        domain.TaskStatus `json:"status"`
}

// MessageResponse is the client view of a chat message.
type MessageResponse struct {
	ID        string            `json:"id"`
	Role      domain.ChatRole   `json:"role"`
	Content   *string           `json:"content"`
	Status    domain.TaskStatus `json:"status"`
	TaskID    *string           `json:"task_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// FortuneRequest is the optional body of POST /api/fortunes/today.
type FortuneRequest struct {
	Model       string   `json:"model"       validate:"max=100"`
	Temperature *float64 `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   *int     `json:"max_tokens"  validate:"omitempty,gte=1,lte=8192"`
}

// FortuneSubmissionResponse acknowledges an accepted fortune request.
type FortuneSubmissionResponse struct {
	TaskID    string            `json:"task_id"`
	FortuneID string            `json:"fortune_id"`
	Day       string            `json:"day"`
	Status    domain.TaskStatus `json:"status"`
}

func taskStatusResponse(t *domain.Task) TaskStatusResponse {
	return TaskStatusResponse{
		TaskID:    t.ID.String(),
		Type:      t.Type,
		Status:    t.Status,
		Result:    t.Result,
		Error:     t.Error,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func messageResponse(m *domain.ChatMessage) MessageResponse {
	resp := MessageResponse{
		ID:        m.ID.String(),
		Role:      m.Role,
		Content:   m.Content,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
	}
	if m.TaskID != nil {
		id := m.TaskID.String()
		resp.TaskID = &id
	}
	return resp
}

package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ChatRole is the author of a chat message.
type ChatRole string

// Chat roles
const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
	ChatRoleSystem    ChatRole = "system"
)

// MaxChatMessageLength bounds user message content, in runes.
const MaxChatMessageLength = 4000

// Validation errors for chat entities
var (
	ErrEmptyChatSessionID  = fmt.Errorf("%w: chat session ID cannot be empty", ErrValidation)
	ErrEmptyChatUserID     = fmt.Errorf("%w: chat session user ID cannot be empty", ErrValidation)
	ErrEmptyChatTitle      = fmt.Errorf("%w: chat session title cannot be empty", ErrValidation)
	ErrEmptyChatMessage    = fmt.Errorf("%w: chat message content cannot be empty", ErrValidation)
	ErrChatMessageTooLong  = fmt.Errorf("%w: chat message content is too long", ErrValidation)
	ErrInvalidChatRole     = fmt.Errorf("%w: invalid chat role", ErrValidation)
	ErrInvalidMirrorStatus = fmt.Errorf("%w: invalid mirrored status", ErrValidation)
)

// ChatSession groups the messages of one conversation owned by a user.
type ChatSession struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewChatSession creates a session. An empty title defaults to "New chat".
func NewChatSession(userID uuid.UUID, title string) (*ChatSession, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New chat"
	}

	now := time.Now().UTC()
	session := &ChatSession{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := session.Validate(); err != nil {
		return nil, err
	}
	return session, nil
}

// Validate checks if the ChatSession has valid data.
func (s *ChatSession) Validate() error {
	if s.ID == uuid.Nil {
		return ErrEmptyChatSessionID
	}
	if s.UserID == uuid.Nil {
		return ErrEmptyChatUserID
	}
	if s.Title == "" {
		return ErrEmptyChatTitle
	}
	return nil
}

// ChatMessage is one turn of a conversation. Assistant replies are created
// as pending placeholders (nil Content) and filled in by the executor; Status
// and TaskID mirror the owning task.
type ChatMessage struct {
	ID        uuid.UUID  `json:"id"`
	SessionID uuid.UUID  `json:"session_id"`
	Role      ChatRole   `json:"role"`
	Content   *string    `json:"content"`
	Status    TaskStatus `json:"status"`
	TaskID    *uuid.UUID `json:"task_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewUserMessage creates a completed user message with the given content.
func NewUserMessage(sessionID uuid.UUID, content string) (*ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyChatMessage
	}
	if utf8.RuneCountInString(content) > MaxChatMessageLength {
		return nil, ErrChatMessageTooLong
	}

	now := time.Now().UTC()
	msg := &ChatMessage{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      ChatRoleUser,
		Content:   &content,
		Status:    TaskStatusCompleted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// NewPendingAssistantMessage creates the placeholder reply a chat_completion
// task will populate. Its creation time is nudged after the user message so
// history ordering stays stable.
func NewPendingAssistantMessage(sessionID uuid.UUID, after time.Time) *ChatMessage {
	createdAt := time.Now().UTC()
	if !createdAt.After(after) {
		createdAt = after.Add(time.Microsecond)
	}
	return &ChatMessage{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      ChatRoleAssistant,
		Status:    TaskStatusPending,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// Validate checks if the ChatMessage has valid data.
func (m *ChatMessage) Validate() error {
	if m.SessionID == uuid.Nil {
		return ErrEmptyChatSessionID
	}
	switch m.Role {
	case ChatRoleUser, ChatRoleAssistant, ChatRoleSystem:
	default:
		return ErrInvalidChatRole
	}
	if !m.Status.Valid() {
		return ErrInvalidMirrorStatus
	}
	return nil
}

// ChatTurn is the role/content pair handed to the generator.
type ChatTurn struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// ChatCompletionPayload is the stored task payload of a chat_completion task:
// the conversation history up to and including the new user message.
type ChatCompletionPayload struct {
	SessionID uuid.UUID  `json:"session_id"`
	Messages  []ChatTurn `json:"messages"`
}

// HistoryTurns converts completed messages with content into turns, keeping
// at most the last limit entries. Pending or failed replies are skipped.
func HistoryTurns(messages []*ChatMessage, limit int) []ChatTurn {
	turns := make([]ChatTurn, 0, len(messages))
	for _, m := range messages {
		if m.Status != TaskStatusCompleted || m.Content == nil {
			continue
		}
		turns = append(turns, ChatTurn{Role: m.Role, Content: *m.Content})
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns
}

package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChatSession(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	session, err := NewChatSession(userID, "   ")
	require.NoError(t, err)
	assert.Equal(t, "New chat", session.Title)
	assert.Equal(t, userID, session.UserID)

	session, err = NewChatSession(userID, "  Travel plans ")
	require.NoError(t, err)
	assert.Equal(t, "Travel plans", session.Title)

	_, err = NewChatSession(uuid.Nil, "x")
	assert.ErrorIs(t, err, ErrEmptyChatUserID)
}

func TestNewUserMessage(t *testing.T) {
	t.Parallel()

	sessionID := uuid.New()

	tests := []struct {
		name    string
		content string
		want    string
		wantErr error
	}{
		{name: "trimmed", content: "  hi there \n", want: "hi there"},
		{name: "blank", content: " \t ", wantErr: ErrEmptyChatMessage},
		{name: "at limit", content: strings.Repeat("é", MaxChatMessageLength), want: strings.Repeat("é", MaxChatMessageLength)},
		{name: "too long", content: strings.Repeat("a", MaxChatMessageLength+1), wantErr: ErrChatMessageTooLong},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			msg, err := NewUserMessage(sessionID, tc.content)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, msg)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, msg.Content)
			assert.Equal(t, tc.want, *msg.Content)
			assert.Equal(t, ChatRoleUser, msg.Role)
			assert.Equal(t, TaskStatusCompleted, msg.Status)
		})
	}

	_, err := NewUserMessage(uuid.Nil, "hi")
	assert.ErrorIs(t, err, ErrEmptyChatSessionID)
}

func TestNewPendingAssistantMessage(t *testing.T) {
	t.Parallel()

	sessionID := uuid.New()
	future := time.Now().UTC().Add(time.Hour)

	msg := NewPendingAssistantMessage(sessionID, future)
	assert.True(t, msg.CreatedAt.After(future))
	assert.Equal(t, ChatRoleAssistant, msg.Role)
	assert.Equal(t, TaskStatusPending, msg.Status)
	assert.Nil(t, msg.Content)
	assert.NoError(t, msg.Validate())

	past := time.Now().UTC().Add(-time.Hour)
	msg = NewPendingAssistantMessage(sessionID, past)
	assert.True(t, msg.CreatedAt.After(past))
}

func TestHistoryTurns(t *testing.T) {
	t.Parallel()

	msg := func(role ChatRole, content string, status TaskStatus) *ChatMessage {
		m := &ChatMessage{Role: role, Status: status}
		if content != "" {
			m.Content = &content
		}
		return m
	}

	history := []*ChatMessage{
		msg(ChatRoleUser, "one", TaskStatusCompleted),
		msg(ChatRoleAssistant, "two", TaskStatusCompleted),
		msg(ChatRoleUser, "three", TaskStatusCompleted),
		msg(ChatRoleAssistant, "", TaskStatusFailed),
		msg(ChatRoleUser, "four", TaskStatusCompleted),
		msg(ChatRoleAssistant, "", TaskStatusPending),
	}

	all := HistoryTurns(history, 0)
	require.Len(t, all, 4)
	assert.Equal(t, ChatTurn{Role: ChatRoleUser, Content: "one"}, all[0])
	assert.Equal(t, "four", all[3].Content)

	last := HistoryTurns(history, 2)
	assert.Equal(t, []ChatTurn{
		{Role: ChatRoleUser, Content: "three"},
		{Role: ChatRoleUser, Content: "four"},
	}, last)

	assert.Empty(t, HistoryTurns(nil, 5))
}

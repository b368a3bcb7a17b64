package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestNewTask(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	relatedID := uuid.New()
	payload := json.RawMessage(`{"day":"2025-05-01"}`)

	task, err := NewTask(userID, TaskTypeDailyFortune, relatedID, payload, nil)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, task.ID)
	assert.Equal(t, userID, task.UserID)
	assert.Equal(t, relatedID, task.RelatedID)
	assert.Equal(t, TaskStatusPending, task.Status)
	assert.Nil(t, task.Result)
	assert.Nil(t, task.Error)
	assert.Equal(t, task.CreatedAt, task.UpdatedAt)
	assert.JSONEq(t, string(payload), string(task.Payload))
}

func TestNewTask_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		userID    uuid.UUID
		taskType  TaskType
		relatedID uuid.UUID
		payload   json.RawMessage
		extra     json.RawMessage
		wantErr   error
	}{
		{"nil user", uuid.Nil, TaskTypeChatCompletion, uuid.New(), nil, nil, ErrEmptyTaskUserID},
		{"nil related", uuid.New(), TaskTypeChatCompletion, uuid.Nil, nil, nil, ErrEmptyTaskRelatedID},
		{"unknown type", uuid.New(), TaskType("image"), uuid.New(), nil, nil, ErrInvalidTaskType},
		{"bad payload", uuid.New(), TaskTypeChatCompletion, uuid.New(), json.RawMessage(`{`), nil, ErrInvalidTaskPayload},
		{"bad extra data", uuid.New(), TaskTypeChatCompletion, uuid.New(), nil, json.RawMessage(`nope`), ErrInvalidTaskPayload},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			task, err := NewTask(tc.userID, tc.taskType, tc.relatedID, tc.payload, tc.extra)
			assert.Nil(t, task)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestTaskValidate_Outcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  TaskStatus
		result  *string
		errMsg  *string
		wantErr bool
	}{
		{"pending clean", TaskStatusPending, nil, nil, false},
		{"pending with result", TaskStatusPending, strPtr("x"), nil, true},
		{"processing with error", TaskStatusProcessing, nil, strPtr("x"), true},
		{"completed with result", TaskStatusCompleted, strPtr("done"), nil, false},
		{"completed with empty result", TaskStatusCompleted, strPtr(""), nil, false},
		{"completed without result", TaskStatusCompleted, nil, nil, true},
		{"completed with both", TaskStatusCompleted, strPtr("done"), strPtr("oops"), true},
		{"failed with error", TaskStatusFailed, nil, strPtr("oops"), false},
		{"failed with result", TaskStatusFailed, strPtr("done"), strPtr("oops"), true},
		{"unknown status", TaskStatus("queued"), nil, nil, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			task := &Task{
				ID:        uuid.New(),
				UserID:    uuid.New(),
				RelatedID: uuid.New(),
				Type:      TaskTypeChatCompletion,
				Status:    tc.status,
				Result:    tc.result,
				Error:     tc.errMsg,
			}
			err := task.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTaskStatus(t *testing.T) {
	t.Parallel()

	assert.False(t, TaskStatusPending.IsTerminal())
	assert.False(t, TaskStatusProcessing.IsTerminal())
	assert.True(t, TaskStatusCompleted.IsTerminal())
	assert.True(t, TaskStatusFailed.IsTerminal())
	assert.False(t, TaskStatus("").Valid())
	assert.True(t, TaskTypeDailyFortune.Valid())
	assert.False(t, TaskType("").Valid())
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := map[[2]TaskStatus]bool{
		{TaskStatusPending, TaskStatusProcessing}:   true,
		{TaskStatusProcessing, TaskStatusCompleted}: true,
		{TaskStatusProcessing, TaskStatusFailed}:    true,
	}
	all := []TaskStatus{TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]TaskStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTaskLeaseExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Minute)

	assert.True(t, (&Task{Status: TaskStatusProcessing, LeaseExpiresAt: &past}).LeaseExpired(now))
	assert.False(t, (&Task{Status: TaskStatusProcessing, LeaseExpiresAt: &future}).LeaseExpired(now))
	assert.False(t, (&Task{Status: TaskStatusProcessing}).LeaseExpired(now))
	assert.False(t, (&Task{Status: TaskStatusCompleted, LeaseExpiresAt: &past}).LeaseExpired(now))
}

func TestTaskClone(t *testing.T) {
	t.Parallel()

	token := uuid.New()
	lease := time.Now().Add(time.Minute)
	orig := &Task{
		ID:             uuid.New(),
		Status:         TaskStatusCompleted,
		Result:         strPtr("hello"),
		Payload:        json.RawMessage(`{"a":1}`),
		ClaimToken:     &token,
		LeaseExpiresAt: &lease,
	}

	c := orig.Clone()
	require.Equal(t, orig, c)

	*c.Result = "changed"
	c.Payload[0] = '['
	*c.ClaimToken = uuid.New()

	assert.Equal(t, "hello", *orig.Result)
	assert.Equal(t, `{"a":1}`, string(orig.Payload))
	assert.Equal(t, token, *orig.ClaimToken)
}

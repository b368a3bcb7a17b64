package cache

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zcanic/zcanic-server/internal/domain"
)

func newTask(status domain.TaskStatus) *domain.Task {
	result := "done"
	return &domain.Task{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Type:   domain.TaskTypeChatCompletion,
		Status: status,
		Result: &result,
	}
}

func TestStatusCache_TerminalOnly(t *testing.T) {
	c, err := NewStatusCache(100, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	pending := newTask(domain.TaskStatusPending)
	processing := newTask(domain.TaskStatusProcessing)
	completed := newTask(domain.TaskStatusCompleted)

	assert.False(t, c.Put(pending))
	assert.False(t, c.Put(processing))
	assert.False(t, c.Put(nil))
	assert.True(t, c.Put(completed))
	c.Wait()

	_, ok := c.Get(pending.ID)
	assert.False(t, ok)

	got, ok := c.Get(completed.ID)
	require.True(t, ok)
	assert.Equal(t, completed.ID, got.ID)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)

	// Callers get a copy.
	got.Status = domain.TaskStatusFailed
	again, ok := c.Get(completed.ID)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusCompleted, again.Status)
}

func TestNewStatusCache_InvalidCapacity(t *testing.T) {
	_, err := NewStatusCache(0, time.Minute)
	assert.Error(t, err)
}

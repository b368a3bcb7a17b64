// Package cache keeps finalized tasks in an in-process ristretto cache so
// hot polling of completed work does not reach the database.
package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
	"github.com/zcanic/zcanic-server/internal/domain"
)

// DefaultTTL bounds how long a finalized task stays cached.
const DefaultTTL = 10 * time.Minute

// StatusCache caches terminal tasks by ID. Non-terminal tasks are never
// stored because their status can still change.
type StatusCache struct {
	c   *ristretto.Cache[string, domain.Task]
	ttl time.Duration
}

// NewStatusCache creates a cache holding roughly capacity tasks.
func NewStatusCache(capacity int64, ttl time.Duration) (*StatusCache, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("status cache capacity must be positive, got %d", capacity)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, domain.Task]{
		NumCounters: capacity * 10, // ~10x expected items
		MaxCost:     capacity,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create status cache: %w", err)
	}
	return &StatusCache{c: c, ttl: ttl}, nil
}

// Get returns a copy of the cached task.
func (s *StatusCache) Get(id uuid.UUID) (*domain.Task, bool) {
	task, ok := s.c.Get(id.String())
	if !ok {
		return nil, false
	}
	return &task, true
}

// Put caches task if it is terminal and reports whether it was accepted.
// Admission is asynchronous; call Wait before relying on a subsequent Get.
func (s *StatusCache) Put(task *domain.Task) bool {
	if task == nil || !task.Status.IsTerminal() {
		return false
	}
	return s.c.SetWithTTL(task.ID.String(), *task, 1, s.ttl)
}

// Wait blocks until buffered writes are applied.
func (s *StatusCache) Wait() {
	s.c.Wait()
}

// Close releases the cache's background goroutines.
func (s *StatusCache) Close() {
	s.c.Close()
}

package task

import (
	"sort"

	"github.com/zcanic/zcanic-server/internal/domain"
	"github.com/zcanic/zcanic-server/internal/store"
)

// MirrorFunc selects the store holding the related entity of a task type.
type MirrorFunc func(s store.Stores) store.EntityMirror

// Registry maps task types to the stores their related entities live in.
// Only registered types are ever claimed.
type Registry struct {
	mirrors map[domain.TaskType]MirrorFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{mirrors: make(map[domain.TaskType]MirrorFunc)}
}

// DefaultRegistry registers the built-in task types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(domain.TaskTypeChatCompletion, func(s store.Stores) store.EntityMirror { return s.Chats })
	r.Register(domain.TaskTypeDailyFortune, func(s store.Stores) store.EntityMirror { return s.Fortunes })
	return r
}

// Register sets the mirror for taskType, replacing any previous one.
func (r *Registry) Register(taskType domain.TaskType, mirror MirrorFunc) {
	r.mirrors[taskType] = mirror
}

// Mirror returns the entity store for taskType bound to s.
func (r *Registry) Mirror(s store.Stores, taskType domain.TaskType) (store.EntityMirror, bool) {
	fn, ok := r.mirrors[taskType]
	if !ok {
		return nil, false
	}
	return fn(s), true
}

// Types returns the registered types in name order.
func (r *Registry) Types() []domain.TaskType {
	types := make([]domain.TaskType, 0, len(r.mirrors))
	for t := range r.mirrors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Package memstore is an in-memory implementation of the store interfaces
// with the same conditional-write semantics as the Postgres adapter. It
// backs service, executor and handler tests.
package memstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zcanic/zcanic-server/internal/domain"
	"github.com/zcanic/zcanic-server/internal/store"
)

// Operation names accepted by FailNext.
const (
	OpTaskCreate          = "tasks.Create"
	OpTaskClaim           = "tasks.Claim"
	OpTaskFinalize        = "tasks.Finalize"
	OpTaskListByIDs       = "tasks.ListByIDs"
	OpChatCreateMessage   = "chats.CreateMessage"
	OpChatUpdateMirror    = "chats.UpdateMirror"
	OpFortuneCreate       = "fortunes.CreatePending"
	OpFortuneUpdateMirror = "fortunes.UpdateMirror"
)

// Store holds every table in memory. The zero value is not usable; call New.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	now func() time.Time

	tasks    map[uuid.UUID]*domain.Task
	sessions map[uuid.UUID]*domain.ChatSession
	messages map[uuid.UUID]*domain.ChatMessage
	fortunes map[uuid.UUID]*domain.DailyFortune

	failures map[string]error
}

// New creates an empty store using the wall clock.
func New() *Store {
	return &Store{
		now:      func() time.Time { return time.Now().UTC() },
		tasks:    make(map[uuid.UUID]*domain.Task),
		sessions: make(map[uuid.UUID]*domain.ChatSession),
		messages: make(map[uuid.UUID]*domain.ChatMessage),
		fortunes: make(map[uuid.UUID]*domain.DailyFortune),
		failures: make(map[string]error),
	}
}

// SetClock replaces the store clock used when a ClaimSpec carries no time.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailNext makes the next call of op return err instead of executing.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// failure pops an injected error for op. Callers hold s.mu.
func (s *Store) failure(op string) error {
	err, ok := s.failures[op]
	if !ok {
		return nil
	}
	delete(s.failures, op)
	return err
}

// Stores implements store.Transactor.
func (s *Store) Stores() store.Stores {
	return store.Stores{
		Tasks:    &taskStore{s: s},
		Chats:    &chatStore{s: s},
		Fortunes: &fortuneStore{s: s},
	}
}

// RunInTx implements store.Transactor. Transactions are serialized; when fn
// fails, every table is restored to its state before fn ran.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, st store.Stores) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx, s.Stores()); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	tasks    map[uuid.UUID]*domain.Task
	sessions map[uuid.UUID]*domain.ChatSession
	messages map[uuid.UUID]*domain.ChatMessage
	fortunes map[uuid.UUID]*domain.DailyFortune
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		tasks:    make(map[uuid.UUID]*domain.Task, len(s.tasks)),
		sessions: make(map[uuid.UUID]*domain.ChatSession, len(s.sessions)),
		messages: make(map[uuid.UUID]*domain.ChatMessage, len(s.messages)),
		fortunes: make(map[uuid.UUID]*domain.DailyFortune, len(s.fortunes)),
	}
	for id, t := range s.tasks {
		snap.tasks[id] = t.Clone()
	}
	for id, cs := range s.sessions {
		c := *cs
		snap.sessions[id] = &c
	}
	for id, m := range s.messages {
		snap.messages[id] = cloneMessage(m)
	}
	for id, f := range s.fortunes {
		snap.fortunes[id] = cloneFortune(f)
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = snap.tasks
	s.sessions = snap.sessions
	s.messages = snap.messages
	s.fortunes = snap.fortunes
}

// Task returns a copy of the stored task, for assertions.
func (s *Store) Task(id uuid.UUID) (*domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// TaskCount returns the number of stored tasks.
func (s *Store) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Message returns a copy of the stored chat message, for assertions.
func (s *Store) Message(id uuid.UUID) (*domain.ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, false
	}
	return cloneMessage(m), true
}

// Fortune returns a copy of the stored fortune, for assertions.
func (s *Store) Fortune(id uuid.UUID) (*domain.DailyFortune, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fortunes[id]
	if !ok {
		return nil, false
	}
	return cloneFortune(f), true
}

// DeleteSession removes a session and its messages, like ON DELETE CASCADE.
func (s *Store) DeleteSession(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	for mid, m := range s.messages {
		if m.SessionID == id {
			delete(s.messages, mid)
		}
	}
}

// ForceMirror overwrites an entity's status without touching its task, for
// simulating a partially applied write.
func (s *Store) ForceMirror(entityID uuid.UUID, status domain.TaskStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[entityID]; ok {
		m.Status = status
	}
	if f, ok := s.fortunes[entityID]; ok {
		f.Status = status
	}
}

func cloneMessage(m *domain.ChatMessage) *domain.ChatMessage {
	c := *m
	if m.Content != nil {
		v := *m.Content
		c.Content = &v
	}
	if m.TaskID != nil {
		v := *m.TaskID
		c.TaskID = &v
	}
	return &c
}

func cloneFortune(f *domain.DailyFortune) *domain.DailyFortune {
	c := *f
	if f.Content != nil {
		v := *f.Content
		c.Content = &v
	}
	if f.TaskID != nil {
		v := *f.TaskID
		c.TaskID = &v
	}
	return &c
}

// taskStore implements store.TaskStore.
type taskStore struct {
	s *Store
}

var _ store.TaskStore = (*taskStore)(nil)

func (ts *taskStore) WithTx(_ *sql.Tx) store.TaskStore { return ts }

func (ts *taskStore) Create(_ context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(OpTaskCreate); err != nil {
		return err
	}
	if _, ok := s.tasks[task.ID]; ok {
		return store.ErrTaskExists
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (ts *taskStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return t.Clone(), nil
}

func claimable(t *domain.Task, spec store.ClaimSpec, now time.Time) bool {
	if len(spec.Types) > 0 {
		match := false
		for _, typ := range spec.Types {
			if t.Type == typ {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if t.Status == domain.TaskStatusPending {
		return true
	}
	if t.LeaseExpired(now) {
		return spec.MaxAttempts <= 0 || t.Attempts < spec.MaxAttempts
	}
	return false
}

func (s *Store) claimNow(spec store.ClaimSpec) time.Time {
	if !spec.Now.IsZero() {
		return spec.Now.UTC()
	}
	return s.now()
}

// claim stamps t with the lease. Callers hold s.mu.
func claim(t *domain.Task, spec store.ClaimSpec, now time.Time) *domain.Task {
	token := spec.Token
	expires := now.Add(spec.LeaseDuration)
	t.Status = domain.TaskStatusProcessing
	t.ClaimToken = &token
	t.ClaimedBy = spec.WorkerID
	t.LeaseExpiresAt = &expires
	t.Attempts++
	t.UpdatedAt = now
	return t.Clone()
}

func (ts *taskStore) ClaimNextPending(_ context.Context, spec store.ClaimSpec) (*domain.Task, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(OpTaskClaim); err != nil {
		return nil, err
	}

	now := s.claimNow(spec)
	var oldest *domain.Task
	for _, t := range s.tasks {
		if !claimable(t, spec, now) {
			continue
		}
		if oldest == nil || t.CreatedAt.Before(oldest.CreatedAt) ||
			(t.CreatedAt.Equal(oldest.CreatedAt) && t.ID.String() < oldest.ID.String()) {
			oldest = t
		}
	}
	if oldest == nil {
		return nil, store.ErrNoTaskAvailable
	}
	return claim(oldest, spec, now), nil
}

func (ts *taskStore) ClaimByID(_ context.Context, id uuid.UUID, spec store.ClaimSpec) (*domain.Task, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(OpTaskClaim); err != nil {
		return nil, err
	}

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	now := s.claimNow(spec)
	if !claimable(t, spec, now) {
		return nil, store.ErrInvalidTransition
	}
	return claim(t, spec, now), nil
}

func (ts *taskStore) Finalize(_ context.Context, p store.FinalizeParams) (*domain.Task, error) {
	if !p.Status.IsTerminal() {
		return nil, store.ErrInvalidTransition
	}

	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(OpTaskFinalize); err != nil {
		return nil, err
	}

	t, ok := s.tasks[p.TaskID]
	if !ok {
		return nil, store.ErrTaskNotFound
	}

	if t.Status == domain.TaskStatusProcessing && t.ClaimToken != nil && *t.ClaimToken == p.Token {
		next := t.Clone()
		next.Status = p.Status
		next.Result = p.Result
		next.Error = p.Error
		next.LeaseExpiresAt = nil
		next.UpdatedAt = s.now()
		if err := next.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
		}
		s.tasks[p.TaskID] = next
		return next.Clone(), nil
	}

	if t.Status == p.Status {
		return t.Clone(), nil
	}
	return nil, store.ErrInvalidTransition
}

func (ts *taskStore) ListByIDs(
	_ context.Context,
	ids []uuid.UUID,
	userID uuid.UUID,
) (map[uuid.UUID]*domain.Task, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(OpTaskListByIDs); err != nil {
		return nil, err
	}

	out := make(map[uuid.UUID]*domain.Task, len(ids))
	for _, id := range ids {
		if t, ok := s.tasks[id]; ok && t.UserID == userID {
			out[id] = t.Clone()
		}
	}
	return out, nil
}

func (ts *taskStore) FailExhausted(_ context.Context, maxAttempts int, now time.Time) ([]*domain.Task, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Task
	for _, t := range s.tasks {
		if !t.LeaseExpired(now) || t.Attempts < maxAttempts {
			continue
		}
		msg := store.LeaseExhaustedMessage(t.Attempts)
		t.Status = domain.TaskStatusFailed
		t.Error = &msg
		t.LeaseExpiresAt = nil
		t.UpdatedAt = now
		out = append(out, t.Clone())
	}
	sortTasks(out)
	return out, nil
}

func (ts *taskStore) ListMirrorMismatches(_ context.Context, limit int) ([]*domain.Task, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Task
	for _, t := range s.tasks {
		if !t.Status.IsTerminal() {
			continue
		}
		var status domain.TaskStatus
		var taskID *uuid.UUID
		switch t.Type {
		case domain.TaskTypeChatCompletion:
			m, ok := s.messages[t.RelatedID]
			if !ok {
				continue
			}
			status, taskID = m.Status, m.TaskID
		case domain.TaskTypeDailyFortune:
			f, ok := s.fortunes[t.RelatedID]
			if !ok {
				continue
			}
			status, taskID = f.Status, f.TaskID
		default:
			continue
		}
		if taskID != nil && *taskID == t.ID && status != t.Status {
			out = append(out, t.Clone())
		}
	}
	sortTasks(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortTasks(tasks []*domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].UpdatedAt.Before(tasks[j].UpdatedAt)
	})
}

// chatStore implements store.ChatStore.
type chatStore struct {
	s *Store
}

var _ store.ChatStore = (*chatStore)(nil)

func (cs *chatStore) WithTx(_ *sql.Tx) store.ChatStore { return cs }

func (cs *chatStore) CreateSession(_ context.Context, session *domain.ChatSession) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return store.ErrDuplicate
	}
	c := *session
	s.sessions[session.ID] = &c
	return nil
}

func (cs *chatStore) GetSession(_ context.Context, id uuid.UUID, userID uuid.UUID) (*domain.ChatSession, error) {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || session.UserID != userID {
		return nil, store.ErrChatSessionNotFound
	}
	c := *session
	return &c, nil
}

func (cs *chatStore) CreateMessage(_ context.Context, msg *domain.ChatMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(OpChatCreateMessage); err != nil {
		return err
	}
	if _, ok := s.sessions[msg.SessionID]; !ok {
		return store.ErrInvalidEntity
	}
	if _, ok := s.messages[msg.ID]; ok {
		return store.ErrDuplicate
	}
	s.messages[msg.ID] = cloneMessage(msg)
	return nil
}

func (cs *chatStore) ListMessages(_ context.Context, sessionID uuid.UUID) ([]*domain.ChatMessage, error) {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.ChatMessage
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			out = append(out, cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (cs *chatStore) UpdateMirror(
	_ context.Context,
	entityID uuid.UUID,
	taskID uuid.UUID,
	status domain.TaskStatus,
	content *string,
) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrInvalidMirrorStatus)
	}

	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(OpChatUpdateMirror); err != nil {
		return err
	}

	m, ok := s.messages[entityID]
	if !ok || m.TaskID == nil || *m.TaskID != taskID {
		return store.ErrChatMessageNotFound
	}
	m.Status = status
	if content != nil {
		v := *content
		m.Content = &v
	}
	m.UpdatedAt = s.now()
	return nil
}

// fortuneStore implements store.FortuneStore.
type fortuneStore struct {
	s *Store
}

var _ store.FortuneStore = (*fortuneStore)(nil)

func (fs *fortuneStore) WithTx(_ *sql.Tx) store.FortuneStore { return fs }

func (fs *fortuneStore) GetForDay(_ context.Context, userID uuid.UUID, day time.Time) (*domain.DailyFortune, error) {
	s := fs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.fortunes {
		if f.UserID == userID && sameDay(f.Day, day) {
			return cloneFortune(f), nil
		}
	}
	return nil, store.ErrFortuneNotFound
}

func (fs *fortuneStore) CreatePending(_ context.Context, fortune *domain.DailyFortune) error {
	if err := fortune.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	s := fs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(OpFortuneCreate); err != nil {
		return err
	}
	for _, f := range s.fortunes {
		if f.UserID == fortune.UserID && sameDay(f.Day, fortune.Day) {
			return store.ErrFortuneExists
		}
	}
	s.fortunes[fortune.ID] = cloneFortune(fortune)
	return nil
}

func (fs *fortuneStore) ResetPending(_ context.Context, id uuid.UUID, taskID uuid.UUID) error {
	s := fs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.fortunes[id]
	if !ok {
		return store.ErrFortuneNotFound
	}
	if f.Status != domain.TaskStatusFailed {
		return store.ErrFortuneExists
	}
	tid := taskID
	f.Status = domain.TaskStatusPending
	f.TaskID = &tid
	f.Content = nil
	f.UpdatedAt = s.now()
	return nil
}

func (fs *fortuneStore) UpdateMirror(
	_ context.Context,
	entityID uuid.UUID,
	taskID uuid.UUID,
	status domain.TaskStatus,
	content *string,
) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrInvalidMirrorStatus)
	}

	s := fs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(OpFortuneUpdateMirror); err != nil {
		return err
	}

	f, ok := s.fortunes[entityID]
	if !ok || f.TaskID == nil || *f.TaskID != taskID {
		return store.ErrFortuneNotFound
	}
	f.Status = status
	if content != nil {
		v := *content
		f.Content = &v
	}
	f.UpdatedAt = s.now()
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

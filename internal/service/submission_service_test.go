package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zcanic/zcanic-server/internal/domain"
	"github.com/zcanic/zcanic-server/internal/events"
	"github.com/zcanic/zcanic-server/internal/service"
	"github.com/zcanic/zcanic-server/internal/store"
	"github.com/zcanic/zcanic-server/internal/store/memstore"
)

var errBoom = errors.New("boom")

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockEmitter records emitted events and optionally fails.
type mockEmitter struct {
	mu     sync.Mutex
	events []*events.TaskSubmittedEvent
	err    error
}

func (m *mockEmitter) EmitEvent(_ context.Context, event *events.TaskSubmittedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.err
}

func (m *mockEmitter) emitted() []*events.TaskSubmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*events.TaskSubmittedEvent(nil), m.events...)
}

type submissionFixture struct {
	ms      *memstore.Store
	emitter *mockEmitter
	svc     *service.SubmissionService
	now     time.Time
}

func newSubmissionFixture(t *testing.T) *submissionFixture {
	t.Helper()
	f := &submissionFixture{
		ms:      memstore.New(),
		emitter: &mockEmitter{},
		now:     time.Date(2025, 5, 1, 23, 30, 0, 0, time.UTC),
	}
	svc, err := service.NewSubmissionService(f.ms, f.emitter, service.SubmissionConfig{
		Location:     time.FixedZone("UTC+8", 8*60*60),
		DefaultModel: "gemini-test",
		Now:          func() time.Time { return f.now },
	}, setupTestLogger())
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *submissionFixture) session(t *testing.T, userID uuid.UUID) *domain.ChatSession {
	t.Helper()
	session, err := f.svc.CreateSession(context.Background(), userID, "test")
	require.NoError(t, err)
	return session
}

func TestNewSubmissionService_Validation(t *testing.T) {
	t.Parallel()

	_, err := service.NewSubmissionService(nil, &mockEmitter{}, service.SubmissionConfig{}, nil)
	var svcErr *service.ServiceError
	assert.ErrorAs(t, err, &svcErr)

	_, err = service.NewSubmissionService(memstore.New(), nil, service.SubmissionConfig{}, nil)
	assert.ErrorAs(t, err, &svcErr)

	svc, err := service.NewSubmissionService(memstore.New(), &mockEmitter{}, service.SubmissionConfig{}, nil)
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestSubmitChatMessage(t *testing.T) {
	t.Parallel()
	f := newSubmissionFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	session := f.session(t, userID)

	sub, err := f.svc.SubmitChatMessage(ctx, userID, session.ID, "  Hi  ", domain.GenerationParams{})
	require.NoError(t, err)

	task, ok := f.ms.Task(sub.Task.ID)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusPending, task.Status)
	assert.Equal(t, domain.TaskTypeChatCompletion, task.Type)
	assert.Equal(t, sub.Reply.ID, task.RelatedID)
	assert.Equal(t, userID, task.UserID)
	assert.JSONEq(t, `{"model":"gemini-test","temperature":0.7,"max_tokens":2000}`, string(task.ExtraData))

	var payload domain.ChatCompletionPayload
	require.NoError(t, json.Unmarshal(task.Payload, &payload))
	assert.Equal(t, session.ID, payload.SessionID)
	assert.Equal(t, []domain.ChatTurn{{Role: domain.ChatRoleUser, Content: "Hi"}}, payload.Messages)

	userMsg, ok := f.ms.Message(sub.UserMessage.ID)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusCompleted, userMsg.Status)
	assert.Equal(t, "Hi", *userMsg.Content)

	reply, ok := f.ms.Message(sub.Reply.ID)
	require.True(t, ok)
	assert.Equal(t, domain.ChatRoleAssistant, reply.Role)
	assert.Equal(t, domain.TaskStatusPending, reply.Status)
	assert.Nil(t, reply.Content)
	require.NotNil(t, reply.TaskID)
	assert.Equal(t, task.ID, *reply.TaskID)
	assert.True(t, reply.CreatedAt.After(userMsg.CreatedAt))

	emitted := f.emitter.emitted()
	require.Len(t, emitted, 1)
	assert.Equal(t, task.ID, emitted[0].TaskID)
	assert.Equal(t, domain.TaskTypeChatCompletion, emitted[0].TaskType)
}

func TestSubmitChatMessage_CarriesHistory(t *testing.T) {
	t.Parallel()
	f := newSubmissionFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	session := f.session(t, userID)

	first, err := f.svc.SubmitChatMessage(ctx, userID, session.ID, "Hi", domain.GenerationParams{})
	require.NoError(t, err)
	reply := "Hello!"
	require.NoError(t, f.ms.Stores().Chats.UpdateMirror(ctx, first.Reply.ID, first.Task.ID,
		domain.TaskStatusCompleted, &reply))

	// A reply that is still pending is left out of the history.
	_, err = f.svc.SubmitChatMessage(ctx, userID, session.ID, "Still there?", domain.GenerationParams{})
	require.NoError(t, err)

	temp := 0.2
	third, err := f.svc.SubmitChatMessage(ctx, userID, session.ID, "Bye",
		domain.GenerationParams{Model: "custom", Temperature: &temp})
	require.NoError(t, err)

	var payload domain.ChatCompletionPayload
	require.NoError(t, json.Unmarshal(third.Task.Payload, &payload))
	assert.Equal(t, []domain.ChatTurn{
		{Role: domain.ChatRoleUser, Content: "Hi"},
		{Role: domain.ChatRoleAssistant, Content: "Hello!"},
		{Role: domain.ChatRoleUser, Content: "Still there?"},
		{Role: domain.ChatRoleUser, Content: "Bye"},
	}, payload.Messages)
	assert.JSONEq(t, `{"model":"custom","temperature":0.2,"max_tokens":2000}`, string(third.Task.ExtraData))
}

func TestSubmitChatMessage_Errors(t *testing.T) {
	t.Parallel()

	tooHot := 3.0
	tests := []struct {
		name    string
		content string
		params  domain.GenerationParams
		foreign bool
		fail    error
		wantErr error
	}{
		{name: "empty content", content: "   ", wantErr: domain.ErrValidation},
		{name: "invalid temperature", content: "Hi", params: domain.GenerationParams{Temperature: &tooHot}, wantErr: domain.ErrValidation},
		{name: "foreign session", content: "Hi", foreign: true, wantErr: service.ErrChatSessionNotFound},
		{name: "store failure", content: "Hi", fail: errBoom, wantErr: errBoom},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newSubmissionFixture(t)
			owner := uuid.New()
			session := f.session(t, owner)
			caller := owner
			if tc.foreign {
				caller = uuid.New()
			}
			if tc.fail != nil {
				f.ms.FailNext(memstore.OpChatCreateMessage, tc.fail)
			}

			sub, err := f.svc.SubmitChatMessage(context.Background(), caller, session.ID, tc.content, tc.params)
			assert.Nil(t, sub)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Zero(t, f.ms.TaskCount(), "no task survives a failed submission")
			assert.Empty(t, f.emitter.emitted())
		})
	}
}

func TestSubmitChatMessage_EmitFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	f := newSubmissionFixture(t)
	f.emitter.err = errBoom
	userID := uuid.New()
	session := f.session(t, userID)

	sub, err := f.svc.SubmitChatMessage(context.Background(), userID, session.ID, "Hi", domain.GenerationParams{})
	require.NoError(t, err)
	_, ok := f.ms.Task(sub.Task.ID)
	assert.True(t, ok)
}

func TestSubmitDailyFortune(t *testing.T) {
	t.Parallel()
	f := newSubmissionFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	sub, err := f.svc.SubmitDailyFortune(ctx, userID, domain.GenerationParams{})
	require.NoError(t, err)

	// 23:30 UTC is already the next day at UTC+8.
	assert.Equal(t, "2025-05-02", sub.Fortune.Day.Format(domain.FortuneDayLayout))
	assert.JSONEq(t, `{"day":"2025-05-02"}`, string(sub.Task.Payload))
	assert.Equal(t, sub.Fortune.ID, sub.Task.RelatedID)

	fortune, ok := f.ms.Fortune(sub.Fortune.ID)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusPending, fortune.Status)
	require.NotNil(t, fortune.TaskID)
	assert.Equal(t, sub.Task.ID, *fortune.TaskID)
	assert.Len(t, f.emitter.emitted(), 1)
}

func TestSubmitDailyFortune_ConflictBeforeTask(t *testing.T) {
	t.Parallel()
	f := newSubmissionFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := f.svc.SubmitDailyFortune(ctx, userID, domain.GenerationParams{})
	require.NoError(t, err)
	require.Equal(t, 1, f.ms.TaskCount())

	sub, err := f.svc.SubmitDailyFortune(ctx, userID, domain.GenerationParams{})
	assert.Nil(t, sub)
	assert.ErrorIs(t, err, service.ErrConflictAlreadyExists)
	assert.Equal(t, 1, f.ms.TaskCount(), "a conflicting submission creates no task")
	assert.Len(t, f.emitter.emitted(), 1)

	// The next calendar day is free again.
	f.now = f.now.Add(24 * time.Hour)
	_, err = f.svc.SubmitDailyFortune(ctx, userID, domain.GenerationParams{})
	assert.NoError(t, err)
}

func TestSubmitDailyFortune_ConcurrentInsertLosesCleanly(t *testing.T) {
	t.Parallel()
	f := newSubmissionFixture(t)
	f.ms.FailNext(memstore.OpFortuneCreate, store.ErrFortuneExists)

	_, err := f.svc.SubmitDailyFortune(context.Background(), uuid.New(), domain.GenerationParams{})
	assert.ErrorIs(t, err, service.ErrConflictAlreadyExists)
	assert.Zero(t, f.ms.TaskCount())
}

func TestSubmitDailyFortune_ResubmitAfterFailure(t *testing.T) {
	t.Parallel()
	f := newSubmissionFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	first, err := f.svc.SubmitDailyFortune(ctx, userID, domain.GenerationParams{})
	require.NoError(t, err)
	f.ms.ForceMirror(first.Fortune.ID, domain.TaskStatusFailed)

	second, err := f.svc.SubmitDailyFortune(ctx, userID, domain.GenerationParams{})
	require.NoError(t, err)
	assert.NotEqual(t, first.Task.ID, second.Task.ID)
	assert.Equal(t, first.Fortune.ID, second.Fortune.ID)
	assert.Equal(t, first.Fortune.ID, second.Task.RelatedID)
	assert.Equal(t, 2, f.ms.TaskCount())

	fortune, ok := f.ms.Fortune(first.Fortune.ID)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusPending, fortune.Status)
	assert.Equal(t, second.Task.ID, *fortune.TaskID)
}

func TestSubmit(t *testing.T) {
	t.Parallel()
	f := newSubmissionFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	session := f.session(t, userID)

	chatPayload, err := json.Marshal(map[string]any{"session_id": session.ID, "content": "Hello"})
	require.NoError(t, err)

	id, err := f.svc.Submit(ctx, userID, domain.TaskTypeChatCompletion, chatPayload, []byte(`{"max_tokens":64}`))
	require.NoError(t, err)
	task, ok := f.ms.Task(id)
	require.True(t, ok)
	assert.JSONEq(t, `{"model":"gemini-test","temperature":0.7,"max_tokens":64}`, string(task.ExtraData))

	id, err = f.svc.Submit(ctx, userID, domain.TaskTypeDailyFortune, nil, nil)
	require.NoError(t, err)
	task, ok = f.ms.Task(id)
	require.True(t, ok)
	assert.Equal(t, domain.TaskTypeDailyFortune, task.Type)

	tests := []struct {
		name     string
		taskType domain.TaskType
		payload  string
		extra    string
		wantErr  error
	}{
		{name: "unknown type", taskType: "summarize", wantErr: service.ErrUnsupportedTaskType},
		{name: "malformed chat payload", taskType: domain.TaskTypeChatCompletion, payload: `{`, wantErr: domain.ErrValidation},
		{name: "malformed extra data", taskType: domain.TaskTypeDailyFortune, extra: `[1]`, wantErr: domain.ErrValidation},
		{name: "out of range extra data", taskType: domain.TaskTypeDailyFortune, extra: `{"max_tokens":0,"top_p":0.9}`, wantErr: domain.ErrInvalidMaxTokens},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			id, err := f.svc.Submit(ctx, userID, tc.taskType, []byte(tc.payload), []byte(tc.extra))
			assert.Equal(t, uuid.Nil, id)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestSubmit_KeepsUnknownExtraData(t *testing.T) {
	t.Parallel()
	f := newSubmissionFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	session := f.session(t, userID)

	chatPayload, err := json.Marshal(map[string]any{"session_id": session.ID, "content": "Hello"})
	require.NoError(t, err)
	extra := `{"model":"m","temperature":0.3,"max_tokens":10,"top_p":0.9,"system_prompt":"be a cat"}`

	id, err := f.svc.Submit(ctx, userID, domain.TaskTypeChatCompletion, chatPayload, []byte(extra))
	require.NoError(t, err)
	task, ok := f.ms.Task(id)
	require.True(t, ok)
	assert.JSONEq(t, extra, string(task.ExtraData))

	id, err = f.svc.Submit(ctx, userID, domain.TaskTypeDailyFortune, nil, []byte(`{"system_prompt":"be a cat"}`))
	require.NoError(t, err)
	task, ok = f.ms.Task(id)
	require.True(t, ok)
	assert.JSONEq(t, `{"model":"gemini-test","temperature":0.7,"max_tokens":2000,"system_prompt":"be a cat"}`,
		string(task.ExtraData))
}

func TestSessionsAndMessages(t *testing.T) {
	t.Parallel()
	f := newSubmissionFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	session, err := f.svc.CreateSession(ctx, userID, "")
	require.NoError(t, err)
	assert.Equal(t, "New chat", session.Title)

	sub, err := f.svc.SubmitChatMessage(ctx, userID, session.ID, "Hi", domain.GenerationParams{})
	require.NoError(t, err)

	messages, err := f.svc.ListMessages(ctx, userID, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, sub.UserMessage.ID, messages[0].ID)
	assert.Equal(t, sub.Reply.ID, messages[1].ID)

	_, err = f.svc.ListMessages(ctx, uuid.New(), session.ID)
	assert.ErrorIs(t, err, service.ErrChatSessionNotFound)

	_, err = f.svc.CreateSession(ctx, uuid.Nil, "x")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/zcanic/zcanic-server/internal/api/shared"
	"github.com/zcanic/zcanic-server/internal/domain"
	"github.com/zcanic/zcanic-server/internal/platform/logger"
	"github.com/zcanic/zcanic-server/internal/service"
)

// ChatSubmitter manages chat sessions and submits chat messages.
// *service.SubmissionService satisfies it.
type ChatSubmitter interface {
	CreateSession(ctx context.Context, userID uuid.UUID, title string) (*domain.ChatSession, error)
	ListMessages(ctx context.Context, userID, sessionID uuid.UUID) ([]*domain.ChatMessage, error)
	SubmitChatMessage(
		ctx context.Context,
		userID, sessionID uuid.UUID,
		content string,
		params domain.GenerationParams,
	) (*service.ChatSubmission, error)
}

// ChatHandler handles chat HTTP requests.
type ChatHandler struct {
	chats  ChatSubmitter
	logger *slog.Logger
}

// NewChatHandler creates a new ChatHandler
func NewChatHandler(chats ChatSubmitter, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for ChatHandler")
	}
	return &ChatHandler{
		chats:  chats,
		logger: logger.With(slog.String("component", "chat_handler")),
	}
}

// CreateSession handles POST /api/chat/sessions.
func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, ok := requireUser(w, r, log)
	if !ok {
		return
	}

	var req CreateSessionRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, &req) {
		return
	}

	session, err := h.chats.CreateSession(r.Context(), userID, req.Title)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, SessionResponse{
		ID:        session.ID.String(),
		Title:     session.Title,
		CreatedAt: session.CreatedAt,
	})
}

// ListMessages handles GET /api/chat/sessions/{id}/messages.
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, sessionID, ok := handleUserIDAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}

	messages, err := h.chats.ListMessages(r.Context(), userID, sessionID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	out := make([]MessageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageResponse(m))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]any{"messages": out})
}

// PostMessage handles POST /api/chat/sessions/{id}/messages. The reply is
// generated asynchronously; clients poll the returned task.
func (h *ChatHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, sessionID, ok := handleUserIDAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}

	var req ChatMessageRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	sub, err := h.chats.SubmitChatMessage(r.Context(), userID, sessionID, req.Content, req.Params())
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, ChatSubmissionResponse{
		TaskID:        sub.Task.ID.String(),
		MessageID:     sub.Reply.ID.String(),
		UserMessageID: sub.UserMessage.ID.String(),
		Status:        sub.Task.Status,
	})
}

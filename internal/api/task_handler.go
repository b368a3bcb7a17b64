package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/zcanic/zcanic-server/internal/api/shared"
	"github.com/zcanic/zcanic-server/internal/domain"
	"github.com/zcanic/zcanic-server/internal/platform/logger"
	"github.com/zcanic/zcanic-server/internal/service"
)

// NotFoundMarker is the batch entry value for ids that are unknown or not
// owned by the caller.
const NotFoundMarker = "not_found"

// StatusQuerier answers task status queries. *service.StatusService satisfies it.
type StatusQuerier interface {
	GetStatus(ctx context.Context, taskID string, userID uuid.UUID) (*domain.Task, error)
	BatchGetStatus(ctx context.Context, taskIDs []string, userID uuid.UUID) (map[string]service.BatchStatus, error)
}

// TaskHandler handles task status HTTP requests.
type TaskHandler struct {
	status StatusQuerier
	logger *slog.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(status StatusQuerier, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}
	return &TaskHandler{
		status: status,
		logger: logger.With(slog.String("component", "task_handler")),
	}
}

// GetTask handles GET /api/tasks/{id}.
// Unknown, foreign and malformed ids all answer 404.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, ok := requireUser(w, r, log)
	if !ok {
		return
	}

	taskID := chi.URLParam(r, "id")
	task, err := h.status.GetStatus(r.Context(), taskID, userID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskStatusResponse(task))
}

// BatchGetTasks handles POST /api/tasks/batch.
// Every distinct requested id gets an entry; only an oversized batch fails.
func (h *TaskHandler) BatchGetTasks(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, ok := requireUser(w, r, log)
	if !ok {
		return
	}

	var req BatchStatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	statuses, err := h.status.BatchGetStatus(r.Context(), req.TaskIDs, userID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	resp := BatchStatusResponse{Tasks: make(map[string]any, len(statuses))}
	for id, st := range statuses {
		switch {
		case st.Task != nil:
			resp.Tasks[id] = taskStatusResponse(st.Task)
		case st.Err == nil || errors.Is(st.Err, service.ErrTaskNotFound):
			resp.Tasks[id] = notFoundEntry{Error: NotFoundMarker}
		default:
			log.Error("unexpected batch entry error",
				slog.String("task_id", id),
				slog.String("error", st.Err.Error()))
			resp.Tasks[id] = notFoundEntry{Error: NotFoundMarker}
		}
	}

	log.Debug("batch status served",
		slog.Int("requested", len(req.TaskIDs)),
		slog.Int("entries", len(resp.Tasks)))
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

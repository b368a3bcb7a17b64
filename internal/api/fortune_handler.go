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

// FortuneSubmitter submits daily fortune requests.
// *service.SubmissionService satisfies it.
type FortuneSubmitter interface {
	SubmitDailyFortune(
		ctx context.Context,
		userID uuid.UUID,
		params domain.GenerationParams,
	) (*service.FortuneSubmission, error)
}

// FortuneHandler handles daily fortune HTTP requests.
type FortuneHandler struct {
	fortunes FortuneSubmitter
	logger   *slog.Logger
}

// NewFortuneHandler creates a new FortuneHandler
func NewFortuneHandler(fortunes FortuneSubmitter, logger *slog.Logger) *FortuneHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for FortuneHandler")
	}
	return &FortuneHandler{
		fortunes: fortunes,
		logger:   logger.With(slog.String("component", "fortune_handler")),
	}
}

// RequestToday handles POST /api/fortunes/today. It answers 202 with the
// task to poll, or 409 when today's fortune was already requested.
func (h *FortuneHandler) RequestToday(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, ok := requireUser(w, r, log)
	if !ok {
		return
	}

	var req FortuneRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, &req) {
		return
	}

	sub, err := h.fortunes.SubmitDailyFortune(r.Context(), userID, domain.GenerationParams{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, FortuneSubmissionResponse{
		TaskID:    sub.Task.ID.String(),
		FortuneID: sub.Fortune.ID.String(),
		Day:       sub.Fortune.Day.Format(domain.FortuneDayLayout),
		Status:    sub.Task.Status,
	})
}

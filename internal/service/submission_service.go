package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zcanic/zcanic-server/internal/domain"
	"github.com/zcanic/zcanic-server/internal/events"
	"github.com/zcanic/zcanic-server/internal/platform/logger"
	"github.com/zcanic/zcanic-server/internal/store"
)

// DefaultHistoryLimit is the number of prior chat turns handed to the generator.
const DefaultHistoryLimit = 20

// SubmissionConfig carries the settings the submission service applies to new tasks.
type SubmissionConfig struct {
	// Location defines the calendar day of a daily fortune. Nil means UTC.
	Location *time.Location
	// DefaultModel is merged into extra_data when the caller names no model.
	DefaultModel string
	// HistoryLimit bounds the chat turns copied into a task payload.
	HistoryLimit int
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// ChatSubmission is the outcome of a chat message submission.
type ChatSubmission struct {
	Task        *domain.Task
	UserMessage *domain.ChatMessage
	Reply       *domain.ChatMessage
}

// FortuneSubmission is the outcome of a daily fortune submission.
type FortuneSubmission struct {
	Task    *domain.Task
	Fortune *domain.DailyFortune
}

// chatSubmitPayload is the generic Submit payload of a chat_completion task.
type chatSubmitPayload struct {
	SessionID uuid.UUID `json:"session_id"`
	Content   string    `json:"content"`
}

// SubmissionService records new tasks together with the entities they fill.
// It never calls the generator; executors pick the tasks up later.
type SubmissionService struct {
	tx      store.Transactor
	emitter events.EventEmitter
	config  SubmissionConfig
	logger  *slog.Logger
}

// NewSubmissionService creates a SubmissionService.
// It returns an error if any of the required dependencies are nil.
func NewSubmissionService(
	tx store.Transactor,
	emitter events.EventEmitter,
	cfg SubmissionConfig,
	logger *slog.Logger,
) (*SubmissionService, error) {
	if tx == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "transactor cannot be nil"}
	}
	if emitter == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "emitter cannot be nil"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &SubmissionService{
		tx:      tx,
		emitter: emitter,
		config:  cfg,
		logger:  logger.With(slog.String("component", "submission_service")),
	}, nil
}

// Submit records a task of the given type and returns its id. payload is
// interpreted per type: chat_completion expects {"session_id", "content"},
// daily_fortune takes none. extraData must be a JSON object; it is stored
// as given, with defaults added for unset generation parameters.
func (s *SubmissionService) Submit(
	ctx context.Context,
	userID uuid.UUID,
	taskType domain.TaskType,
	payload json.RawMessage,
	extraData json.RawMessage,
) (uuid.UUID, error) {
	switch taskType {
	case domain.TaskTypeChatCompletion:
		var p chatSubmitPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return uuid.Nil, NewServiceError("submit", "invalid payload",
				fmt.Errorf("%w: chat payload: %v", domain.ErrValidation, err))
		}
		sub, err := s.submitChatMessage(ctx, userID, p.SessionID, p.Content, extraData)
		if err != nil {
			return uuid.Nil, err
		}
		return sub.Task.ID, nil

	case domain.TaskTypeDailyFortune:
		sub, err := s.submitDailyFortune(ctx, userID, extraData)
		if err != nil {
			return uuid.Nil, err
		}
		return sub.Task.ID, nil

	default:
		return uuid.Nil, ErrUnsupportedTaskType
	}
}

// SubmitChatMessage stores the user's message, a pending assistant reply and
// the chat_completion task that fills it, all in one transaction.
func (s *SubmissionService) SubmitChatMessage(
	ctx context.Context,
	userID uuid.UUID,
	sessionID uuid.UUID,
	content string,
	params domain.GenerationParams,
) (*ChatSubmission, error) {
	extraData, err := json.Marshal(params)
	if err != nil {
		return nil, NewServiceError("submit_chat_message", "failed to encode generation parameters", err)
	}
	return s.submitChatMessage(ctx, userID, sessionID, content, extraData)
}

func (s *SubmissionService) submitChatMessage(
	ctx context.Context,
	userID uuid.UUID,
	sessionID uuid.UUID,
	content string,
	extraData json.RawMessage,
) (*ChatSubmission, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("user_id", userID.String()),
		slog.String("session_id", sessionID.String()),
	)

	extra, err := domain.MergeExtraData(extraData, s.config.DefaultModel)
	if err != nil {
		return nil, NewServiceError("submit_chat_message", "invalid generation parameters", err)
	}
	userMsg, err := domain.NewUserMessage(sessionID, content)
	if err != nil {
		return nil, NewServiceError("submit_chat_message", "invalid message", err)
	}

	var sub *ChatSubmission
	err = s.tx.RunInTx(ctx, func(ctx context.Context, st store.Stores) error {
		if _, err := st.Chats.GetSession(ctx, sessionID, userID); err != nil {
			return err
		}
		history, err := st.Chats.ListMessages(ctx, sessionID)
		if err != nil {
			return err
		}

		turns := domain.HistoryTurns(history, s.config.HistoryLimit)
		turns = append(turns, domain.ChatTurn{Role: domain.ChatRoleUser, Content: *userMsg.Content})
		payload, err := json.Marshal(domain.ChatCompletionPayload{SessionID: sessionID, Messages: turns})
		if err != nil {
			return err
		}

		reply := domain.NewPendingAssistantMessage(sessionID, userMsg.CreatedAt)
		task, err := domain.NewTask(userID, domain.TaskTypeChatCompletion, reply.ID, payload, extra)
		if err != nil {
			return err
		}
		reply.TaskID = &task.ID

		if err := st.Tasks.Create(ctx, task); err != nil {
			return err
		}
		if err := st.Chats.CreateMessage(ctx, userMsg); err != nil {
			return err
		}
		if err := st.Chats.CreateMessage(ctx, reply); err != nil {
			return err
		}

		sub = &ChatSubmission{Task: task, UserMessage: userMsg, Reply: reply}
		return nil
	})
	if err != nil {
		if !errors.Is(err, store.ErrChatSessionNotFound) {
			log.Error("failed to submit chat message", slog.String("error", err.Error()))
		}
		return nil, NewServiceError("submit_chat_message", "failed to record submission", err)
	}

	log.Info("chat message submitted",
		slog.String("task_id", sub.Task.ID.String()),
		slog.String("message_id", sub.Reply.ID.String()))
	s.notify(ctx, sub.Task)
	return sub, nil
}

// SubmitDailyFortune records the daily_fortune task for the user's current
// calendar day. A day that already has a pending, processing or completed
// fortune is a conflict and no task is created; a failed fortune is reset
// to pending under a new task.
func (s *SubmissionService) SubmitDailyFortune(
	ctx context.Context,
	userID uuid.UUID,
	params domain.GenerationParams,
) (*FortuneSubmission, error) {
	extraData, err := json.Marshal(params)
	if err != nil {
		return nil, NewServiceError("submit_daily_fortune", "failed to encode generation parameters", err)
	}
	return s.submitDailyFortune(ctx, userID, extraData)
}

func (s *SubmissionService) submitDailyFortune(
	ctx context.Context,
	userID uuid.UUID,
	extraData json.RawMessage,
) (*FortuneSubmission, error) {
	day := domain.FortuneDay(s.config.Now(), s.config.Location)
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("user_id", userID.String()),
		slog.String("day", day.Format(domain.FortuneDayLayout)),
	)

	extra, err := domain.MergeExtraData(extraData, s.config.DefaultModel)
	if err != nil {
		return nil, NewServiceError("submit_daily_fortune", "invalid generation parameters", err)
	}
	payload, err := json.Marshal(domain.DailyFortunePayload{Day: day.Format(domain.FortuneDayLayout)})
	if err != nil {
		return nil, NewServiceError("submit_daily_fortune", "failed to encode payload", err)
	}

	var sub *FortuneSubmission
	err = s.tx.RunInTx(ctx, func(ctx context.Context, st store.Stores) error {
		existing, err := st.Fortunes.GetForDay(ctx, userID, day)
		switch {
		case err == nil && existing.Status != domain.TaskStatusFailed:
			return ErrConflictAlreadyExists
		case err != nil && !errors.Is(err, store.ErrFortuneNotFound):
			return err
		}

		fortune := existing
		if fortune == nil {
			fortune, err = domain.NewPendingFortune(userID, day)
			if err != nil {
				return err
			}
		}

		task, err := domain.NewTask(userID, domain.TaskTypeDailyFortune, fortune.ID, payload, extra)
		if err != nil {
			return err
		}
		if err := st.Tasks.Create(ctx, task); err != nil {
			return err
		}

		fortune.TaskID = &task.ID

		if existing != nil {
			if err := st.Fortunes.ResetPending(ctx, existing.ID, task.ID); err != nil {
				return err
			}
			fortune.Status = domain.TaskStatusPending
			fortune.Content = nil
		} else if err := st.Fortunes.CreatePending(ctx, fortune); err != nil {
			return err
		}

		sub = &FortuneSubmission{Task: task, Fortune: fortune}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflictAlreadyExists) || errors.Is(err, store.ErrFortuneExists) {
			log.Info("daily fortune already requested")
		} else {
			log.Error("failed to submit daily fortune", slog.String("error", err.Error()))
		}
		return nil, NewServiceError("submit_daily_fortune", "failed to record submission", err)
	}

	log.Info("daily fortune submitted", slog.String("task_id", sub.Task.ID.String()))
	s.notify(ctx, sub.Task)
	return sub, nil
}

// CreateSession starts a new chat session owned by userID.
func (s *SubmissionService) CreateSession(
	ctx context.Context,
	userID uuid.UUID,
	title string,
) (*domain.ChatSession, error) {
	session, err := domain.NewChatSession(userID, title)
	if err != nil {
		return nil, NewServiceError("create_session", "invalid session", err)
	}
	if err := s.tx.Stores().Chats.CreateSession(ctx, session); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to create chat session",
			slog.String("error", err.Error()),
			slog.String("user_id", userID.String()))
		return nil, NewServiceError("create_session", "failed to save session", err)
	}
	return session, nil
}

// ListMessages returns the messages of a session owned by userID, oldest first.
func (s *SubmissionService) ListMessages(
	ctx context.Context,
	userID uuid.UUID,
	sessionID uuid.UUID,
) ([]*domain.ChatMessage, error) {
	chats := s.tx.Stores().Chats
	if _, err := chats.GetSession(ctx, sessionID, userID); err != nil {
		return nil, NewServiceError("list_messages", "failed to load session", err)
	}
	messages, err := chats.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, NewServiceError("list_messages", "failed to load messages", err)
	}
	return messages, nil
}

// notify emits the wake-up event for task. Delivery is best effort: the task
// is already committed and executors poll for it regardless.
func (s *SubmissionService) notify(ctx context.Context, task *domain.Task) {
	if err := s.emitter.EmitEvent(ctx, events.NewTaskSubmittedEvent(task)); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Warn("failed to emit task submitted event",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
	}
}

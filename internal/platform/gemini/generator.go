package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/zcanic/zcanic-server/internal/config"
	"github.com/zcanic/zcanic-server/internal/domain"
	"github.com/zcanic/zcanic-server/internal/generation"
	"github.com/zcanic/zcanic-server/internal/platform/logger"
	"google.golang.org/genai"
)

// modelsAPI is the subset of genai.Models used by the generator.
type modelsAPI interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Generator implements generation.Generator using the Gemini API.
type Generator struct {
	models   modelsAPI
	logger   *slog.Logger
	config   config.LLMConfig
	fortune  *template.Template
	breaker  *breaker
	newRetry func() retry.Backoff
}

// Ensure Generator implements generation.Generator
var _ generation.Generator = (*Generator)(nil)

// NewGenerator creates a Gemini-backed generator.
func NewGenerator(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Generator, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key is required", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create genai client: %w", generation.ErrInvalidConfig, err)
	}

	return newGenerator(client.Models, logger, cfg)
}

func newGenerator(models modelsAPI, log *slog.Logger, cfg config.LLMConfig) (*Generator, error) {
	if models == nil {
		return nil, fmt.Errorf("%w: models client cannot be nil", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name is required", generation.ErrInvalidConfig)
	}
	if log == nil {
		log = slog.Default()
	}

	tmpl, err := parseFortuneTemplate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", generation.ErrInvalidConfig, err)
	}

	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxRetries := uint64(0)
	if cfg.MaxRetries > 0 {
		maxRetries = uint64(cfg.MaxRetries)
	}

	return &Generator{
		models:  models,
		logger:  log.With(slog.String("component", "gemini_generator")),
		config:  cfg,
		fortune: tmpl,
		breaker: newBreaker(cfg.BreakerFailures, cfg.BreakerResetInterval),
		newRetry: func() retry.Backoff {
			return retry.WithMaxRetries(maxRetries, retry.NewExponential(delay))
		},
	}, nil
}

// Generate implements generation.Generator.
func (g *Generator) Generate(ctx context.Context, req generation.Request) (string, error) {
	log := logger.FromContextOrDefault(ctx, g.logger).With(slog.String("task_type", string(req.Type)))

	params, err := domain.ParseGenerationParams(req.ExtraData)
	if err != nil {
		return "", fmt.Errorf("%w: %w", generation.ErrInvalidRequest, err)
	}
	if err := params.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", generation.ErrInvalidRequest, err)
	}
	params = params.WithDefaults(g.config.ModelName)

	contents, system, err := g.buildContents(req)
	if err != nil {
		return "", err
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(*params.Temperature)),
		MaxOutputTokens:   int32(*params.MaxTokens),
		SystemInstruction: system,
	}

	var text string
	attempt := 0
	err = retry.Do(ctx, g.newRetry(), func(ctx context.Context) error {
		attempt++
		if !g.breaker.allow() {
			return generation.ErrUnavailable
		}

		out, callErr := g.call(ctx, params.Model, contents, cfg)
		g.breaker.record(errors.Is(callErr, generation.ErrTransientFailure))
		if callErr != nil {
			if errors.Is(callErr, generation.ErrTransientFailure) {
				log.Warn("transient generation failure",
					slog.Int("attempt", attempt),
					slog.String("error", callErr.Error()))
				return retry.RetryableError(callErr)
			}
			return callErr
		}
		text = out
		return nil
	})
	if err != nil {
		log.Error("generation failed",
			slog.Int("attempts", attempt),
			slog.String("model", params.Model),
			slog.String("error", err.Error()))
		return "", err
	}

	log.Debug("generation succeeded",
		slog.Int("attempts", attempt),
		slog.String("model", params.Model),
		slog.Int("length", len(text)))
	return text, nil
}

// buildContents turns a task payload into the request conversation and
// an optional system instruction.
func (g *Generator) buildContents(req generation.Request) ([]*genai.Content, *genai.Content, error) {
	switch req.Type {
	case domain.TaskTypeChatCompletion:
		var payload domain.ChatCompletionPayload
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return nil, nil, fmt.Errorf("%w: chat payload: %v", generation.ErrInvalidRequest, err)
		}
		return chatContents(payload.Messages)

	case domain.TaskTypeDailyFortune:
		var payload domain.DailyFortunePayload
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return nil, nil, fmt.Errorf("%w: fortune payload: %v", generation.ErrInvalidRequest, err)
		}
		prompt, err := renderFortunePrompt(g.fortune, payload.Day, domain.FortuneDayLayout)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", generation.ErrInvalidRequest, err)
		}
		return []*genai.Content{textContent(roleUser, prompt)}, nil, nil

	default:
		return nil, nil, fmt.Errorf("%w: unsupported task type %q", generation.ErrInvalidRequest, req.Type)
	}
}

func chatContents(turns []domain.ChatTurn) ([]*genai.Content, *genai.Content, error) {
	var (
		contents []*genai.Content
		system   []string
	)
	for _, turn := range turns {
		switch turn.Role {
		case domain.ChatRoleSystem:
			system = append(system, turn.Content)
		case domain.ChatRoleUser:
			contents = append(contents, textContent(roleUser, turn.Content))
		case domain.ChatRoleAssistant:
			contents = append(contents, textContent(roleModel, turn.Content))
		default:
			return nil, nil, fmt.Errorf("%w: unknown chat role %q", generation.ErrInvalidRequest, turn.Role)
		}
	}
	if len(contents) == 0 {
		return nil, nil, fmt.Errorf("%w: chat payload has no messages", generation.ErrInvalidRequest)
	}

	var instruction *genai.Content
	if len(system) > 0 {
		instruction = textContent(roleUser, strings.Join(system, "\n\n"))
	}
	return contents, instruction, nil
}

const (
	roleUser  = "user"
	roleModel = "model"
)

func textContent(role, text string) *genai.Content {
	return &genai.Content{Role: role, Parts: []*genai.Part{{Text: text}}}
}

// call performs one API request and classifies its outcome.
func (g *Generator) call(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
) (string, error) {
	resp, err := g.models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", classifyError(err)
	}
	return extractText(resp)
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked: %s", generation.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", generation.ErrEmptyResponse
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", generation.ErrContentBlocked
	}
	if candidate.Content == nil {
		return "", generation.ErrEmptyResponse
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", generation.ErrEmptyResponse
	}
	return text, nil
}

// classifyError maps a client error to a generation sentinel.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", generation.ErrGenerationFailed, err)
	}

	var code int
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		// Network-level failures never reached the API.
		return fmt.Errorf("%w: %w", generation.ErrTransientFailure, err)
	}

	if code == 429 || code >= 500 {
		return fmt.Errorf("%w: %w", generation.ErrTransientFailure, err)
	}
	return fmt.Errorf("%w: %w", generation.ErrGenerationFailed, err)
}

// Package taskclient polls the task status API until a submitted task
// reaches a terminal state. It only reads; it never changes task state.
package taskclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/zcanic/zcanic-server/internal/api"
	"github.com/zcanic/zcanic-server/internal/api/shared"
)

const (
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultMaxPollInterval = 5 * time.Second
	DefaultMaxPollDuration = 3 * time.Minute
)

var (
	// ErrPollTimeout is returned by Wait when the task is still not terminal
	// after the maximum poll duration.
	ErrPollTimeout = errors.New("task did not finish within the poll duration")

	// ErrTaskNotFound is returned when the task is unknown or owned by another user.
	ErrTaskNotFound = errors.New("task not found")

	// ErrUnauthorized is returned when the API rejects the bearer token.
	ErrUnauthorized = errors.New("unauthorized")
)

// StatusError is a non-success API response other than 401 and 404.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("task api returned %d: %s", e.Code, e.Message)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= http.StatusInternalServerError || e.Code == http.StatusTooManyRequests
}

// BatchResult is the answer to a batch status query. Ids that are unknown
// or foreign are listed in NotFound.
type BatchResult struct {
	Tasks    map[string]api.TaskStatusResponse
	NotFound []string
}

// Client reads task status from the HTTP API.
type Client struct {
	baseURL         string
	token           string
	httpClient      *http.Client
	pollInterval    time.Duration
	maxPollInterval time.Duration
	maxPollDuration time.Duration
	logger          *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithPollInterval sets the first and the largest wait between polls.
func WithPollInterval(initial, maxInterval time.Duration) Option {
	return func(cl *Client) {
		cl.pollInterval = initial
		cl.maxPollInterval = maxInterval
	}
}

// WithMaxPollDuration bounds how long Wait polls.
func WithMaxPollDuration(d time.Duration) Option {
	return func(cl *Client) { cl.maxPollDuration = d }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New creates a client for the API at baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}

	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		token:           token,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		pollInterval:    DefaultPollInterval,
		maxPollInterval: DefaultMaxPollInterval,
		maxPollDuration: DefaultMaxPollDuration,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.pollInterval <= 0 || c.maxPollInterval < c.pollInterval || c.maxPollDuration <= 0 {
		return nil, errors.New("poll intervals and duration must be positive with max >= initial")
	}
	c.logger = c.logger.With(slog.String("component", "task_client"))
	return c, nil
}

// GetStatus fetches the current status of one task.
func (c *Client) GetStatus(ctx context.Context, taskID string) (*api.TaskStatusResponse, error) {
	var out api.TaskStatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(taskID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BatchGetStatus fetches the status of several tasks in one request.
func (c *Client) BatchGetStatus(ctx context.Context, taskIDs []string) (*BatchResult, error) {
	var raw struct {
		Tasks map[string]json.RawMessage `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/tasks/batch", api.BatchStatusRequest{TaskIDs: taskIDs}, &raw); err != nil {
		return nil, err
	}

	result := &BatchResult{Tasks: make(map[string]api.TaskStatusResponse, len(raw.Tasks))}
	for id, entry := range raw.Tasks {
		var probe struct {
			Error  string `json:"error"`
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal(entry, &probe); err != nil {
			return nil, fmt.Errorf("decode batch entry %s: %w", id, err)
		}
		if probe.TaskID == "" && probe.Error == api.NotFoundMarker {
			result.NotFound = append(result.NotFound, id)
			continue
		}
		var st api.TaskStatusResponse
		if err := json.Unmarshal(entry, &st); err != nil {
			return nil, fmt.Errorf("decode batch entry %s: %w", id, err)
		}
		result.Tasks[id] = st
	}
	return result, nil
}

// Wait polls the task with exponential backoff until it is completed or
// failed. It returns ErrPollTimeout once the maximum poll duration passes.
// Transient API failures are retried; a missing task ends the wait.
func (c *Client) Wait(ctx context.Context, taskID string) (*api.TaskStatusResponse, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.maxPollDuration)
	defer cancel()

	log := c.logger.With(slog.String("task_id", taskID))
	backoff := retry.WithCappedDuration(c.maxPollInterval, retry.NewExponential(c.pollInterval))

	var final *api.TaskStatusResponse
	polls := 0
	err := retry.Do(pollCtx, backoff, func(ctx context.Context) error {
		polls++
		st, err := c.GetStatus(ctx, taskID)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && !se.Temporary() {
				return err
			}
			if errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrUnauthorized) {
				return err
			}
			log.Debug("poll failed, retrying", slog.String("error", err.Error()))
			return retry.RetryableError(err)
		}
		if !st.Status.IsTerminal() {
			return retry.RetryableError(errStillRunning)
		}
		final = st
		return nil
	})

	switch {
	case err == nil:
		log.Debug("task finished", slog.String("status", string(final.Status)), slog.Int("polls", polls))
		return final, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case pollCtx.Err() != nil:
		log.Info("gave up waiting for task", slog.Duration("max_poll_duration", c.maxPollDuration), slog.Int("polls", polls))
		return nil, fmt.Errorf("%w: %s after %s", ErrPollTimeout, taskID, c.maxPollDuration)
	default:
		return nil, err
	}
}

var errStillRunning = errors.New("task still running")

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrTaskNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode >= 300:
		var apiErr shared.ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr)
		return &StatusError{Code: resp.StatusCode, Message: apiErr.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

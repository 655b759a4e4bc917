// Package flask implements an endpoint backed by a job-queue inference
// service: generation is started with one request, then its result is
// polled until the job leaves the pending states.
//
//	POST {url}/start            -> {"task_id": "..."}
//	GET  {url}/result/{task_id} -> {"state": "...", "result": {"generated_text": [...]}}
//	POST {stop_url}             <- {"task_id": "..."}
//
// The service cannot stream, so Generate yields a single TokenOutput holding
// the whole answer.
package flask

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sweetpotato0/textgen/config"
	"github.com/sweetpotato0/textgen/endpoint"
	errorskg "github.com/sweetpotato0/textgen/errors"
	"github.com/sweetpotato0/textgen/model"
	"github.com/sweetpotato0/textgen/pkg/logging"
	"github.com/sweetpotato0/textgen/pkg/telemetry"
	"github.com/sweetpotato0/textgen/prompt"
)

// Type is the endpoint type tag in configuration.
const Type = "custom-flask"

const (
	DefaultPollInterval = time.Second
	DefaultDeadline     = 10 * time.Minute
	defaultStopTimeout  = 5 * time.Second
	maxErrorBody        = 4 << 10
)

// Job states that keep the poll loop going.
var pendingStates = map[string]bool{
	"PENDING":  true,
	"STARTED":  true,
	"RETRY":    true,
	"PROGRESS": true,
}

const stateSuccess = "SUCCESS"

// JobError reports a job that ended in a state other than SUCCESS.
type JobError struct {
	TaskID string
	State  string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("flask: task %s ended in state %s", e.TaskID, e.State)
}

// Is reports whether target is errors.ErrJobFailed.
func (e *JobError) Is(target error) bool {
	return target == errorskg.ErrJobFailed
}

// Endpoint talks to a job-queue inference service.
type Endpoint struct {
	baseURL     string
	stopURL     string
	weight      int
	model       *model.Model
	cfg         endpoint.Config
	client      *http.Client
	logger      *slog.Logger
	tracer      trace.Tracer
	stopTimeout time.Duration
}

// Option customizes an Endpoint.
type Option func(*Endpoint)

// WithHTTPClient sets the client used for every request.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Endpoint) {
		if c != nil {
			e.client = c
		}
	}
}

// WithLogger sets the endpoint logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Endpoint) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithStopTimeout bounds the best-effort stop request sent when polling is abandoned.
func WithStopTimeout(d time.Duration) Option {
	return func(e *Endpoint) {
		if d > 0 {
			e.stopTimeout = d
		}
	}
}

// New validates cfg and creates the endpoint. No network activity happens here.
// An unset Weight defaults to 1; an explicit weight must be positive.
func New(cfg endpoint.Config, opts ...Option) (*Endpoint, error) {
	weight := cfg.EffectiveWeight()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Deadline == 0 {
		cfg.Deadline = DefaultDeadline
	}

	v := config.NewValidator()
	v.RequirePositive("weight", weight)
	v.Require("model", cfg.Model != nil, "model is required")
	v.Require("type", cfg.Type == Type, fmt.Sprintf("type must be %q, got %q", Type, cfg.Type))
	v.RequireURL("url", cfg.URL)
	v.RequireURL("stop_url", cfg.StopURL)
	v.Require("poll_interval", cfg.PollInterval > 0, "poll interval must be positive")
	v.Require("deadline", cfg.Deadline > 0, "deadline must be positive")
	v.ValidateOneOf("backoff", cfg.Backoff, "", "constant", "exponential")
	if err := v.Error(); err != nil {
		return nil, fmt.Errorf("flask endpoint: %w", err)
	}

	e := &Endpoint{
		baseURL:     strings.TrimSuffix(cfg.URL, "/"),
		stopURL:     cfg.StopURL,
		weight:      weight,
		model:       cfg.Model,
		cfg:         cfg,
		client:      &http.Client{},
		logger:      logging.WithComponent("endpoint.flask"),
		tracer:      telemetry.Tracer("endpoint/flask"),
		stopTimeout: defaultStopTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Factory builds flask endpoints for an endpoint.Registry.
func Factory(cfg endpoint.Config) (endpoint.Endpoint, error) {
	return New(cfg)
}

// Weight returns the selection weight of the endpoint.
func (e *Endpoint) Weight() int { return e.weight }

type startOptions struct {
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	Stop          []string `json:"stop,omitempty"`
	NumPredict    *int     `json:"num_predict,omitempty"`
}

type startRequest struct {
	Prompt  string       `json:"prompt"`
	Model   string       `json:"model"`
	Raw     bool         `json:"raw"`
	Options startOptions `json:"options"`
}

type startResponse struct {
	TaskID string `json:"task_id"`
}

type pollResponse struct {
	State  string `json:"state"`
	Result *struct {
		GeneratedText []string `json:"generated_text"`
	} `json:"result"`
}

type stopRequest struct {
	TaskID string `json:"task_id"`
}

// errPending keeps the retry loop polling.
var errPending = errors.New("flask: job pending")

// Generate starts a job for req and yields its single output once it finished.
func (e *Endpoint) Generate(ctx context.Context, req *endpoint.Request) iter.Seq2[*endpoint.TokenOutput, error] {
	return func(yield func(*endpoint.TokenOutput, error) bool) {
		ctx, span := e.tracer.Start(ctx, "textgen.endpoint.flask",
			trace.WithAttributes(attribute.String("model", e.model.Name)))
		text, err := e.generate(ctx, req)
		telemetry.End(span, err)
		if err != nil {
			yield(nil, err)
			return
		}
		yield(&endpoint.TokenOutput{
			Token:         endpoint.Token{ID: 0, Text: text, LogProb: 0, Special: false},
			GeneratedText: text,
			Details:       nil,
		}, nil)
	}
}

func (e *Endpoint) generate(ctx context.Context, req *endpoint.Request) (string, error) {
	if req == nil {
		return "", fmt.Errorf("flask: nil request: %w", errorskg.ErrInvalidInput)
	}
	raw, err := prompt.Build(req.Messages, req.Continue, endpoint.PrepromptWithTools(req), e.model)
	if err != nil {
		return "", fmt.Errorf("flask: build prompt: %w", err)
	}
	params := model.Merge(&e.model.Parameters, req.Settings)

	taskID, err := e.start(ctx, startRequest{
		Prompt: raw,
		Model:  e.model.Name,
		Raw:    true,
		Options: startOptions{
			TopP:          params.TopP,
			TopK:          params.TopK,
			Temperature:   params.Temperature,
			RepeatPenalty: params.RepetitionPenalty,
			Stop:          params.Stop,
			NumPredict:    params.MaxNewTokens,
		},
	})
	if err != nil {
		return "", err
	}

	logger := e.logger.With("task_id", taskID, "model", e.model.Name)
	logger.Debug("generation started")
	started := time.Now()

	text, err := e.poll(ctx, taskID, logger)
	if err != nil {
		var jobErr *JobError
		if !errors.As(err, &jobErr) && !errors.Is(err, errorskg.ErrProtocol) {
			e.stop(taskID, logger)
		}
		logger.Warn("generation failed", "error", err, "duration_ms", time.Since(started).Milliseconds())
		return "", err
	}
	logger.Info("generation finished", "duration_ms", time.Since(started).Milliseconds())
	return text, nil
}

func (e *Endpoint) start(ctx context.Context, body startRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("flask: marshal start request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/start", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("flask: create start request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("flask: start generation: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("flask: read start response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("flask: start generation failed (status %d): %s", resp.StatusCode, truncate(respBody))
	}

	var started startResponse
	if err := json.Unmarshal(respBody, &started); err != nil {
		return "", fmt.Errorf("flask: decode start response: %w: %w", errorskg.ErrProtocol, err)
	}
	if started.TaskID == "" {
		return "", fmt.Errorf("flask: start response without task_id: %w", errorskg.ErrProtocol)
	}
	return started.TaskID, nil
}

// poll observes the job until it leaves the pending states. Polls are
// sequential: the next request is sent only after the previous one resolved
// and the backoff interval elapsed.
func (e *Endpoint) poll(ctx context.Context, taskID string, logger *slog.Logger) (string, error) {
	resultURL := e.baseURL + "/result/" + url.PathEscape(taskID)
	attempt := 0

	op := func() (string, error) {
		attempt++
		state, text, err := e.pollOnce(ctx, resultURL)
		if err != nil {
			if ctx.Err() != nil {
				return "", backoff.Permanent(context.Cause(ctx))
			}
			return "", backoff.Permanent(err)
		}
		if pendingStates[strings.ToUpper(state)] {
			logger.Debug("job pending", "state", state, "attempt", attempt)
			return "", errPending
		}
		if !strings.EqualFold(state, stateSuccess) {
			return "", backoff.Permanent(&JobError{TaskID: taskID, State: state})
		}
		return text, nil
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(e.newBackOff()),
		backoff.WithMaxElapsedTime(e.cfg.Deadline),
	}
	if e.cfg.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(e.cfg.MaxAttempts))
	}

	text, err := backoff.Retry(ctx, op, opts...)
	if errors.Is(err, errPending) {
		return "", fmt.Errorf("flask: task %s still pending after %d polls: %w", taskID, attempt, context.DeadlineExceeded)
	}
	return text, err
}

func (e *Endpoint) pollOnce(ctx context.Context, resultURL string) (string, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("flask: create poll request: %w", err)
	}
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", "", fmt.Errorf("flask: poll result: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("flask: read poll response: %w", err)
	}

	var polled pollResponse
	if err := json.Unmarshal(body, &polled); err != nil {
		return "", "", fmt.Errorf("flask: decode poll response (status %d): %w: %w", resp.StatusCode, errorskg.ErrProtocol, err)
	}
	if polled.State == "" {
		return "", "", fmt.Errorf("flask: poll response without state (status %d): %w", resp.StatusCode, errorskg.ErrProtocol)
	}
	if !strings.EqualFold(polled.State, stateSuccess) {
		return polled.State, "", nil
	}
	if polled.Result == nil || polled.Result.GeneratedText == nil {
		return "", "", fmt.Errorf("flask: successful job without generated_text: %w", errorskg.ErrProtocol)
	}
	return polled.State, strings.Join(polled.Result.GeneratedText, " "), nil
}

func (e *Endpoint) newBackOff() backoff.BackOff {
	if e.cfg.Backoff == "exponential" {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = e.cfg.PollInterval
		if e.cfg.MaxInterval > 0 {
			b.MaxInterval = e.cfg.MaxInterval
		}
		return b
	}
	return backoff.NewConstantBackOff(e.cfg.PollInterval)
}

// stop asks the service to cancel an abandoned job. It runs detached from the
// caller's context, which is usually already cancelled.
func (e *Endpoint) stop(taskID string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), e.stopTimeout)
	defer cancel()

	payload, err := json.Marshal(stopRequest{TaskID: taskID})
	if err != nil {
		return
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.stopURL, bytes.NewReader(payload))
	if err != nil {
		logger.Warn("stop request not sent", "error", err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		logger.Warn("stop request failed", "error", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	logger.Info("stop requested", "status", resp.StatusCode)
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

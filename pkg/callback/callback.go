// Package callback publishes task reports to a result subject once a task finishes.
package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/async"
	"github.com/wehubfusion/Daedalus/pkg/storage"
	"github.com/wehubfusion/Daedalus/pkg/task"
)

// ResultType classifies a published report
type ResultType string

const (
	ResultTypeSuccess ResultType = "success"
	ResultTypeError   ResultType = "error"
	ResultTypeWarning ResultType = "warning"
	ResultTypeInfo    ResultType = "info"
)

// Publisher sends raw payloads to a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Config holds configuration for the callback handler
type Config struct {
	Subject       string        // Subject to publish results to (default: "result")
	MaxRetries    int           // Maximum number of retry attempts (default: 3)
	RetryDelay    time.Duration // Delay between retries (default: 1s)
	EnableLogging bool          // Enable logging of operations (default: true)
	Logger        *zap.Logger   // Custom logger instance (optional, no-op if nil)

	// Archive receives results larger than InlineResultLimit bytes; the
	// envelope then carries ResultsURL instead of Results. Nil keeps everything inline.
	Archive           *storage.Archive
	InlineResultLimit int
}

// DefaultInlineResultLimit is used when an archive is set without a limit.
const DefaultInlineResultLimit = 256 * 1024

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Subject:       "result",
		MaxRetries:    3,
		RetryDelay:    time.Second,
		EnableLogging: true,
	}
}

// Envelope is the wire form of a task report.
type Envelope struct {
	TaskID      string          `json:"task_id"`
	State       string          `json:"state"`
	ResultType  ResultType      `json:"result_type"`
	Total       int             `json:"total"`
	Success     []int           `json:"success"`
	Failure     []int           `json:"failure"`
	Errors      []string        `json:"errors,omitempty"`
	Results     json.RawMessage `json:"results,omitempty"`
	ResultsURL  string          `json:"results_url,omitempty"`
	CompletedAt string          `json:"completed_at"`
}

// NewEnvelope converts a finished report into an envelope.
func NewEnvelope[R any](report task.Report[R]) (*Envelope, error) {
	results, err := json.Marshal(report.Results)
	if err != nil {
		return nil, fmt.Errorf("failed to encode results: %w", err)
	}

	env := &Envelope{
		TaskID:      report.TaskID,
		State:       report.State.String(),
		ResultType:  classify(report.State, len(report.Success), len(report.Failure)),
		Total:       report.Total,
		Success:     report.Success,
		Failure:     report.Failure,
		Results:     results,
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for _, e := range report.Errors {
		env.Errors = append(env.Errors, e.Error())
	}
	return env, nil
}

func classify(state task.State, succeeded, failed int) ResultType {
	switch {
	case state == task.StateCancelled:
		return ResultTypeWarning
	case failed == 0 && succeeded == 0:
		return ResultTypeInfo
	case failed == 0:
		return ResultTypeSuccess
	case succeeded == 0:
		return ResultTypeError
	}
	return ResultTypeWarning
}

// Handler publishes envelopes to the configured subject with retry.
type Handler struct {
	publisher Publisher
	config    *Config
	logger    *zap.Logger
}

// NewHandler creates a handler with the default configuration.
func NewHandler(p Publisher) *Handler {
	return NewHandlerWithConfig(p, DefaultConfig())
}

// NewHandlerWithConfig creates a handler with a custom configuration.
// Pass your own zap logger via config.Logger to integrate with your service's logging.
func NewHandlerWithConfig(p Publisher, config *Config) *Handler {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Handler{
		publisher: p,
		config:    config,
		logger:    logger,
	}
}

// validateEnvelope performs strict validation on the envelope
func validateEnvelope(env *Envelope) error {
	if env == nil {
		return errors.New("envelope cannot be nil")
	}
	if env.TaskID == "" {
		return errors.New("envelope TaskID is required")
	}
	if env.CompletedAt == "" {
		return errors.New("envelope CompletedAt is required")
	}
	if env.State != task.StateCompleted.String() && env.State != task.StateCancelled.String() {
		return fmt.Errorf("envelope State must be terminal, got %q", env.State)
	}
	return nil
}

func (h *Handler) logOperation(operation string, env *Envelope, err error) {
	if !h.config.EnableLogging {
		return
	}

	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("subject", h.config.Subject),
	}
	if env != nil {
		fields = append(fields,
			zap.String("task_id", env.TaskID),
			zap.String("result_type", string(env.ResultType)))
	}

	if err != nil {
		fields = append(fields, zap.Error(err))
		h.logger.Error(fmt.Sprintf("Failed to %s report", operation), fields...)
	} else {
		h.logger.Info(fmt.Sprintf("Successfully %s report", operation), fields...)
	}
}

// Publish validates env and publishes it, retrying up to MaxRetries times.
func (h *Handler) Publish(ctx context.Context, env *Envelope) error {
	if h.publisher == nil {
		return errors.New("publisher cannot be nil")
	}
	if err := validateEnvelope(env); err != nil {
		h.logOperation("validate", env, err)
		return fmt.Errorf("validation failed: %w", err)
	}

	env, err := h.offload(ctx, env)
	if err != nil {
		h.logOperation("archive", env, err)
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		h.logOperation("encode", env, err)
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	attempts := max(h.config.MaxRetries, 0) + 1
	opts := []async.RetryOption{
		async.WithBackoff(async.RetryPolicy{InitialDelay: h.config.RetryDelay, MaxDelay: h.config.RetryDelay, BackoffRatio: 1}),
	}
	if h.config.EnableLogging {
		opts = append(opts, async.WithRetryLogger(h.logger))
	}

	_, err = async.WithRetry(ctx, attempts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.publisher.Publish(h.config.Subject, data)
	}, opts...)
	if err != nil {
		err = fmt.Errorf("publish failed after %d attempts: %w", attempts, err)
		h.logOperation("publish", env, err)
		return err
	}

	h.logOperation("publish", env, nil)
	return nil
}

// offload moves oversized results into the archive. env itself is not modified.
func (h *Handler) offload(ctx context.Context, env *Envelope) (*Envelope, error) {
	if h.config.Archive == nil {
		return env, nil
	}
	limit := h.config.InlineResultLimit
	if limit <= 0 {
		limit = DefaultInlineResultLimit
	}
	if len(env.Results) <= limit {
		return env, nil
	}

	url, err := h.config.Archive.StoreResults(ctx, env.TaskID, env.Results, len(env.Success))
	if err != nil {
		return env, err
	}

	out := *env
	out.Results = nil
	out.ResultsURL = url
	return &out, nil
}

// GetConfig returns the current configuration (read-only)
func (h *Handler) GetConfig() *Config {
	return h.config
}

// Close flushes the logger.
func (h *Handler) Close() error {
	if h.logger != nil {
		return h.logger.Sync()
	}
	return nil
}

// Hook adapts h into a task completion hook.
// Publish failures are logged, since a hook has nowhere to return them.
func Hook[R any](h *Handler) func(context.Context, task.Report[R]) {
	return func(ctx context.Context, report task.Report[R]) {
		env, err := NewEnvelope(report)
		if err != nil {
			h.logOperation("encode", nil, err)
			return
		}
		_ = h.Publish(ctx, env)
	}
}

package callback

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/wehubfusion/Daedalus/pkg/task"
)

// ErrorReporter forwards the item failures of finished tasks to Sentry.
type ErrorReporter struct {
	hub          *sentry.Hub
	flushTimeout time.Duration
}

// NewErrorReporter creates a reporter on its own hub built from options.
func NewErrorReporter(options sentry.ClientOptions) (*ErrorReporter, error) {
	client, err := sentry.NewClient(options)
	if err != nil {
		return nil, err
	}
	return &ErrorReporter{
		hub:          sentry.NewHub(client, sentry.NewScope()),
		flushTimeout: 2 * time.Second,
	}, nil
}

// Report captures one event per failed item, tagged with the task id and position.
// It returns the number of events captured.
func (r *ErrorReporter) Report(taskID string, state task.State, failures []error, positions []int) int {
	captured := 0
	for i, err := range failures {
		r.hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("task_id", taskID)
			scope.SetTag("task_state", state.String())
			scope.SetContext("item", sentry.Context{"position": positions[i]})
			if r.hub.CaptureException(err) != nil {
				captured++
			}
		})
	}
	return captured
}

// Flush waits for buffered events to be sent.
func (r *ErrorReporter) Flush() bool {
	return r.hub.Flush(r.flushTimeout)
}

// SentryHook adapts r into a task completion hook.
func SentryHook[R any](r *ErrorReporter) func(context.Context, task.Report[R]) {
	return func(ctx context.Context, report task.Report[R]) {
		if len(report.Errors) == 0 {
			return
		}
		failures := make([]error, len(report.Errors))
		for i, e := range report.Errors {
			failures[i] = e
		}
		r.Report(report.TaskID, report.State, failures, report.Failure)
		r.Flush()
	}
}

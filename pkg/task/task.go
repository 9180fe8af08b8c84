// Package task runs an actuator over a list of items with pause, resume and
// cancel control. Items are dispatched in order through a bounded window and
// every item's outcome is collected into a Report; actuator failures never
// abort the run.
package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/async"
	daedalusErrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// Actuator processes one item. position is the item's 1-based place in the task.
type Actuator[T, R any] func(ctx context.Context, item T, position int) (R, error)

// Task applies an actuator to a fixed list of items.
type Task[T, R any] struct {
	id     string
	items  []T
	cfg    config
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	cursor     int
	current    T
	hasCurrent bool
	actuator   Actuator[T, R]
	runCtx     context.Context
	stopWatch  func() bool
	gateCtx    context.Context
	gateCancel []context.CancelFunc
	outcomes   []outcome[R]
	inFlight   int
	succeeded  int
	failed     int
	hooks      []func(context.Context, Report[R])
	report     *Report[R]

	resumeGate  *async.Deferred[struct{}]
	interrupted *async.Deferred[struct{}]
	halted      *async.Deferred[struct{}]
	complete    *async.Deferred[Report[R]]
}

// New creates an idle task over a copy of items.
func New[T, R any](items []T, opts ...Option) *Task[T, R] {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	id := uuid.NewString()
	owned := make([]T, len(items))
	copy(owned, items)

	return &Task[T, R]{
		id:       id,
		items:    owned,
		cfg:      cfg,
		logger:   cfg.logger.With(zap.String("task_id", id)),
		state:    StateIdle,
		outcomes: make([]outcome[R], len(owned)),
		complete: async.NewDeferred[Report[R]](),
	}
}

// ID returns the task's unique identifier.
func (t *Task[T, R]) ID() string {
	return t.id
}

// Items returns a copy of the task's items.
func (t *Task[T, R]) Items() []T {
	items := make([]T, len(t.items))
	copy(items, t.items)
	return items
}

// State returns the current lifecycle state.
func (t *Task[T, R]) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// CurrentIndex returns the number of items dispatched so far.
func (t *Task[T, R]) CurrentIndex() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor
}

// Current returns the most recently dispatched item.
func (t *Task[T, R]) Current() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.hasCurrent
}

// Stats returns a snapshot of the task's progress.
func (t *Task[T, R]) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		ID:         t.id,
		State:      t.state,
		Total:      len(t.items),
		Dispatched: t.cursor,
		InFlight:   t.inFlight,
		Succeeded:  t.succeeded,
		Failed:     t.failed,
	}
}

// Run starts processing items with actuator and returns once the first window
// of items has been dispatched. Actuator calls run on their own goroutines;
// use WaitComplete to collect the Report.
//
// Calling Run on a paused task resumes it with the new actuator, and ctx
// replaces the previous run context for every call dispatched from then on.
// Ending the most recent ctx cancels the task.
func (t *Task[T, R]) Run(ctx context.Context, actuator Actuator[T, R]) error {
	if actuator == nil {
		return daedalusErrors.NewError(daedalusErrors.CodeInvalidConfig, "actuator is required", daedalusErrors.ErrNoActuator)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StateIdle:
	case StatePaused:
		t.actuator = actuator
		t.bindLocked(ctx)
		t.resumeLocked()
		return nil
	default:
		return daedalusErrors.InvalidTransition(t.state, StateRunning)
	}

	t.actuator = actuator
	t.bindLocked(ctx)
	t.state = StateRunning

	t.logger.Info("Task started",
		zap.Int("items", len(t.items)),
		zap.Int("concurrency", t.cfg.concurrency))

	t.pumpLocked()
	return nil
}

// bindLocked makes ctx the context for calls dispatched from now on. Gates
// derived from earlier contexts stay open for the calls still using them.
func (t *Task[T, R]) bindLocked(ctx context.Context) {
	if t.stopWatch != nil {
		t.stopWatch()
	}
	t.runCtx = ctx
	gateCtx, cancel := context.WithCancel(ctx)
	t.gateCtx = gateCtx
	t.gateCancel = append(t.gateCancel, cancel)
	t.stopWatch = context.AfterFunc(ctx, t.Cancel)
}

func (t *Task[T, R]) closeGatesLocked() {
	for _, cancel := range t.gateCancel {
		cancel()
	}
}

// Pause stops dispatching new items. Calls already in flight run to completion;
// WaitHalted reports when they have. Pausing a paused or cancelled task does nothing.
func (t *Task[T, R]) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StateRunning:
	case StatePaused, StateCancelled:
		return nil
	default:
		return daedalusErrors.InvalidTransition(t.state, StatePaused)
	}

	t.state = StatePaused
	t.resumeGate = async.NewDeferred[struct{}]()
	t.interrupted = async.NewDeferred[struct{}]()
	t.halted = async.NewDeferred[struct{}]()

	t.logger.Info("Task paused",
		zap.Int("cursor", t.cursor),
		zap.Int("in_flight", t.inFlight))

	t.settleLocked()
	return nil
}

// Resume continues a paused task from where it stopped. It does nothing unless the task is paused.
func (t *Task[T, R]) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resumeLocked()
	return nil
}

func (t *Task[T, R]) resumeLocked() {
	if t.state != StatePaused {
		return
	}

	t.state = StateRunning
	t.resumeGate.Resolve(struct{}{})
	t.logger.Info("Task resumed", zap.Int("cursor", t.cursor))

	t.pumpLocked()
	t.releaseGatesLocked()
}

// Cancel stops the task for good. No item is dispatched afterwards; once the
// calls in flight finish, WaitComplete yields the partial report.
func (t *Task[T, R]) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.IsTerminal() {
		return
	}

	previous := t.state
	t.state = StateCancelled
	t.closeGatesLocked()
	if t.resumeGate != nil {
		t.resumeGate.Resolve(struct{}{})
	}
	t.releaseGatesLocked()

	t.logger.Info("Task cancelled",
		zap.Stringer("previous_state", previous),
		zap.Int("cursor", t.cursor),
		zap.Int("in_flight", t.inFlight))

	t.settleLocked()
}

// releaseGatesLocked wakes everyone blocked on the current pause.
func (t *Task[T, R]) releaseGatesLocked() {
	if t.interrupted != nil {
		t.interrupted.Resolve(struct{}{})
	}
	if t.halted != nil {
		t.halted.Resolve(struct{}{})
	}
	t.resumeGate, t.interrupted, t.halted = nil, nil, nil
}

// WaitComplete blocks until the task completes or a cancellation has drained.
// Pausing does not release it.
func (t *Task[T, R]) WaitComplete(ctx context.Context) (Report[R], error) {
	return t.complete.Wait(ctx)
}

// WaitResume blocks while the task is paused. It returns nil at once otherwise.
func (t *Task[T, R]) WaitResume(ctx context.Context) error {
	return t.waitGate(ctx, func() *async.Deferred[struct{}] { return t.interrupted })
}

// WaitHalted blocks until a pause has let every in-flight call finish.
// It returns nil at once when the task is not paused.
func (t *Task[T, R]) WaitHalted(ctx context.Context) error {
	return t.waitGate(ctx, func() *async.Deferred[struct{}] { return t.halted })
}

func (t *Task[T, R]) waitGate(ctx context.Context, gate func() *async.Deferred[struct{}]) error {
	t.mu.Lock()
	d := gate()
	t.mu.Unlock()

	if d == nil {
		return nil
	}
	_, err := d.Wait(ctx)
	return err
}

// pumpLocked fills the dispatch window, then settles the task if nothing is left to wait for.
func (t *Task[T, R]) pumpLocked() {
	for t.state == StateRunning && t.inFlight < t.cfg.concurrency && t.cursor < len(t.items) {
		item := t.items[t.cursor]
		t.cursor++
		t.current, t.hasCurrent = item, true
		t.inFlight++

		go t.invoke(t.runCtx, t.gateCtx, t.actuator, item, t.cursor)
	}
	t.settleLocked()
}

func (t *Task[T, R]) settleLocked() {
	if t.inFlight > 0 {
		return
	}

	switch t.state {
	case StateRunning:
		if t.cursor >= len(t.items) {
			t.state = StateCompleted
			t.finishLocked()
		}
	case StatePaused:
		if t.halted != nil && t.halted.Resolve(struct{}{}) {
			t.logger.Debug("Task halted", zap.Int("cursor", t.cursor))
		}
	case StateCancelled:
		t.finishLocked()
	}
}

func (t *Task[T, R]) finishLocked() {
	report := buildReport(t.id, t.state, t.outcomes)
	if !t.complete.Resolve(report) {
		return
	}

	t.report = &report

	if t.stopWatch != nil {
		t.stopWatch()
	}
	t.closeGatesLocked()

	t.logger.Info("Task finished",
		zap.Stringer("state", t.state),
		zap.Int("succeeded", len(report.Success)),
		zap.Int("failed", len(report.Failure)),
		zap.Int("total", len(t.items)))

	for _, hook := range t.hooks {
		go hook(t.hookContextLocked(), report)
	}
	t.hooks = nil
}

// OnComplete registers fn to receive the final report once the task completes
// or a cancellation has drained. Each hook runs once on its own goroutine with
// a context that keeps the run context's values but not its cancellation.
// Registering on a finished task runs fn right away. A nil fn is ignored.
func (t *Task[T, R]) OnComplete(fn func(context.Context, Report[R])) {
	if fn == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.report != nil {
		go fn(t.hookContextLocked(), *t.report)
		return
	}
	t.hooks = append(t.hooks, fn)
}

func (t *Task[T, R]) hookContextLocked() context.Context {
	if t.runCtx == nil {
		return context.Background()
	}
	return context.WithoutCancel(t.runCtx)
}

// invoke runs one claimed item and feeds its outcome back into the loop.
func (t *Task[T, R]) invoke(runCtx, gateCtx context.Context, actuator Actuator[T, R], item T, position int) {
	ctx, span := t.cfg.tracer.Start(runCtx, "task.actuate",
		trace.WithAttributes(
			attribute.String("task.id", t.id),
			attribute.Int("task.position", position),
			attribute.Int("task.total", len(t.items)),
		))

	start := time.Now()
	value, err := t.actuate(withController(ctx, t), gateCtx, actuator, item, position)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.logger.Warn("Item failed",
			zap.Int("position", position),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		span.SetStatus(codes.Ok, "")
		t.logger.Debug("Item processed",
			zap.Int("position", position),
			zap.Duration("duration", duration))
	}
	span.End()

	t.record(position, value, err)
}

// actuate waits on gateCtx for the rate limiter and shared limiter, which Cancel
// interrupts, then calls actuator under ctx.
func (t *Task[T, R]) actuate(ctx, gateCtx context.Context, actuator Actuator[T, R], item T, position int) (R, error) {
	var zero R

	waited := false
	if t.cfg.rateLimiter != nil {
		if err := t.cfg.rateLimiter.Wait(gateCtx); err != nil {
			return zero, t.gateError(err)
		}
		waited = true
	}

	limiter := t.cfg.limiter
	if limiter != nil {
		if err := limiter.Acquire(gateCtx); err != nil {
			return zero, t.gateError(err)
		}
		defer limiter.Release()
		waited = true
	}

	if waited && t.State() == StateCancelled {
		return zero, daedalusErrors.ErrCancelled
	}

	if t.cfg.itemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.itemTimeout)
		defer cancel()
	}

	value, err := safeActuate(ctx, actuator, item, position)
	if limiter != nil {
		limiter.Record(err)
	}
	return value, err
}

// gateError reports a wait aborted by Cancel as a cancellation rather than a context error.
func (t *Task[T, R]) gateError(err error) error {
	if t.State() == StateCancelled {
		return daedalusErrors.ErrCancelled
	}
	return err
}

func safeActuate[T, R any](ctx context.Context, actuator Actuator[T, R], item T, position int) (value R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = daedalusErrors.PanicError(r)
		}
	}()
	return actuator(ctx, item, position)
}

func (t *Task[T, R]) record(position int, value R, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o := &t.outcomes[position-1]
	if err != nil {
		o.status = outcomeFailed
		o.err = daedalusErrors.NewActuatorError(position, err)
		t.failed++
	} else {
		o.status = outcomeSucceeded
		o.value = value
		t.succeeded++
	}

	t.inFlight--
	t.pumpLocked()
}

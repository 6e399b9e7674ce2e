// Package scheduler runs periodic work on fixed intervals.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of periodic work
type Task func(ctx context.Context) error

// RunInfo describes the latest run of a trigger
type RunInfo struct {
	Name      string
	Interval  time.Duration
	Runs      int
	Failures  int
	LastRunAt *time.Time
	LastError string
}

// IntervalTrigger runs a task every interval and on demand. Runs never
// overlap: ticks arriving while a run is in progress are dropped.
type IntervalTrigger struct {
	name       string
	interval   time.Duration
	task       Task
	runTimeout time.Duration
	runOnStart bool
	logger     *zap.Logger

	runNow chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
	info      RunInfo
}

// TriggerOption configures an IntervalTrigger
type TriggerOption func(*IntervalTrigger)

// WithRunOnStart runs the task once immediately after Start
func WithRunOnStart() TriggerOption {
	return func(t *IntervalTrigger) {
		t.runOnStart = true
	}
}

// WithRunTimeout bounds every run
func WithRunTimeout(d time.Duration) TriggerOption {
	return func(t *IntervalTrigger) {
		t.runTimeout = d
	}
}

// WithTriggerLogger sets the logger
func WithTriggerLogger(logger *zap.Logger) TriggerOption {
	return func(t *IntervalTrigger) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewIntervalTrigger creates a stopped trigger
func NewIntervalTrigger(name string, interval time.Duration, task Task, opts ...TriggerOption) (*IntervalTrigger, error) {
	if name == "" || interval <= 0 || task == nil {
		return nil, fmt.Errorf("%w: %q every %s", ErrInvalidConfig, name, interval)
	}
	t := &IntervalTrigger{
		name:     name,
		interval: interval,
		task:     task,
		logger:   zap.NewNop(),
		runNow:   make(chan struct{}, 1),
		info:     RunInfo{Name: name, Interval: interval},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("trigger", name))
	return t, nil
}

// Name returns the trigger name
func (t *IntervalTrigger) Name() string {
	return t.name
}

// Start starts the loop; it is a no-op when already running
func (t *IntervalTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = true
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.runLoop(ctx)

	if t.runOnStart {
		_ = t.RunNow()
	}

	t.logger.Info("Interval trigger started", zap.Duration("interval", t.interval))
	return nil
}

// Stop cancels the loop and waits for an in-flight run to return
func (t *IntervalTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("Interval trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow asks the loop to run as soon as it is idle. Requests made while a
// run is already pending are coalesced.
func (t *IntervalTrigger) RunNow() error {
	t.mu.Lock()
	running := t.isRunning
	t.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	select {
	case t.runNow <- struct{}{}:
	default:
	}
	return nil
}

// Info returns a snapshot of the run statistics
func (t *IntervalTrigger) Info() RunInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := t.info
	if info.LastRunAt != nil {
		at := *info.LastRunAt
		info.LastRunAt = &at
	}
	return info
}

func (t *IntervalTrigger) runLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.execute(ctx)
		case <-t.runNow:
			t.execute(ctx)
		}
	}
}

func (t *IntervalTrigger) execute(ctx context.Context) {
	if t.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.runTimeout)
		defer cancel()
	}

	start := time.Now()
	err := t.safeRun(ctx)

	t.mu.Lock()
	t.info.Runs++
	t.info.LastRunAt = &start
	t.info.LastError = ""
	if err != nil {
		t.info.Failures++
		t.info.LastError = err.Error()
	}
	t.mu.Unlock()

	if err != nil {
		t.logger.Error("Scheduled run failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return
	}
	t.logger.Debug("Scheduled run finished", zap.Duration("duration", time.Since(start)))
}

func (t *IntervalTrigger) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: %s panicked: %v", t.name, r)
		}
	}()
	return t.task(ctx)
}

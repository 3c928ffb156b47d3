// Package watch provides a cancellable repeating task: a function run at a
// fixed interval on a single goroutine until its handle is stopped.
//
// Typical usage:
//
//	t := watch.Start(ctx, poll, watch.Options{Name: "poll", Interval: 500 * time.Millisecond})
//	defer t.Stop()
//
// A run that returns an error (or panics) is counted and logged; the loop
// keeps going on its next tick. Runs never overlap: a slow run delays the
// next tick instead of stacking up.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Func is one iteration of a task. ctx is cancelled when the task stops,
// so a blocking call inside Func returns promptly after Stop.
type Func func(ctx context.Context) error

// Options tunes a task.
type Options struct {
	// Name labels log lines. Default: "task".
	Name string
	// Interval is the tick frequency. Default: 1s.
	Interval time.Duration
	// Immediate runs fn once before the first tick.
	Immediate bool
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Name == "" {
		o.Name = "task"
	}
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Task is a handle on a running repeating task. It is safe for concurrent use.
type Task struct {
	opts   Options
	fn     Func
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	runs   atomic.Int64
	errors atomic.Int64
	runNs  atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Runs       int64         `json:"runs"`
	Errors     int64         `json:"errors"`
	AvgRunTime time.Duration `json:"avg_run_time"`
}

// Start launches fn on its own goroutine and returns the handle.
// The task also stops when parent is cancelled.
func Start(parent context.Context, fn Func, opts Options) *Task {
	opts.defaults()
	ctx, cancel := context.WithCancel(parent)
	t := &Task{
		opts:   opts,
		fn:     fn,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.loop()
	return t
}

// Stop cancels the task. It does not wait for an in-flight run; use Wait.
// Calling Stop more than once is harmless.
func (t *Task) Stop() { t.cancel() }

// Wait blocks until the task goroutine has exited.
func (t *Task) Wait() { <-t.done }

// Done is closed when the task goroutine has exited.
func (t *Task) Done() <-chan struct{} { return t.done }

// Stopped reports whether Stop was called or the parent context ended.
func (t *Task) Stopped() bool { return t.ctx.Err() != nil }

// Stats returns the current counters.
func (t *Task) Stats() Stats {
	s := Stats{Runs: t.runs.Load(), Errors: t.errors.Load()}
	if s.Runs > 0 {
		s.AvgRunTime = time.Duration(t.runNs.Load() / s.Runs)
	}
	return s
}

func (t *Task) loop() {
	defer close(t.done)
	log := t.opts.Logger

	if t.opts.Immediate {
		t.run()
	}

	ticker := time.NewTicker(t.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			log.Debug("watch: stopped", "task", t.opts.Name)
			return
		case <-ticker.C:
			if t.ctx.Err() != nil {
				return
			}
			t.run()
		}
	}
}

func (t *Task) run() {
	start := time.Now()
	err := t.safeCall()
	t.runs.Add(1)
	t.runNs.Add(int64(time.Since(start)))
	if err != nil && t.ctx.Err() == nil {
		t.errors.Add(1)
		t.opts.Logger.Warn("watch: run failed", "task", t.opts.Name, "error", err)
	}
}

func (t *Task) safeCall() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("watch: panic: %v", r)
		}
	}()
	return t.fn(t.ctx)
}

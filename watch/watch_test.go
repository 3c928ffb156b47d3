package watch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestTask_RunsRepeatedly(t *testing.T) {
	var n atomic.Int64
	task := Start(context.Background(), func(ctx context.Context) error {
		n.Add(1)
		return nil
	}, Options{Interval: 5 * time.Millisecond})
	defer task.Stop()

	waitUntil(t, func() bool { return n.Load() >= 3 })
	if s := task.Stats(); s.Runs < 3 {
		t.Fatalf("Stats.Runs = %d, want >= 3", s.Runs)
	}
}

func TestTask_StopPreventsFurtherRuns(t *testing.T) {
	var n atomic.Int64
	task := Start(context.Background(), func(ctx context.Context) error {
		n.Add(1)
		return nil
	}, Options{Interval: 5 * time.Millisecond})

	waitUntil(t, func() bool { return n.Load() >= 1 })
	task.Stop()
	task.Wait()
	if !task.Stopped() {
		t.Fatal("Stopped() = false after Stop")
	}

	after := n.Load()
	time.Sleep(30 * time.Millisecond)
	if got := n.Load(); got != after {
		t.Fatalf("runs after stop: got %d, want %d", got, after)
	}
}

func TestTask_ErrorsDoNotEndLoop(t *testing.T) {
	var n atomic.Int64
	task := Start(context.Background(), func(ctx context.Context) error {
		if n.Add(1)%2 == 1 {
			return errors.New("read failed")
		}
		panic("boom")
	}, Options{Interval: 5 * time.Millisecond})
	defer task.Stop()

	waitUntil(t, func() bool { return n.Load() >= 4 })
	if s := task.Stats(); s.Errors < 3 {
		t.Fatalf("Stats.Errors = %d, want >= 3", s.Errors)
	}
}

func TestTask_Immediate(t *testing.T) {
	ran := make(chan struct{}, 1)
	task := Start(context.Background(), func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}, Options{Interval: time.Hour, Immediate: true})
	defer task.Stop()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("Immediate task did not run before first tick")
	}
}

func TestTask_ContextCancelledOnStop(t *testing.T) {
	started := make(chan struct{})
	var sawCancel atomic.Bool
	task := Start(context.Background(), func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
		return ctx.Err()
	}, Options{Interval: time.Hour, Immediate: true})

	<-started
	task.Stop()
	task.Wait()
	if !sawCancel.Load() {
		t.Fatal("in-flight run did not observe cancellation")
	}
	if s := task.Stats(); s.Errors != 0 {
		t.Fatalf("errors after cancellation: got %d, want 0", s.Errors)
	}
}

func TestTask_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := Start(ctx, func(ctx context.Context) error { return nil }, Options{Interval: 5 * time.Millisecond})
	cancel()
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not exit on parent cancel")
	}
}

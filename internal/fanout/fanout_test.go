package fanout_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ctfcore/internal/fanout"
)

func TestRunExecutesAllUnits(t *testing.T) {
	var count atomic.Int32

	units := make([]fanout.Unit, 20)
	for i := range units {
		units[i] = fanout.Unit{
			Key: fmt.Sprintf("unit-%d", i),
			Run: func(ctx context.Context) error {
				count.Add(1)
				return nil
			},
		}
	}

	report := fanout.Run(context.Background(), units)

	if got := count.Load(); got != 20 {
		t.Errorf("expected 20 units to run, got %d", got)
	}
	if report.FailureCount() != 0 {
		t.Errorf("expected no failures, got %d", report.FailureCount())
	}
}

func TestRunWaitsForSlowUnits(t *testing.T) {
	var finished atomic.Bool

	units := []fanout.Unit{
		{Key: "fast", Run: func(ctx context.Context) error { return nil }},
		{Key: "slow", Run: func(ctx context.Context) error {
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return nil
		}},
	}

	fanout.Run(context.Background(), units)

	if !finished.Load() {
		t.Error("Run returned before the slow unit finished")
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	errBoom := errors.New("boom")
	var survivors atomic.Int32

	units := []fanout.Unit{
		{Key: "ok-1", Run: func(ctx context.Context) error { survivors.Add(1); return nil }},
		{Key: "bad", Run: func(ctx context.Context) error { return errBoom }},
		{Key: "ok-2", Run: func(ctx context.Context) error { survivors.Add(1); return nil }},
	}

	report := fanout.Run(context.Background(), units)

	if survivors.Load() != 2 {
		t.Errorf("sibling units did not all run, got %d", survivors.Load())
	}
	failed := report.Failed()
	if len(failed) != 1 {
		t.Fatalf("expected exactly 1 failure, got %d", len(failed))
	}
	if failed[0].Key != "bad" || !errors.Is(failed[0].Err, errBoom) {
		t.Errorf("unexpected failure result: %+v", failed[0])
	}
}

func TestRunRecoversPanics(t *testing.T) {
	units := []fanout.Unit{
		{Key: "panics", Run: func(ctx context.Context) error { panic("oh no") }},
		{Key: "fine", Run: func(ctx context.Context) error { return nil }},
	}

	report := fanout.Run(context.Background(), units)

	failed := report.Failed()
	if len(failed) != 1 {
		t.Fatalf("expected the panicking unit to fail, got %d failures", len(failed))
	}
	if !strings.Contains(failed[0].Err.Error(), "panicked") {
		t.Errorf("panic not surfaced in error: %v", failed[0].Err)
	}
}

func TestRunIsConcurrent(t *testing.T) {
	// All units block on the same barrier; the test only completes if
	// they run at the same time.
	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)

	units := make([]fanout.Unit, n)
	for i := range units {
		units[i] = fanout.Unit{
			Key: fmt.Sprintf("unit-%d", i),
			Run: func(ctx context.Context) error {
				wg.Done()
				wg.Wait()
				return nil
			},
		}
	}

	done := make(chan struct{})
	go func() {
		fanout.Run(context.Background(), units)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("units did not run concurrently")
	}
}

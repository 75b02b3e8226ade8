package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/liko-dev/liko/internal/pipeline"
)

// fakeRunner counts pipeline passes and can be made to block or fail.
type fakeRunner struct {
	mu      sync.Mutex
	runs    int
	err     error
	block   chan struct{} // when set, Run waits for it (or ctx)
	started chan struct{} // signalled on each Run entry
}

func (f *fakeRunner) Run(ctx context.Context, sessionID string) (pipeline.RunOutcome, error) {
	f.mu.Lock()
	f.runs++
	block := f.block
	err := f.err
	f.mu.Unlock()

	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	return pipeline.RunOutcome{SessionID: sessionID, RunID: "run-1"}, err
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func TestStartRejectsDuplicate(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{block: make(chan struct{})}
	sched := New(runner, nil, WithCycle(time.Hour))
	t.Cleanup(func() {
		close(runner.block)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sched.Shutdown(ctx)
	})

	if err := sched.Start(context.Background(), "main"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sched.Start(context.Background(), "main"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if !sched.Running("main") {
		t.Fatal("session should be tracked")
	}
	// A different session is independent.
	if err := sched.Start(context.Background(), "other"); err != nil {
		t.Fatalf("start other: %v", err)
	}
}

func TestStopIsNonBlocking(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	sched := New(runner, nil, WithCycle(time.Hour))

	if err := sched.Start(context.Background(), "main"); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-runner.started // run is in flight and blocked

	done := make(chan error, 1)
	go func() { done <- sched.Stop("main") }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on the in-flight run")
	}

	// Stop deregisters the runtime eagerly, before the loop winds down.
	if sched.Running("main") {
		t.Fatal("runtime still tracked after stop")
	}
	if err := sched.Stop("main"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after stop, got %v", err)
	}
}

func TestStopAllowsImmediateRestart(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	sched := New(runner, nil, WithCycle(time.Hour))
	t.Cleanup(func() {
		close(runner.block)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sched.Shutdown(ctx)
	})

	if err := sched.Start(context.Background(), "main"); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-runner.started // first run is in flight and blocked

	if err := sched.Stop("main"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// The old loop is still draining its blocked run, but the session is
	// free: restarting must succeed without waiting.
	if err := sched.Start(context.Background(), "main"); err != nil {
		t.Fatalf("restart while old run drains: %v", err)
	}
	if !sched.Running("main") {
		t.Fatal("restarted session should be tracked")
	}

	// The draining loop's exit must not evict the fresh runtime.
	<-runner.started // second run is in flight
	deadline := time.After(5 * time.Second)
	for runner.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected second run, saw %d", runner.count())
		case <-time.After(2 * time.Millisecond):
		}
	}
	if !sched.Running("main") {
		t.Fatal("fresh runtime evicted by the drained loop")
	}
}

func TestPeriodicCycles(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	sched := New(runner, nil,
		WithCycle(10*time.Millisecond),
		WithSleepSlice(2*time.Millisecond))

	if err := sched.Start(context.Background(), "main"); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for runner.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected repeated runs, saw %d", runner.count())
		case <-time.After(2 * time.Millisecond):
		}
	}

	if err := sched.Stop("main"); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestRunFailureStopsLoop(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: errors.New("store unavailable")}
	sched := New(runner, nil,
		WithCycle(time.Millisecond),
		WithSleepSlice(time.Millisecond))

	if err := sched.Start(context.Background(), "main"); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for sched.Running("main") {
		select {
		case <-deadline:
			t.Fatal("loop kept running after pipeline error")
		case <-time.After(2 * time.Millisecond):
		}
	}
	if got := runner.count(); got != 1 {
		t.Fatalf("expected exactly 1 run before fail-closed stop, saw %d", got)
	}

	// The session can be started again after the failure.
	runner.mu.Lock()
	runner.err = nil
	runner.mu.Unlock()
	if err := sched.Start(context.Background(), "main"); err != nil {
		t.Fatalf("restart after failure: %v", err)
	}
	sched.Stop("main")
}

func TestRunOnceIsUntracked(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	sched := New(runner, nil)

	outcome, err := sched.RunOnce(context.Background(), "main")
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if outcome.SessionID != "main" {
		t.Fatalf("outcome = %+v", outcome)
	}
	if sched.Running("main") {
		t.Fatal("RunOnce must not register a runtime")
	}
	if runner.count() != 1 {
		t.Fatalf("runs = %d", runner.count())
	}
}

func TestLastOutcomeTracksCompletedRuns(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	sched := New(runner, nil)

	if _, ok := sched.LastOutcome("main"); ok {
		t.Fatal("no outcome expected before any run")
	}

	if _, err := sched.RunOnce(context.Background(), "main"); err != nil {
		t.Fatalf("run once: %v", err)
	}
	outcome, ok := sched.LastOutcome("main")
	if !ok || outcome.RunID != "run-1" {
		t.Fatalf("outcome = %+v, ok = %v", outcome, ok)
	}

	// Failed runs do not overwrite the recorded result.
	runner.mu.Lock()
	runner.err = errors.New("store unavailable")
	runner.mu.Unlock()
	if _, err := sched.RunOnce(context.Background(), "main"); err == nil {
		t.Fatal("expected run error")
	}
	if _, ok := sched.LastOutcome("main"); !ok {
		t.Fatal("previous outcome should survive a failed run")
	}
}

func TestShutdownStopsAllRuntimes(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	sched := New(runner, nil, WithCycle(time.Hour))

	for _, id := range []string{"a", "b", "c"} {
		if err := sched.Start(context.Background(), id); err != nil {
			t.Fatalf("start %s: %v", id, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sched.Shutdown(ctx)

	if got := len(sched.Sessions()); got != 0 {
		t.Fatalf("sessions tracked after shutdown: %d", got)
	}
}

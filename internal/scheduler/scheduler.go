// Package scheduler owns the long-running automation loops. Each session
// gets at most one runtime; a runtime executes a pipeline pass, then sleeps
// out a 24-hour cycle in short slices so stops take effect promptly.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/liko-dev/liko/internal/eventbus"
	"github.com/liko-dev/liko/internal/pipeline"
)

const (
	defaultCycle      = 24 * time.Hour
	defaultSleepSlice = 60 * time.Second
)

// ErrAlreadyRunning is returned when starting a session whose runtime is
// still active.
var ErrAlreadyRunning = errors.New("scheduler: session already running")

// ErrNotRunning is returned when stopping a session that has no runtime.
var ErrNotRunning = errors.New("scheduler: session not running")

// Runner executes one pipeline pass. Satisfied by *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, sessionID string) (pipeline.RunOutcome, error)
}

// Scheduler tracks per-session runtimes.
type Scheduler struct {
	runner Runner
	bus    *eventbus.Bus
	logger *log.Logger

	cycle      time.Duration
	sleepSlice time.Duration

	mu           sync.Mutex
	runtimes     map[string]*sessionRuntime
	lastOutcomes map[string]pipeline.RunOutcome
}

// sessionRuntime is one periodic loop. stop is closed exactly once by Stop;
// done is closed by the loop goroutine on exit.
type sessionRuntime struct {
	sessionID string
	cancel    context.CancelFunc
	stop      chan struct{}
	done      chan struct{}
	startedAt time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCycle overrides the pause between periodic runs.
func WithCycle(d time.Duration) Option {
	return func(s *Scheduler) { s.cycle = d }
}

// WithSleepSlice overrides the stop-check granularity of the cycle sleep.
func WithSleepSlice(d time.Duration) Option {
	return func(s *Scheduler) { s.sleepSlice = d }
}

// WithLogger overrides the scheduler logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// New creates a Scheduler driving runner.
func New(runner Runner, bus *eventbus.Bus, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:       runner,
		bus:          bus,
		logger:       log.Default(),
		cycle:        defaultCycle,
		sleepSlice:   defaultSleepSlice,
		runtimes:     make(map[string]*sessionRuntime),
		lastOutcomes: make(map[string]pipeline.RunOutcome),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the periodic loop for a session. Returns ErrAlreadyRunning
// when a runtime for the session is still tracked.
func (s *Scheduler) Start(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runtimes[sessionID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, sessionID)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rt := &sessionRuntime{
		sessionID: sessionID,
		cancel:    cancel,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	s.runtimes[sessionID] = rt

	go s.loop(runCtx, rt)
	s.logger.Printf("[Scheduler] session %s started", sessionID)
	return nil
}

// Stop signals a session's loop to end and deregisters the runtime
// immediately, without waiting for an in-flight run to wind down. A start
// right after Stop succeeds and owns a fresh runtime; the old loop drains
// in the background. The cancelled run context is a polled flag, not a
// kill switch: requests already on the wire complete under their own
// timeouts before the next poll point observes the stop.
func (s *Scheduler) Stop(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, exists := s.runtimes[sessionID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotRunning, sessionID)
	}
	select {
	case <-rt.stop:
	default:
		close(rt.stop)
		rt.cancel()
	}
	delete(s.runtimes, sessionID)
	s.logger.Printf("[Scheduler] session %s stop requested", sessionID)
	return nil
}

// RunOnce executes a single pipeline pass outside any periodic loop. The
// run is not tracked: it can overlap a periodic runtime and never touches
// the registry.
func (s *Scheduler) RunOnce(ctx context.Context, sessionID string) (pipeline.RunOutcome, error) {
	outcome, err := s.runner.Run(ctx, sessionID)
	if err == nil {
		s.recordOutcome(sessionID, outcome)
	}
	return outcome, err
}

// LastOutcome returns the result of the most recent completed run for a
// session, periodic or manual. The second return is false when no run has
// finished since the daemon started.
func (s *Scheduler) LastOutcome(sessionID string) (pipeline.RunOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome, ok := s.lastOutcomes[sessionID]
	return outcome, ok
}

func (s *Scheduler) recordOutcome(sessionID string, outcome pipeline.RunOutcome) {
	s.mu.Lock()
	s.lastOutcomes[sessionID] = outcome
	s.mu.Unlock()
}

// Running reports whether a session currently has a tracked runtime.
func (s *Scheduler) Running(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.runtimes[sessionID]
	return exists
}

// Sessions returns the IDs of all tracked runtimes.
func (s *Scheduler) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.runtimes))
	for id := range s.runtimes {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown stops every runtime and waits for their loops to exit or ctx to
// expire.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.mu.Lock()
	waiting := make([]*sessionRuntime, 0, len(s.runtimes))
	for _, rt := range s.runtimes {
		select {
		case <-rt.stop:
		default:
			close(rt.stop)
			rt.cancel()
		}
		waiting = append(waiting, rt)
	}
	s.mu.Unlock()

	for _, rt := range waiting {
		select {
		case <-rt.done:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) loop(ctx context.Context, rt *sessionRuntime) {
	defer func() {
		rt.cancel()
		close(rt.done)
		s.mu.Lock()
		// Stop deregisters eagerly and a restart may have installed a
		// fresh runtime under the same ID; only remove our own entry.
		if s.runtimes[rt.sessionID] == rt {
			delete(s.runtimes, rt.sessionID)
		}
		s.mu.Unlock()
		s.logger.Printf("[Scheduler] session %s stopped", rt.sessionID)
	}()

	for {
		select {
		case <-rt.stop:
			return
		default:
		}

		outcome, err := s.runner.Run(ctx, rt.sessionID)
		if err != nil {
			// Unexpected failures end periodic scheduling rather than
			// silently retrying a broken session every cycle.
			s.logger.Printf("[Scheduler] session %s run failed, stopping loop: %v",
				rt.sessionID, err)
			eventbus.Publish(ctx, s.bus, eventbus.Runs.Lifecycle, eventbus.SourceScheduler,
				eventbus.RunLifecycleEvent{
					SessionID: rt.sessionID,
					RunID:     outcome.RunID,
					State:     eventbus.RunStateFailed,
					Error:     err.Error(),
				})
			return
		}
		s.recordOutcome(rt.sessionID, outcome)

		if !s.sleepCycle(rt) {
			return
		}
	}
}

// sleepCycle waits out the cycle interval in sleepSlice increments,
// returning false when the runtime was stopped mid-wait.
func (s *Scheduler) sleepCycle(rt *sessionRuntime) bool {
	remaining := s.cycle
	for remaining > 0 {
		slice := s.sleepSlice
		if slice > remaining {
			slice = remaining
		}
		timer := time.NewTimer(slice)
		select {
		case <-rt.stop:
			timer.Stop()
			return false
		case <-timer.C:
		}
		remaining -= slice
	}
	return true
}

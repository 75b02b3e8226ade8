package observability

import (
	"strings"
	"testing"

	"github.com/liko-dev/liko/internal/eventbus"
)

func TestEventCounterSnapshot(t *testing.T) {
	counter := NewEventCounter()

	counter.OnPublish(eventbus.Envelope{Topic: eventbus.TopicRunsProgress})
	counter.OnPublish(eventbus.Envelope{Topic: eventbus.TopicRunsProgress})
	counter.OnPublish(eventbus.Envelope{Topic: eventbus.TopicRunsLifecycle})

	snapshot := counter.Snapshot()

	if snapshot[eventbus.TopicRunsProgress] != 2 {
		t.Fatalf("expected runs.progress count 2, got %d", snapshot[eventbus.TopicRunsProgress])
	}
	if snapshot[eventbus.TopicRunsLifecycle] != 1 {
		t.Fatalf("expected runs.lifecycle count 1, got %d", snapshot[eventbus.TopicRunsLifecycle])
	}
	if _, exists := snapshot[""]; exists {
		t.Fatalf("expected empty topic to be ignored in snapshot")
	}
}

func TestEventCounterRunTotals(t *testing.T) {
	counter := NewEventCounter()

	counter.OnPublish(eventbus.Envelope{
		Topic: eventbus.TopicRunsLifecycle,
		Payload: eventbus.RunLifecycleEvent{
			State: eventbus.RunStateStarted,
		},
	})
	counter.OnPublish(eventbus.Envelope{
		Topic: eventbus.TopicRunsLifecycle,
		Payload: eventbus.RunLifecycleEvent{
			State:         eventbus.RunStateCompleted,
			TokensOK:      8,
			TokensFailed:  2,
			TargetsOK:     3,
			TargetsFailed: 1,
		},
	})
	counter.OnPublish(eventbus.Envelope{
		Topic: eventbus.TopicRunsLifecycle,
		Payload: eventbus.RunLifecycleEvent{
			State: eventbus.RunStateFailed,
			Error: "store unavailable",
		},
	})

	runs := counter.Runs()
	if runs.RunsCompleted != 1 || runs.RunsFailed != 1 {
		t.Fatalf("run totals = %+v", runs)
	}
	if runs.TokensOK != 8 || runs.TokensFailed != 2 {
		t.Fatalf("token totals = %+v", runs)
	}
	if runs.TargetsOK != 3 || runs.TargetsFailed != 1 {
		t.Fatalf("target totals = %+v", runs)
	}
}

type stubScheduler struct{ sessions []string }

func (s stubScheduler) Sessions() []string { return s.sessions }

func TestPrometheusExporter(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()

	counter := NewEventCounter()
	counter.OnPublish(eventbus.Envelope{
		Topic: eventbus.TopicRunsLifecycle,
		Payload: eventbus.RunLifecycleEvent{
			State:    eventbus.RunStateCompleted,
			TokensOK: 5,
		},
	})

	exporter := NewPrometheusExporter(bus, counter)
	exporter.WithScheduler(stubScheduler{sessions: []string{"main", "alt"}})

	output := string(exporter.Export())

	for _, want := range []string{
		`liko_eventbus_events_total{topic="runs.lifecycle"} 1`,
		"liko_eventbus_publish_total 0",
		"liko_eventbus_dropped_total 0",
		`liko_runs_total{result="completed"} 1`,
		`liko_runs_total{result="failed"} 0`,
		`liko_tokens_total{result="ok"} 5`,
		"liko_sessions_running 2",
	} {
		if !strings.Contains(output, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, output)
		}
	}
}

func TestPrometheusExporterHandlesNilSources(t *testing.T) {
	exporter := NewPrometheusExporter(nil, nil)
	if got := exporter.Export(); len(got) != 0 {
		t.Fatalf("expected empty output, got %q", got)
	}
}

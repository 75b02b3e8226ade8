// Package observability aggregates run and bus counters and renders them in
// Prometheus text format for the daemon's /metrics endpoint.
package observability

import (
	"sync"
	"sync/atomic"

	"github.com/liko-dev/liko/internal/eventbus"
)

// EventCounter counts published events grouped by topic, and tracks run
// outcome totals extracted from lifecycle events.
type EventCounter struct {
	counts sync.Map // map[eventbus.Topic]*atomic.Uint64

	runsCompleted atomic.Uint64
	runsFailed    atomic.Uint64
	tokensOK      atomic.Uint64
	tokensFailed  atomic.Uint64
	targetsOK     atomic.Uint64
	targetsFailed atomic.Uint64
}

// NewEventCounter creates a counter that can be registered as an event bus
// observer.
func NewEventCounter() *EventCounter {
	return &EventCounter{}
}

// OnPublish implements eventbus.Observer.
func (c *EventCounter) OnPublish(env eventbus.Envelope) {
	if env.Topic == "" {
		return
	}
	c.counterFor(env.Topic).Add(1)

	if event, ok := env.Payload.(eventbus.RunLifecycleEvent); ok {
		switch event.State {
		case eventbus.RunStateCompleted:
			c.runsCompleted.Add(1)
			c.tokensOK.Add(uint64(event.TokensOK))
			c.tokensFailed.Add(uint64(event.TokensFailed))
			c.targetsOK.Add(uint64(event.TargetsOK))
			c.targetsFailed.Add(uint64(event.TargetsFailed))
		case eventbus.RunStateFailed:
			c.runsFailed.Add(1)
		}
	}
}

// Snapshot exposes a stable copy of the per-topic counts.
func (c *EventCounter) Snapshot() map[eventbus.Topic]uint64 {
	out := make(map[eventbus.Topic]uint64)
	c.counts.Range(func(key, value any) bool {
		topic, ok := key.(eventbus.Topic)
		if !ok {
			return true
		}
		counter, ok := value.(*atomic.Uint64)
		if !ok || counter == nil {
			return true
		}
		out[topic] = counter.Load()
		return true
	})
	return out
}

// RunTotals is a snapshot of aggregated run outcome counters.
type RunTotals struct {
	RunsCompleted uint64
	RunsFailed    uint64
	TokensOK      uint64
	TokensFailed  uint64
	TargetsOK     uint64
	TargetsFailed uint64
}

// Runs returns the aggregated run outcome totals.
func (c *EventCounter) Runs() RunTotals {
	return RunTotals{
		RunsCompleted: c.runsCompleted.Load(),
		RunsFailed:    c.runsFailed.Load(),
		TokensOK:      c.tokensOK.Load(),
		TokensFailed:  c.tokensFailed.Load(),
		TargetsOK:     c.targetsOK.Load(),
		TargetsFailed: c.targetsFailed.Load(),
	}
}

func (c *EventCounter) counterFor(topic eventbus.Topic) *atomic.Uint64 {
	if counter, ok := c.counts.Load(topic); ok {
		if typed, ok := counter.(*atomic.Uint64); ok && typed != nil {
			return typed
		}
	}
	newCounter := &atomic.Uint64{}
	actual, _ := c.counts.LoadOrStore(topic, newCounter)
	if typed, ok := actual.(*atomic.Uint64); ok && typed != nil {
		return typed
	}
	return newCounter
}

package observability

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/liko-dev/liko/internal/eventbus"
)

// SchedulerProvider exposes the set of currently tracked session runtimes.
type SchedulerProvider interface {
	Sessions() []string
}

// PrometheusExporter renders observability metrics in Prometheus text format.
type PrometheusExporter struct {
	bus       *eventbus.Bus
	counter   *EventCounter
	scheduler SchedulerProvider
}

// NewPrometheusExporter constructs an exporter backed by the provided bus
// and event counter.
func NewPrometheusExporter(bus *eventbus.Bus, counter *EventCounter) *PrometheusExporter {
	return &PrometheusExporter{bus: bus, counter: counter}
}

// WithScheduler enables exporting the active session runtime gauge.
func (e *PrometheusExporter) WithScheduler(provider SchedulerProvider) {
	e.scheduler = provider
}

// Export produces the metrics payload in Prometheus' text exposition format.
func (e *PrometheusExporter) Export() []byte {
	var buf bytes.Buffer

	e.writeEventCounters(&buf)
	e.writeBusMetrics(&buf)
	e.writeRunMetrics(&buf)
	e.writeSchedulerMetrics(&buf)

	return buf.Bytes()
}

func (e *PrometheusExporter) writeEventCounters(buf *bytes.Buffer) {
	if e.counter == nil {
		return
	}

	counts := e.counter.Snapshot()
	if len(counts) == 0 {
		return
	}

	buf.WriteString("# HELP liko_eventbus_events_total Total number of published events per topic.\n")
	buf.WriteString("# TYPE liko_eventbus_events_total counter\n")

	topics := make([]string, 0, len(counts))
	for topic := range counts {
		topics = append(topics, string(topic))
	}
	sort.Strings(topics)
	for _, topicName := range topics {
		value := counts[eventbus.Topic(topicName)]
		fmt.Fprintf(buf, "liko_eventbus_events_total{topic=%q} %d\n", topicName, value)
	}
}

func (e *PrometheusExporter) writeBusMetrics(buf *bytes.Buffer) {
	if e.bus == nil {
		return
	}

	metrics := e.bus.Metrics()

	buf.WriteString("# HELP liko_eventbus_publish_total Total number of events published on the bus.\n")
	buf.WriteString("# TYPE liko_eventbus_publish_total counter\n")
	fmt.Fprintf(buf, "liko_eventbus_publish_total %d\n", metrics.PublishTotal)

	buf.WriteString("# HELP liko_eventbus_dropped_total Total number of events dropped by the bus.\n")
	buf.WriteString("# TYPE liko_eventbus_dropped_total counter\n")
	fmt.Fprintf(buf, "liko_eventbus_dropped_total %d\n", metrics.DroppedTotal)
}

func (e *PrometheusExporter) writeRunMetrics(buf *bytes.Buffer) {
	if e.counter == nil {
		return
	}

	runs := e.counter.Runs()

	buf.WriteString("# HELP liko_runs_total Total number of finished pipeline runs by result.\n")
	buf.WriteString("# TYPE liko_runs_total counter\n")
	fmt.Fprintf(buf, "liko_runs_total{result=\"completed\"} %d\n", runs.RunsCompleted)
	fmt.Fprintf(buf, "liko_runs_total{result=\"failed\"} %d\n", runs.RunsFailed)

	buf.WriteString("# HELP liko_tokens_total Token acquisition outcomes across all runs.\n")
	buf.WriteString("# TYPE liko_tokens_total counter\n")
	fmt.Fprintf(buf, "liko_tokens_total{result=\"ok\"} %d\n", runs.TokensOK)
	fmt.Fprintf(buf, "liko_tokens_total{result=\"failed\"} %d\n", runs.TokensFailed)

	buf.WriteString("# HELP liko_targets_total Like dispatch outcomes across all runs.\n")
	buf.WriteString("# TYPE liko_targets_total counter\n")
	fmt.Fprintf(buf, "liko_targets_total{result=\"ok\"} %d\n", runs.TargetsOK)
	fmt.Fprintf(buf, "liko_targets_total{result=\"failed\"} %d\n", runs.TargetsFailed)
}

func (e *PrometheusExporter) writeSchedulerMetrics(buf *bytes.Buffer) {
	if e.scheduler == nil {
		return
	}

	buf.WriteString("# HELP liko_sessions_running Number of sessions with an active periodic runtime.\n")
	buf.WriteString("# TYPE liko_sessions_running gauge\n")
	fmt.Fprintf(buf, "liko_sessions_running %d\n", len(e.scheduler.Sessions()))
}

package eventbus

import "time"

// Topic identifies a logical channel on the bus.
type Topic string

const (
	TopicRunsLifecycle Topic = "runs.lifecycle"
	TopicRunsProgress  Topic = "runs.progress"
)

// Source describes which component produced an event.
type Source string

const (
	SourceScheduler Source = "scheduler"
	SourcePipeline  Source = "pipeline"
	SourceServer    Source = "server"
	SourceUnknown   Source = "unknown"
)

// Envelope wraps every message published on the bus.
type Envelope struct {
	Topic         Topic
	Timestamp     time.Time
	Source        Source
	CorrelationID string
	Payload       any
}

// RunState classifies run lifecycle transitions.
type RunState string

const (
	RunStateStarted   RunState = "started"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
)

// RunLifecycleEvent is published when a pipeline run starts or finishes.
// Outcome fields are only meaningful for completed/failed states.
type RunLifecycleEvent struct {
	SessionID     string `json:"session_id"`
	RunID         string `json:"run_id"`
	State         RunState `json:"state"`
	Stage         string `json:"stage,omitempty"`
	Error         string `json:"error,omitempty"`
	TokensOK      int    `json:"tokens_ok"`
	TokensFailed  int    `json:"tokens_failed"`
	TokensSkipped int    `json:"tokens_skipped"`
	PublishStatus string `json:"publish_status,omitempty"`
	TargetsOK     int    `json:"targets_ok"`
	TargetsFailed int    `json:"targets_failed"`
}

// RunProgressEvent reports intra-stage progress (token fetch completions,
// dispatch pacing) for live observers such as the websocket stream.
type RunProgressEvent struct {
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`
	Stage     string `json:"stage"`
	Done      int    `json:"done"`
	Total     int    `json:"total"`
	Message   string `json:"message,omitempty"`
}

// Runs groups the typed topic descriptors for run events.
var Runs = struct {
	Lifecycle TopicDef[RunLifecycleEvent]
	Progress  TopicDef[RunProgressEvent]
}{
	Lifecycle: NewTopicDef[RunLifecycleEvent](TopicRunsLifecycle),
	Progress:  NewTopicDef[RunProgressEvent](TopicRunsProgress),
}

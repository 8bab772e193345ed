package types

import "time"

// EventType represents the kind of an engine event.
type EventType string

// Event kinds emitted on the engine event stream.
const (
	EventTaskAdded         EventType = "task_added"
	EventTaskStatusChanged EventType = "task_status_changed"
	EventChunkProgress     EventType = "chunk_progress"
	EventSpeedUpdate       EventType = "speed_update"
	EventDecisionMade      EventType = "decision_made"
	EventTaskCompleted     EventType = "task_completed"
	EventTaskFailed        EventType = "task_failed"
)

// IsTerminal returns true if this event type ends a task's transfer.
func (e EventType) IsTerminal() bool {
	return e == EventTaskCompleted || e == EventTaskFailed
}

// EventEnvelope wraps every event published on the engine stream.
// Seq is monotonic per process and starts at 1.
type EventEnvelope struct {
	// EventID is a unique identifier for this event.
	EventID string `json:"event_id"`
	// TaskID is the task this event concerns.
	TaskID string `json:"task_id"`
	// Seq is the monotonic sequence number.
	Seq int64 `json:"seq"`
	// Type is the event type discriminator.
	Type EventType `json:"type"`
	// Ts is the event timestamp.
	Ts time.Time `json:"ts"`
	// Payload is the type-specific payload.
	Payload any `json:"payload"`
}

// TaskAddedPayload accompanies task_added events.
type TaskAddedPayload struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Dest     string `json:"dest"`
}

// StatusChangedPayload accompanies task_status_changed events.
type StatusChangedPayload struct {
	Old TaskStatus `json:"old"`
	New TaskStatus `json:"new"`
}

// ChunkProgressPayload accompanies chunk_progress events.
type ChunkProgressPayload struct {
	ChunkIndex int   `json:"chunk_index"`
	BytesDelta int64 `json:"bytes_delta"`
	BytesDone  int64 `json:"bytes_done"`
	TotalSize  int64 `json:"total_size"`
}

// SpeedUpdatePayload accompanies speed_update events. Speeds are in
// bytes per second. ETAAccuracy is the tri-level reliability class of
// the estimate, exposed because the numeric ETA is least reliable
// exactly when it is most needed.
type SpeedUpdatePayload struct {
	Current     float64 `json:"current"`
	Average     float64 `json:"average"`
	Peak        float64 `json:"peak"`
	ETASeconds  float64 `json:"eta_seconds"`
	ETAAccuracy string  `json:"eta_accuracy"`
}

// TaskCompletedPayload accompanies task_completed events.
type TaskCompletedPayload struct {
	Path       string        `json:"path"`
	Size       int64         `json:"size"`
	Duration   time.Duration `json:"duration"`
	BytesTotal int64         `json:"bytes_total"`
}

// TaskFailedPayload accompanies task_failed events. ChunkIndex is -1
// when the failure is not attributable to a single chunk.
type TaskFailedPayload struct {
	Reason     string `json:"reason"`
	ChunkIndex int    `json:"chunk_index"`
	Attempts   int    `json:"attempts"`
}

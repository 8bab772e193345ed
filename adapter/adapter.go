// Package adapter defines the terminal-event publisher boundary.
//
// Adapters push task completion and failure notifications to downstream
// systems (webhooks, Redis pub/sub). The engine owns adapter lifecycle;
// users provide configuration only. Progress and speed events never
// leave the process through adapters; only terminal events do.
package adapter

import (
	"context"
	"time"

	"github.com/AditthyaSS/Flux/types"
)

// SchemaVersion identifies the terminal-event payload shape.
const SchemaVersion = "1"

// TaskEvent is the payload published when a task reaches a terminal
// state. Outcome is "completed" or "failed".
type TaskEvent struct {
	SchemaVersion string `json:"schema_version"`
	EventType     string `json:"event_type"` // task_completed or task_failed
	TaskID        string `json:"task_id"`
	URL           string `json:"url"`
	Outcome       string `json:"outcome"`
	Path          string `json:"path,omitempty"`
	Size          int64  `json:"size,omitempty"`
	Error         string `json:"error,omitempty"`
	Timestamp     string `json:"timestamp"` // RFC 3339
}

// FromTask builds the terminal event for a task that just finished.
func FromTask(task types.Task) *TaskEvent {
	ev := &TaskEvent{
		SchemaVersion: SchemaVersion,
		TaskID:        task.ID,
		URL:           task.URL,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	if task.Status == types.StatusCompleted {
		ev.EventType = string(types.EventTaskCompleted)
		ev.Outcome = "completed"
		ev.Path = task.Destination
		ev.Size = task.TotalSize
	} else {
		ev.EventType = string(types.EventTaskFailed)
		ev.Outcome = "failed"
		ev.Error = task.Error
	}
	return ev
}

// Adapter publishes terminal task events to a downstream system.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Publish sends one terminal event downstream. Must respect
	// context cancellation and deadlines.
	Publish(ctx context.Context, event *TaskEvent) error

	// Close releases adapter resources.
	Close() error
}

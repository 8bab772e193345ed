// Package types defines the core domain types shared across the engine:
// tasks, chunks, events, decision records, and the error taxonomy.
package types

import "time"

// Version is the Flux release version.
const Version = "1.0.0"

// TaskStatus represents the lifecycle state of a transfer task.
type TaskStatus string

// Task lifecycle states. Completed and Failed are terminal; a Failed
// task may be manually re-queued, which starts a fresh chunk map.
const (
	StatusQueued    TaskStatus = "queued"
	StatusActive    TaskStatus = "active"
	StatusPaused    TaskStatus = "paused"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// IsTerminal returns true if the status is a terminal state.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one requested download. Owned exclusively by the task queue
// manager; coordinators hold a reference, never a copy of ownership.
type Task struct {
	// ID is the unique task identifier (UUID).
	ID string `json:"id"`
	// URL is the source URL.
	URL string `json:"url"`
	// Destination is the final output file path. Until Filename is
	// resolved it holds only the destination directory.
	Destination string `json:"destination"`
	// Filename is the output filename. Empty until the first probe
	// resolves it from the response when the user gave none.
	Filename string `json:"filename"`
	// TotalSize is the declared content length in bytes, 0 until probed.
	TotalSize int64 `json:"total_size"`
	// SupportsRanges reports whether the server honors range requests.
	// Valid only once the task has been probed.
	SupportsRanges bool `json:"supports_ranges"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`
	// Error holds the failure reason for Failed tasks.
	Error string `json:"error,omitempty"`
	// Connections is the current target connection count, updated only
	// by the decision engine.
	Connections int `json:"connections"`
	// ChunkSize is the current target chunk size in bytes, updated only
	// by the decision engine.
	ChunkSize int64 `json:"chunk_size"`
	// CreatedAt is the task creation timestamp.
	CreatedAt time.Time `json:"created_at"`
}

package types

import "time"

// Dimension identifies which tuning parameter a decision changed.
type Dimension string

// Tunable dimensions.
const (
	DimConnections Dimension = "connections"
	DimChunkSize   Dimension = "chunk_size"
)

// DecisionRecord is one adaptation event. Records are append-only and
// read-only to external consumers; evaluations that change nothing
// produce no record.
type DecisionRecord struct {
	// TaskID is the task the decision applies to.
	TaskID string `json:"task_id"`
	// Ts is the evaluation timestamp.
	Ts time.Time `json:"ts"`
	// Dimension is the parameter that changed.
	Dimension Dimension `json:"dimension"`
	// Previous is the value before the decision.
	Previous int64 `json:"previous"`
	// New is the value after the decision.
	New int64 `json:"new"`
	// Rationale is the machine-readable explanation for the change.
	Rationale string `json:"rationale"`
}

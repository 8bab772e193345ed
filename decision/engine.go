// Package decision implements the adaptation rules of the engine. The
// Engine is a pure function of its inputs plus a per-dimension cooldown
// clock: the same metric snapshot always yields the same decisions, so
// rules can be tested without a live transfer.
package decision

import (
	"fmt"
	"sync"
	"time"

	"github.com/AditthyaSS/Flux/config"
	"github.com/AditthyaSS/Flux/types"
)

// Rationale strings attached to decision records. Stable values; the
// CLI and API surface them verbatim.
const (
	RationaleHighErrorRate = "reducing load due to high error rate"
	RationaleScaleUp       = "scaling up, low error rate and headroom detected"
	RationaleGrowChunk     = "increasing chunk size, stable throughput with high RTT favors fewer larger requests"
	RationaleShrinkChunk   = "decreasing chunk size for finer adaptive control"
	RationaleRangeFallback = "server does not support ranges, pinning single connection"
)

// Inputs is one metric snapshot fed to an evaluation.
type Inputs struct {
	RTT            time.Duration
	ErrorRate      float64
	Stability      float64
	CurrentSpeed   float64
	PreviousSpeed  float64
	Connections    int
	ChunkSize      int64
	SupportsRanges bool
}

// Engine evaluates metric snapshots against the tuning thresholds and
// keeps the per-task decision history. Thread-safe.
type Engine struct {
	tuning config.TuningConfig
	now    func() time.Time

	mu      sync.Mutex
	history map[string][]types.DecisionRecord
	last    map[string]map[types.Dimension]time.Time
}

// New creates an engine with the given thresholds.
func New(tuning config.TuningConfig) *Engine {
	return &Engine{
		tuning:  tuning,
		now:     time.Now,
		history: make(map[string][]types.DecisionRecord),
		last:    make(map[string]map[types.Dimension]time.Time),
	}
}

// SetClock overrides the time source, for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Evaluate applies the adaptation rules to one snapshot and returns the
// decisions made, at most one per dimension. Each dimension honors an
// independent cooldown so a change gets a full window to show its
// effect before being revisited. Returned records are already appended
// to the task history.
func (e *Engine) Evaluate(taskID string, in Inputs) []types.DecisionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var out []types.DecisionRecord

	if !in.SupportsRanges {
		// Parallelism is off the table; only record the pin once.
		if in.Connections > 1 {
			out = append(out, e.record(taskID, now, types.DimConnections,
				int64(in.Connections), 1, RationaleRangeFallback))
		}
		return out
	}

	if rec, ok := e.evalConnections(taskID, now, in); ok {
		out = append(out, rec)
	}
	if rec, ok := e.evalChunkSize(taskID, now, in); ok {
		out = append(out, rec)
	}
	return out
}

func (e *Engine) evalConnections(taskID string, now time.Time, in Inputs) (types.DecisionRecord, bool) {
	if !e.cooled(taskID, types.DimConnections, now) {
		return types.DecisionRecord{}, false
	}

	switch {
	case in.ErrorRate > e.tuning.HighErrorRate:
		next := in.Connections / 2
		if next < 1 {
			next = 1
		}
		if next == in.Connections {
			return types.DecisionRecord{}, false
		}
		return e.record(taskID, now, types.DimConnections,
			int64(in.Connections), int64(next), RationaleHighErrorRate), true

	case in.ErrorRate < e.tuning.LowErrorRate && e.hasHeadroom(in):
		next := in.Connections * 2
		if next > e.tuning.MaxConnections {
			next = e.tuning.MaxConnections
		}
		if next == in.Connections {
			return types.DecisionRecord{}, false
		}
		return e.record(taskID, now, types.DimConnections,
			int64(in.Connections), int64(next), RationaleScaleUp), true
	}
	return types.DecisionRecord{}, false
}

// hasHeadroom reports whether throughput is still climbing: the current
// speed exceeds the previous evaluation's speed by the configured
// margin. A zero previous speed counts as headroom so a fresh transfer
// can ramp.
func (e *Engine) hasHeadroom(in Inputs) bool {
	if in.PreviousSpeed <= 0 {
		return true
	}
	return in.CurrentSpeed > in.PreviousSpeed*(1+e.tuning.SpeedHeadroom)
}

func (e *Engine) evalChunkSize(taskID string, now time.Time, in Inputs) (types.DecisionRecord, bool) {
	if !e.cooled(taskID, types.DimChunkSize, now) {
		return types.DecisionRecord{}, false
	}

	switch {
	case in.Stability < e.tuning.StableCV && in.RTT > e.tuning.HighRTT.Duration:
		next := in.ChunkSize * e.tuning.GrowthFactor
		if next > e.tuning.MaxChunkSize {
			next = e.tuning.MaxChunkSize
		}
		if next == in.ChunkSize {
			return types.DecisionRecord{}, false
		}
		return e.record(taskID, now, types.DimChunkSize,
			in.ChunkSize, next, RationaleGrowChunk), true

	case in.Stability > e.tuning.UnstableCV && in.RTT < e.tuning.LowRTT.Duration:
		next := in.ChunkSize / e.tuning.GrowthFactor
		if next < e.tuning.MinChunkSize {
			next = e.tuning.MinChunkSize
		}
		if next == in.ChunkSize {
			return types.DecisionRecord{}, false
		}
		return e.record(taskID, now, types.DimChunkSize,
			in.ChunkSize, next, RationaleShrinkChunk), true
	}
	return types.DecisionRecord{}, false
}

func (e *Engine) cooled(taskID string, dim types.Dimension, now time.Time) bool {
	dims, ok := e.last[taskID]
	if !ok {
		return true
	}
	at, ok := dims[dim]
	if !ok {
		return true
	}
	return now.Sub(at) >= e.tuning.Cooldown.Duration
}

func (e *Engine) record(taskID string, now time.Time, dim types.Dimension, prev, next int64, rationale string) types.DecisionRecord {
	rec := types.DecisionRecord{
		TaskID:    taskID,
		Ts:        now,
		Dimension: dim,
		Previous:  prev,
		New:       next,
		Rationale: rationale,
	}
	e.history[taskID] = append(e.history[taskID], rec)
	dims, ok := e.last[taskID]
	if !ok {
		dims = make(map[types.Dimension]time.Time)
		e.last[taskID] = dims
	}
	dims[dim] = now
	return rec
}

// Records returns the decision history for a task, oldest first.
func (e *Engine) Records(taskID string) []types.DecisionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	recs := e.history[taskID]
	out := make([]types.DecisionRecord, len(recs))
	copy(out, recs)
	return out
}

// Forget drops the history and cooldown state for a task.
func (e *Engine) Forget(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.history, taskID)
	delete(e.last, taskID)
}

// Summarize renders a record for logs and the CLI.
func Summarize(rec types.DecisionRecord) string {
	return fmt.Sprintf("%s %d -> %d (%s)", rec.Dimension, rec.Previous, rec.New, rec.Rationale)
}

// Package metrics provides per-task transfer statistics: rolling-window
// speed, error rate, throughput stability, ETA, and efficiency.
//
// The Tracker accumulates samples during a transfer. It is a leaf
// package with no internal dependencies beyond types. All statistics
// derive from recorded sample intervals rather than wall-clock reads,
// so results are deterministic for a given sample sequence.
package metrics

import (
	"math"
	"sync"
	"time"
)

// Accuracy classifies how reliable the ETA estimate is. The numeric
// estimate degrades exactly when throughput is unstable, so consumers
// get the class alongside the number.
type Accuracy string

// Accuracy levels, classified from the stability metric.
const (
	AccuracyHigh   Accuracy = "high"
	AccuracyMedium Accuracy = "medium"
	AccuracyLow    Accuracy = "low"
)

// Stability cutoffs for ETA accuracy classification.
const (
	stableCV   = 0.1
	unstableCV = 0.3
)

// Speed is a point-in-time view of transfer speed in bytes per second.
type Speed struct {
	Current float64 `json:"current"`
	Average float64 `json:"average"`
	Peak    float64 `json:"peak"`
}

// ETA is the estimated time to completion with its reliability class.
// Remaining is negative when no estimate is possible yet.
type ETA struct {
	Remaining time.Duration `json:"remaining"`
	Accuracy  Accuracy      `json:"accuracy"`
}

// Snapshot is an immutable point-in-time view of all task metrics.
// Safe to read concurrently after creation.
type Snapshot struct {
	Speed      Speed   `json:"speed"`
	ETA        ETA     `json:"eta"`
	ErrorRate  float64 `json:"error_rate"`
	Stability  float64 `json:"stability"`
	Efficiency float64 `json:"efficiency"`
	BytesDone  int64   `json:"bytes_done"`
	TotalSize  int64   `json:"total_size"`
}

// Tracker accumulates metrics for a single transfer. Thread-safe via
// sync.Mutex; all methods are nil-receiver safe so instrumentation can
// be optional.
type Tracker struct {
	mu sync.Mutex

	totalSize int64
	bytesDone int64

	// Speed samples over the trailing window, bytes/sec.
	speeds      []float64
	speedWindow int
	current     float64
	peak        float64

	// Attempt outcomes over the trailing window.
	attempts    []bool
	errorWindow int

	// Totals for the average.
	totalBytes   int64
	totalElapsed time.Duration

	// Efficiency numerator/denominator.
	bytesUseful    int64
	bytesRequested int64
}

// NewTracker creates a tracker. speedWindow and errorWindow bound the
// trailing sample windows; non-positive values take defaults (60
// samples, 50 attempts).
func NewTracker(totalSize int64, speedWindow, errorWindow int) *Tracker {
	if speedWindow <= 0 {
		speedWindow = 60
	}
	if errorWindow <= 0 {
		errorWindow = 50
	}
	return &Tracker{
		totalSize:   totalSize,
		speedWindow: speedWindow,
		errorWindow: errorWindow,
	}
}

// RecordSample records the outcome of one request interval: bytes
// transferred in the interval, the interval duration, and whether the
// attempt succeeded. Failed attempts contribute to the error rate but
// not to speed statistics.
func (t *Tracker) RecordSample(bytes int64, interval time.Duration, success bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.attempts = append(t.attempts, success)
	if len(t.attempts) > t.errorWindow {
		t.attempts = t.attempts[len(t.attempts)-t.errorWindow:]
	}

	if !success || interval <= 0 {
		return
	}

	t.current = float64(bytes) / interval.Seconds()
	if t.current > t.peak {
		t.peak = t.current
	}
	t.speeds = append(t.speeds, t.current)
	if len(t.speeds) > t.speedWindow {
		t.speeds = t.speeds[len(t.speeds)-t.speedWindow:]
	}

	t.totalBytes += bytes
	t.totalElapsed += interval
	t.bytesDone += bytes
}

// RecordRequested adds to the bytes-requested total, the efficiency
// denominator. Called once per issued range request with the range
// length, including retried requests.
func (t *Tracker) RecordRequested(n int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.bytesRequested += n
	t.mu.Unlock()
}

// RecordUseful adds to the useful-bytes total, the efficiency
// numerator. Called only when a chunk commits.
func (t *Tracker) RecordUseful(n int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.bytesUseful += n
	t.mu.Unlock()
}

// SetBytesDone overrides the completed-byte count, used when resuming
// a transfer whose earlier progress was not observed by this tracker.
func (t *Tracker) SetBytesDone(n int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.bytesDone = n
	t.mu.Unlock()
}

// Speed returns current/average/peak speeds in bytes per second.
func (t *Tracker) Speed() Speed {
	if t == nil {
		return Speed{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speedLocked()
}

func (t *Tracker) speedLocked() Speed {
	s := Speed{Current: t.current, Peak: t.peak}
	if t.totalElapsed > 0 {
		s.Average = float64(t.totalBytes) / t.totalElapsed.Seconds()
	}
	return s
}

// ErrorRate returns failed attempts / total attempts over the trailing
// window, or 0 with no attempts recorded.
func (t *Tracker) ErrorRate() float64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errorRateLocked()
}

func (t *Tracker) errorRateLocked() float64 {
	if len(t.attempts) == 0 {
		return 0
	}
	failed := 0
	for _, ok := range t.attempts {
		if !ok {
			failed++
		}
	}
	return float64(failed) / float64(len(t.attempts))
}

// Stability returns the coefficient of variation (stddev / mean) of
// speed samples in the trailing window. Lower is more stable. Returns
// 0 with fewer than two samples.
func (t *Tracker) Stability() float64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stabilityLocked()
}

func (t *Tracker) stabilityLocked() float64 {
	if len(t.speeds) < 2 {
		return 0
	}
	var sum float64
	for _, v := range t.speeds {
		sum += v
	}
	mean := sum / float64(len(t.speeds))
	if mean == 0 {
		return 0
	}

	var sq float64
	for _, v := range t.speeds {
		d := v - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(len(t.speeds)-1))
	return stddev / mean
}

// ETAEstimate returns remaining time at the trailing average speed,
// classified High/Medium/Low from the stability metric. Remaining is
// -1 when no speed data exists yet.
func (t *Tracker) ETAEstimate() ETA {
	if t == nil {
		return ETA{Remaining: -1, Accuracy: AccuracyLow}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.etaLocked()
}

func (t *Tracker) etaLocked() ETA {
	avg := t.speedLocked().Average
	if avg <= 0 {
		return ETA{Remaining: -1, Accuracy: AccuracyLow}
	}

	remaining := t.totalSize - t.bytesDone
	if remaining < 0 {
		remaining = 0
	}
	eta := ETA{Remaining: time.Duration(float64(remaining) / avg * float64(time.Second))}

	switch cv := t.stabilityLocked(); {
	case cv < stableCV:
		eta.Accuracy = AccuracyHigh
	case cv < unstableCV:
		eta.Accuracy = AccuracyMedium
	default:
		eta.Accuracy = AccuracyLow
	}
	return eta
}

// Efficiency returns useful bytes / requested bytes, accounting for
// retried and wasted requests. Returns 1 when nothing was requested.
func (t *Tracker) Efficiency() float64 {
	if t == nil {
		return 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.efficiencyLocked()
}

func (t *Tracker) efficiencyLocked() float64 {
	if t.bytesRequested == 0 {
		return 1
	}
	return float64(t.bytesUseful) / float64(t.bytesRequested)
}

// BytesDone returns the completed byte count.
func (t *Tracker) BytesDone() int64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytesDone
}

// Snapshot returns an immutable point-in-time view of all metrics.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	return Snapshot{
		Speed:      t.speedLocked(),
		ETA:        t.etaLocked(),
		ErrorRate:  t.errorRateLocked(),
		Stability:  t.stabilityLocked(),
		Efficiency: t.efficiencyLocked(),
		BytesDone:  t.bytesDone,
		TotalSize:  t.totalSize,
	}
}

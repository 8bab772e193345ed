package decision

import (
	"testing"
	"time"

	"github.com/AditthyaSS/Flux/config"
	"github.com/AditthyaSS/Flux/types"
)

func testEngine() (*Engine, *time.Time) {
	tuning := config.Default().Tuning
	e := New(tuning)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.SetClock(func() time.Time { return now })
	return e, &now
}

func healthyInputs() Inputs {
	return Inputs{
		RTT:            100 * time.Millisecond,
		ErrorRate:      0.05,
		Stability:      0.2,
		CurrentSpeed:   1_000_000,
		PreviousSpeed:  1_000_000,
		Connections:    8,
		ChunkSize:      1 << 20,
		SupportsRanges: true,
	}
}

func TestEvaluate_HighErrorRateHalvesConnections(t *testing.T) {
	e, _ := testEngine()
	in := healthyInputs()
	in.ErrorRate = 0.25

	recs := e.Evaluate("t1", in)
	if len(recs) != 1 {
		t.Fatalf("got %d decisions, want 1: %+v", len(recs), recs)
	}
	rec := recs[0]
	if rec.Dimension != types.DimConnections || rec.Previous != 8 || rec.New != 4 {
		t.Fatalf("unexpected decision: %+v", rec)
	}
	if rec.Rationale != RationaleHighErrorRate {
		t.Fatalf("rationale = %q", rec.Rationale)
	}
}

func TestEvaluate_ConnectionsNeverBelowOne(t *testing.T) {
	e, _ := testEngine()
	in := healthyInputs()
	in.ErrorRate = 0.5
	in.Connections = 1

	if recs := e.Evaluate("t1", in); len(recs) != 0 {
		t.Fatalf("expected no decision at floor, got %+v", recs)
	}
}

func TestEvaluate_ScaleUpWithHeadroom(t *testing.T) {
	e, _ := testEngine()
	in := healthyInputs()
	in.ErrorRate = 0.01
	in.CurrentSpeed = 2_000_000
	in.PreviousSpeed = 1_000_000

	recs := e.Evaluate("t1", in)
	if len(recs) != 1 {
		t.Fatalf("got %d decisions, want 1: %+v", len(recs), recs)
	}
	if recs[0].New != 16 || recs[0].Rationale != RationaleScaleUp {
		t.Fatalf("unexpected decision: %+v", recs[0])
	}
}

func TestEvaluate_ScaleUpCappedAtMax(t *testing.T) {
	e, now := testEngine()
	in := healthyInputs()
	in.ErrorRate = 0.01
	in.CurrentSpeed = 2_000_000
	in.PreviousSpeed = 1_000_000
	in.Connections = 32 // already at cap

	if recs := e.Evaluate("t1", in); len(recs) != 0 {
		t.Fatalf("expected no decision at cap, got %+v", recs)
	}

	*now = now.Add(10 * time.Second)
	in.Connections = 20
	recs := e.Evaluate("t1", in)
	if len(recs) != 1 || recs[0].New != 32 {
		t.Fatalf("expected cap at 32, got %+v", recs)
	}
}

func TestEvaluate_NoHeadroomBlocksScaleUp(t *testing.T) {
	e, _ := testEngine()
	in := healthyInputs()
	in.ErrorRate = 0.01
	in.CurrentSpeed = 1_010_000 // +1%, under the 5% margin
	in.PreviousSpeed = 1_000_000

	if recs := e.Evaluate("t1", in); len(recs) != 0 {
		t.Fatalf("expected no decision without headroom, got %+v", recs)
	}
}

func TestEvaluate_GrowChunkOnStableHighRTT(t *testing.T) {
	e, _ := testEngine()
	in := healthyInputs()
	in.Stability = 0.05
	in.RTT = 300 * time.Millisecond

	recs := e.Evaluate("t1", in)
	if len(recs) != 1 {
		t.Fatalf("got %d decisions, want 1: %+v", len(recs), recs)
	}
	rec := recs[0]
	if rec.Dimension != types.DimChunkSize || rec.New != 2<<20 {
		t.Fatalf("unexpected decision: %+v", rec)
	}
	if rec.Rationale != RationaleGrowChunk {
		t.Fatalf("rationale = %q", rec.Rationale)
	}
}

func TestEvaluate_ShrinkChunkOnUnstableLowRTT(t *testing.T) {
	e, _ := testEngine()
	in := healthyInputs()
	in.Stability = 0.5
	in.RTT = 20 * time.Millisecond

	recs := e.Evaluate("t1", in)
	if len(recs) != 1 || recs[0].New != 512<<10 {
		t.Fatalf("unexpected decisions: %+v", recs)
	}
	if recs[0].Rationale != RationaleShrinkChunk {
		t.Fatalf("rationale = %q", recs[0].Rationale)
	}
}

func TestEvaluate_ChunkSizeBounded(t *testing.T) {
	e, _ := testEngine()
	in := healthyInputs()
	in.Stability = 0.5
	in.RTT = 20 * time.Millisecond
	in.ChunkSize = 256 << 10 // already at floor

	if recs := e.Evaluate("t1", in); len(recs) != 0 {
		t.Fatalf("expected no decision at floor, got %+v", recs)
	}
}

func TestEvaluate_CooldownPerDimension(t *testing.T) {
	e, now := testEngine()

	// Trip both dimensions at once.
	in := healthyInputs()
	in.ErrorRate = 0.25
	in.Stability = 0.05
	in.RTT = 300 * time.Millisecond
	if recs := e.Evaluate("t1", in); len(recs) != 2 {
		t.Fatalf("got %d decisions, want 2: %+v", len(recs), recs)
	}

	// Inside the cooldown nothing fires, even with conditions still met.
	*now = now.Add(2 * time.Second)
	in.Connections = 4
	in.ChunkSize = 2 << 20
	if recs := e.Evaluate("t1", in); len(recs) != 0 {
		t.Fatalf("expected cooldown to suppress decisions, got %+v", recs)
	}

	// After the cooldown both dimensions may fire again.
	*now = now.Add(5 * time.Second)
	if recs := e.Evaluate("t1", in); len(recs) != 2 {
		t.Fatalf("expected decisions after cooldown, got %+v", recs)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	in := healthyInputs()
	in.ErrorRate = 0.25

	a, _ := testEngine()
	b, _ := testEngine()
	ra := a.Evaluate("t1", in)
	rb := b.Evaluate("t1", in)
	if len(ra) != 1 || len(rb) != 1 || ra[0] != rb[0] {
		t.Fatalf("same inputs produced different decisions: %+v vs %+v", ra, rb)
	}
}

func TestEvaluate_NoRangeSupportPinsSingleConnection(t *testing.T) {
	e, _ := testEngine()
	in := healthyInputs()
	in.SupportsRanges = false

	recs := e.Evaluate("t1", in)
	if len(recs) != 1 || recs[0].New != 1 {
		t.Fatalf("expected pin to one connection, got %+v", recs)
	}
	if recs[0].Rationale != RationaleRangeFallback {
		t.Fatalf("rationale = %q", recs[0].Rationale)
	}

	in.Connections = 1
	if recs := e.Evaluate("t1", in); len(recs) != 0 {
		t.Fatalf("expected no further decisions, got %+v", recs)
	}
}

func TestRecords_AppendOnlyHistory(t *testing.T) {
	e, now := testEngine()
	in := healthyInputs()
	in.ErrorRate = 0.25
	e.Evaluate("t1", in)

	*now = now.Add(10 * time.Second)
	in.Connections = 4
	e.Evaluate("t1", in)

	recs := e.Records("t1")
	if len(recs) != 2 {
		t.Fatalf("history length = %d, want 2", len(recs))
	}
	if !recs[0].Ts.Before(recs[1].Ts) {
		t.Fatal("history not in chronological order")
	}
	if recs[0].Previous != 8 || recs[1].Previous != 4 {
		t.Fatalf("unexpected history: %+v", recs)
	}

	// Mutating the returned slice must not affect the engine copy.
	recs[0].Previous = 999
	if e.Records("t1")[0].Previous != 8 {
		t.Fatal("Records returned internal slice")
	}
}

func TestForget(t *testing.T) {
	e, _ := testEngine()
	in := healthyInputs()
	in.ErrorRate = 0.25
	e.Evaluate("t1", in)
	e.Forget("t1")
	if recs := e.Records("t1"); len(recs) != 0 {
		t.Fatalf("history survived Forget: %+v", recs)
	}
}

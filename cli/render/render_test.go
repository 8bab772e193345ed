package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/AditthyaSS/Flux/types"
)

func sampleTasks() []types.Task {
	return []types.Task{
		{
			ID:          "a",
			URL:         "https://example.com/a.bin",
			Status:      types.StatusActive,
			TotalSize:   10 << 20,
			Connections: 8,
			ChunkSize:   1 << 20,
			CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			ID:     "b",
			URL:    "https://example.com/b.bin",
			Status: types.StatusQueued,
		},
	}
}

func TestParseFormat(t *testing.T) {
	cases := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"table", FormatTable, false},
		{"yaml", FormatYAML, false},
		{"", "", false},
		{"xml", "", true},
	}
	for _, tc := range cases {
		got, err := ParseFormat(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseFormat(%q) err = %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatJSON, &buf)
	if err := r.Render(sampleTasks()); err != nil {
		t.Fatalf("Render: %v", err)
	}

	var got []types.Task
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" {
		t.Fatalf("got %+v", got)
	}
}

func TestRenderTable_Slice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, &buf)
	if err := r.Render(sampleTasks()); err != nil {
		t.Fatalf("Render: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "id") || !strings.Contains(out, "status") {
		t.Fatalf("missing headers:\n%s", out)
	}
	if !strings.Contains(out, "active") || !strings.Contains(out, "queued") {
		t.Fatalf("missing rows:\n%s", out)
	}
	// Byte columns are humanized in tables.
	if !strings.Contains(out, "10 MB") {
		t.Fatalf("total_size not humanized:\n%s", out)
	}
}

func TestRenderTable_EmptySlice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, &buf)
	if err := r.Render([]types.Task{}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(buf.String(), "(no results)") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestRenderTable_SingleStruct(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, &buf)
	if err := r.Render(sampleTasks()[0]); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "id:") || !strings.Contains(out, "https://example.com/a.bin") {
		t.Fatalf("output:\n%s", out)
	}
}

func TestRenderYAML(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatYAML, &buf)
	if err := r.Render(sampleTasks()[0]); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(buf.String(), "url: https://example.com/a.bin") {
		t.Fatalf("output:\n%s", buf.String())
	}
}

func TestSpeed(t *testing.T) {
	if got := Speed(0); got != "0 B/s" {
		t.Errorf("Speed(0) = %q", got)
	}
	if got := Speed(1_500_000); !strings.HasSuffix(got, "/s") {
		t.Errorf("Speed = %q", got)
	}
}

func TestETA(t *testing.T) {
	if got := ETA(-1, "low"); got != "unknown" {
		t.Errorf("ETA(-1) = %q", got)
	}
	if got := ETA(90*time.Second, "high"); got != "1m30s (high)" {
		t.Errorf("ETA = %q", got)
	}
}

func TestPercent(t *testing.T) {
	if got := Percent(50, 200); got != "25.0%" {
		t.Errorf("Percent = %q", got)
	}
	if got := Percent(1, 0); got != "?" {
		t.Errorf("Percent with zero total = %q", got)
	}
}

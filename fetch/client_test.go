package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AditthyaSS/Flux/types"
)

func testClient() *Client {
	return NewClient(Options{
		Timeout:      5 * time.Second,
		ProbeRetries: 2,
		RetryBackoff: time.Millisecond,
		UserAgent:    "flux-test",
	})
}

func TestHead_Metadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "4096")
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("ETag", `"abc123"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	info, err := testClient().Head(context.Background(), srv.URL+"/data.bin")
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if info.Size != 4096 {
		t.Errorf("Size = %d, want 4096", info.Size)
	}
	if !info.AcceptsRanges {
		t.Error("AcceptsRanges = false, want true")
	}
	if info.Filename != "data.bin" {
		t.Errorf("Filename = %q, want data.bin", info.Filename)
	}
	if info.ETag != "abc123" {
		t.Errorf("ETag = %q, want abc123", info.ETag)
	}
}

func TestHead_FallsBackToRangeGet(t *testing.T) {
	var sawRangeGet bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Range") != "bytes=0-0" {
			t.Errorf("Range = %q, want bytes=0-0", r.Header.Get("Range"))
		}
		sawRangeGet = true
		w.Header().Set("Content-Range", "bytes 0-0/9000")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte{0})
	}))
	defer srv.Close()

	info, err := testClient().Head(context.Background(), srv.URL+"/file")
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if !sawRangeGet {
		t.Fatal("expected range GET fallback")
	}
	if info.Size != 9000 {
		t.Errorf("Size = %d, want 9000", info.Size)
	}
	if !info.AcceptsRanges {
		t.Error("AcceptsRanges = false, want true")
	}
}

func TestHead_RetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Length", "10")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	info, err := testClient().Head(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if info.Size != 10 {
		t.Errorf("Size = %d, want 10", info.Size)
	}
}

func TestHead_ClientErrorNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := testClient().Head(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (4xx must not retry)", calls)
	}
}

func TestGetRange_PartialContent(t *testing.T) {
	content := []byte("0123456789abcdef")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "bytes=4-7" {
			t.Errorf("Range = %q, want bytes=4-7", r.Header.Get("Range"))
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 4-7/%d", len(content)))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(content[4:8])
	}))
	defer srv.Close()

	resp, err := testClient().GetRange(context.Background(), srv.URL, 4, 7)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "4567" {
		t.Errorf("body = %q, want 4567", body)
	}
	if resp.RTT <= 0 {
		t.Error("RTT not recorded")
	}
}

func TestGetRange_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"range not satisfiable", http.StatusRequestedRangeNotSatisfiable, types.ErrUnsupportedRange},
		{"server error", http.StatusInternalServerError, types.ErrTransientNetwork},
		{"too many requests", http.StatusTooManyRequests, types.ErrTransientNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := testClient().GetRange(context.Background(), srv.URL, 0, 9)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGetRange_IgnoredRangeHeader(t *testing.T) {
	// A 200 without Content-Range means the server streamed the whole
	// resource; chunked workers cannot use that.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("full body"))
	}))
	defer srv.Close()

	_, err := testClient().GetRange(context.Background(), srv.URL, 0, 3)
	if !errors.Is(err, types.ErrUnsupportedRange) {
		t.Errorf("error = %v, want ErrUnsupportedRange", err)
	}
}

func TestGet_ResumeHonored(t *testing.T) {
	content := []byte("0123456789")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "bytes=6-" {
			t.Errorf("Range = %q, want bytes=6-", r.Header.Get("Range"))
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 6-9/%d", len(content)))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(content[6:])
	}))
	defer srv.Close()

	body, resumed, err := testClient().Get(context.Background(), srv.URL, 6)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer body.Close()

	if !resumed {
		t.Error("resumed = false, want true")
	}
	got, _ := io.ReadAll(body)
	if string(got) != "6789" {
		t.Errorf("body = %q, want 6789", got)
	}
}

func TestGet_ResumeIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("restarted"))
	}))
	defer srv.Close()

	body, resumed, err := testClient().Get(context.Background(), srv.URL, 6)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer body.Close()

	if resumed {
		t.Error("resumed = true, want false for a plain 200")
	}
}

func TestExtractFilename(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		headers http.Header
		want    string
	}{
		{
			name: "content disposition wins",
			url:  "http://example.com/download?id=9",
			headers: http.Header{
				"Content-Disposition": []string{`attachment; filename="report.pdf"`},
			},
			want: "report.pdf",
		},
		{
			name: "content disposition path stripped",
			url:  "http://example.com/x",
			headers: http.Header{
				"Content-Disposition": []string{`attachment; filename="../../etc/passwd"`},
			},
			want: "passwd",
		},
		{
			name: "url path fallback",
			url:  "http://example.com/files/archive.tar.gz",
			want: "archive.tar.gz",
		},
		{
			name: "bare host",
			url:  "http://example.com/",
			want: "download",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractFilename(tt.url, tt.headers); got != tt.want {
				t.Errorf("ExtractFilename() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header  string
		start   int64
		end     int64
		total   int64
		wantErr bool
	}{
		{header: "bytes 0-499/1000", start: 0, end: 499, total: 1000},
		{header: "bytes 500-999/1000", start: 500, end: 999, total: 1000},
		{header: "bytes 0-0/*", start: 0, end: 0, total: -1},
		{header: "garbage", wantErr: true},
		{header: "bytes 5/1000", wantErr: true},
		{header: "bytes a-b/c", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			start, end, total, err := ParseContentRange(tt.header)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseContentRange: %v", err)
			}
			if start != tt.start || end != tt.end || total != tt.total {
				t.Errorf("got (%d, %d, %d), want (%d, %d, %d)",
					start, end, total, tt.start, tt.end, tt.total)
			}
		})
	}
}

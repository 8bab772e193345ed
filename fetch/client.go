// Package fetch provides the HTTP client used for metadata probes and
// range requests against the origin server.
//
// Metadata probes retry internally with exponential backoff; range
// requests are single-attempt because the transfer coordinator owns the
// per-chunk retry budget.
package fetch

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/AditthyaSS/Flux/types"
)

// Options configures the HTTP client.
type Options struct {
	// Timeout bounds each individual request.
	Timeout time.Duration
	// ProbeRetries is the maximum retry count for Head.
	ProbeRetries int
	// RetryBackoff is the initial probe backoff duration.
	RetryBackoff time.Duration
	// MaxIdleConnsPerHost sets the connection pool size per host.
	MaxIdleConnsPerHost int
	// UserAgent is sent on every request.
	UserAgent string
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:             30 * time.Second,
		ProbeRetries:        3,
		RetryBackoff:        time.Second,
		MaxIdleConnsPerHost: 64,
		UserAgent:           "Flux/" + types.Version,
	}
}

// FileInfo contains metadata about the remote resource.
type FileInfo struct {
	Size          int64
	Filename      string
	AcceptsRanges bool
	ETag          string
	ContentType   string
}

// RangeResponse is the result of a range request. RTT is the time from
// request send to response headers, used as a throughput-path latency
// sample.
type RangeResponse struct {
	Body          io.ReadCloser
	ContentLength int64
	RTT           time.Duration
}

// Client is an HTTP client tuned for multi-connection downloads.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a client with the given options.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultOptions().RetryBackoff
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = DefaultOptions().MaxIdleConnsPerHost
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // raw bytes for range requests
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts: opts,
	}
}

// Head fetches resource metadata. It issues a HEAD request and, when
// the server rejects HEAD, falls back to a one-byte range GET and reads
// the total size from Content-Range.
func (c *Client) Head(ctx context.Context, rawURL string) (*FileInfo, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.ProbeRetries; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		info, retryable, err := c.headOnce(ctx, rawURL)
		if err == nil {
			return info, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("probe failed after %d attempts: %w", c.opts.ProbeRetries+1, lastErr)
}

// headOnce performs a single probe attempt. The second return value
// reports whether the failure is retryable.
func (c *Client) headOnce(ctx context.Context, rawURL string) (*FileInfo, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, false, types.NewTransferError(types.ErrInvalidArgument, "probe", "", -1, err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, true, types.NewTransferError(types.ErrTransientNetwork, "probe", "", -1, err)
	}
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusMethodNotAllowed,
		resp.StatusCode == http.StatusNotImplemented:
		// HEAD rejected; probe with a one-byte range GET instead.
		return c.probeWithRangeGet(ctx, rawURL)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("probe: server error %d %s", resp.StatusCode, resp.Status)
	case resp.StatusCode >= 400:
		return nil, false, fmt.Errorf("probe: status %d %s", resp.StatusCode, resp.Status)
	}

	return &FileInfo{
		Size:          resp.ContentLength,
		Filename:      ExtractFilename(rawURL, resp.Header),
		AcceptsRanges: strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes"),
		ETag:          cleanETag(resp.Header.Get("ETag")),
		ContentType:   resp.Header.Get("Content-Type"),
	}, false, nil
}

// probeWithRangeGet requests bytes=0-0 and derives size and range
// support from the response.
func (c *Client) probeWithRangeGet(ctx context.Context, rawURL string) (*FileInfo, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Range", "bytes=0-0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, true, types.NewTransferError(types.ErrTransientNetwork, "probe", "", -1, err)
	}
	defer func() { _ = resp.Body.Close() }()
	// Drain the single byte so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2))

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("probe: server error %d %s", resp.StatusCode, resp.Status)
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("probe: status %d %s", resp.StatusCode, resp.Status)
	}

	info := &FileInfo{
		Filename:    ExtractFilename(rawURL, resp.Header),
		ETag:        cleanETag(resp.Header.Get("ETag")),
		ContentType: resp.Header.Get("Content-Type"),
	}

	if cr := resp.Header.Get("Content-Range"); cr != "" && resp.StatusCode == http.StatusPartialContent {
		_, _, total, err := ParseContentRange(cr)
		if err == nil {
			info.Size = total
			info.AcceptsRanges = true
		}
	} else {
		info.Size = resp.ContentLength
		info.AcceptsRanges = false
	}

	return info, false, nil
}

// GetRange performs a range request for [start, end] (both inclusive,
// matching the HTTP Range header). Single attempt; the caller owns
// retries.
func (c *Client) GetRange(ctx context.Context, rawURL string, start, end int64) (*RangeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, types.NewTransferError(types.ErrInvalidArgument, "range request", "", -1, err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	sent := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, types.NewTransferError(types.ErrTransientNetwork, "range request", "", -1, err)
	}
	rtt := time.Since(sent)

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		// expected
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		_ = resp.Body.Close()
		return nil, types.NewTransferError(types.ErrUnsupportedRange, "range request", "", -1,
			fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusOK:
		// 200 without Content-Range means the server ignored the Range
		// header and is streaming the whole resource.
		if resp.Header.Get("Content-Range") == "" {
			_ = resp.Body.Close()
			return nil, types.NewTransferError(types.ErrUnsupportedRange, "range request", "", -1,
				fmt.Errorf("server ignored range header"))
		}
	case resp.StatusCode >= 500:
		_ = resp.Body.Close()
		return nil, types.NewTransferError(types.ErrTransientNetwork, "range request", "", -1,
			fmt.Errorf("server error %d %s", resp.StatusCode, resp.Status))
	default:
		_ = resp.Body.Close()
		return nil, types.NewTransferError(types.ErrTransientNetwork, "range request", "", -1,
			fmt.Errorf("unexpected status %d %s", resp.StatusCode, resp.Status))
	}

	return &RangeResponse{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		RTT:           rtt,
	}, nil
}

// Get performs a sequential GET starting at offset. When offset > 0 it
// sends an open-ended Range header; the second return value reports
// whether the server honored it (206). A server answering 200 streams
// from byte zero and the caller must rewrite the destination.
func (c *Client) Get(ctx context.Context, rawURL string, offset int64) (io.ReadCloser, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, types.NewTransferError(types.ErrInvalidArgument, "get", "", -1, err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, false, types.NewTransferError(types.ErrTransientNetwork, "get", "", -1, err)
	}

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		return resp.Body, true, nil
	case resp.StatusCode == http.StatusOK:
		return resp.Body, false, nil
	case resp.StatusCode >= 500:
		_ = resp.Body.Close()
		return nil, false, types.NewTransferError(types.ErrTransientNetwork, "get", "", -1,
			fmt.Errorf("server error %d %s", resp.StatusCode, resp.Status))
	default:
		_ = resp.Body.Close()
		return nil, false, types.NewTransferError(types.ErrTransientNetwork, "get", "", -1,
			fmt.Errorf("unexpected status %d %s", resp.StatusCode, resp.Status))
	}
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	backoff := c.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	// Jitter: 0.5x to 1.5x of backoff.
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
		return nil
	}
}

// ExtractFilename derives the output filename from Content-Disposition,
// falling back to the last URL path segment, then to "download".
func ExtractFilename(rawURL string, headers http.Header) string {
	if cd := headers.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return path.Base(name)
			}
		}
	}

	if u, err := url.Parse(rawURL); err == nil {
		if name := path.Base(u.Path); name != "" && name != "/" && name != "." {
			return name
		}
	}

	return "download"
}

// ParseContentRange parses a Content-Range header value of the form
// "bytes start-end/total". Total is -1 when the server reports "*".
func ParseContentRange(header string) (start, end, total int64, err error) {
	header = strings.TrimPrefix(header, "bytes ")
	rangePart, totalPart, found := strings.Cut(header, "/")
	if !found {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", header)
	}

	if totalPart == "*" {
		total = -1
	} else if total, err = strconv.ParseInt(totalPart, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range total %q", totalPart)
	}

	startPart, endPart, found := strings.Cut(rangePart, "-")
	if !found {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range range %q", rangePart)
	}
	if start, err = strconv.ParseInt(startPart, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range start %q", startPart)
	}
	if end, err = strconv.ParseInt(endPart, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range end %q", endPart)
	}

	return start, end, total, nil
}

func cleanETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

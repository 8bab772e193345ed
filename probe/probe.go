// Package probe implements the health probe: lightweight round trips
// against the origin server that estimate latency and detect range
// support.
//
// RTT is smoothed with an exponential moving average so a single noisy
// sample cannot swing the decision engine. Loss rate is not derived
// here; probes cannot observe bulk-transfer loss, so the error rate
// comes from the coordinator's own request outcomes.
package probe

import (
	"context"
	"sync"
	"time"

	"github.com/AditthyaSS/Flux/fetch"
)

// DefaultSmoothing is the default EMA factor for RTT samples.
const DefaultSmoothing = 0.3

// Result is the outcome of one probe round trip.
type Result struct {
	// RTT is the smoothed round-trip estimate after this sample.
	RTT time.Duration
	// SupportsRanges reports whether the server honors range requests.
	SupportsRanges bool
	// Info is the resource metadata from the probe response.
	Info *fetch.FileInfo
}

// Prober issues probes against one server endpoint and maintains the
// smoothed RTT estimate. Safe for concurrent use.
type Prober struct {
	client *fetch.Client
	alpha  float64

	mu      sync.Mutex
	rtt     time.Duration
	samples int
}

// New creates a Prober. alpha outside (0, 1] falls back to
// DefaultSmoothing.
func New(client *fetch.Client, alpha float64) *Prober {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultSmoothing
	}
	return &Prober{client: client, alpha: alpha}
}

// Probe performs one metadata round trip and folds the observed RTT
// into the moving average.
func (p *Prober) Probe(ctx context.Context, url string) (Result, error) {
	start := time.Now()
	info, err := p.client.Head(ctx, url)
	if err != nil {
		return Result{}, err
	}
	observed := time.Since(start)

	return Result{
		RTT:            p.record(observed),
		SupportsRanges: info.AcceptsRanges,
		Info:           info,
	}, nil
}

// record folds one RTT sample into the EMA and returns the new estimate.
func (p *Prober) record(observed time.Duration) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.samples == 0 {
		p.rtt = observed
	} else {
		p.rtt = time.Duration(p.alpha*float64(observed) + (1-p.alpha)*float64(p.rtt))
	}
	p.samples++
	return p.rtt
}

// RTT returns the current smoothed round-trip estimate, or zero if no
// probe has completed yet.
func (p *Prober) RTT() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rtt
}

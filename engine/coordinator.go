// Package engine runs transfers: the coordinator drives the worker
// pool, retry budget, and adaptation loop for one task, and the
// manager owns the task queue and lifecycle above it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AditthyaSS/Flux/chunkstore"
	"github.com/AditthyaSS/Flux/config"
	"github.com/AditthyaSS/Flux/decision"
	"github.com/AditthyaSS/Flux/fetch"
	"github.com/AditthyaSS/Flux/iox"
	"github.com/AditthyaSS/Flux/log"
	"github.com/AditthyaSS/Flux/metrics"
	"github.com/AditthyaSS/Flux/probe"
	"github.com/AditthyaSS/Flux/types"
)

// PartialSuffix marks an in-progress destination file. The bare
// destination path only ever holds fully verified content.
const PartialSuffix = ".flux.partial"

// StateSuffix marks the chunk-map sidecar next to the partial file.
const StateSuffix = ".flux.state"

// copyBufSize is the per-worker read buffer.
const copyBufSize = 256 << 10

// InitialChunkSize scales the starting chunk size with the content
// length so small files do not start with a handful of oversized
// chunks and large files do not start with thousands of tiny ones.
func InitialChunkSize(totalSize int64) int64 {
	switch {
	case totalSize > 1<<30:
		return 16 << 20
	case totalSize > 100<<20:
		return 8 << 20
	default:
		return 1 << 20
	}
}

// Coordinator drives one task's transfer from probe to finalize. It is
// created per transfer attempt; pausing cancels the run context and a
// resume constructs a new Coordinator over the persisted chunk map.
type Coordinator struct {
	log     *log.Logger
	bus     *Bus
	client  *fetch.Client
	prober  *probe.Prober
	tracker *metrics.Tracker
	decider *decision.Engine
	tuning  config.TuningConfig
	persist func(types.Task) error

	taskMu sync.Mutex
	task   types.Task

	store *chunkstore.Store
	file  *os.File

	// Worker pool accounting. active tracks live workers; workers shed
	// themselves between chunks when active exceeds desired.
	poolMu  sync.Mutex
	active  int
	desired int
	wg      sync.WaitGroup

	failOnce sync.Once
	failErr  error
	failCh   chan struct{}
	doneCh   chan struct{}
}

// CoordinatorDeps bundles the collaborators a Coordinator needs.
type CoordinatorDeps struct {
	Log     *log.Logger
	Bus     *Bus
	Client  *fetch.Client
	Decider *decision.Engine
	Tuning  config.TuningConfig
	// Persist saves a task snapshot mid-run. Called after the probe
	// resolves the filename and sizing so the persisted row matches
	// the sidecar paths on disk. Optional.
	Persist func(types.Task) error
}

// NewCoordinator creates a coordinator for one task. The task value is
// copied; read it back with Task().
func NewCoordinator(task types.Task, deps CoordinatorDeps) *Coordinator {
	lg := deps.Log
	if lg == nil {
		lg = log.Nop()
	}
	return &Coordinator{
		log:     lg.WithTask(task.ID, task.URL),
		bus:     deps.Bus,
		client:  deps.Client,
		prober:  probe.New(deps.Client, deps.Tuning.RTTSmoothing),
		decider: deps.Decider,
		tuning:  deps.Tuning,
		persist: deps.Persist,
		task:    task,
		failCh:  make(chan struct{}),
		doneCh:  make(chan struct{}, 1),
	}
}

// Task returns a snapshot of the task as the coordinator sees it.
func (c *Coordinator) Task() types.Task {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()
	return c.task
}

// Metrics returns the live tracker, nil before the transfer starts.
func (c *Coordinator) Metrics() *metrics.Tracker {
	return c.tracker
}

// Chunks returns the chunk map snapshot, nil in sequential mode.
func (c *Coordinator) Chunks() []types.Chunk {
	if c.store == nil {
		return nil
	}
	return c.store.Chunks()
}

// Run executes the transfer to completion. It returns nil when the
// destination file is finalized, ctx.Err() when paused via context
// cancellation, and a classified error on failure. Run may be called
// once per Coordinator.
func (c *Coordinator) Run(ctx context.Context) error {
	res, err := c.prober.Probe(ctx, c.task.URL)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return types.NewTransferError(types.ErrTransientNetwork, "probe", c.task.ID, -1, err)
	}

	c.taskMu.Lock()
	c.task.TotalSize = res.Info.Size
	c.task.SupportsRanges = res.SupportsRanges && res.Info.Size > 0
	if c.task.Filename == "" {
		// Destination held only the directory until now.
		c.task.Filename = res.Info.Filename
		c.task.Destination = filepath.Join(c.task.Destination, c.task.Filename)
	}
	if c.task.ChunkSize <= 0 {
		c.task.ChunkSize = clampChunkSize(InitialChunkSize(res.Info.Size), c.tuning)
	}
	if c.task.Connections <= 0 {
		c.task.Connections = c.tuning.InitialConnections
	}
	task := c.task
	c.taskMu.Unlock()

	// Persist the resolved row before any file is opened so the
	// on-disk partial and sidecar paths always match the registry.
	if c.persist != nil {
		if err := c.persist(task); err != nil {
			c.log.Warn("persist resolved task", zap.Error(err))
		}
	}

	c.tracker = metrics.NewTracker(task.TotalSize, c.tuning.SpeedWindow, c.tuning.ErrorWindow)

	c.log.Info("probe complete",
		zap.Int64("size", task.TotalSize),
		zap.Bool("ranges", task.SupportsRanges),
		zap.Duration("rtt", res.RTT),
		zap.String("filename", task.Filename))

	if !task.SupportsRanges {
		c.pinSingleConnection()
		return c.runSequential(ctx)
	}
	return c.runChunked(ctx, task)
}

// pinSingleConnection records the fallback decision so the history
// explains why a transfer never parallelized.
func (c *Coordinator) pinSingleConnection() {
	c.taskMu.Lock()
	prev := c.task.Connections
	c.task.Connections = 1
	c.taskMu.Unlock()

	for _, rec := range c.decider.Evaluate(c.task.ID, decision.Inputs{
		Connections:    prev,
		SupportsRanges: false,
	}) {
		c.publishDecision(rec)
	}
}

func (c *Coordinator) runChunked(ctx context.Context, task types.Task) error {
	partial := task.Destination + PartialSuffix
	statePath := task.Destination + StateSuffix

	f, err := os.OpenFile(partial, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return types.NewTransferError(types.ClassifyIOErr(err), "open destination", task.ID, -1, err)
	}
	c.file = f
	defer iox.DiscardClose(f)

	if err := iox.Preallocate(f, task.TotalSize); err != nil {
		return types.NewTransferError(types.ClassifyIOErr(err), "preallocate", task.ID, -1, err)
	}

	store, resumed, err := chunkstore.LoadOrCreate(task.ID, statePath, partial, task.TotalSize, task.ChunkSize)
	if err != nil {
		return types.NewTransferError(types.ErrDestinationWrite, "load state", task.ID, -1, err)
	}
	c.store = store
	c.tracker.SetBytesDone(store.BytesDone())

	if resumed {
		c.log.Info("resuming from persisted state",
			zap.Int64("bytes_done", store.BytesDone()),
			zap.Int("pending", store.PendingCount()))
	}

	if store.AllDone() {
		return c.finalize(partial, statePath)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.setDesired(runCtx, task.Connections)

	evalTick := time.NewTicker(c.tuning.EvaluateInterval.Duration)
	defer evalTick.Stop()
	probeTick := time.NewTicker(c.tuning.ProbeInterval.Duration)
	defer probeTick.Stop()

	var prevSpeed float64
	for {
		select {
		case <-ctx.Done():
			cancel()
			c.wg.Wait()
			return ctx.Err()

		case <-c.failCh:
			cancel()
			c.wg.Wait()
			return c.failErr

		case <-c.doneCh:
			cancel()
			c.wg.Wait()
			return c.finalize(partial, statePath)

		case <-probeTick.C:
			if _, err := c.prober.Probe(runCtx, task.URL); err != nil && runCtx.Err() == nil {
				c.log.Warn("health probe failed", zap.Error(err))
			}

		case <-evalTick.C:
			prevSpeed = c.evaluate(runCtx, prevSpeed)
		}
	}
}

// evaluate publishes a speed update, runs the decision engine on the
// current metric snapshot, and applies any decisions. Returns the
// average speed for the next tick's headroom comparison.
func (c *Coordinator) evaluate(ctx context.Context, prevSpeed float64) float64 {
	snap := c.tracker.Snapshot()
	c.bus.Publish(c.task.ID, types.EventSpeedUpdate, types.SpeedUpdatePayload{
		Current:     snap.Speed.Current,
		Average:     snap.Speed.Average,
		Peak:        snap.Speed.Peak,
		ETASeconds:  snap.ETA.Remaining.Seconds(),
		ETAAccuracy: string(snap.ETA.Accuracy),
	})

	c.taskMu.Lock()
	in := decision.Inputs{
		RTT:            c.prober.RTT(),
		ErrorRate:      snap.ErrorRate,
		Stability:      snap.Stability,
		CurrentSpeed:   snap.Speed.Average,
		PreviousSpeed:  prevSpeed,
		Connections:    c.task.Connections,
		ChunkSize:      c.task.ChunkSize,
		SupportsRanges: c.task.SupportsRanges,
	}
	taskID := c.task.ID
	c.taskMu.Unlock()

	for _, rec := range c.decider.Evaluate(taskID, in) {
		c.apply(ctx, rec)
	}
	return snap.Speed.Average
}

// apply puts one decision into effect and publishes it.
func (c *Coordinator) apply(ctx context.Context, rec types.DecisionRecord) {
	switch rec.Dimension {
	case types.DimConnections:
		c.taskMu.Lock()
		c.task.Connections = int(rec.New)
		c.taskMu.Unlock()
		c.setDesired(ctx, int(rec.New))

	case types.DimChunkSize:
		c.taskMu.Lock()
		c.task.ChunkSize = rec.New
		c.taskMu.Unlock()
		if err := c.store.Repartition(rec.New); err != nil {
			c.log.Warn("repartition failed", zap.Error(err))
			return
		}
	}

	c.log.Info("decision applied",
		zap.String("dimension", string(rec.Dimension)),
		zap.Int64("previous", rec.Previous),
		zap.Int64("new", rec.New),
		zap.String("rationale", rec.Rationale))
	c.publishDecision(rec)
}

func (c *Coordinator) publishDecision(rec types.DecisionRecord) {
	c.bus.Publish(rec.TaskID, types.EventDecisionMade, rec)
}

// setDesired adjusts the worker pool target. Growth spawns workers
// immediately; shrink lets excess workers shed themselves at the next
// chunk boundary so no in-flight request is aborted.
func (c *Coordinator) setDesired(ctx context.Context, n int) {
	if n < 1 {
		n = 1
	}
	c.poolMu.Lock()
	defer c.poolMu.Unlock()

	c.desired = n
	for c.active < c.desired {
		c.active++
		c.wg.Add(1)
		go c.worker(ctx)
	}
}

// shedSlot reports whether the calling worker should exit to meet a
// reduced pool target, releasing its slot when so.
func (c *Coordinator) shedSlot() bool {
	c.poolMu.Lock()
	defer c.poolMu.Unlock()
	if c.active > c.desired {
		c.active--
		return true
	}
	return false
}

func (c *Coordinator) releaseSlot() {
	c.poolMu.Lock()
	c.active--
	c.poolMu.Unlock()
}

func (c *Coordinator) worker(ctx context.Context) {
	defer c.wg.Done()

	for {
		if ctx.Err() != nil {
			c.releaseSlot()
			return
		}
		if c.shedSlot() {
			return
		}

		chunk, ok := c.store.ClaimNextPending()
		if !ok {
			if c.store.AllDone() {
				c.signalDone()
				c.releaseSlot()
				return
			}
			// Other workers may release chunks back; idle briefly.
			select {
			case <-ctx.Done():
				c.releaseSlot()
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		if err := c.downloadChunk(ctx, chunk); err != nil {
			if ctx.Err() != nil {
				// Pause or shutdown aborted the request; not a retry.
				c.store.Release(chunk.Index, false)
				c.releaseSlot()
				return
			}
			if exit := c.handleChunkError(ctx, chunk, err); exit {
				c.releaseSlot()
				return
			}
			continue
		}

		if c.store.AllDone() {
			c.signalDone()
			c.releaseSlot()
			return
		}
	}
}

func (c *Coordinator) signalDone() {
	select {
	case c.doneCh <- struct{}{}:
	default:
	}
}

// handleChunkError applies the retry budget. Destination write errors
// fail the task immediately; transient errors release the chunk and
// back off, until the budget is spent and the task fails citing the
// chunk. Returns true when the calling worker should exit.
func (c *Coordinator) handleChunkError(ctx context.Context, chunk types.Chunk, err error) bool {
	if errors.Is(err, types.ErrDestinationWrite) {
		c.store.Release(chunk.Index, false)
		c.failTransfer(err)
		return true
	}

	retries := c.store.Retries(chunk.Index)
	if retries+1 >= c.tuning.RetryBudget {
		c.store.MarkFailed(chunk.Index)
		c.log.Error("chunk retries exhausted",
			zap.Int("chunk", chunk.Index),
			zap.Int64("start", chunk.Start),
			zap.Int64("end", chunk.End),
			zap.Error(err))
		c.failTransfer(types.NewTransferError(types.ErrPersistentChunk, "download chunk",
			c.task.ID, chunk.Index,
			fmt.Errorf("range %d-%d failed after %d attempts: %w", chunk.Start, chunk.End, retries+1, err)))
		return true
	}

	c.store.Release(chunk.Index, true)
	c.log.Warn("chunk attempt failed",
		zap.Int("chunk", chunk.Index),
		zap.Int("retries", retries+1),
		zap.Error(err))

	select {
	case <-ctx.Done():
		return true
	case <-time.After(backoff(c.tuning.RetryBackoff.Duration, retries)):
		return false
	}
}

// failTransfer records the first fatal error and wakes the run loop.
func (c *Coordinator) failTransfer(err error) {
	c.failOnce.Do(func() {
		c.failErr = err
		close(c.failCh)
	})
}

// downloadChunk fetches one chunk's byte range, writes it at its file
// offset, syncs, and marks it done. The sync-before-MarkDone ordering
// is the crash-consistency invariant.
func (c *Coordinator) downloadChunk(ctx context.Context, chunk types.Chunk) error {
	c.tracker.RecordRequested(chunk.Length())
	started := time.Now()

	resp, err := c.client.GetRange(ctx, c.task.URL, chunk.Start, chunk.End-1)
	if err != nil {
		c.tracker.RecordSample(0, time.Since(started), false)
		return err
	}
	defer iox.DiscardClose(resp.Body)

	buf := make([]byte, copyBufSize)
	off := chunk.Start
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := c.file.WriteAt(buf[:n], off); werr != nil {
				c.tracker.RecordSample(0, time.Since(started), false)
				return types.NewTransferError(types.ClassifyIOErr(werr), "write",
					c.task.ID, chunk.Index, werr)
			}
			off += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			c.tracker.RecordSample(off-chunk.Start, time.Since(started), false)
			return types.NewTransferError(types.ErrTransientNetwork, "read body",
				c.task.ID, chunk.Index, rerr)
		}
	}

	if got := off - chunk.Start; got != chunk.Length() {
		c.tracker.RecordSample(got, time.Since(started), false)
		return types.NewTransferError(types.ErrTransientNetwork, "read body",
			c.task.ID, chunk.Index,
			fmt.Errorf("short body: got %d bytes, want %d", got, chunk.Length()))
	}

	if err := c.file.Sync(); err != nil {
		return types.NewTransferError(types.ClassifyIOErr(err), "sync",
			c.task.ID, chunk.Index, err)
	}
	if err := c.store.MarkDone(chunk.Index, chunk.Length()); err != nil {
		return types.NewTransferError(types.ErrDestinationWrite, "persist state",
			c.task.ID, chunk.Index, err)
	}

	c.tracker.RecordSample(chunk.Length(), time.Since(started), true)
	c.tracker.RecordUseful(chunk.Length())

	c.bus.Publish(c.task.ID, types.EventChunkProgress, types.ChunkProgressPayload{
		ChunkIndex: chunk.Index,
		BytesDelta: chunk.Length(),
		BytesDone:  c.store.BytesDone(),
		TotalSize:  c.store.TotalSize(),
	})
	return nil
}

// runSequential streams the resource over a single connection for
// servers that do not honor range requests. There is no chunk map, so
// an interruption restarts the stream, resuming at the written offset
// only when the server honors an open-ended range on the retry.
func (c *Coordinator) runSequential(ctx context.Context) error {
	c.taskMu.Lock()
	task := c.task
	c.taskMu.Unlock()

	partial := task.Destination + PartialSuffix
	f, err := os.OpenFile(partial, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return types.NewTransferError(types.ClassifyIOErr(err), "open destination", task.ID, -1, err)
	}
	c.file = f
	defer iox.DiscardClose(f)

	// A leftover partial from an interrupted run is the resume point:
	// the first attempt asks for an open-ended range at its length.
	var written int64
	if info, err := f.Stat(); err == nil {
		written = info.Size()
	}
	if task.TotalSize > 0 && written >= task.TotalSize {
		// Cannot be a valid resume point; start over.
		if err := f.Truncate(0); err != nil {
			return types.NewTransferError(types.ClassifyIOErr(err), "truncate", task.ID, -1, err)
		}
		written = 0
	}
	if written > 0 {
		c.tracker.SetBytesDone(written)
		c.log.Info("resuming sequential transfer", zap.Int64("offset", written))
	}

	var lastErr error
	for attempt := 0; attempt < c.tuning.RetryBudget; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(c.tuning.RetryBackoff.Duration, attempt-1)):
			}
		}

		n, err := c.streamOnce(ctx, task, f, written)
		written = n
		if err == nil {
			statePath := task.Destination + StateSuffix
			return c.finalize(partial, statePath)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, types.ErrDestinationWrite) {
			return err
		}
		lastErr = err
		c.log.Warn("sequential attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int64("written", written),
			zap.Error(err))
	}

	return types.NewTransferError(types.ErrPersistentChunk, "sequential download",
		task.ID, -1,
		fmt.Errorf("failed after %d attempts: %w", c.tuning.RetryBudget, lastErr))
}

// streamOnce performs one sequential attempt, resuming at offset when
// the server honors the range. Returns the total bytes durably written
// from offset zero.
func (c *Coordinator) streamOnce(ctx context.Context, task types.Task, f *os.File, offset int64) (int64, error) {
	body, honored, err := c.client.Get(ctx, task.URL, offset)
	if err != nil {
		c.tracker.RecordSample(0, time.Millisecond, false)
		return offset, err
	}
	defer iox.DiscardClose(body)

	if offset > 0 && !honored {
		// Server restarted the stream from zero; drop the stale partial.
		if err := f.Truncate(0); err != nil {
			return 0, types.NewTransferError(types.ClassifyIOErr(err), "truncate", task.ID, -1, err)
		}
		offset = 0
		c.tracker.SetBytesDone(0)
	}

	buf := make([]byte, copyBufSize)
	off := offset
	lastSample := time.Now()
	sampleBytes := int64(0)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := f.WriteAt(buf[:n], off); werr != nil {
				return off, types.NewTransferError(types.ClassifyIOErr(werr), "write",
					task.ID, -1, werr)
			}
			off += int64(n)
			sampleBytes += int64(n)

			if since := time.Since(lastSample); since >= time.Second {
				c.tracker.RecordSample(sampleBytes, since, true)
				c.bus.Publish(task.ID, types.EventChunkProgress, types.ChunkProgressPayload{
					ChunkIndex: 0,
					BytesDelta: sampleBytes,
					BytesDone:  off,
					TotalSize:  task.TotalSize,
				})
				lastSample = time.Now()
				sampleBytes = 0
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return off, types.NewTransferError(types.ErrTransientNetwork, "read body",
				task.ID, -1, rerr)
		}
	}

	if task.TotalSize > 0 && off != task.TotalSize {
		return off, types.NewTransferError(types.ErrTransientNetwork, "read body",
			task.ID, -1,
			fmt.Errorf("short body: got %d bytes, want %d", off, task.TotalSize))
	}

	if err := f.Sync(); err != nil {
		return off, types.NewTransferError(types.ClassifyIOErr(err), "sync", task.ID, -1, err)
	}
	if sampleBytes > 0 {
		c.tracker.RecordSample(sampleBytes, time.Since(lastSample), true)
	}
	c.tracker.SetBytesDone(off)
	c.tracker.RecordRequested(off)
	c.tracker.RecordUseful(off)
	return off, nil
}

// finalize promotes the partial file to the destination path and
// removes the state sidecar. The rename is the atomic commit point.
func (c *Coordinator) finalize(partial, statePath string) error {
	if c.file != nil {
		if err := c.file.Sync(); err != nil {
			return types.NewTransferError(types.ClassifyIOErr(err), "sync", c.task.ID, -1, err)
		}
	}

	c.taskMu.Lock()
	dest := c.task.Destination
	c.taskMu.Unlock()

	if err := os.Rename(partial, dest); err != nil {
		return types.NewTransferError(types.ClassifyIOErr(err), "finalize", c.task.ID, -1, err)
	}
	if c.store != nil {
		if err := c.store.Remove(); err != nil {
			c.log.Warn("remove state sidecar", zap.Error(err))
		}
	} else {
		_ = os.Remove(statePath)
	}

	c.log.Info("transfer complete", zap.String("path", dest))
	return nil
}

func clampChunkSize(size int64, t config.TuningConfig) int64 {
	if size < t.MinChunkSize {
		return t.MinChunkSize
	}
	if size > t.MaxChunkSize {
		return t.MaxChunkSize
	}
	return size
}

// backoff returns the exponential backoff delay for the given retry
// count, with 0.5x to 1.5x jitter.
func backoff(base time.Duration, retries int) time.Duration {
	d := base * time.Duration(1<<uint(retries))
	return time.Duration(float64(d) * (0.5 + rand.Float64()))
}

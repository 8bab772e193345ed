package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AditthyaSS/Flux/adapter"
	redisadapter "github.com/AditthyaSS/Flux/adapter/redis"
	"github.com/AditthyaSS/Flux/adapter/webhook"
	"github.com/AditthyaSS/Flux/config"
	"github.com/AditthyaSS/Flux/decision"
	"github.com/AditthyaSS/Flux/fetch"
	"github.com/AditthyaSS/Flux/log"
	"github.com/AditthyaSS/Flux/metrics"
	"github.com/AditthyaSS/Flux/store"
	"github.com/AditthyaSS/Flux/types"
)

// TaskDetail is the full inspection view of one task: the task row,
// the live chunk map, the metric snapshot, and the decision history.
type TaskDetail struct {
	Task      types.Task             `json:"task"`
	Chunks    []types.Chunk          `json:"chunks,omitempty"`
	Metrics   *metrics.Snapshot      `json:"metrics,omitempty"`
	Decisions []types.DecisionRecord `json:"decisions,omitempty"`
}

// Manager owns the task queue: it bounds concurrent transfers, drives
// lifecycle transitions, persists tasks to the registry, and forwards
// terminal events to the configured adapter.
type Manager struct {
	cfg      *config.Config
	log      *log.Logger
	bus      *Bus
	client   *fetch.Client
	decider  *decision.Engine
	registry *store.Store
	adapter  adapter.Adapter

	mu      sync.Mutex
	handles map[string]*handle
	closed  bool
}

// handle tracks one running (or most recently run) transfer.
type handle struct {
	coord  *Coordinator
	cancel context.CancelFunc
	done   chan struct{}
	err    error // valid after done is closed
}

// NewManager creates a manager over the given registry. Construction
// never mutates persisted rows; a process that owns transfers calls
// RecoverInterrupted once after construction.
func NewManager(cfg *config.Config, lg *log.Logger, registry *store.Store) (*Manager, error) {
	if lg == nil {
		lg = log.Nop()
	}

	client := fetch.NewClient(fetch.Options{
		Timeout:             cfg.HTTP.Timeout.Duration,
		ProbeRetries:        cfg.HTTP.ProbeRetries,
		RetryBackoff:        cfg.Tuning.RetryBackoff.Duration,
		MaxIdleConnsPerHost: cfg.HTTP.MaxIdleConnsPerHost,
		UserAgent:           cfg.HTTP.UserAgent,
	})

	m := &Manager{
		cfg:      cfg,
		log:      lg,
		bus:      NewBus(),
		client:   client,
		decider:  decision.New(cfg.Tuning),
		registry: registry,
		handles:  make(map[string]*handle),
	}

	if cfg.Adapter.Type != "" {
		a, err := buildAdapter(cfg.Adapter)
		if err != nil {
			return nil, fmt.Errorf("configure adapter: %w", err)
		}
		m.adapter = a
	}

	return m, nil
}

// RecoverInterrupted demotes tasks a dead process left Active to
// Paused so their persisted chunk maps can be resumed explicitly.
// Only the process that owns transfers may call this; a read-only
// command sharing the registry with a live daemon would otherwise
// demote that daemon's running tasks.
func (m *Manager) RecoverInterrupted() error {
	tasks, err := m.registry.List()
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	for _, task := range tasks {
		if task.Status != types.StatusActive {
			continue
		}
		task.Status = types.StatusPaused
		if err := m.registry.Save(task); err != nil {
			return fmt.Errorf("normalize task %s: %w", task.ID, err)
		}
		m.log.Info("recovered interrupted task",
			zap.String("task_id", task.ID),
			zap.String("url", task.URL))
	}
	return nil
}

// buildAdapter constructs the configured terminal-event adapter.
func buildAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	retries := -1
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}

	switch cfg.Type {
	case "webhook":
		wc := webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
		}
		if retries >= 0 {
			wc.Retries = retries
		} else {
			wc.Retries = webhook.DefaultRetries
		}
		return webhook.New(wc)
	case "redis":
		rc := redisadapter.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
		}
		if retries >= 0 {
			rc.Retries = retries
		} else {
			rc.Retries = redisadapter.DefaultRetries
		}
		return redisadapter.New(rc)
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Type)
	}
}

// Bus returns the engine event stream.
func (m *Manager) Bus() *Bus { return m.bus }

// AddRequest describes a new download. Destination fields are optional
// and default from configuration and probe metadata.
type AddRequest struct {
	URL      string
	Dir      string // destination directory, default config download_dir
	Filename string // output filename, default derived from the response
}

// Add validates and enqueues a new task. With auto-start enabled the
// task begins transferring immediately if the active slot cap allows;
// otherwise it waits in Queued order.
func (m *Manager) Add(req AddRequest) (types.Task, error) {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return types.Task{}, types.NewTransferError(types.ErrInvalidArgument, "add task", "", -1,
			fmt.Errorf("unsupported url %q", req.URL))
	}

	dir := req.Dir
	if dir == "" {
		dir = m.cfg.DownloadDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.Task{}, types.NewTransferError(types.ErrDestinationWrite, "add task", "", -1, err)
	}

	// Without an explicit filename the destination stays at the
	// directory; the coordinator resolves the final path from the
	// probe response (Content-Disposition, then the URL path).
	dest := dir
	if req.Filename != "" {
		dest = filepath.Join(dir, req.Filename)
	}

	task := types.Task{
		ID:          uuid.NewString(),
		URL:         req.URL,
		Destination: dest,
		Filename:    req.Filename,
		Status:      types.StatusQueued,
		Connections: m.cfg.Tuning.InitialConnections,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.registry.Save(task); err != nil {
		return types.Task{}, fmt.Errorf("persist task: %w", err)
	}

	m.bus.Publish(task.ID, types.EventTaskAdded, types.TaskAddedPayload{
		URL:      task.URL,
		Filename: task.Filename,
		Dest:     task.Destination,
	})
	m.log.Info("task added",
		zap.String("task_id", task.ID),
		zap.String("url", task.URL),
		zap.String("dest", task.Destination))

	if m.cfg.AutoStart == nil || *m.cfg.AutoStart {
		m.mu.Lock()
		m.promoteLocked()
		m.mu.Unlock()
	}
	return m.registryGet(task.ID)
}

func (m *Manager) registryGet(id string) (types.Task, error) {
	return m.registry.Get(id)
}

// Start moves a Queued, Paused, or Failed task toward Active. Failed
// tasks restart with a fresh chunk map. When the active cap is
// reached the task stays Queued and is promoted when a slot frees.
func (m *Manager) Start(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, err := m.registry.Get(id)
	if err != nil {
		return err
	}

	switch task.Status {
	case types.StatusActive:
		return nil
	case types.StatusCompleted:
		return types.NewTransferError(types.ErrInvalidArgument, "start task", id, -1,
			errors.New("task already completed"))
	case types.StatusFailed:
		// Restart discards the old chunk map so the retry begins clean.
		_ = os.Remove(task.Destination + StateSuffix)
		_ = os.Remove(task.Destination + PartialSuffix)
		task.Error = ""
		task.TotalSize = 0
		task.ChunkSize = 0
	}

	m.setStatusLocked(&task, types.StatusQueued)
	if err := m.registry.Save(task); err != nil {
		return err
	}
	m.promoteLocked()
	return nil
}

// promoteLocked starts Queued tasks while active slots remain.
// Caller must hold m.mu.
func (m *Manager) promoteLocked() {
	if m.closed {
		return
	}

	active := 0
	for _, h := range m.handles {
		select {
		case <-h.done:
		default:
			active++
		}
	}

	queued, err := m.registry.ListByStatus(types.StatusQueued)
	if err != nil {
		m.log.Error("list queued tasks", zap.Error(err))
		return
	}

	for _, task := range queued {
		if active >= m.cfg.MaxActiveTasks {
			return
		}
		m.launchLocked(task)
		active++
	}
}

// launchLocked starts the transfer goroutine for one task.
// Caller must hold m.mu.
func (m *Manager) launchLocked(task types.Task) {
	m.setStatusLocked(&task, types.StatusActive)
	if err := m.registry.Save(task); err != nil {
		m.log.Error("persist task", zap.String("task_id", task.ID), zap.Error(err))
		return
	}

	coord := NewCoordinator(task, CoordinatorDeps{
		Log:     m.log,
		Bus:     m.bus,
		Client:  m.client,
		Decider: m.decider,
		Tuning:  m.cfg.Tuning,
		Persist: m.registry.Save,
	})

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{coord: coord, cancel: cancel, done: make(chan struct{})}
	m.handles[task.ID] = h

	go func() {
		err := coord.Run(ctx)
		m.finish(h, err)
	}()
}

// finish records a transfer outcome, persists the final task state,
// publishes the terminal or pause transition, and promotes the queue.
func (m *Manager) finish(h *handle, err error) {
	task := h.coord.Task()

	m.mu.Lock()
	switch {
	case err == nil:
		m.setStatusLocked(&task, types.StatusCompleted)
	case errors.Is(err, context.Canceled):
		m.setStatusLocked(&task, types.StatusPaused)
	default:
		task.Error = err.Error()
		m.setStatusLocked(&task, types.StatusFailed)
	}
	if saveErr := m.registry.Save(task); saveErr != nil {
		m.log.Error("persist task", zap.String("task_id", task.ID), zap.Error(saveErr))
	}
	h.err = err
	close(h.done)
	m.promoteLocked()
	m.mu.Unlock()

	switch task.Status {
	case types.StatusCompleted:
		var elapsed time.Duration
		if !task.CreatedAt.IsZero() {
			elapsed = time.Since(task.CreatedAt)
		}
		m.bus.Publish(task.ID, types.EventTaskCompleted, types.TaskCompletedPayload{
			Path:       task.Destination,
			Size:       task.TotalSize,
			Duration:   elapsed,
			BytesTotal: task.TotalSize,
		})
		m.forward(task)
	case types.StatusFailed:
		payload := types.TaskFailedPayload{Reason: task.Error, ChunkIndex: -1}
		var terr *types.TransferError
		if errors.As(err, &terr) {
			payload.ChunkIndex = terr.Chunk
		}
		payload.Attempts = m.cfg.Tuning.RetryBudget
		m.bus.Publish(task.ID, types.EventTaskFailed, payload)
		m.forward(task)
	}
}

// forward pushes a terminal event to the configured adapter. Adapter
// failures are logged, never propagated; the transfer outcome stands.
func (m *Manager) forward(task types.Task) {
	if m.adapter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.adapter.Publish(ctx, adapter.FromTask(task)); err != nil {
		m.log.Warn("adapter publish failed",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
}

// setStatusLocked updates a task's status and publishes the transition.
// Caller must hold m.mu.
func (m *Manager) setStatusLocked(task *types.Task, next types.TaskStatus) {
	if task.Status == next {
		return
	}
	old := task.Status
	task.Status = next
	m.bus.Publish(task.ID, types.EventTaskStatusChanged, types.StatusChangedPayload{
		Old: old,
		New: next,
	})
}

// Pause stops an Active task, preserving its chunk map for resume, or
// parks a Queued task. In-flight chunk requests are aborted and their
// chunks return to Pending without consuming retry budget.
func (m *Manager) Pause(id string) error {
	m.mu.Lock()
	task, err := m.registry.Get(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	switch task.Status {
	case types.StatusQueued:
		m.setStatusLocked(&task, types.StatusPaused)
		err := m.registry.Save(task)
		m.mu.Unlock()
		return err
	case types.StatusActive:
		h := m.handles[id]
		m.mu.Unlock()
		if h == nil {
			return nil
		}
		h.cancel()
		<-h.done
		return nil
	default:
		m.mu.Unlock()
		return types.NewTransferError(types.ErrInvalidArgument, "pause task", id, -1,
			fmt.Errorf("cannot pause %s task", task.Status))
	}
}

// Resume restarts a Paused task from its persisted chunk map.
func (m *Manager) Resume(id string) error {
	return m.Start(id)
}

// Delete removes a task. Active tasks are paused first. With purge set
// the partial file, state sidecar, and any completed download are
// removed from disk.
func (m *Manager) Delete(id string, purge bool) error {
	task, err := m.registry.Get(id)
	if err != nil {
		return err
	}

	if task.Status == types.StatusActive {
		if err := m.Pause(id); err != nil {
			return err
		}
		task, err = m.registry.Get(id)
		if err != nil {
			return err
		}
	}

	m.mu.Lock()
	delete(m.handles, id)
	err = m.registry.Delete(id)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if purge {
		_ = os.Remove(task.Destination + PartialSuffix)
		_ = os.Remove(task.Destination + StateSuffix)
		if task.Status == types.StatusCompleted {
			_ = os.Remove(task.Destination)
		}
	}
	m.log.Info("task deleted", zap.String("task_id", id), zap.Bool("purge", purge))
	return nil
}

// Get returns the current task state, live when a transfer is running.
func (m *Manager) Get(id string) (types.Task, error) {
	m.mu.Lock()
	h := m.handles[id]
	m.mu.Unlock()

	task, err := m.registry.Get(id)
	if err != nil {
		return types.Task{}, err
	}
	if h != nil && task.Status == types.StatusActive {
		live := h.coord.Task()
		live.Status = task.Status
		return live, nil
	}
	return task, nil
}

// List returns all tasks in creation order, with live state for
// active transfers.
func (m *Manager) List() ([]types.Task, error) {
	tasks, err := m.registry.List()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	for i, task := range tasks {
		if h, ok := m.handles[task.ID]; ok && task.Status == types.StatusActive {
			live := h.coord.Task()
			live.Status = task.Status
			tasks[i] = live
		}
	}
	m.mu.Unlock()
	return tasks, nil
}

// Detail returns the full inspection view of one task.
func (m *Manager) Detail(id string) (TaskDetail, error) {
	task, err := m.Get(id)
	if err != nil {
		return TaskDetail{}, err
	}

	detail := TaskDetail{
		Task:      task,
		Decisions: m.decider.Records(id),
	}

	m.mu.Lock()
	h := m.handles[id]
	m.mu.Unlock()
	if h != nil {
		detail.Chunks = h.coord.Chunks()
		if tr := h.coord.Metrics(); tr != nil {
			snap := tr.Snapshot()
			detail.Metrics = &snap
		}
	}
	return detail, nil
}

// Decisions returns the decision history for a task.
func (m *Manager) Decisions(id string) ([]types.DecisionRecord, error) {
	if _, err := m.registry.Get(id); err != nil {
		return nil, err
	}
	return m.decider.Records(id), nil
}

// Wait blocks until the task's current run finishes and returns its
// outcome: nil for completion, the classified error for failure.
func (m *Manager) Wait(ctx context.Context, id string) error {
	for {
		m.mu.Lock()
		h := m.handles[id]
		m.mu.Unlock()

		if h == nil {
			task, err := m.registry.Get(id)
			if err != nil {
				return err
			}
			switch task.Status {
			case types.StatusCompleted:
				return nil
			case types.StatusFailed:
				return types.NewTransferError(types.ErrPersistentChunk, "transfer", id, -1,
					errors.New(task.Error))
			default:
				// Queued behind the active cap; poll for promotion.
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(100 * time.Millisecond):
					continue
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.done:
			task, err := m.registry.Get(id)
			if err != nil {
				return err
			}
			switch task.Status {
			case types.StatusCompleted:
				return nil
			case types.StatusQueued, types.StatusActive:
				// Restarted; keep waiting on the new handle.
				continue
			default:
				return h.err
			}
		}
	}
}

// Close pauses all active transfers and releases resources. Persisted
// state lets every paused task resume in a later process.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var running []*handle
	for _, h := range m.handles {
		select {
		case <-h.done:
		default:
			running = append(running, h)
		}
	}
	m.mu.Unlock()

	for _, h := range running {
		h.cancel()
	}
	for _, h := range running {
		<-h.done
	}

	if m.adapter != nil {
		_ = m.adapter.Close()
	}
	return nil
}

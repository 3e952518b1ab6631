package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/closet-scraper/internal/queue"
	"github.com/maltedev/closet-scraper/internal/scraper"
	"github.com/maltedev/closet-scraper/internal/summary"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunFinished = errors.New("run already finished")
	ErrNoReport    = errors.New("run has no report yet")
)

// Executor performs one run. *Runner is the production implementation.
type Executor interface {
	Execute(ctx context.Context, req Request, progress scraper.ProgressFunc) (*Report, error)
}

// Run is the externally visible state of a submitted run.
type Run struct {
	ID          string            `json:"id"`
	ListingURL  string            `json:"listing_url"`
	TargetCount int               `json:"target_count"`
	Mode        string            `json:"mode,omitempty"`
	Fetch       string            `json:"fetch,omitempty"`
	Format      string            `json:"format,omitempty"`
	Status      string            `json:"status"`
	Done        int               `json:"done"`
	Total       int               `json:"total"`
	Discovered  int               `json:"discovered"`
	Products    int               `json:"products"`
	OutputPath  string            `json:"output_path,omitempty"`
	Summary     *summary.Snapshot `json:"summary,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Error       string            `json:"error,omitempty"`
}

func (r *Run) finished() bool {
	switch r.Status {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Manager queues runs and executes them one at a time on a worker.
type Manager struct {
	queue  queue.Queue
	exec   Executor
	logger *slog.Logger

	mu      sync.RWMutex
	runs    map[string]*Run
	reports map[string]*Report
	cancels map[string]context.CancelFunc
}

func NewManager(q queue.Queue, exec Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		queue:   q,
		exec:    exec,
		logger:  logger.With("component", "run_manager"),
		runs:    make(map[string]*Run),
		reports: make(map[string]*Report),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Submit registers a run and queues it.
func (m *Manager) Submit(req Request, priority int) (*Run, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	run := &Run{
		ID:          req.ID,
		ListingURL:  req.ListingURL,
		TargetCount: req.TargetCount,
		Mode:        req.Mode,
		Fetch:       req.Fetch,
		Format:      req.Format,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}

	m.mu.Lock()
	if _, exists := m.runs[run.ID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("run %s already exists", run.ID)
	}
	m.runs[run.ID] = run
	m.mu.Unlock()

	err := m.queue.Push(&queue.Task{
		ID:          req.ID,
		ListingURL:  req.ListingURL,
		TargetCount: req.TargetCount,
		Mode:        req.Mode,
		Fetch:       req.Fetch,
		Format:      req.Format,
		Priority:    priority,
		CreatedAt:   run.CreatedAt,
	})
	if err != nil {
		m.mu.Lock()
		delete(m.runs, run.ID)
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to queue run: %w", err)
	}

	m.logger.Info("run submitted", "id", run.ID, "url", run.ListingURL, "target", run.TargetCount)
	return m.Get(run.ID)
}

func (m *Manager) Get(id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, exists := m.runs[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	cp := *run
	return &cp, nil
}

// List returns all runs, newest first.
func (m *Manager) List() []*Run {
	m.mu.RLock()
	runs := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		cp := *run
		runs = append(runs, &cp)
	}
	m.mu.RUnlock()

	slices.SortFunc(runs, func(a, b *Run) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return runs
}

func (m *Manager) Report(id string) (*Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, exists := m.runs[id]; !exists {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	report, ok := m.reports[id]
	if !ok {
		return nil, ErrNoReport
	}
	return report, nil
}

// Cancel stops a running run or drops a pending one before it starts.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, exists := m.runs[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if run.finished() {
		return ErrRunFinished
	}

	if cancel, ok := m.cancels[id]; ok {
		cancel()
		m.logger.Info("cancelling running run", "id", id)
		return nil
	}

	now := time.Now()
	run.Status = StatusCancelled
	run.CompletedAt = &now
	m.logger.Info("cancelled pending run", "id", id)
	return nil
}

// StartWorker processes queued runs until ctx ends or the queue closes.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("run worker started")

	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
				m.logger.Info("run worker stopping")
				return
			}
			m.logger.Error("failed to pop run", "error", err)
			continue
		}
		m.process(ctx, task)
	}
}

func (m *Manager) process(ctx context.Context, task *queue.Task) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	run, exists := m.runs[task.ID]
	if !exists || run.Status != StatusPending {
		m.mu.Unlock()
		m.logger.Debug("skipping run", "id", task.ID)
		return
	}
	now := time.Now()
	run.Status = StatusRunning
	run.StartedAt = &now
	m.cancels[task.ID] = cancel
	m.mu.Unlock()

	m.logger.Info("processing run", "id", task.ID, "url", task.ListingURL)

	req := Request{
		ID:          task.ID,
		ListingURL:  task.ListingURL,
		TargetCount: task.TargetCount,
		Mode:        task.Mode,
		Fetch:       task.Fetch,
		Format:      task.Format,
	}
	report, err := m.exec.Execute(runCtx, req, func(done, total int) {
		m.progress(task.ID, done, total)
	})

	m.finish(task.ID, report, err, runCtx.Err() != nil)
}

// progress records a run's progress. Parallel workers report out of order,
// so Done never moves backwards.
func (m *Manager) progress(id string, done, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return
	}
	r.Total = total
	if done > r.Done {
		r.Done = done
	}
}

func (m *Manager) finish(id string, report *Report, err error, cancelled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.cancels, id)
	run := m.runs[id]
	now := time.Now()
	run.CompletedAt = &now

	if report != nil {
		m.reports[id] = report
		run.Discovered = report.Discovered
		run.OutputPath = report.OutputPath
		if report.Result != nil {
			snap := report.Result.Summary
			run.Summary = &snap
			run.Products = len(report.Result.Products)
			run.Total = snap.Total
		}
	}

	switch {
	case cancelled:
		run.Status = StatusCancelled
	case err != nil:
		run.Status = StatusFailed
	default:
		run.Status = StatusCompleted
	}
	if err != nil {
		run.Error = err.Error()
	}

	m.logger.Info("run finished", "id", id, "status", run.Status, "products", run.Products, "error", run.Error)
}

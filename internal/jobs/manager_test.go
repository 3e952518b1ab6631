package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maltedev/closet-scraper/internal/models"
	"github.com/maltedev/closet-scraper/internal/queue"
	"github.com/maltedev/closet-scraper/internal/scraper"
	"github.com/maltedev/closet-scraper/internal/summary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor reports progress for two items, optionally blocking until
// release is closed or the run is cancelled.
type fakeExecutor struct {
	release chan struct{}
	started chan string
	err     error
}

func (f *fakeExecutor) Execute(ctx context.Context, req Request, progress scraper.ProgressFunc) (*Report, error) {
	if f.started != nil {
		f.started <- req.ID
	}
	progress(1, 2)

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return &Report{RunID: req.ID, SourceURL: req.ListingURL}, ctx.Err()
		}
	}
	progress(2, 2)

	if f.err != nil {
		return nil, f.err
	}
	return &Report{
		RunID:      req.ID,
		SourceURL:  req.ListingURL,
		Discovered: 2,
		OutputPath: "/tmp/out.json",
		Result: &scraper.Result{
			Products: []*models.Product{{Title: "a"}, {Title: "b"}},
			Summary:  summary.Snapshot{Total: 2, Succeeded: 2},
		},
	}, nil
}

func startManager(t *testing.T, exec Executor) *Manager {
	t.Helper()
	m := NewManager(queue.NewInMemoryQueue(10), exec, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.StartWorker(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m
}

func waitForStatus(t *testing.T, m *Manager, id, status string) *Run {
	t.Helper()
	var run *Run
	require.Eventually(t, func() bool {
		var err error
		run, err = m.Get(id)
		return err == nil && run.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return run
}

func TestManager_RunCompletes(t *testing.T) {
	m := startManager(t, &fakeExecutor{})

	run, err := m.Submit(Request{ListingURL: closetURL, TargetCount: 2}, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)

	done := waitForStatus(t, m, run.ID, StatusCompleted)
	assert.Equal(t, 2, done.Done)
	assert.Equal(t, 2, done.Total)
	assert.Equal(t, 2, done.Products)
	assert.Equal(t, "/tmp/out.json", done.OutputPath)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.Summary)
	assert.Equal(t, 2, done.Summary.Succeeded)

	report, err := m.Report(run.ID)
	require.NoError(t, err)
	assert.Equal(t, closetURL, report.SourceURL)
}

func TestManager_ProgressNeverMovesBackwards(t *testing.T) {
	m := NewManager(queue.NewInMemoryQueue(10), &fakeExecutor{}, quietLogger())
	run, err := m.Submit(Request{ListingURL: closetURL}, 0)
	require.NoError(t, err)

	m.progress(run.ID, 4, 5)
	m.progress(run.ID, 2, 5)

	got, err := m.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Done)
	assert.Equal(t, 5, got.Total)

	m.progress(run.ID, 5, 5)
	got, err = m.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Done)

	m.progress("missing", 1, 1)
}

func TestManager_RunFails(t *testing.T) {
	m := startManager(t, &fakeExecutor{err: errors.New("listing never became ready")})

	run, err := m.Submit(Request{ListingURL: closetURL}, 0)
	require.NoError(t, err)

	failed := waitForStatus(t, m, run.ID, StatusFailed)
	assert.Equal(t, "listing never became ready", failed.Error)

	_, err = m.Report(run.ID)
	assert.ErrorIs(t, err, ErrNoReport)
}

func TestManager_CancelRunning(t *testing.T) {
	exec := &fakeExecutor{release: make(chan struct{}), started: make(chan string, 1)}
	m := startManager(t, exec)

	run, err := m.Submit(Request{ListingURL: closetURL}, 0)
	require.NoError(t, err)
	<-exec.started

	waitForStatus(t, m, run.ID, StatusRunning)
	require.NoError(t, m.Cancel(run.ID))

	cancelled := waitForStatus(t, m, run.ID, StatusCancelled)
	assert.Equal(t, 1, cancelled.Done)
	assert.ErrorIs(t, m.Cancel(run.ID), ErrRunFinished)
}

func TestManager_CancelPendingSkipsExecution(t *testing.T) {
	exec := &fakeExecutor{release: make(chan struct{}), started: make(chan string, 2)}
	m := startManager(t, exec)

	first, err := m.Submit(Request{ListingURL: closetURL}, 0)
	require.NoError(t, err)
	<-exec.started

	second, err := m.Submit(Request{ListingURL: closetURL}, 0)
	require.NoError(t, err)
	require.NoError(t, m.Cancel(second.ID))

	close(exec.release)
	waitForStatus(t, m, first.ID, StatusCompleted)

	got, err := m.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Nil(t, got.StartedAt)

	select {
	case id := <-exec.started:
		t.Fatalf("cancelled run %s was executed", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_ListNewestFirst(t *testing.T) {
	m := NewManager(queue.NewInMemoryQueue(0), &fakeExecutor{}, quietLogger())

	a, err := m.Submit(Request{ID: "a"}, 0)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	b, err := m.Submit(Request{ID: "b"}, 0)
	require.NoError(t, err)

	runs := m.List()
	require.Len(t, runs, 2)
	assert.Equal(t, b.ID, runs[0].ID)
	assert.Equal(t, a.ID, runs[1].ID)

	_, err = m.Submit(Request{ID: "a"}, 0)
	assert.Error(t, err, "duplicate id")
}

func TestManager_QueueFull(t *testing.T) {
	m := NewManager(queue.NewInMemoryQueue(1), &fakeExecutor{}, quietLogger())

	_, err := m.Submit(Request{}, 0)
	require.NoError(t, err)
	_, err = m.Submit(Request{ID: "overflow"}, 0)
	assert.ErrorIs(t, err, queue.ErrQueueFull)

	_, err = m.Get("overflow")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestManager_UnknownRun(t *testing.T) {
	m := NewManager(queue.NewInMemoryQueue(0), &fakeExecutor{}, quietLogger())

	_, err := m.Get("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, m.Cancel("missing"), ErrRunNotFound)
	_, err = m.Report("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestManager_WorkerStopsOnQueueClose(t *testing.T) {
	q := queue.NewInMemoryQueue(0)
	m := NewManager(q, &fakeExecutor{}, quietLogger())

	done := make(chan struct{})
	go func() {
		m.StartWorker(context.Background())
		close(done)
	}()

	require.NoError(t, q.Close())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

package extractor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"auction-parser/internal/types"
	"auction-parser/store"

	"github.com/google/uuid"
)

// ErrEmptyURL is returned when a single-page run is requested without a URL.
var ErrEmptyURL = errors.New("url is required")

// InterruptedMessage is recorded on runs found running with no task behind
// them, left by a process that exited mid-run.
const InterruptedMessage = "interrupted: parser process exited before the run finished"

// Manager starts runs in the background and keeps a handle to each one
// until it finishes. All runs share one ListingSource, and with it one
// request rate limiter.
type Manager struct {
	config *types.Config
	logger types.Logger
	store  store.Store

	single *SinglePageRunner
	multi  *MultiPageOrchestrator

	mu    sync.Mutex
	tasks map[uuid.UUID]*Task
}

// NewManager creates a manager that runs against source and st.
func NewManager(config *types.Config, logger types.Logger, source ListingSource, st store.Store) *Manager {
	return &Manager{
		config: config,
		logger: logger,
		store:  st,
		single: NewSinglePageRunner(config, logger, source, st),
		multi:  NewMultiPageOrchestrator(config, logger, source, st),
		tasks:  make(map[uuid.UUID]*Task),
	}
}

// StartSingle creates a run for url and parses it in the background.
func (m *Manager) StartSingle(ctx context.Context, url string) (*Task, error) {
	if url == "" {
		return nil, ErrEmptyURL
	}
	return m.launch(ctx, url, func(ctx context.Context, id uuid.UUID, stop StopFunc) (Summary, error) {
		return m.single.Run(ctx, id, url, stop)
	})
}

// StartMulti creates a run over pages and walks them in the background.
func (m *Manager) StartMulti(ctx context.Context, pages PageRange) (*Task, error) {
	pages = NormalizePageRange(pages.Start, pages.End)
	return m.launch(ctx, pages.Description(), func(ctx context.Context, id uuid.UUID, stop StopFunc) (Summary, error) {
		return m.multi.Run(ctx, id, pages, stop)
	})
}

// launch records a new run and starts fn for it. The run outlives ctx's
// cancellation; use Stop on the returned task to end it early.
func (m *Manager) launch(ctx context.Context, description string, fn func(context.Context, uuid.UUID, StopFunc) (Summary, error)) (*Task, error) {
	id, err := m.store.CreateRun(ctx, description)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	task := newTask(id, description)
	m.mu.Lock()
	m.tasks[id] = task
	m.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	task.start(func(stop StopFunc) (Summary, error) {
		defer m.forget(id)
		return fn(runCtx, id, stop)
	})
	m.logger.Infof("Started run %s (%s)", id, description)
	return task, nil
}

func (m *Manager) forget(id uuid.UUID) {
	m.mu.Lock()
	delete(m.tasks, id)
	m.mu.Unlock()
}

// Task returns the handle of an active run.
func (m *Manager) Task(id uuid.UUID) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	return t, ok
}

// Active returns the number of runs still executing.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// StopAll asks every active run to stop and returns how many were signalled.
func (m *Manager) StopAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		t.Stop()
	}
	if len(m.tasks) > 0 {
		m.logger.Infof("Requested stop of %d runs", len(m.tasks))
	}
	return len(m.tasks)
}

// Shutdown stops every active run and waits for them to finish or for ctx
// to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.StopAll()

	m.mu.Lock()
	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	for _, t := range tasks {
		select {
		case <-t.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Status returns the oldest run still in progress, else the most recent
// run. It returns nil when no run was ever recorded.
func (m *Manager) Status(ctx context.Context) (*types.RunStatus, error) {
	running, err := m.store.ListRunningRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("list running runs: %w", err)
	}
	if len(running) > 0 {
		return &running[0], nil
	}

	recent, err := m.store.ListRecentRuns(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	if len(recent) == 0 {
		return nil, nil
	}
	return &recent[0], nil
}

// ReconcileOrphans marks every run the store lists as running, but that has
// no task in this manager, as failed. It returns how many runs were marked.
// Call it at startup, before any run is launched, and only from the process
// that owns the store.
func (m *Manager) ReconcileOrphans(ctx context.Context) (int, error) {
	running, err := m.store.ListRunningRuns(ctx)
	if err != nil {
		return 0, fmt.Errorf("list running runs: %w", err)
	}

	n := 0
	for _, run := range running {
		if _, ok := m.Task(run.ID); ok {
			continue
		}
		err := m.store.MarkError(ctx, run.ID, InterruptedMessage)
		if errors.Is(err, store.ErrRunFinished) || errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("mark run %s interrupted: %w", run.ID, err)
		}
		m.logger.Warnf("Run %s (%s) was left running by a previous process, marked as error", run.ID, run.URL)
		n++
	}
	return n, nil
}

// Clear deletes every image, car and run.
func (m *Manager) Clear(ctx context.Context) (store.ClearResult, error) {
	res, err := store.Clear(ctx, m.store)
	if err != nil {
		return res, err
	}
	m.logger.Infof("Cleared %d images, %d cars, %d runs", res.Images, res.Cars, res.Runs)
	return res, nil
}

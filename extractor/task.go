package extractor

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"auction-parser/internal/types"

	"github.com/google/uuid"
)

var (
	// ErrNoHTML is recorded when a single-page run cannot fetch its page.
	ErrNoHTML = errors.New("could not fetch HTML content")
	// ErrNoCars is recorded when a single-page run finds no listings.
	ErrNoCars = errors.New("no car data found")
)

// RunFailure ends a run in the error state. The cause's text is what the
// run's error message records.
type RunFailure struct {
	RunID uuid.UUID
	Err   error
}

func (e *RunFailure) Error() string {
	return fmt.Sprintf("run %s failed: %v", e.RunID, e.Err)
}

func (e *RunFailure) Unwrap() error { return e.Err }

// Summary describes how a run ended.
type Summary struct {
	RunID          uuid.UUID      `json:"run_id"`
	Description    string         `json:"description"`
	Status         types.RunState `json:"status"`
	PagesFetched   int            `json:"pages_fetched"`
	PagesSucceeded int            `json:"pages_succeeded"`
	LastPage       int            `json:"last_page,omitempty"`
	Cars           int            `json:"cars_created"`
	Images         int            `json:"images_created"`
	Skipped        int            `json:"skipped"`
	ResultsFile    string         `json:"results_file,omitempty"`
	Duration       time.Duration  `json:"duration"`
}

// StopFunc reports whether the owner of a run asked it to stop.
type StopFunc func() bool

// Task is the handle of a run executing in the background. Stop is
// cooperative: it is observed at the run's next loop checkpoint and does not
// interrupt a fetch or delay already in progress.
type Task struct {
	runID       uuid.UUID
	description string

	stop atomic.Bool
	done chan struct{}

	summary Summary
	err     error
}

func newTask(runID uuid.UUID, description string) *Task {
	return &Task{
		runID:       runID,
		description: description,
		done:        make(chan struct{}),
	}
}

// start runs fn on its own goroutine. A panic in fn becomes a RunFailure.
func (t *Task) start(fn func(stop StopFunc) (Summary, error)) {
	go func() {
		defer close(t.done)
		defer func() {
			if p := recover(); p != nil {
				t.summary.RunID = t.runID
				t.summary.Status = types.RunError
				t.err = &RunFailure{RunID: t.runID, Err: fmt.Errorf("panic: %v", p)}
			}
		}()
		t.summary, t.err = fn(t.Stopping)
	}()
}

// RunID returns the identifier of the run's status record.
func (t *Task) RunID() uuid.UUID { return t.runID }

// Description returns the run's target URL or page range.
func (t *Task) Description() string { return t.description }

// Stop requests a cooperative stop.
func (t *Task) Stop() { t.stop.Store(true) }

// Stopping reports whether Stop was called.
func (t *Task) Stopping() bool { return t.stop.Load() }

// Done is closed when the run has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the run finishes and returns its summary. The error is a
// *RunFailure when the run ended in the error state.
func (t *Task) Wait() (Summary, error) {
	<-t.done
	return t.summary, t.err
}

package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snaredev/snare/browser"
	"github.com/snaredev/snare/models"
)

// Task wraps one accepted ScrapeRequest as it moves through the navigation
// state machine. The scheduler owns it end to end; callers only hold the
// handle and Wait on it.
type Task struct {
	id      string
	request *models.ScrapeRequest

	mu      sync.Mutex
	state   models.TaskState
	attempt int              // attempts started
	errs    []error          // accumulated per-attempt errors
	session *browser.Session // weak: the pool owns session lifetime
	navMs   int64            // navigation time across attempts

	result *models.ScrapeResponse
	done   chan struct{}
	once   sync.Once

	submittedAt time.Time
}

func newTask(req *models.ScrapeRequest) *Task {
	return &Task{
		id:          uuid.NewString(),
		request:     req,
		state:       models.TaskPending,
		done:        make(chan struct{}),
		submittedAt: time.Now(),
	}
}

// ID returns the task identity.
func (t *Task) ID() string { return t.id }

// Request returns the immutable request the task was created from.
func (t *Task) Request() *models.ScrapeRequest { return t.request }

// State returns the current state-machine state.
func (t *Task) State() models.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Attempts returns the number of attempts started so far.
func (t *Task) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempt
}

// Wait blocks until the task produces its terminal result or ctx is done.
// The terminal result is produced exactly once; Wait may be called from
// multiple goroutines and after completion.
func (t *Task) Wait(ctx context.Context) (*models.ScrapeResponse, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done exposes the completion channel for callers that select.
func (t *Task) Done() <-chan struct{} { return t.done }

// Result returns the terminal result, or nil before completion.
func (t *Task) Result() *models.ScrapeResponse {
	select {
	case <-t.done:
		return t.result
	default:
		return nil
	}
}

func (t *Task) setState(s models.TaskState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Task) beginAttempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempt++
	t.state = models.TaskPending
	return t.attempt
}

func (t *Task) recordError(err error) {
	t.mu.Lock()
	t.errs = append(t.errs, err)
	t.mu.Unlock()
}

func (t *Task) addNavMs(ms int64) {
	t.mu.Lock()
	t.navMs += ms
	t.mu.Unlock()
}

func (t *Task) setSession(s *browser.Session) {
	t.mu.Lock()
	t.session = s
	t.mu.Unlock()
}

// finish publishes the terminal result. The sync.Once is the exactly-once
// guarantee: never zero results, never two, no matter how many paths race
// to finish a task.
func (t *Task) finish(resp *models.ScrapeResponse) {
	t.once.Do(func() {
		t.mu.Lock()
		if resp.Status == models.StatusFailed {
			t.state = models.TaskFailed
		} else {
			t.state = models.TaskFinalized
		}
		resp.Attempts = t.attempt
		resp.Timing.TotalMs = time.Since(t.submittedAt).Milliseconds()
		resp.Timing.NavigationMs = t.navMs
		t.result = resp
		t.mu.Unlock()
		close(t.done)
	})
}

// failWith finishes the task with a terminal failure.
func (t *Task) failWith(se *models.ScrapeError) {
	t.finish(&models.ScrapeResponse{
		Status: models.StatusFailed,
		Error:  se.ToDetail(),
	})
}

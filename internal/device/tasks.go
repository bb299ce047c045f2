package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/holocommander/internal/logfields"
)

// TaskError reports a failed background task.
type TaskError struct {
	ID   string
	Task string
	Err  error
}

func (e TaskError) Error() string { return fmt.Sprintf("task %s (%s): %v", e.Task, e.ID, e.Err) }
func (e TaskError) Unwrap() error { return e.Err }

// taskGroup tracks background work started from event handlers so it is
// observable and joinable. Failures are logged, handed to onFailure and
// queued on the error channel while it has room.
type taskGroup struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	wg       sync.WaitGroup
	stopping bool
	running  map[string]string

	errs      chan TaskError
	closeErrs sync.Once
	onFailure func(TaskError)
}

func newTaskGroup(parent context.Context, buffer int, onFailure func(TaskError)) *taskGroup {
	ctx, cancel := context.WithCancel(parent)
	return &taskGroup{
		ctx:       ctx,
		cancel:    cancel,
		running:   make(map[string]string),
		errs:      make(chan TaskError, buffer),
		onFailure: onFailure,
	}
}

// Go starts fn unless the group is stopping and returns the task ID, or "" when
// the task was not started.
func (g *taskGroup) Go(name string, fn func(ctx context.Context) error) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopping {
		return ""
	}

	id := uuid.NewString()
	g.running[id] = name
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		err := fn(g.ctx)

		g.mu.Lock()
		delete(g.running, id)
		g.mu.Unlock()

		if err == nil {
			slog.Debug("Background task finished", logfields.TaskID(id), logfields.Task(name))
			return
		}
		g.fail(TaskError{ID: id, Task: name, Err: err})
	}()
	return id
}

func (g *taskGroup) fail(te TaskError) {
	slog.Error("Background task failed",
		logfields.TaskID(te.ID),
		logfields.Task(te.Task),
		logfields.Error(te.Err))
	if g.onFailure != nil {
		g.onFailure(te)
	}
	select {
	case g.errs <- te:
	default:
		slog.Warn("Task error channel full, dropping oldest", logfields.TaskID(te.ID))
		select {
		case <-g.errs:
		default:
		}
		select {
		case g.errs <- te:
		default:
		}
	}
}

// Running returns the number of tasks in flight.
func (g *taskGroup) Running() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.running)
}

// StopAndWait cancels running tasks, refuses new ones and waits for all to
// exit, bounded by ctx. The error channel is closed once the last task has
// exited, even when ctx expires first.
func (g *taskGroup) StopAndWait(ctx context.Context) error {
	g.mu.Lock()
	g.stopping = true
	g.mu.Unlock()
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		g.closeErrs.Do(func() { close(g.errs) })
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

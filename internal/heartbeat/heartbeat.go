// Package heartbeat drives a periodic liveness probe on a gocron scheduler.
//
// A Heartbeat runs one singleton-mode duration job: ticks never overlap, and a
// tick that overruns the interval delays the next one instead of queueing it.
// Stop cancels the probe context and shuts the scheduler down. When a tick is
// running, possibly the one calling Stop, the shutdown finishes in the
// background once that tick returns. Once Stop returns no further tick starts.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/logfields"
)

// ProbeFunc is one heartbeat tick. ctx is canceled when the heartbeat stops.
type ProbeFunc func(ctx context.Context)

// Heartbeat schedules a ProbeFunc at a fixed interval.
type Heartbeat struct {
	name     string
	interval time.Duration
	probe    ProbeFunc

	mu        sync.Mutex
	scheduler gocron.Scheduler
	cancel    context.CancelFunc
	ticks     uint64
	ticking   bool
	done      chan struct{}
}

// New returns a stopped heartbeat. name labels the gocron job and log lines.
func New(name string, interval time.Duration, probe ProbeFunc) (*Heartbeat, error) {
	if interval <= 0 {
		return nil, ferrors.ValidationError("heartbeat interval must be positive").
			WithContext("interval", interval.String()).
			Build()
	}
	if probe == nil {
		return nil, ferrors.ValidationError("heartbeat probe is required").Build()
	}
	return &Heartbeat{name: name, interval: interval, probe: probe}, nil
}

// Interval returns the configured tick interval.
func (h *Heartbeat) Interval() time.Duration { return h.interval }

// Running reports whether the heartbeat is scheduled.
func (h *Heartbeat) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scheduler != nil
}

// Ticks returns the number of probes started so far.
func (h *Heartbeat) Ticks() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ticks
}

// Start schedules the probe with the first tick due immediately. Starting a
// running heartbeat is a no-op. The probe context derives from parent.
func (h *Heartbeat) Start(parent context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.scheduler != nil {
		return nil
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to create heartbeat scheduler").Build()
	}

	ctx, cancel := context.WithCancel(parent)
	_, err = s.NewJob(
		gocron.DurationJob(h.interval),
		gocron.NewTask(h.tick, ctx),
		gocron.WithName(h.name+"-heartbeat"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		cancel()
		_ = s.Shutdown()
		return ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to schedule heartbeat").Build()
	}

	s.Start()
	h.scheduler = s
	h.cancel = cancel

	slog.Debug("Heartbeat started",
		logfields.Device(h.name),
		logfields.Duration(h.interval))
	return nil
}

func (h *Heartbeat) tick(ctx context.Context) {
	h.mu.Lock()
	if ctx.Err() != nil {
		h.mu.Unlock()
		return
	}
	h.ticks++
	h.ticking = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.ticking = false
		h.mu.Unlock()
	}()
	h.probe(ctx)
}

// Stop cancels the probe context. It waits for the scheduler to shut down
// unless a tick is running: a probe may stop its own heartbeat, so a running
// tick is never joined. Done reports when the shutdown completed. Stop is safe
// to call concurrently and more than once.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	s, cancel, ticking := h.scheduler, h.cancel, h.ticking
	h.scheduler, h.cancel = nil, nil
	if s == nil {
		h.mu.Unlock()
		return
	}
	// canceled under mu: a tick that has not checked ctx yet will not probe
	cancel()
	done := make(chan struct{})
	h.done = done
	h.mu.Unlock()

	if ticking {
		go h.shutdown(s, done)
		return
	}
	h.shutdown(s, done)
}

func (h *Heartbeat) shutdown(s gocron.Scheduler, done chan struct{}) {
	defer close(done)
	if err := s.Shutdown(); err != nil {
		slog.Warn("Heartbeat scheduler shutdown incomplete",
			logfields.Device(h.name),
			logfields.Error(err))
	}
	slog.Debug("Heartbeat stopped", logfields.Device(h.name))
}

// Done returns a channel closed once the scheduler of the last Stop has shut
// down. It is nil before the first Stop.
func (h *Heartbeat) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

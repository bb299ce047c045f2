package device

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/holocommander/internal/config"
	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/heartbeat"
	"git.home.luguber.info/inful/holocommander/internal/logfields"
	"git.home.luguber.info/inful/holocommander/internal/metrics"
	"git.home.luguber.info/inful/holocommander/internal/portal"
)

// Option configures a Monitor.
type Option func(*Monitor)

// WithName sets the name used in logs, metrics and events. Defaults to the
// normalized address.
func WithName(name string) Option { return func(m *Monitor) { m.name = name } }

// WithHeartbeatInterval sets the heartbeat period.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithRecorder injects a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(m *Monitor) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithRequireCertificate makes a failed certificate fetch abort the handshake
// attempt instead of connecting without a pinned certificate.
func WithRequireCertificate(required bool) Option {
	return func(m *Monitor) { m.requireCertificate = required }
}

// WithTerminateSkip adds process names TerminateAllApplications never stops.
func WithTerminateSkip(names ...string) Option {
	return func(m *Monitor) { m.skip = newDenyList(names...) }
}

// WithDelivery sets the delivery context for status, install and task
// notifications.
func WithDelivery(fn DeliveryFunc) Option { return func(m *Monitor) { m.delivery = fn } }

// WithSettings applies the process-wide settings.
func WithSettings(s config.Settings) Option {
	return func(m *Monitor) {
		WithHeartbeatInterval(s.HeartbeatInterval)(m)
		WithRequireCertificate(s.RequireCertificate)(m)
		WithTerminateSkip(s.TerminateSkip...)(m)
	}
}

// Monitor owns the session of one device.
type Monitor struct {
	factory            portal.Factory
	name               string
	interval           time.Duration
	recorder           metrics.Recorder
	requireCertificate bool
	skip               denyList
	delivery           DeliveryFunc

	ctx    context.Context
	cancel context.CancelFunc

	// lifecycle serializes Connect, Disconnect and Close.
	lifecycle sync.Mutex
	hb        *heartbeat.Heartbeat

	// beat identifies the running heartbeat; ticks of a stopped one are ignored
	beat uint64

	mu           sync.Mutex
	opts         ConnectOptions
	address      string
	client       portal.Client
	session      portal.Client
	firstContact bool
	state        State
	lastErr      error
	handshake    uint64
	unsubStatus  func()
	unsubInstall func()
	changed      chan struct{}
	identity     Identity
	identityGen  uint64

	renameMu sync.Mutex
	tasks    *taskGroup

	statusNotifier  *Notifier[StatusEvent]
	installNotifier *Notifier[portal.InstallStatusEvent]
	taskNotifier    *Notifier[TaskError]
}

// NewMonitor returns a disconnected monitor that builds clients with factory.
func NewMonitor(factory portal.Factory, options ...Option) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		factory:  factory,
		interval: config.DefaultHeartbeatInterval,
		recorder: metrics.NoopRecorder{},
		skip:     newDenyList(),
		delivery: Inline,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateDisconnected,
		changed:  make(chan struct{}),
	}
	for _, opt := range options {
		opt(m)
	}
	m.statusNotifier = NewNotifier[StatusEvent](m.delivery)
	m.installNotifier = NewNotifier[portal.InstallStatusEvent](m.delivery)
	m.taskNotifier = NewNotifier[TaskError](m.delivery)
	m.tasks = newTaskGroup(ctx, 8, func(te TaskError) {
		m.recorder.IncTaskFailure(te.Task)
		m.taskNotifier.Publish(te)
	})
	return m
}

// Name returns the monitor name, falling back to the address.
func (m *Monitor) Name() string {
	if m.name != "" {
		return m.name
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address
}

// Address returns the normalized address of the current connection.
func (m *Monitor) Address() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address
}

// State returns the current connection state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// FirstContact reports whether a session was established since the last
// invalidation.
func (m *Monitor) FirstContact() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.firstContact
}

// LastError returns the error of the most recent failed handshake or probe.
func (m *Monitor) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Identity returns a copy of the cached device identity.
func (m *Monitor) Identity() Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// observedName stores a queried machine name unless the name was set since
// gen was read, so a slow query never overwrites a rename.
func (m *Monitor) observedName(name string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.identityGen {
		m.identity.MachineName = name
	}
}

func (m *Monitor) identityGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identityGen
}

// Options returns the options of the current connection.
func (m *Monitor) Options() ConnectOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

// OnConnectionStatus subscribes to state transitions.
func (m *Monitor) OnConnectionStatus(fn func(StatusEvent)) (unsubscribe func()) {
	return m.statusNotifier.Subscribe(fn)
}

// OnInstallStatus subscribes to install progress of the current session.
func (m *Monitor) OnInstallStatus(fn func(portal.InstallStatusEvent)) (unsubscribe func()) {
	return m.installNotifier.Subscribe(fn)
}

// OnTaskFailure subscribes to background task failures.
func (m *Monitor) OnTaskFailure(fn func(TaskError)) (unsubscribe func()) {
	return m.taskNotifier.Subscribe(fn)
}

// TaskErrors returns the channel background task failures are queued on. It
// is closed after Close once every background task has exited.
func (m *Monitor) TaskErrors() <-chan TaskError { return m.tasks.errs }

// Connect validates and normalizes opts, builds the portal client and starts
// the heartbeat, whose first tick attempts the handshake. It returns a
// ConnectionError for a bad address or a failing client factory; handshake
// outcomes are reported through OnConnectionStatus and WaitConnected.
func (m *Monitor) Connect(opts ConnectOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	address, err := NormalizeAddress(opts.Address, opts.IsDesktopTarget)
	if err != nil {
		return err
	}
	if m.ctx.Err() != nil {
		return ferrors.RuntimeError("device monitor is closed").
			WithContext("address", address).
			Build()
	}

	client, err := m.factory(address, opts.Username, opts.Password)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConnection, "failed to create portal client").
			WithContext("address", address).
			UserAction().
			Build()
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.stopHeartbeatLocked()

	m.mu.Lock()
	m.dropSubscriptionsLocked()
	m.opts = opts
	m.address = address
	m.client = client
	m.session = nil
	m.firstContact = false
	m.lastErr = nil
	m.handshake++ // outcomes of earlier handshakes are stale
	m.beat++
	beat := m.beat
	m.setStateLocked(StateDisconnected, "connecting to "+address, nil)
	m.mu.Unlock()
	m.statusNotifier.flush()

	hb, err := heartbeat.New(m.Name(), m.interval, func(ctx context.Context) { m.probe(ctx, beat) })
	if err != nil {
		return err
	}
	if err := hb.Start(m.ctx); err != nil {
		return err
	}
	m.hb = hb

	slog.Info("Device connect requested",
		logfields.Device(m.Name()),
		logfields.Address(address),
		slog.Bool("desktop", opts.IsDesktopTarget))
	return nil
}

// Disconnect stops the heartbeat. When it returns no further tick starts. A
// tick already running has its context canceled and finishes on its own, so
// Disconnect may be called from a status subscriber. The session is left to
// go stale; an in-flight command completes on its own.
func (m *Monitor) Disconnect() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.stopHeartbeatLocked()
}

func (m *Monitor) stopHeartbeatLocked() {
	if m.hb == nil {
		return
	}
	m.mu.Lock()
	m.beat++
	m.mu.Unlock()
	m.hb.Stop()
	m.hb = nil
	slog.Debug("Device heartbeat stopped", logfields.Device(m.Name()))
}

// HeartbeatRunning reports whether the heartbeat is scheduled.
func (m *Monitor) HeartbeatRunning() bool {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.hb != nil
}

// Close disconnects, cancels background tasks and waits for them, bounded by
// ctx. The monitor cannot be reused.
func (m *Monitor) Close(ctx context.Context) error {
	m.Disconnect()
	m.cancel()
	err := m.tasks.StopAndWait(ctx)

	m.mu.Lock()
	m.dropSubscriptionsLocked()
	m.mu.Unlock()

	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryRuntime, "background tasks did not finish").
			WithContext("device", m.Name()).
			Build()
	}
	return nil
}

// WaitConnected blocks until the device is connected, the current handshake
// fails, or ctx is done. A failure returns the HandshakeFailed error.
func (m *Monitor) WaitConnected(ctx context.Context) error {
	for {
		m.mu.Lock()
		state, lastErr, changed := m.state, m.lastErr, m.changed
		m.mu.Unlock()

		switch state {
		case StateConnected:
			return nil
		case StateFailed:
			return lastErr
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ferrors.WrapError(ctx.Err(), ferrors.CategoryNotConnected, "timed out waiting for device connection").
				WithContext("device", m.Name()).
				WithContext("state", state.String()).
				Build()
		}
	}
}

// setStateLocked records a transition and queues its notification. Callers
// hold m.mu and flush the status notifier after releasing it.
func (m *Monitor) setStateLocked(to State, message string, err error) {
	from := m.state
	m.state = to
	close(m.changed)
	m.changed = make(chan struct{})

	m.statusNotifier.enqueue(StatusEvent{
		Device:       m.nameLocked(),
		Address:      m.address,
		From:         from,
		To:           to,
		FirstContact: m.firstContact,
		Message:      message,
		Err:          err,
	})
	m.recorder.SetConnected(m.nameLocked(), to == StateConnected)

	slog.Debug("Device state changed",
		logfields.Device(m.nameLocked()),
		slog.String("from", from.String()),
		logfields.State(to.String()))
}

func (m *Monitor) nameLocked() string {
	if m.name != "" {
		return m.name
	}
	return m.address
}

func (m *Monitor) dropSubscriptionsLocked() {
	if m.unsubStatus != nil {
		m.unsubStatus()
		m.unsubStatus = nil
	}
	if m.unsubInstall != nil {
		m.unsubInstall()
		m.unsubInstall = nil
	}
}

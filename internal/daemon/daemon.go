// Package daemon runs the long-lived fleet monitor: device connections, the
// event journal, NATS publishing, the status server and config reloads.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/holocommander/internal/config"
	"git.home.luguber.info/inful/holocommander/internal/events"
	"git.home.luguber.info/inful/holocommander/internal/fleet"
	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/journal"
	"git.home.luguber.info/inful/holocommander/internal/logfields"
	"git.home.luguber.info/inful/holocommander/internal/metrics"
	"git.home.luguber.info/inful/holocommander/internal/natspub"
	"git.home.luguber.info/inful/holocommander/internal/portal"
	"git.home.luguber.info/inful/holocommander/internal/portal/wdp"
	"git.home.luguber.info/inful/holocommander/internal/retry"
	"git.home.luguber.info/inful/holocommander/internal/server/httpserver"
	"git.home.luguber.info/inful/holocommander/internal/version"
)

// Status represents the current state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Option configures a Daemon.
type Option func(*Daemon)

// WithFactory replaces the Device Portal client factory.
func WithFactory(f portal.Factory) Option { return func(d *Daemon) { d.factory = f } }

// WithConfigDebounce overrides the settle time of config file reloads.
func WithConfigDebounce(dur time.Duration) Option { return func(d *Daemon) { d.debounce = dur } }

// Daemon owns every long-running component.
type Daemon struct {
	config         *config.Config
	configFilePath string
	factory        portal.Factory
	debounce       time.Duration
	status         atomic.Value // Status
	startTime      time.Time
	mu             sync.Mutex

	registry   *prom.Registry
	recorder   metrics.Recorder
	bus        *events.Bus
	fleet      *fleet.Fleet
	store      journal.Store
	projection *journal.StatusProjection
	publisher  *natspub.Publisher
	httpServer *httpserver.Server
	watcher    *config.Watcher

	cancel context.CancelFunc
	loops  sync.WaitGroup
}

// NewDaemonWithConfigFile creates a daemon. A non-empty configFilePath is
// watched and changes are reconciled into the running fleet.
func NewDaemonWithConfigFile(cfg *config.Config, configFilePath string, options ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, ferrors.ConfigError("configuration is required").Build()
	}
	d := &Daemon{
		config:         cfg,
		configFilePath: configFilePath,
		recorder:       metrics.NoopRecorder{},
	}
	for _, opt := range options {
		opt(d)
	}
	if d.factory == nil {
		d.factory = wdp.Factory(
			wdp.WithTimeout(cfg.Settings.RequestTimeout),
			wdp.WithRetryPolicy(retry.FromConfig(cfg.Retry)),
		)
	}
	d.status.Store(StatusStopped)
	return d, nil
}

// GetStatus returns the lifecycle state.
func (d *Daemon) GetStatus() Status {
	s, _ := d.status.Load().(Status)
	return s
}

// GetStartTime returns when Start was last called.
func (d *Daemon) GetStartTime() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startTime
}

// Fleet exposes the managed devices. Nil before Start.
func (d *Daemon) Fleet() *fleet.Fleet {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fleet
}

// HTTPAddr is the bound status server address, or "" when disabled.
func (d *Daemon) HTTPAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.httpServer == nil {
		return ""
	}
	return d.httpServer.Addr()
}

// Start brings every enabled component up and returns. Components started
// before a failure are torn down again.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.GetStatus() != StatusStopped {
		return ferrors.ValidationError("daemon is not in stopped state").
			WithContext("status", string(d.GetStatus())).
			Build()
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now()
	slog.Info("Starting holocommander daemon", slog.String("version", version.Version))

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.startLocked(runCtx); err != nil {
		d.status.Store(StatusError)
		_ = d.teardownLocked(context.Background())
		d.status.Store(StatusStopped)
		return err
	}

	d.status.Store(StatusRunning)
	slog.Info("holocommander daemon started",
		slog.Int("devices", d.fleet.Len()),
		slog.Bool("journal", d.store != nil),
		slog.Bool("nats", d.publisher != nil),
		slog.Bool("metrics", d.httpServer != nil))
	return nil
}

func (d *Daemon) startLocked(ctx context.Context) error {
	cfg := d.config

	if cfg.Metrics.Enabled {
		d.registry = prom.NewRegistry()
		d.recorder = metrics.NewPrometheusRecorder(d.registry)
	}
	d.bus = events.NewBus()

	if cfg.Journal.Enabled {
		store, err := journal.NewSQLiteStore(cfg.Journal.Path)
		if err != nil {
			return err
		}
		d.store = store
		d.projection = journal.NewStatusProjection(store)
		if err := d.projection.Rebuild(ctx); err != nil {
			slog.Warn("Failed to rebuild status projection", logfields.Error(err))
		}
		d.runLoop(ctx, "journal", journal.NewConsumer(store, d.projection).Subscribe(d.bus))
	}

	if cfg.NATS.Enabled {
		pub, err := natspub.Connect(ctx, cfg.NATS)
		if err != nil {
			return err
		}
		d.publisher = pub
		d.runLoop(ctx, "nats", pub.Subscribe(d.bus))
	}

	f, err := fleet.FromConfig(d.factory, cfg,
		fleet.WithBus(d.bus),
		fleet.WithRecorder(d.recorder),
		fleet.WithConcurrency(cfg.Settings.BroadcastConcurrency))
	if err != nil {
		return err
	}
	d.fleet = f

	if cfg.Metrics.Enabled {
		opts := httpserver.Options{Registry: d.registry}
		if d.store != nil {
			opts.History = d.store
			opts.Status = d.projection
		}
		d.httpServer = httpserver.New(cfg.Metrics.Address, f, opts)
		if err := d.httpServer.Start(ctx); err != nil {
			d.httpServer = nil
			return err
		}
	}

	if cfg.Settings.ShouldAutoReconnect() {
		if err := f.ConnectAll(); err != nil {
			slog.Warn("Some devices could not be connected", logfields.Error(err))
		}
	}

	if d.configFilePath != "" {
		w, err := config.NewWatcher(d.configFilePath, d.reload)
		if err != nil {
			return err
		}
		if d.debounce > 0 {
			w.SetDebounce(d.debounce)
		}
		if err := w.Start(ctx); err != nil {
			_ = w.Stop()
			return err
		}
		d.watcher = w
	}
	return nil
}

// runLoop runs a bus consumer until ctx is done or the bus closes.
func (d *Daemon) runLoop(ctx context.Context, name string, loop func(context.Context) error) {
	d.loops.Add(1)
	go func() {
		defer d.loops.Done()
		if err := loop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Event consumer stopped", slog.String("consumer", name), logfields.Error(err))
		}
	}()
}

// reload reconciles the fleet with a changed configuration file.
func (d *Daemon) reload(ctx context.Context, next *config.Config) error {
	d.mu.Lock()
	f := d.fleet
	d.mu.Unlock()
	if f == nil {
		return nil
	}

	res, err := f.Reconcile(ctx, next, next.Settings.ShouldAutoReconnect())
	if err != nil {
		return err
	}
	if res.Changed() {
		slog.Info("Fleet reconciled",
			slog.Any("added", res.Added),
			slog.Any("removed", res.Removed),
			slog.Any("updated", res.Updated))
	}

	d.mu.Lock()
	d.config = next
	d.mu.Unlock()
	return nil
}

// Stop shuts every component down in reverse start order.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.GetStatus() {
	case StatusStopped, StatusStopping:
		return nil
	}
	d.status.Store(StatusStopping)
	slog.Info("Stopping holocommander daemon")

	err := d.teardownLocked(ctx)
	d.status.Store(StatusStopped)
	slog.Info("holocommander daemon stopped")
	return err
}

func (d *Daemon) teardownLocked(ctx context.Context) error {
	var errs []error

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			errs = append(errs, err)
		}
		d.watcher = nil
	}
	if d.httpServer != nil {
		if err := d.httpServer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		d.httpServer = nil
	}
	if d.fleet != nil {
		if err := d.fleet.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	// Closing the bus ends the consumers after they drain what the fleet
	// published while closing.
	if d.bus != nil {
		d.bus.Close()
	}
	d.loops.Wait()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}

	if d.publisher != nil {
		if err := d.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
		d.publisher = nil
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = append(errs, err)
		}
		d.store = nil
	}
	return errors.Join(errs...)
}

package fleet

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"git.home.luguber.info/inful/holocommander/internal/config"
	"git.home.luguber.info/inful/holocommander/internal/device"
	"git.home.luguber.info/inful/holocommander/internal/events"
	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/logfields"
	"git.home.luguber.info/inful/holocommander/internal/metrics"
	"git.home.luguber.info/inful/holocommander/internal/portal"
)

// Option configures a Fleet.
type Option func(*Fleet)

// WithBus publishes monitor notifications on bus.
func WithBus(bus *events.Bus) Option { return func(f *Fleet) { f.bus = bus } }

// WithRecorder shares r with every monitor.
func WithRecorder(r metrics.Recorder) Option {
	return func(f *Fleet) {
		if r != nil {
			f.recorder = r
		}
	}
}

// WithMonitorOptions appends options applied to every new monitor after the
// configured settings.
func WithMonitorOptions(opts ...device.Option) Option {
	return func(f *Fleet) { f.monitorOpts = append(f.monitorOpts, opts...) }
}

// WithConcurrency bounds Broadcast. Values below one fall back to the
// configured broadcast concurrency.
func WithConcurrency(n int) Option {
	return func(f *Fleet) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// Fleet is a set of named device monitors.
type Fleet struct {
	factory     portal.Factory
	bus         *events.Bus
	recorder    metrics.Recorder
	monitorOpts []device.Option
	concurrency int

	mu       sync.RWMutex
	settings config.Settings
	members  map[string]*member
}

type member struct {
	monitor *device.Monitor
	conf    config.DeviceConfig
	unsubs  []func()
}

// deviceForgetter is implemented by recorders holding per-device series.
type deviceForgetter interface {
	ForgetDevice(device string)
}

// New builds an empty fleet whose monitors use factory and settings. Devices
// are added with Add or Reconcile.
func New(factory portal.Factory, settings config.Settings, options ...Option) *Fleet {
	f := &Fleet{
		factory:     factory,
		recorder:    metrics.NoopRecorder{},
		concurrency: settings.BroadcastConcurrency,
		settings:    settings,
		members:     make(map[string]*member),
	}
	for _, opt := range options {
		opt(f)
	}
	if f.concurrency <= 0 {
		f.concurrency = config.DefaultBroadcastConcurrency
	}
	return f
}

// FromConfig builds a fleet holding every device of cfg. Nothing is
// connected yet.
func FromConfig(factory portal.Factory, cfg *config.Config, options ...Option) (*Fleet, error) {
	f := New(factory, cfg.Settings, options...)
	for _, d := range cfg.Devices {
		if _, err := f.Add(cfg.ResolveDevice(d)); err != nil {
			_ = f.Close(context.Background())
			return nil, err
		}
	}
	return f, nil
}

// Add creates a monitor for the resolved device entry d.
func (f *Fleet) Add(d config.DeviceConfig) (*device.Monitor, error) {
	if d.Name == "" {
		d.Name = d.Address
	}
	if d.Name == "" {
		return nil, ferrors.ValidationError("device needs a name or an address").Build()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.members[d.Name]; exists {
		return nil, ferrors.ValidationError("device already managed").
			WithContext("device", d.Name).
			Build()
	}

	opts := append([]device.Option{
		device.WithSettings(f.settings),
		device.WithName(d.Name),
		device.WithRecorder(f.recorder),
	}, f.monitorOpts...)
	m := device.NewMonitor(f.factory, opts...)
	mem := &member{monitor: m, conf: d}
	mem.unsubs = f.bridge(m)
	f.members[d.Name] = mem
	f.recorder.SetFleetSize(len(f.members))

	slog.Debug("Device added to fleet", logfields.Device(d.Name), logfields.Address(d.Address))
	return m, nil
}

// Remove closes and forgets the named monitor.
func (f *Fleet) Remove(ctx context.Context, name string) error {
	f.mu.Lock()
	mem, ok := f.members[name]
	if ok {
		delete(f.members, name)
		f.recorder.SetFleetSize(len(f.members))
	}
	f.mu.Unlock()
	if !ok {
		return unknownDevice(name)
	}
	return f.retire(ctx, name, mem)
}

func (f *Fleet) retire(ctx context.Context, name string, mem *member) error {
	err := mem.monitor.Close(ctx)
	for _, unsub := range mem.unsubs {
		unsub()
	}
	if fg, ok := f.recorder.(deviceForgetter); ok {
		fg.ForgetDevice(name)
	}
	slog.Debug("Device removed from fleet", logfields.Device(name))
	return err
}

// Get returns the named monitor.
func (f *Fleet) Get(name string) (*device.Monitor, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	mem, ok := f.members[name]
	if !ok {
		return nil, false
	}
	return mem.monitor, true
}

// Names returns the managed device names in sorted order.
func (f *Fleet) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.members))
	for name := range f.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of managed devices.
func (f *Fleet) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.members)
}

// Connect starts the named monitor with the options of its device entry.
func (f *Fleet) Connect(name string) error {
	f.mu.RLock()
	mem, ok := f.members[name]
	f.mu.RUnlock()
	if !ok {
		return unknownDevice(name)
	}
	return mem.monitor.Connect(device.OptionsFromConfig(mem.conf))
}

// ConnectAll connects every device and joins the failures.
func (f *Fleet) ConnectAll() error {
	var errs []error
	for _, name := range f.Names() {
		if err := f.Connect(name); err != nil {
			slog.Warn("Device connect failed", logfields.Device(name), logfields.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DisconnectAll stops every heartbeat.
func (f *Fleet) DisconnectAll() {
	for _, m := range f.monitors() {
		m.Disconnect()
	}
}

// Close closes every monitor and empties the fleet.
func (f *Fleet) Close(ctx context.Context) error {
	f.mu.Lock()
	members := f.members
	f.members = make(map[string]*member)
	f.recorder.SetFleetSize(0)
	f.mu.Unlock()

	var errs []error
	for name, mem := range members {
		if err := f.retire(ctx, name, mem); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fleet) monitors() []*device.Monitor {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*device.Monitor, 0, len(f.members))
	for _, mem := range f.members {
		out = append(out, mem.monitor)
	}
	return out
}

// ReconcileResult lists the device names touched by Reconcile.
type ReconcileResult struct {
	Added   []string
	Removed []string
	Updated []string
}

// Changed reports whether Reconcile touched any device.
func (r ReconcileResult) Changed() bool {
	return len(r.Added)+len(r.Removed)+len(r.Updated) > 0
}

// Reconcile aligns the fleet with a reloaded configuration. Removed devices
// are closed, new ones added, and devices whose entry changed reconnect with
// the new options. A change of the shared settings rebuilds every monitor.
// New and rebuilt monitors connect when connect is true; updated ones
// reconnect only if their heartbeat was running.
func (f *Fleet) Reconcile(ctx context.Context, cfg *config.Config, connect bool) (ReconcileResult, error) {
	var result ReconcileResult
	wanted := make(map[string]config.DeviceConfig, len(cfg.Devices))
	for _, d := range cfg.Devices {
		d = cfg.ResolveDevice(d)
		wanted[d.Name] = d
	}

	f.mu.Lock()
	settingsChanged := !reflect.DeepEqual(f.settings, cfg.Settings)
	f.settings = cfg.Settings
	if cfg.Settings.BroadcastConcurrency > 0 {
		f.concurrency = cfg.Settings.BroadcastConcurrency
	}
	current := make(map[string]config.DeviceConfig, len(f.members))
	for name, mem := range f.members {
		current[name] = mem.conf
	}
	f.mu.Unlock()

	var errs []error
	for _, name := range sortedKeys(current) {
		next, keep := wanted[name]
		switch {
		case !keep:
			if err := f.Remove(ctx, name); err != nil {
				errs = append(errs, err)
			}
			result.Removed = append(result.Removed, name)
		case settingsChanged:
			if err := f.Remove(ctx, name); err != nil {
				errs = append(errs, err)
			}
			if err := f.addAndConnect(next, connect); err != nil {
				errs = append(errs, err)
			}
			result.Updated = append(result.Updated, name)
		case !reflect.DeepEqual(current[name], next):
			if err := f.update(name, next); err != nil {
				errs = append(errs, err)
			}
			result.Updated = append(result.Updated, name)
		}
	}

	for _, name := range sortedKeys(wanted) {
		if _, exists := current[name]; exists {
			continue
		}
		if err := f.addAndConnect(wanted[name], connect); err != nil {
			errs = append(errs, err)
		}
		result.Added = append(result.Added, name)
	}

	if result.Changed() {
		slog.Info("Fleet reconciled",
			slog.Any("added", result.Added),
			slog.Any("removed", result.Removed),
			slog.Any("updated", result.Updated))
	}
	return result, errors.Join(errs...)
}

func (f *Fleet) addAndConnect(d config.DeviceConfig, connect bool) error {
	if _, err := f.Add(d); err != nil {
		return err
	}
	if !connect {
		return nil
	}
	return f.Connect(d.Name)
}

func (f *Fleet) update(name string, next config.DeviceConfig) error {
	f.mu.Lock()
	mem, ok := f.members[name]
	if ok {
		mem.conf = next
	}
	f.mu.Unlock()
	if !ok {
		return unknownDevice(name)
	}
	if !mem.monitor.HeartbeatRunning() {
		return nil
	}
	return mem.monitor.Connect(device.OptionsFromConfig(next))
}

func sortedKeys(m map[string]config.DeviceConfig) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func unknownDevice(name string) error {
	return ferrors.NotFoundError("unknown device").
		WithContext("device", name).
		Build()
}

package commands

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/holocommander/internal/config"
	"git.home.luguber.info/inful/holocommander/internal/device"
	"git.home.luguber.info/inful/holocommander/internal/fleet"
	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/logfields"
)

const defaultWait = 60 * time.Second

// Targets selects the devices a one-shot command runs against.
type Targets struct {
	Devices []string      `arg:"" optional:"" name:"device" help:"Configured device names or addresses"`
	All     bool          `short:"a" help:"Target every configured device"`
	Wait    time.Duration `help:"How long to wait for each device to connect" default:"60s"`
}

// deviceOp runs against one connected device; out prints its results.
type deviceOp func(ctx context.Context, m *device.Monitor, out *printer) error

// loadOptionalConfig loads the configuration, falling back to defaults when
// the file does not exist so ad-hoc addresses work without one.
func loadOptionalConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Debug("No configuration file, using defaults", logfields.Path(path))
		return config.Default(), nil
	}
	return config.Load(path)
}

// resolve maps the selection to resolved device entries. Arguments that are
// not configured are treated as device addresses.
func (t Targets) resolve(cfg *config.Config) ([]config.DeviceConfig, error) {
	if t.All {
		if len(t.Devices) > 0 {
			return nil, ferrors.ValidationError("--all cannot be combined with device arguments").Build()
		}
		if len(cfg.Devices) == 0 {
			return nil, ferrors.ValidationError("no devices configured").Build()
		}
		out := make([]config.DeviceConfig, 0, len(cfg.Devices))
		for _, d := range cfg.Devices {
			out = append(out, cfg.ResolveDevice(d))
		}
		return out, nil
	}
	if len(t.Devices) == 0 {
		return nil, ferrors.ValidationError("no device selected (pass device names or --all)").Build()
	}

	out := make([]config.DeviceConfig, 0, len(t.Devices))
	seen := make(map[string]struct{}, len(t.Devices))
	for _, arg := range t.Devices {
		d, ok := cfg.Device(arg)
		if !ok {
			d = cfg.ResolveDevice(config.DeviceConfig{Address: arg})
		}
		if _, dup := seen[d.Name]; dup {
			continue
		}
		seen[d.Name] = struct{}{}
		out = append(out, d)
	}
	return out, nil
}

// openFleet builds an unconnected fleet of the selected devices. The
// returned close function releases every connection.
func (g *Global) openFleet(root *CLI, t Targets) (*fleet.Fleet, []string, func(), error) {
	cfg, err := loadOptionalConfig(root.Config)
	if err != nil {
		return nil, nil, nil, err
	}
	targets, err := t.resolve(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	f := fleet.New(g.factory(cfg), cfg.Settings, fleet.WithConcurrency(cfg.Settings.BroadcastConcurrency))
	closeFleet := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := f.Close(closeCtx); err != nil {
			g.logger().Warn("Failed to close device connections", logfields.Error(err))
		}
	}

	names := make([]string, 0, len(targets))
	for _, d := range targets {
		if _, err := f.Add(d); err != nil {
			closeFleet()
			return nil, nil, nil, err
		}
		names = append(names, d.Name)
	}
	return f, names, closeFleet, nil
}

// connectAndWait connects the named devices and waits up to wait for each
// handshake to settle.
func connectAndWait(ctx context.Context, f *fleet.Fleet, names []string, wait time.Duration) []fleet.Result {
	for _, name := range names {
		if err := f.Connect(name); err != nil {
			slog.Debug("Connect rejected", logfields.Device(name), logfields.Error(err))
		}
	}
	return f.Broadcast(ctx, names, func(ctx context.Context, m *device.Monitor) error {
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		return m.WaitConnected(waitCtx)
	})
}

// runOnDevices connects the selected devices, waits for each handshake and
// runs op on the connected ones in parallel. A single target returns its
// error unchanged; several join their failures.
func (g *Global) runOnDevices(ctx context.Context, root *CLI, t Targets, op deviceOp) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, names, closeFleet, err := g.openFleet(root, t)
	if err != nil {
		return err
	}
	defer closeFleet()

	if err := f.ConnectAll(); err != nil {
		return err
	}

	out := &printer{w: g.out(), prefix: len(names) > 1}
	results := f.Broadcast(ctx, names, func(ctx context.Context, m *device.Monitor) error {
		waitCtx, cancel := context.WithTimeout(ctx, t.Wait)
		err := m.WaitConnected(waitCtx)
		cancel()
		if err != nil {
			return err
		}
		return op(ctx, m, out)
	})
	return g.summarize(results)
}

// summarize returns the only failure of a single-device run unchanged and
// joins the failures of several devices.
func (g *Global) summarize(results []fleet.Result) error {
	failed := fleet.Failed(results)
	switch {
	case len(failed) == 0:
		return nil
	case len(results) == 1:
		return failed[0].Err
	}

	errs := make([]error, 0, len(failed))
	for _, r := range failed {
		g.logger().Error("Device operation failed", logfields.Device(r.Device), logfields.Error(r.Err))
		errs = append(errs, r.Err)
	}
	return ferrors.OperationFailed("operation failed on some devices").
		WithContext("failed", len(failed)).
		WithContext("total", len(results)).
		WithCause(errors.Join(errs...)).
		Build()
}

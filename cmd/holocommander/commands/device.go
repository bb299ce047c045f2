package commands

import (
	"context"

	"git.home.luguber.info/inful/holocommander/internal/device"
)

// NameCmd implements the 'name' command.
type NameCmd struct {
	Targets `embed:""`
}

func (c *NameCmd) Run(g *Global, root *CLI) error {
	return g.runOnDevices(context.Background(), root, c.Targets, func(ctx context.Context, m *device.Monitor, out *printer) error {
		name, err := m.MachineName(ctx)
		if err != nil {
			return err
		}
		out.Printf(m.Name(), "%s\n", name)
		return nil
	})
}

// RenameCmd implements the 'rename' command. The device reboots when the
// name changes.
type RenameCmd struct {
	Device  string `arg:"" help:"Configured device name or address"`
	NewName string `arg:"" name:"new-name" help:"New machine name"`
}

func (c *RenameCmd) Run(g *Global, root *CLI) error {
	t := Targets{Devices: []string{c.Device}, Wait: defaultWait}
	return g.runOnDevices(context.Background(), root, t, func(ctx context.Context, m *device.Monitor, out *printer) error {
		changed, err := m.SetDeviceName(ctx, c.NewName)
		if err != nil {
			return err
		}
		if !changed {
			out.Printf(m.Name(), "name unchanged\n")
			return nil
		}
		if err := m.Reboot(ctx); err != nil {
			return err
		}
		out.Printf(m.Name(), "renamed to %s, rebooting\n", c.NewName)
		return nil
	})
}

// RebootCmd implements the 'reboot' command.
type RebootCmd struct {
	Targets `embed:""`
}

func (c *RebootCmd) Run(g *Global, root *CLI) error {
	return g.runOnDevices(context.Background(), root, c.Targets, func(ctx context.Context, m *device.Monitor, out *printer) error {
		if err := m.Reboot(ctx); err != nil {
			return err
		}
		out.Printf(m.Name(), "rebooting\n")
		return nil
	})
}

// ShutdownCmd implements the 'shutdown' command.
type ShutdownCmd struct {
	Targets `embed:""`
}

func (c *ShutdownCmd) Run(g *Global, root *CLI) error {
	return g.runOnDevices(context.Background(), root, c.Targets, func(ctx context.Context, m *device.Monitor, out *printer) error {
		if err := m.Shutdown(ctx); err != nil {
			return err
		}
		out.Printf(m.Name(), "shutting down\n")
		return nil
	})
}

// IPDCmd implements the 'ipd' command.
type IPDCmd struct {
	Millimeters float32 `arg:"" help:"Inter-pupillary distance in millimeters"`
	Targets     `embed:""`
}

func (c *IPDCmd) Run(g *Global, root *CLI) error {
	return g.runOnDevices(context.Background(), root, c.Targets, func(ctx context.Context, m *device.Monitor, out *printer) error {
		if err := m.SetIPD(ctx, c.Millimeters); err != nil {
			return err
		}
		out.Printf(m.Name(), "ipd set to %.1fmm\n", c.Millimeters)
		return nil
	})
}

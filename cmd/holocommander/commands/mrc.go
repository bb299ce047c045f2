package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/holocommander/internal/device"
	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/logfields"
)

// MrcCmd groups the mixed reality capture commands.
type MrcCmd struct {
	List    MrcListCmd    `cmd:"" help:"List captures"`
	Get     MrcGetCmd     `cmd:"" help:"Download a capture"`
	Delete  MrcDeleteCmd  `cmd:"" help:"Delete a capture"`
	Start   MrcStartCmd   `cmd:"" help:"Start recording"`
	Stop    MrcStopCmd    `cmd:"" help:"Stop recording"`
	LiveURL MrcLiveURLCmd `cmd:"" name:"live-url" help:"Print the live stream URL"`
}

// windowsEpochOffset is the number of 100ns intervals between 1601-01-01
// and the Unix epoch.
const windowsEpochOffset = 116444736000000000

func fromFiletime(ft int64) time.Time {
	if ft <= windowsEpochOffset {
		return time.Time{}
	}
	return time.Unix(0, (ft-windowsEpochOffset)*100).UTC()
}

type MrcListCmd struct {
	Targets `embed:""`
}

func (c *MrcListCmd) Run(g *Global, root *CLI) error {
	return g.runOnDevices(context.Background(), root, c.Targets, func(ctx context.Context, m *device.Monitor, out *printer) error {
		files, err := m.MixedRealityFiles(ctx)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "FILE\tSIZE\tCREATED")
		for _, f := range files {
			created := "-"
			if t := fromFiletime(f.CreationTime); !t.IsZero() {
				created = t.Format(time.RFC3339)
			}
			_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", f.FileName, f.FileSize, created)
		}
		_ = tw.Flush()
		out.Printf(m.Name(), "%s", buf.String())
		return nil
	})
}

type MrcGetCmd struct {
	File    string `arg:"" help:"Capture file name"`
	Output  string `short:"o" help:"Directory to write the capture to" default:"." type:"path"`
	Targets `embed:""`
}

// Run writes the capture to the output directory. With several devices the
// file name is prefixed by the device name.
func (c *MrcGetCmd) Run(g *Global, root *CLI) error {
	if err := os.MkdirAll(c.Output, 0o750); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to create output directory").
			WithContext("path", c.Output).
			Build()
	}
	prefix := c.All || len(c.Devices) > 1

	return g.runOnDevices(context.Background(), root, c.Targets, func(ctx context.Context, m *device.Monitor, out *printer) error {
		data, err := m.MixedRealityFile(ctx, c.File)
		if err != nil {
			return err
		}
		name := filepath.Base(c.File)
		if prefix {
			name = m.Name() + "-" + name
		}
		path := filepath.Join(c.Output, name)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to write capture").
				WithContext("path", path).
				Build()
		}
		g.logger().Debug("Capture saved", logfields.Device(m.Name()), logfields.File(path))
		out.Printf(m.Name(), "%s (%d bytes)\n", path, len(data))
		return nil
	})
}

type MrcDeleteCmd struct {
	File    string `arg:"" help:"Capture file name"`
	Targets `embed:""`
}

func (c *MrcDeleteCmd) Run(g *Global, root *CLI) error {
	return g.runOnDevices(context.Background(), root, c.Targets, func(ctx context.Context, m *device.Monitor, out *printer) error {
		if err := m.DeleteMixedRealityFile(ctx, c.File); err != nil {
			return err
		}
		out.Printf(m.Name(), "deleted %s\n", c.File)
		return nil
	})
}

type MrcStartCmd struct {
	Targets `embed:""`
}

func (c *MrcStartCmd) Run(g *Global, root *CLI) error {
	return g.runOnDevices(context.Background(), root, c.Targets, func(ctx context.Context, m *device.Monitor, out *printer) error {
		if err := m.StartMixedRealityRecording(ctx); err != nil {
			return err
		}
		out.Printf(m.Name(), "recording\n")
		return nil
	})
}

type MrcStopCmd struct {
	Targets `embed:""`
}

func (c *MrcStopCmd) Run(g *Global, root *CLI) error {
	return g.runOnDevices(context.Background(), root, c.Targets, func(ctx context.Context, m *device.Monitor, out *printer) error {
		if err := m.StopMixedRealityRecording(ctx); err != nil {
			return err
		}
		out.Printf(m.Name(), "recording stopped\n")
		return nil
	})
}

type MrcLiveURLCmd struct {
	Targets `embed:""`
}

func (c *MrcLiveURLCmd) Run(g *Global, root *CLI) error {
	return g.runOnDevices(context.Background(), root, c.Targets, func(_ context.Context, m *device.Monitor, out *printer) error {
		u, err := m.MixedRealityViewURL()
		if err != nil {
			return err
		}
		out.Printf(m.Name(), "%s\n", u.String())
		return nil
	})
}

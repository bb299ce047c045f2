package commands

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"git.home.luguber.info/inful/holocommander/internal/device"
	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/portal"
)

// AppsCmd implements the 'apps' command.
type AppsCmd struct {
	Sideloaded bool `help:"Only list developer deployed packages"`
	Targets    `embed:""`
}

func (c *AppsCmd) Run(g *Global, root *CLI) error {
	return g.runOnDevices(context.Background(), root, c.Targets, func(ctx context.Context, m *device.Monitor, out *printer) error {
		apps, err := m.InstalledApplications(ctx)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "NAME\tPACKAGE\tAPP ID")
		for _, a := range apps {
			if c.Sideloaded && !a.IsSideloaded() {
				continue
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", a.Name, a.FullName, a.AppID)
		}
		_ = tw.Flush()
		out.Printf(m.Name(), "%s", buf.String())
		return nil
	})
}

// ProcessesCmd implements the 'processes' command.
type ProcessesCmd struct {
	Watch   bool `short:"w" help:"Stream process list updates until interrupted"`
	Targets `embed:""`
}

func (c *ProcessesCmd) Run(g *Global, root *CLI) error {
	return g.runOnDevices(context.Background(), root, c.Targets, func(ctx context.Context, m *device.Monitor, out *printer) error {
		if !c.Watch {
			procs, err := m.RunningProcesses(ctx)
			if err != nil {
				return err
			}
			out.Printf(m.Name(), "%s", formatProcesses(procs))
			return nil
		}

		updates, err := m.WatchRunningProcesses(ctx)
		if err != nil {
			return err
		}
		for snapshot := range updates {
			out.Printf(m.Name(), "%s\n", formatProcesses(snapshot.Processes))
		}
		return nil
	})
}

func formatProcesses(procs []portal.ProcessInfo) string {
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PID\tNAME\tCPU\tMEMORY")
	for _, p := range procs {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%.1f%%\t%d\n", p.ProcessID, p.DisplayName(), p.CPUUsage, p.WorkingSetSize)
	}
	_ = tw.Flush()
	return buf.String()
}

// InstallCmd implements the 'install' command.
type InstallCmd struct {
	Package      string   `arg:"" help:"Application package (.appx, .msix, .appxbundle)" type:"existingfile"`
	Dependencies []string `short:"D" name:"dependency" help:"Dependency package, repeatable" type:"existingfile"`
	Certificate  string   `name:"certificate" help:"Signing certificate to install with the package" type:"existingfile"`
	Targets      `embed:""`
}

func (c *InstallCmd) Run(g *Global, root *CLI) error {
	files := portal.InstallFiles{
		AppPackage:   c.Package,
		Dependencies: c.Dependencies,
		Certificate:  c.Certificate,
	}
	return g.runOnDevices(context.Background(), root, c.Targets, func(ctx context.Context, m *device.Monitor, out *printer) error {
		unsubscribe := m.OnInstallStatus(func(evt portal.InstallStatusEvent) {
			if evt.Message != "" {
				out.Printf(m.Name(), "install %s: %s\n", evt.Phase, evt.Message)
				return
			}
			out.Printf(m.Name(), "install %s\n", evt.Phase)
		})
		defer unsubscribe()
		return m.InstallApplication(ctx, files)
	})
}

// UninstallCmd implements the 'uninstall' command.
type UninstallCmd struct {
	App     string `arg:"" name:"app" help:"Package full name, family name or display name"`
	Targets `embed:""`
}

func (c *UninstallCmd) Run(g *Global, root *CLI) error {
	return g.runOnDevices(context.Background(), root, c.Targets, func(ctx context.Context, m *device.Monitor, out *printer) error {
		pkg, err := lookupPackage(ctx, m, c.App)
		if err != nil {
			return err
		}
		if err := m.UninstallApplication(ctx, pkg.FullName); err != nil {
			return err
		}
		out.Printf(m.Name(), "uninstalled %s\n", pkg.FullName)
		return nil
	})
}

// UninstallAllCmd implements the 'uninstall-all' command.
type UninstallAllCmd struct {
	Targets `embed:""`
}

func (c *UninstallAllCmd) Run(g *Global, root *CLI) error {
	return g.runOnDevices(context.Background(), root, c.Targets, func(ctx context.Context, m *device.Monitor, out *printer) error {
		if err := m.UninstallAllApplications(ctx); err != nil {
			return err
		}
		out.Printf(m.Name(), "sideloaded applications uninstalled\n")
		return nil
	})
}

// LaunchCmd implements the 'launch' command.
type LaunchCmd struct {
	App     string `arg:"" name:"app" help:"Package full name, family name or display name"`
	Targets `embed:""`
}

func (c *LaunchCmd) Run(g *Global, root *CLI) error {
	return g.runOnDevices(context.Background(), root, c.Targets, func(ctx context.Context, m *device.Monitor, out *printer) error {
		pkg, err := lookupPackage(ctx, m, c.App)
		if err != nil {
			return err
		}
		pid, err := m.LaunchApplication(ctx, pkg.AppID, pkg.FullName)
		if err != nil {
			return err
		}
		out.Printf(m.Name(), "launched %s (pid %d)\n", pkg.Name, pid)
		return nil
	})
}

// TerminateCmd implements the 'terminate' command.
type TerminateCmd struct {
	App     string `arg:"" name:"app" help:"Package full name, family name or display name"`
	Targets `embed:""`
}

func (c *TerminateCmd) Run(g *Global, root *CLI) error {
	return g.runOnDevices(context.Background(), root, c.Targets, func(ctx context.Context, m *device.Monitor, out *printer) error {
		pkg, err := lookupPackage(ctx, m, c.App)
		if err != nil {
			return err
		}
		if err := m.TerminateApplication(ctx, pkg.FullName); err != nil {
			return err
		}
		out.Printf(m.Name(), "terminated %s\n", pkg.Name)
		return nil
	})
}

// TerminateAllCmd implements the 'terminate-all' command.
type TerminateAllCmd struct {
	Targets `embed:""`
}

func (c *TerminateAllCmd) Run(g *Global, root *CLI) error {
	return g.runOnDevices(context.Background(), root, c.Targets, func(ctx context.Context, m *device.Monitor, out *printer) error {
		if err := m.TerminateAllApplications(ctx); err != nil {
			return err
		}
		out.Printf(m.Name(), "applications terminated\n")
		return nil
	})
}

// lookupPackage finds an installed package by full name, family name or
// display name, compared case-insensitively in that order.
func lookupPackage(ctx context.Context, m *device.Monitor, query string) (portal.PackageInfo, error) {
	apps, err := m.InstalledApplications(ctx)
	if err != nil {
		return portal.PackageInfo{}, err
	}
	fields := []func(portal.PackageInfo) string{
		func(p portal.PackageInfo) string { return p.FullName },
		func(p portal.PackageInfo) string { return p.FamilyName },
		func(p portal.PackageInfo) string { return p.Name },
	}
	for _, field := range fields {
		for _, p := range apps {
			if strings.EqualFold(field(p), query) {
				return p, nil
			}
		}
	}
	return portal.PackageInfo{}, ferrors.NotFoundError("application not installed").
		WithContext("device", m.Name()).
		WithContext("app", query).
		Build()
}

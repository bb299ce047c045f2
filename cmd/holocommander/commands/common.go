// Package commands implements the holocommander command line.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/holocommander/internal/config"
	"git.home.luguber.info/inful/holocommander/internal/portal"
	"git.home.luguber.info/inful/holocommander/internal/portal/wdp"
	"git.home.luguber.info/inful/holocommander/internal/retry"
)

// Global carries shared dependencies into every command.
type Global struct {
	Logger *slog.Logger
	// Out receives command output. Defaults to stdout.
	Out io.Writer
	// Factory builds portal clients. Defaults to the Device Portal REST
	// client configured from the loaded settings.
	Factory portal.Factory
}

// CLI definition & global flags.
type CLI struct {
	Config    string           `short:"c" help:"Configuration file path" default:"holocommander.yaml" type:"path"`
	Verbose   bool             `short:"v" help:"Enable verbose logging"`
	LogFormat string           `name:"log-format" help:"Log output format" enum:"text,json" default:"text"`
	Version   kong.VersionFlag `name:"version" help:"Show version and exit"`

	Run     RunCmd     `cmd:"" help:"Monitor the configured devices and serve status, metrics and events"`
	Init    InitCmd    `cmd:"" help:"Initialize a new configuration file"`
	Status  StatusCmd  `cmd:"" help:"Connect to devices and report their status"`
	History HistoryCmd `cmd:"" help:"Show journaled events of a device"`

	Name     NameCmd     `cmd:"" help:"Print the machine name of devices"`
	Rename   RenameCmd   `cmd:"" help:"Rename a device and reboot it"`
	Reboot   RebootCmd   `cmd:"" help:"Reboot devices"`
	Shutdown ShutdownCmd `cmd:"" help:"Shut devices down"`
	IPD      IPDCmd      `cmd:"" name:"ipd" help:"Set the inter-pupillary distance in millimeters"`

	Apps         AppsCmd         `cmd:"" help:"List installed applications"`
	Processes    ProcessesCmd    `cmd:"" help:"List running processes"`
	Install      InstallCmd      `cmd:"" help:"Install an application package"`
	Uninstall    UninstallCmd    `cmd:"" help:"Uninstall an application"`
	UninstallAll UninstallAllCmd `cmd:"" name:"uninstall-all" help:"Uninstall every sideloaded application"`
	Launch       LaunchCmd       `cmd:"" help:"Launch an application"`
	Terminate    TerminateCmd    `cmd:"" help:"Terminate an application"`
	TerminateAll TerminateAllCmd `cmd:"" name:"terminate-all" help:"Terminate every running application except the system shell"`

	Mrc MrcCmd `cmd:"" name:"mrc" help:"Mixed reality capture"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(newLogger(os.Stderr, level, config.NormalizeLogFormat(c.LogFormat)))
	return nil
}

func newLogger(w io.Writer, level slog.Level, format config.LogFormat) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (g *Global) out() io.Writer {
	if g == nil || g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

func (g *Global) logger() *slog.Logger {
	if g == nil || g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

func (g *Global) factory(cfg *config.Config) portal.Factory {
	if g != nil && g.Factory != nil {
		return g.Factory
	}
	return wdp.Factory(
		wdp.WithTimeout(cfg.Settings.RequestTimeout),
		wdp.WithRetryPolicy(retry.FromConfig(cfg.Retry)),
	)
}

// printer serializes output of concurrently running device operations.
// Lines are prefixed with the device name when more than one device is
// targeted.
type printer struct {
	mu     sync.Mutex
	w      io.Writer
	prefix bool
}

func (p *printer) Printf(deviceName, format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prefix {
		_, _ = fmt.Fprintf(p.w, "%s: ", deviceName)
	}
	_, _ = fmt.Fprintf(p.w, format, args...)
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

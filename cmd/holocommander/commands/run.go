package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/holocommander/internal/config"
	"git.home.luguber.info/inful/holocommander/internal/daemon"
)

// RunCmd implements the 'run' command.
type RunCmd struct {
	NoWatch bool `name:"no-watch" help:"Do not reload the configuration file on change"`
}

func (r *RunCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	if !root.Verbose {
		slog.SetDefault(newLogger(os.Stderr, cfg.Logging.Level.SlogLevel(), cfg.Logging.Format))
	}

	watchPath := root.Config
	if r.NoWatch {
		watchPath = ""
	}
	var opts []daemon.Option
	if g != nil && g.Factory != nil {
		opts = append(opts, daemon.WithFactory(g.Factory))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return RunDaemon(ctx, cfg, watchPath, opts...)
}

// RunDaemon runs the daemon until ctx is done.
func RunDaemon(ctx context.Context, cfg *config.Config, configPath string, opts ...daemon.Option) error {
	d, err := daemon.NewDaemonWithConfigFile(cfg, configPath, opts...)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(ctx); err != nil {
		return err
	}

	slog.Info("Daemon started, waiting for shutdown signal...")
	<-ctx.Done()
	slog.Info("Shutdown signal received, stopping daemon...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := d.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	slog.Info("Daemon stopped successfully")
	return nil
}

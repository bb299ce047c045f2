package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/holocommander/internal/events"
	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/journal"
	"git.home.luguber.info/inful/holocommander/internal/logfields"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Device string        `arg:"" help:"Device name as recorded in the journal"`
	Limit  int           `short:"n" help:"Number of most recent events to show" default:"50"`
	Since  time.Duration `help:"Only show events newer than this (overrides --limit)"`
	JSON   bool          `name:"json" help:"Print the events as JSON"`
}

func (c *HistoryCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadOptionalConfig(root.Config)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.Journal.Path); errors.Is(err, os.ErrNotExist) {
		return ferrors.NotFoundError("event journal not found").
			WithContext("path", cfg.Journal.Path).
			Build()
	}

	store, err := journal.NewSQLiteStore(cfg.Journal.Path)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryJournal, "failed to open event journal").
			WithContext("path", cfg.Journal.Path).
			Build()
	}
	defer func() { _ = store.Close() }()

	entries, err := c.query(context.Background(), store)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryJournal, "failed to read event journal").Build()
	}

	evts := make([]events.DeviceEvent, 0, len(entries))
	for _, e := range entries {
		evt, err := journal.Decode(e)
		if err != nil {
			g.logger().Warn("Skipping undecodable journal entry", slog.Any("seq", e.Seq), logfields.Error(err))
			continue
		}
		evts = append(evts, evt)
	}

	if c.JSON {
		enc := json.NewEncoder(g.out())
		enc.SetIndent("", "  ")
		return enc.Encode(evts)
	}
	_, err = fmt.Fprint(g.out(), formatHistory(evts))
	return err
}

func (c *HistoryCmd) query(ctx context.Context, store journal.Store) ([]journal.Entry, error) {
	if c.Since <= 0 {
		return store.ByDevice(ctx, c.Device, c.Limit)
	}
	now := time.Now()
	all, err := store.Range(ctx, now.Add(-c.Since), now)
	if err != nil {
		return nil, err
	}
	var out []journal.Entry
	for _, e := range all {
		if e.Device == c.Device {
			out = append(out, e)
		}
	}
	return out, nil
}

func formatHistory(evts []events.DeviceEvent) string {
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tEVENT\tDETAIL")
	for _, evt := range evts {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", evt.OccurredAt().Local().Format(time.DateTime), evt.EventType(), describe(evt))
	}
	_ = tw.Flush()
	return buf.String()
}

func describe(evt events.DeviceEvent) string {
	switch e := evt.(type) {
	case events.DeviceStatusChanged:
		detail := e.From + " -> " + e.To
		if e.Message != "" {
			detail += " (" + e.Message + ")"
		}
		return detail
	case events.InstallProgress:
		if e.Message != "" {
			return e.Phase + ": " + e.Message
		}
		return e.Phase
	case events.TaskFailed:
		return e.Task + ": " + e.Error
	default:
		return ""
	}
}

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"git.home.luguber.info/inful/holocommander/internal/fleet"
)

// StatusCmd implements the 'status' command. Without device arguments every
// configured device is checked.
type StatusCmd struct {
	JSON    bool `name:"json" help:"Print the status as JSON"`
	Targets `embed:""`
}

func (c *StatusCmd) Run(g *Global, root *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t := c.Targets
	if len(t.Devices) == 0 {
		t.All = true
	}
	f, names, closeFleet, err := g.openFleet(root, t)
	if err != nil {
		return err
	}
	defer closeFleet()

	results := connectAndWait(ctx, f, names, t.Wait)
	snapshot := f.Snapshot()

	if c.JSON {
		enc := json.NewEncoder(g.out())
		enc.SetIndent("", "  ")
		return enc.Encode(snapshot)
	}
	_, err = fmt.Fprint(g.out(), formatStatus(snapshot, results))
	return err
}

func formatStatus(snapshot []fleet.DeviceStatus, results []fleet.Result) string {
	took := make(map[string]string, len(results))
	for _, r := range results {
		took[r.Device] = formatDuration(r.Duration)
	}

	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "DEVICE\tADDRESS\tSTATE\tMACHINE NAME\tTOOK\tERROR")
	for _, d := range snapshot {
		machine := d.MachineName
		if machine == "" {
			machine = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", d.Name, d.Address, d.State, machine, took[d.Name], d.LastError)
	}
	_ = tw.Flush()
	return buf.String()
}

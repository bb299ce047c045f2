package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/holocommander/cmd/holocommander/commands"
	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/version"
)

func main() {
	cli := &commands.CLI{}
	parser := kong.Must(cli,
		kong.Name("holocommander"),
		kong.Description("Manage a fleet of HoloLens and Windows Mixed Reality devices through the Device Portal."),
		kong.UsageOnError(),
		kong.Vars{"version": version.Version},
	)

	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	global := &commands.Global{Logger: slog.Default(), Out: os.Stdout}
	if err := kctx.Run(global, cli); err != nil {
		ferrors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
	}
}

package main

import (
	"github.com/alecthomas/kong"
	"github.com/block/crptoolkit/pkg/buildinfo"
	"github.com/block/crptoolkit/pkg/shutdown"
)

var (
	version string
	commit  string
	date    string
)

func main() {
	buildinfo.Set(version, commit, date)
	var cli shutdown.PrepareShutdown
	ctx := kong.Parse(&cli,
		kong.Name("prepare-shutdown"),
		kong.Description("Prepare a MySQL server for a fast, clean shutdown."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(cli.Run())
}

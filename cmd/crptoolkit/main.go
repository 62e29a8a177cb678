package main

import (
	"github.com/alecthomas/kong"
	"github.com/block/crptoolkit/pkg/buildinfo"
	"github.com/block/crptoolkit/pkg/charset"
	"github.com/block/crptoolkit/pkg/shutdown"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version string
	commit  string
	date    string
)

var cli struct {
	PrepareShutdown shutdown.PrepareShutdown `cmd:"" help:"Prepare a MySQL server for a fast, clean shutdown."`
	CharsetConvert  charset.ConvertCmd       `cmd:"" help:"Report on and generate commands for a character set conversion."`
	Version         buildinfo.VersionCmd     `cmd:"" help:"Print version information."`
}

func main() {
	buildinfo.Set(version, commit, date)
	ctx := kong.Parse(&cli,
		kong.Name("crptoolkit"),
		kong.Description("crptoolkit: MySQL operational tooling"),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}

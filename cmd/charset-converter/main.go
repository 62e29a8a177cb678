package main

import (
	"github.com/alecthomas/kong"
	"github.com/block/crptoolkit/pkg/buildinfo"
	"github.com/block/crptoolkit/pkg/charset"
)

var (
	version string
	commit  string
	date    string
)

func main() {
	buildinfo.Set(version, commit, date)
	var cli charset.ConvertCmd
	ctx := kong.Parse(&cli,
		kong.Name("charset-converter"),
		kong.Description("Report on and generate commands for a MySQL character set conversion."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(cli.Run())
}

package charset

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/block/crptoolkit/pkg/config"
	"github.com/block/crptoolkit/pkg/dbconn"
	"github.com/block/crptoolkit/pkg/utils"
)

// ConvertCmd is the charset-convert command.
type ConvertCmd struct {
	config.Options `embed:""`
	Charset        string `name:"charset" short:"c" help:"Charset to convert to" optional:"" default:"utf8mb4"`
	Collation      string `name:"collation" short:"l" help:"Collation to convert to" optional:"" default:"utf8mb4_0900_ai_ci"`
	NoPreflight    bool   `name:"no-preflight" help:"Do not perform preflight checks" optional:""`
	NoDDL          bool   `name:"no-ddl" help:"Do not generate DDL statements" optional:""`
}

func (c *ConvertCmd) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.run(ctx, os.Stdout)
}

func (c *ConvertCmd) run(ctx context.Context, out io.Writer) error {
	logger := config.NewLogger(out, c.Verbose)
	resolved, err := c.Resolve("")
	if err != nil {
		return err
	}
	cfg := resolved.DBConfig()
	cfg.MaxOpenConnections = preflightConcurrency
	db, err := dbconn.New(resolved.DSN(), cfg)
	if err != nil {
		return err
	}
	defer utils.CloseAndLog(db)
	conv := NewConverter(db, out, c.Charset, c.Collation)
	conv.SetLogger(logger)
	conv.NoPreflight = c.NoPreflight
	conv.NoDDL = c.NoDDL
	return conv.Run(ctx)
}

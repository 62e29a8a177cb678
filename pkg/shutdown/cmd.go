package shutdown

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/block/crptoolkit/pkg/config"
	"github.com/block/crptoolkit/pkg/dbconn"
	"github.com/block/crptoolkit/pkg/metrics"
	"github.com/block/crptoolkit/pkg/report"
	"github.com/block/crptoolkit/pkg/utils"
)

// PrepareShutdown is the prepare-shutdown command.
type PrepareShutdown struct {
	config.Options     `embed:""`
	NoTransactionCheck bool `name:"no-transaction-check" help:"Do not check for transactions running > 60 seconds (less safe)" optional:""`
}

func (p *PrepareShutdown) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return p.run(ctx, os.Stdout)
}

func (p *PrepareShutdown) run(ctx context.Context, out io.Writer) error {
	logger := config.NewLogger(out, p.Verbose)
	resolved, err := p.Resolve("")
	if err != nil {
		return err
	}
	cfg := resolved.DBConfig()
	cfg.MaxOpenConnections = 1
	db, err := dbconn.New(resolved.DSN(), cfg)
	if err != nil {
		return err
	}
	defer utils.CloseAndLog(db)
	client, err := dbconn.NewClient(ctx, db)
	if err != nil {
		return err
	}
	logger.Info("[ START ] preparing MySQL for shutdown", "target", resolved.Target(), "version", client.Version())
	preparer := NewPreparer(client, logger)
	preparer.NoTransactionCheck = p.NoTransactionCheck
	preparer.SetMetricsSink(metrics.NewLogSink(logger))
	if err := printBlockers(out, preparer.Run(ctx)); err != nil {
		return err
	}
	logger.Info("[ COMPLETED ] MySQL is ready for shutdown!")
	return nil
}

// printBlockers renders the transactions behind a LongRunningTransactionError
// and passes err through unchanged.
func printBlockers(w io.Writer, err error) error {
	var trxErr *LongRunningTransactionError
	if errors.As(err, &trxErr) {
		if rerr := report.Transactions(w, trxErr.Transactions); rerr != nil {
			return errors.Join(err, rerr)
		}
	}
	return err
}

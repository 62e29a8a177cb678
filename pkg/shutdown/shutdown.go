// Package shutdown prepares a MySQL server for a safe, slow shutdown:
// replication is stopped, long-running transactions are refused, dirty
// pages are drained and the shutdown-related server variables are set.
package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/block/crptoolkit/pkg/dbconn"
	"github.com/block/crptoolkit/pkg/metrics"
	"github.com/block/crptoolkit/pkg/utils"
	"github.com/google/uuid"
)

// Overridden by tests.
var (
	replicaCatchupWait = 10 * time.Second
	drainPollInterval  = time.Second
	drainTimeout       = time.Minute
)

const (
	// TransactionThreshold is the age above which an open transaction
	// blocks the shutdown preparation.
	TransactionThreshold = 60 * time.Second

	varMaxDirtyPagesPct     = "innodb_max_dirty_pages_pct"
	varFastShutdown         = "innodb_fast_shutdown"
	varDumpAtShutdown       = "innodb_buffer_pool_dump_at_shutdown"
	varDumpPct              = "innodb_buffer_pool_dump_pct"
	varLoadAtStartup        = "innodb_buffer_pool_load_at_startup"
	statusDirtyPages        = "Innodb_buffer_pool_pages_dirty"
	bufferPoolDumpPctTarget = 75
)

// Client is the set of server operations the preparation needs.
// *dbconn.Client is the MySQL implementation.
type Client interface {
	GetVariable(ctx context.Context, name string) (string, error)
	SetVariable(ctx context.Context, name string, value any) error
	GetStatusVariable(ctx context.Context, name string) (string, error)
	// ReplicaStatus returns nil when the server is not a replica.
	ReplicaStatus(ctx context.Context) (*dbconn.ReplicaStatus, error)
	ReplicaParallelWorkers(ctx context.Context) (int, error)
	StopReplicationIOThread(ctx context.Context) error
	StopReplicationSQLThread(ctx context.Context) error
	StartReplication(ctx context.Context) error
	LongRunningTransactions(ctx context.Context, threshold time.Duration) ([]dbconn.Transaction, error)
}

var _ Client = (*dbconn.Client)(nil)

// RunContext is the state of a single preparation run. It is never
// reused: a retry after a failure derives all of it again.
type RunContext struct {
	IsReplica             bool
	NoTransactionCheck    bool
	OriginalDirtyPagesPct float64
	DirtyPagesStart       int64

	// replicationWasStopped is set when both replication threads were
	// already stopped before the run; they are then never restarted.
	replicationWasStopped bool
}

type Preparer struct {
	client      Client
	logger      *slog.Logger
	metricsSink metrics.Sink

	// NoTransactionCheck skips the long-running transaction check.
	NoTransactionCheck bool
}

func NewPreparer(client Client, logger *slog.Logger) *Preparer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preparer{client: client, logger: logger, metricsSink: &metrics.NoopSink{}}
}

func (p *Preparer) SetLogger(logger *slog.Logger) {
	p.logger = logger
}

func (p *Preparer) SetMetricsSink(sink metrics.Sink) {
	p.metricsSink = sink
}

// Prepare runs the full shutdown preparation against client.
// Cancelling ctx while dirty pages are draining reverts
// innodb_max_dirty_pages_pct (and restarts replication on a replica)
// before returning an *InterruptedError.
func Prepare(ctx context.Context, client Client, noTransactionCheck bool, logger *slog.Logger) error {
	p := NewPreparer(client, logger)
	p.NoTransactionCheck = noTransactionCheck
	return p.Run(ctx)
}

// run carries the per-run state through the steps.
type run struct {
	client      Client
	logger      *slog.Logger
	metricsSink metrics.Sink
	state       RunContext
}

func (p *Preparer) newRun() *run {
	return &run{
		client:      p.client,
		logger:      p.logger.With("run_id", uuid.NewString()),
		metricsSink: p.metricsSink,
		state:       RunContext{NoTransactionCheck: p.NoTransactionCheck},
	}
}

func (p *Preparer) Run(ctx context.Context) error {
	r := p.newRun()
	r.logger.Info("preparing MySQL for shutdown")
	if err := r.stopReplication(ctx); err != nil {
		return err
	}
	if err := r.checkTransactions(ctx); err != nil {
		return err
	}
	if _, err := r.drainDirtyPages(ctx); err != nil {
		return err
	}
	if err := r.finalize(ctx); err != nil {
		return err
	}
	r.logger.Info("MySQL is prepared for shutdown")
	return nil
}

func (r *run) stopReplication(ctx context.Context) error {
	r.logger.Debug("checking if this is a replica")
	status, err := r.client.ReplicaStatus(ctx)
	if err != nil {
		return err
	}
	if status == nil {
		r.logger.Debug("this is not a replica, skipping replication tasks")
		return nil
	}
	r.logger.Info("this is a replica, stopping replication")
	workers, err := r.client.ReplicaParallelWorkers(ctx)
	if err != nil {
		return err
	}
	if workers > 0 {
		return &MultiThreadedReplicaError{Workers: workers}
	}
	r.state.IsReplica = true
	if status.Stopped() {
		r.state.replicationWasStopped = true
		r.logger.Warn("replication was already stopped")
		return nil
	}
	r.logger.Debug("stopping IO thread")
	if err := r.client.StopReplicationIOThread(ctx); err != nil {
		return err
	}
	r.logger.Debug("giving the SQL thread time to catch up", "wait", replicaCatchupWait)
	if err := sleep(ctx, replicaCatchupWait); err != nil {
		return err
	}
	r.logger.Debug("stopping SQL thread")
	if err := r.client.StopReplicationSQLThread(ctx); err != nil {
		return err
	}
	if status, err = r.client.ReplicaStatus(ctx); err != nil || status == nil {
		r.logger.Warn("replication stopped, but could not read the stopped position", "error", err)
		return nil
	}
	r.sendMetrics(ctx, metrics.MetricValue{Name: metrics.ReplicationStoppedMetricName, Type: metrics.GAUGE, Value: 1})
	r.logger.Info("replication stopped",
		"position", status.Position.String(),
		"executed_gtid_set", status.ExecutedGTIDs(),
	)
	return nil
}

// restartReplication undoes stopReplication. It is a no-op on a primary
// or when replication was already stopped before the run.
func (r *run) restartReplication(ctx context.Context) error {
	if !r.state.IsReplica || r.state.replicationWasStopped {
		return nil
	}
	r.logger.Warn("restarting replication")
	return r.client.StartReplication(ctx)
}

func (r *run) checkTransactions(ctx context.Context) error {
	if r.state.NoTransactionCheck {
		r.logger.Warn("--no-transaction-check was used, not checking for long running transactions")
		return nil
	}
	r.logger.Debug("checking for long running transactions", "threshold", TransactionThreshold)
	trxs, err := r.client.LongRunningTransactions(ctx, TransactionThreshold)
	if err != nil {
		return err
	}
	r.sendMetrics(ctx, metrics.MetricValue{Name: metrics.LongRunningTrxMetricName, Type: metrics.GAUGE, Value: float64(len(trxs))})
	if len(trxs) > 0 {
		trxErr := &LongRunningTransactionError{Threshold: TransactionThreshold, Transactions: trxs}
		if err := r.restartReplication(ctx); err != nil {
			return errors.Join(trxErr, err)
		}
		return trxErr
	}
	r.logger.Info("no transactions found running longer than the threshold", "threshold", TransactionThreshold)
	return nil
}

func (r *run) finalize(ctx context.Context) error {
	r.logger.Info("setting innodb_fast_shutdown", "value", 0)
	if err := r.client.SetVariable(ctx, varFastShutdown, 0); err != nil {
		return err
	}
	r.logger.Info("setting innodb_buffer_pool_dump_at_shutdown", "value", "ON")
	if err := r.client.SetVariable(ctx, varDumpAtShutdown, "ON"); err != nil {
		return err
	}
	r.logger.Info("setting innodb_buffer_pool_dump_pct", "value", bufferPoolDumpPctTarget)
	if err := r.client.SetVariable(ctx, varDumpPct, bufferPoolDumpPctTarget); err != nil {
		return err
	}
	load, err := r.client.GetVariable(ctx, varLoadAtStartup)
	if err != nil {
		return err
	}
	if !utils.IsTruthy(load) {
		r.logger.Warn("innodb_buffer_pool_load_at_startup is not enabled, the buffer pool dump will not be loaded on startup. You may want to set innodb_buffer_pool_load_at_startup = ON in my.cnf",
			"value", load,
		)
	}
	return nil
}

// sendMetrics never fails the run; a broken sink is only logged.
func (r *run) sendMetrics(ctx context.Context, values ...metrics.MetricValue) {
	if err := metrics.Send(ctx, r.metricsSink, &metrics.Metrics{Values: values}); err != nil {
		r.logger.Warn("could not send metrics", "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

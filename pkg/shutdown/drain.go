package shutdown

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/block/crptoolkit/pkg/metrics"
)

const (
	// The drain is considered done once dirty pages fall below either
	// threshold. The floor covers servers that start with few dirty pages.
	drainFraction  = 0.10
	drainPageFloor = 500
)

type drainOutcome int

const (
	drainContinue drainOutcome = iota
	drainedEmpty
	drainedFraction
	drainedFloor
	drainTimedOut
)

func (o drainOutcome) String() string {
	switch o {
	case drainContinue:
		return "continue"
	case drainedEmpty:
		return "empty"
	case drainedFraction:
		return "belowFraction"
	case drainedFloor:
		return "belowFloor"
	case drainTimedOut:
		return "timedOut"
	}
	return "unknown"
}

// evaluateDrain decides whether polling can stop. Conditions are checked
// in priority order; the timeout is only reported when nothing else holds.
func evaluateDrain(current, start int64, timedOut bool) drainOutcome {
	switch {
	case current == 0:
		return drainedEmpty
	case float64(current) < float64(start)*drainFraction:
		return drainedFraction
	case current < drainPageFloor:
		return drainedFloor
	case timedOut:
		return drainTimedOut
	}
	return drainContinue
}

func (r *run) dirtyPages(ctx context.Context) (int64, error) {
	raw, err := r.client.GetStatusVariable(ctx, statusDirtyPages)
	if err != nil {
		return 0, err
	}
	pages, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("could not parse %s value %q: %w", statusDirtyPages, raw, err)
	}
	return pages, nil
}

// drainDirtyPages sets innodb_max_dirty_pages_pct to 0 and waits for
// InnoDB to flush. Once the variable has been changed, any failure
// (including cancellation of ctx) reverts it before returning.
func (r *run) drainDirtyPages(ctx context.Context) (outcome drainOutcome, err error) {
	raw, err := r.client.GetVariable(ctx, varMaxDirtyPagesPct)
	if err != nil {
		return drainContinue, err
	}
	if r.state.OriginalDirtyPagesPct, err = strconv.ParseFloat(raw, 64); err != nil {
		return drainContinue, fmt.Errorf("could not parse %s value %q: %w", varMaxDirtyPagesPct, raw, err)
	}
	if r.state.DirtyPagesStart, err = r.dirtyPages(ctx); err != nil {
		return drainContinue, err
	}
	r.logger.Info("setting innodb_max_dirty_pages_pct",
		"value", 0,
		"original", r.state.OriginalDirtyPagesPct,
		"dirty_pages", r.state.DirtyPagesStart,
	)
	if err = r.client.SetVariable(ctx, varMaxDirtyPagesPct, 0.0); err != nil {
		return drainContinue, err
	}
	defer func() {
		if err != nil {
			err = r.rollbackDrain(ctx, err)
		}
	}()

	r.sendMetrics(ctx, metrics.MetricValue{Name: metrics.DirtyPagesStartMetricName, Type: metrics.GAUGE, Value: float64(r.state.DirtyPagesStart)})
	started := time.Now()
	deadline := started.Add(drainTimeout)
	for {
		var current int64
		if current, err = r.dirtyPages(ctx); err != nil {
			return drainContinue, err
		}
		r.sendMetrics(ctx,
			metrics.MetricValue{Name: metrics.DirtyPagesMetricName, Type: metrics.GAUGE, Value: float64(current)},
			metrics.MetricValue{Name: metrics.DrainPollsMetricName, Type: metrics.COUNTER, Value: 1},
			metrics.MetricValue{Name: metrics.DrainElapsedMetricName, Type: metrics.GAUGE, Value: float64(time.Since(started).Milliseconds())},
		)
		outcome = evaluateDrain(current, r.state.DirtyPagesStart, time.Now().After(deadline))
		switch outcome {
		case drainedEmpty:
			r.logger.Debug("dirty pages = 0, continuing to prepare for shutdown")
			return outcome, nil
		case drainedFraction:
			r.logger.Debug("dirty pages < 10% of the starting count, continuing to prepare for shutdown",
				"dirty_pages", current, "start", r.state.DirtyPagesStart)
			return outcome, nil
		case drainedFloor:
			r.logger.Debug("dirty pages < 500, continuing to prepare for shutdown", "dirty_pages", current)
			return outcome, nil
		case drainTimedOut:
			r.logger.Warn("dirty pages may still be high after waiting, continuing to prepare for shutdown",
				"dirty_pages", current, "start", r.state.DirtyPagesStart, "waited", drainTimeout)
			return outcome, nil
		}
		r.logger.Info("waiting for dirty pages to drop", "dirty_pages", current, "timeout", drainTimeout)
		if err = sleep(ctx, drainPollInterval); err != nil {
			return drainContinue, err
		}
	}
}

// rollbackDrain restores innodb_max_dirty_pages_pct and restarts
// replication. It runs on a context that cannot be cancelled, so an
// interrupt cannot leave the rollback half done.
func (r *run) rollbackDrain(ctx context.Context, cause error) error {
	rollbackCtx := context.WithoutCancel(ctx)
	var errs []error
	if err := r.client.SetVariable(rollbackCtx, varMaxDirtyPagesPct, r.state.OriginalDirtyPagesPct); err != nil {
		errs = append(errs, fmt.Errorf("could not revert %s to %v: %w", varMaxDirtyPagesPct, r.state.OriginalDirtyPagesPct, err))
	} else {
		r.logger.Warn("reverted innodb_max_dirty_pages_pct", "value", r.state.OriginalDirtyPagesPct)
	}
	restarted := false
	if err := r.restartReplication(rollbackCtx); err != nil {
		errs = append(errs, fmt.Errorf("could not restart replication: %w", err))
	} else {
		restarted = r.state.IsReplica && !r.state.replicationWasStopped
	}

	if ctx.Err() == nil {
		return errors.Join(append([]error{cause}, errs...)...)
	}
	interrupted := &InterruptedError{
		Cause:                 context.Cause(ctx),
		RestoredDirtyPagesPct: r.state.OriginalDirtyPagesPct,
		ReplicationRestarted:  restarted,
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{interrupted}, errs...)...)
	}
	r.logger.Error("interrupted, reverted changes before exiting",
		"innodb_max_dirty_pages_pct", r.state.OriginalDirtyPagesPct,
		"replication_restarted", restarted,
	)
	return interrupted
}

package shutdown

import (
	"fmt"
	"time"

	"github.com/block/crptoolkit/pkg/dbconn"
)

// MultiThreadedReplicaError is returned before any server state is
// changed when the replica applies with parallel workers.
type MultiThreadedReplicaError struct {
	Workers int
}

func (e *MultiThreadedReplicaError) Error() string {
	return fmt.Sprintf("this is a multi-threaded replica (%d parallel workers) and cannot be stopped safely by this tool", e.Workers)
}

// LongRunningTransactionError lists the transactions that block the
// shutdown preparation. Replication has already been restarted when it
// is returned.
type LongRunningTransactionError struct {
	Threshold    time.Duration
	Transactions []dbconn.Transaction
}

func (e *LongRunningTransactionError) Error() string {
	return fmt.Sprintf("%d transaction(s) found running > %s. COMMIT, ROLLBACK, or kill them. Otherwise, use the less safe --no-transaction-check",
		len(e.Transactions), e.Threshold)
}

// InterruptedError is returned when the run was cancelled while dirty
// pages were draining and the rollback completed.
type InterruptedError struct {
	Cause                 error
	RestoredDirtyPagesPct float64
	ReplicationRestarted  bool
}

func (e *InterruptedError) Error() string {
	msg := fmt.Sprintf("interrupted: reverted innodb_max_dirty_pages_pct to %v", e.RestoredDirtyPagesPct)
	if e.ReplicationRestarted {
		msg += " and restarted replication"
	}
	return msg + " before exiting"
}

func (e *InterruptedError) Unwrap() error {
	return e.Cause
}

package dbconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/block/crptoolkit/pkg/utils"
	"github.com/coreos/go-semver/semver"
)

var ErrUnknownStatusVariable = errors.New("unknown status variable")

const (
	// LongRunningTransactionQuery lists open InnoDB transactions older than
	// the threshold (in seconds) together with the session that owns them.
	LongRunningTransactionQuery = `SELECT
		trx.trx_id,
		trx.trx_started,
		TIMESTAMPDIFF(SECOND, trx.trx_started, NOW()) AS trx_duration_seconds,
		p.id,
		p.user,
		p.host,
		p.command,
		p.time,
		p.info
	FROM information_schema.innodb_trx trx
	JOIN information_schema.processlist p ON trx.trx_mysql_thread_id = p.id
	WHERE TIMESTAMPDIFF(SECOND, trx.trx_started, NOW()) > ?
	ORDER BY trx.trx_started`

	infoSnippetLength = 25
)

var (
	// MySQL 8.0.22 introduced SHOW REPLICA STATUS / STOP REPLICA.
	replicaSyntaxVersion = semver.Version{Major: 8, Minor: 0, Patch: 22}
	// MySQL 8.0.26 renamed slave_parallel_workers.
	replicaVariablesVersion = semver.Version{Major: 8, Minor: 0, Patch: 26}
)

// Transaction is one long-running transaction and the session that owns it.
type Transaction struct {
	ID           string
	StartedAt    string // server local time, as reported by innodb_trx
	Duration     time.Duration
	ConnectionID int64
	User         string
	Host         string
	Command      string
	Elapsed      time.Duration // time in the current command state
	Info         string        // first 25 characters of the running statement
}

// Client runs the administrative statements needed to prepare a server
// for shutdown. It holds no state beyond the syntax flavour detected at
// construction and never closes the *sql.DB it was given.
type Client struct {
	db      *sql.DB
	version string

	showReplicaStatus    string
	stopIOThread         string
	stopSQLThread        string
	startReplication     string
	parallelWorkersParam string
}

// NewClient detects the server version and returns a Client using the
// replication syntax the server understands.
func NewClient(ctx context.Context, db *sql.DB) (*Client, error) {
	var version string
	if err := db.QueryRowContext(ctx, "SELECT @@version").Scan(&version); err != nil {
		return nil, fmt.Errorf("could not detect server version: %w", err)
	}
	return newClientForVersion(db, version), nil
}

func newClientForVersion(db *sql.DB, version string) *Client {
	c := &Client{
		db:                   db,
		version:              version,
		showReplicaStatus:    "SHOW SLAVE STATUS",
		stopIOThread:         "STOP SLAVE IO_THREAD",
		stopSQLThread:        "STOP SLAVE SQL_THREAD",
		startReplication:     "START SLAVE",
		parallelWorkersParam: "slave_parallel_workers",
	}
	if strings.Contains(strings.ToLower(version), "mariadb") {
		return c
	}
	v, err := semver.NewVersion(strings.SplitN(version, "-", 2)[0])
	if err != nil {
		return c // unknown format, legacy syntax works everywhere it matters
	}
	if !v.LessThan(replicaSyntaxVersion) {
		c.showReplicaStatus = "SHOW REPLICA STATUS"
		c.stopIOThread = "STOP REPLICA IO_THREAD"
		c.stopSQLThread = "STOP REPLICA SQL_THREAD"
		c.startReplication = "START REPLICA"
	}
	if !v.LessThan(replicaVariablesVersion) {
		c.parallelWorkersParam = "replica_parallel_workers"
	}
	return c
}

// Version returns the server version string detected by NewClient.
func (c *Client) Version() string {
	return c.version
}

// GetVariable returns the global value of a system variable.
// NULL is returned as an empty string.
func (c *Client) GetVariable(ctx context.Context, name string) (string, error) {
	if err := validateVariableName(name); err != nil {
		return "", err
	}
	var value sql.NullString
	if err := c.db.QueryRowContext(ctx, "SELECT @@GLOBAL."+name).Scan(&value); err != nil {
		return "", fmt.Errorf("could not read %s: %w", name, err)
	}
	return value.String, nil
}

// SetVariable runs SET GLOBAL name = value.
func (c *Client) SetVariable(ctx context.Context, name string, value any) error {
	if err := validateVariableName(name); err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, "SET GLOBAL "+name+" = ?", value); err != nil {
		return fmt.Errorf("could not set %s: %w", name, err)
	}
	return nil
}

// GetStatusVariable returns the value of a global status variable.
func (c *Client) GetStatusVariable(ctx context.Context, name string) (string, error) {
	if err := validateVariableName(name); err != nil {
		return "", err
	}
	var varName, value string
	err := c.db.QueryRowContext(ctx, "SHOW GLOBAL STATUS LIKE '"+name+"'").Scan(&varName, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrUnknownStatusVariable, name)
	}
	if err != nil {
		return "", fmt.Errorf("could not read status %s: %w", name, err)
	}
	return value, nil
}

// ReplicaStatus returns the replication status of the server, or nil if
// the server is not a replica. With multi-source replication the first
// channel is returned.
func (c *Client) ReplicaStatus(ctx context.Context) (*ReplicaStatus, error) {
	rows, err := c.db.QueryContext(ctx, c.showReplicaStatus)
	if err != nil {
		return nil, fmt.Errorf("could not read replica status: %w", err)
	}
	defer utils.CloseAndLog(rows)
	statuses, err := scanRowMaps(rows)
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return nil, nil
	}
	return newReplicaStatus(statuses[0])
}

// ReplicaParallelWorkers returns the number of applier threads configured
// on this server. Zero means a single-threaded replica.
func (c *Client) ReplicaParallelWorkers(ctx context.Context) (int, error) {
	var workers int
	if err := c.db.QueryRowContext(ctx, "SELECT @@GLOBAL."+c.parallelWorkersParam).Scan(&workers); err != nil {
		return 0, fmt.Errorf("could not read %s: %w", c.parallelWorkersParam, err)
	}
	return workers, nil
}

func (c *Client) StopReplicationIOThread(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, c.stopIOThread)
	return err
}

func (c *Client) StopReplicationSQLThread(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, c.stopSQLThread)
	return err
}

func (c *Client) StartReplication(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, c.startReplication)
	return err
}

// LongRunningTransactions returns transactions that have been open longer
// than threshold, oldest first.
func (c *Client) LongRunningTransactions(ctx context.Context, threshold time.Duration) ([]Transaction, error) {
	rows, err := c.db.QueryContext(ctx, LongRunningTransactionQuery, int64(threshold.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("could not list transactions: %w", err)
	}
	defer utils.CloseAndLog(rows)
	var trxs []Transaction
	for rows.Next() {
		var (
			trx                      Transaction
			durationSecs, timeSecs   sql.NullInt64
			user, host, command, inf sql.NullString
		)
		if err := rows.Scan(
			&trx.ID,
			&trx.StartedAt,
			&durationSecs,
			&trx.ConnectionID,
			&user,
			&host,
			&command,
			&timeSecs,
			&inf,
		); err != nil {
			return nil, err
		}
		trx.Duration = time.Duration(durationSecs.Int64) * time.Second
		trx.Elapsed = time.Duration(timeSecs.Int64) * time.Second
		trx.User = user.String
		trx.Host = utils.StripPort(host.String)
		trx.Command = command.String
		trx.Info = utils.Truncate(inf.String, infoSnippetLength)
		trxs = append(trxs, trx)
	}
	return trxs, rows.Err()
}

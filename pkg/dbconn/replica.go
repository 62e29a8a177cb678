package dbconn

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-mysql-org/go-mysql/mysql"
)

// ReplicaStatus is the subset of SHOW REPLICA STATUS we act on.
// Column names changed in MySQL 8.0.22 (Source/Replica instead of
// Master/Slave); both spellings are accepted.
type ReplicaStatus struct {
	Channel         string
	IORunning       bool
	SQLRunning      bool
	SecondsBehind   sql.NullInt64
	Position        mysql.Position // executed position in the source's binary log
	ExecutedGTIDSet mysql.GTIDSet
	LastError       string
}

// Stopped reports whether both replication threads are stopped.
func (s *ReplicaStatus) Stopped() bool {
	return !s.IORunning && !s.SQLRunning
}

// ExecutedGTIDs returns the executed GTID set as text, or "" when
// GTID mode is off.
func (s *ReplicaStatus) ExecutedGTIDs() string {
	if s.ExecutedGTIDSet == nil {
		return ""
	}
	return s.ExecutedGTIDSet.String()
}

func firstOf(row map[string]string, names ...string) string {
	for _, name := range names {
		if v, ok := row[name]; ok {
			return v
		}
	}
	return ""
}

// newReplicaStatus builds a ReplicaStatus from one SHOW REPLICA STATUS row
// keyed by lower-cased column name.
func newReplicaStatus(row map[string]string) (*ReplicaStatus, error) {
	status := &ReplicaStatus{
		Channel:    row["channel_name"],
		IORunning:  firstOf(row, "replica_io_running", "slave_io_running") != "No",
		SQLRunning: firstOf(row, "replica_sql_running", "slave_sql_running") == "Yes",
		LastError:  firstOf(row, "last_error"),
	}
	if v := firstOf(row, "seconds_behind_source", "seconds_behind_master"); v != "" {
		behind, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("could not parse seconds behind %q: %w", v, err)
		}
		status.SecondsBehind = sql.NullInt64{Int64: behind, Valid: true}
	}
	status.Position.Name = firstOf(row, "relay_source_log_file", "relay_master_log_file")
	if v := firstOf(row, "exec_source_log_pos", "exec_master_log_pos"); v != "" {
		pos, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("could not parse executed position %q: %w", v, err)
		}
		status.Position.Pos = uint32(pos)
	}
	// The server wraps long GTID sets over several lines.
	if gtids := strings.ReplaceAll(row["executed_gtid_set"], "\n", ""); gtids != "" {
		set, err := mysql.ParseMysqlGTIDSet(gtids)
		if err != nil {
			return nil, fmt.Errorf("could not parse executed GTID set: %w", err)
		}
		status.ExecutedGTIDSet = set
	}
	return status, nil
}

// scanRowMaps drains rows into maps keyed by lower-cased column name.
// NULL values are omitted from the map.
func scanRowMaps(rows *sql.Rows) ([]map[string]string, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var result []map[string]string
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make(map[string]string, len(columns))
		for i, col := range columns {
			if values[i].Valid {
				row[strings.ToLower(col)] = values[i].String
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

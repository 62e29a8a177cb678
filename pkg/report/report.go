// Package report renders query results as text tables for operators.
package report

import (
	"database/sql"
	"io"
	"strconv"

	"github.com/block/crptoolkit/pkg/dbconn"
	"github.com/olekukonko/tablewriter"
)

// Null is how a NULL column value is rendered.
const Null = "NULL"

var transactionColumns = []string{
	"trx_id", "trx_started", "trx_duration_seconds", "id", "user", "host", "command", "time", "info",
}

// Transactions renders long running transactions in the same shape as
// dbconn.LongRunningTransactionQuery returns them.
func Transactions(w io.Writer, trxs []dbconn.Transaction) error {
	rows := make([][]string, 0, len(trxs))
	for _, trx := range trxs {
		rows = append(rows, []string{
			trx.ID,
			trx.StartedAt,
			strconv.FormatInt(int64(trx.Duration.Seconds()), 10),
			strconv.FormatInt(trx.ConnectionID, 10),
			trx.User,
			trx.Host,
			trx.Command,
			strconv.FormatInt(int64(trx.Elapsed.Seconds()), 10),
			trx.Info,
		})
	}
	return Rows(w, transactionColumns, rows)
}

// Rows renders a bordered table. An empty result set is written as
// "Empty set" rather than a header with no rows.
func Rows(w io.Writer, columns []string, rows [][]string) error {
	if len(rows) == 0 {
		_, err := io.WriteString(w, "Empty set\n")
		return err
	}
	table := tablewriter.NewWriter(w)
	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	table.Header(header...)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// Scan drains rows into strings. It does not close rows.
func Scan(rows *sql.Rows) ([]string, [][]string, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out [][]string
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, err
		}
		row := make([]string, len(columns))
		for i, v := range values {
			if v.Valid {
				row[i] = v.String
			} else {
				row[i] = Null
			}
		}
		out = append(out, row)
	}
	return columns, out, rows.Err()
}

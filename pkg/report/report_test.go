package report

import (
	"bytes"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/block/crptoolkit/pkg/dbconn"
	"github.com/block/crptoolkit/pkg/testutils"
	"github.com/block/crptoolkit/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRowsEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Rows(&buf, []string{"a", "b"}, nil))
	assert.Equal(t, "Empty set\n", buf.String())
}

func TestRows(t *testing.T) {
	var buf bytes.Buffer
	err := Rows(&buf, []string{"schema_name", "collation"}, [][]string{
		{"db1", "latin1_swedish_ci"},
		{"db2", Null},
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "db1")
	assert.Contains(t, out, "latin1_swedish_ci")
	assert.Contains(t, out, "NULL")
	// Two data rows plus the header are all on separate lines.
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.GreaterOrEqual(t, len(lines), 3)
}

func TestTransactions(t *testing.T) {
	var buf bytes.Buffer
	err := Transactions(&buf, []dbconn.Transaction{
		{
			ID:           "421",
			StartedAt:    "2024-01-02 03:04:05",
			Duration:     95 * time.Second,
			ConnectionID: 17,
			User:         "app",
			Host:         "10.0.0.1",
			Command:      "Sleep",
			Elapsed:      90 * time.Second,
			Info:         "UPDATE t1 SET a = 1",
		},
	})
	require.NoError(t, err)
	out := buf.String()
	for _, want := range []string{"421", "2024-01-02 03:04:05", "95", "17", "app", "10.0.0.1", "Sleep", "90", "UPDATE t1 SET a = 1"} {
		assert.Contains(t, out, want)
	}
}

func TestScan(t *testing.T) {
	db, err := sql.Open("mysql", testutils.DSN())
	require.NoError(t, err)
	defer utils.CloseAndLog(db)

	rows, err := db.QueryContext(t.Context(), "SELECT 1 AS a, NULL AS b, 'x' AS c UNION ALL SELECT 2, 'y', NULL")
	require.NoError(t, err)
	defer utils.CloseAndLog(rows)

	columns, out, err := Scan(rows)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, columns)
	assert.Equal(t, [][]string{{"1", "NULL", "x"}, {"2", "y", "NULL"}}, out)
}

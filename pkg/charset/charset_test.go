package charset

import (
	"bytes"
	"database/sql"
	"io"
	"log/slog"
	"strings"
	"testing"

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

func newTestConverter(t *testing.T, out io.Writer, charset, collation string) (*Converter, *sql.DB) {
	t.Helper()
	cfg := dbconn.NewDBConfig()
	cfg.MaxOpenConnections = preflightConcurrency
	db, err := dbconn.New(testutils.DSN(), cfg)
	require.NoError(t, err)
	c := NewConverter(db, out, charset, collation)
	c.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return c, db
}

func setupLatin1Schema(t *testing.T) {
	t.Helper()
	testutils.RunSQL(t, "DROP DATABASE IF EXISTS crp_charset_test")
	testutils.RunSQL(t, "CREATE DATABASE crp_charset_test DEFAULT CHARACTER SET latin1 COLLATE latin1_swedish_ci")
	testutils.RunSQL(t, `CREATE TABLE crp_charset_test.t1 (
		id INT NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		KEY (name)
	) DEFAULT CHARSET=latin1`)
}

func TestNotSystemSchema(t *testing.T) {
	assert.Equal(t,
		"t.table_schema NOT IN ('information_schema', 'mysql', 'performance_schema', 'sys')",
		notSystemSchema("t.table_schema"))
}

func TestCheckGenerated(t *testing.T) {
	c := NewConverter(nil, io.Discard, DefaultCharset, DefaultCollation)
	assert.NoError(t, c.checkGenerated("ALTER DATABASE `db1` DEFAULT CHARACTER SET utf8mb4 COLLATE utf8mb4_0900_ai_ci;"))
	assert.NoError(t, c.checkGenerated("ALTER TABLE `db1`.`t1` CONVERT TO CHARACTER SET utf8mb4 COLLATE utf8mb4_0900_ai_ci;"))
	assert.NoError(t, c.checkGenerated(`SET GLOBAL collation_server = "utf8mb4_0900_ai_ci";`))

	// A backtick in a name that was not escaped breaks the statement.
	assert.Error(t, c.checkGenerated("ALTER TABLE `db1`.`t`1` CONVERT TO CHARACTER SET utf8mb4 COLLATE utf8mb4_0900_ai_ci;"))
	// Escaped backticks parse, and the target pair is checked.
	assert.NoError(t, c.checkGenerated("ALTER TABLE `db1`.`t``1` CONVERT TO CHARACTER SET utf8mb4 COLLATE utf8mb4_0900_ai_ci;"))
	assert.Error(t, c.checkGenerated("ALTER TABLE `db1`.`t1` CONVERT TO CHARACTER SET utf8mb4 COLLATE utf8mb4_general_ci;"))
	assert.Error(t, c.checkGenerated("DROP TABLE `db1`.`t1`"))
	assert.Error(t, c.checkGenerated("ALTER TABLE t1 ADD INDEX (a); ALTER TABLE t2 ADD INDEX (b)"))
}

func TestValidate(t *testing.T) {
	c, db := newTestConverter(t, io.Discard, DefaultCharset, DefaultCollation)
	defer utils.CloseAndLog(db)
	require.NoError(t, c.Validate(t.Context()))

	c.Collation = "latin1_swedish_ci"
	assert.ErrorIs(t, c.Validate(t.Context()), ErrInvalidCharsetCollation)

	c.Charset, c.Collation = "notacharset", "notacollation"
	assert.ErrorIs(t, c.Validate(t.Context()), ErrInvalidCharsetCollation)
}

func TestPreflight(t *testing.T) {
	setupLatin1Schema(t)
	var buf bytes.Buffer
	c, db := newTestConverter(t, &buf, DefaultCharset, DefaultCollation)
	defer utils.CloseAndLog(db)

	require.NoError(t, c.Preflight(t.Context()))
	out := buf.String()
	// Sections are printed in order even though they run concurrently.
	last := -1
	for _, heading := range []string{
		"1) Character set and collation global variables:",
		"2) Databases that are not utf8mb4 and utf8mb4_0900_ai_ci:",
		"3) Tables that are not utf8mb4 and utf8mb4_0900_ai_ci:",
		"4) Client connections overriding character set and collation session variables:",
		"5) Indexed string columns > 3072 bytes (for utf8 -> utf8mb4 conversions):",
		"6) Foreign Key string columns:",
	} {
		idx := strings.Index(out, heading)
		require.Greater(t, idx, last, heading)
		last = idx
	}
	assert.Contains(t, out, "crp_charset_test")
	assert.Contains(t, out, "latin1_swedish_ci")
}

func TestDDL(t *testing.T) {
	setupLatin1Schema(t)
	var buf bytes.Buffer
	c, db := newTestConverter(t, &buf, DefaultCharset, DefaultCollation)
	defer utils.CloseAndLog(db)

	require.NoError(t, c.DDL(t.Context()))
	out := buf.String()
	assert.Contains(t, out, "7) Persist collation variables in the my.cnf:")
	assert.Contains(t, out, "collation_server = utf8mb4_0900_ai_ci")
	assert.Contains(t, out, "8) Persist character set variables in the my.cnf:")
	assert.Contains(t, out, "character_set_server = utf8mb4")
	assert.Contains(t, out, "9) Configure runtime collation global variables to utf8mb4_0900_ai_ci:")
	assert.Contains(t, out, "10) Configure runtime character set global variables to utf8mb4:")
	assert.Contains(t, out, "11) DDL to alter databases to utf8mb4 and utf8mb4_0900_ai_ci:")
	assert.Contains(t, out, "ALTER DATABASE `crp_charset_test` DEFAULT CHARACTER SET utf8mb4 COLLATE utf8mb4_0900_ai_ci;")
	assert.Contains(t, out, "12) DDL to alter tables <= 1G to utf8mb4 and utf8mb4_0900_ai_ci:")
	assert.Contains(t, out, "ALTER TABLE `crp_charset_test`.`t1` CONVERT TO CHARACTER SET utf8mb4 COLLATE utf8mb4_0900_ai_ci;")
	assert.Contains(t, out, "13) pt-online-schema-change DDL to alter tables > 1G to utf8mb4 and utf8mb4_0900_ai_ci:")
	assert.NotContains(t, out, "`mysql`")
}

func TestRunSkipsDisabledSections(t *testing.T) {
	var buf bytes.Buffer
	c, db := newTestConverter(t, &buf, DefaultCharset, DefaultCollation)
	defer utils.CloseAndLog(db)

	c.NoPreflight = true
	require.NoError(t, c.Run(t.Context()))
	assert.NotContains(t, buf.String(), "1) Character set")
	assert.Contains(t, buf.String(), "7) Persist collation")

	buf.Reset()
	c.NoPreflight, c.NoDDL = false, true
	require.NoError(t, c.Run(t.Context()))
	assert.Contains(t, buf.String(), "1) Character set")
	assert.NotContains(t, buf.String(), "7) Persist collation")

	buf.Reset()
	c.Collation = "latin1_swedish_ci"
	assert.ErrorIs(t, c.Run(t.Context()), ErrInvalidCharsetCollation)
	assert.Empty(t, buf.String())
}

func TestConvertCmdBadDefaultsFile(t *testing.T) {
	cmd := &ConvertCmd{Charset: DefaultCharset, Collation: DefaultCollation}
	cmd.DefaultsFile = t.TempDir() + "/missing.cnf"
	assert.Error(t, cmd.run(t.Context(), io.Discard))
}

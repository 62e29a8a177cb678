package statement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseAlterTable(t *testing.T) {
	stmt, err := Parse("ALTER TABLE t1 ADD INDEX (something)")
	require.NoError(t, err)
	assert.Equal(t, AlterTable, stmt.Kind)
	assert.Empty(t, stmt.Schema)
	assert.Equal(t, "t1", stmt.Table)
	assert.Equal(t, "ADD INDEX(`something`)", stmt.Alter)

	stmt, err = Parse("ALTER TABLE test.t1 ADD COLUMN newcol int, DROP COLUMN foo")
	require.NoError(t, err)
	assert.Equal(t, "test", stmt.Schema)
	assert.Equal(t, "t1", stmt.Table)
	assert.Equal(t, "ADD COLUMN `newcol` INT, DROP COLUMN `foo`", stmt.Alter)
	assert.False(t, stmt.ConvertsTo("utf8mb4", "utf8mb4_0900_ai_ci"))
}

func TestParseConvertTo(t *testing.T) {
	stmt, err := Parse("ALTER TABLE `shop`.`orders` CONVERT TO CHARACTER SET utf8mb4 COLLATE utf8mb4_0900_ai_ci;")
	require.NoError(t, err)
	assert.Equal(t, AlterTable, stmt.Kind)
	assert.Equal(t, "shop", stmt.Schema)
	assert.Equal(t, "orders", stmt.Table)
	assert.Equal(t, "utf8mb4", stmt.Charset)
	assert.Equal(t, "utf8mb4_0900_ai_ci", stmt.Collation)
	assert.True(t, stmt.ConvertsTo("utf8mb4", "utf8mb4_0900_ai_ci"))
	assert.False(t, stmt.ConvertsTo("utf8mb4", "utf8mb4_general_ci"))
}

func TestParseAlterDatabase(t *testing.T) {
	stmt, err := Parse("ALTER DATABASE `shop` DEFAULT CHARACTER SET utf8mb4 COLLATE utf8mb4_general_ci;")
	require.NoError(t, err)
	assert.Equal(t, AlterDatabase, stmt.Kind)
	assert.Equal(t, "shop", stmt.Schema)
	assert.Empty(t, stmt.Table)
	assert.True(t, stmt.ConvertsTo("UTF8MB4", "utf8mb4_general_ci"))
	assert.Equal(t, "ALTER DATABASE", stmt.Kind.String())
}

func TestParseSetGlobal(t *testing.T) {
	stmt, err := Parse(`SET GLOBAL collation_server = "utf8mb4_0900_ai_ci";`)
	require.NoError(t, err)
	assert.Equal(t, SetGlobal, stmt.Kind)
	assert.Equal(t, []Assignment{{Name: "collation_server", Value: "utf8mb4_0900_ai_ci"}}, stmt.Variables)
	assert.Equal(t, "SET GLOBAL", stmt.Kind.String())

	// A session variable is not a global assignment.
	stmt, err = Parse("SET SESSION sql_mode = ''")
	require.NoError(t, err)
	assert.Equal(t, Other, stmt.Kind)

	stmt, err = Parse("SET GLOBAL innodb_max_dirty_pages_pct = 0, SESSION sql_mode = ''")
	require.NoError(t, err)
	assert.Equal(t, Other, stmt.Kind)
	assert.Len(t, stmt.Variables, 2)
}

func TestParseOther(t *testing.T) {
	stmt, err := Parse("SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, Other, stmt.Kind)
	assert.Equal(t, "OTHER", stmt.Kind.String())
	assert.NotNil(t, stmt.Node)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("ALTER TABLE t1 yes")
	assert.Error(t, err)

	_, err = Parse("ALTER TABLE t1 ADD INDEX (a); ALTER TABLE t2 ADD INDEX (b)")
	assert.ErrorIs(t, err, ErrMultipleStatements)

	_, err = Parse("")
	assert.ErrorIs(t, err, ErrNoStatement)

	// Unknown character sets are rejected by the parser.
	_, err = Parse("ALTER TABLE t1 CONVERT TO CHARACTER SET notacharset")
	assert.Error(t, err)

	assert.Panics(t, func() { MustParse("not sql") })
	assert.NotPanics(t, func() { MustParse("SELECT 1") })
}

package charset

import (
	"context"
	"fmt"

	"github.com/block/crptoolkit/pkg/report"
	"github.com/block/crptoolkit/pkg/statement"
	"github.com/block/crptoolkit/pkg/utils"
)

// Tables larger than this are converted with pt-online-schema-change.
const onlineSchemaChangeThresholdMiB = 1024

type commandKind int

const (
	configLine commandKind = iota // my.cnf lines, printed as is
	sqlCommand                    // must parse as a single statement
	shellCommand
)

type ddlSection struct {
	query
	kind commandKind
}

func (c *Converter) ddlSections() []ddlSection {
	cs, co := c.Charset, c.Collation
	nonConforming := `(c.character_set_name != ? OR t.table_collation != ?)`
	return []ddlSection{
		{
			kind: configLine,
			query: query{
				info: "Persist collation variables in the my.cnf",
				sql: `SELECT CONCAT(variable_name, ' = ', ?) cmd FROM performance_schema.global_variables
					WHERE variable_name IN ('collation_server', 'default_collation_for_utf8mb4')
					ORDER BY variable_name`,
				args: []any{co},
			},
		},
		{
			kind: configLine,
			query: query{
				info: "Persist character set variables in the my.cnf",
				sql: `SELECT CONCAT(variable_name, ' = ', ?) cmd FROM performance_schema.global_variables
					WHERE variable_name IN ('character_set_server')`,
				args: []any{cs},
			},
		},
		{
			kind: sqlCommand,
			query: query{
				info: fmt.Sprintf("Configure runtime collation global variables to %s", co),
				sql: `SELECT CONCAT('SET GLOBAL ', variable_name, ' = "', ?, '";') cmd FROM performance_schema.global_variables
					WHERE variable_name IN ('collation_connection', 'collation_database', 'collation_server', 'default_collation_for_utf8mb4')
					AND variable_value != ?
					ORDER BY variable_name`,
				args: []any{co, co},
			},
		},
		{
			kind: sqlCommand,
			query: query{
				info: fmt.Sprintf("Configure runtime character set global variables to %s", cs),
				sql: `SELECT CONCAT('SET GLOBAL ', variable_name, ' = "', ?, '";') cmd FROM performance_schema.global_variables
					WHERE variable_name IN ('character_set_client', 'character_set_connection', 'character_set_database', 'character_set_results', 'character_set_server')
					AND variable_value != ?
					ORDER BY variable_name`,
				args: []any{cs, cs},
			},
		},
		{
			kind: sqlCommand,
			query: query{
				info: fmt.Sprintf("DDL to alter databases to %s and %s", cs, co),
				sql: "SELECT CONCAT('ALTER DATABASE `', REPLACE(schema_name, '`', '``'), '` DEFAULT CHARACTER SET ', ?, ' COLLATE ', ?, ';') ddl" +
					" FROM information_schema.schemata" +
					" WHERE " + notSystemSchema("schema_name") +
					" AND (default_character_set_name != ? OR default_collation_name != ?)" +
					" ORDER BY schema_name",
				args: []any{cs, co, cs, co},
			},
		},
		{
			kind: sqlCommand,
			query: query{
				info: fmt.Sprintf("DDL to alter tables <= 1G to %s and %s", cs, co),
				sql: "SELECT CONCAT('ALTER TABLE `', REPLACE(t.table_schema, '`', '``'), '`.`', REPLACE(t.table_name, '`', '``')," +
					" '` CONVERT TO CHARACTER SET ', ?, ' COLLATE ', ?, ';') ddl" +
					` FROM information_schema.tables t
					JOIN information_schema.collation_character_set_applicability c ON c.collation_name = t.table_collation
					WHERE ` + notSystemSchema("t.table_schema") + `
					AND ROUND(((t.data_length + t.index_length)/1024/1024), 0) <= ?
					AND ` + nonConforming + `
					ORDER BY t.table_schema, t.table_name`,
				args: []any{cs, co, onlineSchemaChangeThresholdMiB, cs, co},
			},
		},
		{
			kind: shellCommand,
			query: query{
				info: fmt.Sprintf("pt-online-schema-change DDL to alter tables > 1G to %s and %s", cs, co),
				sql: `SELECT CONCAT('pt-online-schema-change D=', t.table_schema, ',t=', t.table_name,
						' --host=__source__ --alter="CONVERT TO CHARACTER SET ', ?, ' COLLATE ', ?, '"') ddl
					FROM information_schema.tables t
					JOIN information_schema.collation_character_set_applicability c ON c.collation_name = t.table_collation
					WHERE ` + notSystemSchema("t.table_schema") + `
					AND ROUND(((t.data_length + t.index_length)/1024/1024), 0) > ?
					AND ` + nonConforming + `
					ORDER BY t.table_schema, t.table_name`,
				args: []any{cs, co, onlineSchemaChangeThresholdMiB, cs, co},
			},
		},
	}
}

// DDL prints the commands needed to convert the server. Sections follow
// the preflight report numbering. Generated SQL that does not parse as a
// single statement converting to the requested pair is skipped.
func (c *Converter) DDL(ctx context.Context) error {
	offset := len(c.preflightQueries())
	for i, section := range c.ddlSections() {
		fmt.Fprintf(c.out, "\n%d) %s:\n", offset+i+1, section.info)
		commands, err := c.commands(ctx, section.query)
		if err != nil {
			return err
		}
		if len(commands) == 0 {
			fmt.Fprintln(c.out, "Empty set")
			continue
		}
		for _, cmd := range commands {
			if section.kind == sqlCommand {
				if err := c.checkGenerated(cmd); err != nil {
					c.logger.Warn("skipping generated statement", "statement", cmd, "error", err)
					continue
				}
			}
			fmt.Fprintln(c.out, cmd)
		}
	}
	return nil
}

func (c *Converter) commands(ctx context.Context, q query) ([]string, error) {
	c.logger.Debug("running query", "info", q.info, "query", q.sql)
	rows, err := c.db.QueryContext(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", q.info, err)
	}
	defer utils.CloseAndLog(rows)
	_, out, err := report.Scan(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", q.info, err)
	}
	commands := make([]string, 0, len(out))
	for _, row := range out {
		commands = append(commands, row[0])
	}
	return commands, nil
}

func (c *Converter) checkGenerated(sql string) error {
	stmt, err := statement.Parse(sql)
	if err != nil {
		return err
	}
	switch stmt.Kind {
	case statement.AlterDatabase, statement.AlterTable:
		if !stmt.ConvertsTo(c.Charset, c.Collation) {
			return fmt.Errorf("statement does not convert to %s and %s", c.Charset, c.Collation)
		}
	case statement.SetGlobal:
	default:
		return fmt.Errorf("unexpected %s statement", stmt.Kind)
	}
	return nil
}

package charset

import (
	"context"
	"fmt"

	"github.com/block/crptoolkit/pkg/report"
	"github.com/block/crptoolkit/pkg/utils"
	"golang.org/x/sync/errgroup"
)

// preflightConcurrency bounds how many report queries run at once.
var preflightConcurrency = 3

type query struct {
	info string
	sql  string
	args []any
}

type result struct {
	columns []string
	rows    [][]string
}

func (c *Converter) preflightQueries() []query {
	target := []any{c.Charset, c.Collation}
	return []query{
		{
			info: "Character set and collation global variables",
			sql: `SHOW GLOBAL VARIABLES WHERE variable_name IN ('innodb_file_format', 'innodb_large_prefix',
				'character_set_client', 'character_set_connection', 'character_set_database', 'character_set_results',
				'character_set_server', 'collation_connection', 'collation_database', 'collation_server',
				'default_collation_for_utf8mb4')`,
		},
		{
			info: fmt.Sprintf("Databases that are not %s and %s", c.Charset, c.Collation),
			sql: `SELECT schema_name, default_character_set_name, default_collation_name
				FROM information_schema.schemata
				WHERE ` + notSystemSchema("schema_name") + `
				AND (default_character_set_name != ? OR default_collation_name != ?)
				ORDER BY schema_name`,
			args: target,
		},
		{
			info: fmt.Sprintf("Tables that are not %s and %s", c.Charset, c.Collation),
			sql: `SELECT t.table_schema, t.table_name, c.character_set_name, t.table_collation
				FROM information_schema.tables t
				JOIN information_schema.collation_character_set_applicability c ON c.collation_name = t.table_collation
				WHERE ` + notSystemSchema("t.table_schema") + `
				AND (c.character_set_name != ? OR t.table_collation != ?)
				ORDER BY t.table_schema, t.table_name`,
			args: target,
		},
		{
			info: "Client connections overriding character set and collation session variables",
			sql: `SELECT DISTINCT threads.processlist_user, threads.processlist_db, threads.variable_name, threads.variable_value
				FROM (
					SELECT t.processlist_user, t.processlist_db, v.variable_name, v.variable_value
					FROM performance_schema.threads AS t
					JOIN performance_schema.variables_by_thread AS v ON v.thread_id = t.thread_id
					WHERE t.processlist_user IS NOT NULL
					AND (v.variable_name LIKE 'character_set_%' OR v.variable_name LIKE 'collation_%')
				) threads
				JOIN (
					SELECT variable_name, variable_value
					FROM performance_schema.global_variables
					WHERE variable_name LIKE 'character_set_%' OR variable_name LIKE 'collation_%'
				) vars ON threads.variable_name = vars.variable_name
				WHERE threads.variable_value != vars.variable_value
				AND ` + notSystemSchema("threads.processlist_db") + `
				ORDER BY threads.processlist_user, threads.processlist_db, threads.variable_name`,
		},
		{
			info: "Indexed string columns > 3072 bytes (for utf8 -> utf8mb4 conversions)",
			sql: `SELECT c.table_schema, c.table_name, c.column_name, c.character_set_name column_character_set,
					CONCAT(c.data_type, '(', c.character_maximum_length, ')') data_type,
					IF(s.sub_part IS NULL, (c.character_maximum_length * 4), (s.sub_part * 4)) index_prefix_length,
					s.index_name, s.index_type, s.sub_part index_sub_part
				FROM information_schema.columns c
				JOIN information_schema.statistics s
					ON c.table_schema = s.table_schema AND c.table_name = s.table_name AND c.column_name = s.column_name
				WHERE ` + notSystemSchema("c.table_schema") + `
				AND (c.data_type LIKE '%text%' OR c.data_type LIKE '%char%')
				AND s.index_type <> 'FULLTEXT'
				AND c.character_set_name <> 'utf8mb4'
				HAVING index_prefix_length > 3072
				ORDER BY index_prefix_length DESC`,
		},
		{
			info: "Foreign Key string columns",
			sql: `SELECT k.table_name, k.column_name, k.referenced_table_name, k.referenced_column_name, c.data_type
				FROM information_schema.key_column_usage k
				JOIN information_schema.columns c
					ON k.referenced_table_schema = c.table_schema
					AND k.referenced_table_name = c.table_name
					AND k.referenced_column_name = c.column_name
				WHERE ` + notSystemSchema("k.referenced_table_schema") + `
				AND (c.data_type LIKE '%text%' OR c.data_type LIKE '%char%')`,
		},
	}
}

// Preflight runs the read-only report queries and prints each result as a
// table. Queries run concurrently; output is always in the listed order.
func (c *Converter) Preflight(ctx context.Context) error {
	queries := c.preflightQueries()
	results := make([]result, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(preflightConcurrency)
	for i, q := range queries {
		g.Go(func() error {
			var err error
			results[i], err = c.query(gctx, q)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, q := range queries {
		fmt.Fprintf(c.out, "\n%d) %s:\n", i+1, q.info)
		if err := report.Rows(c.out, results[i].columns, results[i].rows); err != nil {
			return err
		}
	}
	return nil
}

func (c *Converter) query(ctx context.Context, q query) (result, error) {
	c.logger.Debug("running query", "info", q.info, "query", q.sql)
	rows, err := c.db.QueryContext(ctx, q.sql, q.args...)
	if err != nil {
		return result{}, fmt.Errorf("%s: %w", q.info, err)
	}
	defer utils.CloseAndLog(rows)
	columns, out, err := report.Scan(rows)
	if err != nil {
		return result{}, fmt.Errorf("%s: %w", q.info, err)
	}
	return result{columns: columns, rows: out}, nil
}

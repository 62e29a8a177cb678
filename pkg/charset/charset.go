// Package charset reports what needs to change to move a server to a
// character set and collation, and generates the commands to do it.
// It never modifies the server itself.
package charset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	tidbcharset "github.com/pingcap/tidb/pkg/parser/charset"
)

const (
	DefaultCharset   = "utf8mb4"
	DefaultCollation = "utf8mb4_0900_ai_ci"
)

// systemSchemas are never reported on or converted.
var systemSchemas = []string{"information_schema", "mysql", "performance_schema", "sys"}

var ErrInvalidCharsetCollation = errors.New("the character set and/or collation are not configured in MySQL or they are an incompatible combination")

const validateQuery = `SELECT 1 FROM information_schema.collation_character_set_applicability
	WHERE character_set_name = ? AND collation_name = ?`

type Converter struct {
	db          *sql.DB
	out         io.Writer
	logger      *slog.Logger
	Charset     string
	Collation   string
	NoPreflight bool
	NoDDL       bool
}

// NewConverter returns a Converter that reads from db and writes its
// reports and generated commands to out.
func NewConverter(db *sql.DB, out io.Writer, charset, collation string) *Converter {
	return &Converter{
		db:        db,
		out:       out,
		logger:    slog.Default(),
		Charset:   charset,
		Collation: collation,
	}
}

func (c *Converter) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

// Run validates the target pair, then prints the preflight report and the
// generated commands unless they were disabled.
func (c *Converter) Run(ctx context.Context) error {
	c.logger.Info("[ START ] running MySQL character set conversion", "charset", c.Charset, "collation", c.Collation)
	if err := c.Validate(ctx); err != nil {
		return err
	}
	if !c.NoPreflight {
		c.logger.Info("performing preflight checks")
		if err := c.Preflight(ctx); err != nil {
			return err
		}
	}
	if !c.NoDDL {
		fmt.Fprintln(c.out)
		c.logger.Info("generating commands and DDL statements")
		c.logger.Warn("only run the following commands if you are sure the database is ready!")
		if err := c.DDL(ctx); err != nil {
			return err
		}
	}
	fmt.Fprintln(c.out)
	c.logger.Info("[ COMPLETED ]")
	return nil
}

// Validate checks that the server knows the character set and collation
// and that they belong together.
func (c *Converter) Validate(ctx context.Context) error {
	if !tidbcharset.ValidCharsetAndCollation(c.Charset, c.Collation) {
		c.logger.Warn("character set and collation are not a known combination, checking with the server",
			"charset", c.Charset, "collation", c.Collation)
	}
	var one int
	err := c.db.QueryRowContext(ctx, validateQuery, c.Charset, c.Collation).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		c.logger.Warn("validation query returned no rows", "query", validateQuery, "charset", c.Charset, "collation", c.Collation)
		return fmt.Errorf("%w: %s and %s", ErrInvalidCharsetCollation, c.Charset, c.Collation)
	}
	if err != nil {
		return fmt.Errorf("could not validate character set and collation: %w", err)
	}
	return nil
}

// notSystemSchema returns "<column> NOT IN (...system schemas...)".
func notSystemSchema(column string) string {
	quoted := make([]string, len(systemSchemas))
	for i, s := range systemSchemas {
		quoted[i] = "'" + s + "'"
	}
	return column + " NOT IN (" + strings.Join(quoted, ", ") + ")"
}

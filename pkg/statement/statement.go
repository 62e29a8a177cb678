// Package statement is a wrapper around the parser with some added functionality.
package statement

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/format"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
)

type Kind int

const (
	Other Kind = iota
	AlterDatabase
	AlterTable
	SetGlobal
)

func (k Kind) String() string {
	switch k {
	case AlterDatabase:
		return "ALTER DATABASE"
	case AlterTable:
		return "ALTER TABLE"
	case SetGlobal:
		return "SET GLOBAL"
	}
	return "OTHER"
}

// Assignment is one variable in a SET statement.
type Assignment struct {
	Name  string
	Value string
}

type Statement struct {
	Kind      Kind
	Schema    string // for ALTER TABLE this is empty unless the table name is qualified
	Table     string
	Alter     string // normalized alter clauses of an ALTER TABLE
	Charset   string // target character set of ALTER DATABASE / ALTER TABLE, if any
	Collation string
	Variables []Assignment
	SQL       string
	Node      ast.StmtNode
}

var (
	ErrNoStatement        = errors.New("no statement found")
	ErrMultipleStatements = errors.New("only one statement may be specified at once")
)

// Parse parses exactly one statement and classifies it.
func Parse(sql string) (*Statement, error) {
	p := parser.New()
	stmtNodes, _, err := p.Parse(sql, "", "")
	if err != nil {
		return nil, fmt.Errorf("could not parse SQL statement %q: %w", sql, err)
	}
	switch len(stmtNodes) {
	case 0:
		return nil, ErrNoStatement
	case 1:
	default:
		return nil, ErrMultipleStatements
	}
	stmt := &Statement{SQL: sql, Node: stmtNodes[0]}
	switch node := stmtNodes[0].(type) {
	case *ast.AlterDatabaseStmt:
		stmt.Kind = AlterDatabase
		stmt.Schema = node.Name.String()
		for _, opt := range node.Options {
			switch opt.Tp {
			case ast.DatabaseOptionCharset:
				stmt.Charset = opt.Value
			case ast.DatabaseOptionCollate:
				stmt.Collation = opt.Value
			}
		}
	case *ast.AlterTableStmt:
		stmt.Kind = AlterTable
		stmt.Schema = node.Table.Schema.String()
		stmt.Table = node.Table.Name.String()
		clauses := make([]string, 0, len(node.Specs))
		for _, spec := range node.Specs {
			var sb strings.Builder
			if err := spec.Restore(format.NewRestoreCtx(format.DefaultRestoreFlags, &sb)); err != nil {
				return nil, fmt.Errorf("could not restore alter clause statement: %w", err)
			}
			clauses = append(clauses, sb.String())
			if spec.Tp != ast.AlterTableOption {
				continue
			}
			for _, opt := range spec.Options {
				switch opt.Tp {
				case ast.TableOptionCharset:
					stmt.Charset = opt.StrValue
				case ast.TableOptionCollate:
					stmt.Collation = opt.StrValue
				}
			}
		}
		stmt.Alter = strings.Join(clauses, ", ")
	case *ast.SetStmt:
		global := len(node.Variables) > 0
		for _, v := range node.Variables {
			if !v.IsGlobal || !v.IsSystem {
				global = false
			}
			a := Assignment{Name: strings.ToLower(v.Name)}
			if val, ok := v.Value.(ast.ValueExpr); ok {
				a.Value = fmt.Sprint(val.GetValue())
			}
			stmt.Variables = append(stmt.Variables, a)
		}
		if global {
			stmt.Kind = SetGlobal
		}
	}
	return stmt, nil
}

// MustParse is like Parse but panics if the statement cannot be parsed.
// It is used by tests.
func MustParse(sql string) *Statement {
	stmt, err := Parse(sql)
	if err != nil {
		panic(err)
	}
	return stmt
}

// ConvertsTo reports whether the statement changes the default character
// set and collation to exactly the given pair.
func (s *Statement) ConvertsTo(charset, collation string) bool {
	switch s.Kind {
	case AlterDatabase, AlterTable:
		return strings.EqualFold(s.Charset, charset) && strings.EqualFold(s.Collation, collation)
	}
	return false
}

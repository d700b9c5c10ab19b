// Package sql renders query plans to parameterised SQL for each supported
// warehouse dialect and screens statements before they are executed.
package sql

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect is a warehouse SQL flavour.
type Dialect string

const (
	DialectSQLServer Dialect = "mssql"
	DialectPostgres  Dialect = "postgres"
	DialectDuckDB    Dialect = "duckdb"
)

// ParseDialect maps a warehouse type onto its dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mssql", "sqlserver":
		return DialectSQLServer, nil
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "duckdb":
		return DialectDuckDB, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", s)
	}
}

// QuoteIdentifier quotes a table, column or alias name.
func (d Dialect) QuoteIdentifier(name string) string {
	if d == DialectSQLServer {
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Placeholder returns the bind marker for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string {
	switch d {
	case DialectSQLServer:
		return "@p" + strconv.Itoa(n)
	case DialectPostgres:
		return "$" + strconv.Itoa(n)
	default:
		return "?"
	}
}

// usesTop reports whether row limits are written as SELECT TOP (n).
func (d Dialect) usesTop() bool {
	return d == DialectSQLServer
}

// Package warehouse is the execution boundary: it runs validated query plans
// against the star-schema warehouse and returns tabular results.
package warehouse

import (
	"context"

	"github.com/ekaya-inc/portfolio-chat/pkg/models"
	plansql "github.com/ekaya-inc/portfolio-chat/pkg/sql"
)

// MaxRows is the hard cap on rows read back from any statement.
// This protects against unbounded results exhausting memory.
const MaxRows = 10000

// Executor runs a query plan and returns its rows.
// Failures are reported as *apperrors.QueryExecutionError with credentials redacted.
type Executor interface {
	// Execute renders plan for the executor's dialect and runs it.
	Execute(ctx context.Context, plan *models.QueryPlan) (*models.ResultSet, error)

	// Dialect is the SQL flavour plans are rendered in.
	Dialect() plansql.Dialect

	// Close releases the executor. Pools owned by a ConnectionManager stay open.
	Close() error
}

// Runner runs one rendered statement. Each driver package provides one.
type Runner interface {
	// Run executes stmt and reads at most maxRows rows.
	Run(ctx context.Context, stmt *plansql.Statement, maxRows int) (*models.ResultSet, error)

	// Ping verifies the warehouse is reachable.
	Ping(ctx context.Context) error

	// Close releases the runner's connection if it owns one.
	Close() error
}

// PoolConnector abstracts a connection pool across database drivers
// (pgxpool for PostgreSQL, database/sql for SQL Server and DuckDB).
type PoolConnector interface {
	// Ping verifies the connection is alive
	Ping(ctx context.Context) error

	// Close closes all connections in the pool
	Close() error

	// GetType returns the database type for logging/stats
	GetType() string
}

package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver
	"go.uber.org/zap"

	"github.com/ekaya-inc/portfolio-chat/pkg/adapters/warehouse"
	"github.com/ekaya-inc/portfolio-chat/pkg/logging"
	"github.com/ekaya-inc/portfolio-chat/pkg/models"
	plansql "github.com/ekaya-inc/portfolio-chat/pkg/sql"
)

// Runner executes rendered statements on SQL Server.
type Runner struct {
	db      *sql.DB
	ownedDB bool // true if we opened the DB ourselves rather than through a connection manager
}

// NewRunner opens a SQL Server runner. With a connection manager the pool is
// shared and kept alive by its TTL; without one the runner owns its pool.
func NewRunner(ctx context.Context, cfg *Config, connMgr *warehouse.ConnectionManager, logger *zap.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if connMgr == nil {
		db, err := open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Runner{db: db, ownedDB: true}, nil
	}

	connector, err := connMgr.GetOrOpen(ctx, cfg.PoolKey(), func(ctx context.Context) (warehouse.PoolConnector, error) {
		db, err := open(ctx, cfg)
		if err != nil {
			logger.Warn("SQL Server connection failed",
				zap.String("host", cfg.Host),
				zap.String("error", logging.SanitizeError(err)),
			)
			return nil, err
		}
		return warehouse.NewSQLDBWrapper(db, "mssql"), nil
	})
	if err != nil {
		return nil, err
	}

	db, err := warehouse.GetSQLDB(connector)
	if err != nil {
		return nil, fmt.Errorf("failed to extract mssql db: %w", err)
	}
	return &Runner{db: db}, nil
}

// NewRunnerFromDB wraps an existing handle. The runner does not close it.
func NewRunnerFromDB(db *sql.DB) *Runner {
	return &Runner{db: db}
}

func open(ctx context.Context, cfg *Config) (*sql.DB, error) {
	db, err := sql.Open("sqlserver", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("open SQL Server connection: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connection test failed: %w", err)
	}
	return db, nil
}

// Run executes stmt, binding its arguments as @p1..@pN named parameters.
func (r *Runner) Run(ctx context.Context, stmt *plansql.Statement, maxRows int) (*models.ResultSet, error) {
	args := make([]any, len(stmt.Args))
	for i, a := range stmt.Args {
		args[i] = sql.Named(fmt.Sprintf("p%d", i+1), a)
	}

	rows, err := r.db.QueryContext(ctx, stmt.SQL, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	return warehouse.ScanRows(rows, maxRows, mapSQLServerType)
}

// Ping verifies SQL Server is reachable.
func (r *Runner) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close releases the runner (but NOT the DB if managed).
func (r *Runner) Close() error {
	if r.ownedDB && r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ensure Runner implements warehouse.Runner at compile time.
var _ warehouse.Runner = (*Runner)(nil)

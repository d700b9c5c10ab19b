// Package duckdb runs plans against a DuckDB warehouse file, or an
// in-memory database when no path is configured.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/duckdb/duckdb-go/v2" // DuckDB driver
	"go.uber.org/zap"

	"github.com/ekaya-inc/portfolio-chat/pkg/adapters/warehouse"
	"github.com/ekaya-inc/portfolio-chat/pkg/config"
	"github.com/ekaya-inc/portfolio-chat/pkg/models"
	plansql "github.com/ekaya-inc/portfolio-chat/pkg/sql"
)

// Config locates the DuckDB database.
type Config struct {
	// Path is the database file. Empty opens a private in-memory database.
	Path     string
	ReadOnly bool
	MaxConns int
}

// FromWarehouseConfig builds a Config from the warehouse section of the application config.
// Files are opened read-only: the engine never writes to the warehouse.
func FromWarehouseConfig(wc config.WarehouseConfig) *Config {
	return &Config{Path: wc.Path, ReadOnly: wc.Path != "", MaxConns: wc.MaxConns}
}

// DSN returns the driver data source name.
func (c *Config) DSN() string {
	if c.Path == "" {
		return ""
	}
	if c.ReadOnly {
		return c.Path + "?access_mode=read_only"
	}
	return c.Path
}

// PoolKey identifies the pool for this config. In-memory databases are never shared.
func (c *Config) PoolKey() (string, bool) {
	if c.Path == "" {
		return "", false
	}
	abs, err := filepath.Abs(c.Path)
	if err != nil {
		abs = c.Path
	}
	return "duckdb:" + abs, true
}

// Runner executes rendered statements on DuckDB.
type Runner struct {
	db      *sql.DB
	ownedDB bool
}

// NewRunner opens a DuckDB runner. File-backed databases are shared through
// connMgr when one is given.
func NewRunner(ctx context.Context, cfg *Config, connMgr *warehouse.ConnectionManager, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	key, shareable := cfg.PoolKey()
	if connMgr == nil || !shareable {
		db, err := open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Runner{db: db, ownedDB: true}, nil
	}

	connector, err := connMgr.GetOrOpen(ctx, key, func(ctx context.Context) (warehouse.PoolConnector, error) {
		db, err := open(ctx, cfg)
		if err != nil {
			logger.Warn("DuckDB open failed", zap.String("path", cfg.Path), zap.Error(err))
			return nil, err
		}
		return warehouse.NewSQLDBWrapper(db, "duckdb"), nil
	})
	if err != nil {
		return nil, err
	}
	db, err := warehouse.GetSQLDB(connector)
	if err != nil {
		return nil, fmt.Errorf("failed to extract duckdb db: %w", err)
	}
	return &Runner{db: db}, nil
}

// NewRunnerFromDB wraps an existing handle. The runner does not close it.
func NewRunnerFromDB(db *sql.DB) *Runner {
	return &Runner{db: db}
}

func open(ctx context.Context, cfg *Config) (*sql.DB, error) {
	db, err := sql.Open("duckdb", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
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

// Run executes stmt with its positional ? arguments.
func (r *Runner) Run(ctx context.Context, stmt *plansql.Statement, maxRows int) (*models.ResultSet, error) {
	rows, err := r.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	return warehouse.ScanRows(rows, maxRows, nil)
}

// Ping verifies the database is usable.
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

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/portfolio-chat/pkg/adapters/warehouse"
	"github.com/ekaya-inc/portfolio-chat/pkg/logging"
	"github.com/ekaya-inc/portfolio-chat/pkg/models"
	plansql "github.com/ekaya-inc/portfolio-chat/pkg/sql"
)

// Runner executes rendered statements on PostgreSQL through pgx.
type Runner struct {
	pool      *pgxpool.Pool
	ownedPool bool // true if we created the pool (tests or direct instantiation)
}

// NewRunner creates a PostgreSQL runner using the connection manager.
// If connMgr is nil, creates an unmanaged pool.
func NewRunner(ctx context.Context, cfg *Config, connMgr *warehouse.ConnectionManager, logger *zap.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	connStr := cfg.ConnectionString()

	if connMgr == nil {
		pool, err := pgxpool.New(ctx, connStr)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return &Runner{pool: pool, ownedPool: true}, nil
	}

	connector, err := connMgr.GetOrOpen(ctx, cfg.PoolKey(), func(ctx context.Context) (warehouse.PoolConnector, error) {
		poolConfig, err := pgxpool.ParseConfig(connStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse connection string: %w", err)
		}
		poolConfig.MaxConnIdleTime = connMgr.TTL()
		if cfg.MaxConns <= 0 {
			poolConfig.MaxConns = int32(connMgr.PoolMaxConns())
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			logger.Warn("PostgreSQL pool creation failed",
				zap.String("host", cfg.Host),
				zap.String("error", logging.SanitizeError(err)),
			)
			return nil, err
		}
		return warehouse.NewPostgresPoolWrapper(pool), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get pooled connection: %w", err)
	}

	pool, err := warehouse.GetPostgresPool(connector)
	if err != nil {
		return nil, fmt.Errorf("failed to extract postgres pool: %w", err)
	}
	return &Runner{pool: pool}, nil
}

// NewRunnerFromPool wraps an existing pool. The runner does not close it.
func NewRunnerFromPool(pool *pgxpool.Pool) *Runner {
	return &Runner{pool: pool}
}

// Run executes stmt with its positional $N arguments.
func (r *Runner) Run(ctx context.Context, stmt *plansql.Statement, maxRows int) (*models.ResultSet, error) {
	rows, err := r.pool.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]models.ColumnInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = models.ColumnInfo{
			Name: fd.Name,
			Type: pgTypeNameFromOID(fd.DataTypeOID),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		if maxRows > 0 && len(resultRows) >= maxRows {
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col.Name] = normalize(values[i], col.Type)
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &models.ResultSet{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// normalize turns pgx-specific values into plain Go values.
func normalize(v any, columnType string) any {
	if n, ok := v.(pgtype.Numeric); ok {
		if !n.Valid {
			return nil
		}
		f, err := n.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	}
	return warehouse.NormalizeValue(v, columnType)
}

// Ping verifies PostgreSQL is reachable.
func (r *Runner) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the runner (but NOT the pool if managed).
func (r *Runner) Close() error {
	if r.ownedPool && r.pool != nil {
		r.pool.Close()
	}
	return nil
}

// pgTypeNameFromOID maps the PostgreSQL OIDs a plan can produce to type names.
func pgTypeNameFromOID(oid uint32) string {
	switch oid {
	case pgtype.BoolOID:
		return "BOOL"
	case pgtype.Int2OID:
		return "INT2"
	case pgtype.Int4OID:
		return "INT4"
	case pgtype.Int8OID:
		return "INT8"
	case pgtype.Float4OID:
		return "FLOAT4"
	case pgtype.Float8OID:
		return "FLOAT8"
	case pgtype.NumericOID:
		return "NUMERIC"
	case pgtype.TextOID:
		return "TEXT"
	case pgtype.VarcharOID:
		return "VARCHAR"
	case pgtype.BPCharOID:
		return "BPCHAR"
	case pgtype.DateOID:
		return "DATE"
	case pgtype.TimestampOID:
		return "TIMESTAMP"
	case pgtype.TimestamptzOID:
		return "TIMESTAMPTZ"
	case pgtype.UUIDOID:
		return "UUID"
	default:
		return fmt.Sprintf("OID_%d", oid)
	}
}

// Ensure Runner implements warehouse.Runner at compile time.
var _ warehouse.Runner = (*Runner)(nil)

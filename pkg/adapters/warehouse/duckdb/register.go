package duckdb

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/portfolio-chat/pkg/adapters/warehouse"
	"github.com/ekaya-inc/portfolio-chat/pkg/config"
	plansql "github.com/ekaya-inc/portfolio-chat/pkg/sql"
)

func init() {
	warehouse.Register(warehouse.Registration{
		Info: warehouse.AdapterInfo{
			Type:        "duckdb",
			DisplayName: "DuckDB",
			Description: "Local DuckDB file holding an extract of the star schema",
		},
		Factory: func(ctx context.Context, wc config.WarehouseConfig, connMgr *warehouse.ConnectionManager, logger *zap.Logger) (warehouse.Executor, error) {
			runner, err := NewRunner(ctx, FromWarehouseConfig(wc), connMgr, logger)
			if err != nil {
				return nil, err
			}
			return warehouse.NewPlanExecutor(plansql.DialectDuckDB, runner, logger), nil
		},
	})
}

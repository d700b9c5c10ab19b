package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/portfolio-chat/pkg/adapters/warehouse"
	_ "github.com/ekaya-inc/portfolio-chat/pkg/adapters/warehouse/duckdb"
	_ "github.com/ekaya-inc/portfolio-chat/pkg/adapters/warehouse/mssql"
	_ "github.com/ekaya-inc/portfolio-chat/pkg/adapters/warehouse/postgres"
	"github.com/ekaya-inc/portfolio-chat/pkg/catalog"
	"github.com/ekaya-inc/portfolio-chat/pkg/config"
	"github.com/ekaya-inc/portfolio-chat/pkg/conversation"
	"github.com/ekaya-inc/portfolio-chat/pkg/llm"
	"github.com/ekaya-inc/portfolio-chat/pkg/logging"
	"github.com/ekaya-inc/portfolio-chat/pkg/services"
)

// app holds the collaborators a command needs for the life of the process.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	cat      *catalog.Catalog
	connMgr  *warehouse.ConnectionManager
	executor warehouse.Executor
	sessions *conversation.Store
	turns    services.TurnService
}

// loadCatalog reads configuration and the catalog without touching the warehouse.
func loadCatalog(opts *options) (*config.Config, *zap.Logger, *catalog.Catalog, error) {
	cfg, err := config.Load(opts.configPath, opts.version)
	if err != nil {
		return nil, nil, nil, err
	}

	level := cfg.LogLevel
	if opts.verbose {
		level = "debug"
	}
	logger, err := logging.NewLogger(cfg.Env, level)
	if err != nil {
		return nil, nil, nil, err
	}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		logger.Error("Failed to load catalog", zap.String("path", cfg.Catalog.Path), zap.Error(err))
		return nil, nil, nil, fmt.Errorf("load catalog: %w", err)
	}
	return cfg, logger, cat, nil
}

// newApp wires the turn pipeline against the configured warehouse and model.
func newApp(ctx context.Context, opts *options) (*app, error) {
	cfg, logger, cat, err := loadCatalog(opts)
	if err != nil {
		return nil, err
	}
	logger.Debug("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("warehouse", cfg.Warehouse.Type),
		zap.String("llm_provider", cfg.LLM.Provider))

	connMgr := warehouse.NewConnectionManager(warehouse.ConnectionManagerConfig{
		PoolMaxConns: cfg.Warehouse.MaxConns,
	}, logger)

	executor, err := warehouse.Open(ctx, cfg.Warehouse, connMgr, logger)
	if err != nil {
		_ = connMgr.Close()
		return nil, fmt.Errorf("open %s warehouse: %w", cfg.Warehouse.Type, err)
	}

	model, err := llm.NewFromConfig(&cfg.LLM, logger)
	if err != nil {
		_ = executor.Close()
		_ = connMgr.Close()
		return nil, err
	}

	sessions := conversation.NewStore(cfg.Engine.MaxTurns, cfg.Engine.SessionIdleTTL, logger)
	sessions.Start()

	return &app{
		cfg:      cfg,
		logger:   logger,
		cat:      cat,
		connMgr:  connMgr,
		executor: executor,
		sessions: sessions,
		turns:    services.NewTurnService(cat, executor, sessions, model, cfg, nil, logger),
	}, nil
}

func (a *app) Close() {
	a.sessions.Close()
	if err := a.executor.Close(); err != nil {
		a.logger.Warn("Failed to close executor", zap.Error(err))
	}
	if err := a.connMgr.Close(); err != nil {
		a.logger.Warn("Failed to close warehouse connections", zap.Error(err))
	}
	_ = a.logger.Sync()
}

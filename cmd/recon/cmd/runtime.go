package cmd

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"trade-reconciliation-engine/cmd/recon/config"
	"trade-reconciliation-engine/internal/store"
	"trade-reconciliation-engine/internal/store/postgres"
	"trade-reconciliation-engine/pkg/logger"
)

// runtime bundles the state every database-backed command needs: the loaded
// configuration, a logger installed as the global one, and an open
// repository with its schema ensured.
type runtime struct {
	cfg    *config.Config
	log    logger.Logger
	db     *sqlx.DB
	stores store.Stores
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLogger(cfg.LoggerConfig(verbose))
	if err != nil {
		return nil, err
	}
	logger.SetGlobalLogger(log)

	db, err := postgres.Connect(cfg.PostgresConfig(), log)
	if err != nil {
		return nil, err
	}

	schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = logger.TimedOperation("ensure_schema", log, func() error {
		return postgres.EnsureSchema(schemaCtx, db)
	})
	cancel()
	if err != nil {
		db.Close()
		return nil, err
	}

	return &runtime{
		cfg:    cfg,
		log:    log,
		db:     db,
		stores: postgres.NewRepository(db, cfg.PostgresConfig().QueryTimeout),
	}, nil
}

func (r *runtime) Close() error {
	return r.db.Close()
}

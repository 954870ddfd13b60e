package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"commerce-pipeline/internal/adapters/broker"
	"commerce-pipeline/internal/config"
	"commerce-pipeline/internal/core"
	"commerce-pipeline/internal/db"
)

// Runtime is an assembled ApplicationService plus the resources it holds.
type Runtime struct {
	Service ApplicationService
	Pool    *pgxpool.Pool     // nil with STORAGE=memory
	Store   *core.MemoryStore // nil with STORAGE=postgres
	closers []func()
}

// Close releases the runtime's connections in reverse order of acquisition.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// Wire builds the service graph described by cfg.
func Wire(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Runtime, error) {
	if log == nil {
		log = zap.NewNop()
	}
	rt := &Runtime{}

	thresholds, err := cfg.Thresholds()
	if err != nil {
		return nil, err
	}

	var (
		repo        core.DocumentRepository
		reader      core.PipelineReader
		companies   core.CompanyDirectory
		permissions core.PermissionChecker
		provider    core.ThresholdProvider
	)
	switch cfg.Storage {
	case config.StorageMemory:
		store := core.NewMemoryStore()
		store.AddCompany(cfg.CompanyCode, "Default Company", cfg.Currency)
		rt.Store = store
		repo, reader, companies = store, store, store
		permissions = core.AllowAll{}
		provider = core.StaticThresholds(thresholds)
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		rt.Pool = pool
		rt.closers = append(rt.closers, pool.Close)

		pg := core.NewPgDocumentRepository(pool)
		repo, reader = pg, pg
		companies = core.NewCompanyDirectory(pool)
		permissions = core.NewRolePermissionChecker(core.NewUserService(pool), cfg.ConvertRoles)
		provider = core.NewPgThresholdProvider(pool, thresholds)
	}

	var inventory core.InventorySync
	switch cfg.InventorySync {
	case config.InventorySyncStock:
		inventory = core.NewStockMovementSync(rt.Pool)
	case config.InventorySyncAMQP:
		pub, err := broker.NewReceiptPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() {
			if err := pub.Close(); err != nil {
				log.Warn("failed to close receipt publisher", zap.Error(err))
			}
		})
		inventory = pub
	default:
		inventory = core.NewLoggingInventorySync(log)
	}

	tax := cfg.TaxPolicy()
	rt.Service = NewAppService(Services{
		Companies: companies,
		Lifecycle: core.NewLifecycleService(core.LifecycleDeps{
			Repo:     repo,
			Tax:      tax,
			Currency: cfg.Currency,
			Logger:   log,
		}),
		Conversions: core.NewConversionService(core.ConversionDeps{
			Repo:        repo,
			Tax:         tax,
			Inventory:   inventory,
			Permissions: permissions,
			Logger:      log,
			SyncTimeout: cfg.InventorySyncTimeout,
		}),
		Analytics: core.NewAnalyticsService(reader, provider, nil),
		Logger:    log,
	})

	log.Info("pipeline wired",
		zap.String("storage", cfg.Storage),
		zap.String("inventory_sync", cfg.InventorySync),
		zap.String("tax_rate", tax.Rate.String()),
	)
	return rt, nil
}

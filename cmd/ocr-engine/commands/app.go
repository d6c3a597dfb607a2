package commands

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cin-dennis/ocr-engine/internal/blob"
	"github.com/cin-dennis/ocr-engine/internal/broker"
	"github.com/cin-dennis/ocr-engine/internal/config"
	"github.com/cin-dennis/ocr-engine/internal/inference"
	"github.com/cin-dennis/ocr-engine/internal/observability"
	"github.com/cin-dennis/ocr-engine/internal/pipeline"
	"github.com/cin-dennis/ocr-engine/internal/service"
	"github.com/cin-dennis/ocr-engine/internal/split"
	"github.com/cin-dennis/ocr-engine/internal/storage"
)

// app bundles the wired process dependencies shared by the commands.
type app struct {
	cfg    *config.Config
	logger *observability.Logger
	db     *sql.DB
	store  *storage.Store
	blobs  blob.Store
	queue  broker.Broker
}

// newApp loads configuration and connects the database, blob store and
// task queue according to the configured drivers.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "ocr-engine",
	})

	db, err := storage.Open(cfg.Database.Driver, cfg.DatabaseDSN(), databaseOpenOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	var blobs blob.Store
	switch cfg.Blob.Driver {
	case "gcs":
		blobs, err = blob.NewGCSStore(ctx)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connect blob store: %w", err)
		}
	default:
		blobs = blob.NewMemoryStore()
	}

	var queue broker.Broker
	switch cfg.Broker.Driver {
	case "redis":
		queue, err = broker.NewRedisBroker(broker.RedisOptions{
			Addr:     cfg.Broker.Redis.Addr,
			Password: cfg.Broker.Redis.Password,
			DB:       cfg.Broker.Redis.DB,
			PoolSize: cfg.Broker.Redis.PoolSize,
			Queue:    cfg.Broker.Queue,
		}, logger)
		if err != nil {
			blobs.Close()
			db.Close()
			return nil, fmt.Errorf("connect broker: %w", err)
		}
	default:
		queue = broker.NewMemoryBroker()
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		store:  storage.NewStore(db),
		blobs:  blobs,
		queue:  queue,
	}, nil
}

// databaseOpenOptions selects pool settings for the active driver.
// SQLite permits one writer at a time; the postgres pool sizes must not
// leak into a sqlite deployment.
func databaseOpenOptions(cfg *config.Config) storage.OpenOptions {
	if cfg.Database.Driver == "sqlite" {
		return storage.OpenOptions{
			MaxOpenConns: cfg.Database.SQLite.MaxOpenConns,
		}
	}
	return storage.OpenOptions{
		MaxOpenConns:    cfg.Database.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Database.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.Postgres.ConnMaxLifetime,
	}
}

// Close releases all process dependencies.
func (a *app) Close() {
	if err := a.queue.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close broker")
	}
	if err := a.blobs.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close blob store")
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close database")
	}
}

func (a *app) orchestrator() *pipeline.Orchestrator {
	splitter := split.NewSplitter(split.Options{
		MaxPages:    a.cfg.Split.MaxPages,
		JPEGQuality: a.cfg.Split.JPEGQuality,
	}, a.logger)

	client := inference.NewClient(inference.Options{
		URL:     a.cfg.Inference.URL,
		Timeout: a.cfg.Inference.Timeout,
	}, a.logger)

	return pipeline.NewOrchestrator(a.store, a.blobs, splitter, client, pipeline.Options{
		DocumentBucket:     a.cfg.Blob.DocumentBucket,
		ResultBucket:       a.cfg.Blob.ResultBucket,
		MaxConcurrentPages: a.cfg.Inference.MaxConcurrentPages,
	}, a.logger)
}

func (a *app) documentService() *service.DocumentService {
	return service.NewDocumentService(a.store, a.blobs, a.queue, service.Options{
		DocumentBucket: a.cfg.Blob.DocumentBucket,
		ResultBucket:   a.cfg.Blob.ResultBucket,
	}, a.logger)
}

// startConsumers launches n broker consumers feeding the orchestrator.
// The returned function blocks until the consumers have drained.
func (a *app) startConsumers(ctx context.Context, orch *pipeline.Orchestrator, n int) func() {
	if n < 1 {
		n = 1
	}

	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			if err := a.queue.Consume(ctx, orch.ProcessTask); err != nil && ctx.Err() == nil {
				a.logger.Error().Err(err).Msg("consumer stopped")
			}
		}()
	}

	return func() {
		for i := 0; i < n; i++ {
			<-done
		}
		orch.Wait()
	}
}

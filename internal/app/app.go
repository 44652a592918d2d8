// Package app assembles the stores, runner and gateway shared by the api,
// worker and CLI binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/CatalogDrop/internal/config"
	"github.com/dharsanguruparan/CatalogDrop/internal/database"
	"github.com/dharsanguruparan/CatalogDrop/internal/importer"
	"github.com/dharsanguruparan/CatalogDrop/internal/ingest"
	"github.com/dharsanguruparan/CatalogDrop/internal/metrics"
	"github.com/dharsanguruparan/CatalogDrop/internal/model"
	"github.com/dharsanguruparan/CatalogDrop/internal/repository"
	"github.com/dharsanguruparan/CatalogDrop/internal/s3storage"
	"github.com/dharsanguruparan/CatalogDrop/internal/storage"
	"github.com/dharsanguruparan/CatalogDrop/internal/upsert"
)

// BlobStore stores and reads file content.
type BlobStore interface {
	ingest.BlobStore
	importer.BlobOpener
}

// ProductStore is the product table including its aggregate query.
type ProductStore interface {
	upsert.Store
	Stats(ctx context.Context, recent time.Duration) (model.ProductStats, error)
}

// Stores bundles the persistence one process works against.
type Stores struct {
	Files    ingest.FileStore
	Blobs    BlobStore
	Products ProductStore
	// Objects is set only for S3-backed stores and issues download links.
	Objects *s3storage.Storage

	close func()
}

// Open connects to Postgres and S3, applying the schema and creating the
// bucket when missing.
func Open(ctx context.Context, cfg *config.Config) (*Stores, error) {
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	objects, err := s3storage.New(cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Stores{
		Files:    repository.NewFileRepository(pool),
		Blobs:    objects,
		Products: repository.NewProductRepository(pool),
		Objects:  objects,
		close:    pool.Close,
	}, nil
}

// Memory returns process-local stores, for the CLI's --memory mode and tests.
func Memory() *Stores {
	return &Stores{
		Files:    storage.NewMemoryFiles(),
		Blobs:    storage.NewMemoryBlobs(),
		Products: storage.NewMemoryProducts(),
	}
}

// Close releases connections held by the stores.
func (s *Stores) Close() {
	if s.close != nil {
		s.close()
	}
}

// Runner builds an import runner over the stores.
func (s *Stores) Runner(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) *importer.Runner {
	return importer.New(s.Files, s.Blobs, s.Products,
		importer.WithLogger(log.Named("importer")),
		importer.WithMetrics(m),
		importer.WithMapping(cfg.FieldMap),
		importer.WithMaxRowErrors(cfg.MaxRowErrors),
	)
}

// Gateway builds an intake gateway that schedules runs through d.
func (s *Stores) Gateway(cfg *config.Config, d ingest.Dispatcher, log *zap.Logger, m *metrics.Metrics) *ingest.Gateway {
	return ingest.New(s.Files, s.Blobs, d,
		ingest.WithLogger(log.Named("ingest")),
		ingest.WithMetrics(m),
		ingest.WithMapping(cfg.FieldMap),
		ingest.WithTempDir(cfg.TempDir),
	)
}

// RedisOpt is the asynq connection described by cfg.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

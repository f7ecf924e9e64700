// Package bootstrap wires configuration into the derivative pipeline for the
// worker and the command line tool.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dunamismax/imageq/internal/catalog"
	"github.com/dunamismax/imageq/internal/config"
	"github.com/dunamismax/imageq/internal/pipeline"
	"github.com/dunamismax/imageq/internal/storage"
)

// Orchestrator builds a pipeline orchestrator backed by minio and the
// configured catalog backend. The returned close func releases the catalog
// store and is never nil.
func Orchestrator(ctx context.Context, cfg config.Config, logger *log.Logger) (*pipeline.Orchestrator, func(), error) {
	noop := func() {}

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.DestBucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, noop, fmt.Errorf("storage client: %w", err)
	}
	if err := storageClient.EnsureBucket(ctx, cfg.Storage.DestBucket); err != nil {
		logger.Printf("destination bucket check failed bucket=%s err=%v", cfg.Storage.DestBucket, err)
	}

	publisher, closeCatalog, err := Catalog(ctx, cfg, logger)
	if err != nil {
		return nil, noop, err
	}

	orchestrator, err := pipeline.NewOrchestrator(
		componentLogger(logger, "[pipeline] "),
		OrchestratorConfig(cfg),
		storageClient,
		publisher,
		magickFallback(cfg),
	)
	if err != nil {
		closeCatalog()
		return nil, noop, fmt.Errorf("orchestrator: %w", err)
	}
	return orchestrator, closeCatalog, nil
}

// FileTask builds the single-file transformer that shares the worker's
// staging root and decode fallback.
func FileTask(cfg config.Config, logger *log.Logger) (*pipeline.FileTask, error) {
	task, err := pipeline.NewFileTask(componentLogger(logger, "[pipeline] "), pipeline.FileTaskConfig{
		InputRoot:     cfg.Worker.InputRoot,
		StagingRoot:   cfg.Worker.StagingRoot,
		PublicBaseURL: cfg.Worker.PublicBaseURL,
	}, magickFallback(cfg))
	if err != nil {
		return nil, fmt.Errorf("file task: %w", err)
	}
	return task, nil
}

func magickFallback(cfg config.Config) pipeline.MagickFallback {
	return pipeline.MagickFallback{
		IdentifyBin: cfg.Fallback.IdentifyBin,
		ConvertBin:  cfg.Fallback.ConvertBin,
		TempDir:     cfg.Fallback.TempDir,
	}
}

// Catalog opens the configured catalog backend. A nil Catalog means the
// catalog is disabled.
func Catalog(ctx context.Context, cfg config.Config, logger *log.Logger) (pipeline.Catalog, func(), error) {
	store, closeStore, err := catalog.OpenStore(ctx, cfg.Catalog.Backend, catalog.HTTPConfig{
		BaseURL: cfg.Catalog.URL,
		Token:   cfg.Catalog.Token,
		Timeout: cfg.Catalog.Timeout,
	}, cfg.Database.DSN)
	if err != nil {
		return nil, func() {}, fmt.Errorf("catalog store: %w", err)
	}
	release := func() {
		if err := closeStore(); err != nil {
			logger.Printf("catalog store close error: %v", err)
		}
	}
	if store == nil {
		return nil, release, nil
	}

	policy, err := catalog.ParsePolicy(cfg.Catalog.Policy)
	if err != nil {
		release()
		return nil, func() {}, err
	}
	logger.Printf("catalog enabled backend=%s policy=%s", cfg.Catalog.Backend, policy)
	return catalog.NewPublisher(store, policy), release, nil
}

func OrchestratorConfig(cfg config.Config) pipeline.OrchestratorConfig {
	return pipeline.OrchestratorConfig{
		StagingRoot:   cfg.Worker.StagingRoot,
		PublicBaseURL: cfg.Worker.PublicBaseURL,
		SourceBucket:  cfg.Storage.SourceBucket,
		SourcePrefix:  cfg.Storage.SourcePrefix,
		DestBucket:    cfg.Storage.DestBucket,
		DestPrefix:    cfg.Storage.DestPrefix,
		Department:    cfg.Catalog.Department,
		Project:       cfg.Catalog.Project,
		NASRoot:       cfg.Catalog.NASRoot,
		NorFileRoot:   cfg.Catalog.NorFileRoot,
	}
}

// componentLogger writes to the caller's logger output under its own prefix.
func componentLogger(logger *log.Logger, prefix string) *log.Logger {
	if logger == nil {
		return log.New(os.Stderr, prefix, log.LstdFlags|log.Lmsgprefix)
	}
	return log.New(logger.Writer(), prefix, logger.Flags())
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ca-indexer/internal/bluesky"
	"ca-indexer/internal/cache"
	"ca-indexer/internal/config"
	"ca-indexer/internal/database"
	"ca-indexer/internal/jobs"
	"ca-indexer/internal/maintainers"
	"ca-indexer/internal/pipeline"
	"ca-indexer/internal/processor"
	"ca-indexer/internal/record"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var rootCmd = &cobra.Command{
	Use:           "indexer",
	Short:         "Mirror and index Cabildo Abierto records from the network",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd, mirrorCmd, reprocessCmd, maintainCmd, migrateCmd, tokenCmd)
}

// app holds every component shared by the commands
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	db          *gorm.DB
	registry    *processor.Registry
	engine      *processor.Engine
	pipeline    *pipeline.Pipeline
	queue       *jobs.Queue
	client      *bluesky.Client
	maintainers *maintainers.Maintainers
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	db, err := database.Connect(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	validator, err := record.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to load record schemas: %w", err)
	}
	client := bluesky.NewClient(cfg.PDSURL)
	registry := processor.NewRegistry(processor.Deps{
		Logger:    logger,
		Validator: validator,
		Blobs:     client,
	})
	registry.Freeze()

	var invalidator processor.Invalidator = cache.Noop{}
	if cfg.CacheInvalidationURL != "" {
		invalidator = cache.NewHTTPInvalidator(cfg.CacheInvalidationURL)
	}

	queue := jobs.NewQueue(db)
	engine := processor.NewEngine(db, registry, invalidator, queue, logger, cfg.BatchSize)
	pl := pipeline.New(db, engine, logger, cfg.PageSize)

	m := maintainers.New(db, queue, logger, cfg.PageSize)
	m.Sync = maintainers.NewReferencedRecords(db, client, pl, logger)

	return &app{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		registry:    registry,
		engine:      engine,
		pipeline:    pl,
		queue:       queue,
		client:      client,
		maintainers: m,
	}, nil
}

func (a *app) newMirror() *bluesky.Mirror {
	return bluesky.NewMirror(a.db, a.pipeline, a.logger, bluesky.MirrorConfig{
		URL:               a.cfg.JetstreamURL,
		WantedCollections: a.cfg.WantedCollections,
		QueueSize:         a.cfg.QueueSize,
		MaxBatch:          a.cfg.MaxBatch,
	})
}

func (a *app) newRunner() *jobs.Runner {
	return jobs.NewRunner(a.db, a.logger, a.cfg.JobPollInterval)
}

func (a *app) close() {
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}

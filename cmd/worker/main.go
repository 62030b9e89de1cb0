package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"vocab-ingest/internal/blob"
	"vocab-ingest/internal/config"
	"vocab-ingest/internal/container"
	"vocab-ingest/internal/executor"
	"vocab-ingest/internal/ingest"
	"vocab-ingest/internal/progress"
	"vocab-ingest/internal/queue"
	"vocab-ingest/internal/store"
	"vocab-ingest/internal/telemetry"
	"vocab-ingest/internal/triplestore"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalw("connect postgres", "error", err)
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatalw("migrations", "error", err)
	}

	q := queue.NewDispatchQueue(cfg)
	hub := progress.NewHub(cfg, logger)
	enqueuer := executor.NewEnqueuer(st, q)
	sparqlClient := triplestore.New(cfg, logger)

	blobs, err := blob.New(ctx, cfg)
	if err != nil {
		logger.Fatalw("init blob storage", "error", err)
	}
	runtime, err := container.NewDockerRuntime()
	if err != nil {
		logger.Fatalw("init container runtime", "error", err)
	}

	registry := ingest.NewRegistry()
	registry.Register(ingest.NewHarvestHandler(sparqlClient, st, cfg.HarvestBatchSize))
	registry.Register(ingest.NewFileUploadHandler(blobs, sparqlClient, enqueuer, cfg.UploadBatchSize))
	registry.Register(ingest.NewTriplestoreSyncHandler(sparqlClient, st, cfg.HarvestBatchSize))
	registry.Register(ingest.NewLDESFeedHandler(runtime, cfg.LDESContainerPrefix))
	registry.Register(ingest.NewLDESSyncHandler(runtime, cfg.LDESContainerPrefix))
	registry.Register(ingest.NewOtherHandler())

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warnw("metrics server stopped", "error", err)
		}
	}()

	exec := executor.New(st, q, registry, hub, cfg, logger)
	logger.Infow("worker started", "workers", cfg.WorkerCount, "visibility", cfg.VisibilityTimeout)
	exec.Run(ctx)
}

func newLogger(env string) *zap.SugaredLogger {
	var (
		logger *zap.Logger
		err    error
	)
	if env == "prod" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	return logger.Sugar()
}

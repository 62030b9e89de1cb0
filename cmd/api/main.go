package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vocab-ingest/internal/api"
	"vocab-ingest/internal/blob"
	"vocab-ingest/internal/config"
	"vocab-ingest/internal/executor"
	"vocab-ingest/internal/progress"
	"vocab-ingest/internal/queue"
	"vocab-ingest/internal/ratelimit"
	"vocab-ingest/internal/scheduler"
	"vocab-ingest/internal/store"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
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

	blobs, err := blob.New(ctx, cfg)
	if err != nil {
		logger.Fatalw("init blob storage", "error", err)
	}

	redisLimiter := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewLimiter(redisLimiter, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	// The daemon runs in the API process; conditional claims keep replicas
	// from double-firing.
	daemon := scheduler.NewDaemon(st, enqueuer, cfg.SchedulerTick, logger)
	go daemon.Run(ctx)

	server := api.New(cfg, st, enqueuer, q, hub, blobs, limiter, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Infow("api listening", "port", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("listen", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
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

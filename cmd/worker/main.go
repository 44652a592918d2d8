package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/CatalogDrop/internal/app"
	"github.com/dharsanguruparan/CatalogDrop/internal/config"
	"github.com/dharsanguruparan/CatalogDrop/internal/logging"
	"github.com/dharsanguruparan/CatalogDrop/internal/metrics"
	"github.com/dharsanguruparan/CatalogDrop/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	stores, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	m := metrics.New(prometheus.NewRegistry())
	if cfg.WorkerMetricsAddr != "" {
		go serveMetrics(ctx, cfg.WorkerMetricsAddr, m, log)
	}

	queues := map[string]int{"default": 1}
	if cfg.QueueName != "" {
		queues = map[string]int{cfg.QueueName: 1}
	}
	server := asynq.NewServer(app.RedisOpt(cfg), asynq.Config{
		Concurrency: cfg.ProcessingPool,
		Queues:      queues,
		Logger:      log.Named("asynq").Sugar(),
	})
	processor := worker.NewProcessor(stores.Runner(cfg, log, m), log.Named("worker"))

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()
	return server.Run(processor.Handler())
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	log.Info("worker metrics listening", zap.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server", zap.Error(err))
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/CatalogDrop/internal/api"
	"github.com/dharsanguruparan/CatalogDrop/internal/app"
	"github.com/dharsanguruparan/CatalogDrop/internal/config"
	"github.com/dharsanguruparan/CatalogDrop/internal/logging"
	"github.com/dharsanguruparan/CatalogDrop/internal/metrics"
	"github.com/dharsanguruparan/CatalogDrop/internal/queue"
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
		log.Error("api stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	stores, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	client := asynq.NewClient(app.RedisOpt(cfg))
	defer client.Close()

	m := metrics.New(prometheus.NewRegistry())
	gw := stores.Gateway(cfg, queue.NewDispatcher(client, cfg.QueueName), log, m)
	srv := api.New(cfg, gw, stores.Files, stores.Products, stores.Objects,
		api.WithLogger(log.Named("http")),
		api.WithMetrics(m),
	)
	return srv.Run(ctx)
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-menu-orders/internal/config"
	kafkax "github.com/ariefcatur/go-menu-orders/internal/kafka"
	"github.com/ariefcatur/go-menu-orders/internal/logger"
	"github.com/ariefcatur/go-menu-orders/internal/orders"
	"github.com/ariefcatur/go-menu-orders/internal/projector"
	"github.com/ariefcatur/go-menu-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New(cfg.ServiceName+"-projector", cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("projector exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("projector stopped")
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		return err
	}

	p := &projector.Projector{
		Cache: redisx.NewCache(rdb),
		Name:  cfg.ProjectorGroup,
		Log:   log,
	}

	// one consumer group per topic so partition assignment stays simple
	created := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup+"-created", orders.TopicOrderCreated, cfg.ProjectorWorkers, log)
	changed := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup+"-status", orders.TopicOrderStatusChanged, cfg.ProjectorWorkers, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return created.Start(gctx, p.HandleOrderCreated) })
	g.Go(func() error { return changed.Start(gctx, p.HandleStatusChanged) })

	log.Info("projector started",
		slog.String("group", cfg.ProjectorGroup),
		slog.Int("workers", cfg.ProjectorWorkers))
	return g.Wait()
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-menu-orders/internal/catalog"
	"github.com/ariefcatur/go-menu-orders/internal/config"
	"github.com/ariefcatur/go-menu-orders/internal/group"
	"github.com/ariefcatur/go-menu-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-menu-orders/internal/kafka"
	"github.com/ariefcatur/go-menu-orders/internal/logger"
	"github.com/ariefcatur/go-menu-orders/internal/loyalty"
	"github.com/ariefcatur/go-menu-orders/internal/orders"
	"github.com/ariefcatur/go-menu-orders/internal/payment"
	"github.com/ariefcatur/go-menu-orders/internal/postgres"
	"github.com/ariefcatur/go-menu-orders/internal/pricing"
	"github.com/ariefcatur/go-menu-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("api exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promos, err := cfg.Promos()
	if err != nil {
		return err
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		return err
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		// the cache is a fast path; keep serving from Postgres
		log.Warn("redis unavailable at startup", slog.String("error", err.Error()))
	}

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start()

	cat := catalog.NewReader(db)
	ordersSvc := &orders.Service{
		DB:       db,
		Repo:     &orders.Repo{DB: db},
		Catalog:  cat,
		Ledger:   loyalty.NewLedger(db),
		Engine:   pricing.NewEngine(promos),
		Payments: payment.Stub{},
		Cache:    redisx.NewCache(rdb),
		Events:   prod,
		Producer: cfg.ServiceName,
		Log:      log,
	}
	groupSvc := &group.Service{
		DB:      db,
		Repo:    &group.Repo{DB: db},
		Catalog: cat,
		Orders:  ordersSvc,
		Log:     log,
	}

	router := httpx.NewRouter(httpx.Deps{
		Orders:         ordersSvc,
		Groups:         groupSvc,
		Loyalty:        ordersSvc.Ledger,
		Promos:         promos,
		Log:            log,
		Service:        cfg.ServiceName,
		DemoUserID:     cfg.DemoUserID,
		RequestTimeout: cfg.RequestTimeout,
		Ready:          db.Ping,
	})

	// HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		prod.Close()      // no more publishes; flush the inbox
		prod.WaitClosed() // drain
		return err
	})
	return g.Wait()
}

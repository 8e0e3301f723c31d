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

	"cartservice/internal/bus"
	"cartservice/internal/cache"
	"cartservice/internal/config"
	"cartservice/internal/db"
	"cartservice/internal/httpserver"
	applog "cartservice/internal/logger"
	"cartservice/internal/lookup"
	"cartservice/internal/messaging"
	cartrepo "cartservice/internal/repository/cart"
	cartsvc "cartservice/internal/service/cart"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := applog.New(applog.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{
		Addr:                  cfg.RedisAddr,
		Password:              cfg.RedisPassword,
		DB:                    cfg.RedisDB,
		ContextTimeoutEnabled: true,
	})
	defer rdb.Close()

	checks := map[string]httpserver.CheckFunc{
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}

	var cartRepo cartrepo.Repository
	switch cfg.CartStore {
	case "memory":
		logger.Warn("using in-memory cart store; carts are lost on restart")
		cartRepo = cartrepo.NewMemory()
	default:
		dbpool, err := db.Connect(ctx, cfg.DBConnString, db.Options{MaxConns: cfg.DBMaxConns, SlowQuery: cfg.DBSlowQuery}, logger.Named("db"))
		if err != nil {
			logger.Fatal("connect to db", zap.Error(err))
		}
		defer dbpool.Close()
		cartRepo = cartrepo.NewPostgres(dbpool)
		checks["db"] = dbpool.Ping
	}

	var idempotency cache.IdempotencyStore
	switch cfg.IdempotencyStore {
	case "memory":
		mem := cache.NewMemoryIdempotencyStore(5 * time.Minute)
		defer mem.Close()
		idempotency = mem
	default:
		idempotency = cache.NewRedisIdempotencyStore(rdb, "")
	}

	strategy, err := cartsvc.ParseStrategy(cfg.TotalsStrategy)
	if err != nil {
		logger.Fatal("totals strategy", zap.Error(err))
	}

	busClient := bus.NewClient(rdb, cfg.LookupTimeout)
	cartService := cartsvc.New(
		cartRepo,
		lookup.NewProductClient(busClient, cfg.ProductQueue),
		lookup.NewUserClient(busClient, cfg.UserQueue),
		strategy,
		logger.Named("cart"),
	)

	busSrv := bus.NewServer(rdb, cfg.CartQueue, bus.ServerOptions{
		Workers:  cfg.BusWorkers,
		MapError: messaging.MapError(logger.Named("bus")),
	}, logger.Named("bus"))
	messaging.New(cartService, idempotency, messaging.Options{ReplyTTL: cfg.IdempotencyTTL}, logger.Named("bus")).Register(busSrv)

	srv := httpserver.New(cfg.HTTPAddr, logger.Named("http"), httpserver.Deps{
		CartSvc:     cartService,
		Checks:      checks,
		CORSOrigins: cfg.CORSAllowOrigins,
	})

	logger.Info("cart service configured",
		zap.String("env", cfg.Env),
		zap.String("totals", strategy.Name()),
		zap.String("cart_store", cfg.CartStore),
		zap.String("idempotency_store", cfg.IdempotencyStore),
	)

	serverErr := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("http: %w", err)
		}
	}()

	busCtx, stopBus := context.WithCancel(ctx)
	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		if err := busSrv.Serve(busCtx); err != nil {
			serverErr <- fmt.Errorf("bus: %w", err)
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stopCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	stopBus()
	select {
	case <-busDone:
	case <-shutdownCtx.Done():
		logger.Warn("bus handlers still running at shutdown deadline")
	}
	logger.Info("server stopped")
}

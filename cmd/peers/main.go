// Command peers answers get_product and get_user from CSV fixtures, standing
// in for the catalog and user services during local development.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cartservice/internal/bus"
	"cartservice/internal/config"
	"cartservice/internal/fixture"
	applog "cartservice/internal/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	var productsPath, usersPath string
	flag.StringVar(&productsPath, "products", "", "Path to a products CSV (id,name,price,stock); embedded demo data when empty")
	flag.StringVar(&usersPath, "users", "", "Path to a users CSV (id,name,email); requires -products")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := applog.New(applog.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}).Named("peers")
	defer func() { _ = logger.Sync() }()

	catalog, err := loadCatalog(productsPath, usersPath)
	if err != nil {
		logger.Fatal("load fixtures", zap.Error(err))
	}
	products, users := catalog.Len()
	logger.Info("fixtures loaded", zap.Int("products", products), zap.Int("users", users))

	rdb := redis.NewClient(&redis.Options{
		Addr:                  cfg.RedisAddr,
		Password:              cfg.RedisPassword,
		DB:                    cfg.RedisDB,
		ContextTimeoutEnabled: true,
	})
	defer rdb.Close()

	productSrv := bus.NewServer(rdb, cfg.ProductQueue, bus.ServerOptions{Workers: cfg.BusWorkers}, logger)
	catalog.ServeProducts(productSrv)
	userSrv := bus.NewServer(rdb, cfg.UserQueue, bus.ServerOptions{Workers: cfg.BusWorkers}, logger)
	catalog.ServeUsers(userSrv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return productSrv.Serve(gctx) })
	g.Go(func() error { return userSrv.Serve(gctx) })
	if err := g.Wait(); err != nil {
		logger.Error("peers stopped", zap.Error(err))
		return
	}
	logger.Info("peers stopped")
}

func loadCatalog(productsPath, usersPath string) (*fixture.Catalog, error) {
	if productsPath == "" {
		if usersPath != "" {
			return nil, fmt.Errorf("-users requires -products")
		}
		return fixture.Demo()
	}
	pf, err := os.Open(productsPath)
	if err != nil {
		return nil, err
	}
	defer pf.Close()
	if usersPath == "" {
		return nil, fmt.Errorf("-products requires -users")
	}
	uf, err := os.Open(usersPath)
	if err != nil {
		return nil, err
	}
	defer uf.Close()
	return fixture.Load(pf, uf)
}

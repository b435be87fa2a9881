package main

import (
	"context"

	"github.com/soriano-club/clubapi/config"
	"github.com/soriano-club/clubapi/models"
	"github.com/soriano-club/clubapi/routes"
	"github.com/soriano-club/clubapi/services"
	"github.com/soriano-club/clubapi/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer func() { _ = utils.Logger.Sync() }()

	settings, err := cfg.LoyaltySettings()
	if err != nil {
		utils.Sugar.Fatalf("loyalty settings: %v", err)
	}

	db := config.InitDatabase(models.All()...)

	opts := services.Options{
		DB:       db,
		Log:      utils.Sugar.Named("loyalty"),
		Settings: settings,
	}
	notifiers := services.MultiNotifier{services.LogNotifier{Log: utils.Sugar.Named("events")}}

	rc := utils.NewRedis(cfg)
	if rc != nil {
		defer func() { _ = rc.Close() }()
		if n := utils.FlushBalances(context.Background(), rc); n > 0 {
			utils.Sugar.Infof("dropped %d cached balances", n)
		}
		opts.Cache = utils.NewRedisBalanceCache(rc, cfg.BalanceCacheTTL, utils.Sugar.Named("cache"))
		notifiers = append(notifiers, utils.RedisNotifier{Client: rc, Channel: cfg.EventChannel})
	}
	opts.Notifier = notifiers

	engine, err := services.NewEngine(opts)
	if err != nil {
		utils.Sugar.Fatalf("loyalty engine: %v", err)
	}
	if err := engine.SyncCatalog(context.Background()); err != nil {
		utils.Sugar.Fatalf("catalog sync: %v", err)
	}

	r := routes.SetupRouter(cfg, engine, utils.NewTokenRevocations(rc))

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	err = utils.GraceServer(":"+cfg.AppPort, r, func(context.Context) {
		// let queued event deliveries finish before the process exits
		engine.Wait()
	})
	if err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}

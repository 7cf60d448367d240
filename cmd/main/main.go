package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"horizon-index/src/config"
	"horizon-index/src/data_source/yahoo"
	"horizon-index/src/engine"
	"horizon-index/src/history"
	"horizon-index/src/interfaces"
	"horizon-index/src/logger"
	"horizon-index/src/network"
	"horizon-index/src/registry"
	"horizon-index/src/scheduler"
	"horizon-index/src/server"
	"horizon-index/src/storage"
	"horizon-index/src/utils"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	flag.Parse()

	// Load config from YAML file
	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(cfg.LogLevel, cfg.Name)
	clock := utils.NewRealClock()

	// 2. Storage
	var db interfaces.IDatabase

	switch cfg.Storage.DBType {
	case "postgres":
		db, err = storage.NewPostgresDB(cfg.MConfig, appLogger)
	case "memory":
		db = storage.NewMemoryDB()
	default:
		// Default to SQLite
		db, err = storage.NewAsyncSQLiteDB(cfg.MConfig, appLogger)
	}
	if err != nil {
		appLogger.Critical("Failed to init db: %v", err)
	}
	if err := db.Initialize(); err != nil {
		appLogger.Critical("Failed to migrate db: %v", err)
	}
	defer db.Close()

	// 3. Data source and basket
	var netMgr interfaces.INetworkManager = network.NewAsyncNetworkManager(cfg.MConfig, appLogger)
	var source interfaces.IMarketData = yahoo.NewYahooFinanceSource(cfg.MConfig, netMgr, clock)
	basket := registry.NewRegistry(cfg.MConfig, *configPath, appLogger)

	// 4. Bring stored price history up to date. Per-ticker failures are
	// logged inside SyncAll; the engine works with whatever is stored.
	synchronizer := history.NewSynchronizer(cfg.MConfig, db, source, clock)
	synchronizer.SyncAll(basket.Tickers(), cfg.Index.BaseDate)

	// 5. Engine: calibrate, backfill, first calculation. Bars are read
	// through the synchronizer so freshly fetched data wins conflicts.
	eng := engine.NewEngine(cfg.MConfig, basket, db, source, synchronizer, clock)
	if err := eng.Initialize(); err != nil {
		appLogger.Critical("Engine initialization failed: %v", err)
	}
	if _, err := eng.BuildHistory(); err != nil {
		appLogger.Error("Historical build failed: %v", err)
	}
	if _, err := eng.CalculateEOD(); err != nil {
		appLogger.Warning("Initial calculation failed, serving history only: %v", err)
	}

	// 6. Server
	srv := server.NewFastAPIServer(cfg.MConfig, eng, appLogger)
	go func() {
		if err := srv.Start(); err != nil {
			appLogger.Critical("Server failed: %v", err)
		}
	}()

	// 7. Daily trigger
	trigger := scheduler.NewDailyTrigger(cfg.MConfig, eng, srv, clock)
	go trigger.Start()

	appLogger.Info("%s running on %s:%d", cfg.Index.IndexName, cfg.Host, cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")
	trigger.Stop()
	if err := srv.Stop(); err != nil {
		appLogger.Error("Server shutdown error: %v", err)
	}
}

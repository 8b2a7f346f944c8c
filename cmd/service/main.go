package main

import (
	"os"
	"os/signal"
	"syscall"

	"ritual_sync_service/internal/app"
	"ritual_sync_service/internal/infra/config"
	idb "ritual_sync_service/internal/infra/database"
	"ritual_sync_service/internal/infra/logger"
	"ritual_sync_service/internal/infra/realtime"
	"ritual_sync_service/internal/infra/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	log := logger.Get()
	log.Infof("configuration loaded; log level %s, environment %s", cfg.LogLevel, cfg.Environment)

	// Database connection
	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("could not connect to database: %v", err)
	}
	defer db.Close()
	log.Info("database connection established")

	// Repositories
	pairRepo := idb.NewPostgresPairRepository(db)
	cycleRepo := idb.NewPostgresCycleRepository(db, cfg.GenerationTimeout)

	// Realtime fan-out: kept alive for the process lifetime so API-layer
	// clients can attach sync-engine connections.
	listener, err := realtime.NewListener(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatalf("could not start realtime listener: %v", err)
	}
	defer listener.Close()
	log.Info("realtime listener started")

	// Services
	cycleService := app.NewCycleService(pairRepo, cycleRepo, log)
	generationService := app.NewGenerationService(cycleRepo, app.NewStaticGenerator(), log)

	// Backstop scheduler
	cycleScheduler := scheduler.NewCycleScheduler(
		cycleService,
		generationService,
		pairRepo,
		cycleRepo,
		log,
		cfg.CronSpecWeeklyCycle,
		cfg.CronSpecGenerationSweep,
		cfg.GenerationTimeout,
	)
	cycleScheduler.Start()

	log.Info("application setup complete")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down application")
	cycleScheduler.Stop()
	log.Info("application shut down gracefully")
}

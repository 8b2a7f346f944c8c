// Command watch attaches a live sync session to one cycle and prints every
// applied snapshot, status transition and health change. Useful for poking at
// a running system: open two terminals, mutate the cycle from one, watch the
// other converge.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"ritual_sync_service/internal/domain/cycle"
	"ritual_sync_service/internal/infra/config"
	idb "ritual_sync_service/internal/infra/database"
	"ritual_sync_service/internal/infra/logger"
	"ritual_sync_service/internal/infra/realtime"
	"ritual_sync_service/internal/sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func main() {
	cycleFlag := flag.String("cycle", "", "cycle ID to watch (required)")
	slotFlag := flag.String("slot", "ONE", "participant slot to view as: ONE or TWO")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	log := logger.Get()

	cycleID, err := uuid.Parse(*cycleFlag)
	if err != nil {
		log.Fatalf("invalid -cycle value %q: %v", *cycleFlag, err)
	}
	slot := cycle.Slot(*slotFlag)
	if slot != cycle.SlotOne && slot != cycle.SlotTwo {
		log.Fatalf("invalid -slot value %q: must be ONE or TWO", *slotFlag)
	}

	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("could not connect to database: %v", err)
	}
	defer db.Close()

	cycleRepo := idb.NewPostgresCycleRepository(db, cfg.GenerationTimeout)
	listener, err := realtime.NewListener(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatalf("could not start realtime listener: %v", err)
	}
	defer listener.Close()

	engine := sync.NewEngine(cycleRepo, listener, sync.Config{
		Debounce:          cfg.SyncDebounce,
		PollInterval:      cfg.SyncPollInterval,
		HeartbeatInterval: cfg.SyncHeartbeatInterval,
		LivenessThreshold: cfg.SyncLivenessThreshold,
		GenerationTimeout: cfg.GenerationTimeout,
		Logger:            log,
	})

	conn, err := engine.Connect(context.Background(), cycleID, slot, sync.Callbacks{
		OnSnapshot: func(snap *cycle.Snapshot) {
			log.WithFields(logrus.Fields{
				"preferences":  len(snap.Preferences),
				"availability": len(snap.Availability),
				"has_artifact": snap.Cycle.Artifact != nil,
			}).Info("snapshot applied")
		},
		OnStatus: func(st cycle.Status) {
			log.WithField("status", st).Info("status changed")
		},
		OnHealth: func(healthy bool) {
			log.WithField("healthy", healthy).Info("channel health changed")
		},
	})
	if err != nil {
		log.Fatalf("could not connect sync session: %v", err)
	}
	defer conn.Disconnect()

	if res := conn.Match(); res.MatchedRitual != nil {
		log.WithField("item_id", res.MatchedRitual.ID).Info("current match")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("watch session closed")
}

package scheduler

import (
	"context"
	"time"

	"ritual_sync_service/internal/app"
	"ritual_sync_service/internal/domain/cycle"
	"ritual_sync_service/internal/domain/pair"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CycleScheduler runs the server-side backstop jobs: opening each period's
// cycles and sweeping generations that no client got around to triggering.
type CycleScheduler struct {
	cronEngine        *cron.Cron
	cycleService      *app.CycleService
	generationService *app.GenerationService
	pairRepo          pair.Repository
	cycleRepo         cycle.Repository
	logger            *logrus.Logger
	cronSpecWeekly    string
	cronSpecSweep     string
	generationTimeout time.Duration
}

func NewCycleScheduler(
	cycleService *app.CycleService,
	generationService *app.GenerationService,
	pairRepo pair.Repository,
	cycleRepo cycle.Repository,
	logger *logrus.Logger,
	cronSpecWeekly string, // e.g. "0 9 * * 1" (Monday 09:00)
	cronSpecSweep string, // e.g. "* * * * *" (every minute)
	generationTimeout time.Duration,
) *CycleScheduler {
	return &CycleScheduler{
		cronEngine:        cron.New(cron.WithLocation(time.Local)),
		cycleService:      cycleService,
		generationService: generationService,
		pairRepo:          pairRepo,
		cycleRepo:         cycleRepo,
		logger:            logger,
		cronSpecWeekly:    cronSpecWeekly,
		cronSpecSweep:     cronSpecSweep,
		generationTimeout: generationTimeout,
	}
}

func (s *CycleScheduler) Start() {
	s.logger.Info("starting cycle scheduler")

	_, err := s.cronEngine.AddFunc(s.cronSpecWeekly, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.openWeeklyCycles(ctx)
	})
	if err != nil {
		s.logger.Fatalf("could not add weekly cycle job: %v", err)
	}

	_, err = s.cronEngine.AddFunc(s.cronSpecSweep, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.sweepGeneration(ctx)
	})
	if err != nil {
		s.logger.Fatalf("could not add generation sweep job: %v", err)
	}

	s.cronEngine.Start()
	s.logger.Info("cycle scheduler started")
}

// openWeeklyCycles closes out last period's agreed cycles and makes sure
// every active pair has an open cycle for the new period. Both steps are
// idempotent, so a missed or doubled run is harmless.
func (s *CycleScheduler) openWeeklyCycles(ctx context.Context) {
	pairs, err := s.pairRepo.ListActive(ctx)
	if err != nil {
		s.logger.WithError(err).Error("weekly job: failed to list active pairs")
		return
	}

	for _, p := range pairs {
		open, err := s.cycleRepo.GetOpenByPair(ctx, p.ID)
		if err == nil && open.Status.Terminal() {
			if err := s.cycleRepo.MarkCompleted(ctx, open.ID); err != nil {
				s.logger.WithError(err).WithField("cycle_id", open.ID).Error("weekly job: failed to complete cycle")
				continue
			}
			s.logger.WithField("cycle_id", open.ID).Info("weekly job: completed agreed cycle")
		} else if err == nil {
			// Previous cycle never reached agreement; leave it open rather
			// than stack a second one on the pair.
			continue
		}

		if _, err := s.cycleService.EnsureOpenCycle(ctx, p.ID); err != nil {
			s.logger.WithError(err).WithField("pair_id", p.ID).Error("weekly job: failed to open cycle")
		}
	}
}

// sweepGeneration is the server half of the dual-submit backstop: any cycle
// with both inputs and no artifact gets its generation (re)checked, so a
// cycle is never stuck pending just because no client stayed on the page.
func (s *CycleScheduler) sweepGeneration(ctx context.Context) {
	pending, err := s.cycleRepo.ListAwaitingGeneration(ctx)
	if err != nil {
		s.logger.WithError(err).Error("generation sweep: failed to list pending cycles")
		return
	}

	for _, c := range pending {
		if c.GenerationStartedAt.Valid {
			if time.Since(c.GenerationStartedAt.Time) > s.generationTimeout {
				s.logger.WithField("cycle_id", c.ID).Warn("generation sweep: attempt timed out; awaiting manual retry")
			}
			continue
		}
		if err := s.generationService.EnsureGeneration(ctx, c.ID); err != nil {
			s.logger.WithError(err).WithField("cycle_id", c.ID).Error("generation sweep: trigger failed")
		}
	}
}

func (s *CycleScheduler) Stop() {
	s.logger.Info("stopping cycle scheduler")
	ctx := s.cronEngine.Stop()
	<-ctx.Done()
	s.logger.Info("cycle scheduler stopped")
}

// internal/app/generation_service.go
package app

import (
	"context"
	"fmt"
	"time"

	"ritual_sync_service/internal/domain/cycle"
	idb "ritual_sync_service/internal/infra/database"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var ErrInputsIncomplete = fmt.Errorf("both inputs must be present before generation")

// Generator is the external artifact producer. Its internals (model calls,
// prompt construction) are someone else's problem; it only has to be
// invocable more than once for the same cycle without harm, because the
// conditional artifact write keeps exactly one result.
type Generator interface {
	Generate(ctx context.Context, c *cycle.Cycle) (*cycle.Artifact, error)
}

// GenerationService owns the trigger-and-persist half of artifact generation.
//
// Any client rendering the waiting view calls EnsureGeneration on mount and
// periodically; concurrent invocation by multiple clients is expected, not an
// error. The first SetArtifactIfUnset wins and the rest are no-ops.
type GenerationService struct {
	cycleRepo cycle.Repository
	generator Generator
	log       *logrus.Logger
}

func NewGenerationService(cr cycle.Repository, g Generator, log *logrus.Logger) *GenerationService {
	return &GenerationService{cycleRepo: cr, generator: g, log: log}
}

// EnsureGeneration re-checks whether generation is needed and, if so, claims
// the attempt and runs it. Returns nil when another client already claimed or
// finished the work.
func (s *GenerationService) EnsureGeneration(ctx context.Context, cycleID uuid.UUID) error {
	c, err := s.cycleRepo.GetByID(ctx, cycleID)
	if err != nil {
		return err
	}
	if c.Artifact != nil {
		return nil // already generated
	}
	if !c.InputOne.Valid || !c.InputTwo.Valid {
		return ErrInputsIncomplete
	}

	err = s.cycleRepo.MarkGenerationStarted(ctx, cycleID, false)
	if err == idb.ErrGenerationInFlight || err == idb.ErrArtifactAlreadySet {
		// Someone else got there first. Expected under the dual-submit race.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to claim generation attempt: %w", err)
	}

	return s.generate(ctx, c)
}

// Retry re-invokes generation after a failure, overwriting the stale attempt
// timestamp so the cycle leaves GENERATION_FAILED immediately.
func (s *GenerationService) Retry(ctx context.Context, cycleID uuid.UUID) error {
	c, err := s.cycleRepo.GetByID(ctx, cycleID)
	if err != nil {
		return err
	}
	if c.Artifact != nil {
		return nil
	}
	if !c.InputOne.Valid || !c.InputTwo.Valid {
		return ErrInputsIncomplete
	}

	if err := s.cycleRepo.MarkGenerationStarted(ctx, cycleID, true); err != nil {
		if err == idb.ErrArtifactAlreadySet {
			return nil
		}
		return fmt.Errorf("failed to restart generation attempt: %w", err)
	}
	s.log.WithField("cycle_id", cycleID).Info("generation retry requested")
	return s.generate(ctx, c)
}

func (s *GenerationService) generate(ctx context.Context, c *cycle.Cycle) error {
	started := time.Now()
	artifact, err := s.generator.Generate(ctx, c)
	if err != nil {
		// The attempt timestamp stays put; once the timeout elapses the cycle
		// derives GENERATION_FAILED and the user sees the retry action.
		s.log.WithError(err).WithField("cycle_id", c.ID).Error("artifact generation failed")
		return fmt.Errorf("artifact generation failed: %w", err)
	}

	if artifact.GeneratedAt.IsZero() {
		artifact.GeneratedAt = time.Now()
	}
	for i := range artifact.Items {
		artifact.Items[i].Position = i
	}

	err = s.cycleRepo.SetArtifactIfUnset(ctx, c.ID, artifact)
	if err == idb.ErrArtifactAlreadySet {
		s.log.WithField("cycle_id", c.ID).Info("artifact already persisted by a concurrent caller")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to persist artifact: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"cycle_id": c.ID,
		"items":    len(artifact.Items),
		"took":     time.Since(started).String(),
	}).Info("artifact generated")
	return nil
}

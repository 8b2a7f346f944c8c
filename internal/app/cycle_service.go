// internal/app/cycle_service.go
package app

import (
	"context"
	"fmt"
	"time"

	"ritual_sync_service/internal/domain/cycle"
	"ritual_sync_service/internal/domain/match"
	"ritual_sync_service/internal/domain/pair"
	idb "ritual_sync_service/internal/infra/database"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Custom application-level errors for the cycle service
var ErrNotPairMember = fmt.Errorf("participant does not belong to this pair")
var ErrUnknownArtifactItem = fmt.Errorf("item is not part of the cycle's artifact")
var ErrArtifactNotReady = fmt.Errorf("cycle artifact has not been generated yet")
var ErrInvalidAvailability = fmt.Errorf("availability must be day 0..6 and a valid time bucket")

// Pick is one ranked selection as submitted by a participant.
type Pick struct {
	ItemID string
	Rank   int
}

// CycleService owns the cycle lifecycle and every participant-facing write.
// Reads for display go through the sync engine; writes come through here so
// ownership rules (each participant mutates only their own slot) are enforced
// in one place.
type CycleService struct {
	pairRepo  pair.Repository
	cycleRepo cycle.Repository
	log       *logrus.Logger
}

func NewCycleService(pr pair.Repository, cr cycle.Repository, log *logrus.Logger) *CycleService {
	return &CycleService{pairRepo: pr, cycleRepo: cr, log: log}
}

// SlotFor maps a participant to their slot within the pair.
func SlotFor(p *pair.Pair, participantID int64) (cycle.Slot, error) {
	switch {
	case p.ParticipantOneID == participantID:
		return cycle.SlotOne, nil
	case p.ParticipantTwoID.Valid && p.ParticipantTwoID.Int64 == participantID:
		return cycle.SlotTwo, nil
	default:
		return "", ErrNotPairMember
	}
}

// EnsureOpenCycle returns the pair's current cycle, creating one when the
// pair has none open. Cycles are never reused across periods.
func (s *CycleService) EnsureOpenCycle(ctx context.Context, pairID int64) (*cycle.Cycle, error) {
	existing, err := s.cycleRepo.GetOpenByPair(ctx, pairID)
	if err == nil {
		return existing, nil
	}
	if err != idb.ErrCycleNotFound {
		return nil, fmt.Errorf("failed to look up open cycle: %w", err)
	}

	c := &cycle.Cycle{PairID: pairID}
	if err := s.cycleRepo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create cycle: %w", err)
	}
	s.log.WithFields(logrus.Fields{"pair_id": pairID, "cycle_id": c.ID}).Info("opened new cycle")
	return c, nil
}

// SubmitInput writes the calling participant's input slot on the pair's open
// cycle, creating the cycle first if needed.
func (s *CycleService) SubmitInput(ctx context.Context, participantID int64, payload string) (*cycle.Cycle, error) {
	p, err := s.pairRepo.GetByParticipant(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pair for participant %d: %w", participantID, err)
	}
	slot, err := SlotFor(p, participantID)
	if err != nil {
		return nil, err
	}

	c, err := s.EnsureOpenCycle(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if err := s.cycleRepo.SubmitInput(ctx, c.ID, slot, payload); err != nil {
		return nil, fmt.Errorf("failed to submit input: %w", err)
	}
	return s.cycleRepo.GetByID(ctx, c.ID)
}

// SavePicks replaces a participant's ranked preference list. Every pick must
// reference an item of the cycle's artifact.
func (s *CycleService) SavePicks(ctx context.Context, cycleID uuid.UUID, participantID int64, picks []Pick) error {
	c, err := s.cycleRepo.GetByID(ctx, cycleID)
	if err != nil {
		return err
	}
	slot, err := s.slotOnCycle(ctx, c, participantID)
	if err != nil {
		return err
	}
	if c.Artifact == nil {
		return ErrArtifactNotReady
	}

	known := make(map[string]bool, len(c.Artifact.Items))
	for _, item := range c.Artifact.Items {
		known[item.ID] = true
	}

	prefs := make([]*cycle.Preference, 0, len(picks))
	for _, pk := range picks {
		if !known[pk.ItemID] {
			return ErrUnknownArtifactItem
		}
		prefs = append(prefs, &cycle.Preference{CycleID: cycleID, Slot: slot, ItemID: pk.ItemID, Rank: pk.Rank})
	}
	return s.cycleRepo.ReplacePreferences(ctx, cycleID, slot, prefs)
}

// AddAvailability declares one (day, bucket) slot of openness.
func (s *CycleService) AddAvailability(ctx context.Context, cycleID uuid.UUID, participantID int64, dayOffset int, bucket cycle.TimeBucket) error {
	if dayOffset < 0 || dayOffset > 6 || bucket.Order() > 2 {
		return ErrInvalidAvailability
	}
	c, err := s.cycleRepo.GetByID(ctx, cycleID)
	if err != nil {
		return err
	}
	slot, err := s.slotOnCycle(ctx, c, participantID)
	if err != nil {
		return err
	}
	return s.cycleRepo.AddAvailability(ctx, cycleID, slot, dayOffset, bucket)
}

// RemoveAvailability withdraws a previously declared slot.
func (s *CycleService) RemoveAvailability(ctx context.Context, cycleID uuid.UUID, participantID int64, dayOffset int, bucket cycle.TimeBucket) error {
	c, err := s.cycleRepo.GetByID(ctx, cycleID)
	if err != nil {
		return err
	}
	slot, err := s.slotOnCycle(ctx, c, participantID)
	if err != nil {
		return err
	}
	return s.cycleRepo.RemoveAvailability(ctx, cycleID, slot, dayOffset, bucket)
}

// CurrentMatch resolves the best shared ritual and time slot from the latest
// stored picks, oriented to the calling participant.
func (s *CycleService) CurrentMatch(ctx context.Context, cycleID uuid.UUID, participantID int64) (match.Result, error) {
	snap, err := s.cycleRepo.GetSnapshot(ctx, cycleID)
	if err != nil {
		return match.Result{}, err
	}
	if snap.Cycle.Artifact == nil {
		return match.Result{}, ErrArtifactNotReady
	}
	slot, err := s.slotOnCycle(ctx, snap.Cycle, participantID)
	if err != nil {
		return match.Result{}, err
	}
	return match.Resolve(
		snap.Cycle.Artifact.Items,
		snap.PreferencesFor(slot),
		snap.PreferencesFor(slot.Other()),
		snap.AvailabilityFor(slot),
		snap.AvailabilityFor(slot.Other()),
	), nil
}

// FinalizeAgreement sets the cycle's terminal agreement. The confirmed item
// must be a matchable artifact item; a duplicate finalize is rejected by the
// store's conditional write and logged as an invariant violation, never
// silently absorbed into a different agreement.
func (s *CycleService) FinalizeAgreement(ctx context.Context, cycleID uuid.UUID, participantID int64, itemID string, date time.Time, bucket cycle.TimeBucket) error {
	snap, err := s.cycleRepo.GetSnapshot(ctx, cycleID)
	if err != nil {
		return err
	}
	if _, err := s.slotOnCycle(ctx, snap.Cycle, participantID); err != nil {
		return err
	}
	if snap.Cycle.Artifact == nil {
		return ErrArtifactNotReady
	}

	valid := false
	for _, item := range snap.Cycle.Artifact.Items {
		if item.ID == itemID {
			valid = true
			break
		}
	}
	if !valid {
		return ErrUnknownArtifactItem
	}

	if err := s.cycleRepo.FinalizeAgreement(ctx, cycleID, itemID, date, bucket); err != nil {
		if err == idb.ErrAlreadyAgreed {
			s.log.WithFields(logrus.Fields{
				"cycle_id":       cycleID,
				"participant_id": participantID,
			}).Error("agreement write on an already-agreed cycle rejected")
		}
		return err
	}
	s.log.WithFields(logrus.Fields{"cycle_id": cycleID, "item_id": itemID}).Info("agreement finalized")
	return nil
}

// slotOnCycle resolves the participant's slot via the cycle's owning pair.
func (s *CycleService) slotOnCycle(ctx context.Context, c *cycle.Cycle, participantID int64) (cycle.Slot, error) {
	p, err := s.pairRepo.GetByID(ctx, c.PairID)
	if err != nil {
		return "", fmt.Errorf("failed to load pair %d: %w", c.PairID, err)
	}
	return SlotFor(p, participantID)
}

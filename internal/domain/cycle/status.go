// internal/domain/cycle/status.go
package cycle

import "time"

// Status is the discrete state of a cycle. It is always derived from the
// cycle's other fields via Derive; transitions happen only because a field
// changed, never by an explicit "set status" command.
type Status string

const (
	StatusAwaitingBothInput      Status = "AWAITING_BOTH_INPUT"
	StatusAwaitingPartnerOne     Status = "AWAITING_PARTNER_ONE"
	StatusAwaitingPartnerTwo     Status = "AWAITING_PARTNER_TWO"
	StatusGenerating             Status = "GENERATING"
	StatusGenerationFailed       Status = "GENERATION_FAILED"
	StatusAwaitingBothPicks      Status = "AWAITING_BOTH_PICKS"
	StatusAwaitingPartnerOnePick Status = "AWAITING_PARTNER_ONE_PICK"
	StatusAwaitingPartnerTwoPick Status = "AWAITING_PARTNER_TWO_PICK"
	StatusAwaitingAgreement      Status = "AWAITING_AGREEMENT"
	StatusAgreed                 Status = "AGREED"
	StatusCompleted              Status = "COMPLETED"
)

// Terminal reports whether the status has no outbound transitions.
func (s Status) Terminal() bool {
	return s == StatusAgreed || s == StatusCompleted
}

// DefaultGenerationTimeout is how long a started generation may run before
// the cycle derives as GENERATION_FAILED. Overridable via configuration.
const DefaultGenerationTimeout = 120 * time.Second

// Derive computes the status of a snapshot at the given instant. This is the
// single derivation path in the system: clients call it directly and the
// store executes it inside every status-relevant write transaction, so the
// two can never disagree.
//
// Rules are priority-ordered; the first match wins:
//  1. agreement set -> AGREED (COMPLETED if the cycle was also closed out)
//  2. artifact present -> pick-completeness statuses
//  3. both inputs present -> GENERATING or GENERATION_FAILED
//  4. one input present -> awaiting the empty slot
//  5. otherwise -> AWAITING_BOTH_INPUT
func Derive(snap *Snapshot, now time.Time, generationTimeout time.Duration) Status {
	c := snap.Cycle

	if c.AgreedItemID.Valid {
		if c.CompletedAt.Valid {
			return StatusCompleted
		}
		return StatusAgreed
	}

	if c.Artifact != nil {
		oneDone := picksComplete(snap, SlotOne)
		twoDone := picksComplete(snap, SlotTwo)
		switch {
		case oneDone && twoDone:
			return StatusAwaitingAgreement
		case oneDone:
			return StatusAwaitingPartnerTwoPick
		case twoDone:
			return StatusAwaitingPartnerOnePick
		default:
			return StatusAwaitingBothPicks
		}
	}

	if c.InputOne.Valid && c.InputTwo.Valid {
		// A generation attempt may not have been recorded yet (the dual-submit
		// race); the backstop trigger closes that gap, so the cycle still
		// reads as generating.
		if c.GenerationStartedAt.Valid && now.Sub(c.GenerationStartedAt.Time) > generationTimeout {
			return StatusGenerationFailed
		}
		return StatusGenerating
	}

	if c.InputOne.Valid {
		return StatusAwaitingPartnerTwo
	}
	if c.InputTwo.Valid {
		return StatusAwaitingPartnerOne
	}
	return StatusAwaitingBothInput
}

// picksComplete reports whether a participant has finished the picking phase:
// a full set of ranked preferences and at least one availability slot.
func picksComplete(snap *Snapshot, slot Slot) bool {
	prefs := 0
	for _, p := range snap.Preferences {
		if p.Slot == slot {
			prefs++
		}
	}
	if prefs < MaxPreferences {
		return false
	}
	for _, a := range snap.Availability {
		if a.Slot == slot {
			return true
		}
	}
	return false
}

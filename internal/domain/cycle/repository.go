// internal/domain/cycle/repository.go
package cycle

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines persistence operations for cycles and their child rows.
//
// Every mutation that touches a status-relevant field must recompute and
// persist the cycle's status inside the same transaction, so the stored
// status is never observably stale relative to its inputs.
type Repository interface {
	// Cycle methods
	Create(ctx context.Context, c *Cycle) error
	GetByID(ctx context.Context, id uuid.UUID) (*Cycle, error)
	// GetOpenByPair returns the pair's current non-completed cycle, if any.
	GetOpenByPair(ctx context.Context, pairID int64) (*Cycle, error)
	// GetSnapshot fetches the cycle plus all preference and availability rows.
	GetSnapshot(ctx context.Context, id uuid.UUID) (*Snapshot, error)

	// SubmitInput writes one participant's input slot. Re-submitting
	// overwrites the participant's own slot only.
	SubmitInput(ctx context.Context, id uuid.UUID, slot Slot, payload string) error

	// MarkGenerationStarted records a generation attempt. Without force it is
	// conditional on no attempt being recorded; with force it overwrites a
	// previous (failed) attempt. Returns ErrGenerationInFlight when the
	// condition does not hold.
	MarkGenerationStarted(ctx context.Context, id uuid.UUID, force bool) error

	// SetArtifactIfUnset persists the artifact only if none exists yet.
	// Concurrent callers are expected; exactly one write wins and the rest
	// return ErrArtifactAlreadySet.
	SetArtifactIfUnset(ctx context.Context, id uuid.UUID, a *Artifact) error

	// ReplacePreferences replaces a participant's full ranked list (≤3 rows).
	ReplacePreferences(ctx context.Context, id uuid.UUID, slot Slot, prefs []*Preference) error
	ListPreferences(ctx context.Context, id uuid.UUID) ([]*Preference, error)

	AddAvailability(ctx context.Context, id uuid.UUID, slot Slot, dayOffset int, bucket TimeBucket) error
	RemoveAvailability(ctx context.Context, id uuid.UUID, slot Slot, dayOffset int, bucket TimeBucket) error
	ListAvailability(ctx context.Context, id uuid.UUID) ([]*Availability, error)

	// FinalizeAgreement sets the agreement at most once. A second call
	// returns ErrAlreadyAgreed and leaves the stored agreement untouched.
	FinalizeAgreement(ctx context.Context, id uuid.UUID, itemID string, date time.Time, bucket TimeBucket) error

	// MarkCompleted closes out an agreed cycle.
	MarkCompleted(ctx context.Context, id uuid.UUID) error

	// ListAwaitingGeneration returns cycles with both inputs present and no
	// artifact, for the backstop trigger sweep.
	ListAwaitingGeneration(ctx context.Context) ([]*Cycle, error)
}

// internal/domain/cycle/cycle.go
package cycle

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Cycle is one period's collaborative record shared by exactly two participants.
// Corresponds to the 'ritual_cycles' table.
type Cycle struct {
	ID     uuid.UUID
	PairID int64

	// Per-slot inputs. Each participant writes only their own slot.
	InputOne            sql.NullString
	InputOneSubmittedAt sql.NullTime
	InputTwo            sql.NullString
	InputTwoSubmittedAt sql.NullTime

	// Artifact is set at most once by the generation process.
	Artifact            *Artifact
	GenerationStartedAt sql.NullTime

	// Agreement is terminal once set.
	AgreedItemID sql.NullString
	AgreedDate   sql.NullTime
	AgreedBucket sql.NullString // TimeBucket value

	CompletedAt sql.NullTime

	// Status is a persisted projection of the fields above, recomputed by the
	// store on every write. It is never authored directly.
	Status Status

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Artifact is the derived result produced by the external generator from both
// participants' inputs. Stored as a JSONB payload.
type Artifact struct {
	Items       []ArtifactItem `json:"items"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// ArtifactItem is one ritual idea inside an artifact. Position preserves the
// generator's original order and breaks score ties in the match resolver.
type ArtifactItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Position    int    `json:"position"`
}

// Slot identifies which of the two participant positions a row belongs to.
type Slot string

const (
	SlotOne Slot = "ONE"
	SlotTwo Slot = "TWO"
)

// Other returns the opposite slot.
func (s Slot) Other() Slot {
	if s == SlotOne {
		return SlotTwo
	}
	return SlotOne
}

// Preference is one ranked pick of an artifact item by a participant.
// At most one entry per (cycle, slot, rank). Corresponds to 'cycle_preferences'.
type Preference struct {
	ID        int64
	CycleID   uuid.UUID
	Slot      Slot
	ItemID    string
	Rank      int // 1..3
	CreatedAt time.Time
}

// MaxPreferences is the per-participant cap on ranked picks.
const MaxPreferences = 3

// Availability is one participant-declared (day, bucket) slot of openness
// within the cycle's week. Corresponds to 'cycle_availability'.
type Availability struct {
	ID        int64
	CycleID   uuid.UUID
	Slot      Slot
	DayOffset int // 0..6 from cycle start
	Bucket    TimeBucket
	CreatedAt time.Time
}

// TimeBucket is one of the three fixed parts of a day.
type TimeBucket string

const (
	BucketMorning   TimeBucket = "MORNING"
	BucketAfternoon TimeBucket = "AFTERNOON"
	BucketEvening   TimeBucket = "EVENING"
)

// Order returns the within-day sort position of the bucket (morning first).
func (b TimeBucket) Order() int {
	switch b {
	case BucketMorning:
		return 0
	case BucketAfternoon:
		return 1
	case BucketEvening:
		return 2
	default:
		return 3
	}
}

// Snapshot bundles a cycle with its child rows, as fetched in one pass. It is
// the unit the sync engine applies and the input to status derivation.
type Snapshot struct {
	Cycle        *Cycle
	Preferences  []*Preference
	Availability []*Availability
}

// PreferencesFor returns the snapshot's preference rows for one slot.
func (s *Snapshot) PreferencesFor(slot Slot) []*Preference {
	out := make([]*Preference, 0, MaxPreferences)
	for _, p := range s.Preferences {
		if p.Slot == slot {
			out = append(out, p)
		}
	}
	return out
}

// AvailabilityFor returns the snapshot's availability rows for one slot.
func (s *Snapshot) AvailabilityFor(slot Slot) []*Availability {
	out := make([]*Availability, 0, len(s.Availability))
	for _, a := range s.Availability {
		if a.Slot == slot {
			out = append(out, a)
		}
	}
	return out
}

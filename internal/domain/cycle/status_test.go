package cycle

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, time.August, 17, 12, 0, 0, 0, time.UTC)

func nullStr(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}

// buildSnapshot assembles a snapshot from a terse shape description.
type snapshotShape struct {
	inputOne, inputTwo bool
	generationStarted  time.Time // zero = no attempt recorded
	artifact           bool
	prefsOne, prefsTwo int
	availOne, availTwo int
	agreed             bool
	completed          bool
}

func buildSnapshot(sh snapshotShape) *Snapshot {
	id := uuid.New()
	c := &Cycle{ID: id, PairID: 1}
	if sh.inputOne {
		c.InputOne = nullStr("cozy, low budget")
		c.InputOneSubmittedAt = nullTime(testNow.Add(-time.Hour))
	}
	if sh.inputTwo {
		c.InputTwo = nullStr("something outdoors")
		c.InputTwoSubmittedAt = nullTime(testNow.Add(-time.Hour))
	}
	if !sh.generationStarted.IsZero() {
		c.GenerationStartedAt = nullTime(sh.generationStarted)
	}
	if sh.artifact {
		c.Artifact = &Artifact{Items: []ArtifactItem{
			{ID: "a", Title: "A", Position: 0},
			{ID: "b", Title: "B", Position: 1},
			{ID: "c", Title: "C", Position: 2},
			{ID: "d", Title: "D", Position: 3},
		}}
	}
	if sh.agreed {
		c.AgreedItemID = nullStr("a")
		c.AgreedDate = nullTime(testNow.Add(48 * time.Hour))
		c.AgreedBucket = nullStr(string(BucketEvening))
	}
	if sh.completed {
		c.CompletedAt = nullTime(testNow)
	}

	snap := &Snapshot{Cycle: c}
	items := []string{"a", "b", "c"}
	for i := 0; i < sh.prefsOne; i++ {
		snap.Preferences = append(snap.Preferences, &Preference{CycleID: id, Slot: SlotOne, ItemID: items[i%3], Rank: i + 1})
	}
	for i := 0; i < sh.prefsTwo; i++ {
		snap.Preferences = append(snap.Preferences, &Preference{CycleID: id, Slot: SlotTwo, ItemID: items[i%3], Rank: i + 1})
	}
	for i := 0; i < sh.availOne; i++ {
		snap.Availability = append(snap.Availability, &Availability{CycleID: id, Slot: SlotOne, DayOffset: i, Bucket: BucketMorning})
	}
	for i := 0; i < sh.availTwo; i++ {
		snap.Availability = append(snap.Availability, &Availability{CycleID: id, Slot: SlotTwo, DayOffset: i, Bucket: BucketEvening})
	}
	return snap
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name  string
		shape snapshotShape
		want  Status
	}{
		{
			name:  "empty cycle awaits both inputs",
			shape: snapshotShape{},
			want:  StatusAwaitingBothInput,
		},
		{
			name:  "only participant one input present",
			shape: snapshotShape{inputOne: true},
			want:  StatusAwaitingPartnerTwo,
		},
		{
			name:  "only participant two input present",
			shape: snapshotShape{inputTwo: true},
			want:  StatusAwaitingPartnerOne,
		},
		{
			name:  "both inputs, no attempt recorded yet",
			shape: snapshotShape{inputOne: true, inputTwo: true},
			want:  StatusGenerating,
		},
		{
			name:  "both inputs, generation in flight",
			shape: snapshotShape{inputOne: true, inputTwo: true, generationStarted: testNow.Add(-30 * time.Second)},
			want:  StatusGenerating,
		},
		{
			name:  "generation started 130s ago with no artifact",
			shape: snapshotShape{inputOne: true, inputTwo: true, generationStarted: testNow.Add(-130 * time.Second)},
			want:  StatusGenerationFailed,
		},
		{
			name:  "artifact present, no picks",
			shape: snapshotShape{inputOne: true, inputTwo: true, artifact: true},
			want:  StatusAwaitingBothPicks,
		},
		{
			name:  "participant one finished picking",
			shape: snapshotShape{inputOne: true, inputTwo: true, artifact: true, prefsOne: 3, availOne: 1},
			want:  StatusAwaitingPartnerTwoPick,
		},
		{
			name:  "participant two finished picking",
			shape: snapshotShape{inputOne: true, inputTwo: true, artifact: true, prefsTwo: 3, availTwo: 2},
			want:  StatusAwaitingPartnerOnePick,
		},
		{
			name:  "ranked picks without availability are incomplete",
			shape: snapshotShape{inputOne: true, inputTwo: true, artifact: true, prefsOne: 3, prefsTwo: 3, availTwo: 1},
			want:  StatusAwaitingPartnerOnePick,
		},
		{
			name:  "two ranked picks are not enough",
			shape: snapshotShape{inputOne: true, inputTwo: true, artifact: true, prefsOne: 2, availOne: 1, prefsTwo: 3, availTwo: 1},
			want:  StatusAwaitingPartnerOnePick,
		},
		{
			name:  "both finished picking",
			shape: snapshotShape{inputOne: true, inputTwo: true, artifact: true, prefsOne: 3, availOne: 1, prefsTwo: 3, availTwo: 1},
			want:  StatusAwaitingAgreement,
		},
		{
			name:  "agreement set",
			shape: snapshotShape{inputOne: true, inputTwo: true, artifact: true, prefsOne: 3, availOne: 1, prefsTwo: 3, availTwo: 1, agreed: true},
			want:  StatusAgreed,
		},
		{
			name:  "agreed and closed out",
			shape: snapshotShape{inputOne: true, inputTwo: true, artifact: true, agreed: true, completed: true},
			want:  StatusCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Derive(buildSnapshot(tt.shape), testNow, DefaultGenerationTimeout)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDerive_AgreementIsTerminal(t *testing.T) {
	snap := buildSnapshot(snapshotShape{
		inputOne: true, inputTwo: true, artifact: true,
		prefsOne: 3, availOne: 1, prefsTwo: 3, availTwo: 1,
		agreed: true,
	})
	require.Equal(t, StatusAgreed, Derive(snap, testNow, DefaultGenerationTimeout))

	// No later field mutation moves an agreed cycle anywhere but COMPLETED.
	snap.Preferences = nil
	snap.Availability = nil
	assert.Equal(t, StatusAgreed, Derive(snap, testNow, DefaultGenerationTimeout))

	snap.Cycle.InputOne = sql.NullString{}
	snap.Cycle.Artifact = nil
	assert.Equal(t, StatusAgreed, Derive(snap, testNow, DefaultGenerationTimeout))

	snap.Cycle.CompletedAt = nullTime(testNow)
	assert.Equal(t, StatusCompleted, Derive(snap, testNow, DefaultGenerationTimeout))
	assert.True(t, StatusAgreed.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.False(t, StatusGenerating.Terminal())
}

func TestDerive_ConfigurableTimeout(t *testing.T) {
	snap := buildSnapshot(snapshotShape{
		inputOne: true, inputTwo: true,
		generationStarted: testNow.Add(-130 * time.Second),
	})
	assert.Equal(t, StatusGenerationFailed, Derive(snap, testNow, 120*time.Second))
	assert.Equal(t, StatusGenerating, Derive(snap, testNow, 300*time.Second))
}

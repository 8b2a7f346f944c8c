package match

import (
	"testing"

	"ritual_sync_service/internal/domain/cycle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func items(ids ...string) []cycle.ArtifactItem {
	out := make([]cycle.ArtifactItem, 0, len(ids))
	for i, id := range ids {
		out = append(out, cycle.ArtifactItem{ID: id, Title: id, Position: i})
	}
	return out
}

func prefs(slot cycle.Slot, ranked ...string) []*cycle.Preference {
	out := make([]*cycle.Preference, 0, len(ranked))
	for i, id := range ranked {
		out = append(out, &cycle.Preference{Slot: slot, ItemID: id, Rank: i + 1})
	}
	return out
}

type daySlot struct {
	day    int
	bucket cycle.TimeBucket
}

func avail(slot cycle.Slot, slots ...daySlot) []*cycle.Availability {
	out := make([]*cycle.Availability, 0, len(slots))
	for _, s := range slots {
		out = append(out, &cycle.Availability{Slot: slot, DayOffset: s.day, Bucket: s.bucket})
	}
	return out
}

func TestResolve_TieBrokenByOriginalOrder(t *testing.T) {
	// One ranks A(1) B(2) C(3); two ranks B(1) A(2) D(3).
	// Combined: A=3, B=3 -> tie broken by item order, A wins.
	candidates := items("A", "B", "C", "D")
	mine := prefs(cycle.SlotOne, "A", "B", "C")
	partners := prefs(cycle.SlotTwo, "B", "A", "D")
	myAvail := avail(cycle.SlotOne, daySlot{0, cycle.BucketMorning})
	partnerAvail := avail(cycle.SlotTwo,
		daySlot{0, cycle.BucketMorning},
		daySlot{1, cycle.BucketEvening},
	)

	res := Resolve(candidates, mine, partners, myAvail, partnerAvail)

	require.NotNil(t, res.MatchedRitual)
	assert.Equal(t, "A", res.MatchedRitual.ID)
	require.NotNil(t, res.MatchedSlot)
	assert.Equal(t, 0, res.MatchedSlot.DayOffset)
	assert.Equal(t, cycle.BucketMorning, res.MatchedSlot.Bucket)
	assert.False(t, res.HasTimeConflict)

	require.Len(t, res.Ranking, 4)
	assert.Equal(t, "A", res.Ranking[0].Item.ID)
	assert.Equal(t, 3, res.Ranking[0].Score)
	assert.Equal(t, "B", res.Ranking[1].Item.ID)
	assert.Equal(t, 3, res.Ranking[1].Score)
}

func TestResolve_SwappingListsSwapsRanksNotMatch(t *testing.T) {
	candidates := items("A", "B", "C", "D")
	one := prefs(cycle.SlotOne, "A", "B", "C")
	two := prefs(cycle.SlotTwo, "B", "A", "D")

	fromOne := Resolve(candidates, one, two, nil, nil)
	fromTwo := Resolve(candidates, two, one, nil, nil)

	require.NotNil(t, fromOne.MatchedRitual)
	require.NotNil(t, fromTwo.MatchedRitual)
	assert.Equal(t, fromOne.MatchedRitual.ID, fromTwo.MatchedRitual.ID)

	require.Equal(t, len(fromOne.Ranking), len(fromTwo.Ranking))
	for i := range fromOne.Ranking {
		assert.Equal(t, fromOne.Ranking[i].MyRank, fromTwo.Ranking[i].PartnerRank)
		assert.Equal(t, fromOne.Ranking[i].PartnerRank, fromTwo.Ranking[i].MyRank)
		assert.Equal(t, fromOne.Ranking[i].Score, fromTwo.Ranking[i].Score)
	}
}

func TestResolve_FallbackToSingleSidedPick(t *testing.T) {
	candidates := items("A", "B", "C")
	mine := prefs(cycle.SlotOne, "A", "B")
	// Partner ranked nothing: best one-sided item wins.
	res := Resolve(candidates, mine, nil, nil, nil)

	require.NotNil(t, res.MatchedRitual)
	assert.Equal(t, "A", res.MatchedRitual.ID)
}

func TestResolve_NoPicksMeansNoMatch(t *testing.T) {
	res := Resolve(items("A", "B"), nil, nil, nil, nil)
	assert.Nil(t, res.MatchedRitual)
	assert.Len(t, res.Ranking, 2)
}

func TestResolve_SingleOverlapNeedsNoSpecialCasing(t *testing.T) {
	candidates := items("A", "B", "C")
	mine := prefs(cycle.SlotOne, "C")
	partners := prefs(cycle.SlotTwo, "C")
	res := Resolve(candidates, mine, partners, nil, nil)

	require.NotNil(t, res.MatchedRitual)
	assert.Equal(t, "C", res.MatchedRitual.ID)
	assert.Equal(t, "C", res.Ranking[0].Item.ID)
}

func TestResolve_DisjointAvailabilityReportsConflict(t *testing.T) {
	mine := avail(cycle.SlotOne,
		daySlot{0, cycle.BucketMorning},
		daySlot{2, cycle.BucketEvening},
	)
	partners := avail(cycle.SlotTwo,
		daySlot{1, cycle.BucketMorning},
		daySlot{3, cycle.BucketAfternoon},
	)

	res := Resolve(items("A"), prefs(cycle.SlotOne, "A"), prefs(cycle.SlotTwo, "A"), mine, partners)

	assert.Nil(t, res.MatchedSlot)
	assert.True(t, res.HasTimeConflict)
}

func TestResolve_EmptyAvailabilityIsNotAConflict(t *testing.T) {
	mine := avail(cycle.SlotOne, daySlot{0, cycle.BucketMorning})

	res := Resolve(items("A"), nil, nil, mine, nil)
	assert.Nil(t, res.MatchedSlot)
	assert.False(t, res.HasTimeConflict, "a missing set means not-enough-data, not a conflict")
}

func TestResolve_SlotOrderedByDayThenBucket(t *testing.T) {
	mine := avail(cycle.SlotOne,
		daySlot{3, cycle.BucketMorning},
		daySlot{1, cycle.BucketEvening},
		daySlot{1, cycle.BucketAfternoon},
	)
	partners := avail(cycle.SlotTwo,
		daySlot{1, cycle.BucketEvening},
		daySlot{1, cycle.BucketAfternoon},
		daySlot{3, cycle.BucketMorning},
	)

	res := Resolve(items("A"), nil, nil, mine, partners)
	require.NotNil(t, res.MatchedSlot)
	assert.Equal(t, 1, res.MatchedSlot.DayOffset)
	assert.Equal(t, cycle.BucketAfternoon, res.MatchedSlot.Bucket)
}

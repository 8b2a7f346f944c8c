// internal/domain/match/resolver.go
package match

import (
	"sort"

	"ritual_sync_service/internal/domain/cycle"
)

// unrankedScore is the sentinel added for a participant that did not rank a
// candidate. Large enough that any doubly-ranked item always beats a
// singly-ranked one (max real rank sum is 6).
const unrankedScore = 100

// RankedCandidate is one row of the resolver's full ranking table, from the
// calling participant's point of view.
type RankedCandidate struct {
	Item        cycle.ArtifactItem
	MyRank      int // 0 when the viewer did not rank the item
	PartnerRank int // 0 when the partner did not rank the item
	Score       int
}

// Slot is a concrete shared (day, bucket) pair both participants are open to.
type Slot struct {
	DayOffset int
	Bucket    cycle.TimeBucket
}

// Result is the outcome of resolving both participants' picks.
//
// MatchedRitual is nil when no candidate was ranked by either participant;
// callers must block confirmation in that case. MatchedSlot is nil when the
// availability sets do not overlap; HasTimeConflict distinguishes "no overlap"
// (both declared, disjoint) from "not enough data" (a set is still empty).
type Result struct {
	MatchedRitual   *cycle.ArtifactItem
	MatchedSlot     *Slot
	HasTimeConflict bool
	Ranking         []RankedCandidate
}

// Resolve computes the best shared ritual and time slot.
//
// Scoring: each candidate's score is myRank + partnerRank, substituting
// unrankedScore for a missing rank. Candidates sort by ascending score, ties
// broken by the artifact's original item order. The best candidate ranked by
// both participants wins; if none is doubly-ranked, the best singly-ranked
// one does. A time conflict is reported, never silently resolved to a slot
// neither side declared.
func Resolve(
	candidates []cycle.ArtifactItem,
	myPrefs []*cycle.Preference,
	partnerPrefs []*cycle.Preference,
	myAvail []*cycle.Availability,
	partnerAvail []*cycle.Availability,
) Result {
	myRanks := rankIndex(myPrefs)
	partnerRanks := rankIndex(partnerPrefs)

	ranking := make([]RankedCandidate, 0, len(candidates))
	for _, item := range candidates {
		rc := RankedCandidate{
			Item:        item,
			MyRank:      myRanks[item.ID],
			PartnerRank: partnerRanks[item.ID],
		}
		rc.Score = scoreOf(rc.MyRank) + scoreOf(rc.PartnerRank)
		ranking = append(ranking, rc)
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		if ranking[i].Score != ranking[j].Score {
			return ranking[i].Score < ranking[j].Score
		}
		return ranking[i].Item.Position < ranking[j].Item.Position
	})

	res := Result{Ranking: ranking}
	res.MatchedRitual = pickMatch(ranking)

	slot, conflict := resolveSlot(myAvail, partnerAvail)
	res.MatchedSlot = slot
	res.HasTimeConflict = conflict
	return res
}

// pickMatch returns the top doubly-ranked candidate, falling back to the top
// singly-ranked one. The ranking is already sorted, so the first qualifying
// entry wins in both passes.
func pickMatch(ranking []RankedCandidate) *cycle.ArtifactItem {
	for i := range ranking {
		if ranking[i].MyRank > 0 && ranking[i].PartnerRank > 0 {
			item := ranking[i].Item
			return &item
		}
	}
	for i := range ranking {
		if ranking[i].MyRank > 0 || ranking[i].PartnerRank > 0 {
			item := ranking[i].Item
			return &item
		}
	}
	return nil
}

// resolveSlot intersects both availability sets and returns the earliest
// shared slot, ordered by day offset then morning < afternoon < evening.
func resolveSlot(mine, partners []*cycle.Availability) (*Slot, bool) {
	theirs := make(map[Slot]bool, len(partners))
	for _, a := range partners {
		theirs[Slot{DayOffset: a.DayOffset, Bucket: a.Bucket}] = true
	}

	shared := make([]Slot, 0, len(mine))
	for _, a := range mine {
		s := Slot{DayOffset: a.DayOffset, Bucket: a.Bucket}
		if theirs[s] {
			shared = append(shared, s)
		}
	}
	sort.Slice(shared, func(i, j int) bool {
		if shared[i].DayOffset != shared[j].DayOffset {
			return shared[i].DayOffset < shared[j].DayOffset
		}
		return shared[i].Bucket.Order() < shared[j].Bucket.Order()
	})

	if len(shared) > 0 {
		s := shared[0]
		return &s, false
	}
	conflict := len(mine) > 0 && len(partners) > 0
	return nil, conflict
}

func rankIndex(prefs []*cycle.Preference) map[string]int {
	idx := make(map[string]int, len(prefs))
	for _, p := range prefs {
		// Duplicate item entries keep the best (lowest) rank.
		if cur, ok := idx[p.ItemID]; !ok || p.Rank < cur {
			idx[p.ItemID] = p.Rank
		}
	}
	return idx
}

func scoreOf(rank int) int {
	if rank == 0 {
		return unrankedScore
	}
	return rank
}

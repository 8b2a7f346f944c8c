package app

import (
	"context"
	stdsync "sync"
	"time"

	"ritual_sync_service/internal/domain/cycle"
	"ritual_sync_service/internal/domain/pair"
	idb "ritual_sync_service/internal/infra/database"

	"github.com/google/uuid"
)

// memCycleRepo is an in-memory cycle.Repository with the same contract as the
// Postgres implementation: conditional writes, sentinel errors, and status
// recomputation on every mutation.
type memCycleRepo struct {
	mu         stdsync.Mutex
	cycles     map[uuid.UUID]*cycle.Cycle
	prefs      map[uuid.UUID][]*cycle.Preference
	avail      map[uuid.UUID][]*cycle.Availability
	genTimeout time.Duration
	nextID     int64
}

func newMemCycleRepo() *memCycleRepo {
	return &memCycleRepo{
		cycles:     make(map[uuid.UUID]*cycle.Cycle),
		prefs:      make(map[uuid.UUID][]*cycle.Preference),
		avail:      make(map[uuid.UUID][]*cycle.Availability),
		genTimeout: cycle.DefaultGenerationTimeout,
	}
}

func (r *memCycleRepo) recompute(id uuid.UUID) {
	c := r.cycles[id]
	snap := &cycle.Snapshot{Cycle: c, Preferences: r.prefs[id], Availability: r.avail[id]}
	c.Status = cycle.Derive(snap, time.Now(), r.genTimeout)
	c.UpdatedAt = time.Now()
}

func (r *memCycleRepo) Create(_ context.Context, c *cycle.Cycle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	r.cycles[c.ID] = c
	r.recompute(c.ID)
	return nil
}

func (r *memCycleRepo) GetByID(_ context.Context, id uuid.UUID) (*cycle.Cycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[id]
	if !ok {
		return nil, idb.ErrCycleNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memCycleRepo) GetOpenByPair(_ context.Context, pairID int64) (*cycle.Cycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cycles {
		if c.PairID == pairID && !c.CompletedAt.Valid {
			cp := *c
			return &cp, nil
		}
	}
	return nil, idb.ErrCycleNotFound
}

func (r *memCycleRepo) GetSnapshot(_ context.Context, id uuid.UUID) (*cycle.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[id]
	if !ok {
		return nil, idb.ErrCycleNotFound
	}
	cp := *c
	return &cycle.Snapshot{
		Cycle:        &cp,
		Preferences:  append([]*cycle.Preference(nil), r.prefs[id]...),
		Availability: append([]*cycle.Availability(nil), r.avail[id]...),
	}, nil
}

func (r *memCycleRepo) SubmitInput(_ context.Context, id uuid.UUID, slot cycle.Slot, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[id]
	if !ok {
		return idb.ErrCycleNotFound
	}
	if c.AgreedItemID.Valid {
		return idb.ErrAlreadyAgreed
	}
	now := time.Now()
	if slot == cycle.SlotOne {
		c.InputOne.String, c.InputOne.Valid = payload, true
		c.InputOneSubmittedAt.Time, c.InputOneSubmittedAt.Valid = now, true
	} else {
		c.InputTwo.String, c.InputTwo.Valid = payload, true
		c.InputTwoSubmittedAt.Time, c.InputTwoSubmittedAt.Valid = now, true
	}
	r.recompute(id)
	return nil
}

func (r *memCycleRepo) MarkGenerationStarted(_ context.Context, id uuid.UUID, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[id]
	if !ok {
		return idb.ErrCycleNotFound
	}
	if c.Artifact != nil {
		return idb.ErrArtifactAlreadySet
	}
	if !force && c.GenerationStartedAt.Valid {
		return idb.ErrGenerationInFlight
	}
	c.GenerationStartedAt.Time, c.GenerationStartedAt.Valid = time.Now(), true
	r.recompute(id)
	return nil
}

func (r *memCycleRepo) SetArtifactIfUnset(_ context.Context, id uuid.UUID, a *cycle.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[id]
	if !ok {
		return idb.ErrCycleNotFound
	}
	if c.Artifact != nil {
		return idb.ErrArtifactAlreadySet
	}
	c.Artifact = a
	r.recompute(id)
	return nil
}

func (r *memCycleRepo) ReplacePreferences(_ context.Context, id uuid.UUID, slot cycle.Slot, prefs []*cycle.Preference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cycles[id]; !ok {
		return idb.ErrCycleNotFound
	}
	if len(prefs) > cycle.MaxPreferences {
		return idb.ErrTooManyPreferences
	}
	seen := make(map[int]bool)
	for _, p := range prefs {
		if p.Rank < 1 || p.Rank > cycle.MaxPreferences || seen[p.Rank] {
			return idb.ErrInvalidPreferenceRank
		}
		seen[p.Rank] = true
	}

	kept := make([]*cycle.Preference, 0)
	for _, p := range r.prefs[id] {
		if p.Slot != slot {
			kept = append(kept, p)
		}
	}
	for _, p := range prefs {
		r.nextID++
		cp := *p
		cp.ID = r.nextID
		cp.CycleID = id
		cp.Slot = slot
		kept = append(kept, &cp)
	}
	r.prefs[id] = kept
	r.recompute(id)
	return nil
}

func (r *memCycleRepo) ListPreferences(_ context.Context, id uuid.UUID) ([]*cycle.Preference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*cycle.Preference(nil), r.prefs[id]...), nil
}

func (r *memCycleRepo) AddAvailability(_ context.Context, id uuid.UUID, slot cycle.Slot, dayOffset int, bucket cycle.TimeBucket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cycles[id]; !ok {
		return idb.ErrCycleNotFound
	}
	for _, a := range r.avail[id] {
		if a.Slot == slot && a.DayOffset == dayOffset && a.Bucket == bucket {
			return nil // set semantics
		}
	}
	r.nextID++
	r.avail[id] = append(r.avail[id], &cycle.Availability{
		ID: r.nextID, CycleID: id, Slot: slot, DayOffset: dayOffset, Bucket: bucket, CreatedAt: time.Now(),
	})
	r.recompute(id)
	return nil
}

func (r *memCycleRepo) RemoveAvailability(_ context.Context, id uuid.UUID, slot cycle.Slot, dayOffset int, bucket cycle.TimeBucket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := make([]*cycle.Availability, 0)
	for _, a := range r.avail[id] {
		if !(a.Slot == slot && a.DayOffset == dayOffset && a.Bucket == bucket) {
			kept = append(kept, a)
		}
	}
	r.avail[id] = kept
	r.recompute(id)
	return nil
}

func (r *memCycleRepo) ListAvailability(_ context.Context, id uuid.UUID) ([]*cycle.Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*cycle.Availability(nil), r.avail[id]...), nil
}

func (r *memCycleRepo) FinalizeAgreement(_ context.Context, id uuid.UUID, itemID string, date time.Time, bucket cycle.TimeBucket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[id]
	if !ok {
		return idb.ErrCycleNotFound
	}
	if c.AgreedItemID.Valid {
		return idb.ErrAlreadyAgreed
	}
	c.AgreedItemID.String, c.AgreedItemID.Valid = itemID, true
	c.AgreedDate.Time, c.AgreedDate.Valid = date, true
	c.AgreedBucket.String, c.AgreedBucket.Valid = string(bucket), true
	r.recompute(id)
	return nil
}

func (r *memCycleRepo) MarkCompleted(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[id]
	if !ok {
		return idb.ErrCycleNotFound
	}
	if c.AgreedItemID.Valid && !c.CompletedAt.Valid {
		c.CompletedAt.Time, c.CompletedAt.Valid = time.Now(), true
		r.recompute(id)
	}
	return nil
}

func (r *memCycleRepo) ListAwaitingGeneration(_ context.Context) ([]*cycle.Cycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*cycle.Cycle, 0)
	for _, c := range r.cycles {
		if c.InputOne.Valid && c.InputTwo.Valid && c.Artifact == nil && !c.AgreedItemID.Valid {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// memPairRepo is a fixed-content pair.Repository.
type memPairRepo struct {
	pairs map[int64]*pair.Pair
}

func newMemPairRepo(pairs ...*pair.Pair) *memPairRepo {
	r := &memPairRepo{pairs: make(map[int64]*pair.Pair)}
	for _, p := range pairs {
		r.pairs[p.ID] = p
	}
	return r
}

func (r *memPairRepo) Create(_ context.Context, p *pair.Pair) error {
	r.pairs[p.ID] = p
	return nil
}

func (r *memPairRepo) GetByID(_ context.Context, id int64) (*pair.Pair, error) {
	p, ok := r.pairs[id]
	if !ok {
		return nil, idb.ErrPairNotFound
	}
	return p, nil
}

func (r *memPairRepo) GetByParticipant(_ context.Context, participantID int64) (*pair.Pair, error) {
	for _, p := range r.pairs {
		if p.ParticipantOneID == participantID ||
			(p.ParticipantTwoID.Valid && p.ParticipantTwoID.Int64 == participantID) {
			return p, nil
		}
	}
	return nil, idb.ErrPairNotFound
}

func (r *memPairRepo) Update(_ context.Context, p *pair.Pair) error {
	r.pairs[p.ID] = p
	return nil
}

func (r *memPairRepo) ListActive(_ context.Context) ([]*pair.Pair, error) {
	out := make([]*pair.Pair, 0, len(r.pairs))
	for _, p := range r.pairs {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

package sync

import (
	"context"
	stdsync "sync"
	"time"

	"ritual_sync_service/internal/domain/cycle"
	"ritual_sync_service/internal/domain/match"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Conn is one live synchronization session for one cycle. All of its timers
// (debounce, heartbeat, poll) are owned by the connection's event loop and
// die with it; nothing outlives Disconnect.
type Conn struct {
	cfg      Config
	fetcher  Fetcher
	cycleID  uuid.UUID
	selfSlot cycle.Slot
	cb       Callbacks
	log      *logrus.Entry

	events chan struct{} // coalesced realtime change signals
	force  chan struct{} // ForceSync requests, capacity 1
	done   chan struct{}
	ended  chan struct{} // closed when the event loop has fully torn down

	unsubscribe func() // nil when the initial subscribe failed
	stopOnce    stdsync.Once

	mu          stdsync.Mutex
	healthy     bool
	lastEventAt time.Time
	lastSyncAt  time.Time
	latest      *cycle.Snapshot
	status      cycle.Status
	statusKnown bool
}

// Connect establishes a session: one snapshot subscription over the cycle's
// three change streams, an initial full fetch, and the background event loop.
//
// selfSlot orients match results (MyRank vs PartnerRank) for the caller; the
// service layer maps a participant ID to its slot before connecting.
//
// Store and subscription failures here are non-fatal: the connection starts
// unhealthy and the polling backstop takes over. The only returned error is
// context cancellation.
func (e *Engine) Connect(ctx context.Context, cycleID uuid.UUID, selfSlot cycle.Slot, cb Callbacks) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &Conn{
		cfg:      e.cfg,
		fetcher:  e.fetcher,
		cycleID:  cycleID,
		selfSlot: selfSlot,
		cb:       cb,
		log:      e.cfg.Logger.WithField("cycle_id", cycleID.String()),
		events:   make(chan struct{}, 8),
		force:    make(chan struct{}, 1),
		done:     make(chan struct{}),
		ended:    make(chan struct{}),
	}
	c.lastEventAt = time.Now()
	c.healthy = true

	signal := func() {
		select {
		case c.events <- struct{}{}:
		default: // a refetch is already owed; extra signals carry no data
		}
	}
	unsub, err := e.subscriber.Subscribe(cycleID, signal, signal, signal)
	if err != nil {
		c.log.WithError(err).Warn("realtime subscription failed; starting in degraded (polling) mode")
		c.healthy = false
	} else {
		c.unsubscribe = unsub
	}

	if ok := c.refetch(ctx); !ok {
		c.mu.Lock()
		c.healthy = false
		c.mu.Unlock()
	}
	if cb.OnHealth != nil {
		cb.OnHealth(c.Healthy())
	}

	go c.run(ctx)
	return c, nil
}

// ForceSync requests an immediate full refetch, e.g. after a local optimistic
// mutation or a manual refresh. Requests made while one is pending coalesce.
func (c *Conn) ForceSync() {
	select {
	case c.force <- struct{}{}:
	default:
	}
}

// Disconnect tears down the subscription and all timers. It blocks until the
// event loop has exited and is safe to call more than once, or on a
// connection whose subscription never came up.
func (c *Conn) Disconnect() {
	c.stopOnce.Do(func() { close(c.done) })
	<-c.ended
}

// Healthy reports whether the realtime channel is considered live.
func (c *Conn) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

// LastSyncAt returns when a snapshot was last applied (zero before the first).
func (c *Conn) LastSyncAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSyncAt
}

// Snapshot returns the most recently applied snapshot, nil before the first.
func (c *Conn) Snapshot() *cycle.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// Status returns the derived status of the latest snapshot.
func (c *Conn) Status() cycle.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Match resolves the current best shared ritual and slot, oriented to the
// connection's own participant slot. Zero Result before the first snapshot
// or before the artifact exists.
func (c *Conn) Match() match.Result {
	c.mu.Lock()
	snap := c.latest
	c.mu.Unlock()

	if snap == nil || snap.Cycle.Artifact == nil {
		return match.Result{}
	}
	return match.Resolve(
		snap.Cycle.Artifact.Items,
		snap.PreferencesFor(c.selfSlot),
		snap.PreferencesFor(c.selfSlot.Other()),
		snap.AvailabilityFor(c.selfSlot),
		snap.AvailabilityFor(c.selfSlot.Other()),
	)
}

// run is the connection's single event loop. Realtime signals, the debounce
// timer, the heartbeat, poll ticks and force-sync requests all interleave
// here; there is no other goroutine touching the timers.
func (c *Conn) run(ctx context.Context) {
	heartbeat := time.NewTicker(c.cfg.HeartbeatInterval)

	var debounce *time.Timer
	var debounceC <-chan time.Time
	var poll *time.Ticker
	var pollC <-chan time.Time

	startPolling := func() {
		if poll == nil {
			poll = time.NewTicker(c.cfg.PollInterval)
			pollC = poll.C
		}
	}
	stopPolling := func() {
		if poll != nil {
			poll.Stop()
			poll = nil
			pollC = nil
		}
	}

	defer func() {
		heartbeat.Stop()
		stopPolling()
		if debounce != nil {
			debounce.Stop()
		}
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		close(c.ended)
	}()

	if !c.Healthy() {
		startPolling()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return

		case <-c.events:
			// Realtime is alive again; polling has nothing left to add.
			c.setHealth(true)
			stopPolling()
			c.mu.Lock()
			c.lastEventAt = time.Now()
			c.mu.Unlock()
			if debounce == nil {
				debounce = time.NewTimer(c.cfg.Debounce)
				debounceC = debounce.C
			}
			// Events inside an open window coalesce into the pending refetch.

		case <-debounceC:
			debounce = nil
			debounceC = nil
			if !c.refetch(ctx) {
				c.setHealth(false)
				startPolling()
			}

		case <-c.force:
			if !c.refetch(ctx) {
				c.setHealth(false)
				startPolling()
			}

		case <-heartbeat.C:
			// The heartbeat only degrades; health comes back solely through a
			// real event on the channel.
			c.mu.Lock()
			silent := time.Since(c.lastEventAt) > c.cfg.LivenessThreshold
			c.mu.Unlock()
			if silent {
				c.setHealth(false)
				startPolling()
			}

		case <-pollC:
			// A failed poll simply waits for the next tick.
			c.refetch(ctx)
		}
	}
}

// refetch loads and applies one full snapshot. Errors are reported through
// the return value and health signals, never surfaced to callbacks as faults.
func (c *Conn) refetch(ctx context.Context) bool {
	fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	snap, err := c.fetcher.GetSnapshot(fctx, c.cycleID)
	if err != nil {
		c.log.WithError(err).Warn("snapshot fetch failed")
		return false
	}
	c.apply(snap)
	return true
}

// apply installs a snapshot and fans it out. The path is identical for
// realtime, polling and forced refetches; the origin of an update never
// changes how it is applied. Applying the same snapshot again re-invokes
// OnSnapshot (callers compare-and-swap their own derived state), but
// OnStatus only fires on an actual status change.
func (c *Conn) apply(snap *cycle.Snapshot) {
	now := time.Now()
	st := cycle.Derive(snap, now, c.cfg.GenerationTimeout)

	c.mu.Lock()
	c.latest = snap
	c.lastSyncAt = now
	statusChanged := !c.statusKnown || st != c.status
	c.status = st
	c.statusKnown = true
	c.mu.Unlock()

	if c.cb.OnSnapshot != nil {
		c.cb.OnSnapshot(snap)
	}
	if statusChanged && c.cb.OnStatus != nil {
		c.cb.OnStatus(st)
	}
}

// setHealth flips the health flag and notifies on transitions only.
func (c *Conn) setHealth(h bool) {
	c.mu.Lock()
	changed := c.healthy != h
	c.healthy = h
	c.mu.Unlock()

	if changed {
		if h {
			c.log.Info("realtime channel healthy; polling fallback stopped")
		} else {
			c.log.Warn("realtime channel unhealthy; polling fallback active")
		}
		if c.cb.OnHealth != nil {
			c.cb.OnHealth(h)
		}
	}
}

// Package realtime adapts Postgres LISTEN/NOTIFY into the row-change
// subscription consumed by the sync engine. The repository layer issues
// pg_notify inside its write transactions, so a notification always refers to
// committed state.
package realtime

import (
	"fmt"
	stdsync "sync"
	"time"

	"ritual_sync_service/internal/infra/database"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	// pingInterval keeps the listener connection verified during quiet
	// stretches, as recommended by lib/pq.
	pingInterval = 90 * time.Second
)

type handlers struct {
	onCycle        func()
	onPreference   func()
	onAvailability func()
}

// Listener multiplexes one LISTEN connection across all connected clients.
// Subscriptions are keyed by cycle ID; each notification's payload is the
// cycle ID the change belongs to.
type Listener struct {
	pql *pq.Listener
	log *logrus.Logger

	mu     stdsync.Mutex
	subs   map[uuid.UUID]map[int64]handlers
	nextID int64

	done chan struct{}
}

// NewListener connects and starts listening on the three cycle channels.
func NewListener(dsn string, log *logrus.Logger) (*Listener, error) {
	l := &Listener{
		log:  log,
		subs: make(map[uuid.UUID]map[int64]handlers),
		done: make(chan struct{}),
	}

	l.pql = pq.NewListener(dsn, minReconnectInterval, maxReconnectInterval, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.WithError(err).Warn("postgres listener event")
		}
	})

	for _, ch := range []string{
		database.ChannelCycleChanged,
		database.ChannelPreferenceChanged,
		database.ChannelAvailabilityChanged,
	} {
		if err := l.pql.Listen(ch); err != nil {
			l.pql.Close()
			return nil, fmt.Errorf("failed to LISTEN on %s: %w", ch, err)
		}
	}

	go l.dispatch()
	return l, nil
}

// Subscribe registers per-cycle change handlers and returns an unsubscribe
// func. Handlers are invoked from the listener's dispatch goroutine and must
// be cheap (the sync engine's are: a non-blocking channel send).
func (l *Listener) Subscribe(cycleID uuid.UUID, onCycle, onPreference, onAvailability func()) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.subs[cycleID] == nil {
		l.subs[cycleID] = make(map[int64]handlers)
	}
	l.nextID++
	id := l.nextID
	l.subs[cycleID][id] = handlers{onCycle: onCycle, onPreference: onPreference, onAvailability: onAvailability}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if m := l.subs[cycleID]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(l.subs, cycleID)
			}
		}
	}, nil
}

// Close tears down the dispatch loop and the underlying connection.
func (l *Listener) Close() error {
	close(l.done)
	return l.pql.Close()
}

func (l *Listener) dispatch() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-l.done:
			return

		case n, ok := <-l.pql.Notify:
			if !ok {
				return
			}
			if n == nil {
				// Reconnect marker: notifications may have been missed while
				// the connection was down, so nudge every subscriber.
				l.fanOutAll()
				continue
			}
			l.deliver(n.Channel, n.Extra)

		case <-ping.C:
			if err := l.pql.Ping(); err != nil {
				l.log.WithError(err).Warn("postgres listener ping failed")
			}
		}
	}
}

func (l *Listener) deliver(channel, payload string) {
	cycleID, err := uuid.Parse(payload)
	if err != nil {
		l.log.WithField("payload", payload).Warn("notification with non-uuid payload ignored")
		return
	}

	l.mu.Lock()
	targets := make([]handlers, 0, len(l.subs[cycleID]))
	for _, h := range l.subs[cycleID] {
		targets = append(targets, h)
	}
	l.mu.Unlock()

	for _, h := range targets {
		switch channel {
		case database.ChannelCycleChanged:
			h.onCycle()
		case database.ChannelPreferenceChanged:
			h.onPreference()
		case database.ChannelAvailabilityChanged:
			h.onAvailability()
		}
	}
}

func (l *Listener) fanOutAll() {
	l.mu.Lock()
	targets := make([]handlers, 0)
	for _, m := range l.subs {
		for _, h := range m {
			targets = append(targets, h)
		}
	}
	l.mu.Unlock()

	for _, h := range targets {
		h.onCycle()
		h.onPreference()
		h.onAvailability()
	}
}

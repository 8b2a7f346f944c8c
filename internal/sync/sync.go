// Package sync keeps a client's view of one cycle converged with the store.
//
// Delivery is realtime-first with a health-checked polling backstop: one
// row-change subscription covers the cycle and its preference/availability
// rows, inbound events are debounced into full-snapshot refetches, and a
// heartbeat degrades the connection to fixed-interval polling whenever the
// realtime channel goes silent. Both channels converge on the same
// "apply latest full snapshot" path, so out-of-order delivery self-corrects.
package sync

import (
	"context"
	"time"

	"ritual_sync_service/internal/domain/cycle"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Fetcher provides full-snapshot reads. It serves the initial load, every
// debounced refetch, and every poll tick; the snapshot is always fetched
// whole, never as a delta.
type Fetcher interface {
	GetSnapshot(ctx context.Context, id uuid.UUID) (*cycle.Snapshot, error)
}

// Subscriber is the realtime push channel: one subscription scoped to the
// three change streams of a single cycle. The returned unsubscribe func must
// be safe to call exactly once after a successful subscribe.
type Subscriber interface {
	Subscribe(cycleID uuid.UUID, onCycle, onPreference, onAvailability func()) (unsubscribe func(), err error)
}

// Callbacks are how applied state reaches the caller. OnSnapshot fires once
// per applied snapshot regardless of which channel delivered it. OnStatus
// fires only when the derived status actually changed. OnHealth fires on
// every health transition. All callbacks run on the connection's event loop;
// they must not block.
type Callbacks struct {
	OnSnapshot func(*cycle.Snapshot)
	OnStatus   func(cycle.Status)
	OnHealth   func(healthy bool)
}

// Config carries the engine's timing tunables. The defaults mirror the
// service-wide constants; none of them is load-bearing beyond "reasonable".
type Config struct {
	// Debounce is the coalescing window for inbound change events.
	Debounce time.Duration
	// PollInterval is the fixed refetch cadence while unhealthy. No backoff:
	// backing off would worsen staleness for an already-degraded client.
	PollInterval time.Duration
	// HeartbeatInterval is how often channel liveness is checked.
	HeartbeatInterval time.Duration
	// LivenessThreshold is the max realtime silence before the channel is
	// considered unhealthy.
	LivenessThreshold time.Duration
	// GenerationTimeout feeds status derivation for applied snapshots.
	GenerationTimeout time.Duration
	// FetchTimeout bounds each snapshot read.
	FetchTimeout time.Duration

	Logger *logrus.Logger
}

const (
	DefaultDebounce          = 500 * time.Millisecond
	DefaultPollInterval      = 5 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultLivenessThreshold = 15 * time.Second
	DefaultFetchTimeout      = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.LivenessThreshold <= 0 {
		c.LivenessThreshold = DefaultLivenessThreshold
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = cycle.DefaultGenerationTimeout
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// Engine builds connections. It owns no state of its own; every Connect
// returns an independent Conn with its own timers and subscription.
type Engine struct {
	fetcher    Fetcher
	subscriber Subscriber
	cfg        Config
}

func NewEngine(fetcher Fetcher, subscriber Subscriber, cfg Config) *Engine {
	return &Engine{fetcher: fetcher, subscriber: subscriber, cfg: cfg.withDefaults()}
}

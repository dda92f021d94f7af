// Package normalize fans events from the push, pull, and local channels
// into the single ordered queue the reconciliation engine consumes.
package normalize

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mrowan14/codeclash/go/internal/battle/events"
)

const (
	// DefaultCoalesceWindow is how long a duplicate of an already-seen
	// event is suppressed.
	DefaultCoalesceWindow = 500 * time.Millisecond

	// DefaultQueueSize bounds the engine queue. The pull channel
	// re-delivers authoritative state every interval, so a dropped
	// event is recovered on the next snapshot.
	DefaultQueueSize = 256

	seenPruneThreshold = 512
)

// Normalizer stamps ingest time on incoming events, coalesces
// duplicates, and emits them on one buffered channel. Publish is safe
// for concurrent use.
type Normalizer struct {
	clock  clockwork.Clock
	window time.Duration
	out    chan events.ChannelEvent

	mu        sync.Mutex
	seen      map[string]time.Time
	closed    bool
	closeOnce sync.Once
}

// New creates a Normalizer. A zero window disables coalescing.
func New(clock clockwork.Clock, queueSize int, window time.Duration) *Normalizer {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Normalizer{
		clock:  clock,
		window: window,
		out:    make(chan events.ChannelEvent, queueSize),
		seen:   make(map[string]time.Time),
	}
}

// Publish ingests one event. Duplicates inside the coalesce window are
// dropped; a full queue drops the event with a warning rather than
// blocking the producer.
func (n *Normalizer) Publish(ev events.ChannelEvent) {
	now := n.clock.Now()
	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = now
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	if n.window > 0 {
		fp := ev.Fingerprint()
		if last, ok := n.seen[fp]; ok && now.Sub(last) < n.window {
			log.Debug().
				Str("sessionId", ev.SessionID).
				Str("kind", string(ev.Kind)).
				Str("source", string(ev.Source)).
				Msg("Coalesced duplicate event")
			return
		}
		n.seen[fp] = now
		if len(n.seen) > seenPruneThreshold {
			n.pruneLocked(now)
		}
	}

	select {
	case n.out <- ev:
	default:
		log.Warn().
			Str("sessionId", ev.SessionID).
			Str("kind", string(ev.Kind)).
			Msg("Event queue full, dropping event")
	}
}

func (n *Normalizer) pruneLocked(now time.Time) {
	for fp, t := range n.seen {
		if now.Sub(t) >= n.window {
			delete(n.seen, fp)
		}
	}
}

// Events returns the ordered engine queue.
func (n *Normalizer) Events() <-chan events.ChannelEvent {
	return n.out
}

// Close stops ingestion and closes the queue, ending the engine loop.
func (n *Normalizer) Close() {
	n.closeOnce.Do(func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.closed = true
		close(n.out)
	})
}

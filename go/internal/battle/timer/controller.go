// Package timer owns the authoritative local countdown for a battle
// session, including skip penalties.
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mrowan14/codeclash/go/internal/battle/events"
)

// EventSink receives the TimerExpired event when the countdown hits zero.
type EventSink interface {
	Publish(ev events.ChannelEvent)
}

// TickFunc observes each remaining-seconds change.
type TickFunc func(remainingSeconds int)

// Controller counts a session's remaining seconds down at one-second
// cadence and applies skip penalties. It emits exactly one TimerExpired
// event per session lifetime.
type Controller struct {
	clock     clockwork.Clock
	sink      EventSink
	sessionID string
	onTick    TickFunc

	mu        sync.Mutex
	remaining int
	running   bool
	expired   bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Controller for the given countdown. onTick may be nil.
func New(clock clockwork.Clock, sink EventSink, sessionID string, durationSeconds int, onTick TickFunc) *Controller {
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	return &Controller{
		clock:     clock,
		sink:      sink,
		sessionID: sessionID,
		onTick:    onTick,
		remaining: durationSeconds,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the one-second cadence. Calling Start twice, or after
// Stop, is a no-op.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running || c.expired {
		c.mu.Unlock()
		return
	}
	select {
	case <-c.stopCh:
		c.mu.Unlock()
		return
	default:
	}
	c.running = true
	c.mu.Unlock()

	log.Info().
		Str("sessionId", c.sessionID).
		Int("remainingSeconds", c.Remaining()).
		Msg("Timer started")

	go c.run(ctx)
}

func (c *Controller) run(ctx context.Context) {
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.Chan():
			c.tick()
		}
	}
}

func (c *Controller) tick() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	if c.remaining > 0 {
		c.remaining--
	}
	r := c.remaining
	c.mu.Unlock()

	c.notifyTick(r)
	if r == 0 {
		c.expire()
	}
}

// ApplyPenalty subtracts seconds from the remaining time without
// resetting the cadence, flooring at zero. Driving the countdown to
// zero expires the timer immediately. Returns the new remaining value.
func (c *Controller) ApplyPenalty(seconds int) int {
	c.mu.Lock()
	if !c.running || seconds <= 0 {
		r := c.remaining
		c.mu.Unlock()
		return r
	}
	c.remaining -= seconds
	if c.remaining < 0 {
		c.remaining = 0
	}
	r := c.remaining
	c.mu.Unlock()

	log.Info().
		Str("sessionId", c.sessionID).
		Int("penaltySeconds", seconds).
		Int("remainingSeconds", r).
		Msg("Skip penalty applied")

	c.notifyTick(r)
	if r == 0 {
		c.expire()
	}
	return r
}

func (c *Controller) expire() {
	c.mu.Lock()
	if c.expired {
		c.mu.Unlock()
		return
	}
	c.expired = true
	c.running = false
	c.mu.Unlock()

	ev, err := events.New(c.sessionID, events.KindTimerExpired, events.SourceLocal, events.TimerExpiredPayload{
		ExpiredAt: c.clock.Now(),
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", c.sessionID).Msg("Failed to build TimerExpired event")
	} else {
		c.sink.Publish(ev)
	}

	log.Info().Str("sessionId", c.sessionID).Msg("Timer expired")
	c.Stop()
}

func (c *Controller) notifyTick(remaining int) {
	if c.onTick != nil {
		c.onTick(remaining)
	}
}

// Remaining returns the current remaining seconds.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Stop halts the countdown. Idempotent; safe before Start.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		close(c.stopCh)
	})
}

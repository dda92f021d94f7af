// Package reconnect restores push subscriptions after transport loss
// and tells the engine to re-sync from authoritative state.
package reconnect

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mrowan14/codeclash/go/internal/battle/channel"
	"github.com/mrowan14/codeclash/go/internal/battle/events"
)

// EventSink receives the ReconnectDetected event after recovery.
type EventSink interface {
	Publish(ev events.ChannelEvent)
}

// Manager watches push transport state for one session. On loss it
// suspends outbound emission; on recovery it re-subscribes, resumes
// emission, then injects ReconnectDetected. The order matters: the
// subscription must be live before emission resumes or the engine
// re-syncs, so no push event lands in a gap.
type Manager struct {
	adapter   channel.PushAdapter
	sink      EventSink
	sessionID string

	mu   sync.Mutex
	last channel.ConnState
}

// NewManager creates a manager for one session. Call Start to begin
// watching.
func NewManager(adapter channel.PushAdapter, sink EventSink, sessionID string) *Manager {
	return &Manager{
		adapter:   adapter,
		sink:      sink,
		sessionID: sessionID,
		last:      channel.StateConnected,
	}
}

// Start registers the state observer.
func (m *Manager) Start(ctx context.Context) {
	m.adapter.OnStateChange(func(state channel.ConnState) {
		m.handleState(ctx, state)
	})
}

func (m *Manager) handleState(ctx context.Context, state channel.ConnState) {
	m.mu.Lock()
	prev := m.last
	m.last = state
	m.mu.Unlock()

	switch state {
	case channel.StateDisconnected, channel.StateReconnecting:
		if prev == channel.StateConnected {
			m.adapter.SuspendEmit()
			log.Warn().
				Str("sessionId", m.sessionID).
				Msg("Push channel lost, degrading to pull-only")
		}
	case channel.StateConnected:
		if prev != channel.StateConnected {
			m.resync(ctx)
		}
	}
}

func (m *Manager) resync(ctx context.Context) {
	if err := m.adapter.Subscribe(ctx, m.sessionID, m.sink); err != nil {
		// Emission stays suspended; the next reconnect retries.
		log.Error().Err(err).
			Str("sessionId", m.sessionID).
			Msg("Failed to re-subscribe after reconnect")
		return
	}
	m.adapter.ResumeEmit()

	ev, err := events.New(m.sessionID, events.KindReconnectDetected, events.SourceLocal, events.ReconnectDetectedPayload{
		ReconnectedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", m.sessionID).Msg("Failed to build reconnect event")
		return
	}
	m.sink.Publish(ev)

	log.Info().Str("sessionId", m.sessionID).Msg("Push channel restored")
}

package gateway

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mrowan14/codeclash/go/internal/battle"
)

// Broadcaster adapts one session's engine callbacks onto the
// connection manager's fanout. Timer ticks update the remaining time
// used in later status_change events.
type Broadcaster struct {
	cm        *ConnectionManager
	sessionID string

	mu        sync.Mutex
	remaining int
}

// NewBroadcaster creates a broadcaster for one session.
func NewBroadcaster(cm *ConnectionManager, sessionID string) *Broadcaster {
	return &Broadcaster{cm: cm, sessionID: sessionID}
}

// OnStatusChange fans a reconciled update out to the session's clients.
func (b *Broadcaster) OnStatusChange(status battle.Status, participants []battle.Participant) {
	b.mu.Lock()
	remaining := b.remaining
	b.mu.Unlock()

	event, err := NewStatusChangeEvent(b.sessionID, status, participants, remaining)
	if err != nil {
		log.Error().Err(err).Str("session_id", b.sessionID).Msg("failed to build status change event")
		return
	}
	b.cm.BroadcastToSession(b.sessionID, event)
}

// OnTerminalOutcome fans the final result out to the session's clients.
func (b *Broadcaster) OnTerminalOutcome(outcome battle.Outcome) {
	event, err := NewTerminalOutcomeEvent(outcome)
	if err != nil {
		log.Error().Err(err).Str("session_id", b.sessionID).Msg("failed to build terminal outcome event")
		return
	}
	b.cm.BroadcastToSession(b.sessionID, event)
}

// OnTimerTick fans a countdown tick out to the session's clients.
func (b *Broadcaster) OnTimerTick(remainingSeconds int) {
	b.mu.Lock()
	b.remaining = remainingSeconds
	b.mu.Unlock()

	event, err := NewTimerTickEvent(b.sessionID, remainingSeconds)
	if err != nil {
		log.Error().Err(err).Str("session_id", b.sessionID).Msg("failed to build timer tick event")
		return
	}
	b.cm.BroadcastToSession(b.sessionID, event)
}

package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mrowan14/codeclash/go/internal/battle"
)

const recordTimeout = 3 * time.Second

// Recorder is a sync-engine notifier that mirrors session state into
// the store on every callback, so HTTP reads see current state without
// touching the engine.
type Recorder struct {
	store *Redis

	mu      sync.Mutex
	session battle.MatchSession
}

// NewRecorder seeds a recorder with the session's initial state and
// writes it through immediately.
func NewRecorder(store *Redis, initial battle.MatchSession) *Recorder {
	r := &Recorder{
		store:   store,
		session: initial.Snapshot(),
	}
	r.persist()
	return r
}

func (r *Recorder) persist() {
	r.mu.Lock()
	session := r.session.Snapshot()
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := r.store.SaveSession(ctx, session); err != nil {
		log.Error().Err(err).Str("sessionId", session.ID).Msg("Failed to record session state")
	}
}

// OnStatusChange mirrors the reconciled state into the store.
func (r *Recorder) OnStatusChange(status battle.Status, participants []battle.Participant) {
	r.mu.Lock()
	r.session.Status = status
	r.session.Participants = battle.CopyParticipants(participants)
	if status.Terminal() {
		r.session.Committed = true
	}
	r.mu.Unlock()
	r.persist()
}

// OnTerminalOutcome records the final result in the recent list.
func (r *Recorder) OnTerminalOutcome(outcome battle.Outcome) {
	r.mu.Lock()
	r.session.Status = outcome.Status
	r.session.Committed = true
	r.mu.Unlock()
	r.persist()

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := r.store.PushOutcome(ctx, outcome); err != nil {
		log.Error().Err(err).Str("sessionId", outcome.SessionID).Msg("Failed to record outcome")
	}
}

// OnTimerTick keeps the stored remaining time roughly current; writes
// are throttled to one per five ticks to spare Redis.
func (r *Recorder) OnTimerTick(remainingSeconds int) {
	r.mu.Lock()
	r.session.RemainingSeconds = remainingSeconds
	flush := remainingSeconds%5 == 0
	r.mu.Unlock()
	if flush {
		r.persist()
	}
}

package results

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mrowan14/codeclash/go/internal/battle"
)

const archiveTimeout = 5 * time.Second

// Archiver is a sync-engine notifier that writes the final result to
// Postgres when the session commits. Status callbacks keep its roster
// view current so the archived row carries the last known EXP numbers.
type Archiver struct {
	repo *Repository

	mu      sync.Mutex
	session battle.MatchSession
	outcome *battle.Outcome
}

// NewArchiver creates an archiver seeded with the session's initial
// state.
func NewArchiver(repo *Repository, initial battle.MatchSession) *Archiver {
	return &Archiver{
		repo:    repo,
		session: initial.Snapshot(),
	}
}

// OnStatusChange tracks the latest roster. After the commit it
// re-archives, picking up post-commit EXP corrections.
func (a *Archiver) OnStatusChange(status battle.Status, participants []battle.Participant) {
	a.mu.Lock()
	a.session.Status = status
	a.session.Participants = battle.CopyParticipants(participants)
	session := a.session.Snapshot()
	outcome := a.outcome
	a.mu.Unlock()

	if outcome != nil {
		a.archive(session, *outcome)
	}
}

// OnTerminalOutcome archives the result. The upsert makes re-archiving
// the same session harmless.
func (a *Archiver) OnTerminalOutcome(outcome battle.Outcome) {
	a.mu.Lock()
	a.session.Status = outcome.Status
	a.session.Committed = true
	a.outcome = &outcome
	session := a.session.Snapshot()
	a.mu.Unlock()

	a.archive(session, outcome)
}

func (a *Archiver) archive(session battle.MatchSession, outcome battle.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := a.repo.SaveOutcome(ctx, session, outcome); err != nil {
		log.Error().Err(err).Str("sessionId", outcome.SessionID).Msg("Failed to archive outcome")
	}
}

// OnTimerTick is a no-op for the archive.
func (a *Archiver) OnTimerTick(int) {}

// Package engine reconciles events from all channels into a single
// authoritative local session state. One engine runs per session; all
// state mutation happens on its event loop goroutine.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mrowan14/codeclash/go/internal/battle"
	"github.com/mrowan14/codeclash/go/internal/battle/events"
)

const DefaultForfeitConfirmDelay = 2 * time.Second

// PullFetcher triggers out-of-band authoritative fetches and cancels
// the periodic cadence after a terminal commit.
type PullFetcher interface {
	FetchNow()
	StopPeriodic()
}

// TimerControl is the countdown surface the engine drives.
type TimerControl interface {
	Start(ctx context.Context)
	Stop()
	Remaining() int
	ApplyPenalty(seconds int) int
}

// Config carries per-session engine settings.
type Config struct {
	LocalUserID         string
	ForfeitConfirmDelay time.Duration
}

// DefaultConfig returns engine settings for the given local user.
func DefaultConfig(localUserID string) Config {
	return Config{
		LocalUserID:         localUserID,
		ForfeitConfirmDelay: DefaultForfeitConfirmDelay,
	}
}

// Engine is the per-session reconciliation loop. It is the sole writer
// of its MatchSession; readers take copies via Snapshot.
type Engine struct {
	cfg      Config
	queue    <-chan events.ChannelEvent
	fetcher  PullFetcher
	timer    TimerControl
	notifier Notifier
	clock    clockwork.Clock

	mu      sync.RWMutex
	session battle.MatchSession

	// rosterHighWater tracks the largest roster seen up to match start.
	// Once the match is ongoing, snapshots reporting more participants
	// than this are rejected.
	rosterHighWater int
	forfeitPending  bool
}

// New creates an engine seeded with the session's initial state.
func New(cfg Config, initial battle.MatchSession, queue <-chan events.ChannelEvent, fetcher PullFetcher, timer TimerControl, notifier Notifier, clock clockwork.Clock) *Engine {
	if cfg.ForfeitConfirmDelay <= 0 {
		cfg.ForfeitConfirmDelay = DefaultForfeitConfirmDelay
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Engine{
		cfg:             cfg,
		queue:           queue,
		fetcher:         fetcher,
		timer:           timer,
		notifier:        notifier,
		clock:           clock,
		session:         initial.Snapshot(),
		rosterHighWater: len(initial.Participants),
	}
}

// Run consumes the event queue until the context is cancelled or the
// queue is closed. It starts the countdown if the session is already
// ongoing.
func (e *Engine) Run(ctx context.Context) error {
	log.Info().
		Str("sessionId", e.session.ID).
		Str("status", string(e.session.Status)).
		Msg("Sync engine started")

	if e.session.Status == battle.StatusOngoing {
		e.timer.Start(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			e.timer.Stop()
			log.Info().Str("sessionId", e.session.ID).Msg("Sync engine stopped")
			return ctx.Err()
		case ev, ok := <-e.queue:
			if !ok {
				e.timer.Stop()
				log.Info().Str("sessionId", e.session.ID).Msg("Event queue closed, sync engine stopped")
				return nil
			}
			e.handleEvent(ctx, ev)
		}
	}
}

func (e *Engine) handleEvent(ctx context.Context, ev events.ChannelEvent) {
	payload, err := events.Parse(&ev)
	if err != nil {
		log.Error().Err(err).
			Str("sessionId", ev.SessionID).
			Str("kind", string(ev.Kind)).
			Msg("Failed to parse event payload")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch p := payload.(type) {
	case events.RosterSnapshotPayload:
		e.handleRosterSnapshot(ctx, p)
	case events.OpponentExitedPayload:
		e.handleOpponentExited(p)
	case events.MatchCompletedPayload:
		e.handleMatchCompleted(p)
	case events.OpponentProgressPayload:
		e.handleOpponentProgress(p)
	case events.LocalSubmissionPayload:
		e.handleLocalSubmission(p)
	case events.TimerExpiredPayload:
		e.handleTimerExpired(p)
	case events.ReconnectDetectedPayload:
		e.handleReconnectDetected(p)
	default:
		log.Warn().
			Str("sessionId", ev.SessionID).
			Str("kind", string(ev.Kind)).
			Msg("Unhandled event kind")
	}
}

// Snapshot returns a copy of the current session state.
func (e *Engine) Snapshot() battle.MatchSession {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session.Snapshot()
}

// ApplySkipPenalty subtracts the penalty from the countdown and
// returns the new remaining seconds. Safe from any goroutine.
func (e *Engine) ApplySkipPenalty(seconds int) int {
	return e.timer.ApplyPenalty(seconds)
}

// commit performs the single terminal transition. Returns false if the
// session had already committed.
func (e *Engine) commit(status battle.Status, winner *battle.Participant, forfeit bool) bool {
	if e.session.Committed {
		log.Debug().
			Err(battle.ErrDuplicateTerminal).
			Str("sessionId", e.session.ID).
			Str("attempted", string(status)).
			Str("committed", string(e.session.Status)).
			Msg("Ignoring terminal transition after commit")
		return false
	}

	e.session.Committed = true
	e.session.Status = status
	e.session.RemainingSeconds = e.timer.Remaining()
	e.forfeitPending = false
	e.timer.Stop()
	e.fetcher.StopPeriodic()

	outcome := battle.Outcome{
		SessionID:   e.session.ID,
		Status:      status,
		Forfeit:     forfeit,
		CommittedAt: e.clock.Now(),
	}
	if winner != nil {
		w := *winner
		outcome.Winner = &w
	}
	if local := e.session.Participant(e.cfg.LocalUserID); local != nil {
		outcome.ExpGained = local.ExpGained
		outcome.ExpLost = local.ExpLost
	}

	log.Info().
		Str("sessionId", e.session.ID).
		Str("status", string(status)).
		Bool("forfeit", forfeit).
		Int("expGained", outcome.ExpGained).
		Msg("Terminal outcome committed")

	e.notifier.OnTerminalOutcome(outcome)
	e.notifier.OnStatusChange(status, battle.CopyParticipants(e.session.Participants))
	return true
}

// notifyStatus pushes the current state to the UI after a non-terminal
// update.
func (e *Engine) notifyStatus() {
	if !e.session.Committed {
		e.session.RemainingSeconds = e.timer.Remaining()
	}
	e.notifier.OnStatusChange(e.session.Status, battle.CopyParticipants(e.session.Participants))
}

// mergeDisplay folds authoritative per-user display fields into the
// local roster without touching winner flags or status. Used after a
// commit, when pull data may still correct EXP numbers.
func (e *Engine) mergeDisplay(parts []battle.Participant) {
	changed := false
	for i := range parts {
		local := e.session.Participant(parts[i].UserID)
		if local == nil {
			continue
		}
		if local.ExpGained != parts[i].ExpGained || local.ExpLost != parts[i].ExpLost ||
			local.CompletedCode != parts[i].CompletedCode {
			changed = true
		}
		local.ExpGained = parts[i].ExpGained
		local.ExpLost = parts[i].ExpLost
		local.CompletedCode = parts[i].CompletedCode
		local.CompletionTime = parts[i].CompletionTime
	}
	if changed {
		log.Debug().Str("sessionId", e.session.ID).Msg("Post-commit display correction applied")
		e.notifyStatus()
	}
}

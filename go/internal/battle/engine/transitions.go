package engine

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mrowan14/codeclash/go/internal/battle"
	"github.com/mrowan14/codeclash/go/internal/battle/events"
)

// handleRosterSnapshot applies one authoritative pull snapshot. Pull
// data wins over any optimistic local state until the session commits;
// afterwards it may only correct display fields.
func (e *Engine) handleRosterSnapshot(ctx context.Context, p events.RosterSnapshotPayload) {
	if e.session.Committed {
		e.mergeDisplay(p.Participants)
		return
	}

	if events.TerminalWire(p.Status) {
		e.commitFromSnapshot(p)
		return
	}

	// Roster monotonicity only holds once the match is underway; while
	// Waiting the roster grows as opponents join.
	if e.session.Status == battle.StatusOngoing && len(p.Participants) > e.rosterHighWater {
		log.Warn().
			Str("sessionId", e.session.ID).
			Int("snapshotSize", len(p.Participants)).
			Int("knownSize", e.rosterHighWater).
			Msg("Snapshot roster larger than known roster, ignoring")
		return
	}

	localPresent := false
	opponents := 0
	for i := range p.Participants {
		if p.Participants[i].UserID == e.cfg.LocalUserID {
			localPresent = true
		} else {
			opponents++
		}
	}

	if !localPresent {
		log.Warn().
			Str("sessionId", e.session.ID).
			Msg("Local user missing from active snapshot, treating session as cancelled")
		e.session.Participants = battle.CopyParticipants(p.Participants)
		e.commit(battle.StatusCancelled, nil, false)
		return
	}

	if p.DurationSeconds > 0 {
		e.session.DurationSeconds = p.DurationSeconds
	}

	if e.session.Status == battle.StatusWaiting && len(p.Participants) > e.rosterHighWater {
		e.rosterHighWater = len(p.Participants)
	}

	if e.session.Status == battle.StatusWaiting && p.Status == events.WireStatusOngoing {
		if p.StartedAt != nil {
			e.session.StartedAt = p.StartedAt
		} else {
			now := e.clock.Now()
			e.session.StartedAt = &now
		}
		e.session.Status = battle.StatusOngoing
		e.timer.Start(ctx)
		log.Info().Str("sessionId", e.session.ID).Msg("Match started")
	}

	if opponents == 0 && e.session.Status == battle.StatusOngoing {
		if e.forfeitPending {
			// Confirmation snapshot still shows an empty opposing side.
			e.session.Participants = battle.CopyParticipants(p.Participants)
			e.commit(battle.StatusWon, e.session.Participant(e.cfg.LocalUserID), true)
			return
		}
		e.forfeitPending = true
		e.session.Participants = battle.CopyParticipants(p.Participants)
		log.Info().
			Str("sessionId", e.session.ID).
			Dur("confirmDelay", e.cfg.ForfeitConfirmDelay).
			Msg("Forfeit candidate detected, scheduling confirmation fetch")
		e.clock.AfterFunc(e.cfg.ForfeitConfirmDelay, e.fetcher.FetchNow)
		e.notifyStatus()
		return
	}

	if opponents > 0 && e.forfeitPending {
		log.Info().Str("sessionId", e.session.ID).Msg("Opponent present again, clearing forfeit candidate")
		e.forfeitPending = false
	}

	e.session.Participants = battle.CopyParticipants(p.Participants)
	e.notifyStatus()
}

// commitFromSnapshot resolves and commits a terminal wire status. The
// snapshot roster is adopted as-is; pull is the source of truth here.
func (e *Engine) commitFromSnapshot(p events.RosterSnapshotPayload) {
	e.session.Participants = battle.CopyParticipants(p.Participants)

	switch p.Status {
	case events.WireStatusTimedOut:
		e.commit(battle.StatusTimedOut, nil, false)
	case events.WireStatusCancelled:
		e.commit(battle.StatusCancelled, nil, false)
	case events.WireStatusCompleted:
		var winner *battle.Participant
		for i := range e.session.Participants {
			if e.session.Participants[i].IsWinner {
				winner = &e.session.Participants[i]
				break
			}
		}
		status := battle.StatusLost
		if winner != nil && winner.UserID == e.cfg.LocalUserID {
			status = battle.StatusWon
		}
		e.commit(status, winner, false)
	}
}

// handleOpponentExited processes a push-channel exit notice. When every
// opponent is gone the engine commits an optimistic forfeit win and
// asks pull to confirm the EXP numbers.
func (e *Engine) handleOpponentExited(p events.OpponentExitedPayload) {
	if e.session.Committed {
		log.Debug().
			Err(battle.ErrDuplicateTerminal).
			Str("sessionId", e.session.ID).
			Msg("Opponent exit after commit, ignoring")
		return
	}

	exited := make(map[string]bool, len(p.UserIDs))
	for _, id := range p.UserIDs {
		if id != e.cfg.LocalUserID {
			exited[id] = true
		}
	}
	if len(exited) == 0 {
		return
	}

	remaining := e.session.Participants[:0:0]
	for i := range e.session.Participants {
		if !exited[e.session.Participants[i].UserID] {
			remaining = append(remaining, e.session.Participants[i])
		}
	}
	e.session.Participants = remaining

	if e.session.OpponentCount(e.cfg.LocalUserID) == 0 {
		if e.commit(battle.StatusWon, e.session.Participant(e.cfg.LocalUserID), true) {
			// Optimistic commit; confirm EXP against the authority.
			e.fetcher.FetchNow()
		}
		return
	}

	log.Info().
		Str("sessionId", e.session.ID).
		Int("exited", len(exited)).
		Msg("Opponents exited, match continues")
	e.notifyStatus()
}

// handleMatchCompleted processes a push-channel completion notice. A
// payload that names no winner is ambiguous and deferred to pull.
func (e *Engine) handleMatchCompleted(p events.MatchCompletedPayload) {
	if e.session.Committed {
		log.Debug().
			Err(battle.ErrDuplicateTerminal).
			Str("sessionId", e.session.ID).
			Msg("Completion notice after commit, ignoring")
		return
	}

	winnerID, ok := p.WinnerUserID()
	if !ok {
		log.Warn().
			Err(battle.ErrAmbiguousOutcome).
			Str("sessionId", e.session.ID).
			Msg("Completion notice without winner, deferring to snapshot")
		e.fetcher.FetchNow()
		return
	}

	if len(p.Participants) > 0 && len(p.Participants) <= e.rosterHighWater {
		e.session.Participants = battle.CopyParticipants(p.Participants)
	}
	if local := e.session.Participant(e.cfg.LocalUserID); local != nil && winnerID == local.UserID {
		local.IsWinner = true
	}

	status := battle.StatusLost
	winner := e.session.Participant(winnerID)
	if winnerID == e.cfg.LocalUserID {
		status = battle.StatusWon
	}
	e.commit(status, winner, false)
}

// handleOpponentProgress updates display state only; it never drives a
// transition.
func (e *Engine) handleOpponentProgress(p events.OpponentProgressPayload) {
	part := e.session.Participant(p.UserID)
	if part == nil {
		log.Debug().
			Str("sessionId", e.session.ID).
			Str("userId", p.UserID).
			Msg("Progress for unknown participant, dropping")
		return
	}
	if p.TotalPieces > 0 && p.PiecesPlaced >= p.TotalPieces {
		part.CompletedCode = true
	}
	if !e.session.Committed {
		e.notifyStatus()
	}
}

// handleLocalSubmission commits an optimistic win for a successful
// local submission, carrying the EXP the submission response reported.
func (e *Engine) handleLocalSubmission(p events.LocalSubmissionPayload) {
	if e.session.Committed {
		log.Debug().
			Err(battle.ErrDuplicateTerminal).
			Str("sessionId", e.session.ID).
			Msg("Local submission after commit, ignoring")
		return
	}
	if !p.Success {
		log.Info().Str("sessionId", e.session.ID).Msg("Local submission rejected, match continues")
		return
	}

	local := e.session.Participant(e.cfg.LocalUserID)
	if local != nil {
		local.CompletedCode = true
		local.IsWinner = true
		local.ExpGained = p.ExpGained
	}
	if e.commit(battle.StatusWon, local, false) {
		// Optimistic commit; confirm EXP against the authority.
		e.fetcher.FetchNow()
	}
}

// handleTimerExpired commits a timeout with no winner.
func (e *Engine) handleTimerExpired(events.TimerExpiredPayload) {
	if e.session.Committed {
		log.Debug().
			Err(battle.ErrDuplicateTerminal).
			Str("sessionId", e.session.ID).
			Msg("Timer expiry after commit, ignoring")
		return
	}
	e.commit(battle.StatusTimedOut, nil, false)
}

// handleReconnectDetected forces an immediate authoritative fetch so
// anything missed while the push channel was down is reconciled.
func (e *Engine) handleReconnectDetected(events.ReconnectDetectedPayload) {
	if e.session.Committed {
		return
	}
	log.Info().Str("sessionId", e.session.ID).Msg("Push channel recovered, fetching authoritative state")
	e.fetcher.FetchNow()
}

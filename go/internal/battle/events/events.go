// Package events defines the normalized event union consumed by the
// reconciliation engine. Every input channel (push, pull, local) is
// reduced to a ChannelEvent before it reaches the engine queue.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mrowan14/codeclash/go/internal/battle"
)

// Kind identifies the semantic type of a channel event.
type Kind string

const (
	KindOpponentExited    Kind = "OpponentExited"
	KindOpponentProgress  Kind = "OpponentProgress"
	KindMatchCompleted    Kind = "MatchCompleted"
	KindRosterSnapshot    Kind = "RosterSnapshot"
	KindReconnectDetected Kind = "ReconnectDetected"
	KindTimerExpired      Kind = "TimerExpired"
	KindLocalSubmission   Kind = "LocalSubmission"
)

// Source records which channel produced an event.
type Source string

const (
	SourcePush  Source = "push"
	SourcePull  Source = "pull"
	SourceLocal Source = "local"
)

// ChannelEvent is the single normalized event shape flowing into the
// engine queue.
type ChannelEvent struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Kind       Kind            `json:"kind"`
	Source     Source          `json:"source"`
	ObservedAt time.Time       `json:"observed_at"`
	Data       json.RawMessage `json:"data"`
}

// Fingerprint is the identity used for duplicate coalescing: same kind
// and same payload bytes count as the same event.
func (e *ChannelEvent) Fingerprint() string {
	return string(e.Kind) + "|" + string(e.Data)
}

// OpponentExitedPayload reports opponents that left the session.
type OpponentExitedPayload struct {
	UserIDs  []string  `json:"user_ids"`
	ExitedAt time.Time `json:"exited_at"`
}

// OpponentProgressPayload is a best-effort progress hint for display.
type OpponentProgressPayload struct {
	UserID       string `json:"user_id"`
	PiecesPlaced int    `json:"pieces_placed"`
	TotalPieces  int    `json:"total_pieces"`
}

// MatchCompletedPayload announces a finished match over the push
// channel. WinnerID may be empty; the roster may carry winner flags
// instead. If neither names a winner the event is ambiguous.
type MatchCompletedPayload struct {
	WinnerID     string               `json:"winner_id"`
	Participants []battle.Participant `json:"participants,omitempty"`
}

// WinnerUserID resolves the winner from the explicit field or roster
// flags. ok is false when the payload is ambiguous.
func (p *MatchCompletedPayload) WinnerUserID() (string, bool) {
	if p.WinnerID != "" {
		return p.WinnerID, true
	}
	for i := range p.Participants {
		if p.Participants[i].IsWinner {
			return p.Participants[i].UserID, true
		}
	}
	return "", false
}

// RosterSnapshotPayload is one authoritative pull snapshot. Status uses
// the collaborator's wire vocabulary, not the local Status enum.
type RosterSnapshotPayload struct {
	Status          string               `json:"status"`
	Participants    []battle.Participant `json:"participants"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	DurationSeconds int                  `json:"duration_seconds"`
}

// LocalSubmissionPayload carries the result of the local user's
// solution submission.
type LocalSubmissionPayload struct {
	UserID      string    `json:"user_id"`
	Success     bool      `json:"success"`
	ExpGained   int       `json:"exp_gained"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// TimerExpiredPayload marks countdown exhaustion.
type TimerExpiredPayload struct {
	ExpiredAt time.Time `json:"expired_at"`
}

// ReconnectDetectedPayload marks a push transport recovery.
type ReconnectDetectedPayload struct {
	ReconnectedAt time.Time `json:"reconnected_at"`
}

// New builds a ChannelEvent with a fresh ID and marshaled payload.
// ObservedAt is left zero; the normalizer stamps it on ingest.
func New(sessionID string, kind Kind, source Source, payload any) (ChannelEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return ChannelEvent{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return ChannelEvent{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Kind:      kind,
		Source:    source,
		Data:      data,
	}, nil
}

// Parse decodes the payload for the event's kind.
func Parse(e *ChannelEvent) (any, error) {
	switch e.Kind {
	case KindOpponentExited:
		var p OpponentExitedPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal OpponentExited payload: %w", err)
		}
		return p, nil
	case KindOpponentProgress:
		var p OpponentProgressPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal OpponentProgress payload: %w", err)
		}
		return p, nil
	case KindMatchCompleted:
		var p MatchCompletedPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal MatchCompleted payload: %w", err)
		}
		return p, nil
	case KindRosterSnapshot:
		var p RosterSnapshotPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal RosterSnapshot payload: %w", err)
		}
		return p, nil
	case KindLocalSubmission:
		var p LocalSubmissionPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal LocalSubmission payload: %w", err)
		}
		return p, nil
	case KindTimerExpired:
		var p TimerExpiredPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal TimerExpired payload: %w", err)
		}
		return p, nil
	case KindReconnectDetected:
		var p ReconnectDetectedPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal ReconnectDetected payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown event kind: %s", e.Kind)
	}
}

// Wire status values used by the snapshot endpoint. "completed" is
// resolved to Won or Lost by the engine from winner flags.
const (
	WireStatusWaiting   = "waiting"
	WireStatusOngoing   = "ongoing"
	WireStatusCompleted = "completed"
	WireStatusTimedOut  = "timed_out"
	WireStatusCancelled = "cancelled"
)

// TerminalWire reports whether a wire status value is terminal.
func TerminalWire(s string) bool {
	switch s {
	case WireStatusCompleted, WireStatusTimedOut, WireStatusCancelled:
		return true
	}
	return false
}

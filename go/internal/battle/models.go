package battle

import (
	"time"
)

// Status is the lifecycle state of a match session.
type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusOngoing   Status = "ONGOING"
	StatusWon       Status = "WON"
	StatusLost      Status = "LOST"
	StatusTimedOut  Status = "TIMED_OUT"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status can never change again once committed.
func (s Status) Terminal() bool {
	switch s {
	case StatusWon, StatusLost, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether the session is still in play.
func (s Status) Active() bool {
	return s == StatusWaiting || s == StatusOngoing
}

// Participant is one player in a match session as reported by the
// authoritative snapshot endpoint.
type Participant struct {
	UserID         string         `json:"user_id"`
	DisplayName    string         `json:"display_name"`
	CompletedCode  bool           `json:"completed_code"`
	IsWinner       bool           `json:"is_winner"`
	CompletionTime *time.Duration `json:"completion_time,omitempty"`
	ExpGained      int            `json:"exp_gained"`
	ExpLost        int            `json:"exp_lost"`
}

// MatchSession is the local view of a live battle. The reconciliation
// engine is the sole writer; everything else reads copies.
type MatchSession struct {
	ID               string        `json:"id"`
	Status           Status        `json:"status"`
	Participants     []Participant `json:"participants"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	DurationSeconds  int           `json:"duration_seconds"`
	RemainingSeconds int           `json:"remaining_seconds"`
	Committed        bool          `json:"committed"`
}

// Participant returns the entry for userID, or nil if not in the roster.
func (s *MatchSession) Participant(userID string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return &s.Participants[i]
		}
	}
	return nil
}

// OpponentCount returns how many roster entries belong to users other
// than localUserID.
func (s *MatchSession) OpponentCount(localUserID string) int {
	n := 0
	for i := range s.Participants {
		if s.Participants[i].UserID != localUserID {
			n++
		}
	}
	return n
}

// Snapshot returns a deep copy safe to hand to readers outside the
// engine goroutine.
func (s *MatchSession) Snapshot() MatchSession {
	cp := *s
	cp.Participants = CopyParticipants(s.Participants)
	return cp
}

// CopyParticipants returns an independent copy of a roster slice.
func CopyParticipants(in []Participant) []Participant {
	if in == nil {
		return nil
	}
	out := make([]Participant, len(in))
	copy(out, in)
	return out
}

// Outcome is the terminal result of a session, produced exactly once
// per session when the engine commits.
type Outcome struct {
	SessionID   string       `json:"session_id"`
	Status      Status       `json:"status"`
	Winner      *Participant `json:"winner,omitempty"`
	ExpGained   int          `json:"exp_gained"`
	ExpLost     int          `json:"exp_lost"`
	Forfeit     bool         `json:"forfeit"`
	CommittedAt time.Time    `json:"committed_at"`
}

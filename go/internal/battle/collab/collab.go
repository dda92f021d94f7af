// Package collab defines the contracts with the surrounding platform:
// matchmaking, challenges, and solution grading. The sync engine only
// consumes these surfaces; their internals live in other services.
package collab

import (
	"context"

	"github.com/mrowan14/codeclash/go/internal/battle"
)

// ChallengeResponse is a reply to a direct challenge.
type ChallengeResponse string

const (
	ChallengeAccept  ChallengeResponse = "accept"
	ChallengeDecline ChallengeResponse = "decline"
)

// CreateMatchRequest asks matchmaking for a session to join.
type CreateMatchRequest struct {
	UserID          string `json:"user_id"`
	DisplayName     string `json:"display_name"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	OpponentID      string `json:"opponent_id,omitempty"`
}

// MatchService creates or joins battle sessions.
type MatchService interface {
	CreateOrJoinMatch(ctx context.Context, req CreateMatchRequest) (*battle.MatchSession, error)
	RespondToChallenge(ctx context.Context, challengeID string, response ChallengeResponse) error
}

// SubmissionResult is the grading service's verdict on a solution.
type SubmissionResult struct {
	Success   bool `json:"success"`
	ExpGained int  `json:"exp_gained"`
}

// SubmissionService grades submitted solutions.
type SubmissionService interface {
	SubmitSolution(ctx context.Context, sessionID, userID, code string) (SubmissionResult, error)
}

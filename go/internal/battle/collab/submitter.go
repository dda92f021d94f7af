package collab

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mrowan14/codeclash/go/internal/battle/events"
)

// EventSink receives the LocalSubmission event after grading.
type EventSink interface {
	Publish(ev events.ChannelEvent)
}

// Submitter grades solutions and feeds the verdict into the sync
// engine as a LocalSubmission event.
type Submitter struct {
	svc  SubmissionService
	sink EventSink
}

// NewSubmitter wires a grading service to an engine queue.
func NewSubmitter(svc SubmissionService, sink EventSink) *Submitter {
	return &Submitter{svc: svc, sink: sink}
}

// Submit grades code and publishes the result. The grading error is
// returned to the caller; nothing is published on failure to reach the
// grader, so the match simply continues.
func (s *Submitter) Submit(ctx context.Context, sessionID, userID, code string) (SubmissionResult, error) {
	result, err := s.svc.SubmitSolution(ctx, sessionID, userID, code)
	if err != nil {
		log.Error().Err(err).
			Str("sessionId", sessionID).
			Str("userId", userID).
			Msg("Solution submission failed")
		return SubmissionResult{}, err
	}

	ev, err := events.New(sessionID, events.KindLocalSubmission, events.SourceLocal, events.LocalSubmissionPayload{
		UserID:      userID,
		Success:     result.Success,
		ExpGained:   result.ExpGained,
		SubmittedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to build submission event")
		return result, nil
	}
	s.sink.Publish(ev)

	log.Info().
		Str("sessionId", sessionID).
		Str("userId", userID).
		Bool("success", result.Success).
		Int("expGained", result.ExpGained).
		Msg("Solution graded")
	return result, nil
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"github.com/mrowan14/codeclash/go/internal/battle"
)

func newTestStore(t *testing.T) *Redis {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedis(client, time.Hour)
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := battle.MatchSession{
		ID:     "sess-1",
		Status: battle.StatusOngoing,
		Participants: []battle.Participant{
			{UserID: "u1", DisplayName: "One", ExpGained: 10},
			{UserID: "u2", DisplayName: "Two"},
		},
		DurationSeconds:  600,
		RemainingSeconds: 540,
	}

	if err := s.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if diff := cmp.Diff(&session, got); diff != "" {
		t.Fatalf("session mismatch (-want +got):\n%s", diff)
	}
}

func TestGetSessionUnknownReturnsNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetSession(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil for unknown session", got)
	}
}

func TestDeleteSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveSession(ctx, battle.MatchSession{ID: "sess-1"}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := s.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got != nil {
		t.Fatal("session still present after delete")
	}
}

func TestRecentOutcomesNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	committed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"sess-1", "sess-2", "sess-3"} {
		outcome := battle.Outcome{
			SessionID:   id,
			Status:      battle.StatusWon,
			ExpGained:   100 + i,
			CommittedAt: committed.Add(time.Duration(i) * time.Minute),
		}
		if err := s.PushOutcome(ctx, outcome); err != nil {
			t.Fatalf("PushOutcome(%s): %v", id, err)
		}
	}

	got, err := s.RecentOutcomes(ctx, 2)
	if err != nil {
		t.Fatalf("RecentOutcomes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(got))
	}
	if got[0].SessionID != "sess-3" || got[1].SessionID != "sess-2" {
		t.Fatalf("order = [%s %s], want newest first", got[0].SessionID, got[1].SessionID)
	}
}

func TestRecorderMirrorsEngineCallbacks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	initial := battle.MatchSession{
		ID:     "sess-1",
		Status: battle.StatusOngoing,
		Participants: []battle.Participant{
			{UserID: "u1"}, {UserID: "u2"},
		},
	}
	rec := NewRecorder(s, initial)

	// Initial state written through on construction.
	got, err := s.GetSession(ctx, "sess-1")
	if err != nil || got == nil {
		t.Fatalf("GetSession after seed: %v, %v", got, err)
	}

	rec.OnStatusChange(battle.StatusWon, []battle.Participant{
		{UserID: "u1", IsWinner: true, ExpGained: 150}, {UserID: "u2"},
	})
	rec.OnTerminalOutcome(battle.Outcome{
		SessionID: "sess-1", Status: battle.StatusWon, ExpGained: 150, CommittedAt: time.Now().UTC(),
	})

	got, err = s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != battle.StatusWon || !got.Committed {
		t.Fatalf("stored session = %+v, want committed win", got)
	}

	outcomes, err := s.RecentOutcomes(ctx, 10)
	if err != nil {
		t.Fatalf("RecentOutcomes: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].SessionID != "sess-1" {
		t.Fatalf("outcomes = %+v, want one entry for sess-1", outcomes)
	}
}

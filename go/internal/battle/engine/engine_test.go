package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"

	"github.com/mrowan14/codeclash/go/internal/battle"
	"github.com/mrowan14/codeclash/go/internal/battle/events"
)

type fakeFetcher struct {
	mu         sync.Mutex
	fetchCalls int
	stopped    bool
}

func (f *fakeFetcher) FetchNow() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
}

func (f *fakeFetcher) StopPeriodic() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

func (f *fakeFetcher) periodicStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeTimer struct {
	mu        sync.Mutex
	remaining int
	started   bool
	stopped   bool
}

func (ft *fakeTimer) Start(context.Context) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.started = true
}

func (ft *fakeTimer) Stop() {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.stopped = true
}

func (ft *fakeTimer) Remaining() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.remaining
}

func (ft *fakeTimer) ApplyPenalty(seconds int) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.remaining -= seconds
	if ft.remaining < 0 {
		ft.remaining = 0
	}
	return ft.remaining
}

type captureNotifier struct {
	mu       sync.Mutex
	statuses []battle.Status
	rosters  [][]battle.Participant
	outcomes []battle.Outcome
}

func (c *captureNotifier) OnStatusChange(status battle.Status, participants []battle.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, status)
	c.rosters = append(c.rosters, participants)
}

func (c *captureNotifier) OnTerminalOutcome(outcome battle.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, outcome)
}

func (c *captureNotifier) OnTimerTick(int) {}

func (c *captureNotifier) terminalOutcomes() []battle.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]battle.Outcome, len(c.outcomes))
	copy(out, c.outcomes)
	return out
}

const (
	localUser    = "user-local"
	opponentUser = "user-opp"
)

func twoPlayerSession(status battle.Status) battle.MatchSession {
	return battle.MatchSession{
		ID:     "sess-1",
		Status: status,
		Participants: []battle.Participant{
			{UserID: localUser, DisplayName: "Local"},
			{UserID: opponentUser, DisplayName: "Opponent"},
		},
		DurationSeconds:  600,
		RemainingSeconds: 600,
	}
}

func mustEvent(t *testing.T, kind events.Kind, source events.Source, payload any) events.ChannelEvent {
	t.Helper()
	ev, err := events.New("sess-1", kind, source, payload)
	if err != nil {
		t.Fatalf("events.New(%s): %v", kind, err)
	}
	return ev
}

// runEngine feeds the events through a fresh engine and returns the
// final state plus the captured callbacks.
func runEngine(t *testing.T, initial battle.MatchSession, evs ...events.ChannelEvent) (battle.MatchSession, *captureNotifier, *fakeFetcher, *fakeTimer) {
	t.Helper()

	queue := make(chan events.ChannelEvent, len(evs)+1)
	for _, ev := range evs {
		queue <- ev
	}
	close(queue)

	fetcher := &fakeFetcher{}
	ft := &fakeTimer{remaining: initial.RemainingSeconds}
	notifier := &captureNotifier{}
	eng := New(DefaultConfig(localUser), initial, queue, fetcher, ft, notifier, clockwork.NewFakeClock())

	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return eng.Snapshot(), notifier, fetcher, ft
}

func activeSnapshot(parts ...battle.Participant) events.RosterSnapshotPayload {
	return events.RosterSnapshotPayload{
		Status:          events.WireStatusOngoing,
		Participants:    parts,
		DurationSeconds: 600,
	}
}

func TestSnapshotStartsWaitingSession(t *testing.T) {
	initial := twoPlayerSession(battle.StatusWaiting)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := activeSnapshot(initial.Participants...)
	snap.StartedAt = &started

	final, _, _, ft := runEngine(t, initial,
		mustEvent(t, events.KindRosterSnapshot, events.SourcePull, snap),
	)

	if final.Status != battle.StatusOngoing {
		t.Fatalf("status = %s, want %s", final.Status, battle.StatusOngoing)
	}
	if final.StartedAt == nil || !final.StartedAt.Equal(started) {
		t.Fatalf("startedAt = %v, want %v", final.StartedAt, started)
	}
	if !ft.started {
		t.Fatal("timer was not started")
	}
}

func TestWaitingRosterGrowsUntilStart(t *testing.T) {
	initial := battle.MatchSession{
		ID:     "sess-1",
		Status: battle.StatusWaiting,
		Participants: []battle.Participant{
			{UserID: localUser, DisplayName: "Local"},
		},
		DurationSeconds:  600,
		RemainingSeconds: 600,
	}

	final, _, _, ft := runEngine(t, initial,
		mustEvent(t, events.KindRosterSnapshot, events.SourcePull, activeSnapshot(
			battle.Participant{UserID: localUser},
			battle.Participant{UserID: opponentUser},
		)),
		mustEvent(t, events.KindRosterSnapshot, events.SourcePull, activeSnapshot(
			battle.Participant{UserID: localUser},
			battle.Participant{UserID: opponentUser},
			battle.Participant{UserID: "user-extra"},
		)),
	)

	if final.Status != battle.StatusOngoing {
		t.Fatalf("status = %s, want %s", final.Status, battle.StatusOngoing)
	}
	if final.Participant(opponentUser) == nil {
		t.Fatal("joining opponent missing from roster")
	}
	if !ft.started {
		t.Fatal("timer was not started")
	}
	// Once ongoing, the roster is capped at its size at start.
	if len(final.Participants) != 2 {
		t.Fatalf("roster size = %d, snapshot grown after start must be rejected", len(final.Participants))
	}
}

func TestTerminalCommitIsAtMostOnce(t *testing.T) {
	initial := twoPlayerSession(battle.StatusOngoing)

	final, notifier, _, _ := runEngine(t, initial,
		mustEvent(t, events.KindMatchCompleted, events.SourcePush, events.MatchCompletedPayload{WinnerID: opponentUser}),
		mustEvent(t, events.KindTimerExpired, events.SourceLocal, events.TimerExpiredPayload{}),
		mustEvent(t, events.KindMatchCompleted, events.SourcePush, events.MatchCompletedPayload{WinnerID: localUser}),
		mustEvent(t, events.KindRosterSnapshot, events.SourcePull, events.RosterSnapshotPayload{
			Status:       events.WireStatusCompleted,
			Participants: []battle.Participant{{UserID: localUser, IsWinner: true}, {UserID: opponentUser}},
		}),
	)

	outcomes := notifier.terminalOutcomes()
	if len(outcomes) != 1 {
		t.Fatalf("got %d terminal outcomes, want exactly 1", len(outcomes))
	}
	if outcomes[0].Status != battle.StatusLost {
		t.Fatalf("outcome status = %s, want %s", outcomes[0].Status, battle.StatusLost)
	}
	if final.Status != battle.StatusLost {
		t.Fatalf("final status = %s, want first-committed %s", final.Status, battle.StatusLost)
	}
}

func TestAmbiguousCompletionDefersToSnapshot(t *testing.T) {
	initial := twoPlayerSession(battle.StatusOngoing)

	final, notifier, fetcher, _ := runEngine(t, initial,
		mustEvent(t, events.KindMatchCompleted, events.SourcePush, events.MatchCompletedPayload{}),
		mustEvent(t, events.KindRosterSnapshot, events.SourcePull, events.RosterSnapshotPayload{
			Status:       events.WireStatusCompleted,
			Participants: []battle.Participant{{UserID: localUser, IsWinner: true, ExpGained: 120}, {UserID: opponentUser}},
		}),
	)

	if fetcher.calls() == 0 {
		t.Fatal("ambiguous completion did not trigger an authoritative fetch")
	}
	outcomes := notifier.terminalOutcomes()
	if len(outcomes) != 1 {
		t.Fatalf("got %d terminal outcomes, want 1", len(outcomes))
	}
	if outcomes[0].Status != battle.StatusWon {
		t.Fatalf("outcome status = %s, want %s", outcomes[0].Status, battle.StatusWon)
	}
	if outcomes[0].ExpGained != 120 {
		t.Fatalf("expGained = %d, want 120", outcomes[0].ExpGained)
	}
	if final.Status != battle.StatusWon {
		t.Fatalf("final status = %s, want %s", final.Status, battle.StatusWon)
	}
}

func TestSnapshotResolvesDeferredCompletionAsLoss(t *testing.T) {
	initial := twoPlayerSession(battle.StatusOngoing)

	final, notifier, _, _ := runEngine(t, initial,
		mustEvent(t, events.KindMatchCompleted, events.SourcePush, events.MatchCompletedPayload{}),
		mustEvent(t, events.KindRosterSnapshot, events.SourcePull, events.RosterSnapshotPayload{
			Status:       events.WireStatusCompleted,
			Participants: []battle.Participant{{UserID: localUser}, {UserID: opponentUser, IsWinner: true}},
		}),
	)

	outcomes := notifier.terminalOutcomes()
	if len(outcomes) != 1 {
		t.Fatalf("got %d terminal outcomes, want 1", len(outcomes))
	}
	if outcomes[0].Status != battle.StatusLost {
		t.Fatalf("outcome status = %s, snapshot names the opponent", outcomes[0].Status)
	}
	if outcomes[0].Winner == nil || outcomes[0].Winner.UserID != opponentUser {
		t.Fatalf("winner = %+v, want %s", outcomes[0].Winner, opponentUser)
	}
	if final.Status != battle.StatusLost {
		t.Fatalf("final status = %s, want %s", final.Status, battle.StatusLost)
	}
}

func TestLocalSubmissionCommitsOptimistically(t *testing.T) {
	initial := twoPlayerSession(battle.StatusOngoing)

	_, notifier, fetcher, _ := runEngine(t, initial,
		mustEvent(t, events.KindLocalSubmission, events.SourceLocal, events.LocalSubmissionPayload{
			UserID: localUser, Success: true, ExpGained: 150,
		}),
		// Authoritative confirmation arrives with the same numbers.
		mustEvent(t, events.KindRosterSnapshot, events.SourcePull, events.RosterSnapshotPayload{
			Status:       events.WireStatusCompleted,
			Participants: []battle.Participant{{UserID: localUser, IsWinner: true, ExpGained: 150}, {UserID: opponentUser}},
		}),
	)

	outcomes := notifier.terminalOutcomes()
	if len(outcomes) != 1 {
		t.Fatalf("got %d terminal outcomes, want 1", len(outcomes))
	}
	want := battle.Outcome{
		SessionID: "sess-1",
		Status:    battle.StatusWon,
		ExpGained: 150,
	}
	got := outcomes[0]
	got.Winner = nil
	got.CommittedAt = time.Time{}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("outcome mismatch (-want +got):\n%s", diff)
	}
	if fetcher.calls() == 0 {
		t.Fatal("optimistic commit did not schedule a confirmation fetch")
	}
}

func TestPostCommitSnapshotCorrectsExpOnly(t *testing.T) {
	initial := twoPlayerSession(battle.StatusOngoing)

	final, notifier, _, _ := runEngine(t, initial,
		mustEvent(t, events.KindLocalSubmission, events.SourceLocal, events.LocalSubmissionPayload{
			UserID: localUser, Success: true, ExpGained: 150,
		}),
		// The authority has a different EXP figure and even claims the
		// opponent won; only the EXP correction may apply.
		mustEvent(t, events.KindRosterSnapshot, events.SourcePull, events.RosterSnapshotPayload{
			Status:       events.WireStatusCompleted,
			Participants: []battle.Participant{{UserID: localUser, ExpGained: 175}, {UserID: opponentUser, IsWinner: true}},
		}),
	)

	if len(notifier.terminalOutcomes()) != 1 {
		t.Fatalf("got %d terminal outcomes, want 1", len(notifier.terminalOutcomes()))
	}
	if final.Status != battle.StatusWon {
		t.Fatalf("final status = %s, committed result must not flip", final.Status)
	}
	local := final.Participant(localUser)
	if local == nil || local.ExpGained != 175 {
		t.Fatalf("local expGained = %v, want corrected 175", local)
	}
}

func TestSnapshotRosterCannotGrow(t *testing.T) {
	initial := twoPlayerSession(battle.StatusOngoing)

	final, _, _, _ := runEngine(t, initial,
		mustEvent(t, events.KindRosterSnapshot, events.SourcePull, activeSnapshot(
			battle.Participant{UserID: localUser},
			battle.Participant{UserID: opponentUser},
			battle.Participant{UserID: "user-extra"},
		)),
	)

	if len(final.Participants) != 2 {
		t.Fatalf("roster size = %d, grown snapshot must be rejected", len(final.Participants))
	}
	if final.Participant("user-extra") != nil {
		t.Fatal("unexpected participant adopted from oversized snapshot")
	}
}

func TestForfeitRequiresConfirmation(t *testing.T) {
	initial := twoPlayerSession(battle.StatusOngoing)

	final, notifier, _, _ := runEngine(t, initial,
		mustEvent(t, events.KindRosterSnapshot, events.SourcePull, activeSnapshot(
			battle.Participant{UserID: localUser},
		)),
	)

	if len(notifier.terminalOutcomes()) != 0 {
		t.Fatal("single reduced snapshot must not commit a forfeit")
	}
	if final.Status != battle.StatusOngoing {
		t.Fatalf("status = %s, want still %s", final.Status, battle.StatusOngoing)
	}

	// A second reduced snapshot confirms the forfeit.
	final2, notifier2, _, _ := runEngine(t, initial,
		mustEvent(t, events.KindRosterSnapshot, events.SourcePull, activeSnapshot(
			battle.Participant{UserID: localUser},
		)),
		mustEvent(t, events.KindRosterSnapshot, events.SourcePull, events.RosterSnapshotPayload{
			Status:       events.WireStatusOngoing,
			Participants: []battle.Participant{{UserID: localUser, ExpGained: 40}},
		}),
	)

	outcomes := notifier2.terminalOutcomes()
	if len(outcomes) != 1 {
		t.Fatalf("got %d terminal outcomes, want confirmed forfeit", len(outcomes))
	}
	if outcomes[0].Status != battle.StatusWon || !outcomes[0].Forfeit {
		t.Fatalf("outcome = %+v, want forfeit win", outcomes[0])
	}
	if final2.Status != battle.StatusWon {
		t.Fatalf("final status = %s, want %s", final2.Status, battle.StatusWon)
	}
}

func TestForfeitClearedWhenOpponentStillPresent(t *testing.T) {
	initial := twoPlayerSession(battle.StatusOngoing)

	_, notifier, _, _ := runEngine(t, initial,
		mustEvent(t, events.KindRosterSnapshot, events.SourcePull, activeSnapshot(
			battle.Participant{UserID: localUser},
		)),
		// Opponent is back in the confirmation snapshot.
		mustEvent(t, events.KindRosterSnapshot, events.SourcePull, activeSnapshot(
			battle.Participant{UserID: localUser},
			battle.Participant{UserID: opponentUser},
		)),
		// A later reduced snapshot starts the candidacy over.
		mustEvent(t, events.KindRosterSnapshot, events.SourcePull, activeSnapshot(
			battle.Participant{UserID: localUser},
		)),
	)

	if len(notifier.terminalOutcomes()) != 0 {
		t.Fatal("forfeit committed without two consecutive reduced snapshots")
	}
}

func TestOpponentExitCommitsForfeitWin(t *testing.T) {
	initial := twoPlayerSession(battle.StatusOngoing)

	final, notifier, fetcher, _ := runEngine(t, initial,
		mustEvent(t, events.KindOpponentExited, events.SourcePush, events.OpponentExitedPayload{
			UserIDs: []string{opponentUser},
		}),
	)

	outcomes := notifier.terminalOutcomes()
	if len(outcomes) != 1 {
		t.Fatalf("got %d terminal outcomes, want 1", len(outcomes))
	}
	if outcomes[0].Status != battle.StatusWon || !outcomes[0].Forfeit {
		t.Fatalf("outcome = %+v, want forfeit win", outcomes[0])
	}
	if final.Status != battle.StatusWon {
		t.Fatalf("final status = %s, want %s", final.Status, battle.StatusWon)
	}
	if fetcher.calls() == 0 {
		t.Fatal("forfeit win did not schedule a confirmation fetch")
	}
}

func TestTimerExpiryCommitsTimeoutWithoutWinner(t *testing.T) {
	initial := twoPlayerSession(battle.StatusOngoing)

	final, notifier, fetcher, ft := runEngine(t, initial,
		mustEvent(t, events.KindTimerExpired, events.SourceLocal, events.TimerExpiredPayload{}),
	)

	outcomes := notifier.terminalOutcomes()
	if len(outcomes) != 1 {
		t.Fatalf("got %d terminal outcomes, want 1", len(outcomes))
	}
	if outcomes[0].Status != battle.StatusTimedOut {
		t.Fatalf("outcome status = %s, want %s", outcomes[0].Status, battle.StatusTimedOut)
	}
	if outcomes[0].Winner != nil {
		t.Fatalf("winner = %+v, timeout has no winner", outcomes[0].Winner)
	}
	if final.Status != battle.StatusTimedOut {
		t.Fatalf("final status = %s, want %s", final.Status, battle.StatusTimedOut)
	}
	if !ft.stopped {
		t.Fatal("timer not stopped on commit")
	}
	if !fetcher.periodicStopped() {
		t.Fatal("periodic polling not cancelled on commit")
	}
}

func TestReconnectForcesAuthoritativeFetch(t *testing.T) {
	initial := twoPlayerSession(battle.StatusOngoing)

	_, _, fetcher, _ := runEngine(t, initial,
		mustEvent(t, events.KindReconnectDetected, events.SourceLocal, events.ReconnectDetectedPayload{}),
	)

	if fetcher.calls() != 1 {
		t.Fatalf("fetch calls = %d, want 1 after reconnect", fetcher.calls())
	}
}

func TestFailedSubmissionDoesNotCommit(t *testing.T) {
	initial := twoPlayerSession(battle.StatusOngoing)

	final, notifier, _, _ := runEngine(t, initial,
		mustEvent(t, events.KindLocalSubmission, events.SourceLocal, events.LocalSubmissionPayload{
			UserID: localUser, Success: false,
		}),
	)

	if len(notifier.terminalOutcomes()) != 0 {
		t.Fatal("failed submission must not commit")
	}
	if final.Status != battle.StatusOngoing {
		t.Fatalf("final status = %s, want %s", final.Status, battle.StatusOngoing)
	}
}

func TestOpponentProgressUpdatesDisplayOnly(t *testing.T) {
	initial := twoPlayerSession(battle.StatusOngoing)

	final, notifier, _, _ := runEngine(t, initial,
		mustEvent(t, events.KindOpponentProgress, events.SourcePush, events.OpponentProgressPayload{
			UserID: opponentUser, PiecesPlaced: 8, TotalPieces: 8,
		}),
	)

	if len(notifier.terminalOutcomes()) != 0 {
		t.Fatal("progress event must never commit")
	}
	opp := final.Participant(opponentUser)
	if opp == nil || !opp.CompletedCode {
		t.Fatalf("opponent = %+v, want completedCode set", opp)
	}
}

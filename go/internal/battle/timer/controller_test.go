package timer

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mrowan14/codeclash/go/internal/battle/events"
)

type chanSink struct {
	ch chan events.ChannelEvent
}

func newChanSink() *chanSink {
	return &chanSink{ch: make(chan events.ChannelEvent, 8)}
}

func (s *chanSink) Publish(ev events.ChannelEvent) {
	s.ch <- ev
}

func (s *chanSink) expectExpired(t *testing.T) events.ChannelEvent {
	t.Helper()
	select {
	case ev := <-s.ch:
		if ev.Kind != events.KindTimerExpired {
			t.Fatalf("event kind = %s, want %s", ev.Kind, events.KindTimerExpired)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for TimerExpired event")
		return events.ChannelEvent{}
	}
}

func (s *chanSink) expectNone(t *testing.T) {
	t.Helper()
	select {
	case ev := <-s.ch:
		t.Fatalf("unexpected event: %s", ev.Kind)
	default:
	}
}

func startController(t *testing.T, durationSeconds int) (*Controller, *clockwork.FakeClock, *chanSink, chan int) {
	t.Helper()

	clock := clockwork.NewFakeClock()
	sink := newChanSink()
	ticks := make(chan int, 64)

	c := New(clock, sink, "sess-1", durationSeconds, func(remaining int) {
		ticks <- remaining
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c.Start(ctx)
	clock.BlockUntil(1)
	return c, clock, sink, ticks
}

func expectTick(t *testing.T, ticks chan int, want int) {
	t.Helper()
	select {
	case got := <-ticks:
		if got != want {
			t.Fatalf("tick = %d, want %d", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for tick %d", want)
	}
}

func TestCountdownReachesZeroAndExpiresOnce(t *testing.T) {
	_, clock, sink, ticks := startController(t, 3)

	for want := 2; want >= 0; want-- {
		clock.Advance(time.Second)
		expectTick(t, ticks, want)
	}
	sink.expectExpired(t)

	// Further time must not produce a second expiry.
	clock.Advance(5 * time.Second)
	sink.expectNone(t)
}

func TestApplyPenaltySubtractsWithoutReset(t *testing.T) {
	c, clock, _, ticks := startController(t, 600)

	clock.Advance(time.Second)
	expectTick(t, ticks, 599)

	if got := c.ApplyPenalty(60); got != 539 {
		t.Fatalf("ApplyPenalty = %d, want 539", got)
	}
	expectTick(t, ticks, 539)

	// Cadence continues from the penalized value.
	clock.Advance(time.Second)
	expectTick(t, ticks, 538)
}

func TestPenaltyDrivingToZeroExpiresImmediately(t *testing.T) {
	c, _, sink, ticks := startController(t, 30)

	if got := c.ApplyPenalty(45); got != 0 {
		t.Fatalf("ApplyPenalty = %d, want floor at 0", got)
	}
	expectTick(t, ticks, 0)
	sink.expectExpired(t)

	if got := c.Remaining(); got != 0 {
		t.Fatalf("Remaining = %d, want 0", got)
	}
}

func TestPenaltyIgnoredBeforeStart(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := newChanSink()
	c := New(clock, sink, "sess-1", 120, nil)

	if got := c.ApplyPenalty(60); got != 120 {
		t.Fatalf("ApplyPenalty before start = %d, want unchanged 120", got)
	}
	sink.expectNone(t)
}

func TestStopIsIdempotentAndHaltsTicks(t *testing.T) {
	c, clock, sink, ticks := startController(t, 10)

	clock.Advance(time.Second)
	expectTick(t, ticks, 9)

	c.Stop()
	c.Stop()

	clock.Advance(3 * time.Second)
	select {
	case got := <-ticks:
		t.Fatalf("tick %d after Stop", got)
	case <-time.After(100 * time.Millisecond):
	}
	sink.expectNone(t)
}

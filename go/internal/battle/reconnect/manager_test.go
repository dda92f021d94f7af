package reconnect

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mrowan14/codeclash/go/internal/battle/channel"
	"github.com/mrowan14/codeclash/go/internal/battle/events"
)

type fakeAdapter struct {
	mu           sync.Mutex
	calls        []string
	subscribeErr error
	cb           channel.StateCallback
}

func (f *fakeAdapter) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeAdapter) Subscribe(context.Context, string, channel.EventSink) error {
	f.record("subscribe")
	return f.subscribeErr
}

func (f *fakeAdapter) Unsubscribe(string)                          { f.record("unsubscribe") }
func (f *fakeAdapter) Emit(context.Context, channel.Command) error { f.record("emit"); return nil }
func (f *fakeAdapter) Connected() bool                             { return true }
func (f *fakeAdapter) SuspendEmit()                                { f.record("suspend") }
func (f *fakeAdapter) ResumeEmit()                                 { f.record("resume") }
func (f *fakeAdapter) Close()                                      {}

func (f *fakeAdapter) OnStateChange(cb channel.StateCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = cb
}

func (f *fakeAdapter) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type captureSink struct {
	mu     sync.Mutex
	events []events.ChannelEvent
}

func (s *captureSink) Publish(ev events.ChannelEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) kinds() []events.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Kind
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestResubscribeBeforeResumeOnRecovery(t *testing.T) {
	adapter := &fakeAdapter{}
	sink := &captureSink{}
	NewManager(adapter, sink, "sess-1").Start(context.Background())

	adapter.cb(channel.StateDisconnected)
	adapter.cb(channel.StateConnected)

	calls := adapter.callList()
	want := []string{"suspend", "subscribe", "resume"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("call[%d] = %s, want %s (order matters)", i, calls[i], want[i])
		}
	}

	kinds := sink.kinds()
	if len(kinds) != 1 || kinds[0] != events.KindReconnectDetected {
		t.Fatalf("sink kinds = %v, want one ReconnectDetected after resume", kinds)
	}
}

func TestEmissionStaysSuspendedWhenResubscribeFails(t *testing.T) {
	adapter := &fakeAdapter{subscribeErr: errors.New("broker unavailable")}
	sink := &captureSink{}
	NewManager(adapter, sink, "sess-1").Start(context.Background())

	adapter.cb(channel.StateDisconnected)
	adapter.cb(channel.StateConnected)

	for _, call := range adapter.callList() {
		if call == "resume" {
			t.Fatal("emission resumed despite failed re-subscribe")
		}
	}
	if len(sink.kinds()) != 0 {
		t.Fatal("reconnect event published despite failed re-subscribe")
	}
}

func TestRepeatedDisconnectSuspendsOnce(t *testing.T) {
	adapter := &fakeAdapter{}
	sink := &captureSink{}
	NewManager(adapter, sink, "sess-1").Start(context.Background())

	adapter.cb(channel.StateDisconnected)
	adapter.cb(channel.StateReconnecting)
	adapter.cb(channel.StateDisconnected)

	suspends := 0
	for _, call := range adapter.callList() {
		if call == "suspend" {
			suspends++
		}
	}
	if suspends != 1 {
		t.Fatalf("suspend called %d times, want 1", suspends)
	}
}

// Package channel provides the two transports feeding the sync engine:
// the best-effort push channel (NATS) and the authoritative pull
// channel (HTTP snapshot polling).
package channel

import (
	"context"
	"encoding/json"

	"github.com/mrowan14/codeclash/go/internal/battle/events"
)

// ConnState describes the push transport connection.
type ConnState string

const (
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
	StateReconnecting ConnState = "reconnecting"
)

// StateCallback observes push transport state changes.
type StateCallback func(state ConnState)

// Command is an outbound action emitted on the push channel.
type Command struct {
	Action    string          `json:"action"`
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventSink receives inbound events from a transport.
type EventSink interface {
	Publish(ev events.ChannelEvent)
}

// PushAdapter is the server-initiated event transport. Subscribe must
// be re-established after a reconnect before Emit is resumed.
type PushAdapter interface {
	Subscribe(ctx context.Context, sessionID string, sink EventSink) error
	Unsubscribe(sessionID string)
	Emit(ctx context.Context, cmd Command) error
	Connected() bool
	SuspendEmit()
	ResumeEmit()
	OnStateChange(cb StateCallback)
	Close()
}

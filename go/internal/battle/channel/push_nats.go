package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mrowan14/codeclash/go/internal/battle"
	"github.com/mrowan14/codeclash/go/internal/battle/events"
)

// NATSConfig holds push transport settings.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns sensible defaults for local development.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "battle",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// pushEnvelope is the wire shape of inbound push messages.
type pushEnvelope struct {
	Kind      string          `json:"kind"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"ts"`
}

// NATSAdapter implements PushAdapter over core NATS. Push delivery is
// best effort; nothing here retries or persists.
type NATSAdapter struct {
	cfg NATSConfig
	nc  *nats.Conn

	mu   sync.Mutex
	subs map[string]*nats.Subscription

	cbMu      sync.RWMutex
	stateCbs  []StateCallback
	suspended atomic.Bool
}

// NewNATSAdapter connects to the broker and wires reconnect handlers.
func NewNATSAdapter(cfg NATSConfig) (*NATSAdapter, error) {
	a := &NATSAdapter{
		cfg:  cfg,
		subs: make(map[string]*nats.Subscription),
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Push transport disconnected")
			a.notifyState(StateDisconnected)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Push transport reconnected")
			a.notifyState(StateConnected)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("Push transport closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error().Err(err).Str("subject", subject).Msg("Push transport error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	a.nc = nc

	log.Info().Str("url", cfg.URL).Msg("Connected to push transport")
	return a, nil
}

// Subscribe starts delivery of the session's push events into the sink.
// Re-subscribing replaces the previous subscription.
func (a *NATSAdapter) Subscribe(_ context.Context, sessionID string, sink EventSink) error {
	subject := fmt.Sprintf("%s.events.%s", a.cfg.SubjectPrefix, sessionID)

	sub, err := a.nc.Subscribe(subject, func(msg *nats.Msg) {
		a.handleMessage(sessionID, sink, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	a.mu.Lock()
	if prev, ok := a.subs[sessionID]; ok {
		_ = prev.Unsubscribe()
	}
	a.subs[sessionID] = sub
	a.mu.Unlock()

	log.Info().Str("subject", subject).Msg("Subscribed to session events")
	return nil
}

// Unsubscribe stops delivery for a session.
func (a *NATSAdapter) Unsubscribe(sessionID string) {
	a.mu.Lock()
	sub, ok := a.subs[sessionID]
	if ok {
		delete(a.subs, sessionID)
	}
	a.mu.Unlock()
	if ok {
		_ = sub.Unsubscribe()
	}
}

func (a *NATSAdapter) handleMessage(sessionID string, sink EventSink, msg *nats.Msg) {
	var env pushEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal push message")
		return
	}

	kind, ok := kindFromWire(env.Kind)
	if !ok {
		log.Warn().Str("kind", env.Kind).Str("subject", msg.Subject).Msg("Unknown push event kind, dropping")
		return
	}

	ev := events.ChannelEvent{
		SessionID: sessionID,
		Kind:      kind,
		Source:    events.SourcePush,
		Data:      env.Payload,
	}
	if env.SessionID != "" {
		ev.SessionID = env.SessionID
	}
	sink.Publish(ev)
}

func kindFromWire(kind string) (events.Kind, bool) {
	switch kind {
	case "opponent_exited":
		return events.KindOpponentExited, true
	case "battle_completed":
		return events.KindMatchCompleted, true
	case "opponent_progress", "opponent_submitted":
		return events.KindOpponentProgress, true
	default:
		return "", false
	}
}

// Emit publishes an outbound command. Returns ErrTransportUnavailable
// while the connection is down or emission is suspended pending a
// re-subscribe.
func (a *NATSAdapter) Emit(_ context.Context, cmd Command) error {
	if a.suspended.Load() || !a.nc.IsConnected() {
		return fmt.Errorf("emit %s for session %s: %w", cmd.Action, cmd.SessionID, battle.ErrTransportUnavailable)
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	subject := fmt.Sprintf("%s.cmd.%s", a.cfg.SubjectPrefix, cmd.SessionID)
	if err := a.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Connected reports whether the broker connection is up.
func (a *NATSAdapter) Connected() bool {
	return a.nc.IsConnected()
}

// SuspendEmit blocks outbound emission until ResumeEmit.
func (a *NATSAdapter) SuspendEmit() {
	a.suspended.Store(true)
}

// ResumeEmit re-enables outbound emission after subscriptions are
// restored.
func (a *NATSAdapter) ResumeEmit() {
	a.suspended.Store(false)
}

// OnStateChange registers a connection state observer.
func (a *NATSAdapter) OnStateChange(cb StateCallback) {
	a.cbMu.Lock()
	a.stateCbs = append(a.stateCbs, cb)
	a.cbMu.Unlock()
}

func (a *NATSAdapter) notifyState(state ConnState) {
	a.cbMu.RLock()
	cbs := make([]StateCallback, len(a.stateCbs))
	copy(cbs, a.stateCbs)
	a.cbMu.RUnlock()
	for _, cb := range cbs {
		cb(state)
	}
}

// Close drains the connection and drops all subscriptions.
func (a *NATSAdapter) Close() {
	a.mu.Lock()
	for id, sub := range a.subs {
		_ = sub.Unsubscribe()
		delete(a.subs, id)
	}
	a.mu.Unlock()

	if err := a.nc.Drain(); err != nil {
		log.Error().Err(err).Msg("Failed to drain push transport")
		a.nc.Close()
	}
}

package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mrowan14/codeclash/go/internal/battle"
)

// EventType identifies a UI-facing battle event
type EventType string

const (
	EventTypeStatusChange    EventType = "status_change"
	EventTypeTerminalOutcome EventType = "terminal_outcome"
	EventTypeTimerTick       EventType = "timer_tick"
)

// BattleEvent is the wire shape pushed to connected clients
type BattleEvent struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// StatusChangeData carries a reconciled session update
type StatusChangeData struct {
	Status           string               `json:"status"`
	Participants     []battle.Participant `json:"participants"`
	RemainingSeconds int                  `json:"remaining_seconds"`
}

// TimerTickData carries one countdown tick
type TimerTickData struct {
	RemainingSeconds int `json:"remaining_seconds"`
}

func newBattleEvent(sessionID string, eventType EventType, data any) (*BattleEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event data: %w", eventType, err)
	}
	return &BattleEvent{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// NewStatusChangeEvent builds a status_change event
func NewStatusChangeEvent(sessionID string, status battle.Status, participants []battle.Participant, remainingSeconds int) (*BattleEvent, error) {
	return newBattleEvent(sessionID, EventTypeStatusChange, StatusChangeData{
		Status:           string(status),
		Participants:     participants,
		RemainingSeconds: remainingSeconds,
	})
}

// NewTerminalOutcomeEvent builds a terminal_outcome event
func NewTerminalOutcomeEvent(outcome battle.Outcome) (*BattleEvent, error) {
	return newBattleEvent(outcome.SessionID, EventTypeTerminalOutcome, outcome)
}

// NewTimerTickEvent builds a timer_tick event
func NewTimerTickEvent(sessionID string, remainingSeconds int) (*BattleEvent, error) {
	return newBattleEvent(sessionID, EventTypeTimerTick, TimerTickData{
		RemainingSeconds: remainingSeconds,
	})
}

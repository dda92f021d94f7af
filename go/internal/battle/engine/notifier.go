package engine

import (
	"github.com/mrowan14/codeclash/go/internal/battle"
)

// Notifier receives UI-facing callbacks from the sync engine. Status
// changes fire on every reconciled update; the terminal outcome fires
// exactly once per session.
type Notifier interface {
	OnStatusChange(status battle.Status, participants []battle.Participant)
	OnTerminalOutcome(outcome battle.Outcome)
	OnTimerTick(remainingSeconds int)
}

type multiNotifier struct {
	targets []Notifier
}

// Multi fans callbacks out to several notifiers in order.
func Multi(targets ...Notifier) Notifier {
	return &multiNotifier{targets: targets}
}

func (m *multiNotifier) OnStatusChange(status battle.Status, participants []battle.Participant) {
	for _, t := range m.targets {
		t.OnStatusChange(status, participants)
	}
}

func (m *multiNotifier) OnTerminalOutcome(outcome battle.Outcome) {
	for _, t := range m.targets {
		t.OnTerminalOutcome(outcome)
	}
}

func (m *multiNotifier) OnTimerTick(remainingSeconds int) {
	for _, t := range m.targets {
		t.OnTimerTick(remainingSeconds)
	}
}

// NopNotifier discards all callbacks.
type NopNotifier struct{}

func (NopNotifier) OnStatusChange(battle.Status, []battle.Participant) {}
func (NopNotifier) OnTerminalOutcome(battle.Outcome)                   {}
func (NopNotifier) OnTimerTick(int)                                    {}

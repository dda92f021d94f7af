// Package service composes the sync components for live sessions: one
// engine, timer, poller, and reconnect manager per open session.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mrowan14/codeclash/go/internal/battle"
	"github.com/mrowan14/codeclash/go/internal/battle/channel"
	"github.com/mrowan14/codeclash/go/internal/battle/collab"
	"github.com/mrowan14/codeclash/go/internal/battle/engine"
	"github.com/mrowan14/codeclash/go/internal/battle/gateway"
	"github.com/mrowan14/codeclash/go/internal/battle/normalize"
	"github.com/mrowan14/codeclash/go/internal/battle/reconnect"
	"github.com/mrowan14/codeclash/go/internal/battle/results"
	"github.com/mrowan14/codeclash/go/internal/battle/store"
	"github.com/mrowan14/codeclash/go/internal/battle/timer"
)

// Tunables are the per-deployment sync settings.
type Tunables struct {
	PollInterval        time.Duration
	CoalesceWindow      time.Duration
	QueueSize           int
	SkipPenaltySeconds  int
	ForfeitConfirmDelay time.Duration
}

// DefaultTunables returns production defaults.
func DefaultTunables() Tunables {
	return Tunables{
		PollInterval:        channel.DefaultPollInterval,
		CoalesceWindow:      normalize.DefaultCoalesceWindow,
		QueueSize:           normalize.DefaultQueueSize,
		SkipPenaltySeconds:  60,
		ForfeitConfirmDelay: engine.DefaultForfeitConfirmDelay,
	}
}

// Deps are the shared infrastructure handles. Push, Store, Results,
// Gateway, and Submissions may be nil; the engine then runs with what
// is available. Snapshots and Clock are required.
type Deps struct {
	Push        channel.PushAdapter
	Snapshots   *channel.SnapshotClient
	Store       *store.Redis
	Results     *results.Repository
	Gateway     *gateway.Service
	Submissions collab.SubmissionService
	Clock       clockwork.Clock
}

// Service supervises the open sessions.
type Service struct {
	deps Deps
	tun  Tunables

	mu       sync.Mutex
	sessions map[string]*Session
}

// Session is one supervised live battle.
type Session struct {
	id          string
	localUserID string
	svc         *Service

	engine     *engine.Engine
	normalizer *normalize.Normalizer
	poller     *channel.Poller
	timer      *timer.Controller
	submitter  *collab.Submitter

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates the supervisor.
func New(deps Deps, tun Tunables) *Service {
	return &Service{
		deps:     deps,
		tun:      tun,
		sessions: make(map[string]*Session),
	}
}

// SetGateway attaches the gateway after construction; the gateway
// itself is built against this service's state provider.
func (s *Service) SetGateway(gw *gateway.Service) {
	s.deps.Gateway = gw
}

// Open starts syncing a session from its initial state. The push
// subscription is established before the pull loop starts; a push
// failure degrades to pull-only rather than failing the open.
func (s *Service) Open(ctx context.Context, initial battle.MatchSession, localUserID string) (*Session, error) {
	s.mu.Lock()
	if _, exists := s.sessions[initial.ID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s already open", initial.ID)
	}
	s.mu.Unlock()

	sessCtx, cancel := context.WithCancel(ctx)

	norm := normalize.New(s.deps.Clock, s.tun.QueueSize, s.tun.CoalesceWindow)

	var notifiers []engine.Notifier
	if s.deps.Gateway != nil {
		notifiers = append(notifiers, s.deps.Gateway.Notifier(initial.ID))
	}
	if s.deps.Store != nil {
		notifiers = append(notifiers, store.NewRecorder(s.deps.Store, initial))
	}
	if s.deps.Results != nil {
		notifiers = append(notifiers, results.NewArchiver(s.deps.Results, initial))
	}
	notifier := engine.Multi(notifiers...)

	remaining := initial.RemainingSeconds
	if remaining <= 0 {
		remaining = initial.DurationSeconds
	}
	tc := timer.New(s.deps.Clock, norm, initial.ID, remaining, notifier.OnTimerTick)

	poller := channel.NewPoller(s.deps.Snapshots, norm, initial.ID, s.tun.PollInterval, s.deps.Clock)

	cfg := engine.Config{
		LocalUserID:         localUserID,
		ForfeitConfirmDelay: s.tun.ForfeitConfirmDelay,
	}
	eng := engine.New(cfg, initial, norm.Events(), poller, tc, notifier, s.deps.Clock)

	if s.deps.Push != nil {
		if err := s.deps.Push.Subscribe(sessCtx, initial.ID, norm); err != nil {
			log.Warn().Err(err).
				Str("sessionId", initial.ID).
				Msg("Push subscription failed, running pull-only")
		}
		reconnect.NewManager(s.deps.Push, norm, initial.ID).Start(sessCtx)
	}

	poller.Start(sessCtx)

	sess := &Session{
		id:          initial.ID,
		localUserID: localUserID,
		svc:         s,
		engine:      eng,
		normalizer:  norm,
		poller:      poller,
		timer:       tc,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	if s.deps.Submissions != nil {
		sess.submitter = collab.NewSubmitter(s.deps.Submissions, norm)
	}

	go func() {
		defer close(sess.done)
		_ = eng.Run(sessCtx)
	}()

	s.mu.Lock()
	s.sessions[initial.ID] = sess
	s.mu.Unlock()

	log.Info().
		Str("sessionId", initial.ID).
		Str("userId", localUserID).
		Msg("Session opened")
	return sess, nil
}

// Get returns an open session.
func (s *Service) Get(sessionID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	return sess, ok
}

// Close tears one session down.
func (s *Service) Close(sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if ok {
		sess.shutdown()
	}
}

// CloseAll tears every open session down.
func (s *Service) CloseAll() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.shutdown()
	}
}

// StateProvider exposes stored session state for gateway reads, or nil
// when no store is configured.
func (s *Service) StateProvider() gateway.StateProvider {
	if s.deps.Store == nil {
		return nil
	}
	return &storeStateProvider{store: s.deps.Store}
}

type storeStateProvider struct {
	store *store.Redis
}

func (p *storeStateProvider) GetSessionState(ctx context.Context, sessionID string) (*battle.MatchSession, error) {
	return p.store.GetSession(ctx, sessionID)
}

func (p *storeStateProvider) GetRecentOutcomes(ctx context.Context, limit int) ([]battle.Outcome, error) {
	return p.store.RecentOutcomes(ctx, limit)
}

// ID returns the session identifier.
func (sess *Session) ID() string {
	return sess.id
}

// Snapshot returns the engine's current state copy.
func (sess *Session) Snapshot() battle.MatchSession {
	return sess.engine.Snapshot()
}

// Skip applies the configured skip penalty and returns the remaining
// seconds.
func (sess *Session) Skip() int {
	return sess.engine.ApplySkipPenalty(sess.svc.tun.SkipPenaltySeconds)
}

// Submit grades the local user's code and feeds the verdict into the
// engine.
func (sess *Session) Submit(ctx context.Context, code string) (collab.SubmissionResult, error) {
	if sess.submitter == nil {
		return collab.SubmissionResult{}, fmt.Errorf("no submission service configured")
	}
	return sess.submitter.Submit(ctx, sess.id, sess.localUserID, code)
}

// ReportProgress emits a best-effort progress hint to opponents over
// the push channel. A down transport is not an error worth surfacing.
func (sess *Session) ReportProgress(ctx context.Context, piecesPlaced, totalPieces int) {
	if sess.svc.deps.Push == nil {
		return
	}
	payload, err := json.Marshal(map[string]int{
		"pieces_placed": piecesPlaced,
		"total_pieces":  totalPieces,
	})
	if err != nil {
		return
	}
	err = sess.svc.deps.Push.Emit(ctx, channel.Command{
		Action:    "progress",
		SessionID: sess.id,
		UserID:    sess.localUserID,
		Payload:   payload,
	})
	if err != nil {
		log.Debug().Err(err).Str("sessionId", sess.id).Msg("Progress emit skipped")
	}
}

func (sess *Session) shutdown() {
	sess.closeOnce.Do(func() {
		sess.cancel()
		if sess.svc.deps.Push != nil {
			sess.svc.deps.Push.Unsubscribe(sess.id)
		}
		sess.poller.Stop()
		sess.timer.Stop()
		sess.normalizer.Close()

		select {
		case <-sess.done:
		case <-time.After(5 * time.Second):
			log.Warn().Str("sessionId", sess.id).Msg("Engine did not stop in time")
		}
		log.Info().Str("sessionId", sess.id).Msg("Session closed")
	})
}

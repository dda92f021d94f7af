// Package store keeps live session snapshots and recent outcomes in
// Redis so gateway reads never touch the engine goroutine.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mrowan14/codeclash/go/internal/battle"
)

const (
	sessionKeyPrefix = "battle:session:"
	recentKey        = "battle:recent"
	recentMax        = 50
)

// Redis stores session state and outcomes with a TTL.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis wraps an existing client. ttl bounds how long finished
// session state lingers.
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

// SaveSession persists the current session snapshot.
func (s *Redis) SaveSession(ctx context.Context, session battle.MatchSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", session.ID, err)
	}
	if err := s.rdb.Set(ctx, sessionKeyPrefix+session.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}
	return nil
}

// GetSession loads a session snapshot. Returns nil without error when
// the session is unknown.
func (s *Redis) GetSession(ctx context.Context, sessionID string) (*battle.MatchSession, error) {
	data, err := s.rdb.Get(ctx, sessionKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	var session battle.MatchSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
	}
	return &session, nil
}

// DeleteSession removes a session snapshot.
func (s *Redis) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, sessionKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// PushOutcome records a terminal outcome at the head of the recent
// list, trimming to the last recentMax entries.
func (s *Redis) PushOutcome(ctx context.Context, outcome battle.Outcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome %s: %w", outcome.SessionID, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, recentKey, data)
	pipe.LTrim(ctx, recentKey, 0, recentMax-1)
	pipe.Expire(ctx, recentKey, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push outcome %s: %w", outcome.SessionID, err)
	}
	return nil
}

// RecentOutcomes returns up to limit outcomes, newest first.
func (s *Redis) RecentOutcomes(ctx context.Context, limit int) ([]battle.Outcome, error) {
	if limit <= 0 || limit > recentMax {
		limit = recentMax
	}
	entries, err := s.rdb.LRange(ctx, recentKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list recent outcomes: %w", err)
	}

	outcomes := make([]battle.Outcome, 0, len(entries))
	for _, entry := range entries {
		var o battle.Outcome
		if err := json.Unmarshal([]byte(entry), &o); err != nil {
			log.Warn().Err(err).Msg("Skipping malformed outcome entry")
			continue
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

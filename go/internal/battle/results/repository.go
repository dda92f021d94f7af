// Package results archives terminal battle outcomes in Postgres for
// match history and stats.
package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"

	"github.com/mrowan14/codeclash/go/internal/battle"
	"github.com/mrowan14/codeclash/go/internal/sqlutil"
)

// Repository persists battle results.
type Repository struct {
	db *sql.DB
}

// NewRepository opens a Postgres connection pool and verifies it.
func NewRepository(databaseURL string) (*Repository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Connected to results database")
	return &Repository{db: db}, nil
}

// NewRepositoryWithDB wraps an existing pool, mainly for tests.
func NewRepositoryWithDB(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type txQueries struct {
	tx *sql.Tx
}

func newTxQueries(tx *sql.Tx) *txQueries {
	return &txQueries{tx: tx}
}

// ResultRow is one archived battle result.
type ResultRow struct {
	SessionID    string               `json:"session_id"`
	Status       battle.Status        `json:"status"`
	WinnerUserID *string              `json:"winner_user_id,omitempty"`
	ExpGained    int                  `json:"exp_gained"`
	ExpLost      int                  `json:"exp_lost"`
	Forfeit      bool                 `json:"forfeit"`
	Participants []battle.Participant `json:"participants"`
	StartedAt    *time.Time           `json:"started_at,omitempty"`
	CommittedAt  time.Time            `json:"committed_at"`
}

// SaveOutcome upserts the session's final result and replaces its
// per-participant rows in one transaction. Re-saving the same session
// is harmless, which keeps the archive safe against replayed
// notifications.
func (r *Repository) SaveOutcome(ctx context.Context, session battle.MatchSession, outcome battle.Outcome) error {
	participantsRaw, err := json.Marshal(session.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants for session %s: %w", session.ID, err)
	}
	participants := pqtype.NullRawMessage{RawMessage: participantsRaw, Valid: true}

	var winnerID *string
	if outcome.Winner != nil {
		winnerID = &outcome.Winner.UserID
	}

	return sqlutil.Run(ctx, r.db, newTxQueries, func(q *txQueries) error {
		_, err := q.tx.ExecContext(ctx, `
			INSERT INTO battle_results (
				session_id, status, winner_user_id, exp_gained, exp_lost,
				forfeit, participants, started_at, committed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (session_id) DO UPDATE SET
				status = EXCLUDED.status,
				winner_user_id = EXCLUDED.winner_user_id,
				exp_gained = EXCLUDED.exp_gained,
				exp_lost = EXCLUDED.exp_lost,
				forfeit = EXCLUDED.forfeit,
				participants = EXCLUDED.participants,
				started_at = EXCLUDED.started_at,
				committed_at = EXCLUDED.committed_at`,
			session.ID, string(outcome.Status), sqlutil.ToSqlString(winnerID),
			outcome.ExpGained, outcome.ExpLost, outcome.Forfeit, participants,
			sqlutil.ToSqlTime(session.StartedAt), outcome.CommittedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert result for session %s: %w", session.ID, err)
		}

		if _, err := q.tx.ExecContext(ctx,
			`DELETE FROM battle_result_participants WHERE session_id = $1`, session.ID,
		); err != nil {
			return fmt.Errorf("clear participants for session %s: %w", session.ID, err)
		}

		for _, p := range session.Participants {
			var completionSeconds *int
			if p.CompletionTime != nil {
				secs := int(p.CompletionTime.Seconds())
				completionSeconds = &secs
			}
			if _, err := q.tx.ExecContext(ctx, `
				INSERT INTO battle_result_participants (
					session_id, user_id, display_name, completed_code,
					is_winner, exp_gained, exp_lost, completion_seconds
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				session.ID, p.UserID, p.DisplayName, p.CompletedCode,
				p.IsWinner, p.ExpGained, p.ExpLost, sqlutil.ToSqlInt32(completionSeconds),
			); err != nil {
				return fmt.Errorf("insert participant %s for session %s: %w", p.UserID, session.ID, err)
			}
		}
		return nil
	})
}

// GetResult loads one archived result. Returns nil without error when
// the session has no archived result.
func (r *Repository) GetResult(ctx context.Context, sessionID string) (*ResultRow, error) {
	var res ResultRow
	var status string
	var winnerID sql.NullString
	var startedAt sql.NullTime
	var participants pqtype.NullRawMessage
	err := sqlutil.RunReadOnly(ctx, r.db, newTxQueries, func(q *txQueries) error {
		row := q.tx.QueryRowContext(ctx, `
			SELECT session_id, status, winner_user_id, exp_gained, exp_lost,
			       forfeit, participants, started_at, committed_at
			FROM battle_results WHERE session_id = $1`, sessionID)
		return row.Scan(&res.SessionID, &status, &winnerID, &res.ExpGained,
			&res.ExpLost, &res.Forfeit, &participants, &startedAt, &res.CommittedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load result for session %s: %w", sessionID, err)
	}

	res.Status = battle.Status(status)
	res.WinnerUserID = sqlutil.FromSqlStringPtr(winnerID)
	res.StartedAt = sqlutil.FromSqlTime(startedAt)
	if participants.Valid {
		if err := json.Unmarshal(participants.RawMessage, &res.Participants); err != nil {
			return nil, fmt.Errorf("unmarshal participants for session %s: %w", sessionID, err)
		}
	}
	return &res, nil
}

// UserStats summarizes a user's archived battles.
type UserStats struct {
	UserID                string `json:"user_id"`
	Wins                  int    `json:"wins"`
	Losses                int    `json:"losses"`
	ForfeitWins           int    `json:"forfeit_wins"`
	TotalExp              int    `json:"total_exp"`
	BestCompletionSeconds *int   `json:"best_completion_seconds,omitempty"`
}

// GetUserStats aggregates a user's results. BestCompletionSeconds is
// nil until the user has finished at least one puzzle.
func (r *Repository) GetUserStats(ctx context.Context, userID string) (*UserStats, error) {
	stats := UserStats{UserID: userID}
	var best sql.NullInt32
	err := sqlutil.RunReadOnly(ctx, r.db, newTxQueries, func(q *txQueries) error {
		row := q.tx.QueryRowContext(ctx, `
			SELECT
				COUNT(*) FILTER (WHERE p.is_winner),
				COUNT(*) FILTER (WHERE NOT p.is_winner),
				COUNT(*) FILTER (WHERE p.is_winner AND r.forfeit),
				COALESCE(SUM(p.exp_gained - p.exp_lost), 0),
				MIN(p.completion_seconds)
			FROM battle_result_participants p
			JOIN battle_results r ON r.session_id = p.session_id
			WHERE p.user_id = $1`, userID)
		return row.Scan(&stats.Wins, &stats.Losses, &stats.ForfeitWins, &stats.TotalExp, &best)
	})
	if err != nil {
		return nil, fmt.Errorf("load stats for user %s: %w", userID, err)
	}
	stats.BestCompletionSeconds = sqlutil.FromSqlInt32(best)
	return &stats, nil
}

// Close releases the connection pool.
func (r *Repository) Close() error {
	return r.db.Close()
}

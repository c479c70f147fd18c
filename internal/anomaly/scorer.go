// Package anomaly keeps a per-actor activity counter fed by the integrity
// chain and classifies the resulting risk scores.
package anomaly

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ziadkadry99/vaultsearch/internal/audit"
	"github.com/ziadkadry99/vaultsearch/internal/db"
	"github.com/ziadkadry99/vaultsearch/internal/metrics"
)

// MaxScore is the ceiling of a risk score.
const MaxScore = 100

// Search-count thresholds and the score increments they trigger.
const (
	HeavyThreshold    = 50
	ElevatedThreshold = 20
	HeavyIncrement    = 8
	ElevatedIncrement = 3
)

// ErrUnknownActor is returned for actors with no recorded activity.
var ErrUnknownActor = errors.New("unknown actor")

// Counter is an actor's activity state. Searches counts every read of
// customer data: searches and single-record views.
type Counter struct {
	Actor      string    `json:"actor"`
	Searches   int       `json:"searches"`
	Score      float64   `json:"score"`
	LastAction time.Time `json:"last_action"`
}

// NextScore returns the score after a search that brought the actor's
// count to searches.
func NextScore(searches int, score float64) float64 {
	switch {
	case searches > HeavyThreshold:
		score += HeavyIncrement
	case searches > ElevatedThreshold:
		score += ElevatedIncrement
	}
	if score > MaxScore {
		score = MaxScore
	}
	return score
}

// scored reports whether an action reads customer data and so feeds the
// risk score.
func scored(a audit.Action) bool {
	return a == audit.ActionSearch || a == audit.ActionRecordView
}

// Scorer updates activity counters. It is registered as an audit.Hook, so
// counters change only in the transaction that appends the block.
type Scorer struct {
	db *db.DB
}

// NewScorer creates a Scorer backed by the given database.
func NewScorer(database *db.DB) *Scorer {
	return &Scorer{db: database}
}

// AfterAppend implements audit.Hook.
func (s *Scorer) AfterAppend(ctx context.Context, tx *sql.Tx, b *audit.Block) error {
	stamp := audit.FormatTimestamp(b.Timestamp)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_activity (actor, search_count, last_action_time, risk_score)
		VALUES (?, 0, ?, 0)
		ON CONFLICT(actor) DO UPDATE SET last_action_time = excluded.last_action_time`,
		b.Actor, stamp,
	); err != nil {
		return fmt.Errorf("touching activity for %s: %w", b.Actor, err)
	}

	if !scored(b.Action) {
		return nil
	}

	c, err := get(ctx, tx, b.Actor)
	if err != nil {
		return err
	}
	before := Classify(c.Score)
	c.Searches++
	c.Score = NextScore(c.Searches, c.Score)

	if _, err := tx.ExecContext(ctx,
		"UPDATE user_activity SET search_count = ?, risk_score = ? WHERE actor = ?",
		c.Searches, c.Score, b.Actor,
	); err != nil {
		return fmt.Errorf("updating activity for %s: %w", b.Actor, err)
	}

	if after := Classify(c.Score); after != before {
		metrics.RiskEscalations.WithLabelValues(string(after)).Inc()
	}
	return nil
}

// ResetTx zeroes the actor's search count and score inside tx.
func (s *Scorer) ResetTx(ctx context.Context, tx *sql.Tx, actor string) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE user_activity SET search_count = 0, risk_score = 0 WHERE actor = ?", actor)
	if err != nil {
		return fmt.Errorf("resetting activity for %s: %w", actor, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resetting activity for %s: %w", actor, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownActor, actor)
	}
	return nil
}

// Reset zeroes the actor's counter and records the reset on the chain as
// admin.
func (s *Scorer) Reset(ctx context.Context, chain *audit.Chain, admin, actor string) (*audit.Block, error) {
	return chain.Commit(ctx, admin, audit.ActionRiskReset, func(ctx context.Context, tx *sql.Tx) (string, error) {
		if err := s.ResetTx(ctx, tx, actor); err != nil {
			return "", err
		}
		return "risk score reset for " + actor, nil
	})
}

// Get returns the counter for actor.
func (s *Scorer) Get(ctx context.Context, actor string) (*Counter, error) {
	return get(ctx, s.db, actor)
}

// List returns every counter, highest score first.
func (s *Scorer) List(ctx context.Context) ([]Counter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT actor, search_count, risk_score, last_action_time
		FROM user_activity ORDER BY risk_score DESC, actor ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	defer rows.Close()

	var counters []Counter
	for rows.Next() {
		c, err := scanCounter(rows)
		if err != nil {
			return nil, err
		}
		counters = append(counters, *c)
	}
	return counters, rows.Err()
}

func get(ctx context.Context, q db.Querier, actor string) (*Counter, error) {
	row := q.QueryRowContext(ctx, `
		SELECT actor, search_count, risk_score, last_action_time
		FROM user_activity WHERE actor = ?`, actor)
	c, err := scanCounter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActor, actor)
	}
	return c, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCounter(sc scanner) (*Counter, error) {
	var (
		c  Counter
		ts string
	)
	if err := sc.Scan(&c.Actor, &c.Searches, &c.Score, &ts); err != nil {
		return nil, err
	}
	if t, err := audit.ParseTimestamp(ts); err == nil {
		c.LastAction = t
	}
	return &c, nil
}

package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ziadkadry99/vaultsearch/internal/db"
	"github.com/ziadkadry99/vaultsearch/internal/metrics"
)

// Hook runs inside the append transaction after the block and its audit
// entry are written. A hook error rolls the whole unit back.
type Hook interface {
	AfterAppend(ctx context.Context, tx *sql.Tx, b *Block) error
}

// Work is the state change a block records. It runs in the same
// transaction as the append and returns the block detail.
type Work func(ctx context.Context, tx *sql.Tx) (detail string, err error)

// Chain is the append-only integrity ledger. Appends are serialized by a
// single-writer lock; Verify and the listing methods are plain readers.
type Chain struct {
	db    *db.DB
	mu    sync.Mutex
	now   func() time.Time
	hooks []Hook
}

// NewChain creates a Chain backed by the given database.
func NewChain(database *db.DB, hooks ...Hook) *Chain {
	return &Chain{db: database, now: time.Now, hooks: hooks}
}

// SetClock replaces the time source used to stamp blocks.
func (c *Chain) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Append records an action that carries no other state change.
func (c *Chain) Append(ctx context.Context, actor string, action Action, detail string) (*Block, error) {
	return c.Commit(ctx, actor, action, func(context.Context, *sql.Tx) (string, error) {
		return detail, nil
	})
}

// Commit runs work and appends its block, the paired audit entry and every
// hook as one transaction. Nothing is persisted if any step fails.
func (c *Chain) Commit(ctx context.Context, actor string, action Action, work Work) (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var block *Block
	err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		detail, err := work(ctx, tx)
		if err != nil {
			return err
		}

		prev, err := tailHash(ctx, tx)
		if err != nil {
			return err
		}

		ts := c.now().UTC().Truncate(time.Microsecond)
		stamp := FormatTimestamp(ts)
		b := &Block{
			Timestamp:    ts,
			Actor:        actor,
			Action:       action,
			Detail:       detail,
			PreviousHash: prev,
			CurrentHash:  BlockHash(prev, action, stamp, actor),
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO chain_blocks (timestamp, actor, action, detail, previous_hash, current_hash)
			VALUES (?, ?, ?, ?, ?, ?)`,
			stamp, b.Actor, string(b.Action), b.Detail, b.PreviousHash, b.CurrentHash,
		)
		if err != nil {
			return fmt.Errorf("inserting block: %w", err)
		}
		if b.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("reading block id: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO audit_entries (timestamp, actor, action, detail, content_hash)
			VALUES (?, ?, ?, ?, ?)`,
			stamp, actor, string(action), detail, ContentHash(action, detail, actor),
		); err != nil {
			return fmt.Errorf("inserting audit entry: %w", err)
		}

		for _, h := range c.hooks {
			if err := h.AfterAppend(ctx, tx, b); err != nil {
				return err
			}
		}

		block = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ChainAppends.WithLabelValues(string(action)).Inc()
	return block, nil
}

func tailHash(ctx context.Context, q db.Querier) (string, error) {
	var h string
	err := q.QueryRowContext(ctx, "SELECT current_hash FROM chain_blocks ORDER BY id DESC LIMIT 1").Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading chain tail: %w", err)
	}
	return h, nil
}

// Verify walks the chain from genesis and recomputes every hash from the
// running previous hash and the stored action, timestamp and actor. It
// reports the first block whose stored hash or link diverges.
func (c *Chain) Verify(ctx context.Context) (VerifyResult, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, timestamp, actor, action, previous_hash, current_hash
		FROM chain_blocks ORDER BY id ASC`)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("reading chain: %w", err)
	}
	defer rows.Close()

	result := VerifyResult{Status: StatusVerified}
	prev := GenesisHash
	for rows.Next() {
		var (
			id                           int64
			ts, actor, action, ph, stored string
		)
		if err := rows.Scan(&id, &ts, &actor, &action, &ph, &stored); err != nil {
			return VerifyResult{}, fmt.Errorf("scanning block: %w", err)
		}
		result.TotalBlocks++
		if result.FirstBadBlockID != nil {
			continue
		}

		expected := BlockHash(prev, Action(action), ts, actor)
		if stored != expected || ph != prev {
			bad := id
			result.Status = StatusTamperDetected
			result.FirstBadBlockID = &bad
			continue
		}
		prev = stored
	}
	if err := rows.Err(); err != nil {
		return VerifyResult{}, fmt.Errorf("reading chain: %w", err)
	}

	if result.OK() {
		result.LastHash = prev
	}
	metrics.ChainVerifications.WithLabelValues(string(result.Status)).Inc()
	return result, nil
}

// Blocks returns up to limit blocks, newest first.
func (c *Chain) Blocks(ctx context.Context, limit int) ([]Block, error) {
	query := "SELECT id, timestamp, actor, action, detail, previous_hash, current_hash FROM chain_blocks ORDER BY id DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying blocks: %w", err)
	}
	defer rows.Close()

	var blocks []Block
	for rows.Next() {
		var (
			b          Block
			ts, action string
		)
		if err := rows.Scan(&b.ID, &ts, &b.Actor, &action, &b.Detail, &b.PreviousHash, &b.CurrentHash); err != nil {
			return nil, fmt.Errorf("scanning block: %w", err)
		}
		b.Action = Action(action)
		if t, err := ParseTimestamp(ts); err == nil {
			b.Timestamp = t
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// Count returns the number of blocks.
func (c *Chain) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chain_blocks").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting blocks: %w", err)
	}
	return n, nil
}

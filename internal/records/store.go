package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ziadkadry99/vaultsearch/internal/db"
)

// Store provides CRUD operations for records and search tokens. Methods
// ending in Tx run on the caller's transaction so they can share a unit
// of work with a ledger append.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// InsertTx writes r and sets its store-allocated id.
func (s *Store) InsertTx(ctx context.Context, tx *sql.Tx, r *Record) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO bank_records (customer_id, customer_name, account_number, bank_name, branch, city, balance)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.CustomerID, r.CustomerName, r.AccountNumber, r.BankName, r.Branch, r.City, r.Balance,
	)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading record id: %w", err)
	}
	return nil
}

// InsertTokensTx links every token to recordID.
func (s *Store) InsertTokensTx(ctx context.Context, tx *sql.Tx, recordID int64, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO search_tokens (token, record_id) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("preparing token insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range tokens {
		if _, err := stmt.ExecContext(ctx, t, recordID); err != nil {
			return fmt.Errorf("inserting token for record %d: %w", recordID, err)
		}
	}
	return nil
}

// ReplaceTokensTx drops every token row and writes the given set. Records
// are inserted in ascending id order so lookups keep storage order.
func (s *Store) ReplaceTokensTx(ctx context.Context, tx *sql.Tx, ids []int64, tokens map[int64][]string) (int, error) {
	if _, err := tx.ExecContext(ctx, "DELETE FROM search_tokens"); err != nil {
		return 0, fmt.Errorf("clearing tokens: %w", err)
	}
	n := 0
	for _, id := range ids {
		if err := s.InsertTokensTx(ctx, tx, id, tokens[id]); err != nil {
			return 0, err
		}
		n += len(tokens[id])
	}
	return n, nil
}

// DeleteTx removes the record's tokens and then the record.
func (s *Store) DeleteTx(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM search_tokens WHERE record_id = ?", id); err != nil {
		return fmt.Errorf("deleting tokens for record %d: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM bank_records WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting record %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting record %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const recordColumns = "id, customer_id, customer_name, account_number, bank_name, branch, city, balance"

// Get retrieves a record by id.
func (s *Store) Get(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM bank_records WHERE id = ?", id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting record %d: %w", id, err)
	}
	return r, nil
}

// GetMany retrieves the records with the given ids, keyed by id. Missing
// ids are absent from the map.
func (s *Store) GetMany(ctx context.Context, ids []int64) (map[int64]*Record, error) {
	out := make(map[int64]*Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM bank_records WHERE id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return nil, fmt.Errorf("getting records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}

// LookupToken returns the record ids of up to limit token rows matching
// token, in token-row storage order. Ids may repeat.
func (s *Store) LookupToken(ctx context.Context, token string, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT record_id FROM search_tokens WHERE token = ? ORDER BY id ASC LIMIT ?", token, limit)
	if err != nil {
		return nil, fmt.Errorf("looking up token: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning token row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// List returns records in id order. A limit of 0 means no limit.
func (s *Store) List(ctx context.Context, offset, limit int) ([]Record, error) {
	return list(ctx, s.db, offset, limit)
}

// ListTx is List inside a transaction.
func (s *Store) ListTx(ctx context.Context, tx *sql.Tx, offset, limit int) ([]Record, error) {
	return list(ctx, tx, offset, limit)
}

func list(ctx context.Context, q db.Querier, offset, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM bank_records ORDER BY id ASC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		recs = append(recs, *r)
	}
	return recs, rows.Err()
}

// Counts returns the size of every table shown on the stats page.
func (s *Store) Counts(ctx context.Context) (*Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM bank_records),
			(SELECT COUNT(*) FROM search_tokens),
			(SELECT COUNT(*) FROM chain_blocks),
			(SELECT COUNT(*) FROM audit_entries)`,
	).Scan(&c.Records, &c.Tokens, &c.Blocks, &c.AuditEntries)
	if err != nil {
		return nil, fmt.Errorf("counting tables: %w", err)
	}
	return &c, nil
}

// Raw returns the first limit records as truncated ciphertext.
func (s *Store) Raw(ctx context.Context, limit int) ([]RawRow, error) {
	recs, err := s.List(ctx, 0, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RawRow, 0, len(recs))
	for _, r := range recs {
		out = append(out, RawRow{
			ID:      r.ID,
			Name:    preview(r.CustomerName),
			Account: preview(r.AccountNumber),
			City:    preview(r.City),
		})
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var r Record
	err := sc.Scan(&r.ID, &r.CustomerID, &r.CustomerName, &r.AccountNumber, &r.BankName, &r.Branch, &r.City, &r.Balance)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

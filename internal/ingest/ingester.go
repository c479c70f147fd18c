package ingest

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ziadkadry99/vaultsearch/internal/audit"
	"github.com/ziadkadry99/vaultsearch/internal/blindindex"
	"github.com/ziadkadry99/vaultsearch/internal/config"
	"github.com/ziadkadry99/vaultsearch/internal/metrics"
	"github.com/ziadkadry99/vaultsearch/internal/records"
)

// Cipher encrypts and decrypts field values.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

// Ingester turns plaintext rows into encrypted, indexed records. Every
// batch is one ledger unit: records, tokens and the block commit together.
type Ingester struct {
	records *records.Store
	indexer *blindindex.Indexer
	cipher  Cipher
	chain   *audit.Chain
	fields  []config.IndexField
}

// NewIngester creates an Ingester that indexes the given fields. An empty
// field list uses config.DefaultIndexFields.
func NewIngester(store *records.Store, indexer *blindindex.Indexer, cipher Cipher, chain *audit.Chain, fields []config.IndexField) *Ingester {
	if len(fields) == 0 {
		fields = config.DefaultIndexFields
	}
	return &Ingester{records: store, indexer: indexer, cipher: cipher, chain: chain, fields: fields}
}

// ProgressFunc receives the number of rows handled so far and the total.
type ProgressFunc func(done, total int)

// Ingest stores rows as one INGEST block. Invalid rows are skipped and
// reported in the result; a storage failure rolls back the whole batch.
func (in *Ingester) Ingest(ctx context.Context, actor string, rows []Row, progress ProgressFunc) (*Result, error) {
	return in.ingest(ctx, actor, audit.ActionIngest, rows, progress)
}

// Upload stores rows read from a CSV file as one CSV_UPLOAD block.
func (in *Ingester) Upload(ctx context.Context, actor string, rows []Row, progress ProgressFunc) (*Result, error) {
	return in.ingest(ctx, actor, audit.ActionCSVUpload, rows, progress)
}

func (in *Ingester) ingest(ctx context.Context, actor string, action audit.Action, rows []Row, progress ProgressFunc) (*Result, error) {
	var res Result
	block, err := in.chain.Commit(ctx, actor, action, func(ctx context.Context, tx *sql.Tx) (string, error) {
		res = Result{}
		for i, raw := range rows {
			line := raw.Line
			if line == 0 {
				line = i + 1
			}

			row, err := raw.normalize()
			if err != nil {
				res.Failed++
				res.Errors = append(res.Errors, &RowError{Line: line, Err: err})
				if progress != nil {
					progress(i+1, len(rows))
				}
				continue
			}

			rec, err := in.encrypt(row)
			if err != nil {
				return "", fmt.Errorf("row %d: %w", line, err)
			}
			if err := in.records.InsertTx(ctx, tx, rec); err != nil {
				return "", err
			}
			tokens := in.terms(row)
			if err := in.records.InsertTokensTx(ctx, tx, rec.ID, tokens); err != nil {
				return "", err
			}
			res.Succeeded++
			res.Tokens += len(tokens)

			if progress != nil {
				progress(i+1, len(rows))
			}
		}
		return describe(res), nil
	})
	if err != nil {
		return nil, err
	}

	res.BlockID = block.ID
	metrics.IngestRows.WithLabelValues("succeeded").Add(float64(res.Succeeded))
	metrics.IngestRows.WithLabelValues("failed").Add(float64(res.Failed))
	return &res, nil
}

func describe(res Result) string {
	if res.Failed == 0 {
		return fmt.Sprintf("%d records encrypted and indexed", res.Succeeded)
	}
	return fmt.Sprintf("%d records encrypted and indexed, %d rejected", res.Succeeded, res.Failed)
}

func (in *Ingester) encrypt(row Row) (*records.Record, error) {
	rec := &records.Record{}
	for _, f := range []struct {
		plain string
		dst   *string
	}{
		{row.CustomerID, &rec.CustomerID},
		{row.Name, &rec.CustomerName},
		{row.Account, &rec.AccountNumber},
		{row.Bank, &rec.BankName},
		{row.Branch, &rec.Branch},
		{row.City, &rec.City},
		{row.Balance, &rec.Balance},
	} {
		blob, err := in.cipher.Encrypt(f.plain)
		if err != nil {
			return nil, err
		}
		*f.dst = blob
	}
	return rec, nil
}

func (in *Ingester) terms(row Row) []string {
	values := make([]string, 0, len(in.fields))
	for _, f := range in.fields {
		values = append(values, row.Field(f))
	}
	return in.indexer.TermsFor(values...)
}

// Delete removes one record and its tokens as a RECORD_DELETE block.
func (in *Ingester) Delete(ctx context.Context, actor string, id int64) (*audit.Block, error) {
	return in.chain.Commit(ctx, actor, audit.ActionRecordDelete, func(ctx context.Context, tx *sql.Tx) (string, error) {
		if err := in.records.DeleteTx(ctx, tx, id); err != nil {
			return "", err
		}
		return fmt.Sprintf("record %d deleted", id), nil
	})
}

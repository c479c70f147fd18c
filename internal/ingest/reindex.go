package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/vaultsearch/internal/audit"
	"github.com/ziadkadry99/vaultsearch/internal/blindindex"
	"github.com/ziadkadry99/vaultsearch/internal/config"
	"github.com/ziadkadry99/vaultsearch/internal/records"
)

// ReindexResult summarizes a rebuild of the blind index.
type ReindexResult struct {
	Records int   `json:"records"`
	Tokens  int   `json:"tokens"`
	Skipped int   `json:"skipped"`
	BlockID int64 `json:"block_id"`
}

// Reindexer rebuilds every search token from the stored ciphertext. It is
// used after the indexed field set changes.
type Reindexer struct {
	records *records.Store
	indexer *blindindex.Indexer
	cipher  Cipher
	chain   *audit.Chain
	fields  []config.IndexField
	workers int
}

// NewReindexer creates a Reindexer for the given fields.
func NewReindexer(store *records.Store, indexer *blindindex.Indexer, cipher Cipher, chain *audit.Chain, fields []config.IndexField) *Reindexer {
	if len(fields) == 0 {
		fields = config.DefaultIndexFields
	}
	return &Reindexer{
		records: store,
		indexer: indexer,
		cipher:  cipher,
		chain:   chain,
		fields:  fields,
		workers: runtime.GOMAXPROCS(0),
	}
}

// Reindex replaces all token rows in one REINDEX block. Records whose
// indexed fields cannot be decrypted are skipped and left without tokens.
func (ri *Reindexer) Reindex(ctx context.Context, actor string, progress ProgressFunc) (*ReindexResult, error) {
	var res ReindexResult
	block, err := ri.chain.Commit(ctx, actor, audit.ActionReindex, func(ctx context.Context, tx *sql.Tx) (string, error) {
		recs, err := ri.records.ListTx(ctx, tx, 0, 0)
		if err != nil {
			return "", err
		}

		terms := make([][]string, len(recs))
		var (
			skipped atomic.Int64
			mu      sync.Mutex
			done    int
		)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(ri.workers)
		for i := range recs {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				t, err := ri.derive(&recs[i])
				if err != nil {
					skipped.Add(1)
				} else {
					terms[i] = t
				}
				if progress != nil {
					mu.Lock()
					done++
					progress(done, len(recs))
					mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return "", err
		}

		ids := make([]int64, len(recs))
		byID := make(map[int64][]string, len(recs))
		for i, r := range recs {
			ids[i] = r.ID
			byID[r.ID] = terms[i]
		}
		n, err := ri.records.ReplaceTokensTx(ctx, tx, ids, byID)
		if err != nil {
			return "", err
		}

		res = ReindexResult{Records: len(recs), Tokens: n, Skipped: int(skipped.Load())}
		return fmt.Sprintf("%d records reindexed, %d tokens, %d skipped", res.Records-res.Skipped, res.Tokens, res.Skipped), nil
	})
	if err != nil {
		return nil, err
	}
	res.BlockID = block.ID
	return &res, nil
}

func (ri *Reindexer) derive(rec *records.Record) ([]string, error) {
	values := make([]string, 0, len(ri.fields))
	for _, f := range ri.fields {
		blob := fieldBlob(rec, f)
		if blob == "" {
			continue
		}
		v, err := ri.cipher.Decrypt(blob)
		if err != nil {
			return nil, fmt.Errorf("record %d %s: %w", rec.ID, f, err)
		}
		values = append(values, v)
	}
	return ri.indexer.TermsFor(values...), nil
}

func fieldBlob(rec *records.Record, f config.IndexField) string {
	switch f {
	case config.FieldName:
		return rec.CustomerName
	case config.FieldAccount:
		return rec.AccountNumber
	case config.FieldCity:
		return rec.City
	case config.FieldBank:
		return rec.BankName
	case config.FieldBranch:
		return rec.Branch
	}
	return ""
}

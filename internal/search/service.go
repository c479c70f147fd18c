// Package search answers partial-text queries over encrypted records by
// looking up a single blind-index token and decrypting the matches.
package search

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ziadkadry99/vaultsearch/internal/audit"
	"github.com/ziadkadry99/vaultsearch/internal/blindindex"
	"github.com/ziadkadry99/vaultsearch/internal/metrics"
	"github.com/ziadkadry99/vaultsearch/internal/records"
)

// DefaultResultCap bounds the token rows read per search.
const DefaultResultCap = 50

// Cipher encrypts and decrypts field values.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

// Result is the response to a search.
type Result struct {
	Results []records.Summary `json:"results"`
	Token   string            `json:"token"`
	Count   int               `json:"count"`
	TimeMS  float64           `json:"time_ms"`
}

// Service runs searches and records each one on the integrity chain.
type Service struct {
	records   *records.Store
	indexer   *blindindex.Indexer
	cipher    Cipher
	chain     *audit.Chain
	resultCap int
}

// NewService creates a Service. A non-positive resultCap uses
// DefaultResultCap.
func NewService(store *records.Store, indexer *blindindex.Indexer, cipher Cipher, chain *audit.Chain, resultCap int) *Service {
	if resultCap <= 0 {
		resultCap = DefaultResultCap
	}
	return &Service{records: store, indexer: indexer, cipher: cipher, chain: chain, resultCap: resultCap}
}

// Search returns one summary per distinct record whose index holds the
// token for query, in first-seen order. Exactly one SEARCH block is
// appended per successful call, including calls with no results.
func (s *Service) Search(ctx context.Context, actor, query string, limit int) (*Result, error) {
	start := time.Now()
	if limit <= 0 || limit > s.resultCap {
		limit = s.resultCap
	}

	token := s.indexer.TokenFor(query)
	ids, err := s.records.LookupToken(ctx, token, limit)
	if err != nil {
		return nil, err
	}

	order := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}

	recs, err := s.records.GetMany(ctx, order)
	if err != nil {
		return nil, err
	}

	res := &Result{Token: token, Results: make([]records.Summary, 0, len(order))}
	for _, id := range order {
		rec, ok := recs[id]
		if !ok {
			continue
		}
		sum, err := rec.Summarize(s.cipher)
		if err != nil {
			return nil, fmt.Errorf("decrypting record %d: %w", id, err)
		}
		res.Results = append(res.Results, *sum)
	}
	res.Count = len(res.Results)

	elapsed := time.Since(start)
	res.TimeMS = roundTo(float64(elapsed.Microseconds())/1000, 2)

	detail := fmt.Sprintf("query_token=%s... results=%d time=%vms", token[:16], res.Count, res.TimeMS)
	if _, err := s.chain.Append(ctx, actor, audit.ActionSearch, detail); err != nil {
		return nil, err
	}

	metrics.Searches.Inc()
	metrics.SearchDuration.Observe(elapsed.Seconds())
	metrics.SearchResults.Observe(float64(res.Count))
	return res, nil
}

// View decrypts every field of one record for actor. The read is recorded
// as a RECORD_VIEW block and scored like a search; a record that cannot be
// decrypted returns an error and leaves the chain untouched.
func (s *Service) View(ctx context.Context, actor string, id int64) (*records.Plain, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	plain, err := rec.Reveal(s.cipher)
	if err != nil {
		return nil, fmt.Errorf("decrypting record %d: %w", id, err)
	}
	if _, err := s.chain.Append(ctx, actor, audit.ActionRecordView, fmt.Sprintf("record %d", id)); err != nil {
		return nil, err
	}
	return plain, nil
}

// Perf reports live cipher and token latencies alongside index size.
type Perf struct {
	EncryptMS       float64 `json:"enc_speed_ms"`
	TokenMS         float64 `json:"token_speed_ms"`
	TotalRecords    int     `json:"total_records"`
	TotalTokens     int     `json:"total_tokens"`
	TokensPerRecord float64 `json:"tokens_per_record"`
	ThroughputEst   int     `json:"throughput_est"`
}

// Benchmark times n encryptions and n token derivations.
func (s *Service) Benchmark(ctx context.Context, n int) (*Perf, error) {
	if n <= 0 {
		n = 100
	}

	start := time.Now()
	for i := 0; i < n; i++ {
		if _, err := s.cipher.Encrypt("benchmark-test-string-12345"); err != nil {
			return nil, err
		}
	}
	encMS := perCallMS(time.Since(start), n)

	start = time.Now()
	for i := 0; i < n; i++ {
		s.indexer.TokenFor("benchmark")
	}
	tokMS := perCallMS(time.Since(start), n)

	counts, err := s.records.Counts(ctx)
	if err != nil {
		return nil, err
	}

	return &Perf{
		EncryptMS:       encMS,
		TokenMS:         tokMS,
		TotalRecords:    counts.Records,
		TotalTokens:     counts.Tokens,
		TokensPerRecord: counts.TokensPerRecord(),
		ThroughputEst:   int(math.Round(1000 / math.Max(encMS, 0.001))),
	}, nil
}

func perCallMS(total time.Duration, n int) float64 {
	return roundTo(float64(total.Nanoseconds())/float64(n)/1e6, 3)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

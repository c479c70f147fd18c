package search

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/vaultsearch/internal/anomaly"
	"github.com/ziadkadry99/vaultsearch/internal/audit"
	"github.com/ziadkadry99/vaultsearch/internal/auth"
	"github.com/ziadkadry99/vaultsearch/internal/blindindex"
	"github.com/ziadkadry99/vaultsearch/internal/crypto"
	"github.com/ziadkadry99/vaultsearch/internal/db"
	"github.com/ziadkadry99/vaultsearch/internal/keys"
	"github.com/ziadkadry99/vaultsearch/internal/records"
)

type fixture struct {
	db      *db.DB
	store   *records.Store
	engine  *crypto.Engine
	indexer *blindindex.Indexer
	chain   *audit.Chain
	scorer  *anomaly.Scorer
	svc     *Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	kp, err := keys.NewStatic(bytes.Repeat([]byte{7}, keys.KeySize), bytes.Repeat([]byte{9}, keys.KeySize))
	require.NoError(t, err)
	engine, err := crypto.NewEngine(kp)
	require.NoError(t, err)
	indexer, err := blindindex.New(kp)
	require.NoError(t, err)

	store := records.NewStore(database)
	scorer := anomaly.NewScorer(database)
	chain := audit.NewChain(database, scorer)
	return &fixture{
		db:      database,
		store:   store,
		engine:  engine,
		indexer: indexer,
		chain:   chain,
		scorer:  scorer,
		svc:     NewService(store, indexer, engine, chain, 0),
	}
}

// add stores a record indexed on name and city.
func (f *fixture) add(t *testing.T, name, city string) int64 {
	t.Helper()
	enc := func(s string) string {
		blob, err := f.engine.Encrypt(s)
		require.NoError(t, err)
		return blob
	}
	rec := &records.Record{
		CustomerID:    enc("C1"),
		CustomerName:  enc(name),
		AccountNumber: enc("ACC-" + name),
		BankName:      enc("State Bank"),
		Branch:        enc("Main"),
		City:          enc(city),
		Balance:       enc("10"),
	}
	ctx := context.Background()
	require.NoError(t, f.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := f.store.InsertTx(ctx, tx, rec); err != nil {
			return err
		}
		return f.store.InsertTokensTx(ctx, tx, rec.ID, f.indexer.TermsFor(name, city))
	}))
	return rec.ID
}

func TestSearchByPrefix(t *testing.T) {
	f := setup(t)
	id := f.add(t, "Chennai Branch", "Madurai")

	res, err := f.svc.Search(context.Background(), "alice", "che", 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, id, res.Results[0].ID)
	assert.Equal(t, "Chennai Branch", res.Results[0].CustomerName)
	assert.Equal(t, "Madurai", res.Results[0].City)
	assert.Equal(t, f.indexer.TokenFor("che"), res.Token)
}

func TestSearchIsCaseInsensitive(t *testing.T) {
	f := setup(t)
	f.add(t, "Chennai Branch", "Madurai")

	res, err := f.svc.Search(context.Background(), "alice", "  CHENNAI branch ", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
}

func TestSearchNoMatch(t *testing.T) {
	f := setup(t)
	f.add(t, "Chennai Branch", "Madurai")

	res, err := f.svc.Search(context.Background(), "alice", "xyz", 0)
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	assert.NotNil(t, res.Results)
}

func TestSearchDoesNotExpandPrefixes(t *testing.T) {
	f := setup(t)
	f.add(t, "Chennai", "Pune")

	// "chennai x" was never indexed, even though its prefixes were.
	res, err := f.svc.Search(context.Background(), "alice", "chennai x", 0)
	require.NoError(t, err)
	assert.Zero(t, res.Count)

	// Two-rune prefixes are below the indexing threshold.
	res, err = f.svc.Search(context.Background(), "alice", "ch", 0)
	require.NoError(t, err)
	assert.Zero(t, res.Count)
}

func TestSearchDedupsInFirstSeenOrder(t *testing.T) {
	f := setup(t)
	a := f.add(t, "Chennai", "Chennai")
	b := f.add(t, "Anil", "Chennai")

	res, err := f.svc.Search(context.Background(), "alice", "chennai", 0)
	require.NoError(t, err)
	require.Equal(t, 2, res.Count)
	assert.Equal(t, a, res.Results[0].ID)
	assert.Equal(t, b, res.Results[1].ID)
}

func TestSearchRespectsCap(t *testing.T) {
	f := setup(t)
	for i := 0; i < 5; i++ {
		f.add(t, "Ravi", "Delhi")
	}

	res, err := f.svc.Search(context.Background(), "alice", "delhi", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)

	capped := NewService(f.store, f.indexer, f.engine, f.chain, 2)
	res, err = capped.Search(context.Background(), "alice", "delhi", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
}

func TestSearchAppendsOneBlockPerCall(t *testing.T) {
	f := setup(t)
	f.add(t, "Chennai Branch", "Madurai")
	ctx := context.Background()

	for _, q := range []string{"che", "xyz", "mad"} {
		_, err := f.svc.Search(ctx, "alice", q, 0)
		require.NoError(t, err)
	}

	blocks, err := f.chain.Blocks(ctx, 0)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	for _, b := range blocks {
		assert.Equal(t, audit.ActionSearch, b.Action)
		assert.Equal(t, "alice", b.Actor)
	}
	assert.True(t, strings.HasPrefix(blocks[1].Detail, "query_token="+f.indexer.TokenFor("xyz")[:16]+"... results=0 time="))

	c, err := f.scorer.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, c.Searches)
}

func TestSearchDecryptFailureAppendsNothing(t *testing.T) {
	f := setup(t)
	id := f.add(t, "Chennai", "Pune")
	ctx := context.Background()

	_, err := f.db.Exec("UPDATE bank_records SET customer_name = 'garbage' WHERE id = ?", id)
	require.NoError(t, err)

	_, err = f.svc.Search(ctx, "alice", "chennai", 0)
	require.Error(t, err)
	var cerr *crypto.Error
	assert.ErrorAs(t, err, &cerr)

	n, err := f.chain.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestViewAppendsOneBlockPerRecord(t *testing.T) {
	f := setup(t)
	first := f.add(t, "Asha Rao", "Chennai")
	second := f.add(t, "Ravi Kumar", "Pune")
	ctx := context.Background()

	plain, err := f.svc.View(ctx, "mallory", first)
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", plain.CustomerName)
	assert.Equal(t, "C1", plain.CustomerID)
	assert.Equal(t, "10", plain.Balance)

	_, err = f.svc.View(ctx, "mallory", second)
	require.NoError(t, err)

	blocks, err := f.chain.Blocks(ctx, 0)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, audit.ActionRecordView, blocks[0].Action)
	assert.Equal(t, "mallory", blocks[0].Actor)
	assert.Equal(t, fmt.Sprintf("record %d", second), blocks[0].Detail)
	assert.Equal(t, fmt.Sprintf("record %d", first), blocks[1].Detail)

	c, err := f.scorer.Get(ctx, "mallory")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Searches)
}

func TestViewFailuresAppendNothing(t *testing.T) {
	f := setup(t)
	id := f.add(t, "Chennai", "Pune")
	ctx := context.Background()

	_, err := f.svc.View(ctx, "alice", id+100)
	assert.ErrorIs(t, err, records.ErrNotFound)

	_, err = f.db.Exec("UPDATE bank_records SET balance = 'garbage' WHERE id = ?", id)
	require.NoError(t, err)
	_, err = f.svc.View(ctx, "alice", id)
	var cerr *crypto.Error
	assert.ErrorAs(t, err, &cerr)

	n, err := f.chain.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentSearchesKeepChainValid(t *testing.T) {
	f := setup(t)
	f.add(t, "Chennai", "Pune")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Search(ctx, "bob", "pun", 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	res, err := f.chain.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 20, res.TotalBlocks)
}

func TestBenchmark(t *testing.T) {
	f := setup(t)
	f.add(t, "Chennai", "Pune")

	perf, err := f.svc.Benchmark(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, perf.TotalRecords)
	assert.Equal(t, len(f.indexer.TermsFor("Chennai", "Pune")), perf.TotalTokens)
	assert.Positive(t, perf.ThroughputEst)
}

func TestHTTPSearch(t *testing.T) {
	f := setup(t)
	f.add(t, "Chennai Branch", "Madurai")

	r := chi.NewRouter()
	r.Use(auth.Middleware)
	RegisterRoutes(r, f.svc)

	req := httptest.NewRequest(http.MethodPost, "/api/search?q=che", nil)
	req.Header.Set(auth.ActorHeader, "alice")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var res Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, 1, res.Count)

	req = httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":"madurai","limit":5}`))
	req.Header.Set(auth.ActorHeader, "alice")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{}`))
	req.Header.Set(auth.ActorHeader, "alice")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/search?q=che", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	blocks, err := f.chain.Blocks(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, blocks, 2)
}

func TestHTTPViewRecord(t *testing.T) {
	f := setup(t)
	id := f.add(t, "Asha Rao", "Chennai")

	r := chi.NewRouter()
	r.Use(auth.Middleware)
	RegisterRoutes(r, f.svc)

	get := func(path, actor string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if actor != "" {
			req.Header.Set(auth.ActorHeader, actor)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := get(fmt.Sprintf("/api/records/%d", id), "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	var plain records.Plain
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&plain))
	assert.Equal(t, "Asha Rao", plain.CustomerName)

	assert.Equal(t, http.StatusNotFound, get("/api/records/77", "alice").Code)
	assert.Equal(t, http.StatusBadRequest, get("/api/records/abc", "alice").Code)
	assert.Equal(t, http.StatusUnauthorized, get(fmt.Sprintf("/api/records/%d", id), "").Code)

	blocks, err := f.chain.Blocks(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, audit.ActionRecordView, blocks[0].Action)
	assert.Equal(t, "alice", blocks[0].Actor)
}

package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/vaultsearch/internal/anomaly"
	"github.com/ziadkadry99/vaultsearch/internal/audit"
	"github.com/ziadkadry99/vaultsearch/internal/auth"
	"github.com/ziadkadry99/vaultsearch/internal/blindindex"
	"github.com/ziadkadry99/vaultsearch/internal/config"
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
	ing     *Ingester
}

func setup(t *testing.T) *fixture {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	kp, err := keys.NewStatic(bytes.Repeat([]byte{3}, keys.KeySize), bytes.Repeat([]byte{4}, keys.KeySize))
	require.NoError(t, err)
	engine, err := crypto.NewEngine(kp)
	require.NoError(t, err)
	indexer, err := blindindex.New(kp)
	require.NoError(t, err)

	store := records.NewStore(database)
	chain := audit.NewChain(database, anomaly.NewScorer(database))
	return &fixture{
		db:      database,
		store:   store,
		engine:  engine,
		indexer: indexer,
		chain:   chain,
		ing:     NewIngester(store, indexer, engine, chain, nil),
	}
}

func (f *fixture) lookup(t *testing.T, query string) []int64 {
	t.Helper()
	ids, err := f.store.LookupToken(context.Background(), f.indexer.TokenFor(query), 50)
	require.NoError(t, err)
	return ids
}

func (f *fixture) quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var sampleRows = []Row{
	{CustomerID: "C1", Name: "Chennai Branch", Account: "ACC1001", Bank: "State Bank", Branch: "Main", City: "Madurai", Balance: "1500.00"},
	{CustomerID: "C2", Name: "Ravi Kumar", Account: "ACC1002", Bank: "City Bank", Branch: "North", City: "Pune", Balance: "20"},
}

func TestIngestIndexesDefaultFields(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.ing.Ingest(ctx, "loader", sampleRows, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Zero(t, res.Failed)

	want := len(f.indexer.TermsFor("Chennai Branch", "ACC1001", "Madurai")) +
		len(f.indexer.TermsFor("Ravi Kumar", "ACC1002", "Pune"))
	assert.Equal(t, want, res.Tokens)

	assert.Len(t, f.lookup(t, "che"), 1)
	assert.Len(t, f.lookup(t, "acc100"), 2)
	assert.Len(t, f.lookup(t, "pun"), 1)
	// Bank is not indexed by default.
	assert.Empty(t, f.lookup(t, "state bank"))

	ids := f.lookup(t, "ravi kumar")
	require.Len(t, ids, 1)
	rec, err := f.store.Get(ctx, ids[0])
	require.NoError(t, err)
	plain, err := rec.Reveal(f.engine)
	require.NoError(t, err)
	assert.Equal(t, "20", plain.Balance)
	assert.Equal(t, "City Bank", plain.Bank)
	assert.NotContains(t, rec.CustomerName, "Ravi")

	blocks, err := f.chain.Blocks(ctx, 0)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, audit.ActionIngest, blocks[0].Action)
	assert.Equal(t, "2 records encrypted and indexed", blocks[0].Detail)
	assert.Equal(t, blocks[0].ID, res.BlockID)
}

func TestIngestSkipsInvalidRows(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rows := []Row{
		{Name: "Valid", City: "Delhi", Balance: "1"},
		{Name: "", City: "Delhi"},
		{Name: "Bad Balance", Balance: "lots"},
	}
	var calls int
	res, err := f.ing.Ingest(ctx, "loader", rows, func(done, total int) {
		calls++
		assert.Equal(t, 3, total)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 3, calls)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, 2, res.Errors[0].Line)
	assert.ErrorIs(t, res.Errors[0], ErrNameRequired)
	assert.ErrorIs(t, res.Errors[1], ErrBadBalance)

	blocks, err := f.chain.Blocks(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "1 records encrypted and indexed, 2 rejected", blocks[0].Detail)
}

func TestIngestUsesConfiguredFields(t *testing.T) {
	f := setup(t)
	ing := NewIngester(f.store, f.indexer, f.engine, f.chain, []config.IndexField{config.FieldBank})

	_, err := ing.Ingest(context.Background(), "loader", sampleRows, nil)
	require.NoError(t, err)
	assert.Len(t, f.lookup(t, "sta"), 1)
	assert.Empty(t, f.lookup(t, "che"))
}

// failingCipher fails after a number of successful encryptions.
type failingCipher struct {
	Cipher
	remaining atomic.Int64
}

func (c *failingCipher) Encrypt(s string) (string, error) {
	if c.remaining.Add(-1) < 0 {
		return "", errors.New("hsm offline")
	}
	return c.Cipher.Encrypt(s)
}

func TestIngestFailureRollsBackBatch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	fc := &failingCipher{Cipher: f.engine}
	fc.remaining.Store(10) // first row needs 7 encryptions
	ing := NewIngester(f.store, f.indexer, fc, f.chain, nil)

	_, err := ing.Ingest(ctx, "loader", sampleRows, nil)
	require.Error(t, err)

	counts, err := f.store.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Records)
	assert.Zero(t, counts.Tokens)
	assert.Zero(t, counts.Blocks)
	assert.Zero(t, counts.AuditEntries)
}

func TestConcurrentIngestKeepsChainValid(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ing.Ingest(ctx, "loader", sampleRows, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	res, err := f.chain.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 8, res.TotalBlocks)
	assert.Len(t, f.lookup(t, "madurai"), 8)
}

func TestDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.ing.Ingest(ctx, "loader", sampleRows, nil)
	require.NoError(t, err)
	id := f.lookup(t, "pune")[0]

	block, err := f.ing.Delete(ctx, "admin", id)
	require.NoError(t, err)
	assert.Equal(t, audit.ActionRecordDelete, block.Action)
	assert.Empty(t, f.lookup(t, "pune"))

	_, err = f.ing.Delete(ctx, "admin", id)
	assert.ErrorIs(t, err, records.ErrNotFound)

	n, err := f.chain.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestQueueProcessesJobs(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	q := NewQueue(f.db, f.ing, f.chain, 2, 4, f.quietLogger())

	job, err := q.Enqueue(ctx, Submission{Actor: "uploader", Source: "customers.csv", Rows: sampleRows})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Len(t, job.ID, 36)

	q.Close()

	got, err := q.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 2, got.Total)
	assert.Equal(t, 2, got.Succeeded)
	assert.Positive(t, got.Tokens)
	assert.NotNil(t, got.FinishedAt)

	blocks, err := f.chain.Blocks(ctx, 0)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, audit.ActionCSVUpload, blocks[0].Action)
	assert.Equal(t, audit.ActionCSVUploadStart, blocks[1].Action)
	assert.Equal(t, "customers.csv", blocks[1].Detail)

	_, err = q.Enqueue(ctx, Submission{Actor: "uploader", Source: "late.csv", Rows: sampleRows})
	assert.ErrorIs(t, err, ErrQueueClosed)
	q.Close()
}

func TestQueueRecordsFailure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	fc := &failingCipher{Cipher: f.engine}
	ing := NewIngester(f.store, f.indexer, fc, f.chain, nil)
	q := NewQueue(f.db, ing, f.chain, 1, 1, f.quietLogger())

	job, err := q.Enqueue(ctx, Submission{Actor: "uploader", Source: "broken.csv", Rows: sampleRows})
	require.NoError(t, err)
	q.Close()

	got, err := q.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "hsm offline")
	assert.Equal(t, 2, got.Total)
	assert.Zero(t, got.Succeeded)
	assert.Equal(t, 2, got.Failed)

	// Only the start block survives.
	n, err := f.chain.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueueCountsRejectedRows(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	q := NewQueue(f.db, f.ing, f.chain, 1, 1, f.quietLogger())

	rows, rejected, err := ParseCSV(strings.NewReader("name,city\nAsha,Chennai\nRavi\nMeena,Delhi,extra\n"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Len(t, rejected, 2)

	var calls atomic.Int32
	job, err := q.Enqueue(ctx, Submission{
		Actor:    "uploader",
		Source:   "mixed.csv",
		Rows:     rows,
		Rejected: rejected,
		Progress: func(done, total int) { calls.Add(1) },
	})
	require.NoError(t, err)
	assert.Equal(t, 3, job.Total)
	assert.Equal(t, 2, job.Failed)
	q.Close()

	got, err := q.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 1, got.Succeeded)
	assert.Equal(t, 2, got.Failed)
	assert.Positive(t, calls.Load())
}

func TestQueueFull(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// No workers drain this queue.
	q := &Queue{db: f.db, ingester: f.ing, chain: f.chain, logger: f.quietLogger(), items: make(chan work, 1)}

	_, err := q.Enqueue(ctx, Submission{Actor: "uploader", Source: "a.csv", Rows: sampleRows})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, Submission{Actor: "uploader", Source: "b.csv", Rows: sampleRows})
	assert.ErrorIs(t, err, ErrQueueFull)

	n, err := f.chain.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestJobNotFound(t *testing.T) {
	f := setup(t)
	q := NewQueue(f.db, f.ing, f.chain, 1, 1, f.quietLogger())
	defer q.Close()

	_, err := q.Job(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestReindexPicksUpNewFields(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	nameOnly := NewIngester(f.store, f.indexer, f.engine, f.chain, []config.IndexField{config.FieldName})
	_, err := nameOnly.Ingest(ctx, "loader", sampleRows, nil)
	require.NoError(t, err)
	assert.Empty(t, f.lookup(t, "madurai"))

	ri := NewReindexer(f.store, f.indexer, f.engine, f.chain, []config.IndexField{config.FieldName, config.FieldCity})
	var last atomic.Int64
	res, err := ri.Reindex(ctx, "admin", func(done, total int) {
		assert.Equal(t, 2, total)
		last.Store(int64(done))
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Records)
	assert.Zero(t, res.Skipped)
	assert.EqualValues(t, 2, last.Load())

	assert.Len(t, f.lookup(t, "madurai"), 1)
	assert.Len(t, f.lookup(t, "che"), 1)

	counts, err := f.store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Tokens, counts.Tokens)

	blocks, err := f.chain.Blocks(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, audit.ActionReindex, blocks[0].Action)
}

func TestReindexSkipsUndecryptableRecords(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.ing.Ingest(ctx, "loader", sampleRows, nil)
	require.NoError(t, err)
	id := f.lookup(t, "pune")[0]
	_, err = f.db.Exec("UPDATE bank_records SET city = 'AAAA' WHERE id = ?", id)
	require.NoError(t, err)

	ri := NewReindexer(f.store, f.indexer, f.engine, f.chain, nil)
	res, err := ri.Reindex(ctx, "admin", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, f.lookup(t, "ravi"))
	assert.Len(t, f.lookup(t, "che"), 1)
}

func setupRouter(t *testing.T) (chi.Router, *fixture, *Queue) {
	t.Helper()
	f := setup(t)
	q := NewQueue(f.db, f.ing, f.chain, 1, 4, f.quietLogger())
	t.Cleanup(q.Close)

	r := chi.NewRouter()
	r.Use(auth.Middleware)
	RegisterRoutes(r, f.ing, q, NewReindexer(f.store, f.indexer, f.engine, f.chain, nil))
	return r, f, q
}

func do(r http.Handler, method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(auth.ActorHeader, "tester")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHTTPIngest(t *testing.T) {
	r, f, _ := setupRouter(t)

	body, err := json.Marshal(ingestRequest{Rows: sampleRows})
	require.NoError(t, err)
	rec := do(r, http.MethodPost, "/api/ingest", "application/json", bytes.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var res Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, 2, res.Succeeded)

	rec = do(r, http.MethodPost, "/api/ingest", "application/json", strings.NewReader(`{"rows":[]}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/api/ingest", "application/json", strings.NewReader(
		`{"rows":[{"identity":"C9","name":"Asha Rao","account":"ACC9","bank":"State Bank","branch":"Main","city":"Salem","balance":1500}]}`))
	require.Equal(t, http.StatusOK, rec.Code)
	res = Result{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, 1, res.Succeeded)
	assert.Zero(t, res.Failed)
	assert.Len(t, f.lookup(t, "asha"), 1)
	assert.Len(t, f.lookup(t, "salem"), 1)

	id := f.lookup(t, "pune")[0]
	rec = do(r, http.MethodDelete, "/api/records/"+strconv.FormatInt(id, 10), "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(r, http.MethodDelete, "/api/records/"+strconv.FormatInt(id, 10), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(r, http.MethodPost, "/api/reindex", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTPUploadCSV(t *testing.T) {
	r, f, q := setupRouter(t)

	csvBody := "customer_name,city,balance\nAsha,Chennai,10\nRavi\n"
	rec := do(r, http.MethodPost, "/api/ingest/csv?name=plain.csv", "text/csv", strings.NewReader(csvBody))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var up struct {
		Job         Job `json:"job"`
		ParseErrors []struct {
			Line  int    `json:"line"`
			Error string `json:"error"`
		} `json:"parse_errors"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&up))
	assert.Equal(t, "plain.csv", up.Job.Source)
	require.Len(t, up.ParseErrors, 1)
	assert.Equal(t, 3, up.ParseErrors[0].Line)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "multi.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("name,city\nMeena,Delhi\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	rec = do(r, http.MethodPost, "/api/ingest/csv", mw.FormDataContentType(), &buf)
	require.Equal(t, http.StatusAccepted, rec.Code)

	q.Close()

	rec = do(r, http.MethodGet, "/api/ingest/jobs/"+up.Job.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var job Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 2, job.Total)
	assert.Equal(t, 1, job.Succeeded)
	assert.Equal(t, 1, job.Failed)

	assert.Len(t, f.lookup(t, "delhi"), 1)

	rec = do(r, http.MethodGet, "/api/ingest/jobs/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(r, http.MethodPost, "/api/ingest/csv", "text/csv", strings.NewReader("name\nLate\n"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(r, http.MethodPost, "/api/ingest/csv", "text/csv", strings.NewReader("city\nPune\n"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

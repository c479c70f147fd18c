package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/vaultsearch/internal/audit"
	"github.com/ziadkadry99/vaultsearch/internal/db"
	"github.com/ziadkadry99/vaultsearch/internal/metrics"
)

var (
	// ErrQueueFull is returned when the job buffer has no free slot.
	ErrQueueFull = errors.New("ingest queue is full")

	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("ingest queue is closed")

	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("job not found")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is the persisted state of a background ingestion.
type Job struct {
	ID         string     `json:"id"`
	Actor      string     `json:"actor"`
	Source     string     `json:"source"`
	Status     Status     `json:"status"`
	Total      int        `json:"total"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Tokens     int        `json:"tokens"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Submission is one CSV document handed to the queue.
type Submission struct {
	Actor  string
	Source string
	Rows   []Row

	// Rejected are rows ParseCSV already refused. They count toward the
	// job's total and failed figures.
	Rejected []*RowError

	// Progress, if set, is called from the worker while rows are stored.
	Progress ProgressFunc
}

type work struct {
	job      Job
	rows     []Row
	rejected int
	progress ProgressFunc
}

// Queue runs CSV ingestions on a fixed pool of workers. Job status lives in
// the ingest_jobs table so callers can poll it.
type Queue struct {
	db       *db.DB
	ingester *Ingester
	chain    *audit.Chain
	logger   *slog.Logger

	mu     sync.Mutex
	items  chan work
	closed bool
	wg     sync.WaitGroup
}

// NewQueue starts workers goroutines reading from a buffer of size slots.
func NewQueue(database *db.DB, ingester *Ingester, chain *audit.Chain, workers, size int, logger *slog.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		db:       database,
		ingester: ingester,
		chain:    chain,
		logger:   logger.With("component", "ingest-queue"),
		items:    make(chan work, size),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.run(i)
	}
	return q
}

// Enqueue records the job and a CSV_UPLOAD_START block, then hands the
// rows to a worker. It never waits for a free slot.
func (q *Queue) Enqueue(ctx context.Context, sub Submission) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}
	// Only Enqueue sends, under mu, so a free slot cannot disappear.
	if len(q.items) == cap(q.items) {
		return nil, ErrQueueFull
	}

	rejected := len(sub.Rejected)
	job := Job{
		ID:        uuid.New().String(),
		Actor:     sub.Actor,
		Source:    sub.Source,
		Status:    StatusQueued,
		Total:     len(sub.Rows) + rejected,
		Failed:    rejected,
		CreatedAt: time.Now().UTC(),
	}
	_, err := q.chain.Commit(ctx, sub.Actor, audit.ActionCSVUploadStart, func(ctx context.Context, tx *sql.Tx) (string, error) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ingest_jobs (id, actor, source, status, total, failed, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.Actor, job.Source, string(job.Status), job.Total, job.Failed, audit.FormatTimestamp(job.CreatedAt),
		); err != nil {
			return "", fmt.Errorf("inserting job: %w", err)
		}
		return sub.Source, nil
	})
	if err != nil {
		return nil, err
	}

	q.items <- work{job: job, rows: sub.Rows, rejected: rejected, progress: sub.Progress}
	q.logger.Info("job queued", "job", job.ID, "actor", sub.Actor, "source", sub.Source,
		"rows", len(sub.Rows), "rejected", rejected)
	return &job, nil
}

// Close stops accepting jobs and waits for queued ones to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.items)
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) run(id int) {
	defer q.wg.Done()
	for w := range q.items {
		q.process(id, w)
	}
}

func (q *Queue) process(worker int, w work) {
	ctx := context.Background()
	log := q.logger.With("job", w.job.ID, "worker", worker)

	if err := q.setStatus(ctx, w.job.ID, StatusRunning); err != nil {
		log.Error("marking job running", "error", err)
	}

	res, err := q.ingester.Upload(ctx, w.job.Actor, w.rows, w.progress)
	if err != nil {
		log.Error("job failed", "error", err)
		metrics.IngestJobs.WithLabelValues(string(StatusFailed)).Inc()
		// The upload rolled back, so every row of the document failed.
		if uerr := q.finish(ctx, w.job.ID, StatusFailed, 0, w.job.Total, 0, err.Error()); uerr != nil {
			log.Error("recording job failure", "error", uerr)
		}
		return
	}

	failed := w.rejected + res.Failed
	log.Info("job completed", "succeeded", res.Succeeded, "failed", failed, "tokens", res.Tokens)
	metrics.IngestJobs.WithLabelValues(string(StatusCompleted)).Inc()
	if err := q.finish(ctx, w.job.ID, StatusCompleted, res.Succeeded, failed, res.Tokens, ""); err != nil {
		log.Error("recording job completion", "error", err)
	}
}

func (q *Queue) setStatus(ctx context.Context, id string, status Status) error {
	_, err := q.db.ExecContext(ctx, "UPDATE ingest_jobs SET status = ? WHERE id = ?", string(status), id)
	return err
}

func (q *Queue) finish(ctx context.Context, id string, status Status, succeeded, failed, tokens int, msg string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE ingest_jobs
		SET status = ?, succeeded = ?, failed = ?, tokens = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		string(status), succeeded, failed, tokens, msg, audit.FormatTimestamp(time.Now()), id,
	)
	return err
}

// Job returns the current state of a job.
func (q *Queue) Job(ctx context.Context, id string) (*Job, error) {
	var (
		j        Job
		status   string
		created  string
		finished sql.NullString
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, actor, source, status, total, succeeded, failed, tokens, error, created_at, finished_at
		FROM ingest_jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.Actor, &j.Source, &status, &j.Total, &j.Succeeded, &j.Failed, &j.Tokens, &j.Error, &created, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job %s: %w", id, err)
	}

	j.Status = Status(status)
	if t, err := audit.ParseTimestamp(created); err == nil {
		j.CreatedAt = t
	}
	if finished.Valid {
		if t, err := audit.ParseTimestamp(finished.String); err == nil {
			j.FinishedAt = &t
		}
	}
	return &j, nil
}

// Package repository persists search jobs and the credit ledger in Postgres.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"affiliatescout/internal/model"
)

// ErrNotFound is returned when a job id has no row.
var ErrNotFound = errors.New("search job not found")

// ErrInsufficientCredits is returned when a charge would overdraw the ledger.
var ErrInsufficientCredits = errors.New("insufficient credits")

// SearchJobRepository is the pgx-backed counterpart of the in-memory store.
type SearchJobRepository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *SearchJobRepository {
	return &SearchJobRepository{pool: pool}
}

// Charge atomically deducts cost from the ledger. It returns the balance
// after the attempt; on ErrInsufficientCredits the balance is unchanged.
func (r *SearchJobRepository) Charge(ctx context.Context, cost int) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx,
		`UPDATE account_credits SET balance = balance - $1 WHERE id = 1 AND balance >= $1 RETURNING balance`,
		cost).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := r.pool.QueryRow(ctx, `SELECT balance FROM account_credits WHERE id = 1`).Scan(&balance); err != nil {
			return 0, fmt.Errorf("read balance: %w", err)
		}
		return balance, ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("charge credits: %w", err)
	}
	return balance, nil
}

// Refund returns cost to the ledger after a failed or timed-out search.
func (r *SearchJobRepository) Refund(ctx context.Context, cost int) error {
	_, err := r.pool.Exec(ctx, `UPDATE account_credits SET balance = balance + $1 WHERE id = 1`, cost)
	if err != nil {
		return fmt.Errorf("refund credits: %w", err)
	}
	return nil
}

// Create inserts a queued job and returns it with its assigned id.
func (r *SearchJobRepository) Create(ctx context.Context, keywords []string, sources []model.Platform, competitors []string) (*model.SearchJob, error) {
	if competitors == nil {
		competitors = []string{}
	}
	rawSources := make([]string, len(sources))
	for i, s := range sources {
		rawSources[i] = string(s)
	}
	job := &model.SearchJob{
		Keywords:    keywords,
		Sources:     sources,
		Competitors: competitors,
		Status:      model.JobQueued,
		Message:     "search queued",
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO search_jobs (keywords, sources, competitors, status, message)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, started_at, updated_at`,
		keywords, rawSources, competitors, string(job.Status), job.Message,
	).Scan(&job.ID, &job.StartedAt, &job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// Get loads a job by id.
func (r *SearchJobRepository) Get(ctx context.Context, id int64) (*model.SearchJob, error) {
	var (
		job          model.SearchJob
		rawSources   []string
		rawStatus    string
		rawResults   []byte
		rawBreakdown []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, keywords, sources, competitors, status, message, results, breakdown, archive_key, started_at, updated_at
		 FROM search_jobs WHERE id = $1`, id,
	).Scan(&job.ID, &job.Keywords, &rawSources, &job.Competitors, &rawStatus, &job.Message,
		&rawResults, &rawBreakdown, &job.ArchiveKey, &job.StartedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select job: %w", err)
	}
	job.Status = model.JobStatus(rawStatus)
	job.Sources = make([]model.Platform, len(rawSources))
	for i, s := range rawSources {
		job.Sources[i] = model.Platform(s)
	}
	if len(rawResults) > 0 {
		if err := json.Unmarshal(rawResults, &job.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
	}
	if len(rawBreakdown) > 0 {
		if err := json.Unmarshal(rawBreakdown, &job.Breakdown); err != nil {
			return nil, fmt.Errorf("decode breakdown: %w", err)
		}
	}
	return &job, nil
}

// MarkStatus advances a job's lifecycle state and progress message.
func (r *SearchJobRepository) MarkStatus(ctx context.Context, id int64, status model.JobStatus, msg string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE search_jobs SET status = $2, message = $3, updated_at = now() WHERE id = $1`,
		id, string(status), msg)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Complete stores the final result set and marks the job done.
func (r *SearchJobRepository) Complete(ctx context.Context, id int64, results []model.Affiliate, breakdown map[string]int, archiveKey string) error {
	rawResults, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	rawBreakdown, err := json.Marshal(breakdown)
	if err != nil {
		return fmt.Errorf("encode breakdown: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE search_jobs
		 SET status = $2, message = $3, results = $4, breakdown = $5, archive_key = $6, updated_at = now()
		 WHERE id = $1`,
		id, string(model.JobDone), fmt.Sprintf("found %d affiliates", len(results)),
		rawResults, rawBreakdown, archiveKey)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired removes terminal jobs untouched for longer than retention.
// It backs the same TTL the in-memory store enforces with its sweeper.
func (r *SearchJobRepository) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM search_jobs
		 WHERE status IN ('done', 'failed', 'timeout') AND updated_at < now() - make_interval(secs => $1)`,
		retention.Seconds())
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

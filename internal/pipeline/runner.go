// Package pipeline runs discovery jobs in-process for the standalone server:
// a small worker pool consumes queued job ids and drives each job through the
// discover -> enrich -> process lifecycle against the in-memory store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"affiliatescout/internal/discovery"
	"affiliatescout/internal/model"
	"affiliatescout/internal/store"
)

// Runner consumes submitted jobs and updates their lifecycle.
type Runner struct {
	store         *store.MemoryStore
	provider      discovery.Provider
	queue         chan int64
	workers       int
	searchTimeout time.Duration
	sweepEvery    time.Duration
}

// New builds a Runner with queue capacity tied to worker count.
func New(st *store.MemoryStore, provider discovery.Provider, workers int, searchTimeout time.Duration) *Runner {
	if workers <= 0 {
		workers = 1
	}
	return &Runner{
		store:         st,
		provider:      provider,
		queue:         make(chan int64, workers*4),
		workers:       workers,
		searchTimeout: searchTimeout,
		sweepEvery:    time.Minute,
	}
}

// Start launches the worker goroutines and the retention sweeper.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		go r.worker(ctx)
	}
	go r.sweeper(ctx)
}

// Submit queues a job for processing. A full queue marks the job failed and
// refunds its cost rather than blocking the start endpoint.
func (r *Runner) Submit(jobID int64) {
	select {
	case r.queue <- jobID:
	default:
		log.Printf("pipeline queue full, dropping job %d", jobID)
		if job, err := r.store.Get(jobID); err == nil {
			r.store.Refund(model.Cost(job.Keywords, job.Sources))
		}
		_ = r.store.SetStatus(jobID, model.JobFailed, "discovery queue full")
	}
}

func (r *Runner) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-r.queue:
			r.process(ctx, jobID)
		}
	}
}

func (r *Runner) sweeper(ctx context.Context) {
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if dropped := r.store.Sweep(now.UTC()); dropped > 0 {
				log.Printf("swept %d expired search jobs", dropped)
			}
		}
	}
}

func (r *Runner) process(ctx context.Context, jobID int64) {
	job, err := r.store.Get(jobID)
	if err != nil {
		return
	}
	cost := model.Cost(job.Keywords, job.Sources)

	jobCtx, cancel := context.WithTimeout(ctx, r.searchTimeout)
	defer cancel()

	results, breakdown, err := r.run(jobCtx, job)
	if err != nil {
		r.store.Refund(cost)
		if errors.Is(err, context.DeadlineExceeded) {
			_ = r.store.SetStatus(jobID, model.JobTimeout, "search exceeded the server time limit")
			return
		}
		log.Printf("search job %d failed: %v", jobID, err)
		_ = r.store.SetStatus(jobID, model.JobFailed, err.Error())
		return
	}
	if err := r.store.Complete(jobID, results, breakdown, ""); err != nil {
		log.Printf("complete job %d: %v", jobID, err)
		return
	}
	log.Printf("search job %d done (%d candidates)", jobID, len(results))
}

// run drives the provider stages for one job.
func (r *Runner) run(ctx context.Context, job *model.SearchJob) ([]model.Affiliate, map[string]int, error) {
	if err := r.store.SetStatus(job.ID, model.JobRunning, "discovering candidates"); err != nil {
		return nil, nil, err
	}
	var raw []model.Affiliate
	queries := append([]string{}, job.Keywords...)
	queries = append(queries, job.Competitors...)
	for _, keyword := range queries {
		for _, platform := range job.Sources {
			found, err := r.provider.Discover(ctx, keyword, platform)
			if err != nil {
				return nil, nil, fmt.Errorf("discover %q on %s: %w", keyword, platform, err)
			}
			raw = append(raw, found...)
		}
	}

	if err := r.store.SetStatus(job.ID, model.JobEnriching, "enriching candidates"); err != nil {
		return nil, nil, err
	}
	enriched, err := r.provider.Enrich(ctx, raw)
	if err != nil {
		return nil, nil, fmt.Errorf("enrich candidates: %w", err)
	}

	if err := r.store.SetStatus(job.ID, model.JobProcessing, "ranking and deduplicating"); err != nil {
		return nil, nil, err
	}
	results, breakdown := discovery.Consolidate(enriched)
	return results, breakdown, nil
}

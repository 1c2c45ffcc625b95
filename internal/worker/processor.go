// Package worker consumes discover tasks and runs the discovery pipeline
// against Postgres-backed jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"affiliatescout/internal/archive"
	"affiliatescout/internal/discovery"
	"affiliatescout/internal/model"
	"affiliatescout/internal/queue"
	"affiliatescout/internal/repository"
)

// Processor handles search discovery tasks.
type Processor struct {
	repo          *repository.SearchJobRepository
	provider      discovery.Provider
	store         *archive.Storage
	searchTimeout time.Duration
}

func NewProcessor(repo *repository.SearchJobRepository, provider discovery.Provider, store *archive.Storage, searchTimeout time.Duration) *Processor {
	return &Processor{repo: repo, provider: provider, store: store, searchTimeout: searchTimeout}
}

// Register mounts the processor's handlers on an asynq mux.
func (p *Processor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(queue.TypeDiscoverSearch, p.HandleDiscover)
}

// HandleDiscover runs one search job end to end. Failures and timeouts are
// recorded on the job row and refunded, then reported to asynq as SkipRetry:
// the job is already terminal, so a queue-level retry would double-charge
// the pipeline.
func (p *Processor) HandleDiscover(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.ParseDiscoverPayload(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log.Printf("job %d: discovery started (%d keywords, %d sources)",
		payload.JobID, len(payload.Keywords), len(payload.Sources))

	runCtx, cancel := context.WithTimeout(ctx, p.searchTimeout)
	defer cancel()

	results, breakdown, err := p.run(runCtx, payload)
	if err != nil {
		cost := model.Cost(payload.Keywords, payload.Sources)
		if rerr := p.repo.Refund(ctx, cost); rerr != nil {
			log.Printf("job %d: refund failed: %v", payload.JobID, rerr)
		}
		status, msg := model.JobFailed, "search failed"
		if errors.Is(err, context.DeadlineExceeded) {
			status, msg = model.JobTimeout, "search exceeded the server time limit"
		}
		if merr := p.repo.MarkStatus(ctx, payload.JobID, status, msg); merr != nil {
			log.Printf("job %d: mark %s: %v", payload.JobID, status, merr)
		}
		log.Printf("job %d: discovery %s: %v", payload.JobID, status, err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	archiveKey := ""
	if p.store != nil {
		key, err := p.store.UploadResults(ctx, payload.JobID, results, breakdown)
		if err != nil {
			log.Printf("job %d: archive upload failed: %v", payload.JobID, err)
		} else {
			archiveKey = key
		}
	}

	if err := p.repo.Complete(ctx, payload.JobID, results, breakdown, archiveKey); err != nil {
		return fmt.Errorf("complete job %d: %v: %w", payload.JobID, err, asynq.SkipRetry)
	}
	log.Printf("job %d: discovery done (%d affiliates)", payload.JobID, len(results))
	return nil
}

func (p *Processor) run(ctx context.Context, payload queue.DiscoverPayload) ([]model.Affiliate, map[string]int, error) {
	if err := p.repo.MarkStatus(ctx, payload.JobID, model.JobRunning, "discovering candidates"); err != nil {
		return nil, nil, err
	}

	queries := append(append([]string{}, payload.Keywords...), payload.Competitors...)
	var candidates []model.Affiliate
	for _, keyword := range queries {
		for _, source := range payload.Sources {
			found, err := p.provider.Discover(ctx, keyword, source)
			if err != nil {
				return nil, nil, fmt.Errorf("discover %q on %s: %w", keyword, source, err)
			}
			candidates = append(candidates, found...)
		}
	}

	if err := p.repo.MarkStatus(ctx, payload.JobID, model.JobEnriching, "enriching candidate profiles"); err != nil {
		return nil, nil, err
	}
	enriched, err := p.provider.Enrich(ctx, candidates)
	if err != nil {
		return nil, nil, fmt.Errorf("enrich candidates: %w", err)
	}

	if err := p.repo.MarkStatus(ctx, payload.JobID, model.JobProcessing, "ranking and deduplicating"); err != nil {
		return nil, nil, err
	}
	results, breakdown := discovery.Consolidate(enriched)
	return results, breakdown, nil
}

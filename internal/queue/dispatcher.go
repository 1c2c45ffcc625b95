package queue

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"affiliatescout/internal/api"
	"affiliatescout/internal/model"
	"affiliatescout/internal/repository"
)

// Dispatcher implements api.JobService for the distributed deployment:
// jobs live in Postgres and discovery runs on asynq workers.
type Dispatcher struct {
	repo   *repository.SearchJobRepository
	client *asynq.Client
}

func NewDispatcher(repo *repository.SearchJobRepository, client *asynq.Client) *Dispatcher {
	return &Dispatcher{repo: repo, client: client}
}

// StartSearch charges credits, records the job and enqueues it. Enqueue
// failures refund the charge and fail the job so the ledger stays honest.
func (d *Dispatcher) StartSearch(ctx context.Context, keywords []string, sources []model.Platform, competitors []string) (*model.SearchJob, error) {
	cost := model.Cost(keywords, sources)
	remaining, err := d.repo.Charge(ctx, cost)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientCredits) {
			return nil, &api.QuotaError{Remaining: remaining}
		}
		return nil, err
	}

	job, err := d.repo.Create(ctx, keywords, sources, competitors)
	if err != nil {
		if rerr := d.repo.Refund(ctx, cost); rerr != nil {
			log.Printf("refund after create failure: %v", rerr)
		}
		return nil, err
	}

	task, err := NewDiscoverTask(DiscoverPayload{
		JobID:       job.ID,
		Keywords:    keywords,
		Sources:     sources,
		Competitors: competitors,
	})
	if err == nil {
		_, err = d.client.EnqueueContext(ctx, task)
	}
	if err != nil {
		if rerr := d.repo.Refund(ctx, cost); rerr != nil {
			log.Printf("refund after enqueue failure: %v", rerr)
		}
		if merr := d.repo.MarkStatus(ctx, job.ID, model.JobFailed, "could not schedule search"); merr != nil {
			log.Printf("mark job %d failed: %v", job.ID, merr)
		}
		return nil, fmt.Errorf("enqueue search job %d: %w", job.ID, err)
	}
	return job, nil
}

// JobStatus reads the job row.
func (d *Dispatcher) JobStatus(ctx context.Context, id int64) (*model.SearchJob, error) {
	job, err := d.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, api.ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

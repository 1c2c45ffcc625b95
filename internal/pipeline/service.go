package pipeline

import (
	"context"
	"errors"
	"fmt"

	"affiliatescout/internal/api"
	"affiliatescout/internal/model"
	"affiliatescout/internal/store"
)

// Service implements api.JobService on top of the in-memory store and the
// in-process runner. It is the standalone deployment: one binary, no
// external infrastructure.
type Service struct {
	store  *store.MemoryStore
	runner *Runner
}

// NewService wires a store and a runner into a job service.
func NewService(st *store.MemoryStore, r *Runner) *Service {
	return &Service{store: st, runner: r}
}

// StartSearch charges the account, records the job and hands it to the
// runner. The charge happens before the job exists so a rejected search
// never leaves a dangling record.
func (s *Service) StartSearch(ctx context.Context, keywords []string, sources []model.Platform, competitors []string) (*model.SearchJob, error) {
	cost := model.Cost(keywords, sources)
	remaining, err := s.store.Charge(cost)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientCredits) {
			return nil, &api.QuotaError{Remaining: remaining}
		}
		return nil, fmt.Errorf("charge credits: %w", err)
	}
	job := s.store.Create(keywords, sources, competitors)
	s.runner.Submit(job.ID)
	return job, nil
}

// JobStatus reads the current job snapshot.
func (s *Service) JobStatus(ctx context.Context, id int64) (*model.SearchJob, error) {
	job, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, api.ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

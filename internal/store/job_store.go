// Package store contains the in-memory job store used by the standalone
// server. It also owns the credit ledger the start endpoint charges against.
package store

import (
	"errors"
	"sync"
	"time"

	"affiliatescout/internal/model"
)

var (
	// ErrNotFound is returned for unknown ids and for jobs already swept
	// after the retention window. Callers translate it into a 404.
	ErrNotFound = errors.New("search job not found")
	// ErrInsufficientCredits signals quota exhaustion on Charge.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// MemoryStore keeps search jobs and the credit balance behind an RWMutex.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	jobs      map[int64]*model.SearchJob
	credits   int
	retention time.Duration
}

// NewMemoryStore builds a store with the given credit budget. Terminal jobs
// older than retention are dropped, which is what makes a stale jobId 404.
func NewMemoryStore(creditBudget int, retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &MemoryStore{
		jobs:      make(map[int64]*model.SearchJob),
		credits:   creditBudget,
		retention: retention,
	}
}

// Remaining reports the current credit balance.
func (m *MemoryStore) Remaining() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.credits
}

// Charge deducts cost from the balance. On failure the balance is untouched
// and the remaining amount is returned alongside ErrInsufficientCredits.
func (m *MemoryStore) Charge(cost int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cost > m.credits {
		return m.credits, ErrInsufficientCredits
	}
	m.credits -= cost
	return m.credits, nil
}

// Refund returns credits after a server-declared failure or timeout.
func (m *MemoryStore) Refund(cost int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credits += cost
}

// Create registers a queued job and assigns its id.
func (m *MemoryStore) Create(keywords []string, sources []model.Platform, competitors []string) *model.SearchJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	now := time.Now().UTC()
	job := &model.SearchJob{
		ID:          m.nextID,
		Keywords:    keywords,
		Sources:     sources,
		Competitors: competitors,
		Status:      model.JobQueued,
		Message:     "queued for discovery",
		StartedAt:   now,
		UpdatedAt:   now,
	}
	m.jobs[job.ID] = job
	copy := *job
	return &copy
}

// Get returns a copy of the job so callers cannot mutate internal state.
func (m *MemoryStore) Get(id int64) (*model.SearchJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok || m.expired(job, time.Now().UTC()) {
		return nil, ErrNotFound
	}
	copy := *job
	return &copy, nil
}

// SetStatus advances the lifecycle and updates the human message.
func (m *MemoryStore) SetStatus(id int64, status model.JobStatus, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.Status = status
	job.Message = msg
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete stores the final result set and marks the job done.
func (m *MemoryStore) Complete(id int64, results []model.Affiliate, breakdown map[string]int, archiveKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.Status = model.JobDone
	job.Message = "search complete"
	job.Results = results
	job.Breakdown = breakdown
	job.ArchiveKey = archiveKey
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// Sweep removes terminal jobs past the retention window and returns how many
// were dropped.
func (m *MemoryStore) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := 0
	for id, job := range m.jobs {
		if m.expired(job, now) {
			delete(m.jobs, id)
			dropped++
		}
	}
	return dropped
}

func (m *MemoryStore) expired(job *model.SearchJob, now time.Time) bool {
	return job.Status.Terminal() && now.Sub(job.UpdatedAt) > m.retention
}

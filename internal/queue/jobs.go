// Package queue defines the asynq tasks exchanged between the API and the
// discovery workers.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"affiliatescout/internal/model"
)

// TypeDiscoverSearch runs the full discovery pipeline for one search job.
const TypeDiscoverSearch = "search:discover"

// DiscoverPayload carries everything the worker needs so it can start a
// search without an extra read of the job row.
type DiscoverPayload struct {
	JobID       int64            `json:"job_id"`
	Keywords    []string         `json:"keywords"`
	Sources     []model.Platform `json:"sources"`
	Competitors []string         `json:"competitors"`
}

// NewDiscoverTask builds the asynq task for a queued search job.
func NewDiscoverTask(p DiscoverPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal discover payload: %w", err)
	}
	return asynq.NewTask(TypeDiscoverSearch, data,
		asynq.MaxRetry(2),
		asynq.Timeout(10*time.Minute),
	), nil
}

// ParseDiscoverPayload decodes a discover task payload.
func ParseDiscoverPayload(t *asynq.Task) (DiscoverPayload, error) {
	var p DiscoverPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("unmarshal discover payload: %w", err)
	}
	return p, nil
}

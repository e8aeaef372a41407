package domain

import (
	"context"
	"encoding/json"
	"time"
)

// JobStore is the durable record of jobs. It carries no business logic beyond
// refusing writes that would move a job backwards.
type JobStore interface {
	Create(ctx context.Context, id string, input json.RawMessage) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	Patch(ctx context.Context, id string, patch JobPatch) error
	Complete(ctx context.Context, id, outputID string) error
	Fail(ctx context.Context, id, message string) error
}

// JobQueue is implemented by stores that can hand queued jobs to workers.
type JobQueue interface {
	JobStore
	// ClaimQueued moves the oldest queued job to running and returns it.
	// It returns ErrNotFound when nothing is queued.
	ClaimQueued(ctx context.Context) (*Job, error)
	// ReapStale fails running jobs whose last update is older than olderThan.
	ReapStale(ctx context.Context, olderThan time.Duration, message string) (int64, error)
}

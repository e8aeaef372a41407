package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"genpipe/internal/domain"
)

// MemoryJobStore keeps jobs in process memory. It returns copies, so callers can
// never mutate stored state without going through the store.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

// NewMemoryJobStore creates an empty in-memory store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]*domain.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new queued job.
func (s *MemoryJobStore) Create(ctx context.Context, id string, input json.RawMessage) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("repo: job id is required")
	}
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateJob, id)
	}
	now := s.now()
	job := &domain.Job{
		ID:        id,
		Status:    domain.JobStatusQueued,
		InputData: append(json.RawMessage(nil), input...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[id] = job
	return job.Clone(), nil
}

// Get returns a copy of the job.
func (s *MemoryJobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

// Patch applies the set fields of patch to a non-terminal job.
func (s *MemoryJobStore) Patch(ctx context.Context, id string, patch domain.JobPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkPatchStatus(patch); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.activeLocked(id)
	if err != nil {
		return err
	}
	if patch.Status != nil && !domain.CanTransition(job.Status, *patch.Status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, *patch.Status)
	}
	patch.Apply(job, s.now())
	return nil
}

// Complete marks a running job completed.
func (s *MemoryJobStore) Complete(ctx context.Context, id, outputID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(outputID) == "" {
		return errors.New("repo: output id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.activeLocked(id)
	if err != nil {
		return err
	}
	if !domain.CanTransition(job.Status, domain.JobStatusCompleted) {
		return fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, id, job.Status)
	}
	now := s.now()
	out := outputID
	job.Status = domain.JobStatusCompleted
	job.OutputID = &out
	job.OverallProgress = 100
	job.StepProgress = 100
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

// Fail marks a non-terminal job as errored.
func (s *MemoryJobStore) Fail(ctx context.Context, id, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.activeLocked(id)
	if err != nil {
		return err
	}
	s.failLocked(job, failMessage(message))
	return nil
}

// ClaimQueued moves the oldest queued job to running.
func (s *MemoryJobStore) ClaimQueued(ctx context.Context) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var queued []*domain.Job
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusQueued {
			queued = append(queued, job)
		}
	}
	if len(queued) == 0 {
		return nil, domain.ErrNotFound
	}
	sort.Slice(queued, func(i, j int) bool {
		if queued[i].CreatedAt.Equal(queued[j].CreatedAt) {
			return queued[i].ID < queued[j].ID
		}
		return queued[i].CreatedAt.Before(queued[j].CreatedAt)
	})
	job := queued[0]
	now := s.now()
	job.Status = domain.JobStatusRunning
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.UpdatedAt = now
	return job.Clone(), nil
}

// ReapStale fails running jobs whose last update is older than olderThan.
func (s *MemoryJobStore) ReapStale(ctx context.Context, olderThan time.Duration, message string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-olderThan)
	var reaped int64
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusRunning && job.UpdatedAt.Before(cutoff) {
			s.failLocked(job, failMessage(message))
			reaped++
		}
	}
	return reaped, nil
}

func (s *MemoryJobStore) activeLocked(id string) (*domain.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.Status.Terminal() {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, id, job.Status)
	}
	return job, nil
}

func (s *MemoryJobStore) failLocked(job *domain.Job, message string) {
	now := s.now()
	job.Status = domain.JobStatusError
	job.Error = &message
	job.StepProgress = domain.ClampPercent(job.StepProgress)
	job.OverallProgress = domain.ClampPercent(job.OverallProgress)
	job.CompletedAt = &now
	job.UpdatedAt = now
}

var _ domain.JobQueue = (*MemoryJobStore)(nil)

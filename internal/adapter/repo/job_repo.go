package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"genpipe/internal/domain"
	"genpipe/internal/infra"
	"genpipe/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobQueue on PostgreSQL. Each call is a single
// statement that commits on its own.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new queued job.
func (r *JobRepositoryPG) Create(ctx context.Context, id string, input json.RawMessage) (*domain.Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("repo: job id is required")
	}
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertJob, id, []byte(input))
	job, err := scanJob(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateJob, id)
		}
		return nil, fmt.Errorf("repo: insert job: %w", err)
	}
	return job, nil
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJob, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("repo: select job: %w", err)
	}
	return job, nil
}

// Patch applies the set fields of patch and bumps updated_at.
func (r *JobRepositoryPG) Patch(ctx context.Context, id string, patch domain.JobPatch) error {
	if err := checkPatchStatus(patch); err != nil {
		return err
	}
	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QPatchJob,
		id,
		status,
		patch.CurrentStep,
		patch.StepName,
		clampPtr(patch.StepProgress),
		clampPtr(patch.OverallProgress),
		patch.Message,
		patch.Error,
		patch.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("repo: patch job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id)
	}
	return nil
}

// Complete marks a running job completed with its output reference.
func (r *JobRepositoryPG) Complete(ctx context.Context, id, outputID string) error {
	if strings.TrimSpace(outputID) == "" {
		return errors.New("repo: output id is required")
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QCompleteJob, id, outputID)
	if err != nil {
		return fmt.Errorf("repo: complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id)
	}
	return nil
}

// Fail marks a non-terminal job as errored.
func (r *JobRepositoryPG) Fail(ctx context.Context, id, message string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QFailJob, id, failMessage(message))
	if err != nil {
		return fmt.Errorf("repo: fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id)
	}
	return nil
}

// ClaimQueued moves the oldest queued job to running, skipping rows locked by other workers.
func (r *JobRepositoryPG) ClaimQueued(ctx context.Context) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QClaimQueuedJob))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("repo: claim job: %w", err)
	}
	return job, nil
}

// ReapStale fails running jobs that have not been updated for olderThan.
func (r *JobRepositoryPG) ReapStale(ctx context.Context, olderThan time.Duration, message string) (int64, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QReapStaleJobs, olderThan.Seconds(), failMessage(message))
	if err != nil {
		return 0, fmt.Errorf("repo: reap stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *JobRepositoryPG) explainMiss(ctx context.Context, id string) error {
	job, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, id, job.Status)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job    domain.Job
		status string
		input  []byte
	)
	if err := row.Scan(
		&job.ID,
		&status,
		&job.CurrentStep,
		&job.StepName,
		&job.StepProgress,
		&job.OverallProgress,
		&job.Message,
		&job.Error,
		&job.OutputID,
		&input,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.InputData = json.RawMessage(input)
	return &job, nil
}

// checkPatchStatus only lets a patch start a job. Terminal states go through
// Complete and Fail, which also stamp completion fields.
func checkPatchStatus(patch domain.JobPatch) error {
	if patch.Status == nil || *patch.Status == domain.JobStatusRunning {
		return nil
	}
	return fmt.Errorf("%w: patch cannot set status %s", domain.ErrInvalidTransition, *patch.Status)
}

func clampPtr(v *int) *int {
	if v == nil {
		return nil
	}
	c := domain.ClampPercent(*v)
	return &c
}

func failMessage(message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return "job failed"
	}
	return message
}

func isUniqueViolation(err error) bool {
	var coded interface{ SQLState() string }
	if errors.As(err, &coded) {
		return coded.SQLState() == "23505"
	}
	return false
}

var _ domain.JobQueue = (*JobRepositoryPG)(nil)

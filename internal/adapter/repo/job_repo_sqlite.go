package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"genpipe/internal/db"
	"genpipe/internal/domain"
	"genpipe/internal/sqlinline"
)

// JobRepositorySQLite implements domain.JobQueue on a single-file SQLite database.
// Timestamps are stored as unix milliseconds.
type JobRepositorySQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteJobRepository wraps an open SQLite handle. Call EnsureSchema before use.
func NewSQLiteJobRepository(conn *sql.DB) *JobRepositorySQLite {
	return &JobRepositorySQLite{
		db:  conn,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSchema creates the jobs table when it does not exist.
func (r *JobRepositorySQLite) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, db.SQLiteSchema); err != nil {
		return fmt.Errorf("repo: apply sqlite schema: %w", err)
	}
	return nil
}

// Create inserts a new queued job.
func (r *JobRepositorySQLite) Create(ctx context.Context, id string, input json.RawMessage) (*domain.Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("repo: job id is required")
	}
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	now := r.now().UnixMilli()
	if _, err := r.db.ExecContext(ctx, sqlinline.QSQLiteInsertJob, id, string(input), now, now); err != nil {
		if isSQLiteConstraint(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateJob, id)
		}
		return nil, fmt.Errorf("repo: insert job: %w", err)
	}
	return r.Get(ctx, id)
}

// Get fetches a job by its identifier.
func (r *JobRepositorySQLite) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := scanSQLiteJob(r.db.QueryRowContext(ctx, sqlinline.QSQLiteSelectJob, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("repo: select job: %w", err)
	}
	return job, nil
}

// Patch applies the set fields of patch and bumps updated_at.
func (r *JobRepositorySQLite) Patch(ctx context.Context, id string, patch domain.JobPatch) error {
	if err := checkPatchStatus(patch); err != nil {
		return err
	}
	var status, stepName, message, errText any
	if patch.Status != nil {
		status = string(*patch.Status)
	}
	if patch.StepName != nil {
		stepName = *patch.StepName
	}
	if patch.Message != nil {
		message = *patch.Message
	}
	if patch.Error != nil {
		errText = *patch.Error
	}
	res, err := r.db.ExecContext(ctx, sqlinline.QSQLitePatchJob,
		status,
		nullInt(patch.CurrentStep),
		stepName,
		nullInt(clampPtr(patch.StepProgress)),
		nullInt(clampPtr(patch.OverallProgress)),
		message,
		errText,
		nullMillis(patch.StartedAt),
		r.now().UnixMilli(),
		id,
	)
	if err != nil {
		return fmt.Errorf("repo: patch job: %w", err)
	}
	return r.checkAffected(ctx, id, res)
}

// Complete marks a running job completed with its output reference.
func (r *JobRepositorySQLite) Complete(ctx context.Context, id, outputID string) error {
	if strings.TrimSpace(outputID) == "" {
		return errors.New("repo: output id is required")
	}
	now := r.now().UnixMilli()
	res, err := r.db.ExecContext(ctx, sqlinline.QSQLiteCompleteJob, outputID, now, now, id)
	if err != nil {
		return fmt.Errorf("repo: complete job: %w", err)
	}
	return r.checkAffected(ctx, id, res)
}

// Fail marks a non-terminal job as errored.
func (r *JobRepositorySQLite) Fail(ctx context.Context, id, message string) error {
	now := r.now().UnixMilli()
	res, err := r.db.ExecContext(ctx, sqlinline.QSQLiteFailJob, failMessage(message), now, now, id)
	if err != nil {
		return fmt.Errorf("repo: fail job: %w", err)
	}
	return r.checkAffected(ctx, id, res)
}

// ClaimQueued moves the oldest queued job to running inside one transaction.
func (r *JobRepositorySQLite) ClaimQueued(ctx context.Context) (*domain.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("repo: begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	if err := tx.QueryRowContext(ctx, sqlinline.QSQLiteNextQueuedJob).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("repo: select queued job: %w", err)
	}
	now := r.now().UnixMilli()
	res, err := tx.ExecContext(ctx, sqlinline.QSQLiteStartJob, now, now, id)
	if err != nil {
		return nil, fmt.Errorf("repo: start job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("repo: rows affected: %w", err)
	}
	if n == 0 {
		return nil, domain.ErrNotFound
	}
	job, err := scanSQLiteJob(tx.QueryRowContext(ctx, sqlinline.QSQLiteSelectJob, id))
	if err != nil {
		return nil, fmt.Errorf("repo: reload claimed job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("repo: commit claim: %w", err)
	}
	return job, nil
}

// ReapStale fails running jobs that have not been updated for olderThan.
func (r *JobRepositorySQLite) ReapStale(ctx context.Context, olderThan time.Duration, message string) (int64, error) {
	now := r.now()
	cutoff := now.Add(-olderThan).UnixMilli()
	res, err := r.db.ExecContext(ctx, sqlinline.QSQLiteReapStaleJobs,
		failMessage(message), now.UnixMilli(), now.UnixMilli(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("repo: reap stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("repo: reap stale jobs: %w", err)
	}
	return n, nil
}

func (r *JobRepositorySQLite) checkAffected(ctx context.Context, id string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repo: rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	job, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, id, job.Status)
}

func scanSQLiteJob(row rowScanner) (*domain.Job, error) {
	var (
		job                    domain.Job
		status, input          string
		created, updated       int64
		started, completed     sql.NullInt64
		stepName, msg, errText sql.NullString
		outputID               sql.NullString
	)
	if err := row.Scan(
		&job.ID,
		&status,
		&job.CurrentStep,
		&stepName,
		&job.StepProgress,
		&job.OverallProgress,
		&msg,
		&errText,
		&outputID,
		&input,
		&created,
		&started,
		&completed,
		&updated,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.StepName = nullStringPtr(stepName)
	job.Message = nullStringPtr(msg)
	job.Error = nullStringPtr(errText)
	job.OutputID = nullStringPtr(outputID)
	job.InputData = json.RawMessage(input)
	job.CreatedAt = time.UnixMilli(created).UTC()
	job.UpdatedAt = time.UnixMilli(updated).UTC()
	job.StartedAt = nullTimePtr(started)
	job.CompletedAt = nullTimePtr(completed)
	return &job, nil
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func isSQLiteConstraint(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}

var _ domain.JobQueue = (*JobRepositorySQLite)(nil)

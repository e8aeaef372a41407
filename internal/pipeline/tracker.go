package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"

	"genpipe/internal/domain"
	"genpipe/internal/infra"
)

// Tracker is the only writer of a job's progress fields while it runs. It turns
// stage-local events into absolute job fields using the plan's active weights.
//
// Persistence failures are logged and swallowed: a lost progress write must not fail
// the stage that produced it. Overall progress never decreases.
type Tracker struct {
	store  domain.JobStore
	plan   *Plan
	jobID  string
	logger infra.Logger

	mu          sync.Mutex
	overall     int
	step        int
	stepPercent int
	errored     map[int]string
}

// NewTracker creates a tracker for jobID. start is the overall progress already persisted.
func NewTracker(store domain.JobStore, plan *Plan, jobID string, start int, logger infra.Logger) *Tracker {
	return &Tracker{
		store:   store,
		plan:    plan,
		jobID:   jobID,
		logger:  logger,
		overall: domain.ClampPercent(start),
		errored: make(map[int]string),
	}
}

// UpdateStepProgress sets step to percent and recomputes overall progress.
func (t *Tracker) UpdateStepProgress(ctx context.Context, step, percent int, message string) {
	percent = domain.ClampPercent(percent)

	t.mu.Lock()
	defer t.mu.Unlock()

	desc, ok := t.plan.Stage(step)
	if !ok {
		t.logger.Warn().Str("job_id", t.jobID).Int("step", step).Msg("progress for inactive stage ignored")
		return
	}
	if step == t.step && percent < t.stepPercent {
		percent = t.stepPercent
	}
	overall := int(math.Round(t.plan.Overall(step, percent)))
	if overall < t.overall {
		overall = t.overall
	}
	t.step, t.stepPercent, t.overall = step, percent, overall

	patch := domain.JobPatch{
		CurrentStep:     domain.Ptr(step),
		StepName:        domain.Ptr(desc.Title()),
		StepProgress:    domain.Ptr(percent),
		OverallProgress: domain.Ptr(overall),
	}
	if message != "" {
		patch.Message = domain.Ptr(message)
	}
	t.persist(ctx, step, patch)
}

// UpdateStepWithSubStep reports progress of a stage made of subTotal units.
func (t *Tracker) UpdateStepWithSubStep(ctx context.Context, step, subIndex, subTotal int, label, message string) {
	percent := SubStepPercent(subIndex, subTotal)
	if message == "" && label != "" {
		message = fmt.Sprintf("%s %d/%d", label, subIndex, subTotal)
	}
	t.UpdateStepProgress(ctx, step, percent, message)
}

// CompleteStep marks step at 100 percent.
func (t *Tracker) CompleteStep(ctx context.Context, step int, message string) {
	t.UpdateStepProgress(ctx, step, 100, message)
}

// Error records "title: detail" as the job error. The status is left to the orchestrator.
func (t *Tracker) Error(ctx context.Context, step int, title, detail string) {
	msg := domain.FormatStageError(title, detail)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.errored[step] = msg
	// The error must land even when the stage failed because its context ended.
	t.persist(context.WithoutCancel(ctx), step, domain.JobPatch{Error: domain.Ptr(msg)})
}

// Errored returns the error recorded for step, if any.
func (t *Tracker) Errored(step int) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg, ok := t.errored[step]
	return msg, ok
}

// Overall returns the last overall progress written.
func (t *Tracker) Overall() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.overall
}

// Stage scopes the tracker to one stage number.
func (t *Tracker) Stage(step int) *Progress {
	return &Progress{tracker: t, step: step}
}

func (t *Tracker) persist(ctx context.Context, step int, patch domain.JobPatch) {
	if err := t.store.Patch(ctx, t.jobID, patch); err != nil {
		t.logger.Error().Err(err).Str("job_id", t.jobID).Int("step", step).Msg("persist progress")
	}
}

// SubStepPercent is round(subIndex / subTotal * 100), clamped to 0..100.
func SubStepPercent(subIndex, subTotal int) int {
	if subTotal <= 0 {
		return 0
	}
	return domain.ClampPercent(int(math.Round(float64(subIndex) / float64(subTotal) * 100)))
}

// Progress is the stage-scoped view of a Tracker handed to stage handlers.
type Progress struct {
	tracker *Tracker
	step    int
}

// Step is the stage number this handle reports for.
func (p *Progress) Step() int { return p.step }

func (p *Progress) Update(ctx context.Context, percent int, message string) {
	p.tracker.UpdateStepProgress(ctx, p.step, percent, message)
}

func (p *Progress) SubStep(ctx context.Context, subIndex, subTotal int, label, message string) {
	p.tracker.UpdateStepWithSubStep(ctx, p.step, subIndex, subTotal, label, message)
}

func (p *Progress) Complete(ctx context.Context, message string) {
	p.tracker.CompleteStep(ctx, p.step, message)
}

// Error records the failure and returns err so handlers can write `return p.Error(ctx, err)`.
func (p *Progress) Error(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	p.tracker.Error(ctx, p.step, domain.ErrorTitle(err), err.Error())
	return err
}

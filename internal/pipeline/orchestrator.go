// Package pipeline sequences the stages of a job and owns its persisted progress.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"genpipe/internal/domain"
	"genpipe/internal/infra"
	"genpipe/internal/options"
	"genpipe/internal/storage"
)

// StageResult is what a stage hands to the stages after it.
type StageResult struct {
	Stage     string
	Artifacts []storage.Artifact
}

// Primary returns the first artifact of the given kind.
func (r *StageResult) Primary(kind string) (storage.Artifact, bool) {
	if r == nil {
		return storage.Artifact{}, false
	}
	for _, a := range r.Artifacts {
		if a.Kind == kind {
			return a, true
		}
	}
	return storage.Artifact{}, false
}

// StageInput is everything a handler receives for one run.
type StageInput struct {
	JobID     string
	Stage     StageDescriptor
	Options   *options.JobOptions
	Workspace *storage.Workspace
	// Prev is the output of the stage that ran immediately before; nil for the first stage.
	Prev *StageResult
	// History holds every earlier stage's output by stage name.
	History  map[string]*StageResult
	Progress *Progress
}

// Find returns the first artifact of kind produced by any earlier stage.
func (in StageInput) Find(kind string) (storage.Artifact, bool) {
	if a, ok := in.Prev.Primary(kind); ok {
		return a, true
	}
	for _, r := range in.History {
		if a, ok := r.Primary(kind); ok {
			return a, true
		}
	}
	return storage.Artifact{}, false
}

// Handler runs one stage. It must report failures through in.Progress.Error before returning them.
type Handler interface {
	Run(ctx context.Context, in StageInput) (*StageResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, in StageInput) (*StageResult, error)

func (f HandlerFunc) Run(ctx context.Context, in StageInput) (*StageResult, error) {
	return f(ctx, in)
}

// Orchestrator creates jobs and drives them through their active stages.
type Orchestrator struct {
	store     domain.JobStore
	handlers  map[string]Handler
	artifacts *storage.FileStore
	logger    infra.Logger
	newID     func() string
	now       func() time.Time
}

// NewOrchestrator wires the store, the per-stage handlers keyed by stage name, and the artifact root.
func NewOrchestrator(store domain.JobStore, handlers map[string]Handler, artifacts *storage.FileStore, logger infra.Logger) *Orchestrator {
	hs := make(map[string]Handler, len(handlers))
	for name, h := range handlers {
		hs[name] = h
	}
	return &Orchestrator{
		store:     store,
		handlers:  hs,
		artifacts: artifacts,
		logger:    logger,
		newID:     uuid.NewString,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit records validated options as a new queued job.
func (o *Orchestrator) Submit(ctx context.Context, opts *options.JobOptions) (*domain.Job, error) {
	if opts == nil {
		return nil, errors.New("pipeline: options are required")
	}
	raw, err := opts.Encode()
	if err != nil {
		return nil, err
	}
	job, err := o.store.Create(ctx, o.newID(), raw)
	if err != nil {
		return nil, fmt.Errorf("pipeline: create job: %w", err)
	}
	o.logger.Info().Str("job_id", job.ID).Str("source", string(opts.Source.Type)).Msg("job queued")
	return job, nil
}

// Run executes a queued or claimed job to a terminal status. The returned error is
// the stage failure, if any; the job record already reflects it.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("pipeline: load job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: job %s is already %s", domain.ErrInvalidTransition, jobID, job.Status)
	}
	log := o.logger.With().Str("job_id", jobID).Logger()

	opts, err := options.Decode(job.InputData)
	if err != nil {
		return o.abort(ctx, jobID, domain.FormatStageError("Invalid input", err.Error()), err)
	}
	stages, err := StagesFor(opts.Source.Type)
	if err != nil {
		return o.abort(ctx, jobID, domain.FormatStageError("Invalid input", err.Error()), err)
	}
	plan, err := NewPlan(stages, opts.SkippedStages())
	if err != nil {
		return o.abort(ctx, jobID, domain.FormatStageError("Invalid input", err.Error()), err)
	}
	ws, err := o.artifacts.Workspace(jobID)
	if err != nil {
		return o.abort(ctx, jobID, domain.FormatStageError("Stage failed", err.Error()), err)
	}

	if job.Status == domain.JobStatusQueued {
		started := o.now()
		if err := o.store.Patch(ctx, jobID, domain.JobPatch{
			Status:    domain.Ptr(domain.JobStatusRunning),
			StartedAt: &started,
		}); err != nil {
			return fmt.Errorf("pipeline: start job %s: %w", jobID, err)
		}
	}
	log.Info().Int("stages", len(plan.Active())).Strs("skipped", opts.SkippedStages()).Msg("job running")

	tracker := NewTracker(o.store, plan, jobID, job.OverallProgress, log)
	history := make(map[string]*StageResult)
	var (
		prev      *StageResult
		artifacts []storage.Artifact
	)
	for _, stage := range plan.Active() {
		stageLog := log.With().Str("stage", stage.Name).Int("step", stage.Number).Logger()
		tracker.UpdateStepProgress(ctx, stage.Number, 0, "Starting "+stage.Title())

		in := StageInput{
			JobID:     jobID,
			Stage:     stage,
			Options:   opts,
			Workspace: ws,
			Prev:      prev,
			History:   copyHistory(history),
			Progress:  tracker.Stage(stage.Number),
		}
		began := time.Now()
		result, err := o.runStage(ctx, stage, in)
		if err != nil {
			msg, recorded := tracker.Errored(stage.Number)
			if !recorded {
				tracker.Error(ctx, stage.Number, domain.ErrorTitle(err), err.Error())
				msg, _ = tracker.Errored(stage.Number)
			}
			stageLog.Error().Err(err).Dur("elapsed", time.Since(began)).Msg("stage failed")
			return o.abort(ctx, jobID, msg, err)
		}
		if result == nil {
			result = &StageResult{Stage: stage.Name}
		}
		result.Stage = stage.Name
		tracker.CompleteStep(ctx, stage.Number, stage.Title()+" complete")
		stageLog.Info().Int("artifacts", len(result.Artifacts)).Dur("elapsed", time.Since(began)).Msg("stage complete")

		history[stage.Name] = result
		prev = result
		artifacts = append(artifacts, result.Artifacts...)
	}

	done := context.WithoutCancel(ctx)
	manifest := storage.NewManifest(jobID, artifacts)
	if err := ws.WriteManifest(done, manifest); err != nil {
		return o.abort(ctx, jobID, domain.FormatStageError("Stage failed", err.Error()), err)
	}
	if err := o.store.Complete(done, jobID, manifest.OutputID); err != nil {
		return fmt.Errorf("pipeline: complete job %s: %w", jobID, err)
	}
	log.Info().Str("output_id", manifest.OutputID).Int("artifacts", len(artifacts)).Msg("job completed")
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, stage StageDescriptor, in StageInput) (result *StageResult, err error) {
	handler, ok := o.handlers[stage.Name]
	if !ok || handler == nil {
		return nil, &domain.ConfigurationError{Stage: stage.Name, Key: "handler"}
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Str("job_id", in.JobID).Str("stage", stage.Name).
				Bytes("stack", debug.Stack()).Msgf("stage panic: %v", r)
			result, err = nil, fmt.Errorf("stage %s panicked: %v", stage.Name, r)
		}
	}()
	return handler.Run(ctx, in)
}

// abort marks the job failed with message. Terminal writes ignore cancellation of ctx.
func (o *Orchestrator) abort(ctx context.Context, jobID, message string, cause error) error {
	if err := o.store.Fail(context.WithoutCancel(ctx), jobID, message); err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Msg("mark job failed")
		return errors.Join(cause, err)
	}
	o.logger.Warn().Str("job_id", jobID).Str("error", message).Msg("job failed")
	return cause
}

func copyHistory(in map[string]*StageResult) map[string]*StageResult {
	out := make(map[string]*StageResult, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

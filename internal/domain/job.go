package domain

import (
	"encoding/json"
	"time"
)

// SourceType enumerates the kinds of content a job can be built from.
type SourceType string

const (
	SourceAudio    SourceType = "audio"
	SourceVideo    SourceType = "video"
	SourceDocument SourceType = "document"
)

// Valid reports whether the source type is one of the supported kinds.
func (s SourceType) Valid() bool {
	switch s {
	case SourceAudio, SourceVideo, SourceDocument:
		return true
	default:
		return false
	}
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusError     JobStatus = "error"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// CanTransition enforces the forward-only job state machine. A queued job may be
// failed directly when it cannot be started at all.
func CanTransition(from, to JobStatus) bool {
	if from == to {
		return !from.Terminal()
	}
	switch from {
	case JobStatusQueued:
		return to == JobStatusRunning || to == JobStatusError
	case JobStatusRunning:
		return to == JobStatusCompleted || to == JobStatusError
	default:
		return false
	}
}

// Job is the persisted unit of work tracking one end-to-end pipeline run.
type Job struct {
	ID              string
	Status          JobStatus
	CurrentStep     int
	StepName        *string
	StepProgress    int
	OverallProgress int
	Message         *string
	Error           *string
	OutputID        *string
	InputData       json.RawMessage
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	UpdatedAt       time.Time
}

// Clone returns a deep copy so callers never share pointer fields with a store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.StepName = cloneString(j.StepName)
	out.Message = cloneString(j.Message)
	out.Error = cloneString(j.Error)
	out.OutputID = cloneString(j.OutputID)
	out.StartedAt = cloneTime(j.StartedAt)
	out.CompletedAt = cloneTime(j.CompletedAt)
	if j.InputData != nil {
		out.InputData = append(json.RawMessage(nil), j.InputData...)
	}
	return &out
}

// JobPatch is a partial update. Nil fields are left at their previous value.
type JobPatch struct {
	Status          *JobStatus
	CurrentStep     *int
	StepName        *string
	StepProgress    *int
	OverallProgress *int
	Message         *string
	Error           *string
	StartedAt       *time.Time
}

// Empty reports whether the patch carries no field at all.
func (p JobPatch) Empty() bool {
	return p.Status == nil &&
		p.CurrentStep == nil &&
		p.StepName == nil &&
		p.StepProgress == nil &&
		p.OverallProgress == nil &&
		p.Message == nil &&
		p.Error == nil &&
		p.StartedAt == nil
}

// Apply copies every set field of the patch onto job. UpdatedAt is always set.
func (p JobPatch) Apply(job *Job, now time.Time) {
	if p.Status != nil {
		job.Status = *p.Status
	}
	if p.CurrentStep != nil {
		job.CurrentStep = *p.CurrentStep
	}
	if p.StepName != nil {
		job.StepName = cloneString(p.StepName)
	}
	if p.StepProgress != nil {
		job.StepProgress = ClampPercent(*p.StepProgress)
	}
	if p.OverallProgress != nil {
		job.OverallProgress = ClampPercent(*p.OverallProgress)
	}
	if p.Message != nil {
		job.Message = cloneString(p.Message)
	}
	if p.Error != nil {
		job.Error = cloneString(p.Error)
	}
	if p.StartedAt != nil {
		job.StartedAt = cloneTime(p.StartedAt)
	}
	job.UpdatedAt = now
}

// ClampPercent bounds a progress value into 0..100.
func ClampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Ptr returns a pointer to v; handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

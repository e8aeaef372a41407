package domain

import (
	"encoding/json"
	"time"
)

// JobView is the job-status read model returned to polling clients.
type JobView struct {
	ID              string          `json:"id"`
	Status          JobStatus       `json:"status"`
	CurrentStep     int             `json:"currentStep"`
	StepName        *string         `json:"stepName"`
	StepProgress    int             `json:"stepProgress"`
	OverallProgress int             `json:"overallProgress"`
	Message         *string         `json:"message"`
	Error           *string         `json:"error"`
	OutputID        *string         `json:"outputId"`
	InputData       json.RawMessage `json:"inputData"`
	CreatedAt       int64           `json:"createdAt"`
	StartedAt       *int64          `json:"startedAt"`
	CompletedAt     *int64          `json:"completedAt"`
	UpdatedAt       int64           `json:"updatedAt"`
}

// NewJobView converts a job into its wire representation with epoch-ms timestamps.
func NewJobView(job *Job) JobView {
	input := job.InputData
	if len(input) == 0 {
		input = json.RawMessage("null")
	}
	return JobView{
		ID:              job.ID,
		Status:          job.Status,
		CurrentStep:     job.CurrentStep,
		StepName:        job.StepName,
		StepProgress:    job.StepProgress,
		OverallProgress: job.OverallProgress,
		Message:         job.Message,
		Error:           job.Error,
		OutputID:        job.OutputID,
		InputData:       input,
		CreatedAt:       job.CreatedAt.UnixMilli(),
		StartedAt:       epochMillis(job.StartedAt),
		CompletedAt:     epochMillis(job.CompletedAt),
		UpdatedAt:       job.UpdatedAt.UnixMilli(),
	}
}

func epochMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.UnixMilli()
	return &v
}

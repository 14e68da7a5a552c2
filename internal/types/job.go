package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a background job
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// IsValid checks if the status is a known value
func (s JobStatus) IsValid() bool {
	switch s {
	case JobPending, JobRunning, JobCompleted, JobFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status is a terminal state
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransitionTo checks whether a transition to next is legal.
// The only legal path is pending → running → {completed|failed};
// terminal states never transition.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobRunning
	case JobRunning:
		return next == JobCompleted || next == JobFailed
	}
	return false
}

// JobType enumerates the kinds of background work
type JobType string

const (
	JobTypeGeneration JobType = "generation"
	JobTypeExecution  JobType = "execution"
	JobTypeActivation JobType = "activation"
	JobTypeInterview  JobType = "interview"
	JobTypeBatch      JobType = "batch"
)

// IsValid checks if the job type is a known value
func (t JobType) IsValid() bool {
	switch t {
	case JobTypeGeneration, JobTypeExecution, JobTypeActivation, JobTypeInterview, JobTypeBatch:
		return true
	}
	return false
}

// Job is a trackable unit of asynchronous work with pollable status
type Job struct {
	ID              string          `json:"id"`
	Type            JobType         `json:"type"`
	Status          JobStatus       `json:"status"`
	ProgressPercent int             `json:"progress_percent"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	Input           json.RawMessage `json:"input,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	ProjectID       string          `json:"project_id,omitempty"`
	InterviewID     string          `json:"interview_id,omitempty"`
	CancelRequested bool            `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}

// Validate checks if the job has valid field values
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !j.Type.IsValid() {
		return fmt.Errorf("invalid job type: %s", j.Type)
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("invalid job status: %s", j.Status)
	}
	if j.ProgressPercent < 0 || j.ProgressPercent > 100 {
		return fmt.Errorf("progress_percent must be between 0 and 100 (got %d)", j.ProgressPercent)
	}
	if j.Status == JobCompleted && j.Error != "" {
		return fmt.Errorf("completed job cannot carry an error payload")
	}
	if j.Status == JobFailed && j.Result != nil {
		return fmt.Errorf("failed job cannot carry a result payload")
	}
	return nil
}

// Complexity is the caller-supplied signal used for model selection
type Complexity string

const (
	ComplexityLow  Complexity = "low"
	ComplexityHigh Complexity = "high"
)

// IsValid checks if the complexity is a known value
func (c Complexity) IsValid() bool {
	return c == ComplexityLow || c == ComplexityHigh
}

// ComplexityForPoints derives a complexity signal from an estimated size.
// Items at or above 5 story points get the stronger model.
func ComplexityForPoints(points int) Complexity {
	if points >= 5 {
		return ComplexityHigh
	}
	return ComplexityLow
}

package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		from JobStatus
		to   JobStatus
		ok   bool
	}{
		{JobPending, JobRunning, true},
		{JobPending, JobCompleted, false},
		{JobPending, JobFailed, false},
		{JobRunning, JobCompleted, true},
		{JobRunning, JobFailed, true},
		{JobRunning, JobPending, false},
		{JobCompleted, JobRunning, false},
		{JobCompleted, JobFailed, false},
		{JobFailed, JobRunning, false},
		{JobFailed, JobCompleted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestJobValidate(t *testing.T) {
	job := &Job{ID: "job-1", Type: JobTypeGeneration, Status: JobPending}
	require.NoError(t, job.Validate())

	tests := []struct {
		name   string
		mutate func(*Job)
	}{
		{"missing id", func(j *Job) { j.ID = "" }},
		{"unknown type", func(j *Job) { j.Type = "mystery" }},
		{"unknown status", func(j *Job) { j.Status = "paused" }},
		{"progress out of range", func(j *Job) { j.ProgressPercent = 101 }},
		{"completed with error", func(j *Job) {
			j.Status = JobCompleted
			j.Error = "boom"
		}},
		{"failed with result", func(j *Job) {
			j.Status = JobFailed
			j.Result = json.RawMessage(`{}`)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := *job
			tt.mutate(&bad)
			assert.Error(t, bad.Validate())
		})
	}
}

func TestWorkItemValidateBlockedPairing(t *testing.T) {
	item := &WorkItem{
		ID:        "item-1",
		ProjectID: "proj-1",
		Title:     "Build the importer",
		Kind:      KindTask,
		Status:    ItemActive,
	}
	require.NoError(t, item.Validate())

	blocked := *item
	blocked.Status = ItemBlocked
	assert.Error(t, blocked.Validate(), "blocked item needs a pending modification")

	blocked.Pending = &PendingModification{
		Proposed:        ProposedFields{Title: "Build the importer v2"},
		SimilarityScore: 0.92,
	}
	require.NoError(t, blocked.Validate())

	stray := *item
	stray.Pending = blocked.Pending
	assert.Error(t, stray.Validate(), "active item must not carry a pending modification")

	assert.True(t, blocked.IsLocked())
	assert.False(t, item.IsLocked())
}

func TestInterviewTurnHelpers(t *testing.T) {
	iv := &Interview{
		ID:        "iv-1",
		ProjectID: "proj-1",
		Mode:      ModeDiscovery,
		Status:    InterviewActive,
		Turns: []Turn{
			{Role: RoleQuestion, Text: "What does the project do?"},
			{Role: RoleAnswer, Text: "Sells shoes."},
			{Role: RoleQuestion, Text: "Who are the customers?"},
		},
	}
	require.NoError(t, iv.Validate())

	assert.Equal(t, 2, iv.QuestionCount())
	answer, ok := iv.LastAnswer()
	require.True(t, ok)
	assert.Equal(t, "Sells shoes.", answer)

	empty := &Interview{ID: "iv-2", ProjectID: "proj-1", Mode: ModeRetro, Status: InterviewActive}
	_, ok = empty.LastAnswer()
	assert.False(t, ok)
	assert.Equal(t, 0, empty.QuestionCount())
}

func TestComplexityForPoints(t *testing.T) {
	tests := []struct {
		points int
		want   Complexity
	}{
		{0, ComplexityLow},
		{1, ComplexityLow},
		{3, ComplexityLow},
		{5, ComplexityHigh},
		{8, ComplexityHigh},
		{13, ComplexityHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ComplexityForPoints(tt.points), "points=%d", tt.points)
	}
}

package task

import (
	"fmt"
	"time"
)

// Stage names the pipeline step a task delivers.
type Stage string

const (
	StageDownload Stage = "download"
	StageAnalyze  Stage = "analyze"
)

func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageDownload, StageAnalyze:
		return Stage(s), nil
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusRetrying   Status = "retrying"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Task is one delivery of a job id to a stage handler. The same job id may be
// delivered more than once.
type Task struct {
	ID          string    `json:"id"`
	Stage       Stage     `json:"stage"`
	JobID       string    `json:"jobId"`
	Status      Status    `json:"status"`
	Attempt     int       `json:"attempt"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
}

func (t *Task) snapshot() *Task {
	c := *t
	return &c
}

package domain

import (
	"encoding/json"
	"time"
)

type EvalJobStatus string

const (
	EvalQueued    EvalJobStatus = "queued"
	EvalRunning   EvalJobStatus = "running"
	EvalCompleted EvalJobStatus = "completed"
	EvalCancelled EvalJobStatus = "cancelled"
	EvalFailed    EvalJobStatus = "failed"
)

func (s EvalJobStatus) Terminal() bool {
	switch s {
	case EvalCompleted, EvalCancelled, EvalFailed:
		return true
	default:
		return false
	}
}

type EvalDatasetType string

const (
	EvalDatasetBuiltin EvalDatasetType = "builtin"
	EvalDatasetCustom  EvalDatasetType = "custom"
)

// EvalJob is an evaluation run. Unlike TrainingJob it has no paused state —
// the eval runner has nothing worth checkpointing mid-run.
type EvalJob struct {
	ID                string
	Name              string
	Status            EvalJobStatus
	Progress          float64
	ModelID           string
	AdapterID         *string
	DatasetID         string
	DatasetType       EvalDatasetType
	ConfigBlob        json.RawMessage
	ResultsBlob       json.RawMessage
	TotalExamples     int
	ExamplesCompleted int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
}

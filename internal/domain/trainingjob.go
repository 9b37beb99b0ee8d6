package domain

import (
	"encoding/json"
	"time"
)

type TrainingJobStatus string

const (
	TrainingQueued    TrainingJobStatus = "queued"
	TrainingRunning   TrainingJobStatus = "running"
	TrainingPaused    TrainingJobStatus = "paused"
	TrainingCompleted TrainingJobStatus = "completed"
	TrainingCancelled TrainingJobStatus = "cancelled"
	TrainingFailed    TrainingJobStatus = "failed"
)

// Terminal reports whether a status is absorbing: completed, cancelled and
// failed jobs never transition again.
func (s TrainingJobStatus) Terminal() bool {
	switch s {
	case TrainingCompleted, TrainingCancelled, TrainingFailed:
		return true
	default:
		return false
	}
}

var trainingJobTransitions = map[TrainingJobStatus][]TrainingJobStatus{
	TrainingQueued:  {TrainingRunning, TrainingCancelled, TrainingFailed},
	TrainingRunning: {TrainingPaused, TrainingCompleted, TrainingCancelled, TrainingFailed},
	TrainingPaused:  {TrainingRunning, TrainingCancelled},
}

// CanTransitionTo reports whether moving from s to next is a legal training
// job transition per the data model's state machine.
func (s TrainingJobStatus) CanTransitionTo(next TrainingJobStatus) bool {
	for _, allowed := range trainingJobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type AdapterType string

const (
	AdapterFull  AdapterType = "full"
	AdapterLoRA  AdapterType = "lora"
	AdapterQLoRA AdapterType = "qlora"
)

// TrainingJob is a fine-tuning run under supervision by the job runner.
// Blob fields hold opaque JSON the scheduler/runner pass through unexamined
// except for the keys they specifically read (see internal/jobrunner).
type TrainingJob struct {
	ID                string
	Name              string
	Status            TrainingJobStatus
	Progress          float64
	Model             string
	Dataset           string
	ConfigBlob        json.RawMessage
	MetricsBlob       json.RawMessage
	ResourceBlob      json.RawMessage
	Error             string
	AdapterType       AdapterType
	AdapterConfigBlob json.RawMessage
	AdapterID         *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
}

func (j TrainingJob) IsActive() bool {
	return j.Status == TrainingRunning || j.Status == TrainingPaused
}

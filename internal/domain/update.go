package domain

import (
	"encoding/json"
	"time"
)

type UpdateJobStatus string

const (
	UpdateJobPending     UpdateJobStatus = "pending"
	UpdateJobRunning     UpdateJobStatus = "running"
	UpdateJobCompleted   UpdateJobStatus = "completed"
	UpdateJobFailed      UpdateJobStatus = "failed"
	UpdateJobRolledBack  UpdateJobStatus = "rolled_back"
)

// UpdateStep is one named step of the apply sequence (e.g. "verify_signature",
// "verify_checksums", "backup", "apply_migrations", "finalize"), recorded with
// its own status so the UI can render progress step-by-step.
type UpdateStep struct {
	Name      string     `json:"name"`
	Status    string     `json:"status"` // pending|running|completed|failed|skipped
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// UpdateJob tracks one signed-bundle update application from verification
// through apply, with a rollback path if any step after backup fails.
type UpdateJob struct {
	ID             string
	Status         UpdateJobStatus
	BundleVersion  string
	FromVersion    string
	BundlePath     string
	ProgressPct    int
	CurrentStep    string
	Steps          []UpdateStep
	LogBlob        json.RawMessage
	Changelog      string
	ComponentsBlob json.RawMessage
	BackupPath     string
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

func (j UpdateJob) Terminal() bool {
	switch j.Status {
	case UpdateJobCompleted, UpdateJobFailed, UpdateJobRolledBack:
		return true
	default:
		return false
	}
}

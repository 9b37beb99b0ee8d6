package domain

import (
	"encoding/json"
	"time"
)

type AdapterStatus string

const (
	AdapterStatusReady  AdapterStatus = "ready"
	AdapterStatusActive AdapterStatus = "active"
)

// Adapter is a trained LoRA/QLoRA/full fine-tune artifact. At most one
// adapter with a given Name may be AdapterStatusActive at a time; the
// adapter manager enforces this by deactivating the incumbent before
// activating a replacement.
type Adapter struct {
	ID            string
	Name          string
	BaseModel     string
	AdapterType   AdapterType
	Status        AdapterStatus
	Path          string
	TrainingJobID *string
	ConfigBlob    json.RawMessage
	MetricsBlob   json.RawMessage
	SizeBytes     int64
	Version       int
	CreatedAt     time.Time
	ActivatedAt   *time.Time
}

func (a Adapter) IsActive() bool { return a.Status == AdapterStatusActive }

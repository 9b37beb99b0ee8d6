package domain

import (
	"encoding/json"
	"time"
)

type QuarantineJobStatus string

const (
	QuarantineJobPending   QuarantineJobStatus = "pending"
	QuarantineJobScanning  QuarantineJobStatus = "scanning"
	QuarantineJobCompleted QuarantineJobStatus = "completed"
)

type QuarantineSourceType string

const (
	QuarantineSourceUpload      QuarantineSourceType = "upload"
	QuarantineSourceUSBPath     QuarantineSourceType = "usb_path"
	QuarantineSourceModelImport QuarantineSourceType = "model_import"
)

// QuarantineJob tracks a batch submission to the pipeline: one job may cover
// many files, each progressing through its own per-file state machine.
type QuarantineJob struct {
	ID            string
	Status        QuarantineJobStatus
	TotalFiles    int
	FilesCompleted int
	FilesFlagged  int
	FilesClean    int
	SourceType    QuarantineSourceType
	SubmittedBy   *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

func (j QuarantineJob) IsDone() bool { return j.Status == QuarantineJobCompleted }

type QuarantineFileStatus string

const (
	QuarantineFilePending  QuarantineFileStatus = "pending"
	QuarantineFileScanning QuarantineFileStatus = "scanning"
	QuarantineFileClean    QuarantineFileStatus = "clean"
	QuarantineFileHeld     QuarantineFileStatus = "held"
	QuarantineFileApproved QuarantineFileStatus = "approved"
	QuarantineFileRejected QuarantineFileStatus = "rejected"
)

// Stage names for the fixed pipeline DAG: sniff -> AV -> YARA -> content
// policy -> sanitize -> hash blacklist. Order here is scan order.
const (
	StageSniff          = "sniff"
	StageAntivirus      = "antivirus"
	StageYARA           = "yara"
	StageContentPolicy  = "content_policy"
	StageSanitize       = "sanitize"
	StageHashBlacklist  = "hash_blacklist"
)

// PipelineStages is the fixed scan order every submitted file walks through.
var PipelineStages = []string{
	StageSniff, StageAntivirus, StageYARA, StageContentPolicy, StageSanitize, StageHashBlacklist,
}

type RiskSeverity string

const (
	SeverityNone     RiskSeverity = "none"
	SeverityLow      RiskSeverity = "low"
	SeverityMedium   RiskSeverity = "medium"
	SeverityHigh     RiskSeverity = "high"
	SeverityCritical RiskSeverity = "critical"
)

var severityRank = map[RiskSeverity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// MaxSeverity returns whichever of a, b ranks higher. Used to fold a new
// finding's severity into a file's running worst-case severity.
func MaxSeverity(a, b RiskSeverity) RiskSeverity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// Finding is one stage's verdict on a file. Details is stage-specific: a
// YARA rule name, a ClamAV signature name, an offending MIME type, etc.
type Finding struct {
	Stage    string       `json:"stage"`
	Severity RiskSeverity `json:"severity"`
	Code     string       `json:"code"`
	Message  string       `json:"message"`
	Details  any          `json:"details,omitempty"`
}

// QuarantinePaths records where a file lives at each point in its lifecycle:
// the original upload path, its sanitized copy (once sanitize has run), and
// its final destination once approved.
type QuarantinePaths struct {
	Quarantine string `json:"quarantine"`
	Sanitized  string `json:"sanitized,omitempty"`
	Destination string `json:"destination,omitempty"`
}

// QuarantineFile is one file's journey through the pipeline.
type QuarantineFile struct {
	ID               string
	JobID            string
	OriginalFilename string
	FileSize         int64
	MimeType         string
	SHA256Hash       string
	Status           QuarantineFileStatus
	CurrentStage     string
	RiskSeverity     RiskSeverity
	Findings         []Finding
	Paths            QuarantinePaths
	ReviewReason     string
	ReviewedBy       *string
	ReviewedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AddFinding appends a stage verdict and folds its severity into the file's
// running worst-case RiskSeverity.
func (f *QuarantineFile) AddFinding(finding Finding) {
	f.Findings = append(f.Findings, finding)
	f.RiskSeverity = MaxSeverity(f.RiskSeverity, finding.Severity)
}

// FindingsJSON marshals Findings for storage in the findings_blob column.
func (f QuarantineFile) FindingsJSON() (json.RawMessage, error) {
	return json.Marshal(f.Findings)
}

package jobrunner

import (
	"encoding/json"
	"os"
)

// StatusFile is the worker's status.json contract. Training jobs populate
// the loss/lr/token fields; eval jobs populate the examples fields. Both
// populate error/adapter_id/results only on terminal exit.
type StatusFile struct {
	Step              int             `json:"step"`
	TotalSteps        int             `json:"total_steps"`
	LastLoss          float64         `json:"last_loss"`
	LearningRate      float64         `json:"learning_rate"`
	TokensProcessed   int64           `json:"tokens_processed"`
	ETASeconds        int64           `json:"eta_seconds"`
	LossHistory       []float64       `json:"loss_history"`
	ExamplesCompleted int             `json:"examples_completed"`
	TotalExamples     int             `json:"total_examples"`
	Error             string          `json:"error,omitempty"`
	AdapterID         string          `json:"adapter_id,omitempty"`
	Results           json.RawMessage `json:"results,omitempty"`
}

// Progress is step/total_steps projected to a percentage, matching the
// supervisor's per-tick projection in the spec.
func (s StatusFile) Progress() float64 {
	if s.TotalSteps > 0 {
		return 100 * float64(s.Step) / float64(s.TotalSteps)
	}
	if s.TotalExamples > 0 {
		return 100 * float64(s.ExamplesCompleted) / float64(s.TotalExamples)
	}
	return 0
}

// recentLossHistory caps the loss history the supervisor persists to the
// last 100 points, per spec.
func (s StatusFile) recentLossHistory() []float64 {
	if len(s.LossHistory) <= 100 {
		return s.LossHistory
	}
	return s.LossHistory[len(s.LossHistory)-100:]
}

// readStatusFile reads and parses status.json. Malformed or transiently
// partial JSON (the worker writes via tmp+rename, but a reader can still
// race a rename) is reported back to the caller to skip-and-retry rather
// than treated as fatal.
func readStatusFile(path string) (StatusFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StatusFile{}, err
	}
	var sf StatusFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return StatusFile{}, err
	}
	return sf, nil
}

// writeConfigFile atomically writes run_config to {status_dir}/config.json
// via write-to-tmp-then-rename, the same durability discipline the spec
// requires of the worker's own status writes.
func writeConfigFile(path string, runConfig json.RawMessage) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, runConfig, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

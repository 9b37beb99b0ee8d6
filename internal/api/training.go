package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/google/uuid"

	"github.com/vault-ai/control-plane/internal/apierr"
	"github.com/vault-ai/control-plane/internal/domain"
	"github.com/vault-ai/control-plane/internal/httputil"
)

func (s *Server) registerTrainingRoutes(r *mux.Router) {
	r.Handle("/vault/training/jobs", s.protect(s.handleListTrainingJobs)).Methods(http.MethodGet)
	r.Handle("/vault/training/jobs", s.protect(s.handleCreateTrainingJob)).Methods(http.MethodPost)
	r.Handle("/vault/training/jobs/{id}", s.protect(s.handleGetTrainingJob)).Methods(http.MethodGet)
	r.Handle("/vault/training/jobs/{id}", s.admin(s.handleDeleteTrainingJob)).Methods(http.MethodDelete)
	r.Handle("/vault/training/jobs/{id}/cancel", s.protect(s.handleCancelTrainingJob)).Methods(http.MethodPost)
	r.Handle("/vault/training/jobs/{id}/pause", s.protect(s.handlePauseTrainingJob)).Methods(http.MethodPost)
	r.Handle("/vault/training/validate", s.protect(s.handleValidateTrainingDataset)).Methods(http.MethodPost)
}

type createTrainingJobRequest struct {
	Name        string          `json:"name"`
	Model       string          `json:"model"`
	Dataset     string          `json:"dataset"`
	AdapterType string          `json:"adapter_type"`
	Config      json.RawMessage `json:"config"`
}

func (s *Server) handleListTrainingJobs(w http.ResponseWriter, r *http.Request) {
	offset, limit := httputil.PaginationParams(r, 50, 200)
	jobs, err := s.store.ListTrainingJobs(r.Context(), offset, limit)
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("list_training_jobs", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetTrainingJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.store.GetTrainingJob(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.NotFound("training_job", id))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}

// handleCreateTrainingJob enqueues a job row and immediately asks the
// scheduler whether it may start. A denied admission leaves the job queued
// rather than failing the request — spec §4.1 treats admission as something
// that can become true later once the GPU frees up.
func (s *Server) handleCreateTrainingJob(w http.ResponseWriter, r *http.Request) {
	var req createTrainingJobRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" || req.Model == "" {
		httputil.WriteServiceError(w, r, apierr.MissingParameter("name or model"))
		return
	}

	job, err := s.store.CreateTrainingJob(r.Context(), domain.TrainingJob{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Status:      domain.TrainingQueued,
		Model:       req.Model,
		Dataset:     req.Dataset,
		AdapterType: domain.AdapterType(req.AdapterType),
		ConfigBlob:  req.Config,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	})
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("create_training_job", err))
		return
	}

	canStart, reason, err := s.scheduler.CanStart(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if canStart {
		if err := s.training.StartJob(r.Context(), job.ID, req.Config); err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		job.Status = domain.TrainingRunning
	} else if s.log != nil {
		s.log.WithField("job_id", job.ID).WithField("reason", reason).Info("training job queued, admission deferred")
	}

	s.auditLog.Admin(r.Context(), "training.create", job.ID)
	httputil.WriteJSON(w, http.StatusCreated, job)
}

// handleCancelTrainingJob loads the job row first since
// jobrunner.Runner.CancelJob silently no-ops for any job that isn't the
// currently active one — without this check, cancelling an already
// completed/cancelled/failed job would return 200 instead of the 409
// spec §8's job-terminality rule requires.
func (s *Server) handleCancelTrainingJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.store.GetTrainingJob(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.NotFound("training_job", id))
		return
	}
	if job.Status.Terminal() {
		httputil.WriteServiceError(w, r, apierr.Conflict("training job is already in a terminal state"))
		return
	}
	if err := s.training.CancelJob(id); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	s.auditLog.Admin(r.Context(), "training.cancel", id)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// handleDeleteTrainingJob permanently removes a job row. Only a job already
// in a terminal state may be deleted — the same terminality rule
// handleCancelTrainingJob enforces, so deleting a running job can't yank
// state out from under the runner that still owns it.
func (s *Server) handleDeleteTrainingJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.store.GetTrainingJob(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.NotFound("training_job", id))
		return
	}
	if !job.Status.Terminal() {
		httputil.WriteServiceError(w, r, apierr.Conflict("training job must reach a terminal state before it can be deleted"))
		return
	}
	if err := s.store.DeleteTrainingJob(r.Context(), id); err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("delete_training_job", err))
		return
	}
	s.auditLog.Admin(r.Context(), "training.delete", id)
	w.WriteHeader(http.StatusNoContent)
}

type datasetValidationRequest struct {
	Path string `json:"path"`
}

type datasetValidationFinding struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

type datasetValidationResponse struct {
	Valid       bool                       `json:"valid"`
	Format      *string                    `json:"format,omitempty"`
	RecordCount int                        `json:"record_count"`
	Findings    []datasetValidationFinding `json:"findings"`
}

// looksLikeQuarantineFileID reports whether path is shaped like a UUID
// rather than a filesystem path, matching validation.py's own heuristic
// for telling a quarantine file ID apart from a real path.
func looksLikeQuarantineFileID(path string) bool {
	return len(path) == 36 && strings.Count(path, "-") == 4
}

// handleValidateTrainingDataset resolves path — either a direct filesystem
// path or a quarantine file ID that must already carry a clean/approved
// status — and runs a lightweight structural check: .jsonl extension,
// every non-blank line must parse as JSON. Grounded on
// original_source/app/services/training/validation.py's validate_dataset;
// the deeper TrainingDataValidator/TrainingDataAnalyzer content checks that
// file also runs are a separate quarantine-pipeline concern this endpoint
// does not duplicate — it only gates admission into a training job, not
// re-run the full quarantine scan.
func (s *Server) handleValidateTrainingDataset(w http.ResponseWriter, r *http.Request) {
	var req datasetValidationRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		httputil.WriteServiceError(w, r, apierr.MissingParameter("path"))
		return
	}

	path := req.Path
	if _, err := os.Stat(path); err != nil && looksLikeQuarantineFileID(path) {
		qf, qerr := s.store.GetQuarantineFile(r.Context(), path)
		if qerr != nil {
			httputil.WriteServiceError(w, r, apierr.NotFound("quarantine_file", path))
			return
		}
		if qf.Status != domain.QuarantineFileClean && qf.Status != domain.QuarantineFileApproved {
			httputil.WriteServiceError(w, r, apierr.Conflict(fmt.Sprintf(
				"file %q has quarantine status %q; only clean or approved files may be used for training",
				qf.OriginalFilename, qf.Status)))
			return
		}
		resolved := qf.Paths.Sanitized
		if resolved == "" {
			resolved = qf.Paths.Destination
		}
		if resolved == "" {
			resolved = qf.Paths.Quarantine
		}
		path = resolved
	}

	data, err := os.ReadFile(path)
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.NotFound("dataset_file", path))
		return
	}

	if strings.ToLower(filepath.Ext(path)) != ".jsonl" {
		httputil.WriteJSON(w, http.StatusOK, datasetValidationResponse{
			Valid: false,
			Findings: []datasetValidationFinding{{
				Severity: "high",
				Code:     "unsupported_format",
				Message:  fmt.Sprintf("unsupported format %q: only .jsonl files are supported for training", filepath.Ext(path)),
			}},
		})
		return
	}

	recordCount := 0
	var findings []datasetValidationFinding
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			findings = append(findings, datasetValidationFinding{
				Severity: "medium", Code: "invalid_json_line",
				Message: fmt.Sprintf("line %d is not valid JSON", i+1),
			})
			continue
		}
		recordCount++
	}
	if recordCount == 0 {
		findings = append(findings, datasetValidationFinding{
			Severity: "critical", Code: "empty_dataset", Message: "no valid JSON records found",
		})
	}

	hasErrors := false
	for _, f := range findings {
		if f.Severity == "medium" || f.Severity == "high" || f.Severity == "critical" {
			hasErrors = true
			break
		}
	}

	format := "jsonl"
	httputil.WriteJSON(w, http.StatusOK, datasetValidationResponse{
		Valid:       !hasErrors,
		Format:      &format,
		RecordCount: recordCount,
		Findings:    findings,
	})
}

func (s *Server) handlePauseTrainingJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.training.PauseJob(id); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	s.auditLog.Admin(r.Context(), "training.pause", id)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "pausing"})
}

package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/google/uuid"

	"github.com/vault-ai/control-plane/internal/apierr"
	"github.com/vault-ai/control-plane/internal/domain"
	"github.com/vault-ai/control-plane/internal/evalscoring"
	"github.com/vault-ai/control-plane/internal/httputil"
	"github.com/vault-ai/control-plane/internal/proxy"
)

func (s *Server) registerEvalRoutes(r *mux.Router) {
	r.Handle("/vault/eval/jobs", s.protect(s.handleListEvalJobs)).Methods(http.MethodGet)
	r.Handle("/vault/eval/jobs", s.protect(s.handleCreateEvalJob)).Methods(http.MethodPost)
	r.Handle("/vault/eval/jobs/{id}", s.protect(s.handleGetEvalJob)).Methods(http.MethodGet)
	r.Handle("/vault/eval/jobs/{id}", s.admin(s.handleDeleteEvalJob)).Methods(http.MethodDelete)
	r.Handle("/vault/eval/jobs/{id}/cancel", s.protect(s.handleCancelEvalJob)).Methods(http.MethodPost)
	r.Handle("/vault/eval/quick", s.protect(s.handleQuickEval)).Methods(http.MethodPost)
	r.Handle("/vault/eval/compare", s.protect(s.handleCompareEvalJobs)).Methods(http.MethodGet)
	r.Handle("/vault/eval/datasets", s.protect(s.handleListEvalDatasets)).Methods(http.MethodGet)
}

type createEvalJobRequest struct {
	Name        string          `json:"name"`
	ModelID     string          `json:"model_id"`
	AdapterID   *string         `json:"adapter_id"`
	DatasetID   string          `json:"dataset_id"`
	DatasetType string          `json:"dataset_type"`
	Config      json.RawMessage `json:"config"`
}

func (s *Server) handleListEvalJobs(w http.ResponseWriter, r *http.Request) {
	offset, limit := httputil.PaginationParams(r, 50, 200)
	jobs, err := s.store.ListEvalJobs(r.Context(), offset, limit)
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("list_eval_jobs", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetEvalJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.store.GetEvalJob(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.NotFound("eval_job", id))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}

// handleCreateEvalJob always starts immediately: eval jobs never compete for
// the GPU slot through the scheduler (spec §4.1 scopes GPU admission to
// training only), so the eval runner's own single-job-in-flight guard is
// the only admission check that applies.
func (s *Server) handleCreateEvalJob(w http.ResponseWriter, r *http.Request) {
	var req createEvalJobRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" || req.ModelID == "" || req.DatasetID == "" {
		httputil.WriteServiceError(w, r, apierr.MissingParameter("name, model_id or dataset_id"))
		return
	}

	job, err := s.store.CreateEvalJob(r.Context(), domain.EvalJob{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Status:      domain.EvalQueued,
		ModelID:     req.ModelID,
		AdapterID:   req.AdapterID,
		DatasetID:   req.DatasetID,
		DatasetType: domain.EvalDatasetType(req.DatasetType),
		ConfigBlob:  req.Config,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	})
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("create_eval_job", err))
		return
	}

	if err := s.eval.StartJob(r.Context(), job.ID, req.Config); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	job.Status = domain.EvalRunning

	s.auditLog.Admin(r.Context(), "eval.create", job.ID)
	httputil.WriteJSON(w, http.StatusCreated, job)
}

// handleCancelEvalJob loads the job row first for the same reason
// handleCancelTrainingJob does: jobrunner.Runner.CancelJob no-ops for any
// job that isn't the active one, so an already terminal job must be
// rejected with 409 rather than silently reporting success.
func (s *Server) handleCancelEvalJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.store.GetEvalJob(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.NotFound("eval_job", id))
		return
	}
	if job.Status.Terminal() {
		httputil.WriteServiceError(w, r, apierr.Conflict("eval job is already in a terminal state"))
		return
	}
	if err := s.eval.CancelJob(id); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	s.auditLog.Admin(r.Context(), "eval.cancel", id)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// handleDeleteEvalJob permanently removes a job row, gated by the same
// terminality rule handleDeleteTrainingJob enforces.
func (s *Server) handleDeleteEvalJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.store.GetEvalJob(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.NotFound("eval_job", id))
		return
	}
	if !job.Status.Terminal() {
		httputil.WriteServiceError(w, r, apierr.Conflict("eval job must reach a terminal state before it can be deleted"))
		return
	}
	if err := s.store.DeleteEvalJob(r.Context(), id); err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("delete_eval_job", err))
		return
	}
	s.auditLog.Admin(r.Context(), "eval.delete", id)
	w.WriteHeader(http.StatusNoContent)
}

const (
	maxQuickEvalCases   = 50
	quickEvalConcurrency = 5
)

type quickEvalTestCase struct {
	Prompt       string  `json:"prompt"`
	Expected     *string `json:"expected"`
	SystemPrompt *string `json:"system_prompt"`
}

type quickEvalRequest struct {
	ModelID     string              `json:"model_id"`
	TestCases   []quickEvalTestCase `json:"test_cases"`
	Metrics     []string            `json:"metrics"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature float64             `json:"temperature"`
}

type quickEvalCaseResult struct {
	Index     int                `json:"index"`
	Prompt    string             `json:"prompt"`
	Expected  *string            `json:"expected"`
	Generated string             `json:"generated"`
	Scores    map[string]float64 `json:"scores"`
}

type quickEvalResponse struct {
	Results         []quickEvalCaseResult `json:"results"`
	AggregateScores map[string]float64    `json:"aggregate_scores"`
	DurationMs      int64                 `json:"duration_ms"`
}

// handleQuickEval runs a small synchronous scoring pass entirely outside the
// job-queue admission path: it never touches the GPU scheduler's
// active-job slot, matching original_source/app/services/eval/quick.py
// being a lightweight code path distinct from the full eval job runner.
// Concurrency is capped at 5 in-flight backend calls, the same batch size
// quick.py's run_quick_eval uses.
func (s *Server) handleQuickEval(w http.ResponseWriter, r *http.Request) {
	var req quickEvalRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if len(req.TestCases) == 0 {
		httputil.WriteServiceError(w, r, apierr.MissingParameter("test_cases"))
		return
	}
	if len(req.TestCases) > maxQuickEvalCases {
		httputil.WriteServiceError(w, r, apierr.InvalidInput("test_cases", "quick eval supports a maximum of 50 test cases"))
		return
	}
	if req.ModelID == "" {
		httputil.WriteServiceError(w, r, apierr.MissingParameter("model_id"))
		return
	}
	metrics := req.Metrics
	if len(metrics) == 0 {
		metrics = []string{"accuracy", "f1"}
	}

	authHeader := r.Header.Get("Authorization")
	started := time.Now()

	results := make([]quickEvalCaseResult, len(req.TestCases))
	scoreSums := make(map[string][]float64)
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, quickEvalConcurrency)

	for i, tc := range req.TestCases {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, tc quickEvalTestCase) {
			defer wg.Done()
			defer func() { <-sem }()

			systemPrompt := ""
			if tc.SystemPrompt != nil {
				systemPrompt = *tc.SystemPrompt
			}
			generated, err := s.inference.CallChatCompletion(r.Context(), authHeader, proxy.ChatCompletionRequest{
				Model:        req.ModelID,
				SystemPrompt: systemPrompt,
				Prompt:       tc.Prompt,
				MaxTokens:    req.MaxTokens,
				Temperature:  req.Temperature,
			})
			if err != nil {
				generated = "[ERROR] " + err.Error()
			}
			scores := evalscoring.ScoreExample(generated, tc.Expected, metrics)

			mu.Lock()
			results[i] = quickEvalCaseResult{
				Index: i, Prompt: tc.Prompt, Expected: tc.Expected,
				Generated: generated, Scores: scores,
			}
			for metric, value := range scores {
				scoreSums[metric] = append(scoreSums[metric], value)
			}
			mu.Unlock()
		}(i, tc)
	}
	wg.Wait()

	aggregate := make(map[string]float64, len(scoreSums))
	for metric, values := range scoreSums {
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		aggregate[metric] = sum / float64(len(values))
	}

	s.auditLog.Admin(r.Context(), "eval.quick", req.ModelID)
	httputil.WriteJSON(w, http.StatusOK, quickEvalResponse{
		Results:         results,
		AggregateScores: aggregate,
		DurationMs:      time.Since(started).Milliseconds(),
	})
}

type evalCompareEntry struct {
	JobID   string          `json:"job_id"`
	Name    string          `json:"name"`
	ModelID string          `json:"model_id"`
	Results json.RawMessage `json:"results"`
}

type evalCompareOmission struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

type evalCompareResponse struct {
	Entries []evalCompareEntry     `json:"entries"`
	Omitted []evalCompareOmission  `json:"omitted"`
}

// handleCompareEvalJobs loads each requested job's results_blob and returns
// them side by side. Unlike original_source/app/services/eval/service.py's
// compare_jobs, which hard-errors on a missing or non-completed job, this
// omits that job with a note and keeps going — a dashboard comparison view
// should never 500 because one of several job IDs in the query string was
// mistyped or is still running. Datasets are not compared: jobs run against
// different datasets are returned side by side.
func (s *Server) handleCompareEvalJobs(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("job_ids")
	if raw == "" {
		httputil.WriteServiceError(w, r, apierr.MissingParameter("job_ids"))
		return
	}

	var entries []evalCompareEntry
	var omitted []evalCompareOmission
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		job, err := s.store.GetEvalJob(r.Context(), id)
		if err != nil {
			omitted = append(omitted, evalCompareOmission{JobID: id, Reason: "job not found"})
			continue
		}
		if job.Status != domain.EvalCompleted {
			omitted = append(omitted, evalCompareOmission{JobID: id, Reason: "job is not completed (status=" + string(job.Status) + ")"})
			continue
		}
		entries = append(entries, evalCompareEntry{
			JobID: job.ID, Name: job.Name, ModelID: job.ModelID, Results: job.ResultsBlob,
		})
	}

	httputil.WriteJSON(w, http.StatusOK, evalCompareResponse{Entries: entries, Omitted: omitted})
}

type evalDatasetInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	NumExamples int    `json:"num_examples"`
}

type evalDatasetList struct {
	Datasets []evalDatasetInfo `json:"datasets"`
	Total    int                `json:"total"`
}

// handleListEvalDatasets reads a manifest.json under the configured eval
// datasets directory, the same "builtin" catalog dataset_type=builtin
// resolves against. A missing or malformed manifest yields an empty list
// rather than an error — there is nothing wrong with an appliance that
// hasn't been seeded with any builtin datasets yet.
func (s *Server) handleListEvalDatasets(w http.ResponseWriter, r *http.Request) {
	empty := evalDatasetList{Datasets: []evalDatasetInfo{}, Total: 0}

	manifestPath := filepath.Join(s.cfg.JobRunner.EvalDatasetsDir, "manifest.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		httputil.WriteJSON(w, http.StatusOK, empty)
		return
	}

	var manifest struct {
		Datasets []evalDatasetInfo `json:"datasets"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		httputil.WriteJSON(w, http.StatusOK, empty)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, evalDatasetList{Datasets: manifest.Datasets, Total: len(manifest.Datasets)})
}

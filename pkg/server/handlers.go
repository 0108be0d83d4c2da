package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/twinforge/twinforge/pkg/configstore"
	"github.com/twinforge/twinforge/pkg/dispatch"
	"github.com/twinforge/twinforge/pkg/pipeline"
	"github.com/twinforge/twinforge/pkg/scenario"
	"github.com/twinforge/twinforge/pkg/stores"
)

// provisionRequest is the body of POST /api/provision.
type provisionRequest struct {
	ScenarioID string            `json:"scenario_id"`
	Resume     bool              `json:"resume"`
	Overrides  map[string]string `json:"overrides,omitempty"`
}

// queryRequest is the body of the query dispatch endpoints.
type queryRequest struct {
	ScenarioID string         `json:"scenario_id"`
	Query      string         `json:"query"`
	Params     map[string]any `json:"params,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Class string `json:"class,omitempty"`
}

// handleProvision starts (or resumes) a provisioning run and streams its
// progress events as newline-delimited JSON until the terminal event. The
// run itself executes in the background; a client that disconnects gets the
// outcome later from the run endpoints.
func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, pipeline.NewValidationError("malformed request body", err))
		return
	}
	if req.ScenarioID == "" {
		writeError(w, pipeline.NewValidationError("scenario_id is required", nil))
		return
	}

	cfg := s.scenarios.Get(req.ScenarioID)
	if cfg == nil {
		writeError(w, pipeline.NewValidationError("unknown scenario "+req.ScenarioID, nil))
		return
	}

	pipelineReq := pipeline.Request{Config: cfg, Overrides: req.Overrides}
	var (
		state  *pipeline.RunState
		events <-chan pipeline.ProgressEvent
		err    error
	)
	if req.Resume {
		state, events, err = s.orch.Resume(r.Context(), pipelineReq)
	} else {
		state, events, err = s.orch.Start(r.Context(), pipelineReq)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Run-ID", state.RunID)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			// Client went away; the run keeps going in the background.
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := enc.Encode(event); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": s.scenarios.IDs()})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunProgress(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	events, err := s.runs.GetProgress(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "events": events})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	scenarioID := r.URL.Query().Get("scenario_id")
	if scenarioID == "" {
		writeError(w, pipeline.NewValidationError("scenario_id query parameter is required", nil))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, pipeline.NewValidationError("limit must be a non-negative integer", err))
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(r.Context(), scenarioID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenario_id": scenarioID, "runs": runs})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	if err := s.orch.Cancel(runID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": runID, "cancelling": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.checker.Check(r.Context()))
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings.Load(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var settings configstore.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, pipeline.NewValidationError("malformed request body", err))
		return
	}
	if err := s.settings.Save(r.Context(), &settings); err != nil {
		writeError(w, pipeline.NewValidationError("invalid settings", err))
		return
	}
	if s.checker != nil {
		s.checker.Invalidate()
	}
	writeJSON(w, http.StatusOK, &settings)
}

func (s *Server) handleQueryGraph(w http.ResponseWriter, r *http.Request) {
	s.handleQuery(w, r, s.dispatcher.Graph)
}

func (s *Server) handleQueryTelemetry(w http.ResponseWriter, r *http.Request) {
	s.handleQuery(w, r, s.dispatcher.Telemetry)
}

type dispatchFn func(ctx context.Context, cfg *scenario.Config, query string, params map[string]any) (*dispatch.Result, error)

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request, fn dispatchFn) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, pipeline.NewValidationError("malformed request body", err))
		return
	}
	if req.ScenarioID == "" {
		writeError(w, pipeline.NewValidationError("scenario_id is required", nil))
		return
	}
	cfg := s.scenarios.Get(req.ScenarioID)
	if cfg == nil {
		writeError(w, pipeline.NewValidationError("unknown scenario "+req.ScenarioID, nil))
		return
	}

	result, err := fn(r.Context(), cfg, req.Query, req.Params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	class := ""

	var perr *pipeline.Error
	switch {
	case errors.As(err, &perr):
		class = string(perr.Class)
		switch perr.Class {
		case pipeline.ErrorClassValidation:
			status = http.StatusBadRequest
		case pipeline.ErrorClassRunInProgress:
			status = http.StatusConflict
		case pipeline.ErrorClassCancelled:
			status = http.StatusConflict
		case pipeline.ErrorClassTransient:
			status = http.StatusServiceUnavailable
		}
	case errors.Is(err, stores.ErrNotFound):
		status = http.StatusNotFound
	}

	writeJSON(w, status, errorResponse{Error: err.Error(), Class: class})
}

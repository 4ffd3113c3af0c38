package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parkflow/parkflow-core/internal/automation"
)

// stopTimeout bounds how long POST /api/flow/stop waits for chains to unwind.
const stopTimeout = 15 * time.Second

// flowCommandRequest is the optional body of POST /api/flow/start.
type flowCommandRequest struct {
	FlowID string `json:"flow_id"`
}

// handleGetFlow returns the stored graph; a flow never saved is empty.
func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	if s.flows == nil {
		writeUnavailable(w, "flow store not configured")
		return
	}

	flowID := chi.URLParam(r, "flowID")
	g, err := s.flows.Load(r.Context(), flowID)
	if errors.Is(err, automation.ErrInvalidFlowID) {
		writeBadRequest(w, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("failed to load flow", "flow_id", flowID, "error", err)
		writeInternalError(w, "failed to load flow")
		return
	}

	writeJSON(w, http.StatusOK, g)
}

// handleSaveFlow replaces the stored graph. Saving the running flow is
// refused; stop it first.
//
// The graph is stored even when it would not pass validation, so a
// half-built flow can be saved from the editor. Problems are returned
// alongside so the editor can show them.
func (s *Server) handleSaveFlow(w http.ResponseWriter, r *http.Request) {
	if s.flows == nil {
		writeUnavailable(w, "flow store not configured")
		return
	}

	flowID := chi.URLParam(r, "flowID")
	if s.runner != nil && s.runner.IsRunning(flowID) {
		writeConflict(w, automation.ErrFlowRunning.Error())
		return
	}

	var g automation.Graph
	if err := decodeJSON(r, &g); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.flows.Save(r.Context(), flowID, &g); err != nil {
		if errors.Is(err, automation.ErrInvalidFlowID) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("failed to save flow", "flow_id", flowID, "error", err)
		writeInternalError(w, "failed to save flow")
		return
	}

	resp := map[string]any{
		"flow_id": flowID,
		"nodes":   len(g.Nodes),
		"edges":   len(g.Edges),
		"valid":   true,
	}
	var verr *automation.ValidationError
	if err := automation.ValidateGraph(&g); errors.As(err, &verr) {
		resp["valid"] = false
		resp["problems"] = verr.Problems
	}

	s.logger.Info("flow saved", "flow_id", flowID, "nodes", len(g.Nodes), "edges", len(g.Edges))
	writeJSON(w, http.StatusOK, resp)
}

// handleStartFlow starts the runner on the requested (or default) flow.
func (s *Server) handleStartFlow(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeUnavailable(w, "flow runner not configured")
		return
	}

	var req flowCommandRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	flowID := req.FlowID
	if flowID == "" {
		flowID = s.defaultFlowID
	}

	// The run outlives the request; the runner detaches it from cancellation.
	err := s.runner.Start(r.Context(), flowID)
	var verr *automation.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status":   http.StatusBadRequest,
			"code":     ErrCodeValidation,
			"message":  "flow failed validation",
			"problems": verr.Problems,
		})
		return
	case errors.Is(err, automation.ErrAlreadyRunning):
		writeConflict(w, err.Error())
		return
	default:
		s.logger.Error("failed to start flow", "flow_id", flowID, "error", err)
		writeInternalError(w, "failed to start flow")
		return
	}

	writeJSON(w, http.StatusOK, s.runner.Status())
}

// handleStopFlow stops the runner and waits for in-flight chains to unwind.
// Stopping a stopped runner succeeds.
func (s *Server) handleStopFlow(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeUnavailable(w, "flow runner not configured")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), stopTimeout)
	defer cancel()

	if err := s.runner.Stop(ctx); err != nil {
		s.logger.Error("failed to stop flow", "error", err)
		writeInternalError(w, "flow did not stop in time")
		return
	}

	writeJSON(w, http.StatusOK, s.runner.Status())
}

// handleFlowStatus reports the runner state.
func (s *Server) handleFlowStatus(w http.ResponseWriter, _ *http.Request) {
	if s.runner == nil {
		writeUnavailable(w, "flow runner not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.runner.Status())
}

// handleListNodeKinds lists the node kinds a flow may contain, for the
// editor's palette.
func (s *Server) handleListNodeKinds(w http.ResponseWriter, _ *http.Request) {
	kinds := automation.AllKinds()
	writeJSON(w, http.StatusOK, map[string]any{
		"kinds": kinds,
		"count": len(kinds),
	})
}

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parkflow/parkflow-core/internal/automation"
	"github.com/parkflow/parkflow-core/internal/park"
)

// setStateRequest is the body of PUT /api/parks/{name}/state.
type setStateRequest struct {
	State *park.State `json:"state"`
}

// handleListParks lists parks, optionally filtered by ?group=.
func (s *Server) handleListParks(w http.ResponseWriter, r *http.Request) {
	if s.parks == nil {
		writeUnavailable(w, "park registry not configured")
		return
	}

	parks, err := s.parks.List(r.Context(), r.URL.Query().Get("group"))
	if err != nil {
		s.logger.Error("failed to list parks", "error", err)
		writeInternalError(w, "failed to list parks")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"parks": parks,
		"count": len(parks),
	})
}

// handleGetPark returns one park, including whether a move currently holds it.
func (s *Server) handleGetPark(w http.ResponseWriter, r *http.Request) {
	if s.parks == nil {
		writeUnavailable(w, "park registry not configured")
		return
	}

	name := chi.URLParam(r, "name")
	p, err := s.parks.Get(r.Context(), name)
	if errors.Is(err, park.ErrNotFound) {
		writeNotFound(w, "park not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get park", "park", name, "error", err)
		writeInternalError(w, "failed to get park")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"park":     p,
		"reserved": s.isReserved(name),
	})
}

// handleUpsertPark creates a park or replaces its group and state.
func (s *Server) handleUpsertPark(w http.ResponseWriter, r *http.Request) {
	if s.parks == nil {
		writeUnavailable(w, "park registry not configured")
		return
	}

	var p park.Park
	if err := decodeJSON(r, &p); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := p.Validate(); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if err := s.parks.Upsert(r.Context(), &p); err != nil {
		s.logger.Error("failed to upsert park", "park", p.Name, "error", err)
		writeInternalError(w, "failed to save park")
		return
	}

	s.logger.Info("park saved", "park", p.Name, "group", p.Group, "state", int(p.State))
	writeJSON(w, http.StatusOK, p)
}

// handleSetParkState sets the state of one park.
func (s *Server) handleSetParkState(w http.ResponseWriter, r *http.Request) {
	if s.parks == nil {
		writeUnavailable(w, "park registry not configured")
		return
	}

	name := chi.URLParam(r, "name")
	var req setStateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.State == nil {
		writeValidationError(w, "state is required")
		return
	}
	if err := park.ValidateState(*req.State); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	err := s.parks.SetState(r.Context(), name, *req.State)
	if errors.Is(err, park.ErrNotFound) {
		writeNotFound(w, "park not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to set park state", "park", name, "error", err)
		writeInternalError(w, "failed to set park state")
		return
	}

	s.logger.Info("park state set", "park", name, "state", int(*req.State))
	writeJSON(w, http.StatusOK, map[string]any{
		"name":  name,
		"state": *req.State,
	})
}

// handleDeletePark removes a park. A park reserved by an in-flight move
// cannot be deleted.
func (s *Server) handleDeletePark(w http.ResponseWriter, r *http.Request) {
	if s.parks == nil {
		writeUnavailable(w, "park registry not configured")
		return
	}

	name := chi.URLParam(r, "name")
	del := func() error { return s.parks.Delete(r.Context(), name) }

	var err error
	if s.reservations != nil {
		err = s.reservations.WithUnreserved(name, del)
	} else {
		err = del()
	}
	if errors.Is(err, automation.ErrParkReserved) {
		writeConflict(w, "park is reserved by a running move")
		return
	}
	if errors.Is(err, park.ErrNotFound) {
		writeNotFound(w, "park not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to delete park", "park", name, "error", err)
		writeInternalError(w, "failed to delete park")
		return
	}

	s.logger.Info("park deleted", "park", name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) isReserved(name string) bool {
	return s.reservations != nil && s.reservations.IsReserved(name)
}

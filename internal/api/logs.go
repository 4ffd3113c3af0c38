package api

import (
	"net/http"
	"strconv"

	"github.com/parkflow/parkflow-core/internal/audit"
)

// handleListLogs returns paginated console and order log entries, newest first.
//
// Query parameters:
//   - kind: console or order
//   - flow_id, node_id: exact match filters
//   - limit: max results (default 100, max 500)
//   - offset: pagination offset
func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeUnavailable(w, "event log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Kind:   q.Get("kind"),
		FlowID: q.Get("flow_id"),
		NodeID: q.Get("node_id"),
	}
	if filter.Kind != "" && filter.Kind != audit.KindConsole && filter.Kind != audit.KindOrder {
		writeBadRequest(w, "kind must be console or order")
		return
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list event log", "error", err)
		writeInternalError(w, "failed to list event log")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

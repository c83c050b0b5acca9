package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-conduit/internal/journal"
)

// handleListEvents returns journalled connection events, newest first.
//
// Query parameters:
//   - address: filter by endpoint address
//   - type: filter by event type (connected, retry, connection_failed, ...)
//   - limit: page size (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeNotFound(w, "event journal is not enabled")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		Address:   q.Get("address"),
		EventType: q.Get("type"),
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = offset
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		writeInternalError(w, "failed to query events")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

package http

import (
	"net/http"
	"strconv"

	syncx "github.com/mind-engage/examgate/internal/sync"
)

// GET /staff/events?after=0&limit=100
//
// Cursor poll over the audit log; callers persist the last offset they saw.
func ListEventsHandler(events *syncx.EventRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
		limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
		evs, err := events.After(r.Context(), after, limit)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, evs)
	}
}

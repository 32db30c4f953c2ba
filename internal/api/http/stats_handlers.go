package http

import (
	"net/http"

	"github.com/mind-engage/examgate/internal/quiz"
)

// GET /staff/stats
func StatsHandler(store *quiz.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := store.Stats(r.Context())
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, st)
	}
}

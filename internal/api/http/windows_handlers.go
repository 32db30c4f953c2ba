package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/examgate/internal/quiz"
)

// GET /staff/windows
func ListWindowsHandler(store *quiz.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := store.ListWindows(r.Context())
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, ws)
	}
}

// POST /staff/windows  { "name": "...", "domain": "deputy", "starts_at": ..., "ends_at": ..., "is_active": true }
func CreateWindowHandler(store *quiz.SQLStore) http.HandlerFunc {
	type in struct {
		Name     string `json:"name"`
		Domain   string `json:"domain" validate:"required,oneof=deputy counselor activity"`
		StartsAt int64  `json:"starts_at" validate:"required"`
		EndsAt   int64  `json:"ends_at" validate:"required"`
		IsActive bool   `json:"is_active"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req in
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if req.EndsAt <= req.StartsAt {
			http.Error(w, "ends_at must be after starts_at", 400)
			return
		}
		win, err := store.CreateWindow(r.Context(), quiz.ExamWindow{
			Name:     req.Name,
			Domain:   req.Domain,
			StartsAt: req.StartsAt,
			EndsAt:   req.EndsAt,
			IsActive: req.IsActive,
		}, time.Now().Unix())
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, win)
	}
}

// POST /staff/windows/{windowID}/active  { "active": false }
func SetWindowActiveHandler(store *quiz.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "windowID"), 10, 64)
		if err != nil {
			http.Error(w, "bad window id", 400)
			return
		}
		var req struct {
			Active bool `json:"active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if err := store.SetWindowActive(r.Context(), id, req.Active); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, map[string]any{"id": id, "is_active": req.Active})
	}
}

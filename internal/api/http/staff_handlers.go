package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/examgate/internal/quiz"
)

// GET /staff/attempts?q=&status=&domain=&reason=&quiz_id=&min_score=&from=&to=&sort=&limit=50&offset=0
//
// from/to take YYYY-MM-DD dates; to is exclusive of the next day's start.
func ListAttemptsHandler(store *quiz.SQLStore) http.HandlerFunc {
	type out struct {
		Items []quiz.AttemptRow `json:"items"`
		Total int               `json:"total"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := quiz.AttemptFilter{
			Q:        strings.TrimSpace(q.Get("q")),
			Status:   q.Get("status"),
			Domain:   q.Get("domain"),
			Reason:   q.Get("reason"),
			MinScore: parseIntDefault(q.Get("min_score"), 0),
			Sort:     q.Get("sort"),
			Limit:    parseIntDefault(q.Get("limit"), 50),
			Offset:   parseIntDefault(q.Get("offset"), 0),
		}
		if v := q.Get("quiz_id"); v != "" {
			f.QuizID, _ = strconv.ParseInt(v, 10, 64)
		}
		if v := q.Get("from"); v != "" {
			if t, err := time.Parse("2006-01-02", v); err == nil {
				f.From = t.Unix()
			}
		}
		if v := q.Get("to"); v != "" {
			if t, err := time.Parse("2006-01-02", v); err == nil {
				f.To = t.AddDate(0, 0, 1).Unix()
			}
		}
		items, total, err := store.ListAttempts(r.Context(), f)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, out{Items: items, Total: total})
	}
}

// GET /staff/attempts/{attemptID}
func GetAttemptHandler(store *quiz.SQLStore) http.HandlerFunc {
	type out struct {
		Attempt quiz.Attempt        `json:"attempt"`
		Answers []quiz.AnswerDetail `json:"answers"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		a, err := store.GetAttempt(r.Context(), store.DB(), id)
		if err != nil {
			writeGateError(w, err)
			return
		}
		answers, err := store.AnswersForAttempt(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		a.SessionKey = ""
		writeJSON(w, out{Attempt: a, Answers: answers})
	}
}

// POST /staff/attempts/{attemptID}/force-finish
func ForceFinishHandler(eng *quiz.Engine, store *quiz.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		if err := eng.ForceFinish(r.Context(), id); err != nil {
			writeGateError(w, err)
			return
		}
		a, err := store.GetAttempt(r.Context(), store.DB(), id)
		if err != nil {
			writeGateError(w, err)
			return
		}
		writeJSON(w, a)
	}
}

// POST /staff/attempts/{attemptID}/reset
//
// Deletes the attempt with its answers and unlocks the participant for a
// fresh run. Admin only.
func ResetHandler(eng *quiz.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		if err := eng.Reset(r.Context(), id); err != nil {
			writeGateError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "reset"})
	}
}

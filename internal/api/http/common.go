package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	authmw "github.com/mind-engage/examgate/internal/auth/middleware"
	"github.com/mind-engage/examgate/internal/quiz"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// sessionFromRequest builds the engine's session context from the verified
// token claims plus the connection metadata.
func sessionFromRequest(r *http.Request) quiz.Session {
	return quiz.Session{
		ParticipantID: authmw.SubjectFromContext(r.Context()),
		SessionKey:    authmw.SessionKeyFromContext(r.Context()),
		IP:            r.RemoteAddr,
		UserAgent:     r.UserAgent(),
	}
}

// writeGateError maps engine errors to status codes. Gate refusals are 403,
// timing and concurrency conflicts 409, unknown ids 404.
func writeGateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, quiz.ErrParticipantNotFound),
		errors.Is(err, quiz.ErrAttemptNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, quiz.ErrNotAllowed),
		errors.Is(err, quiz.ErrNotEnrolled),
		errors.Is(err, quiz.ErrDomainLocked),
		errors.Is(err, quiz.ErrAlreadyTaken):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, quiz.ErrNoOpenWindow),
		errors.Is(err, quiz.ErrNoActiveQuiz),
		errors.Is(err, quiz.ErrQuizEmpty),
		errors.Is(err, quiz.ErrAttemptElsewhere),
		errors.Is(err, quiz.ErrSessionMismatch):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), 500)
	}
}

package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mind-engage/examgate/internal/quiz"
)

// GET /exam/status
func StatusHandler(eng *quiz.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFromRequest(r)
		st, err := eng.Status(r.Context(), sess.ParticipantID)
		if err != nil {
			writeGateError(w, err)
			return
		}
		writeJSON(w, st)
	}
}

// POST /exam/start  { "domain": "deputy", "agree": true }
//
// agree is the confirmation checkbox; starting is irreversible, so the client
// must send it explicitly. domain may be omitted when only one window is open.
func StartHandler(eng *quiz.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Domain string `json:"domain"`
			Agree  bool   `json:"agree"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if !req.Agree {
			http.Error(w, "confirmation required", 400)
			return
		}
		req.Domain = strings.TrimSpace(req.Domain)
		if req.Domain != "" && !quiz.ValidDomain(req.Domain) {
			http.Error(w, "unknown domain", 400)
			return
		}
		sess := sessionFromRequest(r)
		a, err := eng.StartOrResume(r.Context(), sess, req.Domain)
		if err != nil {
			writeGateError(w, err)
			return
		}
		writeJSON(w, a)
	}
}

// GET /exam/question
func QuestionHandler(eng *quiz.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := eng.CurrentQuestion(r.Context(), sessionFromRequest(r))
		if err != nil {
			writeGateError(w, err)
			return
		}
		writeJSON(w, p)
	}
}

// POST /exam/answer  { "question_id": 7, "choice_id": 31 }  or  { "question_id": 7, "skip": true }
func AnswerHandler(eng *quiz.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			QuestionID int64  `json:"question_id"`
			ChoiceID   *int64 `json:"choice_id"`
			Skip       bool   `json:"skip"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if req.QuestionID == 0 {
			http.Error(w, "question_id required", 400)
			return
		}
		p, err := eng.SubmitAnswer(r.Context(), sessionFromRequest(r), req.QuestionID, req.ChoiceID, req.Skip)
		if err != nil {
			writeGateError(w, err)
			return
		}
		writeJSON(w, p)
	}
}

// POST /exam/finish
func FinishHandler(eng *quiz.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := eng.Finish(r.Context(), sessionFromRequest(r))
		if err != nil {
			writeGateError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/examgate/internal/auth"
	"github.com/mind-engage/examgate/internal/quiz"
)

// POST /staff/participants/bulk  { "participants": [ ... ] }
//
// Roster import. The whole batch is one transaction; a bad row rejects the
// upload so a partial roster never goes live.
func BulkParticipantsHandler(store *quiz.SQLStore) http.HandlerFunc {
	type in struct {
		Participants []quiz.ParticipantUpsert `json:"participants" validate:"required,min=1,dive"`
	}
	type out struct {
		Imported int `json:"imported"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req in
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		for i := range req.Participants {
			req.Participants[i].NationalID = auth.NormalizeDigits(req.Participants[i].NationalID)
			req.Participants[i].PhoneLast4 = auth.NormalizeDigits(req.Participants[i].PhoneLast4)
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}

		tx, err := store.DB().BeginTx(r.Context(), nil)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now().Unix()
		for _, row := range req.Participants {
			if row.ID == "" {
				row.ID = uuid.NewString()
			}
			if _, err := store.UpsertParticipant(r.Context(), tx, row, now); err != nil {
				http.Error(w, err.Error(), 400)
				return
			}
		}
		if err := tx.Commit(); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, out{Imported: len(req.Participants)})
	}
}

// POST /staff/quizzes/bulk  { "quizzes": [ ... ] }
//
// Question-bank import. Each quiz lands with its full ordered question list;
// activating one deactivates older quizzes for the same domain.
func BulkQuizzesHandler(store *quiz.SQLStore) http.HandlerFunc {
	type in struct {
		Quizzes []quiz.QuizUpsert `json:"quizzes" validate:"required,min=1,dive"`
	}
	type out struct {
		QuizIDs []int64 `json:"quiz_ids"`
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
		for _, qz := range req.Quizzes {
			for _, qu := range qz.Questions {
				correct := 0
				for _, c := range qu.Choices {
					if c.IsCorrect {
						correct++
					}
				}
				if correct != 1 {
					http.Error(w, "each question needs exactly one correct choice", 400)
					return
				}
			}
		}

		tx, err := store.DB().BeginTx(r.Context(), nil)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now().Unix()
		ids := make([]int64, 0, len(req.Quizzes))
		for _, qz := range req.Quizzes {
			id, err := store.ReplaceQuiz(r.Context(), tx, qz, now)
			if err != nil {
				http.Error(w, err.Error(), 400)
				return
			}
			ids = append(ids, id)
		}
		if err := tx.Commit(); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, out{QuizIDs: ids})
	}
}

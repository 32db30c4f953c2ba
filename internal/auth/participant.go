package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	authmw "github.com/mind-engage/examgate/internal/auth/middleware"
	"github.com/mind-engage/examgate/internal/quiz"
)

var validate = validator.New()

// POST /auth/login  { "national_id": "...", "phone_last4": "...." }
//
// Identity is the roster pair, not a password: the national id plus the last
// four digits of the phone number on file. A fresh session key is minted on
// every successful login; only the browser holding it can drive an attempt.
func ParticipantLoginHandler(a *authmw.AuthService, store *quiz.SQLStore) http.HandlerFunc {
	type in struct {
		NationalID string `json:"national_id" validate:"required,min=4"`
		PhoneLast4 string `json:"phone_last4" validate:"required,len=4"`
	}
	type out struct {
		AccessToken string           `json:"access_token"`
		Participant quiz.Participant `json:"participant"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req in
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		req.NationalID = NormalizeDigits(req.NationalID)
		req.PhoneLast4 = NormalizeDigits(req.PhoneLast4)
		if err := validate.Struct(req); err != nil {
			http.Error(w, "national_id and phone_last4 are required", http.StatusBadRequest)
			return
		}

		p, err := store.GetParticipantByNationalID(r.Context(), req.NationalID)
		if errors.Is(err, quiz.ErrParticipantNotFound) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		if err != nil {
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		if p.PhoneLast4 != req.PhoneLast4 {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		if !p.IsAllowed {
			http.Error(w, "not allowed to enter the exam", http.StatusForbidden)
			return
		}
		if p.HasTakenExam {
			// A running attempt stays reachable only through the token that
			// started it; a finished one is final.
			running, err := store.HasUnfinishedAttempt(r.Context(), p.ID)
			if err != nil {
				http.Error(w, "lookup failed", http.StatusInternalServerError)
				return
			}
			if running {
				http.Error(w, "exam already running from another session", http.StatusConflict)
				return
			}
			http.Error(w, "exam already taken", http.StatusForbidden)
			return
		}

		tok, err := a.IssueJWT(p.ID, "participant", uuid.NewString())
		if err != nil {
			http.Error(w, "issue token", http.StatusInternalServerError)
			return
		}
		p.PhoneLast4 = ""
		_ = json.NewEncoder(w).Encode(out{AccessToken: tok, Participant: p})
	}
}

// NormalizeDigits maps Arabic-Indic digits to ASCII and strips everything
// that is not a digit. Roster ids are entered from keyboards in either
// numeral system.
func NormalizeDigits(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 0x0660 && r <= 0x0669: // Arabic-Indic
			out = append(out, '0'+r-0x0660)
		case r >= 0x06F0 && r <= 0x06F9: // Extended Arabic-Indic
			out = append(out, '0'+r-0x06F0)
		}
	}
	return string(out)
}

package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	authmw "github.com/mind-engage/examgate/internal/auth/middleware"
	"github.com/mind-engage/examgate/internal/config"
	"github.com/mind-engage/examgate/internal/quiz"
)

// POST /auth/staff/login  { "username": "...", "password": "..." }
//
// Staff authenticate against the users table; the configured bootstrap admin
// works before any row exists.
func StaffLoginHandler(a *authmw.AuthService, store *quiz.SQLStore, cfg config.Config) http.HandlerFunc {
	type in struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	type out struct {
		AccessToken string `json:"access_token"`
		Role        string `json:"role"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req in
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, "username and password are required", http.StatusBadRequest)
			return
		}

		sub, role := "", ""
		u, err := store.GetUserByUsername(r.Context(), req.Username)
		switch {
		case err == nil:
			if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
				http.Error(w, "invalid credentials", http.StatusUnauthorized)
				return
			}
			sub, role = u.ID, u.Role
		case errors.Is(err, quiz.ErrBadCredentials) && req.Username == cfg.AdminUser:
			if bcrypt.CompareHashAndPassword([]byte(cfg.AdminPassHash), []byte(req.Password)) != nil {
				http.Error(w, "invalid credentials", http.StatusUnauthorized)
				return
			}
			sub, role = cfg.AdminUser, "admin"
		case errors.Is(err, quiz.ErrBadCredentials):
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		default:
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}

		tok, err := a.IssueJWT(sub, role, "")
		if err != nil {
			http.Error(w, "issue token", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(out{AccessToken: tok, Role: role})
	}
}

package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/examgate/internal/quiz"
)

// POST /staff/users  { "username": "...", "password": "...", "role": "staff|admin" }
//
// Creates a console account. Admin only; the bootstrap admin uses this to
// hand out real accounts after first login.
func CreateStaffUserHandler(store *quiz.SQLStore) http.HandlerFunc {
	type in struct {
		Username string `json:"username" validate:"required,min=3"`
		Password string `json:"password" validate:"required,min=8"`
		Role     string `json:"role" validate:"required,oneof=staff admin"`
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
		if _, err := store.GetUserByUsername(r.Context(), req.Username); err == nil {
			http.Error(w, "username taken", http.StatusConflict)
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			http.Error(w, "hash password", 500)
			return
		}
		u := quiz.User{
			ID:           uuid.NewString(),
			Username:     req.Username,
			PasswordHash: string(hash),
			Role:         req.Role,
			CreatedAt:    time.Now().Unix(),
		}
		if err := store.CreateUser(r.Context(), u); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, u)
	}
}

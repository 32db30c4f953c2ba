package auth_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/examgate/internal/auth"
	"github.com/mind-engage/examgate/internal/config"
	"github.com/mind-engage/examgate/internal/quiz"
)

func TestStaffLogin(t *testing.T) {
	svc, store := newLoginFixture(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("ops-pass-123"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := store.CreateUser(ctx, quiz.User{
		ID: "u1", Username: "ops", PasswordHash: string(hash),
		Role: "staff", CreatedAt: time.Now().Unix(),
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	adminHash, _ := bcrypt.GenerateFromPassword([]byte("root-pass-456"), bcrypt.DefaultCost)
	cfg := config.Config{AdminUser: "admin", AdminPassHash: string(adminHash)}
	h := auth.StaffLoginHandler(svc, store, cfg)

	// DB-backed account gets its stored role.
	w := postLogin(t, h, map[string]string{"username": "ops", "password": "ops-pass-123"})
	if w.Code != 200 {
		t.Fatalf("staff login: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
		Role        string `json:"role"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	claims, err := svc.Parse(resp.AccessToken)
	if err != nil || claims.Sub != "u1" || claims.Role != "staff" {
		t.Fatalf("claims: %+v err=%v", claims, err)
	}

	// Bootstrap admin works before any users row exists for it.
	w = postLogin(t, h, map[string]string{"username": "admin", "password": "root-pass-456"})
	if w.Code != 200 {
		t.Fatalf("admin login: %d %s", w.Code, w.Body.String())
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Role != "admin" {
		t.Fatalf("bootstrap role %q, want admin", resp.Role)
	}

	// Wrong password and unknown user are both refused.
	if w := postLogin(t, h, map[string]string{"username": "ops", "password": "nope"}); w.Code != 401 {
		t.Fatalf("wrong password: %d", w.Code)
	}
	if w := postLogin(t, h, map[string]string{"username": "ghost", "password": "whatever"}); w.Code != 401 {
		t.Fatalf("unknown user: %d", w.Code)
	}
}

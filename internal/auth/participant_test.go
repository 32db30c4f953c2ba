package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mind-engage/examgate/internal/auth"
	authmw "github.com/mind-engage/examgate/internal/auth/middleware"
	"github.com/mind-engage/examgate/internal/db"
	"github.com/mind-engage/examgate/internal/quiz"
)

func TestNormalizeDigits(t *testing.T) {
	cases := []struct{ in, want string }{
		{"1234567890", "1234567890"},
		{"١٢٣٤", "1234"},     // Arabic-Indic
		{"۰۹", "09"},         // Extended Arabic-Indic
		{" 12-34 ", "1234"},  // separators stripped
		{"id: ١2٣4", "1234"}, // mixed
	}
	for _, c := range cases {
		if got := auth.NormalizeDigits(c.in); got != c.want {
			t.Errorf("NormalizeDigits(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func newLoginFixture(t *testing.T) (*authmw.AuthService, *quiz.SQLStore) {
	t.Helper()
	ctx := context.Background()
	dbh, err := db.Open(ctx, db.DriverSQLite, "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = dbh.Close() })

	store := quiz.NewSQLStore(dbh, "sqlite")
	tx, err := dbh.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := store.UpsertParticipant(ctx, tx, quiz.ParticipantUpsert{
		ID: "p1", NationalID: "1234567890", FullName: "Test One",
		PhoneLast4: "4321", IsAllowed: true, Domains: []string{quiz.DomainDeputy},
	}, time.Now().Unix()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return authmw.NewAuthService("test-secret"), store
}

func postLogin(t *testing.T, h http.HandlerFunc, body map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	buf, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", "/auth/login", bytes.NewReader(buf))
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestParticipantLogin(t *testing.T) {
	svc, store := newLoginFixture(t)
	h := auth.ParticipantLoginHandler(svc, store)

	w := postLogin(t, h, map[string]string{"national_id": "1234567890", "phone_last4": "4321"})
	if w.Code != 200 {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken string           `json:"access_token"`
		Participant quiz.Participant `json:"participant"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	claims, err := svc.Parse(resp.AccessToken)
	if err != nil || claims == nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Sub != "p1" || claims.Role != "participant" || claims.SID == "" {
		t.Fatalf("claims: %+v", claims)
	}
	if resp.Participant.PhoneLast4 != "" {
		t.Fatalf("phone digits echoed back")
	}

	// Each login mints a distinct session key.
	w2 := postLogin(t, h, map[string]string{"national_id": "1234567890", "phone_last4": "4321"})
	var resp2 struct {
		AccessToken string `json:"access_token"`
	}
	_ = json.Unmarshal(w2.Body.Bytes(), &resp2)
	c2, _ := svc.Parse(resp2.AccessToken)
	if c2.SID == claims.SID {
		t.Fatalf("session key reused across logins")
	}
}

func TestParticipantLoginArabicDigits(t *testing.T) {
	svc, store := newLoginFixture(t)
	h := auth.ParticipantLoginHandler(svc, store)

	w := postLogin(t, h, map[string]string{"national_id": "١٢٣٤٥٦٧٨٩٠", "phone_last4": "٤٣٢١"})
	if w.Code != 200 {
		t.Fatalf("arabic-digit login: %d %s", w.Code, w.Body.String())
	}
}

func TestParticipantLoginRefusals(t *testing.T) {
	svc, store := newLoginFixture(t)
	h := auth.ParticipantLoginHandler(svc, store)

	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{"unknown id", map[string]string{"national_id": "9999999999", "phone_last4": "4321"}, 401},
		{"wrong phone", map[string]string{"national_id": "1234567890", "phone_last4": "0000"}, 401},
		{"missing fields", map[string]string{"national_id": "1234567890"}, 400},
	}
	for _, tc := range cases {
		if w := postLogin(t, h, tc.body); w.Code != tc.want {
			t.Errorf("%s: code %d, want %d", tc.name, w.Code, tc.want)
		}
	}
}

package main

import (
	"context"
	"log"
	"net/http"
	"time"

	api "github.com/mind-engage/examgate/internal/api/http"
	"github.com/mind-engage/examgate/internal/auth"
	authmw "github.com/mind-engage/examgate/internal/auth/middleware"
	"github.com/mind-engage/examgate/internal/config"
	"github.com/mind-engage/examgate/internal/db"
	"github.com/mind-engage/examgate/internal/quiz"
	"github.com/mind-engage/examgate/internal/rbac"
	syncx "github.com/mind-engage/examgate/internal/sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func main() {
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	store := quiz.NewSQLStore(dbh, cfg.DBDriver)
	events := syncx.NewEventRepo(dbh)
	eng := quiz.NewEngine(store, events, time.Now)

	authSvc := authmw.NewAuthService(cfg.AuthHMACSecret)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.ParticipantLoginHandler(authSvc, store))
	r.Post("/auth/staff/login", auth.StaffLoginHandler(authSvc, store, cfg))

	// Participant flow (JWT → role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(authmw.JWTMiddleware(authSvc))

		pr.With(rbac.Require("exam:status")).
			Get("/exam/status", api.StatusHandler(eng))
		pr.With(rbac.Require("attempt:start")).
			Post("/exam/start", api.StartHandler(eng))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/exam/question", api.QuestionHandler(eng))
		pr.With(rbac.Require("attempt:answer")).
			Post("/exam/answer", api.AnswerHandler(eng))
		pr.With(rbac.Require("attempt:finish")).
			Post("/exam/finish", api.FinishHandler(eng))
	})

	// Staff console; role comes from the users table, not the token
	r.Group(func(sr chi.Router) {
		sr.Use(authmw.JWTMiddleware(authSvc))
		sr.Use(authmw.AttachStaffRole(dbh, cfg.AdminUser))

		sr.With(rbac.Require("attempts:list")).
			Get("/staff/attempts", api.ListAttemptsHandler(store))
		sr.With(rbac.Require("attempt:view-all")).
			Get("/staff/attempts/{attemptID}", api.GetAttemptHandler(store))
		sr.With(rbac.Require("attempt:force_finish")).
			Post("/staff/attempts/{attemptID}/force-finish", api.ForceFinishHandler(eng, store))
		sr.With(rbac.Require("attempt:reset")).
			Post("/staff/attempts/{attemptID}/reset", api.ResetHandler(eng))
		sr.With(rbac.Require("stats:view")).
			Get("/staff/stats", api.StatsHandler(store))
		sr.With(rbac.Require("events:view")).
			Get("/staff/events", api.ListEventsHandler(events))
		sr.With(rbac.Require("windows:view")).
			Get("/staff/windows", api.ListWindowsHandler(store))
		sr.With(rbac.Require("windows:manage")).
			Post("/staff/windows", api.CreateWindowHandler(store))
		sr.With(rbac.Require("windows:manage")).
			Post("/staff/windows/{windowID}/active", api.SetWindowActiveHandler(store))
		sr.With(rbac.Require("participants:bulk_upsert")).
			Post("/staff/participants/bulk", api.BulkParticipantsHandler(store))
		sr.With(rbac.Require("quizzes:bulk_upsert")).
			Post("/staff/quizzes/bulk", api.BulkQuizzesHandler(store))
		sr.With(rbac.Require("users:manage")).
			Post("/staff/users", api.CreateStaffUserHandler(store))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbh.PingContext(r.Context()); err != nil {
			http.Error(w, "db down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	})

	log.Printf("listening on %s (db=%s)", cfg.HTTPAddr, cfg.DBDriver)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}

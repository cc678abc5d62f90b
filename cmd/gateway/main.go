package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/coursekit/coursekit-lms/internal/analytics"
	api "github.com/coursekit/coursekit-lms/internal/api/http"
	"github.com/coursekit/coursekit-lms/internal/audit"
	auth "github.com/coursekit/coursekit-lms/internal/auth/middleware"
	"github.com/coursekit/coursekit-lms/internal/config"
	"github.com/coursekit/coursekit-lms/internal/db"
	"github.com/coursekit/coursekit-lms/internal/docstore"
	"github.com/coursekit/coursekit-lms/internal/grading"
	"github.com/coursekit/coursekit-lms/internal/lms"
	"github.com/coursekit/coursekit-lms/internal/pii"
	"github.com/coursekit/coursekit-lms/internal/rbac"
	"github.com/coursekit/coursekit-lms/internal/roster"
	"github.com/coursekit/coursekit-lms/internal/storage"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// --- DB / document store ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		logger.Error("db open failed", "err", err)
		os.Exit(1)
	}
	store := docstore.NewSQLStore(dbh)
	registerIndexes(store)

	// --- PII cipher (nil = plaintext roster fields) ---
	var cipher *pii.Cipher
	if len(cfg.PIIKeys) > 0 {
		cipher, err = pii.NewCipher(cfg.PIIKeys)
		if err != nil {
			logger.Error("pii key ring", "err", err)
			os.Exit(1)
		}
	}

	// --- Blob store ---
	bs, err := storage.NewFSStore(cfg.BlobBasePath, cfg.PublicURL)
	if err != nil {
		logger.Error("blob store", "err", err)
		os.Exit(1)
	}

	// --- Domain services ---
	auditLog := audit.NewLog(store)
	recorder := lms.NewRecorder(store, auditLog, logger)
	essayGrader := lms.NewGrader(store, auditLog, logger)
	quizGrader := grading.NewGrader()
	cleaner := lms.NewCleaner(store, bs, logger)
	rosterSvc := roster.NewService(store, cipher, logger)
	agg := analytics.New(store, cipher, logger)

	authSvc := auth.NewAuthService(cfg.AuthHMACSecret)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	origins := cfg.CORSOriginsOffline
	if cfg.Mode == config.ModeOnline {
		origins = cfg.CORSOriginsOnline
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc, store))

	// assets (protected)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))
		pr.Route("/assets", func(ar chi.Router) {
			ar.Use(rbac.RequireAny("asset:upload", "quiz:view"))
			api.MountAssets(ar, bs)
		})
	})

	// Protected API (JWT -> role in context -> RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))

		// Quiz management (teacher)
		pr.With(rbac.Require("quiz:create")).
			Post("/quizzes", api.CreateQuizHandler(store))
		pr.With(rbac.Require("quiz:update")).
			Put("/quizzes/{quizID}", api.UpdateQuizHandler(store))
		pr.With(rbac.Require("quiz:update")).
			Post("/quizzes/{quizID}/archive", api.ArchiveQuizHandler(store))
		pr.With(rbac.Require("quiz:update")).
			Put("/quizzes/{quizID}/questions", api.PutQuestionsHandler(store))
		pr.With(rbac.Require("quiz:delete")).
			Delete("/quizzes/{quizID}", api.DeleteQuizHandler(cleaner))

		// Quiz consumption (student/teacher)
		pr.With(rbac.Require("quiz:view")).
			Get("/quizzes/{quizID}", api.GetQuizHandler(store))
		pr.With(rbac.Require("quiz:view")).
			Get("/courses/{courseID}/quizzes", api.ListQuizzesHandler(store))

		// Attempts
		pr.With(rbac.Require("attempt:submit")).
			Post("/quizzes/{quizID}/attempts", api.SubmitAttemptHandler(store, recorder, quizGrader))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/quizzes/{quizID}/attempts", api.ListAttemptsHandler(store))

		// Essay grading (teacher)
		pr.With(rbac.Require("essay:grade")).
			Post("/essays/{essayID}/grade", api.GradeEssayHandler(essayGrader))
		pr.With(rbac.Require("essay:grade")).
			Get("/quizzes/{quizID}/essays", api.ListEssaysHandler(store))

		// Analytics (teacher)
		pr.With(rbac.Require("analytics:view")).
			Get("/analytics/quizzes", api.QuizAnalyticsHandler(agg))
		pr.With(rbac.Require("analytics:view")).
			Get("/analytics/assignments", api.AssignmentAnalyticsHandler(agg))

		// Roster (teacher)
		pr.With(rbac.Require("roster:manage")).
			Post("/classes/{classID}/enroll", api.EnrollHandler(rosterSvc))
		pr.With(rbac.Require("roster:manage")).
			Delete("/classes/{classID}/enroll/{studentID}", api.UnenrollHandler(rosterSvc))
		pr.With(rbac.Require("roster:manage")).
			Get("/classes/{classID}/roster", api.RosterHandler(rosterSvc))
		pr.With(rbac.Require("roster:manage")).
			Post("/classes/{classID}/roster/import", api.ImportRosterHandler(rosterSvc))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbh.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	})

	logger.Info("listening", "addr", cfg.HTTPAddr, "mode", string(cfg.Mode), "db", cfg.DBDriver)
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		logger.Error("server", "err", err)
		os.Exit(1)
	}
}

// registerIndexes declares the composite indexes the SQL-backed store can
// serve ordered, filtered queries from. Queries against missing indexes
// degrade to client-side sorting in the aggregator.
func registerIndexes(store *docstore.SQLStore) {
	store.RegisterIndex(lms.CollQuizzes, "courseId", "title")
	store.RegisterIndex(lms.CollModules, "courseId", "title")
	store.RegisterIndex(lms.CollAssignments, "courseId", "title")
}

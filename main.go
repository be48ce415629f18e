package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var startupLockConn *sql.Conn

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Env == "local" || cfg.DevMode {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Info().Str("env", cfg.Env).Msg("starting ecostreak")
	if cfg.DevMode {
		log.Warn().Msg("dev mode enabled")
	}

	// Database
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	log.Info().Msg("connected to PostgreSQL")

	if err := ensureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure schema")
	}

	ledger := NewRewardLedger(db)

	ctx := context.Background()
	lockConn, acquired, err := acquireStartupLock(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to acquire startup lock")
	}
	if acquired {
		startupLockConn = lockConn
		log.Info().Msg("startup lock acquired; running leader-only initialization")
		if err := ensureBootstrapAdmin(ctx, db, ledger, cfg); err != nil {
			log.Fatal().Err(err).Msg("admin bootstrap failed")
		}
	} else {
		log.Info().Msg("startup lock held by another instance; skipping leader-only initialization")
		if lockConn != nil {
			_ = lockConn.Close()
		}
	}

	if err := LoadGlobalSettings(db); err != nil {
		log.Warn().Err(err).Msg("failed to load global settings")
	}

	notifier := newNotifier(db)
	limiter := newRateLimiter(db, cfg)

	// Background sweeps run on the leader only.
	if acquired {
		scheduler := cron.New()
		_, _ = scheduler.AddFunc("* * * * *", func() {
			if err := refreshEventStatuses(db); err != nil {
				log.Warn().Err(err).Msg("event status sweep failed")
			}
		})
		_, _ = scheduler.AddFunc("*/30 * * * *", func() {
			pruneNotifications(db)
		})
		_, _ = scheduler.AddFunc("0 * * * *", func() {
			if err := pruneRateLimits(db); err != nil {
				log.Warn().Err(err).Msg("rate limit prune failed")
			}
		})
		_, _ = scheduler.AddFunc("5 0 * * *", func() {
			sweepStreakRisk(db)
		})
		scheduler.Start()
	}

	router := buildRouter(db, cfg, ledger, notifier, limiter)

	addr := "0.0.0.0:" + cfg.Port
	log.Info().Str("addr", addr).Msg("listening")
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func buildRouter(db *sql.DB, cfg Config, ledger *RewardLedger, notifier *notifier, limiter *rateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", healthHandler(db))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// public
		r.Post("/auth/signup", signupHandler(db, cfg, ledger, limiter))
		r.Post("/auth/login", loginHandler(db, cfg, limiter))
		r.Post("/auth/refresh", refreshHandler(db, cfg))
		r.Get("/leaderboard", leaderboardHandler(db))
		r.Get("/events", listEventsHandler(db))
		r.Get("/events/{eventID}", getEventHandler(db))
		r.Get("/organizations", listOrgsHandler(db))
		r.Get("/products", listProductsHandler(db))
		r.Get("/communities", listCommunitiesHandler(db))
		r.Get("/communities/{communityID}/posts", listPostsHandler(db))
		r.Get("/posts/{postID}/appreciations", listAppreciationsHandler(db))
		r.Get("/settings", getSettingsHandler())
		r.Get("/stream", streamHandler(db, ledger, cfg))
		r.Post("/telemetry", telemetryHandler(db, cfg))
		r.Post("/feedback", feedbackHandler(db, cfg))

		// authenticated
		r.Group(func(r chi.Router) {
			r.Use(requireAuth(db, cfg))

			r.Post("/auth/logout", logoutHandler(db))
			r.Get("/me", meHandler(db, ledger))
			r.Put("/me", updateProfileHandler(db))
			r.Delete("/me", deactivateHandler(db))
			r.Get("/me/balance", balanceHandler(ledger))
			r.Get("/me/ledger", ledgerHistoryHandler(db))
			r.Post("/me/checkin", checkinHandler(ledger, cfg))

			r.Post("/habits", createHabitHandler(db))
			r.Get("/habits", listHabitsHandler(db))
			r.Put("/habits/{habitID}", updateHabitHandler(db))
			r.Delete("/habits/{habitID}", deleteHabitHandler(db))
			r.Post("/habits/{habitID}/complete", completeHabitHandler(db, ledger, notifier))

			r.Post("/events", createEventHandler(db))
			r.Post("/events/{eventID}/register", registerEventHandler(db))
			r.Post("/events/{eventID}/attend", attendEventHandler(db, ledger))
			r.Post("/events/{eventID}/settle", settleEventHandler(db, ledger))

			r.Post("/organizations", createOrgHandler(db))
			r.Post("/organizations/{orgID}/members", addOrgMemberHandler(db))
			r.Post("/organizations/{orgID}/products", createProductHandler(db))
			r.Put("/products/{productID}", updateProductHandler(db))
			r.Post("/products/{productID}/purchase", purchaseHandler(db, ledger, notifier))

			r.Post("/communities", createCommunityHandler(db))
			r.Post("/communities/{communityID}/join", joinCommunityHandler(db))
			r.Post("/communities/{communityID}/leave", leaveCommunityHandler(db))
			r.Post("/communities/{communityID}/posts", createPostHandler(db))
			r.Post("/posts/{postID}/appreciate", appreciateHandler(db, ledger, notifier))

			r.Get("/notifications", listNotificationsHandler(db))
			r.Post("/notifications/read", readNotificationsHandler(db))
		})

		// admin
		r.Group(func(r chi.Router) {
			r.Use(requireAuth(db, cfg))
			r.Use(requireRole("admin"))

			r.Post("/admin/points/adjust", adminAdjustHandler(db, ledger))
			r.Get("/admin/users", adminListUsersHandler(db))
			r.Post("/admin/users/role", adminSetRoleHandler(db))
			r.Get("/admin/audit-log", adminAuditLogHandler(db))
			r.Put("/admin/settings", updateSettingsHandler(db))
			r.Post("/admin/announce", announceHandler(db, notifier))
		})
	})

	return r
}

func announceHandler(db *sql.DB, notifier *notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin := userFromContext(r.Context())

		var req struct {
			Message string `json:"message"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Message == "" {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
			return
		}

		notifier.broadcast(req.Message)
		recordAdminAction(db, admin.UserID, "announce", "", req.Message)
		writeJSON(w, http.StatusOK, nil)
	}
}

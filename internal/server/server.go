// Package server wires the stores, services and batch jobs together and
// exposes them over HTTP.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/dukerupert/pursue/internal/auth"
	"github.com/dukerupert/pursue/internal/config"
	"github.com/dukerupert/pursue/internal/effectiveness"
	"github.com/dukerupert/pursue/internal/handler"
	"github.com/dukerupert/pursue/internal/jobs"
	"github.com/dukerupert/pursue/internal/lock"
	"github.com/dukerupert/pursue/internal/metrics"
	"github.com/dukerupert/pursue/internal/middleware"
	"github.com/dukerupert/pursue/internal/model"
	"github.com/dukerupert/pursue/internal/notify"
	"github.com/dukerupert/pursue/internal/pattern"
	"github.com/dukerupert/pursue/internal/preference"
	"github.com/dukerupert/pursue/internal/reminder"
	"github.com/dukerupert/pursue/internal/store"
	ws "github.com/dukerupert/pursue/internal/websocket"
)

type Server struct {
	db          *sql.DB
	cfg         *config.Config
	hub         *ws.Hub
	metrics     *metrics.Exporter
	runner      *jobs.Runner
	patternSvc  *pattern.Service
	tokens      *auth.Tokens
	recalcLimit *middleware.RateLimiter
	closers     []func() error

	preferenceH *handler.PreferenceHandler
	patternH    *handler.PatternHandler
	reportH     *handler.ReportHandler
	deviceH     *handler.DeviceHandler
	jobH        *handler.JobHandler

	logger *slog.Logger
}

func New(ctx context.Context, db *sql.DB, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{
		db:      db,
		cfg:     cfg,
		hub:     ws.NewHub(logger),
		metrics: metrics.New(metrics.DefaultConfig()),
		tokens:  auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer),
		logger:  logger,
	}

	users := store.NewUserStore(db)
	progress := store.NewProgressStore(db)
	prefs := store.NewPreferenceStore(db)
	patterns := store.NewPatternStore(db)
	history := store.NewHistoryStore(db)
	devices := store.NewDeviceStore(db)
	runs := store.NewJobRunStore(db)

	dispatcher, vapidKey, err := newDispatcher(ctx, cfg.Push, devices, logger)
	if err != nil {
		return nil, err
	}

	locker, err := s.newLocker(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.Patterns.RecalcPerMinute > 0 {
		s.recalcLimit = middleware.NewRateLimiter(cfg.Patterns.RecalcPerMinute, time.Minute)
	}

	s.patternSvc = pattern.NewService(progress, patterns, cfg.Patterns.Analyzer(), logger)

	var suppressor reminder.Suppressor
	if cfg.Effectiveness.Suppress {
		suppressor = effectiveness.NewThresholdSuppressor(history, cfg.Effectiveness.Threshold())
	}

	var limiter *rate.Limiter
	if cfg.Reminders.DispatchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Reminders.DispatchRate), max(cfg.Reminders.DispatchBurst, 1))
	}

	processor := reminder.NewProcessor(reminder.Deps{
		Pairs:       progress,
		Users:       users,
		Preferences: prefs,
		Patterns:    patterns,
		Progress:    progress,
		History:     history,
		Dispatcher:  dispatcher,
		Suppressor:  suppressor,
		Broadcaster: s.hub,
		Limiter:     limiter,
		Metrics:     s.metrics,
	}, reminder.Options{
		Workers:  cfg.Reminders.Workers,
		ClaimTTL: cfg.Reminders.ClaimTTL,
		Schedule: cfg.Reminders.Schedule(),
		Patterns: cfg.Patterns.Analyzer(),
	}, logger)

	batch := pattern.NewBatch(s.patternSvc, progress, runs, cfg.Patterns.Workers, s.metrics, logger)
	tracker := effectiveness.NewTracker(history, progress, cfg.Effectiveness.Tracker(), logger)

	interval := func(d time.Duration) time.Duration {
		if !cfg.Scheduler.Enabled {
			return 0
		}
		return d
	}
	s.runner = jobs.NewRunner(locker, runs, s.metrics, s.hub, logger)
	s.runner.Register(model.JobProcessReminders, interval(cfg.Scheduler.ProcessInterval), processor.Run)
	s.runner.Register(model.JobRecalculatePatterns, interval(cfg.Scheduler.PatternInterval), batch.Run)
	s.runner.Register(model.JobUpdateEffectiveness, interval(cfg.Scheduler.EffectivenessInterval), tracker.Run)

	s.preferenceH = handler.NewPreferenceHandler(preference.NewService(prefs, progress), logger.With("component", "preference"))
	s.patternH = handler.NewPatternHandler(s.patternSvc, progress, cfg.Patterns.RecalcTimeout, s.metrics, logger.With("component", "pattern_handler"))
	s.reportH = handler.NewReportHandler(history, logger.With("component", "report"))
	s.deviceH = handler.NewDeviceHandler(devices, vapidKey, logger.With("component", "device"))
	s.jobH = handler.NewJobHandler(s.runner, runs, logger.With("component", "job"))

	return s, nil
}

// newDispatcher registers a Sender per configured push platform. With none
// configured reminders are only logged.
func newDispatcher(ctx context.Context, cfg config.PushConfig, devices *store.DeviceStore, logger *slog.Logger) (notify.Dispatcher, string, error) {
	dd := notify.NewDeviceDispatcher(devices, logger)
	configured := false
	vapidKey := ""

	if cfg.WebPushEnabled() {
		wp := notify.NewWebPush(notify.WebPushConfig{
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			Subscriber:      cfg.VAPIDSubscriber,
		})
		dd.Register(model.PlatformWebPush, wp)
		vapidKey = wp.VAPIDPublicKey()
		configured = true
	}

	if cfg.FCMCredentialsFile != "" {
		fcm, err := notify.NewFCM(ctx, cfg.FCMCredentialsFile)
		if err != nil {
			return nil, "", fmt.Errorf("init fcm: %w", err)
		}
		dd.Register(model.PlatformFCM, fcm)
		configured = true
	}

	if !configured {
		logger.Warn("no push provider configured, reminders will only be logged")
		return notify.NewLogDispatcher(logger), "", nil
	}
	return dd, vapidKey, nil
}

// newLocker picks the Redis lock when an address is configured, so several
// instances share one overlap guard.
func (s *Server) newLocker(ctx context.Context) (lock.Locker, error) {
	if s.cfg.Redis.Addr == "" {
		return lock.NewLocal(), nil
	}
	rl, err := lock.NewRedis(ctx, lock.RedisConfig{
		Addr:     s.cfg.Redis.Addr,
		Password: s.cfg.Redis.Password,
		DB:       s.cfg.Redis.DB,
		TTL:      s.cfg.Redis.LockTTL,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("init redis lock: %w", err)
	}
	s.closers = append(s.closers, rl.Close)
	return rl, nil
}

// Runner returns the job runner for the scheduler and one-shot commands.
func (s *Server) Runner() *jobs.Runner {
	return s.runner
}

// PatternService returns the pattern service for the recalc command.
func (s *Server) PatternService() *pattern.Service {
	return s.patternSvc
}

// CleanupRateLimits drops idle rate limit buckets.
func (s *Server) CleanupRateLimits() {
	if s.recalcLimit != nil {
		s.recalcLimit.Cleanup()
	}
}

// Close releases connections the server opened itself. The database is the
// caller's.
func (s *Server) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.Handle("GET /metrics", s.metrics.Handler())

	userMux := http.NewServeMux()
	s.registerUserRoutes(userMux)
	requireUser := middleware.RequireUser(s.tokens, s.logger.With("component", "auth"))
	outerMux.Handle("/api/", requireUser(userMux))

	internalMux := http.NewServeMux()
	s.registerInternalRoutes(internalMux)
	outerMux.Handle("/internal/", middleware.RequireInternalKey(s.cfg.Auth.InternalKeyHash)(internalMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) recalcLimited(h http.HandlerFunc) http.Handler {
	if s.recalcLimit == nil {
		return h
	}
	return middleware.RateLimit(s.recalcLimit, middleware.ByUser)(h)
}

func (s *Server) registerUserRoutes(mux *http.ServeMux) {
	// Preferences
	mux.HandleFunc("GET /api/reminders/preferences", s.preferenceH.List)
	mux.HandleFunc("GET /api/reminders/preferences/{goal_id}", s.preferenceH.Get)
	mux.HandleFunc("PATCH /api/reminders/preferences/{goal_id}", s.preferenceH.Update)
	mux.HandleFunc("PUT /api/reminders/preferences/{goal_id}", s.preferenceH.Update)

	// Patterns
	mux.HandleFunc("GET /api/reminders/patterns/{goal_id}", s.patternH.List)
	mux.Handle("POST /api/reminders/patterns/{goal_id}/recalculate", s.recalcLimited(s.patternH.Recalculate))

	// Reports
	mux.HandleFunc("GET /api/reminders/history", s.reportH.History)
	mux.HandleFunc("GET /api/reminders/effectiveness", s.reportH.Effectiveness)

	// Devices
	mux.HandleFunc("GET /api/devices", s.deviceH.List)
	mux.HandleFunc("POST /api/devices", s.deviceH.Register)
	mux.HandleFunc("DELETE /api/devices", s.deviceH.Unregister)
	mux.HandleFunc("GET /api/devices/vapid-key", s.deviceH.VAPIDKey)
}

func (s *Server) registerInternalRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /internal/jobs/{job}", s.jobH.Trigger)
	mux.HandleFunc("GET /internal/jobs/{job}/runs", s.jobH.Runs)
	mux.HandleFunc("GET /internal/ws", ws.HandleWebSocket(s.hub, s.cfg.WebSocket.OriginPatterns, s.logger.With("component", "websocket")))
}

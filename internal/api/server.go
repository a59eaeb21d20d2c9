// Package api provides the HTTP API server for the habit engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/quantumlife/habits/internal/core"
	"github.com/quantumlife/habits/internal/habits"
	"github.com/quantumlife/habits/internal/logging"
	"github.com/quantumlife/habits/internal/notifications"
	"github.com/quantumlife/habits/internal/scheduler"
	"github.com/quantumlife/habits/internal/storage"
)

// Completer records completions
type Completer interface {
	Complete(ctx context.Context, req core.CompletionRequest) (*core.CompletionResult, error)
}

// Announcer posts a completion summary to a channel
type Announcer interface {
	Announce(ctx context.Context, channel, habitName, who string, res *core.CompletionResult)
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	// Components
	db        *storage.DB
	habits    *habits.Service
	engine    Completer
	progress  *storage.ProgressStore
	notifier  *notifications.Service
	scheduler *scheduler.Scheduler
	announcer Announcer
	wsHub     *WebSocketHub

	timezone *time.Location
	logger   *logging.Logger
}

// Config for the server
type Config struct {
	Host         string
	Port         int
	AllowOrigins []string
	Timezone     string

	DB        *storage.DB
	Habits    *habits.Service
	Engine    Completer
	Notifier  *notifications.Service
	Scheduler *scheduler.Scheduler
	Announcer Announcer
	Logger    *logging.Logger
}

// New creates a new API server. When a notifier is configured the server's
// WebSocket hub subscribes to it.
func New(cfg Config) *Server {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil || cfg.Timezone == "" {
		loc = time.UTC
	}

	s := &Server{
		db:        cfg.DB,
		habits:    cfg.Habits,
		engine:    cfg.Engine,
		notifier:  cfg.Notifier,
		scheduler: cfg.Scheduler,
		announcer: cfg.Announcer,
		timezone:  loc,
		logger:    logging.OrDefault(cfg.Logger).WithField("component", "api"),
	}
	if cfg.DB != nil {
		s.progress = storage.NewProgressStore(cfg.DB)
	}
	s.wsHub = NewWebSocketHub(cfg.Notifier, s.logger)
	if cfg.Notifier != nil {
		cfg.Notifier.Subscribe(s.wsHub)
	}

	s.setupRouter(cfg.AllowOrigins)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRouter configures all routes
func (s *Server) setupRouter(origins []string) {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	// CORS
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		// Habits
		r.Post("/habits/parse", s.handleParseHabit)
		r.Post("/habits", s.handleCreateHabit)
		r.Post("/habits/template", s.handleCreateFromTemplate)
		r.Get("/habits", s.handleListHabits)
		r.Get("/habits/{habitID}", s.handleGetHabit)
		r.Get("/habits/{habitID}/stats", s.handleHabitStats)
		r.Put("/habits/{habitID}/schedule", s.handleReschedule)
		r.Put("/habits/{habitID}/channel", s.handleSetChannel)
		r.Delete("/habits/{habitID}", s.handleDeactivateHabit)
		r.Get("/templates", s.handleListTemplates)

		// Completions and progress
		r.Post("/completions", s.handleComplete)
		r.Get("/users/{userID}/progress", s.handleUserProgress)
		r.Get("/users/{userID}/streaks", s.handleUserStreaks)
		r.Get("/users/{userID}/today", s.handleUserToday)
		r.Get("/users/{userID}/rewards", s.handleUserRewards)
		r.Get("/users/{userID}/completions", s.handleUserCompletions)
		r.Get("/users/{userID}/inventory", s.handleUserInventory)
		r.Post("/users/{userID}/inventory/{item}/use", s.handleUseItem)
		r.Get("/leaderboard", s.handleLeaderboard)

		// Notifications (if service configured)
		if s.notifier != nil {
			notifAPI := NewNotificationsAPI(s.notifier)
			notifAPI.RegisterRoutes(r)
		}

		// Scheduler
		if s.scheduler != nil {
			r.Get("/scheduler/stats", s.handleSchedulerStats)
			r.Get("/scheduler/triggers", s.handleSchedulerTriggers)
		}
	})

	// WebSocket
	r.Get("/ws", s.wsHub.handleWebSocket)

	s.router = r
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	// Start WebSocket hub
	go s.wsHub.Run()

	s.logger.Info("API server starting on http://%s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.notifier != nil {
		s.notifier.Unsubscribe(s.wsHub.ID())
	}
	s.wsHub.Stop()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).Round(time.Microsecond),
			"request":  middleware.GetReqID(r.Context()),
		}).Debug("Request handled")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{"status": "ok"}
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
		if n, err := storage.NewHabitStore(s.db).Count(r.Context()); err == nil {
			status["habits"] = n
		}
		if n, err := s.progress.UserCount(r.Context()); err == nil {
			status["users"] = n
		}
	}
	if s.scheduler != nil {
		status["scheduler"] = s.scheduler.GetStats().Started
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleSchedulerStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.scheduler.GetStats())
}

func (s *Server) handleSchedulerTriggers(w http.ResponseWriter, r *http.Request) {
	triggers := s.scheduler.Triggers()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"triggers": triggers,
		"count":    len(triggers),
	})
}

// --- Response helpers ---

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps domain errors onto HTTP statuses.
func respondErr(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrParseFailure),
		errors.Is(err, core.ErrUnknownScale),
		errors.Is(err, core.ErrInvalidOverride),
		errors.Is(err, core.ErrInvalidCadence),
		errors.Is(err, core.ErrInvalidInput),
		errors.Is(err, core.ErrMissingRequired):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrHabitNotFound),
		errors.Is(err, core.ErrUserNotFound),
		errors.Is(err, core.ErrDeliveryNotFound),
		errors.Is(err, core.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrHabitExists),
		errors.Is(err, core.ErrDuplicateCompletion),
		errors.Is(err, core.ErrHabitInactive):
		return http.StatusConflict
	case errors.Is(err, core.ErrDelivery):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", core.ErrInvalidInput, err)
	}
	return nil
}

func queryLimit(r *http.Request, def int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			return n
		}
	}
	return def
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"unified_portfolio/internal/app"
	"unified_portfolio/internal/config"
	"unified_portfolio/internal/handlers"
	"unified_portfolio/internal/logger"
	"unified_portfolio/internal/middleware"
)

// server holds the HTTP layer on top of the application.
type server struct {
	app              *app.App
	router           *chi.Mux
	apiLimiter       *middleware.RateLimiter
	portfolioHandler *handlers.PortfolioHandler
	historyHandler   *handlers.HistoryHandler
	schwabHandler    *handlers.SchwabHandler
	streamHandler    *handlers.StreamHandler
}

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	envFile := flag.String("env", ".env", "optional .env file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*envFile, *configPath)
	if err != nil {
		logger.GetLogger().WithError(err).Fatal("Failed to load configuration")
	}

	log := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	logger.SetLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()
	log.WithFields(logger.Fields{"db_path": cfg.DBPath}).Info("Database migrations completed")

	if restored, err := a.SyncService.WarmStart(); err != nil {
		log.WithError(err).Warn("Failed to restore last snapshot")
	} else if restored {
		log.Info("Restored portfolio from last snapshot")
	}

	deps := handlers.NewDependencies().
		WithProjector(a.Projector).
		WithSyncService(a.SyncService).
		WithSyncHistory(a.SyncHistory).
		WithSecrets(a.Secrets).
		WithBaseCurrency(cfg.BaseCurrency).
		WithSchwab(a.SchwabManager, a.SchwabProvider).
		WithSchwabLogout(a.ForgetSchwab).
		WithLogger(log)

	s := &server{
		app:              a,
		apiLimiter:       middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		portfolioHandler: handlers.NewPortfolioHandler(deps),
		historyHandler:   handlers.NewHistoryHandler(deps),
		schwabHandler:    handlers.NewSchwabHandler(deps),
		streamHandler:    handlers.NewStreamHandler(deps),
	}
	defer s.apiLimiter.Stop()
	s.setupRouter()

	// Fetch cycles: one at startup, then on the timer
	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		a.SyncService.Run(ctx, cfg.RefreshInterval)
	}()

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Infof("Server starting on http://%s", cfg.Address())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server error")
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	<-syncDone
	a.SyncService.Wait()

	log.Info("Server stopped")
}

func (s *server) setupRouter() {
	r := chi.NewRouter()

	// Chi middleware (aliased as chimw to avoid conflict with our middleware package)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(s.app.Log))
	r.Use(chimw.Recoverer)

	// Security headers for all responses
	r.Use(middleware.SecurityHeaders)

	// Health check
	r.Get("/health", s.handleHealth)

	// Portfolio API
	r.Group(func(r chi.Router) {
		r.Use(s.apiLimiter.Limit)
		r.Use(middleware.NoStore)
		r.Use(chimw.Compress(5))

		r.Get("/api/portfolio", s.portfolioHandler.Get)
		r.Get("/api/portfolio/summary", s.portfolioHandler.Summary)
		r.Post("/api/portfolio/refresh", s.portfolioHandler.RefreshAll)
		r.Post("/api/portfolio/refresh/{provider}", s.portfolioHandler.RefreshProvider)
		r.Get("/api/sync/history", s.historyHandler.List)
	})

	// Schwab authorization, rate limited to slow down code guessing
	r.Group(func(r chi.Router) {
		r.Use(middleware.LimitAuth)
		r.Use(middleware.NoStore)

		r.Get("/auth/schwab", s.schwabHandler.Start)
		r.Get("/auth/schwab/qr", s.schwabHandler.QRCode)
		r.Get("/auth/schwab/callback", s.schwabHandler.Callback)
		r.Post("/auth/schwab/exchange", s.schwabHandler.Exchange)
		r.Get("/auth/schwab/status", s.schwabHandler.Status)
		r.Post("/auth/schwab/logout", s.schwabHandler.Logout)
	})

	// Observer stream
	r.Get("/ws/portfolio", s.streamHandler.Serve)

	s.router = r
}

// handleHealth returns the server health status.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":    "ok",
		"providers": s.app.SyncService.Providers(),
	}
	if err := s.app.DB.PingContext(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["database"] = err.Error()
	}
	if agg := s.app.Projector.Latest(); agg != nil {
		body["updated_at"] = agg.UpdatedAt
	}

	lastSync := make(map[string]any)
	for _, name := range s.app.SyncService.Providers() {
		h, err := s.app.SyncHistory.GetLatestByProvider(name)
		if err != nil || h == nil {
			continue
		}
		lastSync[name] = map[string]any{"status": h.Status, "started_at": h.StartedAt}
	}
	body["last_sync"] = lastSync

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

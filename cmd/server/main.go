// geminichat - minimal Gemini web chat server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/geminichat/internal/api"
	"github.com/ashureev/geminichat/internal/config"
	"github.com/ashureev/geminichat/internal/gateway"
	"github.com/ashureev/geminichat/internal/identity"
	"github.com/ashureev/geminichat/internal/middleware"
	"github.com/ashureev/geminichat/internal/session"
	"github.com/ashureev/geminichat/internal/store"
	"github.com/ashureev/geminichat/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"model", cfg.Gemini.Model,
		"credentials", len(cfg.Gemini.APIKeys),
	)
	if len(cfg.Gemini.APIKeys) == 0 {
		slog.Warn("No Gemini API key configured; chat requests will fail with \"Missing API key\"")
	}

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	gw := gateway.New(
		gateway.NewGenAIGenerator(cfg.Gemini.Model),
		cfg.Gemini.APIKeys,
		cfg.Gemini.Timeout,
		logger,
	)

	limiter := gateway.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Close()

	var recorder session.Recorder
	var pruner session.Pruner
	if cfg.Transcript.Enabled {
		recorder = repo
		pruner = repo
	}
	registry := session.NewRegistry(gw, recorder, logger)

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, registry, cfg.Gemini.Model, gw.Credentials())
	healthHandler := api.NewHealthHandler(repo)
	chatHandler := gateway.NewHandler(gw, limiter, cfg.MaxRequestBodySize)
	wsHandler := api.NewChatSocketHandler(repo, registry, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Everything else carries an anonymous identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

		apiHandler.RegisterRoutes(r)
		chatHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// SSE streams and websockets need WriteTimeout disabled.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry.StartSweeper(ctx, session.SweeperConfig{
		Interval:  cfg.SessionTTL / 4,
		TTL:       cfg.SessionTTL,
		Retention: cfg.Transcript.Retention,
		Pruner:    pruner,
	})

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Cancels pending turns and flushes transcript writes before the store closes.
	registry.Close()

	slog.Info("Server stopped successfully")
}

// Neon Run - narrative text-adventure server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/neonrun/internal/api"
	"github.com/ashureev/neonrun/internal/config"
	"github.com/ashureev/neonrun/internal/game"
	"github.com/ashureev/neonrun/internal/generator"
	"github.com/ashureev/neonrun/internal/middleware"
	"github.com/ashureev/neonrun/internal/prompt"
	"github.com/ashureev/neonrun/internal/reconcile"
	"github.com/ashureev/neonrun/internal/scenario"
	"github.com/ashureev/neonrun/internal/store"
	"github.com/ashureev/neonrun/internal/terminal"
	"github.com/ashureev/neonrun/internal/transcript"
	"github.com/ashureev/neonrun/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
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

	if err := run(cfg, logger); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func openStore(cfg *config.Config) (store.Repository, error) {
	if cfg.StoreDriver == config.StoreMemory {
		slog.Warn("Using in-memory store; sessions are lost on restart")
		return store.NewMemory(), nil
	}
	return store.NewSQLite(cfg.DBPath)
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "store", cfg.StoreDriver, "provider", cfg.Generator.Provider)

	// Initialize dependencies.
	repo, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected")

	sc, err := scenario.Load(cfg.ScenarioPath)
	if err != nil {
		return err
	}
	slog.Info("Scenario loaded", "scenario", sc.Name)

	gen, err := generator.New(generator.Config{
		Provider:    cfg.Generator.Provider,
		Model:       cfg.Generator.Model,
		APIKey:      cfg.Generator.APIKey,
		BaseURL:     cfg.Generator.BaseURL,
		MaxTokens:   cfg.Generator.MaxTokens,
		Temperature: cfg.Generator.Temperature,
		Timeout:     cfg.Generator.Timeout,
	})
	if err != nil {
		return fmt.Errorf("initialize generator: %w", err)
	}
	slog.Info("Generator ready", "provider", gen.Name(), "timeout", cfg.Generator.Timeout)

	recorder, err := transcript.New(transcript.Config{
		Enabled:      cfg.Transcript.Enabled,
		Dir:          cfg.Transcript.Dir,
		QueueSize:    cfg.Transcript.QueueSize,
		MaxOpenFiles: cfg.Transcript.MaxOpenFiles,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize transcript logger: %w", err)
	}
	defer func() {
		if closeErr := recorder.Close(); closeErr != nil {
			slog.Error("Failed to close transcript logger", "error", closeErr)
		}
	}()

	// Initialize services.
	svc, err := game.NewService(
		repo,
		prompt.NewAssembler(repo),
		gen,
		reconcile.NewMarker(sc.Marker),
		sc,
		game.Options{MaxActionLength: cfg.MaxActionLength, Recorder: recorder},
	)
	if err != nil {
		return fmt.Errorf("initialize game service: %w", err)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Close()

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo)
	gameHandler := api.NewGameHandler(svc, limiter)
	wsHandler := terminal.NewWebSocketHandler(svc, terminal.NewSessionManager(), limiter, cfg.CORSAllowedOrigins)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)
	gameHandler.RegisterRoutes(r)
	wsHandler.RegisterRoutes(r)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WebSocket games are long-lived; generation itself is bounded by GENERATOR_TIMEOUT.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for WebSocket support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("forced shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

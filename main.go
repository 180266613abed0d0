package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/loiht2/assistant-runtime/backend/config"
	"github.com/loiht2/assistant-runtime/backend/handlers"
	"github.com/loiht2/assistant-runtime/backend/metrics"
	"github.com/loiht2/assistant-runtime/backend/middleware"
	"github.com/loiht2/assistant-runtime/backend/orchestrator"
	"github.com/loiht2/assistant-runtime/backend/storage"
)

var (
	configPath string
	port       string
)

var rootCmd = &cobra.Command{
	Use:   "assistant-runtime",
	Short: "Assistant runtime backend",
	Long: `Runs the assistant's long-lived background work: phase-driven training
processes, a bounded simulated trading pool and periodic scheduled jobs,
with their state persisted across restarts.`,
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and background loops",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "Path to YAML config file (optional)")
	rootCmd.PersistentFlags().StringVar(&port, "port", "", "Server port (overrides config and PORT)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if port != "" {
		cfg.Port = port
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("Unknown log level, using info")
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Str("backend", cfg.Store.Backend).Msg("Starting assistant runtime backend")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Connect(ctx); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}
	defer cfg.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	backend, err := orchestrator.NewBackend(cfg)
	if err != nil {
		return err
	}
	store := storage.NewStatusStore(backend, m, nil)

	archiver, err := orchestrator.NewArchiver(ctx, cfg, store)
	if err != nil {
		return fmt.Errorf("failed to initialize snapshot archiver: %w", err)
	}

	orch := orchestrator.New(cfg, orchestrator.Deps{
		Store:    store,
		Metrics:  m,
		Archiver: archiver,
	})
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst).Middleware())

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	handlers.NewHandler(orch).Register(router)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server...")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("Server failed")
		}
	}

	// Graceful shutdown with 10-second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Server forced to shutdown")
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Background work did not drain")
	}

	log.Info().Msg("Server stopped gracefully")
	return nil
}

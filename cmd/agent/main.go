// Package main is the entry point for the muse agent.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/harmonia-ai/muse/internal/admission"
	"github.com/harmonia-ai/muse/internal/agent"
	"github.com/harmonia-ai/muse/internal/backend"
	"github.com/harmonia-ai/muse/internal/config"
	"github.com/harmonia-ai/muse/internal/delivery"
	"github.com/harmonia-ai/muse/internal/events"
	"github.com/harmonia-ai/muse/internal/handler"
	"github.com/harmonia-ai/muse/internal/llm"
	"github.com/harmonia-ai/muse/internal/middleware"
	"github.com/harmonia-ai/muse/internal/platform"
	"github.com/harmonia-ai/muse/internal/schedule"
	"github.com/harmonia-ai/muse/internal/state"
	"github.com/harmonia-ai/muse/pkg/logger"
	"github.com/harmonia-ai/muse/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting muse agent")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "muse", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect the lifecycle event feed when configured
	var pub *events.Publisher
	if cfg.NATSURL != "" {
		pub, err = events.Connect(events.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer pub.Close()
	}

	// Load persisted state
	store := state.NewStore(cfg.HistoryDir, cfg.ConfigDir, log)
	if err := store.Load(); err != nil {
		log.Error("failed to load state", zap.Error(err))
		os.Exit(1)
	}
	writer := state.NewWriter(store, log)
	adm := admission.NewController()

	// Initialize the text-generation client
	llmClient, err := llm.NewClient(llm.Provider(cfg.DefaultProvider), providerKey(cfg))
	if err != nil {
		log.Error("failed to create LLM client", zap.String("provider", cfg.DefaultProvider), zap.Error(err))
		os.Exit(1)
	}
	if g, ok := llmClient.(*llm.GeminiClient); ok {
		g.PollInterval = cfg.UploadPollInterval
		g.PollDeadline = cfg.UploadPollDeadline
	}
	uploader, _ := llmClient.(llm.FileUploader)

	// Media backends
	registry := backend.NewDefaultRegistry(log)

	// Open the Discord session
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		log.Error("failed to create Discord session", zap.Error(err))
		os.Exit(1)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	messenger := platform.NewDiscord(session, log)
	machine := delivery.NewMachine(messenger, store, writer, adm, llmClient, registry, pub, delivery.Config{
		RefreshInterval:           cfg.RefreshInterval,
		MaxAttempts:               cfg.MaxAttempts,
		RetryDelay:                cfg.RetryDelay,
		SurfaceIntermediateErrors: cfg.SurfaceIntermediateErrs,
		VerboseErrors:             cfg.VerboseErrors,
	}, log)
	ag := agent.New(machine, store, messenger, uploader, log)

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		msg, ok := platform.NormalizeMessage(s, m)
		if !ok {
			return
		}
		go ag.HandleMessage(ctx, msg)
	})
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		in, ok := platform.NormalizeCommand(i)
		if !ok {
			return
		}
		go ag.HandleInteraction(ctx, in)
	})

	if err := session.Open(); err != nil {
		log.Error("failed to open Discord session", zap.Error(err))
		os.Exit(1)
	}
	defer session.Close()

	// Nightly retention sweep
	reset := schedule.NewReset(store, writer, log)
	reset.Start()

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(pub, func() bool {
		return session.State != nil && session.State.User != nil
	})
	stateHandler := handler.NewStateHandler(store, writer, adm, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Admin routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.AdminJWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/state", func(r chi.Router) {
			r.Get("/summary", stateHandler.Summary)
			r.Post("/flush", stateHandler.Flush)
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.AdminPort,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("admin server listening", zap.String("port", cfg.AdminPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reset.Stop(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server forced to shutdown", zap.Error(err))
	}
	if err := writer.Flush(shutdownCtx); err != nil {
		log.Error("final state flush failed", zap.Error(err))
	}

	log.Info("agent stopped")
}

func providerKey(cfg *config.Config) string {
	switch cfg.DefaultProvider {
	case string(llm.ProviderAnthropic):
		return cfg.AnthropicAPIKey
	case string(llm.ProviderOpenAI):
		return cfg.OpenAIAPIKey
	default:
		return cfg.GeminiAPIKey
	}
}

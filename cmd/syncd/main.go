// Package main is the entry point for the conversation sync sidecar.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/campuslink/chat-sync/internal/config"
	"github.com/campuslink/chat-sync/internal/directory"
	"github.com/campuslink/chat-sync/internal/handler"
	"github.com/campuslink/chat-sync/internal/identity"
	"github.com/campuslink/chat-sync/internal/middleware"
	"github.com/campuslink/chat-sync/internal/session"
	"github.com/campuslink/chat-sync/internal/transport"
	"github.com/campuslink/chat-sync/pkg/logger"
	"github.com/campuslink/chat-sync/pkg/tracing"
)

func main() {
	// Load .env if present, then configuration
	_ = godotenv.Load()
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting chat-sync sidecar")

	// Initialize tracing if enabled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-sync", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Resolve the session identity from the held credential. Fatal on
	// failure: without it no message can be attributed to "self".
	self, err := identity.Resolve(cfg.AuthToken)
	if err != nil {
		log.Error("failed to resolve identity", zap.Error(err))
		os.Exit(1)
	}
	log = log.WithSession(self.ID, string(self.Role))

	// Wire the sync collaborators
	dir := directory.NewClient(cfg.APIBaseURL, cfg.AuthToken, cfg.RequestTimeout)
	channel := transport.NewManager(transport.Options{
		URL:                  cfg.RealtimeURL,
		Token:                cfg.AuthToken,
		ReconnectInitialWait: cfg.ReconnectInitialWait,
		ReconnectMaxWait:     cfg.ReconnectMaxWait,
		ReconnectMaxElapsed:  cfg.ReconnectMaxElapsed,
	}, log)
	defer channel.Close()

	sess := session.New(self, dir, channel, log, session.Options{
		SendAckTimeout: cfg.SendAckTimeout,
	})
	if err := sess.Start(ctx); err != nil {
		log.Error("failed to start sync session", zap.Error(err))
		os.Exit(1)
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(sess)
	conversationHandler := handler.NewConversationHandler(sess, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Correlation-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Local API
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/status", conversationHandler.Status)
		r.Get("/partners", conversationHandler.Partners)
		r.Post("/refresh", conversationHandler.Refresh)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Post("/close", conversationHandler.Close)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/messages", conversationHandler.Messages)
				r.Post("/messages", conversationHandler.Send)
				r.Post("/open", conversationHandler.Open)
			})
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("local API listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("stopped")
}

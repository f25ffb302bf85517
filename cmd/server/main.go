package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ignite/mailtrack/internal/api"
	"github.com/ignite/mailtrack/internal/config"
	"github.com/ignite/mailtrack/internal/mailing"
	"github.com/ignite/mailtrack/internal/pkg/logger"
	"github.com/ignite/mailtrack/internal/repository/memory"
	"github.com/ignite/mailtrack/internal/tracking"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		logger.Error("Failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	if level, err := logger.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warn("Unknown log level, keeping default", "level", cfg.Log.Level)
	}
	logger.SetRedactPII(cfg.Log.Redact())

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	emails := memory.NewEmailRepository()

	sink, source, err := newTransport(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open event transport", "broker", cfg.Broker.Type, "error", err)
		os.Exit(1)
	}
	publisher := tracking.NewPublisher(sink, cfg.Broker.Topic, cfg.Broker.DeliveryTimeout())

	consumer := tracking.NewConsumer(source, emails,
		tracking.WithRetryBackoff(cfg.Broker.RetryBackoff()))
	if err := consumer.Start(ctx); err != nil {
		logger.Error("Failed to start consumer", "error", err)
		os.Exit(1)
	}

	renderer, err := newRenderer(cfg)
	if err != nil {
		logger.Error("Failed to build renderer", "error", err)
		os.Exit(1)
	}
	sender, err := newSender(ctx, cfg.Mail)
	if err != nil {
		logger.Error("Failed to build mail sender", "transport", cfg.Mail.Transport, "error", err)
		os.Exit(1)
	}
	mail := mailing.NewService(renderer, sender, emails, publisher, cfg.Mail.FromEmail, cfg.Mail.FromName)

	limiter, err := newRateLimiter(cfg.RateLimit)
	if err != nil {
		logger.Error("Failed to build rate limiter", "error", err)
		os.Exit(1)
	}

	baseURL := strings.TrimSuffix(cfg.Server.BaseURL, "/")
	landing := cfg.Mail.ClickRedirectURL
	if landing == "" {
		landing = baseURL + "/"
	}
	track := tracking.NewHandler(publisher, tracking.Redirects{
		Stats:   baseURL + "/api/mail/stats",
		Landing: landing,
	})

	router := api.SetupRoutes(api.NewHandlers(mail, emails, consumer), track, api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Limiter:        limiter,
	})

	// WriteTimeout covers a send that waits out the broker delivery timeout.
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.Broker.DeliveryTimeout() + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Mail tracking server starting",
			"addr", server.Addr,
			"broker", cfg.Broker.Type,
			"topic", cfg.Broker.Topic,
			"mail_transport", cfg.Mail.Transport,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		logger.Info("Shutting down", "signal", sig.String())
	case <-consumer.Done():
		logger.Error("ALERT: tracking consumer stopped on a fatal broker error", "error", consumer.Err())
		exitCode = 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	if err := consumer.Stop(); err != nil {
		logger.Warn("Consumer stop", "error", err)
	}
	if err := sink.Close(); err != nil {
		logger.Warn("Producer close", "error", err)
	}

	stats := consumer.Stats()
	logger.Info("Server exited", "applied", stats.Applied, "skipped", stats.Skipped)
	os.Exit(exitCode)
}

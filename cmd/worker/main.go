// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/unclebandit/newsletter-backend/internal/db"
	"github.com/unclebandit/newsletter-backend/internal/email"
	"github.com/unclebandit/newsletter-backend/internal/queue"
	"github.com/unclebandit/newsletter-backend/internal/repository"
	"github.com/unclebandit/newsletter-backend/internal/service"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Str("component", "worker").Logger()

	// Load .env
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("no .env file found, relying on OS environment variables")
	}

	conn, err := db.Open(db.Config{
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
		Host:     os.Getenv("DB_HOST"),
		Port:     os.Getenv("DB_PORT"),
		Name:     os.Getenv("DB_NAME"),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer conn.Close()

	sender := email.NewClient(
		os.Getenv("EMAIL_BASE_URL"),
		os.Getenv("EMAIL_SENDER"),
		os.Getenv("EMAIL_AUTH_TOKEN"),
		envDuration("EMAIL_TIMEOUT", 10*time.Second),
	)

	cfg := service.DefaultWorkerConfig()
	cfg.PollInterval = envDuration("WORKER_POLL_INTERVAL", cfg.PollInterval)
	cfg.ErrorInterval = envDuration("WORKER_ERROR_INTERVAL", cfg.ErrorInterval)
	cfg.MaxAttempts = envInt("WORKER_MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.BackoffBase = envDuration("WORKER_BACKOFF_BASE", cfg.BackoffBase)
	cfg.BackoffCap = envDuration("WORKER_BACKOFF_CAP", cfg.BackoffCap)
	cfg.SendsPerSecond = envFloat("WORKER_SENDS_PER_SECOND", cfg.SendsPerSecond)

	taskRepo := &repository.DeliveryTaskRepository{DB: conn}
	worker := service.NewDeliveryWorker(
		service.RepoTaskSource{Repo: taskRepo},
		sender,
		cfg,
		logger,
	)

	if url := os.Getenv("AMQP_URL"); url != "" {
		amqpConn, err := amqp.Dial(url)
		if err != nil {
			logger.Warn().Err(err).Msg("broker unavailable, polling without wake-up nudges")
		} else {
			defer amqpConn.Close()
			waker, err := queue.NewAMQPWaker(amqpConn, logger)
			if err != nil {
				logger.Warn().Err(err).Msg("failed to set up wake-up consumer")
			} else {
				defer waker.Close()
				worker.Wake = waker.Wake()
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Dur("poll_interval", cfg.PollInterval).
		Int("max_attempts", cfg.MaxAttempts).
		Msg("delivery worker running")

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("delivery worker stopped")
	}
	logger.Info().Msg("delivery worker shut down")
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// cmd/server/main.go
package main

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/unclebandit/newsletter-backend/internal/controller"
	"github.com/unclebandit/newsletter-backend/internal/db"
	"github.com/unclebandit/newsletter-backend/internal/handler"
	"github.com/unclebandit/newsletter-backend/internal/queue"
	"github.com/unclebandit/newsletter-backend/internal/repository"
	"github.com/unclebandit/newsletter-backend/internal/service"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Str("component", "server").Logger()

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

	idempotencyRepo := &repository.IdempotencyRepository{DB: conn}
	issueRepo := &repository.IssueRepository{DB: conn}
	taskRepo := &repository.DeliveryTaskRepository{DB: conn}

	// Wake-up nudges are optional: without a broker the worker still
	// drains the outbox on its poll interval.
	var notifier queue.Notifier = queue.NoopNotifier{}
	if url := os.Getenv("AMQP_URL"); url != "" {
		amqpConn, err := amqp.Dial(url)
		if err != nil {
			logger.Warn().Err(err).Msg("broker unavailable, publishing without wake-up nudges")
		} else {
			defer amqpConn.Close()
			n, err := queue.NewAMQPNotifier(amqpConn, logger)
			if err != nil {
				logger.Warn().Err(err).Msg("failed to set up wake-up notifier")
			} else {
				defer n.Close()
				notifier = n
			}
		}
	}

	coordinator := &service.IdempotencyCoordinator{
		Store:  idempotencyRepo,
		Config: service.DefaultCoordinatorConfig(),
		Log:    logger,
	}

	publishService := &service.PublishService{
		Issues:      issueRepo,
		Idempotency: idempotencyRepo,
		Notifier:    notifier,
		Log:         logger,
	}

	newsletterController := &controller.NewsletterController{
		Coordinator:    coordinator,
		PublishService: publishService,
		Log:            logger,
	}

	opsHandler := &handler.OpsHandler{
		DB:    conn,
		Tasks: taskRepo,
		Log:   logger,
	}

	r := chi.NewRouter()

	// Newsletter routes
	r.Post("/admin/newsletters", newsletterController.PublishNewsletter)
	r.Get("/admin/dead-letters", opsHandler.ListDeadLetters)
	r.Get("/healthz", opsHandler.HealthCheck)

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	logger.Info().Str("addr", addr).Msg("server running")
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

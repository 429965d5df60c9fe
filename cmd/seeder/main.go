// cmd/seeder/main.go
package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/unclebandit/newsletter-backend/internal/db"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/repository"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Str("component", "seeder").Logger()

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

	migrationFiles := []string{
		"migrations/001_create_subscriptions.sql",
		"migrations/002_create_newsletter_issues.sql",
		"migrations/003_create_idempotency.sql",
		"migrations/004_create_delivery_tasks.sql",
	}

	ctx := context.Background()
	for _, file := range migrationFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			logger.Fatal().Err(err).Str("file", file).Msg("failed to read migration")
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			logger.Fatal().Err(err).Str("file", file).Msg("failed to apply migration")
		}
		logger.Info().Str("file", file).Msg("applied migration")
	}

	subscriberRepo := &repository.SubscriberRepository{DB: conn}
	seedSubscribers := []struct {
		email  string
		status string
	}{
		{"alice@example.com", model.SubscriberConfirmed},
		{"bob@example.com", model.SubscriberConfirmed},
		{"carol@example.com", model.SubscriberConfirmed},
		{"dave@example.com", model.SubscriberPending},
	}
	for _, s := range seedSubscribers {
		if err := subscriberRepo.Insert(ctx, s.email, s.status); err != nil {
			logger.Fatal().Err(err).Str("email", s.email).Msg("failed to seed subscriber")
		}
	}

	logger.Info().Int("subscribers", len(seedSubscribers)).Msg("database seeding completed")
}

package repository

import (
    "context"
    "database/sql"
    "time"

    "github.com/unclebandit/newsletter-backend/internal/model"
)

// SubscriberRepositoryInterface covers the read side the publish path needs
// plus the insert used by the seeder. The confirmation workflow itself lives
// in another service.
type SubscriberRepositoryInterface interface {
    Insert(ctx context.Context, email, status string) error
    ListConfirmed(ctx context.Context) ([]model.Subscriber, error)
    CountConfirmed(ctx context.Context) (int, error)
}

type SubscriberRepository struct {
    DB *sql.DB
}

func (r *SubscriberRepository) Insert(ctx context.Context, email, status string) error {
    query := `
        INSERT INTO subscriptions (email, status, subscribed_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (email) DO UPDATE SET status = EXCLUDED.status
    `
    _, err := r.DB.ExecContext(ctx, query, email, status, time.Now())
    return err
}

func (r *SubscriberRepository) ListConfirmed(ctx context.Context) ([]model.Subscriber, error) {
    query := `
        SELECT email, status
        FROM subscriptions
        WHERE status = 'confirmed'
    `
    rows, err := r.DB.QueryContext(ctx, query)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    subscribers := []model.Subscriber{}
    for rows.Next() {
        var s model.Subscriber
        if err := rows.Scan(&s.Email, &s.Status); err != nil {
            return nil, err
        }
        subscribers = append(subscribers, s)
    }
    return subscribers, rows.Err()
}

func (r *SubscriberRepository) CountConfirmed(ctx context.Context) (int, error) {
    var count int
    err := r.DB.QueryRowContext(ctx,
        `SELECT COUNT(*) FROM subscriptions WHERE status = 'confirmed'`,
    ).Scan(&count)
    return count, err
}

var _ SubscriberRepositoryInterface = (*SubscriberRepository)(nil)

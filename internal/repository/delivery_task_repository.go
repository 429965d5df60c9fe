package repository

import (
    "context"
    "database/sql"
    "time"

    "github.com/unclebandit/newsletter-backend/internal/model"
)

type DeliveryTaskRepositoryInterface interface {
    // ClaimNext locks one eligible task for this worker, or returns
    // (nil, nil) when the queue is empty. The claim holds an open
    // transaction; the caller must finish with exactly one of Complete,
    // Retry, DeadLetter or Release.
    ClaimNext(ctx context.Context) (*TaskClaim, error)

    ListDeadLetters(ctx context.Context, limit int) ([]model.DeliveryTask, error)
    CountPending(ctx context.Context, issueID string) (int, error)
}

type DeliveryTaskRepository struct {
    DB *sql.DB
}

// TaskClaim is an exclusively locked outbox row. The row lock lives until
// one of the finishers commits (or Release rolls back), so two workers can
// never act on the same task and no outcome is recorded before it is
// durably known.
type TaskClaim struct {
    DeliveryTask model.DeliveryTask
    tx           *sql.Tx
}

func (r *DeliveryTaskRepository) ClaimNext(ctx context.Context) (*TaskClaim, error) {
    tx, err := r.DB.BeginTx(ctx, nil)
    if err != nil {
        return nil, err
    }

    query := `
        SELECT issue_id, recipient_email, title, text_body, html_body, attempt_count, next_attempt_at
        FROM delivery_tasks
        WHERE NOT dead_lettered AND next_attempt_at <= now()
        ORDER BY next_attempt_at
        FOR UPDATE SKIP LOCKED
        LIMIT 1
    `
    var task model.DeliveryTask
    err = tx.QueryRowContext(ctx, query).Scan(
        &task.IssueID, &task.RecipientEmail, &task.Title,
        &task.TextBody, &task.HTMLBody, &task.AttemptCount, &task.NextAttemptAt,
    )
    if err != nil {
        tx.Rollback()
        if err == sql.ErrNoRows {
            return nil, nil
        }
        return nil, err
    }
    return &TaskClaim{DeliveryTask: task, tx: tx}, nil
}

func (c *TaskClaim) Task() model.DeliveryTask { return c.DeliveryTask }

// Complete removes the delivered task and commits.
func (c *TaskClaim) Complete(ctx context.Context) error {
    query := `
        DELETE FROM delivery_tasks
        WHERE issue_id=$1 AND recipient_email=$2
    `
    if _, err := c.tx.ExecContext(ctx, query, c.DeliveryTask.IssueID, c.DeliveryTask.RecipientEmail); err != nil {
        c.tx.Rollback()
        return err
    }
    return c.tx.Commit()
}

// Retry reschedules the task after a transient failure and commits.
func (c *TaskClaim) Retry(ctx context.Context, nextAttemptAt time.Time, lastError string) error {
    query := `
        UPDATE delivery_tasks
        SET attempt_count = attempt_count + 1, next_attempt_at = $3, last_error = $4
        WHERE issue_id=$1 AND recipient_email=$2
    `
    if _, err := c.tx.ExecContext(ctx, query,
        c.DeliveryTask.IssueID, c.DeliveryTask.RecipientEmail, nextAttemptAt, lastError,
    ); err != nil {
        c.tx.Rollback()
        return err
    }
    return c.tx.Commit()
}

// DeadLetter parks the task for operator inspection and commits. The row is
// kept but excluded from claiming.
func (c *TaskClaim) DeadLetter(ctx context.Context, lastError string) error {
    query := `
        UPDATE delivery_tasks
        SET dead_lettered = TRUE, attempt_count = attempt_count + 1, last_error = $3
        WHERE issue_id=$1 AND recipient_email=$2
    `
    if _, err := c.tx.ExecContext(ctx, query,
        c.DeliveryTask.IssueID, c.DeliveryTask.RecipientEmail, lastError,
    ); err != nil {
        c.tx.Rollback()
        return err
    }
    return c.tx.Commit()
}

// Release drops the claim without recording an outcome.
func (c *TaskClaim) Release() error {
    return c.tx.Rollback()
}

func (r *DeliveryTaskRepository) ListDeadLetters(ctx context.Context, limit int) ([]model.DeliveryTask, error) {
    if limit < 1 {
        limit = 50
    }
    query := `
        SELECT issue_id, recipient_email, title, text_body, html_body,
               attempt_count, next_attempt_at, dead_lettered, last_error, created_at
        FROM delivery_tasks
        WHERE dead_lettered
        ORDER BY created_at DESC
        LIMIT $1
    `
    rows, err := r.DB.QueryContext(ctx, query, limit)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    tasks := []model.DeliveryTask{}
    for rows.Next() {
        var t model.DeliveryTask
        if err := rows.Scan(
            &t.IssueID, &t.RecipientEmail, &t.Title, &t.TextBody, &t.HTMLBody,
            &t.AttemptCount, &t.NextAttemptAt, &t.DeadLettered, &t.LastError, &t.CreatedAt,
        ); err != nil {
            return nil, err
        }
        tasks = append(tasks, t)
    }
    return tasks, rows.Err()
}

func (r *DeliveryTaskRepository) CountPending(ctx context.Context, issueID string) (int, error) {
    var count int
    err := r.DB.QueryRowContext(ctx,
        `SELECT COUNT(*) FROM delivery_tasks WHERE issue_id=$1 AND NOT dead_lettered`,
        issueID,
    ).Scan(&count)
    return count, err
}

var _ DeliveryTaskRepositoryInterface = (*DeliveryTaskRepository)(nil)

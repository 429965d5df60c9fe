package repository

import (
    "context"
    "database/sql"
    "encoding/json"
    "fmt"

    "github.com/unclebandit/newsletter-backend/internal/model"
)

type IssueRepositoryInterface interface {
    // PublishIssue commits the whole publish in one transaction: the issue
    // row, one delivery task per confirmed subscriber, and the response on
    // the idempotency claim. Either all of it lands or none of it does.
    // Returns the number of delivery tasks enqueued.
    PublishIssue(ctx context.Context, issue *model.NewsletterIssue, callerID, key string, resp *model.SavedResponse) (int, error)

    GetByID(ctx context.Context, issueID string) (*model.NewsletterIssue, error)
}

type IssueRepository struct {
    DB *sql.DB
}

func (r *IssueRepository) PublishIssue(ctx context.Context, issue *model.NewsletterIssue, callerID, key string, resp *model.SavedResponse) (queued int, err error) {
    tx, err := r.DB.BeginTx(ctx, nil)
    if err != nil {
        return 0, err
    }
    defer func() {
        if err != nil {
            tx.Rollback()
        }
    }()

    insertIssue := `
        INSERT INTO newsletter_issues (issue_id, title, text_content, html_content, published_at)
        VALUES ($1, $2, $3, $4, $5)
    `
    if _, err = tx.ExecContext(ctx, insertIssue,
        issue.ID, issue.Title, issue.TextContent, issue.HTMLContent, issue.PublishedAt,
    ); err != nil {
        return 0, err
    }

    // Fan out inside the same transaction: one task per confirmed
    // subscriber, content denormalized onto the row.
    enqueueTasks := `
        INSERT INTO delivery_tasks (issue_id, recipient_email, title, text_body, html_body, next_attempt_at, created_at)
        SELECT $1, email, $2, $3, $4, now(), now()
        FROM subscriptions
        WHERE status = 'confirmed'
    `
    res, err := tx.ExecContext(ctx, enqueueTasks,
        issue.ID, issue.Title, issue.TextContent, issue.HTMLContent,
    )
    if err != nil {
        return 0, err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return 0, err
    }

    headers, err := json.Marshal(resp.Headers)
    if err != nil {
        return 0, fmt.Errorf("encode response headers: %w", err)
    }
    saveResponse := `
        UPDATE idempotency
        SET response_status_code=$3, response_headers=$4, response_body=$5
        WHERE caller_id=$1 AND idempotency_key=$2
    `
    if _, err = tx.ExecContext(ctx, saveResponse, callerID, key, resp.StatusCode, headers, resp.Body); err != nil {
        return 0, err
    }

    if err = tx.Commit(); err != nil {
        return 0, err
    }
    return int(n), nil
}

func (r *IssueRepository) GetByID(ctx context.Context, issueID string) (*model.NewsletterIssue, error) {
    query := `
        SELECT issue_id, title, text_content, html_content, published_at
        FROM newsletter_issues
        WHERE issue_id=$1
    `
    var issue model.NewsletterIssue
    err := r.DB.QueryRowContext(ctx, query, issueID).Scan(
        &issue.ID, &issue.Title, &issue.TextContent, &issue.HTMLContent, &issue.PublishedAt,
    )
    if err != nil {
        if err == sql.ErrNoRows {
            return nil, nil
        }
        return nil, err
    }
    return &issue, nil
}

var _ IssueRepositoryInterface = (*IssueRepository)(nil)

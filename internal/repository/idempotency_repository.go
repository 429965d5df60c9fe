package repository

import (
    "context"
    "database/sql"
    "encoding/json"
    "fmt"
    "time"

    "github.com/unclebandit/newsletter-backend/internal/model"
)

type IdempotencyRepositoryInterface interface {
    // TryClaim records intent to execute the command under this key.
    // Returns true when the caller won the claim, false when a row for
    // (callerID, key) already exists.
    TryClaim(ctx context.Context, callerID, key string) (bool, error)

    // GetSavedResponse returns the cached response for a claimed key, or
    // nil when the claim exists but the first execution has not finished.
    GetSavedResponse(ctx context.Context, callerID, key string) (*model.SavedResponse, error)

    // SaveResponse attaches the response to an existing claim. Used for
    // responses produced outside the publish transaction (validation
    // failures); successful publishes save theirs inside PublishIssue.
    SaveResponse(ctx context.Context, callerID, key string, resp *model.SavedResponse) error
}

type IdempotencyRepository struct {
    DB *sql.DB
}

func (r *IdempotencyRepository) TryClaim(ctx context.Context, callerID, key string) (bool, error) {
    query := `
        INSERT INTO idempotency (caller_id, idempotency_key, created_at)
        VALUES ($1, $2, $3)
        ON CONFLICT DO NOTHING
    `
    res, err := r.DB.ExecContext(ctx, query, callerID, key, time.Now())
    if err != nil {
        return false, err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return false, err
    }
    return n > 0, nil
}

func (r *IdempotencyRepository) GetSavedResponse(ctx context.Context, callerID, key string) (*model.SavedResponse, error) {
    query := `
        SELECT response_status_code, response_headers, response_body
        FROM idempotency
        WHERE caller_id=$1 AND idempotency_key=$2
    `
    var (
        status  sql.NullInt64
        headers []byte
        body    []byte
    )
    err := r.DB.QueryRowContext(ctx, query, callerID, key).Scan(&status, &headers, &body)
    if err != nil {
        if err == sql.ErrNoRows {
            return nil, nil
        }
        return nil, err
    }
    // Claimed but the first execution has not saved its response yet.
    if !status.Valid {
        return nil, nil
    }

    resp := &model.SavedResponse{
        StatusCode: int(status.Int64),
        Body:       body,
    }
    if len(headers) > 0 {
        if err := json.Unmarshal(headers, &resp.Headers); err != nil {
            return nil, fmt.Errorf("decode saved response headers: %w", err)
        }
    }
    return resp, nil
}

func (r *IdempotencyRepository) SaveResponse(ctx context.Context, callerID, key string, resp *model.SavedResponse) error {
    headers, err := json.Marshal(resp.Headers)
    if err != nil {
        return fmt.Errorf("encode response headers: %w", err)
    }
    query := `
        UPDATE idempotency
        SET response_status_code=$3, response_headers=$4, response_body=$5
        WHERE caller_id=$1 AND idempotency_key=$2
    `
    _, err = r.DB.ExecContext(ctx, query, callerID, key, resp.StatusCode, headers, resp.Body)
    return err
}

var _ IdempotencyRepositoryInterface = (*IdempotencyRepository)(nil)

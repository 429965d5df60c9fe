package service

import (
    "context"
    "math/rand"
    "time"

    "github.com/rs/zerolog"

    appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
    "github.com/unclebandit/newsletter-backend/internal/model"
)

// IdempotencyStore defines the ledger operations the coordinator needs
type IdempotencyStore interface {
    TryClaim(ctx context.Context, callerID, key string) (bool, error)
    GetSavedResponse(ctx context.Context, callerID, key string) (*model.SavedResponse, error)
}

type CoordinatorConfig struct {
    // PollAttempts bounds how many times a duplicate request re-checks an
    // in-flight key before giving up with ErrClaimConflict.
    PollAttempts int
    // PollBase is the first poll delay; later delays double, with jitter.
    PollBase time.Duration
}

func DefaultCoordinatorConfig() CoordinatorConfig {
    return CoordinatorConfig{
        PollAttempts: 5,
        PollBase:     100 * time.Millisecond,
    }
}

// IdempotencyCoordinator decides whether an inbound command is new,
// in-flight, or already completed. It never executes the command itself:
// the sole claim winner gets Proceed, everyone else gets the cached
// response or a retry-later signal.
type IdempotencyCoordinator struct {
    Store  IdempotencyStore
    Config CoordinatorConfig
    Log    zerolog.Logger
}

// TryProcess claims (callerID, key). It returns (nil, nil) when the caller
// won the claim and must execute the command, (resp, nil) when a completed
// execution's response should be replayed verbatim, and ErrClaimConflict
// when the first execution is still in flight after the bounded poll.
func (c *IdempotencyCoordinator) TryProcess(ctx context.Context, callerID, key string) (*model.SavedResponse, error) {
    claimed, err := c.Store.TryClaim(ctx, callerID, key)
    if err != nil {
        return nil, appErrors.NewStorageError("idempotency claim", err)
    }
    if claimed {
        c.Log.Debug().Str("caller_id", callerID).Str("idempotency_key", key).
            Msg("idempotency key claimed")
        return nil, nil
    }

    // Someone holds the claim. Either they finished (replay their
    // response) or they are still running (poll briefly, then back off to
    // the caller). Re-running the command here is forbidden.
    attempts := c.Config.PollAttempts
    if attempts < 1 {
        attempts = 1
    }
    for attempt := 0; attempt < attempts; attempt++ {
        resp, err := c.Store.GetSavedResponse(ctx, callerID, key)
        if err != nil {
            return nil, appErrors.NewStorageError("idempotency lookup", err)
        }
        if resp != nil {
            c.Log.Debug().Str("caller_id", callerID).Str("idempotency_key", key).
                Int("status", resp.StatusCode).Msg("replaying saved response")
            return resp, nil
        }
        if attempt == attempts-1 {
            break
        }
        if err := sleepContext(ctx, jitteredDelay(c.Config.PollBase, attempt)); err != nil {
            return nil, err
        }
    }

    c.Log.Info().Str("caller_id", callerID).Str("idempotency_key", key).
        Msg("key still in flight after poll budget")
    return nil, appErrors.ErrClaimConflict
}

// jitteredDelay doubles the base per attempt and randomizes the upper half
// to keep concurrent duplicates from polling in lockstep.
func jitteredDelay(base time.Duration, attempt int) time.Duration {
    if base <= 0 {
        base = 50 * time.Millisecond
    }
    d := base << uint(attempt)
    half := d / 2
    return half + time.Duration(rand.Int63n(int64(half)+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
    timer := time.NewTimer(d)
    defer timer.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-timer.C:
        return nil
    }
}

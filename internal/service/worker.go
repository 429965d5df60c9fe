package service

import (
    "context"
    "errors"
    "time"

    "github.com/rs/zerolog"
    "golang.org/x/time/rate"

    "github.com/unclebandit/newsletter-backend/internal/email"
    appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
    "github.com/unclebandit/newsletter-backend/internal/model"
    "github.com/unclebandit/newsletter-backend/internal/repository"
)

// TaskClaim is an exclusively held outbox task. Exactly one finisher must
// be called; each one commits the outcome together with the row mutation.
type TaskClaim interface {
    Task() model.DeliveryTask
    Complete(ctx context.Context) error
    Retry(ctx context.Context, nextAttemptAt time.Time, lastError string) error
    DeadLetter(ctx context.Context, lastError string) error
    Release() error
}

// TaskSource hands out claims. (nil, nil) means the queue is drained.
type TaskSource interface {
    ClaimNext(ctx context.Context) (TaskClaim, error)
}

// RepoTaskSource adapts the delivery task repository to TaskSource.
type RepoTaskSource struct {
    Repo repository.DeliveryTaskRepositoryInterface
}

func (s RepoTaskSource) ClaimNext(ctx context.Context) (TaskClaim, error) {
    claim, err := s.Repo.ClaimNext(ctx)
    if err != nil {
        return nil, err
    }
    if claim == nil {
        return nil, nil
    }
    return claim, nil
}

type WorkerConfig struct {
    // PollInterval is how long to sleep on an empty queue; a wake-up nudge
    // cuts the sleep short.
    PollInterval time.Duration
    // ErrorInterval is the shorter sleep after a storage error.
    ErrorInterval time.Duration
    // MaxAttempts is the retry ceiling; reaching it dead-letters the task.
    MaxAttempts int
    // BackoffBase doubles per attempt up to BackoffCap.
    BackoffBase time.Duration
    BackoffCap  time.Duration
    // SendsPerSecond throttles outbound sends across the loop; 0 disables.
    SendsPerSecond float64
}

func DefaultWorkerConfig() WorkerConfig {
    return WorkerConfig{
        PollInterval:  10 * time.Second,
        ErrorInterval: time.Second,
        MaxAttempts:   5,
        BackoffBase:   time.Second,
        BackoffCap:    5 * time.Minute,
    }
}

// DeliveryWorker drains the outbox: claim one task, send, record the
// outcome in the claim's transaction. Several workers may run against the
// same store; skip-locked claiming partitions the queue between them.
type DeliveryWorker struct {
    Tasks   TaskSource
    Sender  email.Sender
    Config  WorkerConfig
    Log     zerolog.Logger
    Wake    <-chan struct{}
    limiter *rate.Limiter
}

func NewDeliveryWorker(tasks TaskSource, sender email.Sender, cfg WorkerConfig, log zerolog.Logger) *DeliveryWorker {
    w := &DeliveryWorker{
        Tasks:  tasks,
        Sender: sender,
        Config: cfg,
        Log:    log,
    }
    if cfg.SendsPerSecond > 0 {
        w.limiter = rate.NewLimiter(rate.Limit(cfg.SendsPerSecond), 1)
    }
    return w
}

type executionOutcome int

const (
    taskCompleted executionOutcome = iota
    emptyQueue
    executionError
)

// Run loops until the context is cancelled. One task's failure never stops
// the loop; it is recorded on that task and the loop moves on.
func (w *DeliveryWorker) Run(ctx context.Context) error {
    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        default:
        }

        switch w.tryExecuteTask(ctx) {
        case taskCompleted:
            // keep draining
        case emptyQueue:
            w.idle(ctx, w.Config.PollInterval)
        case executionError:
            w.idle(ctx, w.Config.ErrorInterval)
        }
    }
}

func (w *DeliveryWorker) tryExecuteTask(ctx context.Context) executionOutcome {
    claim, err := w.Tasks.ClaimNext(ctx)
    if err != nil {
        w.Log.Error().Err(err).Msg("failed to claim delivery task")
        return executionError
    }
    if claim == nil {
        return emptyQueue
    }
    task := claim.Task()

    if w.limiter != nil {
        if err := w.limiter.Wait(ctx); err != nil {
            claim.Release()
            return executionError
        }
    }

    sendErr := w.Sender.Send(ctx, task.RecipientEmail, task.Title, task.TextBody, task.HTMLBody)
    return w.settle(ctx, claim, task, sendErr)
}

// settle records the send outcome inside the claim's transaction. A send
// failure that is handled (retry scheduled, dead-lettered) still counts as
// a completed loop iteration.
func (w *DeliveryWorker) settle(ctx context.Context, claim TaskClaim, task model.DeliveryTask, sendErr error) executionOutcome {
    logger := w.Log.With().
        Str("issue_id", task.IssueID.String()).
        Str("recipient", task.RecipientEmail).
        Int("attempt", task.AttemptCount+1).
        Logger()

    if sendErr == nil {
        if err := claim.Complete(ctx); err != nil {
            logger.Error().Err(err).Msg("failed to complete delivered task")
            return executionError
        }
        logger.Debug().Msg("issue delivered")
        return taskCompleted
    }

    var permanent *appErrors.PermanentDeliveryError
    switch {
    case errors.As(sendErr, &permanent):
        if err := claim.DeadLetter(ctx, sendErr.Error()); err != nil {
            logger.Error().Err(err).Msg("failed to dead-letter task")
            return executionError
        }
        logger.Warn().Err(sendErr).Msg("task dead-lettered on permanent failure")
    case task.AttemptCount+1 >= w.Config.MaxAttempts:
        if err := claim.DeadLetter(ctx, sendErr.Error()); err != nil {
            logger.Error().Err(err).Msg("failed to dead-letter task")
            return executionError
        }
        logger.Warn().Err(sendErr).Msg("task dead-lettered after exhausting retries")
    default:
        next := time.Now().Add(backoffDelay(w.Config.BackoffBase, w.Config.BackoffCap, task.AttemptCount))
        if err := claim.Retry(ctx, next, sendErr.Error()); err != nil {
            logger.Error().Err(err).Msg("failed to reschedule task")
            return executionError
        }
        logger.Info().Err(sendErr).Time("next_attempt_at", next).Msg("task retry scheduled")
    }
    return taskCompleted
}

// backoffDelay is base·2^attempt capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
    if base <= 0 {
        base = time.Second
    }
    if max <= 0 {
        max = 5 * time.Minute
    }
    d := base
    for i := 0; i < attempt; i++ {
        d *= 2
        if d >= max {
            return max
        }
    }
    if d > max {
        return max
    }
    return d
}

// idle waits out d, returning early on cancellation or a wake-up nudge.
func (w *DeliveryWorker) idle(ctx context.Context, d time.Duration) {
    if d <= 0 {
        return
    }
    timer := time.NewTimer(d)
    defer timer.Stop()
    select {
    case <-ctx.Done():
    case <-w.Wake:
    case <-timer.C:
    }
}

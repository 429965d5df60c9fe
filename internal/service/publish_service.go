package service

import (
    "context"
    "encoding/json"
    "net/http"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/rs/zerolog"

    appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
    "github.com/unclebandit/newsletter-backend/internal/model"
    "github.com/unclebandit/newsletter-backend/internal/queue"
)

// IssuePublisher is the transactional unit of the publish command: issue
// row, fan-out tasks and saved response commit together or not at all.
type IssuePublisher interface {
    PublishIssue(ctx context.Context, issue *model.NewsletterIssue, callerID, key string, resp *model.SavedResponse) (int, error)
}

// ResponseSaver caches a response on an existing claim outside the publish
// transaction. The validation-failure path uses it so malformed requests
// replay the same error on resubmission.
type ResponseSaver interface {
    SaveResponse(ctx context.Context, callerID, key string, resp *model.SavedResponse) error
}

type PublishCommand struct {
    CallerID       string
    IdempotencyKey string
    Title          string
    TextContent    string
    HTMLContent    string
}

type PublishService struct {
    Issues      IssuePublisher
    Idempotency ResponseSaver
    Notifier    queue.Notifier
    Log         zerolog.Logger
}

// HandlePublish runs the publish command for a caller that won the
// idempotency claim. Whatever response it returns has already been saved
// under the claim, so replays are byte-identical.
func (s *PublishService) HandlePublish(ctx context.Context, cmd PublishCommand) (*model.SavedResponse, error) {
    if err := validatePublish(cmd); err != nil {
        resp := validationResponse(err)
        // The error response is cached too: a resubmitted malformed
        // request must replay this exact outcome, not re-validate.
        if saveErr := s.Idempotency.SaveResponse(ctx, cmd.CallerID, cmd.IdempotencyKey, resp); saveErr != nil {
            return nil, appErrors.NewStorageError("save validation response", saveErr)
        }
        s.Log.Warn().Str("caller_id", cmd.CallerID).Str("idempotency_key", cmd.IdempotencyKey).
            Err(err).Msg("rejected publish command")
        return resp, nil
    }

    issue := &model.NewsletterIssue{
        ID:          uuid.New(),
        Title:       cmd.Title,
        TextContent: cmd.TextContent,
        HTMLContent: cmd.HTMLContent,
        PublishedAt: time.Now(),
    }
    resp := acceptedResponse()

    queued, err := s.Issues.PublishIssue(ctx, issue, cmd.CallerID, cmd.IdempotencyKey, resp)
    if err != nil {
        // Nothing durable changed; the caller may retry the same key.
        return nil, appErrors.NewStorageError("publish issue", err)
    }

    s.Notifier.NotifyPublished(issue.ID)
    s.Log.Info().Str("caller_id", cmd.CallerID).Str("issue_id", issue.ID.String()).
        Int("tasks_enqueued", queued).Msg("newsletter issue published")
    return resp, nil
}

func validatePublish(cmd PublishCommand) error {
    if strings.TrimSpace(cmd.Title) == "" {
        return appErrors.NewValidationError("title", "must not be empty")
    }
    if strings.TrimSpace(cmd.TextContent) == "" {
        return appErrors.NewValidationError("text_content", "must not be empty")
    }
    if strings.TrimSpace(cmd.HTMLContent) == "" {
        return appErrors.NewValidationError("html_content", "must not be empty")
    }
    return nil
}

func jsonHeaders() []model.HeaderPair {
    return []model.HeaderPair{
        {Name: "Content-Type", Value: []byte("application/json")},
    }
}

func acceptedResponse() *model.SavedResponse {
    return &model.SavedResponse{
        StatusCode: http.StatusOK,
        Headers:    jsonHeaders(),
        Body:       []byte(`{"status":"accepted"}`),
    }
}

func validationResponse(err error) *model.SavedResponse {
    body, _ := json.Marshal(map[string]string{"error": err.Error()})
    return &model.SavedResponse{
        StatusCode: http.StatusBadRequest,
        Headers:    jsonHeaders(),
        Body:       body,
    }
}

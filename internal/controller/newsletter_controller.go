// internal/controller/newsletter_controller.go
package controller

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"

    "github.com/rs/zerolog"

    appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
    "github.com/unclebandit/newsletter-backend/internal/model"
    "github.com/unclebandit/newsletter-backend/internal/service"
)

const maxIdempotencyKeyLen = 64

type NewsletterController struct {
    Coordinator    *service.IdempotencyCoordinator
    PublishService *service.PublishService
    Log            zerolog.Logger
}

// PublishNewsletter accepts the publish command. The authenticated caller
// arrives in X-Caller-Id (session verification happens upstream). Retries
// carrying the same idempotency key get the first execution's exact bytes.
func (c *NewsletterController) PublishNewsletter(w http.ResponseWriter, r *http.Request) {
    callerID := r.Header.Get("X-Caller-Id")
    if callerID == "" {
        http.Error(w, "missing X-Caller-Id header", http.StatusUnauthorized)
        return
    }

    var body struct {
        Title          string `json:"title"`
        TextContent    string `json:"text_content"`
        HTMLContent    string `json:"html_content"`
        IdempotencyKey string `json:"idempotency_key"`
    }
    if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
        http.Error(w, "invalid body", http.StatusBadRequest)
        return
    }
    if body.IdempotencyKey == "" || len(body.IdempotencyKey) > maxIdempotencyKeyLen {
        http.Error(w, "idempotency_key must be 1-64 characters", http.StatusBadRequest)
        return
    }

    saved, err := c.Coordinator.TryProcess(r.Context(), callerID, body.IdempotencyKey)
    if err != nil {
        if errors.Is(err, appErrors.ErrClaimConflict) {
            w.Header().Set("Retry-After", "1")
            http.Error(w, "request already in flight, retry later", http.StatusServiceUnavailable)
            return
        }
        c.Log.Error().Err(err).Msg("idempotency coordination failed")
        http.Error(w, "temporary storage failure, retry later", http.StatusInternalServerError)
        return
    }
    if saved != nil {
        writeSavedResponse(w, saved)
        return
    }

    // We hold the claim now; the command must complete server-side even if
    // the client disconnects before the response.
    ctx := context.WithoutCancel(r.Context())
    resp, err := c.PublishService.HandlePublish(ctx, service.PublishCommand{
        CallerID:       callerID,
        IdempotencyKey: body.IdempotencyKey,
        Title:          body.Title,
        TextContent:    body.TextContent,
        HTMLContent:    body.HTMLContent,
    })
    if err != nil {
        c.Log.Error().Err(err).Str("caller_id", callerID).Msg("publish command failed")
        http.Error(w, "temporary storage failure, retry later", http.StatusInternalServerError)
        return
    }
    writeSavedResponse(w, resp)
}

// writeSavedResponse replays a response descriptor, headers in stored
// order, body verbatim.
func writeSavedResponse(w http.ResponseWriter, resp *model.SavedResponse) {
    for _, h := range resp.Headers {
        w.Header().Add(h.Name, string(h.Value))
    }
    w.WriteHeader(resp.StatusCode)
    w.Write(resp.Body)
}

// internal/handler/ops_handler.go
package handler

import (
    "database/sql"
    "encoding/json"
    "net/http"
    "strconv"

    "github.com/rs/zerolog"

    "github.com/unclebandit/newsletter-backend/internal/repository"
)

// OpsHandler holds the operational endpoints: health probe and dead-letter
// inspection.
type OpsHandler struct {
    DB    *sql.DB
    Tasks repository.DeliveryTaskRepositoryInterface
    Log   zerolog.Logger
}

func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
    if err := h.DB.PingContext(r.Context()); err != nil {
        h.Log.Error().Err(err).Msg("health check: database unreachable")
        http.Error(w, "database unreachable", http.StatusServiceUnavailable)
        return
    }
    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ListDeadLetters returns tasks that exhausted their retry budget or hit a
// permanent failure. Inspection only; requeueing is a manual operation.
func (h *OpsHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
    limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

    tasks, err := h.Tasks.ListDeadLetters(r.Context(), limit)
    if err != nil {
        h.Log.Error().Err(err).Msg("failed to list dead letters")
        http.Error(w, "failed to list dead letters", http.StatusInternalServerError)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]interface{}{
        "data":  tasks,
        "count": len(tasks),
    })
}

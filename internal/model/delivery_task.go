// internal/model/delivery_task.go
package model

import (
    "time"

    "github.com/google/uuid"
)

// DeliveryTask is one pending unit of fan-out work: one row per
// (issue, recipient). Content is denormalized onto the row so the worker
// never has to join back to newsletter_issues mid-delivery.
type DeliveryTask struct {
    IssueID        uuid.UUID `db:"issue_id" json:"issue_id"`
    RecipientEmail string    `db:"recipient_email" json:"recipient_email"`
    Title          string    `db:"title" json:"title"`
    TextBody       string    `db:"text_body" json:"text_body"`
    HTMLBody       string    `db:"html_body" json:"html_body"`
    AttemptCount   int       `db:"attempt_count" json:"attempt_count"`
    NextAttemptAt  time.Time `db:"next_attempt_at" json:"next_attempt_at"`
    DeadLettered   bool      `db:"dead_lettered" json:"dead_lettered"`
    LastError      string    `db:"last_error,omitempty" json:"last_error,omitempty"`
    CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

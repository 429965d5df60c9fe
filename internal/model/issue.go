// internal/model/issue.go
package model

import (
    "time"

    "github.com/google/uuid"
)

type NewsletterIssue struct {
    ID          uuid.UUID `db:"issue_id" json:"issue_id"`
    Title       string    `db:"title" json:"title"`
    TextContent string    `db:"text_content" json:"text_content"`
    HTMLContent string    `db:"html_content" json:"html_content"`
    PublishedAt time.Time `db:"published_at" json:"published_at"`
}

// internal/model/subscriber.go
package model

const (
    SubscriberPending   = "pending_confirmation"
    SubscriberConfirmed = "confirmed"
)

type Subscriber struct {
    Email  string `db:"email" json:"email"`
    Status string `db:"status" json:"status"`
}

package queue

import (
    "encoding/json"

    "github.com/google/uuid"
    "github.com/rs/zerolog"
    "github.com/streadway/amqp"
)

// The outbox table is the source of truth for pending deliveries; the
// broker only carries wake-up nudges so the worker polls immediately after
// a publish instead of waiting out its ticker. Losing a nudge (or running
// without a broker at all) costs latency, never correctness.

const wakeQueueName = "newsletter_wakeups"

// Notifier announces that new delivery tasks were committed.
type Notifier interface {
    NotifyPublished(issueID uuid.UUID)
}

type wakeMessage struct {
    IssueID string `json:"issue_id"`
}

// AMQPNotifier publishes nudges on a durable queue.
type AMQPNotifier struct {
    ch  *amqp.Channel
    log zerolog.Logger
}

func NewAMQPNotifier(conn *amqp.Connection, log zerolog.Logger) (*AMQPNotifier, error) {
    ch, err := conn.Channel()
    if err != nil {
        return nil, err
    }
    if _, err := ch.QueueDeclare(
        wakeQueueName,
        true,  // durable
        false, // delete when unused
        false, // exclusive
        false, // no-wait
        nil,   // arguments
    ); err != nil {
        ch.Close()
        return nil, err
    }
    return &AMQPNotifier{ch: ch, log: log}, nil
}

// NotifyPublished is best-effort: a broker error is logged and swallowed so
// a flaky broker can never fail a committed publish.
func (n *AMQPNotifier) NotifyPublished(issueID uuid.UUID) {
    body, _ := json.Marshal(wakeMessage{IssueID: issueID.String()})
    err := n.ch.Publish(
        "",
        wakeQueueName,
        false,
        false,
        amqp.Publishing{
            ContentType: "application/json",
            Body:        body,
        },
    )
    if err != nil {
        n.log.Warn().Err(err).Str("issue_id", issueID.String()).Msg("failed to publish wake-up nudge")
    }
}

func (n *AMQPNotifier) Close() error { return n.ch.Close() }

// NoopNotifier is used when no broker is configured; the worker then relies
// purely on its poll interval.
type NoopNotifier struct{}

func (NoopNotifier) NotifyPublished(uuid.UUID) {}

// AMQPWaker consumes nudges and coalesces them onto a signal channel the
// delivery worker selects on.
type AMQPWaker struct {
    ch   *amqp.Channel
    wake chan struct{}
    log  zerolog.Logger
}

func NewAMQPWaker(conn *amqp.Connection, log zerolog.Logger) (*AMQPWaker, error) {
    ch, err := conn.Channel()
    if err != nil {
        return nil, err
    }
    if _, err := ch.QueueDeclare(wakeQueueName, true, false, false, false, nil); err != nil {
        ch.Close()
        return nil, err
    }
    msgs, err := ch.Consume(
        wakeQueueName,
        "",
        true, // autoAck: nudges are disposable
        false,
        false,
        false,
        nil,
    )
    if err != nil {
        ch.Close()
        return nil, err
    }

    w := &AMQPWaker{ch: ch, wake: make(chan struct{}, 1), log: log}
    go func() {
        for range msgs {
            select {
            case w.wake <- struct{}{}:
            default: // a wake-up is already pending
            }
        }
    }()
    return w, nil
}

// Wake signals whenever fresh tasks may be waiting.
func (w *AMQPWaker) Wake() <-chan struct{} { return w.wake }

func (w *AMQPWaker) Close() error { return w.ch.Close() }

package email

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "time"

    appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
)

// Sender is the outbound delivery capability the worker depends on. Errors
// are either *appErrors.TransientDeliveryError or
// *appErrors.PermanentDeliveryError so the caller can pick retry vs
// dead-letter.
type Sender interface {
    Send(ctx context.Context, recipientEmail, subject, textBody, htmlBody string) error
}

// Client talks to a Postmark-style HTTP email provider.
type Client struct {
    httpClient *http.Client
    baseURL    string
    sender     string
    authToken  string
}

func NewClient(baseURL, sender, authToken string, timeout time.Duration) *Client {
    if timeout <= 0 {
        timeout = 10 * time.Second
    }
    return &Client{
        httpClient: &http.Client{Timeout: timeout},
        baseURL:    baseURL,
        sender:     sender,
        authToken:  authToken,
    }
}

type sendEmailRequest struct {
    From     string `json:"from"`
    To       string `json:"to"`
    Subject  string `json:"subject"`
    TextBody string `json:"text_body"`
    HTMLBody string `json:"html_body"`
}

func (c *Client) Send(ctx context.Context, recipientEmail, subject, textBody, htmlBody string) error {
    payload, err := json.Marshal(sendEmailRequest{
        From:     c.sender,
        To:       recipientEmail,
        Subject:  subject,
        TextBody: textBody,
        HTMLBody: htmlBody,
    })
    if err != nil {
        return &appErrors.PermanentDeliveryError{Err: err}
    }

    req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/email", bytes.NewReader(payload))
    if err != nil {
        return &appErrors.PermanentDeliveryError{Err: err}
    }
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("X-Postmark-Server-Token", c.authToken)

    resp, err := c.httpClient.Do(req)
    if err != nil {
        // Network-level failures are worth another try.
        return &appErrors.TransientDeliveryError{Err: err}
    }
    defer resp.Body.Close()

    return classifyStatus(resp.StatusCode)
}

// classifyStatus maps provider status codes onto the delivery error
// taxonomy. 4xx means the request itself is bad and will never succeed,
// except for throttling and timeout codes which the provider expects us to
// retry.
func classifyStatus(status int) error {
    switch {
    case status >= 200 && status < 300:
        return nil
    case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
        return &appErrors.TransientDeliveryError{Err: fmt.Errorf("provider returned %d", status)}
    case status >= 400 && status < 500:
        return &appErrors.PermanentDeliveryError{Err: fmt.Errorf("provider returned %d", status)}
    default:
        return &appErrors.TransientDeliveryError{Err: fmt.Errorf("provider returned %d", status)}
    }
}

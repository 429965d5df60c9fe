// internal/model/idempotency.go
package model

// HeaderPair is one saved response header. Order matters: replayed
// responses must be byte-identical to the original, so headers are stored
// and written back in insertion order.
type HeaderPair struct {
    Name  string `json:"name"`
    Value []byte `json:"value"`
}

// SavedResponse is the HTTP response cached against an idempotency key once
// the command completes. A claimed-but-unresolved key has no SavedResponse.
type SavedResponse struct {
    StatusCode int          `json:"status_code"`
    Headers    []HeaderPair `json:"headers"`
    Body       []byte       `json:"body"`
}

package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/model"
)

type fakeIssuePublisher struct {
	mu     sync.Mutex
	calls  int
	issue  *model.NewsletterIssue
	resp   *model.SavedResponse
	queued int
	err    error
}

func (f *fakeIssuePublisher) PublishIssue(_ context.Context, issue *model.NewsletterIssue, callerID, key string, resp *model.SavedResponse) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.issue = issue
	f.resp = resp
	if f.err != nil {
		return 0, f.err
	}
	return f.queued, nil
}

type fakeResponseSaver struct {
	mu    sync.Mutex
	saved map[string]*model.SavedResponse
}

func (f *fakeResponseSaver) SaveResponse(_ context.Context, callerID, key string, resp *model.SavedResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[string]*model.SavedResponse)
	}
	f.saved[callerID+"|"+key] = resp
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	notified []uuid.UUID
}

func (f *fakeNotifier) NotifyPublished(issueID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, issueID)
}

func validCommand() PublishCommand {
	return PublishCommand{
		CallerID:       "u1",
		IdempotencyKey: "abc123",
		Title:          "Spring Update",
		TextContent:    "plain text",
		HTMLContent:    "<p>html</p>",
	}
}

func TestHandlePublishCommitsIssueAndResponse(t *testing.T) {
	publisher := &fakeIssuePublisher{queued: 3}
	saver := &fakeResponseSaver{}
	notifier := &fakeNotifier{}
	svc := &PublishService{Issues: publisher, Idempotency: saver, Notifier: notifier, Log: zerolog.Nop()}

	resp, err := svc.HandlePublish(context.Background(), validCommand())
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []byte(`{"status":"accepted"}`), resp.Body)

	require.Equal(t, 1, publisher.calls)
	assert.Equal(t, "Spring Update", publisher.issue.Title)
	assert.NotEqual(t, uuid.Nil, publisher.issue.ID)
	// The response saved inside the transaction is the one returned.
	assert.Equal(t, resp, publisher.resp)

	require.Len(t, notifier.notified, 1)
	assert.Equal(t, publisher.issue.ID, notifier.notified[0])
	assert.Empty(t, saver.saved, "success path saves the response inside the publish transaction")
}

func TestHandlePublishValidationErrorIsCached(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*PublishCommand)
	}{
		{"empty title", func(c *PublishCommand) { c.Title = "  " }},
		{"empty text content", func(c *PublishCommand) { c.TextContent = "" }},
		{"empty html content", func(c *PublishCommand) { c.HTMLContent = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			publisher := &fakeIssuePublisher{queued: 3}
			saver := &fakeResponseSaver{}
			notifier := &fakeNotifier{}
			svc := &PublishService{Issues: publisher, Idempotency: saver, Notifier: notifier, Log: zerolog.Nop()}

			cmd := validCommand()
			tc.mut(&cmd)

			resp, err := svc.HandlePublish(context.Background(), cmd)
			require.NoError(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			// The error response claims the key just like a success would:
			// resubmission must replay it, not re-validate.
			assert.Equal(t, resp, saver.saved["u1|abc123"])
			assert.Zero(t, publisher.calls, "a malformed command must not touch the issue store")
			assert.Empty(t, notifier.notified)
		})
	}
}

func TestHandlePublishStorageFailureAbortsCleanly(t *testing.T) {
	boom := errors.New("deadlock detected")
	publisher := &fakeIssuePublisher{err: boom}
	notifier := &fakeNotifier{}
	svc := &PublishService{Issues: publisher, Idempotency: &fakeResponseSaver{}, Notifier: notifier, Log: zerolog.Nop()}

	resp, err := svc.HandlePublish(context.Background(), validCommand())
	assert.Nil(t, resp)

	var storageErr *appErrors.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, notifier.notified, "no wake-up for a transaction that did not commit")
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/newsletter-backend/internal/email"
	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/model"
)

// fakeClaim records which finisher the worker invoked.
type fakeClaim struct {
	task model.DeliveryTask

	mu           sync.Mutex
	completed    bool
	retriedAt    time.Time
	deadLettered bool
	released     bool
	lastError    string
}

func (c *fakeClaim) Task() model.DeliveryTask { return c.task }

func (c *fakeClaim) Complete(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = true
	return nil
}

func (c *fakeClaim) Retry(_ context.Context, nextAttemptAt time.Time, lastError string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retriedAt = nextAttemptAt
	c.lastError = lastError
	return nil
}

func (c *fakeClaim) DeadLetter(_ context.Context, lastError string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadLettered = true
	c.lastError = lastError
	return nil
}

func (c *fakeClaim) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	return nil
}

// fakeTaskSource hands each claim out exactly once, like skip-locked
// claiming does.
type fakeTaskSource struct {
	mu     sync.Mutex
	claims []*fakeClaim
	next   int
}

func (s *fakeTaskSource) ClaimNext(context.Context) (TaskClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.claims) {
		return nil, nil
	}
	c := s.claims[s.next]
	s.next++
	return c, nil
}

type stubSender struct {
	mu   sync.Mutex
	errs []error
	sent []string
}

func (s *stubSender) Send(_ context.Context, recipient, _, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, recipient)
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

var _ email.Sender = (*stubSender)(nil)

func newTask(attempts int) model.DeliveryTask {
	return model.DeliveryTask{
		IssueID:        uuid.New(),
		RecipientEmail: "alice@example.com",
		Title:          "Spring Update",
		TextBody:       "plain",
		HTMLBody:       "<p>html</p>",
		AttemptCount:   attempts,
	}
}

func testWorker(source TaskSource, sender email.Sender) *DeliveryWorker {
	cfg := DefaultWorkerConfig()
	cfg.PollInterval = time.Millisecond
	cfg.ErrorInterval = time.Millisecond
	return NewDeliveryWorker(source, sender, cfg, zerolog.Nop())
}

func TestWorkerDeliversAndRemovesTask(t *testing.T) {
	claim := &fakeClaim{task: newTask(0)}
	source := &fakeTaskSource{claims: []*fakeClaim{claim}}
	sender := &stubSender{}
	w := testWorker(source, sender)

	outcome := w.tryExecuteTask(context.Background())

	assert.Equal(t, taskCompleted, outcome)
	assert.True(t, claim.completed)
	assert.False(t, claim.deadLettered)
	assert.Equal(t, []string{"alice@example.com"}, sender.sent)
}

func TestWorkerEmptyQueue(t *testing.T) {
	w := testWorker(&fakeTaskSource{}, &stubSender{})
	assert.Equal(t, emptyQueue, w.tryExecuteTask(context.Background()))
}

func TestWorkerSchedulesRetryWithExponentialBackoff(t *testing.T) {
	transient := &appErrors.TransientDeliveryError{Err: errors.New("provider returned 503")}

	// attempt_count at claim time -> expected delay before the next try
	cases := []struct {
		attempts int
		delay    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("attempt_%d", tc.attempts), func(t *testing.T) {
			claim := &fakeClaim{task: newTask(tc.attempts)}
			source := &fakeTaskSource{claims: []*fakeClaim{claim}}
			w := testWorker(source, &stubSender{errs: []error{transient}})

			before := time.Now()
			outcome := w.tryExecuteTask(context.Background())
			require.Equal(t, taskCompleted, outcome, "a handled failure still completes the iteration")

			require.False(t, claim.retriedAt.IsZero(), "transient failure must reschedule the task")
			assert.False(t, claim.deadLettered)
			got := claim.retriedAt.Sub(before)
			assert.InDelta(t, tc.delay.Seconds(), got.Seconds(), 0.5)
			assert.Contains(t, claim.lastError, "503")
		})
	}
}

func TestWorkerRetryTimesStrictlyIncrease(t *testing.T) {
	transient := &appErrors.TransientDeliveryError{Err: errors.New("timeout")}

	var last time.Duration
	for attempts := 0; attempts < 4; attempts++ {
		claim := &fakeClaim{task: newTask(attempts)}
		source := &fakeTaskSource{claims: []*fakeClaim{claim}}
		w := testWorker(source, &stubSender{errs: []error{transient}})

		before := time.Now()
		w.tryExecuteTask(context.Background())
		delay := claim.retriedAt.Sub(before)
		assert.Greater(t, delay, last, "next_attempt_at must move strictly forward per attempt")
		last = delay
	}
}

func TestWorkerDeadLettersPermanentFailureImmediately(t *testing.T) {
	permanent := &appErrors.PermanentDeliveryError{Err: errors.New("provider returned 400")}
	claim := &fakeClaim{task: newTask(0)}
	source := &fakeTaskSource{claims: []*fakeClaim{claim}}
	w := testWorker(source, &stubSender{errs: []error{permanent}})

	outcome := w.tryExecuteTask(context.Background())

	assert.Equal(t, taskCompleted, outcome)
	assert.True(t, claim.deadLettered, "permanent failures skip the retry ladder")
	assert.True(t, claim.retriedAt.IsZero())
}

func TestWorkerDeadLettersWhenRetryBudgetExhausted(t *testing.T) {
	transient := &appErrors.TransientDeliveryError{Err: errors.New("timeout")}
	cfg := DefaultWorkerConfig()

	claim := &fakeClaim{task: newTask(cfg.MaxAttempts - 1)}
	source := &fakeTaskSource{claims: []*fakeClaim{claim}}
	w := testWorker(source, &stubSender{errs: []error{transient}})

	w.tryExecuteTask(context.Background())

	assert.True(t, claim.deadLettered)
	assert.True(t, claim.retriedAt.IsZero())
}

func TestWorkerStorageErrorDoesNotHaltLoop(t *testing.T) {
	source := &errorThenEmptySource{err: errors.New("connection refused")}
	w := testWorker(source, &stubSender{})

	assert.Equal(t, executionError, w.tryExecuteTask(context.Background()))
	assert.Equal(t, emptyQueue, w.tryExecuteTask(context.Background()))
}

type errorThenEmptySource struct {
	mu   sync.Mutex
	err  error
	done bool
}

func (s *errorThenEmptySource) ClaimNext(context.Context) (TaskClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.done = true
		return nil, s.err
	}
	return nil, nil
}

func TestConcurrentWorkersNeverShareATask(t *testing.T) {
	claim := &fakeClaim{task: newTask(0)}
	source := &fakeTaskSource{claims: []*fakeClaim{claim}}
	sender := &stubSender{}

	var completions int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := testWorker(source, sender)
			if w.tryExecuteTask(context.Background()) == taskCompleted {
				atomic.AddInt32(&completions, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), completions, "the claim hands the task to exactly one worker")
	assert.Len(t, sender.sent, 1)
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	w := testWorker(&fakeTaskSource{}, &stubSender{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestWorkerWakeCutsIdleShort(t *testing.T) {
	wake := make(chan struct{}, 1)
	w := testWorker(&fakeTaskSource{}, &stubSender{})
	w.Wake = wake

	start := time.Now()
	done := make(chan struct{})
	go func() {
		w.idle(context.Background(), time.Minute)
		close(done)
	}()
	wake <- struct{}{}

	select {
	case <-done:
		assert.Less(t, time.Since(start), time.Second)
	case <-time.After(time.Second):
		t.Fatal("wake-up did not interrupt the idle sleep")
	}
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	base := time.Second
	max := 8 * time.Second

	assert.Equal(t, time.Second, backoffDelay(base, max, 0))
	assert.Equal(t, 2*time.Second, backoffDelay(base, max, 1))
	assert.Equal(t, 4*time.Second, backoffDelay(base, max, 2))
	assert.Equal(t, 8*time.Second, backoffDelay(base, max, 3))
	assert.Equal(t, 8*time.Second, backoffDelay(base, max, 10))
	assert.Equal(t, 8*time.Second, backoffDelay(base, max, 60), "large attempt counts must not overflow")
}

package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vote-relay/internal/application/deadletter"
	"github.com/vote-relay/internal/config"
	"github.com/vote-relay/internal/domain"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- mocks ---

type mockDeliverer struct{ mock.Mock }

func (m *mockDeliverer) Redeliver(ctx context.Context, item domain.RetryItem) error {
	return m.Called(ctx, item).Error(0)
}

type recordingSink struct {
	mu      sync.Mutex
	letters []deadletter.Letter
}

func (s *recordingSink) DeadLetter(_ context.Context, l deadletter.Letter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, l)
	return nil
}

func (s *recordingSink) all() []deadletter.Letter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]deadletter.Letter(nil), s.letters...)
}

// --- fixture ---

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(capacity int) (*Queue, *recordingSink, *clock) {
	sink := &recordingSink{}
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	q := NewQueue(config.RetryConfig{
		Tick:          10 * time.Millisecond,
		BaseInterval:  5 * time.Second,
		MaxAttempts:   5,
		QueueCapacity: capacity,
	}, sink, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	q.now = c.now
	return q, sink, c
}

func item(receiver string) domain.RetryItem {
	return domain.RetryItem{
		Notification: domain.Notification{NotificationID: "n-" + receiver, ReceiverAddress: receiver},
		Email:        domain.EmailMessage{To: receiver + "@example.com"},
	}
}

// --- tests ---

func TestEnqueue_DefaultsNextAttempt(t *testing.T) {
	q, _, c := newTestQueue(10)
	require.NoError(t, q.Enqueue(item("0xb")))

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, c.t.Add(5*time.Second), q.items[0].NextAttemptAt)
}

func TestEnqueue_FullQueueDeadLetters(t *testing.T) {
	q, sink, _ := newTestQueue(1)
	require.NoError(t, q.Enqueue(item("0xb")))

	err := q.Enqueue(item("0xc"))
	assert.ErrorIs(t, err, domain.ErrQueueFull)
	assert.Equal(t, 1, q.Len())
	letters := sink.all()
	require.Len(t, letters, 1)
	assert.Equal(t, deadletter.ReasonOverflow, letters[0].Reason)
	assert.Equal(t, "0xc", letters[0].Item.Notification.ReceiverAddress)
}

func TestProcess_SkipsItemsNotDue(t *testing.T) {
	q, _, _ := newTestQueue(10)
	d := &mockDeliverer{}
	require.NoError(t, q.Enqueue(item("0xb")))

	delivered, expired := q.Process(context.Background(), d)
	assert.Zero(t, delivered)
	assert.Zero(t, expired)
	d.AssertNotCalled(t, "Redeliver", mock.Anything, mock.Anything)
	assert.Equal(t, 1, q.Len())
}

func TestProcess_SuccessRemovesItem(t *testing.T) {
	q, _, c := newTestQueue(10)
	d := &mockDeliverer{}
	d.On("Redeliver", mock.Anything, mock.Anything).Return(nil)
	require.NoError(t, q.Enqueue(item("0xb")))
	c.advance(5 * time.Second)

	delivered, _ := q.Process(context.Background(), d)
	assert.Equal(t, 1, delivered)
	assert.Zero(t, q.Len())
}

func TestProcess_BackoffGrowsUntilExpiry(t *testing.T) {
	q, sink, c := newTestQueue(10)
	d := &mockDeliverer{}
	d.On("Redeliver", mock.Anything, mock.Anything).Return(errors.New("smtp 421"))
	require.NoError(t, q.Enqueue(item("0xb")))

	var lastDelay time.Duration
	for attempt := 1; attempt < 5; attempt++ {
		c.t = q.items[0].NextAttemptAt
		q.Process(context.Background(), d)

		require.Equal(t, 1, q.Len())
		it := q.items[0]
		assert.Equal(t, attempt, it.Attempts)
		delay := it.NextAttemptAt.Sub(c.t)
		assert.Equal(t, (5*time.Second)<<uint(attempt), delay)
		assert.Greater(t, delay, lastDelay)
		lastDelay = delay
		assert.Equal(t, "smtp 421", it.LastError)
	}

	c.t = q.items[0].NextAttemptAt
	_, expired := q.Process(context.Background(), d)
	assert.Equal(t, 1, expired)
	assert.Zero(t, q.Len())
	letters := sink.all()
	require.Len(t, letters, 1)
	assert.Equal(t, deadletter.ReasonExpired, letters[0].Reason)
	assert.Equal(t, 5, letters[0].Item.Attempts)
	d.AssertNumberOfCalls(t, "Redeliver", 5)
}

func TestProcess_MissingEmailExpiresImmediately(t *testing.T) {
	q, sink, c := newTestQueue(10)
	d := &mockDeliverer{}
	d.On("Redeliver", mock.Anything, mock.Anything).Return(domain.ErrNoEmail)
	require.NoError(t, q.Enqueue(item("0xb")))
	c.advance(time.Minute)

	_, expired := q.Process(context.Background(), d)
	assert.Equal(t, 1, expired)
	assert.Len(t, sink.all(), 1)
}

func TestProcess_ItemAlreadyAtCeilingNotRetried(t *testing.T) {
	q, sink, c := newTestQueue(10)
	d := &mockDeliverer{}
	it := item("0xb")
	it.Attempts = 5
	require.NoError(t, q.Enqueue(it))
	c.advance(time.Minute)

	_, expired := q.Process(context.Background(), d)
	assert.Equal(t, 1, expired)
	assert.Len(t, sink.all(), 1)
	d.AssertNotCalled(t, "Redeliver", mock.Anything, mock.Anything)
}

func TestRun_StopsOnCancel(t *testing.T) {
	q, _, c := newTestQueue(10)
	q.now = time.Now
	d := &mockDeliverer{}
	processed := make(chan struct{}, 1)
	d.On("Redeliver", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		select {
		case processed <- struct{}{}:
		default:
		}
	}).Return(nil)

	it := item("0xb")
	it.NextAttemptAt = c.t
	require.NoError(t, q.Enqueue(it))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx, d) }()

	select {
	case <-processed:
	case <-time.After(2 * time.Second):
		t.Fatal("queue never processed the due item")
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestProcess_ExpiredContextLeavesItemsUntouched(t *testing.T) {
	q, sink, c := newTestQueue(10)
	d := &mockDeliverer{}
	for _, r := range []string{"0xb", "0xc"} {
		it := item(r)
		it.NextAttemptAt = c.t
		require.NoError(t, q.Enqueue(it))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	delivered, expired := q.Process(ctx, d)

	assert.Zero(t, delivered)
	assert.Zero(t, expired)
	assert.Equal(t, 2, q.Len())
	for _, it := range q.items {
		assert.Zero(t, it.Attempts)
	}
	assert.Empty(t, sink.all())
	d.AssertNotCalled(t, "Redeliver", mock.Anything, mock.Anything)
}

func TestRun_PassTimeoutReleasesStalledDelivery(t *testing.T) {
	q, _, c := newTestQueue(10)
	q.now = time.Now
	q.cfg.PassTimeout = 50 * time.Millisecond
	d := &mockDeliverer{}
	unblocked := make(chan error, 1)
	d.On("Redeliver", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		select {
		case <-ctx.Done():
			select {
			case unblocked <- ctx.Err():
			default:
			}
		case <-time.After(5 * time.Second):
		}
	}).Return(context.DeadlineExceeded)

	it := item("0xb")
	it.NextAttemptAt = c.t
	require.NoError(t, q.Enqueue(it))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx, d) }()

	select {
	case err := <-unblocked:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("stalled redelivery was never cancelled")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	require.Len(t, q.items, 1)
	assert.Zero(t, q.items[0].Attempts)
}

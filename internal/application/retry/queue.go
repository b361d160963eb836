package retry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vote-relay/internal/application/deadletter"
	"github.com/vote-relay/internal/config"
	"github.com/vote-relay/internal/domain"
	"github.com/vote-relay/internal/observability"
)

// Deliverer re-attempts one queued delivery.
type Deliverer interface {
	Redeliver(ctx context.Context, item domain.RetryItem) error
}

// Queue holds failed deliveries in memory and re-attempts them on a fixed tick
// with exponential backoff. Items that reach the attempt ceiling, and items
// that arrive when the queue is full, go to the dead-letter sink.
type Queue struct {
	cfg     config.RetryConfig
	sink    deadletter.Sink
	metrics *observability.Metrics
	log     *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	items []domain.RetryItem
}

func NewQueue(cfg config.RetryConfig, sink deadletter.Sink, metrics *observability.Metrics, logger *slog.Logger) *Queue {
	return &Queue{cfg: cfg, sink: sink, metrics: metrics, log: logger, now: time.Now}
}

// Enqueue adds item. A zero NextAttemptAt is set to one base interval from now.
// A full queue rejects the item with domain.ErrQueueFull after dead-lettering it.
func (q *Queue) Enqueue(item domain.RetryItem) error {
	if item.NextAttemptAt.IsZero() {
		item.NextAttemptAt = q.now().Add(q.cfg.BaseInterval)
	}

	q.mu.Lock()
	if len(q.items) >= q.cfg.QueueCapacity {
		q.mu.Unlock()
		q.deadLetter(context.Background(), item, deadletter.ReasonOverflow)
		return domain.ErrQueueFull
	}
	q.items = append(q.items, item)
	n := len(q.items)
	q.mu.Unlock()

	q.metrics.SetRetryQueueDepth(n)
	return nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Process runs one pass over the due items and returns how many were
// delivered and how many expired.
func (q *Queue) Process(ctx context.Context, d Deliverer) (delivered, expired int) {
	now := q.now()

	q.mu.Lock()
	var due []domain.RetryItem
	kept := q.items[:0]
	for _, it := range q.items {
		if !it.NextAttemptAt.After(now) {
			due = append(due, it)
		} else {
			kept = append(kept, it)
		}
	}
	q.items = kept
	q.mu.Unlock()

	var requeue []domain.RetryItem
	for i, it := range due {
		if ctx.Err() != nil {
			// Out of time for this pass; the rest wait for the next tick untouched.
			requeue = append(requeue, due[i:]...)
			break
		}
		if it.Attempts >= q.cfg.MaxAttempts {
			q.deadLetter(ctx, it, deadletter.ReasonExpired)
			expired++
			continue
		}
		err := d.Redeliver(ctx, it)
		if err == nil {
			delivered++
			continue
		}
		if ctx.Err() != nil {
			requeue = append(requeue, it)
			continue
		}
		it.Attempts++
		it.LastError = err.Error()
		if it.Attempts >= q.cfg.MaxAttempts || errors.Is(err, domain.ErrNoEmail) {
			q.deadLetter(ctx, it, deadletter.ReasonExpired)
			expired++
			continue
		}
		it.NextAttemptAt = q.now().Add(q.backoff(it.Attempts))
		requeue = append(requeue, it)
		q.log.Warn("redelivery failed",
			"receiver", it.Notification.ReceiverAddress,
			"attempts", it.Attempts,
			"next_attempt_at", it.NextAttemptAt,
			"err", err)
	}

	q.mu.Lock()
	q.items = append(q.items, requeue...)
	n := len(q.items)
	q.mu.Unlock()
	q.metrics.SetRetryQueueDepth(n)

	if len(due) > 0 {
		q.log.Info("retry pass", "due", len(due), "delivered", delivered, "expired", expired, "pending", n)
	}
	return delivered, expired
}

// Run processes the queue every tick until ctx is cancelled. A pass in
// progress at cancellation keeps running until it ends or PassTimeout
// elapses; items it did not reach stay queued without losing an attempt.
func (q *Queue) Run(ctx context.Context, d Deliverer) error {
	ticker := time.NewTicker(q.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			q.log.Info("retry queue stopped", "pending", q.Len())
			return nil
		case <-ticker.C:
			q.pass(ctx, d)
		}
	}
}

func (q *Queue) pass(ctx context.Context, d Deliverer) {
	timeout := q.cfg.PassTimeout
	if timeout <= 0 {
		timeout = q.cfg.Tick
	}
	passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	q.Process(passCtx, d)
}

// backoff is BaseInterval * 2^attempts.
func (q *Queue) backoff(attempts int) time.Duration {
	return q.cfg.BaseInterval << uint(attempts)
}

func (q *Queue) deadLetter(ctx context.Context, item domain.RetryItem, reason string) {
	q.metrics.DeadLetter(reason)
	l := deadletter.Letter{Item: item, Reason: reason, At: q.now()}
	if err := q.sink.DeadLetter(ctx, l); err != nil {
		q.log.Error("dead-letter sink failed", "reason", reason,
			"notification_id", item.Notification.NotificationID, "err", err)
	}
}

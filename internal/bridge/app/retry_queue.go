package app

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// DeliverFunc attempts to deliver a payload to the remote service and
// reports success. It must not panic; transport failures are expected to be
// absorbed and returned as false.
type DeliverFunc func(ctx context.Context, payload map[string]any) bool

const sweepInterval = 1 * time.Second

// RetryQueueOptions configures a RetryQueue. Zero values fall back to the
// defaults below.
type RetryQueueOptions struct {
	MaxSize     int           // default 1000
	BaseDelay   time.Duration // default 5s
	MaxDelay    time.Duration // default 5m
	MaxAttempts int           // default 10
}

// QueuedDelivery is a payload waiting for redelivery. Attempts counts
// failed deliveries made by the queue itself.
type QueuedDelivery struct {
	ID          string
	Payload     map[string]any
	CreatedAt   time.Time
	Attempts    int
	NextRetryAt time.Time
}

// RetryQueue holds failed webhook deliveries in memory and retries them
// with exponential backoff until success, exhaustion, or process exit.
// Entries are keyed by message id; enqueueing an id already present is a
// no-op. A 1-second linear sweep stands in for a priority queue, which is
// fine at the default bound of 1000 entries.
type RetryQueue struct {
	deliver DeliverFunc
	opts    RetryQueueOptions
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*QueuedDelivery

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	now func() time.Time
}

// NewRetryQueue creates a stopped queue; call Start to begin retrying.
func NewRetryQueue(deliver DeliverFunc, opts RetryQueueOptions, logger *slog.Logger) *RetryQueue {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 1000
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 5 * time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 5 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	return &RetryQueue{
		deliver: deliver,
		opts:    opts,
		logger:  logger.With("component", "retry_queue"),
		entries: make(map[string]*QueuedDelivery),
		now:     time.Now,
	}
}

// Enqueue adds a failed delivery for retry. Returns true if the payload is
// queued (or already was; duplicate ids are a no-op success), false only
// when the queue is at capacity.
func (q *RetryQueue) Enqueue(id string, payload map[string]any) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[id]; ok {
		q.logger.Debug("Delivery already queued", "id", id)
		return true
	}

	if len(q.entries) >= q.opts.MaxSize {
		q.logger.Error("Queue full, dropping delivery", "id", id, "max_size", q.opts.MaxSize)
		return false
	}

	now := q.now()
	q.entries[id] = &QueuedDelivery{
		ID:          id,
		Payload:     payload,
		CreatedAt:   now,
		NextRetryAt: now.Add(q.backoff(0)),
	}
	queueSizeGauge.Set(float64(len(q.entries)))
	q.logger.Info("Queued delivery for retry", "id", id, "queue_size", len(q.entries))
	return true
}

// Start launches the background sweep loop.
func (q *RetryQueue) Start(ctx context.Context) {
	if !q.running.CompareAndSwap(false, true) {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	q.cancel = cancel
	q.done = done

	go func() {
		defer close(done)
		defer q.running.Store(false)

		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				q.sweepOnce(loopCtx)
			}
		}
	}()

	q.logger.Info("Retry queue started")
}

// Stop cancels the sweep loop and waits for any in-progress sweep to
// finish.
func (q *RetryQueue) Stop() {
	if q.cancel == nil {
		return
	}
	q.cancel()
	<-q.done
	q.logger.Info("Retry queue stopped", "pending", q.Size())
}

// IsRunning reports whether the sweep loop is active.
func (q *RetryQueue) IsRunning() bool {
	return q.running.Load()
}

// Size returns the number of queued deliveries.
func (q *RetryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// sweepOnce attempts every entry whose retry time has arrived. Delivery
// happens outside the mutex; entries are only mutated from this loop.
func (q *RetryQueue) sweepOnce(ctx context.Context) {
	now := q.now()

	q.mu.Lock()
	var due []*QueuedDelivery
	for _, e := range q.entries {
		if !e.NextRetryAt.After(now) {
			due = append(due, e)
		}
	}
	q.mu.Unlock()

	for _, e := range due {
		q.logger.Info("Retrying delivery", "id", e.ID, "attempt", e.Attempts+1)

		if q.deliver(ctx, e.Payload) {
			queueDeliveriesCounter.WithLabelValues("success").Inc()
			q.logger.Info("Delivery succeeded", "id", e.ID)
			q.remove(e.ID)
			continue
		}

		// Entry fields are read by Stats() from the HTTP goroutine, so the
		// attempt bump and reschedule happen under the mutex.
		q.mu.Lock()
		e.Attempts++
		attempts := e.Attempts
		var nextRetryAt time.Time
		if attempts < q.opts.MaxAttempts {
			e.NextRetryAt = q.now().Add(q.backoff(attempts))
			nextRetryAt = e.NextRetryAt
		}
		q.mu.Unlock()

		if attempts >= q.opts.MaxAttempts {
			queueDeliveriesCounter.WithLabelValues("dropped").Inc()
			q.logger.Error("Delivery exceeded max attempts, dropping", "id", e.ID, "attempts", attempts)
			q.remove(e.ID)
			continue
		}

		queueDeliveriesCounter.WithLabelValues("failure").Inc()
		q.logger.Warn("Delivery failed, backing off",
			"id", e.ID,
			"attempts", attempts,
			"next_retry_in", time.Until(nextRetryAt).Round(time.Second),
		)
	}
}

// backoff returns min(base*2^attempts, max) with ±20% uniform jitter.
func (q *RetryQueue) backoff(attempts int) time.Duration {
	delay := q.opts.BaseDelay
	for i := 0; i < attempts && delay < q.opts.MaxDelay; i++ {
		delay *= 2
	}
	if delay > q.opts.MaxDelay {
		delay = q.opts.MaxDelay
	}
	jitter := time.Duration((rand.Float64()*0.4 - 0.2) * float64(delay))
	return delay + jitter
}

func (q *RetryQueue) remove(id string) {
	q.mu.Lock()
	delete(q.entries, id)
	queueSizeGauge.Set(float64(len(q.entries)))
	q.mu.Unlock()
}

// QueueStats summarizes queue state for the status endpoint.
type QueueStats struct {
	Size             int         `json:"size"`
	MaxSize          int         `json:"max_size"`
	OldestAgeSeconds float64     `json:"oldest_message_age_seconds"`
	ByAttempts       map[int]int `json:"messages_by_attempts"`
}

// Stats returns queue statistics.
func (q *RetryQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := QueueStats{
		Size:       len(q.entries),
		MaxSize:    q.opts.MaxSize,
		ByAttempts: make(map[int]int),
	}

	now := q.now()
	oldest := now
	for _, e := range q.entries {
		stats.ByAttempts[e.Attempts]++
		if e.CreatedAt.Before(oldest) {
			oldest = e.CreatedAt
		}
	}
	if len(q.entries) > 0 {
		stats.OldestAgeSeconds = now.Sub(oldest).Seconds()
	}
	return stats
}

package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nightline/iphone-bridge/internal/bridge/domain"
	"github.com/nightline/iphone-bridge/internal/bridge/repository/chatdb"
)

// MessageHandler is invoked for each new inbound message. Errors are logged
// by the watcher and never abort the poll loop: by the time the handler
// runs, the cursor has already advanced past the row.
type MessageHandler func(ctx context.Context, msg domain.InboundMessage) error

// Watcher is the message source contract shared by the chat.db poller and
// the mock watcher used in development.
type Watcher interface {
	Start(ctx context.Context, skipHistorical bool) error
	Stop()
	IsRunning() bool
	LastRowID() int64
	// Track registers a successfully sent message for receipt tracking.
	Track(phone, text string, channel domain.ChannelKind)
}

const (
	// fetchLimit caps rows per poll cycle.
	fetchLimit = 100
	// missingStoreBackoff is slept instead of the poll interval when the
	// database file does not exist yet.
	missingStoreBackoff = 30 * time.Second
)

// ChatDBWatcher polls chat.db on a fixed interval, advances a monotonic
// ROWID cursor, and emits newly appended inbound rows. One read-only
// connection is opened per cycle and serves both the message fetch and the
// status tracker's receipt check.
type ChatDBWatcher struct {
	store        *chatdb.Store
	tracker      *StatusTracker
	onMessage    MessageHandler
	pollInterval time.Duration
	logger       *slog.Logger

	running     atomic.Bool
	lastRowID   atomic.Int64
	skipPending bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewChatDBWatcher creates a watcher. pollInterval may be zero (poll as fast
// as the store allows); tracker must not be nil.
func NewChatDBWatcher(store *chatdb.Store, tracker *StatusTracker, onMessage MessageHandler, pollInterval time.Duration, logger *slog.Logger) *ChatDBWatcher {
	return &ChatDBWatcher{
		store:        store,
		tracker:      tracker,
		onMessage:    onMessage,
		pollInterval: pollInterval,
		logger:       logger.With("component", "watcher"),
	}
}

// Start begins the polling loop in a background goroutine. With
// skipHistorical, the cursor is initialized to the store's current max ROWID
// on the first successful connection and the backlog is never emitted.
func (w *ChatDBWatcher) Start(ctx context.Context, skipHistorical bool) error {
	if !w.running.CompareAndSwap(false, true) {
		w.logger.Warn("Watcher already running")
		return nil
	}

	w.skipPending = skipHistorical

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	w.mu.Lock()
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	go func() {
		defer close(done)
		defer w.running.Store(false)
		w.run(loopCtx)
	}()

	w.logger.Info("Watcher started",
		"poll_interval", w.pollInterval,
		"skip_historical", skipHistorical,
		"db_path", w.store.Path(),
	)
	return nil
}

// Stop cancels the in-flight sleep promptly, lets any in-progress iteration
// finish, and returns once the loop has exited.
func (w *ChatDBWatcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.logger.Info("Watcher stopped", "last_rowid", w.lastRowID.Load())
}

// IsRunning reports whether the poll loop is active.
func (w *ChatDBWatcher) IsRunning() bool {
	return w.running.Load()
}

// LastRowID returns the cursor: the highest ROWID already processed. It is
// monotonically non-decreasing for the life of the process.
func (w *ChatDBWatcher) LastRowID() int64 {
	return w.lastRowID.Load()
}

// Track registers a sent message with the status tracker.
func (w *ChatDBWatcher) Track(phone, text string, channel domain.ChannelKind) {
	w.tracker.Track(phone, text, channel)
}

func (w *ChatDBWatcher) run(ctx context.Context) {
	for {
		sleep := w.pollInterval

		err := w.pollOnce(ctx)
		switch {
		case err == nil:
			watcherPollCyclesCounter.WithLabelValues("ok").Inc()
		case errors.Is(err, chatdb.ErrStoreMissing):
			watcherPollCyclesCounter.WithLabelValues("store_missing").Inc()
			w.logger.ErrorContext(ctx, "Chat database not found, backing off", "error", err, "backoff", missingStoreBackoff)
			sleep = missingStoreBackoff
		default:
			watcherPollCyclesCounter.WithLabelValues("error").Inc()
			w.logger.ErrorContext(ctx, "Poll cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// pollOnce runs a single poll cycle: open, initialize cursor if pending,
// fetch and dispatch new rows, run the receipt check, close.
func (w *ChatDBWatcher) pollOnce(ctx context.Context) error {
	conn, err := w.store.Open()
	if err != nil {
		return err
	}
	defer conn.Close()

	if w.skipPending {
		max, err := conn.MaxRowID(ctx)
		if err != nil {
			return err
		}
		w.lastRowID.Store(max)
		w.skipPending = false
		w.logger.InfoContext(ctx, "Skipping historical messages", "start_rowid", max)
	}

	messages, err := conn.NewMessages(ctx, w.lastRowID.Load(), fetchLimit)
	if err != nil {
		return err
	}

	for _, msg := range messages {
		// Advance the cursor before dispatching so a handler failure never
		// causes the row to be reprocessed.
		w.lastRowID.Store(msg.RowID)

		if msg.IsFromMe {
			continue
		}

		messagesReceivedCounter.WithLabelValues(msg.Channel.String()).Inc()
		w.logger.InfoContext(ctx, "New inbound message",
			"rowid", msg.RowID,
			"guid", msg.GUID,
			"phone", msg.Phone,
			"service", msg.Channel.String(),
			"attachments", len(msg.Attachments),
		)

		if err := w.onMessage(ctx, msg); err != nil {
			w.logger.ErrorContext(ctx, "Error in message handler", "error", err, "guid", msg.GUID)
		}
	}

	w.tracker.CheckStatusUpdates(ctx, conn)
	return nil
}

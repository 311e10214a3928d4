package imsg

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nightline/iphone-bridge/internal/bridge/app"
	"github.com/nightline/iphone-bridge/internal/bridge/domain"
)

// MockWatcher implements the watcher contract without touching chat.db.
// Inbound messages are injected through the HTTP surface and dispatched to
// the same handler the real watcher would call.
type MockWatcher struct {
	onMessage app.MessageHandler
	logger    *slog.Logger

	running atomic.Bool
	rowID   atomic.Int64

	mu      sync.Mutex
	history []domain.InboundMessage
}

var _ app.Watcher = (*MockWatcher)(nil)

// NewMockWatcher creates a MockWatcher.
func NewMockWatcher(onMessage app.MessageHandler, logger *slog.Logger) *MockWatcher {
	return &MockWatcher{
		onMessage: onMessage,
		logger:    logger.With("component", "mock_watcher"),
	}
}

// Start marks the watcher running. skipHistorical has no meaning here.
func (w *MockWatcher) Start(ctx context.Context, skipHistorical bool) error {
	w.running.Store(true)
	w.logger.Info("Mock watcher started (no chat.db polling)")
	return nil
}

// Stop marks the watcher stopped.
func (w *MockWatcher) Stop() {
	w.running.Store(false)
	w.logger.Info("Mock watcher stopped")
}

// IsRunning reports whether the watcher has been started.
func (w *MockWatcher) IsRunning() bool {
	return w.running.Load()
}

// LastRowID returns the synthetic row counter.
func (w *MockWatcher) LastRowID() int64 {
	return w.rowID.Load()
}

// Track is a no-op: without chat.db there are no receipts to observe.
func (w *MockWatcher) Track(phone, text string, channel domain.ChannelKind) {
	w.logger.Debug("Mock watcher ignoring track request", "phone", phone)
}

// Inject fabricates an inbound message and, if the watcher is running,
// dispatches it to the message handler exactly as the real watcher would.
func (w *MockWatcher) Inject(ctx context.Context, phone, text string, channel domain.ChannelKind) domain.InboundMessage {
	msg := domain.InboundMessage{
		RowID:      w.rowID.Add(1),
		GUID:       "mock-" + shortID(),
		Phone:      domain.NormalizePhone(phone),
		Text:       text,
		ReceivedAt: time.Now().UTC(),
		IsFromMe:   false,
		Channel:    channel,
	}

	w.mu.Lock()
	w.history = append(w.history, msg)
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "Injected mock message", "guid", msg.GUID, "phone", msg.Phone)

	if w.running.Load() {
		if err := w.onMessage(ctx, msg); err != nil {
			w.logger.ErrorContext(ctx, "Error in message handler", "error", err, "guid", msg.GUID)
		}
	}
	return msg
}

// History returns a copy of all injected messages.
func (w *MockWatcher) History() []domain.InboundMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.InboundMessage, len(w.history))
	copy(out, w.history)
	return out
}

package imsg

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nightline/iphone-bridge/internal/bridge/domain"
)

// SentMessage is a record of a message "sent" through the mock sender.
type SentMessage struct {
	ID     string    `json:"id"`
	Phone  string    `json:"phone"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// MockSender records outgoing messages instead of driving the Messages app.
// Sends always succeed as long as phone and text are non-empty.
type MockSender struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []SentMessage
}

// NewMockSender creates a MockSender.
func NewMockSender(logger *slog.Logger) *MockSender {
	return &MockSender{logger: logger.With("sender", "mock")}
}

// Name returns the sender name.
func (s *MockSender) Name() string {
	return "mock"
}

// Send records the message and reports success.
func (s *MockSender) Send(ctx context.Context, phone, text string) domain.SendResponse {
	if phone == "" {
		return domain.SendResponse{Result: domain.SendInvalidRecipient, Error: "phone number is required"}
	}
	if text == "" {
		return domain.SendResponse{Result: domain.SendFailed, Error: "message text is required"}
	}

	msg := SentMessage{
		ID:     "mock-sent-" + shortID(),
		Phone:  phone,
		Text:   text,
		SentAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Mock sent message", "phone", phone, "id", msg.ID)
	return domain.SendResponse{Result: domain.SendSuccess}
}

// SentMessages returns a copy of everything sent through the mock.
func (s *MockSender) SentMessages() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

// Clear drops the sent-message history.
func (s *MockSender) Clear() {
	s.mu.Lock()
	s.sent = nil
	s.mu.Unlock()
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

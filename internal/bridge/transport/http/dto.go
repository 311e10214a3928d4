package http

import "github.com/nightline/iphone-bridge/internal/bridge/app"

// SendMessageRequest is a send request from the Nightline server.
type SendMessageRequest struct {
	Phone   string `json:"phone" validate:"required"`
	Text    string `json:"text" validate:"required"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// SendMessageResponse reports the outcome of a send attempt. Success
// implies a non-empty MessageID minted by the bridge; the send mechanism
// has no message-id concept of its own.
type SendMessageResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HealthResponse is the public health check payload.
type HealthResponse struct {
	Status         string  `json:"status"`
	WatcherRunning bool    `json:"watcher_running"`
	Version        string  `json:"version"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// StatusResponse is the detailed status payload.
type StatusResponse struct {
	WatcherRunning     bool              `json:"watcher_running"`
	LastRowID          int64             `json:"last_rowid"`
	MockMode           bool              `json:"mock_mode"`
	NightlineURL       string            `json:"nightline_server_url"`
	NightlineReachable bool              `json:"nightline_reachable"`
	Queue              app.QueueStats    `json:"queue"`
	Tracking           *app.TrackerStats `json:"tracking,omitempty"`
}

// InjectMessageRequest injects an inbound message in mock mode.
type InjectMessageRequest struct {
	Phone      string `json:"phone" validate:"required"`
	Text       string `json:"text" validate:"required"`
	IsIMessage *bool  `json:"is_imessage,omitempty"`
}

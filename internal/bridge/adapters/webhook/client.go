// Package webhook implements the Nightline delivery gateway: authenticated
// HTTP POSTs carrying inbound messages and status updates. The client never
// returns errors to callers; every transport failure is logged and
// collapsed to false so the caller can route the payload to the retry
// queue.
package webhook

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nightline/iphone-bridge/internal/bridge/domain"
)

const (
	// SecretHeader authenticates every webhook call to Nightline.
	SecretHeader = "X-Bridge-Secret"

	userAgent = "nightline-iphone-bridge/0.1.0"

	// maxInlineAttachmentSize bounds base64-inlined attachments; larger
	// files send metadata only.
	maxInlineAttachmentSize = 5 * 1024 * 1024

	defaultTimeout = 30 * time.Second
)

// Client talks to the Nightline server's iphone-bridge webhook endpoints.
type Client struct {
	baseURL    string
	clientID   string
	secret     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client. httpClient may be nil, in which case one with
// the default 30s timeout is used.
func NewClient(baseURL, clientID, secret string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clientID:   clientID,
		secret:     secret,
		httpClient: httpClient,
		logger:     logger.With("component", "webhook_client"),
	}
}

// MessagePayload builds the message.received event for an inbound message.
// Attachments at or under 5MB are base64-inlined; larger or unreadable ones
// degrade to metadata-only and are never fatal.
func (c *Client) MessagePayload(msg domain.InboundMessage) map[string]any {
	attachments := make([]any, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		attachments = append(attachments, c.encodeAttachment(a))
	}

	return map[string]any{
		"event":       "message.received",
		"phone":       msg.Phone,
		"text":        msg.Text,
		"received_at": msg.ReceivedAt.UTC().Format(time.RFC3339),
		"message_id":  msg.GUID,
		"is_imessage": msg.Channel == domain.ChannelIMessage,
		"attachments": attachments,
	}
}

// StatusPayload builds the message.delivered / message.read event for a
// status update.
func (c *Client) StatusPayload(update domain.StatusUpdate) map[string]any {
	return map[string]any{
		"event":       "message." + update.Kind.String(),
		"phone":       update.Phone,
		"message_id":  update.GUID,
		"timestamp":   update.Timestamp.UTC().Format(time.RFC3339),
		"is_imessage": update.Channel == domain.ChannelIMessage,
	}
}

// ForwardMessage delivers an inbound message to Nightline. Returns true iff
// the server answered 200.
func (c *Client) ForwardMessage(ctx context.Context, msg domain.InboundMessage) bool {
	return c.Deliver(ctx, c.MessagePayload(msg))
}

// SendStatusUpdate delivers a status update to Nightline.
func (c *Client) SendStatusUpdate(ctx context.Context, update domain.StatusUpdate) bool {
	return c.Deliver(ctx, c.StatusPayload(update))
}

// Deliver posts an event payload to the endpoint its "event" field routes
// to. This is the replay path the retry queue drives; the immediate forward
// path goes through it as well.
func (c *Client) Deliver(ctx context.Context, payload map[string]any) bool {
	event, _ := payload["event"].(string)

	endpoint := "status"
	if event == "message.received" {
		endpoint = "message"
	}

	return c.post(ctx, endpoint, payload)
}

// HealthCheck probes the Nightline health endpoint.
func (c *Client) HealthCheck(ctx context.Context) bool {
	url, ok := c.endpointURL("health")
	if !ok {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to build health check request", "error", err)
		return false
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "Nightline health check failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

func (c *Client) post(ctx context.Context, endpoint string, payload map[string]any) bool {
	url, ok := c.endpointURL(endpoint)
	if !ok {
		return false
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to marshal webhook payload", "error", err, "endpoint", endpoint)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to build webhook request", "error", err, "endpoint", endpoint)
		return false
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	webhookRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.ErrorContext(ctx, "Webhook request failed", "error", err, "url", url)
		return false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		c.logger.ErrorContext(ctx, "Webhook rejected",
			"status_code", resp.StatusCode,
			"url", url,
			"body", string(respBody),
		)
		return false
	}

	c.logger.InfoContext(ctx, "Webhook delivered", "endpoint", endpoint)
	return true
}

// endpointURL builds the client-scoped webhook URL. A missing client id is
// a configuration gap, not an error: the call no-ops as false and recovers
// once the id is supplied.
func (c *Client) endpointURL(endpoint string) (string, bool) {
	if c.clientID == "" {
		c.logger.Error("Nightline client ID not configured, cannot deliver", "endpoint", endpoint)
		return "", false
	}
	return fmt.Sprintf("%s/webhooks/iphone-bridge/%s/%s", c.baseURL, c.clientID, endpoint), true
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, c.secret)
	req.Header.Set("User-Agent", userAgent)
}

// encodeAttachment converts an attachment to its wire form. data_base64 and
// url are both null for oversized or unreadable files; there is no remote
// fetch mechanism.
func (c *Client) encodeAttachment(a domain.Attachment) map[string]any {
	info := map[string]any{
		"filename":    a.Filename,
		"mime_type":   a.MimeType,
		"size_bytes":  a.SizeBytes,
		"data_base64": nil,
		"url":         nil,
	}

	fi, err := os.Stat(a.Path)
	if err != nil {
		c.logger.Warn("Attachment file not readable, sending metadata only", "path", a.Path, "error", err)
		return info
	}

	if fi.Size() > maxInlineAttachmentSize {
		c.logger.Info("Attachment too large for inline encoding",
			"filename", a.Filename,
			"size_bytes", fi.Size(),
		)
		return info
	}

	data, err := os.ReadFile(a.Path)
	if err != nil {
		c.logger.Warn("Failed to read attachment, sending metadata only", "path", a.Path, "error", err)
		return info
	}

	info["size_bytes"] = int64(len(data))
	info["data_base64"] = base64.StdEncoding.EncodeToString(data)
	return info
}

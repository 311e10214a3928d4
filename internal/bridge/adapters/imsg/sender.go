// Package imsg contains the adapters that touch the Messages app itself:
// the AppleScript send capability, plus the mock sender and mock watcher
// used when the bridge runs without a real iMessage setup.
package imsg

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/nightline/iphone-bridge/internal/bridge/domain"
)

// Sender is the send capability contract. The bridge core only depends on
// the result classification; the mechanism is opaque.
type Sender interface {
	Send(ctx context.Context, phone, text string) domain.SendResponse
	Name() string
}

// AppleScriptSender sends iMessages by driving the Messages app through
// osascript. The Mac must be signed into the same iCloud account as the
// target iPhone.
type AppleScriptSender struct {
	timeout time.Duration
	logger  *slog.Logger

	// runScript is swapped in tests.
	runScript func(ctx context.Context, script string) (int, string, string)
}

// NewAppleScriptSender creates a sender with the given per-send timeout.
func NewAppleScriptSender(timeout time.Duration, logger *slog.Logger) *AppleScriptSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &AppleScriptSender{
		timeout: timeout,
		logger:  logger.With("sender", "applescript"),
	}
	s.runScript = s.runOsascript
	return s
}

// Name returns the sender name.
func (s *AppleScriptSender) Name() string {
	return "applescript"
}

// Send delivers a message to phone. The primary script addresses the
// recipient as a participant (modern macOS); on failure a buddy-style
// fallback is tried before giving up.
func (s *AppleScriptSender) Send(ctx context.Context, phone, text string) domain.SendResponse {
	if phone == "" {
		return domain.SendResponse{Result: domain.SendInvalidRecipient, Error: "phone number is required"}
	}
	if text == "" {
		return domain.SendResponse{Result: domain.SendFailed, Error: "message text is required"}
	}

	s.logger.InfoContext(ctx, "Sending message", "phone", phone, "text_len", len(text))

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rc, _, stderr := s.runScript(sendCtx, buildSendScript(phone, text))
	if rc == 0 {
		s.logger.InfoContext(ctx, "Message sent", "phone", phone)
		return domain.SendResponse{Result: domain.SendSuccess}
	}

	s.logger.WarnContext(ctx, "Primary send script failed, trying fallback", "stderr", stderr)

	rc, _, stderr = s.runScript(sendCtx, buildSendScriptFallback(phone, text))
	if rc == 0 {
		s.logger.InfoContext(ctx, "Message sent via fallback script", "phone", phone)
		return domain.SendResponse{Result: domain.SendSuccess}
	}

	errMsg := stderr
	if errMsg == "" {
		errMsg = "unknown AppleScript error"
	}
	s.logger.ErrorContext(ctx, "Failed to send message", "phone", phone, "error", errMsg)

	lower := strings.ToLower(errMsg)
	if strings.Contains(lower, "buddy") || strings.Contains(lower, "participant") {
		return domain.SendResponse{
			Result: domain.SendInvalidRecipient,
			Error:  fmt.Sprintf("could not find recipient %s; ensure they have iMessage enabled", phone),
		}
	}
	return domain.SendResponse{Result: domain.SendFailed, Error: errMsg}
}

func (s *AppleScriptSender) runOsascript(ctx context.Context, script string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	rc := 0
	if err != nil {
		rc = 1
		if exitErr, ok := err.(*exec.ExitError); ok {
			rc = exitErr.ExitCode()
		}
		if ctx.Err() == context.DeadlineExceeded {
			return rc, "", "timeout"
		}
	}
	return rc, strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String())
}

// escapeAppleScript escapes backslashes and double quotes for embedding in
// an AppleScript string literal.
func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func buildSendScript(phone, text string) string {
	return fmt.Sprintf(`tell application "Messages"
    set targetService to 1st account whose service type = iMessage
    set targetBuddy to participant "%s" of targetService
    send "%s" to targetBuddy
end tell`, escapeAppleScript(phone), escapeAppleScript(text))
}

// buildSendScriptFallback uses the buddy addressing that older macOS
// versions expect.
func buildSendScriptFallback(phone, text string) string {
	return fmt.Sprintf(`tell application "Messages"
    set targetService to 1st service whose service type = iMessage
    set targetBuddy to buddy "%s" of targetService
    send "%s" to targetBuddy
end tell`, escapeAppleScript(phone), escapeAppleScript(text))
}

package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightline/iphone-bridge/internal/bridge/adapters/imsg"
	"github.com/nightline/iphone-bridge/internal/bridge/adapters/webhook"
	"github.com/nightline/iphone-bridge/internal/bridge/app"
	"github.com/nightline/iphone-bridge/internal/bridge/domain"
)

const testSecret = "test-secret"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type trackedSend struct {
	phone   string
	text    string
	channel domain.ChannelKind
}

// fakeWatcher satisfies app.Watcher and records Track calls.
type fakeWatcher struct {
	running   bool
	lastRowID int64
	tracked   []trackedSend
}

func (f *fakeWatcher) Start(ctx context.Context, skipHistorical bool) error { return nil }
func (f *fakeWatcher) Stop()                                                {}
func (f *fakeWatcher) IsRunning() bool                                      { return f.running }
func (f *fakeWatcher) LastRowID() int64                                     { return f.lastRowID }
func (f *fakeWatcher) Track(phone, text string, channel domain.ChannelKind) {
	f.tracked = append(f.tracked, trackedSend{phone, text, channel})
}

type harness struct {
	server      *Server
	router      http.Handler
	watcher     *fakeWatcher
	mockSender  *imsg.MockSender
	mockWatcher *imsg.MockWatcher
	nightline   *httptest.Server
}

func newHarness(t *testing.T, mockMode bool) *harness {
	t.Helper()

	nightlineSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(nightlineSrv.Close)

	nightline := webhook.NewClient(nightlineSrv.URL, "client-1", testSecret, nightlineSrv.Client(), testLogger())
	queue := app.NewRetryQueue(nightline.Deliver, app.RetryQueueOptions{}, testLogger())

	h := &harness{nightline: nightlineSrv}
	h.watcher = &fakeWatcher{running: true, lastRowID: 42}

	var (
		sender  imsg.Sender
		tracker *app.StatusTracker
	)
	if mockMode {
		h.mockSender = imsg.NewMockSender(testLogger())
		h.mockWatcher = imsg.NewMockWatcher(func(ctx context.Context, msg domain.InboundMessage) error {
			return nil
		}, testLogger())
		require.NoError(t, h.mockWatcher.Start(context.Background(), false))
		sender = h.mockSender
	} else {
		h.mockSender = imsg.NewMockSender(testLogger())
		sender = h.mockSender
		tracker = app.NewStatusTracker(nil, testLogger())
	}

	h.server = NewServer(
		h.watcher, sender, queue, tracker, nightline,
		h.mockWatcher, h.mockSender,
		testSecret, nightlineSrv.URL, testLogger(),
	)
	h.router = h.server.Router()
	return h
}

func (h *harness) do(method, path, body, secret string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if secret != "" {
		req.Header.Set(webhook.SecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.True(t, resp.WatcherRunning)
	assert.Equal(t, "0.1.0", resp.Version)
}

func TestStatusEndpoint(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(http.MethodGet, "/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.WatcherRunning)
	assert.Equal(t, int64(42), resp.LastRowID)
	assert.False(t, resp.MockMode)
	assert.True(t, resp.NightlineReachable)
	assert.Equal(t, h.nightline.URL, resp.NightlineURL)
	require.NotNil(t, resp.Tracking)
	assert.Equal(t, 0, resp.Tracking.TotalTracked)
}

func TestSendRequiresSecret(t *testing.T) {
	h := newHarness(t, false)
	body := `{"phone": "+15551234567", "text": "hello"}`

	rec := h.do(http.MethodPost, "/send", body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/send", body, "wrong-secret")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSendSuccess(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(http.MethodPost, "/send", `{"phone": "+15551234567", "text": "hello"}`, testSecret)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SendMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, strings.HasPrefix(resp.MessageID, "bridge-"))
	assert.Empty(t, resp.Error)

	// The send is registered for receipt tracking.
	require.Len(t, h.watcher.tracked, 1)
	assert.Equal(t, "+15551234567", h.watcher.tracked[0].phone)
	assert.Equal(t, domain.ChannelIMessage, h.watcher.tracked[0].channel)
}

type failingSender struct{}

func (failingSender) Send(ctx context.Context, phone, text string) domain.SendResponse {
	return domain.SendResponse{Result: domain.SendFailed, Error: "Messages app not responding"}
}
func (failingSender) Name() string { return "failing" }

func TestSendFailureIsHTTP200(t *testing.T) {
	h := newHarness(t, false)
	h.server.sender = failingSender{}
	h.router = h.server.Router()

	rec := h.do(http.MethodPost, "/send", `{"phone": "+15551234567", "text": "hello"}`, testSecret)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SendMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "Messages app not responding", resp.Error)
	assert.Empty(t, resp.MessageID)

	// Failed sends are never tracked.
	assert.Empty(t, h.watcher.tracked)
}

func TestSendValidation(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(http.MethodPost, "/send", `{not json`, testSecret)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/send", `{"text": "no phone"}`, testSecret)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, h.watcher.tracked)
}

func TestMockEndpointsAbsentInRealMode(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(http.MethodPost, "/mock/messages", `{"phone": "+15551234567", "text": "x"}`, testSecret)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/mock/sent", "", testSecret)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMockInject(t *testing.T) {
	h := newHarness(t, true)

	rec := h.do(http.MethodPost, "/mock/messages", `{"phone": "5551234567", "text": "inbound"}`, testSecret)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp["message_id"].(string), "mock-"))
	assert.Equal(t, float64(1), resp["rowid"])
	assert.Equal(t, "+15551234567", resp["phone"])

	require.Len(t, h.mockWatcher.History(), 1)
	assert.Equal(t, domain.ChannelIMessage, h.mockWatcher.History()[0].Channel)
}

func TestMockInjectSMSChannel(t *testing.T) {
	h := newHarness(t, true)

	rec := h.do(http.MethodPost, "/mock/messages",
		`{"phone": "+15551234567", "text": "plain", "is_imessage": false}`, testSecret)
	require.Equal(t, http.StatusCreated, rec.Code)

	history := h.mockWatcher.History()
	require.Len(t, history, 1)
	assert.Equal(t, domain.ChannelSMS, history[0].Channel)
}

func TestMockSentListing(t *testing.T) {
	h := newHarness(t, true)

	rec := h.do(http.MethodGet, "/mock/sent", "", testSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	h.mockSender.Send(context.Background(), "+15551234567", "outbound")

	rec = h.do(http.MethodGet, "/mock/sent", "", testSecret)
	require.Equal(t, http.StatusOK, rec.Code)

	var sent []imsg.SentMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sent))
	require.Len(t, sent, 1)
	assert.Equal(t, "outbound", sent[0].Text)
}

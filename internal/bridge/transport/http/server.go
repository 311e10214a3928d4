// Package http exposes the bridge's local HTTP surface: health and status
// probes, the authenticated send endpoint called by the Nightline server,
// Prometheus metrics, and the mock-mode injection endpoints.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nightline/iphone-bridge/internal/bridge/adapters/imsg"
	"github.com/nightline/iphone-bridge/internal/bridge/adapters/webhook"
	"github.com/nightline/iphone-bridge/internal/bridge/app"
	"github.com/nightline/iphone-bridge/internal/bridge/domain"
)

const version = "0.1.0"

// Server wires the bridge components into an HTTP handler.
type Server struct {
	watcher   app.Watcher
	sender    imsg.Sender
	queue     *app.RetryQueue
	tracker   *app.StatusTracker // nil in mock mode
	nightline *webhook.Client

	// Mock-mode collaborators; nil when running against the real store.
	mockWatcher *imsg.MockWatcher
	mockSender  *imsg.MockSender

	secret       string
	nightlineURL string
	logger       *slog.Logger
	validate     *validator.Validate
	startedAt    time.Time
}

// NewServer creates a Server. tracker, mockWatcher, and mockSender are
// optional.
func NewServer(
	watcher app.Watcher,
	sender imsg.Sender,
	queue *app.RetryQueue,
	tracker *app.StatusTracker,
	nightline *webhook.Client,
	mockWatcher *imsg.MockWatcher,
	mockSender *imsg.MockSender,
	secret string,
	nightlineURL string,
	logger *slog.Logger,
) *Server {
	return &Server{
		watcher:      watcher,
		sender:       sender,
		queue:        queue,
		tracker:      tracker,
		nightline:    nightline,
		mockWatcher:  mockWatcher,
		mockSender:   mockSender,
		secret:       secret,
		nightlineURL: nightlineURL,
		logger:       logger.With("component", "http"),
		validate:     validator.New(),
		startedAt:    time.Now(),
	}
}

// Router builds the chi router for the bridge.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chi_middleware.RequestID)
	r.Use(chi_middleware.RealIP)
	r.Use(chi_middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RequireSecret(s.secret, s.logger))
		r.Post("/send", s.handleSend)

		if s.mockWatcher != nil {
			r.Post("/mock/messages", s.handleInject)
			r.Get("/mock/sent", s.handleMockSent)
		}
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "healthy",
		WatcherRunning: s.watcher.IsRunning(),
		Version:        version,
		UptimeSeconds:  time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		WatcherRunning:     s.watcher.IsRunning(),
		LastRowID:          s.watcher.LastRowID(),
		MockMode:           s.mockWatcher != nil,
		NightlineURL:       s.nightlineURL,
		NightlineReachable: s.nightline.HealthCheck(r.Context()),
		Queue:              s.queue.Stats(),
	}
	if s.tracker != nil {
		stats := s.tracker.Stats()
		resp.Tracking = &stats
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleSend sends an outbound message. The message id is minted here on
// success and handed to the status tracker; the send mechanism itself has
// no id concept.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chi_middleware.GetReqID(ctx)
	logger := s.logger.With("request_id", requestID)

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "Failed to decode send request", "error", err)
		http.Error(w, "Invalid JSON format: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.validate.StructCtx(ctx, req); err != nil {
		logger.WarnContext(ctx, "Send request failed validation", "error", err)
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	logger.InfoContext(ctx, "Received send request", "phone", req.Phone, "text_len", len(req.Text))

	resp := s.sender.Send(ctx, req.Phone, req.Text)
	if !resp.Success() {
		s.writeJSON(w, http.StatusOK, SendMessageResponse{Success: false, Error: resp.Error})
		return
	}

	messageID := "bridge-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	s.watcher.Track(req.Phone, req.Text, domain.ChannelIMessage)

	s.writeJSON(w, http.StatusOK, SendMessageResponse{Success: true, MessageID: messageID})
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req InjectMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON format: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.validate.StructCtx(ctx, req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	channel := domain.ChannelIMessage
	if req.IsIMessage != nil && !*req.IsIMessage {
		channel = domain.ChannelSMS
	}

	msg := s.mockWatcher.Inject(ctx, req.Phone, req.Text, channel)
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"message_id": msg.GUID,
		"rowid":      msg.RowID,
		"phone":      msg.Phone,
	})
}

func (s *Server) handleMockSent(w http.ResponseWriter, r *http.Request) {
	if s.mockSender == nil {
		s.writeJSON(w, http.StatusOK, []imsg.SentMessage{})
		return
	}
	sent := s.mockSender.SentMessages()
	if sent == nil {
		sent = []imsg.SentMessage{}
	}
	s.writeJSON(w, http.StatusOK, sent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

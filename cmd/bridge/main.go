package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/nightline/iphone-bridge/internal/bridge/adapters/imsg"
	"github.com/nightline/iphone-bridge/internal/bridge/adapters/webhook"
	"github.com/nightline/iphone-bridge/internal/bridge/app"
	"github.com/nightline/iphone-bridge/internal/bridge/domain"
	"github.com/nightline/iphone-bridge/internal/bridge/repository/chatdb"
	httptransport "github.com/nightline/iphone-bridge/internal/bridge/transport/http"
	"github.com/nightline/iphone-bridge/internal/platform/config"
	"github.com/nightline/iphone-bridge/internal/platform/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// A .env next to the binary is a convenience for Mac Mini installs;
	// absence is normal.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	log.Info("Starting iPhone bridge", "mock_mode", cfg.MockMode)

	mainCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpTimeout := time.Duration(cfg.HTTPTimeout * float64(time.Second))
	nightline := webhook.NewClient(
		cfg.NightlineServerURL,
		cfg.NightlineClientID,
		cfg.WebhookSecret,
		&http.Client{Timeout: httpTimeout},
		log,
	)

	queue := app.NewRetryQueue(nightline.Deliver, app.RetryQueueOptions{
		MaxSize:     cfg.QueueMaxSize,
		BaseDelay:   time.Duration(cfg.RetryBaseDelay * float64(time.Second)),
		MaxDelay:    time.Duration(cfg.RetryMaxDelay * float64(time.Second)),
		MaxAttempts: cfg.RetryMaxAttempts,
	}, log)

	// Inbound messages go to Nightline immediately; failures fall back to
	// the retry queue keyed by the store GUID.
	onMessage := func(ctx context.Context, msg domain.InboundMessage) error {
		payload := nightline.MessagePayload(msg)
		if nightline.Deliver(ctx, payload) {
			return nil
		}
		if !queue.Enqueue(msg.GUID, payload) {
			return fmt.Errorf("retry queue full, message %s dropped", msg.GUID)
		}
		return nil
	}

	onStatus := func(ctx context.Context, update domain.StatusUpdate) error {
		payload := nightline.StatusPayload(update)
		if nightline.Deliver(ctx, payload) {
			return nil
		}
		id := "status-" + update.GUID + "-" + update.Kind.String()
		if !queue.Enqueue(id, payload) {
			return fmt.Errorf("retry queue full, status update %s dropped", id)
		}
		return nil
	}

	var (
		watcher     app.Watcher
		tracker     *app.StatusTracker
		sender      imsg.Sender
		mockWatcher *imsg.MockWatcher
		mockSender  *imsg.MockSender
	)

	if cfg.MockMode {
		mockWatcher = imsg.NewMockWatcher(onMessage, log)
		mockSender = imsg.NewMockSender(log)
		watcher = mockWatcher
		sender = mockSender
	} else {
		tracker = app.NewStatusTracker(onStatus, log)
		store := chatdb.NewStore(cfg.ChatDBPath, log)
		pollInterval := time.Duration(cfg.PollInterval * float64(time.Second))
		watcher = app.NewChatDBWatcher(store, tracker, onMessage, pollInterval, log)
		sender = imsg.NewAppleScriptSender(httpTimeout, log)
	}

	if err := watcher.Start(mainCtx, !cfg.ProcessHistorical); err != nil {
		log.Error("Failed to start watcher", "error", err)
		os.Exit(1)
	}
	queue.Start(mainCtx)

	if nightline.HealthCheck(mainCtx) {
		log.Info("Connected to Nightline server", "url", cfg.NightlineServerURL)
	} else {
		log.Warn("Could not reach Nightline server; deliveries will be queued until it recovers",
			"url", cfg.NightlineServerURL)
	}

	server := httptransport.NewServer(
		watcher, sender, queue, tracker, nightline,
		mockWatcher, mockSender,
		cfg.WebhookSecret, cfg.NightlineServerURL, log,
	)

	addr := net.JoinHostPort(cfg.ServerHost, strconv.Itoa(cfg.ServerPort))
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		log.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", "error", err)
		}

		watcher.Stop()
		queue.Stop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Bridge exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("Bridge shutdown complete")
}

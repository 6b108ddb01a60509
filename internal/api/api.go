// Package api provides the HTTP server for TriageChat.
//
// It exposes the stateless core endpoint, server-held sessions with
// transcript export, the Twilio WhatsApp webhook, health and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/TriageChat/internal/engine"
	"github.com/BTreeMap/TriageChat/internal/messaging"
	"github.com/BTreeMap/TriageChat/internal/metrics"
	"github.com/BTreeMap/TriageChat/internal/store"
)

// Server configuration constants
const (
	// DefaultAddr is the listen address used when none is configured
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout protects against slow clients
	DefaultReadHeaderTimeout = 10 * time.Second
	// maxBodyBytes caps request bodies
	maxBodyBytes = 1 << 20
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr               string
	Store              store.Store
	Sender             messaging.Service
	Recorder           *metrics.Recorder
	TwilioAuthToken    string
	TwilioWebhookURL   string
	OutboxPollInterval time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithStore sets the session store; an in-memory store is used otherwise.
func WithStore(st store.Store) Option {
	return func(o *Opts) { o.Store = st }
}

// WithSender sets the outbound messaging service used for WhatsApp replies.
func WithSender(s messaging.Service) Option {
	return func(o *Opts) { o.Sender = s }
}

// WithRecorder enables GET /metrics and delivery receipt metrics.
func WithRecorder(r *metrics.Recorder) Option {
	return func(o *Opts) { o.Recorder = r }
}

// WithTwilioSignature enables X-Twilio-Signature validation. publicURL is
// the webhook URL as configured in Twilio; when empty it is rebuilt from the
// request.
func WithTwilioSignature(authToken, publicURL string) Option {
	return func(o *Opts) {
		o.TwilioAuthToken = authToken
		o.TwilioWebhookURL = publicURL
	}
}

// WithOutboxPollInterval sets how often queued replies are delivered.
func WithOutboxPollInterval(d time.Duration) Option {
	return func(o *Opts) { o.OutboxPollInterval = d }
}

// Server serves the TriageChat HTTP API.
type Server struct {
	addr       string
	engine     *engine.Engine
	st         store.Store
	sender     messaging.Service
	recorder   *metrics.Recorder
	validator  *messaging.WebhookValidator
	webhookURL string
	outbox     *store.OutboxSender

	// keyLocks serializes turns per session so concurrent messages from
	// the same user cannot overwrite each other's state.
	keyLocks keyLocks
}

// NewServer creates a server around eng.
func NewServer(eng *engine.Engine, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Store == nil {
		slog.Debug("NewServer: no store configured, using in-memory store")
		cfg.Store = store.NewInMemoryStore()
	}

	s := &Server{
		addr:       cfg.Addr,
		engine:     eng,
		st:         cfg.Store,
		sender:     cfg.Sender,
		recorder:   cfg.Recorder,
		webhookURL: cfg.TwilioWebhookURL,
	}
	if cfg.TwilioAuthToken != "" {
		s.validator = messaging.NewWebhookValidator(cfg.TwilioAuthToken)
	}
	if s.sender != nil {
		s.outbox = store.NewOutboxSender(s.st, s.deliver, cfg.OutboxPollInterval)
	}
	slog.Debug("NewServer: server created", "addr", s.addr, "sender_set", s.sender != nil,
		"metrics", s.recorder != nil, "signature_validation", s.validator != nil)
	return s
}

// deliver sends one queued outbox reply.
func (s *Server) deliver(ctx context.Context, msg store.OutboxMessage) error {
	return s.sender.SendMessage(ctx, msg.Recipient, msg.Body)
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.rootHandler)
	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.HandleFunc("POST /v1/report", s.reportHandler)
	mux.HandleFunc("POST /v1/sessions", s.createSessionHandler)
	mux.HandleFunc("GET /v1/sessions/{id}", s.getSessionHandler)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.deleteSessionHandler)
	mux.HandleFunc("POST /v1/sessions/{id}/messages", s.sessionMessageHandler)
	mux.HandleFunc("GET /v1/sessions/{id}/transcript", s.transcriptHandler)
	mux.HandleFunc("POST /webhooks/twilio/whatsapp", s.twilioWebhookHandler)
	if s.recorder != nil {
		mux.Handle("GET /metrics", s.recorder.Handler())
	}
	return mux
}

// Run serves until ctx is canceled, then shuts down gracefully. The reply
// outbox is drained in the background while the server runs.
func (s *Server) Run(ctx context.Context) error {
	if s.outbox != nil {
		if err := s.outbox.RecoverStaleMessages(); err != nil {
			slog.Error("Server.Run: outbox recovery failed", "error", err)
		}
		go s.outbox.Run(ctx)
	}
	if s.sender != nil && s.recorder != nil {
		go s.recorder.ConsumeReceipts(s.sender.Receipts())
	}

	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("TriageChat API listening", "addr", s.addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	if s.sender != nil {
		if err := s.sender.Stop(); err != nil {
			slog.Warn("Server.Run: stopping sender failed", "error", err)
		}
	}
	return nil
}

// lockKey returns an unlock function after acquiring the lock for key.
func (s *Server) lockKey(key string) func() {
	return s.keyLocks.lock(key)
}

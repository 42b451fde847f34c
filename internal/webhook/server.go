package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcfcu2000/openclaw-wecom-kf/internal/config"
	"github.com/rcfcu2000/openclaw-wecom-kf/internal/drainqueue"
	"github.com/rcfcu2000/openclaw-wecom-kf/internal/metrics"
	"github.com/rcfcu2000/openclaw-wecom-kf/internal/syncer"
	"github.com/rcfcu2000/openclaw-wecom-kf/internal/wecom"
)

// ackBody is the literal acknowledgement the platform expects from a POST
// callback. It must be on the wire before any decryption or drain work
// starts; the platform retries callbacks that do not answer quickly.
const ackBody = "success"

// ServerOptions configures the webhook server.
type ServerOptions struct {
	Host               string
	Port               int
	Path               string
	RateLimitPerMinute int
	MaxBodyBytes       int64
}

// Server is the inbound webhook HTTP surface: GET URL verification and
// POST callback intake for every registered account on one path.
type Server struct {
	options     ServerOptions
	registry    *config.Registry
	queue       *drainqueue.Queue
	syncer      *syncer.Syncer
	metrics     *metrics.Metrics
	rateLimiter *RateLimiter
	logger      zerolog.Logger

	server         *http.Server
	startTime      time.Time
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup

	// onDrainScheduled, when set, observes the completion handle of every
	// scheduled drain. Used by tests to await the async pipeline.
	onDrainScheduled func(*drainqueue.Handle)
}

// NewServer creates a new webhook server.
func NewServer(options ServerOptions, registry *config.Registry, queue *drainqueue.Queue, sync *syncer.Syncer, m *metrics.Metrics, logger zerolog.Logger) (*Server, error) {
	if options.Port == 0 {
		options.Port = 8080
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.Path == "" {
		options.Path = "/wecom/kf/callback"
	}
	if options.RateLimitPerMinute == 0 {
		options.RateLimitPerMinute = 600
	}
	if options.MaxBodyBytes == 0 {
		options.MaxBodyBytes = 1 << 20
	}

	if registry == nil {
		return nil, fmt.Errorf("account registry is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("drain queue is required")
	}
	if sync == nil {
		return nil, fmt.Errorf("syncer is required")
	}

	return &Server{
		options:     options,
		registry:    registry,
		queue:       queue,
		syncer:      sync,
		metrics:     m,
		rateLimiter: NewRateLimiter(options.RateLimitPerMinute),
		logger:      logger.With().Str("component", "webhook").Logger(),
		startTime:   time.Now(),
	}, nil
}

// SetDrainObserver registers a hook receiving every scheduled drain's
// completion handle.
func (s *Server) SetDrainObserver(fn func(*drainqueue.Handle)) {
	s.onDrainScheduled = fn
}

// Handler returns the server's HTTP handler, usable directly in tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc(s.options.Path, s.handleCallback)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Start starts the webhook server and blocks until shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler: s.Handler(),
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Str("path", s.options.Path).
		Msg("Starting webhook server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start webhook server: %w", err)
	}
	return nil
}

// Stop gracefully stops the webhook server.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down webhook server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.rateLimiter.Stop()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown webhook server: %w", err)
		}
	}

	s.logger.Info().Msg("Webhook server stopped")
	return nil
}

// handleHealth reports liveness and the registered account count.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","uptime":%.0f,"accounts":%d}`,
		time.Since(s.startTime).Seconds(), s.registry.Len())
}

// handleCallback is the per-tenant webhook entry point.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	ip := clientIP(r)
	if !s.rateLimiter.CheckLimit(ip) {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", s.rateLimiter.RetryAfter(ip)))
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		s.count(r.Method, "rate_limited")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleVerification(w, r)
	case http.MethodPost:
		s.handleNotification(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		s.count(r.Method, "method_not_allowed")
	}
}

// handleVerification answers the platform's GET URL check: verify the
// signature against each registered account, decrypt the challenge with
// the matching account's key and echo the plaintext.
func (s *Server) handleVerification(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	timestamp := query.Get("timestamp")
	nonce := query.Get("nonce")
	signature := query.Get("msg_signature")
	if signature == "" {
		signature = query.Get("signature")
	}
	echostr := query.Get("echostr")

	if timestamp == "" || nonce == "" || signature == "" || echostr == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		s.count(r.Method, "missing_params")
		return
	}

	account := s.matchAccount(timestamp, nonce, echostr, signature)
	if account == nil {
		s.logger.Warn().Str("ip", clientIP(r)).Msg("Verification signature matched no account")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		s.count(r.Method, "no_account_match")
		return
	}

	envelope, err := wecom.NewEnvelope(account.EncodingAESKey, account.CorpID)
	if err == nil {
		var plain []byte
		plain, err = envelope.Decrypt(echostr)
		if err == nil {
			w.WriteHeader(http.StatusOK)
			w.Write(plain)
			s.count(r.Method, "ok")
			s.logger.Info().Str("account_id", account.ID).Msg("URL verification succeeded")
			return
		}
	}

	s.logger.Error().Err(err).Str("account_id", account.ID).Msg("Verification decrypt failed")
	http.Error(w, "Bad Request", http.StatusBadRequest)
	s.count(r.Method, "decrypt_error")
}

// handleNotification handles the POST callback. The signature is checked
// over the encrypted blob, the literal ack goes out immediately, and all
// remaining work (decrypt, parse, drain) runs on the drain queue after the
// response.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	timestamp := query.Get("timestamp")
	nonce := query.Get("nonce")
	signature := query.Get("msg_signature")

	if timestamp == "" || nonce == "" || signature == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		s.count(r.Method, "missing_params")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.options.MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
			s.count(r.Method, "body_too_large")
			return
		}
		http.Error(w, "Bad Request", http.StatusBadRequest)
		s.count(r.Method, "body_read_error")
		return
	}

	encrypted, err := wecom.ExtractEncrypt(body)
	if err != nil {
		s.logger.Warn().Err(err).Str("ip", clientIP(r)).Msg("Callback body unusable")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		s.count(r.Method, "bad_body")
		return
	}

	account := s.matchAccount(timestamp, nonce, encrypted, signature)
	if account == nil {
		s.logger.Warn().Str("ip", clientIP(r)).Msg("Callback signature matched no account")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		s.count(r.Method, "no_account_match")
		return
	}

	// Ack first. Everything after this line cannot change the response.
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, ackBody)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	s.count(r.Method, "ok")

	s.scheduleDrain(account, encrypted)
}

// scheduleDrain queues the post-ack work. Failures inside the task are
// logged and swallowed; the webhook response has already succeeded.
func (s *Server) scheduleDrain(account *config.Account, encrypted string) {
	// The lane serializes drains per account (and per channel instance
	// when the account pins one), so concurrent callbacks for the same
	// customer stream cannot race on the cursor.
	lane := account.ID
	if account.OpenKfID != "" {
		lane = account.ID + ":" + account.OpenKfID
	}

	handle, err := s.queue.Enqueue(lane, func(ctx context.Context) error {
		envelope, err := wecom.NewEnvelope(account.EncodingAESKey, account.CorpID)
		if err != nil {
			s.logger.Error().Err(err).Str("account_id", account.ID).Msg("Envelope init failed")
			return err
		}
		plain, err := envelope.Decrypt(encrypted)
		if err != nil {
			s.logger.Error().Err(err).Str("account_id", account.ID).Msg("Callback decrypt failed")
			return err
		}
		notice, err := wecom.ParseCallbackNotice(plain)
		if err != nil {
			s.logger.Error().Err(err).Str("account_id", account.ID).Msg("Callback plaintext unusable")
			return err
		}
		return s.syncer.Drain(ctx, account, notice.OpenKfID, notice.Token)
	})
	if err != nil {
		s.logger.Error().Err(err).
			Str("account_id", account.ID).
			Str("lane", lane).
			Msg("Failed to schedule drain")
		return
	}

	s.logger.Debug().
		Str("account_id", account.ID).
		Str("task_id", handle.ID()).
		Msg("Drain scheduled")

	if s.onDrainScheduled != nil {
		s.onDrainScheduled(handle)
	}
}

// matchAccount tries every registered account's callback token against the
// claimed signature. Unconfigured accounts never match.
func (s *Server) matchAccount(timestamp, nonce, encrypted, signature string) *config.Account {
	for _, account := range s.registry.All() {
		if !account.Configured {
			continue
		}
		if wecom.VerifySignature(account.Token, timestamp, nonce, encrypted, signature) {
			return account
		}
	}
	return nil
}

func (s *Server) count(method, outcome string) {
	if s.metrics != nil {
		s.metrics.CallbacksTotal.WithLabelValues(method, outcome).Inc()
	}
}

// clientIP extracts the client IP from the request.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

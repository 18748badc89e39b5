// ABOUTME: Gateway that wires the store, credential pool, ledger, orchestrator, and HTTP server
// ABOUTME: Manages the server lifecycle, idle bucket sweeping, and health endpoints

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/2389/chat-gateway/internal/admission"
	"github.com/2389/chat-gateway/internal/audit"
	"github.com/2389/chat-gateway/internal/auth"
	"github.com/2389/chat-gateway/internal/backend"
	"github.com/2389/chat-gateway/internal/config"
	"github.com/2389/chat-gateway/internal/conversation"
	"github.com/2389/chat-gateway/internal/cooldown"
	"github.com/2389/chat-gateway/internal/credential"
	"github.com/2389/chat-gateway/internal/metrics"
	"github.com/2389/chat-gateway/internal/store"
	"github.com/2389/chat-gateway/internal/usage"
)

// cooldownCapacity bounds the number of phones tracked by the verification cooldown.
const cooldownCapacity = 100_000

// Gateway serves the chat API.
type Gateway struct {
	config       *config.Config
	store        store.Store
	verifier     *auth.JWTVerifier
	pool         *credential.Pool
	ledger       *usage.Ledger
	orchestrator *conversation.Orchestrator
	governor     *admission.Governor
	cooldown     *cooldown.Cache
	sender       CodeSender
	metrics      *metrics.Metrics
	httpServer   *http.Server
	logger       *slog.Logger
}

// Option customizes a Gateway built by New.
type Option func(*options)

type options struct {
	store    store.Store
	client   backend.Client
	sender   CodeSender
	registry *prometheus.Registry
	now      func() time.Time
}

// WithStore uses s instead of opening the configured database.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithBackend uses c instead of the OpenAI-compatible client.
func WithBackend(c backend.Client) Option {
	return func(o *options) { o.client = c }
}

// WithCodeSender sets how verification codes are delivered. Defaults to LogSender.
func WithCodeSender(s CodeSender) Option {
	return func(o *options) { o.sender = s }
}

// WithRegistry registers metrics on reg instead of the default registerer.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithClock sets the clock used by admission buckets and the cooldown.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// initStore opens the remote libSQL database when a URL is configured and
// the local SQLite file otherwise.
func initStore(cfg *config.Config) (store.Store, error) {
	var s store.Store
	var err error
	if cfg.Database.URL != "" {
		s, err = store.NewRemoteStore(cfg.Database.URL, cfg.Database.AuthToken)
	} else {
		s, err = store.NewSQLiteStore(cfg.Database.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

func newMetrics(cfg *config.Config, reg *prometheus.Registry) *metrics.Metrics {
	switch {
	case reg != nil:
		return metrics.New(reg, reg)
	case cfg.Metrics.Enabled:
		return metrics.New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	default:
		return nil
	}
}

// New creates a Gateway from cfg.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	strategy, err := credential.NewStrategy(cfg.Credentials.Strategy)
	if err != nil {
		return nil, err
	}

	s := o.store
	if s == nil {
		s, err = initStore(cfg)
		if err != nil {
			return nil, err
		}
	}

	m := newMetrics(cfg, o.registry)

	client := o.client
	if client == nil {
		client = backend.NewOpenAI(backend.OpenAIOptions{
			BaseURL: cfg.Backend.BaseURL,
			Timeout: cfg.Backend.Timeout,
			Logger:  logger.With("component", "backend"),
		})
	}

	sender := o.sender
	if sender == nil {
		sender = NewLogSender(logger)
	}

	pool := credential.NewPool(s, strategy, cfg.Site.ChatModels, logger.With("component", "credentials"))
	ledger := usage.NewLedger(s, cfg.Location(), logger.With("component", "usage"), usage.WithMaxDays(cfg.Usage.MaxDays))

	orch := conversation.New(conversation.Deps{
		Store:   s,
		Pool:    pool,
		Ledger:  ledger,
		Client:  client,
		Audit:   audit.NewWordFilter(cfg.Audit.Words),
		Metrics: m,
		Logger:  logger.With("component", "conversation"),
	}, conversation.Settings{
		AuditEnabled:       cfg.Audit.Enabled,
		CustomAuditEnabled: cfg.Audit.CustomEnabled,
		SiteModel:          cfg.Backend.DefaultModel,
		MaxContextTurns:    cfg.Backend.MaxContextTurns,
		FinalizeTimeout:    cfg.Backend.FinalizeTimeout,
	})

	governor := admission.New(admission.Config{
		Chat:         admission.Rule{Max: cfg.Limits.ChatPerHour, Window: time.Hour},
		Auth:         admission.Rule{Max: cfg.Limits.AuthPerMinute, Window: time.Minute},
		Verification: admission.Rule{Max: cfg.Limits.VerificationPerMinute, Window: time.Minute},
	}, admission.WithClock(o.now), admission.WithMetrics(m), admission.WithLogger(logger))

	gw := &Gateway{
		config:       cfg,
		store:        s,
		verifier:     verifier,
		pool:         pool,
		ledger:       ledger,
		orchestrator: orch,
		governor:     governor,
		cooldown:     cooldown.New(cfg.Limits.VerificationCooldown, cooldownCapacity, cooldown.WithClock(o.now)),
		sender:       sender,
		metrics:      m,
		logger:       logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the HTTP handler serving every route.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run serves HTTP and sweeps idle admission buckets until ctx is canceled.
// Returns nil on graceful shutdown, or the first server error.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	grp.Go(func() error {
		return g.governor.Run(gctx, g.config.Limits.SweepInterval)
	})

	grp.Go(func() error {
		<-gctx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		return g.gracefulShutdown()
	})

	return grp.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout,
// since the serving context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "store close", g.store.Close())
	g.cooldown.Close()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

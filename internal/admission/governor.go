// ABOUTME: Per-client-IP token bucket admission control for chat, auth and verification routes
// ABOUTME: Buckets come from golang.org/x/time/rate; only counted outcomes consume a token

package admission

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/2389/chat-gateway/internal/metrics"
)

// Bucket names, also used as metric labels.
const (
	BucketChat         = "chat"
	BucketAuth         = "auth"
	BucketVerification = "verification"
)

// Default rejection messages.
const (
	ChatLimitMessage         = "Too many requests from this IP in one hour, please try again later"
	AuthLimitMessage         = "Too many failed login attempts, please try again later"
	VerificationLimitMessage = "Verification code requested too often, please wait a minute"
)

// Rule is one bucket family: at most Max admissions per Window per key.
// Max 0 disables the limit.
type Rule struct {
	Max    int
	Window time.Duration
}

func (r Rule) limit() rate.Limit {
	return rate.Every(r.Window / time.Duration(r.Max))
}

// Config sets the three bucket families.
type Config struct {
	Chat         Rule
	Auth         Rule
	Verification Rule
	// IdleTTL drops buckets unused for this long on Sweep
	IdleTTL time.Duration
}

// Governor holds the bucket pools.
type Governor struct {
	chat         *pool
	auth         *pool
	verification *pool
	now          func() time.Time
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithMetrics records rejections.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Governor) { g.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Governor) { g.logger = logger }
}

// New creates a Governor.
func New(cfg Config, opts ...Option) *Governor {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 2 * time.Hour
	}
	g := &Governor{
		chat:         newPool(cfg.Chat, cfg.IdleTTL),
		auth:         newPool(cfg.Auth, cfg.IdleTTL),
		verification: newPool(cfg.Verification, cfg.IdleTTL),
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "admission")
	return g
}

// Chat limits general chat traffic. Failed requests are not counted.
func (g *Governor) Chat(next http.Handler) http.Handler {
	return g.limit(BucketChat, g.chat, http.StatusOK, ChatLimitMessage, countSucceeded, next)
}

// Verification limits verification code requests. Failed requests are not
// counted and rejections use 403.
func (g *Governor) Verification(next http.Handler) http.Handler {
	return g.limit(BucketVerification, g.verification, http.StatusForbidden, VerificationLimitMessage, countSucceeded, next)
}

// Auth limits failed authentication attempts. Only requests answered with
// 401 consume a token.
func (g *Governor) Auth(next http.Handler) http.Handler {
	return g.limit(BucketAuth, g.auth, http.StatusOK, AuthLimitMessage, countUnauthorized, next)
}

func countSucceeded(ctx context.Context, ww middleware.WrapResponseWriter) bool {
	return !failed(ctx, ww)
}

func countUnauthorized(_ context.Context, ww middleware.WrapResponseWriter) bool {
	return ww.Status() == http.StatusUnauthorized
}

// limit holds one token while the handler runs and consumes it afterwards
// only when charge reports the outcome should be counted.
func (g *Governor) limit(name string, p *pool, status int, message string, charge func(context.Context, middleware.WrapResponseWriter) bool, next http.Handler) http.Handler {
	if p.rule.Max <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := p.get(clientKey(r), g.now())

		if !b.admit(g.now()) {
			g.reject(w, r, name, status, message)
			return
		}

		ww, ctx := track(w, r)
		defer func() {
			b.settle(g.now(), charge(ctx, ww))
		}()
		next.ServeHTTP(ww, r.WithContext(ctx))
	})
}

func (g *Governor) reject(w http.ResponseWriter, r *http.Request, bucket string, status int, message string) {
	g.metrics.AdmissionRejected(bucket)
	g.logger.Info("request rate limited", "bucket", bucket, "client", clientKey(r), "path", r.URL.Path)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "Fail",
		"message": message,
		"data":    nil,
	})
}

// Sweep drops buckets idle longer than the configured TTL.
// Returns the number of buckets removed.
func (g *Governor) Sweep() int {
	now := g.now()
	return g.chat.sweep(now) + g.auth.sweep(now) + g.verification.sweep(now)
}

// Run sweeps idle buckets every interval until ctx is done.
func (g *Governor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := g.Sweep(); n > 0 {
				g.logger.Debug("swept idle buckets", "removed", n)
			}
		}
	}
}

type bucket struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	pending  int
	lastSeen atomic.Int64
}

// admit holds a token for an in-flight request. Tokens held by other
// in-flight requests on the same key are not available.
func (b *bucket) admit(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limiter.TokensAt(now)-float64(b.pending) < 1 {
		return false
	}
	b.pending++
	return true
}

// settle releases the held token, consuming it when charge is true.
func (b *bucket) settle(now time.Time, charge bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending--
	if charge {
		b.limiter.AllowN(now, 1)
	}
}

type pool struct {
	mu      sync.Mutex
	m       map[string]*bucket
	rule    Rule
	idleTTL time.Duration
}

func newPool(rule Rule, idleTTL time.Duration) *pool {
	return &pool{m: make(map[string]*bucket), rule: rule, idleTTL: idleTTL}
}

func (p *pool) get(key string, now time.Time) *bucket {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.m[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(p.rule.limit(), p.rule.Max)}
		p.m[key] = b
	}
	b.lastSeen.Store(now.UnixNano())
	return b
}

func (p *pool) sweep(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for key, b := range p.m {
		b.mu.Lock()
		busy := b.pending > 0
		b.mu.Unlock()
		if !busy && now.Sub(time.Unix(0, b.lastSeen.Load())) > p.idleTTL {
			delete(p.m, key)
			removed++
		}
	}
	return removed
}

func (p *pool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// clientKey is the client IP. RemoteAddr is already rewritten by RealIP.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type failedKey struct{}

// MarkFailed flags the request as failed so its token is not counted.
// Handlers call it when they answer with a Fail envelope on HTTP 200.
func MarkFailed(ctx context.Context) {
	if flag, ok := ctx.Value(failedKey{}).(*atomic.Bool); ok {
		flag.Store(true)
	}
}

// track wraps w to capture the status and attaches a failure flag to the
// request context. Nested limiters share the outermost flag.
func track(w http.ResponseWriter, r *http.Request) (middleware.WrapResponseWriter, context.Context) {
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	ctx := r.Context()
	if _, ok := ctx.Value(failedKey{}).(*atomic.Bool); !ok {
		ctx = context.WithValue(ctx, failedKey{}, new(atomic.Bool))
	}
	return ww, ctx
}

func failed(ctx context.Context, ww middleware.WrapResponseWriter) bool {
	if ww.Status() >= http.StatusBadRequest {
		return true
	}
	flag, _ := ctx.Value(failedKey{}).(*atomic.Bool)
	return flag != nil && flag.Load()
}

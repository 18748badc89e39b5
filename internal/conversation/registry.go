// ABOUTME: Registry of in-flight exchanges keyed by caller identity
// ABOUTME: Lets an abort request cancel a running exchange and hand it the partial answer

package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrExchangeInProgress is returned when the caller already has a running exchange.
var ErrExchangeInProgress = errors.New("exchange already in progress")

// Partial is the answer text the caller saw before aborting.
type Partial struct {
	Text             string
	BackendMessageID string
	ConversationID   string
}

// exchange is the registry handle of one running exchange.
type exchange struct {
	userID    string
	roomID    int64
	messageID int64
	cancel    context.CancelFunc
	done      chan struct{}

	mu      sync.Mutex
	partial *Partial
}

// abort stores the partial answer and cancels the exchange.
// Only the first abort is kept.
func (e *exchange) abort(p Partial) {
	e.mu.Lock()
	if e.partial == nil {
		e.partial = &p
	}
	e.mu.Unlock()
	e.cancel()
}

func (e *exchange) abortedWith() *Partial {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.partial
}

// Registry tracks at most one exchange per user.
type Registry struct {
	exchanges map[string]*exchange
	mu        sync.Mutex
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		exchanges: make(map[string]*exchange),
		logger:    logger,
	}
}

// register adds a handle for userID.
// Returns ErrExchangeInProgress if the user already has one.
func (r *Registry) register(ex *exchange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.exchanges[ex.userID]; exists {
		return ErrExchangeInProgress
	}
	r.exchanges[ex.userID] = ex
	r.logger.Debug("exchange registered",
		"user_id", ex.userID,
		"room_id", ex.roomID,
		"in_flight", len(r.exchanges),
	)
	return nil
}

// unregister removes ex if it is still the user's current handle.
func (r *Registry) unregister(ex *exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, exists := r.exchanges[ex.userID]; exists && current == ex {
		delete(r.exchanges, ex.userID)
		r.logger.Debug("exchange unregistered",
			"user_id", ex.userID,
			"room_id", ex.roomID,
			"in_flight", len(r.exchanges),
		)
	}
}

func (r *Registry) get(userID string) (*exchange, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ex, ok := r.exchanges[userID]
	return ex, ok
}

// Len returns the number of running exchanges.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.exchanges)
}

// ABOUTME: Reply orchestrator driving one streamed exchange from prompt to persisted answer
// ABOUTME: Record first, then act: the message exists before the backend is called and is finalized exactly once

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chat-gateway/internal/audit"
	"github.com/2389/chat-gateway/internal/backend"
	"github.com/2389/chat-gateway/internal/credential"
	"github.com/2389/chat-gateway/internal/metrics"
	"github.com/2389/chat-gateway/internal/store"
	"github.com/2389/chat-gateway/internal/usage"
)

var (
	// ErrRoomNotFound is returned when the room is missing, deleted or owned by someone else.
	ErrRoomNotFound = errors.New("room not found")

	// ErrContentRejected is returned when the prompt fails the content audit.
	ErrContentRejected = errors.New("content rejected")

	// ErrMessageConflict is returned when the message id is already used in the room.
	ErrMessageConflict = errors.New("message id already used")

	// ErrMessageNotFound is returned when regenerating a message that does not exist.
	ErrMessageNotFound = errors.New("message not found")
)

// State is the lifecycle state of an exchange.
type State string

const (
	StatePending    State = "pending"
	StateSending    State = "sending"
	StateStreaming  State = "streaming"
	StateFinalizing State = "finalizing"
	StateCompleted  State = "completed"
	StateAborted    State = "aborted"
	StateFailed     State = "failed"
)

// Settings is the read-only site configuration the orchestrator consults.
type Settings struct {
	AuditEnabled       bool
	CustomAuditEnabled bool
	// SiteModel is used when the request names no model
	SiteModel       string
	MaxContextTurns int
	FinalizeTimeout time.Duration
}

func (s Settings) auditing() bool {
	return s.AuditEnabled || s.CustomAuditEnabled
}

// Request is one inbound prompt.
type Request struct {
	UserID          string
	Roles           []store.RoleName
	RoomID          int64
	MessageID       int64
	Prompt          string
	Regenerate      bool
	ConversationID  string
	ParentMessageID string
	SystemPrompt    string
	Temperature     float32
	TopP            float32
	Model           string
}

// Outcome is how an exchange ended. Result is set when it completed,
// Answer is what was persisted and Err explains a failure.
type Outcome struct {
	State     State
	MessageID int64
	Result    *backend.Result
	Answer    store.Answer
	Err       error
}

// Orchestrator runs exchanges.
type Orchestrator struct {
	store    store.ConversationStore
	pool     *credential.Pool
	ledger   *usage.Ledger
	client   backend.Client
	audit    audit.Predicate
	registry *Registry
	settings Settings
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Deps groups the orchestrator collaborators. Audit and Metrics may be nil.
type Deps struct {
	Store   store.ConversationStore
	Pool    *credential.Pool
	Ledger  *usage.Ledger
	Client  backend.Client
	Audit   audit.Predicate
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// New creates an Orchestrator.
func New(deps Deps, settings Settings) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if settings.FinalizeTimeout <= 0 {
		settings.FinalizeTimeout = 10 * time.Second
	}
	logger = logger.With("component", "conversation")
	return &Orchestrator{
		store:    deps.Store,
		pool:     deps.Pool,
		ledger:   deps.Ledger,
		client:   deps.Client,
		audit:    deps.Audit,
		registry: NewRegistry(logger),
		settings: settings,
		metrics:  deps.Metrics,
		logger:   logger,
	}
}

// Registry exposes the in-flight exchange registry.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// run is the mutable state of one exchange.
type run struct {
	req       Request
	room      *store.Room
	msg       *store.Message
	breq      backend.Request
	ex        *exchange
	started   time.Time
	state     State
	last      *backend.Chunk
	delivered bool
	result    *backend.Result
	err       error
}

// Process runs one exchange, forwarding every chunk to sink in order.
//
// Errors before the message is recorded (unknown room, rejected content,
// a running exchange, message id conflicts) are returned without an
// Outcome. Once the message is recorded the exchange is always finalized
// and the Outcome describes what was persisted; a failed exchange also
// returns its error.
func (o *Orchestrator) Process(ctx context.Context, req Request, sink func(backend.Chunk)) (*Outcome, error) {
	room, err := o.store.GetRoom(ctx, req.UserID, req.RoomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("loading room: %w", err)
	}

	systemPrompt := req.SystemPrompt
	if room.SystemPrompt != "" {
		systemPrompt = room.SystemPrompt
	}

	if err := o.checkContent(ctx, req); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = o.settings.SiteModel
	}

	exCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ex := &exchange{
		userID:    req.UserID,
		roomID:    req.RoomID,
		messageID: req.MessageID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	if err := o.registry.register(ex); err != nil {
		return nil, err
	}
	defer func() {
		o.registry.unregister(ex)
		close(ex.done)
	}()

	r := &run{req: req, room: room, ex: ex, started: time.Now(), state: StatePending}
	o.metrics.ExchangeStarted()

	r.msg, err = o.loadMessage(ctx, req, store.RequestOptions{
		SystemPrompt: systemPrompt,
		Temperature:  req.Temperature,
		TopP:         req.TopP,
		Model:        model,
	})
	if err != nil {
		o.metrics.ExchangeFinished(string(StateFailed), time.Since(r.started))
		return nil, err
	}

	r.breq = backend.Request{
		Prompt:       req.Prompt,
		SystemPrompt: systemPrompt,
		Temperature:  req.Temperature,
		TopP:         req.TopP,
		Model:        model,
	}
	if req.Regenerate && req.Prompt == "" {
		r.breq.Prompt = r.msg.Prompt
	}

	outcome := o.exchange(exCtx, r, sink)
	return outcome, outcome.Err
}

// checkContent runs the audit predicate for non-admin callers when enabled.
func (o *Orchestrator) checkContent(ctx context.Context, req Request) error {
	if !o.settings.auditing() || o.audit == nil || store.HasAnyRole(req.Roles, []store.RoleName{store.RoleAdmin}) {
		return nil
	}
	sensitive, err := o.audit.Sensitive(ctx, req.Prompt)
	if err != nil {
		return fmt.Errorf("auditing prompt: %w", err)
	}
	if sensitive {
		o.logger.Info("prompt rejected by audit", "user_id", req.UserID, "room_id", req.RoomID)
		return ErrContentRejected
	}
	return nil
}

// loadMessage fetches the message to regenerate or records the new prompt.
func (o *Orchestrator) loadMessage(ctx context.Context, req Request, opts store.RequestOptions) (*store.Message, error) {
	if req.Regenerate {
		msg, err := o.store.GetMessage(ctx, req.UserID, req.RoomID, req.MessageID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("loading message: %w", err)
		}
		return msg, nil
	}

	msg := &store.Message{
		ID:        req.MessageID,
		OwnerID:   req.UserID,
		RoomID:    req.RoomID,
		Prompt:    req.Prompt,
		CreatedAt: time.Now(),
		State:     store.MessageActive,
		Linkage:   store.Linkage{ParentMessageID: req.ParentMessageID},
		Options:   opts,
	}
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrMessageConflict
		}
		return nil, fmt.Errorf("recording message: %w", err)
	}
	o.logger.Debug("prompt recorded", "room_id", req.RoomID, "message_id", req.MessageID)
	return msg, nil
}

// exchange selects credentials, streams the answer and finalizes.
func (o *Orchestrator) exchange(ctx context.Context, r *run, sink func(backend.Chunk)) (outcome *Outcome) {
	defer func() {
		outcome = o.finalize(ctx, r)
	}()

	candidates, err := o.pool.Pick(ctx, r.req.Roles, r.breq.Model)
	if err != nil {
		r.err = err
		return nil
	}

	if err := o.applyContext(ctx, r); err != nil {
		r.err = err
		return nil
	}

	onChunk := func(c backend.Chunk) {
		if !r.delivered {
			o.transition(r, StateStreaming)
		}
		r.delivered = true
		chunk := c
		r.last = &chunk
		if sink != nil {
			sink(c)
		}
	}

	o.transition(r, StateSending)
	for attempt, cred := range candidates {
		r.result, r.err = o.client.Stream(ctx, cred, r.breq, onChunk)
		if r.err == nil {
			return nil
		}
		if attempt > 0 || r.delivered || !errors.Is(r.err, backend.ErrTransport) || ctx.Err() != nil {
			break
		}
		if len(candidates) > 1 {
			o.metrics.BackendRetry()
			o.logger.Warn("backend call failed, retrying with next credential",
				"error", r.err,
				"credential_id", cred.ID,
				"room_id", r.req.RoomID,
			)
		}
	}
	o.metrics.BackendError(errorKind(r.err))
	return nil
}

// applyContext fills the conversation linkage and prior turns.
func (o *Orchestrator) applyContext(ctx context.Context, r *run) error {
	if !r.room.UsingContext {
		r.breq.ConversationID = uuid.New().String()
		return nil
	}

	r.breq.ConversationID = r.req.ConversationID
	if r.breq.ConversationID == "" {
		r.breq.ConversationID = uuid.New().String()
	}
	r.breq.ParentMessageID = r.req.ParentMessageID
	if r.req.ParentMessageID == "" {
		return nil
	}

	turns, err := o.BuildContext(ctx, r.req.UserID, r.req.RoomID, r.req.ParentMessageID)
	if err != nil {
		return err
	}
	r.breq.History = turns
	return nil
}

// BuildContext walks the parent chain from parentBackendID within the owner's
// room and returns the prior turns oldest first, bounded by MaxContextTurns exchanges.
func (o *Orchestrator) BuildContext(ctx context.Context, ownerID string, roomID int64, parentBackendID string) ([]backend.Turn, error) {
	var chain []*store.Message
	seen := make(map[string]bool)
	id := parentBackendID
	for id != "" && len(chain) < o.settings.MaxContextTurns && !seen[id] {
		seen[id] = true
		msg, err := o.store.GetMessageByBackendID(ctx, ownerID, roomID, id)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("loading context: %w", err)
		}
		chain = append(chain, msg)
		id = msg.Linkage.ParentMessageID
	}

	turns := make([]backend.Turn, 0, len(chain)*2)
	for i := len(chain) - 1; i >= 0; i-- {
		turns = append(turns,
			backend.Turn{Role: backend.RoleUser, Content: chain[i].Prompt},
			backend.Turn{Role: backend.RoleAssistant, Content: chain[i].Response},
		)
	}
	return turns, nil
}

// finalize persists what the exchange produced. It runs exactly once per
// recorded message, on a context detached from the caller.
func (o *Orchestrator) finalize(ctx context.Context, r *run) *Outcome {
	o.transition(r, StateFinalizing)

	answer, state, u := o.settle(ctx, r)
	out := &Outcome{State: state, MessageID: r.msg.ID, Result: r.result, Answer: answer}
	if state == StateFailed {
		out.Err = r.err
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.settings.FinalizeTimeout)
	defer cancel()

	var err error
	if r.req.Regenerate && r.msg.Answered() {
		err = o.store.RecordRegeneratedAnswer(saveCtx, r.req.UserID, r.req.RoomID, r.msg.ID, answer)
	} else {
		err = o.store.RecordFreshAnswer(saveCtx, r.req.UserID, r.req.RoomID, r.msg.ID, answer)
	}
	if err != nil {
		o.logger.Error("failed to persist answer",
			"error", err,
			"room_id", r.req.RoomID,
			"message_id", r.msg.ID,
		)
	}

	if u != nil {
		o.recordUsage(saveCtx, r, answer, u)
	}

	o.transition(r, state)
	o.metrics.ExchangeFinished(string(state), time.Since(r.started))
	return out
}

// settle picks the answer to persist: the full result, else the abort
// partial or the last chunk, else the error message.
func (o *Orchestrator) settle(ctx context.Context, r *run) (store.Answer, State, *store.Usage) {
	linkage := store.Linkage{ParentMessageID: r.req.ParentMessageID}

	if r.result != nil {
		linkage.BackendMessageID = r.result.ID
		linkage.BackendConversationID = r.result.ConversationID
		u := r.result.Usage
		if u == nil {
			u = backend.EstimateUsage(r.breq, r.result.Text)
		}
		return store.Answer{Response: r.result.Text, Linkage: linkage, Usage: u}, StateCompleted, u
	}

	if p := r.ex.abortedWith(); p != nil {
		text := p.Text
		linkage.BackendMessageID = p.BackendMessageID
		linkage.BackendConversationID = p.ConversationID
		if text == "" && r.last != nil {
			text = r.last.Text
		}
		if linkage.BackendMessageID == "" && r.last != nil {
			linkage.BackendMessageID = r.last.ID
			linkage.BackendConversationID = r.last.ConversationID
		}
		return o.partialAnswer(r, text, linkage, StateAborted)
	}

	if r.last != nil {
		linkage.BackendMessageID = r.last.ID
		linkage.BackendConversationID = r.last.ConversationID
		state := StateFailed
		if ctx.Err() != nil {
			// Caller went away mid-stream
			state = StateAborted
		}
		return o.partialAnswer(r, r.last.Text, linkage, state)
	}

	text := ""
	if r.err != nil {
		text = r.err.Error()
	}
	state := StateFailed
	if ctx.Err() != nil && r.err != nil && errors.Is(r.err, context.Canceled) {
		state = StateAborted
	}
	return store.Answer{Response: text, Linkage: linkage}, state, nil
}

func (o *Orchestrator) partialAnswer(r *run, text string, linkage store.Linkage, state State) (store.Answer, State, *store.Usage) {
	var u *store.Usage
	if text != "" && r.delivered {
		u = backend.EstimateUsage(r.breq, text)
	}
	return store.Answer{Response: text, Linkage: linkage, Usage: u}, state, u
}

func (o *Orchestrator) recordUsage(ctx context.Context, r *run, answer store.Answer, u *store.Usage) {
	rec := &store.UsageRecord{
		UserID:           r.req.UserID,
		RoomID:           r.req.RoomID,
		MessageID:        r.msg.ID,
		BackendMessageID: answer.Linkage.BackendMessageID,
		Model:            r.breq.Model,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		Estimated:        u.Estimated,
		Timestamp:        time.Now(),
	}
	if err := o.ledger.Record(ctx, rec); err != nil {
		o.logger.Error("failed to record usage",
			"error", err,
			"room_id", r.req.RoomID,
			"message_id", r.msg.ID,
		)
		return
	}
	o.metrics.Tokens(u.PromptTokens, u.CompletionTokens, u.Estimated)
}

func (o *Orchestrator) transition(r *run, next State) {
	o.logger.Debug("exchange state",
		"room_id", r.req.RoomID,
		"message_id", r.req.MessageID,
		"from", r.state,
		"to", next,
	)
	r.state = next
}

// Abort cancels the caller's running exchange and hands it the partial
// answer, then waits for it to finalize. Returns false when the caller has
// no running exchange.
func (o *Orchestrator) Abort(userID string, p Partial) (int64, bool) {
	ex, ok := o.registry.get(userID)
	if !ok {
		return 0, false
	}

	o.logger.Info("aborting exchange", "user_id", userID, "room_id", ex.roomID, "message_id", ex.messageID)
	ex.abort(p)

	select {
	case <-ex.done:
	case <-time.After(o.settings.FinalizeTimeout):
		o.logger.Warn("exchange did not finalize after abort", "user_id", userID, "message_id", ex.messageID)
	}
	return ex.messageID, true
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, backend.ErrTransport):
		return "transport"
	case errors.Is(err, backend.ErrRejected):
		return "rejected"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "other"
	}
}

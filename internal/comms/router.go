package comms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mistakeknot/concord/internal/wire"
)

const (
	// queueCapacity bounds both message queues. A full queue rejects new
	// messages instead of growing without limit.
	queueCapacity = 256

	// expirySweepInterval is how often expired pending messages are purged.
	// Short response windows depend on this cadence, so it stays close to
	// the loop tick rather than a coarse housekeeping interval.
	expirySweepInterval = time.Second

	// sessionPruneInterval is how often idle conversation sessions are
	// dropped; sessions idle past sessionRetention go.
	sessionPruneInterval = time.Minute
	sessionRetention     = 24 * time.Hour
)

var (
	// ErrQueueFull is returned when a message queue is at capacity.
	ErrQueueFull = errors.New("message queue full")

	// ErrResponseTimeout is delivered to waiters whose peer never answered.
	ErrResponseTimeout = errors.New("response timeout")

	// ErrRouterStopped is returned after Stop.
	ErrRouterStopped = errors.New("router stopped")
)

// Handler processes one inbound message and optionally produces a reply.
type Handler func(ctx context.Context, msg wire.Message) (*wire.Message, error)

// pendingRequest is an outbound message awaiting a response.
type pendingRequest struct {
	msg    wire.Message
	ch     chan Response
	expiry time.Time
}

// Response is the outcome delivered to a request waiter: either the peer's
// reply or a timeout error.
type Response struct {
	Message wire.Message
	Err     error
}

// Router interleaves outbound and inbound message processing over bounded
// queues, dispatches inbound messages to type handlers, and tracks requests
// that require a response.
type Router struct {
	log     *slog.Logger
	agentID string
	send    func(ctx context.Context, msg wire.Message) error
	now     func() time.Time

	outbound chan wire.Message
	incoming chan wire.Message

	mu       sync.Mutex
	handlers map[wire.MessageType]Handler
	pending  map[string]*pendingRequest
	stopped  bool

	sessions *sessionLog

	cancel context.CancelFunc
	done   chan struct{}
}

// RouterOption configures a Router.
type RouterOption func(*Router)

func WithRouterLogger(log *slog.Logger) RouterOption {
	return func(r *Router) { r.log = log }
}

func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// NewRouter creates a router. send delivers outbound messages; it is usually
// Manager.Send.
func NewRouter(agentID string, send func(ctx context.Context, msg wire.Message) error, opts ...RouterOption) *Router {
	r := &Router{
		agentID:  agentID,
		send:     send,
		now:      time.Now,
		outbound: make(chan wire.Message, queueCapacity),
		incoming: make(chan wire.Message, queueCapacity),
		handlers: make(map[wire.MessageType]Handler),
		pending:  make(map[string]*pendingRequest),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	r.sessions = newSessionLog(r.now)
	return r
}

// SetSend installs the delivery function. It exists because the router and
// the connection manager reference each other; call it before Start.
func (r *Router) SetSend(send func(ctx context.Context, msg wire.Message) error) {
	r.send = send
}

// Handle registers the handler for one message type. Re-registering a type
// replaces the previous handler.
func (r *Router) Handle(t wire.MessageType, h Handler) {
	r.mu.Lock()
	r.handlers[t] = h
	r.mu.Unlock()
}

// Start launches the routing loop.
func (r *Router) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.run(ctx)
}

// Stop halts the routing loop and fails all pending requests.
func (r *Router) Stop() {
	r.mu.Lock()
	r.stopped = true
	pending := r.pending
	r.pending = make(map[string]*pendingRequest)
	r.mu.Unlock()

	for _, p := range pending {
		p.ch <- Response{Err: ErrRouterStopped}
	}
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

// Enqueue queues a message for delivery. A full queue is an immediate error.
func (r *Router) Enqueue(msg wire.Message) error {
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		return ErrRouterStopped
	}
	select {
	case r.outbound <- msg:
		return nil
	default:
		return fmt.Errorf("outbound: %w", ErrQueueFull)
	}
}

// Request queues a message that requires a response and returns a channel
// that receives exactly one Response: the reply, or ErrResponseTimeout once
// the message's response window lapses.
func (r *Router) Request(msg wire.Message) (<-chan Response, error) {
	if msg.ExpiresAt.IsZero() {
		msg.ExpiresAt = r.now().UTC().Add(wire.DefaultResponseTimeout)
	}
	msg.RequiresResponse = true

	ch := make(chan Response, 1)
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil, ErrRouterStopped
	}
	r.pending[msg.ID] = &pendingRequest{msg: msg, ch: ch, expiry: msg.ExpiresAt}
	r.mu.Unlock()

	if err := r.Enqueue(msg); err != nil {
		r.mu.Lock()
		delete(r.pending, msg.ID)
		r.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

// HandleInbound queues a message received from a peer.
func (r *Router) HandleInbound(msg wire.Message) error {
	select {
	case r.incoming <- msg:
		return nil
	default:
		return fmt.Errorf("incoming: %w", ErrQueueFull)
	}
}

// Session returns the recorded conversation, if any.
func (r *Router) Session(conversationID string) (ConversationSession, bool) {
	return r.sessions.session(conversationID)
}

// CloseSession records a session's terminal status. Reports whether the
// conversation was known.
func (r *Router) CloseSession(conversationID string, status SessionStatus) bool {
	return r.sessions.close(conversationID, status)
}

func (r *Router) run(ctx context.Context) {
	defer close(r.done)
	sweep := time.NewTicker(expirySweepInterval)
	defer sweep.Stop()
	prune := time.NewTicker(sessionPruneInterval)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.outbound:
			r.deliver(ctx, msg)
		case msg := <-r.incoming:
			r.dispatch(ctx, msg)
		case <-sweep.C:
			r.sweepExpired()
		case <-prune.C:
			r.sessions.prune(r.now().UTC().Add(-sessionRetention))
		}
	}
}

func (r *Router) deliver(ctx context.Context, msg wire.Message) {
	if msg.Expired(r.now().UTC()) {
		r.log.Warn("dropping expired outbound message", "id", msg.ID, "type", msg.Type)
		r.failPending(msg.ID, ErrResponseTimeout)
		return
	}
	if r.send == nil {
		r.log.Error("no send function installed, dropping message", "id", msg.ID)
		r.failPending(msg.ID, ErrNotConnected)
		return
	}
	if err := r.send(ctx, msg); err != nil {
		r.log.Error("send failed", "id", msg.ID, "to", msg.ToAgentID, "error", err)
		r.failPending(msg.ID, err)
		return
	}
	r.sessions.append(msg)
}

func (r *Router) dispatch(ctx context.Context, msg wire.Message) {
	r.sessions.append(msg)

	// A reply to a pending request completes the waiter directly.
	if r.completePending(msg) {
		return
	}

	r.mu.Lock()
	handler, ok := r.handlers[msg.Type]
	r.mu.Unlock()

	if !ok {
		r.log.Warn("no handler for message type", "type", msg.Type, "from", msg.FromAgentID)
		if msg.RequiresResponse {
			r.ack(msg)
		}
		return
	}

	reply, err := handler(ctx, msg)
	if err != nil {
		r.log.Error("handler failed", "type", msg.Type, "id", msg.ID, "error", err)
		return
	}
	if reply != nil {
		if err := r.Enqueue(*reply); err != nil {
			r.log.Error("enqueue reply", "id", reply.ID, "error", err)
		}
		return
	}
	if msg.RequiresResponse {
		r.ack(msg)
	}
}

// ack sends the fallback acknowledgement for messages that demanded a
// response but produced none.
func (r *Router) ack(msg wire.Message) {
	ackMsg := wire.New(r.agentID, msg.FromAgentID, wire.TypeHeartbeat,
		map[string]any{"ack": msg.ID},
		wire.WithConversation(msg.ConversationID))
	if err := r.Enqueue(ackMsg); err != nil {
		r.log.Warn("enqueue ack", "for", msg.ID, "error", err)
	}
}

// completePending resolves the pending request this message answers, keyed
// by conversation ID. Returns false when the message is not a reply.
func (r *Router) completePending(msg wire.Message) bool {
	if msg.ConversationID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.pending {
		if p.msg.ConversationID == msg.ConversationID && p.msg.ToAgentID == msg.FromAgentID {
			delete(r.pending, id)
			p.ch <- Response{Message: msg}
			return true
		}
	}
	return false
}

func (r *Router) failPending(msgID string, err error) {
	r.mu.Lock()
	p, ok := r.pending[msgID]
	if ok {
		delete(r.pending, msgID)
	}
	r.mu.Unlock()
	if ok {
		p.ch <- Response{Err: err}
	}
}

// sweepExpired times out pending requests whose response window has lapsed.
func (r *Router) sweepExpired() {
	now := r.now().UTC()
	r.mu.Lock()
	var lapsed []*pendingRequest
	for id, p := range r.pending {
		if p.expiry.Before(now) {
			delete(r.pending, id)
			lapsed = append(lapsed, p)
		}
	}
	r.mu.Unlock()

	for _, p := range lapsed {
		r.log.Warn("request timed out", "id", p.msg.ID, "to", p.msg.ToAgentID, "type", p.msg.Type)
		p.ch <- Response{Err: ErrResponseTimeout}
	}
}

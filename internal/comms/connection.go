// Package comms maintains live connections to peer agents and routes
// messages between them. Connections speak either websocket or plain HTTP;
// the manager heartbeats peers, detects stale links, and reconnects over
// the transport the peer registered with.
package comms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mistakeknot/concord/internal/auth"
	"github.com/mistakeknot/concord/internal/core"
	"github.com/mistakeknot/concord/internal/wire"
)

const (
	// DefaultHeartbeatInterval is how often connected peers are pinged.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultMonitorInterval is how often connection health is checked.
	DefaultMonitorInterval = 60 * time.Second

	// DefaultStaleAfter is the silence threshold before a connection is
	// considered dead and reconnected.
	DefaultStaleAfter = 120 * time.Second

	writeTimeout = 5 * time.Second
)

var (
	ErrNotConnected  = errors.New("agent not connected")
	ErrUnreachable   = errors.New("agent unreachable")
	ErrNoTransport   = errors.New("no shared transport protocol")
	ErrManagerClosed = errors.New("connection manager closed")
)

// ConnState is the lifecycle state of one peer connection.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateError        ConnState = "error"
)

// Connection tracks one peer link.
type Connection struct {
	AgentID      string
	Endpoint     string
	Protocol     core.Protocol
	State        ConnState
	LastActivity time.Time
	ConnectedAt  time.Time

	ws     *websocket.Conn
	cancel context.CancelFunc

	// redial marks connections the monitor may re-establish. Adopted inbound
	// sockets and explicitly disconnected peers stay down.
	redial bool
}

// Manager owns all peer connections for one agent.
type Manager struct {
	log        *slog.Logger
	signer     *auth.Signer
	agentID    string
	capsReply  []core.Capability
	httpClient *http.Client

	// Intervals are fields so tests can shrink them.
	HeartbeatInterval time.Duration
	MonitorInterval   time.Duration
	StaleAfter        time.Duration

	now func() time.Time

	mu     sync.Mutex
	conns  map[string]*Connection
	closed bool

	inbound func(wire.Message)

	done   chan struct{}
	cancel context.CancelFunc
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithManagerLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// WithCapabilities sets the capability list advertised in handshakes.
func WithCapabilities(caps []core.Capability) ManagerOption {
	return func(m *Manager) { m.capsReply = caps }
}

func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) { m.httpClient = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a connection manager for agentID. inbound receives every
// message read from a peer; it must not block.
func NewManager(agentID string, signer *auth.Signer, inbound func(wire.Message), opts ...ManagerOption) *Manager {
	m := &Manager{
		agentID:           agentID,
		signer:            signer,
		inbound:           inbound,
		httpClient:        &http.Client{Timeout: 10 * time.Second},
		HeartbeatInterval: DefaultHeartbeatInterval,
		MonitorInterval:   DefaultMonitorInterval,
		StaleAfter:        DefaultStaleAfter,
		now:               time.Now,
		conns:             make(map[string]*Connection),
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.inbound == nil {
		m.inbound = func(wire.Message) {}
	}
	return m
}

// Start launches the heartbeat and health-monitor loops.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.heartbeatLoop(ctx)
	go m.monitorLoop(ctx)
}

// Stop closes every connection and halts the background loops.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.closed = true
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	for _, c := range conns {
		m.closeConn(c, "manager stopping")
	}
}

// Connect establishes a link to the peer. Connecting to an already-connected
// agent is a no-op.
func (m *Manager) Connect(ctx context.Context, peer core.AgentIdentity) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if existing, ok := m.conns[peer.AgentID]; ok && existing.State == StateConnected {
		m.mu.Unlock()
		return nil
	}
	conn := &Connection{
		AgentID:  peer.AgentID,
		Endpoint: peer.Endpoint,
		Protocol: pickProtocol(peer.Protocols),
		State:    StateConnecting,
		redial:   true,
	}
	if conn.Protocol == "" {
		m.mu.Unlock()
		return fmt.Errorf("connect %s: %w", peer.AgentID, ErrNoTransport)
	}
	m.conns[peer.AgentID] = conn
	m.mu.Unlock()

	if err := m.dial(ctx, conn); err != nil {
		m.setState(conn, StateError)
		return err
	}
	m.setState(conn, StateConnected)

	// Announce ourselves so the peer can reply with its capabilities.
	handshake := wire.New(m.agentID, peer.AgentID, wire.TypeHandshake, map[string]any{
		"agent_id":     m.agentID,
		"capabilities": m.capsReply,
	})
	if err := m.Send(ctx, handshake); err != nil {
		m.log.Warn("handshake send failed", "peer", peer.AgentID, "error", err)
	}
	m.log.Info("connected to agent", "peer", peer.AgentID, "protocol", conn.Protocol)
	return nil
}

func pickProtocol(protocols []core.Protocol) core.Protocol {
	var hasHTTP bool
	for _, p := range protocols {
		switch p {
		case core.ProtocolWebSocket:
			return core.ProtocolWebSocket
		case core.ProtocolHTTP:
			hasHTTP = true
		}
	}
	if hasHTTP {
		return core.ProtocolHTTP
	}
	return ""
}

func (m *Manager) dial(ctx context.Context, conn *Connection) error {
	switch conn.Protocol {
	case core.ProtocolWebSocket:
		return m.dialWebsocket(ctx, conn)
	case core.ProtocolHTTP:
		return m.probeHTTP(ctx, conn)
	default:
		return ErrNoTransport
	}
}

func (m *Manager) dialWebsocket(ctx context.Context, conn *Connection) error {
	wsURL := websocketURL(conn.Endpoint)
	ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: m.authHeaders(conn.AgentID),
	})
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", conn.AgentID, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	conn.ws = ws
	conn.cancel = cancel
	conn.ConnectedAt = m.now().UTC()
	conn.LastActivity = conn.ConnectedAt
	m.mu.Unlock()

	go m.readLoop(readCtx, conn, ws)
	return nil
}

func (m *Manager) probeHTTP(ctx context.Context, conn *Connection) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(conn.Endpoint, "/")+"/agents/ping", nil)
	if err != nil {
		return fmt.Errorf("ping request: %w", err)
	}
	req.Header = m.authHeaders(conn.AgentID)
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping %s: %w", conn.AgentID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping %s: status %d: %w", conn.AgentID, resp.StatusCode, ErrUnreachable)
	}
	m.mu.Lock()
	conn.ConnectedAt = m.now().UTC()
	conn.LastActivity = conn.ConnectedAt
	m.mu.Unlock()
	return nil
}

func websocketURL(endpoint string) string {
	u := strings.TrimRight(endpoint, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/agents"
}

func (m *Manager) authHeaders(target string) http.Header {
	h := make(http.Header)
	ts := m.now().UTC().Format(time.RFC3339)
	h.Set(auth.HeaderAgentID, m.agentID)
	h.Set(auth.HeaderTimestamp, ts)
	h.Set(auth.HeaderSignature, m.signer.Signature(m.agentID, ts))
	if token, err := m.signer.Mint(target); err == nil {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// readLoop drains inbound frames from one websocket until it fails.
func (m *Manager) readLoop(ctx context.Context, conn *Connection, ws *websocket.Conn) {
	for {
		var msg wire.Message
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			m.setState(conn, StateDisconnected)
			return
		}
		m.touch(conn)
		m.inbound(msg)
	}
}

// Send delivers one message to its recipient. The peer must already be
// connected: delivery never dials implicitly, so a dropped link surfaces as
// an error instead of hidden latency.
func (m *Manager) Send(ctx context.Context, msg wire.Message) error {
	m.mu.Lock()
	conn, ok := m.conns[msg.ToAgentID]
	if !ok || conn.State != StateConnected && conn.State != StateConnecting {
		m.mu.Unlock()
		return fmt.Errorf("send to %s: %w", msg.ToAgentID, ErrNotConnected)
	}
	ws := conn.ws
	protocol := conn.Protocol
	endpoint := conn.Endpoint
	m.mu.Unlock()

	var err error
	switch protocol {
	case core.ProtocolWebSocket:
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err = wsjson.Write(wctx, ws, msg)
		cancel()
	case core.ProtocolHTTP:
		err = m.postMessage(ctx, endpoint, msg)
	default:
		err = ErrNoTransport
	}
	if err != nil {
		m.setState(conn, StateError)
		return fmt.Errorf("send to %s: %w", msg.ToAgentID, err)
	}
	m.touch(conn)
	return nil
}

func (m *Manager) postMessage(ctx context.Context, endpoint string, msg wire.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(endpoint, "/")+"/agents/message", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("message request: %w", err)
	}
	req.Header = m.authHeaders(msg.ToAgentID)
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %w", resp.StatusCode, ErrUnreachable)
	}
	return nil
}

// Adopt registers an inbound websocket accepted by the gateway so outbound
// sends to that peer reuse it. The caller keeps reading the socket.
func (m *Manager) Adopt(agentID string, ws *websocket.Conn) {
	now := m.now().UTC()
	m.mu.Lock()
	m.conns[agentID] = &Connection{
		AgentID:      agentID,
		Protocol:     core.ProtocolWebSocket,
		State:        StateConnected,
		ConnectedAt:  now,
		LastActivity: now,
		ws:           ws,
	}
	m.mu.Unlock()
}

// Touch records peer activity observed outside the manager's own read loop.
// Inbound traffic proves the link works, so a peer parked in error comes back
// to connected when its transport can still carry a send.
func (m *Manager) Touch(agentID string) {
	m.mu.Lock()
	if conn, ok := m.conns[agentID]; ok {
		m.markActive(conn)
	}
	m.mu.Unlock()
}

// markActive must be called with m.mu held.
func (m *Manager) markActive(conn *Connection) {
	conn.LastActivity = m.now().UTC()
	if conn.State != StateConnected && (conn.Protocol == core.ProtocolHTTP || conn.ws != nil) {
		conn.State = StateConnected
	}
}

// Disconnect closes the link to one agent and keeps it down: the monitor
// does not redial explicitly disconnected peers.
func (m *Manager) Disconnect(agentID string) {
	m.mu.Lock()
	conn, ok := m.conns[agentID]
	if ok {
		conn.redial = false
	}
	m.mu.Unlock()
	if ok {
		m.closeConn(conn, "disconnect requested")
	}
}

// State reports the connection state for an agent.
func (m *Manager) State(agentID string) ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[agentID]; ok {
		return conn.State
	}
	return StateDisconnected
}

// Connected lists agents with a live connection.
func (m *Manager) Connected() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, conn := range m.conns {
		if conn.State == StateConnected {
			out = append(out, id)
		}
	}
	return out
}

func (m *Manager) setState(conn *Connection, state ConnState) {
	m.mu.Lock()
	conn.State = state
	m.mu.Unlock()
}

func (m *Manager) touch(conn *Connection) {
	m.mu.Lock()
	m.markActive(conn)
	m.mu.Unlock()
}

func (m *Manager) closeConn(conn *Connection, reason string) {
	m.mu.Lock()
	ws := conn.ws
	cancel := conn.cancel
	conn.ws = nil
	conn.cancel = nil
	conn.State = StateDisconnected
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		ws.Close(websocket.StatusNormalClosure, reason)
	}
}

func (m *Manager) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(m.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range m.Connected() {
				hb := wire.New(m.agentID, id, wire.TypeHeartbeat, map[string]any{
					"timestamp": m.now().UTC().Format(time.RFC3339),
				})
				if err := m.Send(ctx, hb); err != nil {
					m.log.Debug("heartbeat failed", "peer", id, "error", err)
				}
			}
		}
	}
}

func (m *Manager) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(m.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepStale(ctx)
		}
	}
}

// sweepStale disconnects peers that have been silent too long, then redials
// every downed connection over its original transport. Errored and
// disconnected peers are retried each cycle until they come back or are
// explicitly disconnected.
func (m *Manager) sweepStale(ctx context.Context) {
	cutoff := m.now().UTC().Add(-m.StaleAfter)

	m.mu.Lock()
	var stale, down []*Connection
	for _, conn := range m.conns {
		switch {
		case conn.State == StateConnected && conn.LastActivity.Before(cutoff):
			stale = append(stale, conn)
			if conn.redial {
				down = append(down, conn)
			}
		case (conn.State == StateError || conn.State == StateDisconnected) && conn.redial:
			down = append(down, conn)
		}
	}
	m.mu.Unlock()

	for _, conn := range stale {
		m.log.Warn("connection stale", "peer", conn.AgentID)
		m.closeConn(conn, "stale connection")
	}
	for _, conn := range down {
		m.closeConn(conn, "reconnecting")
		m.setState(conn, StateConnecting)
		if err := m.dial(ctx, conn); err != nil {
			m.log.Warn("reconnect failed", "peer", conn.AgentID, "error", err)
			m.setState(conn, StateError)
			continue
		}
		m.setState(conn, StateConnected)
		m.log.Info("reconnected to agent", "peer", conn.AgentID, "protocol", conn.Protocol)
	}
}

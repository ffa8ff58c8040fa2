package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mistakeknot/concord/internal/auth"
	"github.com/mistakeknot/concord/internal/wire"
)

// MessageHandler is called for each wire frame received from the agent.
type MessageHandler func(msg wire.Message)

// WSClient holds a live websocket channel to an agent.
type WSClient struct {
	baseURL   string
	agentID   string
	secret    string
	reconnect bool

	mu       sync.RWMutex
	conn     *websocket.Conn
	handlers []MessageHandler
	done     chan struct{}
}

// WSOption configures the websocket client.
type WSOption func(*WSClient)

// WithWSCredentials authenticates the socket as agentID.
func WithWSCredentials(agentID, secret string) WSOption {
	return func(c *WSClient) {
		c.agentID = agentID
		c.secret = secret
	}
}

// WithAutoReconnect re-dials after a dropped connection.
func WithAutoReconnect(enabled bool) WSOption {
	return func(c *WSClient) { c.reconnect = enabled }
}

// NewWSClient creates a websocket client for an agent's /ws/agents channel.
func NewWSClient(baseURL string, opts ...WSOption) *WSClient {
	c := &WSClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnMessage registers a frame handler.
func (c *WSClient) OnMessage(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Connect dials the agent and starts reading frames.
func (c *WSClient) Connect(ctx context.Context) error {
	wsURL := c.baseURL + "/ws/agents"
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	opts := &websocket.DialOptions{}
	if c.agentID != "" {
		signer := auth.NewSigner(c.agentID, []byte(c.secret))
		ts := time.Now().UTC().Format(time.RFC3339)
		header := http.Header{}
		header.Set(auth.HeaderAgentID, c.agentID)
		header.Set(auth.HeaderTimestamp, ts)
		header.Set(auth.HeaderSignature, signer.Signature(c.agentID, ts))
		if token, err := signer.Mint(""); err == nil {
			header.Set("Authorization", "Bearer "+token)
		}
		opts.HTTPHeader = header
	}

	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(ctx)
	return nil
}

// Send writes one frame to the agent.
func (c *WSClient) Send(ctx context.Context, msg wire.Message) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return wsjson.Write(ctx, conn, msg)
}

// Close shuts the channel down.
func (c *WSClient) Close() error {
	close(c.done)
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	return nil
}

func (c *WSClient) readLoop(ctx context.Context) {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		var msg wire.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if !c.reconnect {
				return
			}
			if !c.redial(ctx) {
				return
			}
			continue
		}

		c.mu.RLock()
		handlers := make([]MessageHandler, len(c.handlers))
		copy(handlers, c.handlers)
		c.mu.RUnlock()
		for _, h := range handlers {
			h(msg)
		}
	}
}

// redial retries the connection with backoff until it succeeds or the
// client closes.
func (c *WSClient) redial(ctx context.Context) bool {
	backoff := time.Second
	for {
		select {
		case <-c.done:
			return false
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if err := c.Connect(ctx); err == nil {
			return true
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

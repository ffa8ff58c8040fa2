// Package registry talks to the shared agent registry: registration,
// capability discovery, heartbeats, and direct proposal delivery to peers
// found through it. With no registry configured the client degrades to
// standalone mode where every call is a cheap no-op.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mistakeknot/concord/internal/auth"
	"github.com/mistakeknot/concord/internal/core"
	"github.com/mistakeknot/concord/internal/storage"
)

const (
	// DefaultHeartbeatInterval is how often the registry is told we are
	// alive.
	DefaultHeartbeatInterval = 30 * time.Second

	// heartbeatFailureWait is the pause after a failed heartbeat before
	// trying again.
	heartbeatFailureWait = 60 * time.Second

	breakerThreshold  = 5
	breakerResetAfter = 30 * time.Second
)

// DiscoveryQuery filters the registry's agent listing.
type DiscoveryQuery struct {
	Capabilities []core.Capability `json:"capabilities,omitempty"`
	UserID       string            `json:"user_id,omitempty"`
}

// Client is the registry client for one agent.
type Client struct {
	log        *slog.Logger
	url        string
	self       core.AgentIdentity
	signer     *auth.Signer
	store      storage.Store
	httpClient *http.Client
	breaker    *breaker

	HeartbeatInterval time.Duration

	mu    sync.Mutex
	cache map[string]core.AgentIdentity
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// WithStore persists proposals sent through the registry.
func WithStore(store storage.Store) ClientOption {
	return func(c *Client) { c.store = store }
}

// NewClient creates a registry client. An empty url selects standalone mode.
func NewClient(url string, self core.AgentIdentity, signer *auth.Signer, opts ...ClientOption) *Client {
	c := &Client{
		url:               strings.TrimRight(url, "/"),
		self:              self,
		signer:            signer,
		httpClient:        &http.Client{Timeout: 10 * time.Second},
		breaker:           newBreaker(breakerThreshold, breakerResetAfter),
		HeartbeatInterval: DefaultHeartbeatInterval,
		cache:             make(map[string]core.AgentIdentity),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// Standalone reports whether no registry is configured.
func (c *Client) Standalone() bool {
	return c.url == ""
}

// Register announces this agent to the registry.
func (c *Client) Register(ctx context.Context) error {
	if c.Standalone() {
		c.log.Info("no registry configured, running standalone")
		return nil
	}
	return c.breaker.execute(func() error {
		return c.post(ctx, c.url+"/agents/register", c.self, nil)
	})
}

// Discover queries the registry for peers matching the filter. Results are
// restricted to online agents carrying every requested capability, the
// local agent excluded, and the peer cache is refreshed from them.
func (c *Client) Discover(ctx context.Context, query DiscoveryQuery) ([]core.AgentIdentity, error) {
	if c.Standalone() {
		return nil, nil
	}
	var listing struct {
		Agents []core.AgentIdentity `json:"agents"`
	}
	err := c.breaker.execute(func() error {
		return c.post(ctx, c.url+"/agents/discover", query, &listing)
	})
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}

	var matched []core.AgentIdentity
	c.mu.Lock()
	for _, agent := range listing.Agents {
		if agent.AgentID == c.self.AgentID {
			continue
		}
		c.cache[agent.AgentID] = agent
		if agent.Status != core.StatusOnline {
			continue
		}
		if !agent.HasCapabilities(query.Capabilities) {
			continue
		}
		if query.UserID != "" && !agent.ServesUser(query.UserID) {
			continue
		}
		matched = append(matched, agent)
	}
	c.mu.Unlock()

	c.log.Debug("discovered agents", "matched", len(matched), "total", len(listing.Agents))
	return matched, nil
}

// FindByUser locates the agent serving a user, trying the cache before the
// registry. The identifier may be a user ID, email, or display name.
func (c *Client) FindByUser(ctx context.Context, identifier string) (core.AgentIdentity, bool, error) {
	c.mu.Lock()
	for _, agent := range c.cache {
		if agent.Status == core.StatusOnline && agent.ServesUser(identifier) {
			c.mu.Unlock()
			return agent, true, nil
		}
	}
	c.mu.Unlock()

	agents, err := c.Discover(ctx, DiscoveryQuery{UserID: identifier})
	if err != nil {
		return core.AgentIdentity{}, false, err
	}
	for _, agent := range agents {
		if agent.ServesUser(identifier) {
			return agent, true, nil
		}
	}
	return core.AgentIdentity{}, false, nil
}

// SendProposal delivers a scheduling proposal straight to the peer agent's
// endpoint, locating it through the cache or the registry. The proposal is
// persisted as pending before the network attempt so a crash cannot lose it.
func (c *Client) SendProposal(ctx context.Context, toAgentID string, p core.SchedulingProposal) (string, error) {
	c.mu.Lock()
	target, ok := c.cache[toAgentID]
	c.mu.Unlock()
	if !ok {
		if _, err := c.Discover(ctx, DiscoveryQuery{}); err != nil {
			return "", err
		}
		c.mu.Lock()
		target, ok = c.cache[toAgentID]
		c.mu.Unlock()
		if !ok {
			return "", fmt.Errorf("send proposal: agent %s not found", toAgentID)
		}
	}

	if p.ProposalID == "" {
		p.ProposalID = uuid.NewString()
	}
	p.FromAgentID = c.self.AgentID
	p.ToAgentID = toAgentID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	if c.store != nil {
		if err := c.store.SaveProposal(p, core.ProposalReceived); err != nil {
			return "", fmt.Errorf("persist proposal: %w", err)
		}
	}

	url := strings.TrimRight(target.Endpoint, "/") + "/scheduling/proposal"
	if err := c.post(ctx, url, p, nil); err != nil {
		return "", fmt.Errorf("send proposal to %s: %w", toAgentID, err)
	}
	c.log.Info("proposal sent", "to", toAgentID, "proposal", p.ProposalID)
	return p.ProposalID, nil
}

// RecordResponse updates the stored status of a proposal we sent.
func (c *Client) RecordResponse(resp core.ProposalResponse) error {
	if c.store == nil {
		return nil
	}
	return c.store.UpdateProposalStatus(resp.ProposalID, resp.Status)
}

// UpdateStatus pushes an availability change to the registry.
func (c *Client) UpdateStatus(ctx context.Context, status core.AgentStatus) error {
	c.mu.Lock()
	c.self.Status = status
	body := map[string]string{
		"agent_id": c.self.AgentID,
		"status":   string(status),
	}
	c.mu.Unlock()

	if c.Standalone() {
		return nil
	}
	return c.breaker.execute(func() error {
		return c.post(ctx, c.url+"/agents/status", body, nil)
	})
}

// Peer returns a cached agent identity.
func (c *Client) Peer(agentID string) (core.AgentIdentity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	agent, ok := c.cache[agentID]
	return agent, ok
}

// RunHeartbeat reports liveness to the registry until the context ends.
// Failures back off for a full minute so a dead registry is not hammered.
func (c *Client) RunHeartbeat(ctx context.Context) {
	if c.Standalone() {
		return
	}
	for {
		wait := c.HeartbeatInterval
		err := c.breaker.execute(func() error {
			return c.post(ctx, c.url+"/agents/heartbeat", map[string]string{
				"agent_id": c.self.AgentID,
			}, nil)
		})
		if err != nil {
			c.log.Warn("registry heartbeat failed", "error", err)
			wait = heartbeatFailureWait
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (c *Client) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.signer != nil {
		ts := time.Now().UTC().Format(time.RFC3339)
		req.Header.Set(auth.HeaderAgentID, c.self.AgentID)
		req.Header.Set(auth.HeaderTimestamp, ts)
		req.Header.Set(auth.HeaderSignature, c.signer.Signature(c.self.AgentID, ts))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

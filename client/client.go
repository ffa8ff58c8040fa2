// Package client provides a Go client for a concord scheduling agent.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mistakeknot/concord/internal/auth"
	"github.com/mistakeknot/concord/internal/core"
	"github.com/mistakeknot/concord/internal/wire"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
	AgentID string

	signer *auth.Signer
}

type Option func(*Client)

// WithAgentCredentials authenticates requests as agentID using the shared
// secret. Without credentials the client relies on the server's localhost
// escape hatch.
func WithAgentCredentials(agentID, secret string) Option {
	return func(c *Client) {
		c.AgentID = strings.TrimSpace(agentID)
		c.signer = auth.NewSigner(c.AgentID, []byte(secret))
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.HTTP = httpClient
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health reports the agent's liveness.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Capabilities lists what the agent can do.
func (c *Client) Capabilities(ctx context.Context) ([]core.Capability, error) {
	var out struct {
		Capabilities []core.Capability `json:"capabilities"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/agents/capabilities", nil, &out); err != nil {
		return nil, err
	}
	return out.Capabilities, nil
}

// Discover asks the agent to look up peers in its registry.
func (c *Client) Discover(ctx context.Context, capabilities []core.Capability, userID string) ([]core.AgentIdentity, error) {
	req := map[string]any{}
	if len(capabilities) > 0 {
		req["capabilities"] = capabilities
	}
	if userID != "" {
		req["user_id"] = userID
	}
	var out struct {
		Agents []core.AgentIdentity `json:"agents"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/agents/discover", req, &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// SendProposal submits a scheduling proposal to the agent.
func (c *Client) SendProposal(ctx context.Context, p core.SchedulingProposal) (string, error) {
	var out struct {
		ProposalID string `json:"proposal_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/agents/proposal", p, &out); err != nil {
		return "", err
	}
	return out.ProposalID, nil
}

// RespondProposal settles a pending proposal.
func (c *Client) RespondProposal(ctx context.Context, proposalID string, status core.ProposalStatus, times []core.AvailabilitySlot, reason string) (core.ProposalResponse, error) {
	req := map[string]any{
		"status": status,
		"reason": reason,
	}
	if len(times) > 0 {
		req["available_times"] = times
	}
	var out core.ProposalResponse
	path := fmt.Sprintf("/api/agents/proposal/%s/respond", proposalID)
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return core.ProposalResponse{}, err
	}
	return out, nil
}

// UpdateStatus changes the agent's advertised availability.
func (c *Client) UpdateStatus(ctx context.Context, status core.AgentStatus) error {
	return c.do(ctx, http.MethodPut, "/api/agents/status",
		map[string]string{"status": string(status)}, nil)
}

// AgentStatus fetches the availability of an agent by ID.
func (c *Client) AgentStatus(ctx context.Context, agentID string) (core.AgentStatus, error) {
	var out struct {
		Status core.AgentStatus `json:"status"`
	}
	path := fmt.Sprintf("/api/agents/%s/status", agentID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// CreateSession opens a collaboration session with a peer agent and returns
// the conversation ID.
func (c *Client) CreateSession(ctx context.Context, peerAgentID, topic string) (string, error) {
	var out struct {
		ConversationID string `json:"conversation_id"`
	}
	err := c.do(ctx, http.MethodPost, "/api/collaboration/sessions", map[string]string{
		"peer_agent_id": peerAgentID,
		"topic":         topic,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.ConversationID, nil
}

// SendMessage posts a wire frame to the agent's HTTP transport intake.
func (c *Client) SendMessage(ctx context.Context, msg wire.Message) error {
	return c.do(ctx, http.MethodPost, "/agents/message", msg, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.sign(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// sign attaches the bearer token and header triple when credentials are
// configured.
func (c *Client) sign(req *http.Request) {
	if c.signer == nil {
		return
	}
	ts := time.Now().UTC().Format(time.RFC3339)
	req.Header.Set(auth.HeaderAgentID, c.AgentID)
	req.Header.Set(auth.HeaderTimestamp, ts)
	req.Header.Set(auth.HeaderSignature, c.signer.Signature(c.AgentID, ts))
	if token, err := c.signer.Mint(""); err == nil {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// Package memory records scheduling interactions in an external memory
// service for later recall. Writes are best-effort: a missing or failing
// service only costs history, never a scheduling decision.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Interaction is one scheduling exchange worth remembering.
type Interaction struct {
	AgentID   string         `json:"agent_id"`
	PeerID    string         `json:"peer_id,omitempty"`
	Kind      string         `json:"kind"` // proposal, response, confirmation
	Summary   string         `json:"summary"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Store records and recalls interactions.
type Store interface {
	StoreInteraction(ctx context.Context, it Interaction) error
	Search(ctx context.Context, query string, limit int) ([]Interaction, error)
}

// HTTPStore talks to a remote memory service.
type HTTPStore struct {
	log        *slog.Logger
	url        string
	httpClient *http.Client
}

func NewHTTPStore(url string, log *slog.Logger) *HTTPStore {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPStore{
		log:        log,
		url:        strings.TrimRight(url, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *HTTPStore) StoreInteraction(ctx context.Context, it Interaction) error {
	if it.Timestamp.IsZero() {
		it.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("encode interaction: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/memories", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.log.Warn("memory service unreachable, interaction dropped", "error", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.log.Warn("memory service rejected interaction", "status", resp.StatusCode)
	}
	return nil
}

func (s *HTTPStore) Search(ctx context.Context, query string, limit int) ([]Interaction, error) {
	if limit <= 0 {
		limit = 10
	}
	url := fmt.Sprintf("%s/memories/search?q=%s&limit=%d", s.url, query, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.log.Warn("memory service unreachable, search skipped", "error", err)
		return nil, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	var out []Interaction
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode memories: %w", err)
	}
	return out, nil
}

// Null discards every interaction. Used when no memory service is
// configured.
type Null struct{}

func (Null) StoreInteraction(context.Context, Interaction) error { return nil }

func (Null) Search(context.Context, string, int) ([]Interaction, error) { return nil, nil }

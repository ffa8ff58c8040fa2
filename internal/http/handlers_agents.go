package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/mistakeknot/concord/internal/core"
	"github.com/mistakeknot/concord/internal/registry"
	"github.com/mistakeknot/concord/internal/wire"
)

func (s *Service) handlePing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"agent_id": s.self.AgentID,
		"status":   string(s.self.Status),
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"agent_id":       s.self.AgentID,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

func (s *Service) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":     s.self.AgentID,
		"capabilities": s.self.Capabilities,
		"protocols":    s.self.Protocols,
		"version":      s.self.Version,
	})
}

// handleMessage is the HTTP transport intake: peers without a websocket POST
// wire frames here.
func (s *Service) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var msg wire.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "malformed message frame")
		return
	}
	if err := msg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// A frame over HTTP is proof of life for that peer's connection.
	if s.manager != nil {
		s.manager.Touch(msg.FromAgentID)
	}
	if s.router == nil {
		writeError(w, http.StatusServiceUnavailable, "message routing not available")
		return
	}
	if err := s.router.HandleInbound(msg); err != nil {
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": msg.ID, "status": "queued"})
}

func (s *Service) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.registry == nil {
		writeJSON(w, http.StatusOK, map[string]any{"agents": []core.AgentIdentity{}})
		return
	}
	var query registry.DiscoveryQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		writeError(w, http.StatusBadRequest, "malformed discovery query")
		return
	}
	agents, err := s.registry.Discover(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if agents == nil {
		agents = []core.AgentIdentity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Service) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Status core.AgentStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	s.self.Status = req.Status
	if s.registry != nil {
		if err := s.registry.UpdateStatus(r.Context(), req.Status); err != nil {
			s.log.Warn("registry status update failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"agent_id": s.self.AgentID,
		"status":   string(req.Status),
	})
}

// handleAgentStatus serves GET /api/agents/{id}/status.
func (s *Service) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	if !strings.HasSuffix(path, "/status") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id := strings.Trim(strings.TrimSuffix(path, "/status"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "agent id required")
		return
	}
	if id == s.self.AgentID {
		writeJSON(w, http.StatusOK, map[string]string{
			"agent_id": id,
			"status":   string(s.self.Status),
		})
		return
	}
	if s.registry != nil {
		if peer, ok := s.registry.Peer(id); ok {
			writeJSON(w, http.StatusOK, map[string]string{
				"agent_id": id,
				"status":   string(peer.Status),
			})
			return
		}
	}
	writeError(w, http.StatusNotFound, "agent not found")
}

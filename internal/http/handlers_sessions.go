package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/mistakeknot/concord/internal/wire"
)

// handleCreateSession starts a collaboration session: it opens a
// conversation and sends the bootstrap handshake to the peer agent.
func (s *Service) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		PeerAgentID string `json:"peer_agent_id"`
		Topic       string `json:"topic,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PeerAgentID == "" {
		writeError(w, http.StatusBadRequest, "peer_agent_id required")
		return
	}
	if s.router == nil {
		writeError(w, http.StatusServiceUnavailable, "message routing not available")
		return
	}

	conversationID := uuid.NewString()
	msg := wire.New(s.self.AgentID, req.PeerAgentID, wire.TypeHandshake, map[string]any{
		"action": "conversation_start",
		"topic":  req.Topic,
	}, wire.WithConversation(conversationID))

	if err := s.router.Enqueue(msg); err != nil {
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	s.log.Info("collaboration session opened", "conversation", conversationID, "peer", req.PeerAgentID)
	writeJSON(w, http.StatusCreated, map[string]string{
		"conversation_id": conversationID,
		"peer_agent_id":   req.PeerAgentID,
	})
}

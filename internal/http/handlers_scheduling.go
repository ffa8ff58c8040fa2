package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mistakeknot/concord/internal/core"
	"github.com/mistakeknot/concord/internal/memory"
	"github.com/mistakeknot/concord/internal/storage"
)

// handleProposal receives a scheduling proposal from a peer. The proposal is
// persisted and acknowledged immediately; evaluation against the local
// calendar runs in the background and the verdict travels back over the
// message channel or a later respond call.
func (s *Service) handleProposal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var p core.SchedulingProposal
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "malformed proposal")
		return
	}
	if p.FromAgentID == "" || len(p.ProposedTimes) == 0 {
		writeError(w, http.StatusBadRequest, "from_agent_id and proposed_times required")
		return
	}
	if p.ProposalID == "" {
		p.ProposalID = uuid.NewString()
	}
	if p.ToAgentID == "" {
		p.ToAgentID = s.self.AgentID
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.DurationMinutes <= 0 {
		p.DurationMinutes = 30
	}

	if err := s.store.SaveProposal(p, core.ProposalReceived); err != nil {
		writeError(w, http.StatusInternalServerError, "persist proposal failed")
		return
	}
	s.log.Info("proposal received", "proposal", p.ProposalID, "from", p.FromAgentID)

	go s.evaluateProposal(p)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"proposal_id": p.ProposalID,
		"status":      string(core.ProposalReceived),
	})
}

// evaluateProposal checks each proposed time against the local calendar and
// saves the workable subset back onto the stored proposal. When nothing
// works, the first busy slot gets a conflict analysis so a respond call can
// counter with the resolution options.
func (s *Service) evaluateProposal(p core.SchedulingProposal) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var workable []core.AvailabilitySlot
	var busy *core.AvailabilitySlot
	for _, slot := range p.ProposedTimes {
		if slot.Validate() != nil {
			continue
		}
		free, err := s.calendar.CheckAvailability(ctx, s.self.UserID, slot.Start, slot.End)
		if err != nil {
			s.log.Warn("availability check failed", "proposal", p.ProposalID, "error", err)
			continue
		}
		if free {
			workable = append(workable, slot)
		} else if busy == nil {
			blocked := slot
			busy = &blocked
		}
	}

	// Re-save under the current status so a respond call that already
	// settled the proposal is not reopened.
	p.EvaluatedTimes = workable
	if _, status, err := s.store.Proposal(p.ProposalID); err == nil {
		if err := s.store.SaveProposal(p, status); err != nil {
			s.log.Warn("persist evaluation failed", "proposal", p.ProposalID, "error", err)
		}
	}

	if len(workable) == 0 && busy != nil {
		events, err := s.calendar.ListEvents(ctx, s.self.UserID, busy.Start, busy.End)
		if err == nil {
			s.engine.DetectConflicts(core.MeetingContext{
				Title:           p.Title,
				Participants:    p.Participants,
				DurationMinutes: p.DurationMinutes,
				Priority:        p.Priority,
			}, busy.Start, events, nil)
		}
	}

	s.log.Info("proposal evaluated",
		"proposal", p.ProposalID,
		"proposed", len(p.ProposedTimes),
		"workable", len(workable))

	_ = s.memory.StoreInteraction(ctx, memory.Interaction{
		AgentID: s.self.AgentID,
		PeerID:  p.FromAgentID,
		Kind:    "proposal",
		Summary: p.Title,
		Details: map[string]any{
			"proposal_id":    p.ProposalID,
			"workable_times": len(workable),
		},
	})
}

// handleProposalRespond serves POST /api/agents/proposal/{id}/respond.
func (s *Service) handleProposalRespond(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/agents/proposal/")
	if !strings.HasSuffix(path, "/respond") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	proposalID := strings.Trim(strings.TrimSuffix(path, "/respond"), "/")
	if proposalID == "" {
		writeError(w, http.StatusBadRequest, "proposal id required")
		return
	}

	var req struct {
		Status         core.ProposalStatus      `json:"status"`
		AvailableTimes []core.AvailabilitySlot  `json:"available_times,omitempty"`
		Counter        *core.SchedulingProposal `json:"counter_proposal,omitempty"`
		Reason         string                   `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed response")
		return
	}
	switch req.Status {
	case core.ProposalAccepted, core.ProposalDeclined, core.ProposalCounter:
	default:
		writeError(w, http.StatusBadRequest, "status must be accepted, declined, or counter_proposal")
		return
	}

	proposal, _, err := s.store.Proposal(proposalID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "proposal not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load proposal failed")
		return
	}

	if err := s.store.UpdateProposalStatus(proposalID, req.Status); err != nil {
		writeError(w, http.StatusInternalServerError, "update proposal failed")
		return
	}

	resp := core.ProposalResponse{
		ResponseID:      uuid.NewString(),
		ProposalID:      proposalID,
		FromAgentID:     s.self.AgentID,
		ToAgentID:       proposal.FromAgentID,
		Status:          req.Status,
		AvailableTimes:  req.AvailableTimes,
		CounterProposal: req.Counter,
		Reason:          req.Reason,
		CreatedAt:       time.Now().UTC(),
	}
	s.log.Info("proposal answered", "proposal", proposalID, "status", req.Status)

	// On acceptance the first workable time becomes a calendar event.
	if req.Status == core.ProposalAccepted && len(req.AvailableTimes) > 0 {
		chosen := req.AvailableTimes[0]
		_, err := s.calendar.CreateEvent(r.Context(), s.self.UserID, core.CalendarEvent{
			Title:     proposal.Title,
			Start:     chosen.Start,
			End:       chosen.End,
			Attendees: proposal.Participants,
			Priority:  proposal.Priority,
		})
		if err != nil {
			s.log.Warn("calendar event creation failed", "proposal", proposalID, "error", err)
		}
		if err := s.engine.RecordObservation(core.MeetingObservation{
			UserID:          s.self.UserID,
			Start:           chosen.Start,
			DurationMinutes: chosen.DurationMinutes,
			Accepted:        true,
		}); err != nil {
			s.log.Warn("record observation failed", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

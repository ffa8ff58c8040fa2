package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mistakeknot/concord/internal/core"
	"github.com/mistakeknot/concord/internal/memory"
	"github.com/mistakeknot/concord/internal/wire"
)

// registerHandlers installs the router dispatch table. Unhandled types fall
// through to the router's warn-and-ack path.
func (a *Agent) registerHandlers() {
	a.router.Handle(wire.TypeHandshake, a.onHandshake)
	a.router.Handle(wire.TypeHeartbeat, a.onHeartbeat)
	a.router.Handle(wire.TypeSchedulingProposal, a.onProposal)
	a.router.Handle(wire.TypeProposalResponse, a.onProposalResponse)
	a.router.Handle(wire.TypeAvailabilityRequest, a.onAvailabilityRequest)
	a.router.Handle(wire.TypeMeetingConfirmation, a.onMeetingConfirmation)
	a.router.Handle(wire.TypeStatusUpdate, a.onStatusUpdate)
}

// decodePayload round-trips a message payload into a typed struct.
func decodePayload(payload map[string]any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// onHandshake answers a peer's hello with our capability list.
func (a *Agent) onHandshake(_ context.Context, msg wire.Message) (*wire.Message, error) {
	reply := wire.New(a.self.AgentID, msg.FromAgentID, wire.TypeHandshake, map[string]any{
		"agent_id":     a.self.AgentID,
		"capabilities": a.self.Capabilities,
		"user_id":      a.self.UserID,
	}, wire.WithConversation(msg.ConversationID))
	return &reply, nil
}

func (a *Agent) onHeartbeat(context.Context, wire.Message) (*wire.Message, error) {
	// Liveness is tracked by the connection manager; nothing else to do.
	return nil, nil
}

// onProposal evaluates an incoming proposal against the local calendar and
// replies with the subset of proposed times that work.
func (a *Agent) onProposal(ctx context.Context, msg wire.Message) (*wire.Message, error) {
	var p core.SchedulingProposal
	if err := decodePayload(msg.Payload, &p); err != nil {
		return nil, err
	}
	if p.ProposalID == "" {
		p.ProposalID = uuid.NewString()
	}
	if p.FromAgentID == "" {
		p.FromAgentID = msg.FromAgentID
	}
	if err := a.store.SaveProposal(p, core.ProposalReceived); err != nil {
		return nil, fmt.Errorf("persist proposal: %w", err)
	}

	var workable []core.AvailabilitySlot
	for _, slot := range p.ProposedTimes {
		if slot.Validate() != nil {
			continue
		}
		free, err := a.calendar.CheckAvailability(ctx, a.self.UserID, slot.Start, slot.End)
		if err != nil {
			a.log.Warn("availability check failed", "proposal", p.ProposalID, "error", err)
			continue
		}
		if free {
			workable = append(workable, slot)
		}
	}

	status := core.ProposalAccepted
	reason := ""
	if len(workable) == 0 {
		status = core.ProposalDeclined
		reason = "no proposed time is free"
	}
	a.log.Info("proposal evaluated over message channel",
		"proposal", p.ProposalID, "status", status, "workable", len(workable))

	resp := core.ProposalResponse{
		ResponseID:     uuid.NewString(),
		ProposalID:     p.ProposalID,
		FromAgentID:    a.self.AgentID,
		ToAgentID:      msg.FromAgentID,
		Status:         status,
		AvailableTimes: workable,
		Reason:         reason,
		CreatedAt:      time.Now().UTC(),
	}
	payload := map[string]any{}
	if err := roundTrip(resp, &payload); err != nil {
		return nil, err
	}
	reply := wire.New(a.self.AgentID, msg.FromAgentID, wire.TypeProposalResponse, payload,
		wire.WithConversation(msg.ConversationID))
	return &reply, nil
}

// onProposalResponse settles a proposal we sent earlier.
func (a *Agent) onProposalResponse(ctx context.Context, msg wire.Message) (*wire.Message, error) {
	var resp core.ProposalResponse
	if err := decodePayload(msg.Payload, &resp); err != nil {
		return nil, err
	}
	if err := a.registry.RecordResponse(resp); err != nil {
		a.log.Warn("record proposal response", "proposal", resp.ProposalID, "error", err)
	}
	if resp.Status == core.ProposalAccepted && len(resp.AvailableTimes) > 0 {
		chosen := resp.AvailableTimes[0]
		if err := a.engine.RecordObservation(core.MeetingObservation{
			UserID:          a.self.UserID,
			Start:           chosen.Start,
			DurationMinutes: chosen.DurationMinutes,
			Accepted:        true,
		}); err != nil {
			a.log.Warn("record observation failed", "error", err)
		}
	}
	_ = a.memory.StoreInteraction(ctx, memory.Interaction{
		AgentID: a.self.AgentID,
		PeerID:  msg.FromAgentID,
		Kind:    "response",
		Summary: fmt.Sprintf("proposal %s %s", resp.ProposalID, resp.Status),
	})
	return nil, nil
}

// onAvailabilityRequest reports free slots in the requested window.
func (a *Agent) onAvailabilityRequest(ctx context.Context, msg wire.Message) (*wire.Message, error) {
	var req struct {
		Start           time.Time `json:"window_start"`
		End             time.Time `json:"window_end"`
		DurationMinutes int       `json:"duration_minutes"`
	}
	if err := decodePayload(msg.Payload, &req); err != nil {
		return nil, err
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = 30
	}
	if req.Start.IsZero() || !req.Start.Before(req.End) {
		return nil, fmt.Errorf("availability request: invalid window")
	}

	events, err := a.calendar.ListEvents(ctx, a.self.UserID, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	slots := a.engine.FindAvailableSlots(req.DurationMinutes, req.Start, req.End, events, 0)

	reply := wire.New(a.self.AgentID, msg.FromAgentID, wire.TypeAvailabilityResponse, map[string]any{
		"available_slots": slots,
	}, wire.WithConversation(msg.ConversationID))
	return &reply, nil
}

// onMeetingConfirmation writes the agreed meeting to the calendar and feeds
// the preference learner.
func (a *Agent) onMeetingConfirmation(ctx context.Context, msg wire.Message) (*wire.Message, error) {
	var event core.CalendarEvent
	if err := decodePayload(msg.Payload, &event); err != nil {
		return nil, err
	}
	if event.Start.IsZero() || event.End.IsZero() {
		return nil, fmt.Errorf("meeting confirmation: missing times")
	}
	if _, err := a.calendar.CreateEvent(ctx, a.self.UserID, event); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	if err := a.engine.RecordObservation(core.MeetingObservation{
		UserID:          a.self.UserID,
		Start:           event.Start,
		DurationMinutes: int(event.End.Sub(event.Start).Minutes()),
		Accepted:        true,
	}); err != nil {
		a.log.Warn("record observation failed", "error", err)
	}
	return nil, nil
}

// onStatusUpdate refreshes what we know about a peer's availability.
func (a *Agent) onStatusUpdate(_ context.Context, msg wire.Message) (*wire.Message, error) {
	var update struct {
		Status core.AgentStatus `json:"status"`
	}
	if err := decodePayload(msg.Payload, &update); err != nil {
		return nil, err
	}
	a.log.Info("peer status changed", "peer", msg.FromAgentID, "status", update.Status)
	return nil, nil
}

// roundTrip converts a typed value into the generic payload shape.
func roundTrip(in any, out *map[string]any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

package core

import "time"

// ProposalStatus is the state of a scheduling proposal exchange.
type ProposalStatus string

const (
	ProposalReceived ProposalStatus = "received"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalDeclined ProposalStatus = "declined"
	ProposalCounter  ProposalStatus = "counter_proposal"
	ProposalError    ProposalStatus = "error"
)

// SchedulingProposal asks a peer agent to evaluate candidate meeting times.
type SchedulingProposal struct {
	ProposalID      string             `json:"proposal_id"`
	FromAgentID     string             `json:"from_agent_id"`
	ToAgentID       string             `json:"to_agent_id"`
	Title           string             `json:"meeting_title"`
	ProposedTimes   []AvailabilitySlot `json:"proposed_times"`
	Participants    []string           `json:"participants"`
	DurationMinutes int                `json:"duration_minutes"`
	Priority        Priority           `json:"priority"`
	Deadline        time.Time          `json:"deadline,omitzero"`
	Constraints     map[string]string  `json:"constraints,omitempty"`
	CreatedAt       time.Time          `json:"created_at,omitzero"`

	// EvaluatedTimes is filled by the receiving agent: the subset of
	// ProposedTimes that fit its calendar.
	EvaluatedTimes []AvailabilitySlot `json:"evaluated_times,omitempty"`
}

// ProposalResponse answers a scheduling proposal.
type ProposalResponse struct {
	ResponseID      string              `json:"response_id"`
	ProposalID      string              `json:"proposal_id"`
	FromAgentID     string              `json:"from_agent_id"`
	ToAgentID       string              `json:"to_agent_id"`
	Status          ProposalStatus      `json:"status"`
	AvailableTimes  []AvailabilitySlot  `json:"available_times,omitempty"`
	CounterProposal *SchedulingProposal `json:"counter_proposal,omitempty"`
	Reason          string              `json:"reason,omitempty"`
	CreatedAt       time.Time           `json:"created_at,omitzero"`
}

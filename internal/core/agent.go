package core

import "time"

// AgentStatus represents an agent's availability in the directory.
type AgentStatus string

const (
	StatusOnline      AgentStatus = "online"
	StatusOffline     AgentStatus = "offline"
	StatusBusy        AgentStatus = "busy"
	StatusMaintenance AgentStatus = "maintenance"
)

// Valid reports whether s is a recognized status value.
func (s AgentStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusBusy, StatusMaintenance:
		return true
	}
	return false
}

// Protocol identifies a supported transport for inter-agent messaging.
type Protocol string

const (
	ProtocolWebSocket Protocol = "websocket"
	ProtocolHTTP      Protocol = "http"
)

// Capability is a scheduling service an agent advertises to the directory.
type Capability string

const (
	CapCalendarManagement   Capability = "calendar_management"
	CapScheduling           Capability = "scheduling"
	CapAvailabilityChecking Capability = "availability_checking"
	CapMeetingCoordination  Capability = "meeting_coordination"
	CapConflictResolution   Capability = "conflict_resolution"
	CapPreferenceLearning   Capability = "preference_learning"
)

// AgentIdentity is the directory record for one agent.
type AgentIdentity struct {
	AgentID       string       `json:"agent_id"`
	Name          string       `json:"agent_name"`
	UserID        string       `json:"user_id,omitempty"`
	Endpoint      string       `json:"endpoint"`
	Capabilities  []Capability `json:"capabilities"`
	Protocols     []Protocol   `json:"supported_protocols"`
	Status        AgentStatus  `json:"status"`
	LastHeartbeat time.Time    `json:"last_heartbeat,omitzero"`
	Reputation    float64      `json:"reputation_score"`
	TrustLevel    int          `json:"trust_level"`
	UserEmails    []string     `json:"user_emails,omitempty"`
	UserNames     []string     `json:"user_names,omitempty"`
	RegisteredAt  time.Time    `json:"registered_at,omitzero"`
	Version       string       `json:"version,omitempty"`
}

// HasCapabilities reports whether the agent advertises every required capability.
func (a AgentIdentity) HasCapabilities(required []Capability) bool {
	for _, req := range required {
		found := false
		for _, cap := range a.Capabilities {
			if cap == req {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ServesUser reports whether the agent acts for the given user identifier,
// matching the user ID or any known email/name alias.
func (a AgentIdentity) ServesUser(identifier string) bool {
	if identifier == "" {
		return false
	}
	if a.UserID == identifier {
		return true
	}
	for _, email := range a.UserEmails {
		if email == identifier {
			return true
		}
	}
	for _, name := range a.UserNames {
		if name == identifier {
			return true
		}
	}
	return false
}

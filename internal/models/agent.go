package models

import "time"

// AgentStatus is the live state of a coordinating participant.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentWorking AgentStatus = "working"
	AgentError   AgentStatus = "error"
	AgentOffline AgentStatus = "offline"
)

// AgentInfo is the registry entry for a participant.
type AgentInfo struct {
	Name             string      `json:"name"`
	Description      string      `json:"description"`
	Capabilities     []string    `json:"capabilities"`
	Tools            []string    `json:"tools"`
	Status           AgentStatus `json:"status"`
	CurrentTask      string      `json:"current_task,omitempty"`
	IncidentsHandled int         `json:"incidents_handled"`
	RegisteredAt     time.Time   `json:"registered_at"`
	LastActiveAt     *time.Time  `json:"last_active_at,omitempty"`
}

// Clone returns a copy that does not share slices with the registry.
func (a AgentInfo) Clone() AgentInfo {
	out := a
	out.Capabilities = cloneSlice(a.Capabilities)
	out.Tools = cloneSlice(a.Tools)
	if a.LastActiveAt != nil {
		t := *a.LastActiveAt
		out.LastActiveAt = &t
	}
	return out
}

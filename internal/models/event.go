package models

import "time"

// Event types published by the coordination core.
const (
	EventPlanCreated     = "plan_created"
	EventPlanUpdated     = "plan_updated"
	EventPlanStepUpdate  = "plan_step_update"
	EventCallStarted     = "call_started"
	EventCallCompleted   = "call_completed"
	EventStateTransition = "state_transition"
	EventAgentActivity   = "agent_activity"
	EventPipelineStarted = "pipeline_started"
	EventError           = "error"
	EventHealthSnapshot  = "health_snapshot"
	EventSubscribed      = "subscribed"
)

// Event is a broadcast notification; delivery is at-most-once.
type Event struct {
	Type       string         `json:"event_type"`
	IncidentID string         `json:"incident_id,omitempty"`
	Agent      string         `json:"agent,omitempty"`
	Data       map[string]any `json:"data"`
	Timestamp  time.Time      `json:"timestamp"`
}

package models

import (
	"strings"
	"time"
)

// CallStatus is the state of a dispatched tool call.
type CallStatus string

const (
	CallInProgress CallStatus = "in_progress"
	CallSuccess    CallStatus = "success"
	CallError      CallStatus = "error"
)

// CallRecord is the ledger entry for one tool invocation.
type CallRecord struct {
	CallID        string         `json:"call_id"`
	Tool          string         `json:"tool_name"`
	Caller        string         `json:"from_agent"`
	Target        string         `json:"to_agent"`
	CorrelationID string         `json:"correlation_id"`
	IncidentID    string         `json:"incident_id,omitempty"`
	Params        map[string]any `json:"params"`
	Result        map[string]any `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	Status        CallStatus     `json:"status"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	ElapsedMs     int64          `json:"elapsed_ms"`
}

// Succeeded reports whether the call finished without a handler failure.
func (r CallRecord) Succeeded() bool {
	return r.Status == CallSuccess
}

// TargetOf derives the participant that owns a dotted tool name.
func TargetOf(tool string) string {
	if i := strings.Index(tool, "."); i >= 0 {
		return tool[:i]
	}
	return tool
}

// Clone returns a copy that shares no maps with r.
func (r CallRecord) Clone() CallRecord {
	out := r
	out.Params = CloneMap(r.Params)
	out.Result = CloneMap(r.Result)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// StepStatus is the lifecycle state of a single plan step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// CanMoveTo reports whether a step may move from s to next.
func (s StepStatus) CanMoveTo(next StepStatus) bool {
	switch s {
	case StepPending:
		return next == StepInProgress || next == StepSkipped
	case StepInProgress:
		return next == StepCompleted || next == StepFailed
	}
	return false
}

// PlanStatus is the aggregate state of an execution plan.
type PlanStatus string

const (
	PlanPlanning  PlanStatus = "planning"
	PlanExecuting PlanStatus = "executing"
	PlanCompleted PlanStatus = "completed"
	PlanReplanned PlanStatus = "replanned"
	PlanFailed    PlanStatus = "failed"
	PlanEscalated PlanStatus = "escalated"
)

// Terminal reports whether the plan has finished.
func (s PlanStatus) Terminal() bool {
	return s == PlanCompleted || s == PlanFailed || s == PlanEscalated
}

// PlanStep is one ordered unit of work in an execution plan.
type PlanStep struct {
	Number      int            `json:"step_num"`
	Agent       string         `json:"agent"`
	Action      string         `json:"action"`
	Tool        string         `json:"tool"`
	Params      map[string]any `json:"params"`
	Condition   string         `json:"condition"`
	Status      StepStatus     `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	ElapsedMs   *int64         `json:"elapsed_ms,omitempty"`
	SkipReason  string         `json:"skip_reason,omitempty"`
}

// ExecutionPlan is the ordered list of steps for one pipeline run.
type ExecutionPlan struct {
	ID             string     `json:"plan_id"`
	IncidentID     string     `json:"incident_id"`
	CorrelationID  string     `json:"correlation_id"`
	Steps          []PlanStep `json:"steps"`
	Status         PlanStatus `json:"status"`
	ReplanReason   string     `json:"replanned_reason,omitempty"`
	ReplanCount    int        `json:"replanned_count"`
	CurrentStep    int        `json:"current_step_num"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	TotalElapsedMs *int64     `json:"total_elapsed_ms,omitempty"`
}

// NewPlanID returns an identifier of the form plan-1a2b3c4d.
func NewPlanID() string {
	return "plan-" + uuid.NewString()[:8]
}

// Step returns a pointer to the step numbered n, or nil.
func (p *ExecutionPlan) Step(n int) *PlanStep {
	for i := range p.Steps {
		if p.Steps[i].Number == n {
			return &p.Steps[i]
		}
	}
	return nil
}

// MaxStepNumber returns the highest step number in the plan.
func (p *ExecutionPlan) MaxStepNumber() int {
	max := 0
	for _, s := range p.Steps {
		if s.Number > max {
			max = s.Number
		}
	}
	return max
}

// Clone returns a deep copy suitable for publishing.
func (p *ExecutionPlan) Clone() *ExecutionPlan {
	if p == nil {
		return nil
	}
	out := *p
	out.Steps = make([]PlanStep, len(p.Steps))
	for i, s := range p.Steps {
		out.Steps[i] = s.Clone()
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		out.CompletedAt = &t
	}
	if p.TotalElapsedMs != nil {
		ms := *p.TotalElapsedMs
		out.TotalElapsedMs = &ms
	}
	return &out
}

// Clone returns a deep copy of the step.
func (s PlanStep) Clone() PlanStep {
	out := s
	out.Params = CloneMap(s.Params)
	out.Result = CloneMap(s.Result)
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	if s.ElapsedMs != nil {
		ms := *s.ElapsedMs
		out.ElapsedMs = &ms
	}
	return out
}

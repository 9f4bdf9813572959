package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrTerminalIncident is returned when a pipeline is requested for a resolved, rolled back or failed incident.
	ErrTerminalIncident = errors.New("incident is in a terminal state")
	// ErrInvalidTransition is returned for a status change outside the lifecycle graph.
	ErrInvalidTransition = errors.New("invalid incident transition")
	// ErrPipeline marks a failure that escaped the pipeline body and ends the incident as FAILED.
	ErrPipeline = errors.New("pipeline failure")
)

// StepFailure reports that a plan step did not meet its business condition:
// a dispatched call failed or a participant reported a negative outcome.
type StepFailure struct {
	Step      int
	Tool      string
	Agent     string
	Reason    string
	ElapsedMs int64
	// CallFailed is set when the dispatch record itself carries an error.
	CallFailed bool
}

func (e *StepFailure) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %s", e.Step, e.Tool, e.Reason)
}

// PipelineFailure wraps the cause of a FAILED pipeline.
type PipelineFailure struct {
	IncidentID string
	Cause      error
}

func (e *PipelineFailure) Error() string {
	return fmt.Sprintf("%s: incident %s: %v", ErrPipeline, e.IncidentID, e.Cause)
}

// Unwrap exposes both ErrPipeline and the cause to errors.Is.
func (e *PipelineFailure) Unwrap() []error {
	return []error{ErrPipeline, e.Cause}
}

package planner

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/agents"
	"github.com/miradorstack/mirador-sentinel/internal/events"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/tools"
)

// Step numbers of the remediation plan.
const (
	StepCollectMetrics = 1
	StepDiagnose       = 2
	StepConfidenceGate = 3
	StepGenerateFix    = 4
	StepValidateFix    = 5
	StepDeploy         = 6
	StepVerify         = 7
)

// Pseudo-tools handled inside the orchestrator; they are never dispatched.
const (
	ToolEvaluateConfidence = "orchestrator.evaluate_confidence"
	ToolEscalate           = "orchestrator.escalate"
)

// DefaultThreshold is the confidence percentage required for automatic remediation.
const DefaultThreshold = 70

var (
	// ErrStepNotFound is returned for a step number absent from the plan.
	ErrStepNotFound = errors.New("plan step not found")
	// ErrInvalidStepTransition is returned when a step edge is not allowed.
	ErrInvalidStepTransition = errors.New("invalid plan step transition")
	// ErrPlanActive is returned when an incident already has a running plan.
	ErrPlanActive = errors.New("incident already has an active plan")
	// ErrInvalidOutcome is returned for plan outcomes other than completed, failed or escalated.
	ErrInvalidOutcome = errors.New("invalid plan outcome")
)

// Tracker creates execution plans and drives their step lifecycle. Every
// mutation goes through the tracker so readers of Latest see consistent plans.
type Tracker struct {
	threshold int
	sink      events.Sink
	logger    *slog.Logger

	mu     sync.RWMutex
	latest map[string]*models.ExecutionPlan
}

// NewTracker builds a tracker gating on threshold percent.
func NewTracker(threshold int, sink events.Sink, logger *slog.Logger) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if sink == nil {
		sink = events.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		threshold: threshold,
		sink:      sink,
		logger:    logger,
		latest:    make(map[string]*models.ExecutionPlan),
	}
}

// Threshold returns the configured confidence threshold in percent.
func (t *Tracker) Threshold() int {
	return t.threshold
}

// CorrelationID derives the trace id shared by every call of one pipeline run.
func CorrelationID(incidentID string, at time.Time) string {
	return incidentID + "-" + strconv.FormatInt(at.Unix(), 10)
}

// CreatePlan builds the seven-step remediation plan for inc.
func (t *Tracker) CreatePlan(inc *models.Incident) (*models.ExecutionPlan, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.latest[inc.ID]; ok && !prev.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s (%s)", ErrPlanActive, inc.ID, prev.ID)
	}

	threshold := float64(t.threshold)
	steps := []models.PlanStep{
		{
			Number:    StepCollectMetrics,
			Agent:     agents.Monitor,
			Action:    "Collect Metrics",
			Tool:      string(tools.MonitorGetMetrics),
			Params:    map[string]any{"service": inc.Service, "window_minutes": 15.0},
			Condition: "Always; establish a baseline before analysis",
		},
		{
			Number: StepDiagnose,
			Agent:  agents.Diagnostic,
			Action: "Analyze Incident",
			Tool:   string(tools.DiagnosticAnalyzeIncident),
			Params: map[string]any{
				"incident_id": inc.ID,
				"service":     inc.Service,
				"description": inc.Description,
			},
			Condition: "After metrics are collected",
		},
		{
			Number:    StepConfidenceGate,
			Agent:     agents.Orchestrator,
			Action:    fmt.Sprintf("Confidence Gate (>=%d%% auto-fix)", t.threshold),
			Tool:      ToolEvaluateConfidence,
			Params:    map[string]any{"threshold": threshold},
			Condition: fmt.Sprintf("Proceed to fix at >= %d%% confidence, otherwise escalate to human review", t.threshold),
		},
		{
			Number:    StepGenerateFix,
			Agent:     agents.Fixer,
			Action:    "Generate Code Fix",
			Tool:      string(tools.FixerGeneratePatch),
			Params:    map[string]any{"incident_id": inc.ID, "service": inc.Service},
			Condition: fmt.Sprintf("Only if confidence >= %d%%", t.threshold),
		},
		{
			Number:    StepValidateFix,
			Agent:     agents.Fixer,
			Action:    "Validate Fix",
			Tool:      string(tools.FixerValidateFix),
			Params:    map[string]any{"incident_id": inc.ID},
			Condition: "After the patch is generated",
		},
		{
			Number: StepDeploy,
			Agent:  agents.Deploy,
			Action: "Execute Rolling Deployment",
			Tool:   string(tools.DeployExecuteDeployment),
			Params: map[string]any{
				"incident_id": inc.ID,
				"service":     inc.Service,
				"strategy":    "rolling",
			},
			Condition: "After the fix is validated",
		},
		{
			Number:    StepVerify,
			Agent:     agents.Monitor,
			Action:    "Verify Resolution",
			Tool:      string(tools.MonitorCheckHealth),
			Params:    map[string]any{"service": inc.Service},
			Condition: "After deployment; confirm service health is restored",
		},
	}
	for i := range steps {
		steps[i].Status = models.StepPending
	}

	now := time.Now().UTC()
	plan := &models.ExecutionPlan{
		ID:            models.NewPlanID(),
		IncidentID:    inc.ID,
		CorrelationID: CorrelationID(inc.ID, now),
		Steps:         steps,
		Status:        models.PlanPlanning,
		CreatedAt:     now,
	}
	t.latest[inc.ID] = plan

	t.logger.Info("plan created",
		slog.String("plan_id", plan.ID),
		slog.String("incident_id", inc.ID),
		slog.Int("steps", len(steps)),
		slog.Int("threshold", t.threshold))
	return plan, nil
}

// PublishPlan announces a freshly created plan.
func (t *Tracker) PublishPlan(plan *models.ExecutionPlan) {
	t.publishPlan(models.EventPlanCreated, plan)
}

// Latest returns a copy of the most recent plan for incidentID.
func (t *Tracker) Latest(incidentID string) (*models.ExecutionPlan, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	plan, ok := t.latest[incidentID]
	if !ok {
		return nil, false
	}
	return plan.Clone(), true
}

// StartStep moves a pending step to in_progress and the plan to executing.
func (t *Tracker) StartStep(plan *models.ExecutionPlan, n int) (models.PlanStep, error) {
	return t.mutateStep(plan, n, models.StepInProgress, func(step *models.PlanStep, now time.Time) {
		step.StartedAt = &now
		plan.CurrentStep = n
		plan.Status = models.PlanExecuting
	})
}

// CompleteStep records a successful step result.
func (t *Tracker) CompleteStep(plan *models.ExecutionPlan, n int, result map[string]any, elapsedMs int64) (models.PlanStep, error) {
	return t.mutateStep(plan, n, models.StepCompleted, func(step *models.PlanStep, now time.Time) {
		step.Result = models.CloneMap(result)
		step.ElapsedMs = &elapsedMs
		step.CompletedAt = &now
	})
}

// FailStep records a step failure.
func (t *Tracker) FailStep(plan *models.ExecutionPlan, n int, reason string, elapsedMs int64) (models.PlanStep, error) {
	return t.mutateStep(plan, n, models.StepFailed, func(step *models.PlanStep, now time.Time) {
		step.Result = map[string]any{"error": reason}
		step.ElapsedMs = &elapsedMs
		step.CompletedAt = &now
	})
}

// SkipStep marks a pending step as skipped.
func (t *Tracker) SkipStep(plan *models.ExecutionPlan, n int, reason string) (models.PlanStep, error) {
	return t.mutateStep(plan, n, models.StepSkipped, func(step *models.PlanStep, now time.Time) {
		step.SkipReason = reason
		step.CompletedAt = &now
	})
}

// SkipRemaining skips every pending step numbered from and above.
func (t *Tracker) SkipRemaining(plan *models.ExecutionPlan, from int, reason string) {
	for _, n := range t.pendingFrom(plan, from) {
		if _, err := t.SkipStep(plan, n, reason); err != nil {
			t.logger.Warn("skip step failed", slog.String("plan_id", plan.ID), slog.Int("step", n), slog.Any("error", err))
		}
	}
}

// Replan skips pending steps and appends an escalation step numbered after
// the current maximum. The new step is returned for execution.
func (t *Tracker) Replan(plan *models.ExecutionPlan, failedStep int, reason string) models.PlanStep {
	t.logger.Warn("replanning",
		slog.String("plan_id", plan.ID),
		slog.Int("failed_step", failedStep),
		slog.String("reason", reason))

	t.mu.Lock()
	now := time.Now().UTC()
	for i := range plan.Steps {
		if plan.Steps[i].Status == models.StepPending {
			plan.Steps[i].Status = models.StepSkipped
			plan.Steps[i].SkipReason = "Skipped due to replan: " + reason
			plan.Steps[i].CompletedAt = &now
		}
	}
	escalation := models.PlanStep{
		Number:    plan.MaxStepNumber() + 1,
		Agent:     agents.Orchestrator,
		Action:    "Escalate to Human Review",
		Tool:      ToolEscalate,
		Params:    map[string]any{"reason": reason, "failed_step": float64(failedStep)},
		Condition: "Automatic after step failure; human intervention required",
		Status:    models.StepPending,
	}
	plan.Steps = append(plan.Steps, escalation)
	plan.Status = models.PlanReplanned
	plan.ReplanReason = reason
	plan.ReplanCount++
	t.mu.Unlock()

	t.publishPlan(models.EventPlanUpdated, plan)
	return escalation.Clone()
}

// CompletePlan finalises the plan with outcome completed, failed or escalated.
func (t *Tracker) CompletePlan(plan *models.ExecutionPlan, outcome models.PlanStatus, totalMs int64) error {
	if outcome != models.PlanCompleted && outcome != models.PlanFailed && outcome != models.PlanEscalated {
		return fmt.Errorf("%w: %s", ErrInvalidOutcome, outcome)
	}
	t.mu.Lock()
	now := time.Now().UTC()
	plan.Status = outcome
	plan.CompletedAt = &now
	plan.TotalElapsedMs = &totalMs
	t.mu.Unlock()

	t.logger.Info("plan completed",
		slog.String("plan_id", plan.ID),
		slog.String("outcome", string(outcome)),
		slog.Int64("total_ms", totalMs))
	t.publishPlan(models.EventPlanUpdated, plan)
	return nil
}

// Abort fails the running step, skips pending ones and completes the plan as
// failed. It is a no-op for plans that already finished.
func (t *Tracker) Abort(plan *models.ExecutionPlan, reason string, totalMs int64) {
	if plan == nil {
		return
	}
	t.mu.RLock()
	done := plan.Status.Terminal()
	var running []int
	for _, s := range plan.Steps {
		if s.Status == models.StepInProgress {
			running = append(running, s.Number)
		}
	}
	t.mu.RUnlock()
	if done {
		return
	}
	for _, n := range running {
		_, _ = t.FailStep(plan, n, reason, 0)
	}
	t.SkipRemaining(plan, 0, "Pipeline aborted: "+reason)
	_ = t.CompletePlan(plan, models.PlanFailed, totalMs)
}

func (t *Tracker) pendingFrom(plan *models.ExecutionPlan, from int) []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []int
	for _, s := range plan.Steps {
		if s.Number >= from && s.Status == models.StepPending {
			out = append(out, s.Number)
		}
	}
	return out
}

func (t *Tracker) mutateStep(plan *models.ExecutionPlan, n int, next models.StepStatus, apply func(*models.PlanStep, time.Time)) (models.PlanStep, error) {
	t.mu.Lock()
	step := plan.Step(n)
	if step == nil {
		t.mu.Unlock()
		return models.PlanStep{}, fmt.Errorf("%w: step %d in %s", ErrStepNotFound, n, plan.ID)
	}
	if !step.Status.CanMoveTo(next) {
		current := step.Status
		t.mu.Unlock()
		return models.PlanStep{}, fmt.Errorf("%w: step %d %s -> %s", ErrInvalidStepTransition, n, current, next)
	}
	step.Status = next
	apply(step, time.Now().UTC())
	snapshot := step.Clone()
	planStatus := plan.Status
	current := plan.CurrentStep
	t.mu.Unlock()

	t.sink.Publish(models.EventPlanStepUpdate, plan.IncidentID, snapshot.Agent, map[string]any{
		"plan_id":      plan.ID,
		"incident_id":  plan.IncidentID,
		"step":         models.MustMap(snapshot),
		"plan_status":  string(planStatus),
		"current_step": float64(current),
	})
	return snapshot, nil
}

func (t *Tracker) publishPlan(eventType string, plan *models.ExecutionPlan) {
	t.mu.RLock()
	data := models.MustMap(plan)
	t.mu.RUnlock()
	t.sink.Publish(eventType, plan.IncidentID, agents.Orchestrator, data)
}

package planner

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/events"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

func newTracker(sink events.Sink) *Tracker {
	return NewTracker(70, sink, utils.NewLoggerTo(io.Discard, "error", false))
}

func TestCreatePlanShape(t *testing.T) {
	tracker := newTracker(nil)
	inc := models.NewIncident("Memory leak", "heap growth", "payments", models.SeverityLow)

	plan, err := tracker.CreatePlan(inc)
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	wantTools := []string{
		"monitor.get_metrics",
		"diagnostic.analyze_incident",
		ToolEvaluateConfidence,
		"fixer.generate_patch",
		"fixer.validate_fix",
		"deploy.execute_deployment",
		"monitor.check_health",
	}
	if len(plan.Steps) != len(wantTools) {
		t.Fatalf("expected %d steps, got %d", len(wantTools), len(plan.Steps))
	}
	for i, step := range plan.Steps {
		if step.Number != i+1 || step.Tool != wantTools[i] || step.Status != models.StepPending {
			t.Fatalf("step %d unexpected: %+v", i, step)
		}
	}
	if plan.Status != models.PlanPlanning {
		t.Fatalf("expected planning status, got %s", plan.Status)
	}
	if !strings.HasPrefix(plan.CorrelationID, inc.ID+"-") {
		t.Fatalf("correlation id should embed incident id: %s", plan.CorrelationID)
	}
	if plan.Steps[0].Params["service"] != "payments" || plan.Steps[2].Params["threshold"] != 70.0 {
		t.Fatalf("unexpected params: %v / %v", plan.Steps[0].Params, plan.Steps[2].Params)
	}
}

func TestCreatePlanRejectsActivePlan(t *testing.T) {
	tracker := newTracker(nil)
	inc := models.NewIncident("t", "d", "svc", models.SeverityHigh)
	plan, err := tracker.CreatePlan(inc)
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if _, err := tracker.CreatePlan(inc); !errors.Is(err, ErrPlanActive) {
		t.Fatalf("expected ErrPlanActive, got %v", err)
	}
	if err := tracker.CompletePlan(plan, models.PlanCompleted, 10); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := tracker.CreatePlan(inc); err != nil {
		t.Fatalf("expected new plan after completion: %v", err)
	}
}

func TestStepLifecycleEnforcesEdges(t *testing.T) {
	rec := &events.Recorder{}
	tracker := newTracker(rec)
	plan, _ := tracker.CreatePlan(models.NewIncident("t", "d", "svc", models.SeverityHigh))

	if _, err := tracker.CompleteStep(plan, 1, nil, 5); !errors.Is(err, ErrInvalidStepTransition) {
		t.Fatalf("pending -> completed must fail, got %v", err)
	}
	if _, err := tracker.StartStep(plan, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if plan.Status != models.PlanExecuting || plan.CurrentStep != 1 {
		t.Fatalf("expected executing at step 1, got %s/%d", plan.Status, plan.CurrentStep)
	}
	step, err := tracker.CompleteStep(plan, 1, map[string]any{"cpu_percent": 50.0}, 12)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if step.ElapsedMs == nil || *step.ElapsedMs != 12 || step.CompletedAt == nil {
		t.Fatalf("expected completion stamps, got %+v", step)
	}
	if _, err := tracker.StartStep(plan, 1); !errors.Is(err, ErrInvalidStepTransition) {
		t.Fatalf("completed -> in_progress must fail, got %v", err)
	}
	if _, err := tracker.SkipStep(plan, 99, "nope"); !errors.Is(err, ErrStepNotFound) {
		t.Fatalf("expected ErrStepNotFound, got %v", err)
	}

	updates := rec.OfType(models.EventPlanStepUpdate)
	if len(updates) != 2 {
		t.Fatalf("expected 2 step updates, got %d", len(updates))
	}
	if updates[1].Data["plan_status"] != "executing" || updates[1].Data["current_step"] != 1.0 {
		t.Fatalf("unexpected update payload: %v", updates[1].Data)
	}
	stepData := updates[1].Data["step"].(map[string]any)
	if stepData["status"] != "completed" {
		t.Fatalf("expected completed step in payload, got %v", stepData["status"])
	}
}

func TestReplanAppendsEscalation(t *testing.T) {
	rec := &events.Recorder{}
	tracker := newTracker(rec)
	plan, _ := tracker.CreatePlan(models.NewIncident("t", "d", "svc", models.SeverityHigh))
	for _, n := range []int{1, 2, 3} {
		_, _ = tracker.StartStep(plan, n)
		_, _ = tracker.CompleteStep(plan, n, nil, 1)
	}
	_, _ = tracker.StartStep(plan, 4)
	_, _ = tracker.FailStep(plan, 4, "patch generation failed", 3)

	esc := tracker.Replan(plan, 4, "patch generation failed")
	if esc.Number != 8 || esc.Tool != ToolEscalate || esc.Status != models.StepPending {
		t.Fatalf("unexpected escalation step %+v", esc)
	}
	if esc.Params["failed_step"] != 4.0 || esc.Params["reason"] != "patch generation failed" {
		t.Fatalf("unexpected escalation params %v", esc.Params)
	}
	if plan.Status != models.PlanReplanned || plan.ReplanCount != 1 || plan.ReplanReason == "" {
		t.Fatalf("unexpected plan after replan: %s/%d", plan.Status, plan.ReplanCount)
	}
	for _, n := range []int{5, 6, 7} {
		s := plan.Step(n)
		if s.Status != models.StepSkipped || !strings.HasPrefix(s.SkipReason, "Skipped due to replan: ") {
			t.Fatalf("step %d expected skipped, got %+v", n, s)
		}
	}
	if plan.Step(4).Status != models.StepFailed {
		t.Fatalf("failed step must stay failed")
	}

	if _, err := tracker.StartStep(plan, esc.Number); err != nil {
		t.Fatalf("start escalation: %v", err)
	}
	if _, err := tracker.CompleteStep(plan, esc.Number, map[string]any{"escalated": true}, 0); err != nil {
		t.Fatalf("complete escalation: %v", err)
	}
	if err := tracker.CompletePlan(plan, models.PlanEscalated, 40); err != nil {
		t.Fatalf("complete plan: %v", err)
	}
	if plan.TotalElapsedMs == nil || *plan.TotalElapsedMs != 40 || plan.CompletedAt == nil {
		t.Fatalf("expected completion stamps on plan")
	}
	if len(rec.OfType(models.EventPlanUpdated)) != 2 {
		t.Fatalf("expected replan and completion to republish the plan")
	}
}

func TestCompletePlanRejectsUnknownOutcome(t *testing.T) {
	tracker := newTracker(nil)
	plan, _ := tracker.CreatePlan(models.NewIncident("t", "d", "svc", models.SeverityHigh))
	if err := tracker.CompletePlan(plan, models.PlanReplanned, 1); !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("expected ErrInvalidOutcome, got %v", err)
	}
}

func TestAbortAndLatest(t *testing.T) {
	tracker := newTracker(nil)
	inc := models.NewIncident("t", "d", "svc", models.SeverityHigh)
	plan, _ := tracker.CreatePlan(inc)
	_, _ = tracker.StartStep(plan, 1)

	tracker.Abort(plan, "store unavailable", 5)

	latest, ok := tracker.Latest(inc.ID)
	if !ok {
		t.Fatalf("expected latest plan")
	}
	if latest.Status != models.PlanFailed || latest.Step(1).Status != models.StepFailed || latest.Step(7).Status != models.StepSkipped {
		t.Fatalf("unexpected aborted plan: %+v", latest)
	}
	latest.Steps[0].Status = models.StepPending
	if plan.Steps[0].Status != models.StepFailed {
		t.Fatalf("Latest must return a copy")
	}
	if _, ok := tracker.Latest("INC-UNKNOWN"); ok {
		t.Fatalf("unexpected plan for unknown incident")
	}
}

func TestCorrelationID(t *testing.T) {
	at := time.Unix(1700000000, 0)
	if got := CorrelationID("INC-ABCD1234", at); got != "INC-ABCD1234-1700000000" {
		t.Fatalf("unexpected correlation id %q", got)
	}
}

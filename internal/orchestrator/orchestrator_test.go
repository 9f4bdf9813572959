package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/miradorstack/mirador-sentinel/internal/agents"
	"github.com/miradorstack/mirador-sentinel/internal/dispatch"
	"github.com/miradorstack/mirador-sentinel/internal/events"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/planner"
	"github.com/miradorstack/mirador-sentinel/internal/store"
	"github.com/miradorstack/mirador-sentinel/internal/tools"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

type fixture struct {
	orch     *Orchestrator
	disp     *dispatch.Dispatcher
	rec      *events.Recorder
	store    *store.Memory
	registry *agents.Registry
}

func newFixture(t *testing.T, cfg Config, caller func(*dispatch.Dispatcher) dispatch.Caller) *fixture {
	t.Helper()
	logger := utils.NewLoggerTo(io.Discard, "error", false)
	rec := &events.Recorder{}
	catalog := tools.DefaultCatalog(tools.NewSimulator(7, 0))
	disp := dispatch.NewDispatcher(catalog, rec, logger, 0)
	registry := agents.NewRegistry(catalog, logger)
	st := store.NewMemory()
	tracker := planner.NewTracker(planner.DefaultThreshold, rec, logger)

	var c dispatch.Caller = disp
	if caller != nil {
		c = caller(disp)
	}
	return &fixture{
		orch:     New(cfg, c, tracker, registry, st, rec, logger),
		disp:     disp,
		rec:      rec,
		store:    st,
		registry: registry,
	}
}

func (f *fixture) bind(t *testing.T, id tools.ID, fn func(context.Context, map[string]any) (map[string]any, error)) {
	t.Helper()
	if err := f.disp.Bind(id, tools.InvokerFunc(fn)); err != nil {
		t.Fatalf("bind %s: %v", id, err)
	}
}

func (f *fixture) diagnoseWith(t *testing.T, confidence float64) {
	f.bind(t, tools.DiagnosticAnalyzeIncident, func(_ context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{
			"incident_id":        params["incident_id"],
			"root_cause":         "N+1 query pattern in payment handler",
			"severity":           "critical",
			"affected_services":  []any{"payment-service", "postgresql"},
			"recommended_action": "Use eager loading",
			"confidence":         confidence,
		}, nil
	})
}

func (f *fixture) healthy(t *testing.T) {
	f.bind(t, tools.MonitorCheckHealth, func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"status": "healthy"}, nil
	})
}

func (f *fixture) statusPath(initial models.IncidentStatus) []models.IncidentStatus {
	path := []models.IncidentStatus{initial}
	for _, e := range f.rec.OfType(models.EventStateTransition) {
		path = append(path, models.IncidentStatus(e.Data["new_status"].(string)))
	}
	return path
}

func (f *fixture) plan(t *testing.T, incidentID string) *models.ExecutionPlan {
	t.Helper()
	plan, ok := f.orch.Tracker().Latest(incidentID)
	if !ok {
		t.Fatalf("no plan for %s", incidentID)
	}
	return plan
}

func (f *fixture) callsFor(correlationID string) []models.CallRecord {
	return f.disp.CallLog().ForCorrelation(correlationID)
}

func newIncident() *models.Incident {
	inc := models.NewIncident("Payment latency spike", "Checkout requests time out", "payment-service", models.SeverityCritical)
	inc.MetricsSnapshot = map[string]any{"cpu_percent": 94.2}
	return inc
}

func samePath(got, want []models.IncidentStatus) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestPipelineResolvesHighConfidenceIncident(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.diagnoseWith(t, 0.94)
	f.healthy(t)

	inc := newIncident()
	out, err := f.orch.HandleIncident(context.Background(), inc)
	if err != nil {
		t.Fatalf("handle incident: %v", err)
	}
	if out.Status != models.StatusResolved {
		t.Fatalf("expected RESOLVED, got %s", out.Status)
	}
	if inc.Status != models.StatusDetected {
		t.Fatalf("caller's incident must not be mutated, got %s", inc.Status)
	}

	want := []models.IncidentStatus{
		models.StatusDetected, models.StatusDiagnosing, models.StatusFixing,
		models.StatusDeploying, models.StatusResolved,
	}
	if path := f.statusPath(models.StatusDetected); !samePath(path, want) {
		t.Fatalf("unexpected path %v", path)
	}

	plan := f.plan(t, inc.ID)
	if plan.Status != models.PlanCompleted || len(plan.Steps) != 7 {
		t.Fatalf("unexpected plan %s with %d steps", plan.Status, len(plan.Steps))
	}
	for _, step := range plan.Steps {
		if step.Status != models.StepCompleted {
			t.Fatalf("step %d not completed: %s", step.Number, step.Status)
		}
	}
	if plan.TotalElapsedMs == nil || plan.CompletedAt == nil {
		t.Fatalf("plan completion not stamped")
	}

	if out.Diagnosis == nil || out.Diagnosis.Confidence != 0.94 {
		t.Fatalf("diagnosis not attached: %+v", out.Diagnosis)
	}
	if out.Fix == nil || out.Fix.ID == "" {
		t.Fatalf("fix not attached: %+v", out.Fix)
	}
	if out.ResolvedAt == nil || out.NeedsAttention {
		t.Fatalf("unexpected resolution fields: resolved=%v attention=%v", out.ResolvedAt, out.NeedsAttention)
	}
	if _, ok := out.MetricsSnapshot["request_rate"]; !ok {
		t.Fatalf("collected metrics not merged: %v", out.MetricsSnapshot)
	}
	if out.MetricsSnapshot["cpu_percent"] != 94.2 {
		t.Fatalf("detection metrics overwritten: %v", out.MetricsSnapshot["cpu_percent"])
	}

	stored, err := f.store.Get(context.Background(), inc.ID)
	if err != nil || stored.Status != models.StatusResolved {
		t.Fatalf("store not updated: %v %+v", err, stored)
	}

	calls := f.callsFor(plan.CorrelationID)
	var names []string
	for _, c := range calls {
		names = append(names, c.Tool)
	}
	wantTools := "monitor.get_metrics,diagnostic.analyze_incident,fixer.generate_patch,fixer.validate_fix," +
		"deploy.run_tests,deploy.validate_pre_deploy,deploy.execute_deployment,monitor.check_health"
	if strings.Join(names, ",") != wantTools {
		t.Fatalf("unexpected call sequence %v", names)
	}

	for _, agent := range f.registry.List() {
		if agent.Status != models.AgentIdle {
			t.Fatalf("agent %s left in %s", agent.Name, agent.Status)
		}
	}
	if info, _ := f.registry.Get(agents.Deploy); info.IncidentsHandled != 1 {
		t.Fatalf("expected deploy handled once, got %d", info.IncidentsHandled)
	}
}

func TestPipelineEscalatesLowConfidence(t *testing.T) {
	cases := []struct {
		name   string
		cfg    Config
		status models.IncidentStatus
	}{
		{name: "human review", cfg: Config{}, status: models.StatusHumanReview},
		{name: "legacy detected", cfg: Config{EscalationStatus: models.StatusDetected}, status: models.StatusDetected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.cfg, nil)
			f.diagnoseWith(t, 0.42)

			inc := newIncident()
			out, err := f.orch.HandleIncident(context.Background(), inc)
			if err != nil {
				t.Fatalf("handle incident: %v", err)
			}
			if out.Status != tc.status || !out.NeedsAttention {
				t.Fatalf("expected %s with attention flag, got %s/%v", tc.status, out.Status, out.NeedsAttention)
			}

			path := f.statusPath(models.StatusDetected)
			if !models.ValidPath(path) || path[len(path)-1] != tc.status {
				t.Fatalf("invalid path %v", path)
			}

			plan := f.plan(t, inc.ID)
			if plan.Status != models.PlanEscalated {
				t.Fatalf("expected escalated plan, got %s", plan.Status)
			}
			for _, step := range plan.Steps {
				want := models.StepCompleted
				if step.Number >= planner.StepGenerateFix {
					want = models.StepSkipped
					if step.SkipReason != "Confidence 42% < 70%" {
						t.Fatalf("unexpected skip reason %q", step.SkipReason)
					}
				}
				if step.Status != want {
					t.Fatalf("step %d: expected %s, got %s", step.Number, want, step.Status)
				}
			}
			if gate := plan.Step(planner.StepConfidenceGate); gate.Result["decision"] != "escalate" {
				t.Fatalf("unexpected gate result %v", gate.Result)
			}

			for _, c := range f.callsFor(plan.CorrelationID) {
				if c.Target == agents.Fixer || c.Target == agents.Deploy {
					t.Fatalf("unexpected %s call after escalation", c.Tool)
				}
			}

			var warned bool
			for _, entry := range out.Timeline {
				if entry.Action == "Escalated to Human Review" && entry.Level == models.LevelWarning {
					warned = true
				}
			}
			if !warned {
				t.Fatalf("expected escalation warning in timeline")
			}
		})
	}
}

func TestConfidenceGateBoundary(t *testing.T) {
	cases := []struct {
		confidence float64
		want       models.IncidentStatus
	}{
		{confidence: 0.70, want: models.StatusResolved},
		{confidence: 0.69, want: models.StatusHumanReview},
		{confidence: 1.5, want: models.StatusResolved},
		{confidence: -3, want: models.StatusHumanReview},
	}
	for _, tc := range cases {
		f := newFixture(t, Config{}, nil)
		f.diagnoseWith(t, tc.confidence)
		f.healthy(t)
		out, err := f.orch.HandleIncident(context.Background(), newIncident())
		if err != nil {
			t.Fatalf("confidence %v: %v", tc.confidence, err)
		}
		if out.Status != tc.want {
			t.Fatalf("confidence %v: expected %s, got %s", tc.confidence, tc.want, out.Status)
		}
	}
}

func TestConfidenceAcceptsNumericShapes(t *testing.T) {
	cases := []struct {
		name  string
		raw   any
		want  float64
		state models.IncidentStatus
	}{
		{name: "int", raw: 1, want: 0.99, state: models.StatusResolved},
		{name: "int64", raw: int64(0), want: 0.01, state: models.StatusHumanReview},
		{name: "float32", raw: float32(0.8), want: 0.8, state: models.StatusResolved},
		{name: "json number", raw: json.Number("0.91"), want: 0.91, state: models.StatusResolved},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Config{}, nil)
			f.bind(t, tools.DiagnosticAnalyzeIncident, func(context.Context, map[string]any) (map[string]any, error) {
				return map[string]any{"root_cause": "connection pool exhausted", "confidence": tc.raw}, nil
			})
			f.healthy(t)
			out, err := f.orch.HandleIncident(context.Background(), newIncident())
			if err != nil {
				t.Fatalf("handle incident: %v", err)
			}
			if out.Diagnosis == nil || out.Diagnosis.Confidence != tc.want {
				t.Fatalf("expected confidence %v, got %+v", tc.want, out.Diagnosis)
			}
			if out.Status != tc.state {
				t.Fatalf("expected %s, got %s", tc.state, out.Status)
			}
		})
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	got := truncate("連接池耗盡導致超時", 4)
	if got != "連接池耗" || !utf8.ValidString(got) {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := truncate("short", 120); got != "short" {
		t.Fatalf("unexpected truncation %q", got)
	}
}

func TestPipelineRollsBackFailedDeployment(t *testing.T) {
	cases := []struct {
		name   string
		tool   tools.ID
		result map[string]any
		reason string
	}{
		{
			name:   "deployment",
			tool:   tools.DeployExecuteDeployment,
			result: map[string]any{"success": false, "reason": "Health check failed after rollout"},
			reason: "Health check failed after rollout",
		},
		{
			name:   "tests",
			tool:   tools.DeployRunTests,
			result: map[string]any{"all_passed": false, "failed": 3.0},
			reason: "Tests failed (3 failures)",
		},
		{
			name:   "pre-deploy",
			tool:   tools.DeployValidatePreDeploy,
			result: map[string]any{"passed": false},
			reason: "Pre-deploy validation failed",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Config{}, nil)
			f.diagnoseWith(t, 0.91)
			f.bind(t, tc.tool, func(context.Context, map[string]any) (map[string]any, error) {
				return tc.result, nil
			})

			inc := newIncident()
			out, err := f.orch.HandleIncident(context.Background(), inc)
			if err != nil {
				t.Fatalf("handle incident: %v", err)
			}
			if out.Status != models.StatusRolledBack || out.ResolvedAt == nil {
				t.Fatalf("expected ROLLED_BACK with resolution time, got %s", out.Status)
			}

			plan := f.plan(t, inc.ID)
			if plan.Status != models.PlanFailed {
				t.Fatalf("expected failed plan, got %s", plan.Status)
			}
			deploy := plan.Step(planner.StepDeploy)
			if deploy.Status != models.StepFailed || deploy.Result["error"] != tc.reason {
				t.Fatalf("unexpected deploy step %+v", deploy)
			}
			if verify := plan.Step(planner.StepVerify); verify.Status != models.StepSkipped {
				t.Fatalf("expected verify skipped, got %s", verify.Status)
			}

			var rolledBack bool
			for _, c := range f.callsFor(plan.CorrelationID) {
				if c.Tool == string(tools.DeployRollback) {
					rolledBack = true
				}
				if c.Tool == string(tools.MonitorCheckHealth) {
					t.Fatalf("verification must not run after a failed deployment")
				}
			}
			if !rolledBack {
				t.Fatalf("expected rollback call")
			}
			if path := f.statusPath(models.StatusDetected); !models.ValidPath(path) {
				t.Fatalf("invalid path %v", path)
			}
		})
	}
}

type panickingCaller struct {
	next dispatch.Caller
	tool string
}

func (p panickingCaller) HandleCall(ctx context.Context, req dispatch.CallRequest) (models.CallRecord, error) {
	if req.Tool == p.tool {
		panic("caller exploded")
	}
	return p.next.HandleCall(ctx, req)
}

func TestPipelineCapturesPanics(t *testing.T) {
	f := newFixture(t, Config{}, func(d *dispatch.Dispatcher) dispatch.Caller {
		return panickingCaller{next: d, tool: string(tools.FixerGeneratePatch)}
	})
	f.diagnoseWith(t, 0.94)

	inc := newIncident()
	out, err := f.orch.HandleIncident(context.Background(), inc)
	if err != nil {
		t.Fatalf("pipeline failures must not escape: %v", err)
	}
	if out.Status != models.StatusFailed {
		t.Fatalf("expected FAILED, got %s", out.Status)
	}

	var errorsInTimeline int
	for _, entry := range out.Timeline {
		if entry.Level == models.LevelError {
			errorsInTimeline++
		}
	}
	if errorsInTimeline != 1 {
		t.Fatalf("expected one error timeline entry, got %d", errorsInTimeline)
	}
	errorEvents := f.rec.OfType(models.EventError)
	if len(errorEvents) != 1 || !strings.Contains(errorEvents[0].Data["error"].(string), "caller exploded") {
		t.Fatalf("expected one error event, got %+v", errorEvents)
	}

	if path := f.statusPath(models.StatusDetected); !models.ValidPath(path) || path[len(path)-1] != models.StatusFailed {
		t.Fatalf("invalid path %v", path)
	}
	plan := f.plan(t, inc.ID)
	if plan.Status != models.PlanFailed {
		t.Fatalf("expected failed plan, got %s", plan.Status)
	}
	if step := plan.Step(planner.StepGenerateFix); step.Status != models.StepFailed {
		t.Fatalf("expected running step failed, got %s", step.Status)
	}
	if info, _ := f.registry.Get(agents.Orchestrator); info.Status != models.AgentError {
		t.Fatalf("expected orchestrator in error, got %s", info.Status)
	}
	if info, _ := f.registry.Get(agents.Fixer); info.Status != models.AgentError {
		t.Fatalf("expected engaged fixer in error, got %s", info.Status)
	}
}

func TestPipelineReplansOnStepFailure(t *testing.T) {
	cases := []struct {
		name   string
		tool   tools.ID
		step   int
		invoke func(context.Context, map[string]any) (map[string]any, error)
	}{
		{
			name: "diagnosis error",
			tool: tools.DiagnosticAnalyzeIncident,
			step: planner.StepDiagnose,
			invoke: func(context.Context, map[string]any) (map[string]any, error) {
				return nil, errors.New("model timeout")
			},
		},
		{
			name: "validation rejected",
			tool: tools.FixerValidateFix,
			step: planner.StepValidateFix,
			invoke: func(context.Context, map[string]any) (map[string]any, error) {
				return map[string]any{"valid": false}, nil
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Config{}, nil)
			if tc.tool != tools.DiagnosticAnalyzeIncident {
				f.diagnoseWith(t, 0.94)
			}
			f.bind(t, tc.tool, tc.invoke)

			inc := newIncident()
			out, err := f.orch.HandleIncident(context.Background(), inc)
			if err != nil {
				t.Fatalf("handle incident: %v", err)
			}
			if out.Status != models.StatusHumanReview || !out.NeedsAttention {
				t.Fatalf("expected HUMAN_REVIEW, got %s", out.Status)
			}

			plan := f.plan(t, inc.ID)
			if plan.Status != models.PlanEscalated || plan.ReplanCount != 1 || plan.ReplanReason == "" {
				t.Fatalf("unexpected plan state %s count=%d reason=%q", plan.Status, plan.ReplanCount, plan.ReplanReason)
			}
			if len(plan.Steps) != 8 {
				t.Fatalf("expected escalation step appended, got %d steps", len(plan.Steps))
			}
			escalation := plan.Steps[7]
			if escalation.Number != 8 || escalation.Tool != planner.ToolEscalate || escalation.Status != models.StepCompleted {
				t.Fatalf("unexpected escalation step %+v", escalation)
			}
			if failed := plan.Step(tc.step); failed.Status != models.StepFailed {
				t.Fatalf("expected step %d failed, got %s", tc.step, failed.Status)
			}
			for _, step := range plan.Steps {
				if step.Number > tc.step && step.Number < 8 && step.Status != models.StepSkipped {
					t.Fatalf("step %d should be skipped, got %s", step.Number, step.Status)
				}
			}
		})
	}
}

func TestPipelineFailsWithoutFix(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.diagnoseWith(t, 0.94)
	f.bind(t, tools.FixerGeneratePatch, func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})

	inc := newIncident()
	out, err := f.orch.HandleIncident(context.Background(), inc)
	if err != nil {
		t.Fatalf("handle incident: %v", err)
	}
	if out.Status != models.StatusFailed || out.Fix != nil {
		t.Fatalf("expected FAILED without fix, got %s", out.Status)
	}
	plan := f.plan(t, inc.ID)
	if plan.Status != models.PlanFailed {
		t.Fatalf("expected failed plan, got %s", plan.Status)
	}
	if plan.Step(planner.StepGenerateFix).Status != models.StepCompleted ||
		plan.Step(planner.StepValidateFix).Status != models.StepFailed ||
		plan.Step(planner.StepDeploy).Status != models.StepSkipped ||
		plan.Step(planner.StepVerify).Status != models.StepSkipped {
		t.Fatalf("unexpected step states %+v", plan.Steps)
	}
}

func TestVerificationInconclusiveStillResolves(t *testing.T) {
	f := newFixture(t, Config{VerifyAttempts: 3}, nil)
	f.diagnoseWith(t, 0.94)
	f.bind(t, tools.MonitorCheckHealth, func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"status": "critical"}, nil
	})

	inc := newIncident()
	out, err := f.orch.HandleIncident(context.Background(), inc)
	if err != nil {
		t.Fatalf("handle incident: %v", err)
	}
	if out.Status != models.StatusResolved {
		t.Fatalf("expected RESOLVED, got %s", out.Status)
	}
	plan := f.plan(t, inc.ID)
	verify := plan.Step(planner.StepVerify)
	if verify.Status != models.StepCompleted || verify.Result["verified"] != false || verify.Result["attempts"] != 3.0 {
		t.Fatalf("unexpected verify step %+v", verify)
	}
	var checks int
	for _, c := range f.callsFor(plan.CorrelationID) {
		if c.Tool == string(tools.MonitorCheckHealth) {
			checks++
		}
	}
	if checks != 3 {
		t.Fatalf("expected 3 health checks, got %d", checks)
	}
}

func TestVerificationHonoursCancellation(t *testing.T) {
	f := newFixture(t, Config{VerifyAttempts: 5, VerifyInterval: 50 * time.Millisecond}, nil)
	f.diagnoseWith(t, 0.94)
	ctx, cancel := context.WithCancel(context.Background())
	f.bind(t, tools.MonitorCheckHealth, func(context.Context, map[string]any) (map[string]any, error) {
		cancel()
		return map[string]any{"status": "critical"}, nil
	})

	out, err := f.orch.HandleIncident(ctx, newIncident())
	if err != nil {
		t.Fatalf("handle incident: %v", err)
	}
	if out.Status != models.StatusFailed {
		t.Fatalf("expected FAILED after cancellation, got %s", out.Status)
	}
}

func TestHandleIncidentRefusesTerminal(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	inc := newIncident()
	inc.Status = models.StatusResolved
	if _, err := f.orch.HandleIncident(context.Background(), inc); !errors.Is(err, ErrTerminalIncident) {
		t.Fatalf("expected ErrTerminalIncident, got %v", err)
	}
	if err := f.orch.StartPipeline(inc); !errors.Is(err, ErrTerminalIncident) {
		t.Fatalf("expected StartPipeline refusal, got %v", err)
	}
}

func TestRerunAfterHumanReview(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	confidence := 0.30
	f.bind(t, tools.DiagnosticAnalyzeIncident, func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"root_cause": "unclear", "confidence": confidence}, nil
	})
	f.healthy(t)

	first, err := f.orch.HandleIncident(context.Background(), newIncident())
	if err != nil || first.Status != models.StatusHumanReview {
		t.Fatalf("expected HUMAN_REVIEW, got %v %v", first, err)
	}

	confidence = 0.95
	second, err := f.orch.HandleIncident(context.Background(), first)
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if second.Status != models.StatusResolved {
		t.Fatalf("expected RESOLVED on rerun, got %s", second.Status)
	}
	if second.NeedsAttention {
		t.Fatalf("resolved rerun still flagged for attention")
	}
	stored, err := f.store.Get(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.NeedsAttention {
		t.Fatalf("stored incident still flagged for attention")
	}
	if path := f.statusPath(models.StatusDetected); !models.ValidPath(path) {
		t.Fatalf("invalid path %v", path)
	}
}

func TestStartPipelineAndWait(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.diagnoseWith(t, 0.94)
	f.healthy(t)

	incidents := []*models.Incident{newIncident(), newIncident(), newIncident()}
	for _, inc := range incidents {
		if err := f.store.Put(context.Background(), inc); err != nil {
			t.Fatalf("put: %v", err)
		}
		if err := f.orch.StartPipeline(inc); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	f.orch.Wait()

	for _, inc := range incidents {
		stored, err := f.store.Get(context.Background(), inc.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if stored.Status != models.StatusResolved {
			t.Fatalf("incident %s ended %s", inc.ID, stored.Status)
		}
	}
}

func TestConfigNormalised(t *testing.T) {
	cfg := Config{EscalationStatus: "bogus", VerifyInterval: -1}.normalised()
	if cfg.EscalationStatus != models.StatusHumanReview || cfg.VerifyAttempts != 3 || cfg.VerifyInterval != 0 {
		t.Fatalf("unexpected normalised config %+v", cfg)
	}
	if zero := (Config{}).normalised(); zero.VerifyAttempts != 3 || zero.VerifyInterval != 0 {
		t.Fatalf("zero config should verify 3 times without pausing, got %+v", zero)
	}
	if DefaultConfig().VerifyInterval != 2*time.Second {
		t.Fatalf("default verify interval should be 2s")
	}
	if DefaultConfig().EscalationStatus != models.StatusHumanReview {
		t.Fatalf("default escalation must be HUMAN_REVIEW")
	}
}

func TestPipelineFailureUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := error(&PipelineFailure{IncidentID: "INC-1", Cause: cause})
	if !errors.Is(err, ErrPipeline) || !errors.Is(err, cause) {
		t.Fatalf("expected PipelineFailure to match ErrPipeline and its cause")
	}
}

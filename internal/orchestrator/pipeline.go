package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/agents"
	"github.com/miradorstack/mirador-sentinel/internal/dispatch"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/planner"
	"github.com/miradorstack/mirador-sentinel/internal/tools"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// run holds the state of one pipeline execution. It is owned by a single goroutine.
type run struct {
	o       *Orchestrator
	ctx     context.Context
	inc     *models.Incident
	plan    *models.ExecutionPlan
	start   time.Time
	logger  *slog.Logger
	engaged string
	calls   int
}

func (r *run) pipeline() error {
	threshold := r.o.Threshold()
	r.o.registry.UpdateStatus(agents.Orchestrator, models.AgentWorking, "Pipeline "+r.inc.ID)
	r.logger.Info("pipeline start", slog.Int("threshold", threshold), slog.String("plan_id", r.plan.ID))

	// A rerun starts from a clean slate; escalation sets it again if needed.
	r.inc.NeedsAttention = false
	r.save()
	r.o.tracker.PublishPlan(r.plan)
	r.o.sink.Publish(models.EventPipelineStarted, r.inc.ID, agents.Orchestrator, map[string]any{
		"incident_id":    r.inc.ID,
		"plan_id":        r.plan.ID,
		"correlation_id": r.plan.CorrelationID,
		"threshold":      float64(threshold),
	})
	r.narrate(agents.Orchestrator, "Execution Plan Created",
		fmt.Sprintf("Generated %d-step plan (%s). Threshold: %d%%.", len(r.plan.Steps), r.plan.ID, threshold))

	if err := r.transition(models.StatusDetected,
		fmt.Sprintf("severity=%s, service=%s", strings.ToUpper(string(r.inc.Severity)), r.inc.Service)); err != nil {
		return err
	}

	// Step 1: baseline metrics.
	metricsResult, err := r.dispatchStep(planner.StepCollectMetrics, "Collecting metrics", nil, nil)
	if err != nil {
		return r.onStepError(err)
	}
	r.mergeMetrics(metricsResult)
	r.narrate(agents.Monitor, "Metrics Collected",
		fmt.Sprintf("Metrics snapshot fetched. CPU=%v%%", metricOrUnknown(r.inc.MetricsSnapshot, "cpu_percent")))

	if err := r.transition(models.StatusDiagnosing, "Diagnostic analysis started"); err != nil {
		return err
	}

	// Step 2: root cause analysis.
	diagResult, err := r.dispatchStep(planner.StepDiagnose, "Analyzing "+r.inc.ID, map[string]any{
		"title":            r.inc.Title,
		"metrics_snapshot": models.CloneMap(r.inc.MetricsSnapshot),
	}, nil)
	if err != nil {
		return r.onStepError(err)
	}
	pct := 0
	if diagnosis := diagnosisFrom(diagResult, r.inc.Severity); diagnosis != nil {
		r.inc.Diagnosis = diagnosis
		pct = models.ConfidencePercent(diagnosis.Confidence)
		r.inc.AddTimelineEntry(agents.Diagnostic, "Root Cause Identified",
			fmt.Sprintf("%s (confidence %d%%)", truncate(diagnosis.RootCause, 120), pct), models.LevelSuccess)
	} else {
		r.inc.AddTimelineEntry(agents.Diagnostic, "Diagnosis Unavailable",
			"Diagnostic result carried no usable diagnosis", models.LevelWarning)
	}
	r.save()
	r.narrate(agents.Diagnostic, "Root Cause Analysis", fmt.Sprintf("Diagnosis complete: confidence=%d%%", pct))

	// Step 3: confidence gate. Never dispatched.
	if _, err := r.o.tracker.StartStep(r.plan, planner.StepConfidenceGate); err != nil {
		return err
	}
	gate := map[string]any{"confidence_pct": float64(pct), "threshold": float64(threshold)}
	if pct < threshold {
		gate["decision"] = "escalate"
		if _, err := r.o.tracker.CompleteStep(r.plan, planner.StepConfidenceGate, gate, r.elapsed()); err != nil {
			return err
		}
		reason := fmt.Sprintf("Confidence %d%% < %d%%", pct, threshold)
		r.o.tracker.SkipRemaining(r.plan, planner.StepGenerateFix, reason)
		if err := r.o.tracker.CompletePlan(r.plan, models.PlanEscalated, r.elapsed()); err != nil {
			return err
		}
		return r.escalate(fmt.Sprintf("Confidence %d%% < threshold %d%%", pct, threshold))
	}
	gate["decision"] = "auto_fix"
	if _, err := r.o.tracker.CompleteStep(r.plan, planner.StepConfidenceGate, gate, r.elapsed()); err != nil {
		return err
	}
	r.narrate(agents.Orchestrator, "Confidence Gate Passed",
		fmt.Sprintf("Confidence %d%% >= %d%%. Routing to fixer.", pct, threshold))

	if err := r.transition(models.StatusFixing, "Fix generation started"); err != nil {
		return err
	}

	// Step 4: generate fix.
	fixParams := map[string]any{"title": r.inc.Title, "description": r.inc.Description}
	if d := r.inc.Diagnosis; d != nil {
		fixParams["root_cause"] = d.RootCause
		fixParams["recommended_action"] = d.RecommendedAction
	}
	fixResult, err := r.dispatchStep(planner.StepGenerateFix, "Generating fix "+r.inc.ID, fixParams, nil)
	if err != nil {
		return r.onStepError(err)
	}
	fix := fixFrom(fixResult)
	if fix == nil {
		if _, err := r.o.tracker.StartStep(r.plan, planner.StepValidateFix); err != nil {
			return err
		}
		if _, err := r.o.tracker.FailStep(r.plan, planner.StepValidateFix, "Fix not generated", 0); err != nil {
			return err
		}
		r.o.tracker.SkipRemaining(r.plan, planner.StepDeploy, "Fix unavailable")
		if err := r.o.tracker.CompletePlan(r.plan, models.PlanFailed, r.elapsed()); err != nil {
			return err
		}
		return errors.New("fix generation produced no result")
	}
	r.inc.Fix = fix
	r.inc.AddTimelineEntry(agents.Fixer, "Fix Generated",
		fmt.Sprintf("%s (%s)", fix.Description, fix.FilePath), models.LevelSuccess)
	r.save()
	r.narrate(agents.Fixer, "Fix Generated", fmt.Sprintf("%q. File: %s.", fix.Description, fix.FilePath))

	// Step 5: validate fix.
	if _, err := r.dispatchStep(planner.StepValidateFix, "Validating fix "+fix.ID, map[string]any{
		"fix_id":     fix.ID,
		"file_path":  fix.FilePath,
		"fixed_code": fix.FixedCode,
	}, func(result map[string]any) string {
		if !boolField(result, "valid", true) {
			return "Fix validation rejected the patch"
		}
		return ""
	}); err != nil {
		return r.onStepError(err)
	}
	r.narrate(agents.Fixer, "Fix Validated", fmt.Sprintf("Fix %s passed validation.", fix.ID))

	if err := r.transition(models.StatusDeploying, "Rolling deployment started"); err != nil {
		return err
	}

	// Step 6: tests, pre-deploy validation, deployment.
	deployResult, err := r.deploy(fix)
	if err != nil {
		var sf *StepFailure
		if errors.As(err, &sf) {
			return r.rollback(sf)
		}
		return err
	}
	version := stringField(deployResult, "deployed_version", "N/A")
	r.narrate(agents.Deploy, "Deployment Complete",
		fmt.Sprintf("Rolling deployment finished. Version: %s. Calls: %d.", version, r.calls))

	// Step 7: verification.
	if err := r.verify(); err != nil {
		return err
	}

	total := r.elapsed()
	now := time.Now().UTC()
	r.inc.ResolvedAt = &now
	if err := r.transition(models.StatusResolved, fmt.Sprintf("Fix live. Version %s. MTTR: %s. Calls: %d.",
		version, utils.FormatSeconds(total), r.calls)); err != nil {
		return err
	}
	r.inc.AddTimelineEntry(agents.Orchestrator, "Incident Resolved",
		fmt.Sprintf("Pipeline complete in %s. %d events. %d calls.", utils.FormatSeconds(total), len(r.inc.Timeline), r.calls),
		models.LevelSuccess)
	r.save()
	r.narrate(agents.Orchestrator, "Remediation Complete",
		fmt.Sprintf("%s restored. MTTR: %s. Plan: %s.", r.inc.Service, utils.FormatSeconds(total), r.plan.ID))
	if err := r.o.tracker.CompletePlan(r.plan, models.PlanCompleted, total); err != nil {
		return err
	}
	r.finish()
	return nil
}

// dispatchStep runs a dispatched plan step. check inspects a successful
// result and returns a non-empty reason when the participant reported failure.
func (r *run) dispatchStep(n int, task string, extra map[string]any, check func(map[string]any) string) (map[string]any, error) {
	step := r.plan.Step(n)
	if step == nil {
		return nil, fmt.Errorf("%w: %d", planner.ErrStepNotFound, n)
	}
	params := models.CloneMap(step.Params)
	if params == nil {
		params = map[string]any{}
	}
	for k, v := range extra {
		params[k] = v
	}

	started := time.Now()
	if _, err := r.o.tracker.StartStep(r.plan, n); err != nil {
		return nil, err
	}
	r.engage(step.Agent, task)
	rec, err := r.call(tools.ID(step.Tool), params)
	if err != nil {
		return nil, err
	}
	elapsed := utils.ElapsedMs(started)
	if !rec.Succeeded() {
		r.release(step.Agent, models.AgentError, false)
		return nil, &StepFailure{Step: n, Tool: step.Tool, Agent: step.Agent, Reason: rec.Error, ElapsedMs: elapsed, CallFailed: true}
	}
	if check != nil {
		if reason := check(rec.Result); reason != "" {
			r.release(step.Agent, models.AgentIdle, false)
			return nil, &StepFailure{Step: n, Tool: step.Tool, Agent: step.Agent, Reason: reason, ElapsedMs: elapsed}
		}
	}
	if _, err := r.o.tracker.CompleteStep(r.plan, n, rec.Result, elapsed); err != nil {
		return nil, err
	}
	r.release(step.Agent, models.AgentIdle, true)
	return rec.Result, nil
}

// call dispatches one tool under the run's correlation id.
func (r *run) call(id tools.ID, params map[string]any) (models.CallRecord, error) {
	rec, err := r.o.caller.HandleCall(r.ctx, dispatch.CallRequest{
		Tool:          string(id),
		Params:        params,
		Caller:        agents.Orchestrator,
		CorrelationID: r.plan.CorrelationID,
		IncidentID:    r.inc.ID,
	})
	if err != nil {
		return rec, err
	}
	r.calls++
	return rec, nil
}

// onStepError routes step failures to the replan path and passes other errors through.
func (r *run) onStepError(err error) error {
	var sf *StepFailure
	if !errors.As(err, &sf) {
		return err
	}
	return r.replan(sf)
}

// replan fails the step, appends and executes the escalation step, and escalates the incident.
func (r *run) replan(sf *StepFailure) error {
	r.logger.Warn("step failed, replanning",
		slog.Int("step", sf.Step),
		slog.String("tool", sf.Tool),
		slog.String("reason", sf.Reason))

	if _, err := r.o.tracker.FailStep(r.plan, sf.Step, sf.Reason, sf.ElapsedMs); err != nil {
		return err
	}
	r.inc.AddTimelineEntry(sf.Agent, "Step Failed",
		fmt.Sprintf("Step %d (%s): %s", sf.Step, sf.Tool, sf.Reason), models.LevelError)

	reason := fmt.Sprintf("step %d (%s) failed: %s", sf.Step, sf.Tool, sf.Reason)
	escalation := r.o.tracker.Replan(r.plan, sf.Step, reason)
	if _, err := r.o.tracker.StartStep(r.plan, escalation.Number); err != nil {
		return err
	}
	if _, err := r.o.tracker.CompleteStep(r.plan, escalation.Number, map[string]any{
		"decision":     "escalate",
		"reason":       reason,
		"escalated_to": string(r.o.cfg.EscalationStatus),
	}, r.elapsed()); err != nil {
		return err
	}
	if err := r.o.tracker.CompletePlan(r.plan, models.PlanEscalated, r.elapsed()); err != nil {
		return err
	}
	return r.escalate("Replanned after " + reason)
}

// escalate hands the incident to a human.
func (r *run) escalate(reason string) error {
	root := "unknown"
	if r.inc.Diagnosis != nil && r.inc.Diagnosis.RootCause != "" {
		root = truncate(r.inc.Diagnosis.RootCause, 120)
	}
	r.logger.Warn("escalating to human review", slog.String("reason", reason))
	r.inc.AddTimelineEntry(agents.Orchestrator, "Escalated to Human Review",
		fmt.Sprintf("%s. Root cause: %s.", reason, root), models.LevelWarning)
	r.inc.NeedsAttention = true
	r.narrate(agents.Orchestrator, "Human Review Required", fmt.Sprintf("%s. Root cause: %s.", reason, root))
	if err := r.transition(r.o.cfg.EscalationStatus, reason); err != nil {
		return err
	}
	r.finish()
	return nil
}

// deploy runs step 6. Business failures come back as *StepFailure with the
// step still in progress.
func (r *run) deploy(fix *models.Fix) (map[string]any, error) {
	step := r.plan.Step(planner.StepDeploy)
	if step == nil {
		return nil, fmt.Errorf("%w: %d", planner.ErrStepNotFound, planner.StepDeploy)
	}
	started := time.Now()
	if _, err := r.o.tracker.StartStep(r.plan, planner.StepDeploy); err != nil {
		return nil, err
	}
	r.engage(agents.Deploy, "Deploying "+r.inc.ID)

	failure := func(tool tools.ID, reason string, callFailed bool) *StepFailure {
		return &StepFailure{
			Step:       planner.StepDeploy,
			Tool:       string(tool),
			Agent:      agents.Deploy,
			Reason:     reason,
			ElapsedMs:  utils.ElapsedMs(started),
			CallFailed: callFailed,
		}
	}
	base := map[string]any{"incident_id": r.inc.ID, "service": r.inc.Service, "fix_id": fix.ID}

	tests, err := r.call(tools.DeployRunTests, models.CloneMap(base))
	if err != nil {
		return nil, err
	}
	if !tests.Succeeded() {
		return nil, failure(tools.DeployRunTests, "Test run failed: "+tests.Error, true)
	}
	if !boolField(tests.Result, "all_passed", true) {
		return nil, failure(tools.DeployRunTests,
			fmt.Sprintf("Tests failed (%v failures)", numberOr(tests.Result, "failed", "unknown")), false)
	}
	r.inc.AddTimelineEntry(agents.Deploy, "Tests Passed",
		fmt.Sprintf("%v tests passed", numberOr(tests.Result, "total", "all")), models.LevelSuccess)

	pre, err := r.call(tools.DeployValidatePreDeploy, models.CloneMap(base))
	if err != nil {
		return nil, err
	}
	if !pre.Succeeded() {
		return nil, failure(tools.DeployValidatePreDeploy, "Pre-deploy validation failed: "+pre.Error, true)
	}
	if !boolField(pre.Result, "passed", true) {
		return nil, failure(tools.DeployValidatePreDeploy, "Pre-deploy validation failed", false)
	}

	params := models.CloneMap(step.Params)
	if params == nil {
		params = map[string]any{}
	}
	params["fix_id"] = fix.ID
	exec, err := r.call(tools.ID(step.Tool), params)
	if err != nil {
		return nil, err
	}
	if !exec.Succeeded() {
		return nil, failure(tools.DeployExecuteDeployment, "Deployment failed: "+exec.Error, true)
	}
	if !boolField(exec.Result, "success", false) {
		return nil, failure(tools.DeployExecuteDeployment,
			stringField(exec.Result, "reason", "Deployment health check failed"), false)
	}

	if _, err := r.o.tracker.CompleteStep(r.plan, planner.StepDeploy, exec.Result, utils.ElapsedMs(started)); err != nil {
		return nil, err
	}
	r.release(agents.Deploy, models.AgentIdle, true)
	r.save()
	return exec.Result, nil
}

// rollback undoes a failed deployment and ends the incident as ROLLED_BACK.
func (r *run) rollback(sf *StepFailure) error {
	r.logger.Warn("deployment failed, rolling back", slog.String("tool", sf.Tool), slog.String("reason", sf.Reason))
	if _, err := r.o.tracker.FailStep(r.plan, planner.StepDeploy, sf.Reason, sf.ElapsedMs); err != nil {
		return err
	}
	if _, err := r.o.tracker.SkipStep(r.plan, planner.StepVerify, "Deployment aborted"); err != nil {
		return err
	}
	r.inc.AddTimelineEntry(agents.Deploy, "Deployment Failed", sf.Reason, models.LevelError)

	rec, err := r.call(tools.DeployRollback, map[string]any{
		"incident_id": r.inc.ID,
		"service":     r.inc.Service,
		"reason":      sf.Reason,
	})
	if err != nil {
		return err
	}
	if rec.Succeeded() {
		r.inc.AddTimelineEntry(agents.Deploy, "Rolled Back",
			fmt.Sprintf("Restored %s", stringField(rec.Result, "rolled_back_to", "previous version")), models.LevelWarning)
	} else {
		r.inc.AddTimelineEntry(agents.Deploy, "Rollback Failed", rec.Error, models.LevelError)
	}
	agentStatus := models.AgentIdle
	if sf.CallFailed || !rec.Succeeded() {
		agentStatus = models.AgentError
	}
	r.release(agents.Deploy, agentStatus, false)

	now := time.Now().UTC()
	r.inc.ResolvedAt = &now
	if err := r.transition(models.StatusRolledBack, sf.Reason+"; rolled back"); err != nil {
		return err
	}
	if err := r.o.tracker.CompletePlan(r.plan, models.PlanFailed, r.elapsed()); err != nil {
		return err
	}
	r.finish()
	return nil
}

// verify polls service health until it reports healthy or degraded, or attempts run out.
func (r *run) verify() error {
	step := r.plan.Step(planner.StepVerify)
	if step == nil {
		return fmt.Errorf("%w: %d", planner.ErrStepNotFound, planner.StepVerify)
	}
	started := time.Now()
	if _, err := r.o.tracker.StartStep(r.plan, planner.StepVerify); err != nil {
		return err
	}
	r.engage(agents.Monitor, "Verifying resolution")

	params := models.CloneMap(step.Params)
	if params == nil {
		params = map[string]any{}
	}
	params["include_metrics"] = true

	attempts := r.o.cfg.VerifyAttempts
	var last models.CallRecord
	verified := false
	attempt := 0
	for attempt < attempts && !verified {
		attempt++
		rec, err := r.call(tools.ID(step.Tool), models.CloneMap(params))
		if err != nil {
			return err
		}
		last = rec
		if rec.Succeeded() {
			switch stringField(rec.Result, "status", "") {
			case "healthy", "degraded":
				verified = true
				continue
			}
		}
		if attempt < attempts {
			if err := sleep(r.ctx, r.o.cfg.VerifyInterval); err != nil {
				return err
			}
		}
	}

	result := models.CloneMap(last.Result)
	if result == nil {
		result = map[string]any{}
	}
	if last.Error != "" {
		result["error"] = last.Error
	}
	result["verified"] = verified
	result["attempts"] = float64(attempt)
	if _, err := r.o.tracker.CompleteStep(r.plan, planner.StepVerify, result, utils.ElapsedMs(started)); err != nil {
		return err
	}
	if verified {
		r.release(agents.Monitor, models.AgentIdle, true)
		r.inc.AddTimelineEntry(agents.Monitor, "Resolution Verified",
			fmt.Sprintf("%s reports %s", r.inc.Service, stringField(result, "status", "healthy")), models.LevelSuccess)
	} else {
		r.release(agents.Monitor, models.AgentIdle, false)
		r.inc.AddTimelineEntry(agents.Monitor, "Verification Inconclusive",
			fmt.Sprintf("Health not confirmed after %d attempts", attempt), models.LevelWarning)
	}
	r.save()
	return nil
}

// transition moves the incident to status to, recording a timeline entry.
// Moving to the current status only records the entry.
func (r *run) transition(to models.IncidentStatus, message string) error {
	from := r.inc.Status
	if from != to && !models.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	r.inc.AddTimelineEntry(agents.Orchestrator, fmt.Sprintf("Status %s", to), message, levelFor(to))
	if from == to {
		r.save()
		return nil
	}
	r.setStatus(to, message)
	return nil
}

// setStatus applies a status change without validation and announces it.
func (r *run) setStatus(to models.IncidentStatus, message string) {
	from := r.inc.Status
	r.inc.Status = to
	elapsed := r.elapsed()
	r.logger.Info("incident transition",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.Int64("elapsed_ms", elapsed),
		slog.String("message", message))
	metrics.ObserveTransition(string(from), string(to))
	r.save()
	r.o.sink.Publish(models.EventStateTransition, r.inc.ID, agents.Orchestrator, map[string]any{
		"incident_id": r.inc.ID,
		"old_status":  string(from),
		"new_status":  string(to),
		"message":     message,
		"elapsed_ms":  float64(elapsed),
		"incident":    models.MustMap(r.inc),
	})
}

func levelFor(status models.IncidentStatus) models.TimelineLevel {
	switch status {
	case models.StatusResolved:
		return models.LevelSuccess
	case models.StatusRolledBack, models.StatusHumanReview:
		return models.LevelWarning
	case models.StatusFailed:
		return models.LevelError
	default:
		return models.LevelInfo
	}
}

// save writes the incident back. The write outlives a cancelled pipeline context.
func (r *run) save() {
	ctx := context.WithoutCancel(r.ctx)
	if err := r.o.store.Put(ctx, r.inc); err != nil {
		r.logger.Warn("incident store write failed", slog.Any("error", err))
	}
}

func (r *run) narrate(agent, action, details string) {
	r.o.sink.Publish(models.EventAgentActivity, r.inc.ID, agent, map[string]any{
		"agent":      agent,
		"action":     action,
		"details":    details,
		"elapsed_ms": float64(r.elapsed()),
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *run) engage(agent, task string) {
	r.o.registry.UpdateStatus(agent, models.AgentWorking, task)
	r.engaged = agent
}

func (r *run) release(agent string, status models.AgentStatus, handled bool) {
	r.o.registry.UpdateStatus(agent, status, "")
	if handled {
		r.o.registry.IncrementHandled(agent)
	}
	if r.engaged == agent {
		r.engaged = ""
	}
}

// finish records the orchestrator as done with this incident.
func (r *run) finish() {
	r.o.registry.UpdateStatus(agents.Orchestrator, models.AgentIdle, "")
	r.o.registry.IncrementHandled(agents.Orchestrator)
	r.logger.Info("pipeline finished",
		slog.String("status", string(r.inc.Status)),
		slog.Int64("elapsed_ms", r.elapsed()),
		slog.Int("events", len(r.inc.Timeline)),
		slog.Int("calls", r.calls),
		slog.String("agents", strings.Join(r.inc.AgentsInvolved, ",")))
}

func (r *run) mergeMetrics(result map[string]any) {
	snapshot, ok := result["snapshot"].(map[string]any)
	if !ok {
		snapshot, ok = result["metrics"].(map[string]any)
	}
	if !ok {
		return
	}
	if r.inc.MetricsSnapshot == nil {
		r.inc.MetricsSnapshot = map[string]any{}
	}
	for k, v := range snapshot {
		if _, exists := r.inc.MetricsSnapshot[k]; !exists {
			r.inc.MetricsSnapshot[k] = v
		}
	}
	r.save()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func diagnosisFrom(result map[string]any, fallback models.Severity) *models.Diagnosis {
	rootCause := stringField(result, "root_cause", "")
	confidence, hasConfidence := toFloat(result["confidence"])
	if rootCause == "" && !hasConfidence {
		return nil
	}
	return &models.Diagnosis{
		RootCause:         rootCause,
		Severity:          models.ParseSeverity(stringField(result, "severity", ""), fallback),
		AffectedServices:  stringSlice(result["affected_services"]),
		RecommendedAction: stringField(result, "recommended_action", ""),
		Confidence:        models.ClampConfidence(confidence),
		ErrorPattern:      stringField(result, "error_pattern", ""),
		LogEvidence:       stringField(result, "log_evidence", ""),
	}
}

func fixFrom(result map[string]any) *models.Fix {
	id := stringField(result, "fix_id", "")
	fixed := stringField(result, "fixed_code", "")
	if id == "" && fixed == "" {
		return nil
	}
	fix := &models.Fix{
		ID:           id,
		Description:  stringField(result, "description", ""),
		FilePath:     stringField(result, "file_path", ""),
		OriginalCode: stringField(result, "original_code", ""),
		FixedCode:    fixed,
		PRURL:        stringField(result, "pr_url", ""),
	}
	if n, ok := result["pr_number"].(float64); ok && n > 0 && n == math.Trunc(n) {
		pr := int(n)
		fix.PRNumber = &pr
	}
	return fix
}

func stringField(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

func boolField(m map[string]any, key string, def bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}

func numberOr(m map[string]any, key string, def any) any {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int:
		return v
	case int64:
		return v
	}
	return def
}

// toFloat accepts the numeric shapes bound invokers and decoded JSON produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func metricOrUnknown(m map[string]any, key string) any {
	if v, ok := m[key]; ok {
		return v
	}
	return "?"
}

func stringSlice(v any) []string {
	switch items := v.(type) {
	case []string:
		return append([]string(nil), items...)
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

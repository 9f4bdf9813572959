package models

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestClampConfidence(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{0.0, 0.01},
		{1.0, 0.99},
		{1.5, 0.99},
		{-3, 0.01},
		{0.5, 0.50},
		{0.876, 0.88},
		{math.NaN(), 0.01},
	}
	for _, tc := range cases {
		if got := ClampConfidence(tc.in); got != tc.want {
			t.Fatalf("ClampConfidence(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestConfidencePercentTruncates(t *testing.T) {
	if got := ConfidencePercent(0.70); got != 70 {
		t.Fatalf("expected 70, got %d", got)
	}
	if got := ConfidencePercent(0.69); got != 69 {
		t.Fatalf("expected 69, got %d", got)
	}
	if got := ConfidencePercent(0.87); got != 87 {
		t.Fatalf("expected 87, got %d", got)
	}
}

func TestIncidentJSONRoundTrip(t *testing.T) {
	inc := NewIncident("High error rate", "5xx spike on checkout", "checkout", SeverityHigh)
	inc.AddTimelineEntry("monitor", "Metrics collected", "cpu=91%", LevelInfo)
	inc.AddTimelineEntry("monitor", "Threshold exceeded", "error_rate=0.12", LevelWarning)
	inc.Diagnosis = &Diagnosis{
		RootCause:         "connection pool exhaustion",
		Severity:          SeverityHigh,
		AffectedServices:  []string{"checkout", "payments"},
		RecommendedAction: "raise pool size",
		Confidence:        0.87,
	}
	pr := 42
	inc.Fix = &Fix{ID: "fix-1", Description: "pool", FilePath: "db.go", PRNumber: &pr}
	resolved := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inc.ResolvedAt = &resolved
	inc.MetricsSnapshot = map[string]any{"cpu_percent": 91.0, "status": "critical"}

	raw, err := json.Marshal(inc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Incident
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(inc, &decoded) {
		t.Fatalf("round trip mismatch:\n%+v\n%+v", inc, &decoded)
	}
	if len(decoded.AgentsInvolved) != 1 || decoded.AgentsInvolved[0] != "monitor" {
		t.Fatalf("expected monitor recorded once, got %v", decoded.AgentsInvolved)
	}
}

func TestPlanJSONRoundTripAndClone(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	elapsed := int64(12)
	plan := &ExecutionPlan{
		ID:            NewPlanID(),
		IncidentID:    "INC-1",
		CorrelationID: "INC-1-1700000000",
		Status:        PlanExecuting,
		CreatedAt:     started,
		Steps: []PlanStep{
			{Number: 1, Agent: "monitor", Action: "collect", Tool: "monitor.get_metrics",
				Params: map[string]any{"service": "checkout"}, Status: StepCompleted,
				Result: map[string]any{"cpu_percent": 40.0}, StartedAt: &started, ElapsedMs: &elapsed},
			{Number: 2, Agent: "diagnostic", Tool: "diagnostic.analyze_incident", Params: map[string]any{}, Status: StepPending},
		},
	}

	raw, err := json.Marshal(plan)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded ExecutionPlan
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(plan, &decoded) {
		t.Fatalf("round trip mismatch:\n%+v\n%+v", plan, &decoded)
	}

	cp := plan.Clone()
	cp.Steps[0].Params["service"] = "payments"
	if plan.Steps[0].Params["service"] != "checkout" {
		t.Fatalf("clone shares params with original")
	}
	if !strings.HasPrefix(plan.ID, "plan-") || len(plan.ID) != len("plan-")+8 {
		t.Fatalf("unexpected plan id %q", plan.ID)
	}
	if plan.MaxStepNumber() != 2 || plan.Step(2) == nil || plan.Step(9) != nil {
		t.Fatalf("unexpected step lookup behaviour")
	}
}

func TestStatusTransitions(t *testing.T) {
	happy := []IncidentStatus{StatusDetected, StatusDiagnosing, StatusFixing, StatusDeploying, StatusResolved}
	if !ValidPath(happy) {
		t.Fatalf("expected happy path valid")
	}
	if !ValidPath([]IncidentStatus{StatusDetected, StatusDiagnosing, StatusHumanReview, StatusDetected}) {
		t.Fatalf("expected review re-run path valid")
	}
	if CanTransition(StatusDetected, StatusResolved) {
		t.Fatalf("DETECTED -> RESOLVED must be rejected")
	}
	for _, terminal := range []IncidentStatus{StatusResolved, StatusRolledBack, StatusFailed} {
		if !terminal.Terminal() {
			t.Fatalf("%s should be terminal", terminal)
		}
		if CanTransition(terminal, StatusDetected) {
			t.Fatalf("%s must not leave", terminal)
		}
	}
	if StatusHumanReview.Terminal() {
		t.Fatalf("HUMAN_REVIEW is not terminal")
	}
}

func TestStepStatusEdges(t *testing.T) {
	if !StepPending.CanMoveTo(StepInProgress) || !StepPending.CanMoveTo(StepSkipped) {
		t.Fatalf("pending edges missing")
	}
	if StepPending.CanMoveTo(StepCompleted) || StepCompleted.CanMoveTo(StepFailed) || StepSkipped.CanMoveTo(StepInProgress) {
		t.Fatalf("unexpected edge allowed")
	}
}

func TestTargetOf(t *testing.T) {
	if TargetOf("fixer.generate_patch") != "fixer" || TargetOf("plain") != "plain" {
		t.Fatalf("unexpected target derivation")
	}
}

package workers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const testPlaybook = `
fallback:
  root_cause: "unknown"
  confidence: 0.4
rules:
  - id: pool
    match:
      keywords: ["connection pool"]
      metric_above:
        cpu_percent: 80
    diagnosis:
      root_cause: "pool exhausted"
      severity: critical
      recommended_action: "raise pool size"
      confidence: 1.3
    fix:
      file_path: "config/db.yaml"
      description: "raise pool"
      fixed_code: "pool: 50"
      test_suggestions: ["soak test"]
  - id: gateway
    match:
      service: api-gateway
    diagnosis:
      root_cause: "gateway misconfigured"
      confidence: 0.8
`

func writePlaybook(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write playbook: %v", err)
	}
	return path
}

func TestLoadPlaybookMissingFile(t *testing.T) {
	pb, err := LoadPlaybook(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pb != nil {
		t.Fatalf("expected nil playbook for missing file")
	}
}

func TestLoadPlaybookInvalidYAML(t *testing.T) {
	path := writePlaybook(t, "rules: [::")
	if _, err := LoadPlaybook(path, nil); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestPlaybookAnalyzeMatchesRule(t *testing.T) {
	pb, err := LoadPlaybook(writePlaybook(t, testPlaybook), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if pb.Rules() != 2 {
		t.Fatalf("expected 2 rules, got %d", pb.Rules())
	}

	result, err := pb.Analyze(context.Background(), map[string]any{
		"incident_id":      "INC-1",
		"service":          "payments",
		"description":      "Connection pool saturation on checkout",
		"metrics_snapshot": map[string]any{"cpu_percent": 93.0},
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result["rule_id"] != "pool" || result["root_cause"] != "pool exhausted" {
		t.Fatalf("unexpected diagnosis: %+v", result)
	}
	if result["confidence"] != 0.99 {
		t.Fatalf("expected clamped confidence 0.99, got %v", result["confidence"])
	}
	affected, _ := result["affected_services"].([]any)
	if len(affected) != 1 || affected[0] != "payments" {
		t.Fatalf("expected service as affected default, got %+v", result["affected_services"])
	}
}

func TestPlaybookAnalyzeMetricThreshold(t *testing.T) {
	pb, err := ParsePlaybook([]byte(testPlaybook), nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	result, _ := pb.Analyze(context.Background(), map[string]any{
		"service":          "payments",
		"description":      "connection pool warnings",
		"metrics_snapshot": map[string]any{"cpu_percent": 40.0},
	})
	if result["rule_id"] != "" || result["root_cause"] != "unknown" {
		t.Fatalf("expected fallback below threshold, got %+v", result)
	}
	if result["confidence"] != 0.4 {
		t.Fatalf("expected fallback confidence, got %v", result["confidence"])
	}
}

func TestPlaybookServiceMatch(t *testing.T) {
	pb, _ := ParsePlaybook([]byte(testPlaybook), nil)
	rule := pb.Match("API-Gateway", "", nil)
	if rule == nil || rule.ID != "gateway" {
		t.Fatalf("expected gateway rule, got %+v", rule)
	}
}

func TestPlaybookGeneratePatch(t *testing.T) {
	pb, _ := ParsePlaybook([]byte(testPlaybook), nil)

	result, err := pb.GeneratePatch(context.Background(), map[string]any{
		"incident_id": "INC-1",
		"service":     "payments",
		"root_cause":  "pool exhausted",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result["fixed_code"] != "pool: 50" || result["file_path"] != "config/db.yaml" {
		t.Fatalf("unexpected fix: %+v", result)
	}
	if id, _ := result["fix_id"].(string); len(id) != len("fix-")+8 {
		t.Fatalf("unexpected fix id %q", id)
	}

	if _, err := pb.GeneratePatch(context.Background(), map[string]any{"service": "api-gateway"}); err == nil {
		t.Fatalf("expected error for rule without fix template")
	}
}

func TestParsePlaybookFallbackDefaults(t *testing.T) {
	pb, err := ParsePlaybook([]byte("rules: []"), nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	result, _ := pb.Analyze(context.Background(), map[string]any{"service": "x"})
	if result["confidence"] != 0.5 {
		t.Fatalf("expected default fallback confidence, got %v", result["confidence"])
	}
}

func TestShippedPlaybookParses(t *testing.T) {
	pb, err := LoadPlaybook(filepath.Join("..", "..", "configs", "diagnostics", "default.yaml"), nil)
	if err != nil {
		t.Fatalf("load shipped playbook: %v", err)
	}
	if pb == nil || pb.Rules() != 4 {
		t.Fatalf("expected 4 shipped rules")
	}
	rule := pb.Match("api-gateway", "pods in CrashLoop with OOM", nil)
	if rule == nil || rule.ID != "oom-killed" {
		t.Fatalf("expected oom rule, got %+v", rule)
	}
}

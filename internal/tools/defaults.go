package tools

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Simulator produces plausible tool results without external systems.
// It backs the catalog defaults used when no worker is bound.
type Simulator struct {
	mu      sync.Mutex
	rng     *rand.Rand
	latency time.Duration
}

// NewSimulator creates a simulator. A zero seed uses the current time.
func NewSimulator(seed int64, latency time.Duration) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{rng: rand.New(rand.NewSource(seed)), latency: latency}
}

// DefaultCatalog returns the full tool set backed by sim.
func DefaultCatalog(sim *Simulator) *Catalog {
	if sim == nil {
		sim = NewSimulator(0, 0)
	}
	return NewCatalog(
		Tool{
			ID:          MonitorCheckHealth,
			Description: "Check the health status of a service. Returns CPU, memory, error rate and P99 latency.",
			InputSchema: objectSchema(nil,
				prop("service", "string", "Service name to check. Omit for all services."),
				prop("include_metrics", "boolean", "Whether to include a detailed metrics snapshot."),
			),
			Default: InvokerFunc(sim.checkHealth),
		},
		Tool{
			ID:          MonitorGetMetrics,
			Description: "Retrieve a metrics snapshot for a service over a look-back window.",
			InputSchema: objectSchema([]string{"service"},
				prop("service", "string", "Target service name."),
				prop("window_minutes", "integer", "Look-back window in minutes."),
			),
			Default: InvokerFunc(sim.getMetrics),
		},
		Tool{
			ID:          DiagnosticAnalyzeIncident,
			Description: "Analyze an incident and return a root cause with confidence, affected services and a recommended action.",
			InputSchema: objectSchema([]string{"incident_id", "service", "description"},
				prop("incident_id", "string", "Incident identifier."),
				prop("service", "string", "Affected service name."),
				prop("description", "string", "Incident description."),
				prop("metrics_snapshot", "object", "Current metrics snapshot."),
			),
			Default: InvokerFunc(sim.analyzeIncident),
		},
		Tool{
			ID:          DiagnosticGetRootCause,
			Description: "Return the previously determined root cause for an incident.",
			InputSchema: objectSchema([]string{"incident_id"},
				prop("incident_id", "string", "Incident identifier."),
			),
			Default: InvokerFunc(sim.getRootCause),
		},
		Tool{
			ID:          FixerGeneratePatch,
			Description: "Generate a code fix for a diagnosed incident. Returns file path, original and fixed code.",
			InputSchema: objectSchema([]string{"incident_id"},
				prop("incident_id", "string", "Incident identifier."),
				prop("root_cause", "string", "Root cause from the diagnosis."),
				prop("recommended_action", "string", "Recommended action from the diagnosis."),
				prop("service", "string", "Target service to fix."),
			),
			Default: InvokerFunc(sim.generatePatch),
		},
		Tool{
			ID:          FixerValidateFix,
			Description: "Validate that a generated fix is safe to deploy.",
			InputSchema: objectSchema([]string{"incident_id"},
				prop("incident_id", "string", "Incident identifier."),
				prop("fix_id", "string", "Fix identifier from generate_patch."),
				prop("file_path", "string", "File that will be modified."),
			),
			Default: InvokerFunc(sim.validateFix),
		},
		Tool{
			ID:          DeployRunTests,
			Description: "Run the test suite against a fix before rollout.",
			InputSchema: objectSchema([]string{"incident_id"},
				prop("incident_id", "string", "Incident identifier."),
				prop("fix_id", "string", "Fix identifier under test."),
				prop("service", "string", "Target service."),
			),
			Default: InvokerFunc(sim.runTests),
		},
		Tool{
			ID:          DeployValidatePreDeploy,
			Description: "Run pre-deployment checks such as image scan and resource quota.",
			InputSchema: objectSchema([]string{"incident_id"},
				prop("incident_id", "string", "Incident identifier."),
				prop("service", "string", "Target service."),
			),
			Default: InvokerFunc(sim.validatePreDeploy),
		},
		Tool{
			ID:          DeployExecuteDeployment,
			Description: "Execute a rolling deployment of a validated fix.",
			InputSchema: objectSchema([]string{"incident_id"},
				prop("incident_id", "string", "Incident identifier."),
				prop("fix_id", "string", "Fix identifier to deploy."),
				prop("service", "string", "Target service."),
				map[string]any{"name": "strategy", "schema": map[string]any{
					"type":        "string",
					"enum":        []any{"rolling", "blue_green", "canary"},
					"default":     "rolling",
					"description": "Deployment strategy.",
				}},
			),
			Default: InvokerFunc(sim.executeDeployment),
		},
		Tool{
			ID:          DeployRollback,
			Description: "Roll back a failed deployment to the last stable version.",
			InputSchema: objectSchema([]string{"incident_id", "service"},
				prop("incident_id", "string", "Incident identifier."),
				prop("service", "string", "Service to roll back."),
				prop("reason", "string", "Reason for rollback."),
			),
			Default: InvokerFunc(sim.rollback),
		},
	)
}

func prop(name, typ, description string) map[string]any {
	return map[string]any{"name": name, "schema": map[string]any{"type": typ, "description": description}}
}

func objectSchema(required []string, props ...map[string]any) map[string]any {
	properties := make(map[string]any, len(props))
	for _, p := range props {
		properties[p["name"].(string)] = p["schema"]
	}
	req := make([]any, 0, len(required))
	for _, r := range required {
		req = append(req, r)
	}
	return map[string]any{"type": "object", "properties": properties, "required": req}
}

func (s *Simulator) pause(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Simulator) uniform(lo, hi float64, decimals int) float64 {
	s.mu.Lock()
	v := lo + s.rng.Float64()*(hi-lo)
	s.mu.Unlock()
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}

func (s *Simulator) intn(lo, hi int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.rng.Intn(hi-lo+1)
}

func stringParam(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func (s *Simulator) checkHealth(ctx context.Context, params map[string]any) (map[string]any, error) {
	if err := s.pause(ctx); err != nil {
		return nil, err
	}
	status := "healthy"
	if s.intn(0, 2) > 0 {
		status = "degraded"
	}
	return map[string]any{
		"service":    stringParam(params, "service", "all-services"),
		"status":     status,
		"checked_at": now(),
		"metrics": map[string]any{
			"cpu_percent":    s.uniform(20, 95, 1),
			"memory_percent": s.uniform(30, 90, 1),
			"error_rate":     s.uniform(0, 0.4, 3),
			"latency_p99_ms": float64(s.intn(100, 8000)),
		},
	}, nil
}

func (s *Simulator) getMetrics(ctx context.Context, params map[string]any) (map[string]any, error) {
	if err := s.pause(ctx); err != nil {
		return nil, err
	}
	window := 15.0
	if v, ok := params["window_minutes"].(float64); ok && v > 0 {
		window = v
	}
	return map[string]any{
		"service":        stringParam(params, "service", "unknown"),
		"window_minutes": window,
		"snapshot": map[string]any{
			"cpu_percent":        s.uniform(20, 99, 1),
			"memory_percent":     s.uniform(30, 98, 1),
			"error_rate":         s.uniform(0, 0.5, 3),
			"latency_p99_ms":     float64(s.intn(100, 15000)),
			"request_rate":       float64(s.intn(100, 5000)),
			"active_connections": float64(s.intn(5, 120)),
		},
		"queried_at": now(),
	}, nil
}

func (s *Simulator) analyzeIncident(ctx context.Context, params map[string]any) (map[string]any, error) {
	if err := s.pause(ctx); err != nil {
		return nil, err
	}
	return map[string]any{
		"incident_id":        params["incident_id"],
		"root_cause":         "Simulated root cause analysis",
		"confidence":         0.87,
		"severity":           "high",
		"affected_services":  []any{stringParam(params, "service", "unknown")},
		"recommended_action": "Apply the suggested fix and monitor for 10 minutes.",
		"analyzed_at":        now(),
	}, nil
}

func (s *Simulator) getRootCause(ctx context.Context, params map[string]any) (map[string]any, error) {
	if err := s.pause(ctx); err != nil {
		return nil, err
	}
	return map[string]any{
		"incident_id":  params["incident_id"],
		"root_cause":   "Retrieved from diagnosis store",
		"confidence":   0.90,
		"retrieved_at": now(),
	}, nil
}

func (s *Simulator) generatePatch(ctx context.Context, params map[string]any) (map[string]any, error) {
	if err := s.pause(ctx); err != nil {
		return nil, err
	}
	return map[string]any{
		"incident_id":      params["incident_id"],
		"fix_id":           fmt.Sprintf("fix-%06d", s.intn(0, 999999)),
		"file_path":        fmt.Sprintf("src/services/%s.ts", stringParam(params, "service", "unknown")),
		"description":      "Auto-generated fix",
		"original_code":    "// original code",
		"fixed_code":       "// fixed code",
		"risk_level":       "low",
		"test_suggestions": []any{"Unit test coverage", "Load test post-fix"},
		"generated_at":     now(),
	}, nil
}

func (s *Simulator) validateFix(ctx context.Context, params map[string]any) (map[string]any, error) {
	if err := s.pause(ctx); err != nil {
		return nil, err
	}
	return map[string]any{
		"fix_id":          params["fix_id"],
		"valid":           true,
		"security_scan":   "passed",
		"static_analysis": "passed",
		"risk_assessment": "low",
		"validated_at":    now(),
	}, nil
}

func (s *Simulator) runTests(ctx context.Context, params map[string]any) (map[string]any, error) {
	if err := s.pause(ctx); err != nil {
		return nil, err
	}
	total := float64(s.intn(40, 120))
	return map[string]any{
		"incident_id": params["incident_id"],
		"all_passed":  true,
		"total":       total,
		"passed":      total,
		"failed":      0.0,
		"ran_at":      now(),
	}, nil
}

func (s *Simulator) validatePreDeploy(ctx context.Context, params map[string]any) (map[string]any, error) {
	if err := s.pause(ctx); err != nil {
		return nil, err
	}
	return map[string]any{
		"incident_id": params["incident_id"],
		"passed":      true,
		"checks": map[string]any{
			"image_scan":     "passed",
			"resource_quota": "passed",
			"config_drift":   "passed",
		},
		"validated_at": now(),
	}, nil
}

func (s *Simulator) executeDeployment(ctx context.Context, params map[string]any) (map[string]any, error) {
	if err := s.pause(ctx); err != nil {
		return nil, err
	}
	return map[string]any{
		"incident_id":      params["incident_id"],
		"fix_id":           params["fix_id"],
		"success":          true,
		"deployed_version": fmt.Sprintf("v%d", s.intn(100, 999)),
		"strategy":         stringParam(params, "strategy", "rolling"),
		"deployed_at":      now(),
	}, nil
}

func (s *Simulator) rollback(ctx context.Context, params map[string]any) (map[string]any, error) {
	if err := s.pause(ctx); err != nil {
		return nil, err
	}
	return map[string]any{
		"incident_id":    params["incident_id"],
		"service":        params["service"],
		"rolled_back_to": "previous-stable",
		"success":        true,
		"rolled_back_at": now(),
	}, nil
}

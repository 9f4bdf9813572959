package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/tools"
)

// Playbook is a YAML rule pack mapping incident signals to a diagnosis and a
// fix template. It backs the diagnostic and fixer capabilities in simulated mode.
type Playbook struct {
	rules    []Rule
	fallback Fallback
	logger   *slog.Logger
}

// Rule matches an incident and carries the diagnosis and fix it produces.
type Rule struct {
	ID        string        `yaml:"id"`
	Match     RuleMatch     `yaml:"match"`
	Diagnosis RuleDiagnosis `yaml:"diagnosis"`
	Fix       RuleFix       `yaml:"fix"`
}

// RuleMatch defines optional attributes for rule matching. All populated fields must match.
type RuleMatch struct {
	Service     string             `yaml:"service"`
	Keywords    []string           `yaml:"keywords"`
	MetricAbove map[string]float64 `yaml:"metric_above"`
}

// RuleDiagnosis is the diagnosis emitted when a rule matches.
type RuleDiagnosis struct {
	RootCause         string   `yaml:"root_cause"`
	Severity          string   `yaml:"severity"`
	AffectedServices  []string `yaml:"affected_services"`
	RecommendedAction string   `yaml:"recommended_action"`
	Confidence        float64  `yaml:"confidence"`
	ErrorPattern      string   `yaml:"error_pattern"`
	LogEvidence       string   `yaml:"log_evidence"`
}

// RuleFix is the fix template emitted for a matched rule.
type RuleFix struct {
	FilePath        string   `yaml:"file_path"`
	Description     string   `yaml:"description"`
	OriginalCode    string   `yaml:"original_code"`
	FixedCode       string   `yaml:"fixed_code"`
	RiskLevel       string   `yaml:"risk_level"`
	TestSuggestions []string `yaml:"test_suggestions"`
}

// Fallback applies when no rule matches.
type Fallback struct {
	RootCause         string  `yaml:"root_cause"`
	RecommendedAction string  `yaml:"recommended_action"`
	Confidence        float64 `yaml:"confidence"`
}

// PlaybookFile is the YAML root structure.
type PlaybookFile struct {
	Rules    []Rule   `yaml:"rules"`
	Fallback Fallback `yaml:"fallback"`
}

// LoadPlaybook reads a rule pack from path. A missing file yields a nil playbook.
func LoadPlaybook(path string, logger *slog.Logger) (*Playbook, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return ParsePlaybook(data, logger)
}

// ParsePlaybook decodes a rule pack.
func ParsePlaybook(data []byte, logger *slog.Logger) (*Playbook, error) {
	var file PlaybookFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse playbook: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if file.Fallback.RootCause == "" {
		file.Fallback.RootCause = "Root cause undetermined; manual investigation required"
	}
	if file.Fallback.RecommendedAction == "" {
		file.Fallback.RecommendedAction = "Manual investigation required"
	}
	if file.Fallback.Confidence == 0 {
		file.Fallback.Confidence = 0.5
	}
	return &Playbook{rules: file.Rules, fallback: file.Fallback, logger: logger}, nil
}

// Rules returns the number of loaded rules.
func (p *Playbook) Rules() int {
	if p == nil {
		return 0
	}
	return len(p.rules)
}

// Bindings returns invokers for the tools the playbook can serve.
func (p *Playbook) Bindings() map[tools.ID]tools.Invoker {
	return map[tools.ID]tools.Invoker{
		tools.DiagnosticAnalyzeIncident: tools.InvokerFunc(p.Analyze),
		tools.FixerGeneratePatch:        tools.InvokerFunc(p.GeneratePatch),
	}
}

// Match returns the first rule matching the signals, or nil.
func (p *Playbook) Match(service, text string, metrics map[string]any) *Rule {
	return p.match(service, text, metrics, true)
}

func (p *Playbook) match(service, text string, metrics map[string]any, checkMetrics bool) *Rule {
	if p == nil {
		return nil
	}
	text = strings.ToLower(text)
	for i := range p.rules {
		rule := &p.rules[i]
		if rule.Match.Service != "" && !strings.EqualFold(rule.Match.Service, service) {
			continue
		}
		if len(rule.Match.Keywords) > 0 && !containsAny(text, rule.Match.Keywords) {
			continue
		}
		if checkMetrics && len(rule.Match.MetricAbove) > 0 && !metricsAbove(metrics, rule.Match.MetricAbove) {
			continue
		}
		return rule
	}
	return nil
}

// Analyze serves diagnostic.analyze_incident.
func (p *Playbook) Analyze(_ context.Context, params map[string]any) (map[string]any, error) {
	service, _ := params["service"].(string)
	metrics, _ := params["metrics_snapshot"].(map[string]any)
	rule := p.Match(service, signalText(params), metrics)

	if rule == nil {
		p.logger.Debug("no playbook rule matched", slog.String("service", service))
		return map[string]any{
			"incident_id":        params["incident_id"],
			"root_cause":         p.fallback.RootCause,
			"severity":           "medium",
			"affected_services":  []any{service},
			"recommended_action": p.fallback.RecommendedAction,
			"confidence":         p.fallback.Confidence,
			"rule_id":            "",
			"analyzed_at":        time.Now().UTC().Format(time.RFC3339Nano),
		}, nil
	}

	d := rule.Diagnosis
	affected := d.AffectedServices
	if len(affected) == 0 {
		affected = []string{service}
	}
	p.logger.Debug("playbook rule matched", slog.String("rule", rule.ID), slog.String("service", service))
	return map[string]any{
		"incident_id":        params["incident_id"],
		"root_cause":         d.RootCause,
		"severity":           string(models.ParseSeverity(d.Severity, models.SeverityHigh)),
		"affected_services":  toAnySlice(affected),
		"recommended_action": d.RecommendedAction,
		"confidence":         models.ClampConfidence(d.Confidence),
		"error_pattern":      d.ErrorPattern,
		"log_evidence":       d.LogEvidence,
		"rule_id":            rule.ID,
		"analyzed_at":        time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

// GeneratePatch serves fixer.generate_patch. The rule whose root cause was
// diagnosed wins; otherwise rules are matched on text alone.
func (p *Playbook) GeneratePatch(_ context.Context, params map[string]any) (map[string]any, error) {
	service, _ := params["service"].(string)
	rootCause, _ := params["root_cause"].(string)
	rule := p.byRootCause(rootCause)
	if rule == nil {
		rule = p.match(service, signalText(params), nil, false)
	}
	if rule == nil || rule.Fix.FixedCode == "" {
		return nil, fmt.Errorf("no fix template for service %q", service)
	}
	f := rule.Fix
	return map[string]any{
		"incident_id":      params["incident_id"],
		"fix_id":           "fix-" + uuid.NewString()[:8],
		"file_path":        f.FilePath,
		"description":      f.Description,
		"original_code":    f.OriginalCode,
		"fixed_code":       f.FixedCode,
		"risk_level":       f.RiskLevel,
		"test_suggestions": toAnySlice(f.TestSuggestions),
		"rule_id":          rule.ID,
		"generated_at":     time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

func (p *Playbook) byRootCause(rootCause string) *Rule {
	if p == nil || rootCause == "" {
		return nil
	}
	for i := range p.rules {
		if p.rules[i].Diagnosis.RootCause == rootCause {
			return &p.rules[i]
		}
	}
	return nil
}

func signalText(params map[string]any) string {
	var parts []string
	for _, key := range []string{"title", "description", "root_cause", "recommended_action"} {
		if v, ok := params[key].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func metricsAbove(metrics map[string]any, thresholds map[string]float64) bool {
	for name, limit := range thresholds {
		v, ok := metrics[name].(float64)
		if !ok || v <= limit {
			return false
		}
	}
	return true
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

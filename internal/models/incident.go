package models

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity maps free text onto a Severity, falling back to def.
func ParseSeverity(value string, def Severity) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(value))) {
	case SeverityLow:
		return SeverityLow
	case SeverityMedium:
		return SeverityMedium
	case SeverityHigh:
		return SeverityHigh
	case SeverityCritical:
		return SeverityCritical
	default:
		return def
	}
}

// TimelineLevel tags a timeline entry for observers.
type TimelineLevel string

const (
	LevelInfo    TimelineLevel = "info"
	LevelSuccess TimelineLevel = "success"
	LevelWarning TimelineLevel = "warning"
	LevelError   TimelineLevel = "error"
)

// TimelineEntry is one human-readable step in an incident's history.
type TimelineEntry struct {
	Timestamp time.Time     `json:"timestamp"`
	Agent     string        `json:"agent"`
	Action    string        `json:"action"`
	Details   string        `json:"details"`
	Level     TimelineLevel `json:"level"`
}

// Diagnosis is the structured root-cause result attached to an incident.
type Diagnosis struct {
	RootCause         string   `json:"root_cause"`
	Severity          Severity `json:"severity"`
	AffectedServices  []string `json:"affected_services"`
	RecommendedAction string   `json:"recommended_action"`
	Confidence        float64  `json:"confidence"`
	ErrorPattern      string   `json:"error_pattern,omitempty"`
	LogEvidence       string   `json:"log_evidence,omitempty"`
}

const (
	minConfidence = 0.01
	maxConfidence = 0.99
)

// ClampConfidence bounds a raw confidence to [0.01, 0.99] and rounds to two decimals.
// A diagnosis is never certain nor impossible.
func ClampConfidence(raw float64) float64 {
	if math.IsNaN(raw) {
		return minConfidence
	}
	c := math.Max(minConfidence, math.Min(maxConfidence, raw))
	return math.Round(c*100) / 100
}

// ConfidencePercent truncates a confidence to a whole percentage.
func ConfidencePercent(confidence float64) int {
	return int(math.Floor(confidence*100 + 1e-9))
}

// Fix is a proposed remediation artifact.
type Fix struct {
	ID           string `json:"fix_id"`
	Description  string `json:"description"`
	FilePath     string `json:"file_path"`
	OriginalCode string `json:"original_code"`
	FixedCode    string `json:"fixed_code"`
	PRNumber     *int   `json:"pr_number,omitempty"`
	PRURL        string `json:"pr_url,omitempty"`
}

// Incident is a detected anomalous condition requiring remediation.
type Incident struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Severity        Severity        `json:"severity"`
	Status          IncidentStatus  `json:"status"`
	Service         string          `json:"service"`
	Environment     string          `json:"environment"`
	DetectedAt      time.Time       `json:"detected_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	AgentsInvolved  []string        `json:"agents_involved"`
	Timeline        []TimelineEntry `json:"timeline"`
	Diagnosis       *Diagnosis      `json:"diagnosis,omitempty"`
	Fix             *Fix            `json:"fix,omitempty"`
	ErrorCount      int             `json:"error_count"`
	AffectedUsers   int             `json:"affected_users"`
	MetricsSnapshot map[string]any  `json:"metrics_snapshot,omitempty"`
	NeedsAttention  bool            `json:"needs_attention"`
}

// NewIncidentID returns an identifier of the form INC-1A2B3C4D.
func NewIncidentID() string {
	return "INC-" + strings.ToUpper(uuid.NewString()[:8])
}

// NewIncident creates a DETECTED incident with defaults filled in.
func NewIncident(title, description, service string, severity Severity) *Incident {
	return &Incident{
		ID:             NewIncidentID(),
		Title:          title,
		Description:    description,
		Severity:       severity,
		Status:         StatusDetected,
		Service:        service,
		Environment:    "production",
		DetectedAt:     time.Now().UTC(),
		AgentsInvolved: []string{},
		Timeline:       []TimelineEntry{},
	}
}

// AddTimelineEntry appends an entry and records the agent as involved.
func (i *Incident) AddTimelineEntry(agent, action, details string, level TimelineLevel) TimelineEntry {
	entry := TimelineEntry{
		Timestamp: time.Now().UTC(),
		Agent:     agent,
		Action:    action,
		Details:   details,
		Level:     level,
	}
	i.Timeline = append(i.Timeline, entry)
	i.markInvolved(agent)
	return entry
}

func (i *Incident) markInvolved(agent string) {
	if agent == "" {
		return
	}
	for _, a := range i.AgentsInvolved {
		if a == agent {
			return
		}
	}
	i.AgentsInvolved = append(i.AgentsInvolved, agent)
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	out := *i
	if i.ResolvedAt != nil {
		t := *i.ResolvedAt
		out.ResolvedAt = &t
	}
	out.AgentsInvolved = cloneSlice(i.AgentsInvolved)
	out.Timeline = cloneSlice(i.Timeline)
	if i.Diagnosis != nil {
		d := *i.Diagnosis
		d.AffectedServices = cloneSlice(i.Diagnosis.AffectedServices)
		out.Diagnosis = &d
	}
	if i.Fix != nil {
		f := *i.Fix
		if i.Fix.PRNumber != nil {
			n := *i.Fix.PRNumber
			f.PRNumber = &n
		}
		out.Fix = &f
	}
	out.MetricsSnapshot = CloneMap(i.MetricsSnapshot)
	return &out
}

// cloneSlice copies in, keeping nil and empty slices distinct.
func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	return append(make([]T, 0, len(in)), in...)
}

// CloneMap deep-copies a JSON-like map.
func CloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return CloneMap(typed)
	case []any:
		cp := make([]any, len(typed))
		for i, item := range typed {
			cp[i] = cloneValue(item)
		}
		return cp
	case []string:
		return cloneSlice(typed)
	default:
		return v
	}
}

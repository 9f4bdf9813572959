package agents

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/tools"
)

// Participant names.
const (
	Monitor      = "monitor"
	Diagnostic   = "diagnostic"
	Fixer        = "fixer"
	Deploy       = "deploy"
	Orchestrator = "orchestrator"
)

// Definition is the static description of a participant.
type Definition struct {
	Name         string
	Description  string
	Capabilities []string
}

// Definitions lists the built-in participants.
var Definitions = []Definition{
	{
		Name:         Monitor,
		Description:  "Polls service health and metrics for anomalies such as CPU spikes, memory leaks, high error rates and SLA breaches.",
		Capabilities: []string{"anomaly_detection", "metrics_collection", "incident_creation", "sla_monitoring"},
	},
	{
		Name:         Diagnostic,
		Description:  "Performs root cause analysis over logs, metrics and error patterns and reports a confidence score.",
		Capabilities: []string{"root_cause_analysis", "log_correlation", "confidence_scoring"},
	},
	{
		Name:         Fixer,
		Description:  "Generates production-safe code fixes and validates them before deployment.",
		Capabilities: []string{"code_generation", "risk_assessment", "test_suggestion"},
	},
	{
		Name:         Deploy,
		Description:  "Runs tests and pre-deploy validation, rolls out fixes and rolls back on failure.",
		Capabilities: []string{"test_execution", "rolling_deployment", "health_check_validation", "automatic_rollback"},
	},
	{
		Name:         Orchestrator,
		Description:  "Coordinates the remediation pipeline, applies confidence gating and escalates to human review.",
		Capabilities: []string{"pipeline_orchestration", "task_planning", "confidence_routing", "human_escalation"},
	},
}

// Registry tracks participants and their live status.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*models.AgentInfo
	logger *slog.Logger
}

// NewRegistry returns a registry pre-populated with the built-in participants.
// Tool lists come from the catalog by owner prefix.
func NewRegistry(catalog *tools.Catalog, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{agents: make(map[string]*models.AgentInfo), logger: logger}
	for _, def := range Definitions {
		var owned []string
		if catalog != nil {
			owned = catalog.OwnedBy(def.Name)
		}
		r.Register(def.Name, def.Description, def.Capabilities, owned)
	}
	return r
}

// Register adds or replaces a participant.
func (r *Registry) Register(name, description string, capabilities, toolNames []string) models.AgentInfo {
	info := &models.AgentInfo{
		Name:         name,
		Description:  description,
		Capabilities: append([]string{}, capabilities...),
		Tools:        append([]string{}, toolNames...),
		Status:       models.AgentIdle,
		RegisteredAt: time.Now().UTC(),
	}
	r.mu.Lock()
	r.agents[name] = info
	r.mu.Unlock()
	r.logger.Debug("agent registered", slog.String("agent", name), slog.Int("tools", len(toolNames)))
	return info.Clone()
}

// UpdateStatus sets the live status and task label. Unknown names are ignored.
func (r *Registry) UpdateStatus(name string, status models.AgentStatus, task string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.agents[name]
	if !ok {
		return
	}
	now := time.Now().UTC()
	info.Status = status
	info.CurrentTask = task
	info.LastActiveAt = &now
}

// IncrementHandled bumps the handled counter. Unknown names are ignored.
func (r *Registry) IncrementHandled(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.agents[name]; ok {
		info.IncidentsHandled++
	}
}

// Get returns a snapshot of one participant.
func (r *Registry) Get(name string) (models.AgentInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.agents[name]
	if !ok {
		return models.AgentInfo{}, false
	}
	return info.Clone(), true
}

// List returns snapshots of every participant sorted by name.
func (r *Registry) List() []models.AgentInfo {
	r.mu.RLock()
	out := make([]models.AgentInfo, 0, len(r.agents))
	for _, info := range r.agents {
		out = append(out, info.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tools returns the tool names a participant owns.
func (r *Registry) Tools(name string) []string {
	info, ok := r.Get(name)
	if !ok {
		return nil
	}
	return info.Tools
}

// Capabilities returns a participant's capability labels.
func (r *Registry) Capabilities(name string) []string {
	info, ok := r.Get(name)
	if !ok {
		return nil
	}
	return info.Capabilities
}

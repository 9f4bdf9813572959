package monitor

import (
	"fmt"
	"strings"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Health is the payload served by a service health endpoint.
// ErrorRate is a percentage.
type Health struct {
	Status        string   `json:"status"`
	MemoryUsageMB float64  `json:"memory_usage_mb"`
	CPUPercent    float64  `json:"cpu_percent"`
	ErrorRate     float64  `json:"error_rate"`
	AvgLatencyMs  float64  `json:"avg_latency_ms"`
	ActiveChaos   []string `json:"active_chaos"`
	RequestCount  float64  `json:"request_count"`
}

// Thresholds bound the healthy range. Error rates are fractions.
type Thresholds struct {
	MemoryMBDegraded   float64 `yaml:"memoryMBDegraded"`
	MemoryMBCritical   float64 `yaml:"memoryMBCritical"`
	CPUPercentDegraded float64 `yaml:"cpuPercentDegraded"`
	CPUPercentCritical float64 `yaml:"cpuPercentCritical"`
	ErrorRateDegraded  float64 `yaml:"errorRateDegraded"`
	ErrorRateCritical  float64 `yaml:"errorRateCritical"`
	LatencyMsDegraded  float64 `yaml:"latencyMsDegraded"`
	LatencyMsCritical  float64 `yaml:"latencyMsCritical"`
}

// DefaultThresholds returns the stock alerting limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MemoryMBDegraded:   600,
		MemoryMBCritical:   900,
		CPUPercentDegraded: 75,
		CPUPercentCritical: 90,
		ErrorRateDegraded:  0.05,
		ErrorRateCritical:  0.15,
		LatencyMsDegraded:  1500,
		LatencyMsCritical:  3000,
	}
}

// Anomaly is a classified breach of the thresholds.
type Anomaly struct {
	Severity models.Severity
	Issues   []string
	Chaos    []string
	Metrics  map[string]any
}

var severityRank = map[models.Severity]int{
	models.SeverityLow:      0,
	models.SeverityMedium:   1,
	models.SeverityHigh:     2,
	models.SeverityCritical: 3,
}

func raise(current, to models.Severity) models.Severity {
	if severityRank[to] > severityRank[current] {
		return to
	}
	return current
}

// Classify compares a health reading against th. A healthy status or a
// reading with no breached limit yields nil.
func Classify(h Health, th Thresholds) *Anomaly {
	if h.Status == "" || h.Status == "healthy" {
		return nil
	}

	var issues []string
	severity := models.SeverityLow

	switch {
	case h.MemoryUsageMB > th.MemoryMBCritical:
		issues = append(issues, fmt.Sprintf("memory %.0f MB > %.0f MB", h.MemoryUsageMB, th.MemoryMBCritical))
		severity = models.SeverityCritical
	case h.MemoryUsageMB > th.MemoryMBDegraded:
		issues = append(issues, fmt.Sprintf("memory %.0f MB elevated", h.MemoryUsageMB))
		severity = raise(severity, models.SeverityHigh)
	}

	switch {
	case h.CPUPercent > th.CPUPercentCritical:
		issues = append(issues, fmt.Sprintf("CPU %.0f%% > %.0f%%", h.CPUPercent, th.CPUPercentCritical))
		severity = models.SeverityCritical
	case h.CPUPercent > th.CPUPercentDegraded:
		issues = append(issues, fmt.Sprintf("CPU %.0f%% elevated", h.CPUPercent))
		severity = raise(severity, models.SeverityMedium)
	}

	errFrac := h.ErrorRate / 100
	switch {
	case errFrac > th.ErrorRateCritical:
		issues = append(issues, fmt.Sprintf("error rate %.1f%% > %.0f%%", h.ErrorRate, th.ErrorRateCritical*100))
		severity = models.SeverityCritical
	case errFrac > th.ErrorRateDegraded:
		issues = append(issues, fmt.Sprintf("error rate %.1f%% elevated", h.ErrorRate))
		severity = raise(severity, models.SeverityHigh)
	}

	switch {
	case h.AvgLatencyMs > th.LatencyMsCritical:
		issues = append(issues, fmt.Sprintf("latency %.0f ms > %.0f ms", h.AvgLatencyMs, th.LatencyMsCritical))
		severity = raise(severity, models.SeverityHigh)
	case h.AvgLatencyMs > th.LatencyMsDegraded:
		issues = append(issues, fmt.Sprintf("latency %.0f ms elevated", h.AvgLatencyMs))
	}

	if len(h.ActiveChaos) > 0 {
		issues = append(issues, "active chaos: "+strings.Join(h.ActiveChaos, ", "))
	}
	if len(issues) == 0 {
		return nil
	}

	chaos := make([]any, len(h.ActiveChaos))
	for i, c := range h.ActiveChaos {
		chaos[i] = c
	}
	return &Anomaly{
		Severity: severity,
		Issues:   issues,
		Chaos:    append([]string(nil), h.ActiveChaos...),
		Metrics: map[string]any{
			"memory_usage_mb": h.MemoryUsageMB,
			"cpu_percent":     h.CPUPercent,
			"error_rate":      errFrac,
			"avg_latency_ms":  h.AvgLatencyMs,
			"status":          h.Status,
			"active_chaos":    chaos,
		},
	}
}

// NewIncident builds the incident opened for an anomaly on service.
func (a *Anomaly) NewIncident(service string, h Health) *models.Incident {
	kind := "Anomaly"
	if len(a.Chaos) > 0 {
		kind = strings.TrimSuffix(a.Chaos[0], "_active")
		kind = titleCase(strings.ReplaceAll(kind, "_", " "))
	}
	description := fmt.Sprintf("%s anomaly detected: %s.", service, strings.Join(a.Issues, "; "))
	if len(a.Chaos) > 0 {
		description += " Chaos active: " + strings.Join(a.Chaos, ", ") + "."
	}
	description += " Status: " + h.Status + "."

	inc := models.NewIncident(
		fmt.Sprintf("[%s] %s: %s detected", strings.ToUpper(string(a.Severity)), service, kind),
		description,
		service,
		a.Severity,
	)
	inc.MetricsSnapshot = models.CloneMap(a.Metrics)
	inc.ErrorCount = int(h.RequestCount * h.ErrorRate / 100)
	return inc
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

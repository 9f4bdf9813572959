package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/agents"
	"github.com/miradorstack/mirador-sentinel/internal/events"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/store"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// Source yields the current health reading of the watched service.
type Source interface {
	Fetch(ctx context.Context) (Health, error)
}

// PipelineStarter hands a new incident to the remediation pipeline.
type PipelineStarter interface {
	StartPipeline(inc *models.Incident) error
}

// HTTPSource reads health from a JSON endpoint.
type HTTPSource struct {
	url        string
	httpClient *http.Client
}

// NewHTTPSource polls url with the given request timeout.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{url: url, httpClient: &http.Client{Timeout: timeout}}
}

// Fetch performs one GET and decodes the health payload.
func (s *HTTPSource) Fetch(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Health{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Health{}, utils.NewAppError("monitor.fetch", "health request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Health{}, utils.NewAppError("monitor.fetch",
			fmt.Sprintf("health endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(snippet))), nil)
	}
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Health{}, utils.NewAppError("monitor.fetch", "decode health payload", err)
	}
	return h, nil
}

// Config tunes the poller.
type Config struct {
	Service        string
	Interval       time.Duration
	Thresholds     Thresholds
	DriftThreshold float64
	BaselineSize   int
}

// Poller watches one service and opens an incident per anomaly episode. An
// episode ends when the service reports healthy again.
type Poller struct {
	cfg      Config
	source   Source
	baseline *Baseline
	store    store.Store
	starter  PipelineStarter
	sink     events.Sink
	logger   *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}

	mu           sync.Mutex
	openIncident string
}

// NewPoller constructs a poller. Zero thresholds fall back to DefaultThresholds.
func NewPoller(cfg Config, source Source, st store.Store, starter PipelineStarter, sink events.Sink, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = events.Discard
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Service == "" {
		cfg.Service = "unknown-service"
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = DefaultDriftThreshold
	}
	return &Poller{
		cfg:      cfg,
		source:   source,
		baseline: NewBaseline(cfg.BaselineSize),
		store:    st,
		starter:  starter,
		sink:     sink,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Run polls until ctx is cancelled or Stop is called. The stop signal is
// observed once per interval.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("health polling started",
		slog.String("service", p.cfg.Service),
		slog.Duration("interval", p.cfg.Interval))
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.Check(ctx); err != nil {
			p.logger.Warn("health check failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			p.logger.Info("health polling stopped", slog.String("reason", "context done"))
			return nil
		case <-p.stop:
			p.logger.Info("health polling stopped", slog.String("reason", "stop requested"))
			return nil
		case <-ticker.C:
		}
	}
}

// Stop requests the poll loop to exit. Safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// OpenIncident returns the id of the incident opened for the current episode.
func (p *Poller) OpenIncident() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openIncident
}

// Check performs one poll. It returns the incident opened by this poll, if any.
func (p *Poller) Check(ctx context.Context) (*models.Incident, error) {
	h, err := p.source.Fetch(ctx)
	if err != nil {
		metrics.ObserveMonitorCheck("error")
		return nil, err
	}
	metrics.ObserveMonitorCheck(h.Status)
	scores := p.baseline.Observe(h)
	p.publishSnapshot(h, scores)

	anomaly := Classify(h, p.cfg.Thresholds)
	if anomaly != nil && len(scores) > 0 {
		anomaly.Issues = append(anomaly.Issues, Drifting(scores, p.cfg.DriftThreshold)...)
		anomaly.Metrics["zscores"] = scoresMap(scores)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if anomaly == nil {
		if h.Status == "healthy" && p.openIncident != "" {
			p.logger.Info("anomaly episode ended", slog.String("incident_id", p.openIncident))
			p.openIncident = ""
		}
		return nil, nil
	}
	if p.openIncident != "" {
		return nil, nil
	}

	inc := anomaly.NewIncident(p.cfg.Service, h)
	inc.AddTimelineEntry(agents.Monitor, "Anomaly Detected", strings.Join(anomaly.Issues, "; "), models.LevelWarning)
	if p.store != nil {
		if err := p.store.Put(ctx, inc); err != nil {
			return nil, fmt.Errorf("store incident: %w", err)
		}
	}
	p.openIncident = inc.ID
	p.logger.Warn("incident opened",
		slog.String("incident_id", inc.ID),
		slog.String("severity", string(inc.Severity)),
		slog.String("issues", strings.Join(anomaly.Issues, "; ")))

	if p.starter != nil {
		if err := p.starter.StartPipeline(inc); err != nil {
			p.logger.Error("pipeline launch failed", slog.String("incident_id", inc.ID), slog.Any("error", err))
		}
	}
	return inc, nil
}

func (p *Poller) publishSnapshot(h Health, scores map[string]float64) {
	chaos := make([]any, len(h.ActiveChaos))
	for i, c := range h.ActiveChaos {
		chaos[i] = c
	}
	p.sink.Publish(models.EventHealthSnapshot, "", agents.Monitor, map[string]any{
		"service":         p.cfg.Service,
		"status":          h.Status,
		"memory_usage_mb": h.MemoryUsageMB,
		"cpu_percent":     h.CPUPercent,
		"error_rate":      h.ErrorRate,
		"avg_latency_ms":  h.AvgLatencyMs,
		"active_chaos":    chaos,
		"request_count":   h.RequestCount,
		"zscores":         scoresMap(scores),
		"polled_at":       time.Now().UTC().Format(time.RFC3339Nano),
	})
}

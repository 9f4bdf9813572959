package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/agents"
	"github.com/miradorstack/mirador-sentinel/internal/dispatch"
	"github.com/miradorstack/mirador-sentinel/internal/events"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/planner"
	"github.com/miradorstack/mirador-sentinel/internal/store"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// Config tunes pipeline behaviour.
type Config struct {
	// EscalationStatus is where low-confidence and replanned incidents land.
	// HUMAN_REVIEW unless DETECTED is requested for the legacy collapse.
	EscalationStatus models.IncidentStatus
	VerifyAttempts   int
	// VerifyInterval is the pause between verification attempts. Zero means
	// no pause; DefaultConfig uses 2s.
	VerifyInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		EscalationStatus: models.StatusHumanReview,
		VerifyAttempts:   3,
		VerifyInterval:   2 * time.Second,
	}
}

func (c Config) normalised() Config {
	if c.EscalationStatus != models.StatusDetected {
		c.EscalationStatus = models.StatusHumanReview
	}
	if c.VerifyAttempts <= 0 {
		c.VerifyAttempts = 3
	}
	if c.VerifyInterval < 0 {
		c.VerifyInterval = 0
	}
	return c
}

// Orchestrator drives incidents through the remediation pipeline.
type Orchestrator struct {
	cfg      Config
	caller   dispatch.Caller
	tracker  *planner.Tracker
	registry *agents.Registry
	store    store.Store
	sink     events.Sink
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires an orchestrator. Nil collaborators other than caller get
// in-process defaults.
func New(
	cfg Config,
	caller dispatch.Caller,
	tracker *planner.Tracker,
	registry *agents.Registry,
	st store.Store,
	sink events.Sink,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = events.Discard
	}
	if tracker == nil {
		tracker = planner.NewTracker(planner.DefaultThreshold, sink, logger)
	}
	if registry == nil {
		registry = agents.NewRegistry(nil, logger)
	}
	if st == nil {
		st = store.NewMemory()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:      cfg.normalised(),
		caller:   caller,
		tracker:  tracker,
		registry: registry,
		store:    st,
		sink:     sink,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Tracker exposes the plan tracker.
func (o *Orchestrator) Tracker() *planner.Tracker {
	return o.tracker
}

// Store exposes the incident store.
func (o *Orchestrator) Store() store.Store {
	return o.store
}

// Threshold returns the confidence gate in percent.
func (o *Orchestrator) Threshold() int {
	return o.tracker.Threshold()
}

// EscalationStatus returns the status escalated incidents are moved to.
func (o *Orchestrator) EscalationStatus() models.IncidentStatus {
	return o.cfg.EscalationStatus
}

// StartPipeline runs the pipeline for inc on its own goroutine. Incidents
// that cannot be started are refused synchronously.
func (o *Orchestrator) StartPipeline(inc *models.Incident) error {
	if err := o.admit(inc); err != nil {
		return err
	}
	snapshot := inc.Clone()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if _, err := o.HandleIncident(o.ctx, snapshot); err != nil {
			o.logger.Warn("pipeline refused",
				slog.String("incident_id", snapshot.ID),
				slog.Any("error", err))
		}
	}()
	return nil
}

// Wait blocks until every pipeline started with StartPipeline has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Stop cancels the context of running pipelines. Use Wait to drain them.
func (o *Orchestrator) Stop() {
	o.cancel()
}

// HandleIncident runs the pipeline synchronously and returns the incident in
// its final state. Failures inside the pipeline end the incident as FAILED and
// are not returned; only refusals to start are.
func (o *Orchestrator) HandleIncident(ctx context.Context, inc *models.Incident) (*models.Incident, error) {
	if err := o.admit(inc); err != nil {
		return nil, err
	}
	own := inc.Clone()
	plan, err := o.tracker.CreatePlan(own)
	if err != nil {
		return nil, err
	}

	r := &run{
		o:      o,
		ctx:    ctx,
		inc:    own,
		plan:   plan,
		start:  time.Now(),
		logger: o.logger.With(slog.String("incident_id", own.ID), slog.String("correlation_id", plan.CorrelationID)),
	}
	metrics.PipelineStarted()
	r.execute()
	metrics.ObservePipeline(time.Since(r.start), string(r.inc.Status))
	return own.Clone(), nil
}

func (o *Orchestrator) admit(inc *models.Incident) error {
	if inc == nil {
		return errors.New("incident is required")
	}
	if inc.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalIncident, inc.ID, inc.Status)
	}
	if plan, ok := o.tracker.Latest(inc.ID); ok && !plan.Status.Terminal() {
		return fmt.Errorf("%w: %s (%s)", planner.ErrPlanActive, inc.ID, plan.ID)
	}
	return nil
}

// execute is the pipeline boundary: nothing escapes it.
func (r *run) execute() {
	defer func() {
		if rec := recover(); rec != nil {
			r.fail(fmt.Errorf("panic: %v", rec))
		}
	}()
	if err := r.pipeline(); err != nil {
		r.fail(err)
	}
}

// fail converts an escaped error into the terminal FAILED state.
func (r *run) fail(cause error) {
	err := &PipelineFailure{IncidentID: r.inc.ID, Cause: cause}
	total := r.elapsed()
	r.logger.Error("pipeline failed", slog.Int64("elapsed_ms", total), slog.Any("error", err))

	r.o.tracker.Abort(r.plan, cause.Error(), total)
	if r.engaged != "" {
		r.o.registry.UpdateStatus(r.engaged, models.AgentError, "")
		r.engaged = ""
	}
	r.o.registry.UpdateStatus(agents.Orchestrator, models.AgentError, "")

	if r.inc.Status.Terminal() {
		return
	}
	r.inc.AddTimelineEntry(agents.Orchestrator, "Pipeline Error", "Unexpected error: "+cause.Error(), models.LevelError)
	r.setStatus(models.StatusFailed, cause.Error())
	r.o.sink.Publish(models.EventError, r.inc.ID, agents.Orchestrator, map[string]any{
		"incident_id": r.inc.ID,
		"error":       cause.Error(),
		"elapsed_ms":  float64(total),
	})
}

func (r *run) elapsed() int64 {
	return utils.ElapsedMs(r.start)
}

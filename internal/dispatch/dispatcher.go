package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-sentinel/internal/events"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/tools"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// ExternalCaller is recorded when a request does not name its caller.
const ExternalCaller = "external"

// UnknownToolError is returned for tool names outside the catalog.
type UnknownToolError struct {
	Tool      string
	Available []string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("Unknown tool: %s", e.Tool)
}

// UnknownToolResponse renders err in the shape outer surfaces return to callers.
func UnknownToolResponse(err *UnknownToolError) map[string]any {
	available := make([]any, len(err.Available))
	for i, name := range err.Available {
		available[i] = name
	}
	return map[string]any{
		"success":        false,
		"error":          err.Error(),
		"availableTools": available,
	}
}

// CallRequest describes one tool invocation.
type CallRequest struct {
	Tool          string
	Params        map[string]any
	Caller        string
	CorrelationID string
	IncidentID    string
	CallID        string
}

// Caller is the dispatch contract the orchestrator depends on.
type Caller interface {
	HandleCall(ctx context.Context, req CallRequest) (models.CallRecord, error)
}

// Dispatcher routes tool calls to their implementation and records every call.
type Dispatcher struct {
	catalog   *tools.Catalog
	sink      events.Sink
	logger    *slog.Logger
	log       *CallLog
	latencies *utils.LatencySet

	mu    sync.RWMutex
	bound map[tools.ID]tools.Invoker
}

// NewDispatcher builds a dispatcher over catalog. Calls are recorded in a log of logSize entries.
func NewDispatcher(catalog *tools.Catalog, sink events.Sink, logger *slog.Logger, logSize int) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Dispatcher{
		catalog:   catalog,
		sink:      sink,
		logger:    logger,
		log:       NewCallLog(logSize),
		latencies: utils.NewLatencySet(256),
		bound:     make(map[tools.ID]tools.Invoker),
	}
}

// Bind registers inv for id. Bound invokers take precedence over catalog defaults.
func (d *Dispatcher) Bind(id tools.ID, inv tools.Invoker) error {
	if !d.catalog.Has(id) {
		return &UnknownToolError{Tool: string(id), Available: d.catalog.Names()}
	}
	d.mu.Lock()
	d.bound[id] = inv
	d.mu.Unlock()
	d.logger.Debug("tool handler bound", slog.String("tool", string(id)))
	return nil
}

// BindAll registers several invokers, stopping at the first unknown tool.
func (d *Dispatcher) BindAll(invokers map[tools.ID]tools.Invoker) error {
	for id, inv := range invokers {
		if err := d.Bind(id, inv); err != nil {
			return err
		}
	}
	return nil
}

// IsBound reports whether id has a bound invoker.
func (d *Dispatcher) IsBound(id tools.ID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.bound[id]
	return ok
}

// Catalog exposes the tool catalog.
func (d *Dispatcher) Catalog() *tools.Catalog {
	return d.catalog
}

// CallLog exposes the call history.
func (d *Dispatcher) CallLog() *CallLog {
	return d.log
}

// LatencyP95 returns the 95th percentile latency observed for tool.
func (d *Dispatcher) LatencyP95(tool string) time.Duration {
	return d.latencies.Percentile(tool, 95)
}

// HandleCall resolves, times, records and publishes a tool call. Handler
// failures are captured in the returned record; only an unknown tool yields an error.
func (d *Dispatcher) HandleCall(ctx context.Context, req CallRequest) (models.CallRecord, error) {
	id := tools.ID(req.Tool)
	tool, ok := d.catalog.Get(id)
	if !ok {
		return models.CallRecord{}, &UnknownToolError{Tool: req.Tool, Available: d.catalog.Names()}
	}

	if req.CallID == "" {
		req.CallID = NewCallID()
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()[:12]
	}
	if req.Caller == "" {
		req.Caller = ExternalCaller
	}
	params := req.Params
	if params == nil {
		params = map[string]any{}
	}

	rec := models.CallRecord{
		CallID:        req.CallID,
		Tool:          req.Tool,
		Caller:        req.Caller,
		Target:        models.TargetOf(req.Tool),
		CorrelationID: req.CorrelationID,
		IncidentID:    req.IncidentID,
		Params:        params,
		Status:        models.CallInProgress,
		StartedAt:     time.Now().UTC(),
	}
	d.sink.Publish(models.EventCallStarted, req.IncidentID, req.Caller, models.MustMap(rec))

	inv := d.resolve(id, tool)
	start := time.Now()
	result, err := invoke(ctx, inv, models.CloneMap(params))
	elapsed := time.Since(start)

	completed := time.Now().UTC()
	rec.CompletedAt = &completed
	rec.ElapsedMs = elapsed.Milliseconds()
	outcome := metrics.OutcomeSuccess
	if err != nil {
		rec.Status = models.CallError
		rec.Error = err.Error()
		outcome = metrics.OutcomeError
		d.logger.Error("tool call failed",
			slog.String("call_id", rec.CallID),
			slog.String("caller", rec.Caller),
			slog.String("tool", rec.Tool),
			slog.Int64("elapsed_ms", rec.ElapsedMs),
			slog.Any("error", err))
	} else {
		if result == nil {
			result = map[string]any{}
		}
		rec.Status = models.CallSuccess
		rec.Result = result
		d.logger.Info("tool call completed",
			slog.String("call_id", rec.CallID),
			slog.String("caller", rec.Caller),
			slog.String("tool", rec.Tool),
			slog.Int64("elapsed_ms", rec.ElapsedMs))
	}

	d.log.Append(rec)
	d.latencies.Observe(rec.Tool, elapsed)
	metrics.ObserveToolCall(rec.Tool, rec.Caller, elapsed, outcome)
	d.sink.Publish(models.EventCallCompleted, req.IncidentID, req.Caller, models.MustMap(rec))
	return rec, nil
}

func (d *Dispatcher) resolve(id tools.ID, tool tools.Tool) tools.Invoker {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if inv, ok := d.bound[id]; ok {
		return inv
	}
	return tool.Default
}

func invoke(ctx context.Context, inv tools.Invoker, params map[string]any) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	if inv == nil {
		return nil, errors.New("no handler available")
	}
	return inv.Invoke(ctx, params)
}

// NewCallID returns an identifier of the form call-1a2b3c4d.
func NewCallID() string {
	return "call-" + uuid.NewString()[:8]
}

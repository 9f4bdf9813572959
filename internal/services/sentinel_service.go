package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-sentinel/internal/agents"
	"github.com/miradorstack/mirador-sentinel/internal/api"
	"github.com/miradorstack/mirador-sentinel/internal/dispatch"
	"github.com/miradorstack/mirador-sentinel/internal/events"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/orchestrator"
	"github.com/miradorstack/mirador-sentinel/internal/planner"
	"github.com/miradorstack/mirador-sentinel/internal/store"
)

// watchBuffer is the number of events a WatchEvents stream may fall behind
// before it is dropped.
const watchBuffer = 256

// Dependencies groups the collaborators of the Sentinel service.
type Dependencies struct {
	Dispatcher   *dispatch.Dispatcher
	Registry     *agents.Registry
	Orchestrator *orchestrator.Orchestrator
	Broadcaster  *events.Broadcaster
	Store        store.Store
}

// SentinelService implements the Sentinel gRPC service.
type SentinelService struct {
	logger       *slog.Logger
	dispatcher   *dispatch.Dispatcher
	registry     *agents.Registry
	orchestrator *orchestrator.Orchestrator
	broadcaster  *events.Broadcaster
	store        store.Store
}

var _ api.SentinelServer = (*SentinelService)(nil)

// NewSentinelService constructs the service facade.
func NewSentinelService(logger *slog.Logger, deps Dependencies) *SentinelService {
	if logger == nil {
		logger = slog.Default()
	}
	st := deps.Store
	if st == nil && deps.Orchestrator != nil {
		st = deps.Orchestrator.Store()
	}
	return &SentinelService{
		logger:       logger,
		dispatcher:   deps.Dispatcher,
		registry:     deps.Registry,
		orchestrator: deps.Orchestrator,
		broadcaster:  deps.Broadcaster,
		store:        st,
	}
}

// ListTools returns the tool catalog with each tool's binding and latency.
func (s *SentinelService) ListTools(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.dispatcher == nil {
		return nil, status.Error(codes.FailedPrecondition, "dispatcher not configured")
	}
	catalog := s.dispatcher.Catalog()
	list := make([]any, 0, len(catalog.IDs()))
	for _, tool := range catalog.All() {
		list = append(list, map[string]any{
			"name":           string(tool.ID),
			"description":    tool.Description,
			"owner":          models.TargetOf(string(tool.ID)),
			"input_schema":   models.CloneMap(tool.InputSchema),
			"bound":          s.dispatcher.IsBound(tool.ID),
			"latency_p95_ms": float64(s.dispatcher.LatencyP95(string(tool.ID)).Milliseconds()),
		})
	}
	return respond(map[string]any{"tools": list, "count": float64(len(list))})
}

// ListAgents returns every participant with its live status.
func (s *SentinelService) ListAgents(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.registry == nil {
		return nil, status.Error(codes.FailedPrecondition, "agent registry not configured")
	}
	return wrap(api.ListStruct("agents", s.registry.List()))
}

// GetCallLog returns recorded calls, newest first, filtered by incident or
// in chronological order for a correlation id.
func (s *SentinelService) GetCallLog(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.dispatcher == nil {
		return nil, status.Error(codes.FailedPrecondition, "dispatcher not configured")
	}
	q := api.FromProtoCallLog(req)
	log := s.dispatcher.CallLog()

	var calls []models.CallRecord
	switch {
	case q.CorrelationID != "":
		calls = log.ForCorrelation(q.CorrelationID)
	case q.IncidentID != "":
		calls = log.ForIncident(q.IncidentID, q.Limit)
	default:
		calls = log.Recent(q.Limit)
	}
	out, err := api.ListStruct("calls", calls)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out.Fields["capacity"] = structpb.NewNumberValue(float64(log.Cap()))
	return out, nil
}

// InvokeTool performs one tool call on behalf of an external caller. Unknown
// tools are answered with an unsuccessful response rather than an error.
func (s *SentinelService) InvokeTool(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.dispatcher == nil {
		return nil, status.Error(codes.FailedPrecondition, "dispatcher not configured")
	}
	call, err := api.FromProtoInvoke(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	rec, err := s.dispatcher.HandleCall(ctx, call)
	if err != nil {
		var unknown *dispatch.UnknownToolError
		if errors.As(err, &unknown) {
			return respond(dispatch.UnknownToolResponse(unknown))
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	record, err := models.ToMap(rec)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return respond(map[string]any{"success": rec.Succeeded(), "record": record})
}

// StreamTool performs one tool call and streams started, completed and done frames.
func (s *SentinelService) StreamTool(req *structpb.Struct, stream api.StructStream) error {
	if s.dispatcher == nil {
		return status.Error(codes.FailedPrecondition, "dispatcher not configured")
	}
	call, err := api.FromProtoInvoke(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	err = s.dispatcher.Stream(stream.Context(), call, func(ev dispatch.StreamEvent) error {
		frame, err := api.ToProtoStreamEvent(ev)
		if err != nil {
			return err
		}
		return stream.Send(frame)
	})
	var unknown *dispatch.UnknownToolError
	if errors.As(err, &unknown) {
		resp := dispatch.UnknownToolResponse(unknown)
		resp["type"] = "error"
		frame, convErr := api.ToStruct(resp)
		if convErr != nil {
			return status.Error(codes.Internal, convErr.Error())
		}
		return stream.Send(frame)
	}
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
			return err
		}
		return status.Error(codes.Internal, err.Error())
	}
	return nil
}

// TriggerIncident creates an incident and starts its pipeline. With
// incident_id set, an existing non-terminal incident is run again instead.
func (s *SentinelService) TriggerIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.orchestrator == nil || s.store == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}

	var inc *models.Incident
	if id := api.StringField(req, "incident_id"); id != "" {
		existing, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, storeStatus(err, id)
		}
		inc = existing
	} else {
		trigger, err := api.FromProtoTrigger(req)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		inc = trigger.Incident()
		inc.AddTimelineEntry(agents.Orchestrator, "Incident Reported", "Incident created through the control API", models.LevelInfo)
		if err := s.store.Put(ctx, inc); err != nil {
			s.logger.Error("store incident failed", slog.String("incident_id", inc.ID), slog.Any("error", err))
			return nil, status.Error(codes.Internal, "failed to persist incident")
		}
	}

	if err := s.orchestrator.StartPipeline(inc); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrTerminalIncident):
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		case errors.Is(err, planner.ErrPlanActive):
			return nil, status.Error(codes.Aborted, err.Error())
		default:
			return nil, status.Error(codes.Internal, err.Error())
		}
	}
	s.logger.Info("pipeline triggered", slog.String("incident_id", inc.ID), slog.String("severity", string(inc.Severity)))
	return respond(map[string]any{"incident_id": inc.ID, "status": string(inc.Status), "started": true})
}

// GetIncident returns one incident by id.
func (s *SentinelService) GetIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.FailedPrecondition, "incident store not configured")
	}
	id := api.StringField(req, "id")
	if id == "" {
		id = api.StringField(req, "incident_id")
	}
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	inc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, storeStatus(err, id)
	}
	return wrap(api.ModelStruct(inc))
}

// ListIncidents returns incidents newest first, optionally filtered by status.
func (s *SentinelService) ListIncidents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.FailedPrecondition, "incident store not configured")
	}
	incidents, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error("list incidents failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to list incidents")
	}
	want := models.IncidentStatus(strings.ToUpper(api.StringField(req, "status")))
	limit := api.IntField(req, "limit", 0)

	out := make([]*models.Incident, 0, len(incidents))
	for _, inc := range incidents {
		if want != "" && inc.Status != want {
			continue
		}
		out = append(out, inc)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return wrap(api.ListStruct("incidents", out))
}

// GetPlan returns the most recent execution plan for an incident.
func (s *SentinelService) GetPlan(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.orchestrator == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	id := api.StringField(req, "incident_id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "incident_id is required")
	}
	plan, ok := s.orchestrator.Tracker().Latest(id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no plan for incident %s", id)
	}
	return wrap(api.ModelStruct(plan))
}

// WatchEvents streams broadcast events until the client goes away. The first
// frame is a subscribed event sent once the stream is attached, so callers
// can act knowing no later event will be missed. The stream is a broadcaster
// subscriber; one that falls too far behind is dropped and the stream ends
// with ResourceExhausted.
func (s *SentinelService) WatchEvents(req *structpb.Struct, stream api.StructStream) error {
	if s.broadcaster == nil {
		return status.Error(codes.FailedPrecondition, "event broadcaster not configured")
	}
	filter := newEventFilter(req)

	queue := make(chan models.Event, watchBuffer)
	dropped := make(chan struct{})
	var once sync.Once
	id := s.broadcaster.Subscribe(events.SubscriberFunc(func(ev models.Event) error {
		if !filter.match(ev) {
			return nil
		}
		select {
		case queue <- ev:
			return nil
		default:
			once.Do(func() { close(dropped) })
			return errors.New("watch stream is not keeping up")
		}
	}))
	defer s.broadcaster.Unsubscribe(id)

	logger := s.logger.With(slog.Uint64("subscriber", id))
	logger.Debug("event watcher attached", slog.Int("subscribers", s.broadcaster.SubscriberCount()))

	hello, err := api.ModelStruct(models.Event{
		Type:      models.EventSubscribed,
		Data:      map[string]any{"subscriber": float64(id)},
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	if err := stream.Send(hello); err != nil {
		return err
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("event watcher detached")
			return nil
		case <-dropped:
			return status.Error(codes.ResourceExhausted, "event stream dropped: client too slow")
		case ev := <-queue:
			frame, err := api.ModelStruct(ev)
			if err != nil {
				logger.Warn("event encode failed", slog.String("event_type", ev.Type), slog.Any("error", err))
				continue
			}
			if err := stream.Send(frame); err != nil {
				return err
			}
		}
	}
}

type eventFilter struct {
	incidentID string
	types      map[string]bool
}

func newEventFilter(req *structpb.Struct) eventFilter {
	f := eventFilter{incidentID: api.StringField(req, "incident_id")}
	if req == nil {
		return f
	}
	if v, ok := req.GetFields()["types"]; ok {
		for _, item := range v.GetListValue().GetValues() {
			if name := strings.TrimSpace(item.GetStringValue()); name != "" {
				if f.types == nil {
					f.types = make(map[string]bool)
				}
				f.types[name] = true
			}
		}
	}
	return f
}

func (f eventFilter) match(ev models.Event) bool {
	if f.incidentID != "" && ev.IncidentID != f.incidentID {
		return false
	}
	if f.types != nil && !f.types[ev.Type] {
		return false
	}
	return true
}

func respond(m map[string]any) (*structpb.Struct, error) {
	return wrap(api.ToStruct(m))
}

func wrap(s *structpb.Struct, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}

func storeStatus(err error, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return status.Errorf(codes.NotFound, "incident %s not found", id)
	}
	return status.Errorf(codes.Internal, "load incident %s: %v", id, err)
}

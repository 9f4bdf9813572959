package api

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-sentinel/internal/dispatch"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// ToStruct converts a JSON-like map into a protobuf Struct. Values structpb
// cannot represent directly are normalised through their JSON shape.
func ToStruct(m map[string]any) (*structpb.Struct, error) {
	if m == nil {
		return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
	}
	s, err := structpb.NewStruct(m)
	if err == nil {
		return s, nil
	}
	normalised, convErr := models.ToMap(m)
	if convErr != nil {
		return nil, convErr
	}
	return structpb.NewStruct(normalised)
}

// FromStruct converts s into a map; a nil Struct yields an empty map.
func FromStruct(s *structpb.Struct) map[string]any {
	if s == nil {
		return map[string]any{}
	}
	return s.AsMap()
}

// ModelStruct renders any model through its JSON shape.
func ModelStruct(v any) (*structpb.Struct, error) {
	m, err := models.ToMap(v)
	if err != nil {
		return nil, err
	}
	return ToStruct(m)
}

// ListStruct wraps items under key together with a count.
func ListStruct[T any](key string, items []T) (*structpb.Struct, error) {
	list := make([]any, 0, len(items))
	for _, item := range items {
		m, err := models.ToMap(item)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return ToStruct(map[string]any{key: list, "count": float64(len(list))})
}

// StringField returns s[key] as a trimmed string.
func StringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	v, ok := s.GetFields()[key]
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.GetStringValue())
}

// IntField returns s[key] as an int, or def when absent or not a number.
func IntField(s *structpb.Struct, key string, def int) int {
	if s == nil {
		return def
	}
	v, ok := s.GetFields()[key]
	if !ok {
		return def
	}
	if _, isNumber := v.GetKind().(*structpb.Value_NumberValue); !isNumber {
		return def
	}
	return int(v.GetNumberValue())
}

// TriggerRequest is the decoded TriggerIncident payload.
type TriggerRequest struct {
	Title           string
	Description     string
	Service         string
	Severity        models.Severity
	Environment     string
	ErrorCount      int
	AffectedUsers   int
	MetricsSnapshot map[string]any
}

// FromProtoTrigger decodes and validates a TriggerIncident request.
func FromProtoTrigger(req *structpb.Struct) (TriggerRequest, error) {
	if req == nil {
		return TriggerRequest{}, fmt.Errorf("request is nil")
	}
	out := TriggerRequest{
		Title:         StringField(req, "title"),
		Description:   StringField(req, "description"),
		Service:       StringField(req, "service"),
		Severity:      models.ParseSeverity(StringField(req, "severity"), models.SeverityHigh),
		Environment:   StringField(req, "environment"),
		ErrorCount:    IntField(req, "error_count", 0),
		AffectedUsers: IntField(req, "affected_users", 0),
	}
	if out.Title == "" {
		return TriggerRequest{}, fmt.Errorf("title is required")
	}
	if out.Service == "" {
		out.Service = "unknown"
	}
	if snap, ok := req.GetFields()["metrics_snapshot"]; ok && snap.GetStructValue() != nil {
		out.MetricsSnapshot = snap.GetStructValue().AsMap()
	}
	return out, nil
}

// Incident builds the DETECTED incident described by r.
func (r TriggerRequest) Incident() *models.Incident {
	inc := models.NewIncident(r.Title, r.Description, r.Service, r.Severity)
	if r.Environment != "" {
		inc.Environment = r.Environment
	}
	inc.ErrorCount = r.ErrorCount
	inc.AffectedUsers = r.AffectedUsers
	inc.MetricsSnapshot = models.CloneMap(r.MetricsSnapshot)
	return inc
}

// FromProtoInvoke decodes an InvokeTool or StreamTool request.
func FromProtoInvoke(req *structpb.Struct) (dispatch.CallRequest, error) {
	if req == nil {
		return dispatch.CallRequest{}, fmt.Errorf("request is nil")
	}
	tool := StringField(req, "tool")
	if tool == "" {
		return dispatch.CallRequest{}, fmt.Errorf("tool is required")
	}
	params := map[string]any{}
	if p, ok := req.GetFields()["params"]; ok && p.GetStructValue() != nil {
		params = p.GetStructValue().AsMap()
	}
	caller := StringField(req, "caller")
	if caller == "" {
		caller = dispatch.ExternalCaller
	}
	return dispatch.CallRequest{
		Tool:          tool,
		Params:        params,
		Caller:        caller,
		IncidentID:    StringField(req, "incident_id"),
		CorrelationID: StringField(req, "correlation_id"),
	}, nil
}

// CallLogQuery selects call records.
type CallLogQuery struct {
	IncidentID    string
	CorrelationID string
	Limit         int
}

// FromProtoCallLog decodes a GetCallLog request. Limit defaults to 50.
func FromProtoCallLog(req *structpb.Struct) CallLogQuery {
	q := CallLogQuery{
		IncidentID:    StringField(req, "incident_id"),
		CorrelationID: StringField(req, "correlation_id"),
		Limit:         IntField(req, "limit", 50),
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}
	return q
}

// ToProtoStreamEvent renders one frame of a streamed tool call.
func ToProtoStreamEvent(ev dispatch.StreamEvent) (*structpb.Struct, error) {
	frame := map[string]any{
		"type":    ev.Kind,
		"call_id": ev.CallID,
		"tool":    ev.Tool,
	}
	if ev.Record != nil {
		rec, err := models.ToMap(ev.Record)
		if err != nil {
			return nil, err
		}
		frame["record"] = rec
	}
	return ToStruct(frame)
}

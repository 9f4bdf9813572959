package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	ObserveToolCall("monitor.get_metrics", "orchestrator", 15*time.Millisecond, OutcomeSuccess)
	ObserveTransition("DETECTED", "DIAGNOSING")
	ObserveEvent("call_started")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"mirador_sentinel_tool_calls_total",
		"mirador_sentinel_incident_transitions_total",
		"mirador_sentinel_events_published_total",
	} {
		if !found[name] {
			t.Fatalf("expected metric family %s", name)
		}
	}
}

package agents

import (
	"testing"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/tools"
)

func TestNewRegistryPrepopulated(t *testing.T) {
	reg := NewRegistry(tools.DefaultCatalog(nil), nil)
	list := reg.List()
	if len(list) != 5 {
		t.Fatalf("expected 5 participants, got %d", len(list))
	}
	if list[0].Name != Deploy || list[4].Name != Orchestrator {
		t.Fatalf("expected sorted names, got %s..%s", list[0].Name, list[4].Name)
	}
	if got := reg.Tools(Deploy); len(got) != 4 {
		t.Fatalf("expected 4 deploy tools, got %v", got)
	}
	if got := reg.Tools(Orchestrator); len(got) != 0 {
		t.Fatalf("orchestrator exposes no tools, got %v", got)
	}
	if len(reg.Capabilities(Diagnostic)) == 0 {
		t.Fatalf("expected diagnostic capabilities")
	}
}

func TestStatusUpdatesAndSnapshots(t *testing.T) {
	reg := NewRegistry(nil, nil)
	reg.UpdateStatus(Fixer, models.AgentWorking, "Generating fix for INC-1")
	reg.IncrementHandled(Fixer)
	reg.UpdateStatus("ghost", models.AgentWorking, "ignored")
	reg.IncrementHandled("ghost")

	info, ok := reg.Get(Fixer)
	if !ok {
		t.Fatalf("fixer missing")
	}
	if info.Status != models.AgentWorking || info.CurrentTask != "Generating fix for INC-1" || info.IncidentsHandled != 1 {
		t.Fatalf("unexpected fixer state: %+v", info)
	}
	if info.LastActiveAt == nil {
		t.Fatalf("expected last active timestamp")
	}
	if _, ok := reg.Get("ghost"); ok {
		t.Fatalf("unknown agent must not be created by mutators")
	}

	info.Capabilities[0] = "mutated"
	again, _ := reg.Get(Fixer)
	if again.Capabilities[0] == "mutated" {
		t.Fatalf("snapshot aliases registry state")
	}
}

package tools

import (
	"context"
	"sort"
)

// ID is the dotted name of a tool, "<participant>.<action>".
type ID string

// The closed set of tools reachable through dispatch.
const (
	MonitorCheckHealth        ID = "monitor.check_health"
	MonitorGetMetrics         ID = "monitor.get_metrics"
	DiagnosticAnalyzeIncident ID = "diagnostic.analyze_incident"
	DiagnosticGetRootCause    ID = "diagnostic.get_root_cause"
	FixerGeneratePatch        ID = "fixer.generate_patch"
	FixerValidateFix          ID = "fixer.validate_fix"
	DeployRunTests            ID = "deploy.run_tests"
	DeployValidatePreDeploy   ID = "deploy.validate_pre_deploy"
	DeployExecuteDeployment   ID = "deploy.execute_deployment"
	DeployRollback            ID = "deploy.rollback"
)

// Invoker performs the work behind a tool.
type Invoker interface {
	Invoke(ctx context.Context, params map[string]any) (map[string]any, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, params map[string]any) (map[string]any, error) {
	return f(ctx, params)
}

// Tool describes one catalog entry.
type Tool struct {
	ID          ID
	Description string
	InputSchema map[string]any
	Default     Invoker
}

// Catalog is the immutable set of known tools.
type Catalog struct {
	tools map[ID]Tool
	order []ID
}

// NewCatalog builds a catalog from tool definitions. Later duplicates replace earlier ones.
func NewCatalog(defs ...Tool) *Catalog {
	c := &Catalog{tools: make(map[ID]Tool, len(defs))}
	for _, def := range defs {
		if _, exists := c.tools[def.ID]; !exists {
			c.order = append(c.order, def.ID)
		}
		c.tools[def.ID] = def
	}
	sort.Slice(c.order, func(i, j int) bool { return c.order[i] < c.order[j] })
	return c
}

// Get returns the tool registered under id.
func (c *Catalog) Get(id ID) (Tool, bool) {
	t, ok := c.tools[id]
	return t, ok
}

// Has reports whether id is a known tool.
func (c *Catalog) Has(id ID) bool {
	_, ok := c.tools[id]
	return ok
}

// IDs returns the tool identifiers in lexical order.
func (c *Catalog) IDs() []ID {
	return append([]ID(nil), c.order...)
}

// Names returns the identifiers as plain strings.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.order))
	for i, id := range c.order {
		names[i] = string(id)
	}
	return names
}

// All returns every tool in lexical order.
func (c *Catalog) All() []Tool {
	out := make([]Tool, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.tools[id])
	}
	return out
}

// OwnedBy returns the tools whose participant prefix equals owner.
func (c *Catalog) OwnedBy(owner string) []string {
	var out []string
	prefix := owner + "."
	for _, id := range c.order {
		if len(id) > len(prefix) && string(id[:len(prefix)]) == prefix {
			out = append(out, string(id))
		}
	}
	return out
}

// Package handler provides the default Handler implementations for each
// NodeType, and a constructor that registers all of them on a
// core.Dispatcher.
package handler

import (
	"github.com/flowcore/engine/core"
	"github.com/flowcore/engine/core/llm"
)

// Providers resolves a service name ("openai", "anthropic", "google") to
// an llm.Provider, used by the PersonJob family of handlers. A nil
// Providers behaves as if no provider is ever found.
type Providers map[string]llm.Provider

func (p Providers) lookup(service string) (llm.Provider, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p[service]
	return v, ok
}

// RegisterDefaults binds the package's default handlers for every
// NodeType onto d. providers supplies the LLM backends for PersonJob and
// PersonBatchJob nodes; engine is used by the SubDiagram handler to run
// nested diagrams (nil disables SubDiagram support).
func RegisterDefaults(d *core.Dispatcher, providers Providers, engine *core.Engine) {
	d.Register(core.NodeStart, core.HandlerFunc(HandleStart))
	d.Register(core.NodeJob, core.HandlerFunc(NewJobHandler(providers).Handle))
	d.Register(core.NodeCondition, core.HandlerFunc(HandleCondition))
	d.Register(core.NodeDB, core.HandlerFunc(HandleDB))
	d.Register(core.NodeEndpoint, core.HandlerFunc(HandleEndpoint))
	d.Register(core.NodePersonJob, core.HandlerFunc(NewPersonJobHandler(providers).Handle))
	d.Register(core.NodePersonBatchJob, core.HandlerFunc(NewPersonBatchJobHandler(providers).Handle))
	d.Register(core.NodeHook, core.HandlerFunc(HandleHook))
	if engine != nil {
		d.Register(core.NodeSubDiagram, core.HandlerFunc(NewSubDiagramHandler(engine).Handle))
	}
}

// dataString reads a string field from a node's Data map.
func dataString(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// dataFloat reads a numeric field from a node's Data map, defaulting to
// def if absent or the wrong type.
func dataFloat(data map[string]any, key string, def float64) float64 {
	v, ok := data[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

// Package tools holds the local tool registry exposed to the backend as
// client-executed tools, and the dispatcher that runs invocations and routes
// their results back onto the wire.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/aplisay/voicebridge/pkg/engine/wire"
)

// Handler executes a tool with its raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Parameter describes one flat, primitive-typed tool parameter.
type Parameter struct {
	Name        string
	Type        string // "string", "number", "integer" or "boolean"
	Description string
	Required    bool
}

// Tool is one locally registered callable.
type Tool struct {
	Name        string
	Description string
	Parameters  []Parameter
	Execute     Handler
}

var primitiveTypes = map[string]struct{}{
	"string":  {},
	"number":  {},
	"integer": {},
	"boolean": {},
}

func (t Tool) validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("tool name must be non-empty")
	}
	if t.Execute == nil {
		return fmt.Errorf("tool %q has no handler", t.Name)
	}
	seen := make(map[string]struct{}, len(t.Parameters))
	for i, p := range t.Parameters {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("tool %q: parameter %d has no name", t.Name, i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("tool %q: duplicate parameter %q", t.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
		if _, ok := primitiveTypes[p.Type]; !ok {
			return fmt.Errorf("tool %q: parameter %q has unsupported type %q", t.Name, p.Name, p.Type)
		}
	}
	return nil
}

// declaration translates one registry entry into the backend schema.
func (t Tool) declaration() wire.SelectedTool {
	params := make([]wire.DynamicParameter, 0, len(t.Parameters))
	for _, p := range t.Parameters {
		params = append(params, wire.DynamicParameter{
			Name:     p.Name,
			Location: wire.ParameterLocationBody,
			Schema:   wire.ParameterSchema{Type: p.Type, Description: p.Description},
			Required: p.Required,
		})
	}
	return wire.SelectedTool{TemporaryTool: wire.TemporaryTool{
		ModelToolName:     t.Name,
		Description:       t.Description,
		DynamicParameters: params,
	}}
}

// Registry maps tool names to their implementations. Registries are built
// before a session connects; the backend does not accept tool changes on an
// established call, so a Registry is immutable once constructed.
type Registry struct {
	byName map[string]Tool
}

// NewRegistry validates every tool and builds a registry. Any entry that
// cannot translate to a backend declaration fails construction.
func NewRegistry(entries ...Tool) (*Registry, error) {
	r := &Registry{byName: make(map[string]Tool, len(entries))}
	for _, t := range entries {
		if err := t.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", t.Name)
		}
		r.byName[t.Name] = t
	}
	return r, nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return Tool{}, false
	}
	t, ok := r.byName[strings.TrimSpace(name)]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byName)
}

// Names returns all tool names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Declarations returns one backend declaration per registry entry, in name
// order.
func (r *Registry) Declarations() []wire.SelectedTool {
	if r == nil {
		return nil
	}
	out := make([]wire.SelectedTool, 0, len(r.byName))
	for _, name := range r.Names() {
		out = append(out, r.byName[name].declaration())
	}
	return out
}

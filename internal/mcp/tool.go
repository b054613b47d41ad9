package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rohankatakam/memorybank/internal/memorybank"
)

// ToolFunc executes one tool call. Implementations always return the uniform
// result envelope; no Go error crosses this boundary.
type ToolFunc func(ctx context.Context, args json.RawMessage) memorybank.Result

// Tool is one catalog entry.
type Tool struct {
	Name         string
	Description  string
	InputSchema  map[string]any
	OutputSchema map[string]any
	Handler      ToolFunc
}

// Registry is the ordered tool catalog. Registration order is the order
// agents see in tools/list; a duplicate name is a programming error and
// panics at startup.
type Registry struct {
	order []string
	tools map[string]*Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

func (r *Registry) Register(t *Tool) {
	if t.Name == "" || t.Handler == nil {
		panic("mcp: tool needs a name and a handler")
	}
	if _, dup := r.tools[t.Name]; dup {
		panic(fmt.Sprintf("mcp: duplicate tool %q", t.Name))
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
}

// Get returns the named tool.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns every tool in registration order.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, len(r.order))
	for i, name := range r.order {
		out[i] = r.tools[name]
	}
	return out
}

func (r *Registry) Len() int { return len(r.order) }

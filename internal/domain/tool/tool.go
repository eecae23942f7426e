package tool

import (
	"context"
	"fmt"
	"sync"
)

// Tool is one capability the agent can invoke during its tool loop.
type Tool interface {
	// Name returns the wire name passed to the model.
	Name() string
	// Description returns the model-facing description.
	Description() string
	// Schema returns the JSON Schema of the arguments object.
	Schema() map[string]interface{}
	// Execute runs the tool. Transport/provider failures are reported via
	// the error; domain-level failures via Result.Success=false.
	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
}

// Result is a tool execution outcome.
type Result struct {
	Output   string
	Success  bool
	Metadata map[string]interface{}
	Error    string
}

// Definition is the tool schema handed to the model.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Registry holds the tools exposed to the completer.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering the same name twice is an error.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = t
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.tools[name]
	return t, exists
}

// Definitions lists every registered tool's definition.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}

// Execute dispatches a call to the named tool.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (*Result, error) {
	t, ok := r.Get(name)
	if !ok {
		return &Result{
			Output:  fmt.Sprintf("unknown tool: %s", name),
			Success: false,
		}, nil
	}
	return t.Execute(ctx, args)
}

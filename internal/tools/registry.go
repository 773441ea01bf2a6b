package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"tabular/internal/llm"
)

// Registry maps tool names to tools. Registration is last-write-wins so
// repeated AddTool calls with the same name are idempotent. The registry is
// read-mostly during a turn; reconfiguration happens only at mode entry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) AddTool(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) RemoveTool(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

func (r *Registry) ClearTools() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = make(map[string]Tool)
}

// Get returns the tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// EnabledSchemas evaluates every tool's enablement predicate against the
// current state and returns the wire schemas for the enabled set.
func (r *Registry) EnabledSchemas(ctx context.Context, state State) []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		if t.IsEnabled(ctx, state) {
			out = append(out, Schema(t))
		}
	}
	return out
}

var schemaCache sync.Map

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	key := string(raw)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// ValidateParams checks raw arguments against the tool's parameter schema
// before execution. Violations are reported back to the model rather than
// aborting the loop.
func ValidateParams(t Tool, raw json.RawMessage) error {
	params := t.Parameters()
	if params == nil {
		return nil
	}
	schema, err := compileSchema(params)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", t.Name(), err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("arguments do not match schema: %w", err)
	}
	return nil
}

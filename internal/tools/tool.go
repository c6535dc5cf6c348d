// Package tools provides the tool framework and the site data tools for the agent.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Sentinel errors for the registry.
var (
	ErrNotFound      = errors.New("tool not found")
	ErrAlreadyExists = errors.New("tool already registered")
	ErrEmptyName     = errors.New("tool name is empty")
)

// Tool is the interface that all agent tools must implement.
type Tool interface {
	// Name returns the tool identifier used in function calls.
	Name() string
	// Description returns a human-readable description for the LLM.
	Description() string
	// Schema describes the accepted parameters.
	Schema() Schema
	// Execute runs the tool with already validated parameters and returns a
	// JSON document.
	Execute(ctx context.Context, params map[string]any) (json.RawMessage, error)
}

// TieredTool is an optional interface for tools that declare a risk tier.
// Tier 0: read-only
// Tier 1: writes to site content
type TieredTool interface {
	Tool
	Tier() int
}

// Risk tier constants.
const (
	TierReadOnly = 0
	TierWrite    = 1
)

// ToolTier returns the risk tier for a tool.
// Tools that do not implement TieredTool are treated as read-only.
func ToolTier(t Tool) int {
	if tt, ok := t.(TieredTool); ok {
		return tt.Tier()
	}
	return TierReadOnly
}

// Result is the outcome of one invocation, fed back to the agent.
// Exactly one of OK and Error is set.
type Result struct {
	OK    json.RawMessage `json:"ok,omitempty"`
	Error string          `json:"error,omitempty"`
}

// IsError reports whether the invocation failed.
func (r Result) IsError() bool { return r.Error != "" }

// Content renders the result as the text handed back to the LLM.
func (r Result) Content() string {
	if r.IsError() {
		data, _ := json.Marshal(map[string]string{"error": r.Error})
		return string(data)
	}
	return string(r.OK)
}

// Definition is a tool description in OpenAI function format.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Registry manages tool registration and invocation. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool. Names are unique across the registry.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return ErrEmptyName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	r.tools[name] = tool
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	result := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		result = append(result, tool)
	}
	r.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	list := r.List()
	names := make([]string, len(list))
	for i, t := range list {
		names[i] = t.Name()
	}
	return names
}

// Definitions returns tool definitions in OpenAI function format.
func (r *Registry) Definitions() []Definition {
	list := r.List()
	result := make([]Definition, 0, len(list))
	for _, tool := range list {
		result = append(result, Definition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Schema().JSONSchema(),
		})
	}
	return result
}

// Filter returns a new registry holding the tools for which keep returns true.
func (r *Registry) Filter(keep func(Tool) bool) *Registry {
	out := NewRegistry()
	for _, tool := range r.List() {
		if keep(tool) {
			out.tools[tool.Name()] = tool
		}
	}
	return out
}

// Invoke validates params against the tool schema and executes it.
// Failures, including panics, come back as Result.Error; nothing is retried.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) (res Result) {
	tool, ok := r.Get(name)
	if !ok {
		return Result{Error: fmt.Sprintf("%v: %s", ErrNotFound, name)}
	}
	if err := tool.Schema().Validate(name, params); err != nil {
		return Result{Error: err.Error()}
	}

	defer func() {
		if p := recover(); p != nil {
			res = Result{Error: fmt.Sprintf("tool %s panicked: %v", name, p)}
		}
	}()

	out, err := tool.Execute(ctx, params)
	if err != nil {
		return Result{Error: err.Error()}
	}
	if len(out) == 0 {
		out = json.RawMessage(`null`)
	}
	if !json.Valid(out) {
		quoted, _ := json.Marshal(string(out))
		out = quoted
	}
	return Result{OK: out}
}

// InvokeJSON is Invoke for arguments still encoded as a JSON object.
func (r *Registry) InvokeJSON(ctx context.Context, name string, args json.RawMessage) Result {
	params := map[string]any{}
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &params); err != nil {
			return Result{Error: (&ValidationError{Tool: name, Reason: "arguments must be a JSON object"}).Error()}
		}
	}
	return r.Invoke(ctx, name, params)
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int parameter with a default value.
func GetInt(params map[string]any, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return int(i)
			}
		}
	}
	return defaultVal
}

// GetBool extracts a bool parameter with a default value.
func GetBool(params map[string]any, key string, defaultVal bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

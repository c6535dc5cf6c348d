package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Kind is the primitive type of a tool parameter.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	// KindObject carries free-form field maps such as update payloads.
	KindObject Kind = "object"
)

// Param describes one parameter.
type Param struct {
	Kind        Kind
	Description string
	Required    bool
}

// Schema maps parameter names to their description.
type Schema map[string]Param

// ValidationError reports malformed tool arguments. It is raised before any
// Data API call is made.
type ValidationError struct {
	Tool   string
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("invalid arguments for %s: %s: %s", e.Tool, e.Param, e.Reason)
}

// JSONSchema renders the schema as a JSON Schema object.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s))
	required := make([]string, 0)
	for _, name := range s.Names() {
		p := s[name]
		props[name] = map[string]any{
			"type":        string(p.Kind),
			"description": p.Description,
		}
		if p.Required {
			required = append(required, name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Validate checks params against the schema. Unknown parameters are rejected
// so typos surface to the agent instead of being silently dropped.
func (s Schema) Validate(tool string, params map[string]any) error {
	for _, name := range s.Names() {
		p := s[name]
		v, ok := params[name]
		if !ok || v == nil {
			if p.Required {
				return &ValidationError{Tool: tool, Param: name, Reason: "is required"}
			}
			continue
		}
		if err := checkKind(p.Kind, v); err != "" {
			return &ValidationError{Tool: tool, Param: name, Reason: err}
		}
	}
	var unknown []string
	for name := range params {
		if _, ok := s[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &ValidationError{Tool: tool, Reason: "unknown parameters " + strings.Join(unknown, ", ")}
	}
	return nil
}

// Names returns the parameter names in sorted order.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func checkKind(k Kind, v any) string {
	switch k {
	case KindString:
		if _, ok := v.(string); !ok {
			return "must be a string"
		}
	case KindBoolean:
		if _, ok := v.(bool); !ok {
			return "must be a boolean"
		}
	case KindNumber:
		if _, ok := asFloat(v); !ok {
			return "must be a number"
		}
	case KindInteger:
		f, ok := asFloat(v)
		if !ok || f != math.Trunc(f) {
			return "must be an integer"
		}
	case KindObject:
		if _, ok := v.(map[string]any); !ok {
			return "must be an object"
		}
	}
	return ""
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// ABOUTME: Tool, group, and result types shared by the registry and its callers.
// ABOUTME: Schemas are compiled once at registration with google/jsonschema-go.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Category tags a tool with the API area it belongs to.
type Category string

// CategoryCore marks tools the AI router must never offer to the model.
const CategoryCore Category = "core"

// Handler executes a tool. args is always a JSON object.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool describes one callable operation.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Category    Category
	Handler     Handler

	resolved *jsonschema.Resolved
	required []string
}

// Group is a set of tools registered together.
type Group struct {
	Name     string
	Category Category // applied to tools that leave Category empty
	Tools    []*Tool
}

// Result is the structured outcome of a routed tool call. Direct tools/call
// invocations never produce one; only the AI router wraps results this way.
type Result struct {
	Success           bool     `json:"success"`
	Data              any      `json:"data,omitempty"`
	Error             string   `json:"error,omitempty"`
	ToolUsed          string   `json:"toolUsed,omitempty"`
	Reasoning         string   `json:"reasoning,omitempty"`
	ReasonCode        string   `json:"reason_code,omitempty"`
	MissingParameters []string `json:"missingParameters,omitempty"`
}

// ValidationError reports arguments rejected by a tool's schema.
type ValidationError struct {
	Tool string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

var defaultSchema = json.RawMessage(`{"type":"object"}`)

// compile parses and resolves the tool's schema.
func (t *Tool) compile() error {
	if len(t.InputSchema) == 0 {
		t.InputSchema = defaultSchema
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
		return fmt.Errorf("parsing schema for %s: %w", t.Name, err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolving schema for %s: %w", t.Name, err)
	}
	t.resolved = resolved
	t.required = append([]string(nil), schema.Required...)
	return nil
}

// Required returns the names of the tool's required top-level arguments.
func (t *Tool) Required() []string {
	return append([]string(nil), t.required...)
}

// Missing returns the required arguments absent from args.
func (t *Tool) Missing(args map[string]any) []string {
	var missing []string
	for _, name := range t.required {
		if _, ok := args[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Validate checks args against the tool's schema.
func (t *Tool) Validate(args map[string]any) error {
	if t.resolved == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := t.resolved.Validate(args); err != nil {
		return &ValidationError{Tool: t.Name, Err: err}
	}
	return nil
}

// DropNulls removes null values from maps, recursing through nested maps and
// arrays. Null array elements are kept since dropping them would shift indexes.
func DropNulls(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			if item == nil {
				delete(val, k)
				continue
			}
			val[k] = DropNulls(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = DropNulls(item)
		}
		return val
	default:
		return v
	}
}

// decodeArgs parses raw arguments into an object, treating empty input as {}.
func decodeArgs(name string, raw json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return nil, &ValidationError{Tool: name, Err: fmt.Errorf("arguments must be a JSON object: %w", err)}
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

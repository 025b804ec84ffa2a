// ABOUTME: Thread-safe registry of tool groups with ordered listing.
// ABOUTME: Validates arguments and dispatches calls to in-process handlers.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrToolNotFound indicates no tool is registered under the requested name.
var ErrToolNotFound = errors.New("tool not found")

// ErrToolCollision indicates a tool name is already registered.
var ErrToolCollision = errors.New("tool name collision")

// ErrInvalidTool indicates a tool definition is unusable.
var ErrInvalidTool = errors.New("invalid tool definition")

// Registry holds all registered tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*entry
	order  []*Tool
	groups []string
	logger *slog.Logger
}

type entry struct {
	tool  *Tool
	group string
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*entry),
		logger: logger,
	}
}

// RegisterGroup adds every tool in g. Either all tools are registered or none.
func (r *Registry) RegisterGroup(g Group) error {
	seen := make(map[string]struct{}, len(g.Tools))
	for _, t := range g.Tools {
		if t == nil || t.Name == "" {
			return fmt.Errorf("%w: empty name in group %q", ErrInvalidTool, g.Name)
		}
		if t.Handler == nil {
			return fmt.Errorf("%w: tool %q has no handler", ErrInvalidTool, t.Name)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("%w: tool %q listed twice in group %q", ErrToolCollision, t.Name, g.Name)
		}
		seen[t.Name] = struct{}{}
		if t.Category == "" {
			t.Category = g.Category
		}
		if err := t.compile(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTool, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range g.Tools {
		if existing, ok := r.tools[t.Name]; ok {
			return fmt.Errorf("%w: tool %q already registered by group %q",
				ErrToolCollision, t.Name, existing.group)
		}
	}

	for _, t := range g.Tools {
		r.tools[t.Name] = &entry{tool: t, group: g.Name}
		r.order = append(r.order, t)
	}
	r.groups = append(r.groups, g.Name)

	r.logger.Info("=== TOOL GROUP REGISTERED ===",
		"group", g.Name,
		"category", g.Category,
		"tool_count", len(g.Tools),
		"total_tools", len(r.order),
	)
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// List returns all tools in registration order.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tool, len(r.order))
	copy(out, r.order)
	return out
}

// ListExcluding returns all tools whose category is not cat.
func (r *Registry) ListExcluding(cat Category) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tool, 0, len(r.order))
	for _, t := range r.order {
		if t.Category != cat {
			out = append(out, t)
		}
	}
	return out
}

// Groups returns registered group names in order.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.groups...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Invoke validates args and runs the named tool.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (any, error) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	decoded, err := decodeArgs(name, args)
	if err != nil {
		return nil, err
	}
	DropNulls(decoded)
	if err := tool.Validate(decoded); err != nil {
		return nil, err
	}

	normalized, err := json.Marshal(decoded)
	if err != nil {
		return nil, fmt.Errorf("encoding arguments: %w", err)
	}

	start := time.Now()
	r.logger.Info("→ invoking tool", "tool", name, "category", tool.Category)

	out, err := tool.Handler(ctx, normalized)
	if err != nil {
		r.logger.Warn("tool error",
			"tool", name,
			"duration", time.Since(start),
			"error", err,
		)
		return nil, err
	}

	r.logger.Info("← tool responded", "tool", name, "duration", time.Since(start))
	return out, nil
}

// ABOUTME: The process-ai-query tool exposing the router over MCP.
// ABOUTME: Routes, optionally executes the chosen tool, optionally summarizes.

package airouter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/2389/meili-gateway/internal/tools"
)

// ToolName is the registry name of the natural-language tool.
const ToolName = "process-ai-query"

const processQuerySchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1, "description": "What you want done, in plain language"},
    "specific_tools": {"type": "array", "items": {"type": "string"}, "description": "Only consider these tools"},
    "execute": {"type": "boolean", "description": "Run the selected tool (default true)"},
    "summarize": {"type": "boolean", "description": "Summarize the tool output with the language model"}
  },
  "required": ["query"]
}`

type processQueryArgs struct {
	Query         string   `json:"query"`
	SpecificTools []string `json:"specific_tools"`
	Execute       *bool    `json:"execute"`
	Summarize     bool     `json:"summarize"`
}

// Group returns the core group holding process-ai-query.
func (r *Router) Group() tools.Group {
	return tools.Group{
		Name:     "ai",
		Category: tools.CategoryCore,
		Tools: []*tools.Tool{{
			Name:        ToolName,
			Description: "Describe a Meilisearch task in plain language; the server picks the right tool and arguments and runs it",
			InputSchema: json.RawMessage(processQuerySchema),
			Handler:     r.processQuery,
		}},
	}
}

func (r *Router) processQuery(ctx context.Context, raw json.RawMessage) (any, error) {
	var args processQueryArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decoding arguments: %w", err)
	}

	decision, err := r.Route(ctx, args.Query, args.SpecificTools)
	if err != nil {
		return nil, err
	}

	if !decision.Selected() {
		return &tools.Result{
			Success:           false,
			Error:             decision.Reasoning,
			ToolUsed:          NoTool,
			Reasoning:         decision.Reasoning,
			ReasonCode:        decision.ReasonCode,
			MissingParameters: decision.MissingParameters,
		}, nil
	}

	if args.Execute != nil && !*args.Execute {
		return &tools.Result{
			Success:   true,
			Data:      decision,
			ToolUsed:  decision.ToolName,
			Reasoning: decision.Reasoning,
		}, nil
	}

	params, err := json.Marshal(decision.Parameters)
	if err != nil {
		return nil, fmt.Errorf("encoding routed parameters: %w", err)
	}
	out, err := r.registry.Invoke(ctx, decision.ToolName, params)
	if err != nil {
		r.logger.Warn("routed tool failed", "tool", decision.ToolName, "error", err)
		return &tools.Result{
			Success:   false,
			Error:     err.Error(),
			ToolUsed:  decision.ToolName,
			Reasoning: decision.Reasoning,
		}, nil
	}

	result := &tools.Result{
		Success:   true,
		Data:      out,
		ToolUsed:  decision.ToolName,
		Reasoning: decision.Reasoning,
	}
	if !args.Summarize {
		return result, nil
	}

	text, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding tool output: %w", err)
	}
	summary, err := r.Summarize(ctx, string(text))
	if err != nil {
		return nil, err
	}
	result.Data = summary
	return result, nil
}

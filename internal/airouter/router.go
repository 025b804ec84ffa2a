// ABOUTME: Natural-language tool routing over the registry through a language model.
// ABOUTME: Produces checked decisions or coded route errors.

package airouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/2389/meili-gateway/internal/llm"
	"github.com/2389/meili-gateway/internal/metrics"
	"github.com/2389/meili-gateway/internal/tools"
)

// NoTool is the tool name of a decision that selects nothing.
const NoTool = "none"

// Reason codes.
const (
	CodeNoSuitableTool     = "NO_SUITABLE_TOOL"
	CodeMissingParameters  = "MISSING_REQUIRED_PARAMETERS"
	CodeAmbiguousValue     = "AMBIGUOUS_PARAMETER_VALUE"
	CodeInvalidValue       = "INVALID_PARAMETER_VALUE"
	CodePolicyViolation    = "POLICY_VIOLATION"
	CodeMalformedOutput    = "MALFORMED_MODEL_OUTPUT"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
)

var decisionCodes = []string{
	CodeNoSuitableTool,
	CodeMissingParameters,
	CodeAmbiguousValue,
	CodeInvalidValue,
	CodePolicyViolation,
}

// Default sizing for summaries.
const (
	DefaultChunkSize   = 8000
	DefaultMaxParallel = 4
)

const defaultReasoning = "The model did not explain its choice."

// Decision is the router's answer for one query.
type Decision struct {
	ToolName          string         `json:"toolName"`
	Parameters        map[string]any `json:"parameters"`
	Reasoning         string         `json:"reasoning"`
	ReasonCode        string         `json:"reason_code,omitempty"`
	MissingParameters []string       `json:"missingParameters,omitempty"`
}

// Selected reports whether the decision names a real tool.
func (d *Decision) Selected() bool { return d.ToolName != NoTool }

// RouteError is a routing failure that produced no decision at all.
type RouteError struct {
	Code string
	Err  error
}

func (e *RouteError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Err.Error()
}

func (e *RouteError) Unwrap() error { return e.Err }

// ReasonCode returns the machine-readable failure code.
func (e *RouteError) ReasonCode() string { return e.Code }

// RouteRecord describes one routing attempt for the audit ledger.
type RouteRecord struct {
	Query      string
	Candidates int
	ToolName   string
	ReasonCode string
	Reasoning  string
	Provider   string
	Duration   time.Duration
}

// Recorder persists routing attempts.
type Recorder interface {
	RecordRoute(ctx context.Context, rec RouteRecord) error
}

// Config configures a Router.
type Config struct {
	Registry    *tools.Registry
	Backend     llm.Backend
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Recorder    Recorder
	ChunkSize   int
	MaxParallel int
}

// Router selects tools with a language model.
type Router struct {
	registry    *tools.Registry
	backend     llm.Backend
	logger      *slog.Logger
	metrics     *metrics.Metrics
	recorder    Recorder
	chunkSize   int
	maxParallel int
}

// New creates a Router.
func New(cfg Config) (*Router, error) {
	if cfg.Registry == nil {
		return nil, errors.New("airouter: registry is required")
	}
	if cfg.Backend == nil {
		return nil, errors.New("airouter: backend is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	return &Router{
		registry:    cfg.Registry,
		backend:     cfg.Backend,
		logger:      logger.With("component", "airouter"),
		metrics:     cfg.Metrics,
		recorder:    cfg.Recorder,
		chunkSize:   chunkSize,
		maxParallel: maxParallel,
	}, nil
}

// candidates returns the non-core tools, restricted to names when given.
// It reads the registry on every call.
func (r *Router) candidates(names []string) []*tools.Tool {
	all := r.registry.ListExcluding(tools.CategoryCore)
	if len(names) == 0 {
		return all
	}
	out := make([]*tools.Tool, 0, len(names))
	for _, t := range all {
		if slices.Contains(names, t.Name) {
			out = append(out, t)
		}
	}
	return out
}

type catalogEntry struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// renderPrompt fills the selection template with the candidate catalog.
func renderPrompt(candidates []*tools.Tool) (string, error) {
	catalog := make([]catalogEntry, 0, len(candidates))
	for _, t := range candidates {
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		catalog = append(catalog, catalogEntry{Name: t.Name, Description: t.Description, Parameters: schema})
	}
	data, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding tool catalog: %w", err)
	}
	return strings.Replace(selectionPrompt, toolsPlaceholder, string(data), 1), nil
}

// Route asks the model which tool answers query. names optionally narrows
// the candidate set. An empty candidate set is still sent to the model.
func (r *Router) Route(ctx context.Context, query string, names []string) (*Decision, error) {
	start := time.Now()
	candidates := r.candidates(names)

	decision, err := r.route(ctx, query, candidates)

	rec := RouteRecord{
		Query:      query,
		Candidates: len(candidates),
		Provider:   r.backend.Name(),
		Duration:   time.Since(start),
	}
	var routeErr *RouteError
	switch {
	case errors.As(err, &routeErr):
		rec.ReasonCode = routeErr.Code
		rec.Reasoning = routeErr.Error()
	case err != nil:
		rec.ReasonCode = CodeBackendUnavailable
		rec.Reasoning = err.Error()
	default:
		rec.ToolName = decision.ToolName
		rec.ReasonCode = decision.ReasonCode
		rec.Reasoning = decision.Reasoning
	}

	r.metrics.RouteDecision(rec.ReasonCode)
	r.logger.Info("route decision",
		"tool", rec.ToolName,
		"reason_code", rec.ReasonCode,
		"candidates", rec.Candidates,
		"duration", rec.Duration,
	)
	if r.recorder != nil {
		if recErr := r.recorder.RecordRoute(ctx, rec); recErr != nil {
			r.logger.Warn("recording route decision failed", "error", recErr)
		}
	}
	return decision, err
}

func (r *Router) route(ctx context.Context, query string, candidates []*tools.Tool) (*Decision, error) {
	prompt, err := renderPrompt(candidates)
	if err != nil {
		return nil, err
	}

	reply, err := r.complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: prompt},
		{Role: llm.RoleUser, Content: query},
	})
	if err != nil {
		return nil, err
	}

	parsed, err := Recover(reply)
	if err != nil {
		r.logger.Warn("unparseable model reply", "error", err, "reply_len", len(reply))
		return nil, &RouteError{Code: CodeMalformedOutput, Err: err}
	}
	parsed = unwrapStrings(parsed)

	decision, err := decode(parsed)
	if err != nil {
		return nil, &RouteError{Code: CodeMalformedOutput, Err: err}
	}
	r.check(decision, candidates)
	return decision, nil
}

// complete calls the backend, mapping any failure to BACKEND_UNAVAILABLE.
func (r *Router) complete(ctx context.Context, messages []llm.Message) (string, error) {
	reply, err := r.backend.Complete(ctx, messages)
	r.metrics.BackendCall(r.backend.Name(), err)
	if err != nil {
		return "", &RouteError{Code: CodeBackendUnavailable, Err: fmt.Errorf("%s backend: %w", r.backend.Name(), err)}
	}
	return reply, nil
}

// check demotes decisions naming unknown tools or lacking required
// arguments to the sentinel.
func (r *Router) check(d *Decision, candidates []*tools.Tool) {
	if !d.Selected() {
		return
	}
	idx := slices.IndexFunc(candidates, func(t *tools.Tool) bool { return t.Name == d.ToolName })
	if idx < 0 {
		d.Reasoning = fmt.Sprintf("The model chose %q, which is not an available tool.", d.ToolName)
		d.ToolName = NoTool
		d.ReasonCode = CodeNoSuitableTool
		d.Parameters = map[string]any{}
		return
	}
	tool := candidates[idx]

	if missing := tool.Missing(d.Parameters); len(missing) > 0 {
		d.Reasoning = fmt.Sprintf("%s needs %s, which the request does not provide.", tool.Name, strings.Join(missing, ", "))
		d.ToolName = NoTool
		d.ReasonCode = CodeMissingParameters
		d.MissingParameters = missing
		return
	}

	if err := tool.Validate(d.Parameters); err != nil {
		d.Reasoning = err.Error()
		d.ToolName = NoTool
		d.ReasonCode = CodeInvalidValue
	}
}

// decode maps a recovered value onto a Decision. Models disagree on key
// names, so several spellings are accepted.
func decode(v any) (*Decision, error) {
	if arr, ok := v.([]any); ok && len(arr) > 0 {
		v = arr[0]
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %T", v)
	}

	d := &Decision{
		ToolName:  firstString(obj, "name", "tool", "toolName", "tool_name"),
		Reasoning: firstString(obj, "reasoning", "reason", "explanation"),
	}

	params, _ := firstValue(obj, "parameters", "params", "arguments", "args").(map[string]any)
	if params == nil {
		params = map[string]any{}
	}
	tools.DropNulls(params)
	d.Parameters = params

	code, message, missing := decodeError(obj)
	switch {
	case code != "" || d.ToolName == NoTool:
		if !slices.Contains(decisionCodes, code) {
			code = CodeNoSuitableTool
		}
		d.ToolName = NoTool
		d.Parameters = map[string]any{}
		d.ReasonCode = code
		d.MissingParameters = missing
		if d.Reasoning == "" {
			d.Reasoning = message
		}
	case d.ToolName == "":
		return nil, errors.New("reply names no tool")
	}

	if d.Reasoning == "" {
		d.Reasoning = defaultReasoning
	}
	return d, nil
}

// decodeError reads the error object (or a top-level reason code).
func decodeError(obj map[string]any) (code, message string, missing []string) {
	switch e := obj["error"].(type) {
	case map[string]any:
		code = firstString(e, "code", "reason_code", "reasonCode")
		message = firstString(e, "message", "detail")
		missing = stringList(firstValue(e, "missing_parameters", "missingParameters", "missing"))
	case string:
		message = e
		if slices.Contains(decisionCodes, e) {
			code = e
		}
	}
	if code == "" {
		code = firstString(obj, "reason_code", "reasonCode", "code")
	}
	if missing == nil {
		missing = stringList(firstValue(obj, "missing_parameters", "missingParameters"))
	}
	if code == "" && (message != "" || obj["error"] != nil) {
		code = CodeNoSuitableTool
	}
	return code, message, missing
}

func firstValue(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func stringList(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

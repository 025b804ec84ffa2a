// ABOUTME: Per-session MCP protocol transport: JSON-RPC handling and push outbox.
// ABOUTME: Implements session.Transport on top of the tool registry.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/meili-gateway/internal/envelope"
	"github.com/2389/meili-gateway/internal/metrics"
	"github.com/2389/meili-gateway/internal/session"
	"github.com/2389/meili-gateway/internal/tools"
)

// DefaultOutboxSize bounds queued server-push messages per session.
const DefaultOutboxSize = 64

// ErrOutboxFull is returned by Notify when the push queue is full and the
// message was dropped.
var ErrOutboxFull = errors.New("push outbox full")

// ToolCallRecord describes one tools/call for the audit ledger.
type ToolCallRecord struct {
	SessionID string
	Tool      string
	OK        bool
	Error     string
	Duration  time.Duration
}

// Recorder persists tool calls.
type Recorder interface {
	RecordToolCall(ctx context.Context, rec ToolCallRecord) error
}

// TransportConfig is shared by every transport the factory builds.
type TransportConfig struct {
	Registry     *tools.Registry
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Recorder     Recorder
	ServerInfo   Implementation
	Instructions string
	OutboxSize   int
}

// NewTransportFactory returns the session.NewTransportFunc used by the store.
func NewTransportFactory(cfg TransportConfig) (session.NewTransportFunc, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = DefaultOutboxSize
	}
	if cfg.ServerInfo.Name == "" {
		cfg.ServerInfo = Implementation{Name: "meili-gateway", Version: "dev"}
	}
	return func(id string) session.Transport {
		return NewTransport(id, cfg)
	}, nil
}

// Transport is the protocol state of one session.
type Transport struct {
	id       string
	cfg      TransportConfig
	logger   *slog.Logger
	outbox   chan []byte
	closed   chan struct{}
	closeErr sync.Once

	mu              sync.Mutex
	initialized     bool
	clientReady     bool
	protocolVersion string
	clientInfo      Implementation
	streaming       bool
}

// NewTransport builds a transport for session id. cfg must already carry
// defaults; use NewTransportFactory outside tests.
func NewTransport(id string, cfg TransportConfig) *Transport {
	size := cfg.OutboxSize
	if size <= 0 {
		size = DefaultOutboxSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		id:     id,
		cfg:    cfg,
		logger: logger.With("session_id", id),
		outbox: make(chan []byte, size),
		closed: make(chan struct{}),
	}
}

// ID returns the owning session id.
func (t *Transport) ID() string { return t.id }

// Initialized reports whether initialize succeeded.
func (t *Transport) Initialized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.initialized
}

// ProtocolVersion returns the negotiated version, or "" before initialize.
func (t *Transport) ProtocolVersion() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.protocolVersion
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// HandleMessage processes one JSON-RPC message or batch. It returns nil when
// the body held only notifications.
func (t *Transport) HandleMessage(ctx context.Context, body []byte) ([]byte, error) {
	if t.isClosed() {
		return nil, session.ErrTransportClosed
	}

	msgs, batch, err := decodeMessages(body)
	if err != nil {
		return json.Marshal(errorResponse(nullID, JSONRPCParseError, "parse error: "+err.Error()))
	}
	if batch && len(msgs) == 0 {
		return json.Marshal(errorResponse(nullID, JSONRPCInvalidRequest, "empty batch"))
	}

	responses := make([]*JSONRPCResponse, 0, len(msgs))
	for i := range msgs {
		if resp := t.handle(ctx, &msgs[i]); resp != nil {
			responses = append(responses, resp)
		}
	}

	switch {
	case len(responses) == 0:
		return nil, nil
	case !batch:
		return json.Marshal(responses[0])
	default:
		return json.Marshal(responses)
	}
}

func (t *Transport) handle(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	if req.IsNotification() {
		t.handleNotification(req)
		return nil
	}
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version")
	}

	t.logger.Debug("MCP request", "method", req.Method)

	switch req.Method {
	case "initialize":
		return t.handleInitialize(req)
	case "ping":
		return resultResponse(req.ID, struct{}{})
	}

	if !t.Initialized() {
		return errorResponse(req.ID, JSONRPCNotInitialized, "session not initialized")
	}

	switch req.Method {
	case "tools/list":
		return t.handleToolsList(req)
	case "tools/call":
		return t.handleToolsCall(ctx, req)
	default:
		return errorResponse(req.ID, JSONRPCMethodNotFound, "method not found: "+req.Method)
	}
}

func (t *Transport) handleNotification(req *JSONRPCRequest) {
	switch {
	case req.Method == "notifications/initialized":
		t.mu.Lock()
		t.clientReady = true
		t.mu.Unlock()
		t.logger.Debug("client ready")
	case strings.HasPrefix(req.Method, "notifications/"):
		t.logger.Debug("accepted MCP notification", "method", req.Method)
	default:
		t.logger.Warn("received notification for non-notification method", "method", req.Method)
	}
}

func (t *Transport) handleInitialize(req *JSONRPCRequest) *JSONRPCResponse {
	params, err := parseInitializeParams(req.Params)
	if err != nil {
		return errorResponse(req.ID, JSONRPCInvalidParams, "invalid initialize params: "+err.Error())
	}

	t.mu.Lock()
	if t.initialized {
		t.mu.Unlock()
		return errorResponse(req.ID, JSONRPCInvalidRequest, "session already initialized")
	}
	t.initialized = true
	t.protocolVersion = negotiateVersion(params.ProtocolVersion)
	t.clientInfo = params.ClientInfo
	version := t.protocolVersion
	t.mu.Unlock()

	t.logger.Info("MCP session initialized",
		"protocol_version", version,
		"client", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version,
	)

	return resultResponse(req.ID, InitializeResult{
		ProtocolVersion: version,
		Capabilities: map[string]any{
			"tools": map[string]any{"listChanged": true},
		},
		ServerInfo:   t.cfg.ServerInfo,
		Instructions: t.cfg.Instructions,
	})
}

func (t *Transport) handleToolsList(req *JSONRPCRequest) *JSONRPCResponse {
	list := t.cfg.Registry.List()
	result := ListToolsResult{Tools: make([]ToolInfo, 0, len(list))}
	for _, tool := range list {
		schema := tool.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		result.Tools = append(result.Tools, ToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	t.logger.Debug("tools/list", "count", len(result.Tools))
	return resultResponse(req.ID, result)
}

func (t *Transport) handleToolsCall(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	var params CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, JSONRPCInvalidParams, "invalid params")
		}
	}
	if params.Name == "" {
		return errorResponse(req.ID, JSONRPCInvalidParams, "tool name is required")
	}
	if _, ok := t.cfg.Registry.Get(params.Name); !ok {
		return errorResponse(req.ID, JSONRPCInvalidParams, "tool not found: "+params.Name)
	}

	start := time.Now()
	out, err := t.cfg.Registry.Invoke(ctx, params.Name, params.Arguments)
	elapsed := time.Since(start)

	result := toolResult(out, err)
	t.cfg.Metrics.ToolCall(params.Name, !result.IsError, elapsed)

	rec := ToolCallRecord{
		SessionID: t.id,
		Tool:      params.Name,
		OK:        !result.IsError,
		Duration:  elapsed,
	}
	if result.IsError && len(result.Content) > 0 {
		rec.Error = result.Content[0].Text
	}
	if t.cfg.Recorder != nil {
		if recErr := t.cfg.Recorder.RecordToolCall(ctx, rec); recErr != nil {
			t.logger.Warn("recording tool call failed", "error", recErr)
		}
	}

	t.logger.Debug("tools/call complete",
		"tool_name", params.Name,
		"is_error", result.IsError,
		"duration", elapsed,
	)
	return resultResponse(req.ID, result)
}

// toolResult renders a tool outcome through the envelope.
func toolResult(out any, err error) envelope.ToolResult {
	if err != nil {
		return envelope.FromError(err)
	}
	res := envelope.JSON(out)
	if routed, ok := out.(*tools.Result); ok && !routed.Success {
		res.IsError = true
	}
	return res
}

// Notify queues a notification for the push stream. A full queue drops the
// message.
func (t *Transport) Notify(method string, params any) error {
	if t.isClosed() {
		return session.ErrTransportClosed
	}
	data, err := json.Marshal(JSONRPCNotification{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	select {
	case t.outbox <- data:
		return nil
	default:
		t.logger.Warn("push outbox full, dropping notification", "method", method)
		return ErrOutboxFull
	}
}

// OpenStream hands out the push channel. Only one reader at a time.
func (t *Transport) OpenStream() (*session.Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isClosed() {
		return nil, session.ErrTransportClosed
	}
	if t.streaming {
		return nil, session.ErrStreamActive
	}
	t.streaming = true
	return session.NewStream(t.outbox, t.closed, func() {
		t.mu.Lock()
		t.streaming = false
		t.mu.Unlock()
	}), nil
}

// Close ends the transport. Open streams observe Stream.Closed.
func (t *Transport) Close() error {
	t.closeErr.Do(func() {
		close(t.closed)
		t.logger.Debug("transport closed")
	})
	return nil
}

func resultResponse(id json.RawMessage, result any) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, message string) *JSONRPCResponse {
	if len(id) == 0 {
		id = nullID
	}
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &JSONRPCError{Code: code, Message: message}}
}

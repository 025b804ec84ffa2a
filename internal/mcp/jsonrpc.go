// ABOUTME: JSON-RPC 2.0 and MCP wire types shared by the transport and adapters.
// ABOUTME: Also holds protocol version negotiation and message decoding helpers.

package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Supported MCP protocol versions, oldest first.
var supportedProtocolVersions = []string{
	"2025-03-26",
	"2025-06-18",
	"2025-11-25",
}

// LatestProtocolVersion is advertised when the client asks for an unknown version.
const LatestProtocolVersion = "2025-11-25"

// MaxRequestBodySize is the maximum allowed size for request bodies (4MB).
const MaxRequestBodySize = 4 << 20

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request or notification.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the message expects no response.
func (r *JSONRPCRequest) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCNotification is a server-initiated message without an id.
type JSONRPCNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603

	// JSONRPCNotInitialized is returned for calls made before initialize.
	JSONRPCNotInitialized = -32002
)

var nullID = json.RawMessage("null")

// MCP-specific types

// InitializeParams are the params of an initialize request.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// Implementation names a client or server.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the result of initialize.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      Implementation `json:"serverInfo"`
	Instructions    string         `json:"instructions,omitempty"`
}

// ToolInfo represents an MCP tool definition.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsResult is the result for tools/list.
type ListToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

// CallToolParams are the params for tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// negotiateVersion returns the client's version when supported, otherwise
// the latest version this server speaks.
func negotiateVersion(requested string) string {
	for _, v := range supportedProtocolVersions {
		if v == requested {
			return v
		}
	}
	return LatestProtocolVersion
}

var errEmptyBody = errors.New("empty body")

// decodeMessages parses a single message or a batch. batch reports whether
// the body was an array.
func decodeMessages(body []byte) (msgs []JSONRPCRequest, batch bool, err error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false, errEmptyBody
	}
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, true, err
		}
		return msgs, true, nil
	}
	var msg JSONRPCRequest
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, false, err
	}
	return []JSONRPCRequest{msg}, false, nil
}

var (
	errNotHandshake      = errors.New("not an initialize request")
	errHandshakeParams   = errors.New("initialize params require protocolVersion, capabilities and clientInfo")
	errHandshakeNotified = errors.New("initialize must carry a request id")
)

// handshakeRequest is the strict handshake shape. decode fails unless the
// message is a JSON-RPC 2.0 initialize request with complete params.
type handshakeRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func decodeHandshake(raw []byte) error {
	var h handshakeRequest
	if err := json.Unmarshal(raw, &h); err != nil {
		return err
	}
	if h.JSONRPC != "2.0" || h.Method != "initialize" {
		return errNotHandshake
	}
	if len(h.ID) == 0 || string(h.ID) == "null" {
		return errHandshakeNotified
	}
	_, err := parseInitializeParams(h.Params)
	return err
}

// parseInitializeParams decodes params and requires every handshake field.
func parseInitializeParams(raw json.RawMessage) (*InitializeParams, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, errHandshakeParams
	}
	var fields struct {
		ProtocolVersion *string         `json:"protocolVersion"`
		Capabilities    json.RawMessage `json:"capabilities"`
		ClientInfo      *Implementation `json:"clientInfo"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if fields.ProtocolVersion == nil || *fields.ProtocolVersion == "" ||
		!isObject(fields.Capabilities) || fields.ClientInfo == nil {
		return nil, errHandshakeParams
	}
	var params InitializeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// IsInitializeRequest reports whether body is an initialize request, or a
// batch containing at least one.
func IsInitializeRequest(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return false
	}
	if trimmed[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return false
		}
		for _, elem := range batch {
			if decodeHandshake(elem) == nil {
				return true
			}
		}
		return false
	}
	return decodeHandshake(trimmed) == nil
}

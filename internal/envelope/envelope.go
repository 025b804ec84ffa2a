// ABOUTME: Uniform error/success payloads for tool results and HTTP rejections.
// ABOUTME: The single chokepoint that turns Go errors into caller-visible text.

package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Content is one item of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is the payload returned for tools/call.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// UpstreamError records a non-2xx response from a REST call.
type UpstreamError struct {
	Status int
	Body   string
	Method string
	Path   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Coded is implemented by errors that carry a machine-readable reason code.
type Coded interface {
	error
	ReasonCode() string
}

// Diagnostic renders err as the text placed inside an error envelope.
func Diagnostic(err error) string {
	if err == nil {
		return "unknown error"
	}

	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		body := strings.TrimSpace(upstream.Body)
		if body == "" {
			body = http.StatusText(upstream.Status)
		}
		return fmt.Sprintf("Meilisearch API error (status %d): %s", upstream.Status, body)
	}

	var coded Coded
	if errors.As(err, &coded) {
		return fmt.Sprintf("[%s] %s", coded.ReasonCode(), coded.Error())
	}

	return err.Error()
}

// FromError wraps err in an error envelope.
func FromError(err error) ToolResult {
	return ToolResult{
		Content: []Content{{Type: "text", Text: Diagnostic(err)}},
		IsError: true,
	}
}

// Errorf builds an error envelope from a format string.
func Errorf(format string, args ...any) ToolResult {
	return ToolResult{
		Content: []Content{{Type: "text", Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

// Text wraps s in a successful envelope.
func Text(s string) ToolResult {
	return ToolResult{Content: []Content{{Type: "text", Text: s}}}
}

// JSON renders v as indented JSON inside a successful envelope. Raw JSON is
// re-indented rather than re-encoded so upstream field order survives.
func JSON(v any) ToolResult {
	if raw, ok := v.(json.RawMessage); ok {
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return Text(string(raw))
		}
		return Text(buf.String())
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return FromError(fmt.Errorf("encoding result: %w", err))
	}
	return Text(string(data))
}

// rejection is the body written for dispatcher-level rejections.
type rejection struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      *string      `json:"id"`
	Error   rejectionRPC `json:"error"`
	IsError bool         `json:"isError"`
	Content []Content    `json:"content"`
}

type rejectionRPC struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RejectionCode is the JSON-RPC code used on rejection bodies.
const RejectionCode = -32000

// Reject builds the HTTP body for a rejected request.
func Reject(message string) []byte {
	body, err := json.Marshal(rejection{
		JSONRPC: "2.0",
		Error:   rejectionRPC{Code: RejectionCode, Message: message},
		IsError: true,
		Content: []Content{{Type: "text", Text: message}},
	})
	if err != nil {
		// Only strings are marshaled above.
		return []byte(`{"isError":true,"content":[{"type":"text","text":"internal error"}]}`)
	}
	return body
}

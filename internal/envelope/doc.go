// Package envelope turns failures into the uniform payload callers see.
//
// # Shape
//
// Every failure, whether it came from a tool handler, the Meilisearch client,
// or the AI router, is rendered as:
//
//	{"isError": true, "content": [{"type": "text", "text": "<diagnostic>"}]}
//
// When the failure carries an upstream HTTP response (see [UpstreamError]) the
// diagnostic includes the status code and the raw response body. Routing
// failures (anything implementing [Coded]) are prefixed with their reason code
// so a calling agent can branch on it without parsing prose.
//
// # HTTP Rejections
//
// [Reject] builds the body used by the dispatcher for 4xx/5xx responses. It
// carries the envelope fields alongside a JSON-RPC error object so both plain
// HTTP callers and MCP clients can read it.
package envelope

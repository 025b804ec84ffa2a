// Package mcp implements the Model Context Protocol server side of the gateway.
//
// # Overview
//
// The package has three layers:
//
//   - Transport: per-session JSON-RPC 2.0 handling (initialize, ping,
//     tools/list, tools/call, notifications) with a bounded push outbox.
//   - Dispatcher: the host-agnostic state machine that classifies each request
//     as initializing, continuing or rejected and produces a Result.
//   - Adapters: Handler translates net/http onto the Dispatcher and writes push
//     streams as Server-Sent Events; ServeStdio drives a single transport over
//     stdin/stdout.
//
// # Streamable HTTP
//
// One endpoint (default /mcp) serves every method:
//
//	POST    JSON-RPC message or batch; the first one must be initialize
//	GET     opens the SSE push stream for the session
//	DELETE  closes the session
//	OPTIONS CORS preflight
//
// The session id travels in the Mcp-Session-Id header. It is issued on the
// initialize response and exposed to cross-origin callers.
//
// # Authentication
//
// When a verifier is configured every non-preflight request must carry
//
//	Authorization: Bearer <token>
//
// Rejections use the envelope shape so generic clients can display them.
package mcp

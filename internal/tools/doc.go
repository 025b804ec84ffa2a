// Package tools holds the registry of callable tools exposed over MCP.
//
// # Overview
//
// A tool is a named, JSON-Schema-described operation with an in-process
// handler. Tools are registered in groups at startup (one group per
// Meilisearch API area, plus the AI router's core group) and are read-only
// afterwards. Registration order is preserved so tools/list output and the
// AI router's candidate list are stable.
//
// # Categories
//
// Each tool carries a [Category]. Tools tagged [CategoryCore] are hidden from
// the AI router's candidate list so the router never selects itself.
//
// # Invocation
//
// [Registry.Invoke] normalizes arguments (explicit nulls are dropped so they
// behave like absent optional fields), validates them against the tool's
// schema, and calls the handler. Handlers return any JSON-encodable value;
// json.RawMessage values pass through untouched.
package tools

// Package store is the gateway's SQLite audit ledger.
//
// # Tables
//
//   - tool_invocations: one row per tools/call handled by an MCP session,
//     with the outcome and duration.
//   - route_decisions: one row per AI routing attempt, with the chosen tool
//     or the reason code explaining why none was chosen.
//
// Rows are append-only. List methods return newest first.
//
// The ledger is optional; the gateway runs without it when no database path
// is configured.
package store

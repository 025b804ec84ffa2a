// Package session tracks live MCP sessions and reclaims idle ones.
//
// # Overview
//
// A [Session] binds a server-issued identifier to exactly one [Transport] and
// a last-activity timestamp. Sessions exist only inside a [Store]; an id that
// is not in the store is reported the same way whether it never existed or
// was evicted.
//
// # Lifecycle
//
//   - Create: called by the dispatcher for a validated initialize request.
//   - Touch: called by the dispatcher after every request routed to the session.
//   - Remove: explicit close (DELETE) or handshake rollback.
//   - EvictExpired: the idle sweep, run every SweepInterval by [Store.Sweep].
//   - CloseAll: process shutdown.
//
// Every removal path closes the transport exactly once. Close errors are
// logged and never returned, so eviction and shutdown always run to the end.
package session

// Package gateway orchestrates the meili-gateway server components.
//
// # Overview
//
// The gateway owns the tool registry (Meilisearch groups plus the optional
// process-ai-query tool), the session store and its idle sweep, the MCP
// dispatcher, the SQLite audit ledger, Prometheus metrics, and the HTTP or
// tsnet listener.
//
// # HTTP Routes
//
//	GET  /health        liveness, always 200
//	GET  /health/ready  200 when Meilisearch reports "available", else 503
//	GET  /metrics       Prometheus registry (when metrics.enabled)
//	*    /mcp           MCP Streamable HTTP endpoint (server.endpoint)
//
// Every other path reaches the dispatcher and is answered with 404.
//
// # Lifecycle
//
// New wires everything without listening. Run binds the listener, starts
// the sweep, and blocks until its context is canceled; shutdown closes every
// session before the HTTP server drains. ServeStdio runs one transport over
// stdin/stdout instead.
//
// # Tailscale
//
// With tailscale.enabled the gateway joins the tailnet through tsnet and
// listens on :80, on :443 with tailnet certificates (https), or through
// Funnel (funnel). server.http_addr is ignored in that mode.
package gateway

// Package meili talks to the Meilisearch REST API and exposes it as tools.
//
// # Client
//
// [Client] is a thin REST client: it sets the bearer key, rate-limits
// outgoing requests, and returns response bodies verbatim. Non-2xx responses
// become *envelope.UpstreamError so the status and body reach the caller
// unchanged. Nothing is retried here.
//
// # Tools
//
// [Groups] returns one tools.Group per API area (system, indexes, documents,
// search, settings, tasks, keys, vector). Most tools are declared as table
// rows mapping arguments onto a path, query string, and body; a handful
// (wait-for-task, update-setting, info) have bespoke handlers.
//
// # Tasks
//
// Write operations in Meilisearch are asynchronous. [Client.WaitForTask]
// polls a task at a fixed interval until it reaches a terminal status, and
// gives up with [ErrTaskWaitTimeout] once its bound elapses.
package meili

// Package auth verifies bearer tokens on the MCP endpoint.
//
// Tokens are HS256-signed JWTs whose "sub" claim names the caller. The same
// secret mints tokens (the CLI's token command) and verifies them. When no
// secret is configured the gateway runs without authentication.
//
//	Authorization: Bearer <jwt>
//
// The verified subject travels in the request context; see [WithSubject]
// and [SubjectFrom].
package auth

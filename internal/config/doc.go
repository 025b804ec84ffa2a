// Package config handles configuration loading for meili-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML (or TOML, by extension) file with
// environment variable expansion, then overlaid with the process
// environment. Defaults cover everything except credentials.
//
// # Configuration File
//
// Locations (in order):
//
//  1. The --config flag
//  2. Path from MEILI_GATEWAY_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/meili-gateway/gateway.yaml
//
// A missing file is not an error; the environment alone is used.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	meilisearch:
//	  api_key: "${MEILI_API_KEY}"
//
// # Environment Overlay
//
// These variables override file values when set:
//
//	MEILI_HOST, MEILI_API_KEY
//	AI_PROVIDER, AI_PROVIDER_API_KEY, AI_MODEL
//	PORT, MCP_ENDPOINT
//	SESSION_TIMEOUT, SESSION_CLEANUP_INTERVAL (milliseconds)
//	MEILI_GATEWAY_JWT_SECRET
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	session:
//	  timeout: "1h"
//	  sweep_interval: "1m"
//
// The sweep interval defaults to one sixtieth of the timeout.
package config

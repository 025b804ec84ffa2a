// ABOUTME: Starter configuration written by the init command.
// ABOUTME: Produces commented YAML with a generated JWT secret.

package config

import "fmt"

const starterTemplate = `# meili-gateway configuration
server:
  http_addr: ":8080"
  endpoint: "/mcp"
  sse_keepalive: "30s"
  allowed_origins: ["*"]

meilisearch:
  host: "http://localhost:7700"
  api_key: "${MEILI_API_KEY}"
  timeout: "30s"
  rate_limit: 0
  task_wait_timeout: "5s"
  task_poll_interval: "50ms"

# Leave provider empty to disable process-ai-query.
# One of: openai, azure, openrouter, huggingface, anthropic, ollama
ai:
  provider: ""
  api_key: "${AI_PROVIDER_API_KEY}"
  model: ""
  chunk_size: 8000
  max_parallel: 4

session:
  timeout: "1h"

database:
  path: %q

auth:
  jwt_secret: %q

tailscale:
  enabled: false
  hostname: "meili-gateway"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
  path: "/metrics"
`

// Starter renders the starter YAML. An empty secret leaves auth disabled.
func Starter(dbPath, jwtSecret string) []byte {
	return []byte(fmt.Sprintf(starterTemplate, dbPath, jwtSecret))
}

// ABOUTME: Backend interface, provider selection, and the shared HTTP error type.
// ABOUTME: New maps a provider name onto a concrete Backend.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role
	Content string
}

// Backend completes a conversation with a language model.
type Backend interface {
	Name() string
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Provider names accepted by New.
const (
	ProviderOpenAI      = "openai"
	ProviderAzure       = "azure"
	ProviderOpenRouter  = "openrouter"
	ProviderHuggingFace = "huggingface"
	ProviderAnthropic   = "anthropic"
	ProviderOllama      = "ollama"
)

// ErrUnknownProvider is returned by New for an unsupported provider name.
var ErrUnknownProvider = errors.New("unknown ai provider")

// ErrEmptyReply is returned when a backend answers without any text.
var ErrEmptyReply = errors.New("model returned no content")

// Error is a non-2xx answer from a provider's HTTP API.
type Error struct {
	Provider string
	Status   int
	Body     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Body)
}

// Config selects and configures a backend.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	Endpoint    string
	MaxTokens   int32
	Temperature float32
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

type providerDefaults struct {
	endpoint string
	model    string
}

var defaults = map[string]providerDefaults{
	ProviderOpenAI:      {"https://api.openai.com/v1", "gpt-4o-mini"},
	ProviderOpenRouter:  {"https://openrouter.ai/api/v1", "openai/gpt-4o-mini"},
	ProviderHuggingFace: {"https://router.huggingface.co/v1", "meta-llama/Llama-3.1-8B-Instruct"},
	ProviderAnthropic:   {"https://api.anthropic.com", "claude-3-5-haiku-latest"},
	ProviderOllama:      {"http://localhost:11434", "llama3.1"},
	ProviderAzure:       {},
}

// Providers lists the accepted provider names.
func Providers() []string {
	return []string{
		ProviderOpenAI, ProviderAzure, ProviderOpenRouter,
		ProviderHuggingFace, ProviderAnthropic, ProviderOllama,
	}
}

// New builds the backend named by cfg.Provider.
func New(cfg Config) (Backend, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	def, ok := defaults[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownProvider, cfg.Provider, strings.Join(Providers(), ", "))
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.endpoint
	}
	if cfg.Model == "" {
		cfg.Model = def.model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("component", "llm", "provider", provider)
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	switch provider {
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%s requires an api key", provider)
		}
		return newAnthropic(cfg), nil
	case ProviderOllama:
		return newOllama(cfg), nil
	case ProviderAzure:
		if cfg.Endpoint == "" || cfg.Model == "" {
			return nil, errors.New("azure requires an endpoint and a deployment name as model")
		}
		return newOpenAICompatible(provider, cfg, true)
	default:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%s requires an api key", provider)
		}
		return newOpenAICompatible(provider, cfg, false)
	}
}

// splitSystem separates system turns, joined in order, from the rest.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

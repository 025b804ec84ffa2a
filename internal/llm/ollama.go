// ABOUTME: Ollama /api/chat backend for locally hosted models.
// ABOUTME: Streaming is disabled so one reply object comes back.

package llm

import (
	"context"
	"fmt"
)

type ollama struct {
	cfg Config
}

func newOllama(cfg Config) *ollama { return &ollama{cfg: cfg} }

func (b *ollama) Name() string { return ProviderOllama }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error"`
}

func (b *ollama) Complete(ctx context.Context, messages []Message) (string, error) {
	req := ollamaRequest{
		Model: b.cfg.Model,
		Options: map[string]any{
			"temperature": b.cfg.Temperature,
			"num_predict": b.cfg.MaxTokens,
		},
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}

	var headers map[string]string
	if b.cfg.APIKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + b.cfg.APIKey}
	}

	var resp ollamaResponse
	if err := postJSON(ctx, b.cfg.HTTPClient, ProviderOllama, b.cfg.Endpoint+"/api/chat", headers, req, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("%s: %s", ProviderOllama, resp.Error)
	}
	if resp.Message.Content == "" {
		return "", fmt.Errorf("%s: %w", ProviderOllama, ErrEmptyReply)
	}
	return resp.Message.Content, nil
}

// ABOUTME: Anthropic Messages API backend over net/http.
// ABOUTME: System turns travel in the top-level system field.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const anthropicVersion = "2023-06-01"

// maxErrorBody caps how much of a failed response is kept in an Error.
const maxErrorBody = 4096

type anthropic struct {
	cfg    Config
	logger *slog.Logger
}

func newAnthropic(cfg Config) *anthropic {
	return &anthropic{cfg: cfg, logger: cfg.Logger}
}

func (b *anthropic) Name() string { return ProviderAnthropic }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int32              `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature float32            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func (b *anthropic) Complete(ctx context.Context, messages []Message) (string, error) {
	system, rest := splitSystem(messages)
	req := anthropicRequest{
		Model:       b.cfg.Model,
		MaxTokens:   b.cfg.MaxTokens,
		System:      system,
		Temperature: b.cfg.Temperature,
	}
	for _, m := range rest {
		req.Messages = append(req.Messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}

	var resp anthropicResponse
	err := postJSON(ctx, b.cfg.HTTPClient, ProviderAnthropic, b.cfg.Endpoint+"/v1/messages", map[string]string{
		"x-api-key":         b.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}, req, &resp)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("%s: %w", ProviderAnthropic, ErrEmptyReply)
	}
	b.logger.Debug("completion finished", "model", b.cfg.Model, "stop_reason", resp.StopReason)
	return text.String(), nil
}

// postJSON sends body as JSON and decodes a 2xx reply into out.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encoding request: %w", provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: building request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &Error{Provider: provider, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", provider, err)
	}
	return nil
}

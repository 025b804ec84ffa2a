// ABOUTME: OpenAI-compatible and Azure OpenAI backends built on the Azure SDK client.
// ABOUTME: openai, openrouter, and huggingface share the OpenAI wire format.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
)

type openAICompatible struct {
	name        string
	client      *azopenai.Client
	model       string
	maxTokens   int32
	temperature float32
	logger      *slog.Logger
}

func newOpenAICompatible(name string, cfg Config, azure bool) (*openAICompatible, error) {
	opts := &azopenai.ClientOptions{
		ClientOptions: azcore.ClientOptions{Transport: cfg.HTTPClient},
	}
	cred := azcore.NewKeyCredential(cfg.APIKey)

	var (
		client *azopenai.Client
		err    error
	)
	if azure {
		client, err = azopenai.NewClientWithKeyCredential(cfg.Endpoint, cred, opts)
	} else {
		client, err = azopenai.NewClientForOpenAI(cfg.Endpoint, cred, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", name, err)
	}

	return &openAICompatible{
		name:        name,
		client:      client,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      cfg.Logger,
	}, nil
}

func (b *openAICompatible) Name() string { return b.name }

func (b *openAICompatible) Complete(ctx context.Context, messages []Message) (string, error) {
	req := make([]azopenai.ChatRequestMessageClassification, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			req = append(req, &azopenai.ChatRequestSystemMessage{
				Content: azopenai.NewChatRequestSystemMessageContent(m.Content),
			})
		default:
			// Prior assistant turns are replayed as user text; the router never sends any.
			req = append(req, &azopenai.ChatRequestUserMessage{
				Content: azopenai.NewChatRequestUserMessageContent(m.Content),
			})
		}
	}

	resp, err := b.client.GetChatCompletions(ctx, azopenai.ChatCompletionsOptions{
		DeploymentName: to.Ptr(b.model),
		Messages:       req,
		MaxTokens:      to.Ptr(b.maxTokens),
		Temperature:    to.Ptr(b.temperature),
	}, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) {
			return "", &Error{Provider: b.name, Status: respErr.StatusCode, Body: responseErrorBody(respErr)}
		}
		return "", fmt.Errorf("%s: %w", b.name, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil || resp.Choices[0].Message.Content == nil {
		return "", fmt.Errorf("%s: %w", b.name, ErrEmptyReply)
	}
	if resp.Usage != nil && resp.Usage.TotalTokens != nil {
		b.logger.Debug("completion usage", "model", b.model, "total_tokens", *resp.Usage.TotalTokens)
	}
	return *resp.Choices[0].Message.Content, nil
}

// responseErrorBody returns the provider's response text, falling back to the
// SDK error code when the body is gone.
func responseErrorBody(respErr *azcore.ResponseError) string {
	if respErr.RawResponse != nil && respErr.RawResponse.Body != nil {
		data, err := io.ReadAll(io.LimitReader(respErr.RawResponse.Body, maxErrorBody))
		if err == nil {
			if body := strings.TrimSpace(string(data)); body != "" {
				return body
			}
		}
	}
	return respErr.ErrorCode
}

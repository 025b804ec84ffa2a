// Package llm provides the language-model backends used by the AI router.
//
// A [Backend] takes a short conversation and returns the model's text reply.
// OpenAI-compatible providers (openai, openrouter, huggingface) and Azure
// OpenAI go through the Azure SDK client; Anthropic and Ollama speak their
// own HTTP APIs. Select one with [New].
package llm

// ABOUTME: Chunked, parallel summarization of long tool output.
// ABOUTME: Any failed chunk fails the whole summary.

package airouter

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/2389/meili-gateway/internal/llm"
)

// Summarize condenses text. Input longer than the chunk size is summarized
// chunk by chunk in parallel and then synthesized in one final call.
func (r *Router) Summarize(ctx context.Context, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", nil
	}
	if utf8.RuneCountInString(content) <= r.chunkSize {
		return r.summarizeOne(ctx, chunkSummaryPrompt, content)
	}

	chunks := splitChunks(content, r.chunkSize)
	r.logger.Debug("summarizing in chunks", "chunks", len(chunks), "chunk_size", r.chunkSize)

	summaries := make([]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxParallel)
	for i, chunk := range chunks {
		g.Go(func() error {
			s, err := r.summarizeOne(gctx, chunkSummaryPrompt, chunk)
			if err != nil {
				return fmt.Errorf("chunk %d of %d: %w", i+1, len(chunks), err)
			}
			summaries[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	return r.summarizeOne(ctx, synthesisPrompt, strings.Join(summaries, "\n\n"))
}

func (r *Router) summarizeOne(ctx context.Context, instruction, content string) (string, error) {
	reply, err := r.complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: instruction},
		{Role: llm.RoleUser, Content: content},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// splitChunks cuts s into pieces of at most size runes. Each cut lands on
// the last sentence end inside the window, else the last whitespace, else
// exactly at size.
func splitChunks(s string, size int) []string {
	runes := []rune(s)
	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= size {
			chunks = appendChunk(chunks, runes)
			break
		}
		window := runes[:size]
		cut := lastSentenceEnd(window, runes)
		if cut <= 0 {
			cut = lastSpace(window)
		}
		if cut <= 0 {
			cut = size
		}
		chunks = appendChunk(chunks, runes[:cut])
		runes = runes[cut:]
		for len(runes) > 0 && unicode.IsSpace(runes[0]) {
			runes = runes[1:]
		}
	}
	return chunks
}

func appendChunk(chunks []string, r []rune) []string {
	if c := strings.TrimSpace(string(r)); c != "" {
		return append(chunks, c)
	}
	return chunks
}

// lastSentenceEnd returns the index just past the last '.', '!' or '?' in
// window that is followed by whitespace in the full text.
func lastSentenceEnd(window, all []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		switch window[i] {
		case '.', '!', '?':
			if i+1 < len(all) && unicode.IsSpace(all[i+1]) {
				return i + 1
			}
		}
	}
	return 0
}

func lastSpace(window []rune) int {
	for i := len(window) - 1; i > 0; i-- {
		if unicode.IsSpace(window[i]) {
			return i
		}
	}
	return 0
}

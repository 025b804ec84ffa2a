// ABOUTME: Tests for tool registration, ordering, filtering, and invocation.
// ABOUTME: Covers collisions, schema validation, and null normalization.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(_ context.Context, args json.RawMessage) (any, error) {
	return args, nil
}

func searchGroup() Group {
	return Group{
		Name:     "search",
		Category: "search",
		Tools: []*Tool{
			{
				Name:        "search",
				Description: "Search an index",
				InputSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"q": {"type": "string"},
						"limit": {"type": "integer", "minimum": 1}
					},
					"required": ["q"]
				}`),
				Handler: echoHandler,
			},
			{
				Name:        "multi-search",
				Description: "Run several searches",
				Handler:     echoHandler,
			},
		},
	}
}

func TestRegisterGroup(t *testing.T) {
	r := NewRegistry(slog.Default())
	require.NoError(t, r.RegisterGroup(searchGroup()))

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"search"}, r.Groups())

	tool, ok := r.Get("search")
	require.True(t, ok)
	assert.Equal(t, Category("search"), tool.Category)
	assert.Equal(t, []string{"q"}, tool.Required())

	// Empty schema falls back to a bare object schema.
	multi, ok := r.Get("multi-search")
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"object"}`, string(multi.InputSchema))
}

func TestRegisterGroup_Collision(t *testing.T) {
	r := NewRegistry(slog.Default())
	require.NoError(t, r.RegisterGroup(searchGroup()))

	err := r.RegisterGroup(Group{
		Name:  "other",
		Tools: []*Tool{{Name: "fresh", Handler: echoHandler}, {Name: "search", Handler: echoHandler}},
	})
	require.ErrorIs(t, err, ErrToolCollision)

	// All-or-nothing: "fresh" must not have been added.
	_, ok := r.Get("fresh")
	assert.False(t, ok)
}

func TestRegisterGroup_Invalid(t *testing.T) {
	r := NewRegistry(slog.Default())

	err := r.RegisterGroup(Group{Name: "bad", Tools: []*Tool{{Name: "x"}}})
	assert.ErrorIs(t, err, ErrInvalidTool)

	err = r.RegisterGroup(Group{Name: "bad", Tools: []*Tool{{
		Name:        "y",
		Handler:     echoHandler,
		InputSchema: json.RawMessage(`{not json`),
	}}})
	assert.ErrorIs(t, err, ErrInvalidTool)
}

func TestListExcluding(t *testing.T) {
	r := NewRegistry(slog.Default())
	require.NoError(t, r.RegisterGroup(searchGroup()))
	require.NoError(t, r.RegisterGroup(Group{
		Name:     "ai",
		Category: CategoryCore,
		Tools:    []*Tool{{Name: "process-ai-query", Handler: echoHandler}},
	}))

	all := r.List()
	require.Len(t, all, 3)
	assert.Equal(t, "process-ai-query", all[2].Name)

	candidates := r.ListExcluding(CategoryCore)
	require.Len(t, candidates, 2)
	for _, c := range candidates {
		assert.NotEqual(t, CategoryCore, c.Category)
	}
}

func TestInvoke(t *testing.T) {
	r := NewRegistry(slog.Default())
	require.NoError(t, r.RegisterGroup(searchGroup()))
	ctx := context.Background()

	t.Run("passes normalized args", func(t *testing.T) {
		out, err := r.Invoke(ctx, "search", json.RawMessage(`{"q":"space","limit":null}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"q":"space"}`, string(out.(json.RawMessage)))
	})

	t.Run("unknown tool", func(t *testing.T) {
		_, err := r.Invoke(ctx, "nope", nil)
		assert.ErrorIs(t, err, ErrToolNotFound)
	})

	t.Run("missing required", func(t *testing.T) {
		_, err := r.Invoke(ctx, "search", json.RawMessage(`{}`))
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "search", verr.Tool)
	})

	t.Run("wrong type", func(t *testing.T) {
		_, err := r.Invoke(ctx, "search", json.RawMessage(`{"q":"x","limit":"ten"}`))
		var verr *ValidationError
		assert.True(t, errors.As(err, &verr))
	})

	t.Run("non-object args", func(t *testing.T) {
		_, err := r.Invoke(ctx, "search", json.RawMessage(`[1,2]`))
		var verr *ValidationError
		assert.True(t, errors.As(err, &verr))
	})

	t.Run("empty args become object", func(t *testing.T) {
		out, err := r.Invoke(ctx, "multi-search", nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(out.(json.RawMessage)))
	})

	t.Run("handler error propagates", func(t *testing.T) {
		boom := errors.New("boom")
		require.NoError(t, r.RegisterGroup(Group{Name: "failing", Tools: []*Tool{{
			Name:    "fail",
			Handler: func(context.Context, json.RawMessage) (any, error) { return nil, boom },
		}}}))
		_, err := r.Invoke(ctx, "fail", nil)
		assert.ErrorIs(t, err, boom)
	})
}

func TestMissing(t *testing.T) {
	r := NewRegistry(slog.Default())
	require.NoError(t, r.RegisterGroup(searchGroup()))
	tool, _ := r.Get("search")

	assert.Equal(t, []string{"q"}, tool.Missing(map[string]any{"limit": 3}))
	assert.Empty(t, tool.Missing(map[string]any{"q": "x"}))
}

func TestDropNulls(t *testing.T) {
	in := map[string]any{
		"q":     "x",
		"limit": nil,
		"nested": map[string]any{
			"a": nil,
			"b": 1.0,
		},
		"list": []any{nil, map[string]any{"c": nil}},
	}

	out := DropNulls(in).(map[string]any)
	assert.Equal(t, map[string]any{
		"q":      "x",
		"nested": map[string]any{"b": 1.0},
		"list":   []any{nil, map[string]any{}},
	}, out)
}

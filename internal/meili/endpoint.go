// ABOUTME: Declarative mapping from tool arguments onto Meilisearch REST requests.
// ABOUTME: Each endpoint row becomes one tools.Tool with a generic handler.

package meili

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/2389/meili-gateway/internal/tools"
)

// bodyRest sends every argument not consumed by the path or query as the body.
const bodyRest = "*"

// endpoint describes how one tool maps onto a REST call.
type endpoint struct {
	name        string
	description string
	method      string
	path        string   // may contain {arg} placeholders
	query       []string // arguments copied into the query string
	body        string   // argument sent as the body, or bodyRest
	schema      string
}

// tool builds the registry entry for e.
func (e endpoint) tool(c *Client) *tools.Tool {
	return &tools.Tool{
		Name:        e.name,
		Description: e.description,
		InputSchema: json.RawMessage(e.schema),
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args map[string]any
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("decoding arguments: %w", err)
			}
			path, query, body, err := e.build(args)
			if err != nil {
				return nil, err
			}
			return c.Do(ctx, e.method, path, query, body)
		},
	}
}

// build splits args into a path, query string, and body.
func (e endpoint) build(args map[string]any) (string, url.Values, any, error) {
	used := make(map[string]bool)

	path, err := expandPath(e.path, args, used)
	if err != nil {
		return "", nil, nil, err
	}

	var query url.Values
	for _, name := range e.query {
		v, ok := args[name]
		if !ok {
			continue
		}
		used[name] = true
		if query == nil {
			query = url.Values{}
		}
		query.Set(name, queryValue(v))
	}

	var body any
	switch e.body {
	case "":
	case bodyRest:
		rest := make(map[string]any)
		for k, v := range args {
			if !used[k] {
				rest[k] = v
			}
		}
		body = rest
	default:
		v, ok := args[e.body]
		if !ok {
			return "", nil, nil, fmt.Errorf("missing required argument %q", e.body)
		}
		body = v
	}

	return path, query, body, nil
}

// expandPath replaces {name} placeholders with escaped argument values.
func expandPath(template string, args map[string]any, used map[string]bool) (string, error) {
	var b strings.Builder
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return "", fmt.Errorf("malformed path template %q", template)
		}
		name := rest[open+1 : open+end]
		v, ok := args[name]
		if !ok {
			return "", fmt.Errorf("missing required argument %q", name)
		}
		s := queryValue(v)
		if s == "" {
			return "", fmt.Errorf("argument %q must not be empty", name)
		}
		used[name] = true
		b.WriteString(rest[:open])
		b.WriteString(url.PathEscape(s))
		rest = rest[open+end+1:]
	}
}

// queryValue renders a decoded JSON value for a URL. Arrays become
// comma-separated lists, which is how Meilisearch reads list parameters.
func queryValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, queryValue(item))
		}
		return strings.Join(parts, ",")
	case nil:
		return ""
	default:
		data, _ := json.Marshal(val)
		return string(data)
	}
}

// ABOUTME: Defensive JSON recovery for language-model replies.
// ABOUTME: Strips fences and wrapper tags, repairs keys, comments, and trailing commas.

package airouter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tailscale/hujson"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ErrUnparseable is returned by Recover when no JSON value can be salvaged.
var ErrUnparseable = errors.New("reply does not contain parseable JSON")

// wrapperTags are the XML-ish tags models wrap JSON in.
var wrapperTags = []string{"json", "output", "answer", "response", "tool_call"}

var markdown = goldmark.New()

// Recover parses a model reply that is believed to contain one JSON value.
// Clean JSON is parsed as-is; anything else goes through extraction and
// repair before parsing.
func Recover(reply string) (any, error) {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrUnparseable)
	}

	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return v, nil
	}

	candidate := outermostSpan(strings.TrimSpace(extract(trimmed)))
	if candidate == "" {
		return nil, fmt.Errorf("%w: no object or array found", ErrUnparseable)
	}

	standard, err := hujson.Standardize(quoteKeys([]byte(candidate)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if err := json.Unmarshal(standard, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return v, nil
}

// extract returns the contents of the first fenced code block or wrapper
// tag, or reply unchanged when there is neither.
func extract(reply string) string {
	if block, ok := fencedBlock(reply); ok {
		return block
	}
	if inner, ok := wrapperTag(reply); ok {
		return inner
	}
	return reply
}

// fencedBlock finds a fenced code block, preferring one tagged json or
// untagged over blocks in other languages.
func fencedBlock(reply string) (string, bool) {
	src := []byte(reply)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var first, preferred *ast.FencedCodeBlock
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		block, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		if first == nil {
			first = block
		}
		lang := strings.ToLower(string(block.Language(src)))
		if lang == "" || lang == "json" || lang == "jsonc" || lang == "json5" {
			preferred = block
			return ast.WalkStop, nil
		}
		return ast.WalkSkipChildren, nil
	})

	block := preferred
	if block == nil {
		block = first
	}
	if block == nil {
		return "", false
	}

	var buf bytes.Buffer
	lines := block.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(src))
	}
	return buf.String(), true
}

func wrapperTag(reply string) (string, bool) {
	lower := strings.ToLower(reply)
	for _, tag := range wrapperTags {
		open := "<" + tag + ">"
		start := strings.Index(lower, open)
		if start < 0 {
			continue
		}
		start += len(open)
		end := strings.Index(lower[start:], "</"+tag+">")
		if end < 0 {
			return reply[start:], true
		}
		return reply[start : start+end], true
	}
	return "", false
}

// outermostSpan trims prose around the first object or array in s.
func outermostSpan(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

// quoteKeys wraps bare identifiers used as object keys in double quotes.
// Strings and comments are copied through untouched.
func quoteKeys(src []byte) []byte {
	out := make([]byte, 0, len(src)+16)
	var prev byte
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '"':
			end := skipString(src, i)
			out = append(out, src[i:end]...)
			prev = '"'
			i = end
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			end := bytes.IndexByte(src[i:], '\n')
			if end < 0 {
				end = len(src)
			} else {
				end += i
			}
			out = append(out, src[i:end]...)
			i = end
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := bytes.Index(src[i+2:], []byte("*/"))
			if end < 0 {
				end = len(src)
			} else {
				end += i + 4
			}
			out = append(out, src[i:end]...)
			i = end
		case isIdentStart(c) && (prev == '{' || prev == ','):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			k := j
			for k < len(src) && isSpace(src[k]) {
				k++
			}
			if k < len(src) && src[k] == ':' {
				out = append(out, '"')
				out = append(out, src[i:j]...)
				out = append(out, '"')
			} else {
				out = append(out, src[i:j]...)
			}
			prev = src[j-1]
			i = j
		default:
			out = append(out, c)
			if !isSpace(c) {
				prev = c
			}
			i++
		}
	}
	return out
}

// skipString returns the index just past the string starting at src[i].
func skipString(src []byte, i int) int {
	for j := i + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			j++
		case '"':
			return j + 1
		}
	}
	return len(src)
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c == '-' || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// unwrapStrings replaces string leaves that hold a JSON object or array with
// the parsed value. It runs over the tree once; values produced by a
// replacement are not revisited.
func unwrapStrings(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = unwrapStrings(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = unwrapStrings(item)
		}
		return val
	case string:
		s := strings.TrimSpace(val)
		if len(s) < 2 {
			return val
		}
		if (s[0] == '{' && s[len(s)-1] == '}') || (s[0] == '[' && s[len(s)-1] == ']') {
			var inner any
			if err := json.Unmarshal([]byte(s), &inner); err == nil {
				return inner
			}
		}
		return val
	default:
		return v
	}
}

// ABOUTME: Tests for error envelopes, diagnostics, and rejection bodies.
// ABOUTME: Verifies upstream status/body survive and codes are prefixed.

package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type codedErr struct{ code string }

func (e codedErr) Error() string      { return "model chose nothing" }
func (e codedErr) ReasonCode() string { return e.code }

func TestFromError_Upstream(t *testing.T) {
	err := fmt.Errorf("calling search: %w", &UpstreamError{
		Status: 404,
		Body:   `{"message":"Index ` + "`movies`" + ` not found."}`,
		Method: "POST",
		Path:   "/indexes/movies/search",
	})

	res := FromError(err)
	require.True(t, res.IsError)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "text", res.Content[0].Type)
	assert.Contains(t, res.Content[0].Text, "status 404")
	assert.Contains(t, res.Content[0].Text, "movies")
}

func TestFromError_UpstreamEmptyBody(t *testing.T) {
	res := FromError(&UpstreamError{Status: 503})
	assert.Equal(t, "Meilisearch API error (status 503): Service Unavailable", res.Content[0].Text)
}

func TestFromError_Coded(t *testing.T) {
	res := FromError(codedErr{code: "MALFORMED_MODEL_OUTPUT"})
	assert.Equal(t, "[MALFORMED_MODEL_OUTPUT] model chose nothing", res.Content[0].Text)
}

func TestFromError_Plain(t *testing.T) {
	res := FromError(errors.New("boom"))
	assert.True(t, res.IsError)
	assert.Equal(t, "boom", res.Content[0].Text)
}

func TestJSON_RawIsIndented(t *testing.T) {
	res := JSON(json.RawMessage(`{"b":1,"a":2}`))
	assert.False(t, res.IsError)
	assert.Equal(t, "{\n  \"b\": 1,\n  \"a\": 2\n}", res.Content[0].Text)
}

func TestReject(t *testing.T) {
	var body map[string]any
	require.NoError(t, json.Unmarshal(Reject("Bad Request: No valid session ID provided"), &body))

	assert.Equal(t, true, body["isError"])
	assert.Nil(t, body["id"])
	content := body["content"].([]any)
	require.Len(t, content, 1)
	assert.Equal(t, "Bad Request: No valid session ID provided", content[0].(map[string]any)["text"])
	rpcErr := body["error"].(map[string]any)
	assert.Equal(t, float64(RejectionCode), rpcErr["code"])
}

// ABOUTME: Tests for tailnet node resolution and the advertised MCP endpoint
// ABOUTME: Covers auth key and state dir fallbacks without starting a node

package gateway

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tailscale.com/ipn/ipnstate"

	"github.com/2389/meili-gateway/internal/config"
)

func envOf(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func homeAt(dir string) func() (string, error) {
	return func() (string, error) { return dir, nil }
}

func TestTailnetNode_Defaults(t *testing.T) {
	cfg := config.TailscaleConfig{Hostname: "search", Ephemeral: true}

	node, err := tailnetNode(cfg, envOf(map[string]string{"TS_AUTHKEY": "tskey-env"}), homeAt("/home/op"))
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", node.AuthKey)
	assert.Equal(t, filepath.Join("/home/op", ".local", "share", "meili-gateway", "tailscale"), node.Dir)
	assert.Equal(t, "search", node.Hostname)
	assert.True(t, node.Ephemeral)
}

func TestTailnetNode_ConfigWins(t *testing.T) {
	cfg := config.TailscaleConfig{AuthKey: "tskey-cfg", StateDir: "/var/lib/gw"}
	failingHome := func() (string, error) { return "", errors.New("no home") }

	node, err := tailnetNode(cfg, envOf(map[string]string{"TS_AUTHKEY": "tskey-env"}), failingHome)
	require.NoError(t, err)
	assert.Equal(t, "tskey-cfg", node.AuthKey)
	assert.Equal(t, "/var/lib/gw", node.Dir)
}

func TestTailnetNode_Errors(t *testing.T) {
	_, err := tailnetNode(config.TailscaleConfig{}, envOf(nil), homeAt("/home/op"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TS_AUTHKEY")

	_, err = tailnetNode(config.TailscaleConfig{AuthKey: "k"}, envOf(nil), func() (string, error) {
		return "", errors.New("no home")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state_dir")
}

func TestTailnetModeAndEndpoint(t *testing.T) {
	assert.Equal(t, tailnetHTTP, tailnetModeFor(config.TailscaleConfig{}))
	assert.Equal(t, tailnetHTTPS, tailnetModeFor(config.TailscaleConfig{HTTPS: true}))
	assert.Equal(t, tailnetFunnel, tailnetModeFor(config.TailscaleConfig{HTTPS: true, Funnel: true}))

	status := &ipnstate.Status{Self: &ipnstate.PeerStatus{DNSName: "search.tail1234.ts.net."}}
	assert.Equal(t, "http://search.tail1234.ts.net/mcp", tailnetEndpoint(status, tailnetHTTP, "/mcp"))
	assert.Equal(t, "https://search.tail1234.ts.net/mcp", tailnetEndpoint(status, tailnetFunnel, "/mcp"))

	assert.Empty(t, tailnetEndpoint(&ipnstate.Status{}, tailnetHTTP, "/mcp"))
	assert.Empty(t, tailnetEndpoint(nil, tailnetHTTP, "/mcp"))
}

// ABOUTME: Tests for gateway wiring, health endpoints, metrics, and lifecycle
// ABOUTME: Uses an httptest Meilisearch and an in-memory ledger

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/meili-gateway/internal/airouter"
	"github.com/2389/meili-gateway/internal/config"
	"github.com/2389/meili-gateway/internal/mcp"
	"github.com/2389/meili-gateway/internal/store"
)

const initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`

// fakeMeili answers /health and /version; available toggles readiness.
func fakeMeili(t *testing.T, available *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/health":
			if !available.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = io.WriteString(w, `{"message":"down"}`)
				return
			}
			_, _ = io.WriteString(w, `{"status":"available"}`)
		case "/version":
			_, _ = io.WriteString(w, `{"pkgVersion":"1.12.0"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"code":"not_found"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(meiliURL string) *config.Config {
	cfg := config.Default()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Meilisearch.Host = meiliURL
	cfg.Database.Path = ":memory:"
	cfg.Metrics.Enabled = true
	cfg.Logging.Level = "debug"
	return cfg
}

func newTestGateway(t *testing.T, cfg *config.Config) *Gateway {
	t.Helper()
	gw, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw
}

func rpc(t *testing.T, url, sessionID, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(mcp.SessionHeader, sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestGateway_HealthAndReady(t *testing.T) {
	var available atomic.Bool
	available.Store(true)
	gw := newTestGateway(t, testConfig(fakeMeili(t, &available).URL))
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	available.Store(false)
	resp, err = http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "meilisearch unavailable")
}

func TestGateway_MCPRoundTrip(t *testing.T) {
	var available atomic.Bool
	available.Store(true)
	gw := newTestGateway(t, testConfig(fakeMeili(t, &available).URL))
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	resp, _ := rpc(t, srv.URL+"/mcp", "", initializeBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := resp.Header.Get(mcp.SessionHeader)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, gw.Sessions().Len())

	_, data := rpc(t, srv.URL+"/mcp", id, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	var list struct {
		Result mcp.ListToolsResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &list))
	names := make(map[string]bool)
	for _, tool := range list.Result.Tools {
		names[tool.Name] = true
	}
	assert.True(t, names["search"])
	assert.True(t, names["wait-for-task"])
	assert.False(t, names[airouter.ToolName], "ai tool is absent without a provider")

	_, data = rpc(t, srv.URL+"/mcp", id, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"version","arguments":{}}}`)
	assert.Contains(t, string(data), "1.12.0")

	_, data = rpc(t, srv.URL+"/mcp", id, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"get-index","arguments":{"indexUid":"missing"}}}`)
	assert.Contains(t, string(data), "Meilisearch API error (status 404)")

	rows, err := gw.ledger.ListToolInvocations(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "get-index", rows[0].Tool)
	assert.False(t, rows[0].OK)
	assert.Equal(t, id, rows[0].SessionID)
	assert.Equal(t, "version", rows[1].Tool)

	resp, _ = rpc(t, srv.URL+"/elsewhere", "", initializeBody)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	metricsBody, _ := io.ReadAll(metricsResp.Body)
	metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
	assert.Contains(t, string(metricsBody), "meili_gateway_")
}

func TestGateway_AIToolRegistered(t *testing.T) {
	var available atomic.Bool
	available.Store(true)
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"{\"name\":\"version\",\"parameters\":{},\"reasoning\":\"asks for version\"}"},"done":true}`)
	}))
	defer ollama.Close()

	cfg := testConfig(fakeMeili(t, &available).URL)
	cfg.AI.Provider = "ollama"
	cfg.AI.Endpoint = ollama.URL
	gw := newTestGateway(t, cfg)

	_, ok := gw.Toolset().Registry.Get(airouter.ToolName)
	assert.True(t, ok)
	require.NotNil(t, gw.Toolset().Router)

	decision, err := gw.Toolset().Router.Route(context.Background(), "what version is running?", nil)
	require.NoError(t, err)
	assert.Equal(t, "version", decision.ToolName)

	rows, err := gw.ledger.ListRouteDecisions(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "version", rows[0].Tool)
}

func TestGateway_AuthRequired(t *testing.T) {
	var available atomic.Bool
	available.Store(true)
	cfg := testConfig(fakeMeili(t, &available).URL)
	cfg.Auth.JWTSecret = strings.Repeat("k", 32)
	gw := newTestGateway(t, cfg)
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	resp, _ := rpc(t, srv.URL+"/mcp", "", initializeBody)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Health stays open.
	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestGateway_NewErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Meilisearch.Host = "ftp://nope"
	_, err := New(cfg, nil)
	assert.Error(t, err)

	cfg = config.Default()
	cfg.AI.Provider = "anthropic" // no api key
	_, err = New(cfg, nil)
	assert.Error(t, err)
}

func TestGateway_RunAndShutdown(t *testing.T) {
	var available atomic.Bool
	available.Store(true)
	cfg := testConfig(fakeMeili(t, &available).URL)

	// Reserve a free port so the test can reach the listener.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.Server.HTTPAddr = ln.Addr().String()
	require.NoError(t, ln.Close())

	gw, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	resp, _ := rpc(t, "http://"+cfg.Server.HTTPAddr+"/mcp", "", initializeBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 0, gw.Sessions().Len())
}

func TestGateway_ServeStdio(t *testing.T) {
	var available atomic.Bool
	available.Store(true)
	gw := newTestGateway(t, testConfig(fakeMeili(t, &available).URL))

	out := &lockedBuffer{}
	err := gw.ServeStdio(context.Background(), strings.NewReader(initializeBody+"\n"), out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), `"serverInfo":{"name":"meili-gateway"`)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDisplayAddr(t *testing.T) {
	assert.Equal(t, "localhost:8080", displayAddr(":8080"))
	assert.Equal(t, "localhost:8080", displayAddr("0.0.0.0:8080"))
	assert.Equal(t, "10.0.0.1:80", displayAddr("10.0.0.1:80"))
	assert.Equal(t, "weird", displayAddr("weird"))
}

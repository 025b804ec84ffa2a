// ABOUTME: Tests for request classification and the dispatcher state machine.
// ABOUTME: Includes the end-to-end session lifecycle with idle eviction.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/meili-gateway/internal/auth"
	"github.com/2389/meili-gateway/internal/session"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type dispatcherFixture struct {
	d      *Dispatcher
	store  *session.Store
	clock  *fakeClock
	ledger *recordingLedger
}

func newDispatcherFixture(t *testing.T, mutate func(*DispatcherConfig)) *dispatcherFixture {
	t.Helper()
	ledger := &recordingLedger{}
	factory, err := NewTransportFactory(TransportConfig{Registry: testRegistry(t), Recorder: ledger})
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	store, err := session.New(session.Config{
		Timeout:      time.Minute,
		NewTransport: factory,
		Clock:        clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(store.CloseAll)

	cfg := DispatcherConfig{Store: store}
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := NewDispatcher(cfg)
	require.NoError(t, err)
	return &dispatcherFixture{d: d, store: store, clock: clock, ledger: ledger}
}

func (f *dispatcherFixture) do(method, sessionID, body string) *Result {
	header := http.Header{}
	if sessionID != "" {
		header.Set(SessionHeader, sessionID)
	}
	return f.d.Dispatch(context.Background(), &Request{
		Method: method,
		Path:   "/mcp",
		Header: header,
		Body:   []byte(body),
	})
}

func (f *dispatcherFixture) open(t *testing.T) string {
	t.Helper()
	res := f.do(http.MethodPost, "", initializeBody)
	require.Equal(t, http.StatusOK, res.Status, string(res.Body))
	id := res.Header.Get(SessionHeader)
	require.NotEmpty(t, id)
	return id
}

func assertRejection(t *testing.T, res *Result, status int) {
	t.Helper()
	assert.Equal(t, status, res.Status)
	var body struct {
		IsError bool `json:"isError"`
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Error struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(res.Body, &body))
	assert.True(t, body.IsError)
	assert.NotEmpty(t, body.Content)
	assert.Equal(t, -32000, body.Error.Code)
}

func TestClassify(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	id := f.open(t)

	tests := []struct {
		name    string
		method  string
		session string
		body    string
		want    Classification
	}{
		{"known session", http.MethodPost, id, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, Continuing},
		{"known session stream", http.MethodGet, id, "", Continuing},
		{"handshake", http.MethodPost, "", initializeBody, Initializing},
		{"handshake in batch", http.MethodPost, "", `[{"jsonrpc":"2.0","id":9,"method":"ping"},` + initializeBody + `]`, Initializing},
		{"batch without handshake", http.MethodPost, "", `[{"jsonrpc":"2.0","id":9,"method":"ping"}]`, Rejected},
		{"stale id with handshake", http.MethodPost, "gone", initializeBody, Initializing},
		{"stale id", http.MethodPost, "gone", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, Rejected},
		{"stream without session", http.MethodGet, "", "", Rejected},
		{"handshake over GET", http.MethodGet, "", initializeBody, Rejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.session != "" {
				header.Set(SessionHeader, tt.session)
			}
			got, sess := f.d.Classify(&Request{Method: tt.method, Header: header, Body: []byte(tt.body)})
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want == Continuing, sess != nil)
		})
	}
}

func TestDispatch_Routing(t *testing.T) {
	f := newDispatcherFixture(t, nil)

	t.Run("preflight", func(t *testing.T) {
		res := f.do(http.MethodOptions, "", "")
		assert.Equal(t, http.StatusOK, res.Status)
		assert.Empty(t, res.Body)
		assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
		assert.Contains(t, res.Header.Get("Access-Control-Allow-Headers"), SessionHeader)
	})

	t.Run("unroutable path", func(t *testing.T) {
		res := f.d.Dispatch(context.Background(), &Request{Method: http.MethodPost, Path: "/other", Body: []byte(initializeBody)})
		assertRejection(t, res, http.StatusNotFound)
		assert.Equal(t, 0, f.store.Len())
	})

	t.Run("trailing slash routes", func(t *testing.T) {
		res := f.d.Dispatch(context.Background(), &Request{Method: http.MethodOptions, Path: "/mcp/"})
		assert.Equal(t, http.StatusOK, res.Status)
	})

	t.Run("unsupported method", func(t *testing.T) {
		res := f.do(http.MethodPut, "", initializeBody)
		assertRejection(t, res, http.StatusMethodNotAllowed)
		assert.Equal(t, allowedMethods, res.Header.Get("Allow"))
	})

	t.Run("no session and no handshake", func(t *testing.T) {
		res := f.do(http.MethodPost, "", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
		assertRejection(t, res, http.StatusBadRequest)
		assert.Equal(t, 0, f.store.Len())
	})
}

func TestDispatch_EndToEnd(t *testing.T) {
	f := newDispatcherFixture(t, nil)

	res := f.do(http.MethodPost, "", initializeBody)
	require.Equal(t, http.StatusOK, res.Status)
	id := res.Header.Get(SessionHeader)
	require.NotEmpty(t, id)
	assert.Equal(t, SessionHeader, res.Header.Get("Access-Control-Expose-Headers"))
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

	sess, ok := f.store.Get(id)
	require.True(t, ok)
	created := sess.LastActivity()

	// A tool call on the same session reaches the same transport and counts as activity.
	f.clock.Advance(10 * time.Second)
	res = f.do(http.MethodPost, id, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"search","arguments":{"q":"x"}}}`)
	require.Equal(t, http.StatusOK, res.Status, string(res.Body))
	assert.True(t, sess.LastActivity().After(created))
	records := f.ledger.records()
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].SessionID)

	// The push stream opens and already carries the tools/list_changed notification.
	res = f.do(http.MethodGet, id, "")
	require.Equal(t, http.StatusOK, res.Status)
	require.NotNil(t, res.Stream)
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))
	select {
	case msg := <-res.Stream.Messages:
		assert.Contains(t, string(msg), "notifications/tools/list_changed")
	case <-time.After(time.Second):
		t.Fatal("expected queued list_changed notification")
	}

	second := f.do(http.MethodGet, id, "")
	assertRejection(t, second, http.StatusConflict)
	res.Stream.Release()

	// Idle past the timeout; one sweep evicts the session and closes its transport.
	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, f.store.EvictExpired(f.clock.Now(), f.store.Timeout()))
	select {
	case <-res.Stream.Closed:
	default:
		t.Fatal("transport should be closed after eviction")
	}

	res = f.do(http.MethodPost, id, `{"jsonrpc":"2.0","id":3,"method":"ping"}`)
	assertRejection(t, res, http.StatusBadRequest)
	assert.Contains(t, string(res.Body), "invalid or expired session")
}

func TestDispatch_NotificationsOnlyIsAccepted(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	id := f.open(t)

	res := f.do(http.MethodPost, id, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusAccepted, res.Status)
	assert.Empty(t, res.Body)
}

func TestDispatch_Delete(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	id := f.open(t)

	res := f.do(http.MethodDelete, id, "")
	assert.Equal(t, http.StatusNoContent, res.Status)
	_, ok := f.store.Get(id)
	assert.False(t, ok)

	res = f.do(http.MethodDelete, id, "")
	assertRejection(t, res, http.StatusBadRequest)
}

func TestDispatch_MalformedHandshakeRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no id", `{"jsonrpc":"2.0","method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"x","version":"1"}}}`},
		{"null id", `{"jsonrpc":"2.0","id":null,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"x","version":"1"}}}`},
		{"no jsonrpc", `{"id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"x","version":"1"}}}`},
		{"no params", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`},
		{"no client info", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatcherFixture(t, nil)

			class, _ := f.d.Classify(&Request{Method: http.MethodPost, Path: "/mcp", Header: http.Header{}, Body: []byte(tt.body)})
			assert.Equal(t, Rejected, class)

			res := f.do(http.MethodPost, "", tt.body)
			assertRejection(t, res, http.StatusBadRequest)
			assert.Empty(t, res.Header.Get(SessionHeader))
			assert.Equal(t, 0, f.store.Len())
		})
	}
}

// failingTransport errors on every message and counts Close calls.
type failingTransport struct {
	mu     sync.Mutex
	closes int
}

func (f *failingTransport) HandleMessage(context.Context, []byte) ([]byte, error) {
	return nil, errors.New("bind failed")
}

func (f *failingTransport) Initialized() bool { return false }

func (f *failingTransport) OpenStream() (*session.Stream, error) {
	return nil, session.ErrTransportClosed
}

func (f *failingTransport) Notify(string, any) error { return session.ErrTransportClosed }

func (f *failingTransport) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

func (f *failingTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func TestDispatch_HandshakeFailureRollsBack(t *testing.T) {
	tr := &failingTransport{}
	store, err := session.New(session.Config{
		Timeout:      time.Minute,
		NewTransport: func(string) session.Transport { return tr },
	})
	require.NoError(t, err)
	t.Cleanup(store.CloseAll)

	d, err := NewDispatcher(DispatcherConfig{Store: store})
	require.NoError(t, err)

	res := d.Dispatch(context.Background(), &Request{
		Method: http.MethodPost,
		Path:   "/mcp",
		Header: http.Header{},
		Body:   []byte(initializeBody),
	})
	assertRejection(t, res, http.StatusInternalServerError)
	assert.Empty(t, res.Header.Get(SessionHeader))
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 1, tr.closeCount())

	store.CloseAll()
	assert.Equal(t, 1, tr.closeCount())
}

func TestDispatch_StaleIDWithHandshakeStartsFresh(t *testing.T) {
	f := newDispatcherFixture(t, nil)

	res := f.do(http.MethodPost, "stale", initializeBody)
	require.Equal(t, http.StatusOK, res.Status)
	assert.NotEqual(t, "stale", res.Header.Get(SessionHeader))
	assert.Equal(t, 1, f.store.Len())
}

func TestDispatch_Auth(t *testing.T) {
	verifier, err := auth.NewJWTVerifier([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	f := newDispatcherFixture(t, func(cfg *DispatcherConfig) { cfg.Verifier = verifier })

	res := f.do(http.MethodPost, "", initializeBody)
	assertRejection(t, res, http.StatusUnauthorized)
	assert.NotEmpty(t, res.Header.Get("WWW-Authenticate"))
	assert.Equal(t, 0, f.store.Len())

	bad := f.d.Dispatch(context.Background(), &Request{
		Method: http.MethodPost,
		Path:   "/mcp",
		Header: http.Header{"Authorization": {"Bearer not-a-jwt"}},
		Body:   []byte(initializeBody),
	})
	assertRejection(t, bad, http.StatusUnauthorized)

	token, err := verifier.Generate("agent-1", time.Hour)
	require.NoError(t, err)
	ok := f.d.Dispatch(context.Background(), &Request{
		Method: http.MethodPost,
		Path:   "/mcp",
		Header: http.Header{"Authorization": {"Bearer " + token}},
		Body:   []byte(initializeBody),
	})
	assert.Equal(t, http.StatusOK, ok.Status)

	// Preflight never needs credentials.
	pre := f.do(http.MethodOptions, "", "")
	assert.Equal(t, http.StatusOK, pre.Status)
}

func TestDispatch_CORSOrigins(t *testing.T) {
	f := newDispatcherFixture(t, func(cfg *DispatcherConfig) {
		cfg.AllowedOrigins = []string{"https://app.example.com"}
	})

	req := func(origin string) *Result {
		return f.d.Dispatch(context.Background(), &Request{
			Method: http.MethodOptions,
			Path:   "/mcp",
			Header: http.Header{"Origin": {origin}},
		})
	}

	allowed := req("https://app.example.com")
	assert.Equal(t, "https://app.example.com", allowed.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", allowed.Header.Get("Vary"))

	denied := req("https://evil.example.com")
	assert.Empty(t, denied.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, allowedMethods, denied.Header.Get("Access-Control-Allow-Methods"))
}

func TestNewDispatcher_Validation(t *testing.T) {
	_, err := NewDispatcher(DispatcherConfig{})
	assert.Error(t, err)

	f := newDispatcherFixture(t, func(cfg *DispatcherConfig) { cfg.Endpoint = "rpc/" })
	assert.Equal(t, "/rpc", f.d.Endpoint())
}

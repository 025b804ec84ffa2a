// ABOUTME: Host-agnostic request dispatcher: classifies each request and routes it to a session.
// ABOUTME: Produces an abstract Result that the HTTP and other adapters translate.

package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/2389/meili-gateway/internal/auth"
	"github.com/2389/meili-gateway/internal/envelope"
	"github.com/2389/meili-gateway/internal/metrics"
	"github.com/2389/meili-gateway/internal/session"
)

// SessionHeader carries the session id in both directions.
const SessionHeader = "Mcp-Session-Id"

// DefaultEndpoint is the path served when none is configured.
const DefaultEndpoint = "/mcp"

// allowedMethods is advertised on 405 and preflight responses.
const allowedMethods = "GET, POST, DELETE, OPTIONS"

const allowedHeaders = "Content-Type, Authorization, Mcp-Session-Id, Mcp-Protocol-Version, Last-Event-ID"

// Classification is the outcome of inspecting one request.
type Classification string

const (
	Initializing Classification = "initializing"
	Continuing   Classification = "continuing"
	Rejected     Classification = "rejected"
)

// Request is the host-independent view of an inbound request.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Result is what the host adapter writes back. When Stream is set the
// adapter owns it and must call Stream.Release when the client goes away.
type Result struct {
	Status int
	Header http.Header
	Body   []byte
	Stream *session.Stream
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Store          *session.Store
	Endpoint       string
	Verifier       auth.TokenVerifier // nil disables bearer auth
	AllowedOrigins []string           // empty or "*" allows any origin
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Dispatcher is the single state machine shared by every host adapter.
type Dispatcher struct {
	store    *session.Store
	endpoint string
	verifier auth.TokenVerifier
	origins  []string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:    cfg.Store,
		endpoint: strings.TrimRight(endpoint, "/"),
		verifier: cfg.Verifier,
		origins:  cfg.AllowedOrigins,
		logger:   logger,
		metrics:  cfg.Metrics,
	}, nil
}

// Endpoint returns the routable path.
func (d *Dispatcher) Endpoint() string { return d.endpoint }

// Classify decides how a request is handled. The session is returned for
// Continuing requests.
func (d *Dispatcher) Classify(req *Request) (Classification, *session.Session) {
	if id := req.Header.Get(SessionHeader); id != "" {
		if sess, ok := d.store.Get(id); ok {
			return Continuing, sess
		}
	}
	if req.Method == http.MethodPost && IsInitializeRequest(req.Body) {
		return Initializing, nil
	}
	return Rejected, nil
}

// Dispatch handles one request. It never returns nil.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Result {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	label, res := d.dispatch(ctx, req)
	d.applyCORS(req, res)
	d.metrics.Request(label, res.Status)
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, req *Request) (string, *Result) {
	if !d.routable(req.Path) {
		return "unroutable", reject(http.StatusNotFound, "Not Found")
	}

	switch req.Method {
	case http.MethodOptions:
		return "preflight", &Result{Status: http.StatusOK, Header: http.Header{}}
	case http.MethodPost, http.MethodGet, http.MethodDelete:
	default:
		res := reject(http.StatusMethodNotAllowed, "Method Not Allowed")
		res.Header.Set("Allow", allowedMethods)
		return "unsupported", res
	}

	if d.verifier != nil {
		subject, err := d.authenticate(req)
		if err != nil {
			d.logger.Debug("rejecting unauthenticated request", "error", err)
			res := reject(http.StatusUnauthorized, "Unauthorized: "+err.Error())
			res.Header.Set("WWW-Authenticate", `Bearer realm="meili-gateway"`)
			return "unauthorized", res
		}
		ctx = auth.WithSubject(ctx, subject)
	}

	class, sess := d.Classify(req)
	switch class {
	case Initializing:
		return string(class), d.initialize(ctx, req)
	case Continuing:
		return string(class), d.continueSession(ctx, req, sess)
	default:
		return string(class), reject(http.StatusBadRequest, rejectMessage(req))
	}
}

func (d *Dispatcher) routable(path string) bool {
	return strings.TrimRight(path, "/") == d.endpoint
}

func (d *Dispatcher) authenticate(req *Request) (string, error) {
	token, err := auth.ExtractBearerToken(req.Header.Get("Authorization"))
	if err != nil {
		return "", err
	}
	return d.verifier.Verify(token)
}

func rejectMessage(req *Request) string {
	switch {
	case req.Header.Get(SessionHeader) != "":
		return "Bad Request: invalid or expired session id"
	case req.Method == http.MethodPost:
		return "Bad Request: no session id provided and body is not an initialize request"
	default:
		return "Bad Request: no session id provided"
	}
}

// initialize creates a session, runs the handshake on its transport, and
// rolls the session back if the handshake does not complete.
func (d *Dispatcher) initialize(ctx context.Context, req *Request) *Result {
	sess, err := d.store.Create()
	if err != nil {
		d.logger.Error("creating session", "error", err)
		return reject(http.StatusInternalServerError, "Internal Server Error: could not create session")
	}

	body, err := sess.Transport.HandleMessage(ctx, req.Body)
	if err != nil || !sess.Transport.Initialized() {
		d.store.Remove(sess.ID)
		d.logger.Warn("session handshake failed, rolled back", "session_id", sess.ID, "error", err)
		return reject(http.StatusInternalServerError, "Internal Server Error: session handshake failed")
	}

	if err := sess.Transport.Notify("notifications/tools/list_changed", nil); err != nil {
		d.logger.Debug("queueing tools/list_changed", "session_id", sess.ID, "error", err)
	}

	res := jsonResult(http.StatusOK, body)
	res.Header.Set(SessionHeader, sess.ID)
	res.Header.Set("Access-Control-Expose-Headers", SessionHeader)
	return res
}

func (d *Dispatcher) continueSession(ctx context.Context, req *Request, sess *session.Session) *Result {
	switch req.Method {
	case http.MethodPost:
		body, err := sess.Transport.HandleMessage(ctx, req.Body)
		if err != nil {
			return d.transportFailure(sess, err)
		}
		d.store.Touch(sess.ID)
		if body == nil {
			return &Result{Status: http.StatusAccepted, Header: http.Header{}}
		}
		return jsonResult(http.StatusOK, body)

	case http.MethodGet:
		stream, err := sess.Transport.OpenStream()
		if err != nil {
			if errors.Is(err, session.ErrStreamActive) {
				return reject(http.StatusConflict, "Conflict: a push stream is already open for this session")
			}
			return d.transportFailure(sess, err)
		}
		d.store.Touch(sess.ID)
		header := http.Header{}
		header.Set("Content-Type", "text/event-stream")
		return &Result{Status: http.StatusOK, Header: header, Stream: stream}

	default: // DELETE
		d.store.Remove(sess.ID)
		d.logger.Info("session closed by client", "session_id", sess.ID)
		return &Result{Status: http.StatusNoContent, Header: http.Header{}}
	}
}

// transportFailure maps a transport error. A closed transport means the
// session was evicted while the request was in flight.
func (d *Dispatcher) transportFailure(sess *session.Session, err error) *Result {
	if errors.Is(err, session.ErrTransportClosed) {
		return reject(http.StatusBadRequest, "Bad Request: invalid or expired session id")
	}
	d.logger.Error("transport error", "session_id", sess.ID, "error", err)
	return reject(http.StatusInternalServerError, "Internal Server Error")
}

func (d *Dispatcher) applyCORS(req *Request, res *Result) {
	if res.Header == nil {
		res.Header = http.Header{}
	}
	h := res.Header
	origin := req.Header.Get("Origin")
	switch {
	case len(d.origins) == 0 || slices.Contains(d.origins, "*"):
		h.Set("Access-Control-Allow-Origin", "*")
	case origin != "" && slices.Contains(d.origins, origin):
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
	}
	h.Set("Access-Control-Allow-Methods", allowedMethods)
	h.Set("Access-Control-Allow-Headers", allowedHeaders)
	h.Set("Access-Control-Expose-Headers", SessionHeader)
}

func jsonResult(status int, body []byte) *Result {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return &Result{Status: status, Header: header, Body: body}
}

func reject(status int, message string) *Result {
	return jsonResult(status, envelope.Reject(message))
}

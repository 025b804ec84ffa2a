// ABOUTME: Gateway orchestrator that wires tools, sessions and the MCP endpoint
// ABOUTME: Manages the HTTP listener, idle sweep, ledger, and health endpoints lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"tailscale.com/tsnet"

	"github.com/2389/meili-gateway/internal/airouter"
	"github.com/2389/meili-gateway/internal/auth"
	"github.com/2389/meili-gateway/internal/config"
	"github.com/2389/meili-gateway/internal/mcp"
	"github.com/2389/meili-gateway/internal/metrics"
	"github.com/2389/meili-gateway/internal/session"
	"github.com/2389/meili-gateway/internal/store"
)

// Version is reported in the initialize handshake. Set by the CLI.
var Version = "dev"

const instructions = "Tools map onto the Meilisearch REST API. Write operations return a task; " +
	"use wait-for-task to block until it finishes. process-ai-query, when present, " +
	"accepts a plain-language request and picks the tool for you."

// Gateway orchestrates the meili-gateway server components.
type Gateway struct {
	config      *config.Config
	toolset     *Toolset
	ledger      *store.SQLiteStore // nil when database.path is empty
	metrics     *metrics.Metrics   // nil when metrics are disabled
	sessions    *session.Store
	transports  session.NewTransportFunc
	dispatcher  *mcp.Dispatcher
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// mcpEndpoint is the externally reachable URL of the MCP endpoint
	mcpEndpoint string

	stopSweep context.CancelFunc
}

// New creates a Gateway from configuration. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	gw := &Gateway{
		config:      cfg,
		logger:      logger,
		mcpEndpoint: "http://" + displayAddr(cfg.Server.HTTPAddr) + cfg.Server.Endpoint,
	}

	if cfg.Metrics.Enabled {
		m, err := metrics.New()
		if err != nil {
			return nil, fmt.Errorf("creating metrics: %w", err)
		}
		gw.metrics = m
	}

	var toolRecorder mcp.Recorder
	var routeRecorder airouter.Recorder
	if cfg.Database.Path != "" {
		ledger, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		gw.ledger = ledger
		rec := ledgerRecorder{ledger: ledger}
		toolRecorder, routeRecorder = rec, rec
	}

	toolset, err := NewToolset(cfg, ToolsetOptions{
		Logger:   logger,
		Metrics:  gw.metrics,
		Recorder: routeRecorder,
	})
	if err != nil {
		gw.closeLedger()
		return nil, err
	}
	gw.toolset = toolset

	gw.transports, err = mcp.NewTransportFactory(mcp.TransportConfig{
		Registry:     toolset.Registry,
		Logger:       logger.With("component", "mcp"),
		Metrics:      gw.metrics,
		Recorder:     toolRecorder,
		ServerInfo:   mcp.Implementation{Name: "meili-gateway", Version: Version},
		Instructions: instructions,
	})
	if err != nil {
		gw.closeLedger()
		return nil, fmt.Errorf("creating transport factory: %w", err)
	}

	gw.sessions, err = session.New(session.Config{
		Timeout:       cfg.Session.Timeout,
		SweepInterval: cfg.Session.SweepInterval,
		NewTransport:  gw.transports,
		Logger:        logger.With("component", "session"),
		Metrics:       gw.metrics,
	})
	if err != nil {
		gw.closeLedger()
		return nil, fmt.Errorf("creating session store: %w", err)
	}

	var verifier auth.TokenVerifier
	if cfg.Auth.Enabled() {
		jwtVerifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			gw.closeLedger()
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		verifier = jwtVerifier
		logger.Info("bearer auth enabled on MCP endpoint")
	} else {
		logger.Warn("auth disabled - no jwt_secret configured")
	}

	gw.dispatcher, err = mcp.NewDispatcher(mcp.DispatcherConfig{
		Store:          gw.sessions,
		Endpoint:       cfg.Server.Endpoint,
		Verifier:       verifier,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger.With("component", "dispatcher"),
		Metrics:        gw.metrics,
	})
	if err != nil {
		gw.closeLedger()
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Closing transports ends SSE streams so Shutdown is not held open by them.
	gw.httpServer.RegisterOnShutdown(gw.sessions.CloseAll)

	logger.Info("gateway ready", "tools", toolset.Registry.Len(), "groups", toolset.Registry.Groups())
	return gw, nil
}

// Handler returns the HTTP routes: health, metrics, and the MCP endpoint
// as the catch-all so unroutable paths get the dispatcher's 404.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	if g.metrics != nil {
		mux.Handle("GET "+g.config.Metrics.Path, g.metrics.Handler())
	}
	mux.Handle("/", mcp.NewHandler(g.dispatcher, g.config.Server.SSEKeepAlive, g.logger.With("component", "http")))
	return mux
}

// Toolset exposes the registry and clients.
func (g *Gateway) Toolset() *Toolset { return g.toolset }

// Sessions exposes the session store.
func (g *Gateway) Sessions() *session.Store { return g.sessions }

// MCPEndpoint returns the URL clients should connect to.
func (g *Gateway) MCPEndpoint() string { return g.mcpEndpoint }

// displayAddr turns ":8080" into "localhost:8080" for display.
func displayAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

// setupTCPListener creates the standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "mcp_endpoint", g.mcpEndpoint)
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the listener and the idle-session sweep, then blocks until
// the context is canceled. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	sweepCtx, stop := context.WithCancel(ctx)
	g.stopSweep = stop
	go g.sessions.Sweep(sweepCtx)

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// ServeStdio runs a single MCP transport over in/out instead of HTTP.
func (g *Gateway) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	defer g.closeLedger()
	return mcp.ServeStdio(ctx, in, out, g.transports("stdio"), g.logger.With("component", "stdio"))
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

func (g *Gateway) closeLedger() {
	if g.ledger == nil {
		return
	}
	if err := g.ledger.Close(); err != nil {
		g.logger.Warn("closing ledger", "error", err)
	}
	g.ledger = nil
}

// Shutdown stops the sweep, closes every session, stops the HTTP server
// and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	if g.stopSweep != nil {
		g.stopSweep()
	}

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	g.sessions.CloseAll()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	if g.ledger != nil {
		errs = appendCloseError(errs, "store close", g.ledger.Close())
		g.ledger = nil
	}

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if Meilisearch reports itself available.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := g.toolset.Meili.Healthy(ctx); err != nil {
		g.logger.Debug("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "meilisearch unavailable: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d sessions)", g.sessions.Len())
}

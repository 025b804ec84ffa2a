// ABOUTME: Optional tsnet listener that serves the MCP endpoint on a tailnet
// ABOUTME: One listener per node: plain :80, :443 with tailnet certs, or Funnel

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/meili-gateway/internal/config"
)

// tailnetMode selects which port and certificate story the node uses.
type tailnetMode string

const (
	tailnetHTTP   tailnetMode = "http"
	tailnetHTTPS  tailnetMode = "https"
	tailnetFunnel tailnetMode = "funnel"
)

func tailnetModeFor(cfg config.TailscaleConfig) tailnetMode {
	switch {
	case cfg.Funnel:
		return tailnetFunnel
	case cfg.HTTPS:
		return tailnetHTTPS
	default:
		return tailnetHTTP
	}
}

func (m tailnetMode) scheme() string {
	if m == tailnetHTTP {
		return "http"
	}
	return "https"
}

// tailnetNode builds the unstarted tsnet server. The auth key falls back to
// TS_AUTHKEY and the state dir to ~/.local/share/meili-gateway/tailscale.
func tailnetNode(cfg config.TailscaleConfig, getenv func(string) string, homeDir func() (string, error)) (*tsnet.Server, error) {
	authKey := cfg.AuthKey
	if authKey == "" {
		authKey = getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return nil, errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}

	stateDir := cfg.StateDir
	if stateDir == "" {
		home, err := homeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving tailscale state dir (set tailscale.state_dir): %w", err)
		}
		stateDir = filepath.Join(home, ".local", "share", "meili-gateway", "tailscale")
	}

	return &tsnet.Server{
		Hostname:  cfg.Hostname,
		Dir:       stateDir,
		Ephemeral: cfg.Ephemeral,
		AuthKey:   authKey,
	}, nil
}

// tailnetEndpoint is the MCP URL advertised once the node has a DNS name.
func tailnetEndpoint(status *ipnstate.Status, mode tailnetMode, path string) string {
	if status == nil || status.Self == nil || status.Self.DNSName == "" {
		return ""
	}
	return mode.scheme() + "://" + strings.TrimSuffix(status.Self.DNSName, ".") + path
}

// setupTailscaleListener starts the tsnet node and returns its listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale
	mode := tailnetModeFor(tsCfg)

	node, err := tailnetNode(tsCfg, os.Getenv, os.UserHomeDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(node.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	g.logger.Info("starting tailscale node", "hostname", node.Hostname, "mode", mode, "ephemeral", node.Ephemeral)
	status, err := node.Up(ctx)
	if err != nil {
		_ = node.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.tsnetServer = node

	if endpoint := tailnetEndpoint(status, mode, g.config.Server.Endpoint); endpoint != "" {
		g.mcpEndpoint = endpoint
	}
	g.logger.Info("tailscale node ready", "mcp_endpoint", g.mcpEndpoint)

	ln, err := listenTailnet(node, mode)
	if err != nil {
		_ = node.Close()
		return nil, err
	}
	return ln, nil
}

func listenTailnet(node *tsnet.Server, mode tailnetMode) (net.Listener, error) {
	switch mode {
	case tailnetFunnel:
		ln, err := node.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tailnetHTTPS:
		lc, err := node.LocalClient()
		if err != nil {
			return nil, fmt.Errorf("getting tailscale local client: %w", err)
		}
		ln, err := node.Listen("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale :443: %w", err)
		}
		return tls.NewListener(ln, &tls.Config{
			GetCertificate: lc.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}), nil
	default:
		ln, err := node.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale :80: %w", err)
		}
		return ln, nil
	}
}

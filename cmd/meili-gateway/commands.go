// ABOUTME: Operator subcommands: init, token, health, route and audit
// ABOUTME: Each loads config the same way serve does

package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/2389/meili-gateway/internal/auth"
	"github.com/2389/meili-gateway/internal/config"
	"github.com/2389/meili-gateway/internal/gateway"
	"github.com/2389/meili-gateway/internal/store"
)

// getDataPath returns the meili-gateway data directory.
// Priority: XDG_DATA_HOME/meili-gateway > ~/.local/share/meili-gateway
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "meili-gateway")
}

func generateSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

func (c *cli) initCmd() *cobra.Command {
	var force, noAuth bool
	var dbPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file with a random JWT secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			path := config.ResolvePath(c.configFlag)

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			secret := ""
			if !noAuth {
				var err error
				if secret, err = generateSecret(); err != nil {
					return err
				}
			}
			if dbPath == "" {
				dbPath = filepath.Join(getDataPath(), "ledger.db")
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return fmt.Errorf("creating config dir: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
				return fmt.Errorf("creating data dir: %w", err)
			}
			if err := os.WriteFile(path, config.Starter(dbPath, secret), 0o600); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}

			green := color.New(color.FgGreen)
			green.Fprint(out, "✓ ")
			fmt.Fprintf(out, "Wrote %s\n", path)
			if secret != "" {
				fmt.Fprintln(out, "  Mint a client token with: meili-gateway token --subject <name>")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.Flags().BoolVar(&noAuth, "no-auth", false, "leave auth.jwt_secret empty")
	cmd.Flags().StringVar(&dbPath, "db", "", "ledger database path (default $XDG_DATA_HOME/meili-gateway/ledger.db)")
	return cmd
}

func (c *cli) tokenCmd() *cobra.Command {
	var subject string
	var expires time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := c.loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Auth.Enabled() {
				return errors.New("auth.jwt_secret is not configured")
			}
			verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
			if err != nil {
				return err
			}
			if subject == "" {
				subject = uuid.NewString()
			}
			token, err := verifier.Generate(subject, expires)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (default: random uuid)")
	cmd.Flags().DurationVar(&expires, "expires", 0, "token lifetime, 0 for no expiry")
	return cmd
}

func (c *cli) healthCmd() *cobra.Command {
	var target string
	var ready bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running gateway's health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if target == "" {
				cfg, _, err := c.loadConfig()
				if err != nil {
					return err
				}
				target = "http://" + localAddr(cfg.Server.HTTPAddr)
			}
			url := strings.TrimRight(target, "/") + "/health"
			if ready {
				url += "/ready"
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "healthy: %s\n", strings.TrimSpace(string(body)))
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "url", "", "gateway base URL (default from server.http_addr)")
	cmd.Flags().BoolVar(&ready, "ready", false, "check readiness (Meilisearch reachable) instead of liveness")
	return cmd
}

// localAddr makes a listen address dialable.
func localAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

func (c *cli) routeCmd() *cobra.Command {
	var only []string
	var execute bool

	cmd := &cobra.Command{
		Use:   "route <query>",
		Short: "Ask the AI router which tool it would pick for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := c.loadConfig()
			if err != nil {
				return err
			}
			if !cfg.AI.Enabled() {
				return errors.New("ai.provider is not configured")
			}
			logger := setupLogger(config.LoggingConfig{Level: "warn", Format: cfg.Logging.Format}, cmd.ErrOrStderr())

			ts, err := gateway.NewToolset(cfg, gateway.ToolsetOptions{Logger: logger})
			if err != nil {
				return err
			}

			query := strings.Join(args, " ")
			decision, err := ts.Router.Route(cmd.Context(), query, only)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if err := printJSON(out, decision); err != nil {
				return err
			}
			if !execute || !decision.Selected() {
				return nil
			}

			params, err := json.Marshal(decision.Parameters)
			if err != nil {
				return fmt.Errorf("encoding parameters: %w", err)
			}
			result, err := ts.Registry.Invoke(cmd.Context(), decision.ToolName, params)
			if err != nil {
				return err
			}
			return printJSON(out, result)
		},
	}
	cmd.Flags().StringSliceVar(&only, "tools", nil, "restrict candidates to these tool names")
	cmd.Flags().BoolVar(&execute, "execute", false, "invoke the selected tool and print its result")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	if raw, ok := v.(json.RawMessage); ok {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			v = decoded
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) auditCmd() *cobra.Command {
	var limit int
	var routes bool
	var tool string
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print recent tool invocations or routing decisions from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := c.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.Path == "" {
				return errors.New("database.path is not configured")
			}

			ledger, err := store.NewSQLiteStore(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer ledger.Close()

			filter := store.ListFilter{Tool: tool, Limit: limit}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer w.Flush()

			if routes {
				rows, err := ledger.ListRouteDecisions(cmd.Context(), filter)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "TIME\tTOOL\tCODE\tPROVIDER\tDURATION\tQUERY")
				for _, r := range rows {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
						r.Timestamp.Local().Format(time.DateTime), r.Tool, dash(r.ReasonCode),
						dash(r.Provider), r.Duration, r.Query)
				}
				return nil
			}

			rows, err := ledger.ListToolInvocations(cmd.Context(), filter)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "TIME\tTOOL\tOK\tDURATION\tSESSION\tERROR")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\n",
					r.Timestamp.Local().Format(time.DateTime), r.Tool, r.OK, r.Duration,
					dash(r.SessionID), dash(truncate(r.Error, 80)))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum rows")
	cmd.Flags().BoolVar(&routes, "routes", false, "show routing decisions instead of tool invocations")
	cmd.Flags().StringVar(&tool, "tool", "", "only rows for this tool")
	cmd.Flags().DurationVar(&since, "since", 0, "only rows newer than this (e.g. 1h)")
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}


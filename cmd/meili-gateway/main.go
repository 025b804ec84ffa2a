// ABOUTME: Entry point for meili-gateway, the Meilisearch MCP server
// ABOUTME: Cobra root command with serve, stdio, init, token, health, route, audit and version

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/meili-gateway/internal/config"
	"github.com/2389/meili-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ┌┬┐┌─┐┬┬  ┬   ┌─┐┌─┐┌┬┐┌─┐┬ ┬┌─┐┬ ┬
  │││├┤ ││  │───│ ┬├─┤ │ ├┤ │││├─┤└┬┘
  ┴ ┴└─┘┴┴─┘┴   └─┘┴ ┴ ┴ └─┘└┴┘┴ ┴ ┴
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

// cli holds flags shared by every subcommand.
type cli struct {
	configFlag string
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "meili-gateway",
		Short: "Expose Meilisearch to MCP clients",
		Long: `meili-gateway serves a Meilisearch instance as Model Context Protocol tools
over Streamable HTTP or stdio, with an optional natural-language router.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&c.configFlag, "config", "c", "",
		"config file (default $MEILI_GATEWAY_CONFIG or $XDG_CONFIG_HOME/meili-gateway/gateway.yaml)")

	root.AddCommand(
		c.serveCmd(),
		c.stdioCmd(),
		c.initCmd(),
		c.tokenCmd(),
		c.healthCmd(),
		c.routeCmd(),
		c.auditCmd(),
		versionCmd(),
	)
	return root
}

// loadConfig resolves the config path and loads file plus environment.
func (c *cli) loadConfig() (*config.Config, string, error) {
	path := config.ResolvePath(c.configFlag)
	cfg, err := config.Resolve(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := c.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			logger := setupLogger(cfg.Logging, out)
			printBanner(out, cfg, path)

			gateway.Version = version
			gw, err := gateway.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			logger.Info("starting meili-gateway",
				"config", path,
				"http_addr", cfg.Server.HTTPAddr,
				"mcp_endpoint", gw.MCPEndpoint(),
			)
			return gw.Run(cmd.Context())
		},
	}
}

func (c *cli) stdioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve a single MCP session over stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := c.loadConfig()
			if err != nil {
				return err
			}
			// stdout carries protocol messages only.
			logger := setupLogger(cfg.Logging, cmd.ErrOrStderr())

			gateway.Version = version
			gw, err := gateway.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.ServeStdio(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "meili-gateway %s\n", version)
		},
	}
}

func printBanner(w io.Writer, cfg *config.Config, path string) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(w, banner)
	gray.Fprintf(w, "    version: %s\n\n", version)

	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Config:      %s\n", path)
	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Meilisearch: %s\n", cfg.Meilisearch.Host)
	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "HTTP:        %s%s\n", cfg.Server.HTTPAddr, cfg.Server.Endpoint)

	green.Fprint(w, "    ▶ ")
	fmt.Fprint(w, "AI router:   ")
	if cfg.AI.Enabled() {
		cyan.Fprint(w, cfg.AI.Provider)
		if cfg.AI.Model != "" {
			gray.Fprintf(w, " (%s)", cfg.AI.Model)
		}
	} else {
		gray.Fprint(w, "disabled")
	}
	fmt.Fprintln(w)

	if !cfg.Auth.Enabled() {
		yellow.Fprintln(w, "    ! auth disabled: anyone who can reach the endpoint can call tools")
	}

	if cfg.Tailscale.Enabled {
		green.Fprint(w, "    ▶ ")
		fmt.Fprint(w, "Tailscale:   ")
		cyan.Fprint(w, cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Fprint(w, " [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Fprint(w, " (ephemeral)")
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
}


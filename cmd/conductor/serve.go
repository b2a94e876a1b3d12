package main

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/conductor/internal/a2a"
	"github.com/dusk-indust/conductor/internal/agent"
	"github.com/dusk-indust/conductor/internal/api"
	"github.com/dusk-indust/conductor/internal/mcptools"
)

const shutdownGrace = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the control interface over HTTP",
		Long: `Serve the JSON-RPC control interface and per-session SSE event streams.
Sessions persisted by a previous run are resumed before the listener opens.
The built-in stage agents are also served over A2A under /a2a/.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			mcpAddr, _ := cmd.Flags().GetString("mcp-http")

			storage, closeStorage, err := a.openStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage()

			engine := a.newEngine(storage)
			defer engine.Close()

			n, err := engine.Resume(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				a.log.Info("resumed sessions", "count", n)
			}

			ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", a.cfg.Listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", a.cfg.Listen, err)
			}
			baseURL := "http://" + ln.Addr().String()

			srv := api.NewServer(engine, api.WithServerLogger(a.log))
			local := agent.NewRegistry()
			host := agent.NewHost(local, local.Stages(), 1024)
			srv.Mount("/a2a/", a2a.NewServer(host.Card(baseURL+"/a2a/", version), host).Handler())

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Serve(gctx, ln, shutdownGrace)
			})
			if mcpAddr != "" {
				g.Go(func() error {
					return mcptools.RunHTTP(gctx, mcptools.NewControlMCPServer(engine), mcpAddr)
				})
			}

			a.log.Info("serving", "url", baseURL, "storage", a.cfg.Storage.Driver, "mcp", mcpAddr)
			fmt.Fprintf(cmd.ErrOrStderr(), "conductor %s listening on %s\n", version, baseURL)
			return g.Wait()
		},
	}

	cmd.Flags().String("listen", "", "listen address (default from config: 127.0.0.1:8420)")
	cmd.Flags().String("storage", "", "storage driver: memory or sqlite")
	cmd.Flags().String("dsn", "", "sqlite database path")
	cmd.Flags().String("mcp-http", "", "also serve the MCP control tools over streamable HTTP on this address")
	_ = a.v.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	_ = a.v.BindPFlag("storage.driver", cmd.Flags().Lookup("storage"))
	_ = a.v.BindPFlag("storage.dsn", cmd.Flags().Lookup("dsn"))
	return cmd
}

func newMCPCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the control tools over MCP",
		Long: `Run an MCP server exposing start_session, submit_input, resolve_decision,
cancel_session, get_session and list_sessions. It speaks stdio unless --http
is given. Sessions run in this process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			httpAddr, _ := cmd.Flags().GetString("http")

			storage, closeStorage, err := a.openStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage()

			engine := a.newEngine(storage)
			defer engine.Close()
			if _, err := engine.Resume(ctx); err != nil {
				return err
			}

			server := mcptools.NewControlMCPServer(engine)
			if httpAddr != "" {
				a.log.Info("serving mcp", "addr", httpAddr)
				return mcptools.RunHTTP(ctx, server, httpAddr)
			}
			return mcptools.RunStdio(ctx, server)
		},
	}
	cmd.Flags().String("http", "", "serve streamable HTTP on this address instead of stdio")
	return cmd
}

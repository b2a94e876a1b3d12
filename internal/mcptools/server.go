// Package mcptools exposes the orchestrator's control interface as MCP
// tools, over stdio or streamable HTTP.
package mcptools

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/conductor/internal/orchestrator"
)

// version is set by the linker at build time.
var version = "dev"

// NewControlMCPServer creates an MCP server with the six session control
// tools registered.
func NewControlMCPServer(engine orchestrator.Orchestrator) *mcp.Server {
	svc := NewControlService(engine)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "conductor",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_session",
		Description: "Start a pipeline session from chat text, data-source links and attached files. Classification and execution begin immediately when any input is given.",
	}, svc.StartSession)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "submit_input",
		Description: "Feed one more piece of input (text, url or file) into an idle or running session.",
	}, svc.SubmitInput)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "resolve_decision",
		Description: "Answer the decision a session is waiting on. Repeating the call with the same request ID returns the first outcome.",
	}, svc.ResolveDecision)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cancel_session",
		Description: "Cancel a session. It ends failed with reason cancelled.",
	}, svc.CancelSession)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_session",
		Description: "Get a session's per-stage status, its pending decision if any, and the outputs of completed stages.",
	}, svc.GetSession)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_sessions",
		Description: "List live sessions in creation order, optionally filtered by phase.",
	}, svc.ListSessions)

	return server
}

// RunStdio runs the MCP server on stdio, blocking until stdin is closed or
// ctx is cancelled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the MCP server over streamable HTTP on addr until ctx is
// cancelled.
func RunHTTP(ctx context.Context, server *mcp.Server, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

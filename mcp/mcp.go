// Package mcp exposes the node's console commands as MCP tools over stdio.
package mcp

import (
	"context"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
	"github.com/mbocsi/botanynet/app"
)

type MCPServer struct {
	Server  *server.MCPServer
	console app.Console
	logger  *slog.Logger
}

func NewMCPServer(console app.Console, version string, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MCPServer{
		Server:  server.NewMCPServer("botnode", version, server.WithToolCapabilities(false)),
		console: console,
		logger:  logger,
	}
	s.registerNodeTools()
	s.registerJournalTools()
	return s
}

// Run serves MCP on in and out until ctx is cancelled or in is closed.
func (s *MCPServer) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("Started stdio MCP server")
	defer s.logger.Info("Shut down stdio MCP server")

	stdio := server.NewStdioServer(s.Server)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

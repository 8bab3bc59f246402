// Package mcp exposes the plane's read models over the Model Context
// Protocol so operator-side AI tooling can inspect decisions without
// going through the JSON API. Every tool is read-only; mutations stay
// exclusive to the admin HTTP surface.
package mcp

import (
	"encoding/json"
	"log/slog"
	"net/http"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/tazuna-ai/tazuna/internal/explain"
	"github.com/tazuna-ai/tazuna/internal/projection"
	"github.com/tazuna-ai/tazuna/internal/suggest"
)

// Server wraps the MCP server over the projection, explanation, and
// preference audit services.
type Server struct {
	mcpServer   *mcpserver.MCPServer
	projections *projection.Service
	explain     *explain.Service
	audit       *suggest.AuditService
	logger      *slog.Logger
}

// New creates and configures the MCP server with all tools registered.
func New(projections *projection.Service, exp *explain.Service, audit *suggest.AuditService, version string, logger *slog.Logger) *Server {
	s := &Server{
		projections: projections,
		explain:     exp,
		audit:       audit,
		logger:      logger.With("component", "mcp"),
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"tazuna",
		version,
		mcpserver.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// HTTPHandler returns the StreamableHTTP transport for mounting behind
// the admin server's auth middleware.
func (s *Server) HTTPHandler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.mcpServer)
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

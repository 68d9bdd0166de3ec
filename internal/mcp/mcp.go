// Package mcp exposes the warehouse control plane over the Model Context
// Protocol.
//
// Tools mirror the HTTP API: status, raw commands, tasks and settings all go
// through the same warehouse.Service, so an agent and an operator at the
// dashboard contend for the device on equal terms.
package mcp

import (
	"context"
	"log/slog"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/warecell/internal/service/warehouse"
)

// statusWindow is how long a status read counts as recent when deciding
// whether to nudge a caller that sends raw commands blind.
const statusWindow = 2 * time.Minute

// Server wraps the MCP server with the warehouse service.
type Server struct {
	mcpServer *mcpserver.MCPServer
	svc       *warehouse.Service
	logger    *slog.Logger
	viewed    *viewTracker
}

// New creates and configures a new MCP server with all resources, tools and
// prompts.
func New(svc *warehouse.Service, logger *slog.Logger, version string) *Server {
	s := &Server{
		svc:    svc,
		logger: logger,
		viewed: newViewTracker(statusWindow),
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"warecell",
		version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithRecovery(),
		mcpserver.WithInstructions("warecell drives one warehouse storage cell: a grid of cells, "+
			"a robotic arm, a conveyor and a loading zone. Read warehouse_status before acting. "+
			"Prefer enqueue_task over submit_command; tasks run one at a time in auto mode."),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// sessionKey identifies the calling MCP session, or "" outside a session.
func sessionKey(ctx context.Context) string {
	if session := mcpserver.ClientSessionFromContext(ctx); session != nil {
		return session.SessionID()
	}
	return ""
}

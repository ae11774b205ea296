package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	storemkt "microtask-backend/storage/marketplace"
)

// MCPServer exposes a read-only view of the marketplace over the Model
// Context Protocol. Mutating workflows stay behind the HTTP API where
// bearer auth and role checks apply.
type MCPServer struct {
	mcpServer *server.MCPServer
	store     storemkt.Store
}

// NewMCPServer creates a new MCP server over a marketplace store.
func NewMCPServer(store storemkt.Store) *MCPServer {
	mcpServer := server.NewMCPServer(
		"Microtask MCP Server",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s := &MCPServer{
		mcpServer: mcpServer,
		store:     store,
	}

	s.registerTools()

	return s
}

// GetMCPServer returns the underlying MCP server for transport setup.
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *MCPServer) registerTools() {
	s.registerListTasksTool()
	s.registerGetTaskTool()
	s.registerListSubmissionsTool()
	s.registerGetSubmissionTool()
	s.registerPlatformStatsTool()
	s.registerTopWorkersTool()
}

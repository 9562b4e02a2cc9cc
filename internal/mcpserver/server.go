// Package mcpserver exposes the infirmary over MCP (Model Context Protocol)
// as typed tools on stdio JSON-RPC: presence rankings, subject status, and
// condition assignment and cure. It wraps the same engine and registry the
// HTTP API uses, so tool calls observe the same invariants.
package mcpserver

import (
	"context"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/wardlab/infirmary/internal/catalog"
	"github.com/wardlab/infirmary/internal/condition"
	"github.com/wardlab/infirmary/internal/config"
	"github.com/wardlab/infirmary/internal/presence"
)

// Server holds the collaborators MCP tool handlers call into.
type Server struct {
	engine   *presence.Engine
	registry *condition.Registry
	tracker  *presence.Tracker
	catalog  *catalog.Catalog
	cfg      *config.Config
}

// NewServer creates an MCP server over the given engine and registry.
func NewServer(engine *presence.Engine, registry *condition.Registry, tracker *presence.Tracker, cat *catalog.Catalog, cfg *config.Config) *Server {
	return &Server{
		engine:   engine,
		registry: registry,
		tracker:  tracker,
		catalog:  cat,
		cfg:      cfg,
	}
}

// Run starts the MCP stdio server. It blocks until the context is cancelled
// or stdin is closed.
func (s *Server) Run(ctx context.Context) error {
	mcpServer := server.NewMCPServer(
		"infirmaryd",
		config.Version,
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTools(
		server.ServerTool{Tool: rankPresenceTool(), Handler: s.handleRankPresence},
		server.ServerTool{Tool: subjectStatusTool(), Handler: s.handleSubjectStatus},
		server.ServerTool{Tool: assignConditionTool(), Handler: s.handleAssignCondition},
		server.ServerTool{Tool: cureConditionTool(), Handler: s.handleCureCondition},
	)

	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(log.New(os.Stderr, "[mcp] ", log.LstdFlags))

	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

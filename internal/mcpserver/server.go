package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all review tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("sentinel", "1.0.0")
	client := NewSentinelClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolListRules, h.HandleListRules)
	s.AddTool(ToolGetRule, h.HandleGetRule)
	s.AddTool(ToolUpdateRule, h.HandleUpdateRule)
	s.AddTool(ToolListCases, h.HandleListCases)
	s.AddTool(ToolGetCase, h.HandleGetCase)
	s.AddTool(ToolResolveCase, h.HandleResolveCase)
	s.AddTool(ToolScreenTransaction, h.HandleScreenTransaction)

	return s
}

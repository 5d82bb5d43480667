// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp exposes the tag validator as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/concord/pkg/artifact"
	"github.com/jllopis/concord/pkg/tags"
)

// Tool names.
const (
	ToolValidateTags = "validate_tags"
	ToolListTags     = "list_tags"
)

// Server wraps the mcp-go server with the annotation tools.
type Server struct {
	mcpServer *server.MCPServer
	reference artifact.Reference
	logger    *slog.Logger
}

// NewServer creates an MCP server. reference supplies the default tag set
// and may be empty, in which case callers must pass tags explicitly.
func NewServer(name, version string, reference artifact.Reference, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcpServer: server.NewMCPServer(name, version),
		reference: reference.Clone(),
		logger:    logger,
	}
	s.mcpServer.AddTool(mcp.NewTool(ToolValidateTags,
		mcp.WithDescription("Check the nesting of inline <tag>...</tag> annotation markers and, "+
			"when the source text is given, that removing the markers yields it unchanged. Returns the JSON validation report."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Annotated text")),
		mcp.WithString("source", mcp.Description("Original unannotated text (optional)")),
		mcp.WithString("tags", mcp.Description("Comma separated tag names; defaults to the loaded reference")),
	), s.HandleValidateTags)
	s.mcpServer.AddTool(mcp.NewTool(ToolListTags,
		mcp.WithDescription("List the annotation reference as tag: Name|Description|Example lines."),
	), s.HandleListTags)
	return s
}

// HandleValidateTags implements the validate_tags tool.
func (s *Server) HandleValidateTags(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	text, ok := args["text"].(string)
	if !ok {
		return mcp.NewToolResultError("text is required"), nil
	}
	names := s.reference.Names()
	if raw, _ := args["tags"].(string); strings.TrimSpace(raw) != "" {
		names = splitTags(raw)
	}
	if len(names) == 0 {
		return mcp.NewToolResultError("no tag names given and no reference loaded"), nil
	}

	var report tags.Report
	if source, ok := args["source"].(string); ok {
		report = tags.Validate(text, source, names)
	} else {
		report = tags.Check(text, names)
	}
	s.logger.DebugContext(ctx, "validated tags",
		slog.Bool("well_formed", report.WellFormed),
		slog.Int("defects", len(report.Errors)),
	)

	out, err := json.Marshal(report)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode report: %v", err)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// HandleListTags implements the list_tags tool.
func (s *Server) HandleListTags(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if len(s.reference) == 0 {
		return mcp.NewToolResultText("{}\n"), nil
	}
	return mcp.NewToolResultText(s.reference.YAML()), nil
}

// ServeStdio starts the server on Stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func splitTags(raw string) []string {
	var out []string
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/otwatch/internal/threat"
)

const (
	defaultListLimit = 20
	recentResources  = 10
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	ThreatsPath string
	Runs        RunLister // optional; recent_runs is only registered when set
	Now         func() time.Time
}

// NewMCPServer creates an MCP server exposing the threat snapshot read-only.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := server.NewMCPServer(
		"otwatch",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("otwatch: vulnerabilities confirmed as relevant to OT/ICS environments, newest first."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_threats",
			mcp.WithDescription("List confirmed OT threats, newest first."),
			mcp.WithNumber("min_cvss", mcp.Description("Minimum CVSS base score (default 0)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of threats (default 20)")),
		),
		mcpListThreats(deps),
	)

	s.AddTool(
		mcp.NewTool("get_threat",
			mcp.WithDescription("Return one confirmed threat with its full analysis."),
			mcp.WithString("cve_id", mcp.Description("CVE identifier, e.g. CVE-2024-12345"), mcp.Required()),
		),
		mcpGetThreat(deps),
	)

	s.AddTool(
		mcp.NewTool("threat_stats",
			mcp.WithDescription("Summary statistics over confirmed threats: severity bands, histogram, top keywords."),
			mcp.WithNumber("min_cvss", mcp.Description("Minimum CVSS base score (default 0)")),
		),
		mcpThreatStats(deps),
	)

	if deps.Runs != nil {
		s.AddTool(
			mcp.NewTool("recent_runs",
				mcp.WithDescription("List recent monitoring cycles with their outcome."),
				mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 20)")),
			),
			mcpRecentRuns(deps),
		)
	}

	s.AddResource(
		mcp.NewResource(
			"otwatch://threats/recent",
			"Recent Threats",
			mcp.WithResourceDescription("The 10 most recently detected threats as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpListThreats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		minCVSS := req.GetFloat("min_cvss", 0)
		limit := req.GetInt("limit", defaultListLimit)
		if limit <= 0 {
			limit = defaultListLimit
		}

		threats, err := threat.ReadFile(deps.ThreatsPath)
		if err != nil {
			return mcpError(fmt.Sprintf("reading threats failed: %v", err)), nil
		}
		list := threat.NewestFirst(threat.AtLeast(threats, minCVSS))
		if len(list) > limit {
			list = list[:limit]
		}
		return mcpJSON(list)
	}
}

func mcpGetThreat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("cve_id")
		if err != nil {
			return mcpError("cve_id is required"), nil
		}

		threats, err := threat.ReadFile(deps.ThreatsPath)
		if err != nil {
			return mcpError(fmt.Sprintf("reading threats failed: %v", err)), nil
		}
		t, err := threat.Find(threats, id)
		if errors.Is(err, threat.ErrNotFound) {
			return mcpError(fmt.Sprintf("no confirmed threat with id %s", id)), nil
		}
		return mcpJSON(t)
	}
}

func mcpThreatStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		minCVSS := req.GetFloat("min_cvss", 0)

		threats, err := threat.ReadFile(deps.ThreatsPath)
		if err != nil {
			return mcpError(fmt.Sprintf("reading threats failed: %v", err)), nil
		}
		return mcpJSON(threat.Summarize(threat.AtLeast(threats, minCVSS), deps.Now()))
	}
}

func mcpRecentRuns(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", defaultRunLimit)
		runs, err := deps.Runs.RecentRuns(min(limit, maxRunLimit))
		if err != nil {
			return mcpError(fmt.Sprintf("listing runs failed: %v", err)), nil
		}
		views := make([]runView, 0, len(runs))
		for _, r := range runs {
			views = append(views, newRunView(r))
		}
		return mcpJSON(views)
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		threats, err := threat.ReadFile(deps.ThreatsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read threats: %w", err)
		}
		recent := threat.NewestFirst(threats)
		if len(recent) > recentResources {
			recent = recent[:recentResources]
		}

		b, err := json.Marshal(recent)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal threats: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcpError(fmt.Sprintf("encoding result failed: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

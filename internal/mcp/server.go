// Package mcp exposes the knowledge graph, governor and operational
// workflows as an MCP tool server, so agents can query and mutate
// infrastructure through the governed path.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/samber/lo"

	"github.com/moorhen/cartograph/internal/engine"
	"github.com/moorhen/cartograph/internal/governor"
	"github.com/moorhen/cartograph/internal/iql"
	"github.com/moorhen/cartograph/internal/mcp/tools"
	"github.com/moorhen/cartograph/internal/monitor"
	"github.com/moorhen/cartograph/internal/reconciler"
	"github.com/moorhen/cartograph/internal/temporal"
)

// Server wraps the mcp-go server with the cartograph tool surface.
type Server struct {
	mcpServer *server.MCPServer
	tools     map[string]tools.Tool
	version   string
}

// Options carries the component dependencies the tools operate on.
// Reconciler, Plan and Execution are optional; without them the
// reconcile_now tool reports that no plan is configured.
type Options struct {
	Engine     *engine.Engine
	Executor   *iql.Executor
	Temporal   *temporal.Store
	Governor   *governor.Governor
	Reconciler *reconciler.Reconciler
	Monitor    *monitor.Monitor
	Plan       *reconciler.Plan
	Execution  *reconciler.Execution
	Version    string
}

// NewServer builds the MCP server and registers all tools.
func NewServer(opts Options) *Server {
	mcpServer := server.NewMCPServer(
		"Cartograph MCP Server",
		opts.Version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	s := &Server{
		mcpServer: mcpServer,
		tools:     make(map[string]tools.Tool),
		version:   opts.Version,
	}
	s.registerTools(opts)
	return s
}

func (s *Server) registerTools(opts Options) {
	s.registerTool(
		"graph_query",
		"Run an IQL query against the infrastructure knowledge graph. Supports FIND/WHERE/TRAVERSE/AGGREGATE/ORDER BY/LIMIT.",
		tools.NewGraphQueryTool(opts.Executor),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "IQL query text, e.g. FIND nodes WHERE provider = \"aws\" AND type = \"database\"",
				},
			},
			"required": []string{"query"},
		},
	)

	s.registerTool(
		"graph_stats",
		"Get graph totals and per-provider, per-type, per-region and per-environment node counts plus total monthly cost",
		tools.NewGraphStatsTool(opts.Engine),
		map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	)

	s.registerTool(
		"blast_radius",
		"Compute the downstream impact of a node: everything that transitively depends on it, grouped by depth, with cost at risk",
		tools.NewBlastRadiusTool(opts.Engine),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"nodeId": map[string]interface{}{
					"type":        "string",
					"description": "Graph node ID, e.g. aws/us-east-1/database/db-1",
				},
				"maxDepth": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: traversal depth limit (default unbounded)",
				},
			},
			"required": []string{"nodeId"},
		},
	)

	s.registerTool(
		"dependency_chain",
		"Traverse a node's dependency neighborhood upstream, downstream or both",
		tools.NewDependencyChainTool(opts.Engine),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"nodeId": map[string]interface{}{
					"type":        "string",
					"description": "Graph node ID",
				},
				"direction": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"upstream", "downstream", "both"},
					"description": "Optional: traversal direction (default downstream)",
				},
				"maxDepth": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: traversal depth limit",
				},
			},
			"required": []string{"nodeId"},
		},
	)

	s.registerTool(
		"detect_drift",
		"Compare stored node metadata against live provider state and report drifted and disappeared resources",
		tools.NewDetectDriftTool(opts.Engine),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"provider": map[string]interface{}{
					"type":        "string",
					"description": "Optional: restrict the scan to one provider (aws, gcp, azure, kubernetes, onprem)",
				},
			},
		},
	)

	s.registerTool(
		"cost_by_filter",
		"Roll up monthly cost over a node filter, broken down by provider, type and region",
		tools.NewCostByFilterTool(opts.Engine),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"providers": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Optional: provider filter",
				},
				"resourceTypes": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Optional: resource type filter",
				},
				"regions": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Optional: region filter",
				},
				"environments": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Optional: environment filter (production, staging, ...)",
				},
				"tags": map[string]interface{}{
					"type":        "object",
					"description": "Optional: tag equality filter",
				},
			},
		},
	)

	s.registerTool(
		"time_travel",
		"Reconstruct the graph topology as of a past timestamp, optionally filtered",
		tools.NewTimeTravelTool(opts.Temporal),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"timestamp": map[string]interface{}{
					"type":        "string",
					"description": "RFC3339 timestamp to reconstruct, e.g. 2026-08-20T12:00:00Z",
				},
				"filter": map[string]interface{}{
					"type":        "object",
					"description": "Optional: node filter applied to the reconstructed topology",
				},
			},
			"required": []string{"timestamp"},
		},
	)

	s.registerTool(
		"snapshot_diff",
		"Diff two topology snapshots by id, or two points in time, reporting added, removed and changed nodes and edges",
		tools.NewSnapshotDiffTool(opts.Temporal),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"fromSnapshotId": map[string]interface{}{
					"type":        "string",
					"description": "Older snapshot ID",
				},
				"toSnapshotId": map[string]interface{}{
					"type":        "string",
					"description": "Newer snapshot ID",
				},
				"fromTimestamp": map[string]interface{}{
					"type":        "string",
					"description": "Older RFC3339 timestamp, used when snapshot ids are not given",
				},
				"toTimestamp": map[string]interface{}{
					"type":        "string",
					"description": "Newer RFC3339 timestamp",
				},
			},
		},
	)

	s.registerTool(
		"pending_requests",
		"List change requests held for human approval, with risk scores and factors",
		tools.NewPendingRequestsTool(opts.Governor),
		map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	)

	s.registerTool(
		"approve_request",
		"Approve a pending change request, optionally executing it immediately",
		tools.NewApproveRequestTool(opts.Governor),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"requestId": map[string]interface{}{
					"type":        "string",
					"description": "Change request ID",
				},
				"approver": map[string]interface{}{
					"type":        "string",
					"description": "Identity of the approver",
				},
				"execute": map[string]interface{}{
					"type":        "boolean",
					"description": "Optional: execute the mutation right after approval (default false)",
				},
			},
			"required": []string{"requestId", "approver"},
		},
	)

	s.registerTool(
		"reject_request",
		"Reject a pending change request with a reason",
		tools.NewRejectRequestTool(opts.Governor),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"requestId": map[string]interface{}{
					"type":        "string",
					"description": "Change request ID",
				},
				"rejecter": map[string]interface{}{
					"type":        "string",
					"description": "Identity of the rejecter",
				},
				"reason": map[string]interface{}{
					"type":        "string",
					"description": "Optional: why the request is rejected",
				},
			},
			"required": []string{"requestId", "rejecter"},
		},
	)

	s.registerTool(
		"audit_trail",
		"List the governed mutation history, newest first, filterable by target resource and action",
		tools.NewAuditTrailTool(opts.Governor),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"targetResourceId": map[string]interface{}{
					"type":        "string",
					"description": "Optional: only requests targeting this resource",
				},
				"action": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"create", "update", "delete", "scale", "reconfigure"},
					"description": "Optional: only requests with this action",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Optional: max requests to return",
				},
			},
		},
	)

	s.registerTool(
		"reconcile_now",
		"Run one reconcile cycle against the configured plan: drift, compliance and cost checks plus recommended actions",
		tools.NewReconcileNowTool(opts.Reconciler, opts.Plan, opts.Execution),
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"autoRemediate": map[string]interface{}{
					"type":        "boolean",
					"description": "Optional: override the configured auto-remediation setting for this cycle",
				},
			},
		},
	)

	s.registerTool(
		"run_monitor_cycle",
		"Run one monitor cycle: sync all providers, evaluate alert rules and dispatch alerts",
		tools.NewRunMonitorCycleTool(opts.Monitor),
		map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	)
}

func (s *Server) registerTool(name, description string, tool tools.Tool, inputSchema map[string]interface{}) {
	s.tools[name] = tool

	schemaJSON, err := json.Marshal(inputSchema)
	if err != nil {
		// Only reachable with a malformed literal schema above.
		panic(fmt.Sprintf("failed to marshal schema for tool %s: %v", name, err))
	}

	mcpTool := mcp.NewToolWithRawSchema(name, description, schemaJSON)
	s.mcpServer.AddTool(mcpTool, s.createToolHandler(tool))
}

func (s *Server) createToolHandler(tool tools.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(request.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}

		result, err := tool.Execute(ctx, args)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Tool execution failed: %v", err)), nil
		}

		resultJSON, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
		}

		return mcp.NewToolResultText(string(resultJSON)), nil
	}
}

// Execute runs a registered tool directly, bypassing the MCP transport.
// The serve command's smoke test and tests use this.
func (s *Server) Execute(ctx context.Context, name string, input json.RawMessage) (*tools.Result, error) {
	tool, ok := s.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return tool.Execute(ctx, input)
}

// ToolNames lists the registered tool names.
func (s *Server) ToolNames() []string {
	return lo.Keys(s.tools)
}

// GetMCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio blocks serving the MCP protocol over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

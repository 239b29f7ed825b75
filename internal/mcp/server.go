// Package mcp exposes the senseline engine over the Model Context
// Protocol: a run tool that feeds documents through the pipeline, plus
// read-only tools for the current topic lines and assignments. Stdio
// transport only.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/senseline/internal/feed"
	"github.com/hurttlocker/senseline/internal/pipeline"
	"github.com/hurttlocker/senseline/internal/store"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store   *store.Store
	Engine  pipeline.Config
	Version string
	// Options are forwarded to every orchestrator built for a run tool
	// call (collaborators, embedder, token counter).
	Options []pipeline.Option
}

// dbMu serializes all MCP tool calls that touch the database.
// The mcp-go library dispatches handlers concurrently via goroutines.
// SQLite (even with WAL) supports only one writer at a time, and a run
// rebuilds the whole registry; a global mutex keeps topic reads from
// observing a half-written state.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with the senseline tools.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"Senseline",
		ver,
		server.WithToolCapabilities(false),
	)

	registerRunTool(s, cfg)
	registerTopicsTool(s, cfg.Store)
	registerAssignmentsTool(s, cfg.Store)

	return s
}

func registerRunTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("senseline_run",
		mcp.WithDescription("Process a batch of documents through topic discovery, merge and assignment. Documents is a JSON array of {id, title, summary, region, importance}. The updated topic lines and assignments are persisted and returned."),
		mcp.WithString("documents",
			mcp.Required(),
			mcp.Description("JSON array of documents to process"),
		),
		mcp.WithBoolean("reconcile",
			mcp.Description("Re-score all documents against the final lines after processing (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		raw, err := req.RequireString("documents")
		if err != nil {
			return mcp.NewToolResultError("documents is required"), nil
		}
		var articles []feed.Article
		if err := json.Unmarshal([]byte(raw), &articles); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid documents JSON: %v", err)), nil
		}
		if len(articles) == 0 {
			return mcp.NewToolResultError("documents cannot be empty"), nil
		}

		engineCfg := cfg.Engine
		if rec, err := req.RequireBool("reconcile"); err == nil {
			engineCfg.Reconcile = rec
		}

		seed, err := cfg.Store.LoadLines(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("loading lines: %v", err)), nil
		}
		prior, err := cfg.Store.LoadAssignments(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("loading assignments: %v", err)), nil
		}

		opts := append([]pipeline.Option{pipeline.WithSeedRegistry(seed)}, cfg.Options...)
		orch, err := pipeline.New(engineCfg, opts...)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("building pipeline: %v", err)), nil
		}

		started := time.Now()
		result, err := orch.Run(ctx, articles)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run error: %v", err)), nil
		}

		merged := feed.OverlayAssignments(prior, result.Assignments, result.Lines)
		if err := cfg.Store.SaveState(ctx, result.Lines, merged); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("saving state: %v", err)), nil
		}

		statsJSON, _ := json.Marshal(result.Stats)
		run := store.Run{
			ID:         result.Stats.RunID,
			StartedAt:  started,
			FinishedAt: time.Now(),
			Documents:  result.Stats.Documents,
			Lines:      result.Stats.Lines,
			Batches:    result.Stats.Batches,
			Merged:     result.Stats.Merged,
			StatsJSON:  string(statsJSON),
		}
		if err := cfg.Store.RecordRun(ctx, run); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("recording run: %v", err)), nil
		}

		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerTopicsTool(s *server.MCPServer, st *store.Store) {
	tool := mcp.NewTool("senseline_topics",
		mcp.WithDescription("List the current topic lines with their assignment counts."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		lines, err := st.LoadLines(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("loading lines: %v", err)), nil
		}
		counts, err := st.CountByLine(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("counting assignments: %v", err)), nil
		}

		type topic struct {
			feed.SenseLine
			Documents int `json:"documents"`
		}
		out := make([]topic, 0, len(lines))
		for _, l := range lines {
			out = append(out, topic{SenseLine: l, Documents: counts[l.ID]})
		}

		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding topics: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerAssignmentsTool(s *server.MCPServer, st *store.Store) {
	tool := mcp.NewTool("senseline_assignments",
		mcp.WithDescription("List current document-to-line assignments, optionally filtered by line id."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("line_id",
			mcp.Description("Only return assignments for this line"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		assignments, err := st.LoadAssignments(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("loading assignments: %v", err)), nil
		}

		if lineID, err := req.RequireString("line_id"); err == nil && lineID != "" {
			filtered := assignments[:0]
			for _, a := range assignments {
				if a.LineID == lineID {
					filtered = append(filtered, a)
				}
			}
			assignments = filtered
		}

		data, err := json.MarshalIndent(assignments, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding assignments: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}

package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/senseline/internal/feed"
	"github.com/hurttlocker/senseline/internal/pipeline"
	"github.com/hurttlocker/senseline/internal/store"
)

func setupServer(t *testing.T) (*server.MCPServer, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv := NewServer(ServerConfig{
		Store:  st,
		Engine: pipeline.DefaultConfig(),
	})
	if srv == nil {
		t.Fatal("NewServer returned nil")
	}
	return srv, st
}

// callTool invokes an MCP tool through the server's JSON-RPC entry point.
func callTool(t *testing.T, srv *server.MCPServer, name string, args map[string]interface{}) (string, bool) {
	t.Helper()

	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      name,
			"arguments": args,
		},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	result := srv.HandleMessage(context.Background(), payload)
	respBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var resp struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, string(respBytes))
	}
	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: %d %s", resp.Error.Code, resp.Error.Message)
	}

	for _, c := range resp.Result.Content {
		if c.Type == "text" {
			return c.Text, resp.Result.IsError
		}
	}
	t.Fatal("no text content in result")
	return "", false
}

func TestRunToolProcessesAndPersists(t *testing.T) {
	srv, st := setupServer(t)

	docs := []feed.Article{
		{ID: 1, Title: "Ceasefire talks resume in border region", Summary: "Delegations returned to ceasefire talks in the border region today"},
		{ID: 2, Title: "Ceasefire talks resume in border region", Summary: "Delegations returned to ceasefire talks in the border region again"},
	}
	docsJSON, _ := json.Marshal(docs)

	text, isErr := callTool(t, srv, "senseline_run", map[string]interface{}{
		"documents": string(docsJSON),
	})
	if isErr {
		t.Fatalf("run tool errored: %s", text)
	}

	var result pipeline.RunResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		t.Fatalf("parsing run result: %v", err)
	}
	if len(result.Lines) != 1 || len(result.Assignments) != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}

	lines, err := st.LoadLines(context.Background())
	if err != nil {
		t.Fatalf("LoadLines: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("run state not persisted: %+v", lines)
	}
	runs, err := st.ListRuns(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Documents != 2 {
		t.Fatalf("run not recorded: %+v", runs)
	}
}

func TestRunToolRejectsBadInput(t *testing.T) {
	srv, _ := setupServer(t)

	text, isErr := callTool(t, srv, "senseline_run", map[string]interface{}{
		"documents": "not json",
	})
	if !isErr {
		t.Fatalf("invalid JSON accepted: %s", text)
	}

	text, isErr = callTool(t, srv, "senseline_run", map[string]interface{}{
		"documents": "[]",
	})
	if !isErr {
		t.Fatalf("empty documents accepted: %s", text)
	}
}

func TestTopicsToolListsLinesWithCounts(t *testing.T) {
	srv, st := setupServer(t)

	lines := []feed.SenseLine{{ID: "line-1", ShortTitle: "Ceasefire", Description: "Talks"}}
	assignments := []feed.Assignment{
		{ArticleID: 1, LineID: "line-1", Confidence: 0.9},
		{ArticleID: 2, LineID: "line-1", Confidence: 0.8},
	}
	if err := st.SaveState(context.Background(), lines, assignments); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	text, isErr := callTool(t, srv, "senseline_topics", map[string]interface{}{})
	if isErr {
		t.Fatalf("topics tool errored: %s", text)
	}
	if !strings.Contains(text, "line-1") || !strings.Contains(text, `"documents": 2`) {
		t.Fatalf("topics output missing counts: %s", text)
	}
}

func TestAssignmentsToolFiltersByLine(t *testing.T) {
	srv, st := setupServer(t)

	lines := []feed.SenseLine{
		{ID: "line-1", ShortTitle: "A", Description: "a"},
		{ID: "line-2", ShortTitle: "B", Description: "b"},
	}
	assignments := []feed.Assignment{
		{ArticleID: 1, LineID: "line-1", Confidence: 0.9},
		{ArticleID: 2, LineID: "line-2", Confidence: 0.8},
	}
	if err := st.SaveState(context.Background(), lines, assignments); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	text, isErr := callTool(t, srv, "senseline_assignments", map[string]interface{}{
		"line_id": "line-2",
	})
	if isErr {
		t.Fatalf("assignments tool errored: %s", text)
	}

	var got []feed.Assignment
	if err := json.Unmarshal([]byte(text), &got); err != nil {
		t.Fatalf("parsing assignments: %v", err)
	}
	if len(got) != 1 || got[0].ArticleID != 2 {
		t.Fatalf("filter not applied: %+v", got)
	}
}

package journal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/topdf/audit"
	"github.com/hazyhaar/topdf/convert"
)

func seeded(t *testing.T) *Journal {
	t.Helper()
	ctx := context.Background()
	j := testJournal(t)
	j.BeginRun(ctx, session(runA, t0))
	j.RecordOutcome(ctx, runA, outcome("/x/a.docx", convert.StatusSuccess))
	j.RecordOutcome(ctx, runA, outcome("/x/b.docx", convert.StatusError))
	finish(t, j, runA, func(a *audit.Aggregator) {
		a.Record(outcome("/x/a.docx", convert.StatusSuccess))
		a.Record(outcome("/x/b.docx", convert.StatusError))
	})
	return j
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHTTP_Health(t *testing.T) {
	rec := get(t, testJournal(t).Handler(), "/health")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("health: %d %s", rec.Code, rec.Body)
	}
}

func TestHTTP_Runs(t *testing.T) {
	h := seeded(t).Handler()

	rec := get(t, h, "/runs?limit=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var runs []Run
	if err := json.NewDecoder(rec.Body).Decode(&runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].RunID != runA || runs[0].Errors != 1 {
		t.Fatalf("runs: %+v", runs)
	}

	rec = get(t, h, "/runs/"+runA)
	var run Run
	json.NewDecoder(rec.Body).Decode(&run)
	if rec.Code != http.StatusOK || run.Status != RunDone {
		t.Fatalf("run: %d %+v", rec.Code, run)
	}
}

func TestHTTP_RunErrors(t *testing.T) {
	h := seeded(t).Handler()
	tests := []struct {
		target string
		code   int
	}{
		{"/runs/not-a-uuid", http.StatusBadRequest},
		{"/runs/" + runB, http.StatusNotFound},
		{"/runs/" + runB + "/outcomes", http.StatusNotFound},
		{"/runs/" + runA + "/outcomes?status=bogus", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := get(t, h, tt.target); rec.Code != tt.code {
			t.Errorf("%s: got %d, want %d", tt.target, rec.Code, tt.code)
		}
	}
}

func TestHTTP_Outcomes(t *testing.T) {
	rec := get(t, seeded(t).Handler(), "/runs/"+runA+"/outcomes?status=error")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var entries []Entry
	json.NewDecoder(rec.Body).Decode(&entries)
	if len(entries) != 1 || entries[0].SourcePath != "/x/b.docx" {
		t.Fatalf("entries: %+v", entries)
	}
}

func TestHTTP_RunsHTML(t *testing.T) {
	rec := get(t, seeded(t).Handler(), "/")
	body := rec.Body.String()
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(body, "topdf runs (1)") || !strings.Contains(body, "/data/inbox") || !strings.Contains(body, "1m0s") {
		t.Fatalf("page: %s", body)
	}

	rec = get(t, testJournal(t).Handler(), "/")
	if !strings.Contains(rec.Body.String(), "No runs recorded yet.") {
		t.Fatal("empty page")
	}
}

var testMCPImpl = &mcp.Implementation{Name: "journal-test", Version: "0.1.0"}

func mcpCall(t *testing.T, j *Journal, name string, args any) (string, bool) {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	j.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(testMCPImpl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer session.Close()

	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text, result.IsError
}

func TestMCP_Runs(t *testing.T) {
	text, isErr := mcpCall(t, seeded(t), "topdf_runs", map[string]any{"limit": 5})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var resp struct {
		Runs []Run `json:"runs"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Runs) != 1 || resp.Runs[0].RunID != runA {
		t.Fatalf("runs: %+v", resp.Runs)
	}
}

func TestMCP_RunOutcomes(t *testing.T) {
	j := seeded(t)
	text, isErr := mcpCall(t, j, "topdf_run_outcomes", map[string]any{"run_id": runA, "status": "success"})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var resp struct {
		Outcomes []Entry `json:"outcomes"`
	}
	json.Unmarshal([]byte(text), &resp)
	if len(resp.Outcomes) != 1 || resp.Outcomes[0].Status != convert.StatusSuccess {
		t.Fatalf("outcomes: %+v", resp.Outcomes)
	}

	if _, isErr := mcpCall(t, j, "topdf_run_outcomes", map[string]any{"run_id": "nope"}); !isErr {
		t.Fatal("invalid run id accepted")
	}
}

package walk

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/topdf/convert"
)

var testMCPImpl = &mcp.Implementation{Name: "walk-test", Version: "0.1.0"}

func planCall(t *testing.T, r *rig, args map[string]any) (string, bool) {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	RegisterMCP(srv, r.cfg, []convert.Engine{r.office, r.libre})

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(testMCPImpl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer session.Close()

	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "topdf_plan", Arguments: args})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	return tc.Text, result.IsError
}

func TestMCP_Plan(t *testing.T) {
	root := scenario(t)
	r := newRig()
	text, isErr := planCall(t, r, map[string]any{"root": root})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var resp planResp
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Counters.Files != 3 || resp.Counters.Expansions != 1 {
		t.Fatalf("counters: %+v", resp.Counters)
	}
	for _, o := range resp.Outcomes {
		if !o.DryRun {
			t.Errorf("%s planned without dry_run", o.SourcePath)
		}
	}
	if r.office.total()+r.libre.total() != 0 {
		t.Fatal("plan called an engine")
	}
	if exists(filepath.Join(root, "report.docx.pdf")) || exists(filepath.Join(root, "bundle")) {
		t.Fatal("plan wrote into the tree")
	}
	if r.cfg.DryRun {
		t.Fatal("plan mutated the shared config")
	}
}

func TestMCP_PlanErrors(t *testing.T) {
	r := newRig()
	if text, isErr := planCall(t, r, map[string]any{"root": ""}); !isErr || !strings.Contains(text, "root is required") {
		t.Fatalf("empty root: %q", text)
	}
	if _, isErr := planCall(t, r, map[string]any{"root": filepath.Join(t.TempDir(), "missing")}); !isErr {
		t.Fatal("missing root accepted")
	}
	if _, isErr := planCall(t, r, map[string]any{"root": t.TempDir(), "method": "typewriter"}); !isErr {
		t.Fatal("bad method accepted")
	}
}

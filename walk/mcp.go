package walk

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/topdf/audit"
	"github.com/hazyhaar/topdf/config"
	"github.com/hazyhaar/topdf/convert"
	"github.com/hazyhaar/topdf/expand"
	"github.com/hazyhaar/topdf/kit"
)

// RegisterMCP registers topdf_plan: a dry-run walk of a directory that
// reports what a real run would do without touching the tree.
func RegisterMCP(srv *mcp.Server, cfg *config.Config, engines []convert.Engine) {
	tool := &mcp.Tool{
		Name:        "topdf_plan",
		Description: "Dry-run a conversion over a directory: per-file planned status and strategy, containers that would be expanded, and totals. Nothing is written.",
		InputSchema: kit.InputSchema(map[string]any{
			"root":      map[string]any{"type": "string", "description": "Directory to plan"},
			"recursive": map[string]any{"type": "boolean", "description": "Descend into subdirectories (default: config value)"},
			"force":     map[string]any{"type": "boolean", "description": "Plan as if existing outputs were overwritten"},
			"method":    map[string]any{"type": "string", "description": "auto, office, libreoffice or reportlab (default: config value)"},
		}, []string{"root"}),
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*planReq)
		snap := cfg.Snapshot()
		snap.DryRun = true
		snap.ReportEnabled = false
		if r.Recursive != nil {
			snap.Recursive = *r.Recursive
		}
		snap.Force = snap.Force || r.Force
		if r.Method != "" {
			snap.Method = r.Method
		}
		if err := snap.Validate(); err != nil {
			return nil, err
		}

		w := New(&snap, convert.New(&snap, engines), expand.New(&snap), Options{})
		report, err := w.Run(ctx, r.Root)
		if report == nil {
			return nil, err
		}
		return planResp{
			RunID:      report.RunID,
			Counters:   report.Counters,
			Outcomes:   report.Outcomes,
			Expansions: report.Expansions,
			Partial:    report.Interrupted || report.Fatal != "",
		}, nil
	}

	mw := kit.Chain(kit.Logging(logger, tool.Name), requireRoot)
	kit.RegisterMCPTool(srv, tool, mw(endpoint), kit.DecodeJSON[planReq]())
}

// requireRoot rejects a plan request without a root before any walk starts.
func requireRoot(next kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		if r, ok := req.(*planReq); !ok || r.Root == "" {
			return nil, errors.New("root is required")
		}
		return next(ctx, req)
	}
}

type planReq struct {
	Root      string `json:"root"`
	Recursive *bool  `json:"recursive"`
	Force     bool   `json:"force"`
	Method    string `json:"method"`
}

type planResp struct {
	RunID      string            `json:"run_id"`
	Counters   audit.Counters    `json:"counters"`
	Outcomes   []convert.Outcome `json:"outcomes"`
	Expansions []expand.Result   `json:"expansions"`
	Partial    bool              `json:"partial,omitempty"`
}

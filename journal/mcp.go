package journal

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/topdf/convert"
	"github.com/hazyhaar/topdf/idgen"
	"github.com/hazyhaar/topdf/kit"
)

// RegisterMCP exposes the journal read queries as MCP tools.
func (j *Journal) RegisterMCP(srv *mcp.Server) {
	j.registerRunsTool(srv)
	j.registerOutcomesTool(srv)
}

type runsReq struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func (j *Journal) registerRunsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "topdf_runs",
		Description: "List recorded conversion runs, most recent first, with their counters.",
		InputSchema: kit.InputSchema(map[string]any{
			"limit":  map[string]any{"type": "integer", "description": "Maximum runs to return (default 100)"},
			"offset": map[string]any{"type": "integer", "description": "Runs to skip"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*runsReq)
		runs, err := j.Runs(ctx, r.Limit, r.Offset)
		if err != nil {
			return nil, err
		}
		return map[string]any{"runs": runs}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(j.logger, tool.Name)(endpoint), kit.DecodeJSON[runsReq]())
}

type outcomesReq struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

func (j *Journal) registerOutcomesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "topdf_run_outcomes",
		Description: "List the per-file outcomes of one run, optionally filtered by status (success, error, skipped_password...).",
		InputSchema: kit.InputSchema(map[string]any{
			"run_id": map[string]any{"type": "string", "description": "Run id (UUID)"},
			"status": map[string]any{"type": "string", "description": "Only outcomes with this status"},
			"limit":  map[string]any{"type": "integer", "description": "Maximum outcomes to return (default 100)"},
			"offset": map[string]any{"type": "integer", "description": "Outcomes to skip"},
		}, []string{"run_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*outcomesReq)
		id, err := idgen.Parse(r.RunID)
		if err != nil {
			return nil, err
		}
		entries, err := j.Outcomes(ctx, id, Filter{Status: convert.Status(r.Status), Limit: r.Limit, Offset: r.Offset})
		if err != nil {
			return nil, err
		}
		return map[string]any{"run_id": id, "outcomes": entries}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(j.logger, tool.Name)(endpoint), kit.DecodeJSON[outcomesReq]())
}

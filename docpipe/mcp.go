package docpipe

import (
	"context"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/topdf/kit"
)

// RegisterMCP registers the classification tools on an MCP server.
func RegisterMCP(srv *mcp.Server, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	registerClassifyTool(srv, logger)
	registerKindsTool(srv, logger)
}

type classifyReq struct {
	Path string `json:"path"`
}

type classifyResp struct {
	WorkItem
	Container bool     `json:"container"`
	PDF       *PDFInfo `json:"pdf,omitempty"`
}

func registerClassifyTool(srv *mcp.Server, logger *slog.Logger) {
	tool := &mcp.Tool{
		Name:        "topdf_classify",
		Description: "Classify a file the way the converter would (office-doc, image, text, markup, mail-container, archive, already-pdf, unsupported).",
		InputSchema: kit.InputSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "File path to classify"},
		}, []string{"path"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*classifyReq)
		if _, err := os.Stat(r.Path); err != nil {
			return nil, err
		}
		item := Classify(r.Path)
		resp := classifyResp{WorkItem: item, Container: item.Kind.IsContainer()}
		if item.Kind == KindPDF {
			// Inspection failure is not fatal for classification.
			resp.PDF, _ = InspectPDF(r.Path)
		}
		return resp, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(logger, tool.Name)(endpoint), kit.DecodeJSON[classifyReq]())
}

func registerKindsTool(srv *mcp.Server, logger *slog.Logger) {
	tool := &mcp.Tool{
		Name:        "topdf_kinds",
		Description: "List the known file extensions grouped by kind.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return map[string]any{"kinds": Extensions()}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(logger, tool.Name)(endpoint), kit.DecodeJSON[struct{}]())
}

// MCP tool server over stdio, for agents that want converted pages without
// touching the filesystem.
package main

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	mcpServerName    = "wikimd"
	mcpServerVersion = "1.0.0"
)

// Tool argument keys, shared by schemas and handlers.
const (
	argStorage        = "storage"
	argPageID         = "page_id"
	argPreserveTables = "preserve_tables"
	argForWikiJS      = "for_wikijs"
)

func newMCPServer(src pageSource) *server.MCPServer {
	s := server.NewMCPServer(mcpServerName, mcpServerVersion)
	registerTools(s, src)
	return s
}

// registerTools binds tool definitions to their handlers. src may be nil
// when no source wiki is configured; export_page then reports an error.
func registerTools(s *server.MCPServer, src pageSource) {
	s.AddTool(
		mcp.NewTool("convert_storage",
			mcp.WithDescription("Convert Confluence storage-format markup to Markdown."),
			mcp.WithString(argStorage,
				mcp.Required(),
				mcp.Description("Raw storage-format XHTML"),
			),
			mcp.WithString(argPageID,
				mcp.Description("Page ID used for attachment links"),
			),
			mcp.WithBoolean(argPreserveTables,
				mcp.Description("Keep tables as cleaned HTML instead of pipe tables"),
			),
			mcp.WithBoolean(argForWikiJS,
				mcp.Description("Strip annotations and render admonitions as blockquotes"),
			),
		),
		handleConvertStorage,
	)

	s.AddTool(
		mcp.NewTool("export_page",
			mcp.WithDescription("Fetch a page from the configured wiki and return it as Markdown with front matter. Attachments are not downloaded."),
			mcp.WithString(argPageID,
				mcp.Required(),
				mcp.Description("Page ID"),
			),
			mcp.WithBoolean(argPreserveTables,
				mcp.Description("Keep tables as cleaned HTML instead of pipe tables"),
			),
			mcp.WithBoolean(argForWikiJS,
				mcp.Description("Strip annotations and render admonitions as blockquotes"),
			),
		),
		exportPageHandler(src),
	)
}

func boolArg(req mcp.CallToolRequest, name string) bool {
	v, _ := req.Params.Arguments[name].(bool)
	return v
}

func handleConvertStorage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, ok := req.Params.Arguments[argStorage].(string)
	if !ok || raw == "" {
		return mcp.NewToolResultError(argStorage + " is required"), nil
	}
	pageID, _ := req.Params.Arguments[argPageID].(string)
	md, err := convertStorageToMarkdown(raw, conversionOptions{
		PreserveHTMLTables: boolArg(req, argPreserveTables),
		PageID:             pageID,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if boolArg(req, argForWikiJS) {
		md = toDestinationMarkdown(md)
	}
	return mcp.NewToolResultText(md), nil
}

func exportPageHandler(src pageSource) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if src == nil {
			return mcp.NewToolResultError("no source wiki configured; set " + envConfluenceBaseURL + " and " + envConfluenceToken), nil
		}
		id, ok := req.Params.Arguments[argPageID].(string)
		if !ok || id == "" {
			return mcp.NewToolResultError(argPageID + " is required"), nil
		}
		x := &exporter{
			source: src,
			opts: exportOptions{
				PreserveTables: boolArg(req, argPreserveTables),
				ForWikiJS:      boolArg(req, argForWikiJS),
			},
		}
		res, err := x.exportPage(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(res.Markdown), nil
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/docchat/internal/pdftext"
	"github.com/kalambet/docchat/internal/registry"
	"github.com/kalambet/docchat/internal/workspace"
)

const transcriptURI = "docchat://transcript"

// Workspace is the client state the MCP tools drive.
// Implemented by workspace.Workspace.
type Workspace interface {
	Snapshot() workspace.State
	LoadDocuments(ctx context.Context) error
	Upload(ctx context.Context, f workspace.File) (registry.Document, error)
	SelectDocument(ctx context.Context, id string) error
	DeleteDocument(ctx context.Context, id string) error
	SubmitQuestion(ctx context.Context, text string) (string, error)
	ClearHistory(ctx context.Context) error
}

type MCPDeps struct {
	Workspace Workspace
	// ReadFile reads documents for upload_document. Defaults to os.ReadFile.
	ReadFile func(path string) ([]byte, error)
}

// NewMCPServer creates an MCP server exposing the document chat workspace.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.ReadFile == nil {
		deps.ReadFile = os.ReadFile
	}

	s := server.NewMCPServer(
		"docchat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("docchat: upload PDF documents and ask questions about them. Select a document before asking."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List uploaded documents, newest first, and which one is selected."),
			mcp.WithBoolean("refresh", mcp.Description("Reload the list from the backend first (default true)")),
		),
		mcpListDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("upload_document",
			mcp.WithDescription("Upload a local PDF file and select it."),
			mcp.WithString("path", mcp.Description("Path to the PDF file"), mcp.Required()),
		),
		mcpUploadDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("select_document",
			mcp.WithDescription("Select the document to ask questions about and load its chat history."),
			mcp.WithString("document_id", mcp.Description("Document ID; empty clears the selection"), mcp.Required()),
		),
		mcpSelectDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_document",
			mcp.WithDescription("Delete a document and its question history."),
			mcp.WithString("document_id", mcp.Description("Document ID"), mcp.Required()),
		),
		mcpDeleteDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_question",
			mcp.WithDescription("Ask a question about the selected document."),
			mcp.WithString("question", mcp.Description("The question"), mcp.Required()),
		),
		mcpAskQuestion(deps),
	)

	s.AddTool(
		mcp.NewTool("clear_history",
			mcp.WithDescription("Delete the question history of the selected document."),
		),
		mcpClearHistory(deps),
	)

	s.AddResource(
		mcp.NewResource(
			transcriptURI,
			"Transcript",
			mcp.WithResourceDescription("Conversation about the selected document"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTranscript(deps),
	)

	return s
}

type documentSummary struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	PageCount  int       `json:"page_count"`
	FileSize   int64     `json:"file_size"`
	UploadDate time.Time `json:"upload_date"`
	Selected   bool      `json:"selected,omitempty"`
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if req.GetBool("refresh", true) {
			if err := deps.Workspace.LoadDocuments(ctx); err != nil {
				return mcpError(err.Error()), nil
			}
		}

		st := deps.Workspace.Snapshot()
		out := make([]documentSummary, len(st.Documents))
		for i, d := range st.Documents {
			out[i] = documentSummary{
				ID:         d.ID,
				Filename:   d.Filename,
				PageCount:  d.PageCount,
				FileSize:   d.FileSize,
				UploadDate: d.UploadDate,
				Selected:   st.Active != nil && st.Active.ID == d.ID,
			}
		}
		return mcpJSON(out)
	}
}

func mcpUploadDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}

		data, err := deps.ReadFile(path)
		if err != nil {
			return mcpError(fmt.Sprintf("reading %s: %v", path, err)), nil
		}

		doc, err := deps.Workspace.Upload(ctx, workspace.File{
			Name:      filepath.Base(path),
			MediaType: pdftext.Sniff(data),
			Data:      data,
		})
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("Uploaded %s as document %s (%d pages) and selected it", doc.Filename, doc.ID, doc.PageCount)), nil
	}
}

func mcpSelectDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := req.GetString("document_id", "")
		if err := deps.Workspace.SelectDocument(ctx, id); err != nil {
			if errors.Is(err, registry.ErrUnknownDocument) {
				return mcpError(fmt.Sprintf("unknown document %q; call list_documents first", id)), nil
			}
			return mcpError(err.Error()), nil
		}
		if id == "" {
			return mcpText("Selection cleared"), nil
		}
		st := deps.Workspace.Snapshot()
		return mcpText(fmt.Sprintf("Selected %s (%d messages in history)", st.Active.Filename, len(st.Transcript))), nil
	}
}

func mcpDeleteDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("document_id")
		if err != nil {
			return mcpError("document_id is required"), nil
		}
		if err := deps.Workspace.DeleteDocument(ctx, id); err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("Deleted document %s", id)), nil
	}
}

func mcpAskQuestion(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		ans, err := deps.Workspace.SubmitQuestion(ctx, question)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(ans), nil
	}
}

func mcpClearHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := deps.Workspace.ClearHistory(ctx); err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText("History cleared"), nil
	}
}

func mcpResourceTranscript(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		st := deps.Workspace.Snapshot()

		var payload struct {
			Document   *registry.Document `json:"document"`
			Pending    bool               `json:"pending"`
			Transcript []transcriptEntry  `json:"transcript"`
		}
		payload.Document = st.Active
		payload.Pending = st.Pending
		payload.Transcript = make([]transcriptEntry, len(st.Transcript))
		for i, m := range st.Transcript {
			payload.Transcript[i] = transcriptEntry{
				ID:        m.ID,
				Role:      string(m.Role),
				Content:   m.Content,
				Timestamp: m.Timestamp,
			}
		}

		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal transcript: %w", err)
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

type transcriptEntry struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
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

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Franck-BRT/BlackIA-sub003/internal/async"
	"github.com/Franck-BRT/BlackIA-sub003/internal/embed"
	"github.com/Franck-BRT/BlackIA-sub003/internal/index"
	"github.com/Franck-BRT/BlackIA-sub003/internal/search"
	"github.com/Franck-BRT/BlackIA-sub003/internal/store"
	"github.com/Franck-BRT/BlackIA-sub003/pkg/version"
)

// ServerName is reported to MCP clients.
const ServerName = "BlackIA RAG"

// DocumentManager is the lifecycle API the server drives. index.Manager
// implements it.
type DocumentManager interface {
	AddOrReindex(ctx context.Context, doc index.Document) (index.Outcome, error)
	Delete(ctx context.Context, attachmentID string) error
	State(attachmentID string) (index.State, bool)
	States() []index.State
}

// StatsSource reports store contents. store.Maintenance implements it.
type StatsSource interface {
	Stats(ctx context.Context) (store.Stats, error)
}

// ProgressSource reports a background catch-up run. async.Progress
// implements it.
type ProgressSource interface {
	Snapshot() async.ProgressSnapshot
}

// Dependencies wires a Server.
type Dependencies struct {
	Searcher       search.Searcher
	Manager        DocumentManager
	Stats          StatsSource
	TextEmbedder   embed.TextEmbedder
	VisionEmbedder embed.VisionEmbedder // optional
	Background     ProgressSource       // optional
	Logger         *slog.Logger
}

// Server bridges MCP clients with the search engine and the lifecycle manager.
type Server struct {
	mcp    *mcp.Server
	deps   Dependencies
	logger *slog.Logger
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "search",
		Description: "Search ingested documents by meaning. Text mode ranks text chunks, vision mode ranks page images, hybrid fuses both. Auto picks the mode from the query.",
	},
	{
		Name:        "index_document",
		Description: "Index or reindex a document from a file path or raw text. Replaces any previous version of the same attachment id.",
	},
	{
		Name:        "delete_document",
		Description: "Remove a document from both the text and vision indexes.",
	},
	{
		Name:        "index_status",
		Description: "Report index size, per-status document counts, embedder availability, or the state of one document.",
	},
}

// NewServer creates a server and registers its tools.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if deps.Manager == nil {
		return nil, errors.New("document manager is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{deps: deps, logger: logger}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: version.Version,
	}, nil)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, sdkHandler(s.Search))
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, sdkHandler(s.IndexDocument))
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[2].Name, Description: tools[2].Description}, sdkHandler(s.DeleteDocument))
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[3].Name, Description: tools[3].Description}, sdkHandler(s.IndexStatus))
	s.logger.Debug("MCP tools registered", slog.Int("count", len(tools)))
}

// sdkHandler adapts a typed tool method to the SDK handler signature.
func sdkHandler[In, Out any](fn func(context.Context, In) (Out, error)) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		out, err := fn(ctx, in)
		if err != nil {
			var zero Out
			return nil, zero, MapError(err)
		}
		return nil, out, nil
	}
}

// CallTool invokes a tool by name with JSON-like arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search":
		return callTyped(ctx, args, s.Search)
	case "index_document":
		return callTyped(ctx, args, s.IndexDocument)
	case "delete_document":
		return callTyped(ctx, args, s.DeleteDocument)
	case "index_status":
		return callTyped(ctx, args, s.IndexStatus)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func callTyped[In, Out any](ctx context.Context, args map[string]any, fn func(context.Context, In) (Out, error)) (any, error) {
	var in In
	if len(args) > 0 {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, NewInvalidParamsError(err.Error())
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
		}
	}
	out, err := fn(ctx, in)
	if err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

// Search runs the search tool.
func (s *Server) Search(ctx context.Context, in SearchInput) (SearchOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return SearchOutput{}, NewInvalidParamsError("query cannot be empty or whitespace only")
	}
	mode, err := search.ParseMode(in.Mode)
	if err != nil {
		return SearchOutput{}, err
	}

	start := time.Now()
	requestID := newRequestID()
	limit := clampLimit(in.Limit, search.DefaultTopK, 1, search.MaxTopK)
	s.logger.Info("search started",
		slog.String("request_id", requestID),
		slog.String("query", in.Query),
		slog.String("mode", string(mode)),
		slog.Int("limit", limit))

	resp, err := s.deps.Searcher.Search(ctx, search.Query{
		Text:     in.Query,
		TopK:     limit,
		MinScore: in.MinScore,
		Mode:     mode,
		Filters: store.Filter{
			EntityType:    in.EntityType,
			EntityID:      in.EntityID,
			AttachmentIDs: in.AttachmentIDs,
		},
	})
	if err != nil {
		s.logger.Error("search failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return SearchOutput{}, err
	}

	out := SearchOutput{
		Mode:     string(resp.Mode),
		Results:  make([]SearchResultOutput, 0, len(resp.Results)),
		Warnings: resp.Warnings,
		Markdown: FormatSearchResults(in.Query, resp),
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, ToSearchResultOutput(r))
	}

	s.logger.Info("search completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.String("mode", out.Mode),
		slog.Int("result_count", len(out.Results)))
	return out, nil
}

// IndexDocument runs the index_document tool.
func (s *Server) IndexDocument(ctx context.Context, in IndexDocumentInput) (IndexDocumentOutput, error) {
	mode, err := search.ParseMode(in.Mode)
	if err != nil {
		return IndexDocumentOutput{}, err
	}

	var doc index.Document
	switch {
	case in.Path != "":
		doc, err = index.DocumentFromFile(in.Path, index.RunnerConfig{
			EntityType: in.EntityType,
			EntityID:   in.EntityID,
			Mode:       mode,
		})
		if err != nil {
			return IndexDocumentOutput{}, err
		}
		if in.AttachmentID != "" {
			doc.AttachmentID = in.AttachmentID
		}
		if in.Name != "" {
			doc.Name = in.Name
		}
	case in.AttachmentID != "":
		mime := in.MimeType
		if mime == "" {
			mime = "text/plain"
		}
		doc = index.Document{
			AttachmentID: in.AttachmentID,
			MimeType:     mime,
			Name:         in.Name,
			Text:         in.Text,
			EntityType:   in.EntityType,
			EntityID:     in.EntityID,
			Mode:         mode,
		}
	default:
		return IndexDocumentOutput{}, NewInvalidParamsError("either path or attachment_id is required")
	}

	outcome, err := s.deps.Manager.AddOrReindex(ctx, doc)
	out := IndexDocumentOutput{
		JobID:         outcome.JobID,
		AttachmentID:  doc.AttachmentID,
		Status:        string(outcome.Status),
		ChunkCount:    outcome.ChunkCount,
		PageCount:     outcome.PageCount,
		PatchCount:    outcome.PatchCount,
		VisionSkipped: outcome.VisionSkipped,
		DurationMS:    outcome.Duration.Milliseconds(),
	}
	if err != nil {
		// Failed runs keep their job id and state.
		if outcome.JobID == "" {
			return IndexDocumentOutput{}, err
		}
		out.Error = MapError(err).Message
	}
	return out, nil
}

// DeleteDocument runs the delete_document tool.
func (s *Server) DeleteDocument(ctx context.Context, in DeleteDocumentInput) (DeleteDocumentOutput, error) {
	if strings.TrimSpace(in.AttachmentID) == "" {
		return DeleteDocumentOutput{}, NewInvalidParamsError("attachment_id is required")
	}
	if err := s.deps.Manager.Delete(ctx, in.AttachmentID); err != nil {
		return DeleteDocumentOutput{}, err
	}
	return DeleteDocumentOutput{AttachmentID: in.AttachmentID, Deleted: true}, nil
}

// IndexStatus runs the index_status tool.
func (s *Server) IndexStatus(ctx context.Context, in IndexStatusInput) (IndexStatusOutput, error) {
	out := IndexStatusOutput{Documents: make(map[string]int)}

	if s.deps.Stats != nil {
		st, err := s.deps.Stats.Stats(ctx)
		if err != nil {
			return IndexStatusOutput{}, err
		}
		out.Stats = IndexStats{
			TextChunks:    st.TextChunks,
			VisionPages:   st.VisionPages,
			VisionPatches: st.VisionPatches,
			Attachments:   st.DistinctAttachments,
			FileSizeBytes: st.FileSizeBytes,
		}
	}

	for _, st := range s.deps.Manager.States() {
		out.Documents[string(st.Status)]++
	}

	if in.AttachmentID != "" {
		st, known := s.deps.Manager.State(in.AttachmentID)
		out.Document = documentStatus(st, known)
	}

	if s.deps.Background != nil {
		snap := s.deps.Background.Snapshot()
		out.Background = &snap
	}

	out.Embeddings = s.embedderStatus(ctx)
	return out, nil
}

func documentStatus(st index.State, known bool) *DocumentStatus {
	ds := &DocumentStatus{
		AttachmentID:     st.AttachmentID,
		Status:           string(st.Status),
		Known:            known,
		Mode:             string(st.Mode),
		TextChunkCount:   st.TextChunkCount,
		PageCount:        st.PageCount,
		VisionPatchCount: st.VisionPatchCount,
		VisionSkipped:    st.VisionSkipped,
		LastError:        st.LastError,
	}
	if !st.LastIndexedAt.IsZero() {
		ds.LastIndexedAt = st.LastIndexedAt.UTC().Format(time.RFC3339)
	}
	return ds
}

func (s *Server) embedderStatus(ctx context.Context) []EmbedderStatus {
	var out []EmbedderStatus
	if e := s.deps.TextEmbedder; e != nil {
		out = append(out, EmbedderStatus{
			Kind:       "text",
			Model:      e.ModelName(),
			Dimensions: e.Dimensions(),
			Status:     availability(e.Available(ctx)),
		})
	}
	if e := s.deps.VisionEmbedder; e != nil {
		out = append(out, EmbedderStatus{
			Kind:   "vision",
			Model:  e.ModelName(),
			Status: availability(e.Available(ctx)),
		})
	}
	return out
}

func availability(ok bool) string {
	if ok {
		return "ready"
	}
	return "unavailable"
}

// Serve runs the server on the given transport until ctx is done.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("starting MCP server", slog.String("transport", transport))

	switch transport {
	case "", "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

func clampLimit(v, def, lo, hi int) int {
	if v <= 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// newRequestID returns a short id for log correlation.
func newRequestID() string {
	return uuid.NewString()[:8]
}

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/foomo/newsletter-mcp/sanitize"
	"github.com/foomo/newsletter-mcp/service"
	"github.com/foomo/newsletter-mcp/service/vo"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

const Version = "0.1.0"

const (
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
)

var (
	ErrUnknownSection = errors.New("unknown section")
	ErrNoContent      = errors.New("no content available for section")
	ErrUnknownFormat  = errors.New("unknown format")
)

type GetSectionRequest struct {
	Section string `json:"section"` // The section id, e.g. "sales"
	Format  string `json:"format"`  // "html" (default) or "markdown"
}

type SectionResponse struct {
	ID      string `json:"id"`
	Format  string `json:"format"`
	Content string `json:"content"`
}

type SectionStatus struct {
	ID        string `json:"id"`
	Available bool   `json:"available"`
}

// StatusResponse describes the latest snapshot without its content.
type StatusResponse struct {
	State      vo.State        `json:"state"`
	Error      string          `json:"error,omitempty"`
	Title      string          `json:"title,omitempty"`
	Degenerate bool            `json:"degenerate,omitempty"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	Sections   []SectionStatus `json:"sections"`
}

func newStatus(snapshot *vo.Snapshot, rules []vo.SectionRule) StatusResponse {
	sections := make([]SectionStatus, len(rules))
	for i, rule := range rules {
		sections[i] = SectionStatus{ID: rule.ID, Available: snapshot.Content[rule.ID] != ""}
	}
	return StatusResponse{
		State:      snapshot.State,
		Error:      snapshot.Error,
		Title:      snapshot.Title,
		Degenerate: snapshot.Degenerate,
		UpdatedAt:  snapshot.UpdatedAt,
		Sections:   sections,
	}
}

// NewServer creates a new MCP server with the newsletter tools
func NewServer(logger *zap.Logger, serviceInstance service.Service) *server.MCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := server.NewMCPServer(
		"Newsletter MCP",
		Version,
		server.WithToolCapabilities(false),
	)

	listSectionsTool := mcp.NewTool("list_sections",
		mcp.WithDescription("List the newsletter sections and whether content is available for each of them"),
	)
	s.AddTool(listSectionsTool, getListSectionsHandler(serviceInstance))

	getSectionTool := mcp.NewTool("get_section",
		mcp.WithDescription("Get the sanitized content of one newsletter section"),
		mcp.WithString("section",
			mcp.Required(),
			mcp.Description("The section id as returned by list_sections (e.g. 'sales', 'great-place-to-work')"),
		),
		mcp.WithString("format",
			mcp.Description("Output format of the content"),
			mcp.Enum(FormatHTML, FormatMarkdown),
		),
	)
	s.AddTool(getSectionTool, mcp.NewTypedToolHandler(getSectionHandler(logger, serviceInstance)))

	refreshTool := mcp.NewTool("refresh",
		mcp.WithDescription("Fetch the published newsletter document again and rebuild all sections"),
	)
	s.AddTool(refreshTool, getRefreshHandler(logger, serviceInstance))

	return s
}

func getListSectionsHandler(serviceInstance service.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ensureRetrieved(ctx, serviceInstance)
		return jsonResult(newStatus(serviceInstance.Snapshot(), serviceInstance.Sections()))
	}
}

func getSectionHandler(logger *zap.Logger, serviceInstance service.Service) func(ctx context.Context, request mcp.CallToolRequest, args GetSectionRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest, args GetSectionRequest) (*mcp.CallToolResult, error) {
		if args.Section == "" {
			return mcp.NewToolResultError("section is required"), nil
		}
		if r, ok := httpRequestFromContext(ctx); ok {
			logger.Debug("get_section", zap.String("section", args.Section), zap.String("remoteAddr", r.RemoteAddr))
		}

		ensureRetrieved(ctx, serviceInstance)
		response, err := renderSection(serviceInstance, args.Section, args.Format)
		switch {
		case errors.Is(err, ErrNoContent):
			// an empty section is a normal state, not a failure
			return mcp.NewToolResultText(fmt.Sprintf("%s: %s", ErrNoContent, args.Section)), nil
		case err != nil:
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(response)
	}
}

func getRefreshHandler(logger *zap.Logger, serviceInstance service.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snapshot, err := serviceInstance.Retrieve(ctx)
		if err != nil {
			logger.Warn("refresh failed", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("failed to refresh newsletter: %v", err)), nil
		}
		return jsonResult(newStatus(snapshot, serviceInstance.Sections()))
	}
}

// ensureRetrieved runs the first ingestion pass on demand.
func ensureRetrieved(ctx context.Context, serviceInstance service.Service) {
	snapshot := serviceInstance.Snapshot()
	if snapshot.State == vo.StateLoading && snapshot.Content == nil {
		// the resulting error state is visible in the snapshot
		_, _ = serviceInstance.Retrieve(ctx)
	}
}

// renderSection returns the content of a known section in the given format.
func renderSection(serviceInstance service.Service, sectionID, format string) (*SectionResponse, error) {
	known := false
	for _, rule := range serviceInstance.Sections() {
		if rule.ID == sectionID {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSection, sectionID)
	}

	markup, ok := serviceInstance.ContentFor(sectionID)
	if !ok {
		return nil, ErrNoContent
	}

	switch format {
	case "", FormatHTML:
		return &SectionResponse{ID: sectionID, Format: FormatHTML, Content: markup}, nil
	case FormatMarkdown:
		markdown, err := sanitize.Markdown(markup)
		if err != nil {
			return nil, err
		}
		return &SectionResponse{ID: sectionID, Format: FormatMarkdown, Content: markdown}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	responseBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(responseBytes)), nil
}

// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes read-only blog tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/spacetraveling/internal/blog"
	"github.com/starford/spacetraveling/internal/models"
	"github.com/starford/spacetraveling/internal/paths"
	"github.com/starford/spacetraveling/internal/richtext"
)

// Resource URIs.
const (
	PathsURI     = "spacetraveling://paths"
	PostModelURI = "spacetraveling://post-model"
)

// resolveTimeout bounds how long get_post waits for a page still rendering.
const resolveTimeout = 10 * time.Second

// Server wraps the MCP server with blog tools.
type Server struct {
	mcp *server.MCPServer
	svc *blog.Service
}

// New creates a new MCP server with all blog tools registered.
func New(svc *blog.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"spacetraveling",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_posts",
		mcp.WithDescription("List blog posts, newest first. Pass next_cursor from a previous "+
			"result to continue the listing."),
		mcp.WithString("cursor", mcp.Description("Cursor returned by a previous call (empty for the first page)")),
	), s.listPosts)

	s.mcp.AddTool(mcp.NewTool("get_post",
		mcp.WithDescription("Read one post by its uid. The result carries a state; see the "+
			"get_post_model tool or the "+PostModelURI+" resource."),
		mcp.WithString("slug", mcp.Required(), mcp.Description("Post uid (the /post/<uid> path segment)")),
		mcp.WithString("format", mcp.Description("json (default) or text"), mcp.Enum("json", "text")),
	), s.getPost)

	s.mcp.AddTool(mcp.NewTool("list_static_paths",
		mcp.WithDescription("List the slugs pre-rendered by the loaded build and the fallback policy."),
	), s.listStaticPaths)

	s.mcp.AddTool(mcp.NewTool("get_post_model",
		mcp.WithDescription("Returns the description of the post models the other tools return."),
	), s.getPostModel)

	s.mcp.AddResource(
		mcp.NewResource(PathsURI, "Static Paths",
			mcp.WithResourceDescription("Pre-rendered detail page slugs and the fallback policy."),
			mcp.WithMIMEType("application/json"),
		),
		s.readPathsResource,
	)
	s.mcp.AddResource(
		mcp.NewResource(PostModelURI, "Post Model",
			mcp.WithResourceDescription("Shape of listing items and post details."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPostModelResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listPosts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cursor := req.GetString("cursor", "")
	page, err := s.svc.ListPage(ctx, cursor)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(page)
}

func (s *Server) getPost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slug, err := req.RequireString("slug")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	res, err := s.svc.ResolvePost(ctx, slug)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", paths.StateFailed, err)), nil
	}
	if req.GetString("format", "json") == "text" && res.State == paths.StateReady {
		return mcp.NewToolResultText(postText(res)), nil
	}
	return jsonResult(struct {
		State paths.State        `json:"state"`
		Post  *models.PostDetail `json:"post,omitempty"`
	}{res.State, res.Post})
}

// postText renders a ready post as plain text.
func postText(res paths.Resolution) string {
	p := res.Post
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", p.Title)
	if p.Subtitle != "" {
		fmt.Fprintf(&b, "%s\n", p.Subtitle)
	}
	date := ""
	if p.FirstPublicationDate != nil {
		date = *p.FirstPublicationDate
	}
	fmt.Fprintf(&b, "\n%s · %s · %d min\n", date, p.Author, p.ReadingMinutes)
	for _, block := range p.Content {
		if block.Heading != "" {
			fmt.Fprintf(&b, "\n## %s\n", block.Heading)
		}
		if body := richtext.AsText(block.Body); body != "" {
			fmt.Fprintf(&b, "\n%s\n", body)
		}
	}
	return b.String()
}

func (s *Server) listStaticPaths(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.pathsPayload())
}

func (s *Server) getPostModel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PostModelContract), nil
}

type pathsPayload struct {
	Slugs      []string `json:"slugs"`
	Fallback   string   `json:"fallback"`
	Revalidate string   `json:"revalidate"`
}

func (s *Server) pathsPayload() pathsPayload {
	set := s.svc.Paths()
	return pathsPayload{Slugs: set.Slugs, Fallback: string(set.Fallback.Mode), Revalidate: set.Fallback.Revalidate.String()}
}

func (s *Server) readPathsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	out, err := json.Marshal(s.pathsPayload())
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      PathsURI,
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}

func (s *Server) readPostModelResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      PostModelURI,
			MIMEType: "text/markdown",
			Text:     PostModelContract,
		},
	}, nil
}

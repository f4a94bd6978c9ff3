package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/spacetraveling/internal/blog"
	"github.com/starford/spacetraveling/internal/paths"
	"github.com/starford/spacetraveling/internal/testutil"
)

func testServer(t *testing.T) (*Server, *testutil.Repository) {
	t.Helper()
	repo := testutil.NewRepository(
		testutil.Post("a", "A"), testutil.Post("b", "B"), testutil.Post("c", "C"),
	)
	svc := blog.NewService(repo, blog.Options{
		ListingPageSize: 2,
		Fallback:        paths.FallbackPolicy{Mode: paths.FallbackBlocking, Revalidate: time.Hour},
	})
	t.Cleanup(svc.Close)
	return New(svc, "test"), repo
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no "call tool" test helper; call the handlers directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_posts":
		result, err = srv.listPosts(ctx, req)
	case "get_post":
		result, err = srv.getPost(ctx, req)
	case "list_static_paths":
		result, err = srv.listStaticPaths(ctx, req)
	case "get_post_model":
		result, err = srv.getPostModel(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestListPostsFollowsCursor(t *testing.T) {
	srv, _ := testServer(t)

	var first blog.Page
	if err := json.Unmarshal([]byte(resultText(callTool(t, srv, "list_posts", map[string]any{}))), &first); err != nil {
		t.Fatal(err)
	}
	if len(first.Posts) != 2 || first.NextCursor == "" {
		t.Fatalf("first page = %+v", first)
	}

	var second blog.Page
	r := callTool(t, srv, "list_posts", map[string]any{"cursor": first.NextCursor})
	if err := json.Unmarshal([]byte(resultText(r)), &second); err != nil {
		t.Fatal(err)
	}
	if len(second.Posts) != 1 || second.Posts[0].UID != "c" || second.NextCursor != "" {
		t.Fatalf("second page = %+v", second)
	}
}

func TestGetPost(t *testing.T) {
	srv, _ := testServer(t)

	text := resultText(callTool(t, srv, "get_post", map[string]any{"slug": "b"}))
	if !strings.Contains(text, `"state": "ready"`) || !strings.Contains(text, `"title": "B"`) {
		t.Errorf("get_post = %s", text)
	}

	text = resultText(callTool(t, srv, "get_post", map[string]any{"slug": "b", "format": "text"}))
	if !strings.HasPrefix(text, "# B\n") || !strings.Contains(text, "## Proin et varius") || !strings.Contains(text, "Lorem ipsum") {
		t.Errorf("text format = %q", text)
	}

	text = resultText(callTool(t, srv, "get_post", map[string]any{"slug": "missing"}))
	if !strings.Contains(text, `"state": "not_found"`) || strings.Contains(text, `"post"`) {
		t.Errorf("missing = %s", text)
	}
}

func TestGetPostRepositoryDown(t *testing.T) {
	srv, repo := testServer(t)
	repo.SetErr(context.DeadlineExceeded)
	r := callTool(t, srv, "get_post", map[string]any{"slug": "a"})
	if !r.IsError {
		t.Error("expected error result")
	}
}

func TestGetPostRequiresSlug(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_post", map[string]any{})
	if !r.IsError {
		t.Error("expected error for missing slug")
	}
}

func TestListStaticPathsAndResources(t *testing.T) {
	srv, _ := testServer(t)

	text := resultText(callTool(t, srv, "list_static_paths", map[string]any{}))
	if !strings.Contains(text, `"fallback": "blocking"`) {
		t.Errorf("paths = %s", text)
	}

	contents, err := srv.readPathsResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok || tc.URI != PathsURI || !strings.Contains(tc.Text, `"revalidate":"1h0m0s"`) {
		t.Errorf("paths resource = %+v", contents[0])
	}

	if model := resultText(callTool(t, srv, "get_post_model", map[string]any{})); !strings.Contains(model, "rendering") {
		t.Errorf("post model missing states")
	}
}

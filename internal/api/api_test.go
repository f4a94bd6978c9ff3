package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"html"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/spacetraveling/internal/blog"
	"github.com/starford/spacetraveling/internal/paths"
	"github.com/starford/spacetraveling/internal/site"
	"github.com/starford/spacetraveling/internal/testutil"
)

// testEnv sets up a fake repository of three posts, the blog service and
// the router. The listing page holds two posts.
func testEnv(t *testing.T, mode paths.FallbackMode) (*testutil.Repository, http.Handler) {
	t.Helper()
	repo := testutil.NewRepository(
		testutil.Post("a", "A"), testutil.Post("b", "B"), testutil.Post("c", "C"),
	)
	svc := blog.NewService(repo, blog.Options{
		ListingPageSize: 2,
		Incremental:     true,
		Fallback:        paths.FallbackPolicy{Mode: mode, Wait: 50 * time.Millisecond, Revalidate: time.Hour},
	})
	t.Cleanup(svc.Close)
	pages, err := site.New()
	if err != nil {
		t.Fatalf("site.New: %v", err)
	}
	return repo, NewRouter(svc, pages, time.Hour, nil)
}

func do(router http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

var sessionAttr = `data-session="`

func attr(t *testing.T, page, name string) string {
	t.Helper()
	prefix := name + `="`
	i := strings.Index(page, prefix)
	if i < 0 {
		t.Fatalf("no %s in page", name)
	}
	rest := page[i+len(prefix):]
	return html.UnescapeString(rest[:strings.Index(rest, `"`)])
}

func sessionFrom(t *testing.T, html string) string {
	t.Helper()
	i := strings.Index(html, sessionAttr)
	if i < 0 {
		t.Fatalf("no session in page")
	}
	rest := html[i+len(sessionAttr):]
	return rest[:strings.Index(rest, `"`)]
}

func TestHomeAndLoadMore(t *testing.T) {
	_, router := testEnv(t, paths.FallbackBlocking)

	w := do(router, http.MethodGet, "/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("home status = %d", w.Code)
	}
	html := w.Body.String()
	if !strings.Contains(html, `href="/post/a"`) || !strings.Contains(html, `href="/post/b"`) {
		t.Fatalf("listing missing posts: %s", html)
	}
	if strings.Contains(html, `href="/post/c"`) {
		t.Fatalf("third post should not be on the first page")
	}
	session := sessionFrom(t, html)

	w = do(router, http.MethodPost, "/api/listing/"+session+"/more", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("more status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp LoadMoreResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Posts) != 1 || resp.Posts[0].UID != "c" || resp.HasMore || resp.NextCursor != "" {
		t.Fatalf("more = %+v", resp)
	}
	if resp.Posts[0].FirstPublicationDate == nil || *resp.Posts[0].FirstPublicationDate != "15 Mar 2021" {
		t.Errorf("date = %v", resp.Posts[0].FirstPublicationDate)
	}

	// Exhausted: 200 with an empty list.
	w = do(router, http.MethodPost, "/api/listing/"+session+"/more", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"posts":[]`) {
		t.Fatalf("exhausted more = %d %s", w.Code, w.Body.String())
	}
}

func TestLoadMore_RepositoryFailureIsRetryable(t *testing.T) {
	repo, router := testEnv(t, paths.FallbackBlocking)
	session := sessionFrom(t, do(router, http.MethodGet, "/", nil).Body.String())

	repo.SetErr(errors.New("connection reset"))
	w := do(router, http.MethodPost, "/api/listing/"+session+"/more", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}

	repo.SetErr(nil)
	w = do(router, http.MethodPost, "/api/listing/"+session+"/more", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"uid":"c"`) {
		t.Fatalf("retry = %d %s", w.Code, w.Body.String())
	}
}

func TestLoadMore_UnknownSession(t *testing.T) {
	_, router := testEnv(t, paths.FallbackBlocking)
	w := do(router, http.MethodPost, "/api/listing/nope/more", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestOpenListingAtCursor(t *testing.T) {
	_, router := testEnv(t, paths.FallbackBlocking)

	body, _ := json.Marshal(OpenListingRequest{Cursor: testutil.Cursor(2, 2)})
	w := do(router, http.MethodPost, "/api/listing", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("open status = %d, body = %s", w.Code, w.Body.String())
	}
	var opened OpenListingResponse
	_ = json.Unmarshal(w.Body.Bytes(), &opened)

	w = do(router, http.MethodPost, "/api/listing/"+opened.Session+"/more", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"uid":"c"`) {
		t.Fatalf("more = %d %s", w.Code, w.Body.String())
	}

	w = do(router, http.MethodDelete, "/api/listing/"+opened.Session, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("close status = %d", w.Code)
	}
	w = do(router, http.MethodPost, "/api/listing/"+opened.Session+"/more", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("closed session status = %d, want 404", w.Code)
	}
}

func TestLoadMore_ExpiredSessionReopensFromPageCursor(t *testing.T) {
	_, router := testEnv(t, paths.FallbackBlocking)
	page := do(router, http.MethodGet, "/", nil).Body.String()
	session := sessionFrom(t, page)
	cursor := attr(t, page, "data-cursor")
	if cursor == "" {
		t.Fatal("listing page carries no cursor")
	}

	do(router, http.MethodDelete, "/api/listing/"+session, nil)
	w := do(router, http.MethodPost, "/api/listing/"+session+"/more", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expired session status = %d, want 404", w.Code)
	}

	body, _ := json.Marshal(OpenListingRequest{Cursor: cursor})
	w = do(router, http.MethodPost, "/api/listing", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("reopen status = %d, body = %s", w.Code, w.Body.String())
	}
	var opened OpenListingResponse
	_ = json.Unmarshal(w.Body.Bytes(), &opened)

	w = do(router, http.MethodPost, "/api/listing/"+opened.Session+"/more", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"uid":"c"`) {
		t.Fatalf("more after reopen = %d %s", w.Code, w.Body.String())
	}
}

func TestOpenListing_Validation(t *testing.T) {
	_, router := testEnv(t, paths.FallbackBlocking)
	for _, body := range []string{`{`, `{}`, `{"cursor":"not a url"}`} {
		w := do(router, http.MethodPost, "/api/listing", []byte(body))
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, w.Code)
		}
	}
}

func TestPostPage_ReadyWithETag(t *testing.T) {
	_, router := testEnv(t, paths.FallbackBlocking)

	w := do(router, http.MethodGet, "/post/a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<h1>A</h1>") {
		t.Errorf("body missing title")
	}
	if got := w.Header().Get("Cache-Control"); got != "s-maxage=3600, stale-while-revalidate" {
		t.Errorf("Cache-Control = %q", got)
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}

	req := httptest.NewRequest(http.MethodGet, "/post/a", nil)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional status = %d, want 304", w.Code)
	}
}

func TestPostPage_NotFound(t *testing.T) {
	_, router := testEnv(t, paths.FallbackBlocking)
	w := do(router, http.MethodGet, "/post/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Página não encontrada") {
		t.Errorf("404 page not rendered")
	}
}

func TestPostPage_FallbackPlaceholder(t *testing.T) {
	repo, router := testEnv(t, paths.FallbackTrue)
	repo.Gate = make(chan struct{})
	defer close(repo.Gate)

	w := do(router, http.MethodGet, "/post/b", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Carregando...") {
		t.Errorf("placeholder not rendered: %s", w.Body.String())
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("placeholder Cache-Control = %q", got)
	}
}

func TestPostPage_RepositoryFailure(t *testing.T) {
	repo, router := testEnv(t, paths.FallbackBlocking)
	repo.SetErr(errors.New("connection reset"))
	w := do(router, http.MethodGet, "/post/a", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func TestGetPostJSON(t *testing.T) {
	_, router := testEnv(t, paths.FallbackBlocking)

	w := do(router, http.MethodGet, "/api/posts/b", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["state"] != "ready" {
		t.Errorf("state = %v", resp["state"])
	}
	post, _ := resp["post"].(map[string]any)
	if post["uid"] != "b" || post["reading_minutes"] != float64(1) {
		t.Errorf("post = %v", post)
	}

	w = do(router, http.MethodGet, "/api/posts/missing", nil)
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), `"state":"not_found"`) {
		t.Fatalf("missing = %d %s", w.Code, w.Body.String())
	}
}

func TestRevalidateAndPaths(t *testing.T) {
	_, router := testEnv(t, paths.FallbackBlocking)

	w := do(router, http.MethodPost, "/api/posts/a/revalidate", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("revalidate status = %d", w.Code)
	}

	w = do(router, http.MethodGet, "/api/paths", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("paths status = %d", w.Code)
	}
	var resp PathsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Fallback != "blocking" || resp.Revalidate != "1h0m0s" || resp.Slugs == nil {
		t.Errorf("paths = %+v", resp)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("api Cache-Control = %q", got)
	}
}

func TestUnknownRouteRendersNotFound(t *testing.T) {
	_, router := testEnv(t, paths.FallbackBlocking)
	w := do(router, http.MethodGet, "/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

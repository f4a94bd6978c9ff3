package prismic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/spacetraveling/internal/apperr"
)

type fakeAPI struct {
	srv        *httptest.Server
	lastQuery  atomic.Value
	refCalls   atomic.Int32
	failSearch atomic.Bool
	rejectAll  atomic.Bool
	master     atomic.Value
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	f.master.Store("R-master")
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2", func(w http.ResponseWriter, r *http.Request) {
		f.refCalls.Add(1)
		if r.URL.Query().Get("access_token") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"refs": []map[string]any{
				{"id": "preview", "ref": "R-preview", "isMasterRef": false},
				{"id": "master", "ref": f.master.Load().(string), "isMasterRef": true},
			},
		})
	})
	mux.HandleFunc("/api/v2/documents/search", func(w http.ResponseWriter, r *http.Request) {
		if f.failSearch.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		q := r.URL.Query()
		f.lastQuery.Store(q)
		if f.rejectAll.Load() || q.Get("ref") != f.master.Load().(string) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Ref not found"}`))
			return
		}
		if q.Get("q") == `[[at(my.posts.uid, "missing")]]` {
			_ = json.NewEncoder(w).Encode(map[string]any{"results": []any{}, "next_page": nil})
			return
		}
		page := q.Get("page")
		if page == "" {
			page = "1"
		}
		var next any
		if page == "1" {
			next = fmt.Sprintf("%s/api/v2/documents/search?ref=%s&page=2&pageSize=1", f.srv.URL, q.Get("ref"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"page":      1,
			"next_page": next,
			"results": []map[string]any{{
				"id": "id-" + page, "uid": "post-" + page, "type": "posts",
				"first_publication_date": "2021-03-15T19:25:28+0000",
				"data":                   map[string]any{"author": "Joseph"},
			}},
		})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newTestClient(t *testing.T, f *fakeAPI) *Client {
	t.Helper()
	c, err := New(Config{Endpoint: f.srv.URL + "/api/v2", AccessToken: "secret", MaxRetries: 0})
	require.NoError(t, err)
	return c
}

func TestQuery_SendsPredicatesAndOptions(t *testing.T) {
	f := newFakeAPI(t)
	c := newTestClient(t, f)

	page, err := c.Query(context.Background(),
		[]Predicate{At("document.type", "posts")},
		QueryOptions{Fetch: []string{"posts.title", "posts.subtitle"}, PageSize: 1})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "post-1", page.Results[0].UID)
	assert.Contains(t, page.Cursor(), "page=2")

	q := f.lastQuery.Load().(url.Values)
	assert.Equal(t, []string{"R-master"}, q["ref"])
	assert.Equal(t, []string{`[[at(document.type, "posts")]]`}, q["q"])
	assert.Equal(t, []string{"posts.title,posts.subtitle"}, q["fetch"])
	assert.Equal(t, []string{"1"}, q["pageSize"])
	assert.Equal(t, []string{"secret"}, q["access_token"])
}

func TestRef_IsCached(t *testing.T) {
	f := newFakeAPI(t)
	c := newTestClient(t, f)
	for i := 0; i < 3; i++ {
		_, err := c.Query(context.Background(), nil, QueryOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.refCalls.Load())
}

func TestFetchPage_FollowsCursor(t *testing.T) {
	f := newFakeAPI(t)
	c := newTestClient(t, f)

	first, err := c.Query(context.Background(), nil, QueryOptions{PageSize: 1})
	require.NoError(t, err)
	second, err := c.FetchPage(context.Background(), first.Cursor())
	require.NoError(t, err)
	require.Len(t, second.Results, 1)
	assert.Equal(t, "post-2", second.Results[0].UID)
	assert.Empty(t, second.Cursor())
}

func TestFetchPage_RejectsForeignHost(t *testing.T) {
	f := newFakeAPI(t)
	c := newTestClient(t, f)
	_, err := c.FetchPage(context.Background(), "http://attacker.example/api/v2/documents/search")
	require.Error(t, err)
	assert.False(t, apperr.IsRetryable(err))
}

func TestFetchPage_RejectsSchemeDowngrade(t *testing.T) {
	f := newFakeAPI(t)
	c, err := New(Config{Endpoint: "https" + strings.TrimPrefix(f.srv.URL, "http") + "/api/v2", AccessToken: "secret"})
	require.NoError(t, err)

	_, err = c.FetchPage(context.Background(), f.srv.URL+"/api/v2/documents/search?page=2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme")
	assert.Nil(t, f.lastQuery.Load(), "no request may leave with the token")
}

func TestQuery_RefreshesUnpublishedRef(t *testing.T) {
	f := newFakeAPI(t)
	c := newTestClient(t, f)

	_, err := c.Query(context.Background(), nil, QueryOptions{PageSize: 1})
	require.NoError(t, err)
	f.master.Store("R-next")

	page, err := c.Query(context.Background(), nil, QueryOptions{PageSize: 1})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, []string{"R-next"}, f.lastQuery.Load().(url.Values)["ref"])
	assert.Equal(t, int32(2), f.refCalls.Load())

	// The refreshed ref is cached again.
	_, err = c.Query(context.Background(), nil, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.refCalls.Load())
}

func TestFetchPage_RefreshesUnpublishedRef(t *testing.T) {
	f := newFakeAPI(t)
	c := newTestClient(t, f)

	first, err := c.Query(context.Background(), nil, QueryOptions{PageSize: 1})
	require.NoError(t, err)
	f.master.Store("R-next")

	second, err := c.FetchPage(context.Background(), first.Cursor())
	require.NoError(t, err)
	require.Len(t, second.Results, 1)
	assert.Equal(t, "post-2", second.Results[0].UID)
	assert.Equal(t, []string{"R-next"}, f.lastQuery.Load().(url.Values)["ref"])
}

func TestFetchPage_CursorWithOldRefUsesMaster(t *testing.T) {
	f := newFakeAPI(t)
	c := newTestClient(t, f)

	page, err := c.FetchPage(context.Background(), f.srv.URL+"/api/v2/documents/search?ref=R-gone&page=2")
	require.NoError(t, err)
	assert.Equal(t, "post-2", page.Results[0].UID)
}

func TestQuery_UnmovedRefIsNotRetried(t *testing.T) {
	f := newFakeAPI(t)
	c := newTestClient(t, f)
	f.rejectAll.Store(true)

	_, err := c.Query(context.Background(), nil, QueryOptions{})
	require.Error(t, err)
	var fe *apperr.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.Equal(t, int32(2), f.refCalls.Load())
}

func TestGetByUID_NotFound(t *testing.T) {
	f := newFakeAPI(t)
	c := newTestClient(t, f)
	_, err := c.GetByUID(context.Background(), "posts", "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestGetByUID_Found(t *testing.T) {
	f := newFakeAPI(t)
	c := newTestClient(t, f)
	rec, err := c.GetByUID(context.Background(), "posts", "post-1")
	require.NoError(t, err)
	assert.Equal(t, "post-1", rec.UID)
}

func TestServerErrorIsFetchError(t *testing.T) {
	f := newFakeAPI(t)
	c := newTestClient(t, f)
	f.failSearch.Store(true)

	_, err := c.Query(context.Background(), nil, QueryOptions{})
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))
	assert.False(t, errors.Is(err, apperr.ErrNotFound))
	assert.NotContains(t, err.Error(), "secret")
}

func TestPredicateEncoding(t *testing.T) {
	assert.Equal(t, `[[at(document.type, "posts")][not(my.posts.uid, "a\"b")]]`,
		Encode(At("document.type", "posts"), Not("my.posts.uid", `a"b`)))
	assert.Equal(t, `[any(document.tags, ["go", "react"])]`, Any("document.tags", "go", "react").String())
	assert.Equal(t, `[at(my.posts.views, 3)]`, At("my.posts.views", 3).String())
	assert.Equal(t, `[at(my.posts.views, 3)]`, At("my.posts.views", int32(3)).String())
	assert.Equal(t, `[at(my.posts.views, 7)]`, At("my.posts.views", uint8(7)).String())
	assert.Equal(t, `[at(my.posts.score, 0.5)]`, At("my.posts.score", float32(0.5)).String())
	assert.Panics(t, func() { At("my.posts.tags", []string{"go"}) })
}

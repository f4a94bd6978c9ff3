package site

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/spacetraveling/internal/models"
)

func strPtr(s string) *string { return &s }

func renderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := New()
	require.NoError(t, err)
	return r
}

func TestHome_ListsPostsAndLoadMore(t *testing.T) {
	r := renderer(t)
	var buf bytes.Buffer
	err := r.Home(&buf, HomeData{
		Posts: []models.PostSummary{
			{UID: "como-utilizar-hooks", FirstPublicationDate: strPtr("15 Mar 2021"), Title: "Como utilizar <Hooks>", Subtitle: "Pensando em sincronização", Author: "Joseph Oliveira"},
			{UID: "sem-data", Title: "Sem data", Subtitle: "s", Author: "a"},
		},
		HasMore: true,
		Session: "abc",
	})
	require.NoError(t, err)
	out := buf.String()

	assert.Contains(t, out, `href="/post/como-utilizar-hooks"`)
	assert.Contains(t, out, "Como utilizar &lt;Hooks&gt;")
	assert.Contains(t, out, "<time>15 Mar 2021</time>")
	assert.Contains(t, out, "<time></time>")
	assert.Contains(t, out, "Carregar mais posts")
	assert.Contains(t, out, `data-session="abc"`)
	assert.Contains(t, out, `id="load-more-error"`)
	assert.Contains(t, out, "console.error")
	assert.Contains(t, out, "d.next_cursor")
	assert.Contains(t, out, "<title>spacetraveling</title>")
}

func TestHome_ExhaustedHidesButton(t *testing.T) {
	r := renderer(t)
	var buf bytes.Buffer
	require.NoError(t, r.Home(&buf, HomeData{Posts: []models.PostSummary{}}))
	assert.NotContains(t, buf.String(), "Carregar mais posts")
	assert.NotContains(t, buf.String(), "<script>")
}

func TestPost_RendersDetail(t *testing.T) {
	r := renderer(t)
	out, err := r.Bytes(func(w io.Writer) error {
		return r.Post(w, models.PostDetail{
			UID:                  "como-utilizar-hooks",
			FirstPublicationDate: strPtr("15 Mar 2021"),
			LastPublicationDate:  strPtr("25 Mar 2021"),
			Title:                "Como utilizar Hooks",
			BannerURL:            "https://images.prismic.io/banner.png",
			Author:               "Joseph Oliveira",
			ReadingMinutes:       4,
			Content: []models.ContentBlock{{
				Heading: "Proin et varius",
				Body:    []models.RichTextSpan{{Type: "paragraph", Text: "Lorem ipsum", Spans: []models.Formatting{{Start: 0, End: 5, Type: "strong"}}}},
			}},
		})
	})
	require.NoError(t, err)
	html := string(out)

	assert.Contains(t, html, "<title>Como utilizar Hooks | spacetraveling</title>")
	assert.Contains(t, html, `<img class="banner" src="https://images.prismic.io/banner.png"`)
	assert.Contains(t, html, "<h1>Como utilizar Hooks</h1>")
	assert.Contains(t, html, "4 min")
	assert.Contains(t, html, "* editado em 25 Mar 2021")
	assert.Contains(t, html, "<h2>Proin et varius</h2>")
	assert.Contains(t, html, "<strong>Lorem</strong> ipsum")
}

func TestPost_WithoutBannerOrEdit(t *testing.T) {
	r := renderer(t)
	var buf bytes.Buffer
	require.NoError(t, r.Post(&buf, models.PostDetail{UID: "x", Title: "X", Author: "A", Content: []models.ContentBlock{}}))
	assert.NotContains(t, buf.String(), `class="banner"`)
	assert.NotContains(t, buf.String(), "editado em")
}

func TestFallbackAndNotFound(t *testing.T) {
	r := renderer(t)
	var buf bytes.Buffer
	require.NoError(t, r.Fallback(&buf, `a"b`))
	assert.Contains(t, buf.String(), "Carregando...")
	assert.Contains(t, buf.String(), `data-slug="a&#34;b"`)
	assert.Contains(t, buf.String(), `"post.ready"`)
	assert.Contains(t, buf.String(), `/api/events?slug=`)

	buf.Reset()
	require.NoError(t, r.NotFound(&buf))
	assert.True(t, strings.Contains(buf.String(), "Página não encontrada"))
}

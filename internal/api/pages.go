package api

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/spacetraveling/internal/blog"
	"github.com/starford/spacetraveling/internal/checksum"
	"github.com/starford/spacetraveling/internal/paths"
	"github.com/starford/spacetraveling/internal/site"
)

// PageHandler renders the HTML pages.
type PageHandler struct {
	svc          *blog.Service
	site         *site.Renderer
	cacheControl string
}

// NewPageHandler creates a page handler. Detail pages may be cached by
// shared caches for revalidate and served stale while they refresh.
func NewPageHandler(svc *blog.Service, r *site.Renderer, revalidate time.Duration) *PageHandler {
	if revalidate <= 0 {
		revalidate = paths.DefaultRevalidate
	}
	return &PageHandler{
		svc:          svc,
		site:         r,
		cacheControl: fmt.Sprintf("s-maxage=%d, stale-while-revalidate", int(revalidate.Seconds())),
	}
}

// Home handles GET /.
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.OpenListing(r.Context())
	if err != nil {
		slog.Error("listing failed", slog.String("error", err.Error()))
		http.Error(w, "content repository unavailable", http.StatusBadGateway)
		return
	}
	h.render(w, http.StatusOK, "no-store", func(out io.Writer) error {
		return h.site.Home(out, site.HomeData{
			Posts:   view.Posts,
			HasMore: view.HasMore,
			Session: view.Session,
			Cursor:  view.Cursor,
		})
	})
}

// Post handles GET /post/{slug}.
func (h *PageHandler) Post(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if !validSlug(slug) {
		h.NotFound(w, r)
		return
	}
	res, err := h.svc.Post(r.Context(), slug)
	if err != nil || res.State == paths.StateFailed {
		if err != nil {
			slog.Warn("post failed", slog.String("slug", slug), slog.String("error", err.Error()))
		}
		http.Error(w, "content repository unavailable", http.StatusBadGateway)
		return
	}

	switch res.State {
	case paths.StateNotFound:
		h.NotFound(w, r)
	case paths.StateRendering:
		h.render(w, http.StatusOK, "no-store", func(out io.Writer) error {
			return h.site.Fallback(out, slug)
		})
	default:
		body, err := h.site.Bytes(func(out io.Writer) error { return h.site.Post(out, *res.Post) })
		if err != nil {
			slog.Error("render failed", slog.String("slug", slug), slog.String("error", err.Error()))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		etag := checksum.ETag(body)
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", h.cacheControl)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

// NotFound renders the 404 page.
func (h *PageHandler) NotFound(w http.ResponseWriter, _ *http.Request) {
	h.render(w, http.StatusNotFound, "no-store", h.site.NotFound)
}

func (h *PageHandler) render(w http.ResponseWriter, status int, cacheControl string, fn func(io.Writer) error) {
	body, err := h.site.Bytes(fn)
	if err != nil {
		slog.Error("render failed", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

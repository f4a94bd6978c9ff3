package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/spacetraveling/internal/blog"
	"github.com/starford/spacetraveling/internal/site"
)

// NewRouter creates a chi router with the pages and the JSON API mounted.
// events, if non-nil, is mounted at GET /api/events.
func NewRouter(svc *blog.Service, pages *site.Renderer, revalidate time.Duration, events http.Handler) chi.Router {
	h := NewHandler(svc)
	ph := NewPageHandler(svc, pages, revalidate)

	r := chi.NewRouter()
	r.Use(Metrics)

	// Pages.
	r.Get("/", ph.Home)
	r.Get("/post/{slug}", ph.Post)
	r.NotFound(ph.NotFound)

	r.Route("/api", func(r chi.Router) {
		r.Use(NoStore)

		// Listing sessions.
		r.Post("/listing", h.OpenListing)
		r.Post("/listing/{session}/more", h.LoadMore)
		r.Delete("/listing/{session}", h.CloseListing)

		// Detail pages.
		r.Get("/posts/{slug}", h.GetPost)
		r.Post("/posts/{slug}/revalidate", h.Revalidate)
		r.Get("/paths", h.Paths)

		if events != nil {
			r.Get("/events", events.ServeHTTP)
		}
	})

	return r
}

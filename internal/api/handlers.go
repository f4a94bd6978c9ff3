package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/spacetraveling/internal/apperr"
	"github.com/starford/spacetraveling/internal/blog"
	"github.com/starford/spacetraveling/internal/paths"
)

// maxBodySize bounds JSON request bodies.
const maxBodySize = 64 << 10

// Handler holds API route handlers.
type Handler struct {
	svc *blog.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *blog.Service) *Handler {
	return &Handler{svc: svc}
}

// OpenListing handles POST /api/listing.
//
//	@Summary		Open a listing session at a cursor
//	@Tags			listing
//	@Accept			json
//	@Produce		json
//	@Param			body	body		OpenListingRequest	true	"Cursor"
//	@Success		201		{object}	OpenListingResponse
//	@Failure		400		{object}	errResponse
//	@Router			/listing [post]
func (h *Handler) OpenListing(w http.ResponseWriter, r *http.Request) {
	var req OpenListingRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON"))
		return
	}
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Cursor, validation.Required, is.URL),
	); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	id, err := h.svc.OpenCursor(req.Cursor)
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		slog.Error("open listing failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusCreated, OpenListingResponse{Session: id})
}

// LoadMore handles POST /api/listing/{session}/more.
//
// A busy or exhausted session answers 200 with no posts. A repository
// failure answers 502 and leaves the session where it was, so the same
// request can be retried.
//
//	@Summary		Append the next listing page
//	@Tags			listing
//	@Produce		json
//	@Param			session	path		string	true	"Session id"
//	@Success		200		{object}	LoadMoreResponse
//	@Failure		404		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Router			/listing/{session}/more [post]
func (h *Handler) LoadMore(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "session")
	more, err := h.svc.LoadMore(r.Context(), session)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("session not found"))
			return
		}
		slog.Warn("load more failed", slog.String("session", session), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody("content repository unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, LoadMoreResponse{Posts: more.Posts, HasMore: more.HasMore, NextCursor: more.NextCursor})
}

// CloseListing handles DELETE /api/listing/{session}.
func (h *Handler) CloseListing(w http.ResponseWriter, r *http.Request) {
	h.svc.CloseListing(chi.URLParam(r, "session"))
	w.WriteHeader(http.StatusNoContent)
}

// GetPost handles GET /api/posts/{slug}.
//
//	@Summary		Resolve a detail page
//	@Tags			posts
//	@Produce		json
//	@Param			slug	path		string	true	"Post UID"
//	@Success		200		{object}	PostResponse
//	@Failure		404		{object}	PostResponse
//	@Failure		502		{object}	errResponse
//	@Router			/posts/{slug} [get]
func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if !validSlug(slug) {
		writeJSON(w, http.StatusNotFound, PostResponse{State: paths.StateNotFound})
		return
	}
	res, err := h.svc.Post(r.Context(), slug)
	switch {
	case err != nil || res.State == paths.StateFailed:
		writeJSON(w, http.StatusBadGateway, errorBody("content repository unavailable"))
	case res.State == paths.StateNotFound:
		writeJSON(w, http.StatusNotFound, PostResponse{State: res.State})
	default:
		writeJSON(w, http.StatusOK, PostResponse{State: res.State, Post: res.Post})
	}
}

// Revalidate handles POST /api/posts/{slug}/revalidate.
func (h *Handler) Revalidate(w http.ResponseWriter, r *http.Request) {
	h.svc.Invalidate(chi.URLParam(r, "slug"))
	w.WriteHeader(http.StatusNoContent)
}

// Paths handles GET /api/paths.
//
//	@Summary		Static path set of the loaded build
//	@Tags			posts
//	@Produce		json
//	@Success		200	{object}	PathsResponse
//	@Router			/paths [get]
func (h *Handler) Paths(w http.ResponseWriter, _ *http.Request) {
	set := h.svc.Paths()
	writeJSON(w, http.StatusOK, PathsResponse{
		Slugs:      set.Slugs,
		Fallback:   string(set.Fallback.Mode),
		Revalidate: set.Fallback.Revalidate.String(),
	})
}

// validSlug rejects values that cannot be a document UID.
func validSlug(slug string) bool {
	return slug != "" && len(slug) <= 256 && !strings.ContainsAny(slug, "/\\\"")
}

package api

import (
	"github.com/starford/spacetraveling/internal/models"
	"github.com/starford/spacetraveling/internal/paths"
)

// OpenListingRequest is the request body for opening a listing session at a
// cursor.
type OpenListingRequest struct {
	Cursor string `json:"cursor" example:"https://spacetraveling.cdn.prismic.io/api/v2/documents/search?page=2" validate:"required"`
}

// OpenListingResponse is returned after a session was opened.
type OpenListingResponse struct {
	Session string `json:"session" example:"5f0c2a2e-8a55-4a07-9d53-7d4bb1d4f4b7" validate:"required"`
}

// LoadMoreResponse carries the posts appended by one "load more". The page
// keeps NextCursor to reopen a session that expired.
type LoadMoreResponse struct {
	Posts      []models.PostSummary `json:"posts" validate:"required"`
	HasMore    bool                 `json:"has_more"`
	NextCursor string               `json:"next_cursor,omitempty" example:"https://spacetraveling.cdn.prismic.io/api/v2/documents/search?page=3"`
}

// PostResponse is the state of one detail page.
type PostResponse struct {
	State paths.State        `json:"state" example:"ready" validate:"required"`
	Post  *models.PostDetail `json:"post,omitempty"`
}

// PathsResponse is the static path set.
type PathsResponse struct {
	Slugs      []string `json:"slugs" validate:"required"`
	Fallback   string   `json:"fallback" example:"true"`
	Revalidate string   `json:"revalidate" example:"1h0m0s"`
}

// Package pagination owns listing state and the incremental load-more
// protocol.
//
// A Controller is an explicit state machine:
//
//	Idle(cursor) --LoadMore--> Loading(cursor) --ok--> Idle(next)
//	                                           --err-> Idle(cursor)
//	Idle("") and Loading(_) ignore LoadMore.
//
// Pages are appended in the order the cursor stream delivers them; the
// controller never reorders or deduplicates. If the repository ever returns
// overlapping pages, duplicates show up in Posts.
package pagination

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/starford/spacetraveling/internal/metrics"
	"github.com/starford/spacetraveling/internal/models"
	"github.com/starford/spacetraveling/internal/normalize"
)

// PageFetcher fetches a pagination cursor. The cursor is itself a fetchable
// URL returning the same {results, next_page} shape.
type PageFetcher interface {
	FetchPage(ctx context.Context, cursor string) (*models.RawPage, error)
}

// Phase is the controller's state machine position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseExhausted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseExhausted:
		return "exhausted"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// State is a snapshot of the listing state. NextPageCursor is "" when no
// further page exists.
type State struct {
	Posts          []models.PostSummary `json:"posts"`
	NextPageCursor string               `json:"-"`
	IsLoading      bool                 `json:"is_loading"`
}

// HasMore reports whether a further page can be requested.
func (s State) HasMore() bool {
	return s.NextPageCursor != ""
}

// Controller is safe for concurrent use; at most one fetch is in flight.
type Controller struct {
	fetcher    PageFetcher
	normalizer *normalize.Normalizer
	logger     *slog.Logger

	mu         sync.Mutex
	posts      []models.PostSummary
	cursor     string
	loading    bool
	generation uint64
	discarded  bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithNormalizer overrides the default pt_BR normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(c *Controller) {
		c.normalizer = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// New seeds a controller in Idle(cursor) with the build-time posts.
func New(fetcher PageFetcher, initial []models.PostSummary, cursor string, opts ...Option) *Controller {
	c := &Controller{
		fetcher:    fetcher,
		normalizer: normalize.Default,
		logger:     slog.Default(),
		posts:      append([]models.PostSummary(nil), initial...),
		cursor:     cursor,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Posts:          append([]models.PostSummary(nil), c.posts...),
		NextPageCursor: c.cursor,
		IsLoading:      c.loading,
	}
}

// Phase returns the current state machine position.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.loading:
		return PhaseLoading
	case c.cursor == "":
		return PhaseExhausted
	}
	return PhaseIdle
}

// Len returns the number of loaded posts.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.posts)
}

// LoadMore fetches the next page and appends it. It returns the appended
// posts. Calling it while a load is in flight, after the cursor stream is
// exhausted or after Discard is a no-op returning (nil, nil).
//
// On failure the controller returns to Idle with the same cursor and the
// loaded posts untouched, so the call can be retried.
func (c *Controller) LoadMore(ctx context.Context) ([]models.PostSummary, error) {
	c.mu.Lock()
	if c.discarded || c.loading || c.cursor == "" {
		c.mu.Unlock()
		metrics.PaginationLoads.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return nil, nil
	}
	c.loading = true
	c.generation++
	gen, cursor := c.generation, c.cursor
	c.mu.Unlock()

	page, err := c.fetcher.FetchPage(ctx, cursor)
	var appended []models.PostSummary
	if err == nil {
		appended, err = c.normalizer.Summaries(page.Results)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.discarded || gen != c.generation {
		metrics.PaginationLoads.WithLabelValues(metrics.OutcomeStale).Inc()
		c.logger.Debug("pagination: dropping stale result", slog.Uint64("generation", gen))
		return nil, nil
	}
	c.loading = false
	if err != nil {
		metrics.PaginationLoads.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("pagination: load more: %w", err)
	}
	c.posts = append(c.posts, appended...)
	c.cursor = page.Cursor()
	metrics.PaginationLoads.WithLabelValues(metrics.OutcomeOK).Inc()
	return appended, nil
}

// Discard marks the owning view as gone. A fetch still in flight completes,
// but its result is dropped.
func (c *Controller) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discarded = true
	c.loading = false
	c.generation++
}

// Discarded reports whether Discard was called.
func (c *Controller) Discarded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discarded
}

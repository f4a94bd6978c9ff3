// Package blog coordinates the listing views, the detail resolver and the
// latest build snapshot for the HTTP and MCP surfaces.
package blog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/spacetraveling/internal/apperr"
	"github.com/starford/spacetraveling/internal/models"
	"github.com/starford/spacetraveling/internal/normalize"
	"github.com/starford/spacetraveling/internal/pagination"
	"github.com/starford/spacetraveling/internal/paths"
	"github.com/starford/spacetraveling/internal/prismic"
	"github.com/starford/spacetraveling/internal/snapshot"
)

// Repository is the content repository surface the service needs.
type Repository interface {
	pagination.PageFetcher
	paths.Querier
	paths.DetailSource
}

// Options configures a Service.
type Options struct {
	DocType         string
	ListingPageSize int
	// Incremental enables "load more" on the listing.
	Incremental  bool
	SessionTTL   time.Duration
	MaxSessions  int
	Fallback     paths.FallbackPolicy
	FetchTimeout time.Duration
	Normalizer   *normalize.Normalizer
	Logger       *slog.Logger
	// OnChange receives resolver state changes (post.ready and friends).
	OnChange func(kind, slug string)
}

// ListingView is the first listing page handed to a new view.
type ListingView struct {
	Posts   []models.PostSummary `json:"posts"`
	HasMore bool                 `json:"has_more"`
	// Session is the server-held view "load more" advances; "" when the
	// listing is exhausted or incremental loading is off.
	Session string `json:"session,omitempty"`
	Cursor  string `json:"-"`
}

// Page is one stateless listing page.
type Page struct {
	Posts      []models.PostSummary `json:"posts"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// Service is safe for concurrent use.
type Service struct {
	repo       Repository
	opts       Options
	normalizer *normalize.Normalizer
	logger     *slog.Logger
	sessions   *pagination.Sessions
	resolver   *paths.Resolver

	mu      sync.RWMutex
	current *snapshot.Build
}

// NewService creates a new blog service. Until Load is called the listing is
// queried live and every detail page goes through the fallback path.
func NewService(repo Repository, opts Options) *Service {
	if opts.DocType == "" {
		opts.DocType = "posts"
	}
	if opts.ListingPageSize <= 0 {
		opts.ListingPageSize = 10
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 1024
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	if opts.Normalizer == nil {
		opts.Normalizer = normalize.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ropts := []paths.ResolverOption{
		paths.WithNormalizer(opts.Normalizer),
		paths.WithLogger(opts.Logger),
	}
	if opts.FetchTimeout > 0 {
		ropts = append(ropts, paths.WithFetchTimeout(opts.FetchTimeout))
	}
	if opts.OnChange != nil {
		ropts = append(ropts, paths.WithOnChange(opts.OnChange))
	}

	return &Service{
		repo:       repo,
		opts:       opts,
		normalizer: opts.Normalizer,
		logger:     opts.Logger,
		sessions: pagination.NewSessions(repo, opts.MaxSessions, opts.SessionTTL,
			pagination.WithNormalizer(opts.Normalizer), pagination.WithLogger(opts.Logger)),
		resolver: paths.NewResolver(repo, opts.DocType, paths.StaticPathSet{Slugs: []string{}, Fallback: opts.Fallback}, ropts...),
	}
}

// Load installs a build snapshot: its listing becomes the listing page and
// its details seed the resolver.
func (s *Service) Load(b *snapshot.Build) {
	s.mu.Lock()
	s.current = b
	s.mu.Unlock()
	s.resolver.Seed(paths.StaticPathSet{Slugs: b.Slugs(), Fallback: s.opts.Fallback}, b.Details(), b.BuiltAt)
	s.logger.Info("blog: build loaded", slog.Int64("build", b.ID), slog.Int("posts", len(b.Posts)))
}

// Current returns the loaded snapshot, or nil.
func (s *Service) Current() *snapshot.Build {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Ready reports whether a snapshot is loaded.
func (s *Service) Ready() bool {
	return s.Current() != nil
}

// firstPage returns the listing page of the loaded snapshot, or queries it.
func (s *Service) firstPage(ctx context.Context) ([]models.PostSummary, string, error) {
	if b := s.Current(); b != nil {
		return append([]models.PostSummary(nil), b.Listing...), b.NextPage, nil
	}
	t := s.opts.DocType
	page, err := s.repo.Query(ctx,
		[]prismic.Predicate{prismic.At("document.type", t)},
		prismic.QueryOptions{Fetch: []string{t + ".title", t + ".subtitle", t + ".author"}, PageSize: s.opts.ListingPageSize})
	if err != nil {
		return nil, "", fmt.Errorf("blog: listing: %w", err)
	}
	posts, err := s.normalizer.Summaries(page.Results)
	if err != nil {
		return nil, "", fmt.Errorf("blog: listing: %w", err)
	}
	return posts, page.Cursor(), nil
}

// OpenListing returns the first listing page and, when more pages exist and
// incremental loading is on, a session to continue it.
func (s *Service) OpenListing(ctx context.Context) (ListingView, error) {
	posts, cursor, err := s.firstPage(ctx)
	if err != nil {
		return ListingView{}, err
	}
	if posts == nil {
		posts = []models.PostSummary{}
	}
	view := ListingView{Posts: posts, Cursor: cursor}
	if !s.opts.Incremental || cursor == "" {
		return view, nil
	}
	view.HasMore = true
	view.Session, _ = s.sessions.Open(posts, cursor)
	return view, nil
}

// OpenCursor starts a session at cursor with no posts shown yet. Exported
// static pages use it for their first "load more".
func (s *Service) OpenCursor(cursor string) (string, error) {
	if !s.opts.Incremental {
		return "", fmt.Errorf("blog: incremental listing disabled: %w", apperr.ErrInvalidInput)
	}
	if cursor == "" {
		return "", fmt.Errorf("blog: empty cursor: %w", apperr.ErrInvalidInput)
	}
	id, _ := s.sessions.Open(nil, cursor)
	return id, nil
}

// More is the outcome of one "load more".
type More struct {
	Posts   []models.PostSummary `json:"posts"`
	HasMore bool                 `json:"has_more"`
	// NextCursor lets a view whose session expired reopen one where it
	// stopped.
	NextCursor string `json:"next_cursor,omitempty"`
}

// LoadMore advances a listing session. A busy or exhausted session yields no
// posts and no error; an unknown session yields apperr.ErrNotFound.
func (s *Service) LoadMore(ctx context.Context, session string) (More, error) {
	c, ok := s.sessions.Get(session)
	if !ok {
		return More{Posts: []models.PostSummary{}}, fmt.Errorf("blog: session %q: %w", session, apperr.ErrNotFound)
	}
	posts, err := c.LoadMore(ctx)
	if posts == nil {
		posts = []models.PostSummary{}
	}
	st := c.State()
	return More{Posts: posts, HasMore: st.HasMore(), NextCursor: st.NextPageCursor}, err
}

// CloseListing discards a session.
func (s *Service) CloseListing(session string) {
	s.sessions.Close(session)
}

// ListPage returns one listing page without holding a session. An empty
// cursor is the first page.
func (s *Service) ListPage(ctx context.Context, cursor string) (Page, error) {
	if cursor == "" {
		posts, next, err := s.firstPage(ctx)
		if posts == nil {
			posts = []models.PostSummary{}
		}
		return Page{Posts: posts, NextCursor: next}, err
	}
	raw, err := s.repo.FetchPage(ctx, cursor)
	if err != nil {
		return Page{}, fmt.Errorf("blog: page: %w", err)
	}
	posts, err := s.normalizer.Summaries(raw.Results)
	if err != nil {
		return Page{}, fmt.Errorf("blog: page: %w", err)
	}
	if posts == nil {
		posts = []models.PostSummary{}
	}
	return Page{Posts: posts, NextCursor: raw.Cursor()}, nil
}

// Post resolves a detail page request under the fallback policy.
func (s *Service) Post(ctx context.Context, slug string) (paths.Resolution, error) {
	return s.resolver.Serve(ctx, slug)
}

// PostState reports the state of slug without waiting.
func (s *Service) PostState(slug string) paths.Resolution {
	return s.resolver.Lookup(slug)
}

// ResolvePost waits for slug until ctx is done, regardless of policy.
func (s *Service) ResolvePost(ctx context.Context, slug string) (paths.Resolution, error) {
	return s.resolver.Resolve(ctx, slug)
}

// Invalidate drops the cached page of slug.
func (s *Service) Invalidate(slug string) {
	s.resolver.Invalidate(slug)
}

// Paths returns the current static path set.
func (s *Service) Paths() paths.StaticPathSet {
	return s.resolver.Paths()
}

// Close discards every listing session.
func (s *Service) Close() {
	s.sessions.Purge()
}

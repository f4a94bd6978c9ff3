package paths

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/spacetraveling/internal/apperr"
	"github.com/starford/spacetraveling/internal/metrics"
	"github.com/starford/spacetraveling/internal/models"
	"github.com/starford/spacetraveling/internal/normalize"
)

// State is the resolution state of one slug.
type State int

const (
	// StateRendering means no data is available yet; hosts show a
	// placeholder and never touch Post.
	StateRendering State = iota
	StateReady
	StateNotFound
	// StateFailed is a retryable lookup failure. It is never cached.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRendering:
		return "rendering"
	case StateReady:
		return "ready"
	case StateNotFound:
		return "not_found"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Change kinds passed to the OnChange hook.
const (
	ChangeReady       = "post.ready"
	ChangeNotFound    = "post.notfound"
	ChangeRevalidated = "post.revalidated"
)

// Resolution is the outcome of resolving a slug.
type Resolution struct {
	Slug        string             `json:"slug"`
	State       State              `json:"state"`
	Post        *models.PostDetail `json:"post,omitempty"`
	FetchedAt   time.Time          `json:"fetched_at,omitzero"`
	Prerendered bool               `json:"prerendered"`
	Err         error              `json:"-"`
}

// DetailSource is the single-record half of the content repository client.
type DetailSource interface {
	GetByUID(ctx context.Context, docType, uid string) (*models.RawRecord, error)
}

type entry struct {
	state      State
	post       *models.PostDetail
	fetchedAt  time.Time
	refreshing bool
}

// Resolver resolves detail pages. Ready and NotFound results are cached for
// the process lifetime and refreshed in the background once older than the
// revalidation window; the stale value keeps being served meanwhile.
type Resolver struct {
	src          DetailSource
	docType      string
	normalizer   *normalize.Normalizer
	logger       *slog.Logger
	onChange     func(kind, slug string)
	fetchTimeout time.Duration
	now          func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	set     StaticPathSet
	entries map[string]*entry
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithNormalizer overrides the default pt_BR normalizer.
func WithNormalizer(n *normalize.Normalizer) ResolverOption {
	return func(r *Resolver) { r.normalizer = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// WithOnChange registers a hook called after a slug changes state.
func WithOnChange(fn func(kind, slug string)) ResolverOption {
	return func(r *Resolver) { r.onChange = fn }
}

// WithFetchTimeout bounds one repository lookup.
func WithFetchTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.fetchTimeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a resolver for documents of docType.
func NewResolver(src DetailSource, docType string, set StaticPathSet, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		src:          src,
		docType:      docType,
		normalizer:   normalize.Default,
		logger:       slog.Default(),
		fetchTimeout: 15 * time.Second,
		now:          time.Now,
		set:          set,
		entries:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.set.Fallback.Mode == "" {
		r.set.Fallback.Mode = FallbackTrue
	}
	return r
}

// Seed installs the output of a build: its path set and the pre-rendered
// details. Entries of the previous build are dropped.
func (r *Resolver) Seed(set StaticPathSet, details map[string]models.PostDetail, builtAt time.Time) {
	entries := make(map[string]*entry, len(details))
	for _, slug := range set.Slugs {
		d, ok := details[slug]
		if !ok {
			continue
		}
		entries[slug] = &entry{state: StateReady, post: &d, fetchedAt: builtAt}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if set.Fallback.Mode == "" {
		set.Fallback = r.set.Fallback
	}
	r.set = set
	r.entries = entries
}

// Paths returns the current static path set.
func (r *Resolver) Paths() StaticPathSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.set
	set.Slugs = append([]string{}, r.set.Slugs...)
	return set
}

// Lookup reports the state of slug without blocking. An unknown slug starts
// a background fetch and reports StateRendering.
func (r *Resolver) Lookup(slug string) Resolution {
	if res, ok := r.cached(slug); ok {
		return res
	}
	if res, ok := r.rejected(slug); ok {
		return res
	}
	r.group.DoChan(slug, func() (any, error) { return r.load(slug) })
	metrics.Resolutions.WithLabelValues(StateRendering.String()).Inc()
	return Resolution{Slug: slug, State: StateRendering}
}

// Resolve resolves slug, waiting for the repository until ctx is done. If
// ctx ends first the fetch keeps running in the background and StateRendering
// is returned. A lookup failure returns StateFailed together with the error.
func (r *Resolver) Resolve(ctx context.Context, slug string) (Resolution, error) {
	if res, ok := r.cached(slug); ok {
		return res, nil
	}
	if res, ok := r.rejected(slug); ok {
		return res, nil
	}
	ch := r.group.DoChan(slug, func() (any, error) { return r.load(slug) })
	select {
	case <-ctx.Done():
		metrics.Resolutions.WithLabelValues(StateRendering.String()).Inc()
		return Resolution{Slug: slug, State: StateRendering}, nil
	case out := <-ch:
		res, _ := out.Val.(Resolution)
		metrics.Resolutions.WithLabelValues(res.State.String()).Inc()
		if out.Err != nil {
			return res, out.Err
		}
		return res, nil
	}
}

// Serve resolves slug for an incoming page request, applying the fallback
// policy: FallbackTrue waits at most Wait before the placeholder is served,
// FallbackBlocking waits for the lookup.
func (r *Resolver) Serve(ctx context.Context, slug string) (Resolution, error) {
	policy := r.Paths().Fallback
	if policy.Mode == FallbackTrue {
		if policy.Wait <= 0 {
			return r.Lookup(slug), nil
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Wait)
		defer cancel()
	}
	return r.Resolve(ctx, slug)
}

// cached returns a Ready or NotFound entry and schedules a background
// refresh when it is stale.
func (r *Resolver) cached(slug string) (Resolution, bool) {
	r.mu.Lock()
	e, ok := r.entries[slug]
	if !ok {
		r.mu.Unlock()
		return Resolution{}, false
	}
	res := Resolution{
		Slug:        slug,
		State:       e.state,
		Post:        e.post,
		FetchedAt:   e.fetchedAt,
		Prerendered: r.set.Contains(slug),
	}
	refresh := r.stale(e) && !e.refreshing
	if refresh {
		e.refreshing = true
	}
	r.mu.Unlock()

	if refresh {
		r.logger.Debug("paths: revalidating", slog.String("slug", slug))
		r.group.DoChan(slug, func() (any, error) { return r.load(slug) })
	}
	metrics.Resolutions.WithLabelValues(res.State.String()).Inc()
	return res, true
}

// rejected short-circuits unknown slugs when fallback is disabled.
func (r *Resolver) rejected(slug string) (Resolution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.set.Fallback.Mode != FallbackFalse || r.set.Contains(slug) {
		return Resolution{}, false
	}
	metrics.Resolutions.WithLabelValues(StateNotFound.String()).Inc()
	return Resolution{Slug: slug, State: StateNotFound}, true
}

func (r *Resolver) stale(e *entry) bool {
	window := r.set.Fallback.Revalidate
	return window > 0 && r.now().Sub(e.fetchedAt) >= window
}

// load fetches and normalizes slug and records the outcome.
func (r *Resolver) load(slug string) (Resolution, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.fetchTimeout)
	defer cancel()

	raw, err := r.src.GetByUID(ctx, r.docType, slug)
	if errors.Is(err, apperr.ErrNotFound) {
		return r.store(slug, StateNotFound, nil), nil
	}
	if err == nil {
		var detail models.PostDetail
		if detail, err = r.normalizer.Detail(*raw); err == nil {
			return r.store(slug, StateReady, &detail), nil
		}
		r.logger.Error("paths: malformed record", slog.String("slug", slug), slog.String("error", err.Error()))
	}
	r.fail(slug, err)
	return Resolution{Slug: slug, State: StateFailed, Err: err}, fmt.Errorf("paths: resolve %q: %w", slug, err)
}

func (r *Resolver) store(slug string, state State, post *models.PostDetail) Resolution {
	r.mu.Lock()
	prev, existed := r.entries[slug]
	now := r.now()
	r.entries[slug] = &entry{state: state, post: post, fetchedAt: now}
	res := Resolution{Slug: slug, State: state, Post: post, FetchedAt: now, Prerendered: r.set.Contains(slug)}
	r.mu.Unlock()

	kind := ChangeReady
	switch {
	case state == StateNotFound:
		kind = ChangeNotFound
	case existed && prev.state == StateReady:
		kind = ChangeRevalidated
	}
	if existed {
		metrics.Revalidations.WithLabelValues(metrics.OutcomeOK).Inc()
	}
	if r.onChange != nil {
		r.onChange(kind, slug)
	}
	return res
}

// fail keeps a stale entry (if any) so it is served and retried on the next
// request after the window.
func (r *Resolver) fail(slug string, err error) {
	r.mu.Lock()
	e, existed := r.entries[slug]
	if existed {
		e.refreshing = false
	}
	r.mu.Unlock()
	if existed {
		metrics.Revalidations.WithLabelValues(metrics.OutcomeError).Inc()
	}
	r.logger.Warn("paths: lookup failed", slog.String("slug", slug), slog.String("error", err.Error()))
}

// Invalidate drops the cached result for slug so the next request fetches
// it again. Pre-rendered slugs fall back to a fresh lookup as well.
func (r *Resolver) Invalidate(slug string) {
	r.mu.Lock()
	_, ok := r.entries[slug]
	delete(r.entries, slug)
	r.mu.Unlock()
	if ok {
		r.logger.Info("paths: invalidated", slog.String("slug", slug))
	}
}

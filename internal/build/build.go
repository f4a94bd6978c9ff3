// Package build runs the static build: it queries the listing page,
// enumerates the pre-rendered detail paths, fetches their details, stores
// the result as a snapshot and exports the HTML pages.
package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/spacetraveling/internal/apperr"
	"github.com/starford/spacetraveling/internal/metrics"
	"github.com/starford/spacetraveling/internal/models"
	"github.com/starford/spacetraveling/internal/normalize"
	"github.com/starford/spacetraveling/internal/paths"
	"github.com/starford/spacetraveling/internal/prismic"
	"github.com/starford/spacetraveling/internal/site"
	"github.com/starford/spacetraveling/internal/snapshot"
	"github.com/starford/spacetraveling/internal/storage"
)

// keepBuilds is how many snapshots survive a build.
const keepBuilds = 5

// Repository is the content repository surface a build needs.
type Repository interface {
	paths.Querier
	paths.DetailSource
}

// Options configures one build.
type Options struct {
	Repo            Repository
	DocType         string
	ListingPageSize int
	PathsPageSize   int
	Fallback        paths.FallbackPolicy
	Concurrency     int

	Normalizer *normalize.Normalizer
	// Store receives the snapshot; nil skips persisting.
	Store snapshot.Store
	// Output receives the exported pages; nil skips exporting.
	Output storage.Provider
	Site   *site.Renderer
	Logger *slog.Logger
	Now    func() time.Time
}

// Report summarizes a build.
type Report struct {
	BuildID     int64
	Snapshot    *snapshot.Build
	Paths       paths.StaticPathSet
	Listing     int
	HasMore     bool
	Prerendered []string
	Excluded    []string
	Written     int
	Removed     int
	Duration    time.Duration
}

// Build runs a build. Records that fail to fetch or normalize are left out
// of the pre-rendered set and reported in the returned error after the good
// records were committed. A failing listing query or malformed listing
// record fails the whole build.
func Build(ctx context.Context, opts Options) (*Report, error) {
	opts.defaults()
	start := opts.Now()
	log := opts.Logger

	listing, cursor, err := queryListing(ctx, opts)
	if err != nil {
		metrics.Builds.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}
	log.Info("build: listing", slog.Int("posts", len(listing)), slog.Bool("has_more", cursor != ""))

	set, err := paths.Enumerate(ctx, opts.Repo, opts.DocType, opts.PathsPageSize, opts.Fallback)
	var failures []error
	if err != nil {
		if !apperr.IsMissingField(err) {
			metrics.Builds.WithLabelValues(metrics.OutcomeError).Inc()
			return nil, fmt.Errorf("build: %w", err)
		}
		failures = append(failures, err)
	}

	posts, excluded, detailErrs := fetchDetails(ctx, opts, set.Slugs)
	failures = append(failures, detailErrs...)
	if err := ctx.Err(); err != nil {
		metrics.Builds.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}

	snap := &snapshot.Build{BuiltAt: start, NextPage: cursor, Listing: listing, Posts: posts}
	report := &Report{
		Snapshot: snap,
		Paths:    paths.StaticPathSet{Slugs: snap.Slugs(), Fallback: set.Fallback},
		Listing:  len(listing),
		HasMore:  cursor != "",
		Excluded: excluded,
	}
	report.Prerendered = report.Paths.Slugs

	if opts.Store != nil {
		id, err := opts.Store.SaveBuild(snap)
		if err != nil {
			metrics.Builds.WithLabelValues(metrics.OutcomeError).Inc()
			return nil, fmt.Errorf("build: %w", err)
		}
		report.BuildID = id
		if err := opts.Store.Prune(keepBuilds); err != nil {
			log.Warn("build: prune failed", slog.String("error", err.Error()))
		}
	}

	if opts.Output != nil {
		written, removed, err := export(opts, snap)
		report.Written, report.Removed = written, removed
		if err != nil {
			failures = append(failures, err)
		}
	}

	report.Duration = opts.Now().Sub(start)
	outcome := metrics.OutcomeOK
	if len(failures) > 0 {
		outcome = metrics.OutcomePartial
	}
	metrics.Builds.WithLabelValues(outcome).Inc()
	log.Info("build: done",
		slog.Int64("build", report.BuildID),
		slog.Int("prerendered", len(report.Prerendered)),
		slog.Int("excluded", len(excluded)),
		slog.Int("written", report.Written),
		slog.Duration("duration", report.Duration))
	return report, errors.Join(failures...)
}

func (o *Options) defaults() {
	if o.DocType == "" {
		o.DocType = "posts"
	}
	if o.ListingPageSize <= 0 {
		o.ListingPageSize = 10
	}
	if o.PathsPageSize <= 0 {
		o.PathsPageSize = 1
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.Fallback.Mode == "" {
		o.Fallback.Mode = paths.FallbackTrue
	}
	if o.Normalizer == nil {
		o.Normalizer = normalize.Default
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

func queryListing(ctx context.Context, opts Options) ([]models.PostSummary, string, error) {
	t := opts.DocType
	page, err := opts.Repo.Query(ctx,
		[]prismic.Predicate{prismic.At("document.type", t)},
		prismic.QueryOptions{
			Fetch:    []string{t + ".title", t + ".subtitle", t + ".author"},
			PageSize: opts.ListingPageSize,
		})
	if err != nil {
		return nil, "", fmt.Errorf("build: listing query: %w", err)
	}
	summaries, err := opts.Normalizer.Summaries(page.Results)
	if err != nil {
		return nil, "", fmt.Errorf("build: listing: %w", err)
	}
	return summaries, page.Cursor(), nil
}

// fetchDetails fetches slugs with bounded concurrency. The returned posts
// keep path order.
func fetchDetails(ctx context.Context, opts Options, slugs []string) ([]snapshot.Post, []string, []error) {
	results := make([]*models.PostDetail, len(slugs))
	var (
		mu       sync.Mutex
		failures []error
	)

	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for i, slug := range slugs {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			raw, err := opts.Repo.GetByUID(ctx, opts.DocType, slug)
			if err == nil {
				var d models.PostDetail
				if d, err = opts.Normalizer.Detail(*raw); err == nil {
					results[i] = &d
					return nil
				}
			}
			opts.Logger.Warn("build: detail excluded", slog.String("slug", slug), slog.String("error", err.Error()))
			mu.Lock()
			failures = append(failures, fmt.Errorf("build: post %q: %w", slug, err))
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var (
		posts    []snapshot.Post
		excluded []string
	)
	for i, d := range results {
		if d == nil {
			excluded = append(excluded, slugs[i])
			continue
		}
		posts = append(posts, snapshot.Post{Slug: slugs[i], Detail: *d})
	}
	return posts, excluded, failures
}

// PostPath is the exported file of a detail page.
func PostPath(slug string) string {
	return path.Join("post", slug, "index.html")
}

// export writes the site pages and removes detail pages of earlier builds
// that are no longer pre-rendered.
func export(opts Options, snap *snapshot.Build) (int, int, error) {
	r := opts.Site
	if r == nil {
		var err error
		if r, err = site.New(); err != nil {
			return 0, 0, err
		}
	}
	out := opts.Output

	pages := map[string]func(*bytes.Buffer) error{
		"index.html": func(b *bytes.Buffer) error {
			return r.Home(b, site.HomeData{Posts: snap.Listing, HasMore: snap.NextPage != "", Cursor: snap.NextPage})
		},
		"404.html": func(b *bytes.Buffer) error { return r.NotFound(b) },
	}
	for _, p := range snap.Posts {
		pages[PostPath(p.Slug)] = func(b *bytes.Buffer) error { return r.Post(b, p.Detail) }
	}

	var errs []error
	written := 0
	for name, render := range pages {
		var buf bytes.Buffer
		if err := render(&buf); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := out.Write(name, buf.Bytes()); err != nil {
			errs = append(errs, fmt.Errorf("build: export %s: %w", name, err))
			continue
		}
		written++
	}

	removed := 0
	existing, err := out.List("")
	if err != nil {
		errs = append(errs, fmt.Errorf("build: list output: %w", err))
	}
	for _, f := range existing {
		if _, ok := pages[f.Path]; ok || !strings.HasPrefix(f.Path, "post/") {
			continue
		}
		if err := out.Delete(f.Path); err != nil {
			errs = append(errs, fmt.Errorf("build: remove %s: %w", f.Path, err))
			continue
		}
		removed++
	}
	return written, removed, errors.Join(errs...)
}

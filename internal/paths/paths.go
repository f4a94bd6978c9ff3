// Package paths decides which detail pages exist at build time and how the
// remaining slugs are resolved on first request.
package paths

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/starford/spacetraveling/internal/apperr"
	"github.com/starford/spacetraveling/internal/models"
	"github.com/starford/spacetraveling/internal/prismic"
)

// FallbackMode selects what happens to slugs outside the pre-rendered set.
type FallbackMode string

const (
	// FallbackTrue serves a placeholder while the page is generated.
	FallbackTrue FallbackMode = "true"
	// FallbackBlocking waits for the page to be generated.
	FallbackBlocking FallbackMode = "blocking"
	// FallbackFalse treats unknown slugs as not found.
	FallbackFalse FallbackMode = "false"
)

// DefaultRevalidate is the staleness window of a generated page.
const DefaultRevalidate = time.Hour

// FallbackPolicy is the runtime behavior for slugs outside the set.
type FallbackPolicy struct {
	Mode FallbackMode `json:"mode"`
	// Wait bounds how long a FallbackTrue request waits before the
	// placeholder is served.
	Wait       time.Duration `json:"wait"`
	Revalidate time.Duration `json:"revalidate"`
}

// StaticPathSet is the set of slugs pre-rendered by one build.
type StaticPathSet struct {
	Slugs    []string       `json:"slugs"`
	Fallback FallbackPolicy `json:"fallback"`
}

// Contains reports whether slug was pre-rendered.
func (s StaticPathSet) Contains(slug string) bool {
	return slices.Contains(s.Slugs, slug)
}

// Querier is the query half of the content repository client.
type Querier interface {
	Query(ctx context.Context, preds []prismic.Predicate, opts prismic.QueryOptions) (*models.RawPage, error)
}

// Enumerate queries one bounded page of documents of docType. pageSize
// decides how many detail pages are pre-rendered; every other valid slug
// falls to the fallback path. Records without a UID are left out and
// reported in the returned error alongside the usable set.
func Enumerate(ctx context.Context, q Querier, docType string, pageSize int, policy FallbackPolicy) (StaticPathSet, error) {
	set := StaticPathSet{Slugs: []string{}, Fallback: policy}
	page, err := q.Query(ctx,
		[]prismic.Predicate{prismic.At("document.type", docType)},
		prismic.QueryOptions{Fetch: []string{docType + ".title"}, PageSize: pageSize})
	if err != nil {
		return set, fmt.Errorf("paths: enumerate %s: %w", docType, err)
	}
	var errs []error
	for _, rec := range page.Results {
		if rec.UID == "" {
			errs = append(errs, apperr.Missing(rec.ID, "uid"))
			continue
		}
		if !set.Contains(rec.UID) {
			set.Slugs = append(set.Slugs, rec.UID)
		}
	}
	return set, errors.Join(errs...)
}

// Package prismic is the content repository client: predicate queries,
// single-record lookups and direct fetches of pagination cursors against the
// Prismic REST API v2.
package prismic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/starford/spacetraveling/internal/apperr"
	"github.com/starford/spacetraveling/internal/metrics"
	"github.com/starford/spacetraveling/internal/models"
)

// refTTL bounds how long the master ref is reused. Publishing moves the
// master ref, so it must not be cached for the process lifetime.
const refTTL = time.Minute

// maxResponseBytes caps a single API response.
const maxResponseBytes = 8 << 20

// Config configures a Client.
type Config struct {
	Endpoint    string
	AccessToken string
	Timeout     time.Duration
	MaxRetries  int
	// Orderings is passed through verbatim, e.g. "[document.first_publication_date desc]".
	Orderings  string
	Logger     *slog.Logger
	HTTPClient *http.Client
}

// QueryOptions are the per-query knobs.
type QueryOptions struct {
	Fetch     []string
	PageSize  int
	Page      int
	Orderings string
}

// Client talks to one repository.
type Client struct {
	endpoint  *url.URL
	token     string
	orderings string
	http      *http.Client
	logger    *slog.Logger

	mu    sync.Mutex
	ref   string
	refAt time.Time
	now   func() time.Time
}

// New creates a Client for cfg.Endpoint (the API root, e.g.
// https://repo.cdn.prismic.io/api/v2).
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("prismic: parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("prismic: endpoint must be absolute: %q", cfg.Endpoint)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = newHTTPClient(logger, timeout, cfg.MaxRetries)
	}
	return &Client{
		endpoint:  u,
		token:     cfg.AccessToken,
		orderings: cfg.Orderings,
		http:      hc,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Ref returns the current master ref.
func (c *Client) Ref(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.ref != "" && c.now().Sub(c.refAt) < refTTL {
		ref := c.ref
		c.mu.Unlock()
		return ref, nil
	}
	c.mu.Unlock()

	var api struct {
		Refs []struct {
			ID          string `json:"id"`
			Ref         string `json:"ref"`
			IsMasterRef bool   `json:"isMasterRef"`
		} `json:"refs"`
	}
	if err := c.getJSON(ctx, "ref", c.withToken(*c.endpoint), &api); err != nil {
		return "", err
	}
	for _, r := range api.Refs {
		if r.IsMasterRef {
			c.mu.Lock()
			c.ref, c.refAt = r.Ref, c.now()
			c.mu.Unlock()
			return r.Ref, nil
		}
	}
	return "", &apperr.FetchError{URL: redact(c.endpoint.String()), Err: errors.New("no master ref")}
}

// Query runs a predicate query and returns one page of raw records. When the
// repository rejects the cached master ref, the ref is refreshed and the
// query retried once.
func (c *Client) Query(ctx context.Context, preds []Predicate, opts QueryOptions) (*models.RawPage, error) {
	ref, err := c.Ref(ctx)
	if err != nil {
		return nil, err
	}
	page, err := c.search(ctx, ref, preds, opts)
	if !refRejected(err) {
		return page, err
	}
	fresh, ok := c.refreshRef(ctx, ref)
	if !ok {
		return nil, err
	}
	return c.search(ctx, fresh, preds, opts)
}

func (c *Client) search(ctx context.Context, ref string, preds []Predicate, opts QueryOptions) (*models.RawPage, error) {
	u := *c.endpoint
	u.Path += "/documents/search"
	q := url.Values{}
	q.Set("ref", ref)
	if len(preds) > 0 {
		q.Set("q", Encode(preds...))
	}
	if len(opts.Fetch) > 0 {
		q.Set("fetch", strings.Join(opts.Fetch, ","))
	}
	if opts.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(opts.PageSize))
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	orderings := opts.Orderings
	if orderings == "" {
		orderings = c.orderings
	}
	if orderings != "" {
		q.Set("orderings", orderings)
	}
	u.RawQuery = q.Encode()

	var page models.RawPage
	if err := c.getJSON(ctx, "query", c.withToken(u), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// refRejected reports whether err is the repository refusing a ref that is
// no longer published.
func refRejected(err error) bool {
	var fe *apperr.FetchError
	if !errors.As(err, &fe) {
		return false
	}
	switch fe.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusGone:
		return true
	}
	return false
}

// refreshRef drops stale from the cache and fetches the current master ref.
// ok is false when the ref did not move, so a retry would fail the same way.
func (c *Client) refreshRef(ctx context.Context, stale string) (string, bool) {
	c.mu.Lock()
	if c.ref == stale {
		c.ref = ""
	}
	c.mu.Unlock()

	fresh, err := c.Ref(ctx)
	if err != nil || fresh == stale {
		return "", false
	}
	c.logger.Info("prismic: master ref moved", slog.String("from", stale), slog.String("to", fresh))
	return fresh, true
}

// GetByUID looks up a single document of docType by its UID. It returns
// apperr.ErrNotFound when the repository has no such document.
func (c *Client) GetByUID(ctx context.Context, docType, uid string) (*models.RawRecord, error) {
	page, err := c.Query(ctx, []Predicate{At("my."+docType+".uid", uid)}, QueryOptions{PageSize: 1})
	if err != nil {
		return nil, err
	}
	if len(page.Results) == 0 {
		metrics.RepositoryRequests.WithLabelValues("get_by_uid", metrics.OutcomeNotFound).Inc()
		return nil, fmt.Errorf("prismic: %s %q: %w", docType, uid, apperr.ErrNotFound)
	}
	return &page.Results[0], nil
}

// FetchPage fetches a next_page cursor. The cursor must point at this
// repository over the endpoint's scheme. A cursor whose ref was unpublished
// is retried once with the current master ref.
func (c *Client) FetchPage(ctx context.Context, cursor string) (*models.RawPage, error) {
	u, err := url.Parse(cursor)
	if err != nil {
		return nil, fmt.Errorf("prismic: parse cursor: %w", err)
	}
	if !strings.EqualFold(u.Host, c.endpoint.Host) {
		return nil, fmt.Errorf("prismic: cursor host %q does not belong to repository %q", u.Host, c.endpoint.Host)
	}
	if !strings.EqualFold(u.Scheme, c.endpoint.Scheme) {
		return nil, fmt.Errorf("prismic: cursor scheme %q does not match repository scheme %q", u.Scheme, c.endpoint.Scheme)
	}

	var page models.RawPage
	err = c.getJSON(ctx, "fetch_page", c.withToken(*u), &page)
	if err == nil {
		return &page, nil
	}
	q := u.Query()
	stale := q.Get("ref")
	if stale == "" || !refRejected(err) {
		return nil, err
	}
	fresh, ok := c.refreshRef(ctx, stale)
	if !ok {
		return nil, err
	}
	q.Set("ref", fresh)
	u.RawQuery = q.Encode()
	page = models.RawPage{}
	if err := c.getJSON(ctx, "fetch_page", c.withToken(*u), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) withToken(u url.URL) string {
	if c.token == "" {
		return u.String()
	}
	q := u.Query()
	if q.Get("access_token") == "" {
		q.Set("access_token", c.token)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) getJSON(ctx context.Context, op, rawURL string, v any) error {
	start := time.Now()
	defer func() {
		metrics.RepositoryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("prismic: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RepositoryRequests.WithLabelValues(op, metrics.OutcomeError).Inc()
		return &apperr.FetchError{URL: redact(rawURL), Err: c.redactErr(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.RepositoryRequests.WithLabelValues(op, metrics.OutcomeError).Inc()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &apperr.FetchError{URL: redact(rawURL), StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(v); err != nil {
		metrics.RepositoryRequests.WithLabelValues(op, metrics.OutcomeError).Inc()
		return &apperr.FetchError{URL: redact(rawURL), Err: fmt.Errorf("decode response: %w", err)}
	}
	metrics.RepositoryRequests.WithLabelValues(op, metrics.OutcomeOK).Inc()
	c.logger.Debug("prismic: request", slog.String("op", op), slog.Duration("took", time.Since(start)))
	return nil
}

// redact strips the access token from URLs that end up in errors and logs.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("access_token") {
		q.Set("access_token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// redactedError hides the access token that transport errors echo back as
// part of the request URL.
type redactedError struct {
	err   error
	token string
}

func (e redactedError) Error() string {
	return strings.ReplaceAll(e.err.Error(), e.token, "REDACTED")
}

func (e redactedError) Unwrap() error {
	return e.err
}

func (c *Client) redactErr(err error) error {
	if c.token == "" {
		return err
	}
	return redactedError{err: err, token: c.token}
}

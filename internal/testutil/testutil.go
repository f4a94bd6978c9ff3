// Package testutil provides shared test helpers: an in-memory content
// repository and a temporary snapshot database.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"sync"
	"testing"

	"github.com/starford/spacetraveling/internal/apperr"
	"github.com/starford/spacetraveling/internal/models"
	"github.com/starford/spacetraveling/internal/prismic"
	"github.com/starford/spacetraveling/internal/snapshot"
)

const pageBase = "https://fake.cdn.prismic.io/api/v2/documents/search"

// Repository is an in-memory content repository. Records are returned in
// insertion order.
type Repository struct {
	mu      sync.Mutex
	records []models.RawRecord
	err     error
	calls   map[string]int

	// Gate, when set, blocks GetByUID until it is closed or ctx ends.
	Gate chan struct{}
}

// NewRepository returns a repository holding records.
func NewRepository(records ...models.RawRecord) *Repository {
	return &Repository{records: records, calls: make(map[string]int)}
}

// SetErr makes every following call fail with err (nil clears it).
func (r *Repository) SetErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Add appends a record.
func (r *Repository) Add(rec models.RawRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// Remove unpublishes the record with uid.
func (r *Repository) Remove(uid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rec := range r.records {
		if rec.UID == uid {
			r.records = append(r.records[:i], r.records[i+1:]...)
			return
		}
	}
}

// Calls returns how many times op ("query", "fetch_page", "get_by_uid") ran.
func (r *Repository) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// Query returns page opts.Page of size opts.PageSize (default 20).
func (r *Repository) Query(_ context.Context, _ []prismic.Predicate, opts prismic.QueryOptions) (*models.RawPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["query"]++
	if r.err != nil {
		return nil, r.err
	}
	size, n := opts.PageSize, opts.Page
	if size <= 0 {
		size = 20
	}
	if n <= 0 {
		n = 1
	}
	return r.page(n, size), nil
}

// FetchPage resolves a cursor produced by Query or FetchPage.
func (r *Repository) FetchPage(_ context.Context, cursor string) (*models.RawPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["fetch_page"]++
	if r.err != nil {
		return nil, r.err
	}
	u, err := url.Parse(cursor)
	if err != nil {
		return nil, fmt.Errorf("testutil: bad cursor %q: %w", cursor, err)
	}
	n, _ := strconv.Atoi(u.Query().Get("page"))
	size, _ := strconv.Atoi(u.Query().Get("pageSize"))
	if n <= 0 || size <= 0 {
		return nil, fmt.Errorf("testutil: bad cursor %q", cursor)
	}
	return r.page(n, size), nil
}

// GetByUID returns the record with uid or apperr.ErrNotFound.
func (r *Repository) GetByUID(ctx context.Context, _ string, uid string) (*models.RawRecord, error) {
	r.mu.Lock()
	r.calls["get_by_uid"]++
	gate := r.Gate
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, rec := range r.records {
		if rec.UID == uid {
			rec := rec
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("document %q: %w", uid, apperr.ErrNotFound)
}

func (r *Repository) page(n, size int) *models.RawPage {
	total := len(r.records)
	pages := (total + size - 1) / size
	start := min((n-1)*size, total)
	end := min(start+size, total)
	p := &models.RawPage{
		Page:             n,
		ResultsPerPage:   size,
		TotalResultsSize: total,
		TotalPages:       pages,
		Results:          append([]models.RawRecord{}, r.records[start:end]...),
	}
	if n < pages {
		next := Cursor(n+1, size)
		p.NextPage = &next
	}
	return p
}

// Cursor is the next_page URL the fake repository issues for page n.
func Cursor(n, size int) string {
	return fmt.Sprintf("%s?page=%d&pageSize=%d", pageBase, n, size)
}

// Post builds a complete, well-formed post record.
func Post(uid, title string) models.RawRecord {
	first := "2021-03-15T19:25:28+0000"
	last := "2021-03-25T19:27:35+0000"
	return models.RawRecord{
		ID:                   "id-" + uid,
		UID:                  uid,
		Type:                 "posts",
		FirstPublicationDate: &first,
		LastPublicationDate:  &last,
		Data: map[string]json.RawMessage{
			"title":    mustJSON([]map[string]any{{"type": "heading1", "text": title, "spans": []any{}}}),
			"subtitle": mustJSON([]map[string]any{{"type": "paragraph", "text": "Sobre " + title, "spans": []any{}}}),
			"author":   mustJSON("Joseph Oliveira"),
			"banner":   mustJSON(map[string]any{"url": "https://images.prismic.io/banner-" + uid + ".png"}),
			"content": mustJSON([]map[string]any{{
				"heading": "Proin et varius",
				"body": []map[string]any{{
					"type":  "paragraph",
					"text":  "Lorem ipsum dolor sit amet",
					"spans": []map[string]any{{"start": 0, "end": 5, "type": "strong"}},
				}},
			}}),
		},
	}
}

// Broken builds a record without its required title.
func Broken(uid string) models.RawRecord {
	rec := Post(uid, "broken")
	delete(rec.Data, "title")
	return rec
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// TestSnapshot creates a temporary snapshot database that is automatically
// cleaned up.
func TestSnapshot(t *testing.T) *snapshot.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "spacetraveling-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := snapshot.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

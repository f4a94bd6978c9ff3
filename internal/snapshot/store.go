package snapshot

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/spacetraveling/internal/apperr"
	"github.com/starford/spacetraveling/internal/checksum"
	"github.com/starford/spacetraveling/internal/models"
)

// Store is the snapshot persistence surface used by the build pipeline and
// the server.
type Store interface {
	SaveBuild(b *Build) (int64, error)
	LatestBuild() (*Build, error)
	LatestID() (int64, error)
	Prune(keep int) error
	Close() error
}

var _ Store = (*DB)(nil)

// Build is one completed build.
type Build struct {
	ID      int64
	BuiltAt time.Time
	// NextPage is the listing cursor; "" when the listing is exhausted.
	NextPage string
	Listing  []models.PostSummary
	// Posts holds the pre-rendered details in path order.
	Posts []Post
}

// Post is one pre-rendered detail page.
type Post struct {
	Slug     string
	Detail   models.PostDetail
	Checksum string
}

// Slugs returns the pre-rendered slugs in order.
func (b *Build) Slugs() []string {
	out := make([]string, len(b.Posts))
	for i, p := range b.Posts {
		out[i] = p.Slug
	}
	return out
}

// Details indexes the pre-rendered details by slug.
func (b *Build) Details() map[string]models.PostDetail {
	out := make(map[string]models.PostDetail, len(b.Posts))
	for _, p := range b.Posts {
		out[p.Slug] = p.Detail
	}
	return out
}

// SaveBuild stores b in one transaction and returns its id. Post checksums
// are computed from the stored detail JSON.
func (db *DB) SaveBuild(b *Build) (int64, error) {
	listing := b.Listing
	if listing == nil {
		listing = []models.PostSummary{}
	}
	listingJSON, err := json.Marshal(listing)
	if err != nil {
		return 0, fmt.Errorf("snapshot: encode listing: %w", err)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("snapshot: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	res, err := tx.Exec(`INSERT INTO builds (built_at, next_page, listing_json) VALUES (?, ?, ?)`,
		b.BuiltAt.UTC(), b.NextPage, string(listingJSON))
	if err != nil {
		return 0, fmt.Errorf("snapshot: insert build: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("snapshot: build id: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO posts (build_id, slug, position, detail_json, checksum) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("snapshot: prepare post insert: %w", err)
	}
	defer stmt.Close()
	for i := range b.Posts {
		p := &b.Posts[i]
		data, err := json.Marshal(p.Detail)
		if err != nil {
			return 0, fmt.Errorf("snapshot: encode post %q: %w", p.Slug, err)
		}
		p.Checksum = checksum.Sum(data)
		if _, err := stmt.Exec(id, p.Slug, i, string(data), p.Checksum); err != nil {
			return 0, fmt.Errorf("snapshot: insert post %q: %w", p.Slug, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("snapshot: commit: %w", err)
	}
	b.ID = id
	return id, nil
}

// LatestID returns the id of the newest build, or 0 when there is none.
func (db *DB) LatestID() (int64, error) {
	var id sql.NullInt64
	if err := db.conn.QueryRow(`SELECT MAX(id) FROM builds`).Scan(&id); err != nil {
		return 0, fmt.Errorf("snapshot: latest id: %w", err)
	}
	return id.Int64, nil
}

// LatestBuild loads the newest build. It returns apperr.ErrNotFound when no
// build has been saved yet.
func (db *DB) LatestBuild() (*Build, error) {
	var (
		b           Build
		listingJSON string
	)
	err := db.conn.QueryRow(`SELECT id, built_at, next_page, listing_json FROM builds ORDER BY id DESC LIMIT 1`).
		Scan(&b.ID, &b.BuiltAt, &b.NextPage, &listingJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot: no build: %w", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: latest build: %w", err)
	}
	if err := json.Unmarshal([]byte(listingJSON), &b.Listing); err != nil {
		return nil, fmt.Errorf("snapshot: decode listing: %w", err)
	}

	rows, err := db.conn.Query(`SELECT slug, detail_json, checksum FROM posts WHERE build_id = ? ORDER BY position`, b.ID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: posts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p    Post
			data string
		)
		if err := rows.Scan(&p.Slug, &data, &p.Checksum); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &p.Detail); err != nil {
			return nil, fmt.Errorf("snapshot: decode post %q: %w", p.Slug, err)
		}
		b.Posts = append(b.Posts, p)
	}
	return &b, rows.Err()
}

// Prune deletes all but the newest keep builds.
func (db *DB) Prune(keep int) error {
	if keep < 1 {
		keep = 1
	}
	_, err := db.conn.Exec(`DELETE FROM builds WHERE id NOT IN (SELECT id FROM builds ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return fmt.Errorf("snapshot: prune: %w", err)
	}
	return nil
}

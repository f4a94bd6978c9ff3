package pagination

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/starford/spacetraveling/internal/metrics"
	"github.com/starford/spacetraveling/internal/models"
)

// Sessions holds one Controller per mounted listing view. A view that is
// evicted, expires or is closed has its controller discarded, so a fetch
// that resolves afterwards is ignored.
type Sessions struct {
	fetcher PageFetcher
	opts    []Option
	lru     *expirable.LRU[string, *Controller]
}

// NewSessions creates a registry holding at most size sessions for ttl each.
func NewSessions(fetcher PageFetcher, size int, ttl time.Duration, opts ...Option) *Sessions {
	s := &Sessions{fetcher: fetcher, opts: opts}
	s.lru = expirable.NewLRU[string, *Controller](size, func(_ string, c *Controller) {
		c.Discard()
		metrics.PaginationSessions.Dec()
	}, ttl)
	return s
}

// Open registers a new listing view seeded with the build-time page.
func (s *Sessions) Open(initial []models.PostSummary, cursor string) (string, *Controller) {
	id := uuid.NewString()
	c := New(s.fetcher, initial, cursor, s.opts...)
	s.lru.Add(id, c)
	metrics.PaginationSessions.Inc()
	return id, c
}

// Get returns the controller of a live session and restarts its TTL, so a
// view in use outlives idle ones.
func (s *Sessions) Get(id string) (*Controller, bool) {
	c, ok := s.lru.Get(id)
	if !ok {
		return nil, false
	}
	s.lru.Add(id, c)
	return c, true
}

// Close discards a session.
func (s *Sessions) Close(id string) {
	s.lru.Remove(id)
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	return s.lru.Len()
}

// Purge discards every session.
func (s *Sessions) Purge() {
	s.lru.Purge()
}

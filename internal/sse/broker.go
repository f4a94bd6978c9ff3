// Package sse streams post state changes to open pages. A fallback page
// watches its own slug and reloads once the post is ready; the listing
// watches everything and learns about new builds.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event names on the stream.
const (
	PostReady       = "post.ready"
	PostNotFound    = "post.notfound"
	PostRevalidated = "post.revalidated"
	SiteUpdated     = "site.updated"
	BuildLoaded     = "build.loaded"
)

// retryMillis is the reconnect delay suggested to EventSource clients.
const retryMillis = 3000

// PostEvent is the payload of the post.* events.
type PostEvent struct {
	Slug string `json:"slug"`
}

// BuildEvent is the payload of build.loaded.
type BuildEvent struct {
	Build int64 `json:"build"`
	Posts int   `json:"posts"`
}

type message struct {
	event string
	// slug scopes post events; "" reaches every subscriber.
	slug string
	data any
}

type subscriber struct {
	slug string
	ch   chan []byte
}

// Broker fans events out to subscribers. One goroutine owns the subscriber
// set, the frame sequence and the site.updated throttle; the exported
// methods only talk to it over channels.
type Broker struct {
	siteMin time.Duration

	joinCh  chan subscriber
	leaveCh chan chan []byte
	msgCh   chan message
	countCh chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. site.updated is sent at most once per
// siteThrottle however many posts change.
func NewBroker(siteThrottle time.Duration) *Broker {
	if siteThrottle <= 0 {
		siteThrottle = 2 * time.Second
	}
	b := &Broker{
		siteMin: siteThrottle,
		joinCh:  make(chan subscriber),
		leaveCh: make(chan chan []byte),
		msgCh:   make(chan message, 256),
		countCh: make(chan chan int),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	// channel -> watched slug ("" watches all posts)
	subs := make(map[chan []byte]string)
	var seq uint64
	var lastSite time.Time

	deliver := func(m message) {
		payload, err := json.Marshal(m.data)
		if err != nil {
			return
		}
		seq++
		frame := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, m.event, payload))
		for ch, watch := range subs {
			if m.slug != "" && watch != "" && watch != m.slug {
				continue
			}
			select {
			case ch <- frame:
			default:
				// A slow page misses the frame rather than stalling the rest.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range subs {
				close(ch)
			}
			return

		case s := <-b.joinCh:
			subs[s.ch] = s.slug

		case ch := <-b.leaveCh:
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}

		case m := <-b.msgCh:
			deliver(m)
			if m.slug == "" {
				continue
			}
			if now := time.Now(); now.Sub(lastSite) >= b.siteMin {
				lastSite = now
				deliver(message{event: SiteUpdated, data: struct{}{}})
			}

		case resp := <-b.countCh:
			resp <- len(subs)
		}
	}
}

// Close stops the broker and closes every subscriber channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a page. A non-empty slug limits post events to that
// post; site-wide events always arrive.
func (b *Broker) Subscribe(slug string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.joinCh <- subscriber{slug: slug, ch: ch}:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a page and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.leaveCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of open streams.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countCh <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

func (b *Broker) send(m message) {
	if b.closed.Load() {
		return
	}
	select {
	case b.msgCh <- m:
	case <-b.stopped:
	}
}

// PublishPostEvent reports a resolver state change for slug. Its signature
// matches the resolver's change hook. Unknown kinds are dropped.
func (b *Broker) PublishPostEvent(kind, slug string) {
	switch kind {
	case PostReady, PostNotFound, PostRevalidated:
	default:
		return
	}
	if slug == "" {
		return
	}
	b.send(message{event: kind, slug: slug, data: PostEvent{Slug: slug}})
}

// PublishBuild announces that the server switched to a new build.
func (b *Broker) PublishBuild(id int64, posts int) {
	b.send(message{event: BuildLoaded, data: BuildEvent{Build: id, Posts: posts}})
}

// ServeHTTP is the stream endpoint (GET /api/events[?slug=]).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "retry: %d\n\n", retryMillis)
	flusher.Flush()

	ch := b.Subscribe(r.URL.Query().Get("slug"))
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(frame)
			flusher.Flush()
		}
	}
}

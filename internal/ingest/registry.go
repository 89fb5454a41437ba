package ingest

import (
	"log"
	"sync"
	"time"

	"github.com/scrollscope/backend/internal/config"
	"github.com/scrollscope/backend/internal/scroll"
	"github.com/scrollscope/backend/internal/track"
	"github.com/scrollscope/backend/internal/ws"
)

// Registry owns all live feeds and reaps targets that stop ticking.
// It implements ws.FeedFactory.
type Registry struct {
	store       *track.Store
	broadcaster *ws.Broadcaster

	mu    sync.RWMutex // protects cfg, feeds, events bookkeeping
	cfg   *config.Config
	feeds map[string]*Feed

	events      chan<- track.Event // nil disables stats event emission
	dropped     int64              // events dropped since last log
	lastDropLog time.Time

	done     chan struct{}
	stopOnce sync.Once
}

func NewRegistry(cfg *config.Config, store *track.Store, broadcaster *ws.Broadcaster) *Registry {
	r := &Registry{
		store:       store,
		broadcaster: broadcaster,
		cfg:         cfg,
		feeds:       make(map[string]*Feed),
		done:        make(chan struct{}),
	}

	go r.reapLoop(cfg.Feed.SweepInterval)

	return r
}

// SetConfig replaces the registry's config pointer. New values apply to
// subsequent attaches and sweeps; detectors already running keep the
// latencies they were attached with. Server-level settings (port, host,
// auth) are NOT applied — those require a full restart.
func (r *Registry) SetConfig(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
}

// SetEvents configures a channel for target lifecycle events. The
// registry sends events on attach, gesture, and detach. Pass nil to
// disable. Must be set before feeds connect.
func (r *Registry) SetEvents(ch chan<- track.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = ch
}

func (r *Registry) config() *config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// NewFeed creates and registers a session for one page connection.
func (r *Registry) NewFeed(remoteAddr string) ws.FeedSession {
	f := newFeed(r, remoteAddr)

	r.mu.Lock()
	r.feeds[f.id] = f
	count := len(r.feeds)
	r.mu.Unlock()

	log.Printf("Registered feed %s (%d live)", f.id, count)
	return f
}

func (r *Registry) removeFeed(id string) {
	r.mu.Lock()
	_, ok := r.feeds[id]
	if ok {
		delete(r.feeds, id)
	}
	count := len(r.feeds)
	r.mu.Unlock()

	if ok {
		log.Printf("Unregistered feed %s (%d live)", id, count)
	}
}

// FeedCount returns the number of live feeds.
func (r *Registry) FeedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.feeds)
}

// emitEvent sends a target event to the stats channel if configured.
// Uses non-blocking send to avoid stalling ingest if the consumer falls
// behind. Dropped events are counted and logged at most once per 10
// seconds to avoid log spam under sustained backpressure.
func (r *Registry) emitEvent(ev track.Event) {
	r.mu.Lock()
	ch := r.events
	if ch == nil {
		r.mu.Unlock()
		return
	}

	select {
	case ch <- ev:
		r.mu.Unlock()
	default:
		r.dropped++
		now := time.Now()
		if r.lastDropLog.IsZero() || now.Sub(r.lastDropLog) >= 10*time.Second {
			log.Printf("Stats events dropped: %d (channel full)", r.dropped)
			r.dropped = 0
			r.lastDropLog = now
		}
		r.mu.Unlock()
	}
}

func (r *Registry) reapLoop(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweep(time.Now())
		}
	}
}

// sweep detaches targets that have not ticked within TargetStaleAfter.
// Document targets are exempt: they live as long as their feed's
// socket, which the server tears down on disconnect.
func (r *Registry) sweep(now time.Time) {
	cfg := r.config()
	staleAfter := cfg.Feed.TargetStaleAfter
	if staleAfter <= 0 {
		return
	}

	r.mu.RLock()
	feeds := make([]*Feed, 0, len(r.feeds))
	for _, f := range r.feeds {
		feeds = append(feeds, f)
	}
	r.mu.RUnlock()

	for _, f := range feeds {
		f.mu.Lock()
		var stale []string
		for id, a := range f.attachments {
			if id == scroll.DocumentTargetID {
				continue
			}
			last := a.state.AttachedAt
			if !a.state.LastTickAt.IsZero() {
				last = a.state.LastTickAt
			}
			if now.Sub(last) > staleAfter {
				stale = append(stale, id)
			}
		}
		f.mu.Unlock()

		for _, id := range stale {
			log.Printf("feed %s: target %s stale, detaching", f.id, id)
			f.detachTarget(id)
		}
	}
}

// Stop halts the reaper and closes every live feed. Idempotent.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)

		r.mu.RLock()
		feeds := make([]*Feed, 0, len(r.feeds))
		for _, f := range r.feeds {
			feeds = append(feeds, f)
		}
		r.mu.RUnlock()

		for _, f := range feeds {
			f.Close()
		}
	})
}

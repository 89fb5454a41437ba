package stats

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/scrollscope/backend/internal/scroll"
	"github.com/scrollscope/backend/internal/track"
)

const saveInterval = 30 * time.Second

// Tracker observes target lifecycle and gesture events and maintains
// aggregate stats. It receives events from the feed registry via a
// channel and periodically persists the accumulated stats to disk.
type Tracker struct {
	persist *Store
	stats   *Stats
	events  chan track.Event
	mu      sync.Mutex
	dirty   bool
}

// NewTracker creates a Tracker backed by the given persistence store.
// It loads existing stats from disk and returns a send-only channel for
// the feed registry to deliver events on. The caller must run Run in a
// goroutine.
func NewTracker(persist *Store) (*Tracker, chan<- track.Event, error) {
	stats, err := persist.Load()
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan track.Event, 256)
	t := &Tracker{
		persist: persist,
		stats:   stats,
		events:  ch,
	}
	return t, ch, nil
}

// Run processes events and periodically saves dirty stats to disk.
// It blocks until ctx is cancelled, then performs a final save.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.save()
			return
		case ev := <-t.events:
			t.processEvent(ev)
		case <-ticker.C:
			if t.dirty {
				t.save()
			}
		}
	}
}

// Stats returns a deep copy of the current aggregate stats.
func (t *Tracker) Stats() *Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats.clone()
}

func (t *Tracker) processEvent(ev track.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Type {
	case track.EventAttached:
		t.stats.TargetsAttached++
		if ev.ActiveCount > t.stats.MaxConcurrentTargets {
			t.stats.MaxConcurrentTargets = ev.ActiveCount
		}

	case track.EventGesture:
		// A gesture is counted once, when it settles. The scrollstart
		// edge only marks the target as scrolling.
		if ev.Transition == nil || ev.Transition.Name != scroll.ScrollStop {
			return
		}

		t.stats.TotalGestures++
		switch ev.Transition.Direction {
		case scroll.DirectionUp:
			t.stats.GesturesUp++
		case scroll.DirectionDown:
			t.stats.GesturesDown++
		}

		dist := ev.Transition.Distance()
		t.stats.TotalDistance += dist
		if dist > t.stats.LongestGesture {
			t.stats.LongestGesture = dist
		}

		if ev.State != nil {
			if ev.State.Page != "" {
				t.stats.GesturesPerPage[ev.State.Page]++
				t.stats.DistinctPages = len(t.stats.GesturesPerPage)
			}
			t.stats.GesturesPerTarget[ev.State.TargetID]++
		}

	case track.EventDetached:
		// Nothing aggregate to update; counters are monotonic.
		return
	}

	t.dirty = true
}

func (t *Tracker) save() {
	t.mu.Lock()
	stats := t.stats.clone()
	t.dirty = false
	t.mu.Unlock()

	if err := t.persist.Save(stats); err != nil {
		log.Printf("Failed to save stats: %v", err)
	}
}

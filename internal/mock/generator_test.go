package mock

import (
	"context"
	"testing"
	"time"

	"github.com/scrollscope/backend/internal/config"
	"github.com/scrollscope/backend/internal/ingest"
	"github.com/scrollscope/backend/internal/track"
	"github.com/scrollscope/backend/internal/ws"
)

func newTestRegistry(t *testing.T) (*ingest.Registry, *track.Store) {
	t.Helper()
	cfg := &config.Config{
		Detect: config.DetectConfig{
			StartLatency: 50 * time.Millisecond,
			StopLatency:  50 * time.Millisecond,
		},
		Feed: config.FeedConfig{
			TargetStaleAfter:  time.Minute,
			SweepInterval:     time.Hour,
			MaxTargetsPerFeed: 8,
		},
	}
	store := track.NewStore()
	broadcaster := ws.NewBroadcaster(store, 10*time.Millisecond, time.Hour, 0)
	t.Cleanup(broadcaster.Stop)
	registry := ingest.NewRegistry(cfg, store, broadcaster)
	t.Cleanup(registry.Stop)
	return registry, store
}

func TestGeneratorPopulatesStore(t *testing.T) {
	registry, store := newTestRegistry(t)
	gen := NewGenerator(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen.Start(ctx)

	// Start() registers all feeds synchronously: each mock feed owns a
	// document target, and the bouncer also attaches a sidebar.
	if got := registry.FeedCount(); got != 4 {
		t.Errorf("FeedCount = %d, want 4", got)
	}
	if got := store.Count(); got != 5 {
		t.Errorf("store count = %d, want 5 (4 documents + 1 sidebar)", got)
	}

	for _, s := range store.GetAll() {
		if s.Page == "" {
			t.Errorf("target %s has no page; hello not applied", s.ID)
		}
	}
}

func TestGeneratorProducesTicksAndGestures(t *testing.T) {
	registry, store := newTestRegistry(t)
	gen := NewGenerator(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen.Start(ctx)

	// Long enough for several bursts and their quiet periods.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var ticks, gestures int
		for _, s := range store.GetAll() {
			ticks += s.TickCount
			gestures += s.GestureCount
		}
		if ticks > 0 && gestures > 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}

	t.Fatal("generator produced no settled gestures within the deadline")
}

func TestGeneratorClosesFeedsOnCancel(t *testing.T) {
	registry, store := newTestRegistry(t)
	gen := NewGenerator(registry)

	ctx, cancel := context.WithCancel(context.Background())
	gen.Start(ctx)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if registry.FeedCount() == 0 && store.Count() == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatalf("feeds not closed after cancel: %d feeds, %d targets",
		registry.FeedCount(), store.Count())
}

package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/scrollscope/backend/internal/config"
	"github.com/scrollscope/backend/internal/scroll"
	"github.com/scrollscope/backend/internal/track"
	"github.com/scrollscope/backend/internal/ws"
)

const testLatency = 60 * time.Millisecond

// settleWait is comfortably past the stop debounce window.
const settleWait = 4 * testLatency

func testConfig() *config.Config {
	return &config.Config{
		Detect: config.DetectConfig{
			StartLatency: testLatency,
			StopLatency:  testLatency,
		},
		Feed: config.FeedConfig{
			TargetStaleAfter:  time.Minute,
			SweepInterval:     time.Hour,
			MaxTargetsPerFeed: 8,
		},
	}
}

type testHarness struct {
	store       *track.Store
	broadcaster *ws.Broadcaster
	registry    *Registry
	events      chan track.Event
}

func newHarness(t *testing.T, cfg *config.Config) *testHarness {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	store := track.NewStore()
	broadcaster := ws.NewBroadcaster(store, 10*time.Millisecond, time.Hour, 0)
	t.Cleanup(broadcaster.Stop)

	registry := NewRegistry(cfg, store, broadcaster)
	t.Cleanup(registry.Stop)

	events := make(chan track.Event, 64)
	registry.SetEvents(events)

	return &testHarness{
		store:       store,
		broadcaster: broadcaster,
		registry:    registry,
		events:      events,
	}
}

// drainEvents collects events already emitted without blocking.
func (h *testHarness) drainEvents() []track.Event {
	var out []track.Event
	for {
		select {
		case ev := <-h.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func mustMessage(t *testing.T, typ ws.MessageType, payload interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(ws.Envelope{Type: typ, Payload: raw})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestNewFeedAutoAttachesDocument(t *testing.T) {
	h := newHarness(t, nil)

	f := h.registry.NewFeed("10.0.0.1:1234")
	defer f.Close()

	key := track.Key(f.ID(), scroll.DocumentTargetID)
	state, ok := h.store.Get(key)
	if !ok {
		t.Fatal("document target not in store after feed creation")
	}
	if state.Phase != track.Idle {
		t.Errorf("Phase = %v, want Idle", state.Phase)
	}
	if state.FeedID != f.ID() {
		t.Errorf("FeedID = %q, want %q", state.FeedID, f.ID())
	}

	evs := h.drainEvents()
	if len(evs) != 1 || evs[0].Type != track.EventAttached {
		t.Errorf("expected one attach event, got %+v", evs)
	}
}

func TestHandleHelloStampsPage(t *testing.T) {
	h := newHarness(t, nil)
	f := h.registry.NewFeed("addr")
	defer f.Close()

	if err := f.HandleMessage(mustMessage(t, ws.MsgHello, ws.HelloPayload{Page: "https://example.com/app"})); err != nil {
		t.Fatalf("hello error: %v", err)
	}

	state, _ := h.store.Get(track.Key(f.ID(), scroll.DocumentTargetID))
	if state.Page != "https://example.com/app" {
		t.Errorf("Page = %q, want stamped URL", state.Page)
	}
}

func TestTickSequenceProducesGesture(t *testing.T) {
	h := newHarness(t, nil)
	f := h.registry.NewFeed("addr")
	defer f.Close()
	h.drainEvents()

	tick := func(offset float64) {
		t.Helper()
		if err := f.HandleMessage(mustMessage(t, ws.MsgTick, ws.TickPayload{Offset: offset})); err != nil {
			t.Fatalf("tick error: %v", err)
		}
	}

	tick(0)
	time.Sleep(testLatency / 3)
	tick(40)
	time.Sleep(testLatency / 3)
	tick(90)
	time.Sleep(settleWait)

	key := track.Key(f.ID(), scroll.DocumentTargetID)
	state, _ := h.store.Get(key)
	if state.GestureCount != 1 {
		t.Fatalf("GestureCount = %d, want 1", state.GestureCount)
	}
	if state.Phase != track.Idle {
		t.Errorf("Phase = %v, want Idle after settle", state.Phase)
	}
	if state.LastDirection != "down" {
		t.Errorf("LastDirection = %q, want down", state.LastDirection)
	}
	if state.TotalDistance != 90 {
		t.Errorf("TotalDistance = %v, want 90", state.TotalDistance)
	}
	if state.TickCount != 3 {
		t.Errorf("TickCount = %d, want 3", state.TickCount)
	}

	var starts, stops int
	for _, ev := range h.drainEvents() {
		if ev.Type != track.EventGesture {
			continue
		}
		switch ev.Transition.Name {
		case scroll.ScrollStart:
			starts++
		case scroll.ScrollStop:
			stops++
			if !ev.Transition.Measured() {
				t.Error("scrollstop should carry offsets")
			}
			if *ev.Transition.StartY != 0 || *ev.Transition.EndY != 90 {
				t.Errorf("scrollstop offsets = (%v, %v), want (0, 90)",
					*ev.Transition.StartY, *ev.Transition.EndY)
			}
		}
	}
	if starts != 1 || stops != 1 {
		t.Errorf("gesture events = %d starts / %d stops, want 1/1", starts, stops)
	}
}

func TestTickUnattachedTargetErrors(t *testing.T) {
	h := newHarness(t, nil)
	f := h.registry.NewFeed("addr")
	defer f.Close()

	err := f.HandleMessage(mustMessage(t, ws.MsgTick, ws.TickPayload{Target: "sidebar", Offset: 10}))
	if err == nil {
		t.Fatal("tick for unattached target should error")
	}
}

func TestAttachCapEnforced(t *testing.T) {
	cfg := testConfig()
	cfg.Feed.MaxTargetsPerFeed = 2 // document consumes one slot
	h := newHarness(t, cfg)
	f := h.registry.NewFeed("addr")
	defer f.Close()

	if err := f.HandleMessage(mustMessage(t, ws.MsgAttach, ws.AttachPayload{Target: "sidebar"})); err != nil {
		t.Fatalf("first attach error: %v", err)
	}
	if err := f.HandleMessage(mustMessage(t, ws.MsgAttach, ws.AttachPayload{Target: "comments"})); err == nil {
		t.Fatal("attach past the cap should error")
	}

	// Re-attaching an existing target is a no-op, not a cap violation.
	if err := f.HandleMessage(mustMessage(t, ws.MsgAttach, ws.AttachPayload{Target: "sidebar"})); err != nil {
		t.Errorf("re-attach should be a no-op, got %v", err)
	}
}

func TestAttachLatencyOverrides(t *testing.T) {
	cfg := testConfig()
	cfg.Detect.StopLatency = time.Hour // default would never settle in this test
	h := newHarness(t, cfg)
	f := h.registry.NewFeed("addr")
	defer f.Close()

	msg := mustMessage(t, ws.MsgAttach, ws.AttachPayload{
		Target:         "sidebar",
		StartLatencyMs: int(testLatency / time.Millisecond),
		StopLatencyMs:  int(testLatency / time.Millisecond),
	})
	if err := f.HandleMessage(msg); err != nil {
		t.Fatalf("attach error: %v", err)
	}

	if err := f.HandleMessage(mustMessage(t, ws.MsgTick, ws.TickPayload{Target: "sidebar", Offset: 50})); err != nil {
		t.Fatalf("tick error: %v", err)
	}
	time.Sleep(settleWait)

	state, _ := h.store.Get(track.Key(f.ID(), "sidebar"))
	if state.GestureCount != 1 {
		t.Errorf("override latency did not settle: GestureCount = %d, want 1", state.GestureCount)
	}
}

func TestDetachRemovesTarget(t *testing.T) {
	h := newHarness(t, nil)
	f := h.registry.NewFeed("addr")
	defer f.Close()

	if err := f.HandleMessage(mustMessage(t, ws.MsgAttach, ws.AttachPayload{Target: "sidebar"})); err != nil {
		t.Fatal(err)
	}
	h.drainEvents()

	if err := f.HandleMessage(mustMessage(t, ws.MsgDetach, ws.DetachPayload{Target: "sidebar"})); err != nil {
		t.Fatalf("detach error: %v", err)
	}
	if _, ok := h.store.Get(track.Key(f.ID(), "sidebar")); ok {
		t.Error("detached target still in store")
	}

	evs := h.drainEvents()
	if len(evs) != 1 || evs[0].Type != track.EventDetached {
		t.Errorf("expected one detach event, got %+v", evs)
	}

	// Idempotent: a second detach is a no-op.
	if err := f.HandleMessage(mustMessage(t, ws.MsgDetach, ws.DetachPayload{Target: "sidebar"})); err != nil {
		t.Errorf("repeat detach should be a no-op, got %v", err)
	}
	if evs := h.drainEvents(); len(evs) != 0 {
		t.Errorf("repeat detach emitted events: %+v", evs)
	}
}

func TestCloseRemovesAllTargets(t *testing.T) {
	h := newHarness(t, nil)
	f := h.registry.NewFeed("addr")

	if err := f.HandleMessage(mustMessage(t, ws.MsgAttach, ws.AttachPayload{Target: "sidebar"})); err != nil {
		t.Fatal(err)
	}

	f.Close()

	if h.store.Count() != 0 {
		t.Errorf("store still holds %d targets after Close", h.store.Count())
	}
	if h.registry.FeedCount() != 0 {
		t.Errorf("registry still holds %d feeds after Close", h.registry.FeedCount())
	}

	// Idempotent, and late messages are dropped without error.
	f.Close()
	if err := f.HandleMessage(mustMessage(t, ws.MsgTick, ws.TickPayload{Offset: 10})); err != nil {
		t.Errorf("tick after Close should be dropped silently, got %v", err)
	}
}

func TestHandleMessageMalformed(t *testing.T) {
	h := newHarness(t, nil)
	f := h.registry.NewFeed("addr")
	defer f.Close()

	if err := f.HandleMessage([]byte("{not json")); err == nil {
		t.Error("malformed JSON should error")
	}
	if err := f.HandleMessage(mustMessage(t, "bogus", struct{}{})); err == nil {
		t.Error("unknown message type should error")
	}
	if err := f.HandleMessage([]byte(`{"type":"tick","payload":"nope"}`)); err == nil {
		t.Error("wrong payload shape should error")
	}
}

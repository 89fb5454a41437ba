package ingest

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scrollscope/backend/internal/scroll"
	"github.com/scrollscope/backend/internal/track"
	"github.com/scrollscope/backend/internal/ws"
)

// attachment pairs a target handle with its running detectors and the
// authoritative tracked state.
type attachment struct {
	target *scroll.PageTarget
	att    *scroll.Attachment
	state  *track.TargetState
}

// Feed is one page's ingest session. Every feed owns an implicit
// document target from the moment it connects; pages attach additional
// scrollable elements explicitly.
type Feed struct {
	id     string
	remote string
	reg    *Registry

	mu          sync.Mutex
	page        string
	attachments map[string]*attachment // keyed by target id
	closed      bool
}

func newFeed(reg *Registry, remoteAddr string) *Feed {
	f := &Feed{
		id:          uuid.NewString(),
		remote:      remoteAddr,
		reg:         reg,
		attachments: make(map[string]*attachment),
	}

	// The document target exists for the feed's whole lifetime, so a
	// page can start sending ticks without an attach handshake.
	if err := f.attachTarget(scroll.DocumentTargetID, 0, 0); err != nil {
		log.Printf("feed %s: document attach failed: %v", f.id, err)
	}

	return f
}

func (f *Feed) ID() string { return f.id }

// HandleMessage decodes and applies one inbound message. Errors are
// reported back to the page; the feed stays usable.
func (f *Feed) HandleMessage(data []byte) error {
	var env ws.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("malformed message: %w", err)
	}

	switch env.Type {
	case ws.MsgHello:
		var p ws.HelloPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("malformed hello: %w", err)
		}
		return f.HandleHello(p)

	case ws.MsgTick:
		var p ws.TickPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("malformed tick: %w", err)
		}
		return f.HandleTick(p)

	case ws.MsgAttach:
		var p ws.AttachPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("malformed attach: %w", err)
		}
		return f.HandleAttach(p)

	case ws.MsgDetach:
		var p ws.DetachPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("malformed detach: %w", err)
		}
		return f.HandleDetach(p)

	default:
		return fmt.Errorf("unknown message type %q", env.Type)
	}
}

// HandleHello records the feed's page URL and stamps it onto every
// target already attached.
func (f *Feed) HandleHello(p ws.HelloPayload) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.page = p.Page

	var updates []*track.TargetState
	for _, a := range f.attachments {
		a.state.Page = p.Page
		updates = append(updates, a.state.Clone())
	}
	f.mu.Unlock()

	for _, s := range updates {
		f.reg.store.UpdateAndNotify(s, func() {
			f.reg.broadcaster.QueueUpdate([]*track.TargetState{s})
		})
	}
	return nil
}

// HandleAttach registers a scrollable element. Attaching a target that
// is already attached is a no-op.
func (f *Feed) HandleAttach(p ws.AttachPayload) error {
	targetID := p.Target
	if targetID == "" {
		targetID = scroll.DocumentTargetID
	}
	return f.attachTarget(targetID, p.StartLatencyMs, p.StopLatencyMs)
}

func (f *Feed) attachTarget(targetID string, startMs, stopMs int) error {
	cfg := f.reg.config()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	if _, exists := f.attachments[targetID]; exists {
		f.mu.Unlock()
		return nil
	}
	if len(f.attachments) >= cfg.Feed.MaxTargetsPerFeed {
		f.mu.Unlock()
		return fmt.Errorf("target limit reached (%d)", cfg.Feed.MaxTargetsPerFeed)
	}

	target := scroll.NewPageTarget(targetID)

	startLatency := cfg.Detect.StartLatency
	if startMs > 0 {
		startLatency = time.Duration(startMs) * time.Millisecond
	}
	stopLatency := cfg.Detect.StopLatency
	if stopMs > 0 {
		stopLatency = time.Duration(stopMs) * time.Millisecond
	}

	att, err := scroll.Attach(scroll.Options{
		Target:       target,
		StartLatency: startLatency,
		StopLatency:  stopLatency,
		Sink: scroll.SinkFunc(func(ev scroll.Event) {
			f.onGesture(targetID, ev)
		}),
	})
	if err != nil {
		f.mu.Unlock()
		return fmt.Errorf("attaching %s: %w", targetID, err)
	}

	now := time.Now()
	state := &track.TargetState{
		ID:         track.Key(f.id, targetID),
		TargetID:   targetID,
		FeedID:     f.id,
		Page:       f.page,
		Phase:      track.Idle,
		AttachedAt: now,
	}
	f.attachments[targetID] = &attachment{
		target: target,
		att:    att,
		state:  state,
	}
	snapshot := state.Clone()
	f.mu.Unlock()

	log.Printf("feed %s: attached target %s (start=%v stop=%v)", f.id, targetID, startLatency, stopLatency)

	f.reg.store.UpdateAndNotify(snapshot, func() {
		f.reg.broadcaster.QueueUpdate([]*track.TargetState{snapshot})
	})
	f.reg.emitEvent(track.Event{
		Type:        track.EventAttached,
		State:       snapshot,
		ActiveCount: f.reg.store.Count(),
	})
	return nil
}

// HandleTick applies one raw scroll sample to the named target.
func (f *Feed) HandleTick(p ws.TickPayload) error {
	targetID := p.Target
	if targetID == "" {
		targetID = scroll.DocumentTargetID
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	a, ok := f.attachments[targetID]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("tick for unattached target %q", targetID)
	}

	now := time.Now()
	a.state.Offset = p.Offset
	a.state.TickCount++
	a.state.LastTickAt = now
	snapshot := a.state.Clone()
	f.mu.Unlock()

	f.reg.store.UpdateAndNotify(snapshot, func() {
		f.reg.broadcaster.QueueUpdate([]*track.TargetState{snapshot})
	})

	// The detectors read the target handle themselves; push the offset
	// first so both edges observe the value from this tick.
	a.target.SetScrollTop(p.Offset)
	a.att.Tick()
	return nil
}

// onGesture runs for every detected transition. Start edges fire
// synchronously from HandleTick (after the feed lock is released);
// stop edges fire from debounce timer goroutines.
func (f *Feed) onGesture(targetID string, ev scroll.Event) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	a, ok := f.attachments[targetID]
	if !ok {
		f.mu.Unlock()
		return
	}

	now := time.Now()
	switch ev.Name {
	case scroll.ScrollStart:
		a.state.Phase = track.Scrolling
	case scroll.ScrollStop:
		a.state.Phase = track.Idle
		a.state.GestureCount++
		a.state.LastDirection = string(ev.Direction)
		a.state.TotalDistance += ev.Distance()
	}
	a.state.LastGestureAt = &now
	page := f.page
	snapshot := a.state.Clone()
	f.mu.Unlock()

	f.reg.store.UpdateAndNotify(snapshot, func() {
		f.reg.broadcaster.QueueUpdate([]*track.TargetState{snapshot})
	})
	f.reg.broadcaster.PublishGesture(ws.GesturePayload{
		Key:   snapshot.ID,
		Page:  page,
		Event: &ev,
	})
	f.reg.emitEvent(track.Event{
		Type:        track.EventGesture,
		State:       snapshot,
		Transition:  &ev,
		ActiveCount: f.reg.store.Count(),
	})
}

// HandleDetach tears down one target. Detaching a target that is not
// attached is a no-op.
func (f *Feed) HandleDetach(p ws.DetachPayload) error {
	targetID := p.Target
	if targetID == "" {
		targetID = scroll.DocumentTargetID
	}
	f.detachTarget(targetID)
	return nil
}

func (f *Feed) detachTarget(targetID string) {
	f.mu.Lock()
	a, ok := f.attachments[targetID]
	if !ok {
		f.mu.Unlock()
		return
	}
	delete(f.attachments, targetID)
	snapshot := a.state.Clone()
	f.mu.Unlock()

	a.att.Close()

	key := snapshot.ID
	f.reg.store.BatchRemoveAndNotify([]string{key}, func() {
		f.reg.broadcaster.QueueRemoval([]string{key})
	})
	f.reg.emitEvent(track.Event{
		Type:        track.EventDetached,
		State:       snapshot,
		ActiveCount: f.reg.store.Count(),
	})
	log.Printf("feed %s: detached target %s", f.id, targetID)
}

// Close tears down every attachment and unregisters the feed.
// Idempotent; late ticks after Close are dropped.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	atts := f.attachments
	f.attachments = make(map[string]*attachment)
	f.mu.Unlock()

	keys := make([]string, 0, len(atts))
	snapshots := make([]*track.TargetState, 0, len(atts))
	for _, a := range atts {
		a.att.Close()
		keys = append(keys, a.state.ID)
		snapshots = append(snapshots, a.state.Clone())
	}

	if len(keys) > 0 {
		f.reg.store.BatchRemoveAndNotify(keys, func() {
			f.reg.broadcaster.QueueRemoval(keys)
		})
	}
	for _, s := range snapshots {
		f.reg.emitEvent(track.Event{
			Type:        track.EventDetached,
			State:       s,
			ActiveCount: f.reg.store.Count(),
		})
	}

	f.reg.removeFeed(f.id)
}

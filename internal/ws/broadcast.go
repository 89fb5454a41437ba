package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scrollscope/backend/internal/health"
	"github.com/scrollscope/backend/internal/track"
)

// ErrTooManyConnections is returned by AddClient when the configured
// watch-client limit is reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster fans target state out to watch clients. Per-target
// updates are coalesced into throttled deltas; gestures go out
// immediately so the watch UI can animate them without throttle lag.
type Broadcaster struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	store      *track.Store
	privacy    *track.PrivacyFilter
	healthHook func() *health.Snapshot
	throttle   time.Duration
	maxConns   int
	seq        atomic.Uint64

	snapshotTicker *time.Ticker
	stopOnce       sync.Once
	done           chan struct{}

	pendingUpdates []*track.TargetState
	pendingRemoved []string
	flushTimer     *time.Timer
	flushMu        sync.Mutex
}

func NewBroadcaster(store *track.Store, throttle, snapshotInterval time.Duration, maxConns int) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		store:    store,
		privacy:  &track.PrivacyFilter{},
		throttle: throttle,
		maxConns: maxConns,
		done:     make(chan struct{}),
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

// SetPrivacyFilter swaps the active filter. Safe to call while
// broadcasting; used on config reload.
func (b *Broadcaster) SetPrivacyFilter(f *track.PrivacyFilter) {
	if f == nil {
		f = &track.PrivacyFilter{}
	}
	b.mu.Lock()
	b.privacy = f
	b.mu.Unlock()
}

// SetHealthHook attaches a process sampler whose snapshot rides along
// with every full-state snapshot.
func (b *Broadcaster) SetHealthHook(hook func() *health.Snapshot) {
	b.mu.Lock()
	b.healthHook = hook
	b.mu.Unlock()
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, 64),
	}

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	b.clients[c] = true
	b.mu.Unlock()

	go c.writePump()

	data, err := json.Marshal(b.snapshotMessage())
	if err != nil {
		log.Printf("snapshot marshal error: %v", err)
		return c, nil
	}

	select {
	case c.send <- data:
	default:
		// Client too slow, drop the snapshot; the ticker resends.
	}

	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// QueueUpdate schedules target states for the next throttled delta.
func (b *Broadcaster) QueueUpdate(states []*track.TargetState) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingUpdates = append(b.pendingUpdates, states...)

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// QueueRemoval schedules target keys for removal in the next delta.
func (b *Broadcaster) QueueRemoval(keys []string) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingRemoved = append(b.pendingRemoved, keys...)

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// PublishGesture broadcasts a scrollstart/scrollstop transition
// immediately, bypassing the delta throttle.
func (b *Broadcaster) PublishGesture(p GesturePayload) {
	b.mu.RLock()
	privacy := b.privacy
	b.mu.RUnlock()

	if !privacy.IsAllowed(p.Page) {
		return
	}
	if !privacy.IsNoop() {
		p.Key = privacy.MaskID(p.Key)
		p.Page = privacy.MaskPage(p.Page)
		if p.Event != nil {
			ev := *p.Event
			ev.TargetID = privacy.MaskID(ev.TargetID)
			p.Event = &ev
		}
	}

	b.broadcast(WSMessage{
		Type:    MsgGesture,
		Seq:     b.seq.Add(1),
		Payload: p,
	})
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	updates := b.pendingUpdates
	removed := b.pendingRemoved
	b.pendingUpdates = nil
	b.pendingRemoved = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if len(updates) == 0 && len(removed) == 0 {
		return
	}

	b.broadcast(WSMessage{
		Type: MsgDelta,
		Seq:  b.seq.Add(1),
		Payload: DeltaPayload{
			Updates: b.FilterTargets(updates),
			Removed: removed,
		},
	})
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.done:
			return
		case <-b.snapshotTicker.C:
			b.broadcast(b.snapshotMessage())
		}
	}
}

func (b *Broadcaster) snapshotMessage() WSMessage {
	b.mu.RLock()
	hook := b.healthHook
	b.mu.RUnlock()

	payload := SnapshotPayload{
		Targets: b.FilterTargets(b.store.GetAll()),
	}
	if hook != nil {
		payload.Health = hook()
	}

	return WSMessage{
		Type:    MsgSnapshot,
		Seq:     b.seq.Add(1),
		Payload: payload,
	}
}

// FilterTargets applies the active privacy filter to a slice of
// states. Neither the slice nor its elements are mutated.
func (b *Broadcaster) FilterTargets(states []*track.TargetState) []*track.TargetState {
	b.mu.RLock()
	privacy := b.privacy
	b.mu.RUnlock()

	return privacy.FilterSlice(states)
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it
			log.Printf("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop halts the snapshot loop, cancels any pending flush, and
// disconnects all clients. Idempotent.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.snapshotTicker.Stop()

		b.flushMu.Lock()
		if b.flushTimer != nil {
			b.flushTimer.Stop()
			b.flushTimer = nil
		}
		b.flushMu.Unlock()

		b.mu.Lock()
		for c := range b.clients {
			delete(b.clients, c)
			c.close()
		}
		b.mu.Unlock()
	})
}

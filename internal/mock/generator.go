package mock

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/scrollscope/backend/internal/ws"
)

// mockFeed drives one synthetic page: alternating scroll bursts and
// quiet periods long enough for the stop detector to settle.
type mockFeed struct {
	feed    ws.FeedSession
	page    string
	target  string // "" means the document target
	pattern string

	offset     float64
	velocity   float64
	burstLeft  int // ticks remaining in the current burst
	quietLeft  int // ticks remaining in the current pause
	burstCount int
}

// Generator feeds synthetic scroll telemetry through the real ingest
// pipeline, so demo mode exercises the same detectors, store, and
// broadcast path as live pages.
type Generator struct {
	feeds   ws.FeedFactory
	mocks   []*mockFeed
	tickGap time.Duration
}

func NewGenerator(feeds ws.FeedFactory) *Generator {
	return &Generator{
		feeds:   feeds,
		tickGap: 50 * time.Millisecond,
	}
}

func (g *Generator) Start(ctx context.Context) {
	profiles := []struct {
		page    string
		target  string
		pattern string
	}{
		{page: "https://news.example.com/longread", pattern: "reader"},
		{page: "https://shop.example.com/catalog", pattern: "skimmer"},
		{page: "https://docs.example.com/api", target: "sidebar", pattern: "bouncer"},
		{page: "https://social.example.com/feed", pattern: "infinite"},
	}

	for _, profile := range profiles {
		f := g.feeds.NewFeed("mock")
		m := &mockFeed{
			feed:    f,
			page:    profile.page,
			target:  profile.target,
			pattern: profile.pattern,
		}
		g.send(m, ws.MsgHello, ws.HelloPayload{Page: profile.page})
		if profile.target != "" {
			g.send(m, ws.MsgAttach, ws.AttachPayload{Target: profile.target})
		}
		g.mocks = append(g.mocks, m)
	}

	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(g.tickGap)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			for _, m := range g.mocks {
				m.feed.Close()
			}
			return
		case <-ticker.C:
			tick++
			for _, m := range g.mocks {
				g.advance(m, tick)
			}
		}
	}
}

func (g *Generator) advance(m *mockFeed, tick int) {
	if m.quietLeft > 0 {
		m.quietLeft--
		return
	}

	if m.burstLeft == 0 {
		g.startBurst(m, tick)
	}

	m.burstLeft--
	m.offset += m.velocity + float64(rand.Intn(20)-10)
	if m.offset < 0 {
		m.offset = 0
	}

	g.send(m, ws.MsgTick, ws.TickPayload{Target: m.target, Offset: m.offset})

	if m.burstLeft == 0 {
		// Pause past the stop debounce window so the gesture settles.
		m.quietLeft = 8 + rand.Intn(20)
	}
}

func (g *Generator) startBurst(m *mockFeed, tick int) {
	m.burstCount++

	switch m.pattern {
	case "reader":
		// Short, slow downward nudges: a paragraph at a time.
		m.burstLeft = 3 + rand.Intn(3)
		m.velocity = 30 + float64(rand.Intn(20))

	case "skimmer":
		// Long fast flicks down the page.
		m.burstLeft = 8 + rand.Intn(8)
		m.velocity = 120 + float64(rand.Intn(80))

	case "bouncer":
		// Alternates direction every gesture, as if comparing sections.
		m.burstLeft = 4 + rand.Intn(4)
		m.velocity = 80 + float64(rand.Intn(40))
		if m.burstCount%2 == 0 {
			m.velocity = -m.velocity
		}

	case "infinite":
		// Steady endless descent with a sinusoidal pace, doomscrolling.
		m.burstLeft = 10 + rand.Intn(10)
		pace := 0.7 + 0.3*math.Sin(float64(tick)/10.0)
		m.velocity = 60 * pace
	}
}

func (g *Generator) send(m *mockFeed, typ ws.MessageType, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("mock marshal error: %v", err)
		return
	}
	data, err := json.Marshal(ws.Envelope{Type: typ, Payload: raw})
	if err != nil {
		log.Printf("mock marshal error: %v", err)
		return
	}
	if err := m.feed.HandleMessage(data); err != nil {
		log.Printf("mock feed %s: %v", m.feed.ID(), err)
	}
}

package scroll

import (
	"sync"
	"time"
)

// StartDetector fires one scrollstart event per idle-to-moving edge.
// While ticks keep arriving within the latency window the detector stays
// armed and suppresses further events. Once the window elapses with no
// tick, the end of the window becomes the baseline offset for the next
// genuine start.
//
// The detector owns at most one pending timer. Every tick cancels and
// reschedules it; a generation counter makes a fire that lost the race
// with a cancel a no-op.
type StartDetector struct {
	target   Target
	latency  time.Duration
	dispatch func(Event)

	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	armed    bool
	baseline float64
	lastEnd  float64
	closed   bool
}

// NewStartDetector attaches a start detector to target. The baseline
// offset for the first event is the target's position at attach time.
// A zero or negative latency falls back to DefaultStartLatency.
func NewStartDetector(target Target, latency time.Duration, dispatch func(Event)) *StartDetector {
	if latency <= 0 {
		latency = DefaultStartLatency
	}
	return &StartDetector{
		target:   target,
		latency:  latency,
		dispatch: dispatch,
		baseline: ReadPosition(target),
	}
}

// Tick records one raw scroll movement on the target. The first tick of
// a gesture dispatches a scrollstart; subsequent ticks within the
// latency window only push the suppression timer out.
func (d *StartDetector) Tick() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	end := ReadPosition(d.target)
	d.lastEnd = end

	var ev Event
	fire := false
	if !d.armed {
		start := d.baseline
		ev = NewEvent(ScrollStart, d.target, &start, &end)
		d.armed = true
		fire = true
	}
	d.reschedule()
	d.mu.Unlock()

	if fire {
		d.dispatch(ev)
	}
}

// reschedule cancels any pending timer and arms a fresh one.
// The caller must hold d.mu.
func (d *StartDetector) reschedule() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.latency, func() { d.quiet(gen) })
}

// quiet runs when the suppression window elapses with no intervening
// tick. The offset captured at the last tick becomes the new baseline.
func (d *StartDetector) quiet(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || gen != d.gen {
		return
	}
	d.timer = nil
	d.armed = false
	d.baseline = d.lastEnd
}

// Close cancels any pending timer and drops all further ticks.
// It is safe to call more than once.
func (d *StartDetector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

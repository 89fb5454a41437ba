package scroll

import (
	"sync"
	"time"
)

// StopDetector fires one scrollstop event per gesture, at the moment the
// target has been quiet for the latency window. The start offset is
// captured at the first tick of the gesture; the end offset is read when
// the timer fires.
type StopDetector struct {
	target   Target
	latency  time.Duration
	dispatch func(Event)

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	started bool
	startY  float64
	closed  bool
}

// NewStopDetector attaches a stop detector to target. A zero or
// negative latency falls back to DefaultStopLatency.
func NewStopDetector(target Target, latency time.Duration, dispatch func(Event)) *StopDetector {
	if latency <= 0 {
		latency = DefaultStopLatency
	}
	return &StopDetector{
		target:   target,
		latency:  latency,
		dispatch: dispatch,
	}
}

// Tick records one raw scroll movement. Each tick pushes the quiet
// window out; the first tick of a gesture also captures the start offset.
func (d *StopDetector) Tick() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	if !d.started {
		d.startY = ReadPosition(d.target)
		d.started = true
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.latency, func() { d.settle(gen) })
	d.mu.Unlock()
}

// settle runs when the quiet window elapses. Gesture state is reset
// before the event is dispatched, so a callback that synchronously
// triggers new ticks sees a clean detector.
func (d *StopDetector) settle(gen uint64) {
	d.mu.Lock()
	if d.closed || gen != d.gen {
		d.mu.Unlock()
		return
	}
	start := d.startY
	end := ReadPosition(d.target)
	ev := NewEvent(ScrollStop, d.target, &start, &end)
	d.started = false
	d.timer = nil
	d.mu.Unlock()

	d.dispatch(ev)
}

// Close cancels any pending timer and drops all further ticks.
// It is safe to call more than once; no scrollstop fires after Close
// even if the quiet window had already been scheduled.
func (d *StopDetector) Close() {
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

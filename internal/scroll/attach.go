package scroll

import (
	"errors"
	"sync/atomic"
	"time"
)

// Process-wide latency defaults, overridable per attachment.
const (
	DefaultStartLatency = 150 * time.Millisecond
	DefaultStopLatency  = 150 * time.Millisecond
)

// ErrNoTarget is returned by Attach when no target was supplied. The
// caller resolves its default target (usually the feed's document
// target) before attaching; the core never treats nil as "document".
var ErrNoTarget = errors.New("scroll: attach requires a target")

// Options configures one attachment. All resolution happens once, in
// Attach: zero latencies take the process-wide defaults, nil callbacks
// are no-ops, a nil sink disables broadcast.
type Options struct {
	Target       Target
	StartLatency time.Duration
	StopLatency  time.Duration
	OnStart      Callback
	OnStop       Callback
	Sink         Sink
}

// Attachment binds the start and stop detectors to one target for the
// lifetime of its owner. The owner must call Close when the lifetime
// ends; that cancels pending timers and detaches both detectors.
type Attachment struct {
	target Target
	start  *StartDetector
	stop   *StopDetector
	closed atomic.Bool
}

// Attach resolves opts and attaches both detectors to the target.
func Attach(opts Options) (*Attachment, error) {
	if opts.Target == nil {
		return nil, ErrNoTarget
	}
	a := &Attachment{target: opts.Target}

	startDispatch := NewDispatcher(opts.OnStart, opts.Sink)
	stopDispatch := NewDispatcher(opts.OnStop, opts.Sink)
	a.start = NewStartDetector(opts.Target, opts.StartLatency, startDispatch.Dispatch)
	a.stop = NewStopDetector(opts.Target, opts.StopLatency, stopDispatch.Dispatch)
	return a, nil
}

// Target returns the attached target handle.
func (a *Attachment) Target() Target { return a.target }

// Tick feeds one raw scroll movement to both detectors. The two state
// machines are independent; neither coordinates with the other.
func (a *Attachment) Tick() {
	if a.closed.Load() {
		return
	}
	a.start.Tick()
	a.stop.Tick()
}

// Close tears the attachment down, cancelling any pending timers on
// both detectors. Closing an already-closed attachment is a no-op.
func (a *Attachment) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.start.Close()
	a.stop.Close()
}

// Closed reports whether the attachment has been torn down.
func (a *Attachment) Closed() bool { return a.closed.Load() }

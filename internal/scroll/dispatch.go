package scroll

import "log"

// Sink receives every detected transition for observer broadcast.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }

// Callback is the caller-supplied per-attachment hook.
type Callback func(Event)

// Dispatcher fans one transition out to the attachment callback and the
// broadcast sink, in that order. The two consumers are independent: a
// panicking callback is recovered and logged and never suppresses the
// broadcast.
type Dispatcher struct {
	callback Callback
	sink     Sink
}

func NewDispatcher(cb Callback, sink Sink) *Dispatcher {
	return &Dispatcher{callback: cb, sink: sink}
}

func (d *Dispatcher) Dispatch(ev Event) {
	d.runCallback(ev)
	if d.sink != nil {
		d.sink.Publish(ev)
	}
}

func (d *Dispatcher) runCallback(ev Event) {
	if d.callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scroll: %s callback panic on %s: %v", ev.Name, ev.TargetID, r)
		}
	}()
	d.callback(ev)
}

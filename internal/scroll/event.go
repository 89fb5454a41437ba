package scroll

// EventName identifies which edge a transition event represents.
type EventName string

const (
	ScrollStart EventName = "scrollstart"
	ScrollStop  EventName = "scrollstop"
)

// Direction is the direction of travel between two measured offsets.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Event describes one detected scroll transition. It is immutable once
// constructed: build it with NewEvent and never mutate the fields.
//
// StartY, EndY and Direction are only present when both offsets were
// measured. Direction is never set independently of the offsets.
type Event struct {
	Name      EventName `json:"name"`
	TargetID  string    `json:"target"`
	StartY    *float64  `json:"startY,omitempty"`
	EndY      *float64  `json:"endY,omitempty"`
	Direction Direction `json:"direction,omitempty"`

	// Target is the handle the event was detected on. Not serialized;
	// watch clients only see the target id.
	Target Target `json:"-"`
}

// NewEvent builds a transition event for the given target. The offset
// fields are only populated when both start and end are supplied; an
// event built from a single measurement carries name and target only.
//
// Direction uses a strict less-than comparison, so equal offsets yield
// "up". That matches the long-standing behavior downstream consumers
// depend on; see the direction tests before changing it.
func NewEvent(name EventName, target Target, start, end *float64) Event {
	ev := Event{
		Name:     name,
		Target:   target,
		TargetID: target.ID(),
	}
	if start == nil || end == nil {
		return ev
	}
	s, e := *start, *end
	ev.StartY = &s
	ev.EndY = &e
	if s < e {
		ev.Direction = DirectionDown
	} else {
		ev.Direction = DirectionUp
	}
	return ev
}

// Measured reports whether the event carries both offsets.
func (e Event) Measured() bool {
	return e.StartY != nil && e.EndY != nil
}

// Distance returns the absolute travel between the measured offsets,
// or 0 for an unmeasured event.
func (e Event) Distance() float64 {
	if !e.Measured() {
		return 0
	}
	d := *e.EndY - *e.StartY
	if d < 0 {
		d = -d
	}
	return d
}

package track

import "github.com/scrollscope/backend/internal/scroll"

// EventType classifies target lifecycle events.
type EventType int

const (
	EventAttached EventType = iota // target attached to a feed
	EventGesture                   // a scrollstart/scrollstop was detected
	EventDetached                  // target detached (explicit, stale, or feed close)
)

// Event carries a target state snapshot to observers such as the stats
// tracker. State is a snapshot and safe to retain.
type Event struct {
	Type        EventType
	State       *TargetState
	Transition  *scroll.Event // set for EventGesture
	ActiveCount int           // attached targets at event time
}

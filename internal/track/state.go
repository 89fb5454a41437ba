package track

import (
	"encoding/json"
	"time"
)

// Phase is the derived motion state of one tracked target.
type Phase int

const (
	Idle Phase = iota
	Scrolling
)

var phaseNames = map[Phase]string{
	Idle:      "idle",
	Scrolling: "scrolling",
}

var phaseFromName = map[string]Phase{
	"idle":      Idle,
	"scrolling": Scrolling,
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Phase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := phaseFromName[s]; ok {
		*p = v
	}
	return nil
}

// TargetState is the broadcastable view of one attached scroll target.
type TargetState struct {
	ID            string     `json:"id"`       // composite feed:target key
	TargetID      string     `json:"targetId"` // element id as reported by the page
	FeedID        string     `json:"feedId"`
	Page          string     `json:"page,omitempty"` // URL of the owning page
	Phase         Phase      `json:"phase"`
	Offset        float64    `json:"offset"`
	TickCount     int        `json:"tickCount"`
	GestureCount  int        `json:"gestureCount"`
	LastDirection string     `json:"lastDirection,omitempty"`
	TotalDistance float64    `json:"totalDistance"`
	AttachedAt    time.Time  `json:"attachedAt"`
	LastTickAt    time.Time  `json:"lastTickAt"`
	LastGestureAt *time.Time `json:"lastGestureAt,omitempty"`
}

// Key returns the composite store key for a target. Prefixing with the
// feed id avoids collisions when two pages attach the same element id.
func Key(feedID, targetID string) string {
	return feedID + ":" + targetID
}

// Clone returns a deep copy of the state, duplicating pointer fields so
// the copy can be mutated independently of the original.
func (s *TargetState) Clone() *TargetState {
	c := *s
	if s.LastGestureAt != nil {
		t := *s.LastGestureAt
		c.LastGestureAt = &t
	}
	return &c
}

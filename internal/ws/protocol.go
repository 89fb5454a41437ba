package ws

import (
	"encoding/json"

	"github.com/scrollscope/backend/internal/health"
	"github.com/scrollscope/backend/internal/scroll"
	"github.com/scrollscope/backend/internal/track"
)

type MessageType string

// Inbound types arrive on /ws/feed from instrumented pages. Outbound
// types are pushed to /ws/watch clients.
const (
	// Inbound.
	MsgHello  MessageType = "hello"
	MsgTick   MessageType = "tick"
	MsgAttach MessageType = "attach"
	MsgDetach MessageType = "detach"

	// Outbound.
	MsgSnapshot MessageType = "snapshot"
	MsgDelta    MessageType = "delta"
	MsgGesture  MessageType = "gesture"
	MsgError    MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq,omitempty"`
	Payload interface{} `json:"payload"`
}

// Envelope is the inbound counterpart of WSMessage: the payload stays
// raw until the type is known.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type HelloPayload struct {
	Page string `json:"page"`
}

type TickPayload struct {
	Target string  `json:"target"`
	Offset float64 `json:"offset"`
}

// AttachPayload registers a scrollable element. Latencies are in
// milliseconds; zero means use the server default.
type AttachPayload struct {
	Target         string `json:"target"`
	StartLatencyMs int    `json:"startLatencyMs,omitempty"`
	StopLatencyMs  int    `json:"stopLatencyMs,omitempty"`
}

type DetachPayload struct {
	Target string `json:"target"`
}

type SnapshotPayload struct {
	Targets []*track.TargetState `json:"targets"`
	Health  *health.Snapshot     `json:"health,omitempty"`
}

type DeltaPayload struct {
	Updates []*track.TargetState `json:"updates"`
	Removed []string             `json:"removed,omitempty"`
}

type GesturePayload struct {
	Key   string        `json:"key"`
	Page  string        `json:"page,omitempty"`
	Event *scroll.Event `json:"event"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

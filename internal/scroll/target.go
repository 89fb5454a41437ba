package scroll

import (
	"math"
	"sync/atomic"
)

// Target is an opaque handle to a scroll-bearing surface. The detectors
// never inspect a target beyond asking for its current vertical offset.
type Target interface {
	ID() string
	ScrollTop() float64
}

// DocumentTargetID is the id of a feed's implicit root target, used when
// a page does not name a specific element. It is a concrete default
// value rather than a nil-means-document convention.
const DocumentTargetID = "document"

// PageTarget is a Target whose offset is pushed in by telemetry ticks
// from a remote page. Reads and writes are lock-free and safe from any
// goroutine.
type PageTarget struct {
	id   string
	bits atomic.Uint64 // math.Float64bits of the current offset
}

// NewPageTarget returns a target for the named element with offset 0.
func NewPageTarget(id string) *PageTarget {
	return &PageTarget{id: id}
}

// NewDocumentTarget returns the default root target for a feed.
func NewDocumentTarget() *PageTarget {
	return NewPageTarget(DocumentTargetID)
}

func (t *PageTarget) ID() string { return t.id }

func (t *PageTarget) ScrollTop() float64 {
	return math.Float64frombits(t.bits.Load())
}

// SetScrollTop records the offset reported by the latest tick.
func (t *PageTarget) SetScrollTop(v float64) {
	t.bits.Store(math.Float64bits(v))
}

// ReadPosition returns the current vertical scroll offset of target.
// It has no side effects.
func ReadPosition(t Target) float64 {
	return t.ScrollTop()
}

package scroll

import (
	"testing"
	"time"
)

func TestAttachRequiresTarget(t *testing.T) {
	if _, err := Attach(Options{}); err != ErrNoTarget {
		t.Fatalf("Attach without target: err = %v, want ErrNoTarget", err)
	}
}

func TestAttachmentBothDetectorsFire(t *testing.T) {
	target := NewDocumentTarget()
	lg := &eventLog{}

	a, err := Attach(Options{
		Target:       target,
		StartLatency: testLatency,
		StopLatency:  testLatency,
		Sink:         SinkFunc(lg.add),
	})
	if err != nil {
		t.Fatalf("Attach error: %v", err)
	}
	defer a.Close()

	if a.Target().ID() != DocumentTargetID {
		t.Errorf("target id = %q, want %q", a.Target().ID(), DocumentTargetID)
	}

	target.SetScrollTop(40)
	a.Tick()
	target.SetScrollTop(90)
	a.Tick()
	time.Sleep(3 * testLatency)

	events := lg.list()
	if len(events) != 2 {
		t.Fatalf("expected scrollstart + scrollstop, got %d events: %v", len(events), events)
	}
	if events[0].Name != ScrollStart {
		t.Errorf("first event = %q, want scrollstart", events[0].Name)
	}
	if events[1].Name != ScrollStop {
		t.Errorf("second event = %q, want scrollstop", events[1].Name)
	}
	assertOffsets(t, events[0], 0, 40, DirectionDown)
	assertOffsets(t, events[1], 40, 90, DirectionDown)
}

func TestAttachmentPerEventCallbacks(t *testing.T) {
	target := NewDocumentTarget()
	starts, stops := &eventLog{}, &eventLog{}

	a, err := Attach(Options{
		Target:       target,
		StartLatency: testLatency,
		StopLatency:  testLatency,
		OnStart:      starts.add,
		OnStop:       stops.add,
	})
	if err != nil {
		t.Fatalf("Attach error: %v", err)
	}
	defer a.Close()

	target.SetScrollTop(25)
	a.Tick()
	time.Sleep(3 * testLatency)

	if starts.count() != 1 {
		t.Errorf("OnStart invocations = %d, want 1", starts.count())
	}
	if stops.count() != 1 {
		t.Errorf("OnStop invocations = %d, want 1", stops.count())
	}
}

func TestAttachmentCloseIdempotentAndFinal(t *testing.T) {
	target := NewDocumentTarget()
	lg := &eventLog{}

	a, err := Attach(Options{
		Target:       target,
		StartLatency: testLatency,
		StopLatency:  testLatency,
		Sink:         SinkFunc(lg.add),
	})
	if err != nil {
		t.Fatalf("Attach error: %v", err)
	}

	target.SetScrollTop(10)
	a.Tick()
	n := lg.count()

	a.Close()
	a.Close()
	if !a.Closed() {
		t.Error("Closed() = false after Close")
	}

	a.Tick()
	time.Sleep(3 * testLatency)
	if lg.count() != n {
		t.Errorf("events after teardown: got %d, want %d", lg.count(), n)
	}
}

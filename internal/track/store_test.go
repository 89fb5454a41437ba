package track

import (
	"testing"
)

func TestStoreGetReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Update(&TargetState{ID: "f:doc", Offset: 10})

	got, ok := s.Get("f:doc")
	if !ok {
		t.Fatal("Get should find the target")
	}
	got.Offset = 999

	again, _ := s.Get("f:doc")
	if again.Offset != 10 {
		t.Errorf("store state mutated through Get copy: offset = %v", again.Offset)
	}
}

func TestStoreGetMissing(t *testing.T) {
	s := NewStore()
	if _, ok := s.Get("nope"); ok {
		t.Error("Get on missing id should report !ok")
	}
}

func TestStoreUpdateCopiesInput(t *testing.T) {
	s := NewStore()
	state := &TargetState{ID: "f:doc", Offset: 10}
	s.Update(state)

	state.Offset = 999
	got, _ := s.Get("f:doc")
	if got.Offset != 10 {
		t.Errorf("store shares memory with caller: offset = %v", got.Offset)
	}
}

func TestStoreGetAll(t *testing.T) {
	s := NewStore()
	s.Update(&TargetState{ID: "a:doc"})
	s.Update(&TargetState{ID: "b:doc"})

	all := s.GetAll()
	if len(all) != 2 {
		t.Fatalf("GetAll = %d targets, want 2", len(all))
	}
	if s.Count() != 2 {
		t.Errorf("Count = %d, want 2", s.Count())
	}
}

func TestStoreUpdateAndNotifyAtomic(t *testing.T) {
	s := NewStore()
	notified := false
	s.UpdateAndNotify(&TargetState{ID: "f:doc"}, func() {
		notified = true
	})
	if !notified {
		t.Error("notify hook did not run")
	}
	if _, ok := s.Get("f:doc"); !ok {
		t.Error("state not committed")
	}
}

func TestStoreBatchRemoveAndNotify(t *testing.T) {
	s := NewStore()
	s.Update(&TargetState{ID: "a:doc"})
	s.Update(&TargetState{ID: "b:doc"})
	s.Update(&TargetState{ID: "c:doc"})

	notified := false
	s.BatchRemoveAndNotify([]string{"a:doc", "c:doc"}, func() {
		notified = true
	})

	if !notified {
		t.Error("notify hook did not run")
	}
	if s.Count() != 1 {
		t.Errorf("Count after batch remove = %d, want 1", s.Count())
	}
	if _, ok := s.Get("b:doc"); !ok {
		t.Error("unrelated target was removed")
	}
}

func TestStoreScrollingCount(t *testing.T) {
	s := NewStore()
	s.Update(&TargetState{ID: "a:doc", Phase: Scrolling})
	s.Update(&TargetState{ID: "b:doc", Phase: Idle})
	s.Update(&TargetState{ID: "c:doc", Phase: Scrolling})

	if got := s.ScrollingCount(); got != 2 {
		t.Errorf("ScrollingCount = %d, want 2", got)
	}
}

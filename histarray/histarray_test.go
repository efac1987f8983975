package histarray

import "testing"

func TestArray_EmptyFrontAndPop(t *testing.T) {
	// WHAT: Front/Pop/Size on a freshly zero-valued Array
	// WHY: the decoder calls Front speculatively before knowing whether
	// anything is queued; it must never panic on an empty queue.
	var a Array

	if _, ok := a.Front(); ok {
		t.Error("Front on empty array should report ok=false")
	}
	if a.Size() != 0 {
		t.Errorf("Size on empty array = %d, want 0", a.Size())
	}
	a.Pop()       // no-op, must not panic
	a.UpdateFront(Element{Hist: 1}) // no-op, must not panic
}

func TestArray_PushFrontOrder(t *testing.T) {
	// WHAT: elements come out of Front in the order they were Pushed
	// WHY: this is the FIFO the trace decoder drains ResourceFull
	// fragments from in wire order.
	var a Array
	a.Push(Element{Hist: 1, Timestamp: 10})
	a.Push(Element{Hist: 2, Timestamp: 20})
	a.Push(Element{Hist: 3, Timestamp: 30})

	if a.Size() != 3 {
		t.Fatalf("Size = %d, want 3", a.Size())
	}
	for i, want := range []uint32{1, 2, 3} {
		el, ok := a.Front()
		if !ok {
			t.Fatalf("Front() at step %d: ok=false", i)
		}
		if el.Hist != want {
			t.Errorf("Front() at step %d = %+v, want Hist=%d", i, el, want)
		}
		a.Pop()
	}
	if a.Size() != 0 {
		t.Errorf("Size after draining = %d, want 0", a.Size())
	}
}

func TestArray_UpdateFront(t *testing.T) {
	// WHAT: UpdateFront overwrites only the head element in place
	// WHY: mirrors the original's direct mutation through
	// nexusrv_hist_array_front's returned pointer (consumeTNT
	// decrements a repeat count without popping the element).
	var a Array
	a.Push(Element{Hist: 0b11, HRepeat: 3})
	a.Push(Element{Hist: 0b10, HRepeat: 1})

	el, _ := a.Front()
	el.HRepeat--
	a.UpdateFront(el)

	front, ok := a.Front()
	if !ok || front.HRepeat != 2 {
		t.Fatalf("Front() after UpdateFront = %+v, ok=%v, want HRepeat=2", front, ok)
	}
	a.Pop()
	back, ok := a.Front()
	if !ok || back.HRepeat != 1 {
		t.Errorf("second element = %+v, ok=%v, want HRepeat=1 unchanged", back, ok)
	}
}

func TestArray_Clear(t *testing.T) {
	// WHAT: Clear empties the queue regardless of prior contents
	// WHY: SyncReset/NextError both need to discard all pending hist
	// fragments atomically.
	var a Array
	a.Push(Element{Hist: 1})
	a.Push(Element{Hist: 2})
	a.Clear()

	if a.Size() != 0 {
		t.Errorf("Size after Clear = %d, want 0", a.Size())
	}
	if _, ok := a.Front(); ok {
		t.Error("Front after Clear should report ok=false")
	}
}

func TestArray_CompactionDoesNotLoseElements(t *testing.T) {
	// WHAT: repeatedly pushing and popping past the front-index
	// compaction threshold doesn't corrupt the remaining elements
	// WHY: Pop's internal compaction (see histarray.go) reslices the
	// backing array once the consumed prefix dominates; a subtle
	// off-by-one there would silently drop or duplicate elements.
	var a Array
	for i := 0; i < 300; i++ {
		a.Push(Element{Hist: uint32(i + 1)})
		if i >= 100 {
			a.Pop()
		}
	}
	if a.Size() != 100 {
		t.Fatalf("Size = %d, want 100", a.Size())
	}
	el, ok := a.Front()
	if !ok || el.Hist != 201 {
		t.Errorf("Front() = %+v, ok=%v, want Hist=201", el, ok)
	}
}

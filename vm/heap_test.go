package vm

import "testing"

func TestHeapAllocRetriesThenExhausts(t *testing.T) {
	h := NewHeap(7, 3)
	// Pre-occupy every address the generator will produce over the next
	// three draws, so Alloc must exhaust its retry budget.
	state := h.rng.state
	g := &lcg{state: state}
	for i := 0; i < 3; i++ {
		addr := g.next()
		if addr == 0 {
			continue
		}
		h.objects[addr] = &HeapObject{}
	}
	if _, err := h.Alloc(&HeapObject{}); err == nil {
		t.Fatalf("expected out-of-memory after exhausting retry budget")
	} else if ve, ok := err.(*VMException); !ok || ve.Kind != OutOfMemory {
		t.Fatalf("expected OutOfMemory exception, got %v", err)
	}
}

func TestHeapAllocSucceedsOnFreshAddress(t *testing.T) {
	h := NewHeap(42, 10)
	addr, err := h.AllocArray([]byte("payload"))
	if err != nil {
		t.Fatalf("AllocArray: %v", err)
	}
	obj, ok := h.Get(addr)
	if !ok || string(obj.Array) != "payload" {
		t.Fatalf("Get(%d) did not return the allocated array", addr)
	}
}

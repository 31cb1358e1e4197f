package vm

import "sync"

// BreakpointKind enumerates the pause conditions the VM supports: a
// specific instruction address, a field access, a call boundary, or a
// call/return value shaped like a string or byte array.
type BreakpointKind int

const (
	BreakAddress BreakpointKind = iota
	BreakFieldGet
	BreakFieldSet
	BreakCallEntry
	BreakCallExit
	BreakArgumentValue
	BreakReturnValue
)

// Breakpoint is one armed pause condition. Not every field is meaningful
// for every Kind: Address/DexID/MethodIdx for BreakAddress, FieldKey for
// the two field kinds, Signature for the rest.
type Breakpoint struct {
	Kind      BreakpointKind
	DexID     string
	MethodIdx uint32
	Address   int
	FieldKey  string
	Signature string

	skipNext bool
}

// BreakpointSet is the machine's armed breakpoint table. Hitting a
// breakpoint returns a non-fatal *VMException{Kind: BreakpointHit} from
// Start/Step; calling Resume arms a one-time skip so the very next hit of
// that same breakpoint is passed through instead of pausing again.
type BreakpointSet struct {
	mu     sync.Mutex
	points []*Breakpoint
}

func NewBreakpointSet() *BreakpointSet { return &BreakpointSet{} }

// Add arms a new breakpoint and returns its id for later Resume/Remove calls.
func (b *BreakpointSet) Add(bp Breakpoint) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.points = append(b.points, &bp)
	return len(b.points) - 1
}

// Remove disarms breakpoint id.
func (b *BreakpointSet) Remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id >= 0 && id < len(b.points) {
		b.points[id] = nil
	}
}

// Resume arms a one-time skip on breakpoint id: its next match is passed
// through silently instead of pausing execution again.
func (b *BreakpointSet) Resume(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id >= 0 && id < len(b.points) && b.points[id] != nil {
		b.points[id].skipNext = true
	}
}

// match attaches value to the returned exception so callers — notably the
// super-graph builder's dynamic-discovery pass — can publish the actual
// observed datum, not just which breakpoint fired.
func (b *BreakpointSet) match(pred func(*Breakpoint) bool, value Register) *VMException {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, bp := range b.points {
		if bp == nil || !pred(bp) {
			continue
		}
		if bp.skipNext {
			bp.skipNext = false
			continue
		}
		return &VMException{Kind: BreakpointHit, Message: "breakpoint hit", PC: bp.Address, MethodIdx: bp.MethodIdx, Context: bp.Signature + bp.FieldKey, Value: value}
	}
	return nil
}

func (b *BreakpointSet) checkAddress(dexID string, methodIdx uint32, pc int) *VMException {
	return b.match(func(bp *Breakpoint) bool {
		return bp.Kind == BreakAddress && bp.DexID == dexID && bp.MethodIdx == methodIdx && bp.Address == pc
	}, Register{})
}

func (b *BreakpointSet) checkField(fieldKey string, isPut bool, value Register) *VMException {
	want := BreakFieldGet
	if isPut {
		want = BreakFieldSet
	}
	return b.match(func(bp *Breakpoint) bool {
		return bp.Kind == want && bp.FieldKey == fieldKey
	}, value)
}

func (b *BreakpointSet) checkCall(signature string, entry bool) *VMException {
	want := BreakCallExit
	if entry {
		want = BreakCallEntry
	}
	return b.match(func(bp *Breakpoint) bool {
		return bp.Kind == want && bp.Signature == signature
	}, Register{})
}

// checkArgumentValue fires when signature is armed and any argument is a
// string or byte-array reference used as a call argument.
func (b *BreakpointSet) checkArgumentValue(m *Machine, signature string, args []Register) *VMException {
	hit, ok := firstStringOrArray(m, args)
	if !ok {
		return nil
	}
	return b.match(func(bp *Breakpoint) bool {
		return bp.Kind == BreakArgumentValue && bp.Signature == signature
	}, hit)
}

// checkReturnValue mirrors checkArgumentValue for a method's return value.
func (b *BreakpointSet) checkReturnValue(m *Machine, signature string, ret Register) *VMException {
	hit, ok := firstStringOrArray(m, []Register{ret})
	if !ok {
		return nil
	}
	return b.match(func(bp *Breakpoint) bool {
		return bp.Kind == BreakReturnValue && bp.Signature == signature
	}, hit)
}

func firstStringOrArray(m *Machine, regs []Register) (Register, bool) {
	for _, r := range regs {
		if r.Kind != RegRef {
			continue
		}
		if r.Type == "Ljava/lang/String;" {
			return r, true
		}
		obj, ok := m.Heap.Get(r.Addr)
		if ok && obj.Array != nil {
			return r, true
		}
	}
	return Register{}, false
}

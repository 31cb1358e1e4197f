package vm_test

import (
	"testing"

	"github.com/lookbusy1344/dexlab/dex"
	"github.com/lookbusy1344/dexlab/internal/testfixture"
	"github.com/lookbusy1344/dexlab/vm"
)

func loadMinimal(t *testing.T) (*dex.MultiDex, *dex.File) {
	t.Helper()
	data := testfixture.MinimalDex(t)
	f, err := dex.Decode(data, "minimal.dex")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	md := dex.NewMultiDex()
	if err := md.Add(f); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return md, f
}

func findMethod(t *testing.T, f *dex.File, name string) uint32 {
	t.Helper()
	for i := 0; i < f.Methods.Len(); i++ {
		if f.Methods.Name(uint32(i)) == name {
			return uint32(i)
		}
	}
	t.Fatalf("method %q not found", name)
	return 0
}

func TestStartConstAndReturn(t *testing.T) {
	md, f := loadMinimal(t)
	m := vm.NewMachine(md, 0xFFFFFFFF, 0, 0, 0)
	idx := findMethod(t, f, "main")

	ret, err := m.Start(f.ID(), idx, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := ret.AsInt32(); got != 42 {
		t.Fatalf("return value = %d, want 42", got)
	}
	if m.Mode() != vm.Finished {
		t.Fatalf("mode = %v, want Finished", m.Mode())
	}
}

func TestStartIsDeterministicAcrossRuns(t *testing.T) {
	md, f := loadMinimal(t)
	idx := findMethod(t, f, "main")

	m1 := vm.NewMachine(md, 0xFFFFFFFF, 0, 0, 0)
	r1, err := m1.Start(f.ID(), idx, nil)
	if err != nil {
		t.Fatalf("Start (run 1): %v", err)
	}

	m2 := vm.NewMachine(md, 0xFFFFFFFF, 0, 0, 0)
	r2, err := m2.Start(f.ID(), idx, nil)
	if err != nil {
		t.Fatalf("Start (run 2): %v", err)
	}

	if r1.AsInt32() != r2.AsInt32() {
		t.Fatalf("two runs with the same seed diverged: %d vs %d", r1.AsInt32(), r2.AsInt32())
	}
	if m1.Heap.Len() != m2.Heap.Len() {
		t.Fatalf("heap shapes diverged: %d vs %d objects", m1.Heap.Len(), m2.Heap.Len())
	}
}

func TestHeapAllocationIsReproducibleForSameSeed(t *testing.T) {
	h1 := vm.NewHeap(123, 5)
	h2 := vm.NewHeap(123, 5)

	a1, err := h1.AllocArray([]byte("x"))
	if err != nil {
		t.Fatalf("Alloc 1: %v", err)
	}
	a2, err := h2.AllocArray([]byte("x"))
	if err != nil {
		t.Fatalf("Alloc 2: %v", err)
	}
	if a1 != a2 {
		t.Fatalf("identical seeds produced different addresses: %d vs %d", a1, a2)
	}
}

func TestBuiltinMessageDigestSHA256(t *testing.T) {
	md, _ := loadMinimal(t)
	m := vm.NewMachine(md, 1, 0, 0, 0)

	algo, err := m.NewString("SHA-256")
	if err != nil {
		t.Fatalf("NewString: %v", err)
	}
	const digestClass = "Ljava/security/MessageDigest;"

	inst, handled, err := m.Builtins.Dispatch(m, digestClass, "getInstance", "L", []vm.Register{algo})
	if !handled || err != nil {
		t.Fatalf("getInstance: handled=%v err=%v", handled, err)
	}

	dataAddr, err := m.Heap.AllocArray([]byte("abc"))
	if err != nil {
		t.Fatalf("AllocArray: %v", err)
	}
	dataRef := vm.RefReg("[B", dataAddr)

	if _, handled, err := m.Builtins.Dispatch(m, digestClass, "update", "V", []vm.Register{inst, dataRef}); !handled || err != nil {
		t.Fatalf("update: handled=%v err=%v", handled, err)
	}

	sum, handled, err := m.Builtins.Dispatch(m, digestClass, "digest", "[B", []vm.Register{inst})
	if !handled || err != nil {
		t.Fatalf("digest: handled=%v err=%v", handled, err)
	}
	obj, ok := m.Heap.Get(sum.Addr)
	if !ok || len(obj.Array) != 32 {
		t.Fatalf("digest result is not a 32-byte SHA-256 sum")
	}
}

func TestBuiltinBase64RoundTrip(t *testing.T) {
	md, _ := loadMinimal(t)
	m := vm.NewMachine(md, 1, 0, 0, 0)
	const base64Class = "Landroid/util/Base64;"

	plainAddr, err := m.Heap.AllocArray([]byte("hello world"))
	if err != nil {
		t.Fatalf("AllocArray: %v", err)
	}
	plainRef := vm.RefReg("[B", plainAddr)

	encoded, handled, err := m.Builtins.Dispatch(m, base64Class, "encodeToString", "L", []vm.Register{plainRef})
	if !handled || err != nil {
		t.Fatalf("encodeToString: handled=%v err=%v", handled, err)
	}
	decoded, handled, err := m.Builtins.Dispatch(m, base64Class, "decode", "[B", []vm.Register{encoded})
	if !handled || err != nil {
		t.Fatalf("decode: handled=%v err=%v", handled, err)
	}
	obj, ok := m.Heap.Get(decoded.Addr)
	if !ok || string(obj.Array) != "hello world" {
		t.Fatalf("Base64 round-trip mismatch: %q", string(obj.Array))
	}
}

func TestStartRunsThroughSparseSwitchPseudoData(t *testing.T) {
	data := testfixture.SparseSwitchDex(t)
	f, err := dex.Decode(data, "switch.dex")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	md := dex.NewMultiDex()
	if err := md.Add(f); err != nil {
		t.Fatalf("Add: %v", err)
	}
	idx := findMethod(t, f, "switchtest")

	m := vm.NewMachine(md, 0xFFFFFFFF, 0, 0, 0)
	if _, err := m.Start(f.ID(), idx, nil); err != nil {
		t.Fatalf("Start: %v (sparse-switch-data pseudo-instruction must not clobber offset 0)", err)
	}
}

func TestBreakpointAddressPausesThenResumeRunsPast(t *testing.T) {
	md, f := loadMinimal(t)
	idx := findMethod(t, f, "main")
	m := vm.NewMachine(md, 1, 0, 0, 0)

	id := m.Breaks.Add(vm.Breakpoint{Kind: vm.BreakAddress, DexID: f.ID(), MethodIdx: idx, Address: 0})

	_, err := m.Start(f.ID(), idx, nil)
	bp, ok := vm.IsBreakpoint(err)
	if !ok {
		t.Fatalf("Start did not pause at the armed breakpoint: %v", err)
	}
	if bp.Kind != vm.BreakpointHit {
		t.Fatalf("unexpected exception kind %v", bp.Kind)
	}

	m.Breaks.Resume(id)
	ret, err := m.Start(f.ID(), idx, nil)
	if err != nil {
		t.Fatalf("Start after Resume should run to completion: %v", err)
	}
	if ret.AsInt32() != 42 {
		t.Fatalf("return value after resume = %d, want 42", ret.AsInt32())
	}
}

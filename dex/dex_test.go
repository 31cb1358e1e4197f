package dex

import (
	"testing"

	"github.com/lookbusy1344/dexlab/internal/testfixture"
	"github.com/lookbusy1344/dexlab/isa"
)

func TestDecodeMinimalClass(t *testing.T) {
	data := testfixture.MinimalDex(t)
	f, err := Decode(data, "minimal.dex")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Strings.Len() == 0 {
		t.Fatalf("expected a non-empty string pool")
	}
	classes := f.Classes.All()
	if len(classes) != 1 {
		t.Fatalf("expected 1 class, got %d", len(classes))
	}
	cd := classes[0]
	if cd.Name != "LMain;" {
		t.Fatalf("class name = %q, want LMain;", cd.Name)
	}
	if cd.Data == nil || len(cd.Data.DirectMethods) != 1 {
		t.Fatalf("expected exactly 1 direct method")
	}
	code, ok := f.MethodCode(cd.Data.DirectMethods[0].Index)
	if !ok {
		t.Fatalf("expected method to have code")
	}
	if err := code.ValidateBranchTargets(); err != nil {
		t.Fatalf("ValidateBranchTargets: %v", err)
	}
	if len(code.Instructions) == 0 {
		t.Fatalf("expected at least one instruction")
	}
}

func TestSparseSwitchPseudoDataKeepsOwnOffset(t *testing.T) {
	data := testfixture.SparseSwitchDex(t)
	f, err := Decode(data, "switch.dex")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var methodIdx uint32
	for i := 0; i < f.Methods.Len(); i++ {
		if f.Methods.Name(uint32(i)) == "switchtest" {
			methodIdx = uint32(i)
		}
	}
	code, ok := f.MethodCode(methodIdx)
	if !ok {
		t.Fatalf("switchtest has no code")
	}
	if err := code.ValidateBranchTargets(); err != nil {
		t.Fatalf("ValidateBranchTargets: %v", err)
	}

	sw, ok := code.At(0)
	if !ok {
		t.Fatalf("no instruction at offset 0")
	}
	if sw.Kind != isa.KindSwitch {
		t.Fatalf("instruction at offset 0 = %v, want the sparse-switch (pseudo-data offset assignment clobbered it)", sw.Kind)
	}

	cases, err := code.SwitchCases(sw)
	if err != nil {
		t.Fatalf("SwitchCases: %v", err)
	}
	if len(cases) != 3 {
		t.Fatalf("switch case count = %d, want 3", len(cases))
	}
	want := map[int32]int32{1: 4, 2: 5, 3: 6}
	for _, c := range cases {
		target, ok := want[c.Key]
		if !ok {
			t.Fatalf("unexpected case key %d", c.Key)
		}
		if c.Target != target {
			t.Fatalf("case key %d targets offset %d, want %d", c.Key, c.Target, target)
		}
	}
}

func TestMultiDexUniqueIdentifiers(t *testing.T) {
	data := testfixture.MinimalDex(t)
	f, err := Decode(data, "a.dex")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	md := NewMultiDex()
	if err := md.Add(f); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := md.Add(f); err == nil {
		t.Fatalf("expected duplicate identifier to be rejected")
	}
	if _, ok := md.Lookup(f.ID()); !ok {
		t.Fatalf("expected lookup to find the added file")
	}
}

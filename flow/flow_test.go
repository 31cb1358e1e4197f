package flow_test

import (
	"testing"

	"github.com/lookbusy1344/dexlab/dex"
	"github.com/lookbusy1344/dexlab/flow"
	"github.com/lookbusy1344/dexlab/internal/testfixture"
)

func loadMinimal(t *testing.T) *dex.File {
	t.Helper()
	data := testfixture.MinimalDex(t)
	f, err := dex.Decode(data, "minimal.dex")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return f
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

func TestRunStraightLineTracksConstant(t *testing.T) {
	f := loadMinimal(t)
	idx := findMethod(t, f, "main")
	code, ok := f.MethodCode(idx)
	if !ok {
		t.Fatalf("main has no code")
	}

	in := flow.NewInterpreter(f)
	res, err := in.Run(code)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Final) != 1 {
		t.Fatalf("final branch count = %d, want 1", len(res.Final))
	}
	if res.Truncated {
		t.Fatalf("straight-line run should not truncate")
	}
	got := res.Final[0].Register(0)
	if got.Kind != flow.ValNumber || got.Num != 42 {
		t.Fatalf("v0 at return = %v, want Number(42)", got)
	}
}

func TestFindAllBranchDecisionsEmptyOnStraightLine(t *testing.T) {
	f := loadMinimal(t)
	idx := findMethod(t, f, "main")
	code, _ := f.MethodCode(idx)

	in := flow.NewInterpreter(f)
	res, err := in.Run(code)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.FindAllBranchDecisions()) != 0 {
		t.Fatalf("expected no conditionals in a straight-line method")
	}
}

func TestRunSparseSwitchForksThreeBranches(t *testing.T) {
	data := testfixture.SparseSwitchDex(t)
	f, err := dex.Decode(data, "switch.dex")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	idx := findMethod(t, f, "switchtest")
	code, ok := f.MethodCode(idx)
	if !ok {
		t.Fatalf("switchtest has no code")
	}

	in := flow.NewInterpreter(f)
	res, err := in.Run(code)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Final) != 3 {
		t.Fatalf("final branch count = %d, want 3 (one per sparse-switch case)", len(res.Final))
	}
}

func TestTryGetValueFoldsArithmetic(t *testing.T) {
	md := dex.NewMultiDex()
	sum := flow.BuildBinary(flow.OpAdd, flow.NumberOf(19), flow.NumberOf(23))
	got, ok := flow.TryGetValue(sum, md)
	if !ok {
		t.Fatalf("TryGetValue did not resolve a pure-constant arithmetic chain")
	}
	if got.Kind != flow.ValNumber || got.Num != 42 {
		t.Fatalf("folded value = %v, want Number(42)", got)
	}
}

func TestTryGetValueFoldsBase64Transformation(t *testing.T) {
	md := dex.NewMultiDex()
	call := flow.Value{
		Kind: flow.ValVariable,
		Call: &flow.Transformation{
			ClassName:  "Landroid/util/Base64;",
			Method:     "decode",
			Shorty:     "[",
			Args:       []flow.Value{flow.StringOf("aGVsbG8=")},
			ReturnType: "[B",
		},
	}
	got, ok := flow.TryGetValue(call, md)
	if !ok {
		t.Fatalf("TryGetValue did not resolve the Base64.decode transformation")
	}
	if got.Kind != flow.ValByteSeq || string(got.Bytes) != "hello" {
		t.Fatalf("folded value = %v, want bytes(\"hello\")", got)
	}
}

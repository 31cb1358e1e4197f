package xref_test

import (
	"regexp"
	"testing"

	"github.com/lookbusy1344/dexlab/dex"
	"github.com/lookbusy1344/dexlab/internal/testfixture"
	"github.com/lookbusy1344/dexlab/xref"
)

func loadTwoClass(t *testing.T) *dex.MultiDex {
	t.Helper()
	data := testfixture.TwoClassDex(t)
	f, err := dex.Decode(data, "twoclass.dex")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	md := dex.NewMultiDex()
	if err := md.Add(f); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return md
}

func TestFindReferencesMethod(t *testing.T) {
	md := loadTwoClass(t)
	idx := xref.NewIndex()

	ctx := xref.Context{Kind: xref.KindMethod, ClassName: "LB;", MethodName: "target"}
	evs := idx.FindReferences(ctx, md)
	if len(evs) != 1 {
		t.Fatalf("FindReferences(method target) = %d hits, want 1: %+v", len(evs), evs)
	}
	if evs[0].Location.ClassName != "LA;" {
		t.Fatalf("reference found in wrong class: %+v", evs[0].Location)
	}
}

func TestFindReferencesString(t *testing.T) {
	md := loadTwoClass(t)
	idx := xref.NewIndex()

	ctx := xref.Context{Kind: xref.KindString, StringValue: "secret"}
	evs := idx.FindReferences(ctx, md)
	if len(evs) != 1 {
		t.Fatalf("FindReferences(string secret) = %d hits, want 1: %+v", len(evs), evs)
	}
	if evs[0].Location.ClassName != "LB;" {
		t.Fatalf("string reference found in wrong class: %+v", evs[0].Location)
	}
}

func TestFindReferencesType(t *testing.T) {
	md := loadTwoClass(t)
	idx := xref.NewIndex()

	ctx := xref.Context{Kind: xref.KindType, ClassName: "LB;"}
	evs := idx.FindReferences(ctx, md)
	if len(evs) != 1 {
		t.Fatalf("FindReferences(type LB;) = %d hits, want 1: %+v", len(evs), evs)
	}
}

func TestFindReferencesNoMatch(t *testing.T) {
	md := loadTwoClass(t)
	idx := xref.NewIndex()

	ctx := xref.Context{Kind: xref.KindMethod, ClassName: "LA;", MethodName: "doesNotExist"}
	evs := idx.FindReferences(ctx, md)
	if len(evs) != 0 {
		t.Fatalf("FindReferences(nonexistent method) = %d hits, want 0", len(evs))
	}
}

func TestSearchRegexStringExactMatch(t *testing.T) {
	md := loadTwoClass(t)
	idx := xref.NewIndex()

	re := regexp.MustCompile(`^secret$`)
	evs := idx.SearchRegex(re, []xref.ObjectKind{xref.KindString}, md)
	if len(evs) != 1 {
		t.Fatalf("SearchRegex(secret) = %d hits, want 1: %+v", len(evs), evs)
	}
	if evs[0].Confidence != xref.ConfidenceVeryHigh {
		t.Fatalf("exact string match confidence = %v, want VeryHigh", evs[0].Confidence)
	}
}

func TestSearchRegexPartialMatchLowerConfidence(t *testing.T) {
	md := loadTwoClass(t)
	idx := xref.NewIndex()

	re := regexp.MustCompile(`cre`)
	evs := idx.SearchRegex(re, []xref.ObjectKind{xref.KindString}, md)
	if len(evs) != 1 {
		t.Fatalf("SearchRegex(cre) = %d hits, want 1: %+v", len(evs), evs)
	}
	if evs[0].Confidence == xref.ConfidenceVeryHigh {
		t.Fatalf("partial match should not be VeryHigh confidence")
	}
}

func TestSearchRegexMethodNames(t *testing.T) {
	md := loadTwoClass(t)
	idx := xref.NewIndex()

	re := regexp.MustCompile(`^target$`)
	evs := idx.SearchRegex(re, []xref.ObjectKind{xref.KindMethod}, md)
	if len(evs) != 1 {
		t.Fatalf("SearchRegex(target) = %d hits, want 1: %+v", len(evs), evs)
	}
	if evs[0].Context.ClassName != "LB;" {
		t.Fatalf("method match attributed to wrong class: %+v", evs[0].Context)
	}
}

func TestSearchRegexKindFilterExcludesOtherPools(t *testing.T) {
	md := loadTwoClass(t)
	idx := xref.NewIndex()

	re := regexp.MustCompile(`target`)
	evs := idx.SearchRegex(re, []xref.ObjectKind{xref.KindType}, md)
	if len(evs) != 0 {
		t.Fatalf("SearchRegex restricted to KindType matched a method name: %+v", evs)
	}
}

package xref

import (
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lookbusy1344/dexlab/dex"
	"github.com/lookbusy1344/dexlab/isa"
)

// Index runs declaration-based cross-reference searches over a
// dex.MultiDex. It holds no state of its own; every method takes the
// MultiDex to search, matching the "Index.FindReferences(ctx, dexes)"
// contract.
type Index struct{}

// NewIndex returns a ready-to-use Index.
func NewIndex() *Index { return &Index{} }

// FindReferences returns every site in dexes that references ctx.
// Results are unordered across DEX files and classes; callers that need
// a stable order sort afterwards.
func (x *Index) FindReferences(ctx Context, dexes *dex.MultiDex) []Evidence {
	files := dexes.Files()
	results := make([][]Evidence, len(files))

	var g errgroup.Group
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			results[i] = x.findInFile(ctx, f)
			return nil
		})
	}
	_ = g.Wait() // findInFile never returns an error; Wait only joins the workers

	var out []Evidence
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func (x *Index) findInFile(ctx Context, f *dex.File) []Evidence {
	var out []Evidence
	for _, cd := range f.Classes.All() {
		if cd.Stub || cd.Data == nil {
			continue
		}
		members := append(append([]dex.EncodedMember{}, cd.Data.DirectMethods...), cd.Data.VirtualMethods...)
		for _, member := range members {
			code, ok := f.MethodCode(member.Index)
			if !ok {
				continue
			}
			methodSig := f.Methods.Signature(member.Index, f.Types, f.Protos)
			for _, inst := range code.Instructions {
				if ev, ok := x.matchInstruction(ctx, f, cd.Name, methodSig, inst); ok {
					out = append(out, ev)
				}
			}
		}
	}
	return out
}

func (x *Index) matchInstruction(ctx Context, f *dex.File, className, methodSig string, inst isa.Instruction) (Evidence, bool) {
	loc := Location{Kind: LocationInstruction, DexID: f.ID(), ClassName: className, MethodSig: methodSig, Offset: inst.Offset}

	switch ctx.Kind {
	case KindMethod:
		if inst.Kind != isa.KindInvoke {
			return Evidence{}, false
		}
		method := f.Methods.Get(inst.PoolIndex)
		if f.Methods.Name(inst.PoolIndex) != ctx.MethodName {
			return Evidence{}, false
		}
		if f.Types.Name(method.ClassType) != ctx.ClassName {
			return Evidence{}, false
		}
		return Evidence{Kind: EvidenceCrossReference, Context: ctx, Location: loc, Detail: "invoke"}, true

	case KindField, KindStaticField:
		if inst.Kind != isa.KindInstanceFieldOp && inst.Kind != isa.KindStaticFieldOp {
			return Evidence{}, false
		}
		if f.Fields.QualifiedName(inst.PoolIndex, f.Types) != ctx.FieldKey() {
			return Evidence{}, false
		}
		return Evidence{Kind: EvidenceCrossReference, Context: ctx, Location: loc, Detail: inst.Name}, true

	case KindType, KindClass:
		if matchTypeReference(f, ctx.ClassName, inst) {
			return Evidence{Kind: EvidenceCrossReference, Context: ctx, Location: loc, Detail: inst.Name}, true
		}
		return Evidence{}, false

	case KindString:
		if inst.Kind != isa.KindConstString {
			return Evidence{}, false
		}
		if f.Strings.Get(inst.PoolIndex) != ctx.StringValue {
			return Evidence{}, false
		}
		return Evidence{Kind: EvidenceCrossReference, Context: ctx, Location: loc, Detail: "const-string"}, true

	default:
		return Evidence{}, false
	}
}

// matchTypeReference implements the type-reference rule: any invoke into
// a method of that type, any new-instance of that type, or any field
// access whose declaring class is that type. Class references are the
// union of this plus new-instance by class index, which is already
// covered here since new-instance is type-keyed.
func matchTypeReference(f *dex.File, typeName string, inst isa.Instruction) bool {
	switch inst.Kind {
	case isa.KindInvoke:
		method := f.Methods.Get(inst.PoolIndex)
		return f.Types.Name(method.ClassType) == typeName
	case isa.KindNewInstance:
		return f.Types.Name(inst.PoolIndex) == typeName
	case isa.KindInstanceFieldOp, isa.KindStaticFieldOp:
		field := f.Fields.Get(inst.PoolIndex)
		return f.Types.Name(field.ClassType) == typeName
	default:
		return false
	}
}

// resultSink collects Evidence from concurrent workers under a single
// mutex, used by SearchRegex where per-file slices aren't pre-indexed by
// worker the way FindReferences's results[] is.
type resultSink struct {
	mu  sync.Mutex
	out []Evidence
}

func (s *resultSink) add(evs ...Evidence) {
	if len(evs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, evs...)
}

// stripDescriptor trims the leading 'L' and trailing ';' from a type
// descriptor, e.g. "Ljava/lang/String;" -> "java/lang/String", used so
// regex searches over "class name" match the conventional slash form
// rather than requiring callers to know the descriptor syntax.
func stripDescriptor(typeName string) string {
	s := typeName
	s = strings.TrimPrefix(s, "L")
	s = strings.TrimSuffix(s, ";")
	return s
}

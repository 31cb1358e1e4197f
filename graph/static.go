package graph

import (
	"fmt"
	"strings"

	"github.com/lookbusy1344/dexlab/dex"
	"github.com/lookbusy1344/dexlab/flow"
	"github.com/lookbusy1344/dexlab/isa"
)

// staticScan walks code's instructions once, wiring every string literal,
// field access, and call site it finds directly into cs — the structural
// half of per-method discovery, no execution required.
func staticScan(f *dex.File, sig string, code *dex.CodeItem, cs *ChangeSet) {
	methodKey := MethodKey(sig)
	for _, inst := range code.Instructions {
		switch inst.Kind {
		case isa.KindConstString:
			s := f.Strings.Get(inst.PoolIndex)
			strKey := StringKey(s)
			cs.Add(Node{Key: strKey, Kind: NodeString, Label: s, DexID: f.ID()},
				Edge{From: strKey, To: methodKey, Kind: EdgeStringRef})

		case isa.KindInstanceFieldOp, isa.KindStaticFieldOp:
			field := f.Fields.Get(inst.PoolIndex)
			fKey := FieldKey(f.ID(), field.ClassType, field.NameIdx)
			label := f.Fields.QualifiedName(inst.PoolIndex, f.Types)
			if strings.Contains(inst.Name, "put") {
				cs.Add(Node{Key: fKey, Kind: NodeField, Label: label, DexID: f.ID()},
					Edge{From: methodKey, To: fKey, Kind: EdgeFieldWrite})
			} else {
				cs.Add(Node{Key: fKey, Kind: NodeField, Label: label, DexID: f.ID()},
					Edge{From: fKey, To: methodKey, Kind: EdgeFieldRead})
			}

		case isa.KindInvoke:
			calleeSig := f.Methods.Signature(inst.PoolIndex, f.Types, f.Protos)
			calleeKey := MethodKey(calleeSig)
			cs.Add(Node{Key: calleeKey, Kind: NodeMethod, Label: calleeSig, DexID: f.ID()},
				Edge{From: methodKey, To: calleeKey, Kind: EdgeCall})
		}
	}
}

// symbolicScan runs the abstract interpreter over code and publishes every
// call argument it proved constant — no guesswork about runtime values,
// only what flow.Interpreter can actually derive from the method's own
// instructions.
func symbolicScan(f *dex.File, sig string, code *dex.CodeItem, cs *ChangeSet) {
	result, err := flow.NewInterpreter(f).Run(code)
	if err != nil {
		return // a method the interpreter can't model contributes no symbolic edges
	}
	methodKey := MethodKey(sig)
	for _, call := range result.Calls {
		calleeKey := MethodKey(call.Signature)
		for i, arg := range call.Args {
			if !arg.IsConstant() {
				continue
			}
			content := arg.String()
			key := staticArgKey(sig, call.Signature, i, content)
			node := Node{Key: key, Kind: NodeStaticArgument, Label: content, DexID: f.ID()}
			cs.Add(node, Edge{From: methodKey, To: key, Kind: EdgeStaticArgument})
			cs.Edges = append(cs.Edges, Edge{From: key, To: calleeKey, Kind: EdgeStaticArgument})
		}
	}
}

// calleeSignatures returns the deduplicated, fully qualified signatures of
// every method code invokes, in first-seen order.
func calleeSignatures(f *dex.File, code *dex.CodeItem) []string {
	seen := make(map[string]bool)
	var out []string
	for _, inst := range code.Instructions {
		if inst.Kind != isa.KindInvoke {
			continue
		}
		sig := f.Methods.Signature(inst.PoolIndex, f.Types, f.Protos)
		if seen[sig] {
			continue
		}
		seen[sig] = true
		out = append(out, sig)
	}
	return out
}

// writtenFieldKeys returns the deduplicated "Class;->name" keys of every
// field code writes, matching the FieldKey convention vm.Breakpoint and
// the heap's static-field map both use.
func writtenFieldKeys(f *dex.File, code *dex.CodeItem) []string {
	seen := make(map[string]bool)
	var out []string
	for _, inst := range code.Instructions {
		if inst.Kind != isa.KindInstanceFieldOp && inst.Kind != isa.KindStaticFieldOp {
			continue
		}
		if !strings.Contains(inst.Name, "put") {
			continue
		}
		key := f.Fields.QualifiedName(inst.PoolIndex, f.Types)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}

func annotationKey(className, content string) NodeKey {
	return NodeKey(fmt.Sprintf("AN_%s_%s", className, content))
}

// annotationChangeSet surfaces cd's class-level annotation literals as
// constant nodes attached to its class node — the EncodedValue
// annotation-directory decoding supplemented into dex.ClassDef.Annotations.
func annotationChangeSet(f *dex.File, cd *dex.ClassDef) ChangeSet {
	var cs ChangeSet
	classKey := ClassKey(cd.Name)
	for _, v := range cd.Annotations {
		if v.Str == 0 {
			continue // index 0 is indistinguishable from "no string payload" for this value shape
		}
		content := f.Strings.Get(v.Str)
		key := annotationKey(cd.Name, content)
		cs.Add(Node{Key: key, Kind: NodeStaticArgument, Label: content, DexID: f.ID()},
			Edge{From: classKey, To: key, Kind: EdgeAnnotationValue})
	}
	return cs
}

package graph

import (
	"fmt"

	"github.com/lookbusy1344/dexlab/dex"
	"github.com/lookbusy1344/dexlab/vm"
)

// returnMarker disambiguates a BreakReturnValue breakpoint from a
// BreakArgumentValue one sharing the same Signature: vm.VMException.Context
// is Signature+FieldKey, and checkReturnValue's match predicate ignores
// FieldKey, so stamping it here is invisible to matching but distinguishes
// the two Context strings the builder sees back.
const returnMarker = "\x01return"

// armBreakpoints arms one argument and one return breakpoint per callee
// signature method invokes, plus a field-set breakpoint per field it
// writes, and returns a lookup from VMException.Context back to the
// breakpoint id Resume needs.
func armBreakpoints(m *vm.Machine, calleeSigs, fieldKeys []string) map[string]int {
	ids := make(map[string]int, 2*len(calleeSigs)+len(fieldKeys))
	for _, sig := range calleeSigs {
		ids[sig] = m.Breaks.Add(vm.Breakpoint{Kind: vm.BreakArgumentValue, Signature: sig})
		ids[sig+returnMarker] = m.Breaks.Add(vm.Breakpoint{Kind: vm.BreakReturnValue, Signature: sig, FieldKey: returnMarker})
	}
	for _, fk := range fieldKeys {
		ids[fk] = m.Breaks.Add(vm.Breakpoint{Kind: vm.BreakFieldSet, FieldKey: fk})
	}
	return ids
}

// synthesizeArgs builds a plausible argument list for member: a fresh
// instance for an implicit "this" on non-static methods, then one
// zero-value register per parameter character of the shorty (the
// return-type character is skipped) via vm.SynthesizeArgument.
func synthesizeArgs(m *vm.Machine, f *dex.File, cd *dex.ClassDef, member dex.EncodedMember, code *dex.CodeItem) []vm.Register {
	method := f.Methods.Get(member.Index)
	proto := f.Protos.Get(method.Proto)

	var args []vm.Register
	if member.AccessFlags&dex.AccStatic == 0 {
		if addr, _, err := m.Heap.AllocInstance(cd.Name); err == nil {
			args = append(args, vm.RefReg(cd.Name, addr))
		}
	}
	for i := 1; i < len(proto.Shorty); i++ {
		args = append(args, vm.SynthesizeArgument(proto.Shorty[i]))
	}
	if len(args) > code.InsSize {
		args = args[:code.InsSize]
	}
	return args
}

// describeValue renders r's content as a short label when it names
// something worth surfacing as a graph node (a string or an array), and
// reports whether it does.
func describeValue(m *vm.Machine, r vm.Register) (string, bool) {
	if s, ok := m.ReadString(r); ok {
		return s, true
	}
	if r.Kind == vm.RegRef {
		if obj, ok := m.Heap.Get(r.Addr); ok && obj.Array != nil {
			return fmt.Sprintf("bytes[%d]", len(obj.Array)), true
		}
	}
	return "", false
}

// recordDynamicValue publishes a dynamic-argument or dynamic-return node
// for an observed value, if it has content worth recording.
func recordDynamicValue(m *vm.Machine, cs *ChangeSet, sig string, v vm.Register, isReturn bool) {
	content, ok := describeValue(m, v)
	if !ok {
		return
	}
	methodKey := MethodKey(sig)
	if isReturn {
		key := dynamicReturnKey(sig, content)
		cs.Add(Node{Key: key, Kind: NodeDynamicReturn, Label: content}, Edge{From: methodKey, To: key, Kind: EdgeDynamicReturn})
		return
	}
	key := dynamicArgKey(sig, content)
	cs.Add(Node{Key: key, Kind: NodeDynamicArgument, Label: content}, Edge{From: methodKey, To: key, Kind: EdgeDynamicArgument})
}

// runDynamic drives m through member's body, resuming past every armed
// breakpoint it hits and recording the values each one observed, bounded
// by maxResumes so an unrecognised exception (or a breakpoint whose
// Context doesn't match anything armed) can't spin forever. A
// concrete-execution worker that hits a real VMException returns without
// logging, keeping what it already recorded, rather than aborting the
// whole pass.
func runDynamic(m *vm.Machine, f *dex.File, member dex.EncodedMember, sig string, args []vm.Register, ids map[string]int, maxResumes int, cs *ChangeSet) {
	for attempt := 0; attempt < maxResumes; attempt++ {
		ret, err := m.Start(f.ID(), member.Index, args)
		if err == nil {
			recordDynamicValue(m, cs, sig, ret, true)
			return
		}
		ve, ok := vm.IsBreakpoint(err)
		if !ok {
			return // a genuine exception: this method contributes what it already found
		}
		recordDynamicValue(m, cs, sig, ve.Value, len(ve.Context) >= len(returnMarker) && ve.Context[len(ve.Context)-len(returnMarker):] == returnMarker)
		id, known := ids[ve.Context]
		if !known {
			return
		}
		m.Breaks.Resume(id)
	}
}

// dynamicScan concretely executes member under a breakpoint-armed machine
// scoped to this single call, surfacing every argument/return value the
// execution actually observes. This dynamic-discovery pass is restricted
// to whitelisted classes and <clinit> per the builder's emulation-boundary
// rule.
func dynamicScan(dexes *dex.MultiDex, f *dex.File, cd *dex.ClassDef, member dex.EncodedMember, sig string, code *dex.CodeItem, opts BuildOptions, cs *ChangeSet) {
	calleeSigs := calleeSignatures(f, code)
	fieldKeys := writtenFieldKeys(f, code)
	if len(calleeSigs) == 0 && len(fieldKeys) == 0 {
		return // nothing to observe: running it would tell the graph nothing new
	}

	m := vm.NewMachine(dexes, opts.HeapSeed, opts.MaxMallocRetries, opts.MaxInstructions, opts.MaxStackDepth)
	ids := armBreakpoints(m, calleeSigs, fieldKeys)
	args := synthesizeArgs(m, f, cd, member, code)

	maxResumes := opts.MaxDynamicResumes
	if maxResumes <= 0 {
		maxResumes = len(ids) + 4
	}
	runDynamic(m, f, member, sig, args, ids, maxResumes, cs)
}

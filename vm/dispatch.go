package vm

import (
	"fmt"

	"github.com/lookbusy1344/dexlab/dex"
	"github.com/lookbusy1344/dexlab/isa"
)

// execInvoke resolves and runs the call target for an invoke-* instruction,
// trying (in order) the current DEX's own code, a method with the same
// class and method name in any other loaded DEX (the prototype is not
// compared), and finally the built-in runtime table. An
// unresolved <init> degrades silently to a no-op rather than failing the
// whole method, matching how a constructor for a library superclass the
// toolkit has no body for is routinely a dead end in practice.
func (m *Machine) execInvoke(frame *Frame, inst isa.Instruction) (Register, error) {
	f, ok := m.Dexes.Lookup(frame.DexID)
	if !ok {
		return Register{}, fmt.Errorf("vm: frame references unknown dex %q", frame.DexID)
	}
	method := f.Methods.Get(inst.PoolIndex)
	name := f.Methods.Name(inst.PoolIndex)
	className := f.Types.Name(method.ClassType)
	proto := f.Protos.Get(method.Proto)
	signature := f.Methods.Signature(inst.PoolIndex, f.Types, f.Protos)

	args := make([]Register, len(inst.ArgRegisters))
	for i, r := range inst.ArgRegisters {
		v, err := frame.Get(r)
		if err != nil {
			return Register{}, err
		}
		args[i] = v
	}

	if bp := m.Breaks.checkCall(signature, true); bp != nil {
		return Register{}, bp
	}
	if bp := m.Breaks.checkArgumentValue(m, signature, args); bp != nil {
		return Register{}, bp
	}

	ret, err := m.invokeResolved(f, inst.PoolIndex, className, name, proto.Shorty, args)
	if err != nil {
		return Register{}, err
	}

	if bp := m.Breaks.checkCall(signature, false); bp != nil {
		return Register{}, bp
	}
	if bp := m.Breaks.checkReturnValue(m, signature, ret); bp != nil {
		return Register{}, bp
	}
	return ret, nil
}

// invokeResolved dispatches a method already broken down into its class
// name, method name, and shorty: the shape both execInvoke and codeless
// top-level Start() calls need.
func (m *Machine) invokeResolved(f *dex.File, methodIdx uint32, className, methodName, shorty string, args []Register) (Register, error) {
	if err := m.ensureClinit(f.ID(), className); err != nil {
		return Register{}, err
	}

	if code, ok := f.MethodCode(methodIdx); ok {
		return m.runFrame(f.ID(), methodIdx, code, args)
	}

	for _, other := range m.Dexes.Files() {
		if other == f {
			continue
		}
		for idx := 0; idx < other.Methods.Len(); idx++ {
			om := other.Methods.Get(uint32(idx))
			if other.Types.Name(om.ClassType) != className || other.Methods.Name(uint32(idx)) != methodName {
				continue
			}
			if code, ok := other.MethodCode(uint32(idx)); ok {
				return m.runFrame(other.ID(), uint32(idx), code, args)
			}
		}
	}

	if ret, handled, err := m.Builtins.Dispatch(m, className, methodName, shorty, args); handled {
		return ret, err
	}

	if methodName == "<init>" {
		return EmptyReg(), nil
	}
	return Register{}, NewException(MethodNotFound, className+"->"+methodName+" has no code and no built-in")
}

// invokeCodeless handles a top-level Start() call against a method with no
// CodeItem of its own (abstract, native, or library): it only has a
// chance via the built-in table.
func (m *Machine) invokeCodeless(f *dex.File, methodIdx uint32, args []Register) (Register, error) {
	method := f.Methods.Get(methodIdx)
	name := f.Methods.Name(methodIdx)
	className := f.Types.Name(method.ClassType)
	proto := f.Protos.Get(method.Proto)
	return m.invokeResolved(f, methodIdx, className, name, proto.Shorty, args)
}

// ensureClinit runs dexID's className's <clinit>, if present and not
// already run, before any static field access or instance construction
// touches that class. Running is flagged before recursing so a class
// whose <clinit> (indirectly) references itself does not loop forever.
func (m *Machine) ensureClinit(dexID, className string) error {
	key := dexID + "|" + className
	switch m.clinitState[key] {
	case clinitDone, clinitRunning:
		return nil
	}
	m.clinitState[key] = clinitRunning

	f, ok := m.Dexes.Lookup(dexID)
	if !ok {
		m.clinitState[key] = clinitDone
		return nil
	}
	cd, ok := f.Classes.Get(className)
	if !ok || cd.Stub || cd.Data == nil {
		m.clinitState[key] = clinitDone
		return nil
	}

	for _, member := range cd.Data.DirectMethods {
		if f.Methods.Name(member.Index) != "<clinit>" {
			continue
		}
		code, ok := f.MethodCode(member.Index)
		if !ok {
			continue
		}
		prevMode := m.mode
		m.mode = StaticInitializer
		_, err := m.runFrame(dexID, member.Index, code, nil)
		m.mode = prevMode
		if err != nil {
			return fmt.Errorf("vm: %s<clinit>: %w", className, err)
		}
		break
	}
	m.clinitState[key] = clinitDone
	return nil
}

package flow

// StaticRegister is the symbolic analogue of vm.Register: a register
// number plus whatever the interpreter currently knows about its
// contents.
type StaticRegister struct {
	Number      int32
	IsArgument  bool
	ArgPosition int
	IsArray     bool
	NominalType string
	Datum       Value
}

func newStaticRegister(number int32) StaticRegister {
	return StaticRegister{Number: number, Datum: Empty()}
}

// argumentRegister seeds a StaticRegister for an incoming parameter: its
// concrete datum is Unknown until a caller supplies one via TryGetValue
// or the super-graph builder's shorty-driven synthesis.
func argumentRegister(number int32, position int, nominalType string, isArray bool) StaticRegister {
	return StaticRegister{
		Number:      number,
		IsArgument:  true,
		ArgPosition: position,
		IsArray:     isArray,
		NominalType: nominalType,
		Datum:       Unknown(nominalType),
	}
}

// registerFile is the ordered vector of StaticRegisters a Branch carries;
// forked branches clone it by value so each leg's writes are independent.
type registerFile []StaticRegister

func newRegisterFile(size int) registerFile {
	rf := make(registerFile, size)
	for i := range rf {
		rf[i] = newStaticRegister(int32(i))
	}
	return rf
}

func (rf registerFile) clone() registerFile {
	out := make(registerFile, len(rf))
	copy(out, rf)
	return out
}

func (rf registerFile) get(v int32) Value {
	if int(v) < 0 || int(v) >= len(rf) {
		return Invalid()
	}
	return rf[v].Datum
}

func (rf registerFile) set(v int32, val Value) {
	if int(v) < 0 || int(v) >= len(rf) {
		return
	}
	rf[v].Datum = val
}

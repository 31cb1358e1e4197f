package flow

import (
	"strings"

	"github.com/lookbusy1344/dexlab/dex"
	"github.com/lookbusy1344/dexlab/isa"
)

const (
	defaultMaxIterations = 1000
	defaultMaxBranches   = 1000
)

// Interpreter is a symbolic interpreter bound to one DEX file: it resolves
// const-string/const-class/field/method pool references through that
// file's pools while walking a method body.
type Interpreter struct {
	File *dex.File

	MaxIterations int
	MaxBranches   int
}

// NewInterpreter builds an Interpreter over f, with the default iteration
// and branch caps.
func NewInterpreter(f *dex.File) *Interpreter {
	return &Interpreter{File: f, MaxIterations: defaultMaxIterations, MaxBranches: defaultMaxBranches}
}

// Result accumulates everything a Run produced: the decisions and calls
// witnessed at the moment the interpreter ticked past them, and the final
// resting state of every branch (terminated by return/throw or halted by
// a cap).
type Result struct {
	Decisions []BranchDecision
	Calls     []CallSite
	Final     []*Branch
	Truncated bool // true if a cap stopped exploration before every branch finished
}

// FindAllBranchDecisions returns every conditional the interpreter ticked
// through, across every branch, in tick order.
func (r *Result) FindAllBranchDecisions() []BranchDecision { return r.Decisions }

// FindAllCalls returns every recorded call whose target signature matches.
func (r *Result) FindAllCalls(signature string) []CallSite {
	var out []CallSite
	for _, c := range r.Calls {
		if c.Signature == signature {
			out = append(out, c)
		}
	}
	return out
}

// Run explores code's control flow symbolically, starting from offset 0
// with size-many Unknown argument registers bound into the ins window.
func (in *Interpreter) Run(code *dex.CodeItem) (*Result, error) {
	args := make([]Value, code.InsSize)
	for i := range args {
		args[i] = Unknown("")
	}
	return in.RunFrom(code, 0, args)
}

// RunFrom explores code starting at startPC, optionally seeding the ins
// window of the register file with concrete argument values.
func (in *Interpreter) RunFrom(code *dex.CodeItem, startPC int, args []Value) (*Result, error) {
	rf := newRegisterFile(code.RegistersSize)
	insBase := code.RegistersSize - code.InsSize
	for i, a := range args {
		if insBase+i >= 0 && insBase+i < len(rf) {
			rf[insBase+i] = StaticRegister{Number: int32(insBase + i), IsArgument: true, ArgPosition: i, Datum: a}
		}
	}

	root := &Branch{ID: 0, PC: startPC, Regs: rf}
	live := []*Branch{root}
	nextID := 1
	alreadyBranched := make(map[int]bool)

	res := &Result{}
	ticks := 0
	for len(live) > 0 {
		if ticks >= in.MaxIterations || len(live) > in.MaxBranches {
			res.Truncated = true
			res.Final = append(res.Final, live...)
			break
		}
		ticks++

		var next []*Branch
		for _, b := range live {
			if b.done {
				res.Final = append(res.Final, b)
				continue
			}
			inst, ok := code.At(b.PC)
			if !ok {
				b.done = true
				res.Final = append(res.Final, b)
				continue
			}
			forked := in.step(code, b, inst, &nextID, alreadyBranched, res)
			next = append(next, forked...)
		}
		live = next
	}
	for _, b := range live {
		if !b.done {
			res.Final = append(res.Final, b)
		}
	}
	return res, nil
}

// step advances one branch by one instruction, returning the branches
// that continue (0, 1, or many, for a fork).
func (in *Interpreter) step(code *dex.CodeItem, b *Branch, inst isa.Instruction, nextID *int, alreadyBranched map[int]bool, res *Result) []*Branch {
	switch inst.Kind {
	case isa.KindReturn, isa.KindThrow:
		b.done = true
		return []*Branch{b}

	case isa.KindConst, isa.KindConstString, isa.KindConstClass:
		in.execConst(code, b, inst)
		b.PC += inst.Size
		return []*Branch{b}

	case isa.KindMove:
		b.Regs.set(inst.A, b.Regs.get(inst.B))
		b.PC += inst.Size
		return []*Branch{b}

	case isa.KindUnaryOp:
		in.execUnary(b, inst)
		b.PC += inst.Size
		return []*Branch{b}

	case isa.KindBinaryOp, isa.KindBinaryOpLit:
		in.execBinary(b, inst)
		b.PC += inst.Size
		return []*Branch{b}

	case isa.KindNewArray:
		size := b.Regs.get(inst.B)
		typeName := in.File.Types.Name(inst.PoolIndex)
		if size.Kind == ValNumber {
			b.Regs.set(inst.A, Value{Kind: ValUnknown, Type: typeName, Num: size.Num})
		} else {
			b.Regs.set(inst.A, Unknown(typeName))
		}
		b.PC += inst.Size
		return []*Branch{b}

	case isa.KindArrayLen:
		arr := b.Regs.get(inst.B)
		if arr.Kind == ValUnknown && strings.HasPrefix(arr.Type, "[") {
			b.Regs.set(inst.A, NumberOf(arr.Num))
		} else if arr.Kind == ValByteSeq {
			b.Regs.set(inst.A, NumberOf(int64(len(arr.Bytes))))
		} else {
			b.Regs.set(inst.A, Value{Kind: ValNumber})
		}
		b.PC += inst.Size
		return []*Branch{b}

	case isa.KindNewInstance:
		typeName := in.File.Types.Name(inst.PoolIndex)
		b.Regs.set(inst.A, OpaqueOf(typeName))
		b.PC += inst.Size
		return []*Branch{b}

	case isa.KindInvoke:
		in.execInvoke(code, b, inst, res)
		b.PC += inst.Size
		return []*Branch{b}

	case isa.KindInstanceFieldOp, isa.KindStaticFieldOp:
		in.execFieldOp(b, inst)
		b.PC += inst.Size
		return []*Branch{b}

	case isa.KindGoto:
		b.PC += int(inst.BranchOffset)
		return []*Branch{b}

	case isa.KindIfTest, isa.KindIfTestZ:
		return in.execIf(code, b, inst, nextID, alreadyBranched, res)

	case isa.KindSwitch:
		return in.execSwitch(code, b, inst, nextID, alreadyBranched, res)

	case isa.KindCheckCast, isa.KindMonitor, isa.KindNop, isa.KindFillArrayData:
		// check-cast asserts a runtime type and is otherwise an identity
		// operation on its operand register; monitor/nop/fill-array-data
		// have no register-write effect the interpreter needs to model.
		b.PC += inst.Size
		return []*Branch{b}

	case isa.KindInstanceOf, isa.KindFilledNewArray, isa.KindArrayOp:
		// Recognised but not precisely modelled: only the destination
		// register (if any) becomes Unknown — everything else the branch
		// already knows, including constants in loop-carried registers,
		// survives.
		in.clearOnlyDestination(b, inst)
		b.PC += inst.Size
		return []*Branch{b}

	default:
		in.clearOnlyDestination(b, inst)
		b.PC += inst.Size
		return []*Branch{b}
	}
}

func (in *Interpreter) execConst(code *dex.CodeItem, b *Branch, inst isa.Instruction) {
	switch inst.Kind {
	case isa.KindConstString:
		b.Regs.set(inst.A, StringOf(in.File.Strings.Get(inst.PoolIndex)))
	case isa.KindConstClass:
		b.Regs.set(inst.A, OpaqueOf(in.File.Types.Name(inst.PoolIndex)))
	default:
		b.Regs.set(inst.A, NumberOf(inst.Lit))
	}
}

func (in *Interpreter) execUnary(b *Branch, inst isa.Instruction) {
	v := b.Regs.get(inst.B)
	switch inst.Name {
	case "neg-int", "neg-long":
		b.Regs.set(inst.A, symbolicUnary(OpUnaryNeg, v))
	case "not-int", "not-long":
		b.Regs.set(inst.A, symbolicUnary(OpUnaryNot, v))
	case "int-to-byte":
		if v.Kind == ValNumber {
			b.Regs.set(inst.A, ByteOf(int64(int8(v.Num))))
		} else {
			b.Regs.set(inst.A, Unknown(""))
		}
	case "int-to-char":
		if v.Kind == ValNumber {
			b.Regs.set(inst.A, CharOf(int64(uint16(v.Num))))
		} else {
			b.Regs.set(inst.A, Unknown(""))
		}
	default:
		// int-to-long, long-to-int, int-to-short, and the float/double
		// conversions: value passes through, matching the concrete VM's
		// documented simplification of not modelling IEEE-754 precisely.
		b.Regs.set(inst.A, v)
	}
}

func symbolicUnary(op Op, v Value) Value {
	if v.Kind == ValNumber {
		switch op {
		case OpUnaryNeg:
			return NumberOf(-v.Num)
		case OpUnaryNot:
			return NumberOf(^v.Num)
		}
	}
	return Value{Kind: ValVariable, VarOp: op, Operands: []Value{v}, DependsOnArgument: v.DependsOnArgument}
}

func (in *Interpreter) execBinary(b *Branch, inst isa.Instruction) {
	name := baseArithName(inst.Name)
	op, ok := arithOp(name)
	if !ok {
		b.Regs.set(inst.A, Value{Kind: ValUnknown})
		return
	}
	var rhs Value
	if inst.Kind == isa.KindBinaryOpLit {
		rhs = NumberOf(inst.Lit)
	} else {
		rhs = b.Regs.get(inst.C)
	}
	lhs := b.Regs.get(inst.B)
	if name == "rsub-int" {
		lhs, rhs = rhs, lhs
	}
	b.Regs.set(inst.A, binaryOp(op, lhs, rhs))
}

// baseArithName strips the "/2addr" and "/litN" suffixes so every spelling
// of an arithmetic mnemonic maps to one symbolic Op, mirroring
// vm.litBaseName's role in the concrete interpreter.
func baseArithName(name string) string {
	if i := strings.Index(name, "/"); i >= 0 {
		base := name[:i]
		if strings.HasSuffix(name, "/lit16") || strings.HasSuffix(name, "/lit8") || strings.HasSuffix(name, "/2addr") {
			if base == "rsub-int" {
				return "rsub-int"
			}
			return base
		}
	}
	return name
}

func arithOp(name string) (Op, bool) {
	switch name {
	case "add-int", "add-long":
		return OpAdd, true
	case "sub-int", "sub-long", "rsub-int":
		return OpSub, true
	case "mul-int", "mul-long":
		return OpMul, true
	case "div-int", "div-long":
		return OpDiv, true
	case "rem-int", "rem-long":
		return OpRem, true
	case "and-int", "and-long":
		return OpAnd, true
	case "or-int", "or-long":
		return OpOr, true
	case "xor-int", "xor-long":
		return OpXor, true
	case "shl-int", "shl-long":
		return OpShl, true
	case "shr-int", "shr-long", "ushr-int", "ushr-long":
		return OpShr, true
	default:
		return 0, false
	}
}

func (in *Interpreter) execFieldOp(b *Branch, inst isa.Instruction) {
	if strings.Contains(inst.Name, "put") {
		return
	}
	typeName := in.File.Types.Name(in.File.Fields.Get(inst.PoolIndex).Type)
	b.Regs.set(inst.A, Unknown(typeName))
}

func (in *Interpreter) execInvoke(code *dex.CodeItem, b *Branch, inst isa.Instruction, res *Result) {
	method := in.File.Methods.Get(inst.PoolIndex)
	signature := in.File.Methods.Signature(inst.PoolIndex, in.File.Types, in.File.Protos)
	className := in.File.Types.Name(method.ClassType)
	methodName := in.File.Methods.Name(inst.PoolIndex)
	proto := in.File.Protos.Get(method.Proto)

	args := make([]Value, 0, len(inst.ArgRegisters))
	dependsOnArg := false
	for _, r := range inst.ArgRegisters {
		v := b.Regs.get(r)
		args = append(args, v)
		if v.DependsOnArgument || v.Kind == ValUnknown {
			dependsOnArg = true
		}
	}

	result := Value{
		Kind: ValVariable,
		Call: &Transformation{
			ClassName:  className,
			Method:     methodName,
			Shorty:     proto.Shorty,
			Args:       args,
			ReturnType: in.File.Types.Name(proto.ReturnType),
		},
		DependsOnArgument: dependsOnArg,
	}

	b.LastCall = &CallWitness{Signature: signature, Args: args, Result: result}
	res.Calls = append(res.Calls, CallSite{BranchID: b.ID, Signature: signature, Args: args, Result: result})

	// move-result* (if present) reads this; the interpreter itself has no
	// dedicated return register, so invoke just remembers the witness —
	// a following move-result picks it up via the next instruction's own
	// semantics once wired by the caller (graph publishes it directly from
	// LastCall rather than re-deriving it from a move-result scan).
}

func (in *Interpreter) execIf(code *dex.CodeItem, b *Branch, inst isa.Instruction, nextID *int, alreadyBranched map[int]bool, res *Result) []*Branch {
	res.Decisions = append(res.Decisions, BranchDecision{BranchID: b.ID, PC: b.PC, Mnemonic: inst.Name})

	lhs := b.Regs.get(inst.A)
	var rhs Value
	if inst.Kind == isa.KindIfTest {
		rhs = b.Regs.get(inst.B)
	} else {
		rhs = NumberOf(0)
	}

	takenPC := b.PC + int(inst.BranchOffset)
	fallPC := b.PC + inst.Size

	if lhs.IsConstant() && rhs.IsConstant() && lhs.Kind == ValNumber && rhs.Kind == ValNumber {
		taken := evalCompare(inst.Name, lhs.Num, rhs.Num)
		dest := fallPC
		if taken {
			dest = takenPC
		}
		b.PC = dest
		b.LastDead = &BranchWitness{DecisionPC: inst.Offset, TakenPC: dest}
		return []*Branch{b}
	}

	if alreadyBranched[inst.Offset] {
		// A loop revisiting the same conditional: keep exploring only the
		// fall-through leg to avoid refork-explosion.
		b.PC = fallPC
		return []*Branch{b}
	}
	alreadyBranched[inst.Offset] = true

	taken := b.fork(*nextID, takenPC)
	*nextID++
	b.PC = fallPC
	return []*Branch{b, taken}
}

func evalCompare(mnemonic string, a, c int64) bool {
	switch mnemonic {
	case "if-eq", "if-eqz":
		return a == c
	case "if-ne", "if-nez":
		return a != c
	case "if-lt", "if-ltz":
		return a < c
	case "if-ge", "if-gez":
		return a >= c
	case "if-gt", "if-gtz":
		return a > c
	case "if-le", "if-lez":
		return a <= c
	default:
		return false
	}
}

func (in *Interpreter) execSwitch(code *dex.CodeItem, b *Branch, inst isa.Instruction, nextID *int, alreadyBranched map[int]bool, res *Result) []*Branch {
	res.Decisions = append(res.Decisions, BranchDecision{BranchID: b.ID, PC: b.PC, Mnemonic: "switch"})

	cases, err := code.SwitchCases(inst)
	if err != nil || len(cases) == 0 {
		b.PC += inst.Size
		return []*Branch{b}
	}
	if alreadyBranched[inst.Offset] {
		b.PC += inst.Size
		return []*Branch{b}
	}
	alreadyBranched[inst.Offset] = true

	key := b.Regs.get(inst.A)
	if key.Kind == ValNumber {
		for _, c := range cases {
			if int64(c.Key) == key.Num {
				b.PC = c.Target
				return []*Branch{b}
			}
		}
		b.PC += inst.Size
		return []*Branch{b}
	}

	out := make([]*Branch, 0, len(cases))
	for i, c := range cases {
		if i == 0 {
			b.PC = c.Target
			out = append(out, b)
			continue
		}
		child := b.fork(*nextID, c.Target)
		*nextID++
		out = append(out, child)
	}
	return out
}

// clearOnlyDestination handles an instruction the interpreter does not
// model precisely by invalidating only the single register it is known
// to write (field A), rather than wiping the whole register file. This
// preserves constants discovered earlier in a branch across unrelated
// unknown instructions later in the same branch.
func (in *Interpreter) clearOnlyDestination(b *Branch, inst isa.Instruction) {
	switch inst.Kind {
	case isa.KindCheckCast, isa.KindInstanceOf, isa.KindArrayOp, isa.KindCmp:
		b.Regs.set(inst.A, Value{Kind: ValUnknown})
	case isa.KindFilledNewArray:
		// Result lands in whatever a following move-result-object reads;
		// the interpreter has no dedicated result slot for this shape, so
		// nothing here is invalidated beyond the call's own arguments.
	default:
		// Nop, monitor, fill-array-data, unrecognised opcodes: no register
		// write at all, so nothing is invalidated.
	}
}

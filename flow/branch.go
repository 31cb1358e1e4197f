package flow

// CallWitness records the most recent call a Branch observed, so
// FindAllCalls can match branches by fully qualified target signature
// without replaying the whole instruction history.
type CallWitness struct {
	Signature string
	Args      []Value
	Result    Value
}

// BranchWitness records a dead-branch decision: which PC's if-* only let
// one leg survive, and which offset that surviving leg took.
type BranchWitness struct {
	DecisionPC int
	TakenPC    int
}

// Branch is one live work item of the symbolic interpreter: a unique id,
// a program counter, an independent register vector, and optional
// witnesses of the last call and the last dead-branch decision it passed
// through. Forking clones the register vector by value so sibling
// branches never alias each other's writes.
type Branch struct {
	ID       int
	PC       int
	Regs     registerFile
	LastCall *CallWitness
	LastDead *BranchWitness
	done     bool
}

func (b *Branch) fork(id, pc int) *Branch {
	return &Branch{ID: id, PC: pc, Regs: b.Regs.clone(), LastCall: b.LastCall, LastDead: b.LastDead}
}

// Register reads register v's current symbolic value.
func (b *Branch) Register(v int32) Value { return b.Regs.get(v) }

// BranchDecision is one conditional a live branch is currently sitting
// on, as returned by FindAllBranchDecisions.
type BranchDecision struct {
	BranchID int
	PC       int
	Mnemonic string
}

// CallSite is one recorded call a branch has passed through, as returned
// by FindAllCalls.
type CallSite struct {
	BranchID  int
	Signature string
	Args      []Value
	Result    Value
}

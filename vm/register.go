package vm

import "fmt"

// RegKind tags which field of a Register is meaningful.
type RegKind int

const (
	RegEmpty RegKind = iota // uninitialised register
	RegNull                 // null reference
	RegInt                  // 32-bit literal
	RegWide                 // 64-bit literal (wide pair collapsed to one slot)
	RegRef                  // heap reference
)

// Register is a unit of VM state: a 32-bit literal, a 64-bit wide literal,
// a typed heap reference, an empty marker, or a null marker. Ordering is by
// the embedded integer value; equality ignores the type tag.
type Register struct {
	Kind RegKind
	I32  int32
	I64  int64
	Type string // heap reference's declared type name, e.g. "Ljava/lang/String;"
	Addr uint32 // heap reference's address
}

// IntReg builds a 32-bit literal register.
func IntReg(v int32) Register { return Register{Kind: RegInt, I32: v} }

// WideReg builds a 64-bit literal register.
func WideReg(v int64) Register { return Register{Kind: RegWide, I64: v} }

// RefReg builds a heap-reference register.
func RefReg(typeName string, addr uint32) Register {
	return Register{Kind: RegRef, Type: typeName, Addr: addr}
}

// NullReg and EmptyReg are the two markers with no payload.
func NullReg() Register  { return Register{Kind: RegNull} }
func EmptyReg() Register { return Register{Kind: RegEmpty} }

// AsInt32 returns the register's value as an int32 under a permissive
// reading: wide and ref registers contribute their low bits or address.
func (r Register) AsInt32() int32 {
	switch r.Kind {
	case RegInt:
		return r.I32
	case RegWide:
		return int32(r.I64)
	case RegRef:
		return int32(r.Addr)
	default:
		return 0
	}
}

// AsInt64 returns the register's value widened to int64.
func (r Register) AsInt64() int64 {
	if r.Kind == RegWide {
		return r.I64
	}
	return int64(r.AsInt32())
}

// Value returns the integer used for ordering/equality comparisons,
// ignoring the type tag per the data model invariant.
func (r Register) Value() int64 {
	switch r.Kind {
	case RegWide:
		return r.I64
	case RegRef:
		return int64(r.Addr)
	default:
		return int64(r.I32)
	}
}

// Less orders two registers purely by embedded value.
func (r Register) Less(other Register) bool { return r.Value() < other.Value() }

// Equal compares two registers by embedded value only, ignoring Kind/Type.
func (r Register) Equal(other Register) bool { return r.Value() == other.Value() }

func (r Register) String() string {
	switch r.Kind {
	case RegEmpty:
		return "<empty>"
	case RegNull:
		return "null"
	case RegInt:
		return fmt.Sprintf("%d", r.I32)
	case RegWide:
		return fmt.Sprintf("%dL", r.I64)
	case RegRef:
		return fmt.Sprintf("%s@%08x", r.Type, r.Addr)
	default:
		return "?"
	}
}

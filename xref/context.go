// Package xref answers "who uses this?" over a dex.MultiDex: given a
// declaration context (a class, method, field, string, proto, or static
// field), it returns every instruction site that references it, plus a
// regex-based surface search over the raw pool contents. Both searches
// fan out across DEX files with golang.org/x/sync/errgroup and merge the
// results after every worker finishes — embarrassingly parallel across
// DEX files.
package xref

// ObjectKind enumerates the declaration/search-surface kinds: method,
// class, field, string, type, proto, and static field.
type ObjectKind int

const (
	KindClass ObjectKind = iota
	KindMethod
	KindField
	KindString
	KindType
	KindProto
	KindStaticField
)

func (k ObjectKind) String() string {
	switch k {
	case KindClass:
		return "class"
	case KindMethod:
		return "method"
	case KindField:
		return "field"
	case KindString:
		return "string"
	case KindType:
		return "type"
	case KindProto:
		return "proto"
	case KindStaticField:
		return "static-field"
	default:
		return "unknown"
	}
}

// Context identifies a declaration to search for. Only the fields
// relevant to Kind are meaningful:
//
//   - KindClass, KindType:  ClassName
//   - KindMethod:           ClassName, MethodName (ProtoName is not
//     compared, so every overload with that name matches)
//   - KindField, KindStaticField: ClassName, FieldName
//   - KindString:           StringValue
//   - KindProto:            ProtoName (matched by SearchRegex only;
//     FindReferences reports no sites for it)
type Context struct {
	Kind        ObjectKind
	ClassName   string
	MethodName  string
	ProtoName   string
	FieldName   string
	StringValue string
}

// FieldKey renders the "Lclass;->name" form used as a field lookup key
// throughout dex/vm, for a KindField/KindStaticField context.
func (c Context) FieldKey() string {
	return c.ClassName + "->" + c.FieldName
}

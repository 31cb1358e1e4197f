// Package dex parses a DEX byte image into a queryable in-memory model:
// string/type/proto/field/method pools, class definitions, and decoded
// method bodies. Parsing never partially mutates caller-owned state — a
// failure returns (nil, error) and nothing else.
package dex

import "fmt"

// File is one fully decoded DEX container.
type File struct {
	Header  Header
	Strings *StringPool
	Types   *TypePool
	Protos  *ProtoPool
	Fields  *FieldPool
	Methods *MethodPool
	Classes *ClassTable

	// methodCode holds every decoded body, keyed by method pool index.
	// A method with no entry here is code-less (abstract, native, or
	// belongs to a stub class).
	methodCode map[uint32]*CodeItem

	// Name is the logical file name the caller supplied (for display and
	// error messages).
	Name string
}

// ID returns the hex-encoded 20-byte signature used as this DEX's stable
// identifier across a MultiDex set.
func (f *File) ID() string { return f.Header.Identifier() }

// MethodCode returns the decoded body for methodIdx within this file, or
// (nil, false) if the method is code-less.
func (f *File) MethodCode(methodIdx uint32) (*CodeItem, bool) {
	item, ok := f.methodCode[methodIdx]
	return item, ok
}

// Decode parses a complete DEX byte image. A malformed header is fatal;
// dangling pool indices inside class/method data are tolerated and
// surface as "INVALID" names or code-less stubs instead of failing the
// whole parse.
func Decode(data []byte, name string) (*File, error) {
	header, err := parseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("dex: %s: %w", name, err)
	}

	strs, err := parseStringPool(data, header.StringIDs)
	if err != nil {
		return nil, fmt.Errorf("dex: %s: string pool: %w", name, err)
	}
	types, err := parseTypePool(data, header.TypeIDs, strs)
	if err != nil {
		return nil, fmt.Errorf("dex: %s: type pool: %w", name, err)
	}
	protos, err := parseProtoPool(data, header.ProtoIDs, strs, types)
	if err != nil {
		return nil, fmt.Errorf("dex: %s: proto pool: %w", name, err)
	}
	fields, err := parseFieldPool(data, header.FieldIDs, strs)
	if err != nil {
		return nil, fmt.Errorf("dex: %s: field pool: %w", name, err)
	}
	methods, err := parseMethodPool(data, header.MethodIDs, strs)
	if err != nil {
		return nil, fmt.Errorf("dex: %s: method pool: %w", name, err)
	}
	classDefs, err := parseClassDefs(data, header.ClassDefs, types)
	if err != nil {
		return nil, fmt.Errorf("dex: %s: class_defs: %w", name, err)
	}

	f := &File{
		Header:     header,
		Strings:    strs,
		Types:      types,
		Protos:     protos,
		Fields:     fields,
		Methods:    methods,
		Name:       name,
		methodCode: make(map[uint32]*CodeItem),
	}
	resolveClassCode(data, classDefs, f.methodCode)
	f.Classes = newClassTable(classDefs, types)

	return f, nil
}

// resolveClassCode decodes every method body reachable from defs and
// records it by method pool index. A method whose code_item is malformed
// is silently left code-less rather than failing the whole class.
func resolveClassCode(data []byte, defs []ClassDef, out map[uint32]*CodeItem) {
	for i := range defs {
		if defs[i].Stub || defs[i].Data == nil {
			continue
		}
		members := make([]EncodedMember, 0, len(defs[i].Data.DirectMethods)+len(defs[i].Data.VirtualMethods))
		members = append(members, defs[i].Data.DirectMethods...)
		members = append(members, defs[i].Data.VirtualMethods...)
		for _, m := range members {
			if m.CodeOff == 0 {
				continue // abstract or native: no body
			}
			item, err := parseCodeItem(data, m.CodeOff)
			if err != nil {
				continue
			}
			out[m.Index] = item
		}
	}
}

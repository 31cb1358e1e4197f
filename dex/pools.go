package dex

import (
	"encoding/binary"
	"fmt"

	"github.com/lookbusy1344/dexlab/internal/leb128"
	"github.com/lookbusy1344/dexlab/internal/mutf8"
)

// invalidName is substituted whenever an instruction or pool entry refers
// to an index outside its target pool. This is tolerated, not fatal:
// only a malformed header aborts the whole parse.
const invalidName = "INVALID"

// StringPool holds every decoded string_data item, indexed by its position
// in the string_ids table.
type StringPool struct {
	values []string
}

func (p *StringPool) Len() int { return len(p.values) }

// Get returns the string at idx, or invalidName if idx is out of range.
func (p *StringPool) Get(idx uint32) string {
	if int(idx) >= len(p.values) {
		return invalidName
	}
	return p.values[idx]
}

func parseStringPool(data []byte, loc poolLoc) (*StringPool, error) {
	pool := &StringPool{values: make([]string, loc.Size)}
	for i := uint32(0); i < loc.Size; i++ {
		off := loc.Off + i*4
		if int(off)+4 > len(data) {
			return nil, fmt.Errorf("dex: string_ids table truncated at entry %d", i)
		}
		dataOff := binary.LittleEndian.Uint32(data[off : off+4])
		s, err := readStringData(data, dataOff)
		if err != nil {
			// Tolerated: a dangling string_data_off yields a placeholder,
			// matching the decoder's "tolerate dangling pool index" policy.
			pool.values[i] = invalidName
			continue
		}
		pool.values[i] = s
	}
	return pool, nil
}

// readStringData reads a ULEB128 UTF-16 code-unit count followed by a
// NUL-terminated MUTF-8 byte run, and decodes it with CESU-8 fallback.
func readStringData(data []byte, off uint32) (string, error) {
	if int(off) >= len(data) {
		return "", fmt.Errorf("dex: string_data_off %d out of range", off)
	}
	r := leb128.NewReader(data, int(off))
	if _, err := r.Uleb128(); err != nil { // utf16_size, unused beyond validation
		return "", err
	}
	start := r.Pos()
	end := start
	for end < len(data) && data[end] != 0x00 {
		end++
	}
	if end >= len(data) {
		return "", fmt.Errorf("dex: unterminated string_data at offset %d", off)
	}
	s, err := mutf8.Decode(data[start:end])
	if err != nil {
		return mutf8.DecodeLossy(data[start:end]), nil
	}
	return s, nil
}

// TypePool maps type indices to their descriptor string ("Ljava/lang/Object;").
type TypePool struct {
	strings    *StringPool
	stringIdx  []uint32
}

func (p *TypePool) Len() int { return len(p.stringIdx) }

// Name returns the type descriptor for idx, or invalidName.
func (p *TypePool) Name(idx uint32) string {
	if int(idx) >= len(p.stringIdx) {
		return invalidName
	}
	return p.strings.Get(p.stringIdx[idx])
}

func parseTypePool(data []byte, loc poolLoc, strings *StringPool) (*TypePool, error) {
	pool := &TypePool{strings: strings, stringIdx: make([]uint32, loc.Size)}
	for i := uint32(0); i < loc.Size; i++ {
		off := loc.Off + i*4
		if int(off)+4 > len(data) {
			return nil, fmt.Errorf("dex: type_ids table truncated at entry %d", i)
		}
		pool.stringIdx[i] = binary.LittleEndian.Uint32(data[off : off+4])
	}
	return pool, nil
}

// Proto is a method signature: a compact "shorty" plus its full return and
// parameter type list.
type Proto struct {
	Shorty     string
	ReturnType uint32 // type index
	Params     []uint32
}

// Name resolves the return and parameter types through types and returns
// the conventional "(args)ret" rendering.
func (p Proto) Name(types *TypePool) string {
	s := "("
	for _, t := range p.Params {
		s += types.Name(t)
	}
	s += ")" + types.Name(p.ReturnType)
	return s
}

// ProtoPool holds every method prototype in the DEX.
type ProtoPool struct {
	protos []Proto
	names  []string // precomputed "(args)ret", resolved eagerly at decode time
}

func (p *ProtoPool) Len() int { return len(p.protos) }

func (p *ProtoPool) Get(idx uint32) Proto {
	if int(idx) >= len(p.protos) {
		return Proto{}
	}
	return p.protos[idx]
}

// Name returns the precomputed "(args)ret" signature for idx.
func (p *ProtoPool) Name(idx uint32) string {
	if int(idx) >= len(p.names) {
		return invalidName
	}
	return p.names[idx]
}

func parseProtoPool(data []byte, loc poolLoc, strings *StringPool, types *TypePool) (*ProtoPool, error) {
	pool := &ProtoPool{protos: make([]Proto, loc.Size), names: make([]string, loc.Size)}
	for i := uint32(0); i < loc.Size; i++ {
		off := loc.Off + i*12
		if int(off)+12 > len(data) {
			return nil, fmt.Errorf("dex: proto_ids table truncated at entry %d", i)
		}
		shortyIdx := binary.LittleEndian.Uint32(data[off : off+4])
		returnTypeIdx := binary.LittleEndian.Uint32(data[off+4 : off+8])
		paramsOff := binary.LittleEndian.Uint32(data[off+8 : off+12])
		params, err := parseTypeList(data, paramsOff)
		if err != nil {
			params = nil
		}
		proto := Proto{Shorty: strings.Get(shortyIdx), ReturnType: returnTypeIdx, Params: params}
		pool.protos[i] = proto
		pool.names[i] = proto.Name(types)
	}
	return pool, nil
}

// parseTypeList reads a type_list structure: a uint32 size followed by
// that many uint16 type indices. An offset of zero means "no list".
func parseTypeList(data []byte, off uint32) ([]uint32, error) {
	if off == 0 {
		return nil, nil
	}
	if int(off)+4 > len(data) {
		return nil, fmt.Errorf("dex: type_list offset %d out of range", off)
	}
	size := binary.LittleEndian.Uint32(data[off : off+4])
	out := make([]uint32, size)
	base := off + 4
	for i := uint32(0); i < size; i++ {
		p := base + i*2
		if int(p)+2 > len(data) {
			return nil, fmt.Errorf("dex: type_list entry %d out of range", i)
		}
		out[i] = uint32(binary.LittleEndian.Uint16(data[p : p+2]))
	}
	return out, nil
}

// Field is a field_id_item: owning class, value type, and name.
type Field struct {
	ClassType uint32
	Type      uint32
	NameIdx   uint32
}

// FieldPool holds every field_id_item, with names resolved eagerly.
type FieldPool struct {
	fields []Field
	names  []string
}

func (p *FieldPool) Len() int { return len(p.fields) }

func (p *FieldPool) Get(idx uint32) Field {
	if int(idx) >= len(p.fields) {
		return Field{}
	}
	return p.fields[idx]
}

func (p *FieldPool) Name(idx uint32) string {
	if int(idx) >= len(p.names) {
		return invalidName
	}
	return p.names[idx]
}

// QualifiedName returns "Lclass;->name" for idx, used as the per-instance
// field-map key inside the concrete VM's heap.
func (p *FieldPool) QualifiedName(idx uint32, types *TypePool) string {
	if int(idx) >= len(p.fields) {
		return invalidName
	}
	f := p.fields[idx]
	return types.Name(f.ClassType) + "->" + p.names[idx]
}

func parseFieldPool(data []byte, loc poolLoc, strings *StringPool) (*FieldPool, error) {
	pool := &FieldPool{fields: make([]Field, loc.Size), names: make([]string, loc.Size)}
	for i := uint32(0); i < loc.Size; i++ {
		off := loc.Off + i*8
		if int(off)+8 > len(data) {
			return nil, fmt.Errorf("dex: field_ids table truncated at entry %d", i)
		}
		classIdx := uint32(binary.LittleEndian.Uint16(data[off : off+2]))
		typeIdx := uint32(binary.LittleEndian.Uint16(data[off+2 : off+4]))
		nameIdx := binary.LittleEndian.Uint32(data[off+4 : off+8])
		pool.fields[i] = Field{ClassType: classIdx, Type: typeIdx, NameIdx: nameIdx}
		pool.names[i] = strings.Get(nameIdx)
	}
	return pool, nil
}

// Method is a method_id_item: owning class, prototype, and name.
type Method struct {
	ClassType uint32
	Proto     uint32
	NameIdx   uint32
}

// MethodPool holds every method_id_item, with names resolved eagerly.
type MethodPool struct {
	methods []Method
	names   []string
}

func (p *MethodPool) Len() int { return len(p.methods) }

func (p *MethodPool) Get(idx uint32) Method {
	if int(idx) >= len(p.methods) {
		return Method{}
	}
	return p.methods[idx]
}

func (p *MethodPool) Name(idx uint32) string {
	if int(idx) >= len(p.names) {
		return invalidName
	}
	return p.names[idx]
}

// Signature returns "ClassType->name(proto)" for idx, the fully qualified
// signature used as a graph node key and by xref's method-reference rule.
func (p *MethodPool) Signature(idx uint32, types *TypePool, protos *ProtoPool) string {
	if int(idx) >= len(p.methods) {
		return invalidName
	}
	m := p.methods[idx]
	return types.Name(m.ClassType) + "->" + p.names[idx] + protos.Name(m.Proto)
}

func parseMethodPool(data []byte, loc poolLoc, strings *StringPool) (*MethodPool, error) {
	pool := &MethodPool{methods: make([]Method, loc.Size), names: make([]string, loc.Size)}
	for i := uint32(0); i < loc.Size; i++ {
		off := loc.Off + i*8
		if int(off)+8 > len(data) {
			return nil, fmt.Errorf("dex: method_ids table truncated at entry %d", i)
		}
		classIdx := uint32(binary.LittleEndian.Uint16(data[off : off+2]))
		protoIdx := uint32(binary.LittleEndian.Uint16(data[off+2 : off+4]))
		nameIdx := binary.LittleEndian.Uint32(data[off+4 : off+8])
		pool.methods[i] = Method{ClassType: classIdx, Proto: protoIdx, NameIdx: nameIdx}
		pool.names[i] = strings.Get(nameIdx)
	}
	return pool, nil
}

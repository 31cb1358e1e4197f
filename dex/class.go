package dex

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/lookbusy1344/dexlab/internal/leb128"
)

// Access flags, the subset the decoder and super-graph builder care about.
const (
	AccPublic    uint32 = 0x1
	AccPrivate   uint32 = 0x2
	AccProtected uint32 = 0x4
	AccStatic    uint32 = 0x8
	AccFinal     uint32 = 0x10
	AccInterface uint32 = 0x200
	AccAbstract  uint32 = 0x400
)

// EncodedValue is the DEX format's tagged literal encoding used for
// static-field initializers and annotation values.
type EncodedValue struct {
	Tag   byte
	Int   int64
	Str   uint32 // string pool index, valid when Tag indicates a string
	Type  uint32 // type pool index, valid when Tag indicates a type
	Bytes []byte // for VALUE_ARRAY: the element count as 4 little-endian bytes; the elements are not kept
}

// EncodedMember is one direct/virtual method or static/instance field
// entry inside a class_data_item, after delta-decoding its pool index.
type EncodedMember struct {
	Index       uint32 // absolute field_id/method_id index
	AccessFlags uint32
	CodeOff     uint32 // methods only; 0 means no code (abstract/native)
}

// ClassData is the optional per-class field/method table.
type ClassData struct {
	StaticFields   []EncodedMember
	InstanceFields []EncodedMember
	DirectMethods  []EncodedMember
	VirtualMethods []EncodedMember
}

// ClassDef is one class_def_item plus its resolved class_data, interface
// list, and static-value initializers. A class whose class_data_off is 0,
// lies at or past the end of the image, or does not parse is kept as a
// stub: Stub is true and Data is nil, while its interfaces, static values
// and annotations are still decoded. An offset that lies inside the image
// but below the data section is not detected as a stub.
type ClassDef struct {
	ClassType    uint32
	AccessFlags  uint32
	Superclass   uint32 // type index; invalidTypeIndex if none (java.lang.Object)
	Interfaces   []uint32
	Data         *ClassData
	StaticValues []EncodedValue
	Annotations  []EncodedValue // class-level annotation element values, read-only literal-discovery source
	Stub         bool

	// Resolved eagerly at decode time so downstream lookups avoid pool walks.
	Name           string
	SuperclassName string
}

const invalidTypeIndex = ^uint32(0)

func parseClassDefs(data []byte, loc poolLoc, types *TypePool) ([]ClassDef, error) {
	defs := make([]ClassDef, loc.Size)
	for i := uint32(0); i < loc.Size; i++ {
		off := loc.Off + i*32
		if int(off)+32 > len(data) {
			return nil, fmt.Errorf("dex: class_defs table truncated at entry %d", i)
		}
		classIdx := binary.LittleEndian.Uint32(data[off : off+4])
		accessFlags := binary.LittleEndian.Uint32(data[off+4 : off+8])
		superclassIdx := binary.LittleEndian.Uint32(data[off+8 : off+12])
		interfacesOff := binary.LittleEndian.Uint32(data[off+12 : off+16])
		// source_file_idx at off+16:off+20: skipped, not modeled.
		annotationsOff := binary.LittleEndian.Uint32(data[off+20 : off+24])
		classDataOff := binary.LittleEndian.Uint32(data[off+24 : off+28])
		staticValuesOff := binary.LittleEndian.Uint32(data[off+28 : off+32])

		cd := ClassDef{
			ClassType:   classIdx,
			AccessFlags: accessFlags,
			Superclass:  superclassIdx,
			Name:        types.Name(classIdx),
		}
		if superclassIdx != invalidTypeIndex {
			cd.SuperclassName = types.Name(superclassIdx)
		}

		interfaces, err := parseTypeList(data, interfacesOff)
		if err == nil {
			cd.Interfaces = interfaces
		}

		if classDataOff == 0 || int(classDataOff) >= len(data) {
			cd.Stub = true
		} else {
			cdata, err := parseClassData(data, classDataOff)
			if err != nil {
				cd.Stub = true
			} else {
				cd.Data = cdata
			}
		}

		if staticValuesOff != 0 {
			values, err := parseEncodedArray(data, staticValuesOff)
			if err == nil {
				cd.StaticValues = values
			}
		}
		if annotationsOff != 0 {
			cd.Annotations, _ = parseClassAnnotations(data, annotationsOff)
		}

		defs[i] = cd
	}
	return defs, nil
}

// parseClassData walks a class_data_item: four ULEB128 counts followed by
// that many encoded_field/encoded_method entries, each of which stores the
// *difference* from the previous index in the same list (starting from an
// absolute zero), requiring a running accumulator.
func parseClassData(data []byte, off uint32) (*ClassData, error) {
	r := leb128.NewReader(data, int(off))
	staticCount, err := r.Uleb128()
	if err != nil {
		return nil, err
	}
	instanceCount, err := r.Uleb128()
	if err != nil {
		return nil, err
	}
	directCount, err := r.Uleb128()
	if err != nil {
		return nil, err
	}
	virtualCount, err := r.Uleb128()
	if err != nil {
		return nil, err
	}

	cd := &ClassData{}
	cd.StaticFields, err = readEncodedFields(r, staticCount)
	if err != nil {
		return nil, err
	}
	cd.InstanceFields, err = readEncodedFields(r, instanceCount)
	if err != nil {
		return nil, err
	}
	cd.DirectMethods, err = readEncodedMethods(r, directCount)
	if err != nil {
		return nil, err
	}
	cd.VirtualMethods, err = readEncodedMethods(r, virtualCount)
	if err != nil {
		return nil, err
	}
	return cd, nil
}

func readEncodedFields(r *leb128.Reader, count uint32) ([]EncodedMember, error) {
	out := make([]EncodedMember, count)
	var acc uint32
	for i := uint32(0); i < count; i++ {
		delta, err := r.Uleb128()
		if err != nil {
			return nil, err
		}
		flags, err := r.Uleb128()
		if err != nil {
			return nil, err
		}
		acc += delta
		out[i] = EncodedMember{Index: acc, AccessFlags: flags}
	}
	return out, nil
}

func readEncodedMethods(r *leb128.Reader, count uint32) ([]EncodedMember, error) {
	out := make([]EncodedMember, count)
	var acc uint32
	for i := uint32(0); i < count; i++ {
		delta, err := r.Uleb128()
		if err != nil {
			return nil, err
		}
		flags, err := r.Uleb128()
		if err != nil {
			return nil, err
		}
		codeOff, err := r.Uleb128()
		if err != nil {
			return nil, err
		}
		acc += delta
		out[i] = EncodedMember{Index: acc, AccessFlags: flags, CodeOff: codeOff}
	}
	return out, nil
}

// Encoded-value type tags (low 5 bits of the leading byte).
const (
	valByte     = 0x00
	valShort    = 0x02
	valChar     = 0x03
	valInt      = 0x04
	valLong     = 0x06
	valFloat    = 0x10
	valDouble   = 0x11
	valString   = 0x17
	valType     = 0x18
	valField    = 0x19
	valMethod   = 0x1a
	valArray    = 0x1c
	valAnnot    = 0x1d
	valNull     = 0x1e
	valBoolean  = 0x1f
)

func parseEncodedArray(data []byte, off uint32) ([]EncodedValue, error) {
	r := leb128.NewReader(data, int(off))
	size, err := r.Uleb128()
	if err != nil {
		return nil, err
	}
	out := make([]EncodedValue, 0, size)
	for i := uint32(0); i < size; i++ {
		v, err := parseEncodedValue(data, r)
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseEncodedValue(data []byte, r *leb128.Reader) (EncodedValue, error) {
	if r.Pos() >= len(data) {
		return EncodedValue{}, fmt.Errorf("dex: encoded_value truncated")
	}
	header := data[r.Pos()]
	r.SetPos(r.Pos() + 1)
	valueType := header & 0x1F
	argSize := int(header>>5) + 1

	v := EncodedValue{Tag: valueType}
	switch valueType {
	case valByte, valShort, valChar, valInt, valLong:
		v.Int = readSignedBytes(data, r, argSize)
	case valFloat, valDouble:
		v.Int = int64(readUnsignedBytes(data, r, argSize))
	case valString:
		v.Str = uint32(readUnsignedBytes(data, r, argSize))
	case valType:
		v.Type = uint32(readUnsignedBytes(data, r, argSize))
	case valField, valMethod:
		v.Int = int64(readUnsignedBytes(data, r, argSize))
	case valBoolean:
		v.Int = int64(header >> 5)
	case valNull:
		// no payload
	case valArray:
		n, err := r.Uleb128()
		if err != nil {
			return v, err
		}
		for i := uint32(0); i < n; i++ {
			if _, err := parseEncodedValue(data, r); err != nil {
				return v, err
			}
		}
		v.Bytes = encodeArrayMarker(int(n))
	default:
		// Unknown/annotation tags: skip argSize bytes conservatively.
		r.SetPos(r.Pos() + argSize)
	}
	return v, nil
}

func encodeArrayMarker(n int) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(n))
	return b
}

func readSignedBytes(data []byte, r *leb128.Reader, n int) int64 {
	var v int64
	for i := 0; i < n; i++ {
		if r.Pos() >= len(data) {
			break
		}
		v |= int64(data[r.Pos()]) << (8 * i)
		r.SetPos(r.Pos() + 1)
	}
	shift := uint(64 - 8*n)
	return v << shift >> shift // sign-extend from the top byte read
}

func readUnsignedBytes(data []byte, r *leb128.Reader, n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		if r.Pos() >= len(data) {
			break
		}
		v |= uint64(data[r.Pos()]) << (8 * i)
		r.SetPos(r.Pos() + 1)
	}
	return v
}

// ClassTable indexes every ClassDef by type name, and maintains the two
// cross-link tables the decoder populates concurrently: superclass name ->
// direct subclass names, and interface name -> implementing class names.
// Both tables are populated under mu with look-up-then-insert
// semantics, so repeated population from concurrent workers is idempotent.
type ClassTable struct {
	mu             sync.Mutex
	byName         map[string]*ClassDef
	order          []*ClassDef
	superclassTbl  map[string][]string
	interfaceTbl   map[string][]string
}

func newClassTable(defs []ClassDef, types *TypePool) *ClassTable {
	t := &ClassTable{
		byName:        make(map[string]*ClassDef, len(defs)),
		superclassTbl: make(map[string][]string),
		interfaceTbl:  make(map[string][]string),
	}
	for i := range defs {
		t.byName[defs[i].Name] = &defs[i]
		t.order = append(t.order, &defs[i])
	}
	var wg sync.WaitGroup
	for i := range defs {
		wg.Add(1)
		go func(cd *ClassDef) {
			defer wg.Done()
			t.linkClass(cd, types)
		}(&defs[i])
	}
	wg.Wait()
	return t
}

func (t *ClassTable) linkClass(cd *ClassDef, types *TypePool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cd.SuperclassName != "" {
		t.addUnique(t.superclassTbl, cd.SuperclassName, cd.Name)
	}
	for _, ifaceIdx := range cd.Interfaces {
		t.addUnique(t.interfaceTbl, types.Name(ifaceIdx), cd.Name)
	}
}

func (t *ClassTable) addUnique(m map[string][]string, key, value string) {
	for _, existing := range m[key] {
		if existing == value {
			return
		}
	}
	m[key] = append(m[key], value)
}

// Get returns the ClassDef named name, if present.
func (t *ClassTable) Get(name string) (*ClassDef, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cd, ok := t.byName[name]
	return cd, ok
}

// Subclasses returns the direct subclasses of superclassName.
func (t *ClassTable) Subclasses(superclassName string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.superclassTbl[superclassName]...)
}

// Implementers returns the classes that directly implement interfaceName.
func (t *ClassTable) Implementers(interfaceName string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.interfaceTbl[interfaceName]...)
}

// All returns every parsed ClassDef, in parsed order.
func (t *ClassTable) All() []*ClassDef {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*ClassDef(nil), t.order...)
}

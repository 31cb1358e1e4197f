// Package testfixture builds small, byte-exact DEX images in memory for
// use by dex/vm/flow/xref/graph tests, so those packages don't need to
// ship binary .dex fixtures. Every fixture here is hand-laid-out to match
// the exact pool/table layout dex.Decode expects.
package testfixture

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func putULEB128(buf *bytes.Buffer, v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf.WriteByte(b | 0x80)
		} else {
			buf.WriteByte(b)
			return
		}
	}
}

func stringData(s string) []byte {
	var buf bytes.Buffer
	putULEB128(&buf, uint32(len([]rune(s))))
	buf.WriteString(s)
	buf.WriteByte(0)
	return buf.Bytes()
}

func pad4(pos int) int {
	if pos%4 == 0 {
		return 0
	}
	return 4 - pos%4
}

// MinimalDex builds a single-class, single-method DEX: class LMain; with
// one static method `main` whose body is `const/16 v0, #42` followed by
// `return v0`.
func MinimalDex(t *testing.T) []byte {
	t.Helper()

	strs := []string{"Ljava/lang/Object;", "LMain;", "main", "I"}
	// type pool: 0 -> Object, 1 -> LMain;, 2 -> I (primitive int)
	typeStrIdx := []uint32{0, 1, 3}

	const headerSize = 0x70
	stringIDsOff := headerSize
	stringIDsSize := len(strs)
	typeIDsOff := stringIDsOff + stringIDsSize*4
	typeIDsSize := len(typeStrIdx)
	protoIDsOff := typeIDsOff + typeIDsSize*4
	protoIDsSize := 1
	fieldIDsOff := protoIDsOff + protoIDsSize*12
	fieldIDsSize := 0
	methodIDsOff := fieldIDsOff + fieldIDsSize*8
	methodIDsSize := 1
	classDefsOff := methodIDsOff + methodIDsSize*8
	classDefsSize := 1
	dataOff := classDefsOff + classDefsSize*32

	pos := dataOff
	stringDataOffs := make([]int, len(strs))
	var dataBuf bytes.Buffer
	for i, s := range strs {
		stringDataOffs[i] = pos
		b := stringData(s)
		dataBuf.Write(b)
		pos += len(b)
	}

	if p := pad4(pos); p > 0 {
		dataBuf.Write(make([]byte, p))
		pos += p
	}
	codeOff := pos
	// code_item: registers_size, ins_size, outs_size, tries_size,
	// debug_info_off, insns_size, then the insns themselves.
	insns := []uint16{
		0x0013, // const/16 v0, #+BBBB
		0x002A, // literal 42
		0x000F, // return v0
	}
	var code bytes.Buffer
	binary.Write(&code, binary.LittleEndian, uint16(1)) // registers_size
	binary.Write(&code, binary.LittleEndian, uint16(0)) // ins_size
	binary.Write(&code, binary.LittleEndian, uint16(0)) // outs_size
	binary.Write(&code, binary.LittleEndian, uint16(0)) // tries_size
	binary.Write(&code, binary.LittleEndian, uint32(0)) // debug_info_off
	binary.Write(&code, binary.LittleEndian, uint32(len(insns)))
	for _, u := range insns {
		binary.Write(&code, binary.LittleEndian, u)
	}
	dataBuf.Write(code.Bytes())
	pos += code.Len()

	classDataOff := pos
	var cdata bytes.Buffer
	putULEB128(&cdata, 0) // static_fields_size
	putULEB128(&cdata, 0) // instance_fields_size
	putULEB128(&cdata, 1) // direct_methods_size
	putULEB128(&cdata, 0) // virtual_methods_size
	putULEB128(&cdata, 0)                      // method_idx_diff (absolute 0)
	putULEB128(&cdata, 0x9)                     // access_flags: public|static
	putULEB128(&cdata, uint32(codeOff))         // code_off
	dataBuf.Write(cdata.Bytes())
	pos += cdata.Len()

	dataSize := pos - dataOff

	var buf bytes.Buffer
	buf.Write([]byte("dex\n035\x00"))
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // checksum
	buf.Write(make([]byte, 20))                        // signature, left zeroed
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // file_size, patched below
	binary.Write(&buf, binary.LittleEndian, uint32(headerSize))
	binary.Write(&buf, binary.LittleEndian, uint32(0x12345678)) // endian_tag
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // link_size
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // link_off
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // map_off
	binary.Write(&buf, binary.LittleEndian, uint32(stringIDsSize))
	binary.Write(&buf, binary.LittleEndian, uint32(stringIDsOff))
	binary.Write(&buf, binary.LittleEndian, uint32(typeIDsSize))
	binary.Write(&buf, binary.LittleEndian, uint32(typeIDsOff))
	binary.Write(&buf, binary.LittleEndian, uint32(protoIDsSize))
	binary.Write(&buf, binary.LittleEndian, uint32(protoIDsOff))
	binary.Write(&buf, binary.LittleEndian, uint32(fieldIDsSize))
	binary.Write(&buf, binary.LittleEndian, uint32(fieldIDsOff))
	binary.Write(&buf, binary.LittleEndian, uint32(methodIDsSize))
	binary.Write(&buf, binary.LittleEndian, uint32(methodIDsOff))
	binary.Write(&buf, binary.LittleEndian, uint32(classDefsSize))
	binary.Write(&buf, binary.LittleEndian, uint32(classDefsOff))
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	binary.Write(&buf, binary.LittleEndian, uint32(dataOff))

	if buf.Len() != headerSize {
		t.Fatalf("testfixture: header size mismatch: got %d want %d", buf.Len(), headerSize)
	}

	for _, off := range stringDataOffs {
		binary.Write(&buf, binary.LittleEndian, uint32(off))
	}
	for _, si := range typeStrIdx {
		binary.Write(&buf, binary.LittleEndian, uint32(si))
	}
	// proto: shorty_idx=3 ("I"), return_type_idx=2 (type "I"), params_off=0
	binary.Write(&buf, binary.LittleEndian, uint32(3))
	binary.Write(&buf, binary.LittleEndian, uint32(2))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	// no field_ids
	// method: class_idx=1 (LMain;), proto_idx=0, name_idx=2 ("main")
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint32(2))
	// class_def
	binary.Write(&buf, binary.LittleEndian, uint32(1))          // class_idx
	binary.Write(&buf, binary.LittleEndian, uint32(0x1))        // access_flags: public
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // superclass_idx
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // interfaces_off
	binary.Write(&buf, binary.LittleEndian, uint32(0xFFFFFFFF)) // source_file_idx
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // annotations_off
	binary.Write(&buf, binary.LittleEndian, uint32(classDataOff))
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // static_values_off

	buf.Write(dataBuf.Bytes())

	out := buf.Bytes()
	binary.LittleEndian.PutUint32(out[32:36], uint32(len(out)))
	return out
}

// SparseSwitchDex builds a single-class, single-method DEX whose body is a
// sparse-switch on an unresolved register v0 with keys {1,2,3} targeting
// three distinct return-void instructions, followed by unreachable
// filler so the switch's branch targets land mid-stream and
// its data table sits after the last real instruction — exactly the shape
// that exercises offset resolution through a pseudo-instruction.
func SparseSwitchDex(t *testing.T) []byte {
	t.Helper()

	strs := []string{"Ljava/lang/Object;", "LMain;", "switchtest", "V"}
	typeStrIdx := []uint32{0, 1, 3} // type0=Object, type1=LMain;, type2=V

	const headerSize = 0x70
	stringIDsOff := headerSize
	stringIDsSize := len(strs)
	typeIDsOff := stringIDsOff + stringIDsSize*4
	typeIDsSize := len(typeStrIdx)
	protoIDsOff := typeIDsOff + typeIDsSize*4
	protoIDsSize := 1
	fieldIDsOff := protoIDsOff + protoIDsSize*12
	fieldIDsSize := 0
	methodIDsOff := fieldIDsOff + fieldIDsSize*8
	methodIDsSize := 1
	classDefsOff := methodIDsOff + methodIDsSize*8
	classDefsSize := 1
	dataOff := classDefsOff + classDefsSize*32

	pos := dataOff
	stringDataOffs := make([]int, len(strs))
	var dataBuf bytes.Buffer
	for i, s := range strs {
		stringDataOffs[i] = pos
		b := stringData(s)
		dataBuf.Write(b)
		pos += len(b)
	}
	if p := pad4(pos); p > 0 {
		dataBuf.Write(make([]byte, p))
		pos += p
	}

	codeOff := pos
	// offset 0: sparse-switch v0, +9          (table at offset 0+9=9)
	// offset 3: return-void                   (default fall-through)
	// offset 4: return-void                   (case key=1, rel target 4)
	// offset 5: return-void                   (case key=2, rel target 5)
	// offset 6: return-void                   (case key=3, rel target 6)
	// offset 7: nop
	// offset 8: nop
	// offset 9: sparse-switch-data, size=3, keys {1,2,3}, targets {4,5,6}
	insns := []uint16{
		0x002C, 0x0009, 0x0000, // sparse-switch v0, +9
		0x000E, // return-void (default)
		0x000E, // return-void (key 1)
		0x000E, // return-void (key 2)
		0x000E, // return-void (key 3)
		0x0000, // nop (padding to offset 9)
		0x0000, // nop (padding to offset 9)
		0x0200, 0x0003, // sparse-switch-data ident, size=3
		0x0001, 0x0000, // key 1
		0x0002, 0x0000, // key 2
		0x0003, 0x0000, // key 3
		0x0004, 0x0000, // target for key 1 (relative to switch at offset 0)
		0x0005, 0x0000, // target for key 2
		0x0006, 0x0000, // target for key 3
	}
	var code bytes.Buffer
	binary.Write(&code, binary.LittleEndian, uint16(1)) // registers_size
	binary.Write(&code, binary.LittleEndian, uint16(0)) // ins_size
	binary.Write(&code, binary.LittleEndian, uint16(0)) // outs_size
	binary.Write(&code, binary.LittleEndian, uint16(0)) // tries_size
	binary.Write(&code, binary.LittleEndian, uint32(0)) // debug_info_off
	binary.Write(&code, binary.LittleEndian, uint32(len(insns)))
	for _, u := range insns {
		binary.Write(&code, binary.LittleEndian, u)
	}
	dataBuf.Write(code.Bytes())
	pos += code.Len()

	classDataOff := pos
	var cdata bytes.Buffer
	putULEB128(&cdata, 0) // static_fields_size
	putULEB128(&cdata, 0) // instance_fields_size
	putULEB128(&cdata, 1) // direct_methods_size
	putULEB128(&cdata, 0) // virtual_methods_size
	putULEB128(&cdata, 0)                // method_idx_diff (absolute 0)
	putULEB128(&cdata, 0x9)              // access_flags: public|static
	putULEB128(&cdata, uint32(codeOff))  // code_off
	dataBuf.Write(cdata.Bytes())
	pos += cdata.Len()

	dataSize := pos - dataOff

	var buf bytes.Buffer
	buf.Write([]byte("dex\n035\x00"))
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // checksum
	buf.Write(make([]byte, 20))                        // signature, left zeroed
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // file_size, patched below
	binary.Write(&buf, binary.LittleEndian, uint32(headerSize))
	binary.Write(&buf, binary.LittleEndian, uint32(0x12345678)) // endian_tag
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // link_size
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // link_off
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // map_off
	binary.Write(&buf, binary.LittleEndian, uint32(stringIDsSize))
	binary.Write(&buf, binary.LittleEndian, uint32(stringIDsOff))
	binary.Write(&buf, binary.LittleEndian, uint32(typeIDsSize))
	binary.Write(&buf, binary.LittleEndian, uint32(typeIDsOff))
	binary.Write(&buf, binary.LittleEndian, uint32(protoIDsSize))
	binary.Write(&buf, binary.LittleEndian, uint32(protoIDsOff))
	binary.Write(&buf, binary.LittleEndian, uint32(fieldIDsSize))
	binary.Write(&buf, binary.LittleEndian, uint32(fieldIDsOff))
	binary.Write(&buf, binary.LittleEndian, uint32(methodIDsSize))
	binary.Write(&buf, binary.LittleEndian, uint32(methodIDsOff))
	binary.Write(&buf, binary.LittleEndian, uint32(classDefsSize))
	binary.Write(&buf, binary.LittleEndian, uint32(classDefsOff))
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	binary.Write(&buf, binary.LittleEndian, uint32(dataOff))

	if buf.Len() != headerSize {
		t.Fatalf("testfixture: header size mismatch: got %d want %d", buf.Len(), headerSize)
	}

	for _, off := range stringDataOffs {
		binary.Write(&buf, binary.LittleEndian, uint32(off))
	}
	for _, si := range typeStrIdx {
		binary.Write(&buf, binary.LittleEndian, uint32(si))
	}
	// proto: shorty_idx=3 ("V"), return_type_idx=2 (type "V"), params_off=0
	binary.Write(&buf, binary.LittleEndian, uint32(3))
	binary.Write(&buf, binary.LittleEndian, uint32(2))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	// method: class_idx=1 (LMain;), proto_idx=0, name_idx=2 ("switchtest")
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint32(2))
	// class_def
	binary.Write(&buf, binary.LittleEndian, uint32(1))          // class_idx
	binary.Write(&buf, binary.LittleEndian, uint32(0x1))        // access_flags: public
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // superclass_idx
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // interfaces_off
	binary.Write(&buf, binary.LittleEndian, uint32(0xFFFFFFFF)) // source_file_idx
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // annotations_off
	binary.Write(&buf, binary.LittleEndian, uint32(classDataOff))
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // static_values_off

	buf.Write(dataBuf.Bytes())

	out := buf.Bytes()
	binary.LittleEndian.PutUint32(out[32:36], uint32(len(out)))
	return out
}

// TwoClassDex builds a two-class DEX: LA;->callB()V invokes LB;->target()V,
// which loads the string constant "secret" into v0 before returning. It
// exercises a method cross-reference, a string cross-reference, and a
// static-invoke symbolic call edge in one fixture, for xref/graph/flow
// tests that need more than one method.
func TwoClassDex(t *testing.T) []byte {
	t.Helper()

	strs := []string{"Ljava/lang/Object;", "LA;", "LB;", "callB", "target", "V", "secret"}
	typeStrIdx := []uint32{0, 1, 2, 5} // type0=Object, type1=A, type2=B, type3=V

	const headerSize = 0x70
	stringIDsOff := headerSize
	stringIDsSize := len(strs)
	typeIDsOff := stringIDsOff + stringIDsSize*4
	typeIDsSize := len(typeStrIdx)
	protoIDsOff := typeIDsOff + typeIDsSize*4
	protoIDsSize := 1
	fieldIDsOff := protoIDsOff + protoIDsSize*12
	fieldIDsSize := 0
	methodIDsOff := fieldIDsOff + fieldIDsSize*8
	methodIDsSize := 2
	classDefsOff := methodIDsOff + methodIDsSize*8
	classDefsSize := 2
	dataOff := classDefsOff + classDefsSize*32

	pos := dataOff
	stringDataOffs := make([]int, len(strs))
	var dataBuf bytes.Buffer
	for i, s := range strs {
		stringDataOffs[i] = pos
		b := stringData(s)
		dataBuf.Write(b)
		pos += len(b)
	}
	if p := pad4(pos); p > 0 {
		dataBuf.Write(make([]byte, p))
		pos += p
	}

	// callB: invoke-static {}, LB;->target()V ; return-void
	codeOffA := pos
	var codeA bytes.Buffer
	binary.Write(&codeA, binary.LittleEndian, uint16(0)) // registers_size
	binary.Write(&codeA, binary.LittleEndian, uint16(0)) // ins_size
	binary.Write(&codeA, binary.LittleEndian, uint16(0)) // outs_size
	binary.Write(&codeA, binary.LittleEndian, uint16(0)) // tries_size
	binary.Write(&codeA, binary.LittleEndian, uint32(0)) // debug_info_off
	insnsA := []uint16{
		0x0071, // invoke-static, arg_count=0 (top nibble of high byte)
		0x0001, // method@1 (target)
		0x0000, // packed arg registers, unused (arg_count 0)
		0x000e, // return-void
	}
	binary.Write(&codeA, binary.LittleEndian, uint32(len(insnsA)))
	for _, u := range insnsA {
		binary.Write(&codeA, binary.LittleEndian, u)
	}
	dataBuf.Write(codeA.Bytes())
	pos += codeA.Len()

	// target: const-string v0, "secret" ; return-void
	codeOffB := pos
	var codeB bytes.Buffer
	binary.Write(&codeB, binary.LittleEndian, uint16(1)) // registers_size
	binary.Write(&codeB, binary.LittleEndian, uint16(0)) // ins_size
	binary.Write(&codeB, binary.LittleEndian, uint16(0)) // outs_size
	binary.Write(&codeB, binary.LittleEndian, uint16(0)) // tries_size
	binary.Write(&codeB, binary.LittleEndian, uint32(0)) // debug_info_off
	insnsB := []uint16{
		0x001a, // const-string v0, string@BBBB
		0x0006, // string@6 ("secret")
		0x000e, // return-void
	}
	binary.Write(&codeB, binary.LittleEndian, uint32(len(insnsB)))
	for _, u := range insnsB {
		binary.Write(&codeB, binary.LittleEndian, u)
	}
	dataBuf.Write(codeB.Bytes())
	pos += codeB.Len()

	classDataOffA := pos
	var cdataA bytes.Buffer
	putULEB128(&cdataA, 0) // static_fields_size
	putULEB128(&cdataA, 0) // instance_fields_size
	putULEB128(&cdataA, 1) // direct_methods_size
	putULEB128(&cdataA, 0) // virtual_methods_size
	putULEB128(&cdataA, 0) // method_idx_diff (absolute: method 0, callB)
	putULEB128(&cdataA, 0x9)
	putULEB128(&cdataA, uint32(codeOffA))
	dataBuf.Write(cdataA.Bytes())
	pos += cdataA.Len()

	classDataOffB := pos
	var cdataB bytes.Buffer
	putULEB128(&cdataB, 0)
	putULEB128(&cdataB, 0)
	putULEB128(&cdataB, 1)
	putULEB128(&cdataB, 0)
	putULEB128(&cdataB, 1) // method_idx_diff (absolute: method 1, target)
	putULEB128(&cdataB, 0x9)
	putULEB128(&cdataB, uint32(codeOffB))
	dataBuf.Write(cdataB.Bytes())
	pos += cdataB.Len()

	dataSize := pos - dataOff

	var buf bytes.Buffer
	buf.Write([]byte("dex\n035\x00"))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	buf.Write(make([]byte, 20))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint32(headerSize))
	binary.Write(&buf, binary.LittleEndian, uint32(0x12345678))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint32(stringIDsSize))
	binary.Write(&buf, binary.LittleEndian, uint32(stringIDsOff))
	binary.Write(&buf, binary.LittleEndian, uint32(typeIDsSize))
	binary.Write(&buf, binary.LittleEndian, uint32(typeIDsOff))
	binary.Write(&buf, binary.LittleEndian, uint32(protoIDsSize))
	binary.Write(&buf, binary.LittleEndian, uint32(protoIDsOff))
	binary.Write(&buf, binary.LittleEndian, uint32(fieldIDsSize))
	binary.Write(&buf, binary.LittleEndian, uint32(fieldIDsOff))
	binary.Write(&buf, binary.LittleEndian, uint32(methodIDsSize))
	binary.Write(&buf, binary.LittleEndian, uint32(methodIDsOff))
	binary.Write(&buf, binary.LittleEndian, uint32(classDefsSize))
	binary.Write(&buf, binary.LittleEndian, uint32(classDefsOff))
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	binary.Write(&buf, binary.LittleEndian, uint32(dataOff))

	if buf.Len() != headerSize {
		t.Fatalf("testfixture: header size mismatch: got %d want %d", buf.Len(), headerSize)
	}

	for _, off := range stringDataOffs {
		binary.Write(&buf, binary.LittleEndian, uint32(off))
	}
	for _, si := range typeStrIdx {
		binary.Write(&buf, binary.LittleEndian, uint32(si))
	}
	// proto0: shorty_idx=5 ("V"), return_type_idx=3 (type "V"), params_off=0
	binary.Write(&buf, binary.LittleEndian, uint32(5))
	binary.Write(&buf, binary.LittleEndian, uint32(3))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	// method0: class_idx=1 (LA;), proto_idx=0, name_idx=3 ("callB")
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint32(3))
	// method1: class_idx=2 (LB;), proto_idx=0, name_idx=4 ("target")
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint32(4))
	// class_def A
	binary.Write(&buf, binary.LittleEndian, uint32(1))          // class_idx
	binary.Write(&buf, binary.LittleEndian, uint32(0x1))        // access_flags
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // superclass_idx (type0, Object)
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // interfaces_off
	binary.Write(&buf, binary.LittleEndian, uint32(0xFFFFFFFF)) // source_file_idx
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // annotations_off
	binary.Write(&buf, binary.LittleEndian, uint32(classDataOffA))
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // static_values_off
	// class_def B
	binary.Write(&buf, binary.LittleEndian, uint32(2))
	binary.Write(&buf, binary.LittleEndian, uint32(0x1))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint32(0xFFFFFFFF))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint32(classDataOffB))
	binary.Write(&buf, binary.LittleEndian, uint32(0))

	buf.Write(dataBuf.Bytes())

	out := buf.Bytes()
	binary.LittleEndian.PutUint32(out[32:36], uint32(len(out)))
	return out
}

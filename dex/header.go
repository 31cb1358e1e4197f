package dex

import (
	"encoding/binary"
	"fmt"
)

// headerSize is the fixed size, in bytes, of the DEX file header.
const headerSize = 0x70

// magicPrefix is the fixed portion of the DEX magic; the three version
// digits that follow vary across Dalvik Executable format revisions.
var magicPrefix = [4]byte{'d', 'e', 'x', '\n'}

// Header mirrors the fixed-offset fields at the start of every DEX file.
// All multi-byte integers are little-endian, matching the source format.
type Header struct {
	Magic       [8]byte
	Checksum    uint32
	Signature   [20]byte // SHA-1 of the rest of the file; also the DEX identifier
	FileSize    uint32
	HeaderSize  uint32
	EndianTag   uint32
	LinkSize    uint32
	LinkOff     uint32
	MapOff      uint32
	StringIDs   poolLoc
	TypeIDs     poolLoc
	ProtoIDs    poolLoc
	FieldIDs    poolLoc
	MethodIDs   poolLoc
	ClassDefs   poolLoc
	Data        poolLoc
}

// poolLoc is the (count, fileOffset) pair every fixed-size ID table in the
// header is described by.
type poolLoc struct {
	Size uint32
	Off  uint32
}

func parseHeader(data []byte) (Header, error) {
	if len(data) < headerSize {
		return Header{}, fmt.Errorf("dex: file too small for header (%d bytes)", len(data))
	}
	var h Header
	copy(h.Magic[:], data[0:8])
	if h.Magic[0] != magicPrefix[0] || h.Magic[1] != magicPrefix[1] ||
		h.Magic[2] != magicPrefix[2] || h.Magic[3] != magicPrefix[3] || h.Magic[7] != 0x00 {
		return Header{}, fmt.Errorf("dex: bad magic %q", h.Magic[:])
	}
	h.Checksum = binary.LittleEndian.Uint32(data[8:12])
	copy(h.Signature[:], data[12:32])
	h.FileSize = binary.LittleEndian.Uint32(data[32:36])
	h.HeaderSize = binary.LittleEndian.Uint32(data[36:40])
	h.EndianTag = binary.LittleEndian.Uint32(data[40:44])
	h.LinkSize = binary.LittleEndian.Uint32(data[44:48])
	h.LinkOff = binary.LittleEndian.Uint32(data[48:52])
	h.MapOff = binary.LittleEndian.Uint32(data[52:56])
	// data[56:60] is string_ids_size and data[60:64] is string_ids_off; the
	// other ID tables and the data section follow as (size, off) pairs.
	h.StringIDs = poolLoc{Size: binary.LittleEndian.Uint32(data[56:60]), Off: binary.LittleEndian.Uint32(data[60:64])}
	h.TypeIDs = poolLoc{Size: binary.LittleEndian.Uint32(data[64:68]), Off: binary.LittleEndian.Uint32(data[68:72])}
	h.ProtoIDs = poolLoc{Size: binary.LittleEndian.Uint32(data[72:76]), Off: binary.LittleEndian.Uint32(data[76:80])}
	h.FieldIDs = poolLoc{Size: binary.LittleEndian.Uint32(data[80:84]), Off: binary.LittleEndian.Uint32(data[84:88])}
	h.MethodIDs = poolLoc{Size: binary.LittleEndian.Uint32(data[88:92]), Off: binary.LittleEndian.Uint32(data[92:96])}
	h.ClassDefs = poolLoc{Size: binary.LittleEndian.Uint32(data[96:100]), Off: binary.LittleEndian.Uint32(data[100:104])}
	h.Data = poolLoc{Size: binary.LittleEndian.Uint32(data[104:108]), Off: binary.LittleEndian.Uint32(data[108:112])}

	if int(h.HeaderSize) != headerSize {
		return Header{}, fmt.Errorf("dex: unexpected header_size %d", h.HeaderSize)
	}
	return h, nil
}

// Identifier returns the hex-encoded signature used to key this DEX within
// a MultiDex set.
func (h Header) Identifier() string {
	return fmt.Sprintf("%x", h.Signature)
}

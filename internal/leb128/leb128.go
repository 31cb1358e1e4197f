// Package leb128 reads the variable-length integer encodings used
// throughout the DEX container format: unsigned LEB128 for pool sizes and
// indices, plus a signed LEB128 reader.
package leb128

import "fmt"

// Reader walks a byte slice one ULEB128/SLEB128 value at a time, tracking
// its own cursor so callers can interleave leb128 reads with fixed-width
// reads against the same backing buffer.
type Reader struct {
	data []byte
	pos  int
}

// NewReader wraps data for sequential leb128 decoding starting at offset.
func NewReader(data []byte, offset int) *Reader {
	return &Reader{data: data, pos: offset}
}

// Pos returns the reader's current byte offset.
func (r *Reader) Pos() int { return r.pos }

// SetPos repositions the reader, for callers that read a value's payload
// with their own fixed-width logic after consuming its leb128 header.
func (r *Reader) SetPos(pos int) { r.pos = pos }

// Uleb128 reads a ULEB128-encoded uint32.
func (r *Reader) Uleb128() (uint32, error) {
	var result uint32
	var shift uint
	for {
		if r.pos >= len(r.data) {
			return 0, fmt.Errorf("leb128: unexpected end of buffer at offset %d", r.pos)
		}
		b := r.data[r.pos]
		r.pos++
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, fmt.Errorf("leb128: uleb128 overflow at offset %d", r.pos)
		}
	}
}

// Uleb128p1 reads a ULEB128p1 value: the on-wire value minus one, used by
// the DEX format wherever -1 ("no value") must be representable.
func (r *Reader) Uleb128p1() (int32, error) {
	v, err := r.Uleb128()
	if err != nil {
		return 0, err
	}
	return int32(v) - 1, nil
}

// Sleb128 reads a SLEB128-encoded int32.
func (r *Reader) Sleb128() (int32, error) {
	var result int32
	var shift uint
	var b byte
	for {
		if r.pos >= len(r.data) {
			return 0, fmt.Errorf("leb128: unexpected end of buffer at offset %d", r.pos)
		}
		b = r.data[r.pos]
		r.pos++
		result |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 32 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

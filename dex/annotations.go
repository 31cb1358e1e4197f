package dex

import (
	"encoding/binary"
	"fmt"

	"github.com/lookbusy1344/dexlab/internal/leb128"
)

// parseClassAnnotations reads an annotation_directory_item's class_annotations
// set (the field/method/parameter annotation lists are not modelled: this
// toolkit only needs class-level literal discovery, per the supplemented
// feature noted in the grounding ledger) and flattens every element value
// of every annotation into one slice, in annotation-then-element order.
func parseClassAnnotations(data []byte, off uint32) ([]EncodedValue, error) {
	if int(off)+4 > len(data) {
		return nil, fmt.Errorf("dex: annotations_directory_item offset %d out of range", off)
	}
	classAnnotationsOff := binary.LittleEndian.Uint32(data[off : off+4])
	if classAnnotationsOff == 0 {
		return nil, nil
	}
	return parseAnnotationSet(data, classAnnotationsOff)
}

// parseAnnotationSet reads an annotation_set_item: a uint32 count followed
// by that many uint32 offsets into annotation_item entries.
func parseAnnotationSet(data []byte, off uint32) ([]EncodedValue, error) {
	if int(off)+4 > len(data) {
		return nil, fmt.Errorf("dex: annotation_set_item offset %d out of range", off)
	}
	size := binary.LittleEndian.Uint32(data[off : off+4])
	var out []EncodedValue
	for i := uint32(0); i < size; i++ {
		entryOff := off + 4 + i*4
		if int(entryOff)+4 > len(data) {
			break
		}
		itemOff := binary.LittleEndian.Uint32(data[entryOff : entryOff+4])
		values, err := parseAnnotationItem(data, itemOff)
		if err != nil {
			continue // a malformed annotation is tolerated, not fatal to the class
		}
		out = append(out, values...)
	}
	return out, nil
}

// parseAnnotationItem reads one annotation_item: a visibility byte
// followed by an encoded_annotation (type_idx, size, then that many
// (name_idx, value) pairs).
func parseAnnotationItem(data []byte, off uint32) ([]EncodedValue, error) {
	if int(off)+1 > len(data) {
		return nil, fmt.Errorf("dex: annotation_item offset %d out of range", off)
	}
	r := leb128.NewReader(data, int(off)+1) // skip visibility byte
	if _, err := r.Uleb128(); err != nil {  // type_idx, not needed for literal discovery
		return nil, err
	}
	size, err := r.Uleb128()
	if err != nil {
		return nil, err
	}
	out := make([]EncodedValue, 0, size)
	for i := uint32(0); i < size; i++ {
		if _, err := r.Uleb128(); err != nil { // element name_idx
			return out, err
		}
		v, err := parseEncodedValue(data, r)
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

package mutf8_test

import (
	"testing"

	"github.com/lookbusy1344/dexlab/internal/mutf8"
)

func TestDecodeASCII(t *testing.T) {
	got, err := mutf8.Decode([]byte("LMain;"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "LMain;" {
		t.Fatalf("Decode(ASCII) = %q, want %q", got, "LMain;")
	}
}

func TestDecodeEmbeddedNulEncoding(t *testing.T) {
	// The modified-UTF-8 encoding of NUL is 0xC0 0x80, never a raw 0x00 byte.
	got, err := mutf8.Decode([]byte{'a', 0xC0, 0x80, 'b'})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "a\x00b" {
		t.Fatalf("Decode(encoded NUL) = %q, want %q", got, "a\x00b")
	}
}

func TestDecodeRejectsRawNul(t *testing.T) {
	if _, err := mutf8.Decode([]byte{'a', 0x00, 'b'}); err == nil {
		t.Fatalf("Decode accepted a raw embedded NUL byte")
	}
}

func TestDecodeCESU8SurrogatePair(t *testing.T) {
	// U+1F600 (grinning face) encoded as a CESU-8 surrogate pair: each half
	// is its own 3-byte sequence instead of one 4-byte UTF-8 sequence.
	data := []byte{0xED, 0xA0, 0xBD, 0xED, 0xB8, 0x80}
	got, err := mutf8.Decode(data)
	if err != nil {
		t.Fatalf("Decode(CESU-8 pair): %v", err)
	}
	want := string(rune(0x1F600))
	if got != want {
		t.Fatalf("Decode(CESU-8 pair) = %q, want %q", got, want)
	}
}

func TestDecodeTruncatedSequenceErrors(t *testing.T) {
	if _, err := mutf8.Decode([]byte{0xE0, 0x80}); err == nil {
		t.Fatalf("Decode accepted a truncated 3-byte sequence")
	}
}

func TestDecodeLossyFallsBackOnMalformedInput(t *testing.T) {
	data := []byte{'o', 'k', 0xFF, 0xFE}
	got := mutf8.DecodeLossy(data)
	if got == "" {
		t.Fatalf("DecodeLossy returned empty string for malformed input")
	}
	if got[:2] != "ok" {
		t.Fatalf("DecodeLossy(%v) = %q, want it to preserve the valid prefix", data, got)
	}
}

func TestDecodeLossyMatchesDecodeOnValidInput(t *testing.T) {
	valid := []byte("valid string")
	strict, err := mutf8.Decode(valid)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if lossy := mutf8.DecodeLossy(valid); lossy != strict {
		t.Fatalf("DecodeLossy(valid) = %q, want it to match Decode = %q", lossy, strict)
	}
}

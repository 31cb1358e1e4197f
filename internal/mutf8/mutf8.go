// Package mutf8 decodes the Modified UTF-8 byte runs DEX string pools use:
// the NUL code point is encoded as two bytes (0xC0 0x80) instead of one,
// and surrogate pairs may appear encoded as CESU-8 rather than as a single
// four-byte UTF-8 sequence. The decoder is strict first and falls back to
// a lossy pass when strict decoding cannot make sense of a run, matching
// the source container format's own "to_str_lossy" escape hatch.
package mutf8

import (
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decode converts a MUTF-8 byte run into a Go string, applying CESU-8
// surrogate-pair joining where present. On malformed input it returns an
// error; callers that need to keep going should fall back to DecodeLossy.
func Decode(data []byte) (string, error) {
	var b strings.Builder
	b.Grow(len(data))
	i := 0
	for i < len(data) {
		c0 := data[i]
		switch {
		case c0 == 0x00:
			return "", fmt.Errorf("mutf8: embedded raw NUL at offset %d", i)
		case c0&0x80 == 0:
			b.WriteByte(c0)
			i++
		case c0&0xE0 == 0xC0:
			if i+1 >= len(data) || data[i+1]&0xC0 != 0x80 {
				return "", fmt.Errorf("mutf8: truncated 2-byte sequence at offset %d", i)
			}
			r := rune(c0&0x1F)<<6 | rune(data[i+1]&0x3F)
			b.WriteRune(r)
			i += 2
		case c0&0xF0 == 0xE0:
			if i+2 >= len(data) || data[i+1]&0xC0 != 0x80 || data[i+2]&0xC0 != 0x80 {
				return "", fmt.Errorf("mutf8: truncated 3-byte sequence at offset %d", i)
			}
			r := rune(c0&0x0F)<<12 | rune(data[i+1]&0x3F)<<6 | rune(data[i+2]&0x3F)
			if utf16.IsSurrogate(r) && i+5 < len(data) {
				hi := r
				lo, n, ok := decode3(data[i+3:])
				if ok && utf16.IsSurrogate(lo) {
					combined := utf16.DecodeRune(hi, lo)
					if combined != utf8.RuneError {
						b.WriteRune(combined)
						i += 3 + n
						continue
					}
				}
			}
			b.WriteRune(r)
			i += 3
		default:
			return "", fmt.Errorf("mutf8: invalid lead byte 0x%02x at offset %d", c0, i)
		}
	}
	return b.String(), nil
}

func decode3(data []byte) (rune, int, bool) {
	if len(data) < 3 || data[0]&0xF0 != 0xE0 || data[1]&0xC0 != 0x80 || data[2]&0xC0 != 0x80 {
		return 0, 0, false
	}
	r := rune(data[0]&0x0F)<<12 | rune(data[1]&0x3F)<<6 | rune(data[2]&0x3F)
	return r, 3, true
}

// DecodeLossy behaves like Decode but never fails: malformed runs are
// replaced with the Unicode replacement character and decoding resumes at
// the next byte, the same degraded-but-forward-progressing behaviour the
// container format documents as its MUTF-8 fallback path. The strict
// decoder handles the common MUTF-8/CESU-8 run; only truly malformed
// input reaches here, so the pass goes through x/text's UTF-8 transformer
// rather than duplicating byte-level replacement logic.
func DecodeLossy(data []byte) string {
	s, err := Decode(data)
	if err == nil {
		return s
	}
	out, _, terr := transform.Bytes(unicode.UTF8.NewDecoder(), data)
	if terr != nil {
		return replaceInvalidManually(data)
	}
	return string(out)
}

func replaceInvalidManually(data []byte) string {
	var b strings.Builder
	i := 0
	for i < len(data) {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size <= 1 {
			b.WriteRune(utf8.RuneError)
			i++
			continue
		}
		b.WriteRune(r)
		i += size
	}
	return b.String()
}

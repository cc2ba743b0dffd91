// Package byteio provides the little-endian scalar decoders and
// NUL-terminated byte-string helpers shared by the subrecord, record, and
// group readers. It is internal because nothing outside the parser
// plumbing needs it.
package byteio

import (
	"encoding/binary"
	"math"

	"github.com/bgrewell/esm-kit/pkg/esmerrors"
	"golang.org/x/text/encoding/charmap"
)

// UntilFirstNull returns the slice up to, not including, the first zero
// byte, or the whole slice if none is present.
func UntilFirstNull(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

// ReadUint16LE decodes a little-endian uint16. The caller must ensure b has
// at least 2 bytes.
func ReadUint16LE(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

// ReadUint32LE decodes a little-endian uint32. The caller must ensure b has
// at least 4 bytes.
func ReadUint32LE(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// ReadFloat32LE decodes a little-endian IEEE-754 32-bit float. The caller
// must ensure b has at least 4 bytes.
func ReadFloat32LE(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// undefinedWindows1252Bytes are the five byte values Windows-1252 leaves
// undefined (0x81, 0x8D, 0x8F, 0x90, 0x9D). charmap.Windows1252 silently
// substitutes U+FFFD for these instead of erroring, so DecodeWindows1252
// must check for them itself to be strict.
var undefinedWindows1252Bytes = [256]bool{
	0x81: true,
	0x8D: true,
	0x8F: true,
	0x90: true,
	0x9D: true,
}

// DecodeWindows1252 decodes b as Windows-1252, strictly: every defined byte
// maps to a valid Unicode code point, and the five undefined byte values
// surface as a DecodeError rather than a silently substituted replacement
// character.
func DecodeWindows1252(b []byte) (string, error) {
	for _, c := range b {
		if undefinedWindows1252Bytes[c] {
			return "", &esmerrors.DecodeError{Bytes: append([]byte(nil), b...)}
		}
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return "", &esmerrors.DecodeError{Bytes: append([]byte(nil), b...)}
	}
	return string(decoded), nil
}

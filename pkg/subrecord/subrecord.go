// Package subrecord implements the innermost wire format shared by every
// record in a plugin: a 4-byte tag, a size field, and a payload.
package subrecord

import (
	"errors"
	"io"

	"github.com/bgrewell/esm-kit/internal/byteio"
	"github.com/bgrewell/esm-kit/pkg/esmerrors"
	"github.com/bgrewell/esm-kit/pkg/game"
)

// XXXXTag marks the "large subrecord" escape: its 4-byte payload is the
// true 32-bit size of the subrecord that follows.
var XXXXTag = [4]byte{'X', 'X', 'X', 'X'}

// Subrecord is a typed tag plus payload, immutable after construction.
type Subrecord struct {
	Tag  [4]byte
	Data []byte
}

// Reader reads a sequence of subrecords from a bounded byte stream,
// honoring the XXXX large-subrecord escape for every game but Morrowind.
type Reader struct {
	r           io.Reader
	game        game.ID
	pendingSize *uint32
}

// NewReader returns a Reader over r, which must be bounded to exactly the
// bytes belonging to the enclosing record's payload (subrecords are read
// until r is exhausted).
func NewReader(r io.Reader, g game.ID) *Reader {
	return &Reader{r: r, game: g}
}

// Next reads the next subrecord, or returns io.EOF when the stream is
// cleanly exhausted (i.e. nothing at all was read for the next tag).
func (sr *Reader) Next() (Subrecord, error) {
	var tagBuf [4]byte
	n, err := io.ReadFull(sr.r, tagBuf[:])
	if n == 0 && errors.Is(err, io.EOF) {
		return Subrecord{}, io.EOF
	}
	if err != nil {
		return Subrecord{}, esmerrors.NewParsingError(esmerrors.UnexpectedEndOfStream, "truncated subrecord tag", tagBuf[:n])
	}

	declaredSize, err := sr.readDeclaredSize()
	if err != nil {
		return Subrecord{}, err
	}

	size := declaredSize
	if sr.pendingSize != nil {
		size = *sr.pendingSize
		sr.pendingSize = nil
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(sr.r, data); err != nil {
		return Subrecord{}, esmerrors.NewParsingError(esmerrors.UnexpectedEndOfStream, "truncated subrecord data", tagBuf[:])
	}

	if sr.game != game.Morrowind && tagBuf == XXXXTag {
		if len(data) < 4 {
			return Subrecord{}, esmerrors.NewParsingError(esmerrors.SubrecordDataTooShort, "XXXX payload must be 4 bytes", data)
		}
		trueSize := byteio.ReadUint32LE(data)
		sr.pendingSize = &trueSize
	}

	return Subrecord{Tag: tagBuf, Data: data}, nil
}

// readDeclaredSize reads the on-wire size field: a u32 for Morrowind, a u16
// for every other game. It is always consumed, even when its value will be
// overridden by a pending XXXX escape size, per spec §4.2.
func (sr *Reader) readDeclaredSize() (uint32, error) {
	if sr.game == game.Morrowind {
		var buf [4]byte
		if _, err := io.ReadFull(sr.r, buf[:]); err != nil {
			return 0, esmerrors.NewParsingError(esmerrors.UnexpectedEndOfStream, "truncated subrecord size", buf[:])
		}
		return byteio.ReadUint32LE(buf[:]), nil
	}

	var buf [2]byte
	if _, err := io.ReadFull(sr.r, buf[:]); err != nil {
		return 0, esmerrors.NewParsingError(esmerrors.UnexpectedEndOfStream, "truncated subrecord size", buf[:])
	}
	return uint32(byteio.ReadUint16LE(buf[:])), nil
}

// Find returns the first subrecord with the given tag, if any.
func Find(subrecords []Subrecord, tag [4]byte) (Subrecord, bool) {
	for _, s := range subrecords {
		if s.Tag == tag {
			return s, true
		}
	}
	return Subrecord{}, false
}

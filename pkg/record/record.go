// Package record implements the record wire format shared by every
// supported game: a tag header with flags, an optional form id, a payload
// size, and a sequence of subrecords. Compressed payloads are
// transparently decompressed on read.
package record

import (
	"bytes"
	"io"

	"github.com/bgrewell/esm-kit/internal/byteio"
	"github.com/bgrewell/esm-kit/pkg/esmerrors"
	"github.com/bgrewell/esm-kit/pkg/game"
	"github.com/bgrewell/esm-kit/pkg/recordid"
	"github.com/bgrewell/esm-kit/pkg/subrecord"
	"github.com/klauspost/compress/zlib"
)

// MaxHeaderLength is the longest on-wire record header across every
// supported game (24 bytes, every non-Morrowind game).
const MaxHeaderLength = 24

// morrowindHeaderLength is the header length for Morrowind, whose header
// has no form id.
const morrowindHeaderLength = 16

// CompressedFlag marks a record whose payload is zlib-compressed, prefixed
// by the 4-byte little-endian decompressed size.
const CompressedFlag uint32 = 0x0004_0000

// nameTag and inamTag are the subrecords Morrowind's editor id lives in;
// every record type uses NAME except INFO, which uses INAM.
var (
	nameTag = [4]byte{'N', 'A', 'M', 'E'}
	inamTag = [4]byte{'I', 'N', 'A', 'M'}
	infoTag = [4]byte{'I', 'N', 'F', 'O'}
)

// Record is a fully parsed record: header fields plus every subrecord.
type Record struct {
	Tag        [4]byte
	Flags      uint32
	FormID     uint32 // always 0 for Morrowind
	Subrecords []subrecord.Subrecord
}

type header struct {
	tag    [4]byte
	size   uint32
	flags  uint32
	formID uint32
}

func readHeader(r io.Reader, g game.ID, tag [4]byte, tagAlreadyRead bool) (header, error) {
	if !tagAlreadyRead {
		if _, err := io.ReadFull(r, tag[:]); err != nil {
			return header{}, esmerrors.NewParsingError(esmerrors.UnexpectedEndOfStream, "truncated record tag", tag[:])
		}
	}

	if g == game.Morrowind {
		var rest [morrowindHeaderLength - 4]byte
		if _, err := io.ReadFull(r, rest[:]); err != nil {
			return header{}, esmerrors.NewParsingError(esmerrors.UnexpectedEndOfStream, "truncated morrowind record header", rest[:])
		}
		return header{
			tag:   tag,
			size:  byteio.ReadUint32LE(rest[0:4]),
			flags: byteio.ReadUint32LE(rest[8:12]),
		}, nil
	}

	var rest [MaxHeaderLength - 4]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return header{}, esmerrors.NewParsingError(esmerrors.UnexpectedEndOfStream, "truncated record header", rest[:])
	}
	return header{
		tag:    tag,
		size:   byteio.ReadUint32LE(rest[0:4]),
		flags:  byteio.ReadUint32LE(rest[4:8]),
		formID: byteio.ReadUint32LE(rest[8:12]),
	}, nil
}

// Read parses a full record, including every subrecord. It fails with a
// ParsingError(UnexpectedRecordType) if the tag doesn't match expectedTag.
func Read(r io.Reader, g game.ID, expectedTag [4]byte) (Record, error) {
	h, err := readHeader(r, g, [4]byte{}, false)
	if err != nil {
		return Record{}, err
	}
	if h.tag != expectedTag {
		return Record{}, esmerrors.NewParsingError(esmerrors.UnexpectedRecordType, "expected "+string(expectedTag[:]), h.tag[:])
	}

	payload := make([]byte, h.size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Record{}, esmerrors.NewParsingError(esmerrors.UnexpectedEndOfStream, "truncated record payload", payload)
	}

	if h.flags&CompressedFlag != 0 {
		payload, err = decompress(payload)
		if err != nil {
			return Record{}, err
		}
	}

	subs, err := readAllSubrecords(payload, g)
	if err != nil {
		return Record{}, err
	}

	return Record{Tag: h.tag, Flags: h.flags, FormID: h.formID, Subrecords: subs}, nil
}

// ReadRecordID performs the lightweight walk of spec §4.3: it returns the
// record's flags and identity without materializing subrecord bodies for
// every game but Morrowind, where the identity itself lives in a
// subrecord and so requires a scan. tag is the 4-byte record tag the
// caller (typically a group walk) has already peeked to decide this
// wasn't a nested GRUP; pass headerAlreadyRead=false if it hasn't.
func ReadRecordID(r io.Reader, g game.ID, tag [4]byte, headerAlreadyRead bool) (flags uint32, id *recordid.RecordId, err error) {
	h, err := readHeader(r, g, tag, headerAlreadyRead)
	if err != nil {
		return 0, nil, err
	}

	if g.HasFormIDs() {
		if _, err := io.CopyN(io.Discard, r, int64(h.size)); err != nil {
			return 0, nil, esmerrors.NewParsingError(esmerrors.UnexpectedEndOfStream, "truncated record payload", nil)
		}
		rid := recordid.NewFormIdRecordId(h.formID)
		return h.flags, &rid, nil
	}

	payload := make([]byte, h.size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, esmerrors.NewParsingError(esmerrors.UnexpectedEndOfStream, "truncated record payload", payload)
	}
	if h.flags&CompressedFlag != 0 {
		payload, err = decompress(payload)
		if err != nil {
			return 0, nil, err
		}
	}

	wantTag := nameTag
	if h.tag == infoTag {
		wantTag = inamTag
	}

	editorIDTag, found, err := findEditorIDSubrecord(payload, wantTag)
	if err != nil {
		return 0, nil, err
	}
	if !found {
		return h.flags, nil, nil
	}

	editorID, err := byteio.DecodeWindows1252(byteio.UntilFirstNull(editorIDTag))
	if err != nil {
		return 0, nil, err
	}

	nsID := recordid.NewNamespacedId(h.tag, editorID)
	rid := recordid.NewNamespacedRecordId(nsID)
	return h.flags, &rid, nil
}

func findEditorIDSubrecord(payload []byte, wantTag [4]byte) ([]byte, bool, error) {
	reader := subrecord.NewReader(bytes.NewReader(payload), game.Morrowind)
	for {
		sub, err := reader.Next()
		if err == io.EOF {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		if sub.Tag == wantTag {
			return sub.Data, true, nil
		}
	}
}

func readAllSubrecords(payload []byte, g game.ID) ([]subrecord.Subrecord, error) {
	reader := subrecord.NewReader(bytes.NewReader(payload), g)
	var subs []subrecord.Subrecord
	for {
		sub, err := reader.Next()
		if err == io.EOF {
			return subs, nil
		}
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
}

// decompress transparently inflates a compressed record payload, whose
// first 4 bytes declare the decompressed size. A malformed declared size
// fails rather than allocating unbounded memory: the inflate reader is
// bounded to declaredSize+1, so an oversized stream surfaces as
// DecompressionFailed instead of exhausting memory.
func decompress(payload []byte) ([]byte, error) {
	if len(payload) < 4 {
		return nil, esmerrors.NewParsingError(esmerrors.DecompressionFailed, "compressed payload too short for size prefix", payload)
	}
	declaredSize := byteio.ReadUint32LE(payload[0:4])

	zr, err := zlib.NewReader(bytes.NewReader(payload[4:]))
	if err != nil {
		return nil, esmerrors.NewParsingError(esmerrors.DecompressionFailed, err.Error(), payload[4:])
	}
	defer zr.Close()

	limited := io.LimitReader(zr, int64(declaredSize)+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, esmerrors.NewParsingError(esmerrors.DecompressionFailed, err.Error(), nil)
	}
	if uint32(len(out)) != declaredSize {
		return nil, esmerrors.NewParsingError(esmerrors.DecompressionFailed, "decompressed size mismatch", nil)
	}
	return out, nil
}

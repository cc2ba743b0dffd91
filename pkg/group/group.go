// Package group implements the recursive GRUP container used by every
// supported game but Morrowind. A group nests records (and further groups)
// by type and cell; ReadFormIDs walks that nesting to collect every
// contained record's identity without materializing record payloads.
package group

import (
	"errors"
	"io"

	"github.com/bgrewell/esm-kit/internal/byteio"
	"github.com/bgrewell/esm-kit/pkg/esmerrors"
	"github.com/bgrewell/esm-kit/pkg/game"
	"github.com/bgrewell/esm-kit/pkg/record"
	"github.com/bgrewell/esm-kit/pkg/recordid"
)

// groupHeaderLength is the full on-wire header length, including the
// "GRUP" tag itself.
const groupHeaderLength = 24

var grupTag = [4]byte{'G', 'R', 'U', 'P'}

// Entry is one record encountered during a group walk: its flags and its
// identity, or a nil identity if the record carried none (spec §4.3).
type Entry struct {
	Flags uint32
	ID    *recordid.RecordId
}

// ReadFormIDs walks r, which must be bounded to exactly the bytes the
// caller wants scanned, collecting the identity of every record found
// directly or within nested groups. A "GRUP" tag recurses; anything else
// is a record whose id is collected via record.ReadRecordID and whose
// payload is skipped rather than materialized. Stream order is preserved;
// sorting is the caller's responsibility.
func ReadFormIDs(r io.Reader, g game.ID) ([]Entry, error) {
	var entries []Entry
	for {
		var tagBuf [4]byte
		n, err := io.ReadFull(r, tagBuf[:])
		if n == 0 && errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, esmerrors.NewParsingError(esmerrors.UnexpectedEndOfStream, "truncated tag in group body", tagBuf[:n])
		}

		if tagBuf == grupTag {
			bodySize, err := readGroupHeaderRest(r)
			if err != nil {
				return nil, err
			}
			nested, err := ReadFormIDs(io.LimitReader(r, int64(bodySize)), g)
			if err != nil {
				return nil, err
			}
			entries = append(entries, nested...)
			continue
		}

		flags, id, err := record.ReadRecordID(r, g, tagBuf, true)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Flags: flags, ID: id})
	}
}

// readGroupHeaderRest reads the 20 bytes of a GRUP header that follow the
// already-consumed "GRUP" tag, returning the body size in bytes (the
// declared total size minus the 24-byte header).
func readGroupHeaderRest(r io.Reader) (uint32, error) {
	var rest [groupHeaderLength - 4]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return 0, esmerrors.NewParsingError(esmerrors.GroupMalformed, "truncated group header", rest[:])
	}
	size := byteio.ReadUint32LE(rest[0:4])
	if size < groupHeaderLength {
		return 0, esmerrors.NewParsingError(esmerrors.GroupMalformed, "group size smaller than header", rest[0:4])
	}
	return size - groupHeaderLength, nil
}

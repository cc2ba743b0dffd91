package group

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/bgrewell/esm-kit/pkg/game"
	"github.com/stretchr/testify/require"
)

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func buildSubrecord(tag string, data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(tag)
	buf.Write(le16(uint16(len(data))))
	buf.Write(data)
	return buf.Bytes()
}

func buildRecord(tag string, flags uint32, formID uint32, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(tag)
	buf.Write(le32(uint32(len(payload))))
	buf.Write(le32(flags))
	buf.Write(le32(formID))
	buf.Write(le32(0))
	buf.Write(le32(0))
	buf.Write(payload)
	return buf.Bytes()
}

func buildGroup(label string, groupType int32, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("GRUP")
	buf.Write(le32(uint32(len(body) + 24)))
	buf.WriteString(label)
	buf.Write(le32(uint32(groupType)))
	buf.Write(le32(0)) // timestamp
	buf.Write(le32(0)) // internal/vcs
	buf.Write(body)
	return buf.Bytes()
}

func TestReadFormIDs_FlatRecords(t *testing.T) {
	r1 := buildRecord("ACTI", 0, 0x01000001, buildSubrecord("EDID", []byte("a\x00")))
	r2 := buildRecord("ACTI", 0, 0x01000002, buildSubrecord("EDID", []byte("b\x00")))

	var body bytes.Buffer
	body.Write(r1)
	body.Write(r2)

	entries, err := ReadFormIDs(bytes.NewReader(body.Bytes()), game.Skyrim)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, uint32(0x01000001), entries[0].ID.FormID)
	require.Equal(t, uint32(0x01000002), entries[1].ID.FormID)
}

func TestReadFormIDs_NestedGroup(t *testing.T) {
	inner := buildRecord("ACTI", 0, 0x01000005, buildSubrecord("EDID", []byte("inner\x00")))
	nestedGroup := buildGroup("CELL", 6, inner)

	outer := buildRecord("CELL", 0, 0x01000010, buildSubrecord("EDID", []byte("cell\x00")))

	var body bytes.Buffer
	body.Write(outer)
	body.Write(nestedGroup)

	entries, err := ReadFormIDs(bytes.NewReader(body.Bytes()), game.SkyrimSE)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, uint32(0x01000010), entries[0].ID.FormID)
	require.Equal(t, uint32(0x01000005), entries[1].ID.FormID)
}

func TestReadFormIDs_DeeplyNestedGroups(t *testing.T) {
	leaf := buildRecord("REFR", 0, 0x0100000A, nil)
	level2 := buildGroup("CELL", 9, leaf)
	level1 := buildGroup("CELL", 6, level2)

	entries, err := ReadFormIDs(bytes.NewReader(level1), game.SkyrimSE)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, uint32(0x0100000A), entries[0].ID.FormID)
}

func TestReadFormIDs_MalformedGroupSize(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("GRUP")
	buf.Write(le32(4)) // smaller than the 24-byte header itself
	buf.WriteString("CELL")
	buf.Write(le32(0))
	buf.Write(le32(0))
	buf.Write(le32(0))

	_, err := ReadFormIDs(bytes.NewReader(buf.Bytes()), game.SkyrimSE)
	require.Error(t, err)
}

func TestReadFormIDs_EmptyStreamYieldsNoEntries(t *testing.T) {
	entries, err := ReadFormIDs(bytes.NewReader(nil), game.Skyrim)
	require.NoError(t, err)
	require.Empty(t, entries)
}

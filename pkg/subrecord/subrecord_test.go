package subrecord

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/bgrewell/esm-kit/pkg/game"
	"github.com/stretchr/testify/require"
)

func buildSubrecord(tag string, data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(tag)
	var sizeBuf [2]byte
	binary.LittleEndian.PutUint16(sizeBuf[:], uint16(len(data)))
	buf.Write(sizeBuf[:])
	buf.Write(data)
	return buf.Bytes()
}

func buildMorrowindSubrecord(tag string, data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(tag)
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(data)))
	buf.Write(sizeBuf[:])
	buf.Write(data)
	return buf.Bytes()
}

func TestReader_SimpleSubrecord(t *testing.T) {
	data := buildSubrecord("EDID", []byte("Hello\x00"))
	r := NewReader(bytes.NewReader(data), game.Skyrim)

	sub, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, [4]byte{'E', 'D', 'I', 'D'}, sub.Tag)
	require.Equal(t, []byte("Hello\x00"), sub.Data)

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReader_MorrowindUses32BitSize(t *testing.T) {
	data := buildMorrowindSubrecord("NAME", []byte("abc"))
	r := NewReader(bytes.NewReader(data), game.Morrowind)

	sub, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), sub.Data)
}

func TestReader_XXXXEscape(t *testing.T) {
	// A large subrecord escape: XXXX carries the true size (300 bytes) of
	// the subrecord that follows; the follower's own declared size (here
	// deliberately wrong, 5) must be read and ignored.
	trueSize := make([]byte, 4)
	binary.LittleEndian.PutUint32(trueSize, 300)

	var buf bytes.Buffer
	buf.Write(buildSubrecord("XXXX", trueSize))

	bigPayload := bytes.Repeat([]byte{0xAB}, 300)
	buf.WriteString("VMAD")
	var wrongSize [2]byte
	binary.LittleEndian.PutUint16(wrongSize[:], 5) // intentionally wrong
	buf.Write(wrongSize[:])
	buf.Write(bigPayload)

	r := NewReader(bytes.NewReader(buf.Bytes()), game.SkyrimSE)

	xxxx, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, XXXXTag, xxxx.Tag)

	vmad, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, [4]byte{'V', 'M', 'A', 'D'}, vmad.Tag)
	require.Len(t, vmad.Data, 300)
	require.Equal(t, bigPayload, vmad.Data)
}

func TestReader_MorrowindIgnoresXXXXEscape(t *testing.T) {
	// Morrowind has no XXXX escape: a literal tag "XXXX" subrecord is just
	// a subrecord like any other, with a plain 32-bit size.
	data := buildMorrowindSubrecord("XXXX", []byte{1, 2, 3, 4})
	r := NewReader(bytes.NewReader(data), game.Morrowind)

	sub, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, sub.Data)

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReader_EmptyStreamIsEOF(t *testing.T) {
	r := NewReader(bytes.NewReader(nil), game.Skyrim)
	_, err := r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReader_TruncatedSizeIsParsingError(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte("EDID\x00")), game.Skyrim)
	_, err := r.Next()
	require.Error(t, err)
	require.NotErrorIs(t, err, io.EOF)
}

func TestFind(t *testing.T) {
	subs := []Subrecord{
		{Tag: [4]byte{'E', 'D', 'I', 'D'}, Data: []byte("a")},
		{Tag: [4]byte{'F', 'U', 'L', 'L'}, Data: []byte("b")},
	}
	found, ok := Find(subs, [4]byte{'F', 'U', 'L', 'L'})
	require.True(t, ok)
	require.Equal(t, []byte("b"), found.Data)

	_, ok = Find(subs, [4]byte{'N', 'O', 'P', 'E'})
	require.False(t, ok)
}

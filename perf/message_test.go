package perf

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriangular_FirstValues(t *testing.T) {
	want := []uint64{0, 0, 1, 3, 5, 7, 10}
	for n, w := range want {
		assert.Equal(t, w, Triangular(uint64(n)), "n=%d", n)
	}
}

func TestWordsForSize_RoundsUp(t *testing.T) {
	tests := []struct {
		size, words int
	}{
		{0, 0}, {1, 1}, {8, 1}, {12, 2}, {64, 8}, {65, 9}, {512, 64},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.words, WordsForSize(tc.size), "size %d", tc.size)
		assert.Len(t, GenerateMessage(tc.size), tc.words, "size %d", tc.size)
	}
}

func TestValidateAt_MatchesOffset(t *testing.T) {
	msg := GenerateMessageAt(16, 8)

	assert.True(t, ValidateAt(msg, 16))
	assert.False(t, ValidateAt(msg, 0))

	msg[3]++
	assert.False(t, ValidateAt(msg, 16))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal([]uint64{1, 2}, []uint64{1, 2}))
	assert.False(t, Equal([]uint64{1, 2}, []uint64{1, 3}))
	assert.False(t, Equal([]uint64{1}, []uint64{1, 2}))
}

func TestEncodeWords_BigEndian(t *testing.T) {
	buf := EncodeWords(nil, []uint64{0x0102030405060708})
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, buf)
}

func TestWriteReadWords_PreservesPayload(t *testing.T) {
	var buf bytes.Buffer
	msg := GenerateMessage(512)

	require.NoError(t, WriteWords(&buf, msg))
	assert.Equal(t, 512, buf.Len())

	got, err := ReadWords(&buf, len(msg))
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestReadWords_ShortInput_Errors(t *testing.T) {
	_, err := ReadWords(bytes.NewReader(make([]byte, 12)), 2)
	assert.Error(t, err)
}

func TestDecodeWords_ShortBuffer_Errors(t *testing.T) {
	err := DecodeWords(make([]uint64, 2), make([]byte, 15))
	assert.Error(t, err)
}

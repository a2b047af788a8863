package perf

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WordBytes is the size of one payload word on the wire.
const WordBytes = 8

// Triangular returns the payload word for index n: (n*(n+1)) >> 2.
func Triangular(n uint64) uint64 {
	return (n * (n + 1)) >> 2
}

// WordsForSize returns the number of words needed to carry size bytes.
func WordsForSize(size int) int {
	words := size / WordBytes
	if size%WordBytes > 0 {
		words++
	}
	return words
}

// GenerateMessage builds the payload for a message of size bytes.
func GenerateMessage(size int) []uint64 {
	return GenerateMessageAt(0, WordsForSize(size))
}

// GenerateMessageAt builds a payload of n words starting at triangular index start.
func GenerateMessageAt(start uint64, n int) []uint64 {
	msg := make([]uint64, n)
	for i := range msg {
		msg[i] = Triangular(start + uint64(i))
	}
	return msg
}

// Equal reports whether two payloads hold the same words.
func Equal(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ValidateAt reports whether msg holds consecutive triangular numbers from start.
func ValidateAt(msg []uint64, start uint64) bool {
	for i, w := range msg {
		if w != Triangular(start+uint64(i)) {
			return false
		}
	}
	return true
}

// EncodeWords appends the big-endian encoding of words to dst.
func EncodeWords(dst []byte, words []uint64) []byte {
	for _, w := range words {
		dst = binary.BigEndian.AppendUint64(dst, w)
	}
	return dst
}

// DecodeWords decodes big-endian words from src into dst.
// len(src) must be at least len(dst)*WordBytes.
func DecodeWords(dst []uint64, src []byte) error {
	if len(src) < len(dst)*WordBytes {
		return fmt.Errorf("decoding %d words: short buffer of %d bytes", len(dst), len(src))
	}
	for i := range dst {
		dst[i] = binary.BigEndian.Uint64(src[i*WordBytes:])
	}
	return nil
}

// WriteWords writes words to w as one buffer.
func WriteWords(w io.Writer, words []uint64) error {
	buf := EncodeWords(make([]byte, 0, len(words)*WordBytes), words)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing %d words: %w", len(words), err)
	}
	return nil
}

// ReadWords reads exactly n words from r.
func ReadWords(r io.Reader, n int) ([]uint64, error) {
	buf := make([]byte, n*WordBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("reading %d words: %w", n, err)
	}
	words := make([]uint64, n)
	if err := DecodeWords(words, buf); err != nil {
		return nil, err
	}
	return words, nil
}

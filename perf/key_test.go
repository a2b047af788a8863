package perf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXorShift_KnownValue(t *testing.T) {
	// 1 -> 0x2001 -> 0x2041 -> 0x40822041
	assert.Equal(t, uint64(0x40822041), XorShift(1))
}

func TestXorShift_NonZeroStaysNonZero(t *testing.T) {
	k := uint64(0xDEADBEEF)
	for i := 0; i < 1000; i++ {
		k = XorShift(k)
		if k == 0 {
			t.Fatalf("key reached zero after %d steps", i+1)
		}
	}
}

func TestXorKey_AdvancesEvery64Bytes(t *testing.T) {
	// GIVEN a keystream starting at 1 and nine zero words
	k := NewXorKey(1)
	words := make([]uint64, 9)

	// WHEN the words are XORed
	k.Apply(words)

	// THEN the first 8 words (64 bytes) use the initial key
	for i := 0; i < 8; i++ {
		assert.Equal(t, uint64(1), words[i], "word %d", i)
	}
	// AND the ninth uses the advanced key
	assert.Equal(t, XorShift(1), words[8])
	assert.Equal(t, XorShift(1), k.Key())
}

func TestXorKey_ApplyRange_OnlyTouchesRange(t *testing.T) {
	k := NewXorKey(7)
	words := []uint64{0, 0, 0, 0}

	k.ApplyRange(words, 1, 3)

	assert.Equal(t, []uint64{0, 7, 7, 0}, words)
}

func TestXorKey_Lockstep_RestoresPayload(t *testing.T) {
	// GIVEN two peers with the same key
	sender := NewXorKey(DeriveKey(42, DefaultIterations))
	receiver := NewXorKey(DeriveKey(42, DefaultIterations))

	// WHEN messages of assorted sizes are encoded and decoded in order
	for _, size := range []int{8, 64, 512, 24, 1024} {
		msg := GenerateMessage(size)
		words := append([]uint64(nil), msg...)
		sender.Apply(words)
		receiver.Apply(words)

		// THEN every payload comes back intact
		assert.Equal(t, msg, words, "size %d", size)
	}
	assert.Equal(t, sender.Key(), receiver.Key())
}

func TestNewXorKey_ZeroKeyReplaced(t *testing.T) {
	assert.NotZero(t, NewXorKey(0).Key())
}

func TestDeriveKey_Deterministic(t *testing.T) {
	assert.Equal(t, DeriveKey(123, 5), DeriveKey(123, 5))
	assert.NotEqual(t, DeriveKey(123, 5), DeriveKey(124, 5), "seed must matter")
	assert.NotEqual(t, DeriveKey(123, 5), DeriveKey(123, 6), "iterations must matter")
}

func TestXorKey_Fork_IndependentOfParentAndSequence(t *testing.T) {
	// GIVEN a parent keystream
	parent := NewXorKey(99)

	// WHEN two datagram keys are forked
	a := parent.Fork(0)
	b := parent.Fork(1)

	// THEN they differ from each other, are reproducible, and leave the parent untouched
	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, a.Key(), NewXorKey(99).Fork(0).Key())
	assert.Equal(t, uint64(99), parent.Key())
}

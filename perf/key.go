package perf

import (
	"math/rand"
)

// KeyAdvanceBytes is the number of payload bytes a key covers before the
// keystream advances.
const KeyAdvanceBytes = 64

// fallbackKey replaces a derived zero key; XorShift(0) == 0 forever.
const fallbackKey uint64 = 0x9E3779B97F4A7C15

// XorShift advances a key by one xorshift64 step (13, 7, 17).
func XorShift(key uint64) uint64 {
	key ^= key << 13
	key ^= key >> 7
	key ^= key << 17
	return key
}

// DeriveKey computes the session key from a handshake seed.
// The generator is seeded with seed, iterations outputs are discarded and the
// next output is the key, so knowing the seed alone is not enough.
// Same seed and iterations MUST produce the same key on every peer.
func DeriveKey(seed int64, iterations int) uint64 {
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < iterations; i++ {
		rng.Uint64()
	}
	key := rng.Uint64()
	if key == 0 {
		return fallbackKey
	}
	return key
}

// XorKey is a keystream over 64-bit words.
//
// Every word XORed consumes 8 bytes of the current key; after KeyAdvanceBytes
// bytes the key advances by one XorShift. Two XorKeys created from the same key
// stay in lockstep as long as they process the same number of words.
//
// Thread-safety: NOT thread-safe.
type XorKey struct {
	key      uint64
	consumed int
}

// NewXorKey creates a keystream starting at key.
func NewXorKey(key uint64) *XorKey {
	if key == 0 {
		key = fallbackKey
	}
	return &XorKey{key: key}
}

// Key returns the current key.
func (k *XorKey) Key() uint64 {
	return k.key
}

// Apply XORs every word in place, advancing the keystream.
func (k *XorKey) Apply(words []uint64) {
	k.ApplyRange(words, 0, len(words))
}

// ApplyRange XORs words[lo:hi] in place, advancing the keystream.
func (k *XorKey) ApplyRange(words []uint64, lo, hi int) {
	for i := lo; i < hi; i++ {
		words[i] ^= k.key
		k.consumed += 8
		if k.consumed >= KeyAdvanceBytes {
			k.key = XorShift(k.key)
			k.consumed = 0
		}
	}
}

// Fork returns an independent keystream for sequence number seq.
// The parent keystream is not advanced. Used for datagrams, where loss
// would otherwise desynchronize the peers.
func (k *XorKey) Fork(seq uint64) *XorKey {
	// splitmix64 finalizer spreads consecutive sequence numbers.
	z := k.key ^ (seq+1)*0x9E3779B97F4A7C15
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	z ^= z >> 31
	return NewXorKey(XorShift(z))
}

package perf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxHandshakeIterations bounds the discarded generator outputs a peer may request.
const MaxHandshakeIterations = 1 << 20

var (
	// ErrHandshakeMismatch is returned when the server echoes a different seed or iteration count.
	ErrHandshakeMismatch = errors.New("handshake echo mismatch")

	// ErrBadIterations is returned when a peer requests an out-of-range iteration count.
	ErrBadIterations = errors.New("handshake iterations out of range")
)

// HandshakeResult is what both peers know after a successful handshake.
type HandshakeResult struct {
	Seed       int64
	Iterations int
	Key        uint64
}

// ClientHandshake sends seed and iterations, checks both echoes and derives the key.
func ClientHandshake(rw io.ReadWriter, seed int64, iterations int) (*HandshakeResult, error) {
	if iterations < 0 || iterations > MaxHandshakeIterations {
		return nil, fmt.Errorf("%w: %d", ErrBadIterations, iterations)
	}
	if err := binary.Write(rw, binary.BigEndian, seed); err != nil {
		return nil, fmt.Errorf("sending seed: %w", err)
	}
	var echoedSeed int64
	if err := binary.Read(rw, binary.BigEndian, &echoedSeed); err != nil {
		return nil, fmt.Errorf("reading seed echo: %w", err)
	}
	if err := binary.Write(rw, binary.BigEndian, int32(iterations)); err != nil {
		return nil, fmt.Errorf("sending iterations: %w", err)
	}
	var echoedIterations int32
	if err := binary.Read(rw, binary.BigEndian, &echoedIterations); err != nil {
		return nil, fmt.Errorf("reading iterations echo: %w", err)
	}
	if echoedSeed != seed || int(echoedIterations) != iterations {
		return nil, fmt.Errorf("%w: seed %d/%d, iterations %d/%d",
			ErrHandshakeMismatch, seed, echoedSeed, iterations, echoedIterations)
	}
	return &HandshakeResult{Seed: seed, Iterations: iterations, Key: DeriveKey(seed, iterations)}, nil
}

// ServerHandshake echoes the client's seed and iterations and derives the key.
func ServerHandshake(rw io.ReadWriter) (*HandshakeResult, error) {
	var seed int64
	if err := binary.Read(rw, binary.BigEndian, &seed); err != nil {
		return nil, fmt.Errorf("reading seed: %w", err)
	}
	if err := binary.Write(rw, binary.BigEndian, seed); err != nil {
		return nil, fmt.Errorf("echoing seed: %w", err)
	}
	var iterations int32
	if err := binary.Read(rw, binary.BigEndian, &iterations); err != nil {
		return nil, fmt.Errorf("reading iterations: %w", err)
	}
	if iterations < 0 || iterations > MaxHandshakeIterations {
		return nil, fmt.Errorf("%w: %d", ErrBadIterations, iterations)
	}
	if err := binary.Write(rw, binary.BigEndian, iterations); err != nil {
		return nil, fmt.Errorf("echoing iterations: %w", err)
	}
	return &HandshakeResult{Seed: seed, Iterations: int(iterations), Key: DeriveKey(seed, int(iterations))}, nil
}

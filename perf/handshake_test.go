package perf

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshake_BothSidesDeriveSameKey(t *testing.T) {
	// GIVEN a connected client and server
	clientConn, serverConn := net.Pipe()
	defer func() { _ = clientConn.Close() }()
	defer func() { _ = serverConn.Close() }()

	type result struct {
		hs  *HandshakeResult
		err error
	}
	serverDone := make(chan result, 1)
	go func() {
		hs, err := ServerHandshake(serverConn)
		serverDone <- result{hs, err}
	}()

	// WHEN the client handshakes
	clientHS, err := ClientHandshake(clientConn, 987654321, 5)
	require.NoError(t, err)
	server := <-serverDone
	require.NoError(t, server.err)

	// THEN both sides agree on seed, iterations and key
	assert.Equal(t, *clientHS, *server.hs)
	assert.Equal(t, DeriveKey(987654321, 5), clientHS.Key)
}

func TestClientHandshake_WrongEcho_ReturnsMismatch(t *testing.T) {
	// GIVEN a server that echoes a different seed
	clientConn, serverConn := net.Pipe()
	defer func() { _ = clientConn.Close() }()
	defer func() { _ = serverConn.Close() }()
	go func() {
		var seed int64
		var iterations int32
		_ = binary.Read(serverConn, binary.BigEndian, &seed)
		_ = binary.Write(serverConn, binary.BigEndian, seed+1)
		_ = binary.Read(serverConn, binary.BigEndian, &iterations)
		_ = binary.Write(serverConn, binary.BigEndian, iterations)
	}()

	// WHEN the client handshakes
	_, err := ClientHandshake(clientConn, 1, 5)

	// THEN the mismatch is reported
	assert.ErrorIs(t, err, ErrHandshakeMismatch)
}

func TestClientHandshake_NegativeIterations_Rejected(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer func() { _ = clientConn.Close() }()
	defer func() { _ = serverConn.Close() }()

	_, err := ClientHandshake(clientConn, 1, -1)
	assert.ErrorIs(t, err, ErrBadIterations)
}

func TestServerHandshake_HugeIterations_Rejected(t *testing.T) {
	// GIVEN a client asking for more iterations than allowed
	clientConn, serverConn := net.Pipe()
	defer func() { _ = clientConn.Close() }()
	defer func() { _ = serverConn.Close() }()
	go func() {
		var echo int64
		_ = binary.Write(clientConn, binary.BigEndian, int64(7))
		_ = binary.Read(clientConn, binary.BigEndian, &echo)
		_ = binary.Write(clientConn, binary.BigEndian, int32(MaxHandshakeIterations+1))
	}()

	// WHEN the server handshakes
	_, err := ServerHandshake(serverConn)

	// THEN the request is refused
	assert.ErrorIs(t, err, ErrBadIterations)
}

// Package perf implements the netperf measurement protocol: the XOR keystream
// shared by both peers, the handshake that derives it, the message formats, and
// the client and server that run a session.
//
// # Reading Guide
//
// Start with these files:
//   - key.go: XorShift keystream and key derivation
//   - message.go: triangular-number payloads and big-endian word encoding
//   - handshake.go: seed/iteration exchange
//   - server.go, client.go: the session, phase by phase
//
// # Session
//
// A session runs, in order:
//  1. handshake over TCP
//  2. TCP RTT echoes for each plan RTT size
//  3. TCP throughput bursts, one ack per message
//  4. TCP close, then UDP RTT echoes on the same port number
//
// Measurements land in a Recorder, which exports a trace (YAML header + CSV
// data) and feeds Summarize.
package perf

package perf

import "io"

// bufferedConn reads through a buffer and writes straight to the connection,
// so bytes the peer sent early stay available to the next reader.
type bufferedConn struct {
	r io.Reader
	w io.Writer
}

func (b *bufferedConn) Read(p []byte) (int, error)  { return b.r.Read(p) }
func (b *bufferedConn) Write(p []byte) (int, error) { return b.w.Write(p) }

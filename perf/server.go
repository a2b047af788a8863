package perf

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Ack status codes sent after each throughput message.
const (
	AckOK      int64 = 200
	AckInvalid int64 = 422
)

// DefaultPort is the port both commands use when none is given.
const DefaultPort = 26910

// ServerConfig groups server parameters.
type ServerConfig struct {
	Addr        string        // TCP and UDP listen address, host:port
	MaxSessions int           // stop after this many sessions (0 = unlimited)
	IdleTimeout time.Duration // max wait for the next client message (0 = 30s)
}

// ServerStats counts what the server has handled.
type ServerStats struct {
	Sessions        int64
	FailedSessions  int64
	Messages        int64
	InvalidMessages int64
	Datagrams       int64
}

// Server answers netperf sessions one at a time. TCP and UDP share a port number.
type Server struct {
	cfg        ServerConfig
	listener   net.Listener
	packetConn net.PacketConn

	sessions        atomic.Int64
	failedSessions  atomic.Int64
	messages        atomic.Int64
	invalidMessages atomic.Int64
	datagrams       atomic.Int64
}

// NewServer creates a server; call Listen before Serve.
func NewServer(cfg ServerConfig) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	return &Server{cfg: cfg}
}

// Listen binds the TCP listener, then UDP on the same port.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on tcp %s: %w", s.cfg.Addr, err)
	}
	// Resolve port 0 to the port TCP actually got.
	tcpAddr := listener.Addr().(*net.TCPAddr)
	udpAddr := net.JoinHostPort(udpHost(s.cfg.Addr), fmt.Sprint(tcpAddr.Port))
	packetConn, err := net.ListenPacket("udp", udpAddr)
	if err != nil {
		_ = listener.Close()
		return fmt.Errorf("listening on udp %s: %w", udpAddr, err)
	}
	s.listener = listener
	s.packetConn = packetConn
	logrus.Infof("Listening on tcp %s and udp %s", listener.Addr(), packetConn.LocalAddr())
	return nil
}

func udpHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return ""
	}
	return host
}

// Addr returns the bound TCP address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		Sessions:        s.sessions.Load(),
		FailedSessions:  s.failedSessions.Load(),
		Messages:        s.messages.Load(),
		InvalidMessages: s.invalidMessages.Load(),
		Datagrams:       s.datagrams.Load(),
	}
}

// Serve accepts and runs sessions until ctx is canceled or MaxSessions is reached.
// A failed session is logged and does not stop the server. Listeners are
// closed on return.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("server not listening")
	}
	done := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-done:
		}
		return s.close()
	})
	g.Go(func() error {
		defer close(done)
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accepting connection: %w", err)
			}
			err = s.serveSession(ctx, conn)
			n := s.sessions.Add(1)
			if err != nil {
				s.failedSessions.Add(1)
				if ctx.Err() != nil {
					return nil
				}
				logrus.Warnf("Session from %s failed: %v", conn.RemoteAddr(), err)
			}
			if s.cfg.MaxSessions > 0 && n >= int64(s.cfg.MaxSessions) {
				logrus.Infof("Served %d sessions, stopping", n)
				return nil
			}
		}
	})
	return g.Wait()
}

func (s *Server) close() error {
	var result *multierror.Error
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		result = multierror.Append(result, err)
	}
	if err := s.packetConn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// serveSession runs one session: handshake, plan, TCP phases, then UDP.
func (s *Server) serveSession(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	remote := conn.RemoteAddr()
	logrus.Infof("Session from %s", remote)

	ts := &tcpSession{server: s, conn: conn, r: bufio.NewReader(conn)}
	plan, hs, err := ts.run()
	if closeErr := conn.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("closing tcp connection: %w", closeErr)
	}
	if err != nil {
		return err
	}

	var clientIP net.IP
	if tcpAddr, ok := remote.(*net.TCPAddr); ok {
		clientIP = tcpAddr.IP
	}
	return s.serveUDP(ctx, plan, hs.Key, clientIP)
}

type tcpSession struct {
	server *Server
	conn   net.Conn
	r      *bufio.Reader
	key    *XorKey
}

func (ts *tcpSession) touch() {
	_ = ts.conn.SetDeadline(time.Now().Add(ts.server.cfg.IdleTimeout))
}

func (ts *tcpSession) run() (Plan, *HandshakeResult, error) {
	ts.touch()
	hs, err := ServerHandshake(&bufferedConn{r: ts.r, w: ts.conn})
	if err != nil {
		return Plan{}, nil, fmt.Errorf("handshake: %w", err)
	}
	plan, err := ReadPlan(ts.r)
	if err != nil {
		return Plan{}, nil, fmt.Errorf("plan: %w", err)
	}
	logrus.Debugf("Session plan: %+v", plan)
	ts.key = NewXorKey(hs.Key)

	for _, size := range plan.RTTSizes {
		if err := ts.echo(size, plan.Samples); err != nil {
			return Plan{}, nil, fmt.Errorf("tcp rtt %d bytes: %w", size, err)
		}
	}
	for _, t := range plan.Throughput {
		if err := ts.absorb(t, plan.Samples); err != nil {
			return Plan{}, nil, fmt.Errorf("tcp throughput %dx%d: %w", t.Messages, t.MessageSize, err)
		}
	}
	return plan, hs, nil
}

// echo answers RTT samples: decode, validate, re-encode, send back.
func (ts *tcpSession) echo(size, samples int) error {
	expected := GenerateMessage(size)
	for sample := 1; sample <= samples; sample++ {
		ts.touch()
		words, err := ReadWords(ts.r, len(expected))
		if err != nil {
			return err
		}
		ts.key.Apply(words)
		ts.server.count(Equal(words, expected))
		ts.key.Apply(words)
		if err := WriteWords(ts.conn, words); err != nil {
			return err
		}
	}
	return nil
}

// absorb receives throughput bursts, acking every message.
func (ts *tcpSession) absorb(t ThroughputTest, samples int) error {
	n := t.MessageSize / WordBytes
	ack := make([]byte, 8)
	for sample := 1; sample <= samples; sample++ {
		for m := 1; m <= t.Messages; m++ {
			ts.touch()
			words, err := ReadWords(ts.r, n)
			if err != nil {
				return err
			}
			ts.key.Apply(words)
			status := AckOK
			if !ValidateAt(words, uint64(m-1)*uint64(n)) {
				status = AckInvalid
			}
			ts.server.count(status == AckOK)
			binary.BigEndian.PutUint64(ack, uint64(status))
			if _, err := ts.conn.Write(ack); err != nil {
				return fmt.Errorf("writing ack: %w", err)
			}
		}
	}
	return nil
}

func (s *Server) count(valid bool) {
	s.messages.Add(1)
	if !valid {
		s.invalidMessages.Add(1)
		logrus.Debug("Received invalid message")
	}
}

// serveUDP echoes datagrams until the last sequence number of the plan has
// been answered or the idle timeout passes. Datagrams from hosts other than
// the session's client are ignored.
func (s *Server) serveUDP(ctx context.Context, plan Plan, sessionKey uint64, clientIP net.IP) error {
	total := plan.UDPDatagrams()
	if total == 0 {
		return nil
	}
	stop := context.AfterFunc(ctx, func() { _ = s.packetConn.SetReadDeadline(time.Now()) })
	defer stop()

	base := NewXorKey(sessionKey)
	last := uint64(total - 1)
	buf := make([]byte, WordBytes+MaxUDPPayload+WordBytes)
	for {
		_ = s.packetConn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		n, addr, err := s.packetConn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.As(err, &netErr) && netErr.Timeout() {
				logrus.Warnf("UDP phase idle for %v, ending session", s.cfg.IdleTimeout)
				return nil
			}
			return fmt.Errorf("reading datagram: %w", err)
		}
		if udpAddr, ok := addr.(*net.UDPAddr); ok && clientIP != nil && !udpAddr.IP.Equal(clientIP) {
			logrus.Debugf("Ignoring datagram from %s", addr)
			continue
		}
		if n < WordBytes || (n-WordBytes)%WordBytes != 0 {
			logrus.Debugf("Ignoring malformed datagram of %d bytes", n)
			continue
		}
		seq := binary.BigEndian.Uint64(buf)
		words := make([]uint64, (n-WordBytes)/WordBytes)
		if err := DecodeWords(words, buf[WordBytes:n]); err != nil {
			return err
		}
		key := base.Fork(seq)
		key.Apply(words)
		s.count(ValidateAt(words, 0))
		key.Apply(words)
		reply := EncodeWords(buf[:WordBytes:WordBytes], words)
		if _, err := s.packetConn.WriteTo(reply, addr); err != nil {
			return fmt.Errorf("writing datagram: %w", err)
		}
		s.datagrams.Add(1)
		if seq == last {
			return nil
		}
	}
}

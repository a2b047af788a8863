package perf

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultIterations is the number of generator outputs discarded before the key.
const DefaultIterations = 5

// ClientConfig groups client parameters.
type ClientConfig struct {
	Addr       string  // server host:port, used for both TCP and UDP
	Seed       int64   // handshake seed (0 = random)
	Iterations int     // handshake iterations
	Plan       Plan    // test matrix announced to the server
	Rate       float64 // throughput messages per second (0 = unlimited)
	SkipUDP    bool    // stop after the TCP phases
	SessionID  string  // trace session ID (empty = random UUID)
}

// Client runs one netperf session against a server.
type Client struct {
	cfg       ClientConfig
	recorder  *Recorder
	sampleLog *SampleLog

	conn net.Conn
	r    *bufio.Reader
	udp  net.Conn

	hs     *HandshakeResult
	key    *XorKey
	udpSeq uint64

	tcpClosed bool
	udpClosed bool
}

// Dial connects to the server over TCP and UDP.
// Samples go to recorder; sampleLog may be nil.
func Dial(ctx context.Context, cfg ClientConfig, recorder *Recorder, sampleLog *SampleLog) (*Client, error) {
	if err := cfg.Plan.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = rand.Int63()
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if recorder == nil {
		recorder = &Recorder{}
	}
	if cfg.SkipUDP {
		// The server only waits for datagrams the plan announces.
		cfg.Plan.UDPSizes = nil
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Addr, err)
	}
	c := &Client{cfg: cfg, recorder: recorder, sampleLog: sampleLog, conn: conn, r: bufio.NewReader(conn)}
	if len(cfg.Plan.UDPSizes) > 0 {
		udp, err := dialer.DialContext(ctx, "udp", cfg.Addr)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("opening udp to %s: %w", cfg.Addr, err)
		}
		c.udp = udp
	}
	return c, nil
}

// SessionID returns the ID attached to every recorded sample.
func (c *Client) SessionID() string {
	return c.cfg.SessionID
}

// Handshake exchanges the seed and iterations, derives the keystream and
// announces the plan.
func (c *Client) Handshake(ctx context.Context) error {
	stop := c.abortOn(ctx)
	defer stop()

	hs, err := ClientHandshake(&bufferedConn{r: c.r, w: c.conn}, c.cfg.Seed, c.cfg.Iterations)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if err := WritePlan(c.conn, c.cfg.Plan); err != nil {
		return fmt.Errorf("announcing plan: %w", err)
	}
	c.hs = hs
	c.key = NewXorKey(hs.Key)
	logrus.Infof("Key is valid: seed %d, %d iterations", hs.Seed, hs.Iterations)
	return nil
}

// Run executes every phase in the order the server expects.
func (c *Client) Run(ctx context.Context) error {
	if err := c.Handshake(ctx); err != nil {
		return err
	}
	if err := c.RunTCPRTT(ctx); err != nil {
		return err
	}
	if err := c.RunTCPThroughput(ctx); err != nil {
		return err
	}
	// The server starts the UDP phase once TCP is closed.
	if err := c.closeTCP(); err != nil {
		return err
	}
	if c.udp == nil {
		return nil
	}
	return c.RunUDPRTT(ctx)
}

// abortOn unblocks pending I/O when ctx is canceled.
func (c *Client) abortOn(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, c.abort)
}

func (c *Client) abort() {
	_ = c.conn.SetDeadline(time.Now())
	if c.udp != nil {
		_ = c.udp.SetDeadline(time.Now())
	}
}

func (c *Client) requireHandshake() error {
	if c.key == nil {
		return errors.New("handshake not done")
	}
	return nil
}

// RunTCPRTT measures echo round trips for every plan RTT size.
func (c *Client) RunTCPRTT(ctx context.Context) error {
	if err := c.requireHandshake(); err != nil {
		return err
	}
	stop := c.abortOn(ctx)
	defer stop()

	for _, size := range c.cfg.Plan.RTTSizes {
		c.sampleLog.Heading("RTT to send %d Bytes:", size)
		logrus.Infof("TCP RTT: %d bytes x %d samples", size, c.cfg.Plan.Samples)
		for sample := 1; sample <= c.cfg.Plan.Samples; sample++ {
			rec, err := c.tcpRTTSample(size, sample)
			c.record(rec)
			if err != nil {
				return fmt.Errorf("tcp rtt %d bytes sample %d: %w", size, sample, err)
			}
		}
	}
	return nil
}

func (c *Client) tcpRTTSample(size, sample int) (SampleRecord, error) {
	rec := c.newRecord(PhaseTCPRTT, size, 1, sample)
	msg := GenerateMessage(size)
	words := append([]uint64(nil), msg...)
	c.key.Apply(words)
	buf := EncodeWords(make([]byte, 0, len(words)*WordBytes), words)

	start := time.Now()
	rec.SendTimeUs = start.UnixMicro()
	if _, err := c.conn.Write(buf); err != nil {
		return failed(rec, err), err
	}
	reply, err := ReadWords(c.r, len(words))
	if err != nil {
		return failed(rec, err), err
	}
	rec.ElapsedNs = time.Since(start).Nanoseconds()

	c.key.Apply(reply)
	if !Equal(reply, msg) {
		rec.Status = StatusInvalid
		rec.ErrorMessage = "echo does not match request"
	}
	c.sampleLog.Elapsed(rec.Elapsed())
	return rec, nil
}

// RunTCPThroughput measures burst throughput for every plan throughput test.
func (c *Client) RunTCPThroughput(ctx context.Context) error {
	if err := c.requireHandshake(); err != nil {
		return err
	}
	stop := c.abortOn(ctx)
	defer stop()

	for _, t := range c.cfg.Plan.Throughput {
		c.sampleLog.Heading("Throughput for %d messages of %d Bytes:", t.Messages, t.MessageSize)
		logrus.Infof("TCP throughput: %d x %d bytes x %d samples", t.Messages, t.MessageSize, c.cfg.Plan.Samples)
		for sample := 1; sample <= c.cfg.Plan.Samples; sample++ {
			rec, err := c.throughputSample(ctx, t, sample)
			c.record(rec)
			if err != nil {
				return fmt.Errorf("tcp throughput %dx%d sample %d: %w", t.Messages, t.MessageSize, sample, err)
			}
		}
	}
	return nil
}

// throughputSample streams a burst while a second goroutine drains acks.
func (c *Client) throughputSample(ctx context.Context, t ThroughputTest, sample int) (SampleRecord, error) {
	rec := c.newRecord(PhaseTCPThroughput, t.MessageSize, t.Messages, sample)
	n := t.MessageSize / WordBytes

	var limiter *rate.Limiter
	if c.cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.cfg.Rate), 1)
	}

	var badAcks int
	start := time.Now()
	rec.SendTimeUs = start.UnixMicro()

	var g errgroup.Group
	g.Go(func() error {
		w := bufio.NewWriter(c.conn)
		buf := make([]byte, 0, t.MessageSize)
		for m := 1; m <= t.Messages; m++ {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					c.abort()
					return err
				}
			}
			words := GenerateMessageAt(uint64(m-1)*uint64(n), n)
			c.key.Apply(words)
			if _, err := w.Write(EncodeWords(buf[:0], words)); err != nil {
				c.abort()
				return fmt.Errorf("writing message %d: %w", m, err)
			}
			if limiter != nil {
				if err := w.Flush(); err != nil {
					c.abort()
					return fmt.Errorf("flushing message %d: %w", m, err)
				}
			}
		}
		if err := w.Flush(); err != nil {
			c.abort()
			return fmt.Errorf("flushing burst: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		ack := make([]byte, 8)
		for m := 1; m <= t.Messages; m++ {
			if _, err := io.ReadFull(c.r, ack); err != nil {
				c.abort()
				return fmt.Errorf("reading ack %d: %w", m, err)
			}
			if int64(binary.BigEndian.Uint64(ack)) != AckOK {
				badAcks++
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return failed(rec, err), err
	}

	rec.ElapsedNs = time.Since(start).Nanoseconds()
	rec.Bytes = t.Bytes()
	if badAcks > 0 {
		rec.Status = StatusInvalid
		rec.ErrorMessage = fmt.Sprintf("%d of %d messages rejected by server", badAcks, t.Messages)
	}
	c.sampleLog.Elapsed(rec.Elapsed())
	return rec, nil
}

// RunUDPRTT measures datagram round trips for every plan UDP size.
// Lost datagrams are recorded as timeouts and the run continues.
func (c *Client) RunUDPRTT(ctx context.Context) error {
	if err := c.requireHandshake(); err != nil {
		return err
	}
	if c.udp == nil {
		return errors.New("udp not enabled")
	}
	stop := c.abortOn(ctx)
	defer stop()

	base := NewXorKey(c.hs.Key)
	buf := make([]byte, WordBytes+MaxUDPPayload+WordBytes)
	for _, size := range c.cfg.Plan.UDPSizes {
		c.sampleLog.Heading("UDP RTT to send %d Bytes:", size)
		logrus.Infof("UDP RTT: %d bytes x %d samples", size, c.cfg.Plan.Samples)
		for sample := 1; sample <= c.cfg.Plan.Samples; sample++ {
			rec, err := c.udpRTTSample(base, buf, size, sample)
			c.record(rec)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("udp rtt %d bytes sample %d: %w", size, sample, err)
			}
		}
	}
	return nil
}

func (c *Client) udpRTTSample(base *XorKey, buf []byte, size, sample int) (SampleRecord, error) {
	rec := c.newRecord(PhaseUDPRTT, size, 1, sample)
	seq := c.udpSeq
	c.udpSeq++

	key := base.Fork(seq)
	msg := GenerateMessage(size)
	words := append([]uint64(nil), msg...)
	key.Apply(words)
	packet := binary.BigEndian.AppendUint64(make([]byte, 0, WordBytes+len(words)*WordBytes), seq)
	packet = EncodeWords(packet, words)

	start := time.Now()
	rec.SendTimeUs = start.UnixMicro()
	if _, err := c.udp.Write(packet); err != nil {
		return failed(rec, err), err
	}
	if err := c.udp.SetReadDeadline(start.Add(c.cfg.Plan.UDPTimeout)); err != nil {
		return failed(rec, err), err
	}
	for {
		n, err := c.udp.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				rec.Status = StatusTimeout
				rec.ErrorMessage = fmt.Sprintf("no reply within %v", c.cfg.Plan.UDPTimeout)
				logrus.Debugf("UDP datagram %d timed out", seq)
				return rec, nil
			}
			return failed(rec, err), err
		}
		// Late replies to earlier datagrams carry older sequence numbers.
		if n != len(packet) || binary.BigEndian.Uint64(buf) != seq {
			continue
		}
		rec.ElapsedNs = time.Since(start).Nanoseconds()
		reply := make([]uint64, len(words))
		if err := DecodeWords(reply, buf[WordBytes:n]); err != nil {
			return failed(rec, err), err
		}
		key.Apply(reply)
		if !Equal(reply, msg) {
			rec.Status = StatusInvalid
			rec.ErrorMessage = "echo does not match request"
		}
		c.sampleLog.Elapsed(rec.Elapsed())
		return rec, nil
	}
}

func (c *Client) newRecord(phase Phase, size, count, sample int) SampleRecord {
	return SampleRecord{
		SessionID:    c.cfg.SessionID,
		Phase:        phase,
		MessageSize:  size,
		MessageCount: count,
		Sample:       sample,
		Bytes:        int64(size),
		Status:       StatusOK,
	}
}

func (c *Client) record(rec SampleRecord) {
	c.recorder.Record(rec)
	if rec.Status != StatusOK {
		logrus.Debugf("%s %d bytes sample %d: %s %s", rec.Phase, rec.MessageSize, rec.Sample, rec.Status, rec.ErrorMessage)
	}
}

func failed(rec SampleRecord, err error) SampleRecord {
	rec.Status = StatusError
	rec.ErrorMessage = err.Error()
	return rec
}

// Header returns the trace header describing this session.
func (c *Client) Header() *TraceHeader {
	h := &TraceHeader{
		Version:    TraceVersion,
		TimeUnit:   "ns",
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		SessionID:  c.cfg.SessionID,
		ServerAddr: c.cfg.Addr,
		Seed:       c.cfg.Seed,
		Iterations: c.cfg.Iterations,
		Plan:       c.cfg.Plan,
	}
	return h
}

func (c *Client) closeTCP() error {
	if c.tcpClosed {
		return nil
	}
	c.tcpClosed = true
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("closing tcp connection: %w", err)
	}
	return nil
}

// Close releases both sockets.
func (c *Client) Close() error {
	var result *multierror.Error
	if err := c.closeTCP(); err != nil && !errors.Is(err, net.ErrClosed) {
		result = multierror.Append(result, err)
	}
	if c.udp != nil && !c.udpClosed {
		c.udpClosed = true
		if err := c.udp.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

package perf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Limits a server accepts from an announced plan.
const (
	MaxSamples      = 100_000
	MaxMessageSize  = 1 << 20
	MaxBurstLength  = 1 << 20
	// Largest whole-word payload that fits an IPv4 datagram next to the sequence header.
	MaxUDPPayload   = (65507 - WordBytes) &^ (WordBytes - 1)
	planFrameLimit  = 4096
	planWireVersion = 1
)

// ErrInvalidPlan is returned for plans that violate the limits above.
var ErrInvalidPlan = errors.New("invalid plan")

// ThroughputTest is one burst shape: Messages messages of MessageSize bytes.
type ThroughputTest struct {
	Messages    int `yaml:"messages"`
	MessageSize int `yaml:"message_size"`
}

// Bytes returns the payload bytes one sample of the test carries.
func (t ThroughputTest) Bytes() int64 {
	return int64(t.Messages) * int64(t.MessageSize)
}

// Plan is the test matrix a session runs. The client announces it to the
// server right after the handshake, so only the client needs configuring.
type Plan struct {
	Samples    int              `yaml:"samples"`
	RTTSizes   []int            `yaml:"rtt_sizes"`
	Throughput []ThroughputTest `yaml:"throughput"`
	UDPSizes   []int            `yaml:"udp_sizes"`
	UDPTimeout time.Duration    `yaml:"udp_timeout"`
}

// DefaultPlan returns the classic matrix: 30 samples of 8/64/512-byte echoes
// over TCP and UDP, and 1 MiB throughput bursts at 64, 256 and 1024 bytes.
func DefaultPlan() Plan {
	return Plan{
		Samples:  30,
		RTTSizes: []int{8, 64, 512},
		Throughput: []ThroughputTest{
			{Messages: 16384, MessageSize: 64},
			{Messages: 4096, MessageSize: 256},
			{Messages: 1024, MessageSize: 1024},
		},
		UDPSizes:   []int{8, 64, 512},
		UDPTimeout: time.Second,
	}
}

// Validate checks the plan against the server limits.
func (p Plan) Validate() error {
	if p.Samples <= 0 || p.Samples > MaxSamples {
		return fmt.Errorf("%w: samples %d not in (0, %d]", ErrInvalidPlan, p.Samples, MaxSamples)
	}
	for _, size := range p.RTTSizes {
		if size <= 0 || size > MaxMessageSize {
			return fmt.Errorf("%w: rtt size %d not in (0, %d]", ErrInvalidPlan, size, MaxMessageSize)
		}
	}
	for _, t := range p.Throughput {
		if t.Messages <= 0 || t.Messages > MaxBurstLength {
			return fmt.Errorf("%w: throughput messages %d not in (0, %d]", ErrInvalidPlan, t.Messages, MaxBurstLength)
		}
		// Burst messages are whole words; offsets into the triangular sequence depend on it.
		if t.MessageSize <= 0 || t.MessageSize > MaxMessageSize || t.MessageSize%WordBytes != 0 {
			return fmt.Errorf("%w: throughput message size %d must be a positive multiple of %d up to %d",
				ErrInvalidPlan, t.MessageSize, WordBytes, MaxMessageSize)
		}
	}
	for _, size := range p.UDPSizes {
		if size <= 0 || size > MaxUDPPayload {
			return fmt.Errorf("%w: udp size %d not in (0, %d]", ErrInvalidPlan, size, MaxUDPPayload)
		}
	}
	// The wire frame carries the timeout in whole milliseconds.
	if len(p.UDPSizes) > 0 && p.UDPTimeout < time.Millisecond {
		return fmt.Errorf("%w: udp timeout must be at least 1ms", ErrInvalidPlan)
	}
	return nil
}

// UDPDatagrams returns the number of datagrams the UDP phase sends.
func (p Plan) UDPDatagrams() int {
	return len(p.UDPSizes) * p.Samples
}

// LoadPlan reads a YAML plan. Fields absent from the file keep their
// DefaultPlan values; unknown fields are errors.
func LoadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("reading plan: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes a YAML plan over DefaultPlan with strict field checking.
func ParsePlan(data []byte) (Plan, error) {
	plan := DefaultPlan()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&plan); err != nil && !errors.Is(err, io.EOF) {
		return Plan{}, fmt.Errorf("parsing plan YAML: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// encodeWords flattens the plan into the word frame sent after the handshake:
// version, samples, udp timeout (ms), then each list prefixed by its length.
func (p Plan) encodeWords() []uint64 {
	words := []uint64{planWireVersion, uint64(p.Samples), uint64(p.UDPTimeout / time.Millisecond)}
	words = append(words, uint64(len(p.RTTSizes)))
	for _, size := range p.RTTSizes {
		words = append(words, uint64(size))
	}
	words = append(words, uint64(len(p.Throughput)))
	for _, t := range p.Throughput {
		words = append(words, uint64(t.Messages), uint64(t.MessageSize))
	}
	words = append(words, uint64(len(p.UDPSizes)))
	for _, size := range p.UDPSizes {
		words = append(words, uint64(size))
	}
	return words
}

// WritePlan sends the plan frame: a word count followed by the plan words.
func WritePlan(w io.Writer, p Plan) error {
	words := p.encodeWords()
	return WriteWords(w, append([]uint64{uint64(len(words))}, words...))
}

// ReadPlan receives and validates a plan frame.
func ReadPlan(r io.Reader) (Plan, error) {
	header, err := ReadWords(r, 1)
	if err != nil {
		return Plan{}, fmt.Errorf("reading plan length: %w", err)
	}
	if header[0] < 4 || header[0] > planFrameLimit {
		return Plan{}, fmt.Errorf("%w: frame of %d words", ErrInvalidPlan, header[0])
	}
	words, err := ReadWords(r, int(header[0]))
	if err != nil {
		return Plan{}, fmt.Errorf("reading plan: %w", err)
	}
	d := &wordDecoder{words: words}
	if v := d.next(); v != planWireVersion {
		return Plan{}, fmt.Errorf("%w: wire version %d", ErrInvalidPlan, v)
	}
	p := Plan{
		Samples:    d.nextInt(),
		UDPTimeout: time.Duration(d.next()) * time.Millisecond,
	}
	for n := d.nextInt(); n > 0 && d.err == nil; n-- {
		p.RTTSizes = append(p.RTTSizes, d.nextInt())
	}
	for n := d.nextInt(); n > 0 && d.err == nil; n-- {
		p.Throughput = append(p.Throughput, ThroughputTest{Messages: d.nextInt(), MessageSize: d.nextInt()})
	}
	for n := d.nextInt(); n > 0 && d.err == nil; n-- {
		p.UDPSizes = append(p.UDPSizes, d.nextInt())
	}
	if d.err != nil {
		return Plan{}, d.err
	}
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

type wordDecoder struct {
	words []uint64
	pos   int
	err   error
}

func (d *wordDecoder) next() uint64 {
	if d.pos >= len(d.words) {
		if d.err == nil {
			d.err = fmt.Errorf("%w: truncated frame", ErrInvalidPlan)
		}
		return 0
	}
	v := d.words[d.pos]
	d.pos++
	return v
}

func (d *wordDecoder) nextInt() int {
	v := d.next()
	if v > planFrameLimit*MaxBurstLength {
		if d.err == nil {
			d.err = fmt.Errorf("%w: value %d out of range", ErrInvalidPlan, v)
		}
		return 0
	}
	return int(v)
}
